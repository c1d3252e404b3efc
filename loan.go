package corebank

import (
	"time"

	"github.com/shopspring/decimal"
)

// AmortizationMethod selects how a loan's schedule is generated.
type AmortizationMethod string

const (
	AmortizationEqualInstallment AmortizationMethod = "equal-installment"
	AmortizationEqualPrincipal   AmortizationMethod = "equal-principal"
	AmortizationBullet           AmortizationMethod = "bullet"
)

// LoanState is a loan's lifecycle flag, per spec.md §3.
type LoanState string

const (
	LoanOriginated LoanState = "originated"
	LoanDisbursed  LoanState = "disbursed"
	LoanActive     LoanState = "active"
	LoanPaidOff    LoanState = "paid-off"
	LoanDefaulted  LoanState = "defaulted"
	LoanWrittenOff LoanState = "written-off"
	LoanClosed     LoanState = "closed"
)

// DelinquencyBucket buckets days-past-due per spec.md §4.6.
type DelinquencyBucket string

const (
	DelinquencyCurrent  DelinquencyBucket = "0"
	Delinquency1To30    DelinquencyBucket = "1-30"
	Delinquency31To60   DelinquencyBucket = "31-60"
	Delinquency61To90   DelinquencyBucket = "61-90"
	Delinquency90Plus   DelinquencyBucket = "90+"
	defaultedThreshold                    = 120
)

// LoanPolicy is the product configuration governing one loan: grace days
// before a late fee is assessed, whether prepayment is permitted and at
// what penalty rate, and the flat late fee charged per overdue cycle.
type LoanPolicy struct {
	GraceDays         int
	PrepaymentAllowed bool
	PrepaymentRate    decimal.Decimal
	LateFeeFlat       MoneyValue
}

// Loan is spec.md §3's loan aggregate: terms plus derived running state.
// The amortization schedule itself is never stored — GenerateSchedule
// rebuilds it from Principal/AnnualRate/TermPeriods/Method on demand, per
// the spec's "stored schedules are a materialized view, MUST be
// regenerable from terms and posted payments."
type Loan struct {
	ID               string
	CustomerID       string // PII
	ProductRef       string
	Principal        MoneyValue
	AnnualRate       decimal.Decimal
	TermPeriods      int
	PaymentsPerYear  int
	FirstPaymentDate time.Time
	Method           AmortizationMethod
	Policy           LoanPolicy

	State                LoanState
	OutstandingPrincipal MoneyValue
	AccruedInterest      MoneyValue
	TotalPaid            MoneyValue
	LastPaymentDate      time.Time
	NextPaymentDue       time.Time
	DaysPastDue          int
	LateFeeAccumulator   MoneyValue
	DisbursedAt          time.Time
}

func (l *Loan) ToRecord() Record {
	return Record{
		"id":                    l.ID,
		"customer_id":           l.CustomerID,
		"product_ref":           l.ProductRef,
		"principal":             moneyToRecord(&l.Principal),
		"annual_rate":           l.AnnualRate.String(),
		"term_periods":          int64(l.TermPeriods),
		"payments_per_year":     int64(l.PaymentsPerYear),
		"first_payment_date":    l.FirstPaymentDate,
		"method":                string(l.Method),
		"policy_grace_days":     int64(l.Policy.GraceDays),
		"policy_prepay_allowed": l.Policy.PrepaymentAllowed,
		"policy_prepay_rate":    l.Policy.PrepaymentRate.String(),
		"policy_late_fee_flat":  moneyToRecord(&l.Policy.LateFeeFlat),
		"state":                 string(l.State),
		"outstanding_principal": moneyToRecord(&l.OutstandingPrincipal),
		"accrued_interest":      moneyToRecord(&l.AccruedInterest),
		"total_paid":            moneyToRecord(&l.TotalPaid),
		"last_payment_date":     l.LastPaymentDate,
		"next_payment_due":      l.NextPaymentDue,
		"days_past_due":         int64(l.DaysPastDue),
		"late_fee_accumulator":  moneyToRecord(&l.LateFeeAccumulator),
		"disbursed_at":          l.DisbursedAt,
	}
}

func loanFromRecord(rec Record) *Loan {
	rate, _ := decimal.NewFromString(recString(rec, "annual_rate"))
	prepayRate, _ := decimal.NewFromString(recString(rec, "policy_prepay_rate"))
	l := &Loan{
		ID:               recString(rec, "id"),
		CustomerID:       recString(rec, "customer_id"),
		ProductRef:       recString(rec, "product_ref"),
		AnnualRate:       rate,
		TermPeriods:      int(recInt64(rec, "term_periods")),
		PaymentsPerYear:  int(recInt64(rec, "payments_per_year")),
		FirstPaymentDate: recTime(rec, "first_payment_date"),
		Method:           AmortizationMethod(recString(rec, "method")),
		Policy: LoanPolicy{
			GraceDays:         int(recInt64(rec, "policy_grace_days")),
			PrepaymentAllowed: recBool(rec, "policy_prepay_allowed"),
			PrepaymentRate:    prepayRate,
		},
		State:           LoanState(recString(rec, "state")),
		LastPaymentDate: recTime(rec, "last_payment_date"),
		NextPaymentDue:  recTime(rec, "next_payment_due"),
		DaysPastDue:     int(recInt64(rec, "days_past_due")),
		DisbursedAt:     recTime(rec, "disbursed_at"),
	}
	if m := moneyFromRecord(rec["principal"]); m != nil {
		l.Principal = *m
	}
	if m := moneyFromRecord(rec["policy_late_fee_flat"]); m != nil {
		l.Policy.LateFeeFlat = *m
	}
	if m := moneyFromRecord(rec["outstanding_principal"]); m != nil {
		l.OutstandingPrincipal = *m
	}
	if m := moneyFromRecord(rec["accrued_interest"]); m != nil {
		l.AccruedInterest = *m
	}
	if m := moneyFromRecord(rec["total_paid"]); m != nil {
		l.TotalPaid = *m
	}
	if m := moneyFromRecord(rec["late_fee_accumulator"]); m != nil {
		l.LateFeeAccumulator = *m
	}
	return l
}

// ScheduleEntry is one row of a generated amortization schedule.
type ScheduleEntry struct {
	PeriodNo         int
	DueDate          time.Time
	Payment          MoneyValue
	Principal        MoneyValue
	Interest         MoneyValue
	RemainingBalance MoneyValue
}

// PaymentAllocation is the CARD-Act-ordered split of one payment, shared by
// LoanEngine and CreditEngine (both order fees, then interest, then
// principal, with any remainder as overpayment).
type PaymentAllocation struct {
	Fees        MoneyValue
	Interest    MoneyValue
	Principal   MoneyValue
	Overpayment MoneyValue
}

// LoanEngine is spec.md §4.6: schedule generation, daily accrual, payment
// allocation, delinquency. Grounded on the teacher's accrual_service.go
// per-cycle generation loop idiom, generalized from a single posting
// schedule into the three amortization methods and rendered with
// shopspring/decimal for the rate math.
type LoanEngine struct {
	storage *TenantStorage
	ids     IDGenerator
	clock   Clock
}

// NewLoanEngine constructs a LoanEngine.
func NewLoanEngine(storage *TenantStorage, ids IDGenerator, clock Clock) *LoanEngine {
	return &LoanEngine{storage: storage, ids: ids, clock: clock}
}

// OriginateLoan persists a new loan in the originated state, not yet
// disbursed.
func (e *LoanEngine) OriginateLoan(tenant TenantID, customerID, productRef string, principal MoneyValue, annualRate decimal.Decimal, termPeriods, paymentsPerYear int, firstPaymentDate time.Time, method AmortizationMethod, policy LoanPolicy) (*Loan, error) {
	if customerID == "" {
		return nil, validationErr("LoanEngine.OriginateLoan", "customer_id required", nil)
	}
	if termPeriods <= 0 || paymentsPerYear <= 0 {
		return nil, validationErr("LoanEngine.OriginateLoan", "term_periods and payments_per_year must be positive", nil)
	}
	switch method {
	case AmortizationEqualInstallment, AmortizationEqualPrincipal, AmortizationBullet:
	default:
		return nil, validationErr("LoanEngine.OriginateLoan", "unknown amortization method: "+string(method), nil)
	}
	loan := &Loan{
		ID:                   e.ids.NewID(),
		CustomerID:           customerID,
		ProductRef:           productRef,
		Principal:            principal,
		AnnualRate:           annualRate,
		TermPeriods:          termPeriods,
		PaymentsPerYear:      paymentsPerYear,
		FirstPaymentDate:     firstPaymentDate,
		Method:               method,
		Policy:               policy,
		State:                LoanOriginated,
		OutstandingPrincipal: MoneyValue{Currency: principal.Currency},
		AccruedInterest:      MoneyValue{Currency: principal.Currency},
		TotalPaid:            MoneyValue{Currency: principal.Currency},
		LateFeeAccumulator:   MoneyValue{Currency: principal.Currency},
	}
	if err := e.storage.Save(tenant, TableLoans, loan.ID, loan.ToRecord()); err != nil {
		return nil, err
	}
	return loan, nil
}

// GetLoan loads a loan by id.
func (e *LoanEngine) GetLoan(tenant TenantID, id string) (*Loan, error) {
	rec, err := e.storage.Load(tenant, TableLoans, id)
	if err != nil {
		return nil, err
	}
	return loanFromRecord(rec), nil
}

func (e *LoanEngine) save(tenant TenantID, loan *Loan) error {
	return e.storage.Save(tenant, TableLoans, loan.ID, loan.ToRecord())
}

// MarkDisbursed transitions an originated loan to disbursed, seeding
// OutstandingPrincipal and NextPaymentDue. Called by TransactionProcessor
// after the disbursement entry has posted.
func (e *LoanEngine) MarkDisbursed(tenant TenantID, loanID string, at time.Time) error {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return err
	}
	if loan.State != LoanOriginated {
		return validationErr("LoanEngine.MarkDisbursed", "loan "+loanID+" is not in originated state", nil)
	}
	loan.State = LoanDisbursed
	loan.DisbursedAt = at
	loan.OutstandingPrincipal = loan.Principal
	loan.NextPaymentDue = loan.FirstPaymentDate
	return e.save(tenant, loan)
}

// periodicRate returns annual_rate / payments_per_year.
func (l *Loan) periodicRate() decimal.Decimal {
	return l.AnnualRate.Div(decimal.NewFromInt(int64(l.PaymentsPerYear)))
}

// GenerateSchedule recomputes the full amortization schedule from a loan's
// terms alone — it never reads posted-payment history, so it is a pure
// function of Principal/AnnualRate/TermPeriods/Method, satisfying the
// "regenerable from terms" requirement.
func (e *LoanEngine) GenerateSchedule(loan *Loan) ([]ScheduleEntry, error) {
	if loan.TermPeriods <= 0 {
		return nil, validationErr("LoanEngine.GenerateSchedule", "term_periods must be positive", nil)
	}
	r := loan.periodicRate()
	n := loan.TermPeriods
	cur := loan.Principal.Currency
	intervalMonths := 12 / loan.PaymentsPerYear
	if intervalMonths == 0 {
		intervalMonths = 1
	}

	schedule := make([]ScheduleEntry, 0, n)
	balance := loan.Principal

	switch loan.Method {
	case AmortizationEqualInstallment:
		var paymentDecimal decimal.Decimal
		if r.IsZero() {
			paymentDecimal = loan.Principal.Decimal().Div(decimal.NewFromInt(int64(n)))
		} else {
			onePlusR := decimal.NewFromInt(1).Add(r)
			pow := onePlusR.Pow(decimal.NewFromInt(int64(n)))
			paymentDecimal = loan.Principal.Decimal().Mul(r).Mul(pow).Div(pow.Sub(decimal.NewFromInt(1)))
		}
		payment := NewMoneyFromDecimal(paymentDecimal, cur)
		for i := 1; i <= n; i++ {
			interest := balance.MulRat(r)
			var principalPortion, paymentAmt MoneyValue
			if i == n {
				principalPortion = balance
				paymentAmt, _ = principalPortion.Add(interest)
			} else {
				principalPortion, _ = payment.Sub(interest)
				paymentAmt = payment
			}
			balance, _ = balance.Sub(principalPortion)
			schedule = append(schedule, ScheduleEntry{
				PeriodNo: i, DueDate: addMonths(loan.FirstPaymentDate, (i-1)*intervalMonths),
				Payment: paymentAmt, Principal: principalPortion, Interest: interest, RemainingBalance: balance,
			})
		}
	case AmortizationEqualPrincipal:
		principalPerPeriod := NewMoneyFromDecimal(loan.Principal.Decimal().Div(decimal.NewFromInt(int64(n))), cur)
		for i := 1; i <= n; i++ {
			interest := balance.MulRat(r)
			var principalPortion MoneyValue
			if i == n {
				principalPortion = balance
			} else {
				principalPortion = principalPerPeriod
			}
			paymentAmt, _ := principalPortion.Add(interest)
			balance, _ = balance.Sub(principalPortion)
			schedule = append(schedule, ScheduleEntry{
				PeriodNo: i, DueDate: addMonths(loan.FirstPaymentDate, (i-1)*intervalMonths),
				Payment: paymentAmt, Principal: principalPortion, Interest: interest, RemainingBalance: balance,
			})
		}
	case AmortizationBullet:
		interestOnly := loan.Principal.MulRat(r)
		for i := 1; i <= n; i++ {
			if i < n {
				schedule = append(schedule, ScheduleEntry{
					PeriodNo: i, DueDate: addMonths(loan.FirstPaymentDate, (i-1)*intervalMonths),
					Payment: interestOnly, Principal: MoneyValue{Currency: cur}, Interest: interestOnly, RemainingBalance: loan.Principal,
				})
			} else {
				final, _ := interestOnly.Add(loan.Principal)
				schedule = append(schedule, ScheduleEntry{
					PeriodNo: i, DueDate: addMonths(loan.FirstPaymentDate, (i-1)*intervalMonths),
					Payment: final, Principal: loan.Principal, Interest: interestOnly, RemainingBalance: MoneyValue{Currency: cur},
				})
			}
		}
	default:
		return nil, validationErr("LoanEngine.GenerateSchedule", "unknown amortization method: "+string(loan.Method), nil)
	}
	return schedule, nil
}

func addMonths(t time.Time, months int) time.Time {
	return t.AddDate(0, months, 0)
}

// AccrueDailyInterest adds one day's interest to AccruedInterest and
// returns the amount, for the caller to post via
// TransactionProcessor.InterestAccrual.
func (e *LoanEngine) AccrueDailyInterest(tenant TenantID, loanID string, dayCount DayCountConvention) (MoneyValue, error) {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return MoneyValue{}, err
	}
	if loan.OutstandingPrincipal.IsZero() {
		return MoneyValue{Currency: loan.Principal.Currency}, nil
	}
	divisor := decimal.NewFromInt(365)
	if dayCount == DayCountActual360 || dayCount == DayCount30_360 {
		divisor = decimal.NewFromInt(360)
	}
	dailyRate := loan.AnnualRate.Div(divisor)
	interest := loan.OutstandingPrincipal.MulRat(dailyRate)
	loan.AccruedInterest, err = loan.AccruedInterest.Add(interest)
	if err != nil {
		return MoneyValue{}, err
	}
	if err := e.save(tenant, loan); err != nil {
		return MoneyValue{}, err
	}
	return interest, nil
}

// AllocatePayment splits amount across outstanding late fees, accrued
// interest, and principal, in that order, with any remainder as
// overpayment — spec.md §4.6's CARD-Act-style ordering. A payment that
// would fully retire the loan early is rejected with prepayment-not-
// allowed unless the loan's policy permits prepayment.
func (e *LoanEngine) AllocatePayment(tenant TenantID, loanID string, amount MoneyValue, now time.Time) (*PaymentAllocation, error) {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return nil, err
	}
	if loan.State != LoanDisbursed && loan.State != LoanActive {
		return nil, policyErr("LoanEngine.AllocatePayment", "loan-in-wrong-state", "loan "+loanID+" is in state "+string(loan.State))
	}

	remaining := amount
	fees, err := Min(remaining, loan.LateFeeAccumulator)
	if err != nil {
		return nil, err
	}
	remaining, _ = remaining.Sub(fees)

	interest, err := Min(remaining, loan.AccruedInterest)
	if err != nil {
		return nil, err
	}
	remaining, _ = remaining.Sub(interest)

	principal, err := Min(remaining, loan.OutstandingPrincipal)
	if err != nil {
		return nil, err
	}
	isEarlyPayoff := principal.Equal(loan.OutstandingPrincipal) && loan.NextPaymentDue.Before(loan.lastScheduledDate())
	if isEarlyPayoff && !loan.Policy.PrepaymentAllowed {
		return nil, policyErr("LoanEngine.AllocatePayment", "prepayment-not-allowed", "prepayment not permitted for loan "+loanID)
	}
	overpayment, _ := remaining.Sub(principal)

	return &PaymentAllocation{Fees: fees, Interest: interest, Principal: principal, Overpayment: overpayment}, nil
}

// lastScheduledDate returns the loan's final scheduled due date. It backs
// the early-payoff check: a full-balance payment while NextPaymentDue is
// still before this date retires the loan ahead of schedule and is a
// prepayment.
func (l *Loan) lastScheduledDate() time.Time {
	intervalMonths := 12 / l.PaymentsPerYear
	if intervalMonths == 0 {
		intervalMonths = 1
	}
	return addMonths(l.FirstPaymentDate, (l.TermPeriods-1)*intervalMonths)
}

// QuotePayoff returns the total amount due to fully retire the loan today,
// including any prepayment penalty — advisory only; AllocatePayment
// enforces the allowed/not-allowed policy gate but doesn't collect the
// penalty itself (see DESIGN.md).
func (e *LoanEngine) QuotePayoff(tenant TenantID, loanID string, now time.Time) (MoneyValue, error) {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return MoneyValue{}, err
	}
	total, err := loan.OutstandingPrincipal.Add(loan.AccruedInterest)
	if err != nil {
		return MoneyValue{}, err
	}
	total, err = total.Add(loan.LateFeeAccumulator)
	if err != nil {
		return MoneyValue{}, err
	}
	if loan.Policy.PrepaymentAllowed && !loan.Policy.PrepaymentRate.IsZero() && loan.NextPaymentDue.Before(loan.lastScheduledDate()) {
		penalty := loan.OutstandingPrincipal.MulRat(loan.Policy.PrepaymentRate)
		total, err = total.Add(penalty)
		if err != nil {
			return MoneyValue{}, err
		}
	}
	return total, nil
}

// ApplyPayment commits an allocation already computed by AllocatePayment:
// reduces fee/interest/principal balances, advances NextPaymentDue, and
// transitions state to paid-off on full retirement. Overpayment reduces
// principal immediately (product policy here: apply-to-principal, not
// refund — see DESIGN.md Open Question resolution).
func (e *LoanEngine) ApplyPayment(tenant TenantID, loanID string, alloc *PaymentAllocation, now time.Time) error {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return err
	}
	loan.LateFeeAccumulator, _ = loan.LateFeeAccumulator.Sub(alloc.Fees)
	loan.AccruedInterest, _ = loan.AccruedInterest.Sub(alloc.Interest)
	principalReduction, err := alloc.Principal.Add(alloc.Overpayment)
	if err != nil {
		return err
	}
	loan.OutstandingPrincipal, _ = loan.OutstandingPrincipal.Sub(principalReduction)

	paid, err := alloc.Fees.Add(alloc.Interest)
	if err != nil {
		return err
	}
	paid, err = paid.Add(principalReduction)
	if err != nil {
		return err
	}
	loan.TotalPaid, _ = loan.TotalPaid.Add(paid)
	loan.LastPaymentDate = now
	loan.DaysPastDue = 0

	if loan.OutstandingPrincipal.IsZero() || loan.OutstandingPrincipal.Minor < 0 {
		loan.State = LoanPaidOff
		loan.NextPaymentDue = time.Time{}
	} else {
		if loan.State == LoanDisbursed {
			loan.State = LoanActive
		}
		intervalMonths := 12 / loan.PaymentsPerYear
		if intervalMonths == 0 {
			intervalMonths = 1
		}
		loan.NextPaymentDue = addMonths(loan.NextPaymentDue, intervalMonths)
	}
	return e.save(tenant, loan)
}

// RecomputeDelinquency derives days-past-due from NextPaymentDue and now,
// buckets it, and transitions the loan to defaulted at or beyond the
// 120-day threshold.
func (e *LoanEngine) RecomputeDelinquency(tenant TenantID, loanID string, now time.Time) (DelinquencyBucket, error) {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return "", err
	}
	if loan.NextPaymentDue.IsZero() || loan.State == LoanPaidOff || loan.State == LoanClosed {
		return DelinquencyCurrent, nil
	}
	daysPastDue := int(now.Sub(loan.NextPaymentDue).Hours() / 24)
	if daysPastDue < 0 {
		daysPastDue = 0
	}
	loan.DaysPastDue = daysPastDue
	if daysPastDue >= defaultedThreshold && loan.State != LoanDefaulted {
		loan.State = LoanDefaulted
	}
	if err := e.save(tenant, loan); err != nil {
		return "", err
	}
	return bucketDaysPastDue(daysPastDue), nil
}

func bucketDaysPastDue(days int) DelinquencyBucket {
	switch {
	case days <= 0:
		return DelinquencyCurrent
	case days <= 30:
		return Delinquency1To30
	case days <= 60:
		return Delinquency31To60
	case days <= 90:
		return Delinquency61To90
	default:
		return Delinquency90Plus
	}
}

// AssessLateFee adds the policy's flat late fee when days-past-due exceeds
// the grace period. Every such call adds the fee again: the loan keeps no
// record of which cycles have already been charged.
func (e *LoanEngine) AssessLateFee(tenant TenantID, loanID string, now time.Time) (bool, error) {
	loan, err := e.GetLoan(tenant, loanID)
	if err != nil {
		return false, err
	}
	if loan.DaysPastDue <= loan.Policy.GraceDays {
		return false, nil
	}
	loan.LateFeeAccumulator, err = loan.LateFeeAccumulator.Add(loan.Policy.LateFeeFlat)
	if err != nil {
		return false, err
	}
	if err := e.save(tenant, loan); err != nil {
		return false, err
	}
	return true, nil
}
