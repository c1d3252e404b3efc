package corebank

import (
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a named unit of scheduled work, mirroring the teacher's
// scheduler.Job interface.
type Job interface {
	Run() error
	Name() string
}

// Scheduler drives periodic jobs (interest accrual, statement cycles)
// on a cron schedule — grounded on the teacher's scheduler.Scheduler.
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// NewScheduler builds a Scheduler with second-granularity cron schedules.
func NewScheduler(log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Start begins running registered jobs.
func (s *Scheduler) Start() { s.cron.Start(); s.log.Info().Msg("scheduler started") }

// Stop waits for in-flight jobs to finish, then returns.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("scheduler stopped")
}

// AddJob registers job to run on the given cron schedule (e.g.
// "0 0 2 * * *" for 2 AM daily, "@every 30s").
func (s *Scheduler) AddJob(schedule string, job Job) error {
	_, err := s.cron.AddFunc(schedule, func() {
		s.log.Debug().Str("job", job.Name()).Msg("running job")
		if err := job.Run(); err != nil {
			s.log.Error().Err(err).Str("job", job.Name()).Msg("job failed")
			return
		}
		s.log.Debug().Str("job", job.Name()).Msg("job completed")
	})
	if err != nil {
		return err
	}
	s.log.Info().Str("schedule", schedule).Str("job", job.Name()).Msg("job registered")
	return nil
}

// RunNow executes job immediately, outside its schedule — useful for
// operator-triggered catch-up runs.
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("running job immediately")
	return job.Run()
}

// loanAccrualJob accrues daily interest for every active loan of one
// tenant. Queries are tenant-scoped by construction (TenantStorage.Query
// always requires an explicit tenant), so one job instance per tenant.
type loanAccrualJob struct {
	tenant   TenantID
	engine   *LoanEngine
	storage  *TenantStorage
	dayCount DayCountConvention
	clock    Clock
}

// NewLoanAccrualJob builds a Job that accrues interest on every
// disbursed/active loan belonging to tenant.
func NewLoanAccrualJob(engine *LoanEngine, storage *TenantStorage, clock Clock, tenant TenantID, dayCount DayCountConvention) Job {
	return &loanAccrualJob{tenant: tenant, engine: engine, storage: storage, dayCount: dayCount, clock: clock}
}

func (j *loanAccrualJob) Name() string { return "loan-accrual:" + string(j.tenant) }

func (j *loanAccrualJob) Run() error {
	recs, err := j.storage.Query(j.tenant, TableLoans, func(rec Record) bool {
		state := LoanState(recString(rec, "state"))
		return state == LoanDisbursed || state == LoanActive
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		loan := loanFromRecord(rec)
		if _, err := j.engine.AccrueDailyInterest(j.tenant, loan.ID, j.dayCount); err != nil {
			return err
		}
		if _, err := j.engine.RecomputeDelinquency(j.tenant, loan.ID, j.clock.Now()); err != nil {
			return err
		}
	}
	return nil
}

// creditAccrualJob accrues daily interest across every credit account of
// one tenant.
type creditAccrualJob struct {
	tenant  TenantID
	engine  *CreditEngine
	storage *TenantStorage
	clock   Clock
}

// NewCreditAccrualJob builds a Job that accrues interest on every credit
// account belonging to tenant.
func NewCreditAccrualJob(engine *CreditEngine, storage *TenantStorage, clock Clock, tenant TenantID) Job {
	return &creditAccrualJob{tenant: tenant, engine: engine, storage: storage, clock: clock}
}

func (j *creditAccrualJob) Name() string { return "credit-accrual:" + string(j.tenant) }

func (j *creditAccrualJob) Run() error {
	recs, err := j.storage.Query(j.tenant, TableCreditLines, nil)
	if err != nil {
		return err
	}
	now := j.clock.Now()
	for _, rec := range recs {
		acct := creditAccountFromRecord(rec)
		if _, err := j.engine.AccrueDailyInterest(j.tenant, acct.AccountID, now); err != nil {
			return err
		}
	}
	return nil
}

// statementCycleJob closes the billing cycle for every credit account
// whose statement cycle day matches today, generating a new statement.
type statementCycleJob struct {
	tenant  TenantID
	engine  *CreditEngine
	storage *TenantStorage
	clock   Clock
}

// NewStatementCycleJob builds a Job that generates a statement for every
// credit account of tenant due to close today.
func NewStatementCycleJob(engine *CreditEngine, storage *TenantStorage, clock Clock, tenant TenantID) Job {
	return &statementCycleJob{tenant: tenant, engine: engine, storage: storage, clock: clock}
}

func (j *statementCycleJob) Name() string { return "statement-cycle:" + string(j.tenant) }

func (j *statementCycleJob) Run() error {
	now := j.clock.Now()
	recs, err := j.storage.Query(j.tenant, TableCreditLines, func(rec Record) bool {
		cycleDay := toInt64(rec["state_statement_cycle_day"])
		return int(cycleDay) == now.Day()
	})
	if err != nil {
		return err
	}
	for _, rec := range recs {
		acct := creditAccountFromRecord(rec)
		previous, err := j.latestStatement(acct.AccountID)
		if err != nil {
			return err
		}
		if _, err := j.engine.GenerateStatement(j.tenant, acct.AccountID, now, previous); err != nil {
			return err
		}
	}
	return nil
}

func (j *statementCycleJob) latestStatement(accountID string) (*CreditStatement, error) {
	recs, err := j.storage.Query(j.tenant, TableCreditStatements, func(rec Record) bool {
		return recString(rec, "account_id") == accountID
	})
	if err != nil {
		return nil, err
	}
	var latest *CreditStatement
	for _, rec := range recs {
		stmt := creditStatementFromRecord(rec)
		if latest == nil || stmt.StatementDate.After(latest.StatementDate) {
			latest = stmt
		}
	}
	return latest, nil
}
