package corebank

import "time"

// Helpers converting a decoded Record's loosely-typed values (msgpack
// unmarshals into interface{} using whichever concrete numeric/time type is
// most compact) back into the Go types domain FromRecord methods expect.

func recString(rec Record, key string) string {
	v, _ := rec[key].(string)
	return v
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case int:
		return int64(n)
	case uint64:
		return int64(n)
	case uint32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func recInt64(rec Record, key string) int64 {
	return toInt64(rec[key])
}

func recTime(rec Record, key string) time.Time {
	v, _ := rec[key].(time.Time)
	return v
}

func recBool(rec Record, key string) bool {
	v, _ := rec[key].(bool)
	return v
}

// moneyToRecord renders an optional MoneyValue as a nested record, or nil
// if m is nil (an unset limit).
func moneyToRecord(m *MoneyValue) any {
	if m == nil {
		return nil
	}
	return map[string]any{"minor": m.Minor, "currency": string(m.Currency)}
}

func moneyFromRecord(v any) *MoneyValue {
	raw, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	cur, _ := raw["currency"].(string)
	return &MoneyValue{Minor: toInt64(raw["minor"]), Currency: Currency(cur)}
}

func recStringMap(rec Record, key string) map[string]string {
	raw, ok := rec[key].(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		s, _ := v.(string)
		out[k] = s
	}
	return out
}
