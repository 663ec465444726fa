package stores

import (
	"database/sql"
	"time"

	"github.com/oarkflow/date"
)

// parseFlexibleTime reads the stored RFC3339 form first and falls back to
// free-form dates written by other tools.
func parseFlexibleTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return date.Parse(s)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// scanTime converts whatever the driver returned for a timestamp column.
func scanTime(raw any) time.Time {
	switch v := raw.(type) {
	case time.Time:
		return v
	case string:
		if t, err := parseFlexibleTime(v); err == nil {
			return t
		}
	case []byte:
		if t, err := parseFlexibleTime(string(v)); err == nil {
			return t
		}
	}
	return time.Time{}
}

func sqlTimeOrNil(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

// setIfValid copies a nullable column into attrs; NULL leaves the key unset.
func setIfValid(attrs map[string]any, key string, v sql.NullString) {
	if v.Valid {
		attrs[key] = v.String
	}
}
