package store

import (
	"database/sql/driver"
	"time"

	"github.com/rotisserie/eris"
)

// sqlTimeLayout sorts lexicographically in UTC.
const sqlTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// sqlTime stores timestamps as fixed-width UTC text and scans back either
// text or driver-parsed time values.
type sqlTime time.Time

func (t sqlTime) Time() time.Time { return time.Time(t) }

func (t sqlTime) Value() (driver.Value, error) {
	return time.Time(t).UTC().Format(sqlTimeLayout), nil
}

func (t *sqlTime) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		*t = sqlTime(v.UTC())
		return nil
	case string:
		return t.parse(v)
	case []byte:
		return t.parse(string(v))
	case nil:
		*t = sqlTime(time.Time{})
		return nil
	}
	return eris.Errorf("sqlite: cannot scan %T into time", src)
}

func (t *sqlTime) parse(s string) error {
	for _, layout := range []string{sqlTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if parsed, err := time.Parse(layout, s); err == nil {
			*t = sqlTime(parsed.UTC())
			return nil
		}
	}
	return eris.Errorf("sqlite: cannot parse time %q", s)
}
