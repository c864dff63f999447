package sqlbase

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Dialect captures the differences between the SQL engines sharing these repositories.
type Dialect struct {
	Name string
	// Numbered reports whether placeholders are $1, $2... instead of ?.
	Numbered bool
	// UnixTime stores timestamps as INTEGER unix nanoseconds.
	UnixTime bool
}

var (
	Postgres = Dialect{Name: "postgres", Numbered: true}
	SQLite   = Dialect{Name: "sqlite", UnixTime: true}
)

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var (
		builder strings.Builder
		n       int
	)

	builder.Grow(len(query) + 8)

	for _, r := range query {
		if r == '?' {
			n++

			builder.WriteByte('$')
			builder.WriteString(strconv.Itoa(n))

			continue
		}

		builder.WriteRune(r)
	}

	return builder.String()
}

// Time converts t to the dialect's column representation.
func (d Dialect) Time(t time.Time) any {
	if d.UnixTime {
		return t.UTC().UnixNano()
	}

	return t.UTC()
}

// NullTime converts an optional timestamp.
func (d Dialect) NullTime(t *time.Time) any {
	if t == nil {
		return nil
	}

	return d.Time(*t)
}

// nullTime scans timestamps stored either natively or as unix nanoseconds.
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
	case int64:
		n.Time, n.Valid = time.Unix(0, v).UTC(), true
	case string:
		return n.parse(v)
	case []byte:
		return n.parse(string(v))
	default:
		return fmt.Errorf("unsupported timestamp type %T", src)
	}

	return nil
}

func (n *nullTime) parse(value string) error {
	parsed, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", value, err)
	}

	n.Time, n.Valid = parsed.UTC(), true

	return nil
}

func (n *nullTime) Ptr() *time.Time {
	if !n.Valid {
		return nil
	}

	t := n.Time

	return &t
}

func marshalJSON(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	return string(data), nil
}

func nullString(value *string) any {
	if value == nil {
		return nil
	}

	return *value
}
