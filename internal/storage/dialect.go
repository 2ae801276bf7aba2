package storage

import (
	"embed"
	"fmt"
	"strconv"
	"strings"
	"time"
)

//go:embed schema/*.sql
var schemaFS embed.FS

type dialect struct {
	name       string
	schemaFile string
	// numbered switches "?" placeholders to "$1, $2, ...".
	numbered bool
	// lockLogs, when set, runs first inside TrimOldest's transaction.
	lockLogs string
	// timeValue encodes a time for a query argument.
	timeValue func(time.Time) any
}

// sqliteTimeLayout is fixed-width so text order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z"

var sqliteDialect = dialect{
	name:       "sqlite",
	schemaFile: "schema/sqlite.sql",
	timeValue: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeLayout)
	},
}

var postgresDialect = dialect{
	name:       "postgres",
	schemaFile: "schema/postgres.sql",
	numbered:   true,
	lockLogs:   "LOCK TABLE checkin_logs IN SHARE ROW EXCLUSIVE MODE",
	timeValue: func(t time.Time) any {
		return t.UTC()
	},
}

func (d dialect) schema() (string, error) {
	b, err := schemaFS.ReadFile(d.schemaFile)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// q rewrites placeholders for the dialect.
func (d dialect) q(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// timeDest scans a timestamp stored either natively or as text.
type timeDest struct{ t *time.Time }

func (s timeDest) Scan(v any) error {
	switch x := v.(type) {
	case nil:
		*s.t = time.Time{}
		return nil
	case time.Time:
		*s.t = x
		return nil
	case string:
		return s.parse(x)
	case []byte:
		return s.parse(string(x))
	default:
		return fmt.Errorf("unsupported time value %T", v)
	}
}

func (s timeDest) parse(v string) error {
	for _, layout := range []string{sqliteTimeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, v); err == nil {
			*s.t = t
			return nil
		}
	}
	return fmt.Errorf("unparsable time %q", v)
}
