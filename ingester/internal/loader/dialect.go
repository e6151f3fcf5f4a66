package loader

import (
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "modernc.org/sqlite"             // registers "sqlite"

	"github.com/cephscope/cephscope/ingester/internal/config"
)

// dialect captures the few SQL differences between the supported stores.
type dialect struct {
	name        string
	driver      string
	labelsType  string
	valueType   string
	timeType    string
	maxIdentLen int // 0 means unlimited
	positional  bool
}

var dialects = map[string]dialect{
	config.DriverPostgres: {
		name:        config.DriverPostgres,
		driver:      "pgx",
		labelsType:  "JSONB",
		valueType:   "DOUBLE PRECISION",
		timeType:    "TIMESTAMPTZ",
		maxIdentLen: 63,
		positional:  true,
	},
	config.DriverSQLite: {
		name:       config.DriverSQLite,
		driver:     "sqlite",
		labelsType: "TEXT",
		valueType:  "REAL",
		timeType:   "TIMESTAMP",
	},
}

func (d dialect) placeholders(n int) string {
	ph := make([]string, n)
	for i := range ph {
		if d.positional {
			ph[i] = "$" + strconv.Itoa(i+1)
		} else {
			ph[i] = "?"
		}
	}
	return strings.Join(ph, ", ")
}

func (d dialect) dropTable(table string) string {
	return "DROP TABLE IF EXISTS " + quoteIdent(table)
}

func (d dialect) createTable(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	metric_name VARCHAR NOT NULL,
	labels %s,
	value %s,
	"timestamp" %s DEFAULT CURRENT_TIMESTAMP
)`, quoteIdent(table), d.labelsType, d.valueType, d.timeType)
}

func (d dialect) insert(table string, withTime bool) string {
	if withTime {
		return fmt.Sprintf(`INSERT INTO %s (metric_name, labels, value, "timestamp") VALUES (%s)`,
			quoteIdent(table), d.placeholders(4))
	}
	return fmt.Sprintf(`INSERT INTO %s (metric_name, labels, value) VALUES (%s)`,
		quoteIdent(table), d.placeholders(3))
}

func (d dialect) checkIdent(table string) error {
	if table == "" {
		return fmt.Errorf("empty table name")
	}
	if d.maxIdentLen > 0 && len(table) > d.maxIdentLen {
		return fmt.Errorf("table name %q exceeds %d bytes and would be truncated by %s", table, d.maxIdentLen, d.name)
	}
	return nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
