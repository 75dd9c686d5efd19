package backup

import (
	"context"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/lo"

	"github.com/healthmate/healthmate/internal/platform/db"
)

type pgExporter struct {
	pool    *pgxpool.Pool
	allowed map[string]bool
}

// NewPGExporter exports rows with to_jsonb. Only the given tables may be
// exported; an empty list allows the default Tables.
func NewPGExporter(pool *pgxpool.Pool, tables ...string) Exporter {
	if len(tables) == 0 {
		tables = Tables
	}
	return &pgExporter{pool: pool, allowed: lo.SliceToMap(tables, func(t string) (string, bool) { return t, true })}
}

func (e *pgExporter) Export(ctx context.Context, table string, w io.Writer) (int64, error) {
	if !e.allowed[table] {
		return 0, fmt.Errorf("table %q is not exportable", table)
	}
	ident := pgx.Identifier{table}.Sanitize()
	rows, err := db.Conn(ctx, e.pool).Query(ctx, `SELECT to_jsonb(t)::text FROM `+ident+` t`)
	if err != nil {
		return 0, db.MapErr(err, "backup export", table)
	}
	defer rows.Close()
	var n int64
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return n, db.MapErr(err, "backup export", table)
		}
		if _, err := io.WriteString(w, line+"\n"); err != nil {
			return n, err
		}
		n++
	}
	return n, rows.Err()
}
