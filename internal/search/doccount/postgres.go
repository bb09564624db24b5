package doccount

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// PostgresCounter counts distinct entity URNs in the aspect table. The
// entity type is the third segment of urn:li:<type>:<key>.
type PostgresCounter struct {
	db    *sql.DB
	query string
}

func NewPostgresCounter(db *sql.DB, table string) (*PostgresCounter, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid aspect table name %q", table)
	}
	return &PostgresCounter{
		db: db,
		query: fmt.Sprintf(
			`SELECT lower(split_part(urn, ':', 3)) AS entity, COUNT(DISTINCT urn)
			 FROM %s
			 WHERE version = 0
			 GROUP BY 1`, table),
	}, nil
}

// Count ignores entities and returns every entity type present in the table.
func (p *PostgresCounter) Count(ctx context.Context, _ []string) (map[string]int64, error) {
	rows, err := p.db.QueryContext(ctx, p.query)
	if err != nil {
		return nil, fmt.Errorf("querying entity counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var entity string
		var n int64
		if err := rows.Scan(&entity, &n); err != nil {
			return nil, fmt.Errorf("scanning entity count: %w", err)
		}
		if entity = strings.TrimSpace(entity); entity != "" {
			counts[entity] = n
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entity counts: %w", err)
	}
	return counts, nil
}
