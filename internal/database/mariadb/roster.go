package mariadb

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/kozaktomas/rollcall/internal/database"
)

// tableName matches plain or schema-qualified identifiers.
var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// quoteTable validates a configured table name and quotes it for MariaDB.
func quoteTable(table string) (string, error) {
	if !tableName.MatchString(table) {
		return "", fmt.Errorf("invalid roster table name %q", table)
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		parts[i] = "`" + p + "`"
	}
	return strings.Join(parts, "."), nil
}

// ReadRoster returns the name, roll and class of every row in table, ordered by roll.
// Rows with an empty roll are skipped.
func (p *Pool) ReadRoster(ctx context.Context, table string) ([]database.RosterEntry, error) {
	quoted, err := quoteTable(table)
	if err != nil {
		return nil, err
	}

	query := `SELECT name, roll, class FROM ` + quoted + ` ORDER BY roll` //nolint:gosec // table name validated above
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query roster: %w", err)
	}
	defer rows.Close()

	var entries []database.RosterEntry
	for rows.Next() {
		var e database.RosterEntry
		if err := rows.Scan(&e.Name, &e.Roll, &e.Class); err != nil {
			return nil, fmt.Errorf("scan roster row: %w", err)
		}
		e.Roll = strings.TrimSpace(e.Roll)
		if e.Roll == "" {
			continue
		}
		e.Name = strings.TrimSpace(e.Name)
		e.Class = strings.TrimSpace(e.Class)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate roster rows: %w", err)
	}
	return entries, nil
}
