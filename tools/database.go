package tools

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "modernc.org/sqlite"
)

const DatabaseToolName = "database"

type DatabaseOperation struct {
	Type       string `json:"type" jsonschema:"enum=create_db,enum=create_table,enum=drop_table,enum=insert,enum=query,enum=update" jsonschema_description:"Type of database operation"`
	Query      string `json:"query" jsonschema_description:"SQL statement to execute"`
	Parameters []any  `json:"parameters,omitempty" jsonschema_description:"Positional parameters for the statement, if needed"`
}

type DatabaseInput struct {
	DSN        string              `json:"dsn" jsonschema_description:"SQLite data source: a file path or file: URI"`
	Operations []DatabaseOperation `json:"operations" jsonschema_description:"List of database operations to perform"`
}

type databaseTool struct{}

func NewDatabaseTool() (Tool, error) {
	t := &databaseTool{}
	return NewTool(DatabaseToolName,
		"Perform SQLite database operations. Returns a JSON list with one entry per operation; query entries are lists of row objects.",
		t.execute)
}

// execute never returns an error: any failure ends the run and is reported
// as the result text.
func (t *databaseTool) execute(ctx context.Context, in DatabaseInput) (string, error) {
	out, err := t.run(ctx, in)
	if err != nil {
		return fmt.Sprintf("Database operation failed: %v", err), nil
	}
	return out, nil
}

func (t *databaseTool) run(ctx context.Context, in DatabaseInput) (string, error) {
	db, err := sql.Open("sqlite", in.DSN)
	if err != nil {
		return "", err
	}
	defer db.Close()
	// A single connection keeps :memory: databases alive across operations.
	db.SetMaxOpenConns(1)

	results := make([]any, 0, len(in.Operations))
	for _, op := range in.Operations {
		if op.Type == "query" {
			rows, err := queryRows(ctx, db, op.Query, sqlParams(op.Parameters))
			if err != nil {
				return "", err
			}
			results = append(results, rows)
			continue
		}
		res, err := db.ExecContext(ctx, op.Query, sqlParams(op.Parameters)...)
		if err != nil {
			return "", err
		}
		n, _ := res.RowsAffected()
		results = append(results, fmt.Sprintf("%s: %d rows affected", op.Type, n))
	}

	data, err := json.Marshal(results)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// sqlParams turns decoded JSON numbers into int64 or float64 so the driver
// binds them as numbers rather than text.
func sqlParams(params []any) []any {
	out := make([]any, len(params))
	for i, p := range params {
		n, ok := p.(json.Number)
		if !ok {
			out[i] = p
			continue
		}
		if v, err := n.Int64(); err == nil {
			out[i] = v
		} else if f, err := n.Float64(); err == nil {
			out[i] = f
		} else {
			out[i] = n.String()
		}
	}
	return out
}

func queryRows(ctx context.Context, db *sql.DB, query string, params []any) ([]map[string]any, error) {
	rows, err := db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []map[string]any{}
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
				continue
			}
			row[col] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
