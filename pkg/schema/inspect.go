package schema

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
)

// InferredColumn is a column as DuckDB sees it when sniffing a file.
type InferredColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// Inspection describes an input file: its header as DuckDB infers it, and
// how the declared schema binds to that header.
type Inspection struct {
	Path     string           `json:"path"`
	Columns  []InferredColumn `json:"columns"`
	Binding  *Binding         `json:"-"`
	Missing  []string         `json:"missing,omitempty"`
	RowCount int64            `json:"row_count"`
}

// Inspector sniffs input files with DuckDB. Inferred types are informational
// only; the pipeline always reads with the declared schema.
type Inspector struct {
	db *sql.DB
}

// NewInspector opens an in-memory DuckDB connection.
func NewInspector() (*Inspector, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to create DuckDB connection: %w", err)
	}
	return &Inspector{db: db}, nil
}

// Close releases resources.
func (i *Inspector) Close() error {
	return i.db.Close()
}

// Inspect describes path and resolves the declared schema against it.
// A missing required column is reported in Missing rather than as an error.
func (i *Inspector) Inspect(ctx context.Context, path string, declared *Schema, aliases map[string]string) (*Inspection, error) {
	source := sniffExpr(path)

	rows, err := i.db.QueryContext(ctx, "DESCRIBE SELECT * FROM "+source)
	if err != nil {
		return nil, tferrors.ParseError(path, 0, err)
	}
	defer rows.Close()

	in := &Inspection{Path: path}
	var header []string
	for rows.Next() {
		var name, dtype string
		var null, key, dflt, extra interface{}
		if err := rows.Scan(&name, &dtype, &null, &key, &dflt, &extra); err != nil {
			return nil, tferrors.ParseError(path, 0, err)
		}
		in.Columns = append(in.Columns, InferredColumn{
			Name:     name,
			Type:     dtype,
			Nullable: null == "YES",
		})
		header = append(header, name)
	}
	if err := rows.Err(); err != nil {
		return nil, tferrors.ParseError(path, 0, err)
	}

	if err := i.db.QueryRowContext(ctx, "SELECT count(*) FROM "+source).Scan(&in.RowCount); err != nil {
		return nil, tferrors.ParseError(path, 0, err)
	}

	binding, err := declared.Resolve(header, aliases)
	var tfErr *tferrors.Error
	switch {
	case err == nil:
		in.Binding = binding
	case errors.As(err, &tfErr) && tfErr.Code == tferrors.CodeSchema:
		in.Missing, _ = tfErr.Context["missing"].([]string)
	default:
		return nil, err
	}
	return in, nil
}

// ReadExpr returns the DuckDB table function that scans path. CSV files are
// read with every column as VARCHAR so that typing stays under the control
// of the declared schema.
func ReadExpr(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return fmt.Sprintf("read_parquet('%s')", EscapeLiteral(path))
	}
	return fmt.Sprintf("read_csv('%s', auto_detect=true, header=true, all_varchar=true, null_padding=true)", EscapeLiteral(path))
}

func sniffExpr(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		return ReadExpr(path)
	}
	return fmt.Sprintf("read_csv_auto('%s', header=true)", EscapeLiteral(path))
}

// EscapeLiteral escapes s for use inside a single-quoted SQL literal.
func EscapeLiteral(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// QuoteIdent quotes a column name for DuckDB.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
