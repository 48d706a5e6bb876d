package transform

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/taxiflow/taxiflow/internal/model"
	tferrors "github.com/taxiflow/taxiflow/pkg/errors"
	"github.com/taxiflow/taxiflow/pkg/ingest"
	"github.com/taxiflow/taxiflow/pkg/logging"
	"github.com/taxiflow/taxiflow/pkg/schema"
)

// DuckDBConfig tunes the embedded database.
type DuckDBConfig struct {
	Threads     int    // 0 = runtime.NumCPU()
	MemoryLimit string // e.g. "2GB"; empty keeps the DuckDB default
}

// DuckDBEngine computes the artifacts with SQL. The projected, typed rows
// are materialised once into a temporary table; the sample and the summary
// are both read from it.
type DuckDBEngine struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewDuckDBEngine opens an in-memory DuckDB database.
func NewDuckDBEngine(cfg DuckDBConfig, logger *slog.Logger) (*DuckDBEngine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize DuckDB: %w", err)
	}

	threads := cfg.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	if _, err := db.Exec(fmt.Sprintf("SET threads=%d", threads)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure DuckDB: %w", err)
	}
	if cfg.MemoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", schema.EscapeLiteral(cfg.MemoryLimit))); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to configure DuckDB: %w", err)
		}
	}

	return &DuckDBEngine{db: db, logger: logging.OrDiscard(logger)}, nil
}

// Name returns "duckdb".
func (e *DuckDBEngine) Name() string { return "duckdb" }

// Close closes the database.
func (e *DuckDBEngine) Close() error { return e.db.Close() }

const tripsTable = "taxiflow_trips"

// Process loads path into a typed temporary table and queries it.
func (e *DuckDBEngine) Process(ctx context.Context, path string, opts Options) (*Output, error) {
	sch := opts.Schema
	if sch == nil {
		sch = schema.Trips()
	}
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, tferrors.InputNotFound(path)
		}
		return nil, tferrors.WrapFS(err, "open input")
	}

	// Temp tables are per connection.
	conn, err := e.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire DuckDB connection: %w", err)
	}
	defer conn.Close()

	source := schema.ReadExpr(path)
	header, err := readHeader(ctx, conn, source)
	if err != nil {
		return nil, tferrors.ParseError(path, 0, err)
	}

	binding, err := sch.Resolve(header, opts.Aliases)
	if err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+tripsTable); err != nil {
		return nil, fmt.Errorf("failed to reset DuckDB table: %w", err)
	}
	load := fmt.Sprintf("CREATE TEMP TABLE %s AS SELECT %s FROM %s",
		tripsTable, strings.Join(projection(sch, binding), ", "), source)
	if _, err := conn.ExecContext(ctx, load); err != nil {
		if ctx.Err() != nil {
			return nil, tferrors.Canceled("load", ctx.Err())
		}
		return nil, tferrors.ParseError(path, 0, err)
	}
	defer conn.ExecContext(context.Background(), "DROP TABLE IF EXISTS "+tripsTable)

	out := &Output{Header: header}
	cols := columnRefs(sch)
	anyNull := strings.Join(mapStrings(cols, func(c string) string { return c + " IS NULL" }), " OR ")
	usable := usableCondition(sch)

	counts := fmt.Sprintf(`SELECT count(*),
		count(*) FILTER (WHERE %s),
		count(*) FILTER (WHERE %s)
		FROM %s`, anyNull, usable, tripsTable)
	if err := conn.QueryRowContext(ctx, counts).Scan(&out.RowsRead, &out.RowsRejected, &out.RowsAggregated); err != nil {
		return nil, fmt.Errorf("failed to count rows: %w", err)
	}

	if out.RowsRejected > 0 && opts.Policy == ingest.PolicyStrict {
		return nil, firstBadRow(ctx, conn, path, sch, anyNull)
	}

	if out.Sample, err = e.sample(ctx, conn, sch, opts.SampleSize); err != nil {
		return nil, err
	}
	if out.Summary, err = e.summary(ctx, conn, sch, usable); err != nil {
		return nil, err
	}

	e.logger.Debug("duckdb processed input",
		"path", path,
		"rows", out.RowsRead,
		"rejected", out.RowsRejected,
		"hour_count", len(out.Summary))
	return out, nil
}

func readHeader(ctx context.Context, conn *sql.Conn, source string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, "SELECT * FROM "+source+" LIMIT 0")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return rows.Columns()
}

// projection renders one typed expression per declared column. Values that
// do not convert become NULL.
func projection(sch *schema.Schema, b *schema.Binding) []string {
	exprs := make([]string, len(sch.Columns))
	for i, col := range sch.Columns {
		src := schema.QuoteIdent(b.Header[b.Index[i]])
		switch col.Type {
		case schema.TypeTimestamp:
			exprs[i] = fmt.Sprintf("%s AS c%d", timestampExpr(src), i)
		default:
			exprs[i] = fmt.Sprintf(
				"CASE WHEN isfinite(TRY_CAST(%[1]s AS DOUBLE)) THEN TRY_CAST(%[1]s AS DOUBLE) END AS c%[2]d",
				src, i)
		}
	}
	return exprs
}

// timestampExpr converts src with the same formats ParseTimestamp accepts.
// Typed timestamp columns, as read from Parquet, are cast directly.
func timestampExpr(src string) string {
	text := "trim(CAST(" + src + " AS VARCHAR))"
	terms := []string{
		"CASE WHEN typeof(" + src + ") <> 'VARCHAR' THEN TRY_CAST(" + src + " AS TIMESTAMP) END",
		"CASE WHEN regexp_full_match(" + text + ", '" + schema.EscapeLiteral(schema.ZonedPattern) + "') THEN TRY_CAST(" + text + " AS TIMESTAMP) END",
	}
	for _, f := range schema.TimestampFormats {
		if f.Strptime == "" {
			continue
		}
		terms = append(terms, "try_strptime("+text+", '"+schema.EscapeLiteral(f.Strptime)+"')")
	}
	return "COALESCE(" + strings.Join(terms, ", ") + ")"
}

func columnRefs(sch *schema.Schema) []string {
	refs := make([]string, len(sch.Columns))
	for i := range sch.Columns {
		refs[i] = fmt.Sprintf("c%d", i)
	}
	return refs
}

func columnRef(sch *schema.Schema, name string) string {
	for i, col := range sch.Columns {
		if col.Name == name {
			return fmt.Sprintf("c%d", i)
		}
	}
	return "NULL"
}

// usableCondition mirrors model.TripRecord.Aggregatable.
func usableCondition(sch *schema.Schema) string {
	return fmt.Sprintf("%s IS NOT NULL AND %s IS NOT NULL AND %s IS NOT NULL",
		columnRef(sch, schema.PickupColumn),
		columnRef(sch, schema.DistanceColumn),
		columnRef(sch, schema.AmountColumn))
}

func mapStrings(in []string, fn func(string) string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = fn(s)
	}
	return out
}

func firstBadRow(ctx context.Context, conn *sql.Conn, path string, sch *schema.Schema, anyNull string) error {
	flags := mapStrings(columnRefs(sch), func(c string) string { return c + " IS NULL" })
	query := fmt.Sprintf("SELECT rowid + 1, %s FROM %s WHERE %s ORDER BY rowid LIMIT 1",
		strings.Join(flags, ", "), tripsTable, anyNull)

	var row int64
	nulls := make([]bool, len(sch.Columns))
	dest := []interface{}{&row}
	for i := range nulls {
		dest = append(dest, &nulls[i])
	}
	if err := conn.QueryRowContext(ctx, query).Scan(dest...); err != nil {
		return tferrors.ParseError(path, 0, fmt.Errorf("input has unparseable rows"))
	}

	for i, isNull := range nulls {
		if isNull {
			col := sch.Columns[i]
			return tferrors.ParseError(path, row, fmt.Errorf("value does not parse as %s", col.Type)).
				WithContext("column", col.Name)
		}
	}
	return tferrors.ParseError(path, row, fmt.Errorf("unparseable row"))
}

func (e *DuckDBEngine) sample(ctx context.Context, conn *sql.Conn, sch *schema.Schema, n int) ([]model.SampleRow, error) {
	if n <= 0 {
		return []model.SampleRow{}, nil
	}
	query := fmt.Sprintf("SELECT %s FROM %s ORDER BY rowid LIMIT %d",
		strings.Join(columnRefs(sch), ", "), tripsTable, n)
	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query sample: %w", err)
	}
	defer rows.Close()

	out := make([]model.SampleRow, 0, n)
	for rows.Next() {
		times := make([]sql.NullTime, len(sch.Columns))
		floats := make([]sql.NullFloat64, len(sch.Columns))
		dest := make([]interface{}, len(sch.Columns))
		for i, col := range sch.Columns {
			if col.Type == schema.TypeTimestamp {
				dest[i] = &times[i]
			} else {
				dest[i] = &floats[i]
			}
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("failed to scan sample row: %w", err)
		}

		row := make(model.SampleRow, len(sch.Columns))
		for i, col := range sch.Columns {
			var v interface{}
			switch {
			case col.Type == schema.TypeTimestamp && times[i].Valid:
				v = times[i].Time.UnixMilli()
			case col.Type != schema.TypeTimestamp && floats[i].Valid:
				v = floats[i].Float64
			}
			row[i] = model.Field{Name: col.Name, Value: v}
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (e *DuckDBEngine) summary(ctx context.Context, conn *sql.Conn, sch *schema.Schema, usable string) ([]model.HourlySummary, error) {
	query := fmt.Sprintf(`SELECT CAST(hour(%s) AS INTEGER) AS pickup_hour,
		avg(%s) AS avg_distance,
		avg(%s) AS avg_amount,
		count(*) AS total_trips
		FROM %s
		WHERE %s
		GROUP BY 1
		ORDER BY 1`,
		columnRef(sch, schema.PickupColumn),
		columnRef(sch, schema.DistanceColumn),
		columnRef(sch, schema.AmountColumn),
		tripsTable, usable)

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query summary: %w", err)
	}
	defer rows.Close()

	out := make([]model.HourlySummary, 0, 24)
	for rows.Next() {
		var s model.HourlySummary
		if err := rows.Scan(&s.PickupHour, &s.AvgDistance, &s.AvgAmount, &s.TotalTrips); err != nil {
			return nil, fmt.Errorf("failed to scan summary row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
