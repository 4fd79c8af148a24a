package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const createTradeEventsSQL = `
    CREATE TABLE IF NOT EXISTS trade_events (
        id         TEXT PRIMARY KEY,
        ts_utc     TIMESTAMPTZ NOT NULL,
        type       TEXT NOT NULL,
        symbol     TEXT,
        tf         TEXT,
        side       TEXT,
        price      DOUBLE PRECISION,
        tp         DOUBLE PRECISION,
        sl         DOUBLE PRECISION,
        reason     TEXT,
        position   TEXT,
        error      TEXT,
        raw_json   TEXT
    )`

const createTradeEventsIndexSQL = `
    CREATE INDEX IF NOT EXISTS trade_events_ts_idx ON trade_events (ts_utc DESC)`

const selectTradeEventsSQL = `
    SELECT id, ts_utc, type, COALESCE(symbol,''), COALESCE(tf,''), COALESCE(side,''),
           price, tp, sl, COALESCE(reason,''), COALESCE(position,''), COALESCE(error,''), COALESCE(raw_json,'')
    FROM trade_events`

// PostgresStore persists events to a trade_events table through a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NormalizeDSN rewrites postgres:// to postgresql:// and requires TLS unless the
// DSN already chooses an sslmode.
func NormalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	if strings.HasPrefix(dsn, "postgres://") {
		dsn = "postgresql://" + strings.TrimPrefix(dsn, "postgres://")
	}
	if !strings.Contains(dsn, "sslmode=") {
		joiner := "?"
		if strings.Contains(dsn, "?") {
			joiner = "&"
		}
		dsn += joiner + "sslmode=require"
	}
	return dsn
}

// IsPostgresDSN reports whether dsn targets Postgres.
func IsPostgresDSN(dsn string) bool {
	dsn = strings.TrimSpace(dsn)
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// OpenPostgres connects a pool and makes sure the schema exists.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, NormalizeDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.Init(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Init creates the table and index when missing.
func (s *PostgresStore) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.db.Exec(ctx, createTradeEventsSQL); err != nil {
		return fmt.Errorf("create trade_events: %w", err)
	}
	if _, err := s.db.Exec(ctx, createTradeEventsIndexSQL); err != nil {
		return fmt.Errorf("create trade_events index: %w", err)
	}
	return nil
}

// Append inserts one event.
func (s *PostgresStore) Append(ctx context.Context, ev TradeEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	const insertSQL = `
        INSERT INTO trade_events (
            id, ts_utc, type, symbol, tf, side,
            price, tp, sl, reason, position, error, raw_json
        )
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
        ON CONFLICT (id) DO NOTHING`
	var raw *string
	if len(ev.Raw) > 0 {
		text := string(ev.Raw)
		raw = &text
	}
	_, err := s.db.Exec(ctx, insertSQL,
		ev.ID, ev.Timestamp.UTC(), string(ev.Type), ev.Symbol, ev.TF, ev.Side,
		ev.Price, ev.TP, ev.SL, ev.Reason, ev.Position, ev.Error, raw,
	)
	if err != nil {
		return fmt.Errorf("insert trade event: %w", err)
	}
	return nil
}

// Query returns matching events newest first.
func (s *PostgresStore) Query(ctx context.Context, f Filter) ([]TradeEvent, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	sql, args := buildQuery(f.Normalized())
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query trade events: %w", err)
	}
	defer rows.Close()

	var out []TradeEvent
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Stats aggregates counts by type and side.
func (s *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	ctx, cancel := context.WithTimeout(ctx, 4*time.Second)
	defer cancel()
	stats := newStats()

	rows, err := s.db.Query(ctx, `SELECT type, COALESCE(side,''), COUNT(*) FROM trade_events GROUP BY type, side`)
	if err != nil {
		return Stats{}, fmt.Errorf("stats trade events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			typ, side string
			n         int
		)
		if err := rows.Scan(&typ, &side, &n); err != nil {
			return Stats{}, fmt.Errorf("scan stats: %w", err)
		}
		stats.Total += n
		stats.ByType[typ] += n
		if side != "" {
			stats.BySide[side] += n
		}
	}
	return stats, rows.Err()
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}

func buildQuery(f Filter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		clauses = append(clauses, column+" = $"+strconv.Itoa(len(args)))
	}
	add("symbol", f.Symbol)
	add("tf", f.TF)
	add("side", f.Side)
	add("type", f.Type)

	var b strings.Builder
	b.WriteString(selectTradeEventsSQL)
	if len(clauses) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(clauses, " AND "))
	}
	args = append(args, f.Limit)
	b.WriteString(" ORDER BY ts_utc DESC LIMIT $" + strconv.Itoa(len(args)))
	return b.String(), args
}

func scanEvent(row pgx.Row) (TradeEvent, error) {
	var (
		ev  TradeEvent
		typ string
		raw string
	)
	if err := row.Scan(&ev.ID, &ev.Timestamp, &typ, &ev.Symbol, &ev.TF, &ev.Side,
		&ev.Price, &ev.TP, &ev.SL, &ev.Reason, &ev.Position, &ev.Error, &raw); err != nil {
		return TradeEvent{}, fmt.Errorf("scan trade event: %w", err)
	}
	ev.Type = EventType(typ)
	if raw != "" && json.Valid([]byte(raw)) {
		ev.Raw = json.RawMessage(raw)
	}
	return ev, nil
}
