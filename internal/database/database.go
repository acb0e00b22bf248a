package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"courtdesk/internal/domain"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"
)

const (
	timeLayout = "2006-01-02 15:04:05"
	dateLayout = "2006-01-02"

	dsnParams = "_txlock=immediate&_busy_timeout=5000&_foreign_keys=on"
)

// DB owns the SQLite handle. Its embedded Queries run outside any transaction.
type DB struct {
	*sql.DB
	*Queries
	path   string
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	inMemory := path == ":memory:" || strings.Contains(path, "mode=memory")
	if !inMemory {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	sqlDB, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every pooled connection to ":memory:" would get its own empty database.
	if inMemory {
		sqlDB.SetMaxOpenConns(1)
	}

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db := &DB{
		DB:      sqlDB,
		Queries: &Queries{q: sqlDB},
		path:    path,
		logger:  logger,
	}

	if err := db.createTables(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	if err := db.ensureColumns(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate columns: %w", err)
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return db, nil
}

func dsn(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + dsnParams
}

// Path returns the file the database was opened from.
func (db *DB) Path() string {
	return db.path
}

// InTx runs fn inside one BEGIN IMMEDIATE transaction and commits when fn succeeds.
func (db *DB) InTx(ctx context.Context, fn func(q domain.Queries) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", translate(err))
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", translate(err))
	}
	return nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS tenants (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            name TEXT NOT NULL,
            slug TEXT NOT NULL UNIQUE,
            open_time TEXT NOT NULL DEFAULT '08:00',
            close_time TEXT NOT NULL DEFAULT '23:00',
            slot_duration INTEGER NOT NULL DEFAULT 90,
            timezone TEXT NOT NULL DEFAULT '',
            reject_unpriced INTEGER NOT NULL DEFAULT 0,
            notify_clients INTEGER NOT NULL DEFAULT 0,
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS courts (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            name TEXT NOT NULL,
            is_active INTEGER NOT NULL DEFAULT 1,
            sort_order INTEGER NOT NULL DEFAULT 0,
            slot_duration INTEGER NOT NULL DEFAULT 0
        )`,
		`CREATE TABLE IF NOT EXISTS price_rules (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            name TEXT NOT NULL DEFAULT '',
            days_of_week TEXT NOT NULL DEFAULT '',
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            priority INTEGER NOT NULL DEFAULT 0,
            price TEXT NOT NULL,
            member_price TEXT,
            start_date TEXT,
            end_date TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS clients (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            name TEXT NOT NULL,
            phone TEXT NOT NULL,
            email TEXT NOT NULL DEFAULT '',
            membership_status TEXT NOT NULL DEFAULT 'NONE',
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            UNIQUE(tenant_id, phone)
        )`,
		`CREATE TABLE IF NOT EXISTS memberships (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            client_id INTEGER NOT NULL REFERENCES clients(id),
            plan_name TEXT NOT NULL,
            discount_percent TEXT NOT NULL DEFAULT '0',
            status TEXT NOT NULL,
            end_date TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS reservations (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            court_id INTEGER NOT NULL REFERENCES courts(id),
            client_id INTEGER NOT NULL REFERENCES clients(id),
            start_time TEXT NOT NULL,
            end_time TEXT NOT NULL,
            status TEXT NOT NULL,
            payment_status TEXT NOT NULL,
            payment_method TEXT,
            price TEXT NOT NULL,
            recurring_id TEXT,
            notes TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS cash_registers (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            date TEXT NOT NULL,
            status TEXT NOT NULL,
            start_amount TEXT NOT NULL,
            opened_at TEXT NOT NULL,
            closed_at TEXT,
            declared_cash TEXT,
            expected_cash TEXT,
            difference TEXT,
            digital_net TEXT,
            notes TEXT NOT NULL DEFAULT ''
        )`,
		`CREATE TABLE IF NOT EXISTS transactions (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            register_id INTEGER NOT NULL REFERENCES cash_registers(id),
            tenant_id INTEGER NOT NULL,
            type TEXT NOT NULL,
            category TEXT NOT NULL,
            method TEXT NOT NULL,
            amount TEXT NOT NULL,
            description TEXT NOT NULL DEFAULT '',
            reservation_id INTEGER REFERENCES reservations(id),
            client_id INTEGER,
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS participant_charges (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reservation_id INTEGER NOT NULL REFERENCES reservations(id),
            name TEXT NOT NULL,
            amount TEXT NOT NULL,
            is_paid INTEGER NOT NULL DEFAULT 0,
            payment_method TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL,
            updated_at TEXT NOT NULL,
            UNIQUE(reservation_id, name)
        )`,
		`CREATE TABLE IF NOT EXISTS products (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            name TEXT NOT NULL,
            price TEXT NOT NULL,
            stock INTEGER NOT NULL DEFAULT 0,
            is_active INTEGER NOT NULL DEFAULT 1
        )`,
		`CREATE TABLE IF NOT EXISTS line_items (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            reservation_id INTEGER NOT NULL REFERENCES reservations(id),
            product_id INTEGER REFERENCES products(id),
            quantity INTEGER NOT NULL,
            unit_price TEXT NOT NULL,
            player_name TEXT NOT NULL DEFAULT '',
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS waiting_list (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            tenant_id INTEGER NOT NULL REFERENCES tenants(id),
            court_id INTEGER,
            date TEXT NOT NULL,
            name TEXT NOT NULL,
            phone TEXT NOT NULL,
            notes TEXT NOT NULL DEFAULT '',
            status TEXT NOT NULL DEFAULT 'PENDING',
            created_at TEXT NOT NULL
        )`,
		`CREATE TABLE IF NOT EXISTS effect_queue (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            kind TEXT NOT NULL,
            tenant_id INTEGER NOT NULL,
            reservation_id INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL,
            status TEXT NOT NULL,
            retry_count INTEGER NOT NULL DEFAULT 0,
            last_error TEXT,
            created_at TEXT NOT NULL,
            processed_at TEXT,
            next_retry_at TEXT
        )`,
		`CREATE TABLE IF NOT EXISTS audit_log (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            event_type TEXT NOT NULL,
            tenant_id INTEGER NOT NULL,
            reservation_id INTEGER NOT NULL DEFAULT 0,
            payload TEXT NOT NULL,
            created_at TEXT NOT NULL
        )`,

		`CREATE INDEX IF NOT EXISTS idx_courts_tenant ON courts(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_price_rules_tenant ON price_rules(tenant_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_court_time ON reservations(court_id, start_time, end_time)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_tenant ON reservations(tenant_id, start_time)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_reservations_active_slot
            ON reservations(court_id, start_time) WHERE status <> 'CANCELED'`,
		`CREATE INDEX IF NOT EXISTS idx_registers_tenant_date ON cash_registers(tenant_id, date)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_registers_one_open
            ON cash_registers(tenant_id) WHERE status = 'OPEN'`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_register ON transactions(register_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transactions_reservation ON transactions(reservation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_line_items_reservation ON line_items(reservation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_waiting_list_date ON waiting_list(tenant_id, date, status)`,
		`CREATE INDEX IF NOT EXISTS idx_effect_queue_status ON effect_queue(status, next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

// ensureColumns adds columns introduced after the first schema version.
func (db *DB) ensureColumns() error {
	columns := []struct{ table, column, definition string }{
		{"reservations", "version", "INTEGER NOT NULL DEFAULT 1"},
	}
	for _, c := range columns {
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, c.definition)
		if _, err := db.Exec(query); err != nil {
			if strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("failed to add %s.%s: %w", c.table, c.column, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.ParseInLocation(timeLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse time %q: %w", s, err)
	}
	return t, nil
}

func formatNullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func formatNullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.Format(dateLayout), Valid: true}
}

func parseNullDate(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(dateLayout, s.String, time.UTC)
	if err != nil {
		return nil, fmt.Errorf("failed to parse date %q: %w", s.String, err)
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}
