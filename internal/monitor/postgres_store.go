package monitor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver

	"github.com/mbd888/sentinel/internal/retry"
)

// PostgresStore persists alerts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed alert store over an existing
// connection.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore dials the database and returns a ready store. The
// initial ping is retried briefly so the server survives a database that
// is still starting up.
func OpenPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err = retry.Do(ctx, 3, 250*time.Millisecond, func() error {
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		defer pingCancel()
		return db.PingContext(pingCtx)
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the underlying handle for connection-stats gauges.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) SaveAlert(ctx context.Context, a Alert) error {
	var details []byte
	if a.Details != nil {
		var err error
		details, err = json.Marshal(a.Details)
		if err != nil {
			return fmt.Errorf("marshal alert details: %w", err)
		}
	}

	_, err := p.db.ExecContext(ctx, `
		INSERT INTO alert_history (id, service, severity, message, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, a.ID, a.Service, string(a.Severity), a.Message, details, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit of the most recent alerts, newest first.
func (p *PostgresStore) RecentAlerts(ctx context.Context, limit int) ([]Alert, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, service, severity, message, details, created_at
		FROM alert_history
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Alert
	for rows.Next() {
		var a Alert
		var sev string
		var details []byte
		if err := rows.Scan(&a.ID, &a.Service, &sev, &a.Message, &details, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Severity = Severity(sev)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, fmt.Errorf("unmarshal details for %s: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Close() error { return p.db.Close() }
