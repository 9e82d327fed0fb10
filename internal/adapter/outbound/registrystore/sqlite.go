package registrystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agent-door/agentdoor/internal/domain/registry"
	"github.com/agent-door/agentdoor/internal/domain/tenant"
)

// SQLiteStore is a Registry backend for deployments that point at a
// database file instead of a plain data directory. It opens the database
// in WAL mode through a single pooled connection, so reads and writes are
// served one at a time.
type SQLiteStore struct {
	db *sql.DB
}

var _ registry.Registry = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if necessary) the sqlite database at path
// and ensures the registrations table and WAL mode are in place.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registrystore: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers; avoid pool contention on a single file.

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("registrystore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		db.Close()
		return nil, fmt.Errorf("registrystore: enable foreign keys: %w", err)
	}

	const schema = `
CREATE TABLE IF NOT EXISTS registrations (
	slug         TEXT PRIMARY KEY,
	site_name    TEXT NOT NULL,
	site_url     TEXT NOT NULL,
	api_url      TEXT NOT NULL,
	openapi_url  TEXT NOT NULL,
	rate_limit   INTEGER NOT NULL,
	spec_json    BLOB NOT NULL,
	created_at   TEXT NOT NULL,
	seq          INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS registration_seq (
	id   INTEGER PRIMARY KEY CHECK (id = 1),
	next INTEGER NOT NULL
);
INSERT OR IGNORE INTO registration_seq (id, next) VALUES (1, 0);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("registrystore: migrate schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Register inserts or replaces the registration for reg.Slug.
func (s *SQLiteStore) Register(ctx context.Context, reg tenant.SiteRegistration, specJSON json.RawMessage) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("registrystore: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var seq int64
	if err := tx.QueryRowContext(ctx, `SELECT next FROM registration_seq WHERE id = 1`).Scan(&seq); err != nil {
		return fmt.Errorf("registrystore: read seq: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE registration_seq SET next = ? WHERE id = 1`, seq+1); err != nil {
		return fmt.Errorf("registrystore: advance seq: %w", err)
	}

	createdAt := reg.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	// Fixed-width fractional seconds in UTC keep the stored text in
	// chronological order, which ORDER BY created_at relies on.
	const sortableTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

	_, err = tx.ExecContext(ctx, `
		INSERT INTO registrations (slug, site_name, site_url, api_url, openapi_url, rate_limit, spec_json, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(slug) DO UPDATE SET
			site_name = excluded.site_name,
			site_url = excluded.site_url,
			api_url = excluded.api_url,
			openapi_url = excluded.openapi_url,
			rate_limit = excluded.rate_limit,
			spec_json = excluded.spec_json,
			created_at = excluded.created_at,
			seq = excluded.seq
	`, reg.Slug, reg.SiteName, reg.SiteURL, reg.APIURL, reg.OpenAPIURL, reg.RateLimit, []byte(specJSON), createdAt.UTC().Format(sortableTimeLayout), seq)
	if err != nil {
		return fmt.Errorf("registrystore: insert registration: %w", err)
	}

	return tx.Commit()
}

// Get returns the registration for slug.
func (s *SQLiteStore) Get(ctx context.Context, slug string) (tenant.SiteRegistration, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT slug, site_name, site_url, api_url, openapi_url, rate_limit, created_at
		FROM registrations WHERE slug = ?`, slug)
	return scanRegistration(row)
}

// List returns all registrations ordered by created_at ascending, ties
// broken by insertion sequence.
func (s *SQLiteStore) List(ctx context.Context) ([]tenant.SiteRegistration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, site_name, site_url, api_url, openapi_url, rate_limit, created_at
		FROM registrations ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("registrystore: list: %w", err)
	}
	defer rows.Close()

	var out []tenant.SiteRegistration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reg)
	}
	return out, rows.Err()
}

// ListWithSpecs returns all registrations plus their spec payload, in the
// same order as List.
func (s *SQLiteStore) ListWithSpecs(ctx context.Context) ([]tenant.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT slug, site_name, site_url, api_url, openapi_url, rate_limit, created_at, spec_json
		FROM registrations ORDER BY created_at ASC, seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("registrystore: list with specs: %w", err)
	}
	defer rows.Close()

	var out []tenant.Record
	for rows.Next() {
		var reg tenant.SiteRegistration
		var createdAt string
		var spec []byte
		if err := rows.Scan(&reg.Slug, &reg.SiteName, &reg.SiteURL, &reg.APIURL, &reg.OpenAPIURL, &reg.RateLimit, &createdAt, &spec); err != nil {
			return nil, fmt.Errorf("registrystore: scan record: %w", err)
		}
		reg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, tenant.Record{Registration: reg, SpecJSON: json.RawMessage(spec)})
	}
	return out, rows.Err()
}

// Delete removes slug's registration.
func (s *SQLiteStore) Delete(ctx context.Context, slug string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM registrations WHERE slug = ?`, slug)
	if err != nil {
		return false, fmt.Errorf("registrystore: delete: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("registrystore: rows affected: %w", err)
	}
	return n > 0, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRegistration(row scanner) (tenant.SiteRegistration, error) {
	var reg tenant.SiteRegistration
	var createdAt string
	if err := row.Scan(&reg.Slug, &reg.SiteName, &reg.SiteURL, &reg.APIURL, &reg.OpenAPIURL, &reg.RateLimit, &createdAt); err != nil {
		if err == sql.ErrNoRows {
			return tenant.SiteRegistration{}, registry.ErrNotFound
		}
		return tenant.SiteRegistration{}, fmt.Errorf("registrystore: scan registration: %w", err)
	}
	reg.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return reg, nil
}
