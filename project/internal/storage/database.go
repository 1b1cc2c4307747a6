package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aarushishahhh/supplysync/project/internal/models"
	"github.com/aarushishahhh/supplysync/project/internal/schedule"
)

var ErrNotFound = errors.New("not found")

type Storage struct {
	db     *sql.DB
	driver string
	newID  func() string
}

func New(db *sql.DB, driver string) *Storage {
	return &Storage{
		db:     db,
		driver: driver,
		newID: func() string {
			return "conn_" + uuid.Must(uuid.NewV7()).String()
		},
	}
}

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		shop TEXT NOT NULL,
		name TEXT NOT NULL,
		api_url TEXT NOT NULL,
		canonical_url TEXT NOT NULL,
		access_token TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		UNIQUE (shop, canonical_url)
	);

	CREATE TABLE IF NOT EXISTS probe_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		connection_id TEXT NOT NULL REFERENCES connections(id),
		checked_at TIMESTAMP NOT NULL,
		status_code INTEGER,
		latency_ms INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		shop TEXT NOT NULL,
		key TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		PRIMARY KEY (shop, key)
	);

	CREATE INDEX IF NOT EXISTS idx_probe_results_connection_checked
		ON probe_results(connection_id, checked_at DESC);
	CREATE INDEX IF NOT EXISTS idx_connections_shop_created
		ON connections(shop, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_idempotency_created
		ON idempotency_keys(created_at);
	`

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS connections (
		id TEXT PRIMARY KEY,
		shop TEXT NOT NULL,
		name TEXT NOT NULL,
		api_url TEXT NOT NULL,
		canonical_url TEXT NOT NULL,
		access_token TEXT NOT NULL,
		schedule TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		UNIQUE (shop, canonical_url)
	);

	CREATE TABLE IF NOT EXISTS probe_results (
		id BIGSERIAL PRIMARY KEY,
		connection_id TEXT NOT NULL REFERENCES connections(id) ON DELETE CASCADE,
		checked_at TIMESTAMPTZ NOT NULL,
		status_code INTEGER,
		latency_ms INTEGER NOT NULL,
		success BOOLEAN NOT NULL,
		error TEXT
	);

	CREATE TABLE IF NOT EXISTS idempotency_keys (
		shop TEXT NOT NULL,
		key TEXT NOT NULL,
		connection_id TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (shop, key)
	);

	CREATE INDEX IF NOT EXISTS idx_probe_results_connection_checked
		ON probe_results(connection_id, checked_at DESC);
	CREATE INDEX IF NOT EXISTS idx_connections_shop_created
		ON connections(shop, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_idempotency_created
		ON idempotency_keys(created_at);
	`

func (s *Storage) Migrate() error {
	schema := sqliteSchema
	if s.driver == DriverPostgres {
		schema = postgresSchema
	}
	_, err := s.db.Exec(schema)
	return err
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Storage) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const connectionColumns = `c.id, c.shop, c.name, c.api_url, c.canonical_url, c.access_token, c.schedule, c.created_at, c.updated_at,
	p.checked_at, p.status_code, p.latency_ms, p.success, p.error`

const connectionFrom = ` FROM connections c
	LEFT JOIN probe_results p ON p.id = (
		SELECT id FROM probe_results WHERE connection_id = c.id ORDER BY checked_at DESC, id DESC LIMIT 1
	)`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanConnection decodes one connection row. The schedule column is decoded
// here and nowhere else.
func scanConnection(row rowScanner) (*models.Connection, error) {
	var conn models.Connection
	var rawSchedule string
	var checkedAt sql.NullTime
	var statusCode, latencyMs sql.NullInt64
	var success sql.NullBool
	var probeErr sql.NullString

	if err := row.Scan(
		&conn.ID, &conn.Shop, &conn.Name, &conn.APIURL, &conn.CanonicalURL, &conn.AccessToken,
		&rawSchedule, &conn.CreatedAt, &conn.UpdatedAt,
		&checkedAt, &statusCode, &latencyMs, &success, &probeErr,
	); err != nil {
		return nil, err
	}

	cfg, err := schedule.Decode(rawSchedule)
	if err != nil {
		slog.Warn("ignoring unreadable schedule", "connection_id", conn.ID, "error", err)
	}
	conn.Schedule = cfg

	if checkedAt.Valid {
		rec := &models.ProbeRecord{
			CheckedAt: checkedAt.Time,
			LatencyMs: int(latencyMs.Int64),
			Success:   success.Bool,
		}
		if statusCode.Valid {
			code := int(statusCode.Int64)
			rec.StatusCode = &code
		}
		if probeErr.Valid {
			rec.Error = &probeErr.String
		}
		conn.LastProbe = rec
	}

	return &conn, nil
}

// CreateConnection stores a connection for shop. A connection with the same
// canonical URL in the same shop, or a replayed idempotency key, returns
// the existing record with isNew false.
func (s *Storage) CreateConnection(shop string, req models.CreateConnectionRequest, canonicalURL string, idempotencyKey *string) (*models.Connection, bool, error) {
	connectionID := s.newID()
	now := time.Now().UTC()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	// Check for existing connection by canonical URL
	var existingID string
	err = tx.QueryRow(s.rebind("SELECT id FROM connections WHERE shop = ? AND canonical_url = ?"), shop, canonicalURL).
		Scan(&existingID)

	if err == nil {
		if idempotencyKey != nil {
			_, err = tx.Exec(s.rebind("INSERT INTO idempotency_keys (shop, key, connection_id, created_at) VALUES (?, ?, ?, ?) ON CONFLICT DO NOTHING"),
				shop, *idempotencyKey, existingID, now)
			if err != nil {
				return nil, false, err
			}
		}
		if err := tx.Commit(); err != nil {
			return nil, false, err
		}
		existing, err := s.GetConnection(shop, existingID)
		return existing, false, err
	}

	if err != sql.ErrNoRows {
		return nil, false, err
	}

	if idempotencyKey != nil {
		err = tx.QueryRow(s.rebind("SELECT connection_id FROM idempotency_keys WHERE shop = ? AND key = ?"), shop, *idempotencyKey).
			Scan(&existingID)

		if err == nil {
			if err := tx.Commit(); err != nil {
				return nil, false, err
			}
			existing, err := s.GetConnection(shop, existingID)
			return existing, false, err
		}

		if err != sql.ErrNoRows {
			return nil, false, err
		}
	}

	_, err = tx.Exec(s.rebind(`INSERT INTO connections (id, shop, name, api_url, canonical_url, access_token, schedule, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, '', ?, ?)`),
		connectionID, shop, req.Name, req.APIURL, canonicalURL, req.AccessToken, now, now)
	if err != nil {
		return nil, false, err
	}

	if idempotencyKey != nil {
		_, err = tx.Exec(s.rebind("INSERT INTO idempotency_keys (shop, key, connection_id, created_at) VALUES (?, ?, ?, ?)"),
			shop, *idempotencyKey, connectionID, now)
		if err != nil {
			return nil, false, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, false, err
	}

	return &models.Connection{
		ID:           connectionID,
		Shop:         shop,
		Name:         req.Name,
		APIURL:       req.APIURL,
		CanonicalURL: canonicalURL,
		AccessToken:  req.AccessToken,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, true, nil
}

func (s *Storage) GetConnection(shop, id string) (*models.Connection, error) {
	row := s.db.QueryRow(s.rebind("SELECT "+connectionColumns+connectionFrom+" WHERE c.shop = ? AND c.id = ?"), shop, id)
	conn, err := scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return conn, err
}

func (s *Storage) ListConnections(shop string) ([]models.Connection, error) {
	return s.queryConnections("SELECT "+connectionColumns+connectionFrom+" WHERE c.shop = ? ORDER BY c.created_at, c.id", shop)
}

// GetAllConnections returns every connection of every shop.
func (s *Storage) GetAllConnections() ([]models.Connection, error) {
	return s.queryConnections("SELECT " + connectionColumns + connectionFrom + " ORDER BY c.created_at, c.id")
}

func (s *Storage) queryConnections(query string, args ...any) ([]models.Connection, error) {
	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	connections := []models.Connection{}
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		connections = append(connections, *conn)
	}

	return connections, rows.Err()
}

func (s *Storage) DeleteConnection(shop, id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(s.rebind("DELETE FROM connections WHERE shop = ? AND id = ?"), shop, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(s.rebind("DELETE FROM probe_results WHERE connection_id = ?"), id); err != nil {
		return err
	}
	if _, err := tx.Exec(s.rebind("DELETE FROM idempotency_keys WHERE shop = ? AND connection_id = ?"), shop, id); err != nil {
		return err
	}

	return tx.Commit()
}

// UpdateSchedule replaces the schedule of a connection. A nil config clears it.
func (s *Storage) UpdateSchedule(shop, id string, cfg *schedule.Config) (*models.Connection, error) {
	raw, err := schedule.Encode(cfg)
	if err != nil {
		return nil, err
	}

	res, err := s.db.Exec(s.rebind("UPDATE connections SET schedule = ?, updated_at = ? WHERE shop = ? AND id = ?"),
		raw, time.Now().UTC(), shop, id)
	if err != nil {
		return nil, err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return s.GetConnection(shop, id)
}

func (s *Storage) SaveProbeResult(connectionID string, result models.ProbeRecord) error {
	_, err := s.db.Exec(s.rebind(
		"INSERT INTO probe_results (connection_id, checked_at, status_code, latency_ms, success, error) VALUES (?, ?, ?, ?, ?, ?)"),
		connectionID, result.CheckedAt, result.StatusCode, result.LatencyMs, result.Success, result.Error,
	)
	return err
}

func (s *Storage) GetProbeResults(connectionID string, since *time.Time, limit int) (*models.ProbeRecordList, error) {
	query := "SELECT checked_at, status_code, latency_ms, success, error FROM probe_results WHERE connection_id = ?"
	args := []any{connectionID}

	if since != nil {
		query += " AND checked_at >= ?"
		args = append(args, *since)
	}

	query += " ORDER BY checked_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.Query(s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.ProbeRecord{}
	for rows.Next() {
		var result models.ProbeRecord
		var errorStr sql.NullString

		if err := rows.Scan(&result.CheckedAt, &result.StatusCode, &result.LatencyMs, &result.Success, &errorStr); err != nil {
			return nil, err
		}

		if errorStr.Valid {
			result.Error = &errorStr.String
		}

		results = append(results, result)
	}

	return &models.ProbeRecordList{Success: true, Items: results}, rows.Err()
}

func (s *Storage) CleanupOldIdempotencyKeys(olderThan time.Time) error {
	_, err := s.db.Exec(s.rebind("DELETE FROM idempotency_keys WHERE created_at < ?"), olderThan)
	return err
}

// CanonicalizeURL converts a URL to its canonical form
func CanonicalizeURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("missing scheme")
	}
	if parsed.Host == "" {
		return "", fmt.Errorf("missing host")
	}

	// Lowercase scheme and host
	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)

	// Remove default ports
	switch parsed.Scheme {
	case "http":
		parsed.Host = strings.TrimSuffix(parsed.Host, ":80")
	case "https":
		parsed.Host = strings.TrimSuffix(parsed.Host, ":443")
	}

	parsed.Fragment = ""

	// Normalize path - remove trailing slash unless it's root
	if parsed.Path != "/" && strings.HasSuffix(parsed.Path, "/") {
		parsed.Path = strings.TrimSuffix(parsed.Path, "/")
	}
	if parsed.Path == "/" {
		parsed.Path = ""
	}

	return parsed.String(), nil
}
