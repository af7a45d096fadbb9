package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"vigil/core"
)

// SQLiteStore implements Store backed by a single SQLite database file.
// Records are stored as JSON documents alongside the columns the query
// paths filter on, so schema stays stable as record shapes grow.
type SQLiteStore struct {
	db     *sql.DB
	path   string
	logger *zap.SugaredLogger
}

// OpenSQLite opens (creating if needed) the database at path and ensures
// all tables exist. The parent directory is created when missing.
func OpenSQLite(path string, logger *zap.SugaredLogger) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// WAL for concurrent readers with the single writer, busy_timeout so
	// writers queue instead of failing with SQLITE_BUSY.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db, path: path, logger: logger}
	if err := store.ensureTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure tables: %w", err)
	}

	logger.Infow("SQLite store opened", "path", path)
	return store, nil
}

// Close closes the underlying database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS security_events (
		id TEXT PRIMARY KEY,
		severity TEXT NOT NULL CHECK(severity IN ('info','low','medium','high','critical')),
		event_type TEXT NOT NULL,
		ip_address TEXT DEFAULT '',
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_created_at ON security_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_events_ip ON security_events(ip_address);
	CREATE INDEX IF NOT EXISTS idx_events_type ON security_events(event_type);

	CREATE TABLE IF NOT EXISTS endpoints (
		id TEXT PRIMARY KEY,
		hostname TEXT NOT NULL,
		last_ip TEXT DEFAULT '',
		security_posture TEXT NOT NULL CHECK(security_posture IN ('normal','at_risk','compromised')),
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_endpoints_last_ip ON endpoints(last_ip);

	CREATE TABLE IF NOT EXISTS endpoint_events (
		id TEXT PRIMARY KEY,
		endpoint_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_endpoint_events_ts ON endpoint_events(timestamp);
	CREATE INDEX IF NOT EXISTS idx_endpoint_events_endpoint ON endpoint_events(endpoint_id);

	CREATE TABLE IF NOT EXISTS blocked_ips (
		id TEXT PRIMARY KEY,
		ip_address TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_blocked_ips_ip ON blocked_ips(ip_address, active);

	CREATE TABLE IF NOT EXISTS triage_rules (
		id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 50,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS response_rules (
		id TEXT PRIMARY KEY,
		enabled INTEGER NOT NULL DEFAULT 1,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS incidents (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_incidents_event ON incidents(event_id);

	CREATE TABLE IF NOT EXISTS threat_hunts (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK(status IN ('active','paused','archived')),
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS hunt_findings (
		id TEXT PRIMARY KEY,
		hunt_id TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_findings_hunt ON hunt_findings(hunt_id);

	CREATE TABLE IF NOT EXISTS investigations (
		id TEXT PRIMARY KEY,
		updated_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY,
		created_at DATETIME NOT NULL,
		data TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

func marshalRecord(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal record: %w", err)
	}
	return string(raw), nil
}

// --- EventStorage ---

func (s *SQLiteStore) CreateEvent(ctx context.Context, event *core.SecurityEvent) error {
	data, err := marshalRecord(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO security_events (id, severity, event_type, ip_address, created_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, string(event.Severity), event.EventType, event.IPAddress, event.CreatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEvent(ctx context.Context, id string) (*core.SecurityEvent, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM security_events WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrEventNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query event: %w", err)
	}
	var event core.SecurityEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to decode event %s: %w", id, err)
	}
	return &event, nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, filters *core.EventFilters) ([]*core.SecurityEvent, error) {
	query := `SELECT data FROM security_events`
	var conds []string
	var args []interface{}

	if filters != nil {
		if len(filters.Severities) > 0 {
			placeholders := make([]string, len(filters.Severities))
			for i, sev := range filters.Severities {
				placeholders[i] = "?"
				args = append(args, string(sev))
			}
			conds = append(conds, "severity IN ("+strings.Join(placeholders, ",")+")")
		}
		if len(filters.EventTypes) > 0 {
			placeholders := make([]string, len(filters.EventTypes))
			for i, t := range filters.EventTypes {
				placeholders[i] = "?"
				args = append(args, t)
			}
			conds = append(conds, "event_type IN ("+strings.Join(placeholders, ",")+")")
		}
		if filters.IPAddress != "" {
			conds = append(conds, "ip_address = ?")
			args = append(args, filters.IPAddress)
		}
		if filters.Since != nil {
			conds = append(conds, "created_at >= ?")
			args = append(args, filters.Since.UTC())
		}
		if filters.Until != nil {
			conds = append(conds, "created_at <= ?")
			args = append(args, filters.Until.UTC())
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filters != nil && filters.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filters.Limit)
		if filters.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filters.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []*core.SecurityEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		var event core.SecurityEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Warnw("Skipping undecodable event row", "error", err)
			continue
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) CountRecentByIP(ctx context.Context, ip string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM security_events WHERE ip_address = ? AND created_at >= ?`,
		ip, since.UTC()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count events by ip: %w", err)
	}
	return count, nil
}

// --- EndpointStorage ---

func (s *SQLiteStore) CreateEndpoint(ctx context.Context, endpoint *core.Endpoint) error {
	data, err := marshalRecord(endpoint)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoints (id, hostname, last_ip, security_posture, updated_at, data)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		endpoint.ID, endpoint.Hostname, endpoint.LastIP, string(endpoint.SecurityPosture),
		endpoint.UpdatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert endpoint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetEndpoint(ctx context.Context, id string) (*core.Endpoint, error) {
	return s.scanEndpoint(s.db.QueryRowContext(ctx, `SELECT data FROM endpoints WHERE id = ?`, id))
}

func (s *SQLiteStore) FindEndpointByIP(ctx context.Context, ip string) (*core.Endpoint, error) {
	return s.scanEndpoint(s.db.QueryRowContext(ctx,
		`SELECT data FROM endpoints WHERE last_ip = ? ORDER BY updated_at DESC LIMIT 1`, ip))
}

func (s *SQLiteStore) scanEndpoint(row *sql.Row) (*core.Endpoint, error) {
	var data string
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrEndpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint: %w", err)
	}
	var endpoint core.Endpoint
	if err := json.Unmarshal([]byte(data), &endpoint); err != nil {
		return nil, fmt.Errorf("failed to decode endpoint: %w", err)
	}
	return &endpoint, nil
}

func (s *SQLiteStore) ListEndpoints(ctx context.Context, limit int) ([]*core.Endpoint, error) {
	query := `SELECT data FROM endpoints ORDER BY hostname`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}
	defer rows.Close()

	var result []*core.Endpoint
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint row: %w", err)
		}
		var endpoint core.Endpoint
		if err := json.Unmarshal([]byte(data), &endpoint); err != nil {
			s.logger.Warnw("Skipping undecodable endpoint row", "error", err)
			continue
		}
		result = append(result, &endpoint)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateEndpoint(ctx context.Context, endpoint *core.Endpoint) error {
	endpoint.UpdatedAt = time.Now().UTC()
	data, err := marshalRecord(endpoint)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE endpoints SET hostname = ?, last_ip = ?, security_posture = ?, updated_at = ?, data = ?
		 WHERE id = ?`,
		endpoint.Hostname, endpoint.LastIP, string(endpoint.SecurityPosture),
		endpoint.UpdatedAt, data, endpoint.ID)
	if err != nil {
		return fmt.Errorf("failed to update endpoint: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrEndpointNotFound
	}
	return nil
}

// --- EndpointEventStorage ---

func (s *SQLiteStore) CreateEndpointEvent(ctx context.Context, event *core.EndpointEvent) error {
	data, err := marshalRecord(event)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO endpoint_events (id, endpoint_id, timestamp, data) VALUES (?, ?, ?, ?)`,
		event.ID, event.EndpointID, event.Timestamp.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert endpoint event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEndpointEvents(ctx context.Context, since time.Time, limit int) ([]*core.EndpointEvent, error) {
	query := `SELECT data FROM endpoint_events WHERE timestamp >= ? ORDER BY timestamp DESC`
	args := []interface{}{since.UTC()}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoint events: %w", err)
	}
	defer rows.Close()

	var result []*core.EndpointEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan endpoint event row: %w", err)
		}
		var event core.EndpointEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			s.logger.Warnw("Skipping undecodable endpoint event row", "error", err)
			continue
		}
		result = append(result, &event)
	}
	return result, rows.Err()
}

// --- BlockedIPStorage ---

func (s *SQLiteStore) CreateBlockedIP(ctx context.Context, block *core.BlockedIP) error {
	data, err := marshalRecord(block)
	if err != nil {
		return err
	}
	active := 0
	if block.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO blocked_ips (id, ip_address, active, created_at, data) VALUES (?, ?, ?, ?, ?)`,
		block.ID, block.IPAddress, active, block.CreatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert blocked ip: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindActiveBlock(ctx context.Context, ip string) (*core.BlockedIP, error) {
	// blocked_until lives inside the JSON payload, so expiry is checked
	// after decoding rather than in the query
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM blocked_ips WHERE ip_address = ? AND active = 1 ORDER BY created_at DESC`,
		ip)
	if err != nil {
		return nil, fmt.Errorf("failed to query active block: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip: %w", err)
		}
		var block core.BlockedIP
		if err := json.Unmarshal([]byte(data), &block); err != nil {
			return nil, fmt.Errorf("failed to decode blocked ip: %w", err)
		}
		if !block.IsExpired() {
			return &block, nil
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to query active block: %w", err)
	}
	return nil, ErrBlockNotFound
}

func (s *SQLiteStore) ListBlockedIPs(ctx context.Context, activeOnly bool, limit int) ([]*core.BlockedIP, error) {
	query := `SELECT data FROM blocked_ips`
	var args []interface{}
	if activeOnly {
		query += " WHERE active = 1"
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query blocked ips: %w", err)
	}
	defer rows.Close()

	var result []*core.BlockedIP
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan blocked ip row: %w", err)
		}
		var block core.BlockedIP
		if err := json.Unmarshal([]byte(data), &block); err != nil {
			s.logger.Warnw("Skipping undecodable blocked ip row", "error", err)
			continue
		}
		result = append(result, &block)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateBlockedIP(ctx context.Context, block *core.BlockedIP) error {
	data, err := marshalRecord(block)
	if err != nil {
		return err
	}
	active := 0
	if block.Active {
		active = 1
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE blocked_ips SET ip_address = ?, active = ?, data = ? WHERE id = ?`,
		block.IPAddress, active, data, block.ID)
	if err != nil {
		return fmt.Errorf("failed to update blocked ip: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrBlockNotFound
	}
	return nil
}

// --- TriageRuleStorage ---

// SaveTriageRule inserts or replaces a triage rule
func (s *SQLiteStore) SaveTriageRule(ctx context.Context, rule *core.TriageRule) error {
	data, err := marshalRecord(rule)
	if err != nil {
		return err
	}
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO triage_rules (id, enabled, priority, data) VALUES (?, ?, ?, ?)`,
		rule.ID, enabled, rule.EffectivePriority(), data)
	if err != nil {
		return fmt.Errorf("failed to save triage rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTriageRule(ctx context.Context, id string) (*core.TriageRule, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM triage_rules WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query triage rule: %w", err)
	}
	var rule core.TriageRule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, fmt.Errorf("failed to decode triage rule: %w", err)
	}
	return &rule, nil
}

func (s *SQLiteStore) ListEnabledTriageRules(ctx context.Context) ([]*core.TriageRule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM triage_rules WHERE enabled = 1 ORDER BY priority ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query triage rules: %w", err)
	}
	defer rows.Close()

	var result []*core.TriageRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan triage rule row: %w", err)
		}
		var rule core.TriageRule
		if err := json.Unmarshal([]byte(data), &rule); err != nil {
			s.logger.Warnw("Skipping undecodable triage rule row", "error", err)
			continue
		}
		result = append(result, &rule)
	}
	return result, rows.Err()
}

// --- ResponseRuleStorage ---

// SaveResponseRule inserts or replaces an auto-response rule
func (s *SQLiteStore) SaveResponseRule(ctx context.Context, rule *core.AutoResponseRule) error {
	data, err := marshalRecord(rule)
	if err != nil {
		return err
	}
	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO response_rules (id, enabled, data) VALUES (?, ?, ?)`,
		rule.ID, enabled, data)
	if err != nil {
		return fmt.Errorf("failed to save response rule: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetResponseRule(ctx context.Context, id string) (*core.AutoResponseRule, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM response_rules WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query response rule: %w", err)
	}
	var rule core.AutoResponseRule
	if err := json.Unmarshal([]byte(data), &rule); err != nil {
		return nil, fmt.Errorf("failed to decode response rule: %w", err)
	}
	return &rule, nil
}

func (s *SQLiteStore) ListEnabledResponseRules(ctx context.Context) ([]*core.AutoResponseRule, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT data FROM response_rules WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("failed to query response rules: %w", err)
	}
	defer rows.Close()

	var result []*core.AutoResponseRule
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan response rule row: %w", err)
		}
		var rule core.AutoResponseRule
		if err := json.Unmarshal([]byte(data), &rule); err != nil {
			s.logger.Warnw("Skipping undecodable response rule row", "error", err)
			continue
		}
		result = append(result, &rule)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) UpdateLastTriggered(ctx context.Context, id string, triggeredAt time.Time) error {
	rule, err := s.GetResponseRule(ctx, id)
	if err != nil {
		return err
	}
	ts := triggeredAt.UTC()
	rule.LastTriggered = &ts
	rule.UpdatedAt = time.Now().UTC()
	return s.SaveResponseRule(ctx, rule)
}

// --- IncidentStorage ---

func (s *SQLiteStore) CreateIncident(ctx context.Context, incident *core.TriagedIncident) error {
	data, err := marshalRecord(incident)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO incidents (id, event_id, created_at, data) VALUES (?, ?, ?, ?)`,
		incident.ID, incident.EventID, incident.CreatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert incident: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIncidentByEventID(ctx context.Context, eventID string) (*core.TriagedIncident, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM incidents WHERE event_id = ? ORDER BY created_at ASC LIMIT 1`,
		eventID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrIncidentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query incident: %w", err)
	}
	var incident core.TriagedIncident
	if err := json.Unmarshal([]byte(data), &incident); err != nil {
		return nil, fmt.Errorf("failed to decode incident: %w", err)
	}
	return &incident, nil
}

func (s *SQLiteStore) ListIncidents(ctx context.Context, limit int) ([]*core.TriagedIncident, error) {
	query := `SELECT data FROM incidents ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var result []*core.TriagedIncident
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan incident row: %w", err)
		}
		var incident core.TriagedIncident
		if err := json.Unmarshal([]byte(data), &incident); err != nil {
			s.logger.Warnw("Skipping undecodable incident row", "error", err)
			continue
		}
		result = append(result, &incident)
	}
	return result, rows.Err()
}

// --- HuntStorage ---

func (s *SQLiteStore) CreateHunt(ctx context.Context, hunt *core.ThreatHunt) error {
	data, err := marshalRecord(hunt)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO threat_hunts (id, status, data) VALUES (?, ?, ?)`,
		hunt.ID, string(hunt.Status), data)
	if err != nil {
		return fmt.Errorf("failed to save hunt: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetHunt(ctx context.Context, id string) (*core.ThreatHunt, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM threat_hunts WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrHuntNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query hunt: %w", err)
	}
	var hunt core.ThreatHunt
	if err := json.Unmarshal([]byte(data), &hunt); err != nil {
		return nil, fmt.Errorf("failed to decode hunt: %w", err)
	}
	return &hunt, nil
}

func (s *SQLiteStore) UpdateHuntLastRun(ctx context.Context, id string, ranAt time.Time) error {
	hunt, err := s.GetHunt(ctx, id)
	if err != nil {
		return err
	}
	ts := ranAt.UTC()
	hunt.LastRunAt = &ts
	hunt.UpdatedAt = time.Now().UTC()
	return s.CreateHunt(ctx, hunt)
}

func (s *SQLiteStore) CreateFinding(ctx context.Context, finding *core.HuntFinding) error {
	data, err := marshalRecord(finding)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO hunt_findings (id, hunt_id, created_at, data) VALUES (?, ?, ?, ?)`,
		finding.ID, finding.HuntID, finding.CreatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert finding: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListFindings(ctx context.Context, huntID string, limit int) ([]*core.HuntFinding, error) {
	query := `SELECT data FROM hunt_findings`
	var args []interface{}
	if huntID != "" {
		query += " WHERE hunt_id = ?"
		args = append(args, huntID)
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query findings: %w", err)
	}
	defer rows.Close()

	var result []*core.HuntFinding
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan finding row: %w", err)
		}
		var finding core.HuntFinding
		if err := json.Unmarshal([]byte(data), &finding); err != nil {
			s.logger.Warnw("Skipping undecodable finding row", "error", err)
			continue
		}
		result = append(result, &finding)
	}
	return result, rows.Err()
}

// --- InvestigationStorage ---

func (s *SQLiteStore) CreateInvestigation(ctx context.Context, inv *core.ActiveInvestigation) error {
	data, err := marshalRecord(inv)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO investigations (id, updated_at, data) VALUES (?, ?, ?)`,
		inv.ID, inv.UpdatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert investigation: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetInvestigation(ctx context.Context, id string) (*core.ActiveInvestigation, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM investigations WHERE id = ?`, id).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, ErrInvestigationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query investigation: %w", err)
	}
	var inv core.ActiveInvestigation
	if err := json.Unmarshal([]byte(data), &inv); err != nil {
		return nil, fmt.Errorf("failed to decode investigation: %w", err)
	}
	return &inv, nil
}

func (s *SQLiteStore) UpdateInvestigation(ctx context.Context, inv *core.ActiveInvestigation) error {
	data, err := marshalRecord(inv)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE investigations SET updated_at = ?, data = ? WHERE id = ?`,
		inv.UpdatedAt.UTC(), data, inv.ID)
	if err != nil {
		return fmt.Errorf("failed to update investigation: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrInvestigationNotFound
	}
	return nil
}

// --- NotificationStorage ---

func (s *SQLiteStore) CreateNotification(ctx context.Context, n *core.Notification) error {
	data, err := marshalRecord(n)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, created_at, data) VALUES (?, ?, ?)`,
		n.ID, n.CreatedAt.UTC(), data)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListNotifications(ctx context.Context, limit int) ([]*core.Notification, error) {
	query := `SELECT data FROM notifications ORDER BY created_at DESC`
	var args []interface{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notifications: %w", err)
	}
	defer rows.Close()

	var result []*core.Notification
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan notification row: %w", err)
		}
		var n core.Notification
		if err := json.Unmarshal([]byte(data), &n); err != nil {
			s.logger.Warnw("Skipping undecodable notification row", "error", err)
			continue
		}
		result = append(result, &n)
	}
	return result, rows.Err()
}
