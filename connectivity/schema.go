package connectivity

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/goccy/go-json"
)

// Schema defines the routes table. Each row maps a service name to a
// strategy: "local", "noop", or the name of a registered transport factory
// ("http"). The config column holds per-route JSON: timeout_ms, max_retries,
// backoff_ms, breaker_threshold, plus transport settings.
const Schema = `
CREATE TABLE IF NOT EXISTS routes (
    service_name TEXT PRIMARY KEY,
    strategy     TEXT NOT NULL,
    endpoint     TEXT,
    config       TEXT DEFAULT '{}',
    updated_at   INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// Init creates the routes table if it doesn't exist.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

// LoadRoutes reads every row of the routes table.
func LoadRoutes(ctx context.Context, db *sql.DB) ([]Route, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT service_name, strategy, COALESCE(endpoint, ''), COALESCE(config, '{}') FROM routes ORDER BY service_name`)
	if err != nil {
		return nil, fmt.Errorf("connectivity: query routes: %w", err)
	}
	defer rows.Close()

	var routes []Route
	for rows.Next() {
		var rt Route
		var cfg string
		if err := rows.Scan(&rt.Service, &rt.Strategy, &rt.Endpoint, &cfg); err != nil {
			return nil, fmt.Errorf("connectivity: scan route: %w", err)
		}
		rt.Config = json.RawMessage(cfg)
		routes = append(routes, rt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("connectivity: rows: %w", err)
	}
	return routes, nil
}

// UpsertRoute inserts or replaces a route row.
func UpsertRoute(ctx context.Context, db *sql.DB, rt Route) error {
	cfg := string(rt.Config)
	if cfg == "" {
		cfg = "{}"
	}
	if !json.Valid([]byte(cfg)) {
		return fmt.Errorf("connectivity: route %s: config is not valid JSON", rt.Service)
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO routes (service_name, strategy, endpoint, config) VALUES (?, ?, ?, ?)
		ON CONFLICT(service_name) DO UPDATE SET
			strategy = excluded.strategy,
			endpoint = excluded.endpoint,
			config = excluded.config,
			updated_at = strftime('%s', 'now')`,
		rt.Service, rt.Strategy, rt.Endpoint, cfg)
	if err != nil {
		return fmt.Errorf("connectivity: upsert route %s: %w", rt.Service, err)
	}
	return nil
}

// DeleteRoute removes a route row.
func DeleteRoute(ctx context.Context, db *sql.DB, service string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM routes WHERE service_name = ?`, service)
	return err
}
