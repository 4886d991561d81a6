package connectivity

import (
	"context"
	"database/sql"
	"time"
)

// Watch reloads routes whenever the routes table changes. It compares the
// row count and the latest updated_at at every tick, so writes from this or
// any other connection are noticed. Blocks until ctx is cancelled.
func (r *Router) Watch(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last, _ := tableVersion(ctx, db)
	if err := r.Reload(ctx, db); err != nil {
		r.logger.Error("connectivity: initial reload failed", "error", err)
	}
	r.logger.Info("connectivity watcher started", "interval", interval)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("connectivity watcher stopped")
			return
		case <-ticker.C:
			ver, err := tableVersion(ctx, db)
			if err != nil {
				r.logger.Warn("connectivity: routes poll failed", "error", err)
				continue
			}
			if ver == last {
				continue
			}
			r.logger.Info("connectivity: routes changed, reloading", "version", ver)
			if err := r.Reload(ctx, db); err != nil {
				r.logger.Error("connectivity: reload failed", "error", err)
				continue
			}
			last = ver
		}
	}
}

type routesVersion struct {
	count   int64
	updated int64
	digest  string
}

func tableVersion(ctx context.Context, db *sql.DB) (routesVersion, error) {
	var v routesVersion
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(MAX(updated_at), 0),
		       COALESCE(group_concat(service_name || strategy || COALESCE(endpoint, '') || COALESCE(config, ''), '|'), '')
		FROM routes`).Scan(&v.count, &v.updated, &v.digest)
	return v, err
}
