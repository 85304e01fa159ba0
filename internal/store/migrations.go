package store

// migrate runs all database migrations
func (db *DB) migrate() error {
	migrations := []string{
		// Strava credentials, one row per athlete
		`CREATE TABLE IF NOT EXISTS credentials (
			athlete_id BIGINT PRIMARY KEY,
			firstname TEXT NOT NULL DEFAULT '',
			lastname TEXT NOT NULL DEFAULT '',
			access_token TEXT NOT NULL,
			refresh_token TEXT NOT NULL CHECK (refresh_token <> ''),
			expires_at BIGINT NOT NULL,
			scope TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_credentials_expires_at ON credentials(expires_at)`,

		// Key-value state (holds the delegated Drive token blob)
		`CREATE TABLE IF NOT EXISTS kv_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		// Outcome of every accepted activity-create webhook event
		`CREATE TABLE IF NOT EXISTS ingest_events (
			id ` + db.dialect.serialKey + `,
			delivery_id TEXT NOT NULL,
			athlete_id BIGINT NOT NULL,
			activity_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			local_path TEXT NOT NULL DEFAULT '',
			remote_id TEXT NOT NULL DEFAULT '',
			mechanism TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			received_at BIGINT NOT NULL,
			finished_at BIGINT NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_ingest_events_activity ON ingest_events(athlete_id, activity_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ingest_events_finished_at ON ingest_events(finished_at)`,
	}

	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}

	return nil
}
