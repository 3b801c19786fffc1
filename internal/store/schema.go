package store

var schema = []string{
	`CREATE TABLE IF NOT EXISTS messages (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		session_id  TEXT NOT NULL,
		message     TEXT NOT NULL,
		status      INTEGER NOT NULL DEFAULT 1
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_status ON messages (status, id)`,

	`CREATE TABLE IF NOT EXISTS sessions (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key         TEXT NOT NULL,
		session_id      TEXT NOT NULL,
		start_time      INTEGER NOT NULL,
		end_time        INTEGER NOT NULL,
		session_length  INTEGER NOT NULL DEFAULT 0,
		attributes      TEXT,
		status          TEXT,
		app_info        TEXT,
		device_info     TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sessions_session_id ON sessions (session_id)`,
	// one open row per session and api key
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_open
		ON sessions (api_key, session_id) WHERE status IS NULL`,

	`CREATE TABLE IF NOT EXISTS breadcrumbs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		api_key     TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		session_id  TEXT NOT NULL,
		message     TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS user_attributes (
		id               INTEGER PRIMARY KEY AUTOINCREMENT,
		attribute_key    TEXT COLLATE NOCASE NOT NULL,
		attribute_value  TEXT,
		is_list          INTEGER NOT NULL DEFAULT 0,
		created_at       INTEGER NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_user_attributes_key ON user_attributes (attribute_key)`,

	`CREATE TABLE IF NOT EXISTS push_messages (
		content_id    INTEGER PRIMARY KEY,
		campaign_id   INTEGER NOT NULL DEFAULT 0,
		expiration    INTEGER NOT NULL DEFAULT 0,
		displayed_at  INTEGER NOT NULL DEFAULT 0,
		behavior      INTEGER NOT NULL DEFAULT 0,
		payload       TEXT NOT NULL,
		app_state     TEXT,
		created_at    INTEGER NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS reporting (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		created_at  INTEGER NOT NULL,
		module_id   INTEGER NOT NULL,
		message     TEXT NOT NULL,
		session_id  TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS preferences (
		pref_key    TEXT PRIMARY KEY,
		pref_value  TEXT NOT NULL
	)`,
}
