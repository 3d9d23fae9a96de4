package sqlite

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

const latestSchema = `
CREATE TABLE system_setting (
	name TEXT NOT NULL PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE chat (
	id TEXT NOT NULL PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	created_ts BIGINT NOT NULL,
	updated_ts BIGINT NOT NULL
);

CREATE INDEX idx_chat_user_id ON chat (user_id);

CREATE TABLE message (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	chat_id TEXT NOT NULL REFERENCES chat (id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	parts TEXT NOT NULL DEFAULT '[]',
	position INTEGER NOT NULL,
	created_ts BIGINT NOT NULL
);

CREATE INDEX idx_message_chat_id_position ON message (chat_id, position);

CREATE TABLE stream (
	id TEXT NOT NULL PRIMARY KEY,
	chat_id TEXT NOT NULL REFERENCES chat (id) ON DELETE CASCADE,
	created_ts BIGINT NOT NULL
);

CREATE INDEX idx_stream_chat_id ON stream (chat_id);
`

const schemaVersionSetting = "schema_version"

func (d *DB) ApplyLatestSchema(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, latestSchema); err != nil {
		return errors.Wrap(err, "failed to apply latest schema")
	}
	return nil
}

func (d *DB) GetSchemaVersion(ctx context.Context) (string, error) {
	var value string
	err := d.db.QueryRowContext(ctx, "SELECT value FROM system_setting WHERE name = ?", schemaVersionSetting).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to read schema version")
	}
	return value, nil
}

func (d *DB) SetSchemaVersion(ctx context.Context, version string) error {
	stmt := `
		INSERT INTO system_setting (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value`
	if _, err := d.db.ExecContext(ctx, stmt, schemaVersionSetting, version); err != nil {
		return errors.Wrap(err, "failed to set schema version")
	}
	return nil
}
