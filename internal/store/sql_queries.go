// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import sq "github.com/Masterminds/squirrel"

const (
	getEntity = `SELECT payload FROM entities WHERE table_name = ? AND id = ?;`

	// upsertEntity refuses to lower sync_version; zero affected rows means
	// the stored row is newer.
	upsertEntity = `
		INSERT INTO entities (
			table_name,
			id,
			user_id,
			foreign_key,
			sync_version,
			pending_sync,
			is_deleted,
			payload
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (table_name, id) DO UPDATE SET
			user_id      = excluded.user_id,
			foreign_key  = excluded.foreign_key,
			sync_version = excluded.sync_version,
			pending_sync = excluded.pending_sync,
			is_deleted   = excluded.is_deleted,
			payload      = excluded.payload
		WHERE excluded.sync_version >= entities.sync_version;`

	upsertOperation = `
		INSERT OR REPLACE INTO sync_operations (
			id,
			type,
			entity_type,
			entity_id,
			payload,
			base_version,
			timestamp,
			retry_count,
			max_retries,
			priority,
			status,
			dependencies,
			last_error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`

	deleteOperation = `DELETE FROM sync_operations WHERE id = ?;`

	deleteEntityOperations = `
		DELETE FROM sync_operations
		WHERE entity_type = ? AND entity_id = ? AND status <> 'failed';`

	getCheckpoint = `SELECT version FROM sync_checkpoints WHERE table_name = ?;`

	setCheckpoint = `
		INSERT INTO sync_checkpoints (table_name, version) VALUES (?, ?)
		ON CONFLICT (table_name) DO UPDATE SET version = excluded.version
		WHERE excluded.version > sync_checkpoints.version;`

	getPreference = `SELECT value FROM preferences WHERE key = ?;`

	setPreference = `
		INSERT INTO preferences (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value;`
)

var operationColumns = []string{
	"id", "type", "entity_type", "entity_id", "payload", "base_version", "timestamp",
	"retry_count", "max_retries", "priority", "status", "dependencies", "last_error",
}

// selectEntities starts an entity payload query for table.
func selectEntities(table string) sq.SelectBuilder {
	return sq.Select("payload").
		From("entities").
		Where(sq.Eq{"table_name": table}).
		OrderBy("id ASC")
}

// selectOperations starts an operation query in push order.
func selectOperations() sq.SelectBuilder {
	return sq.Select(operationColumns...).
		From("sync_operations").
		OrderBy("priority DESC", "timestamp ASC", "id ASC")
}
