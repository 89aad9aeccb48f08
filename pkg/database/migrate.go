package database

import (
	"fmt"
	"io/fs"
	"sort"

	dbsql "panelworks/api_tokens/pkg/database/sql"
	"panelworks/api_tokens/pkg/logging"
)

// ApplySchema executes the embedded schema files in lexical order. All
// statements are idempotent (CREATE ... IF NOT EXISTS), so running it on
// every startup is safe.
func ApplySchema(db PostgresConn, logger logging.Logger) error {
	entries, err := fs.Glob(dbsql.Content, "schema/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list schema files: %w", err)
	}
	sort.Strings(entries)

	for _, name := range entries {
		contents, err := fs.ReadFile(dbsql.Content, name)
		if err != nil {
			return fmt.Errorf("failed to read schema file %s: %w", name, err)
		}
		if _, err := db.Exec(string(contents)); err != nil {
			return fmt.Errorf("failed to apply schema file %s: %w", name, err)
		}
		logger.WithField("file", name).Debug("Applied schema file")
	}

	return nil
}
