package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/mnemo/internal/version"
)

const schemaVersionSetting = "schema_version"

// Migrate applies the driver schema and records the schema version.
// A database written by a newer build is refused.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.driver.Migrate(ctx); err != nil {
		return errors.Wrap(err, "failed to apply schema")
	}

	current, err := s.driver.GetSystemSetting(ctx, schemaVersionSetting)
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}
	if current != "" {
		if !version.IsValid(current) {
			return errors.Errorf("invalid stored schema version %q", current)
		}
		if version.IsVersionGreaterThan(current, version.SchemaVersion) {
			return errors.Errorf("database schema %s is newer than this build (%s)", current, version.SchemaVersion)
		}
		if !version.IsVersionGreaterThan(version.SchemaVersion, current) {
			return nil
		}
	}

	if err := s.driver.UpsertSystemSetting(ctx, schemaVersionSetting, version.SchemaVersion); err != nil {
		return errors.Wrap(err, "failed to record schema version")
	}
	slog.Info("schema migrated", "from", current, "to", version.SchemaVersion)
	return nil
}
