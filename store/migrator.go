package store

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"github.com/hrygo/deepsearch/internal/version"
)

// Migrate brings the database schema up to date. A fresh database gets the
// latest schema in one shot; an existing one only has its recorded schema
// version advanced (incremental migrations slot in here when the schema
// changes between releases).
func (s *Store) Migrate(ctx context.Context) error {
	currentVersion := version.GetSchemaVersion(s.profile.Version)

	initialized, err := s.driver.IsInitialized(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to check database initialization")
	}

	if !initialized {
		slog.Info("initializing database schema", "driver", s.profile.Driver, "version", currentVersion)
		if err := s.driver.ApplyLatestSchema(ctx); err != nil {
			return errors.Wrap(err, "failed to apply latest schema")
		}
		if err := s.driver.SetSchemaVersion(ctx, currentVersion); err != nil {
			return errors.Wrap(err, "failed to record schema version")
		}
		return nil
	}

	recordedVersion, err := s.driver.GetSchemaVersion(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read schema version")
	}

	if recordedVersion == "" || !version.IsVersionGreaterOrEqualThan(recordedVersion, currentVersion) {
		slog.Info("advancing schema version", "from", recordedVersion, "to", currentVersion)
		if err := s.driver.SetSchemaVersion(ctx, currentVersion); err != nil {
			return errors.Wrap(err, "failed to record schema version")
		}
	}

	return nil
}
