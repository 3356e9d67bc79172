package platform

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunGlobalMigrations brings the schema up to date from the file-based
// migration directory. It reports the resulting schema version so startup
// logs show what the process is actually running against, and refuses to
// start on a dirty version rather than limping along on a half-applied
// schema.
func RunGlobalMigrations(databaseURL, migrationsDir string) (uint, error) {
	m, err := migrate.New("file://"+migrationsDir, databaseURL)
	if err != nil {
		return 0, fmt.Errorf("opening migration source %s: %w", migrationsDir, err)
	}
	defer func() { _, _ = m.Close() }()

	err = m.Up()
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, fmt.Errorf("applying migrations: %w", err)
	}

	version, dirty, verr := m.Version()
	if verr != nil && !errors.Is(verr, migrate.ErrNilVersion) {
		return 0, fmt.Errorf("reading schema version: %w", verr)
	}
	if dirty {
		return version, fmt.Errorf("schema version %d is dirty; repair before starting", version)
	}
	return version, nil
}
