package main

import (
	"context"
	"crypto/sha256"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/mail-ledger/internal/config"
	"github.com/dvloznov/mail-ledger/internal/logger"
)

// Migration represents a single migration file
type Migration struct {
	Version  int
	Name     string
	Filename string
	SQL      string
	Checksum string
}

// AppliedMigration represents a migration that has already been applied
type AppliedMigration struct {
	Version   int
	Name      string
	AppliedAt time.Time
	Checksum  string
	AppliedBy string
}

// Backend applies migrations to one database engine.
type Backend interface {
	EnsureSchemaMigrations(ctx context.Context) error
	Applied(ctx context.Context) ([]AppliedMigration, error)
	Execute(ctx context.Context, m Migration) error
	Record(ctx context.Context, m Migration, appliedBy string) error
	Close() error
}

// Pattern to match migration files: 0001_name.sql
var migrationPattern = regexp.MustCompile(`^(\d{4})_(.+)\.sql$`)

func main() {
	var (
		configFile    = flag.String("config", "", "Path to config file (default: ./config.yaml)")
		driver        = flag.String("driver", "", "postgres or bigquery (default: store.driver)")
		appliedBy     = flag.String("applied-by", "migrate-cli", "Name of the tool applying migrations")
		migrationsDir = flag.String("migrations", "", "Path to migrations directory (default: migrations/<driver>)")
	)
	flag.Parse()

	cfg, err := config.Load(config.New(*configFile))
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}
	log := logger.Open(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if *driver != "" {
		cfg.Store.Driver = *driver
	}
	if err := cfg.ValidateStore(); err != nil {
		log.Fatal().Err(err).Msg("Invalid store configuration")
	}
	if *migrationsDir == "" {
		*migrationsDir = filepath.Join("migrations", cfg.Store.Driver)
	}

	ctx := context.Background()

	var (
		backend      Backend
		replacements map[string]string
	)
	switch cfg.Store.Driver {
	case "postgres":
		backend, err = newPostgresBackend(ctx, cfg.Store.DatabaseURL)
	case "bigquery":
		backend, err = newBigQueryBackend(ctx, cfg.Store.ProjectID, cfg.Store.Dataset)
		replacements = map[string]string{
			"{{PROJECT_ID}}": cfg.Store.ProjectID,
			"{{DATASET_ID}}": cfg.Store.Dataset,
		}
	default:
		log.Fatal().Str("driver", cfg.Store.Driver).Msg("Driver has no migrations")
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer backend.Close()

	migrations, err := readMigrations(resolveDir(*migrationsDir), replacements, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to read migrations")
	}
	log.Info().Int("count", len(migrations)).Str("driver", cfg.Store.Driver).Msg("Found migration files")

	applied, err := migrate(ctx, backend, migrations, *appliedBy, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}

	if applied == 0 {
		log.Info().Msg("No new migrations to apply. Database is up to date.")
	} else {
		log.Info().Int("applied", applied).Msg("Successfully applied migrations")
	}
}

// migrate applies every migration not yet recorded. A recorded migration whose
// file changed since it was applied is an error.
func migrate(ctx context.Context, backend Backend, migrations []Migration, appliedBy string, log zerolog.Logger) (int, error) {
	if err := backend.EnsureSchemaMigrations(ctx); err != nil {
		return 0, fmt.Errorf("ensuring schema_migrations table: %w", err)
	}

	appliedMigrations, err := backend.Applied(ctx)
	if err != nil {
		return 0, fmt.Errorf("getting applied migrations: %w", err)
	}
	log.Info().Int("count", len(appliedMigrations)).Msg("Found already applied migrations")

	appliedVersions := make(map[int]AppliedMigration, len(appliedMigrations))
	for _, am := range appliedMigrations {
		appliedVersions[am.Version] = am
	}

	count := 0
	for _, m := range migrations {
		label := fmt.Sprintf("%04d_%s", m.Version, m.Name)
		if am, ok := appliedVersions[m.Version]; ok {
			if am.Checksum != "" && am.Checksum != m.Checksum {
				return count, fmt.Errorf("migration %s was modified after it was applied", label)
			}
			log.Debug().Str("migration", label).Msg("Skipping already applied migration")
			continue
		}

		log.Info().Str("migration", label).Msg("Applying migration")
		if err := backend.Execute(ctx, m); err != nil {
			return count, fmt.Errorf("executing migration %s: %w", label, err)
		}
		if err := backend.Record(ctx, m, appliedBy); err != nil {
			return count, fmt.Errorf("recording migration %s: %w", label, err)
		}
		count++
	}
	return count, nil
}

// resolveDir falls back to the repository root when run from cmd/migrate.
func resolveDir(dir string) string {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if alt := filepath.Join("..", "..", dir); dirExists(alt) {
			return alt
		}
	}
	return dir
}

func dirExists(dir string) bool {
	info, err := os.Stat(dir)
	return err == nil && info.IsDir()
}

// parseMigrationFilename returns the version and name encoded in a migration file name.
func parseMigrationFilename(filename string) (int, string, bool) {
	matches := migrationPattern.FindStringSubmatch(filename)
	if matches == nil {
		return 0, "", false
	}
	version, err := strconv.Atoi(matches[1])
	if err != nil {
		return 0, "", false
	}
	return version, matches[2], true
}

// checksum hashes the file content before placeholder replacement, so the
// same migration has one checksum regardless of the target dataset.
func checksum(content []byte) string {
	return fmt.Sprintf("%x", sha256.Sum256(content))
}

// readMigrations reads all migration files from dir, sorted by version.
func readMigrations(dir string, replacements map[string]string, log zerolog.Logger) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading migrations directory: %w", err)
	}

	var migrations []Migration
	seen := make(map[int]string)
	for _, file := range files {
		if file.IsDir() {
			continue
		}

		version, name, ok := parseMigrationFilename(file.Name())
		if !ok {
			log.Warn().Str("file", file.Name()).Msg("Skipping file with invalid format")
			continue
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("duplicate migration version %04d: %s and %s", version, prev, file.Name())
		}
		seen[version] = file.Name()

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("reading file %s: %w", file.Name(), err)
		}

		sql := string(content)
		for placeholder, value := range replacements {
			sql = strings.ReplaceAll(sql, placeholder, value)
		}

		migrations = append(migrations, Migration{
			Version:  version,
			Name:     name,
			Filename: file.Name(),
			SQL:      sql,
			Checksum: checksum(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})

	return migrations, nil
}
