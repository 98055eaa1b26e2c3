package database

import (
	"fmt"
	"log"
	"os"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

// RunMigrations automatically applies all pending database migrations
func RunMigrations() error {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return fmt.Errorf("DATABASE_URL environment variable not set")
	}

	log.Println("🗄️  Initializing database migrations...")

	m, err := migrate.New(
		"file://migrations",
		dbURL,
	)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if err != nil && err != migrate.ErrNilVersion {
		log.Printf("⚠️  Could not get migration version: %v", err)
	}

	if dirty {
		log.Printf("⚠️  Database in dirty state at version %d, forcing clean...", version)
		if err := m.Force(int(version)); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		log.Printf("✅ Database cleaned, forced to version %d", version)
	}

	log.Println("📦 Applying pending migrations...")
	err = m.Up()
	if err != nil {
		if err == migrate.ErrNoChange {
			log.Println("✅ Database is up to date (no migrations needed)")
			return nil
		}
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, _ = m.Version()
	log.Printf("✅ Migrations applied, current version: %d", version)
	return nil
}
