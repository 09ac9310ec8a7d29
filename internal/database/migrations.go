package database

import (
	"embed"
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"gorm.io/gorm"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationName matches YYYYMMDD_description.sql
var migrationName = regexp.MustCompile(`^(\d{8})_.+\.sql$`)

type migration struct {
	filename string
	name     string
	sql      string
}

// RunMigrations applies the embedded SQL files that are not yet recorded in
// schema_migrations. They run after AutoMigrate, so every table exists.
func RunMigrations(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`).Error; err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	pending, err := loadMigrations()
	if err != nil {
		return err
	}

	var names []string
	if err := db.Table("schema_migrations").Pluck("name", &names).Error; err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}
	applied := make(map[string]bool, len(names))
	for _, n := range names {
		applied[n] = true
	}

	for _, m := range pending {
		if applied[m.name] {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(m.sql).Error; err != nil {
				return err
			}
			return tx.Exec("INSERT INTO schema_migrations (name) VALUES (?)", m.name).Error
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", m.filename, err)
		}
	}
	return nil
}

func loadMigrations() ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var out []migration
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		content, err := migrationsFS.ReadFile(path.Join("migrations", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		name := entry.Name()
		if m := migrationName.FindStringSubmatch(name); len(m) == 2 {
			name = m[1]
		}
		out = append(out, migration{filename: entry.Name(), name: name, sql: string(content)})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out, nil
}
