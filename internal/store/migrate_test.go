package store

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
)

func TestMigrationFilesArePaired(t *testing.T) {
	dir := filepath.Join("..", "..", "db", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	pattern := regexp.MustCompile(`^(\d{4})_[a-z0-9_]+\.(up|down)\.sql$`)
	seen := map[string]map[string]bool{}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := pattern.FindStringSubmatch(entry.Name())
		if match == nil {
			t.Fatalf("migration file %q does not follow NNNN_name.up/down.sql", entry.Name())
		}
		version, direction := match[1], match[2]
		if seen[version] == nil {
			seen[version] = map[string]bool{}
		}
		if seen[version][direction] {
			t.Fatalf("version %s has more than one %s file", version, direction)
		}
		seen[version][direction] = true
	}

	if len(seen) == 0 {
		t.Fatal("no migration files found")
	}
	for version, directions := range seen {
		if !directions["up"] || !directions["down"] {
			t.Fatalf("version %s is missing its up or down half", version)
		}
	}
}

func TestInitialMigrationCreatesCoreTables(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "db", "migrations", "0001_init.up.sql"))
	if err != nil {
		t.Fatalf("read init migration: %v", err)
	}
	schema := string(raw)
	for _, table := range []string{
		"users", "companies", "projects", "project_members", "documents",
		"tasks", "subtasks", "city_approvals", "corrections", "messages",
		"notifications", "notification_preferences",
	} {
		if !strings.Contains(schema, table) {
			t.Fatalf("init migration does not create %s", table)
		}
	}
}
