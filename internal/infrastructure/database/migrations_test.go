package database

import (
	"context"
	"io/fs"
	"testing"
	"testing/fstest"
)

var testMigrations = fstest.MapFS{
	"20261001_090000_create_widgets.up.sql":   {Data: []byte("CREATE TABLE widgets (id INTEGER PRIMARY KEY, name TEXT NOT NULL);")},
	"20261001_090000_create_widgets.down.sql": {Data: []byte("DROP TABLE widgets;")},
	"20261002_090000_add_size.up.sql":         {Data: []byte("ALTER TABLE widgets ADD COLUMN size INTEGER DEFAULT 0;")},
	"20261002_090000_add_size.down.sql":       {Data: []byte("ALTER TABLE widgets DROP COLUMN size;")},
	"README.md":                               {Data: []byte("not a migration")},
}

// useMigrations swaps the package migration source for the test.
func useMigrations(t *testing.T, fsys fs.FS) {
	t.Helper()
	origFS, origDir := Migrations, MigrationsDir
	Migrations, MigrationsDir = fsys, "."
	t.Cleanup(func() {
		Migrations, MigrationsDir = origFS, origDir
	})
}

func tableExists(t *testing.T, db *DB, name string) bool {
	t.Helper()
	var n int
	err := db.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", name,
	).Scan(&n)
	if err != nil {
		t.Fatalf("query sqlite_master: %v", err)
	}
	return n == 1
}

func TestMigrate(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	if !tableExists(t, db, "widgets") {
		t.Fatal("table widgets not created")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 2 || len(pending) != 0 {
		t.Errorf("applied = %d pending = %d, want 2 and 0", len(applied), len(pending))
	}
	if applied[0].Version != "20261001_090000" || applied[1].Version != "20261002_090000" {
		t.Errorf("applied versions = %v, want oldest first", applied)
	}

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
}

func TestMigrateDown(t *testing.T) {
	useMigrations(t, testMigrations)
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := db.migrateDown(ctx); err != nil {
			t.Fatalf("migrateDown() #%d error = %v", i+1, err)
		}
	}
	if tableExists(t, db, "widgets") {
		t.Error("table widgets should have been dropped")
	}

	applied, pending, err := db.MigrationStatus(ctx)
	if err != nil {
		t.Fatalf("MigrationStatus() error = %v", err)
	}
	if len(applied) != 0 || len(pending) != 2 {
		t.Errorf("applied = %d pending = %d, want 0 and 2", len(applied), len(pending))
	}

	if err := db.migrateDown(ctx); err != nil {
		t.Errorf("migrateDown() with nothing applied error = %v", err)
	}
}

func TestMigrate_NoMigrations(t *testing.T) {
	useMigrations(t, nil)
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() with no migrations error = %v", err)
	}
}

func TestMigrate_FailureStopsAtBadFile(t *testing.T) {
	useMigrations(t, fstest.MapFS{
		"20261001_090000_good.up.sql":  {Data: []byte("CREATE TABLE good (id INTEGER);")},
		"20261002_090000_bad.up.sql":   {Data: []byte("CREATE TABLE oops (;")},
		"20261003_090000_later.up.sql": {Data: []byte("CREATE TABLE later (id INTEGER);")},
	})
	db := openTestDB(t)

	if err := db.Migrate(context.Background()); err == nil {
		t.Fatal("Migrate() expected error for invalid SQL")
	}
	if !tableExists(t, db, "good") {
		t.Error("migration before the failure should stay applied")
	}
	if tableExists(t, db, "later") {
		t.Error("migration after the failure should not run")
	}
}

func TestParseMigrationFilename(t *testing.T) {
	tests := []struct {
		name        string
		filename    string
		wantVersion string
		wantIsUp    bool
		wantOk      bool
	}{
		{"valid up", "20261017_120000_initial_schema.up.sql", "20261017_120000", true, true},
		{"valid down", "20261017_120000_initial_schema.down.sql", "20261017_120000", false, true},
		{"no description", "20261017_120000.up.sql", "20261017_120000", true, true},
		{"not sql", "readme.txt", "", false, false},
		{"missing direction", "20261017_120000_initial_schema.sql", "", false, false},
		{"no version", "invalid.up.sql", "", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, isUp, ok := parseMigrationFilename(tt.filename)
			if ok != tt.wantOk {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOk)
			}
			if version != tt.wantVersion {
				t.Errorf("version = %q, want %q", version, tt.wantVersion)
			}
			if isUp != tt.wantIsUp {
				t.Errorf("isUp = %v, want %v", isUp, tt.wantIsUp)
			}
		})
	}
}

func TestExtractMigrationName(t *testing.T) {
	tests := []struct {
		filename string
		want     string
	}{
		{"20261017_120000_initial_schema.up.sql", "initial_schema"},
		{"20261017_120000_add_run_index.down.sql", "add_run_index"},
	}

	for _, tt := range tests {
		t.Run(tt.filename, func(t *testing.T) {
			if got := extractMigrationName(tt.filename); got != tt.want {
				t.Errorf("extractMigrationName(%q) = %q, want %q", tt.filename, got, tt.want)
			}
		})
	}
}
