package store

import (
	"io/fs"
	"regexp"
	"testing"

	schema "github.com/samarth3282/trello-api/db"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	for _, dialect := range []Dialect{Postgres, SQLite} {
		t.Run(string(dialect), func(t *testing.T) {
			entries, err := fs.ReadDir(schema.Migrations, dialect.MigrationsDir())
			if err != nil {
				t.Fatalf("read migrations dir: %v", err)
			}

			pattern := regexp.MustCompile(`^(\d+)_.*\.(up|down)\.sql$`)
			byVersion := map[string]map[string]bool{}

			for _, entry := range entries {
				if entry.IsDir() {
					continue
				}
				match := pattern.FindStringSubmatch(entry.Name())
				if match == nil {
					continue
				}
				version, direction := match[1], match[2]
				if byVersion[version] == nil {
					byVersion[version] = map[string]bool{}
				}
				if byVersion[version][direction] {
					t.Fatalf("duplicate %s migration file for version %s", direction, version)
				}
				byVersion[version][direction] = true
			}

			if len(byVersion) == 0 {
				t.Fatal("no migrations discovered")
			}

			for version, dirs := range byVersion {
				if !dirs["up"] || !dirs["down"] {
					t.Fatalf("version %s must include both up and down files", version)
				}
			}
		})
	}
}

func TestDialectMigrationSetsMatch(t *testing.T) {
	names := func(d Dialect) map[string]bool {
		entries, err := fs.ReadDir(schema.Migrations, d.MigrationsDir())
		if err != nil {
			t.Fatalf("read %s migrations: %v", d, err)
		}
		out := map[string]bool{}
		for _, e := range entries {
			out[e.Name()] = true
		}
		return out
	}
	pg, lite := names(Postgres), names(SQLite)
	for name := range pg {
		if !lite[name] {
			t.Fatalf("migration %s missing for sqlite", name)
		}
	}
	if len(pg) != len(lite) {
		t.Fatalf("dialects carry different migration sets: %d vs %d", len(pg), len(lite))
	}
}
