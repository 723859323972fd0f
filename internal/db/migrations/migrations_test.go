package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestMigrationsAreEmbeddedInOrder(t *testing.T) {
	names, err := fs.Glob(FS, "*.sql")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(names) != 2 {
		t.Fatalf("expected 2 migrations, got %v", names)
	}
	if names[0] != "00001_create_users.sql" || names[1] != "00002_create_password_otps.sql" {
		t.Fatalf("unexpected migration order: %v", names)
	}
	for _, name := range names {
		raw, err := fs.ReadFile(FS, name)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		body := string(raw)
		if !strings.Contains(body, "-- +goose Up") || !strings.Contains(body, "-- +goose Down") {
			t.Fatalf("%s is missing goose annotations", name)
		}
	}
}
