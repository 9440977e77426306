package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"ledger/internal/core"
	"ledger/internal/session"
)

func newTestRepo(t *testing.T, path string) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSessionEntriesRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "state", "session.db"))

	if err := repo.Store(ctx, map[string]string{"token": "a", "user": "{}"}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if err := repo.Store(ctx, map[string]string{"token": "b"}); err != nil {
		t.Fatalf("Store overwrite: %v", err)
	}

	got, err := repo.Load(ctx, "token", "user", "missing")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got["token"] != "b" || got["user"] != "{}" {
		t.Fatalf("unexpected entries: %v", got)
	}
	if _, ok := got["missing"]; ok {
		t.Fatalf("missing key should be absent")
	}

	if err := repo.Delete(ctx, "token", "user"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err = repo.Load(ctx, "token", "user")
	if err != nil {
		t.Fatalf("Load after delete: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no entries, got %v", got)
	}
}

func TestSessionSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "session.db")

	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	store, err := session.NewStore(ctx, repo, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.SetAuthenticated(ctx, "tok", core.User{ID: "u-1", Email: "ana@example.com"}); err != nil {
		t.Fatal(err)
	}
	repo.Close()

	reopened := newTestRepo(t, path)
	restored, err := session.NewStore(ctx, reopened, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !restored.IsAuthenticated() || restored.Token() != "tok" {
		t.Fatalf("session not restored: %+v", restored.Get())
	}

	if err := restored.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	entries, err := reopened.Load(ctx, session.KeyToken, session.KeyUser)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("clear did not remove persisted entries: %v", entries)
	}
}

func TestImportLog(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "session.db"))

	if _, ok, err := repo.ImportedTransaction(ctx, "msg-1"); err != nil || ok {
		t.Fatalf("expected no import, got ok=%v err=%v", ok, err)
	}
	if err := repo.RecordImport(ctx, "msg-1", "tx-9"); err != nil {
		t.Fatal(err)
	}
	txID, ok, err := repo.ImportedTransaction(ctx, "msg-1")
	if err != nil || !ok || txID != "tx-9" {
		t.Fatalf("got %q ok=%v err=%v", txID, ok, err)
	}
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	newTestRepo(t, path)
	version, err := Migrate(path)
	if err != nil {
		t.Fatalf("second migration run: %v", err)
	}
	if version != 2 {
		t.Fatalf("schema version = %d, want 2", version)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.db")
	repo := newTestRepo(t, path)
	if _, err := repo.db.Exec("UPDATE schema_migrations SET dirty = 1"); err != nil {
		t.Fatal(err)
	}

	if _, err := Migrate(path); !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("Migrate() error = %v, want ErrDirtySchema", err)
	}
	if _, err := NewSQLiteRepository(path); !errors.Is(err, ErrDirtySchema) {
		t.Fatalf("NewSQLiteRepository() error = %v, want ErrDirtySchema", err)
	}
}

func TestPing(t *testing.T) {
	repo := newTestRepo(t, filepath.Join(t.TempDir(), "session.db"))
	if err := repo.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}
