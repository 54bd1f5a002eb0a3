package kv

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/visionbridge/dbopen"
)

func testSQLite(t *testing.T) *SQLite {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return &SQLite{DB: db}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	if v := s.Get(ctx, "isLoggedIn"); v.Outcome != Missing {
		t.Fatalf("get missing: outcome %v", v.Outcome)
	}
	if err := s.Set(ctx, "isLoggedIn", "true"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v := s.Get(ctx, "isLoggedIn"); !v.Is("true") {
		t.Fatalf("get: got %+v", v)
	}
	if err := s.Set(ctx, "isLoggedIn", "false"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v := s.Get(ctx, "isLoggedIn"); v.Data != "false" {
		t.Fatalf("overwrite: got %q", v.Data)
	}
	if err := s.Delete(ctx, "isLoggedIn"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if v := s.Get(ctx, "isLoggedIn"); v.Outcome != Missing {
		t.Fatalf("after delete: outcome %v", v.Outcome)
	}
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory(nil))
}

func TestSQLite(t *testing.T) {
	exerciseStore(t, testSQLite(t))
}

func TestOpenSQLite_Options(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "kv", "store.db"), dbopen.WithBusyTimeout(1500))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	s.DB.SetMaxOpenConns(1)

	var busy int
	if err := s.DB.QueryRow("PRAGMA busy_timeout").Scan(&busy); err != nil {
		t.Fatal(err)
	}
	if busy != 1500 {
		t.Fatalf("busy_timeout = %d, want 1500", busy)
	}
	exerciseStore(t, s)

	if _, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"), dbopen.WithSynchronous("sometimes")); err == nil {
		t.Fatal("expected error for unknown synchronous mode")
	}
}

func TestMemory_Unavailable(t *testing.T) {
	m := NewMemory(map[string]string{"a": "1"})
	boom := errors.New("quota exceeded")
	m.SetUnavailable(boom)

	v := m.Get(context.Background(), "a")
	if v.Outcome != Unavailable || !errors.Is(v.Err, boom) {
		t.Fatalf("got %+v, want unavailable", v)
	}
	if v.Is("1") {
		t.Error("unavailable value must not match")
	}
	if err := m.Set(context.Background(), "a", "2"); !errors.Is(err, boom) {
		t.Fatalf("set: got %v", err)
	}

	m.SetUnavailable(nil)
	if v := m.Get(context.Background(), "a"); !v.Is("1") {
		t.Fatalf("restored: got %+v", v)
	}
}

func TestSQLite_ClosedIsUnavailable(t *testing.T) {
	s := testSQLite(t)
	s.DB.Close()
	if v := s.Get(context.Background(), "k"); v.Outcome != Unavailable {
		t.Fatalf("outcome = %v, want unavailable", v.Outcome)
	}
}

func TestNop(t *testing.T) {
	var s Store = Nop{}
	if v := s.Get(context.Background(), "k"); v.Outcome != Unavailable {
		t.Fatalf("outcome = %v", v.Outcome)
	}
	if err := s.Set(context.Background(), "k", "v"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("set: %v", err)
	}
}
