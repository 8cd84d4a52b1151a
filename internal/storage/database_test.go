package storage

import (
	"context"
	"testing"
	"time"

	"tutorly/internal/config"
)

func TestMigrateIsIdempotent(t *testing.T) {
	db, err := Open("sqlite3", config.DatabaseConfig{DSN: "file::memory:?cache=shared"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	for i := 0; i < 2; i++ {
		if err := Migrate(db, "sqlite3"); err != nil {
			t.Fatalf("migrate #%d: %v", i+1, err)
		}
	}
}

func TestPurgeExpiredSessions(t *testing.T) {
	db, err := Open("sqlite3", config.DatabaseConfig{DSN: ":memory:"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if err := Migrate(db, "sqlite3"); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	now := time.Now().UTC()
	insert := func(token string, expires time.Time) {
		t.Helper()
		_, err := db.Exec(`INSERT INTO user_sessions (token, user_id, access_token, created_at, expires_at) VALUES (?, ?, ?, ?, ?)`,
			token, "u1", "access", now, expires)
		if err != nil {
			t.Fatalf("insert %s: %v", token, err)
		}
	}
	insert("old", now.Add(-time.Minute))
	insert("live", now.Add(time.Hour))

	n, err := PurgeExpiredSessions(context.Background(), db, now)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged row, got %d", n)
	}
	var left string
	if err := db.QueryRow(`SELECT token FROM user_sessions`).Scan(&left); err != nil || left != "live" {
		t.Fatalf("expected live session to remain, got %q err=%v", left, err)
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", config.DatabaseConfig{DSN: "x"}); err == nil {
		t.Fatal("expected unsupported driver error")
	}
}
