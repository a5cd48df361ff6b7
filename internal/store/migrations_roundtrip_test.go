package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func openTestDB(t *testing.T) (*sql.DB, string) {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("HOMEBOARD_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("HOMEBOARD_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	db, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if _, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`); err != nil {
		t.Fatalf("reset schema: %v", err)
	}
	return db, filepath.Join("..", "..", "db", "migrations")
}

func TestMigrationsRoundTripPostgres(t *testing.T) {
	db, migrationsDir := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 1): %v", err)
	}
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (idempotent): %v", err)
	}
	if err := RevertMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply down migrations: %v", err)
	}

	var remaining int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations`).Scan(&remaining); err != nil {
		t.Fatalf("count schema_migrations: %v", err)
	}
	if remaining != 0 {
		t.Fatalf("schema_migrations rows = %d, want 0", remaining)
	}

	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply up migrations (pass 2): %v", err)
	}
}

func TestRunStoreRecordAndRecent(t *testing.T) {
	db, migrationsDir := openTestDB(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	runs := NewRunStore(db)
	start := time.Date(2026, 10, 15, 7, 0, 0, 0, time.UTC)
	played := BriefingRun{
		ID:               uuid.NewString(),
		BriefingID:       "b1",
		Trigger:          "scheduled",
		Outcome:          OutcomePlayed,
		DevicesCommanded: 2,
		StartedAt:        start,
		FinishedAt:       start.Add(90 * time.Second),
	}
	dropped := BriefingRun{
		ID:         uuid.NewString(),
		BriefingID: "b2",
		Trigger:    "scheduled",
		Outcome:    OutcomeDropped,
		Detail:     "playback already active",
		StartedAt:  start.Add(time.Minute),
		FinishedAt: start.Add(time.Minute),
	}
	for _, run := range []BriefingRun{played, dropped, played} {
		if err := runs.Record(ctx, run); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all, err := runs.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(all) != 2 || all[0].ID != dropped.ID || all[1].DevicesCommanded != 2 {
		t.Fatalf("runs = %+v", all)
	}

	onlyB1, err := runs.Recent(ctx, "b1", 10)
	if err != nil {
		t.Fatalf("Recent(b1) error = %v", err)
	}
	if len(onlyB1) != 1 || onlyB1[0].Outcome != OutcomePlayed {
		t.Fatalf("runs = %+v", onlyB1)
	}

	counts, err := runs.CountByOutcome(ctx)
	if err != nil {
		t.Fatalf("CountByOutcome() error = %v", err)
	}
	if counts[OutcomeDropped] != 1 || counts[OutcomePlayed] != 1 {
		t.Fatalf("counts = %v", counts)
	}
}

func TestRunStoreRejectsUnknownOutcome(t *testing.T) {
	db, migrationsDir := openTestDB(t)
	ctx := context.Background()
	if err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}

	err := NewRunStore(db).Record(ctx, BriefingRun{
		ID:         uuid.NewString(),
		BriefingID: "b1",
		Trigger:    "scheduled",
		Outcome:    Outcome("skipped"),
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	})
	if err == nil {
		t.Fatal("Record() expected CHECK violation")
	}
}
