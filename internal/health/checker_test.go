package health

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pledgeloop/pledge/internal/infra/sqlite"
)

func newTestDB(t *testing.T) (*sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.Open(dir)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, dir
}

// ─── Checker Tests ──────────────────────────────────────────────────────────

func TestNewChecker(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, PaymentCheck(true))
	if len(c.checks) != 3 {
		t.Errorf("checks = %d, want 3", len(c.checks))
	}
}

func TestChecker_RunAllHealthy(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, PaymentCheck(true))
	c.RunAll(context.Background())

	statuses := c.Statuses()
	if len(statuses) != 3 {
		t.Fatalf("Statuses() = %d, want 3", len(statuses))
	}
	for _, s := range statuses {
		if !s.Healthy {
			t.Errorf("check %q should be healthy, got error: %s", s.Name, s.Error)
		}
	}
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true when all checks pass")
	}
}

func TestChecker_PaymentNotConfigured(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir, PaymentCheck(false))
	c.RunAll(context.Background())

	if c.IsHealthy() {
		t.Error("IsHealthy() should be false without a payment key")
	}
	for _, s := range c.Statuses() {
		if s.Name == "payment" && (s.Healthy || s.Error == "") {
			t.Errorf("payment status = %+v, want unhealthy with error", s)
		}
	}
}

func TestChecker_IsHealthy_BeforeRun(t *testing.T) {
	db, dir := newTestDB(t)

	c := NewChecker(db, dir)

	// Before any run, there are no statuses, so IsHealthy returns true
	if !c.IsHealthy() {
		t.Error("IsHealthy() should be true before first run (no statuses)")
	}
}

func TestChecker_DataDirIsFile(t *testing.T) {
	db, dir := newTestDB(t)
	file := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(file, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}

	c := NewChecker(db, file)
	c.RunAll(context.Background())
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false when the data dir is a file")
	}
}

func TestChecker_ClosedDB(t *testing.T) {
	db, dir := newTestDB(t)
	db.Close()

	c := NewChecker(db, dir)
	c.RunAll(context.Background())
	if c.IsHealthy() {
		t.Error("IsHealthy() should be false with a closed database")
	}
}
