package lock

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestAcquireRelease(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "announce")

	if err := l.Acquire(time.Second); err != nil {
		t.Fatalf("Error acquiring: %v", err)
	}
	if !l.Held() {
		t.Error("Expected lock to be held")
	}
	l.Release()
	if l.Held() {
		t.Error("Expected lock to be released")
	}
	// Redundant release is safe.
	l.Release()
}

func TestContendedAcquireTimesOut(t *testing.T) {
	dir := t.TempDir()
	holder := New(dir, "announce")
	if err := holder.Acquire(time.Second); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	contender := New(dir, "announce")
	start := time.Now()
	err := contender.Acquire(300 * time.Millisecond)
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected ErrTimeout, got %v", err)
	}
	if time.Since(start) < 300*time.Millisecond {
		t.Error("Acquire returned before the timeout elapsed")
	}
}

func TestDifferentListsDoNotContend(t *testing.T) {
	dir := t.TempDir()
	a := New(dir, "announce")
	b := New(dir, "dev")

	if err := a.Acquire(time.Second); err != nil {
		t.Fatal(err)
	}
	defer a.Release()
	if err := b.Acquire(time.Second); err != nil {
		t.Fatalf("Lock for a different list must not contend: %v", err)
	}
	b.Release()
}

func TestStaleClaimBroken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "announce.lock")
	stale, err := json.Marshal(claim{Host: "dead-host", PID: 12345, Acquired: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, stale, 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(dir, "announce")
	if err := l.Acquire(time.Second); err != nil {
		t.Fatalf("Expected stale claim to be broken, got %v", err)
	}
	l.Release()
}

func writeClaim(t *testing.T, path string, c claim) {
	t.Helper()
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

// A claim refreshed between the staleness read and the break must survive:
// the breaker inspects the renamed file and puts a live claim back instead
// of deleting it.
func TestBreakRestoresFreshClaim(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "announce")
	breakPath := l.path + ".break.test"

	writeClaim(t, breakPath, claim{Host: "live-host", PID: 999, Acquired: time.Now()})
	if l.reapClaim(breakPath) {
		t.Fatal("Expected break of a live claim to fail")
	}
	if _, err := os.Stat(l.path); err != nil {
		t.Fatalf("Expected live claim restored at lock path: %v", err)
	}
	if _, err := os.Stat(breakPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Expected break file cleaned up, got %v", err)
	}

	contender := New(dir, "announce")
	if err := contender.Acquire(200 * time.Millisecond); !errors.Is(err, ErrTimeout) {
		t.Fatalf("Expected restored claim to keep the lock held, got %v", err)
	}
}

// A claim already present at the lock path is never deleted by the breaker
// of a fresh claim; only an actually stale renamed file is reaped.
func TestBreakDoesNotClobberNewClaim(t *testing.T) {
	dir := t.TempDir()
	l := New(dir, "announce")
	breakPath := l.path + ".break.test"

	// A new holder claimed the lock path while a stale claim was being
	// reaped.
	writeClaim(t, l.path, claim{Host: "new-holder", PID: 100, Acquired: time.Now()})
	writeClaim(t, breakPath, claim{Host: "dead-host", PID: 200, Acquired: time.Now().Add(-time.Hour)})

	if !l.reapClaim(breakPath) {
		t.Fatal("Expected stale renamed claim to be reaped")
	}
	data, err := os.ReadFile(l.path)
	if err != nil {
		t.Fatalf("Expected new holder's claim untouched: %v", err)
	}
	var c claim
	if err := json.Unmarshal(data, &c); err != nil || c.Host != "new-holder" {
		t.Errorf("Expected new holder's claim intact, got %s (err=%v)", data, err)
	}
}

func TestUnreadableClaimBroken(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "announce.lock")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	l := New(dir, "announce")
	if err := l.Acquire(time.Second); err != nil {
		t.Fatalf("Expected unreadable claim to be broken, got %v", err)
	}
	l.Release()
}

func TestHandoffBetweenHolders(t *testing.T) {
	dir := t.TempDir()
	first := New(dir, "announce")
	if err := first.Acquire(time.Second); err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 1)
	go func() {
		second := New(dir, "announce")
		done <- second.Acquire(2 * time.Second)
	}()

	time.Sleep(150 * time.Millisecond)
	first.Release()

	if err := <-done; err != nil {
		t.Fatalf("Expected waiter to acquire after release, got %v", err)
	}
}
