package queue

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/busybox42/listflow/internal/metrics"
)

func setupSwitchboard(t *testing.T) *Switchboard {
	t.Helper()
	sb, err := Open(t.TempDir(), Incoming)
	if err != nil {
		t.Fatalf("Error opening switchboard: %v", err)
	}
	return sb
}

func TestEnqueueDequeueFinish(t *testing.T) {
	sb := setupSwitchboard(t)

	msg := []byte("From: a@example.com\r\nTo: list@example.com\r\n\r\nhello\r\n")
	meta := Metadata{
		MetaListname: "announce",
		MetaRecips:   []string{"a@example.com", "b@example.com"},
		MetaVerp:     true,
	}

	id, err := sb.Enqueue(msg, meta)
	if err != nil {
		t.Fatalf("Error enqueuing: %v", err)
	}
	if id == "" {
		t.Fatal("Expected non-empty item ID")
	}

	n, err := sb.Len()
	if err != nil || n != 1 {
		t.Fatalf("Expected 1 pending item, got %d (err=%v)", n, err)
	}

	item, err := sb.Dequeue()
	if err != nil {
		t.Fatalf("Error dequeuing: %v", err)
	}
	if item == nil {
		t.Fatal("Expected an item, got nil")
	}
	if item.ID != id {
		t.Errorf("Expected item ID %s, got %s", id, item.ID)
	}
	if string(item.Message) != string(msg) {
		t.Errorf("Message bytes differ after reload")
	}
	if item.Meta.GetString(MetaListname) != "announce" {
		t.Errorf("Expected listname=announce, got %q", item.Meta.GetString(MetaListname))
	}
	if got := item.Meta.GetStringList(MetaRecips); len(got) != 2 || got[0] != "a@example.com" {
		t.Errorf("Recipient list lost through persistence: %v", got)
	}
	if !item.Meta.GetBool(MetaVerp) {
		t.Error("verp flag lost through persistence")
	}

	// Claimed items are invisible to other dequeues.
	if other, _ := sb.Dequeue(); other != nil {
		t.Errorf("Expected empty queue while item claimed, got %s", other.ID)
	}

	if err := sb.Finish(item); err != nil {
		t.Fatalf("Error finishing: %v", err)
	}
	if n, _ := sb.Len(); n != 0 {
		t.Errorf("Expected empty queue after finish, got %d", n)
	}
}

func TestDequeueEmpty(t *testing.T) {
	sb := setupSwitchboard(t)
	item, err := sb.Dequeue()
	if err != nil {
		t.Fatalf("Error dequeuing from empty queue: %v", err)
	}
	if item != nil {
		t.Fatalf("Expected nil item from empty queue, got %s", item.ID)
	}
}

func TestAtMostOneClaim(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir, Incoming)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(dir, Incoming)
	if err != nil {
		t.Fatal(err)
	}

	const total = 20
	for i := 0; i < total; i++ {
		if _, err := a.Enqueue([]byte(fmt.Sprintf("msg %d", i)), nil); err != nil {
			t.Fatalf("Error enqueuing: %v", err)
		}
	}

	seen := make(map[string]bool)
	claimed := 0
	for {
		item, err := a.Dequeue()
		if err != nil {
			t.Fatal(err)
		}
		if item == nil {
			item, err = b.Dequeue()
			if err != nil {
				t.Fatal(err)
			}
		}
		if item == nil {
			break
		}
		if seen[item.ID] {
			t.Fatalf("Item %s claimed twice", item.ID)
		}
		seen[item.ID] = true
		claimed++
	}
	if claimed != total {
		t.Errorf("Expected %d claims, got %d", total, claimed)
	}
}

func TestRequeuePreservesMutations(t *testing.T) {
	sb := setupSwitchboard(t)

	if _, err := sb.Enqueue([]byte("body"), Metadata{MetaRecips: []string{"a@x", "b@x"}}); err != nil {
		t.Fatal(err)
	}
	item, err := sb.Dequeue()
	if err != nil || item == nil {
		t.Fatalf("Dequeue failed: %v", err)
	}

	item.Meta[MetaRecips] = []string{"b@x"} // a@x delivered, b@x deferred
	if err := sb.Requeue(item); err != nil {
		t.Fatalf("Error requeuing: %v", err)
	}

	again, err := sb.Dequeue()
	if err != nil || again == nil {
		t.Fatalf("Dequeue after requeue failed: %v", err)
	}
	if got := again.Meta.GetStringList(MetaRecips); len(got) != 1 || got[0] != "b@x" {
		t.Errorf("Expected mutated recips to survive requeue, got %v", got)
	}
	if again.Attempts != 2 {
		t.Errorf("Expected 2 attempts recorded, got %d", again.Attempts)
	}
}

func TestRecoverOrphanedInflight(t *testing.T) {
	dir := t.TempDir()
	sb, err := Open(dir, Outgoing)
	if err != nil {
		t.Fatal(err)
	}

	id, err := sb.Enqueue([]byte("crashing"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Dequeue(); err != nil {
		t.Fatal(err)
	}
	// Simulate a crashed worker: the claim is never finished or requeued.

	restarted, err := Open(dir, Outgoing)
	if err != nil {
		t.Fatal(err)
	}
	recovered, err := restarted.Recover()
	if err != nil {
		t.Fatalf("Error recovering: %v", err)
	}
	if recovered != 1 {
		t.Fatalf("Expected 1 recovered item, got %d", recovered)
	}

	item, err := restarted.Dequeue()
	if err != nil || item == nil {
		t.Fatalf("Expected recovered item to be claimable, got item=%v err=%v", item, err)
	}
	if item.ID != id {
		t.Errorf("Expected recovered item %s, got %s", id, item.ID)
	}
}

func TestEnqueueIDIsIdempotent(t *testing.T) {
	sb := setupSwitchboard(t)

	for i := 0; i < 3; i++ {
		if _, err := sb.EnqueueID("deadbeef", []byte("same message"), nil); err != nil {
			t.Fatalf("Error on enqueue %d: %v", i, err)
		}
	}
	if n, _ := sb.Len(); n != 1 {
		t.Errorf("Expected exactly one pending copy, got %d", n)
	}
}

func TestEnqueueCountsItems(t *testing.T) {
	sb := setupSwitchboard(t)

	before := testutil.ToFloat64(metrics.ItemsEnqueued.WithLabelValues(sb.Name()))
	if _, err := sb.Enqueue([]byte("one"), nil); err != nil {
		t.Fatalf("Error enqueuing: %v", err)
	}
	if _, err := sb.Enqueue([]byte("two"), nil); err != nil {
		t.Fatalf("Error enqueuing: %v", err)
	}
	after := testutil.ToFloat64(metrics.ItemsEnqueued.WithLabelValues(sb.Name()))
	if got := after - before; got != 2 {
		t.Errorf("Expected enqueue counter to grow by 2, grew by %v", got)
	}
}

func TestSlicesPartitionPendingSet(t *testing.T) {
	dir := t.TempDir()
	sb, err := Open(dir, Incoming)
	if err != nil {
		t.Fatal(err)
	}

	const total = 40
	for i := 0; i < total; i++ {
		if _, err := sb.Enqueue([]byte("x"), nil); err != nil {
			t.Fatal(err)
		}
	}

	const slices = 4
	counts := make([]int, slices)
	seen := make(map[string]bool)
	for n := 0; n < slices; n++ {
		view := sb.Slice(n, slices)
		for {
			item, err := view.Dequeue()
			if err != nil {
				t.Fatal(err)
			}
			if item == nil {
				break
			}
			if seen[item.ID] {
				t.Fatalf("Item %s visible to two slices", item.ID)
			}
			seen[item.ID] = true
			counts[n]++
		}
	}
	if len(seen) != total {
		t.Errorf("Expected slices to cover all %d items, got %d", total, len(seen))
	}
}

func TestMalformedItemQuarantined(t *testing.T) {
	dir := t.TempDir()
	sb, err := Open(dir, Incoming)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sb.Enqueue([]byte("good"), nil); err != nil {
		t.Fatal(err)
	}
	bad := filepath.Join(dir, Incoming, "pending", "not-json.json")
	if err := os.WriteFile(bad, []byte("{{{"), 0o644); err != nil {
		t.Fatal(err)
	}

	var got *Item
	for i := 0; i < 2; i++ {
		item, err := sb.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue must not fail on malformed items: %v", err)
		}
		if item != nil {
			got = item
		}
	}
	if got == nil || string(got.Message) != "good" {
		t.Fatalf("Expected the well-formed item to survive, got %v", got)
	}

	entries, err := os.ReadDir(filepath.Join(dir, Incoming, "corrupt"))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected 1 quarantined file, got %d", len(entries))
	}
}

func TestMoveTo(t *testing.T) {
	dir := t.TempDir()
	in, err := Open(dir, Incoming)
	if err != nil {
		t.Fatal(err)
	}
	out, err := Open(dir, Outgoing)
	if err != nil {
		t.Fatal(err)
	}

	id, err := in.Enqueue([]byte("forward me"), Metadata{MetaListname: "dev"})
	if err != nil {
		t.Fatal(err)
	}
	item, err := in.Dequeue()
	if err != nil || item == nil {
		t.Fatal("expected item")
	}
	if err := in.MoveTo(out, item); err != nil {
		t.Fatalf("Error moving item: %v", err)
	}

	if n, _ := in.Len(); n != 0 {
		t.Errorf("Expected source queue empty, got %d", n)
	}
	moved, err := out.Dequeue()
	if err != nil || moved == nil {
		t.Fatal("expected moved item")
	}
	if moved.ID != id {
		t.Errorf("Expected moved item %s, got %s", id, moved.ID)
	}
}
