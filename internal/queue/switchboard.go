// Package queue implements the switchboard: a crash-safe, filesystem-backed
// queue of messages awaiting processing. Each item is a (message bytes,
// metadata) pair stored as a single JSON file. Claiming an item renames it
// from the pending directory into the in-flight directory, which is atomic
// on POSIX filesystems, so any number of runner instances can drain the same
// queue without cross-instance locks.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/busybox42/listflow/internal/metrics"
)

// Well-known queue names across the processing chain.
const (
	Incoming = "incoming"
	Outgoing = "outgoing"
	Bounces  = "bounces"
	Retry    = "retry"
	Archive  = "archive"
	Hold     = "hold"
)

const (
	dirTmp      = "tmp"
	dirPending  = "pending"
	dirInflight = "inflight"
	dirCorrupt  = "corrupt"

	// claimSep separates the item ID from the claiming worker ID in an
	// in-flight file name. Item IDs are UUIDs or hex digests and never
	// contain it.
	claimSep = "~"
)

var (
	// ErrNotClaimed is returned when finishing or requeuing an item this
	// switchboard instance does not hold a claim on.
	ErrNotClaimed = errors.New("queue: item not claimed by this instance")
)

// Item is one unit of queued work: the raw RFC 822 message plus its
// processing metadata. An item is owned by the switchboard until a Dequeue
// claims it, and by the claiming runner until Finish or Requeue.
type Item struct {
	ID       string    `json:"id"`
	Message  []byte    `json:"message"`
	Meta     Metadata  `json:"meta"`
	Enqueued time.Time `json:"enqueued"`
	Attempts int       `json:"attempts"`

	// claim is the in-flight file path while this item is checked out.
	claim string
}

// Switchboard is a handle on one named queue. A zero slice count means the
// instance considers every pending item; Slice restricts it to a hash
// partition for cheap parallel consumption.
type Switchboard struct {
	name      string
	dir       string
	workerID  string
	slice     int
	numSlices int
	logger    *slog.Logger
}

// Open returns a switchboard for the named queue under root, creating the
// on-disk layout if needed.
func Open(root, name string) (*Switchboard, error) {
	sb := &Switchboard{
		name:      name,
		dir:       filepath.Join(root, name),
		workerID:  defaultWorkerID(),
		numSlices: 1,
		logger:    slog.Default().With("component", "switchboard", "queue", name),
	}
	for _, sub := range []string{dirTmp, dirPending, dirInflight, dirCorrupt} {
		if err := os.MkdirAll(filepath.Join(sb.dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create queue directory: %w", err)
		}
	}
	return sb, nil
}

// Slice returns a view of the same queue restricted to the items whose ID
// hashes into partition n of total. Views share the underlying directories;
// only the pending-set filter and worker identity differ.
func (sb *Switchboard) Slice(n, total int) *Switchboard {
	view := *sb
	view.slice = n
	view.numSlices = total
	view.workerID = fmt.Sprintf("%s.s%d", sb.workerID, n)
	view.logger = sb.logger.With("slice", n, "slices", total)
	return &view
}

// Name returns the queue name.
func (sb *Switchboard) Name() string { return sb.name }

// Enqueue durably persists a new item and returns its ID. The item is
// written into tmp and renamed into pending, so a concurrent reader sees
// either the complete item or nothing.
func (sb *Switchboard) Enqueue(message []byte, meta Metadata) (string, error) {
	return sb.EnqueueID(uuid.New().String(), message, meta)
}

// EnqueueID is Enqueue with a caller-chosen ID. Enqueuing the same ID twice
// replaces the pending copy, which makes fan-out side effects (archiving in
// particular) naturally idempotent: re-running a stage re-enqueues the same
// item rather than duplicating it.
func (sb *Switchboard) EnqueueID(id string, message []byte, meta Metadata) (string, error) {
	if meta == nil {
		meta = Metadata{}
	}
	item := Item{
		ID:       id,
		Message:  message,
		Meta:     meta,
		Enqueued: time.Now(),
	}
	if err := sb.writePending(&item); err != nil {
		return "", err
	}
	metrics.ItemsEnqueued.WithLabelValues(sb.name).Inc()
	sb.logger.Debug("item enqueued", "item_id", id, "size", len(message))
	return id, nil
}

// Dequeue claims one pending item, or returns nil when none is available.
// The claim renames the item file into the in-flight directory; a rename
// that fails because the file is gone means another instance won the race,
// and the next candidate is tried. A file that cannot be decoded is moved
// aside to the corrupt directory and skipped, never allowed to wedge the
// queue.
func (sb *Switchboard) Dequeue() (*Item, error) {
	ids, err := sb.pendingIDs()
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		src := filepath.Join(sb.dir, dirPending, id+".json")
		dst := filepath.Join(sb.dir, dirInflight, id+claimSep+sb.workerID+".json")
		if err := os.Rename(src, dst); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue // claimed by another runner
			}
			return nil, fmt.Errorf("failed to claim item %s: %w", id, err)
		}
		item, err := readItem(dst)
		if err != nil {
			sb.quarantine(dst, err)
			continue
		}
		item.claim = dst
		item.Attempts++
		return item, nil
	}
	return nil, nil
}

// Finish permanently removes a claimed item. It must only be called after
// the item has been fully disposed of.
func (sb *Switchboard) Finish(item *Item) error {
	if item.claim == "" {
		return ErrNotClaimed
	}
	if err := os.Remove(item.claim); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove finished item %s: %w", item.ID, err)
	}
	item.claim = ""
	return nil
}

// Requeue persists the (possibly mutated) item back into pending for a
// later pass and drops the claim. The pending copy is written before the
// claim file is removed; a crash in between leaves a duplicate, preserving
// at-least-once delivery.
func (sb *Switchboard) Requeue(item *Item) error {
	if item.claim == "" {
		return ErrNotClaimed
	}
	if err := sb.writePending(item); err != nil {
		return err
	}
	if err := os.Remove(item.claim); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to release claim on %s: %w", item.ID, err)
	}
	item.claim = ""
	sb.logger.Debug("item requeued", "item_id", item.ID, "attempts", item.Attempts)
	return nil
}

// MoveTo re-enqueues a claimed item onto another switchboard and finishes
// it here. Used by runners to advance items along the incoming → outgoing →
// retry chain.
func (sb *Switchboard) MoveTo(dst *Switchboard, item *Item) error {
	if _, err := dst.EnqueueID(item.ID, item.Message, item.Meta); err != nil {
		return err
	}
	return sb.Finish(item)
}

// Recover moves orphaned in-flight items back to pending. It is the startup
// reconciliation pass: an in-flight file whose worker is no longer running
// belongs to a crashed runner and its item must become claimable again.
// Recover assumes no runner is currently active on this queue.
func (sb *Switchboard) Recover() (int, error) {
	entries, err := os.ReadDir(filepath.Join(sb.dir, dirInflight))
	if err != nil {
		return 0, fmt.Errorf("failed to read inflight directory: %w", err)
	}
	recovered := 0
	for _, e := range entries {
		name := e.Name()
		id, _, ok := strings.Cut(strings.TrimSuffix(name, ".json"), claimSep)
		if !ok {
			continue
		}
		src := filepath.Join(sb.dir, dirInflight, name)
		dst := filepath.Join(sb.dir, dirPending, id+".json")
		if err := os.Rename(src, dst); err != nil {
			sb.logger.Warn("failed to recover orphaned item", "file", name, "error", err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		sb.logger.Info("recovered orphaned in-flight items", "count", recovered)
	}
	return recovered, nil
}

// Len returns the number of pending items visible to this instance.
func (sb *Switchboard) Len() (int, error) {
	ids, err := sb.pendingIDs()
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Pending returns decoded copies of every pending item visible to this
// instance, for inspection tooling. Malformed files are quarantined and
// skipped.
func (sb *Switchboard) Pending() ([]*Item, error) {
	ids, err := sb.pendingIDs()
	if err != nil {
		return nil, err
	}
	items := make([]*Item, 0, len(ids))
	for _, id := range ids {
		path := filepath.Join(sb.dir, dirPending, id+".json")
		item, err := readItem(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			sb.quarantine(path, err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Flush deletes every pending item. Claimed items are untouched.
func (sb *Switchboard) Flush() (int, error) {
	ids, err := sb.pendingIDs()
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, id := range ids {
		if err := os.Remove(filepath.Join(sb.dir, dirPending, id+".json")); err == nil {
			removed++
		}
	}
	return removed, nil
}

func (sb *Switchboard) writePending(item *Item) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal item: %w", err)
	}
	tmp := filepath.Join(sb.dir, dirTmp, item.ID+".json")
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create item file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to write item file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync item file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close item file: %w", err)
	}
	dst := filepath.Join(sb.dir, dirPending, item.ID+".json")
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to publish item file: %w", err)
	}
	return nil
}

// pendingIDs lists pending item IDs, oldest first, restricted to this
// instance's slice.
func (sb *Switchboard) pendingIDs() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(sb.dir, dirPending))
	if err != nil {
		return nil, fmt.Errorf("failed to read pending directory: %w", err)
	}
	type pending struct {
		id  string
		mod time.Time
	}
	var candidates []pending
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if sb.numSlices > 1 && sliceOf(id, sb.numSlices) != sb.slice {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		candidates = append(candidates, pending{id: id, mod: info.ModTime()})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].mod.Before(candidates[j].mod) })
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.id
	}
	return ids, nil
}

func (sb *Switchboard) quarantine(path string, cause error) {
	dst := filepath.Join(sb.dir, dirCorrupt, filepath.Base(path))
	if err := os.Rename(path, dst); err != nil {
		sb.logger.Error("failed to quarantine malformed item", "file", path, "error", err)
		return
	}
	sb.logger.Warn("quarantined malformed item", "file", filepath.Base(path), "error", cause)
}

func readItem(path string) (*Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var item Item
	if err := json.Unmarshal(data, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal item: %w", err)
	}
	if item.ID == "" {
		return nil, fmt.Errorf("item missing id")
	}
	if item.Meta == nil {
		item.Meta = Metadata{}
	}
	item.Meta.normalize()
	return &item, nil
}

// sliceOf maps an item ID onto one of total partitions.
func sliceOf(id string, total int) int {
	h := fnv.New32a()
	h.Write([]byte(id))
	return int(h.Sum32() % uint32(total))
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "local"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
