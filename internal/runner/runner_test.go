package runner

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/busybox42/listflow/internal/api"
	"github.com/busybox42/listflow/internal/bounce"
	"github.com/busybox42/listflow/internal/cache"
	"github.com/busybox42/listflow/internal/delivery"
	"github.com/busybox42/listflow/internal/list"
	"github.com/busybox42/listflow/internal/lock"
	"github.com/busybox42/listflow/internal/membership"
	"github.com/busybox42/listflow/internal/pipeline"
	"github.com/busybox42/listflow/internal/queue"
)

type env struct {
	incoming *queue.Switchboard
	outgoing *queue.Switchboard
	bounces  *queue.Switchboard
	retry    *queue.Switchboard
	hold     *queue.Switchboard
	archive  *queue.Switchboard

	lists    *list.Store
	members  *membership.Mock
	sink     *delivery.Sink
	registry *pipeline.Registry
	lockDir  string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	open := func(name string) *queue.Switchboard {
		sb, err := queue.Open(filepath.Join(root, "queues"), name)
		require.NoError(t, err)
		return sb
	}

	listDir := filepath.Join(root, "lists")
	require.NoError(t, os.MkdirAll(listDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(listDir, "dev.toml"), []byte(`
name = "dev"
host = "lists.example.com"
description = "Development chatter"
subject_prefix = "[dev] "
archive = true
`), 0o644))

	members := membership.NewMock("test")
	require.NoError(t, members.Connect())
	members.AddMember("dev", membership.Member{Address: "alice@example.com", DeliveryEnabled: true})
	members.AddMember("dev", membership.Member{Address: "bob@example.com", DeliveryEnabled: true})

	seen := cache.NewMemory(cache.Config{Name: "test"})
	require.NoError(t, seen.Connect())
	t.Cleanup(func() { seen.Close() })

	e := &env{
		incoming: open(queue.Incoming),
		outgoing: open(queue.Outgoing),
		bounces:  open(queue.Bounces),
		retry:    open(queue.Retry),
		hold:     open(queue.Hold),
		archive:  open(queue.Archive),
		lists:    list.NewStore(listDir),
		members:  members,
		sink:     delivery.NewSink(),
		lockDir:  filepath.Join(root, "locks"),
	}
	require.NoError(t, os.MkdirAll(e.lockDir, 0o755))

	registry, err := pipeline.DefaultRegistry(pipeline.Deps{
		Members:   members,
		Seen:      seen,
		Outgoing:  e.outgoing,
		Archive:   e.archive,
		Deliverer: e.sink,
	})
	require.NoError(t, err)
	e.registry = registry
	return e
}

func (e *env) incomingHandler() *Incoming {
	return NewIncoming(IncomingConfig{
		Board:       e.incoming,
		Hold:        e.hold,
		Retry:       e.retry,
		Lists:       e.lists,
		Registry:    e.registry,
		Notices:     e.sink,
		LockDir:     e.lockDir,
		LockTimeout: 2 * time.Second,
	})
}

func enqueueRaw(t *testing.T, sb *queue.Switchboard, raw string, meta queue.Metadata) *queue.Item {
	t.Helper()
	_, err := sb.Enqueue([]byte(strings.ReplaceAll(raw, "\n", "\r\n")), meta)
	require.NoError(t, err)
	item, err := sb.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, item)
	return item
}

const post = `From: Alice <alice@example.com>
To: dev@lists.example.com
Subject: api question
Message-Id: <post-1@example.com>

How do I open a switchboard?
`

func pendingCount(t *testing.T, sb *queue.Switchboard) int {
	t.Helper()
	n, err := sb.Len()
	require.NoError(t, err)
	return n
}

func TestIncomingAck(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.incoming, post, queue.Metadata{queue.MetaListname: "dev"})

	require.NoError(t, e.incomingHandler().Handle(context.Background(), item))

	assert.Equal(t, 0, pendingCount(t, e.incoming))
	assert.Equal(t, 1, pendingCount(t, e.outgoing))
	assert.Equal(t, 1, pendingCount(t, e.archive))

	out, err := e.outgoing.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, out.Meta.GetStringList(queue.MetaRecips))
	assert.Contains(t, string(out.Message), "[dev] api question")
}

func TestIncomingUnknownListDropped(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.incoming, post, queue.Metadata{queue.MetaListname: "nope"})

	require.NoError(t, e.incomingHandler().Handle(context.Background(), item))
	assert.Equal(t, 0, pendingCount(t, e.incoming))
	assert.Equal(t, 0, pendingCount(t, e.outgoing))
}

func TestIncomingHold(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.incoming, post, queue.Metadata{
		queue.MetaListname: "dev",
		queue.MetaSender:   "stranger@elsewhere.org",
	})

	lst, err := e.lists.Get("dev")
	require.NoError(t, err)
	lst.ModerateNonmembers = true

	require.NoError(t, e.incomingHandler().Handle(context.Background(), item))
	assert.Equal(t, 0, pendingCount(t, e.outgoing))

	held, err := e.hold.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, held)
	assert.Contains(t, held.Meta.GetString(queue.MetaReason), "non-member")
}

// A moderator-released hold must travel the whole path: back through the
// pipeline with recipients calculated from the roster, out the fan-out
// stages, and through delivery.
func TestReleasedHoldDeliversToRoster(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.incoming, post, queue.Metadata{
		queue.MetaListname: "dev",
		queue.MetaSender:   "stranger@elsewhere.org",
	})

	lst, err := e.lists.Get("dev")
	require.NoError(t, err)
	lst.ModerateNonmembers = true

	require.NoError(t, e.incomingHandler().Handle(context.Background(), item))
	require.Equal(t, 1, pendingCount(t, e.hold))

	held, err := e.hold.Pending()
	require.NoError(t, err)
	require.Len(t, held, 1)

	srv := api.NewServer(":0", map[string]*queue.Switchboard{
		queue.Hold:     e.hold,
		queue.Incoming: e.incoming,
	}, e.hold, e.incoming)
	req := httptest.NewRequest("POST", "/api/holds/"+held[0].ID+"/release", nil)
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	released, err := e.incoming.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, released)
	require.NoError(t, e.incomingHandler().Handle(context.Background(), released))

	assert.Equal(t, 0, pendingCount(t, e.hold))
	assert.Equal(t, 1, pendingCount(t, e.archive))

	out, err := e.outgoing.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, out, "released post must reach outgoing")
	assert.Equal(t, []string{"alice@example.com", "bob@example.com"}, out.Meta.GetStringList(queue.MetaRecips))

	h := NewOutgoing(e.outgoing, e.retry, e.lists, e.registry)
	require.NoError(t, h.Handle(context.Background(), out))

	sent := e.sink.Sent()
	require.Len(t, sent, 1)
	assert.ElementsMatch(t, []string{"alice@example.com", "bob@example.com"}, sent[0].Recipients)
}

func TestIncomingLockBusyRequeues(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.incoming, post, queue.Metadata{queue.MetaListname: "dev"})

	other := lock.New(e.lockDir, "dev")
	require.NoError(t, other.Acquire(time.Second))
	defer other.Release()

	h := NewIncoming(IncomingConfig{
		Board:       e.incoming,
		Hold:        e.hold,
		Retry:       e.retry,
		Lists:       e.lists,
		Registry:    e.registry,
		Notices:     e.sink,
		LockDir:     e.lockDir,
		LockTimeout: 200 * time.Millisecond,
	})
	require.NoError(t, h.Handle(context.Background(), item))
	assert.Equal(t, 1, pendingCount(t, e.incoming), "item must return to the queue")
}

func TestIncomingRejectSendsNotice(t *testing.T) {
	e := newEnv(t)
	root := t.TempDir()
	listDir := filepath.Join(root, "lists")
	require.NoError(t, os.MkdirAll(listDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(listDir, "dev.toml"), []byte(`
name = "dev"
host = "lists.example.com"

[[header_filters]]
header = "Subject"
pattern = "viagra"
action = "reject"
notice = "Not on this list."
`), 0o644))
	e.lists = list.NewStore(listDir)

	item := enqueueRaw(t, e.incoming, strings.Replace(post, "api question", "cheap viagra", 1),
		queue.Metadata{queue.MetaListname: "dev"})

	require.NoError(t, e.incomingHandler().Handle(context.Background(), item))
	assert.Equal(t, 0, pendingCount(t, e.incoming))

	sent := e.sink.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"alice@example.com"}, sent[0].Recipients)
	assert.Contains(t, string(sent[0].Message), "Not on this list.")
}

func TestOutgoingPartialFailureGoesToRetry(t *testing.T) {
	e := newEnv(t)
	e.sink.Outcomes["bob@example.com"] = delivery.TempFail

	item := enqueueRaw(t, e.outgoing, post, queue.Metadata{
		queue.MetaListname: "dev",
		queue.MetaRecips:   []string{"alice@example.com", "bob@example.com"},
	})

	h := NewOutgoing(e.outgoing, e.retry, e.lists, e.registry)
	require.NoError(t, h.Handle(context.Background(), item))

	assert.Equal(t, 0, pendingCount(t, e.outgoing))
	retried, err := e.retry.Dequeue()
	require.NoError(t, err)
	require.NotNil(t, retried)
	assert.Equal(t, []string{"bob@example.com"}, retried.Meta.GetStringList(queue.MetaRecips))
}

func TestOutgoingDeliveredAck(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.outgoing, post, queue.Metadata{
		queue.MetaListname: "dev",
		queue.MetaRecips:   []string{"alice@example.com"},
	})

	h := NewOutgoing(e.outgoing, e.retry, e.lists, e.registry)
	require.NoError(t, h.Handle(context.Background(), item))
	assert.Equal(t, 0, pendingCount(t, e.outgoing))
	assert.Equal(t, 0, pendingCount(t, e.retry))
	assert.Len(t, e.sink.Sent(), 1)
}

func TestRetryMovesBackToOutgoing(t *testing.T) {
	e := newEnv(t)
	_, err := e.retry.Enqueue([]byte(post), queue.Metadata{queue.MetaListname: "dev"})
	require.NoError(t, err)

	r := NewRetry(e.retry, e.outgoing, time.Minute)
	r.drain(context.Background())

	assert.Equal(t, 0, pendingCount(t, e.retry))
	assert.Equal(t, 1, pendingCount(t, e.outgoing))
}

func bounceHandler(e *env) *Bounce {
	return NewBounce(e.bounces, e.lists, e.members, bounce.New(bounce.DefaultModules()), e.lockDir, 2*time.Second)
}

func TestBounceVERPShortCircuit(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.bounces, `From: MAILER-DAEMON@elsewhere.example
To: dev-bounces+alice=example.com@lists.example.com
Subject: delivery failure

Something entirely unparsable.
`, queue.Metadata{queue.MetaListname: "dev"})

	require.NoError(t, bounceHandler(e).Handle(context.Background(), item))
	assert.Equal(t, []string{"dev/alice@example.com"}, e.members.BounceRecords)
	assert.Equal(t, 0, pendingCount(t, e.bounces))
}

func TestBounceClassified(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.bounces, `From: MAILER-DAEMON@yahoo.com
To: dev-bounces@lists.example.com
Subject: failure delivery

Unfortunately, mail to the following recipients could not be delivered.

<bob@example.com>:
User is over quota.
`, queue.Metadata{queue.MetaListname: "dev"})

	require.NoError(t, bounceHandler(e).Handle(context.Background(), item))
	assert.Equal(t, []string{"dev/bob@example.com"}, e.members.BounceRecords)
}

func TestBounceUnrecognizedIsNoInformation(t *testing.T) {
	e := newEnv(t)
	item := enqueueRaw(t, e.bounces, `From: someone@example.com
To: dev-bounces@lists.example.com
Subject: out of office

I am away until Monday.
`, queue.Metadata{queue.MetaListname: "dev"})

	require.NoError(t, bounceHandler(e).Handle(context.Background(), item))
	assert.Empty(t, e.members.BounceRecords)
	assert.Equal(t, 0, pendingCount(t, e.bounces))
}

type countingHandler struct {
	done chan struct{}
}

func (c *countingHandler) Handle(ctx context.Context, item *queue.Item) error {
	close(c.done)
	return nil
}

func TestRunnerLoopDispatchesAndStops(t *testing.T) {
	e := newEnv(t)
	_, err := e.incoming.Enqueue([]byte(post), queue.Metadata{queue.MetaListname: "dev"})
	require.NoError(t, err)

	h := &countingHandler{done: make(chan struct{})}
	r := New("test", e.incoming, h, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler never dispatched")
	}
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
