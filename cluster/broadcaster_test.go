package cluster_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
	"github.com/rbaliyan/mailbus/cluster/mapper/memory"
	transport "github.com/rbaliyan/mailbus/cluster/transport/memory"
	"github.com/rbaliyan/mailbus/codec"
)

type counter struct {
	name  string
	typ   mailbus.ListenerType
	calls atomic.Int64
	fail  bool
}

func (c *counter) Event(context.Context, mailbus.Event) error {
	c.calls.Add(1)
	if c.fail {
		return errors.New("listener failure")
	}
	return nil
}

func (c *counter) Type() mailbus.ListenerType           { return c.typ }
func (c *counter) ExecutionMode() mailbus.ExecutionMode { return mailbus.Synchronous }
func (c *counter) Name() string                         { return c.name }

type node struct {
	*cluster.Broadcaster
	register *cluster.PathRegister
}

type testCluster struct {
	store *memory.Mapper
	hub   *transport.Hub
	nodes map[string]*node
}

func newTestCluster(t *testing.T, mode cluster.Mode, names ...string) *testCluster {
	t.Helper()
	tc := &testCluster{store: memory.New(), hub: transport.NewHub(), nodes: make(map[string]*node)}
	for _, name := range names {
		reg := cluster.NewPathRegister(tc.store, cluster.WithTopic(cluster.Topic(name)))
		b := cluster.NewBroadcaster(mailbus.NewDispatcher(), reg, tc.hub, tc.hub.Consumer(), codec.JSON,
			cluster.WithMode(mode))
		if err := b.Start(context.Background()); err != nil {
			t.Fatalf("Start %s: %v", name, err)
		}
		t.Cleanup(func() { _ = b.Close(context.Background()) })
		tc.nodes[name] = &node{Broadcaster: b, register: reg}
	}
	return tc
}

func event(t *testing.T, path mailbus.MailboxPath) mailbus.Event {
	t.Helper()
	e, err := mailbus.NewEventFactory().Added().
		Session(1).
		User("alice").
		Path(path).
		MailboxID("mbx-1").
		AddMetaData(mailbus.MessageMetaData{UID: 1}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return e
}

func TestBroadcasterMailboxListeners(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A", "B", "C")

	la := &counter{name: "a", typ: mailbus.TypeMailbox}
	lb := &counter{name: "b", typ: mailbus.TypeMailbox}
	lc := &counter{name: "c", typ: mailbus.TypeMailbox}
	if err := tc.nodes["A"].AddListener(ctx, inbox, la); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := tc.nodes["B"].AddListener(ctx, inbox, lb); err != nil {
		t.Fatalf("AddListener: %v", err)
	}
	if err := tc.nodes["C"].AddListener(ctx, archive, lc); err != nil {
		t.Fatalf("AddListener: %v", err)
	}

	if err := tc.nodes["A"].Event(ctx, event(t, inbox)); err != nil {
		t.Fatalf("Event: %v", err)
	}

	if la.calls.Load() != 1 || lb.calls.Load() != 1 {
		t.Errorf("expected A and B listeners to fire once, got %d and %d", la.calls.Load(), lb.calls.Load())
	}
	if lc.calls.Load() != 0 {
		t.Errorf("expected C listener not to fire, got %d", lc.calls.Load())
	}
}

func TestBroadcasterOnceListeners(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A", "B", "C")

	counters := map[string]*counter{}
	for name, n := range tc.nodes {
		c := &counter{name: "once-" + name, typ: mailbus.TypeOnce}
		if err := n.AddGlobalListener(c); err != nil {
			t.Fatalf("AddGlobalListener: %v", err)
		}
		counters[name] = c
	}

	if err := tc.nodes["A"].Event(ctx, event(t, inbox)); err != nil {
		t.Fatalf("Event: %v", err)
	}

	if counters["A"].calls.Load() != 1 {
		t.Errorf("expected ONCE listener on A to fire, got %d", counters["A"].calls.Load())
	}
	for _, name := range []string{"B", "C"} {
		if got := counters[name].calls.Load(); got != 0 {
			t.Errorf("expected ONCE listener on %s not to fire, got %d", name, got)
		}
	}
}

func TestBroadcasterEachNodeListeners(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A", "B", "C")

	counters := map[string]*counter{}
	for name, n := range tc.nodes {
		c := &counter{name: "each-" + name, typ: mailbus.TypeEachNode}
		if err := n.AddGlobalListener(c); err != nil {
			t.Fatalf("AddGlobalListener: %v", err)
		}
		counters[name] = c
	}

	if err := tc.nodes["A"].Event(ctx, event(t, inbox)); err != nil {
		t.Fatalf("Event: %v", err)
	}

	var total int64
	for name, c := range counters {
		if got := c.calls.Load(); got != 1 {
			t.Errorf("expected EACH_NODE listener on %s to fire once, got %d", name, got)
		}
		total += c.calls.Load()
	}
	if total != 3 {
		t.Errorf("expected 3 deliveries, got %d", total)
	}
}

func TestBroadcasterRegisteredMode(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeRegistered, "A", "B", "C")

	lb := &counter{name: "b", typ: mailbus.TypeMailbox}
	_ = tc.nodes["B"].AddListener(ctx, inbox, lb)
	eachC := &counter{name: "each-c", typ: mailbus.TypeEachNode}
	_ = tc.nodes["C"].AddGlobalListener(eachC)

	_ = tc.nodes["A"].Event(ctx, event(t, inbox))

	if lb.calls.Load() != 1 {
		t.Errorf("expected B listener to fire, got %d", lb.calls.Load())
	}
	if eachC.calls.Load() != 0 {
		t.Errorf("expected C not to be reached without interest in the path, got %d", eachC.calls.Load())
	}
	if topics, _ := tc.store.Topics(ctx, cluster.MembershipPath); len(topics) != 0 {
		t.Errorf("expected no membership registration, got %v", topics)
	}
}

func TestBroadcasterIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A", "B")

	failing := &counter{name: "failing", typ: mailbus.TypeMailbox, fail: true}
	good := &counter{name: "good", typ: mailbus.TypeMailbox}
	remote := &counter{name: "remote", typ: mailbus.TypeMailbox}
	_ = tc.nodes["A"].AddListener(ctx, inbox, failing)
	_ = tc.nodes["A"].AddListener(ctx, inbox, good)
	_ = tc.nodes["B"].AddListener(ctx, inbox, remote)

	if err := tc.nodes["A"].Event(ctx, event(t, inbox)); err != nil {
		t.Fatalf("expected failures to stay invisible, got %v", err)
	}
	if failing.calls.Load() != 1 || good.calls.Load() != 1 || remote.calls.Load() != 1 {
		t.Errorf("unexpected calls: failing=%d good=%d remote=%d",
			failing.calls.Load(), good.calls.Load(), remote.calls.Load())
	}
}

func TestBroadcasterRejectsMailboxGlobalListener(t *testing.T) {
	tc := newTestCluster(t, cluster.ModeBroadcast, "A")
	err := tc.nodes["A"].AddGlobalListener(&counter{name: "m", typ: mailbus.TypeMailbox})
	if !errors.Is(err, mailbus.ErrInvalidListenerType) {
		t.Errorf("expected ErrInvalidListenerType, got %v", err)
	}

	err = tc.nodes["A"].AddListener(context.Background(), inbox, &counter{name: "o", typ: mailbus.TypeOnce})
	if !errors.Is(err, mailbus.ErrInvalidListenerType) {
		t.Errorf("expected ErrInvalidListenerType, got %v", err)
	}
	if tc.nodes["A"].register.Count(inbox) != 0 {
		t.Error("expected rejected registration not to be counted")
	}
}

func TestBroadcasterListenerRefCounts(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A")
	a := tc.nodes["A"]

	l1 := &counter{name: "l1", typ: mailbus.TypeMailbox}
	l2 := &counter{name: "l2", typ: mailbus.TypeMailbox}
	_ = a.AddListener(ctx, inbox, l1)
	_ = a.AddListener(ctx, inbox, l1)
	_ = a.AddListener(ctx, inbox, l2)
	if got := a.register.Count(inbox); got != 2 {
		t.Errorf("expected count 2, got %d", got)
	}

	_ = a.RemoveListener(ctx, inbox, l1)
	_ = a.RemoveListener(ctx, inbox, l1)
	if got := a.register.Count(inbox); got != 1 {
		t.Errorf("expected count 1, got %d", got)
	}
	_ = a.RemoveListener(ctx, inbox, l2)
	if topics, _ := tc.store.Topics(ctx, inbox); len(topics) != 0 {
		t.Errorf("expected store registration to be withdrawn, got %v", topics)
	}
}

func TestBroadcasterRenameAndDeletion(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A", "B")
	lb := &counter{name: "b", typ: mailbus.TypeMailbox}
	_ = tc.nodes["B"].AddListener(ctx, inbox, lb)

	f := mailbus.NewEventFactory()
	rename, err := f.MailboxRenamed().Session(1).User("alice").Path(inbox).MailboxID("mbx-1").NewPath(archive).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := tc.nodes["A"].Event(ctx, rename); err != nil {
		t.Fatalf("Event: %v", err)
	}
	if lb.calls.Load() != 1 {
		t.Fatalf("expected B to receive the rename, got %d", lb.calls.Load())
	}
	b := tc.nodes["B"]
	if b.register.Count(inbox) != 0 || b.register.Count(archive) != 1 {
		t.Errorf("expected B registration to follow the rename, got %d/%d",
			b.register.Count(inbox), b.register.Count(archive))
	}
	if topics, _ := tc.store.Topics(ctx, archive); len(topics) != 1 || topics[0] != "B" {
		t.Errorf("expected B under the new path, got %v", topics)
	}

	_ = tc.nodes["A"].Event(ctx, event(t, archive))
	if lb.calls.Load() != 2 {
		t.Errorf("expected B to receive events under the new path, got %d", lb.calls.Load())
	}

	deletion, err := f.MailboxDeleted().Session(1).User("alice").Path(archive).MailboxID("mbx-1").Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	_ = tc.nodes["A"].Event(ctx, deletion)
	if lb.calls.Load() != 3 {
		t.Errorf("expected B to receive the deletion, got %d", lb.calls.Load())
	}
	if b.register.Count(archive) != 0 {
		t.Error("expected B registration to be removed")
	}
	if topics, _ := tc.store.Topics(ctx, archive); len(topics) != 0 {
		t.Errorf("expected store entry to be removed, got %v", topics)
	}
}

func TestBroadcasterRenameOntoSharedListener(t *testing.T) {
	ctx := context.Background()
	tc := newTestCluster(t, cluster.ModeBroadcast, "A")
	a := tc.nodes["A"]
	l := &counter{name: "l", typ: mailbus.TypeMailbox}
	_ = a.AddListener(ctx, inbox, l)
	_ = a.AddListener(ctx, archive, l)

	rename, err := mailbus.NewEventFactory().MailboxRenamed().
		Session(1).User("alice").Path(inbox).MailboxID("mbx-1").NewPath(archive).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := a.Event(ctx, rename); err != nil {
		t.Fatalf("Event: %v", err)
	}
	if got := a.register.Count(archive); got != 1 {
		t.Errorf("expected one registration for the merged listener, got %d", got)
	}

	if err := a.RemoveListener(ctx, archive, l); err != nil {
		t.Fatalf("RemoveListener: %v", err)
	}
	if got := a.register.Count(archive); got != 0 {
		t.Errorf("expected count 0 with no listener left, got %d", got)
	}
	if topics, _ := tc.store.Topics(ctx, archive); len(topics) != 0 {
		t.Errorf("expected store registration to be withdrawn, got %v", topics)
	}
}

func TestBroadcasterClose(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hub := transport.NewHub()
	reg := cluster.NewPathRegister(store, cluster.WithTopic("A"))
	b := cluster.NewBroadcaster(mailbus.NewDispatcher(), reg, hub, hub.Consumer(), codec.CBOR)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(ctx); !errors.Is(err, cluster.ErrAlreadyStarted) {
		t.Errorf("expected ErrAlreadyStarted, got %v", err)
	}
	_ = b.AddListener(ctx, inbox, &counter{name: "l", typ: mailbus.TypeMailbox})

	if err := b.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, p := range []mailbus.MailboxPath{inbox, cluster.MembershipPath} {
		if topics, _ := store.Topics(ctx, p); len(topics) != 0 {
			t.Errorf("%s: expected registration to be withdrawn, got %v", p, topics)
		}
	}
	// Nothing consumes topic A anymore.
	if err := hub.Publish(ctx, "A", []byte("x")); err != nil {
		t.Errorf("Publish: %v", err)
	}
}

func TestBroadcasterMembershipFailureDoesNotBlockStart(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hub := transport.NewHub()
	reg := cluster.NewPathRegister(store, cluster.WithTopic("A"))
	b := cluster.NewBroadcaster(mailbus.NewDispatcher(), reg, hub, hub.Consumer(), codec.JSON)

	store.FailWith(errStore)
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer b.Close(ctx)
	store.FailWith(nil)

	if reg.Count(cluster.MembershipPath) != 1 {
		t.Error("expected membership to be counted locally")
	}
	if err := reg.Reconcile(ctx); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if topics, _ := store.Topics(ctx, cluster.MembershipPath); len(topics) != 1 {
		t.Errorf("expected reconciliation to restore membership, got %v", topics)
	}
}

type failingPublisher struct {
	cluster.Publisher
	fail cluster.Topic
}

func (p failingPublisher) Publish(ctx context.Context, topic cluster.Topic, payload []byte) error {
	if topic == p.fail {
		return errors.New("broker unavailable")
	}
	return p.Publisher.Publish(ctx, topic, payload)
}

func TestBroadcasterPublishFailureIsolated(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	hub := transport.NewHub()

	var nodes []*cluster.Broadcaster
	for _, name := range []cluster.Topic{"A", "B", "C"} {
		var pub cluster.Publisher = hub
		if name == "A" {
			pub = failingPublisher{Publisher: hub, fail: "B"}
		}
		reg := cluster.NewPathRegister(store, cluster.WithTopic(name))
		b := cluster.NewBroadcaster(mailbus.NewDispatcher(), reg, pub, hub.Consumer(), codec.JSON)
		if err := b.Start(ctx); err != nil {
			t.Fatalf("Start %s: %v", name, err)
		}
		t.Cleanup(func() { _ = b.Close(context.Background()) })
		nodes = append(nodes, b)
	}

	lb := &counter{name: "b", typ: mailbus.TypeMailbox}
	lc := &counter{name: "c", typ: mailbus.TypeMailbox}
	_ = nodes[1].AddListener(ctx, inbox, lb)
	_ = nodes[2].AddListener(ctx, inbox, lc)

	if err := nodes[0].Event(ctx, event(t, inbox)); err != nil {
		t.Fatalf("expected publication failures not to be returned, got %v", err)
	}
	if lb.calls.Load() != 0 {
		t.Errorf("expected B to miss the event, got %d calls", lb.calls.Load())
	}
	if lc.calls.Load() != 1 {
		t.Errorf("expected C to receive the event, got %d calls", lc.calls.Load())
	}
}
