package cluster

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/retry"
)

// entry is the reference count of one path. Its mutex serializes the count
// change together with the backing-store call it triggers. A dead entry has
// been removed from the map and must not be used.
type entry struct {
	mu    sync.Mutex
	count int
	dead  bool
}

// PathRegister counts local registrations per mailbox path and mirrors the
// paths with a positive count in a PathRegisterMapper under the local topic.
//
// Backing-store failures are returned to the caller once the local count is
// updated; the count is never rolled back. Reconciliation re-registers every
// counted path periodically and retries the withdrawals that failed, so the
// store converges to the local counts.
type PathRegister struct {
	mapper   PathRegisterMapper
	topic    Topic
	logger   *slog.Logger
	retry    retry.Policy
	interval time.Duration

	mu      sync.Mutex
	entries map[mailbus.MailboxPath]*entry
	// paths whose withdrawal from the store failed
	pending map[mailbus.MailboxPath]struct{}

	runMu  sync.Mutex
	cron   *cron.Cron
	cancel context.CancelFunc
}

// NewPathRegister creates a register backed by mapper.
func NewPathRegister(mapper PathRegisterMapper, opts ...Option) *PathRegister {
	o := newOptions(opts...)
	topic := o.topic
	if topic == "" {
		topic = Topic(uuid.NewString())
	}
	return &PathRegister{
		mapper:   mapper,
		topic:    topic,
		logger:   o.logger,
		retry:    o.retry,
		interval: o.reconcileInterval,
		entries:  make(map[mailbus.MailboxPath]*entry),
		pending:  make(map[mailbus.MailboxPath]struct{}),
	}
}

// LocalTopic returns the topic of this node.
func (r *PathRegister) LocalTopic() Topic {
	return r.topic
}

// lockEntry returns the locked entry of path, creating it if needed.
func (r *PathRegister) lockEntry(path mailbus.MailboxPath) *entry {
	for {
		r.mu.Lock()
		e, ok := r.entries[path]
		if !ok {
			e = &entry{}
			r.entries[path] = e
		}
		r.mu.Unlock()

		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// existingEntry returns the locked entry of path, or nil if there is none.
func (r *PathRegister) existingEntry(path mailbus.MailboxPath) *entry {
	for {
		r.mu.Lock()
		e, ok := r.entries[path]
		r.mu.Unlock()
		if !ok {
			return nil
		}

		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

// drop removes the locked entry e of path from the map.
func (r *PathRegister) drop(path mailbus.MailboxPath, e *entry) {
	e.dead = true
	e.count = 0
	r.mu.Lock()
	if r.entries[path] == e {
		delete(r.entries, path)
	}
	r.mu.Unlock()
}

func (r *PathRegister) setPending(path mailbus.MailboxPath, failed bool) {
	r.mu.Lock()
	if failed {
		r.pending[path] = struct{}{}
	} else {
		delete(r.pending, path)
	}
	r.mu.Unlock()
}

func (r *PathRegister) pendingPaths() []mailbus.MailboxPath {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]mailbus.MailboxPath, 0, len(r.pending))
	for p := range r.pending {
		out = append(out, p)
	}
	return out
}

func pathLess(a, b mailbus.MailboxPath) bool {
	return cmp.Or(
		cmp.Compare(a.Namespace, b.Namespace),
		cmp.Compare(a.User, b.User),
		cmp.Compare(a.Name, b.Name),
	) < 0
}

// Register adds one local registration for path. The first registration
// advertises the local topic in the backing store.
func (r *PathRegister) Register(ctx context.Context, path mailbus.MailboxPath) error {
	e := r.lockEntry(path)
	defer e.mu.Unlock()

	e.count++
	if e.count > 1 {
		return nil
	}
	r.setPending(path, false)
	if err := r.mapper.Register(ctx, path, r.topic); err != nil {
		return &StoreError{Op: "register", Path: path, Err: err}
	}
	return nil
}

// Unregister removes one local registration for path. Removing the last one
// withdraws the local topic from the backing store. Unregistering a path
// without registrations is a no-op.
func (r *PathRegister) Unregister(ctx context.Context, path mailbus.MailboxPath) error {
	e := r.existingEntry(path)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()

	if e.count == 0 {
		return nil
	}
	e.count--
	if e.count > 0 {
		return nil
	}
	err := r.mapper.Unregister(ctx, path, r.topic)
	r.drop(path, e)
	r.setPending(path, err != nil)
	if err != nil {
		return &StoreError{Op: "unregister", Path: path, Err: err}
	}
	return nil
}

// Rename moves the registrations of oldPath to newPath, adding them to any
// registrations newPath already has. It returns ErrUnknownPath when oldPath
// has none. If registering newPath in the backing store fails, nothing
// changes locally; if unregistering oldPath fails, the move is kept and
// reconciliation retries the withdrawal.
func (r *PathRegister) Rename(ctx context.Context, oldPath, newPath mailbus.MailboxPath) error {
	if oldPath == newPath {
		if r.Count(oldPath) == 0 {
			return ErrUnknownPath
		}
		return nil
	}

	// Lock both entries in a fixed order.
	var oe, ne *entry
	if pathLess(oldPath, newPath) {
		oe = r.lockEntry(oldPath)
		ne = r.lockEntry(newPath)
	} else {
		ne = r.lockEntry(newPath)
		oe = r.lockEntry(oldPath)
	}
	defer oe.mu.Unlock()
	defer ne.mu.Unlock()

	if oe.count == 0 {
		r.drop(oldPath, oe)
		if ne.count == 0 {
			r.drop(newPath, ne)
		}
		return ErrUnknownPath
	}

	if ne.count == 0 {
		if err := r.mapper.Register(ctx, newPath, r.topic); err != nil {
			r.drop(newPath, ne)
			return &StoreError{Op: "register", Path: newPath, Err: err}
		}
		r.setPending(newPath, false)
	}
	ne.count += oe.count
	oe.count = 0

	err := r.mapper.Unregister(ctx, oldPath, r.topic)
	r.drop(oldPath, oe)
	r.setPending(oldPath, err != nil)
	if err != nil {
		return &StoreError{Op: "unregister", Path: oldPath, Err: err}
	}
	return nil
}

// CompleteUnregister removes every local registration of path and withdraws
// the local topic from the backing store.
func (r *PathRegister) CompleteUnregister(ctx context.Context, path mailbus.MailboxPath) error {
	if e := r.existingEntry(path); e != nil {
		defer e.mu.Unlock()
		defer r.drop(path, e)
	}
	err := r.mapper.Unregister(ctx, path, r.topic)
	r.setPending(path, err != nil)
	if err != nil {
		return &StoreError{Op: "unregister", Path: path, Err: err}
	}
	return nil
}

// Topics returns the topics of every node interested in path, the local one
// included.
func (r *PathRegister) Topics(ctx context.Context, path mailbus.MailboxPath) ([]Topic, error) {
	topics, err := r.mapper.Topics(ctx, path)
	if err != nil {
		return nil, &StoreError{Op: "topics", Path: path, Err: err}
	}
	return topics, nil
}

// Count returns the number of local registrations for path.
func (r *PathRegister) Count(path mailbus.MailboxPath) int {
	e := r.existingEntry(path)
	if e == nil {
		return 0
	}
	defer e.mu.Unlock()
	return e.count
}

// Paths returns the paths with at least one local registration.
func (r *PathRegister) Paths() []mailbus.MailboxPath {
	r.mu.Lock()
	paths := make([]mailbus.MailboxPath, 0, len(r.entries))
	for p := range r.entries {
		paths = append(paths, p)
	}
	r.mu.Unlock()

	out := paths[:0]
	for _, p := range paths {
		if r.Count(p) > 0 {
			out = append(out, p)
		}
	}
	return out
}

// Reconcile registers every locally counted path in the backing store again
// and withdraws the paths whose last registration is gone but may still be
// stored. Each store call is retried according to the retry policy; failures
// are logged and returned joined.
func (r *PathRegister) Reconcile(ctx context.Context) error {
	var errs []error
	if err := r.reregisterAll(ctx); err != nil {
		errs = append(errs, err)
	}
	for _, p := range r.pendingPaths() {
		if err := r.withdraw(ctx, p); err != nil {
			r.logger.Warn("withdrawal failed", "path", p.String(), "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *PathRegister) reregisterAll(ctx context.Context) error {
	paths := r.Paths()
	if len(paths) == 0 {
		return nil
	}

	if bulk, ok := r.mapper.(BulkRegisterer); ok {
		err := r.retry.Do(ctx, func(ctx context.Context) error {
			return bulk.RegisterAll(ctx, paths, r.topic)
		})
		// A last Unregister may have run while the bulk call was in flight
		// and been overwritten by it.
		var errs []error
		for _, p := range paths {
			if r.Count(p) > 0 {
				continue
			}
			if werr := r.withdraw(ctx, p); werr != nil {
				errs = append(errs, werr)
			}
		}
		if err != nil {
			r.logger.Warn("bulk reconciliation failed", "paths", len(paths), "error", err)
			return errors.Join(append(errs, err)...)
		}
		r.logger.Debug("reconciled registrations", "paths", len(paths), "failed", len(errs))
		return errors.Join(errs...)
	}

	var errs []error
	for _, p := range paths {
		if err := r.reregister(ctx, p); err != nil {
			r.logger.Warn("reconciliation failed", "path", p.String(), "error", err)
			errs = append(errs, err)
		}
	}
	r.logger.Debug("reconciled registrations", "paths", len(paths), "failed", len(errs))
	return errors.Join(errs...)
}

// reregister registers path again if it is still counted, holding its lock
// so that a concurrent last Unregister cannot be overtaken.
func (r *PathRegister) reregister(ctx context.Context, path mailbus.MailboxPath) error {
	e := r.existingEntry(path)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()
	if e.count == 0 {
		return nil
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.mapper.Register(ctx, path, r.topic)
	})
	if err != nil {
		return &StoreError{Op: "reconcile", Path: path, Err: err}
	}
	return nil
}

// withdraw removes the local topic of path from the backing store unless
// path has been registered again. The entry lock keeps a concurrent first
// Register from being undone.
func (r *PathRegister) withdraw(ctx context.Context, path mailbus.MailboxPath) error {
	e := r.lockEntry(path)
	defer e.mu.Unlock()
	if e.count > 0 {
		r.setPending(path, false)
		return nil
	}
	err := r.retry.Do(ctx, func(ctx context.Context) error {
		return r.mapper.Unregister(ctx, path, r.topic)
	})
	r.drop(path, e)
	r.setPending(path, err != nil)
	if err != nil {
		return &StoreError{Op: "withdraw", Path: path, Err: err}
	}
	return nil
}

// Start schedules reconciliation every reconcile interval until Stop.
func (r *PathRegister) Start(ctx context.Context) error {
	r.runMu.Lock()
	defer r.runMu.Unlock()
	if r.cron != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc("@every "+r.interval.String(), func() {
		_ = r.Reconcile(runCtx)
	}); err != nil {
		cancel()
		return err
	}
	c.Start()
	r.cron, r.cancel = c, cancel
	r.logger.Info("path register started", "topic", string(r.topic), "interval", r.interval)
	return nil
}

// Stop cancels reconciliation and waits for a running pass to return.
func (r *PathRegister) Stop() {
	r.runMu.Lock()
	c, cancel := r.cron, r.cancel
	r.cron, r.cancel = nil, nil
	r.runMu.Unlock()
	if c == nil {
		return
	}
	cancel()
	<-c.Stop().Done()
	r.logger.Info("path register stopped", "topic", string(r.topic))
}
