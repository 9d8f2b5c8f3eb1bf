// Package memory provides an in-process PathRegisterMapper.
//
// Nodes simulated in one process share a Mapper as their backing store.
// FailWith injects storage failures.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/rbaliyan/mailbus"
	"github.com/rbaliyan/mailbus/cluster"
)

// Op is one change applied to the mapper.
type Op struct {
	Register bool
	Path     mailbus.MailboxPath
	Topic    cluster.Topic
}

// Mapper stores path registrations in memory.
type Mapper struct {
	mu     sync.Mutex
	topics map[mailbus.MailboxPath][]cluster.Topic
	ops    []Op
	err    error
}

var (
	_ cluster.PathRegisterMapper = (*Mapper)(nil)
	_ cluster.BulkRegisterer     = (*Mapper)(nil)
)

// New returns an empty mapper.
func New() *Mapper {
	return &Mapper{topics: make(map[mailbus.MailboxPath][]cluster.Topic)}
}

// FailWith makes every following call return err until FailWith(nil).
func (m *Mapper) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

// Ops returns the successful Register and Unregister calls in order.
func (m *Mapper) Ops() []Op {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ops)
}

// Register implements cluster.PathRegisterMapper.
func (m *Mapper) Register(_ context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.add(path, topic)
	return nil
}

func (m *Mapper) add(path mailbus.MailboxPath, topic cluster.Topic) {
	m.ops = append(m.ops, Op{Register: true, Path: path, Topic: topic})
	if !slices.Contains(m.topics[path], topic) {
		m.topics[path] = append(m.topics[path], topic)
	}
}

// RegisterAll implements cluster.BulkRegisterer.
func (m *Mapper) RegisterAll(_ context.Context, paths []mailbus.MailboxPath, topic cluster.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	for _, p := range paths {
		m.add(p, topic)
	}
	return nil
}

// Unregister implements cluster.PathRegisterMapper.
func (m *Mapper) Unregister(_ context.Context, path mailbus.MailboxPath, topic cluster.Topic) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.ops = append(m.ops, Op{Path: path, Topic: topic})
	ts := slices.DeleteFunc(slices.Clone(m.topics[path]), func(t cluster.Topic) bool { return t == topic })
	if len(ts) == 0 {
		delete(m.topics, path)
	} else {
		m.topics[path] = ts
	}
	return nil
}

// Topics implements cluster.PathRegisterMapper.
func (m *Mapper) Topics(_ context.Context, path mailbus.MailboxPath) ([]cluster.Topic, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	ts := slices.Clone(m.topics[path])
	slices.Sort(ts)
	return ts, nil
}
