package mailbus

import "context"

// EventTarget receives built events. *Dispatcher and cluster.Broadcaster
// implement it.
type EventTarget interface {
	Event(ctx context.Context, e Event) error
}

// Session identifies the session performing a mailbox operation.
type Session struct {
	ID   SessionID
	User string
}

// Mailbox identifies the mailbox an operation applies to.
type Mailbox struct {
	ID   MailboxID
	Path MailboxPath
}

// Notifier turns mailbox operations into events and forwards them to a
// target. It is the API used by mailbox managers.
type Notifier struct {
	target  EventTarget
	factory *EventFactory
}

// NewNotifier returns a notifier sending to target. WithEventFactory sets
// the factory; otherwise one is built from opts.
func NewNotifier(target EventTarget, opts ...Option) *Notifier {
	o := newOptions(opts...)
	f := o.factory
	if f == nil {
		f = &EventFactory{newID: o.idGenerator}
	}
	return &Notifier{target: target, factory: f}
}

func header(s Session, m Mailbox) Header {
	return Header{SessionID: s.ID, User: s.User, Path: m.Path, MailboxID: m.ID}
}

func (n *Notifier) send(ctx context.Context, e Event, err error) error {
	if err != nil {
		return err
	}
	return n.target.Event(ctx, e)
}

// Added notifies that messages were appended to or delivered into m.
func (n *Notifier) Added(ctx context.Context, s Session, m Mailbox, delivery bool, mds ...MessageMetaData) error {
	e, err := n.factory.Added().Header(header(s, m)).
		AddMetaDatas(mds...).
		Delivery(delivery).
		Appended(!delivery).
		Build()
	return n.send(ctx, e, err)
}

// Expunged notifies that messages were removed from m.
func (n *Notifier) Expunged(ctx context.Context, s Session, m Mailbox, mds ...MessageMetaData) error {
	e, err := n.factory.Expunged().Header(header(s, m)).AddMetaDatas(mds...).Build()
	return n.send(ctx, e, err)
}

// FlagsUpdated notifies flag changes on messages of m.
func (n *Notifier) FlagsUpdated(ctx context.Context, s Session, m Mailbox, updates ...UpdatedFlags) error {
	e, err := n.factory.FlagsUpdated().Header(header(s, m)).AddUpdatedFlags(updates...).Build()
	return n.send(ctx, e, err)
}

// MailboxAdded notifies that m was created.
func (n *Notifier) MailboxAdded(ctx context.Context, s Session, m Mailbox) error {
	e, err := n.factory.MailboxAdded().Header(header(s, m)).Build()
	return n.send(ctx, e, err)
}

// MailboxDeleted notifies that m was deleted along with count messages
// totalling size bytes.
func (n *Notifier) MailboxDeleted(ctx context.Context, s Session, m Mailbox, root QuotaRoot, count, size int64) error {
	e, err := n.factory.MailboxDeleted().Header(header(s, m)).
		QuotaRoot(root).
		DeletedMessages(count, size).
		Build()
	return n.send(ctx, e, err)
}

// MailboxRenamed notifies that m now lives at newPath.
func (n *Notifier) MailboxRenamed(ctx context.Context, s Session, m Mailbox, newPath MailboxPath) error {
	e, err := n.factory.MailboxRenamed().Header(header(s, m)).NewPath(newPath).Build()
	return n.send(ctx, e, err)
}

// ACLUpdated notifies a change of rights on m.
func (n *Notifier) ACLUpdated(ctx context.Context, s Session, m Mailbox, diff ACLDiff) error {
	e, err := n.factory.ACLUpdated().Header(header(s, m)).ACLDiff(diff).Build()
	return n.send(ctx, e, err)
}

// MessageMoved notifies that messages moved from m according to moves.
func (n *Notifier) MessageMoved(ctx context.Context, s Session, m Mailbox, moves MessageMoves, mds ...MessageMetaData) error {
	e, err := n.factory.MessageMoved().Header(header(s, m)).Moves(moves).AddMessages(mds...).Build()
	return n.send(ctx, e, err)
}

// MailboxSubscribed notifies that the session user subscribed to m.
func (n *Notifier) MailboxSubscribed(ctx context.Context, s Session, m Mailbox) error {
	e, err := n.factory.MailboxSubscribed().Header(header(s, m)).Build()
	return n.send(ctx, e, err)
}

// MailboxUnsubscribed notifies that the session user unsubscribed from m.
func (n *Notifier) MailboxUnsubscribed(ctx context.Context, s Session, m Mailbox) error {
	e, err := n.factory.MailboxUnsubscribed().Header(header(s, m)).Build()
	return n.send(ctx, e, err)
}
