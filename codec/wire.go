package codec

import (
	"fmt"

	"github.com/rbaliyan/mailbus"
)

// wireEvent is the serialized form of every event variant. Field tags are
// read by both encoding/json and fxamacker/cbor.
type wireEvent struct {
	Kind      string              `json:"kind"`
	EventID   mailbus.EventID     `json:"eventId"`
	SessionID mailbus.SessionID   `json:"sessionId"`
	User      string              `json:"user"`
	Path      mailbus.MailboxPath `json:"path"`
	MailboxID mailbus.MailboxID   `json:"mailboxId"`

	Messages   []mailbus.MessageMetaData `json:"messages,omitempty"`
	IsDelivery bool                      `json:"isDelivery,omitempty"`
	IsAppended bool                      `json:"isAppended,omitempty"`

	UpdatedFlags []mailbus.UpdatedFlags `json:"updatedFlags,omitempty"`

	QuotaRoot           mailbus.QuotaRoot `json:"quotaRoot,omitempty"`
	DeletedMessageCount int64             `json:"deletedMessageCount,omitempty"`
	TotalDeletedSize    int64             `json:"totalDeletedSize,omitempty"`

	NewPath *mailbus.MailboxPath  `json:"newPath,omitempty"`
	ACLDiff *mailbus.ACLDiff      `json:"aclDiff,omitempty"`
	Moves   *mailbus.MessageMoves `json:"moves,omitempty"`
}

func toWire(e mailbus.Event) (*wireEvent, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil event", ErrEncoding)
	}
	h := e.EventHeader()
	w := &wireEvent{
		Kind:      e.Kind().String(),
		EventID:   h.EventID,
		SessionID: h.SessionID,
		User:      h.User,
		Path:      h.Path,
		MailboxID: h.MailboxID,
	}
	switch ev := e.(type) {
	case *mailbus.Added:
		w.Messages = ev.Added.Values()
		w.IsDelivery = ev.IsDelivery
		w.IsAppended = ev.IsAppended
	case *mailbus.Expunged:
		w.Messages = ev.Expunged.Values()
	case *mailbus.FlagsUpdated:
		w.UpdatedFlags = ev.UpdatedFlags
	case *mailbus.MailboxDeletion:
		w.QuotaRoot = ev.QuotaRoot
		w.DeletedMessageCount = ev.DeletedMessageCount
		w.TotalDeletedSize = ev.TotalDeletedSize
	case *mailbus.MailboxRenamed:
		w.NewPath = &ev.NewPath
	case *mailbus.MailboxACLUpdated:
		w.ACLDiff = &ev.ACLDiff
	case *mailbus.MessageMoveEvent:
		w.Moves = &ev.Moves
		w.Messages = ev.Messages.Values()
	case *mailbus.MailboxAdded, *mailbus.MailboxSubscribed, *mailbus.MailboxUnsubscribed:
	default:
		return nil, fmt.Errorf("%w: unsupported event %T", ErrEncoding, e)
	}
	return w, nil
}

func fromWire(w *wireEvent) (mailbus.Event, error) {
	kind, err := mailbus.ParseKind(w.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	h := mailbus.Header{
		EventID:   w.EventID,
		SessionID: w.SessionID,
		User:      w.User,
		Path:      w.Path,
		MailboxID: w.MailboxID,
	}
	if err := mailbus.ValidateHeader(kind, h); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: %w", ErrDecoding, &mailbus.MissingFieldError{Kind: kind, Field: field})
	}

	switch kind {
	case mailbus.KindAdded:
		return &mailbus.Added{
			Header:     h,
			Added:      mailbus.MetaDataMap(w.Messages...),
			IsDelivery: w.IsDelivery,
			IsAppended: w.IsAppended,
		}, nil
	case mailbus.KindExpunged:
		return &mailbus.Expunged{Header: h, Expunged: mailbus.MetaDataMap(w.Messages...)}, nil
	case mailbus.KindFlagsUpdated:
		return &mailbus.FlagsUpdated{Header: h, UpdatedFlags: w.UpdatedFlags}, nil
	case mailbus.KindMailboxAdded:
		return &mailbus.MailboxAdded{Header: h}, nil
	case mailbus.KindMailboxDeletion:
		return &mailbus.MailboxDeletion{
			Header:              h,
			QuotaRoot:           w.QuotaRoot,
			DeletedMessageCount: w.DeletedMessageCount,
			TotalDeletedSize:    w.TotalDeletedSize,
		}, nil
	case mailbus.KindMailboxRenamed:
		if w.NewPath == nil || w.NewPath.IsZero() {
			return nil, missing("newPath")
		}
		return &mailbus.MailboxRenamed{Header: h, NewPath: *w.NewPath}, nil
	case mailbus.KindMailboxACLUpdated:
		if w.ACLDiff == nil {
			return nil, missing("aclDiff")
		}
		return &mailbus.MailboxACLUpdated{Header: h, ACLDiff: *w.ACLDiff}, nil
	case mailbus.KindMessageMove:
		if w.Moves == nil {
			return nil, missing("moves")
		}
		return &mailbus.MessageMoveEvent{Header: h, Moves: *w.Moves, Messages: mailbus.MetaDataMap(w.Messages...)}, nil
	case mailbus.KindMailboxSubscribed:
		return &mailbus.MailboxSubscribed{Header: h}, nil
	case mailbus.KindMailboxUnsubscribed:
		return &mailbus.MailboxUnsubscribed{Header: h}, nil
	}
	return nil, fmt.Errorf("%w: unsupported kind %s", ErrDecoding, kind)
}
