// Package codec serializes mailbus events for transport between nodes.
//
// Every event is mapped to one flat wire record carrying its kind, header
// and the fields of its variant. JSON and CBOR encode the same record, so a
// cluster can switch formats without touching the event model. Decoded
// events are validated like built ones: a payload lacking a mandatory header
// field is rejected.
package codec

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rbaliyan/mailbus"
)

// Content types of the built-in serializers.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Sentinel errors.
var (
	// ErrUnsupportedContentType is returned when no serializer is registered
	// for a content type.
	ErrUnsupportedContentType = errors.New("codec: unsupported content type")

	// ErrEncoding is returned when an event cannot be encoded.
	ErrEncoding = errors.New("codec: encoding failed")

	// ErrDecoding is returned when a payload cannot be decoded to an event.
	ErrDecoding = errors.New("codec: decoding failed")
)

// Serializer converts events to and from one wire format. It satisfies
// cluster.EventSerializer.
type Serializer interface {
	// ContentType returns the MIME type of the format.
	ContentType() string
	Serialize(e mailbus.Event) ([]byte, error)
	Deserialize(data []byte) (mailbus.Event, error)
}

// Registry maps content types to serializers.
// It is safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	serializers map[string]Serializer
}

// NewRegistry creates a registry pre-loaded with the given serializers.
func NewRegistry(serializers ...Serializer) *Registry {
	r := &Registry{
		serializers: make(map[string]Serializer, len(serializers)),
	}
	for _, s := range serializers {
		r.serializers[s.ContentType()] = s
	}
	return r
}

// DefaultRegistry returns a registry holding JSON and CBOR.
func DefaultRegistry() *Registry {
	return NewRegistry(JSON, CBOR)
}

// Register adds a serializer, replacing any for the same content type.
func (r *Registry) Register(s Serializer) {
	r.mu.Lock()
	r.serializers[s.ContentType()] = s
	r.mu.Unlock()
}

// Lookup returns the serializer for contentType.
func (r *Registry) Lookup(contentType string) (Serializer, error) {
	r.mu.RLock()
	s, ok := r.serializers[contentType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, contentType)
	}
	return s, nil
}
