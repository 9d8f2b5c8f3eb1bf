package codec

import (
	"encoding/json"
	"fmt"

	"github.com/rbaliyan/mailbus"
)

// JSON serializes events as JSON objects.
var JSON Serializer = jsonSerializer{}

type jsonSerializer struct{}

func (jsonSerializer) ContentType() string { return ContentTypeJSON }

func (jsonSerializer) Serialize(e mailbus.Event) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

func (jsonSerializer) Deserialize(data []byte) (mailbus.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return fromWire(&w)
}
