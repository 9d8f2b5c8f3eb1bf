package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/rbaliyan/mailbus"
)

// CBOR serializes events with Core Deterministic Encoding: the same event
// always produces the same bytes.
var CBOR Serializer = cborSerializer{}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	encOptions := cbor.CoreDetEncOptions()
	// Keep sub-second precision of message dates.
	encOptions.Time = cbor.TimeRFC3339Nano
	var err error
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

type cborSerializer struct{}

func (cborSerializer) ContentType() string { return ContentTypeCBOR }

func (cborSerializer) Serialize(e mailbus.Event) ([]byte, error) {
	w, err := toWire(e)
	if err != nil {
		return nil, err
	}
	data, err := encMode.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return data, nil
}

func (cborSerializer) Deserialize(data []byte) (mailbus.Event, error) {
	var w wireEvent
	if err := decMode.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return fromWire(&w)
}
