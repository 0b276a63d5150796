package events

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors.
var (
	// ErrUnknownEventType is returned when no variant is registered for a tag.
	ErrUnknownEventType = errors.New("events: unknown event type")

	// ErrUnsupportedContentType is returned when no payload codec matches.
	ErrUnsupportedContentType = errors.New("events: unsupported content type")

	// ErrEncoding is returned when an event cannot be encoded.
	ErrEncoding = errors.New("events: encoding failed")

	// ErrDecoding is returned when an envelope cannot be decoded.
	ErrDecoding = errors.New("events: decoding failed")
)

// Envelope is the serialized form of an event: a type tag plus an encoded
// payload. It is what crosses process boundaries (event bus, dead letters).
type Envelope struct {
	Type        Type   `json:"type"`
	ContentType string `json:"content_type"`
	Payload     string `json:"payload"`
}

// Codec converts between raw payload bytes and a text-safe string.
// Text formats pass through; binary formats are base64-encoded.
type Codec interface {
	ContentType() string
	Encode(data []byte) (string, error)
	Decode(body string) ([]byte, error)
}

// Built-in payload codecs.
var (
	// JSON passes JSON payloads through unchanged.
	JSON Codec = textCodec{ct: "application/json"}

	// Base64JSON base64-encodes the JSON payload, for transports that do
	// not accept arbitrary UTF-8.
	Base64JSON Codec = binaryCodec{ct: "application/json+base64"}
)

type textCodec struct {
	ct string
}

func (c textCodec) ContentType() string                { return c.ct }
func (c textCodec) Encode(data []byte) (string, error) { return string(data), nil }
func (c textCodec) Decode(body string) ([]byte, error) { return []byte(body), nil }

type binaryCodec struct {
	ct string
}

func (c binaryCodec) ContentType() string { return c.ct }

func (c binaryCodec) Encode(data []byte) (string, error) {
	return base64.StdEncoding.EncodeToString(data), nil
}

func (c binaryCodec) Decode(body string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(body)
}

// CodecRegistry maps event type tags to variant constructors and content
// types to payload codecs. It is populated at startup and safe for
// concurrent use.
type CodecRegistry struct {
	mu       sync.RWMutex
	variants map[Type]func() Event
	codecs   map[string]Codec
	encoder  Codec
}

// NewCodecRegistry creates an empty registry that encodes payloads with
// encoder. Decoding accepts every registered codec.
func NewCodecRegistry(encoder Codec, codecs ...Codec) *CodecRegistry {
	r := &CodecRegistry{
		variants: make(map[Type]func() Event),
		codecs:   make(map[string]Codec, len(codecs)+1),
		encoder:  encoder,
	}
	r.codecs[encoder.ContentType()] = encoder
	for _, c := range codecs {
		r.codecs[c.ContentType()] = c
	}
	return r
}

// DefaultCodecRegistry returns a registry knowing every built-in variant and
// codec, encoding with JSON.
func DefaultCodecRegistry() *CodecRegistry {
	r := NewCodecRegistry(JSON, Base64JSON)
	RegisterBuiltins(r)
	return r
}

// RegisterBuiltins registers every built-in event variant on r.
func RegisterBuiltins(r *CodecRegistry) {
	r.Register(TypeMailboxAdded, func() Event { return &MailboxAdded{} })
	r.Register(TypeMailboxRenamed, func() Event { return &MailboxRenamed{} })
	r.Register(TypeMailboxDeleted, func() Event { return &MailboxDeleted{} })
	r.Register(TypeMessageAdded, func() Event { return &MessageAdded{} })
	r.Register(TypeFlagsUpdated, func() Event { return &FlagsUpdated{} })
	r.Register(TypeExpunged, func() Event { return &Expunged{} })
}

// Register adds or replaces the constructor of a variant.
func (r *CodecRegistry) Register(t Type, newEvent func() Event) {
	r.mu.Lock()
	r.variants[t] = newEvent
	r.mu.Unlock()
}

// Encode serializes ev into an envelope.
func (r *CodecRegistry) Encode(ev Event) (Envelope, error) {
	r.mu.RLock()
	_, known := r.variants[ev.Type()]
	r.mu.RUnlock()
	if !known {
		return Envelope{}, fmt.Errorf("%w: %s", ErrUnknownEventType, ev.Type())
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	payload, err := r.encoder.Encode(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrEncoding, err)
	}
	return Envelope{Type: ev.Type(), ContentType: r.encoder.ContentType(), Payload: payload}, nil
}

// Decode rebuilds the event held by env.
func (r *CodecRegistry) Decode(env Envelope) (Event, error) {
	r.mu.RLock()
	newEvent, ok := r.variants[env.Type]
	codec, codecOK := r.codecs[env.ContentType]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownEventType, env.Type)
	}
	if !codecOK {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedContentType, env.ContentType)
	}

	data, err := codec.Decode(env.Payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	ev := newEvent()
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecoding, err)
	}
	return ev, nil
}
