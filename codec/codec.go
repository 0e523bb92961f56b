// Package codec defines how job payloads are serialized.
//
// JSON is the default. Msgpack produces smaller payloads for stores where
// size matters (Redis); it honors json struct tags so payload types need
// only one set of tags.
package codec

import (
	"bytes"
	"encoding/json"

	"github.com/vmihailenco/msgpack/v5"
)

// Name constants for codec selection.
const (
	NameJSON    = "json"
	NameMsgpack = "msgpack"
)

// Codec serializes job payloads.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	Name() string
}

// Get returns a codec by name. Unknown names fall back to JSON.
func Get(name string) Codec {
	switch name {
	case NameMsgpack:
		return Msgpack{}
	default:
		return JSON{}
	}
}

// JSON encodes payloads with encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (JSON) Name() string                       { return NameJSON }

// Msgpack encodes payloads as MessagePack using json struct tags.
type Msgpack struct{}

func (Msgpack) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (Msgpack) Unmarshal(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

func (Msgpack) Name() string { return NameMsgpack }
