package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec names
const (
	CodecMsgpack = "msgpack"
	CodecJSON    = "json"
)

// Codec serializes rows.
type Codec interface {
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// NewCodec returns the codec registered under name. An empty name selects
// msgpack.
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", CodecMsgpack:
		return msgpackCodec{}, nil
	case CodecJSON:
		return jsonCodec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string                       { return CodecMsgpack }
func (msgpackCodec) Marshal(v any) ([]byte, error)      { return msgpack.Marshal(v) }
func (msgpackCodec) Unmarshal(data []byte, v any) error { return msgpack.Unmarshal(data, v) }

type jsonCodec struct{}

func (jsonCodec) Name() string                       { return CodecJSON }
func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Row is the serialized form of a single stored record. Only the fields
// relevant to the row's type are set.
type Row struct {
	Name     string `json:"name,omitempty" msgpack:"name,omitempty" yaml:"name,omitempty"`
	TTL      uint32 `json:"ttl" msgpack:"ttl" yaml:"ttl"`
	Priority uint16 `json:"priority,omitempty" msgpack:"priority,omitempty" yaml:"priority,omitempty"`
	Data     Chunks `json:"data,omitempty" msgpack:"data,omitempty" yaml:"data,omitempty"`

	// Nameserver rows
	Address string `json:"address,omitempty" msgpack:"address,omitempty" yaml:"address,omitempty"`

	// SRV
	Weight uint16 `json:"weight,omitempty" msgpack:"weight,omitempty" yaml:"weight,omitempty"`
	Port   uint16 `json:"port,omitempty" msgpack:"port,omitempty" yaml:"port,omitempty"`

	// CAA
	Flag uint8  `json:"flag,omitempty" msgpack:"flag,omitempty" yaml:"flag,omitempty"`
	Tag  string `json:"tag,omitempty" msgpack:"tag,omitempty" yaml:"tag,omitempty"`

	// SOA
	Admin      string `json:"admin,omitempty" msgpack:"admin,omitempty" yaml:"admin,omitempty"`
	Serial     uint32 `json:"serial,omitempty" msgpack:"serial,omitempty" yaml:"serial,omitempty"`
	Refresh    uint32 `json:"refresh,omitempty" msgpack:"refresh,omitempty" yaml:"refresh,omitempty"`
	Retry      uint32 `json:"retry,omitempty" msgpack:"retry,omitempty" yaml:"retry,omitempty"`
	Expiration uint32 `json:"expiration,omitempty" msgpack:"expiration,omitempty" yaml:"expiration,omitempty"`
	Minimum    uint32 `json:"minimum,omitempty" msgpack:"minimum,omitempty" yaml:"minimum,omitempty"`
}

// Chunks is a row payload. It accepts a scalar or a list when decoded and is
// written back as a scalar when it holds a single value. The literal string
// "null" decodes as no data.
type Chunks []string

func (c Chunks) MarshalJSON() ([]byte, error) {
	switch len(c) {
	case 0:
		return []byte("null"), nil
	case 1:
		return json.Marshal(c[0])
	default:
		return json.Marshal([]string(c))
	}
}

func (c *Chunks) UnmarshalJSON(data []byte) error {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return err
	}
	chunks, err := chunksFrom(v)
	if err != nil {
		return err
	}
	*c = chunks
	return nil
}

func (c Chunks) EncodeMsgpack(enc *msgpack.Encoder) error {
	switch len(c) {
	case 0:
		return enc.EncodeNil()
	case 1:
		return enc.EncodeString(c[0])
	default:
		return enc.Encode([]string(c))
	}
}

func (c *Chunks) DecodeMsgpack(dec *msgpack.Decoder) error {
	v, err := dec.DecodeInterface()
	if err != nil {
		return err
	}
	chunks, err := chunksFrom(v)
	if err != nil {
		return err
	}
	*c = chunks
	return nil
}

// UnmarshalYAML lets seed files write data as a scalar or a sequence.
func (c *Chunks) UnmarshalYAML(unmarshal func(any) error) error {
	var v any
	if err := unmarshal(&v); err != nil {
		return err
	}
	chunks, err := chunksFrom(v)
	if err != nil {
		return err
	}
	*c = chunks
	return nil
}

func chunksFrom(v any) (Chunks, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		if val == "" || val == "null" {
			return nil, nil
		}
		return Chunks{val}, nil
	case []any:
		chunks := make(Chunks, 0, len(val))
		for _, item := range val {
			if item == nil {
				continue
			}
			chunks = append(chunks, fmt.Sprint(item))
		}
		if len(chunks) == 0 {
			return nil, nil
		}
		return chunks, nil
	case bool, json.Number, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64, float32, float64:
		return Chunks{fmt.Sprint(val)}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported data of type %T", ErrDecode, v)
	}
}
