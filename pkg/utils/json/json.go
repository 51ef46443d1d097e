// Package json wraps sonic for the hot JSON paths of the service (provider
// payloads, vector metadata, cached answers) and falls back to encoding/json
// where sonic has no JIT support.
package json

import (
	stdjson "encoding/json"
	"io"
	"runtime"

	"github.com/bytedance/sonic"
)

// Encoder is a streaming JSON encoder.
type Encoder interface {
	Encode(v any) error
}

// Decoder is a streaming JSON decoder.
type Decoder interface {
	Decode(v any) error
}

// RawMessage is a raw encoded JSON value.
type RawMessage = stdjson.RawMessage

var (
	// Marshal encodes v into JSON bytes.
	Marshal func(v any) ([]byte, error)

	// Unmarshal decodes JSON bytes into v.
	Unmarshal func(data []byte, v any) error

	// NewEncoder returns an encoder writing to w.
	NewEncoder func(w io.Writer) Encoder

	// NewDecoder returns a decoder reading from r.
	NewDecoder func(r io.Reader) Decoder

	// Valid reports whether data is a valid JSON encoding.
	Valid func(data []byte) bool

	sonicEnabled bool
)

func init() {
	if runtime.GOARCH != "amd64" && runtime.GOARCH != "arm64" {
		useStdlib()
		return
	}
	useSonic()
}

func useSonic() {
	// ConfigStd keeps map keys sorted so stored metadata is stable across writes.
	api := sonic.ConfigStd
	Marshal = api.Marshal
	Unmarshal = api.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return api.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return api.NewDecoder(r) }
	Valid = api.Valid
	sonicEnabled = true
}

func useStdlib() {
	Marshal = stdjson.Marshal
	Unmarshal = stdjson.Unmarshal
	NewEncoder = func(w io.Writer) Encoder { return stdjson.NewEncoder(w) }
	NewDecoder = func(r io.Reader) Decoder { return stdjson.NewDecoder(r) }
	Valid = stdjson.Valid
	sonicEnabled = false
}

// MarshalString encodes v and returns it as a string.
func MarshalString(v any) (string, error) {
	b, err := Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalString decodes the JSON document s into v.
func UnmarshalString(s string, v any) error {
	return Unmarshal([]byte(s), v)
}

// IsUsingSonic reports whether sonic backs the package functions.
func IsUsingSonic() bool {
	return sonicEnabled
}
