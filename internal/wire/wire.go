// Package wire implements the length-delimited JSON framing shared by
// peer sessions, the transfer engine, and the relay layer. Every frame
// is a 4-byte big-endian length prefix followed by exactly that many
// bytes of JSON: {"type": "...", ...fields}.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MaxFrameBytes bounds a single frame to guard against a misbehaving peer
// claiming an absurd length prefix and exhausting memory.
const MaxFrameBytes = 64 << 20 // 64 MiB, comfortably above one chunk.

// ErrFrameTooLarge is returned by Decoder.Decode when a peer's declared
// frame length exceeds MaxFrameBytes.
var ErrFrameTooLarge = errors.New("wire: frame exceeds maximum size")

// Message is the common envelope a frame resolves to before type-specific
// payload dispatch: Type is read from the frame's top-level "type" field,
// and Raw holds the complete frame body so a caller that recognizes Type
// can re-unmarshal into the concrete struct for that message kind.
type Message struct {
	Type string
	Raw  json.RawMessage
}

// Encoder writes length-delimited JSON frames to an underlying writer.
// Safe for use by a single goroutine; callers needing concurrent writers
// must serialize calls to Encode themselves (see internal/session).
type Encoder struct {
	w io.Writer
}

// NewEncoder returns an Encoder writing frames to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode marshals v as JSON and writes it as one length-prefixed frame.
func Encode(w io.Writer, v any) error {
	return NewEncoder(w).Encode(v)
}

// Encode marshals v as JSON and writes it as one length-prefixed frame.
func (e *Encoder) Encode(v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal frame: %w", err)
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))

	if _, err := e.w.Write(header[:]); err != nil {
		return fmt.Errorf("wire: write frame header: %w", err)
	}

	if _, err := e.w.Write(body); err != nil {
		return fmt.Errorf("wire: write frame body: %w", err)
	}

	return nil
}

// Decoder reads length-delimited JSON frames from an underlying reader.
type Decoder struct {
	r *bufio.Reader
}

// NewDecoder returns a Decoder reading frames from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 4096)}
}

// Decode reads one frame and unmarshals it into v, a concrete payload
// type the caller already knows the shape of (e.g. a handshake message).
func (d *Decoder) Decode(v any) error {
	body, err := d.readFrame()
	if err != nil {
		return err
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal frame: %w", err)
	}

	return nil
}

// DecodeMessage reads one frame and returns its envelope without
// committing to a concrete payload type: Type comes from the frame's
// top-level "type" field, Raw holds the full body for the caller to
// re-unmarshal once it knows which concrete struct Type names.
func (d *Decoder) DecodeMessage() (Message, error) {
	body, err := d.readFrame()
	if err != nil {
		return Message{}, err
	}

	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return Message{}, fmt.Errorf("wire: unmarshal frame envelope: %w", err)
	}

	return Message{Type: envelope.Type, Raw: body}, nil
}

func (d *Decoder) readFrame() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(d.r, header[:]); err != nil {
		return nil, fmt.Errorf("wire: read frame header: %w", err)
	}

	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameBytes {
		return nil, fmt.Errorf("wire: frame of %d bytes: %w", n, ErrFrameTooLarge)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		return nil, fmt.Errorf("wire: read frame body: %w", err)
	}

	return body, nil
}

// Pack encodes v into a standalone framed byte slice, useful for tests and
// for relaying a frame verbatim without a live connection.
func Pack(v any) ([]byte, error) {
	var buf []byte
	w := &sliceWriter{buf: &buf}
	if err := Encode(w, v); err != nil {
		return nil, err
	}

	return buf, nil
}

type sliceWriter struct {
	buf *[]byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	*s.buf = append(*s.buf, p...)
	return len(p), nil
}
