package proto

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
)

// Frame types
const (
	FrameTypeHello   = 1
	FrameTypePayload = 2
	FrameTypeError   = 3
)

// MaxFrameSize bounds a single encoded frame
const MaxFrameSize = 1024 * 1024

// ErrFrameTooLarge is returned by Decode for frames above MaxFrameSize.
var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// HelloFrame opens a link and names the role on the dialing side
type HelloFrame struct {
	Role string `json:"role"`
}

// ErrorFrame
type ErrorFrame struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Frame is the top-level wire message. Payload holds a JSON encoded
// pipe.Payload so the frame layer stays independent of the message type.
type Frame struct {
	Type    int             `json:"t"`
	Hello   *HelloFrame     `json:"h,omitempty"`
	Payload json.RawMessage `json:"p,omitempty"`
	Error   *ErrorFrame     `json:"e,omitempty"`
}

// Encode writes a length-prefixed JSON frame to w
func (f *Frame) Encode(w io.Writer) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if len(data) > MaxFrameSize {
		return ErrFrameTooLarge
	}
	// 4-byte big-endian length prefix, written with the body in one call
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf, uint32(len(data)))
	copy(buf[4:], data)
	_, err = w.Write(buf)
	return err
}

// Decode reads a length-prefixed JSON frame from r
func (f *Frame) Decode(r io.Reader) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxFrameSize {
		return ErrFrameTooLarge
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	*f = Frame{}
	return json.Unmarshal(data, f)
}
