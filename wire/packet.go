// Package wire defines the on-wire frame format shared by the broker
// and every peer. The format is a flat, length-delimited envelope:
// every frame carries all fields regardless of type, and type-specific
// meaning is layered on top by the caller (see doc comments on each
// Type constant).
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Type is the tag identifying a Packet's purpose.
type Type uint8

const (
	// TypeMSG carries UTF-8 message text.
	TypeMSG Type = iota + 1
	// TypeFileStart announces an incoming file transfer.
	TypeFileStart
	// TypeFileChunk carries one segment of a file transfer.
	TypeFileChunk
	// TypeFileEnd announces the authoritative chunk count of a transfer.
	TypeFileEnd
	// TypeRegister registers a peer with the broker.
	TypeRegister
	// TypeHeartbeat refreshes a peer's liveness.
	TypeHeartbeat
	// TypeAck confirms a REGISTER.
	TypeAck
	// TypeClientList carries the broker's view of registered peers.
	TypeClientList
	// TypeFileAck confirms receipt of one FILE_CHUNK.
	TypeFileAck
)

func (t Type) String() string {
	switch t {
	case TypeMSG:
		return "MSG"
	case TypeFileStart:
		return "FILE_START"
	case TypeFileChunk:
		return "FILE_CHUNK"
	case TypeFileEnd:
		return "FILE_END"
	case TypeRegister:
		return "REGISTER"
	case TypeHeartbeat:
		return "HEARTBEAT"
	case TypeAck:
		return "ACK"
	case TypeClientList:
		return "CLIENT_LIST"
	case TypeFileAck:
		return "FILE_ACK"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
	}
}

const (
	// Broadcast is the recipient-id sentinel meaning "every other
	// registered peer".
	Broadcast = "ALL"

	// ServerSenderID is the sender-id the broker stamps on frames it
	// originates itself (CLIENT_LIST, ACK).
	ServerSenderID = "SERVER"

	// MaxChunkSize is the largest payload a single FILE_CHUNK may carry.
	MaxChunkSize = 1024

	// MaxFrameSize is a conservative upper bound on an encoded frame,
	// chosen to stay comfortably under the practical UDP MTU.
	MaxFrameSize = 65507

	// ClientListPrefix begins every CLIENT_LIST payload.
	ClientListPrefix = "ONLINE_USERS:"
)

// Packet is the decoded form of one frame.
type Packet struct {
	Type        Type
	SenderID    string
	RecipientID string
	Sequence    int32
	FileID      int32
	Payload     []byte
}

// FrameError reports why a frame could not be deserialized.
type FrameError struct {
	Reason string
}

func (e *FrameError) Error() string {
	return "wire: malformed frame: " + e.Reason
}

// ErrMalformedFrame is the sentinel wrapped by every FrameError so
// callers can use errors.Is without caring about the specific reason.
var ErrMalformedFrame = errors.New("malformed frame")

func (e *FrameError) Unwrap() error {
	return ErrMalformedFrame
}

func malformed(reason string) error {
	return &FrameError{Reason: reason}
}

// MarshalBinary serializes p into the wire format described in the
// package doc: u8 type, u32+bytes sender-id, u32+bytes recipient-id,
// i32 sequence, i32 file-id, u32+bytes payload, all big-endian.
func (p *Packet) MarshalBinary() ([]byte, error) {
	size := 1 + 4 + len(p.SenderID) + 4 + len(p.RecipientID) + 4 + 4 + 4 + len(p.Payload)
	if size > MaxFrameSize {
		return nil, malformed(fmt.Sprintf("encoded size %d exceeds max frame size %d", size, MaxFrameSize))
	}

	buf := make([]byte, size)
	off := 0

	buf[off] = byte(p.Type)
	off++

	off += putString(buf[off:], p.SenderID)
	off += putString(buf[off:], p.RecipientID)

	binary.BigEndian.PutUint32(buf[off:], uint32(p.Sequence))
	off += 4
	binary.BigEndian.PutUint32(buf[off:], uint32(p.FileID))
	off += 4

	binary.BigEndian.PutUint32(buf[off:], uint32(len(p.Payload)))
	off += 4
	copy(buf[off:], p.Payload)

	return buf, nil
}

func putString(dst []byte, s string) int {
	binary.BigEndian.PutUint32(dst, uint32(len(s)))
	copy(dst[4:], s)
	return 4 + len(s)
}

// UnmarshalBinary decodes b into p, failing with a *FrameError on
// short input, a length field that overruns the buffer, or a
// sender/recipient id that is not valid UTF-8.
func (p *Packet) UnmarshalBinary(b []byte) error {
	r := &reader{buf: b}

	typ, err := r.byte_()
	if err != nil {
		return malformed("short input: type tag")
	}

	sender, err := r.string_()
	if err != nil {
		return err
	}
	if !utf8.ValidString(sender) {
		return malformed("sender-id is not valid UTF-8")
	}

	recipient, err := r.string_()
	if err != nil {
		return err
	}
	if !utf8.ValidString(recipient) {
		return malformed("recipient-id is not valid UTF-8")
	}

	seq, err := r.int32()
	if err != nil {
		return malformed("short input: sequence-number")
	}
	fileID, err := r.int32()
	if err != nil {
		return malformed("short input: file-id")
	}
	payload, err := r.string_()
	if err != nil {
		return err
	}

	if !r.exhausted() {
		return malformed("trailing bytes after payload")
	}

	p.Type = Type(typ)
	p.SenderID = sender
	p.RecipientID = recipient
	p.Sequence = seq
	p.FileID = fileID
	p.Payload = []byte(payload)
	return nil
}

// reader walks b sequentially, the way a length-delimited decoder
// naturally wants to.
type reader struct {
	buf []byte
	off int
}

func (r *reader) exhausted() bool {
	return r.off == len(r.buf)
}

func (r *reader) byte_() (uint8, error) {
	if r.off+1 > len(r.buf) {
		return 0, malformed("short input")
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) int32() (int32, error) {
	if r.off+4 > len(r.buf) {
		return 0, malformed("short input")
	}
	v := int32(binary.BigEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return v, nil
}

func (r *reader) string_() (string, error) {
	if r.off+4 > len(r.buf) {
		return "", malformed("short input: length prefix")
	}
	n := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	if n > uint32(MaxFrameSize) || r.off+int(n) > len(r.buf) || r.off+int(n) < r.off {
		return "", malformed("length field overruns buffer")
	}
	v := string(r.buf[r.off : r.off+int(n)])
	r.off += int(n)
	return v, nil
}
