package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []*Packet{
		{Type: TypeMSG, SenderID: "alice", RecipientID: Broadcast, Payload: []byte("hi")},
		{Type: TypeMSG, SenderID: "alice", RecipientID: "bob", Payload: []byte("psst")},
		{Type: TypeFileChunk, SenderID: "alice", RecipientID: "bob", Sequence: 7, FileID: 3, Payload: []byte{1, 2, 3}},
		{Type: TypeRegister, SenderID: "alice", RecipientID: ""},
		{Type: TypeHeartbeat, SenderID: "alice", RecipientID: ""},
		{Type: TypeAck, SenderID: ServerSenderID, RecipientID: "alice"},
		{Type: TypeFileAck, SenderID: "bob", RecipientID: "alice", Sequence: 2, FileID: 9},
		{Type: TypeClientList, SenderID: ServerSenderID, RecipientID: Broadcast, Payload: ClientListPayload([]string{"a", "b"})},
		{Type: TypeMSG, SenderID: "x", RecipientID: Broadcast, Payload: []byte{}},
	}

	for _, p := range cases {
		b, err := p.MarshalBinary()
		require.NoError(t, err)

		got := &Packet{}
		require.NoError(t, got.UnmarshalBinary(b))
		require.Equal(t, p.Type, got.Type)
		require.Equal(t, p.SenderID, got.SenderID)
		require.Equal(t, p.RecipientID, got.RecipientID)
		require.Equal(t, p.Sequence, got.Sequence)
		require.Equal(t, p.FileID, got.FileID)
		require.Equal(t, p.Payload, got.Payload)
	}
}

func TestUnmarshalShortInput(t *testing.T) {
	p := &Packet{}
	err := p.UnmarshalBinary([]byte{1, 0, 0})
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestUnmarshalLengthOverflow(t *testing.T) {
	// type byte + a sender-id length claiming far more bytes than present
	b := []byte{byte(TypeMSG), 0xFF, 0xFF, 0xFF, 0xFF}
	p := &Packet{}
	err := p.UnmarshalBinary(b)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrMalformedFrame)
}

func TestUnmarshalInvalidUTF8(t *testing.T) {
	p := &Packet{SenderID: "ok", RecipientID: Broadcast}
	b, err := p.MarshalBinary()
	require.NoError(t, err)

	// Corrupt the sender-id bytes (offset 5, right after the 4-byte
	// length prefix for a 2-byte sender-id) into 0xFF, a byte that never
	// appears in valid UTF-8.
	b[5] = 0xFF

	got := &Packet{}
	err = got.UnmarshalBinary(b)
	require.Error(t, err)
}

func TestFileStartPayloadRoundTrip(t *testing.T) {
	payload, err := FileStartPayload("test-file.txt", 622)
	require.NoError(t, err)

	name, size, err := ParseFileStartPayload(payload)
	require.NoError(t, err)
	require.Equal(t, "test-file.txt", name)
	require.Equal(t, int64(622), size)
}

func TestFileEndPayloadRoundTrip(t *testing.T) {
	payload := FileEndPayload(3)
	n, err := ParseFileEndPayload(payload)
	require.NoError(t, err)
	require.Equal(t, int32(3), n)
}

func TestClientListPayloadRoundTrip(t *testing.T) {
	payload := ClientListPayload([]string{"b", "a", "c"})
	ids, err := ParseClientListPayload(payload)
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b", "c"}, ids)
}

func TestClientListPayloadEmpty(t *testing.T) {
	payload := ClientListPayload(nil)
	ids, err := ParseClientListPayload(payload)
	require.NoError(t, err)
	require.Empty(t, ids)
}
