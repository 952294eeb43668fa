package wire

import (
	"encoding/binary"
	"sort"
	"strings"
)

// FileStartPayload builds the FILE_START payload: a u16-length-prefixed
// UTF-8 filename followed by an i64 file size, matching a conventional
// short-string encoding.
func FileStartPayload(filename string, size int64) ([]byte, error) {
	if len(filename) > 1<<16-1 {
		return nil, malformed("filename too long for u16 length prefix")
	}
	buf := make([]byte, 2+len(filename)+8)
	binary.BigEndian.PutUint16(buf, uint16(len(filename)))
	copy(buf[2:], filename)
	binary.BigEndian.PutUint64(buf[2+len(filename):], uint64(size))
	return buf, nil
}

// ParseFileStartPayload is the inverse of FileStartPayload.
func ParseFileStartPayload(payload []byte) (filename string, size int64, err error) {
	if len(payload) < 2 {
		return "", 0, malformed("FILE_START payload too short for length prefix")
	}
	n := binary.BigEndian.Uint16(payload)
	if len(payload) < 2+int(n)+8 {
		return "", 0, malformed("FILE_START payload too short for filename+size")
	}
	filename = string(payload[2 : 2+n])
	size = int64(binary.BigEndian.Uint64(payload[2+int(n):]))
	return filename, size, nil
}

// FileEndPayload builds the FILE_END payload: the authoritative total
// chunk count.
func FileEndPayload(totalChunks int32) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(totalChunks))
	return buf
}

// ParseFileEndPayload is the inverse of FileEndPayload.
func ParseFileEndPayload(payload []byte) (int32, error) {
	if len(payload) != 4 {
		return 0, malformed("FILE_END payload must be exactly 4 bytes")
	}
	return int32(binary.BigEndian.Uint32(payload)), nil
}

// ClientListPayload builds the CLIENT_LIST payload from a set of
// registered ids, in the caller's given order.
func ClientListPayload(ids []string) []byte {
	return []byte(ClientListPrefix + strings.Join(ids, ","))
}

// ParseClientListPayload is the inverse of ClientListPayload. It
// returns a sorted slice for deterministic comparison by callers.
func ParseClientListPayload(payload []byte) ([]string, error) {
	s := string(payload)
	if !strings.HasPrefix(s, ClientListPrefix) {
		return nil, malformed("CLIENT_LIST payload missing ONLINE_USERS: prefix")
	}
	rest := strings.TrimPrefix(s, ClientListPrefix)
	if rest == "" {
		return []string{}, nil
	}
	ids := strings.Split(rest, ",")
	sort.Strings(ids)
	return ids, nil
}
