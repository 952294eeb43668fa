package peer

import "errors"

// ErrFileNotFound is reported to the shell when send-file names a path
// that cannot be opened; no frame is emitted in this case.
var ErrFileNotFound = errors.New("peer: file not found")

// ErrMissingChunks is the reason string surfaced via FileFailedEvent
// when FILE_END arrives but the reassembly map is missing an index in
// {0..total-1}.
var ErrMissingChunks = errors.New("peer: missing chunks at reassembly")

// ErrUnknownTransfer names the case of a FILE_ACK or FILE_CHUNK that
// references a transfer the peer has no state for. No function returns
// it: the inbound handlers log and drop such frames.
var ErrUnknownTransfer = errors.New("peer: unknown transfer")

// ErrNotConnected is returned by shell-facing operations invoked
// before Start or after Stop.
var ErrNotConnected = errors.New("peer: not connected")
