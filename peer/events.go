package peer

// Event is emitted by the peer core to whatever shell is driving it.
// Exactly one field is non-nil/non-zero per event, mirroring the
// tagged-variant event style used by the cborplugin Event type.
type Event struct {
	Message      *MessageEvent
	FileStart    *FileStartEvent
	FileProgress *FileProgressEvent
	FileComplete *FileCompleteEvent
	FileFailed   *FileFailedEvent
	PeerList     *PeerListEvent
}

// MessageEvent corresponds to on-message(sender-id, text).
type MessageEvent struct {
	SenderID string
	Text     string
}

// FileStartEvent corresponds to on-file-start(sender-id, file-id, filename, size).
type FileStartEvent struct {
	SenderID string
	FileID   int32
	Filename string
	Size     int64
}

// FileProgressEvent corresponds to on-file-progress(sender-id, file-id, bytes-received, total-size).
type FileProgressEvent struct {
	SenderID      string
	FileID        int32
	BytesReceived int64
	TotalSize     int64
}

// FileCompleteEvent corresponds to on-file-complete(sender-id, file-id, saved-path).
type FileCompleteEvent struct {
	SenderID  string
	FileID    int32
	SavedPath string
}

// FileFailedEvent corresponds to on-file-failed(sender-id, file-id, reason).
type FileFailedEvent struct {
	SenderID string
	FileID   int32
	Reason   string
}

// PeerListEvent corresponds to on-peer-list(set<id>).
type PeerListEvent struct {
	IDs []string
}

// EventSink receives events from the peer core. The shell (or a test)
// implements this.
type EventSink interface {
	OnEvent(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) OnEvent(e Event) { f(e) }
