package core

// Frame is one encoded signaling message.
type Frame []byte

// SignalConnection is the send side of a participant's transport.
// Owned by the adapter; TrySend must never block.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}
