package domain

import "strconv"

// Event is one item of an upstream live feed. The set of implementations is
// closed: ConnectEvent, ControlEvent and ContentEvent.
type Event interface {
	isEvent()
}

// ConnectEvent reports that the upstream connection is established.
type ConnectEvent struct {
	RoomID string
}

// ControlEvent reports a change of the live session state.
type ControlEvent struct {
	Status LiveStatus
}

// ContentEvent carries one chat message.
type ContentEvent struct {
	MsgID    string
	RoomID   string
	UserID   string
	UserName string
	Content  string
}

func (ConnectEvent) isEvent() {}
func (ControlEvent) isEvent() {}
func (ContentEvent) isEvent() {}

// LiveStatus is the upstream's description of the live session state.
type LiveStatus string

const (
	LiveStatusPaused  LiveStatus = "paused"
	LiveStatusResumed LiveStatus = "resumed"
	LiveStatusEnded   LiveStatus = "ended"
)

// StatusCode is the numeric code subscribers receive for a LiveStatus.
type StatusCode int

const (
	StatusUnknown StatusCode = iota
	StatusPaused
	StatusResumed
	StatusEnded
)

// Code maps s onto a StatusCode. Anything unrecognised is StatusUnknown.
func (s LiveStatus) Code() StatusCode {
	switch s {
	case LiveStatusPaused:
		return StatusPaused
	case LiveStatusResumed:
		return StatusResumed
	case LiveStatusEnded:
		return StatusEnded
	default:
		return StatusUnknown
	}
}

// Frame renders the code as the single-digit text frame sent to subscribers.
func (c StatusCode) Frame() string {
	return strconv.Itoa(int(c))
}
