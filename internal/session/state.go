package session

import (
	"errors"
	"fmt"

	"github.com/1ureka/vcollab/internal/token"
)

// State is the lifecycle stage of an Endpoint.
type State int32

const (
	StateIdle State = iota
	StateIntroducing
	StateHostListening
	StatePeerConnecting
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateIntroducing:
		return "introducing"
	case StateHostListening:
		return "host-listening"
	case StatePeerConnecting:
		return "peer-connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

var (
	// ErrInvalidToken rejects a malformed room token before any network
	// activity.
	ErrInvalidToken = token.ErrInvalid
	// ErrRoomFull ends a peer session the host refused for lack of slots.
	ErrRoomFull = errors.New("room is full")
	// ErrHostDisconnected ends a peer session when its link to the host
	// drops. There is no reconnection.
	ErrHostDisconnected = errors.New("host disconnected")
	// ErrBackpressure is returned by SendFrame when the outbound queue is
	// full; the frame is dropped.
	ErrBackpressure = errors.New("outbound frame queue full")
	// ErrNotConnected is returned by SendFrame before the session is active.
	ErrNotConnected = errors.New("session is not active")
	// ErrAlreadyStarted is returned when an Endpoint is connected twice.
	ErrAlreadyStarted = errors.New("session already started")
)
