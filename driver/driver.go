// Package driver talks to GRBL-style laser controllers. Two implementations
// share the Driver interface: Serial speaks the line protocol over a byte
// transport, Virtual simulates a controller in memory.
package driver

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("driver not connected")
	ErrAborted         = errors.New("Stream aborted")
	ErrDisconnected    = errors.New("controller disconnected")
	ErrStreamActive    = errors.New("a stream is already active")
	ErrUnsupportedMode = errors.New("unsupported stream mode")
)

// ProtocolError is returned when the controller rejects a line or sends
// something the driver cannot parse.
type ProtocolError struct {
	Line    string // line that was sent, or the unparsable line received
	Message string // controller response or parse failure
}

func (e *ProtocolError) Error() string {
	if e.Line == "" {
		return "protocol error: " + e.Message
	}
	return fmt.Sprintf("protocol error on %q: %s", e.Line, e.Message)
}

// StreamMode selects the flow control used by StreamJob
type StreamMode string

// ModeAck sends one line and waits for its acknowledgement before the next
const ModeAck StreamMode = "ack"

// State is the controller run state
type State int

const (
	StateUnknown State = iota
	StateIdle
	StateRun
	StateHold
	StateAlarm
)

var stateNames = [...]string{"UNKNOWN", "IDLE", "RUN", "HOLD", "ALARM"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Position is a three-axis coordinate in millimetres
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Sub returns p - o
func (p Position) Sub(o Position) Position {
	return Position{X: p.X - o.X, Y: p.Y - o.Y, Z: p.Z - o.Z}
}

// Add returns p + o
func (p Position) Add(o Position) Position {
	return Position{X: p.X + o.X, Y: p.Y + o.Y, Z: p.Z + o.Z}
}

// Status is a decoded status report
type Status struct {
	State State     `json:"state"`
	MPos  *Position `json:"mpos,omitempty"`
	WPos  *Position `json:"wpos,omitempty"`
	Feed  float64   `json:"feed"`
	Power float64   `json:"power"`
	Raw   string    `json:"raw,omitempty"`
}

// Ack is the outcome of a single command: either Ok or Rejected.
type Ack interface {
	// Lines returns the informational lines seen before the terminal line
	Lines() []string
	isAck()
}

// Ok is a command the controller accepted
type Ok struct {
	Info []string
}

// Rejected is a command that ended in error: or ALARM
type Rejected struct {
	Message string // terminal line, e.g. "error:20" or "ALARM:1"
	Alarm   bool
	Info    []string
}

func (a Ok) Lines() []string       { return a.Info }
func (a Rejected) Lines() []string { return a.Info }
func (Ok) isAck()                  {}
func (Rejected) isAck()            {}

// Progress reports how far the active stream has got
type Progress struct {
	Active bool `json:"active"`
	Sent   int  `json:"sent"`
	Total  int  `json:"total"`
}

// Driver is the control surface shared by the serial and virtual drivers.
// Blocking calls honour ctx. Only one StreamJob may run at a time.
type Driver interface {
	Connect(ctx context.Context) error
	Disconnect() error
	IsConnected() bool
	Status(ctx context.Context) (Status, error)
	SendLine(ctx context.Context, line string) (Ack, error)
	StreamJob(ctx context.Context, text string, mode StreamMode) error
	Abort() error
	Pause() error
	Resume() error
	Progress() Progress
}

func checkMode(mode StreamMode) error {
	if mode != ModeAck && mode != "" {
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}
	return nil
}

// rejection converts a rejected ack on line into a ProtocolError
func rejection(line string, ack Ack) error {
	if r, ok := ack.(Rejected); ok {
		return &ProtocolError{Line: line, Message: r.Message}
	}
	return nil
}
