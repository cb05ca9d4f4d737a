package driver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"kerf/gcode"
)

// GRBL error codes returned by the simulator
const (
	errUnsupportedCommand = "error:20" // unsupported or invalid G-code command
	errAlarmLock          = "error:9"  // G-code locked out during alarm
	errInvalidJog         = "error:15" // jog target or format invalid
	errBadStatement       = "error:3"  // '$' statement not recognised
)

const mmPerInch = 25.4

// modal is the G-code state that persists across lines
type modal struct {
	relative bool
	inches   bool
	machine  bool // G53, only ever set for a single jog
}

func (m modal) unit() float64 {
	if m.inches {
		return mmPerInch
	}
	return 1
}

// Virtual simulates a GRBL controller: position, work offset, modal state,
// laser and dwell. No hardware is involved.
type Virtual struct {
	log          *slog.Logger
	dwellScale   float64
	pollInterval time.Duration
	parser       *gcode.Parser
	cmdSem       chan struct{}

	mu        sync.Mutex
	connected bool
	state     State
	mpos      Position
	wco       Position
	feed      float64
	power     float64
	laserOn   bool
	modes     modal
	abortCh   chan struct{}
	aborted   bool
	resetCh   chan struct{}
	closeCh   chan struct{} // closed by Disconnect
	progress  Progress
}

var _ Driver = (*Virtual)(nil)

// NewVirtual creates a disconnected simulator
func NewVirtual(opts ...Option) *Virtual {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Virtual{
		log:          o.log,
		dwellScale:   o.dwellScale,
		pollInterval: o.pollInterval,
		parser:       gcode.NewParser(),
		cmdSem:       make(chan struct{}, 1),
		resetCh:      make(chan struct{}),
	}
}

// Connect powers up the simulated controller in the IDLE state
func (v *Virtual) Connect(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.connected {
		return nil
	}
	v.connected = true
	v.closeCh = make(chan struct{})
	v.state = StateIdle
	v.log.Info("virtual controller connected")
	return nil
}

// Disconnect resets the session. A running stream fails with ErrDisconnected.
func (v *Virtual) Disconnect() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return nil
	}
	v.connected = false
	close(v.closeCh)
	v.state = StateUnknown
	v.mpos, v.wco = Position{}, Position{}
	v.feed, v.power, v.laserOn = 0, 0, false
	v.modes = modal{}
	v.log.Info("virtual controller disconnected")
	return nil
}

// IsConnected reports whether the simulator is connected
func (v *Virtual) IsConnected() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.connected
}

// Status returns the simulated status report
func (v *Virtual) Status(ctx context.Context) (Status, error) {
	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return Status{}, ErrNotConnected
	}
	line := v.reportLocked()
	v.mu.Unlock()
	return ParseReport(line)
}

func (v *Virtual) reportLocked() string {
	power := 0.0
	if v.laserOn {
		power = v.power
	}
	return FormatReport(v.state, v.mpos, v.mpos.Sub(v.wco), v.feed, power)
}

// State returns the current run state
func (v *Virtual) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Progress reports the active stream's progress
func (v *Virtual) Progress() Progress {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.progress
}

func (v *Virtual) acquire(ctx context.Context, abort <-chan struct{}) error {
	select {
	case v.cmdSem <- struct{}{}:
		return nil
	case <-abort:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Virtual) release() { <-v.cmdSem }

// SendLine runs one command through the simulator
func (v *Virtual) SendLine(ctx context.Context, line string) (Ack, error) {
	if !v.IsConnected() {
		return nil, ErrNotConnected
	}
	if err := v.acquire(ctx, nil); err != nil {
		return nil, err
	}
	defer v.release()

	v.mu.Lock()
	reset := v.resetCh
	v.mu.Unlock()
	return v.execute(ctx, gcode.StripComments(line), reset)
}

// StreamJob runs each line of a program through the simulator. A HOLD
// status, including one set before the stream started, suspends the stream
// until Resume or Abort.
func (v *Virtual) StreamJob(ctx context.Context, text string, mode StreamMode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	lines := gcode.StreamLines(text)

	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return ErrNotConnected
	}
	if v.abortCh != nil {
		v.mu.Unlock()
		return ErrStreamActive
	}
	abort := make(chan struct{})
	v.abortCh = abort
	v.aborted = false
	if v.state != StateHold {
		v.state = StateRun
	}
	v.progress = Progress{Active: true, Total: len(lines)}
	v.mu.Unlock()

	err := v.stream(ctx, lines, abort)

	v.mu.Lock()
	v.abortCh = nil
	v.progress.Active = false
	if v.connected {
		if err != nil {
			v.state = StateAlarm
			v.laserOn = false
		} else {
			v.state = StateIdle
		}
	}
	v.mu.Unlock()

	if err != nil {
		v.log.Warn("stream failed", "err", err)
	}
	return err
}

func (v *Virtual) stream(ctx context.Context, lines []string, abort chan struct{}) error {
	if err := v.acquire(ctx, abort); err != nil {
		return err
	}
	defer v.release()

	for _, line := range lines {
		if err := v.waitWhileHeld(ctx, abort); err != nil {
			return err
		}

		ack, err := v.execute(ctx, line, abort)
		if err != nil {
			return err
		}
		if err := rejection(line, ack); err != nil {
			return err
		}

		v.mu.Lock()
		v.progress.Sent++
		v.mu.Unlock()
	}
	return nil
}

// waitWhileHeld polls until the state leaves HOLD
func (v *Virtual) waitWhileHeld(ctx context.Context, abort <-chan struct{}) error {
	for {
		v.mu.Lock()
		connected, held := v.connected, v.state == StateHold
		v.mu.Unlock()

		if !connected {
			return ErrDisconnected
		}
		select {
		case <-abort:
			return ErrAborted
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if !held {
			return nil
		}

		select {
		case <-abort:
			return ErrAborted
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(v.pollInterval):
		}
	}
}

// Abort cancels the active stream and any running dwell. The simulated soft
// reset turns the laser off and restores default modal state.
func (v *Virtual) Abort() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return ErrNotConnected
	}
	if v.abortCh != nil && !v.aborted {
		v.aborted = true
		close(v.abortCh)
	}
	close(v.resetCh)
	v.resetCh = make(chan struct{})
	v.laserOn = false
	v.modes = modal{}
	v.log.Info("abort requested")
	return nil
}

// Pause holds the stream
func (v *Virtual) Pause() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return ErrNotConnected
	}
	if v.state == StateIdle || v.state == StateRun {
		v.state = StateHold
	}
	return nil
}

// Resume releases a hold
func (v *Virtual) Resume() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.connected {
		return ErrNotConnected
	}
	if v.state == StateHold {
		v.state = v.busyStateLocked()
	}
	return nil
}

// busyStateLocked is the state to return to after a hold or unlock
func (v *Virtual) busyStateLocked() State {
	if v.abortCh != nil {
		return StateRun
	}
	return StateIdle
}

// execute interprets one line. Dwells sleep with the lock released.
func (v *Virtual) execute(ctx context.Context, line string, abort <-chan struct{}) (Ack, error) {
	v.mu.Lock()
	if !v.connected {
		v.mu.Unlock()
		return nil, ErrDisconnected
	}
	ack, dwell := v.interpret(line)
	if _, ok := ack.(Rejected); ok {
		v.state = StateAlarm
		v.laserOn = false
	}
	closed := v.closeCh
	v.mu.Unlock()

	if dwell > 0 {
		d := time.Duration(dwell * v.dwellScale * float64(time.Second))
		v.log.Debug("dwell", "duration", d)
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-abort:
			return nil, ErrAborted
		case <-closed:
			return nil, ErrDisconnected
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return ack, nil
}

// interpret applies line to the simulated state and returns the reply and
// any dwell in seconds. Callers hold v.mu.
func (v *Virtual) interpret(line string) (Ack, float64) {
	switch {
	case line == "":
		return Ok{}, 0
	case line == "?":
		return Ok{Info: []string{v.reportLocked()}}, 0
	case strings.HasPrefix(line, "$"):
		return v.system(line), 0
	}

	if v.state == StateAlarm {
		return Rejected{Message: errAlarmLock}, 0
	}

	cmd, _ := v.parser.ParseLine(line)
	if cmd == nil {
		return Ok{}, 0
	}

	modes := v.modes
	laserOn := v.laserOn
	var setOffset bool
	for _, w := range cmd.Codes {
		switch w.Letter {
		case 'G':
			switch w.Number {
			case 0, 1, 17, 40, 49, 54, 94:
			case 4:
			case 10:
				if cmd.GetParameter('L', 0) != 20 || cmd.GetParameter('P', 1) != 1 {
					return Rejected{Message: errUnsupportedCommand}, 0
				}
				setOffset = true
			case 20:
				modes.inches = true
			case 21:
				modes.inches = false
			case 90:
				modes.relative = false
			case 91:
				modes.relative = true
			case 92:
				setOffset = true
			default:
				return Rejected{Message: errUnsupportedCommand}, 0
			}
		case 'M':
			switch w.Number {
			case 3, 4:
				laserOn = true
			case 5:
				laserOn = false
			case 2, 30:
				laserOn = false
				modes = modal{}
			case 7, 8, 9:
			default:
				return Rejected{Message: errUnsupportedCommand}, 0
			}
		}
	}
	v.modes = modes
	v.laserOn = laserOn
	unit := modes.unit()

	if f, ok := cmd.Parameters['F']; ok {
		v.feed = f * unit
	}
	if s, ok := cmd.Parameters['S']; ok {
		v.power = s
	}

	var dwell float64
	switch {
	case cmd.HasCode('G', 4):
		dwell = cmd.GetParameter('P', 0)
	case setOffset:
		// offset so that the current machine position reads as the given value
		v.wco = applyAxes(v.wco, cmd.Parameters, func(i int, value float64) float64 {
			return v.mpos.axis(i) - value*unit
		})
	default:
		v.mpos = v.target(cmd.Parameters, modes)
	}
	return Ok{}, dwell
}

// target returns the machine position a motion with params ends at
func (v *Virtual) target(params map[byte]float64, modes modal) Position {
	unit := modes.unit()
	return applyAxes(v.mpos, params, func(i int, value float64) float64 {
		switch {
		case modes.relative:
			return v.mpos.axis(i) + value*unit
		case modes.machine:
			return value * unit
		}
		return value*unit + v.wco.axis(i)
	})
}

// system handles '$' commands: homing, unlock, jog and settings queries
func (v *Virtual) system(line string) Ack {
	switch {
	case line == "$H":
		v.mpos = Position{}
		v.state = v.busyStateLocked()
		return Ok{}
	case line == "$X":
		if v.state == StateAlarm {
			v.state = v.busyStateLocked()
		}
		return Ok{Info: []string{"[MSG:Caution: Unlocked]"}}
	case line == "$G":
		return Ok{Info: []string{v.parserStateLocked()}}
	case line == "$" || line == "$$" || line == "$I" || line == "$#" || isSetting(line):
		return Ok{}
	case strings.HasPrefix(line, "$J="):
		return v.jog(line[len("$J="):])
	}
	return Rejected{Message: errBadStatement}
}

// jog moves like G1 but its G20/G21 and G90/G91 words apply to this line only
func (v *Virtual) jog(body string) Ack {
	if v.state == StateAlarm {
		return Rejected{Message: errAlarmLock}
	}
	cmd, _ := v.parser.ParseLine(body)
	if cmd == nil {
		return Rejected{Message: errInvalidJog}
	}

	modes := v.modes
	for _, w := range cmd.Codes {
		if w.Letter != 'G' {
			return Rejected{Message: errInvalidJog}
		}
		switch w.Number {
		case 20:
			modes.inches = true
		case 21:
			modes.inches = false
		case 90:
			modes.relative = false
		case 91:
			modes.relative = true
		case 53:
			modes.machine = true
		default:
			return Rejected{Message: errInvalidJog}
		}
	}
	if !cmd.HasParameter('X') && !cmd.HasParameter('Y') && !cmd.HasParameter('Z') {
		return Rejected{Message: errInvalidJog}
	}

	v.mpos = v.target(cmd.Parameters, modes)
	return Ok{}
}

func (v *Virtual) parserStateLocked() string {
	units, dist, laser := "G21", "G90", "M5"
	if v.modes.inches {
		units = "G20"
	}
	if v.modes.relative {
		dist = "G91"
	}
	if v.laserOn {
		laser = "M4"
	}
	return fmt.Sprintf("[GC:G1 G54 G17 %s %s G94 %s F%g S%g]", units, dist, laser, v.feed, v.power)
}

// isSetting matches $<n>=<value>
func isSetting(line string) bool {
	key, _, found := strings.Cut(line[1:], "=")
	if !found || key == "" {
		return false
	}
	for i := 0; i < len(key); i++ {
		if key[i] < '0' || key[i] > '9' {
			return false
		}
	}
	return true
}

var axisLetters = [3]byte{'X', 'Y', 'Z'}

func (p Position) axis(i int) float64 {
	switch i {
	case 0:
		return p.X
	case 1:
		return p.Y
	}
	return p.Z
}

func (p *Position) setAxis(i int, val float64) {
	switch i {
	case 0:
		p.X = val
	case 1:
		p.Y = val
	default:
		p.Z = val
	}
}

// applyAxes replaces each axis named in params with f(axis, value)
func applyAxes(p Position, params map[byte]float64, f func(i int, value float64) float64) Position {
	for i, letter := range axisLetters {
		if value, ok := params[letter]; ok {
			p.setAxis(i, f(i, value))
		}
	}
	return p
}
