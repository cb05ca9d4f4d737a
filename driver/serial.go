package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"kerf/gcode"
)

// Realtime bytes. These bypass the controller's line buffer and are never
// acknowledged.
const (
	cmdStatus    = '?'
	cmdFeedHold  = '!'
	cmdResume    = '~'
	cmdSoftReset = 0x18
)

// Opener opens the byte transport to the controller
type Opener func(ctx context.Context) (io.ReadWriteCloser, error)

type reportResult struct {
	status Status
	err    error
}

// serialConn is the state of one open transport
type serialConn struct {
	port    io.ReadWriteCloser
	queue   *lineQueue
	done    chan struct{} // closed when readLoop exits
	writeMu sync.Mutex

	// guarded by Serial.mu
	reportCh chan struct{} // closed and replaced on every report
	report   reportResult
	resetCh  chan struct{} // closed and replaced on every Abort
	closed   bool
	inFlight int // commands written whose terminal line has not arrived
	stale    int // terminal lines to discard after an abort
}

func (c *serialConn) write(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	n, err := c.port.Write(b)
	if err != nil {
		return err
	}
	if n != len(b) {
		return fmt.Errorf("incomplete write: %d/%d bytes", n, len(b))
	}
	return nil
}

// Serial drives a GRBL-compatible controller over a byte transport using
// ack-mode flow control: one command in flight at a time.
type Serial struct {
	opener Opener
	log    *slog.Logger
	cmdSem chan struct{}

	mu       sync.Mutex
	conn     *serialConn
	state    State
	abortCh  chan struct{} // non-nil while a stream is active
	aborted  bool
	progress Progress
}

var _ Driver = (*Serial)(nil)

// NewSerial creates a driver that opens its transport with opener on Connect
func NewSerial(opener Opener, opts ...Option) *Serial {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Serial{
		opener: opener,
		log:    o.log,
		cmdSem: make(chan struct{}, 1),
	}
}

// Connect opens the transport and starts the background reader
func (s *Serial) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		return nil
	}

	port, err := s.opener(ctx)
	if err != nil {
		return fmt.Errorf("failed to open transport: %w", err)
	}
	if f, ok := port.(interface{ Flush() error }); ok {
		if err := f.Flush(); err != nil {
			s.log.Warn("flush failed", "err", err)
		}
	}

	c := &serialConn{
		port:     port,
		queue:    newLineQueue(),
		done:     make(chan struct{}),
		reportCh: make(chan struct{}),
		resetCh:  make(chan struct{}),
	}
	s.conn = c
	s.state = StateUnknown
	go s.readLoop(c)

	s.log.Info("connected")
	return nil
}

// Disconnect closes the transport. Pending commands and streams fail with
// ErrDisconnected.
func (s *Serial) Disconnect() error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	s.teardown(c)
	err := c.port.Close()
	<-c.done

	s.log.Info("disconnected")
	return err
}

// IsConnected reports whether a transport is open
func (s *Serial) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// teardown detaches c and wakes every waiter on it
func (s *Serial) teardown(c *serialConn) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == c {
		s.conn = nil
		s.state = StateUnknown
	}
	if !c.closed {
		c.closed = true
		c.report = reportResult{err: ErrDisconnected}
		close(c.reportCh)
	}
	c.queue.close(ErrDisconnected)
}

// readLoop continuously reads from the transport and routes complete lines
func (s *Serial) readLoop(c *serialConn) {
	defer close(c.done)

	lines := newLineBuffer(512)
	buffer := make([]byte, 256)

	for {
		n, err := c.port.Read(buffer)
		data := buffer[:n]
		for len(data) > 0 {
			w := lines.Write(data)
			data = data[w:]
			for _, line := range lines.Lines() {
				s.handleLine(c, line)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Warn("read failed", "err", err)
			}
			s.teardown(c)
			return
		}
	}
}

// handleLine routes one received line
func (s *Serial) handleLine(c *serialConn, line string) {
	s.log.Debug("recv", "line", line)

	s.mu.Lock()
	defer s.mu.Unlock()

	kind := classify(line)
	switch kind {
	case lineReport:
		if c.closed {
			return
		}
		st, err := ParseReport(line)
		if err != nil {
			s.log.Warn("malformed status report", "line", line)
			s.setState(c, StateAlarm)
		} else {
			s.setState(c, st.State)
		}
		c.report = reportResult{status: st, err: err}
		close(c.reportCh)
		c.reportCh = make(chan struct{})

	case lineBanner:
		c.stale = 0
		s.log.Info("controller reset", "banner", line)

	case lineOk, lineError, lineAlarm:
		if kind != lineOk {
			s.setState(c, StateAlarm)
		}
		if c.stale > 0 {
			c.stale--
			s.log.Debug("discarding stale ack", "line", line)
			return
		}
		if c.inFlight == 0 {
			return
		}
		c.inFlight--
		c.queue.push(line)

	default:
		if c.inFlight > 0 {
			c.queue.push(line)
		} else {
			s.log.Info("controller message", "line", line)
		}
	}
}

// setState updates the run state if c is still the active connection.
// Callers hold s.mu.
func (s *Serial) setState(c *serialConn, st State) {
	if s.conn == c {
		s.state = st
	}
}

// active returns the open connection or ErrNotConnected
func (s *Serial) active() (*serialConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil, ErrNotConnected
	}
	return s.conn, nil
}

// abandon forgets the commands awaiting a reply. Their terminal lines will
// still arrive and are discarded. Callers hold s.mu.
func (c *serialConn) abandon() {
	c.stale += c.inFlight
	c.inFlight = 0
	c.queue.reset()
}

// Status sends a realtime status query and waits for the next report
func (s *Serial) Status(ctx context.Context) (Status, error) {
	s.mu.Lock()
	c := s.conn
	if c == nil {
		s.mu.Unlock()
		return Status{}, ErrNotConnected
	}
	ch := c.reportCh
	s.mu.Unlock()

	if err := c.write([]byte{cmdStatus}); err != nil {
		return Status{}, fmt.Errorf("failed to request status: %w", err)
	}

	select {
	case <-ch:
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return c.report.status, c.report.err
}

// acquire takes the single command slot
func (s *Serial) acquire(ctx context.Context, abort <-chan struct{}) error {
	select {
	case s.cmdSem <- struct{}{}:
		return nil
	case <-abort:
		return ErrAborted
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Serial) release() { <-s.cmdSem }

// exchange writes one line and collects lines up to its terminal reply.
// The caller holds the command slot.
func (s *Serial) exchange(ctx context.Context, c *serialConn, line string, abort <-chan struct{}) (Ack, error) {
	s.mu.Lock()
	if s.conn != c {
		s.mu.Unlock()
		return nil, ErrDisconnected
	}
	c.inFlight++
	s.mu.Unlock()

	s.log.Debug("send", "line", line)
	if err := c.write([]byte(line + "\n")); err != nil {
		s.mu.Lock()
		c.inFlight--
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to write %q: %w", line, err)
	}

	var info []string
	for {
		reply, err := c.queue.next(ctx, abort)
		if err != nil {
			if !errors.Is(err, ErrDisconnected) {
				s.mu.Lock()
				c.abandon()
				s.mu.Unlock()
			}
			return nil, err
		}

		switch classify(reply) {
		case lineOk:
			return Ok{Info: info}, nil
		case lineError:
			return Rejected{Message: reply, Info: info}, nil
		case lineAlarm:
			return Rejected{Message: reply, Alarm: true, Info: info}, nil
		default:
			info = append(info, reply)
		}
	}
}

// SendLine sends one command and waits for its acknowledgement. A "?" line
// is answered with the status report as the single informational line.
func (s *Serial) SendLine(ctx context.Context, line string) (Ack, error) {
	if line == string(cmdStatus) {
		st, err := s.Status(ctx)
		if err != nil {
			return nil, err
		}
		return Ok{Info: []string{st.Raw}}, nil
	}

	c, err := s.active()
	if err != nil {
		return nil, err
	}
	if err := s.acquire(ctx, nil); err != nil {
		return nil, err
	}
	defer s.release()

	s.mu.Lock()
	reset := c.resetCh
	s.mu.Unlock()
	return s.exchange(ctx, c, line, reset)
}

// StreamJob sends the lines of a G-code program one at a time, waiting for
// each acknowledgement before sending the next. Any rejection stops the
// stream with a *ProtocolError. Abort, or cancellation of ctx, stops it with a
// soft reset. Either failure leaves the controller state ALARM.
func (s *Serial) StreamJob(ctx context.Context, text string, mode StreamMode) error {
	if err := checkMode(mode); err != nil {
		return err
	}
	lines := gcode.StreamLines(text)

	s.mu.Lock()
	c := s.conn
	if c == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.abortCh != nil {
		s.mu.Unlock()
		return ErrStreamActive
	}
	abort := make(chan struct{})
	s.abortCh = abort
	s.aborted = false
	s.state = StateRun
	s.progress = Progress{Active: true, Total: len(lines)}
	s.mu.Unlock()

	s.log.Info("stream started", "lines", len(lines))
	err := s.stream(ctx, c, lines, abort)

	s.mu.Lock()
	s.abortCh = nil
	s.progress.Active = false
	if err != nil {
		s.setState(c, StateAlarm)
	} else {
		s.setState(c, StateIdle)
	}
	s.mu.Unlock()

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		if werr := c.write([]byte{cmdSoftReset}); werr != nil {
			s.log.Warn("soft reset failed", "err", werr)
		}
	}

	if err != nil {
		s.log.Warn("stream failed", "err", err)
	} else {
		s.log.Info("stream finished", "lines", len(lines))
	}
	return err
}

func (s *Serial) stream(ctx context.Context, c *serialConn, lines []string, abort chan struct{}) error {
	if err := s.acquire(ctx, abort); err != nil {
		return err
	}
	defer s.release()

	for _, line := range lines {
		select {
		case <-abort:
			return ErrAborted
		default:
		}

		ack, err := s.exchange(ctx, c, line, abort)
		if err != nil {
			return err
		}
		if err := rejection(line, ack); err != nil {
			return err
		}

		s.mu.Lock()
		s.progress.Sent++
		s.mu.Unlock()
	}
	return nil
}

// Abort cancels the active stream and any pending SendLine, then soft-resets
// the controller.
// The reply to the line in flight is discarded when it arrives.
func (s *Serial) Abort() error {
	s.mu.Lock()
	c := s.conn
	if c == nil {
		s.mu.Unlock()
		return ErrNotConnected
	}
	if s.abortCh != nil && !s.aborted {
		s.aborted = true
		close(s.abortCh)
	}
	close(c.resetCh)
	c.resetCh = make(chan struct{})
	c.abandon()
	s.mu.Unlock()

	s.log.Info("abort requested")
	return c.write([]byte{cmdSoftReset})
}

// Pause sends a feed hold
func (s *Serial) Pause() error {
	c, err := s.active()
	if err != nil {
		return err
	}
	if err := c.write([]byte{cmdFeedHold}); err != nil {
		return err
	}
	s.mu.Lock()
	s.setState(c, StateHold)
	s.mu.Unlock()
	return nil
}

// Resume releases a feed hold
func (s *Serial) Resume() error {
	c, err := s.active()
	if err != nil {
		return err
	}
	if err := c.write([]byte{cmdResume}); err != nil {
		return err
	}
	s.mu.Lock()
	if s.state == StateHold {
		if s.abortCh != nil {
			s.setState(c, StateRun)
		} else {
			s.setState(c, StateIdle)
		}
	}
	s.mu.Unlock()
	return nil
}

// State returns the last known run state
func (s *Serial) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Progress reports the active stream's progress
func (s *Serial) Progress() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}
