package driver

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 2 * time.Second

// fakeController is the device end of a net.Pipe speaking the GRBL line
// protocol. reply returns the lines to send back for each received line;
// returning nil withholds the acknowledgement.
type fakeController struct {
	conn     net.Conn
	lines    chan string
	realtime chan byte
	reply    func(line string) []string
}

func newFakeController(t *testing.T, reply func(line string) []string) (*fakeController, Opener) {
	t.Helper()
	host, dev := net.Pipe()
	f := &fakeController{
		conn:     dev,
		lines:    make(chan string, 64),
		realtime: make(chan byte, 64),
		reply:    reply,
	}
	go f.run()
	t.Cleanup(func() {
		dev.Close()
		host.Close()
	})
	return f, func(ctx context.Context) (io.ReadWriteCloser, error) { return host, nil }
}

func (f *fakeController) run() {
	r := bufio.NewReader(f.conn)
	var line []byte
	for {
		b, err := r.ReadByte()
		if err != nil {
			return
		}
		switch b {
		case cmdStatus, cmdFeedHold, cmdResume, cmdSoftReset:
			f.realtime <- b
			if b == cmdStatus {
				f.send(f.reply("?")...)
			}
		case '\n':
			l := string(line)
			line = line[:0]
			f.lines <- l
			f.send(f.reply(l)...)
		default:
			line = append(line, b)
		}
	}
}

func (f *fakeController) send(lines ...string) {
	for _, l := range lines {
		if _, err := f.conn.Write([]byte(l + "\r\n")); err != nil {
			return
		}
	}
}

func okReply(line string) []string {
	switch {
	case line == "?":
		return []string{"<Idle|MPos:0.000,0.000,0.000|FS:0,0>"}
	case line == "$I":
		return []string{"[VER:1.1h.20190825:]", "[OPT:V,15,128]", "ok"}
	case line == "G28":
		return []string{"error:20"}
	}
	return []string{"ok"}
}

func recv[T any](t *testing.T, ch chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(testTimeout):
		t.Fatal("timed out")
	}
	var zero T
	return zero
}

func connected(t *testing.T, reply func(string) []string) (*Serial, *fakeController) {
	t.Helper()
	f, opener := newFakeController(t, reply)
	drv := NewSerial(opener)
	require.NoError(t, drv.Connect(context.Background()))
	t.Cleanup(func() { drv.Disconnect() })
	return drv, f
}

func TestSerialNotConnected(t *testing.T) {
	drv := NewSerial(func(ctx context.Context) (io.ReadWriteCloser, error) {
		return nil, errors.New("no such device")
	})
	ctx := context.Background()

	assert.False(t, drv.IsConnected())
	_, err := drv.SendLine(ctx, "G0 X0")
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = drv.Status(ctx)
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.ErrorIs(t, drv.StreamJob(ctx, "G0 X0", ModeAck), ErrNotConnected)
	assert.ErrorIs(t, drv.Abort(), ErrNotConnected)
	assert.ErrorIs(t, drv.Pause(), ErrNotConnected)

	err = drv.Connect(ctx)
	assert.ErrorContains(t, err, "no such device")
	assert.NoError(t, drv.Disconnect())
}

func TestSerialSendLine(t *testing.T) {
	drv, f := connected(t, okReply)
	ctx := context.Background()

	ack, err := drv.SendLine(ctx, "$I")
	require.NoError(t, err)
	assert.Equal(t, Ok{Info: []string{"[VER:1.1h.20190825:]", "[OPT:V,15,128]"}}, ack)
	assert.Equal(t, "$I", recv(t, f.lines))
	assert.Equal(t, StateUnknown, drv.State())

	ack, err = drv.SendLine(ctx, "G28")
	require.NoError(t, err)
	assert.Equal(t, Rejected{Message: "error:20"}, ack)
	assert.Equal(t, StateAlarm, drv.State())
}

func TestSerialUnsolicitedLinesIgnored(t *testing.T) {
	drv, f := connected(t, okReply)

	f.send("ok", "[MSG:'$H'|'$X' to unlock]", "Grbl 1.1h ['$' for help]")
	ack, err := drv.SendLine(context.Background(), "G21")
	require.NoError(t, err)
	assert.Equal(t, Ok{}, ack)
}

func TestSerialStatus(t *testing.T) {
	reply := func(line string) []string {
		if line == "?" {
			return []string{"<Hold:0|MPos:10.000,5.000,0.000|WCO:2.000,1.000,0.000|FS:500,250>"}
		}
		return okReply(line)
	}
	drv, f := connected(t, reply)

	st, err := drv.Status(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateHold, st.State)
	assert.Equal(t, &Position{X: 10, Y: 5}, st.MPos)
	assert.Equal(t, &Position{X: 8, Y: 4}, st.WPos)
	assert.Equal(t, 500.0, st.Feed)
	assert.Equal(t, 250.0, st.Power)
	assert.Equal(t, StateHold, drv.State())
	assert.Equal(t, byte(cmdStatus), recv(t, f.realtime))

	ack, err := drv.SendLine(context.Background(), "?")
	require.NoError(t, err)
	assert.Equal(t, []string{"<Hold:0|MPos:10.000,5.000,0.000|WCO:2.000,1.000,0.000|FS:500,250>"}, ack.Lines())
}

func TestSerialMalformedReport(t *testing.T) {
	reply := func(line string) []string {
		if line == "?" {
			return []string{"<Dancing|MPos:0,0,0>"}
		}
		return okReply(line)
	}
	drv, _ := connected(t, reply)

	_, err := drv.Status(context.Background())
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "<Dancing|MPos:0,0,0>", perr.Line)
	assert.Equal(t, StateAlarm, drv.State())
}

func TestSerialStreamJob(t *testing.T) {
	drv, f := connected(t, okReply)

	job := "G21\nG90\n\n; comment\n(setup)\nG0 X1 Y1 ; travel\nM4 S500\nG1 X2 F600\nM5\n"
	require.NoError(t, drv.StreamJob(context.Background(), job, ModeAck))

	want := []string{"G21", "G90", "G0 X1 Y1", "M4 S500", "G1 X2 F600", "M5"}
	for _, w := range want {
		assert.Equal(t, w, recv(t, f.lines))
	}
	assert.Equal(t, StateIdle, drv.State())
	assert.Equal(t, Progress{Sent: 6, Total: 6}, drv.Progress())
}

func TestSerialStreamRejected(t *testing.T) {
	drv, f := connected(t, okReply)

	err := drv.StreamJob(context.Background(), "G21\nG28\nG0 X1\n", "")
	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, &ProtocolError{Line: "G28", Message: "error:20"}, perr)
	assert.Equal(t, StateAlarm, drv.State())

	assert.Equal(t, "G21", recv(t, f.lines))
	assert.Equal(t, "G28", recv(t, f.lines))
	assert.Empty(t, f.lines)
}

func TestSerialStreamUnsupportedMode(t *testing.T) {
	drv, _ := connected(t, okReply)
	err := drv.StreamJob(context.Background(), "G0 X0", "buffered")
	assert.ErrorIs(t, err, ErrUnsupportedMode)
}

func TestSerialAbortDiscardsLateAck(t *testing.T) {
	reply := func(line string) []string {
		switch line {
		case "G4 P10":
			return nil
		case "$X":
			// the aborted dwell's ok arrives late, ahead of the unlock reply
			return []string{"ok", "[MSG:Caution: Unlocked]", "ok"}
		}
		return okReply(line)
	}
	drv, f := connected(t, reply)

	errCh := make(chan error, 1)
	go func() {
		errCh <- drv.StreamJob(context.Background(), "G21\nG4 P10\nG0 X1\n", ModeAck)
	}()
	assert.Equal(t, "G21", recv(t, f.lines))
	assert.Equal(t, "G4 P10", recv(t, f.lines))

	err := drv.StreamJob(context.Background(), "G0 X0", ModeAck)
	assert.ErrorIs(t, err, ErrStreamActive)

	require.NoError(t, drv.Abort())
	assert.ErrorIs(t, recv(t, errCh), ErrAborted)
	assert.Equal(t, byte(cmdSoftReset), recv(t, f.realtime))
	assert.Equal(t, StateAlarm, drv.State())
	assert.False(t, drv.Progress().Active)

	ack, err := drv.SendLine(context.Background(), "$X")
	require.NoError(t, err)
	assert.Equal(t, Ok{Info: []string{"[MSG:Caution: Unlocked]"}}, ack)
	assert.Equal(t, "$X", recv(t, f.lines))
}

func TestSerialBannerClearsStaleAcks(t *testing.T) {
	reply := func(line string) []string {
		if line == "G4 P10" {
			return nil
		}
		return okReply(line)
	}
	drv, f := connected(t, reply)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := drv.SendLine(ctx, "G4 P10")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	recv(t, f.lines)

	// controller reset: the abandoned dwell never gets an ok
	f.send("Grbl 1.1h ['$' for help]")
	ack, err := drv.SendLine(context.Background(), "G21")
	require.NoError(t, err)
	assert.Equal(t, Ok{}, ack)
}

func TestSerialStreamContextCancelled(t *testing.T) {
	reply := func(line string) []string {
		if line == "G4 P10" {
			return nil
		}
		return okReply(line)
	}
	drv, f := connected(t, reply)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- drv.StreamJob(ctx, "G4 P10\nG0 X1", ModeAck) }()
	recv(t, f.lines)
	cancel()

	assert.ErrorIs(t, recv(t, errCh), context.Canceled)
	assert.Equal(t, byte(cmdSoftReset), recv(t, f.realtime))
	assert.Equal(t, StateAlarm, drv.State())
}

func TestSerialDisconnectFailsWaiters(t *testing.T) {
	reply := func(line string) []string {
		if line == "G4 P10" {
			return nil
		}
		return okReply(line)
	}
	drv, f := connected(t, reply)

	errCh := make(chan error, 1)
	go func() { errCh <- drv.StreamJob(context.Background(), "G4 P10", ModeAck) }()
	recv(t, f.lines)

	f.conn.Close()
	assert.ErrorIs(t, recv(t, errCh), ErrDisconnected)
	assert.Eventually(t, func() bool { return !drv.IsConnected() }, testTimeout, time.Millisecond)
	assert.Equal(t, StateUnknown, drv.State())
}

func TestSerialPauseResume(t *testing.T) {
	drv, f := connected(t, okReply)

	require.NoError(t, drv.Pause())
	assert.Equal(t, byte(cmdFeedHold), recv(t, f.realtime))
	assert.Equal(t, StateHold, drv.State())

	require.NoError(t, drv.Resume())
	assert.Equal(t, byte(cmdResume), recv(t, f.realtime))
	assert.Equal(t, StateIdle, drv.State())
}

func TestSerialReconnect(t *testing.T) {
	drv, _ := connected(t, okReply)
	require.NoError(t, drv.Disconnect())
	assert.False(t, drv.IsConnected())
	_, err := drv.SendLine(context.Background(), "G21")
	assert.ErrorIs(t, err, ErrNotConnected)
}
