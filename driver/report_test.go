package driver

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseReport(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		state State
		mpos  *Position
		wpos  *Position
	}{
		{
			name:  "both positions",
			line:  "<Idle|MPos:1.000,2.000,3.000|WPos:0.500,1.000,3.000|FS:0,0>",
			state: StateIdle,
			mpos:  &Position{X: 1, Y: 2, Z: 3},
			wpos:  &Position{X: 0.5, Y: 1, Z: 3},
		},
		{
			name:  "work position derived from offset",
			line:  "<Run|MPos:10.000,10.000,0.000|FS:600,300|WCO:5.000,2.000,0.000>",
			state: StateRun,
			mpos:  &Position{X: 10, Y: 10},
			wpos:  &Position{X: 5, Y: 8},
		},
		{
			name:  "machine position derived from offset",
			line:  "<Jog|WPos:1.000,1.000,0.000|WCO:1.000,2.000,0.000>",
			state: StateRun,
			mpos:  &Position{X: 2, Y: 3},
			wpos:  &Position{X: 1, Y: 1},
		},
		{
			name:  "hold substate and two axes",
			line:  "<Hold:1|MPos:1.5,2.5>",
			state: StateHold,
			mpos:  &Position{X: 1.5, Y: 2.5},
		},
		{
			name:  "alarm without positions",
			line:  "<Alarm>",
			state: StateAlarm,
		},
		{
			name:  "door maps to hold",
			line:  "<Door:0|MPos:0,0,0>",
			state: StateHold,
			mpos:  &Position{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st, err := ParseReport(tt.line)
			require.NoError(t, err)
			assert.Equal(t, tt.state, st.State)
			assert.Equal(t, tt.mpos, st.MPos)
			assert.Equal(t, tt.wpos, st.WPos)
			assert.Equal(t, tt.line, st.Raw)
		})
	}
}

func TestParseReportMalformed(t *testing.T) {
	for _, line := range []string{
		"Idle|MPos:0,0,0",
		"<Idle|MPos:0,0,0",
		"<Bogus|MPos:0,0,0>",
		"<Idle|MPos:a,b,c>",
		"<Idle|WPos:1>",
	} {
		_, err := ParseReport(line)
		var perr *ProtocolError
		assert.ErrorAs(t, err, &perr, line)
	}
}

func TestFormatReportRoundTrip(t *testing.T) {
	line := FormatReport(StateHold, Position{X: 5, Y: 5}, Position{X: 1, Y: -2}, 1200, 250)
	assert.Equal(t, "<Hold:0|MPos:5.000,5.000,0.000|WPos:1.000,-2.000,0.000|FS:1200,250>", line)

	st, err := ParseReport(line)
	require.NoError(t, err)
	assert.Equal(t, StateHold, st.State)
	assert.Equal(t, &Position{X: 1, Y: -2}, st.WPos)
	assert.Equal(t, 1200.0, st.Feed)
	assert.Equal(t, 250.0, st.Power)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, lineOk, classify("ok"))
	assert.Equal(t, lineError, classify("error:22"))
	assert.Equal(t, lineAlarm, classify("ALARM:1"))
	assert.Equal(t, lineReport, classify("<Idle>"))
	assert.Equal(t, lineBanner, classify("Grbl 1.1h ['$' for help]"))
	assert.Equal(t, lineInfo, classify("[MSG:Caution: Unlocked]"))
	assert.Equal(t, lineInfo, classify("okay"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ALARM", StateAlarm.String())
	assert.Equal(t, "State(9)", State(9).String())
	text, err := StateRun.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "RUN", string(text))
}

func TestLineBuffer(t *testing.T) {
	buf := newLineBuffer(16)

	assert.Equal(t, 4, buf.Write([]byte("ok\r\n")))
	assert.Equal(t, []string{"ok"}, buf.Lines())
	assert.Equal(t, 0, buf.Available())

	buf.Write([]byte("error:2"))
	assert.Empty(t, buf.Lines())
	buf.Write([]byte("0\nok\n<Id"))
	assert.Equal(t, []string{"error:20", "ok"}, buf.Lines())
	assert.Equal(t, 3, buf.Available())

	// wraps around the end of the ring
	buf.Write([]byte("le>\n"))
	assert.Equal(t, []string{"<Idle>"}, buf.Lines())
}

func TestLineBufferOverlongLine(t *testing.T) {
	buf := newLineBuffer(8)
	n := buf.Write([]byte("0123456789\n"))
	assert.Equal(t, 7, n)
	assert.Equal(t, []string{"0123456"}, buf.Lines())
	assert.Equal(t, 7, buf.Free())
}

func TestLineQueue(t *testing.T) {
	q := newLineQueue()
	ctx := context.Background()

	q.push("a")
	q.push("b")
	assert.Equal(t, 2, q.len())
	line, err := q.next(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "a", line)

	q.reset()
	assert.Equal(t, 0, q.len())

	go func() {
		time.Sleep(5 * time.Millisecond)
		q.push("late")
	}()
	line, err = q.next(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "late", line)

	abort := make(chan struct{})
	close(abort)
	_, err = q.next(ctx, abort)
	assert.ErrorIs(t, err, ErrAborted)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	_, err = q.next(cctx, nil)
	assert.ErrorIs(t, err, context.Canceled)

	q.push("last")
	q.close(ErrDisconnected)
	q.push("dropped")
	line, err = q.next(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, "last", line)
	_, err = q.next(ctx, nil)
	assert.ErrorIs(t, err, ErrDisconnected)
}
