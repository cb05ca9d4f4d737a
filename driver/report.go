package driver

import (
	"strconv"
	"strings"
)

// reportStates maps GRBL state names to State
var reportStates = map[string]State{
	"Idle":  StateIdle,
	"Run":   StateRun,
	"Jog":   StateRun,
	"Home":  StateRun,
	"Hold":  StateHold,
	"Door":  StateHold,
	"Alarm": StateAlarm,
	"Check": StateIdle,
	"Sleep": StateIdle,
}

// reportNames is the inverse of reportStates for the states Virtual reports
var reportNames = map[State]string{
	StateUnknown: "Idle",
	StateIdle:    "Idle",
	StateRun:     "Run",
	StateHold:    "Hold:0",
	StateAlarm:   "Alarm",
}

// IsReport reports whether line is a status report
func IsReport(line string) bool {
	return strings.HasPrefix(line, "<")
}

// ParseReport decodes a status report such as
// <Idle|MPos:0.000,0.000,0.000|WPos:0.000,0.000,0.000|FS:0,0>.
// When only one of MPos/WPos is present alongside WCO the other is derived.
func ParseReport(line string) (Status, error) {
	bad := func(msg string) (Status, error) {
		return Status{}, &ProtocolError{Line: line, Message: msg}
	}

	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "<") || !strings.HasSuffix(line, ">") {
		return bad("status report not enclosed in <>")
	}
	fields := strings.Split(line[1:len(line)-1], "|")

	name, _, _ := strings.Cut(fields[0], ":")
	state, ok := reportStates[name]
	if !ok {
		return bad("unknown state " + strconv.Quote(name))
	}

	st := Status{State: state, Raw: line}
	var wco *Position
	for _, f := range fields[1:] {
		key, val, found := strings.Cut(f, ":")
		if !found {
			continue
		}
		switch key {
		case "MPos", "WPos", "WCO":
			p, err := parsePosition(val)
			if err != nil {
				return bad("bad " + key + " field: " + err.Error())
			}
			switch key {
			case "MPos":
				st.MPos = &p
			case "WPos":
				st.WPos = &p
			default:
				wco = &p
			}
		case "FS", "F":
			nums := strings.Split(val, ",")
			if v, err := strconv.ParseFloat(nums[0], 64); err == nil {
				st.Feed = v
			}
			if len(nums) > 1 {
				if v, err := strconv.ParseFloat(nums[1], 64); err == nil {
					st.Power = v
				}
			}
		}
	}

	if wco != nil {
		switch {
		case st.MPos != nil && st.WPos == nil:
			w := st.MPos.Sub(*wco)
			st.WPos = &w
		case st.WPos != nil && st.MPos == nil:
			m := st.WPos.Add(*wco)
			st.MPos = &m
		}
	}
	return st, nil
}

// parsePosition reads two to four comma separated axis values
func parsePosition(s string) (Position, error) {
	parts := strings.Split(s, ",")
	if len(parts) < 2 {
		return Position{}, strconv.ErrSyntax
	}
	var v [3]float64
	for i := 0; i < len(parts) && i < 3; i++ {
		f, err := strconv.ParseFloat(strings.TrimSpace(parts[i]), 64)
		if err != nil {
			return Position{}, err
		}
		v[i] = f
	}
	return Position{X: v[0], Y: v[1], Z: v[2]}, nil
}

func formatPosition(p Position) string {
	return strconv.FormatFloat(p.X, 'f', 3, 64) + "," +
		strconv.FormatFloat(p.Y, 'f', 3, 64) + "," +
		strconv.FormatFloat(p.Z, 'f', 3, 64)
}

// FormatReport encodes a status report in the form ParseReport reads
func FormatReport(state State, mpos, wpos Position, feed, power float64) string {
	var sb strings.Builder
	sb.WriteByte('<')
	sb.WriteString(reportNames[state])
	sb.WriteString("|MPos:")
	sb.WriteString(formatPosition(mpos))
	sb.WriteString("|WPos:")
	sb.WriteString(formatPosition(wpos))
	sb.WriteString("|FS:")
	sb.WriteString(strconv.FormatFloat(feed, 'f', -1, 64))
	sb.WriteByte(',')
	sb.WriteString(strconv.FormatFloat(power, 'f', -1, 64))
	sb.WriteByte('>')
	return sb.String()
}

type lineKind int

const (
	lineInfo lineKind = iota
	lineOk
	lineError
	lineAlarm
	lineReport
	lineBanner
)

// classify sorts a received line by its role in the protocol
func classify(line string) lineKind {
	switch {
	case line == "ok" || strings.HasPrefix(line, "ok "):
		return lineOk
	case strings.HasPrefix(line, "error:"):
		return lineError
	case strings.HasPrefix(line, "ALARM"):
		return lineAlarm
	case IsReport(line):
		return lineReport
	case strings.HasPrefix(line, "Grbl "):
		return lineBanner
	}
	return lineInfo
}
