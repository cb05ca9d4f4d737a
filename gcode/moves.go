package gcode

import (
	"strings"

	"kerf/geometry"
)

// MoveType classifies a parsed move
type MoveType string

const (
	MoveTravel MoveType = "travel"
	MoveCut    MoveType = "cut"
)

// Move is one straight motion reconstructed from G-code
type Move struct {
	From  geometry.Point `json:"from"`
	To    geometry.Point `json:"to"`
	Type  MoveType       `json:"type"`
	Power float64        `json:"power"`
	Speed float64        `json:"speed"`
}

// modalCodes are G words that change state without suppressing motion
var modalCodes = map[float64]bool{
	0: true, 1: true, 17: true, 20: true, 21: true, 40: true,
	49: true, 54: true, 90: true, 91: true, 94: true,
}

// ParseGcode reconstructs the move list of a G-code program. A move is a cut
// only while linear mode is active, the laser is enabled and power is above
// zero; everything else is travel. Unreadable words are ignored.
func ParseGcode(text string) []Move {
	parser := NewParser()

	var (
		moves    []Move
		pos      geometry.Point
		linear   bool
		laserOn  bool
		power    float64
		feed     float64
		relative bool
		unit     = 1.0
	)

	for _, raw := range SplitLines(text) {
		line := strings.TrimSpace(raw)
		if line == "" || line[0] == '$' {
			continue
		}
		cmd, _ := parser.ParseLine(line)
		if cmd == nil {
			continue
		}

		skipMotion := false
		for _, w := range cmd.Codes {
			switch w.Letter {
			case 'G':
				switch w.Number {
				case 0:
					linear = false
				case 1:
					linear = true
				case 20:
					unit = 25.4
				case 21:
					unit = 1
				case 90:
					relative = false
				case 91:
					relative = true
				}
				if !modalCodes[w.Number] {
					skipMotion = true
				}
			case 'M':
				switch w.Number {
				case 3, 4:
					laserOn = true
				case 5, 2, 30:
					laserOn = false
				}
			}
		}

		if v, ok := cmd.Parameters['F']; ok {
			feed = v * unit
		}
		if v, ok := cmd.Parameters['S']; ok {
			power = v
		}

		if skipMotion {
			continue
		}
		x, hasX := cmd.Parameters['X']
		y, hasY := cmd.Parameters['Y']
		if !hasX && !hasY {
			continue
		}

		target := pos
		if relative {
			target.X += x * unit
			target.Y += y * unit
		} else {
			if hasX {
				target.X = x * unit
			}
			if hasY {
				target.Y = y * unit
			}
		}

		typ := MoveTravel
		if linear && laserOn && power > 0 {
			typ = MoveCut
		}
		moves = append(moves, Move{From: pos, To: target, Type: typ, Power: power, Speed: feed})
		pos = target
	}
	return moves
}
