// Package gcode writes planned toolpaths as G-code and reads G-code back
// into a move list.
package gcode

import (
	"math"
	"strconv"
	"strings"

	"kerf/cam"
	"kerf/config"
	"kerf/geometry"
)

// JobStats summarises an emitted job
type JobStats struct {
	EstimatedTime  float64 `json:"estimatedTime"`  // seconds
	TravelDistance float64 `json:"travelDistance"` // mm
	MarkDistance   float64 `json:"markDistance"`   // mm
	Segments       int     `json:"segments"`
}

// Output is the result of EmitGcode
type Output struct {
	Text  string   `json:"gcode"`
	Stats JobStats `json:"stats"`
}

// MapPower converts a power percentage to the controller's S range.
// Percentages outside 0-100 are clamped.
func MapPower(pct float64, profile config.MachineProfile) int {
	pct = math.Max(0, math.Min(100, pct))
	lo, hi := profile.SRange.Min, profile.SRange.Max
	return int(math.Round(lo + (hi-lo)*pct/100))
}

// FormatCoord formats a coordinate with three decimals. Values that would
// print as -0.000 are written as 0.000.
func FormatCoord(v float64) string {
	if math.Abs(v) < 0.0005 {
		v = 0
	}
	return strconv.FormatFloat(v, 'f', 3, 64)
}

// FormatFeed formats a feed rate word
func FormatFeed(speed float64) string {
	return "F" + strconv.Itoa(int(math.Round(speed)))
}

func segmentTime(dist, speed float64) float64 {
	if speed <= 0 {
		return 0
	}
	return dist / speed * 60
}

func xy(p geometry.Point) string {
	return "X" + FormatCoord(p.X) + " Y" + FormatCoord(p.Y)
}

// EmitGcode writes plan as G-code. Operations are looked up in settings by
// id; planned operations whose settings no longer exist are skipped.
func EmitGcode(plan cam.CamPlan, settings cam.CamSettings, profile config.MachineProfile, dialect config.Dialect) Output {
	newline := dialect.Newline
	if newline == "" {
		newline = "\n"
	}

	lines := append([]string(nil), profile.Preamble...)
	toMachine := profile.MachineTransform()

	var stats JobStats
	cursor := geometry.ApplyTransform(geometry.Point{}, toMachine)

	for _, planned := range plan.Ops {
		op, ok := settings.Operation(planned.OperationID)
		if !ok {
			continue
		}

		feed := FormatFeed(op.Speed)
		enable := strings.TrimSpace(dialect.EnableLaser + " " + dialect.PowerLetter + strconv.Itoa(MapPower(op.Power, profile)))
		travelSpeed := profile.TravelSpeed
		if travelSpeed <= 0 {
			travelSpeed = op.Speed
		}

		for pass := 0; pass < op.PassCount(); pass++ {
			for _, path := range planned.Paths {
				if len(path.Points) < 2 {
					continue
				}
				machine := geometry.TransformPath(path, toMachine)
				start := machine.Points[0]

				if dialect.UseG0ForTravel {
					lines = append(lines, "G0 "+xy(start))
				} else {
					lines = append(lines, "G1 "+xy(start)+" "+FormatFeed(travelSpeed))
				}
				d := geometry.Distance(cursor, start)
				stats.TravelDistance += d
				stats.EstimatedTime += segmentTime(d, travelSpeed)

				lines = append(lines, enable)

				prev := start
				first := true
				cut := func(p geometry.Point) {
					line := "G1 " + xy(p)
					if first {
						line += " " + feed
						first = false
					}
					lines = append(lines, line)
					d := geometry.Distance(prev, p)
					stats.MarkDistance += d
					stats.Segments++
					stats.EstimatedTime += segmentTime(d, op.Speed)
					prev = p
				}
				for _, p := range machine.Points[1:] {
					cut(p)
				}
				if geometry.NeedsClosing(path) {
					cut(start)
				}

				lines = append(lines, dialect.DisableLaser)
				cursor = prev
			}
		}
	}

	lines = append(lines, profile.Postamble...)

	return Output{
		Text:  strings.Join(lines, newline),
		Stats: stats,
	}
}
