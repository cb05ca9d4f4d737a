package cam

import (
	"image"
	"image/color"
	"math"

	"kerf/geometry"
)

const (
	// luminance below this value marks a pixel
	rasterThreshold = 127
	// pixels with alpha at or below this value are treated as transparent
	rasterAlphaCutoff = 10
)

// RasterBox is the machine-space rectangle a bitmap is burned into
type RasterBox struct {
	X, Y, W, H float64
}

// RasterToPaths converts the dark pixels of img into scanline toolpaths.
// Scan lines alternate direction (left-to-right first) and every contiguous
// run of dark pixels becomes one open two-point path whose start is where
// the head enters the run.
//
// lineInterval > 0 thins the scan lines to roughly that spacing; angle
// rotates the result about the box centre (degrees).
func RasterToPaths(img image.Image, box RasterBox, lineInterval, angle float64) []geometry.Path {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= 0 || height <= 0 {
		return nil
	}

	sx := box.W / float64(width)
	sy := box.H / float64(height)

	step := 1
	if lineInterval > 0 && sy > 0 && lineInterval > sy {
		step = int(math.Round(lineInterval / sy))
		if step < 1 {
			step = 1
		}
	}

	var paths []geometry.Path
	scan := 0
	for row := 0; row < height; row += step {
		leftToRight := scan%2 == 0
		scan++
		y := box.Y + (float64(row)+0.5)*sy

		runStart := -1
		emit := func(first, last int) {
			var x0, x1 float64
			if leftToRight {
				x0 = box.X + float64(first)*sx
				x1 = box.X + float64(last+1)*sx
			} else {
				x0 = box.X + float64(first+1)*sx
				x1 = box.X + float64(last)*sx
			}
			paths = append(paths, geometry.Path{
				Points: []geometry.Point{{X: x0, Y: y}, {X: x1, Y: y}},
			})
		}

		for i := 0; i < width; i++ {
			x := i
			if !leftToRight {
				x = width - 1 - i
			}
			if isDark(img.At(bounds.Min.X+x, bounds.Min.Y+row)) {
				if runStart < 0 {
					runStart = x
				}
				continue
			}
			if runStart >= 0 {
				prev := x - 1
				if !leftToRight {
					prev = x + 1
				}
				emit(runStart, prev)
				runStart = -1
			}
		}
		if runStart >= 0 {
			if leftToRight {
				emit(runStart, width-1)
			} else {
				emit(runStart, 0)
			}
		}
	}

	if angle != 0 {
		cx, cy := box.X+box.W/2, box.Y+box.H/2
		rot := geometry.ComposeTransforms(
			geometry.ComposeTransforms(geometry.Translate(-cx, -cy), geometry.Rotate(angle)),
			geometry.Translate(cx, cy),
		)
		for i := range paths {
			paths[i] = geometry.TransformPath(paths[i], rot)
		}
	}
	return paths
}

func isDark(c color.Color) bool {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	if n.A <= rasterAlphaCutoff {
		return false
	}
	lum := 0.299*float64(n.R) + 0.587*float64(n.G) + 0.114*float64(n.B)
	return lum < rasterThreshold
}
