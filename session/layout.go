package session

import "math"

// WindowRect is a window position and size in screen pixels.
type WindowRect struct {
	X      int
	Y      int
	Width  int
	Height int
}

const (
	defaultScreenWidth  = 1920
	defaultScreenHeight = 1080

	layoutMargin  = 10
	layoutSpacing = 10

	minWindowWidth  = 300
	minWindowHeight = 400
)

// GridLayout computes where the index-th of total headed windows should sit
// so that concurrently visible sessions tile the screen instead of stacking.
// Columns are favoured on wide screens; windows never shrink below a usable
// minimum and never extend past the screen edge.
func GridLayout(index, total, screenWidth, screenHeight int) WindowRect {
	if screenWidth <= 0 || screenHeight <= 0 {
		screenWidth, screenHeight = defaultScreenWidth, defaultScreenHeight
	}
	if total < 1 {
		total = 1
	}

	cols := int(math.Ceil(math.Sqrt(float64(total) * float64(screenWidth) / float64(screenHeight))))
	if cols < 1 {
		cols = 1
	}
	rows := (total + cols - 1) / cols

	width := (screenWidth - 2*layoutMargin - (cols-1)*layoutSpacing) / cols
	height := (screenHeight - 2*layoutMargin - (rows-1)*layoutSpacing) / rows
	if width < minWindowWidth {
		width = minWindowWidth
	}
	if height < minWindowHeight {
		height = minWindowHeight
	}

	row := index / cols
	col := index % cols

	x := layoutMargin + col*(width+layoutSpacing)
	y := layoutMargin + row*(height+layoutSpacing)

	if max := screenWidth - width - layoutMargin; x > max {
		x = max
	}
	if max := screenHeight - height - layoutMargin; y > max {
		y = max
	}
	if x < 0 {
		x = 0
	}
	if y < 0 {
		y = 0
	}

	return WindowRect{X: x, Y: y, Width: width, Height: height}
}
