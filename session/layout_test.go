package session

import "testing"

func TestGridLayout_SingleWindow(t *testing.T) {
	rect := GridLayout(0, 1, 1920, 1080)

	if rect.X != layoutMargin || rect.Y != layoutMargin {
		t.Errorf("single window origin = (%d,%d), want (%d,%d)", rect.X, rect.Y, layoutMargin, layoutMargin)
	}
	if rect.Width != 1920-2*layoutMargin {
		t.Errorf("single window width = %d, want %d", rect.Width, 1920-2*layoutMargin)
	}
	if rect.Height != 1080-2*layoutMargin {
		t.Errorf("single window height = %d, want %d", rect.Height, 1080-2*layoutMargin)
	}
}

func TestGridLayout_NoOverlap(t *testing.T) {
	const total = 6
	rects := make([]WindowRect, total)
	for i := range rects {
		rects[i] = GridLayout(i, total, 1920, 1080)
	}

	for i := 0; i < total; i++ {
		for j := i + 1; j < total; j++ {
			a, b := rects[i], rects[j]
			if a.X < b.X+b.Width && b.X < a.X+a.Width &&
				a.Y < b.Y+b.Height && b.Y < a.Y+a.Height {
				t.Errorf("windows %d and %d overlap: %+v vs %+v", i, j, a, b)
			}
		}
	}
}

func TestGridLayout_WithinScreen(t *testing.T) {
	for _, total := range []int{1, 2, 3, 4, 5, 8, 9, 12} {
		for i := 0; i < total; i++ {
			rect := GridLayout(i, total, 1920, 1080)
			if rect.X < 0 || rect.Y < 0 {
				t.Errorf("total=%d index=%d: negative origin %+v", total, i, rect)
			}
			if rect.X+rect.Width > 1920 || rect.Y+rect.Height > 1080 {
				// Minimum window sizes may legitimately exceed a tiny screen,
				// but never a full HD one at these counts.
				t.Errorf("total=%d index=%d: window exceeds screen %+v", total, i, rect)
			}
		}
	}
}

func TestGridLayout_MinimumSize(t *testing.T) {
	// Many windows on a small screen: sizes clamp to the usable minimum.
	rect := GridLayout(0, 30, 800, 600)
	if rect.Width < minWindowWidth {
		t.Errorf("width %d below minimum %d", rect.Width, minWindowWidth)
	}
	if rect.Height < minWindowHeight {
		t.Errorf("height %d below minimum %d", rect.Height, minWindowHeight)
	}
}

func TestGridLayout_DefaultsOnZeroScreen(t *testing.T) {
	got := GridLayout(0, 4, 0, 0)
	want := GridLayout(0, 4, defaultScreenWidth, defaultScreenHeight)
	if got != want {
		t.Errorf("zero screen dims not defaulted: got %+v, want %+v", got, want)
	}
}

func TestGridLayout_WideScreenFavoursColumns(t *testing.T) {
	// On a very wide screen, two windows should sit side by side.
	a := GridLayout(0, 2, 3840, 1080)
	b := GridLayout(1, 2, 3840, 1080)
	if a.Y != b.Y {
		t.Errorf("two windows on a wide screen should share a row: %+v vs %+v", a, b)
	}
	if a.X == b.X {
		t.Error("two windows on a wide screen should not stack")
	}
}
