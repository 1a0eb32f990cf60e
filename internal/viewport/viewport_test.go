package viewport

import (
	"math"
	"testing"
)

const pageHeight = 1100

func TestWindowEndExamples(t *testing.T) {
	tests := []struct {
		name   string
		offset float64
		total  int
		cur    int
		end    int
	}{
		{"five pages at 2300px", 2300, 5, 3, 5},
		{"ten pages at top", 0, 10, 1, 3},
		{"single page", 0, 1, 1, 1},
		{"two pages", 0, 2, 1, 2},
		{"exact page boundary", 1100, 10, 1, 3},
		{"just past boundary", 1101, 10, 2, 4},
		{"far beyond end", 1e9, 4, 0, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := CurrentPage(tt.offset, pageHeight)
			if tt.cur > 0 && cur != tt.cur {
				t.Errorf("CurrentPage = %d, want %d", cur, tt.cur)
			}
			if got := WindowEnd(tt.offset, pageHeight, DefaultLookahead, tt.total); got != tt.end {
				t.Errorf("WindowEnd = %d, want %d", got, tt.end)
			}
		})
	}
}

func TestWindowEndAtZero(t *testing.T) {
	for total := 1; total <= 8; total++ {
		want := min(1+DefaultLookahead, total)
		if got := WindowEnd(0, pageHeight, DefaultLookahead, total); got != want {
			t.Errorf("total=%d: WindowEnd(0) = %d, want %d", total, got, want)
		}
	}
}

func TestWindowBoundsAndMonotonic(t *testing.T) {
	calc := Calculator{PageHeight: pageHeight, Lookahead: DefaultLookahead, Behind: 2}
	for total := 1; total <= 12; total++ {
		prevEnd := 0
		for offset := 0.0; offset <= float64(total+3)*pageHeight; offset += 137 {
			w := calc.Window(offset, total)
			cur := min(CurrentPage(offset, pageHeight), w.End)
			if !(1 <= cur && cur <= w.End && w.End <= total) {
				t.Fatalf("total=%d offset=%v: bounds violated cur=%d window=%+v", total, offset, cur, w)
			}
			if w.Start < 1 || w.Start > cur {
				t.Fatalf("total=%d offset=%v: bad start in %+v", total, offset, w)
			}
			if w.End < prevEnd {
				t.Fatalf("total=%d offset=%v: window end decreased %d -> %d", total, offset, prevEnd, w.End)
			}
			prevEnd = w.End
		}
	}
}

func TestWindowEmptyDocument(t *testing.T) {
	w := Calculator{PageHeight: pageHeight, Lookahead: 2}.Window(500, 0)
	if !w.Empty() || w.Len() != 0 {
		t.Errorf("expected empty window, got %+v", w)
	}
	if WindowEnd(500, pageHeight, 2, 0) != 0 {
		t.Error("expected WindowEnd 0 for empty document")
	}
}

func TestWindowModes(t *testing.T) {
	sliding := Calculator{PageHeight: pageHeight, Lookahead: 2, Behind: 1}
	if w := sliding.Window(5*pageHeight, 20); w != (Window{Start: 4, End: 7}) {
		t.Errorf("sliding window = %+v", w)
	}
	progressive := Calculator{PageHeight: pageHeight, Lookahead: 2, Behind: Progressive}
	if w := progressive.Window(5*pageHeight, 20); w != (Window{Start: 1, End: 7}) {
		t.Errorf("progressive window = %+v", w)
	}
}

func TestInvalidOffsetsClamp(t *testing.T) {
	for _, off := range []float64{-50, math.NaN(), math.Inf(-1)} {
		if got := CurrentPage(off, pageHeight); got != 1 {
			t.Errorf("CurrentPage(%v) = %d, want 1", off, got)
		}
	}
}
