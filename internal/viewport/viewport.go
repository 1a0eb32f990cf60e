// Package viewport maps a scroll position to the range of pages that should
// be materialized.
package viewport

import "math"

const DefaultLookahead = 2

// Progressive, used as Calculator.Behind, renders every page from 1 up to
// the window end.
const Progressive = -1

// Window is an inclusive page range. The zero Window is empty.
type Window struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (w Window) Empty() bool { return w.End < 1 || w.Start > w.End }

// Contains reports whether page lies inside w.
func (w Window) Contains(page int) bool {
	return !w.Empty() && page >= w.Start && page <= w.End
}

// Len is the number of pages in w.
func (w Window) Len() int {
	if w.Empty() {
		return 0
	}
	return w.End - w.Start + 1
}

// CurrentPage is max(ceil(offset/pageHeight), 1). Negative or NaN offsets
// count as zero.
func CurrentPage(offset, pageHeight float64) int {
	if math.IsNaN(offset) || offset < 0 {
		offset = 0
	}
	if pageHeight <= 0 || math.IsNaN(pageHeight) {
		return 1
	}
	p := math.Ceil(offset / pageHeight)
	if p < 1 {
		return 1
	}
	if p > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(p)
}

// WindowEnd is min(currentPage+lookahead, totalPages), clamped so that
// currentPage never exceeds it. Returns 0 when totalPages is 0.
func WindowEnd(offset, pageHeight float64, lookahead, totalPages int) int {
	if totalPages <= 0 {
		return 0
	}
	if lookahead < 0 {
		lookahead = 0
	}
	end := CurrentPage(offset, pageHeight) + lookahead
	if end > totalPages {
		end = totalPages
	}
	return end
}

// Calculator computes windows for a fixed page height.
type Calculator struct {
	PageHeight float64
	Lookahead  int
	// Behind is how many pages before the current one stay rendered. Progressive
	// keeps everything from page 1.
	Behind int
}

// Window returns the pages to materialize for a scroll offset.
func (c Calculator) Window(offset float64, totalPages int) Window {
	end := WindowEnd(offset, c.PageHeight, c.Lookahead, totalPages)
	if end == 0 {
		return Window{}
	}
	cur := CurrentPage(offset, c.PageHeight)
	if cur > end {
		cur = end
	}
	start := 1
	if c.Behind >= 0 {
		start = cur - c.Behind
		if start < 1 {
			start = 1
		}
	}
	return Window{Start: start, End: end}
}
