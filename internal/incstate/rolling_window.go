package incstate

import "github.com/quantforge/backtestcore/internal/barfeed"

// Field selects which OHLCV field a RollingWindow (or other detector)
// tracks.
type Field int

const (
	FieldClose Field = iota
	FieldHigh
	FieldLow
	FieldOpen
	FieldVolume
)

func fieldOf(b barfeed.Bar, f Field) float64 {
	switch f {
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldOpen:
		return b.Open
	case FieldVolume:
		return b.Volume
	default:
		return b.Close
	}
}

// monoDeque is a fixed-capacity ring buffer of (index, value) pairs kept
// monotonic, implementing the O(1)-amortized sliding-window min or max
// (spec §9: "Monotonic deques... Express as fixed-capacity ring buffers").
type monoDeque struct {
	idx  []int
	val  []float64
	head int
	size int
	max  bool // true = maintain max, false = maintain min
}

func newMonoDeque(capacity int, wantMax bool) *monoDeque {
	if capacity < 1 {
		capacity = 1
	}
	return &monoDeque{idx: make([]int, capacity), val: make([]float64, capacity), max: wantMax}
}

func (d *monoDeque) cap() int { return len(d.idx) }

func (d *monoDeque) worseThan(a, b float64) bool {
	if d.max {
		return a <= b
	}
	return a >= b
}

// push evicts entries that can never win, then appends (i, v) at the tail.
func (d *monoDeque) push(i int, v float64) {
	for d.size > 0 {
		tailPos := (d.head + d.size - 1) % d.cap()
		if d.worseThan(d.val[tailPos], v) {
			d.size--
			continue
		}
		break
	}
	pos := (d.head + d.size) % d.cap()
	d.idx[pos] = i
	d.val[pos] = v
	if d.size < d.cap() {
		d.size++
	} else {
		// ring is full, so the head slot was just overwritten; with
		// capacity == window that head held index i-window, already
		// outside the window.
		d.head = (d.head + 1) % d.cap()
	}
}

// evictBefore drops head entries with index < minIdx (outside the window).
func (d *monoDeque) evictBefore(minIdx int) {
	for d.size > 0 && d.idx[d.head] < minIdx {
		d.head = (d.head + 1) % d.cap()
		d.size--
	}
}

func (d *monoDeque) front() (float64, bool) {
	if d.size == 0 {
		return 0, false
	}
	return d.val[d.head], true
}

func (d *monoDeque) reset() { d.head, d.size = 0, 0 }

func (d *monoDeque) snapshot() ([]int, []float64, int, int) {
	is := make([]int, d.size)
	vs := make([]float64, d.size)
	for i := 0; i < d.size; i++ {
		pos := (d.head + i) % d.cap()
		is[i] = d.idx[pos]
		vs[i] = d.val[pos]
	}
	return is, vs, d.head, d.size
}

func (d *monoDeque) restore(is []int, vs []float64) {
	d.reset()
	for i, v := range vs {
		pos := i % d.cap()
		d.idx[pos] = is[i]
		d.val[pos] = v
	}
	d.size = len(vs)
}

// RollingWindow is the O(1) min/max detector of spec §3.
type RollingWindow struct {
	field  Field
	window int
	i      int
	minDq  *monoDeque
	maxDq  *monoDeque
}

// NewRollingWindow builds a window-sized min/max tracker over field.
func NewRollingWindow(field Field, window int) *RollingWindow {
	return &RollingWindow{
		field:  field,
		window: window,
		minDq:  newMonoDeque(window, false),
		maxDq:  newMonoDeque(window, true),
	}
}

func (w *RollingWindow) Update(bar barfeed.Bar) {
	v := fieldOf(bar, w.field)
	w.minDq.push(w.i, v)
	w.maxDq.push(w.i, v)
	lo := w.i - w.window + 1
	w.minDq.evictBefore(lo)
	w.maxDq.evictBefore(lo)
	w.i++
}

func (w *RollingWindow) Value(field string) (Value, bool) {
	switch field {
	case "min":
		v, ok := w.minDq.front()
		return FloatValue(v), ok
	case "max":
		v, ok := w.maxDq.front()
		return FloatValue(v), ok
	default:
		return Value{}, false
	}
}

func (w *RollingWindow) OutputKeys() []string { return []string{"min", "max"} }
func (w *RollingWindow) DependsOn() []string  { return nil }

func (w *RollingWindow) Reset() {
	w.i = 0
	w.minDq.reset()
	w.maxDq.reset()
}

type rollingWindowState struct {
	I          int
	MinIdx     []int
	MinVal     []float64
	MaxIdx     []int
	MaxVal     []float64
}

func (w *RollingWindow) Snapshot() any {
	minIdx, minVal, _, _ := w.minDq.snapshot()
	maxIdx, maxVal, _, _ := w.maxDq.snapshot()
	return rollingWindowState{I: w.i, MinIdx: minIdx, MinVal: minVal, MaxIdx: maxIdx, MaxVal: maxVal}
}

func (w *RollingWindow) Restore(state any) {
	s := state.(rollingWindowState)
	w.i = s.I
	w.minDq.restore(s.MinIdx, s.MinVal)
	w.maxDq.restore(s.MaxIdx, s.MaxVal)
}
