package incstate

import "github.com/quantforge/backtestcore/internal/barfeed"

// SwingMode selects the pivot-detection algorithm.
type SwingMode int

const (
	SwingFractal SwingMode = iota
	SwingZigZag
)

// Swing is the fractal/zigzag pivot detector of spec §3. A fractal high at
// index i-lookback confirms once `lookback` bars have closed on both
// sides of it and it is the strict extreme of the 2*lookback+1 window.
// ZigZag mode instead confirms a pivot once price reverses by
// `reversalPct` from the running extreme.
type Swing struct {
	mode       SwingMode
	lookback   int
	reversal   float64 // fraction, e.g. 0.01 for 1%, used only in ZigZag mode

	i int // bars seen so far

	// fractal-mode ring buffers of the last 2*lookback+1 highs/lows
	highBuf []float64
	lowBuf  []float64
	idxBuf  []int
	filled  int
	head    int

	// zigzag-mode running extreme tracking
	zzDir      int // +1 tracking up-leg (looking for a high), -1 looking for a low, 0 unset
	zzExtreme  float64
	zzExtIdx   int

	HighLevel    float64
	LowLevel     float64
	HighIdx      int
	LowIdx       int
	HighVersion  int
	LowVersion   int
	PairDir      int // -1, 0, +1: direction of the most recently confirmed pivot pair
	PairVersion  int
}

// NewSwingFractal builds a fractal-mode Swing with `lookback` bars
// required on each side of a candidate pivot.
func NewSwingFractal(lookback int) *Swing {
	n := 2*lookback + 1
	return &Swing{
		mode:     SwingFractal,
		lookback: lookback,
		highBuf:  make([]float64, n),
		lowBuf:   make([]float64, n),
		idxBuf:   make([]int, n),
		HighIdx:  -1,
		LowIdx:   -1,
	}
}

// NewSwingZigZag builds a zigzag-mode Swing confirming a pivot after a
// `reversalPct` (e.g. 0.01 for 1%) retracement from the running extreme.
func NewSwingZigZag(reversalPct float64) *Swing {
	return &Swing{mode: SwingZigZag, reversal: reversalPct, HighIdx: -1, LowIdx: -1}
}

func (s *Swing) Update(bar barfeed.Bar) {
	switch s.mode {
	case SwingFractal:
		s.updateFractal(bar)
	default:
		s.updateZigZag(bar)
	}
	s.i++
}

func (s *Swing) updateFractal(bar barfeed.Bar) {
	n := len(s.idxBuf)
	pos := (s.head + s.filled) % n
	if s.filled == n {
		pos = s.head
		s.head = (s.head + 1) % n
	} else {
		s.filled++
	}
	s.highBuf[pos] = bar.High
	s.lowBuf[pos] = bar.Low
	s.idxBuf[pos] = s.i

	if s.filled < n {
		return
	}
	centerOffset := s.lookback
	centerPos := (s.head + centerOffset) % n
	centerIdx := s.idxBuf[centerPos]
	centerHigh := s.highBuf[centerPos]
	centerLow := s.lowBuf[centerPos]

	isHighPivot, isLowPivot := true, true
	for k := 0; k < n; k++ {
		pos := (s.head + k) % n
		if pos == centerPos {
			continue
		}
		if s.highBuf[pos] >= centerHigh {
			isHighPivot = false
		}
		if s.lowBuf[pos] <= centerLow {
			isLowPivot = false
		}
	}
	if isHighPivot {
		s.HighLevel = centerHigh
		s.HighIdx = centerIdx
		s.HighVersion++
		s.PairDir = 1
		s.PairVersion++
	}
	if isLowPivot {
		s.LowLevel = centerLow
		s.LowIdx = centerIdx
		s.LowVersion++
		s.PairDir = -1
		s.PairVersion++
	}
}

func (s *Swing) updateZigZag(bar barfeed.Bar) {
	if s.zzDir == 0 {
		s.zzDir = 1
		s.zzExtreme = bar.High
		s.zzExtIdx = s.i
		return
	}
	if s.zzDir > 0 {
		if bar.High > s.zzExtreme {
			s.zzExtreme = bar.High
			s.zzExtIdx = s.i
			return
		}
		if s.zzExtreme > 0 && (s.zzExtreme-bar.Low)/s.zzExtreme >= s.reversal {
			s.HighLevel = s.zzExtreme
			s.HighIdx = s.zzExtIdx
			s.HighVersion++
			s.PairDir = 1
			s.PairVersion++
			s.zzDir = -1
			s.zzExtreme = bar.Low
			s.zzExtIdx = s.i
		}
		return
	}
	// zzDir < 0: tracking down-leg, looking for a low pivot
	if bar.Low < s.zzExtreme {
		s.zzExtreme = bar.Low
		s.zzExtIdx = s.i
		return
	}
	if s.zzExtreme > 0 && (bar.High-s.zzExtreme)/s.zzExtreme >= s.reversal {
		s.LowLevel = s.zzExtreme
		s.LowIdx = s.zzExtIdx
		s.LowVersion++
		s.PairDir = -1
		s.PairVersion++
		s.zzDir = 1
		s.zzExtreme = bar.High
		s.zzExtIdx = s.i
	}
}

func (s *Swing) Value(field string) (Value, bool) {
	switch field {
	case "high_level":
		return FloatValue(s.HighLevel), true
	case "low_level":
		return FloatValue(s.LowLevel), true
	case "high_idx":
		return IntValue(s.HighIdx), true
	case "low_idx":
		return IntValue(s.LowIdx), true
	case "high_version":
		return IntValue(s.HighVersion), true
	case "low_version":
		return IntValue(s.LowVersion), true
	case "pair_direction":
		return IntValue(s.PairDir), true
	case "pair_version":
		return IntValue(s.PairVersion), true
	default:
		return Value{}, false
	}
}

func (s *Swing) OutputKeys() []string {
	return []string{"high_level", "low_level", "high_idx", "low_idx", "high_version", "low_version", "pair_direction", "pair_version"}
}

func (s *Swing) DependsOn() []string { return nil }

// TotalVersion returns high_version + low_version, the identity spec §4.2
// requires to hold at all times, including immediately after Reset.
func (s *Swing) TotalVersion() int { return s.HighVersion + s.LowVersion }

func (s *Swing) Reset() {
	s.i = 0
	s.filled, s.head = 0, 0
	s.zzDir, s.zzExtreme, s.zzExtIdx = 0, 0, 0
	s.HighLevel, s.LowLevel = 0, 0
	s.HighIdx, s.LowIdx = -1, -1
	s.HighVersion, s.LowVersion = 0, 0
	s.PairDir, s.PairVersion = 0, 0
}

type swingState struct {
	I, Filled, Head                        int
	HighBuf, LowBuf                        []float64
	IdxBuf                                 []int
	ZzDir                                  int
	ZzExtreme                              float64
	ZzExtIdx                               int
	HighLevel, LowLevel                    float64
	HighIdx, LowIdx                        int
	HighVersion, LowVersion                int
	PairDir, PairVersion                   int
}

func (s *Swing) Snapshot() any {
	hb := append([]float64(nil), s.highBuf...)
	lb := append([]float64(nil), s.lowBuf...)
	ib := append([]int(nil), s.idxBuf...)
	return swingState{
		I: s.i, Filled: s.filled, Head: s.head,
		HighBuf: hb, LowBuf: lb, IdxBuf: ib,
		ZzDir: s.zzDir, ZzExtreme: s.zzExtreme, ZzExtIdx: s.zzExtIdx,
		HighLevel: s.HighLevel, LowLevel: s.LowLevel,
		HighIdx: s.HighIdx, LowIdx: s.LowIdx,
		HighVersion: s.HighVersion, LowVersion: s.LowVersion,
		PairDir: s.PairDir, PairVersion: s.PairVersion,
	}
}

func (s *Swing) Restore(state any) {
	st := state.(swingState)
	s.i, s.filled, s.head = st.I, st.Filled, st.Head
	copy(s.highBuf, st.HighBuf)
	copy(s.lowBuf, st.LowBuf)
	copy(s.idxBuf, st.IdxBuf)
	s.zzDir, s.zzExtreme, s.zzExtIdx = st.ZzDir, st.ZzExtreme, st.ZzExtIdx
	s.HighLevel, s.LowLevel = st.HighLevel, st.LowLevel
	s.HighIdx, s.LowIdx = st.HighIdx, st.LowIdx
	s.HighVersion, s.LowVersion = st.HighVersion, st.LowVersion
	s.PairDir, s.PairVersion = st.PairDir, st.PairVersion
}
