package incstate

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
)

// IncEMA is the O(1) streaming exponential moving average (spec §3),
// the incstate counterpart to indicatorlib's batch EMA. It uses the same
// alpha=2/(period+1) but seeds on its first bar, whereas indicatorlib.EMA
// seeds from the first period-bar SMA and reports NaN before it.
type IncEMA struct {
	period int
	alpha  float64
	value  float64
	seeded bool
	field  Field
}

func NewIncEMA(period int, field Field) *IncEMA {
	return &IncEMA{period: period, alpha: 2.0 / (float64(period) + 1), field: field}
}

func (e *IncEMA) Update(bar barfeed.Bar) {
	v := fieldOf(bar, e.field)
	if !e.seeded {
		e.value = v
		e.seeded = true
		return
	}
	e.value = e.alpha*v + (1-e.alpha)*e.value
}

func (e *IncEMA) Value(field string) (Value, bool) {
	if field != "value" {
		return Value{}, false
	}
	if !e.seeded {
		return FloatValue(math.NaN()), true
	}
	return FloatValue(e.value), true
}

func (e *IncEMA) OutputKeys() []string { return []string{"value"} }
func (e *IncEMA) DependsOn() []string  { return nil }

func (e *IncEMA) Reset() { e.value, e.seeded = 0, false }

type incEMAState struct {
	Value  float64
	Seeded bool
}

func (e *IncEMA) Snapshot() any        { return incEMAState{e.value, e.seeded} }
func (e *IncEMA) Restore(state any)    { s := state.(incEMAState); e.value, e.seeded = s.Value, s.Seeded }

// IncRSI is Wilder's smoothed RSI maintained bar by bar (spec §3), mirroring
// indicatorlib.RSI's smoothing constants but without the batch replay.
type IncRSI struct {
	period     int
	prevClose  float64
	haveClose  bool
	avgGain    float64
	avgLoss    float64
	seeded     int // bars consumed toward the initial average
	value      float64
}

func NewIncRSI(period int) *IncRSI { return &IncRSI{period: period} }

func (r *IncRSI) Update(bar barfeed.Bar) {
	if !r.haveClose {
		r.prevClose = bar.Close
		r.haveClose = true
		r.value = math.NaN()
		return
	}
	delta := bar.Close - r.prevClose
	r.prevClose = bar.Close
	gain, loss := 0.0, 0.0
	if delta > 0 {
		gain = delta
	} else {
		loss = -delta
	}
	if r.seeded < r.period {
		r.avgGain += gain
		r.avgLoss += loss
		r.seeded++
		if r.seeded == r.period {
			r.avgGain /= float64(r.period)
			r.avgLoss /= float64(r.period)
		} else {
			r.value = math.NaN()
			return
		}
	} else {
		r.avgGain = (r.avgGain*float64(r.period-1) + gain) / float64(r.period)
		r.avgLoss = (r.avgLoss*float64(r.period-1) + loss) / float64(r.period)
	}
	if r.avgLoss == 0 {
		r.value = 100
		return
	}
	rs := r.avgGain / r.avgLoss
	r.value = 100 - 100/(1+rs)
}

func (r *IncRSI) Value(field string) (Value, bool) {
	if field != "value" {
		return Value{}, false
	}
	return FloatValue(r.value), true
}

func (r *IncRSI) OutputKeys() []string { return []string{"value"} }
func (r *IncRSI) DependsOn() []string  { return nil }

func (r *IncRSI) Reset() {
	*r = IncRSI{period: r.period}
}

type incRSIState struct {
	PrevClose           float64
	HaveClose           bool
	AvgGain, AvgLoss    float64
	Seeded              int
	Value               float64
}

func (r *IncRSI) Snapshot() any {
	return incRSIState{r.prevClose, r.haveClose, r.avgGain, r.avgLoss, r.seeded, r.value}
}
func (r *IncRSI) Restore(state any) {
	s := state.(incRSIState)
	r.prevClose, r.haveClose = s.PrevClose, s.HaveClose
	r.avgGain, r.avgLoss = s.AvgGain, s.AvgLoss
	r.seeded, r.value = s.Seeded, s.Value
}

// IncATR is Wilder's smoothed average true range maintained bar by bar.
type IncATR struct {
	period    int
	prevClose float64
	haveClose bool
	avgTR     float64
	seeded    int
	value     float64
}

func NewIncATR(period int) *IncATR { return &IncATR{period: period} }

func trueRange(bar barfeed.Bar, prevClose float64, haveClose bool) float64 {
	if !haveClose {
		return bar.High - bar.Low
	}
	tr := bar.High - bar.Low
	if v := math.Abs(bar.High - prevClose); v > tr {
		tr = v
	}
	if v := math.Abs(bar.Low - prevClose); v > tr {
		tr = v
	}
	return tr
}

func (a *IncATR) Update(bar barfeed.Bar) {
	tr := trueRange(bar, a.prevClose, a.haveClose)
	a.prevClose, a.haveClose = bar.Close, true
	if a.seeded < a.period {
		a.avgTR += tr
		a.seeded++
		if a.seeded == a.period {
			a.avgTR /= float64(a.period)
			a.value = a.avgTR
		} else {
			a.value = math.NaN()
		}
		return
	}
	a.avgTR = (a.avgTR*float64(a.period-1) + tr) / float64(a.period)
	a.value = a.avgTR
}

func (a *IncATR) Value(field string) (Value, bool) {
	if field != "value" {
		return Value{}, false
	}
	return FloatValue(a.value), true
}

func (a *IncATR) OutputKeys() []string { return []string{"value"} }
func (a *IncATR) DependsOn() []string  { return nil }

func (a *IncATR) Reset() { *a = IncATR{period: a.period} }

type incATRState struct {
	PrevClose float64
	HaveClose bool
	AvgTR     float64
	Seeded    int
	Value     float64
}

func (a *IncATR) Snapshot() any {
	return incATRState{a.prevClose, a.haveClose, a.avgTR, a.seeded, a.value}
}
func (a *IncATR) Restore(state any) {
	s := state.(incATRState)
	a.prevClose, a.haveClose, a.avgTR, a.seeded, a.value = s.PrevClose, s.HaveClose, s.AvgTR, s.Seeded, s.Value
}

// IncFisher is the Fisher transform maintained against a rolling
// high/low window (spec §3), fed from a monoDeque pair instead of a
// full-array scan. It transforms the clamped normalised mid-price
// directly, with a 0.5 feedback on its previous output; unlike
// indicatorlib.Fisher it does not first smooth the normalised price
// (0.33/0.67), and it reports NaN while the window's high equals its low.
type IncFisher struct {
	period  int
	minDq   *monoDeque
	maxDq   *monoDeque
	i       int
	prevVal float64
	value   float64
}

func NewIncFisher(period int) *IncFisher {
	return &IncFisher{period: period, minDq: newMonoDeque(period, false), maxDq: newMonoDeque(period, true)}
}

func (f *IncFisher) Update(bar barfeed.Bar) {
	mid := (bar.High + bar.Low) / 2
	f.minDq.push(f.i, mid)
	f.maxDq.push(f.i, mid)
	lo := f.i - f.period + 1
	f.minDq.evictBefore(lo)
	f.maxDq.evictBefore(lo)
	f.i++

	minV, okMin := f.minDq.front()
	maxV, okMax := f.maxDq.front()
	if !okMin || !okMax || maxV == minV {
		f.value = math.NaN()
		return
	}
	x := 2*((mid-minV)/(maxV-minV)-0.5)
	x = clampFisher(0.999, x)
	f.prevVal = 0.5*math.Log((1+x)/(1-x)) + 0.5*f.prevVal
	f.value = f.prevVal
}

func clampFisher(bound, x float64) float64 {
	if x > bound {
		return bound
	}
	if x < -bound {
		return -bound
	}
	return x
}

func (f *IncFisher) Value(field string) (Value, bool) {
	if field != "value" {
		return Value{}, false
	}
	return FloatValue(f.value), true
}

func (f *IncFisher) OutputKeys() []string { return []string{"value"} }
func (f *IncFisher) DependsOn() []string  { return nil }

func (f *IncFisher) Reset() {
	f.minDq.reset()
	f.maxDq.reset()
	f.i, f.prevVal, f.value = 0, 0, 0
}

type incFisherState struct {
	MinIdx, MaxIdx   []int
	MinVal, MaxVal   []float64
	I                int
	PrevVal, Value   float64
}

func (f *IncFisher) Snapshot() any {
	minIdx, minVal, _, _ := f.minDq.snapshot()
	maxIdx, maxVal, _, _ := f.maxDq.snapshot()
	return incFisherState{minIdx, maxIdx, minVal, maxVal, f.i, f.prevVal, f.value}
}

func (f *IncFisher) Restore(state any) {
	s := state.(incFisherState)
	f.minDq.restore(s.MinIdx, s.MinVal)
	f.maxDq.restore(s.MaxIdx, s.MaxVal)
	f.i, f.prevVal, f.value = s.I, s.PrevVal, s.Value
}
