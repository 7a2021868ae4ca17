package incstate

import (
	"math"

	"github.com/quantforge/backtestcore/internal/barfeed"
)

// ZoneLifecycle is one slot's state machine (spec §3).
type ZoneLifecycle int

const (
	ZonePending ZoneLifecycle = iota
	ZoneActive
	ZoneTouched
	ZoneBroken
)

func (z ZoneLifecycle) String() string {
	switch z {
	case ZonePending:
		return "PENDING"
	case ZoneActive:
		return "ACTIVE"
	case ZoneTouched:
		return "TOUCHED"
	default:
		return "BROKEN"
	}
}

// ZoneSlot is one rectangular price band instance.
type ZoneSlot struct {
	Upper, Lower float64
	State        ZoneLifecycle
	CreatedIdx   int
}

// Zone is the rectangular-band lifecycle detector of spec §3, anchored to
// one leg of a Swing. Each time the anchor leg's version bumps, a new slot
// is pushed (oldest evicted once MaxSlots is reached — a fixed-capacity
// ring, per spec §9).
type Zone struct {
	swingKey   string
	swing      *Swing
	onHigh     bool // true: anchor to Swing's high leg, false: low leg
	halfWidth  float64
	maxSlots   int

	slots       []ZoneSlot
	lastVersion int
	lastClose   float64
	i           int
}

// NewZone builds a Zone anchored to a Swing's high (onHigh=true) or low
// leg, with a band half-width (absolute price units) and a bounded slot
// count.
func NewZone(swingKey string, onHigh bool, halfWidth float64, maxSlots int) *Zone {
	if maxSlots < 1 {
		maxSlots = 1
	}
	return &Zone{swingKey: swingKey, onHigh: onHigh, halfWidth: halfWidth, maxSlots: maxSlots, lastVersion: -1}
}

func (z *Zone) Wire(deps map[string]Detector) {
	if d, ok := deps[z.swingKey]; ok {
		z.swing = d.(*Swing)
	}
}

func (z *Zone) currentAnchorVersion() (int, float64, bool) {
	if z.swing == nil {
		return 0, 0, false
	}
	if z.onHigh {
		if z.swing.HighIdx < 0 {
			return 0, 0, false
		}
		return z.swing.HighVersion, z.swing.HighLevel, true
	}
	if z.swing.LowIdx < 0 {
		return 0, 0, false
	}
	return z.swing.LowVersion, z.swing.LowLevel, true
}

func (z *Zone) Update(bar barfeed.Bar) {
	if version, level, ok := z.currentAnchorVersion(); ok && version != z.lastVersion {
		z.lastVersion = version
		slot := ZoneSlot{Upper: level + z.halfWidth, Lower: level - z.halfWidth, State: ZonePending, CreatedIdx: z.i}
		z.slots = append(z.slots, slot)
		if len(z.slots) > z.maxSlots {
			z.slots = z.slots[len(z.slots)-z.maxSlots:]
		}
	}

	for idx := range z.slots {
		s := &z.slots[idx]
		if s.State == ZoneBroken {
			continue
		}
		if s.State == ZonePending {
			if s.CreatedIdx < z.i {
				s.State = ZoneActive
			} else {
				continue // created this very bar; stays PENDING until next bar
			}
		}
		touches := bar.Low <= s.Upper && bar.High >= s.Lower
		if touches && s.State == ZoneActive {
			s.State = ZoneTouched
		}
		if bar.Close > s.Upper || bar.Close < s.Lower {
			if s.State == ZoneTouched {
				s.State = ZoneBroken
			}
		}
	}
	z.lastClose = bar.Close
	z.i++
}

func (z *Zone) Value(field string) (Value, bool) {
	switch field {
	case "active_count":
		n := 0
		for _, s := range z.slots {
			if s.State == ZoneActive || s.State == ZoneTouched {
				n++
			}
		}
		return IntValue(n), true
	case "any_active":
		for _, s := range z.slots {
			if s.State == ZoneActive || s.State == ZoneTouched {
				return BoolValue(true), true
			}
		}
		return BoolValue(false), true
	case "closest_active_upper", "closest_active_lower":
		ref := math.NaN()
		best := math.Inf(1)
		for _, s := range z.slots {
			if s.State != ZoneActive && s.State != ZoneTouched {
				continue
			}
			mid := (s.Upper + s.Lower) / 2
			d := math.Abs(mid - z.lastClose)
			if d < best {
				best = d
				if field == "closest_active_upper" {
					ref = s.Upper
				} else {
					ref = s.Lower
				}
			}
		}
		return FloatValue(ref), true
	case "slot_count":
		return IntValue(len(z.slots)), true
	case "latest_state":
		if len(z.slots) == 0 {
			return EnumValue(ZonePending.String()), true
		}
		return EnumValue(z.slots[len(z.slots)-1].State.String()), true
	default:
		return Value{}, false
	}
}

func (z *Zone) OutputKeys() []string {
	return []string{"active_count", "any_active", "closest_active_upper", "closest_active_lower", "slot_count", "latest_state"}
}

func (z *Zone) DependsOn() []string { return []string{z.swingKey} }

func (z *Zone) Reset() {
	z.slots = nil
	z.lastVersion = -1
	z.lastClose = 0
	z.i = 0
}

type zoneState struct {
	Slots       []ZoneSlot
	LastVersion int
	LastClose   float64
	I           int
}

func (z *Zone) Snapshot() any {
	return zoneState{Slots: append([]ZoneSlot(nil), z.slots...), LastVersion: z.lastVersion, LastClose: z.lastClose, I: z.i}
}

func (z *Zone) Restore(state any) {
	s := state.(zoneState)
	z.slots = append([]ZoneSlot(nil), s.Slots...)
	z.lastVersion = s.LastVersion
	z.lastClose = s.LastClose
	z.i = s.I
}

// DerivedZone shifts/scales a base Zone's slots by a fixed offset
// percentage, producing a second rectangular band (e.g. an extension zone
// beyond a supply/demand zone) without re-deriving from the Swing
// directly (spec §3 "Derived Zone").
type DerivedZone struct {
	baseKey   string
	base      *Zone
	offsetPct float64 // applied to the band's half-width, e.g. 0.5 = 50% wider
	maxSlots  int

	slots       []ZoneSlot
	lastSeenLen int
	lastClose   float64
	i           int
}

// NewDerivedZone builds a DerivedZone that mirrors baseKey's slot
// creation, widened/narrowed by offsetPct.
func NewDerivedZone(baseKey string, offsetPct float64, maxSlots int) *DerivedZone {
	if maxSlots < 1 {
		maxSlots = 1
	}
	return &DerivedZone{baseKey: baseKey, offsetPct: offsetPct, maxSlots: maxSlots}
}

func (d *DerivedZone) Wire(deps map[string]Detector) {
	if b, ok := deps[d.baseKey]; ok {
		d.base = b.(*Zone)
	}
}

func (d *DerivedZone) Update(bar barfeed.Bar) {
	if d.base != nil && len(d.base.slots) > d.lastSeenLen {
		for _, src := range d.base.slots[d.lastSeenLen:] {
			mid := (src.Upper + src.Lower) / 2
			half := (src.Upper - src.Lower) / 2 * (1 + d.offsetPct)
			d.slots = append(d.slots, ZoneSlot{Upper: mid + half, Lower: mid - half, State: ZonePending, CreatedIdx: d.i})
		}
		d.lastSeenLen = len(d.base.slots)
		if len(d.slots) > d.maxSlots {
			d.slots = d.slots[len(d.slots)-d.maxSlots:]
		}
	}
	for idx := range d.slots {
		s := &d.slots[idx]
		if s.State == ZoneBroken {
			continue
		}
		if s.State == ZonePending {
			if s.CreatedIdx < d.i {
				s.State = ZoneActive
			} else {
				continue
			}
		}
		touches := bar.Low <= s.Upper && bar.High >= s.Lower
		if touches && s.State == ZoneActive {
			s.State = ZoneTouched
		}
		if (bar.Close > s.Upper || bar.Close < s.Lower) && s.State == ZoneTouched {
			s.State = ZoneBroken
		}
	}
	d.lastClose = bar.Close
	d.i++
}

func (d *DerivedZone) Value(field string) (Value, bool) {
	z := &Zone{slots: d.slots, lastClose: d.lastClose}
	return z.Value(field)
}

func (d *DerivedZone) OutputKeys() []string {
	return []string{"active_count", "any_active", "closest_active_upper", "closest_active_lower", "slot_count", "latest_state"}
}

func (d *DerivedZone) DependsOn() []string { return []string{d.baseKey} }

func (d *DerivedZone) Reset() {
	d.slots = nil
	d.lastSeenLen = 0
	d.lastClose = 0
	d.i = 0
}

type derivedZoneState struct {
	Slots       []ZoneSlot
	LastSeenLen int
	LastClose   float64
	I           int
}

func (d *DerivedZone) Snapshot() any {
	return derivedZoneState{Slots: append([]ZoneSlot(nil), d.slots...), LastSeenLen: d.lastSeenLen, LastClose: d.lastClose, I: d.i}
}

func (d *DerivedZone) Restore(state any) {
	s := state.(derivedZoneState)
	d.slots = append([]ZoneSlot(nil), s.Slots...)
	d.lastSeenLen = s.LastSeenLen
	d.lastClose = s.LastClose
	d.i = s.I
}
