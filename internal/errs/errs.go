// Package errs defines the error taxonomy used across the backtest core.
//
// Kinds are not Go types; they're a closed set of string tags so callers can
// switch on `errors.As(err, &coreErr); coreErr.KindTag`. Hard-failure kinds abort
// preflight/build before the engine ever starts. INVARIANT_VIOLATION aborts a
// running loop. POLICY_REJECT and MISSING_VALUE never abort anything — see
// spec §7.
package errs

import "fmt"

// Kind tags a CoreError with the taxonomy bucket from spec §7.
type Kind string

const (
	InvalidPlay          Kind = "INVALID_PLAY"
	UnknownIndicator     Kind = "UNKNOWN_INDICATOR"
	UndeclaredFeature    Kind = "UNDECLARED_FEATURE"
	InvalidParam         Kind = "INVALID_PARAM"
	InsufficientData     Kind = "INSUFFICIENT_DATA"
	InsufficientWarmup   Kind = "INSUFFICIENT_WARMUP"
	GapExceedsThreshold  Kind = "GAP_EXCEEDS_THRESHOLD"
	InvariantViolation   Kind = "INVARIANT_VIOLATION"
	PolicyReject         Kind = "POLICY_REJECT"
	ModeLockViolated     Kind = "MODE_LOCK_VIOLATED"
)

// CoreError is the structured error every hard-failure path returns. Its
// JSON shape is exactly the §7 user-visible contract: error_code, message,
// fix_hint.
type CoreError struct {
	KindTag  Kind   `json:"error_code"`
	Message  string `json:"message"`
	FixHint  string `json:"fix_hint,omitempty"`

	// BarIndex and Violation are populated only for INVARIANT_VIOLATION,
	// so the offending bar and the broken identity surface together (§7).
	BarIndex  int    `json:"bar_index,omitempty"`
	Violation string `json:"violation,omitempty"`
}

func (e *CoreError) Error() string {
	if e.Violation != "" {
		return fmt.Sprintf("%s: %s (bar=%d, violation=%s)", e.KindTag, e.Message, e.BarIndex, e.Violation)
	}
	if e.FixHint != "" {
		return fmt.Sprintf("%s: %s (fix: %s)", e.KindTag, e.Message, e.FixHint)
	}
	return fmt.Sprintf("%s: %s", e.KindTag, e.Message)
}

// New builds a plain CoreError of the given kind.
func New(kind Kind, format string, args ...any) *CoreError {
	return &CoreError{KindTag: kind, Message: fmt.Sprintf(format, args...)}
}

// WithFixHint attaches an actionable fix_hint, per §7's example
// ("run data sync for BTCUSDT 15m covering 2024-01-01..2024-01-31").
func (e *CoreError) WithFixHint(format string, args ...any) *CoreError {
	e.FixHint = fmt.Sprintf(format, args...)
	return e
}

// Invariant builds an INVARIANT_VIOLATION error carrying the offending bar
// index and the name of the broken identity, per §7.
func Invariant(barIndex int, violation string, format string, args ...any) *CoreError {
	return &CoreError{
		KindTag:   InvariantViolation,
		Message:   fmt.Sprintf(format, args...),
		BarIndex:  barIndex,
		Violation: violation,
	}
}

// Is reports whether target is a *CoreError of the same kind, so
// errors.Is(err, errs.Sentinel(errs.InvalidPlay)) matches any error of that kind.
func (e *CoreError) Is(target error) bool {
	t, ok := target.(*CoreError)
	if !ok {
		return false
	}
	return e.KindTag == t.KindTag
}

// Sentinel returns a zero-value CoreError of a kind, suitable for
// errors.Is(err, errs.Sentinel(errs.InvalidPlay)).
func Sentinel(kind Kind) *CoreError { return &CoreError{KindTag: kind} }
