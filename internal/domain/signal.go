package domain

// Signal is the output of a strategy's entry evaluation.
type Signal int

const (
	SignalNone Signal = iota
	SignalLong
	SignalShort
)

// String returns the lowercase name of the signal.
func (s Signal) String() string {
	switch s {
	case SignalLong:
		return "long"
	case SignalShort:
		return "short"
	default:
		return "none"
	}
}

// Side maps a non-None signal to the position side it would open.
func (s Signal) Side() (Side, bool) {
	switch s {
	case SignalLong:
		return SideLong, true
	case SignalShort:
		return SideShort, true
	default:
		return "", false
	}
}
