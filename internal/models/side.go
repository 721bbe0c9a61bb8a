package models

// Side of a position. Long and short books are fully independent:
// separate tables, separate margin buckets.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Valid() bool {
	return s == SideLong || s == SideShort
}

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sides lists both sides in a stable order.
func Sides() []Side { return []Side{SideLong, SideShort} }

// TradingMode gates which sides may open new positions.
type TradingMode string

const (
	ModeLongOnly  TradingMode = "LONG_ONLY"
	ModeShortOnly TradingMode = "SHORT_ONLY"
	ModeLongShort TradingMode = "LONG_SHORT"
	ModeNeutral   TradingMode = "NEUTRAL"
)

func (m TradingMode) Valid() bool {
	switch m {
	case ModeLongOnly, ModeShortOnly, ModeLongShort, ModeNeutral:
		return true
	}
	return false
}

// Allows reports whether the mode permits opening on the given side.
func (m TradingMode) Allows(s Side) bool {
	switch m {
	case ModeLongShort:
		return true
	case ModeLongOnly:
		return s == SideLong
	case ModeShortOnly:
		return s == SideShort
	}
	return false
}
