package types

// ColorClass names a lamp color.
type ColorClass string

const (
	Orange ColorClass = "orange"
	Green  ColorClass = "green"
	Red    ColorClass = "red" // Legacy class, not part of the two-region path
)

// Verdict is the categorical result of one sampling cycle.
type Verdict string

const (
	VerdictOrange  Verdict = "orange"
	VerdictGreen   Verdict = "green"
	VerdictUnknown Verdict = "unknown"
)

// VerdictOf maps a color class to its verdict.
func VerdictOf(c ColorClass) Verdict {
	switch c {
	case Orange:
		return VerdictOrange
	case Green:
		return VerdictGreen
	default:
		return VerdictUnknown
	}
}

// IsAlert reports whether the verdict is the alert color.
func (v Verdict) IsAlert() bool {
	return v == VerdictOrange
}

// IsNormal reports whether the verdict is the normal color.
func (v Verdict) IsNormal() bool {
	return v == VerdictGreen
}
