package models

type PrecisionLevel string

const (
	PrecisionCoarse    PrecisionLevel = "coarse"
	PrecisionStandard  PrecisionLevel = "standard"
	PrecisionFine      PrecisionLevel = "fine"
	PrecisionUltraFine PrecisionLevel = "ultra_fine"
	PrecisionMicro     PrecisionLevel = "micro"
	PrecisionNano      PrecisionLevel = "nano"
)

var precisionTolerances = map[PrecisionLevel]float64{
	PrecisionCoarse:    1,
	PrecisionStandard:  1.0 / 12,
	PrecisionFine:      1.0 / 192,
	PrecisionUltraFine: 1.0 / 768,
	PrecisionMicro:     1.0 / 12000,
	PrecisionNano:      1.0 / 12000000,
}

func (p PrecisionLevel) Valid() bool {
	_, ok := precisionTolerances[p]
	return ok
}

// Tolerance returns the clearance tolerance in length units. An unset level
// behaves as standard.
func (p PrecisionLevel) Tolerance() float64 {
	if t, ok := precisionTolerances[p]; ok {
		return t
	}
	return precisionTolerances[PrecisionStandard]
}
