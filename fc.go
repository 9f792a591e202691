package iec61850

// FC is a functional constraint: it partitions the data attributes of a data
// object into access categories (status, measurement, setpoint, ...).
type FC int

const (
	// ST Status information
	ST FC = iota
	// MX Measurands - analogue values
	MX
	// SP Setpoint
	SP
	// SV Substitution
	SV
	// CF Configuration
	CF
	// DC Description
	DC
	// SG Setting group
	SG
	// SE Setting group editable
	SE
	// SR Service response / service tracking
	SR
	// OR Operate received
	OR
	// BL Blocking
	BL
	// EX Extended definition
	EX
	// CO Control
	CO
	// US Unicast SV
	US
	// MS Multicast SV
	MS
	// RP Unbuffered report
	RP
	// BR Buffered report
	BR
	// LG Log control block
	LG
	// GO Goose control block
	GO
)

const (
	ALL  FC = 99
	NONE FC = -1
)

var fcNames = map[FC]string{
	ST: "ST", MX: "MX", SP: "SP", SV: "SV", CF: "CF", DC: "DC",
	SG: "SG", SE: "SE", SR: "SR", OR: "OR", BL: "BL", EX: "EX",
	CO: "CO", US: "US", MS: "MS", RP: "RP", BR: "BR", LG: "LG",
	GO: "GO", ALL: "ALL", NONE: "NONE",
}

// FunctionalConstraintFromString parses the short IEC 61850 abbreviation
// ("ST", "MX", ...). Unknown strings map to NONE.
func FunctionalConstraintFromString(s string) FC {
	for fc, name := range fcNames {
		if name == s {
			return fc
		}
	}
	return NONE
}
