package iec61850

// String implements fmt.Stringer for FC. It returns the short IEC 61850
// abbreviation like "ST", "MX", etc.
func (f FC) String() string {
	if name, ok := fcNames[f]; ok {
		return name
	}
	return "NONE"
}
