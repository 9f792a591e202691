package iec61850

const versionString = "1.6.0"

// GetVersionString returns the version of this library.
func GetVersionString() string {
	return versionString
}
