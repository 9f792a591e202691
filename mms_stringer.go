package iec61850

import (
	"fmt"
	"strings"
	"time"
)

// String implements fmt.Stringer for MmsValue. It prints a human-readable
// representation for all MMS data types. Composite types (Array/Structure)
// are formatted recursively.
func (v MmsValue) String() string {
	var b strings.Builder
	writeMmsValue(&b, v)
	return b.String()
}

func writeMmsValue(b *strings.Builder, v MmsValue) {
	switch v.Type {
	case Array, Structure:
		if v.Type == Structure {
			b.WriteString("{")
		} else {
			b.WriteString("[")
		}
		if children, ok := v.Value.([]*MmsValue); ok {
			for i, child := range children {
				if i > 0 {
					b.WriteString(", ")
				}
				if child == nil {
					b.WriteString("<nil>")
					continue
				}
				writeMmsValue(b, *child)
			}
		}
		if v.Type == Structure {
			b.WriteString("}")
		} else {
			b.WriteString("]")
		}
	case BitString:
		b.WriteString(fmt.Sprintf("BitString(0b%b)", v.Value))
	case OctetString:
		if bs, ok := v.Value.([]byte); ok {
			b.WriteString(fmt.Sprintf("OctetString(% X)", bs))
		} else {
			b.WriteString(fmt.Sprintf("OctetString(%v)", v.Value))
		}
	case UTCTime, BinaryTime:
		if ms, ok := v.Value.(int64); ok {
			b.WriteString(fmt.Sprintf("%s(%s)", mmsTypeName(v.Type), time.UnixMilli(ms).UTC().Format(time.RFC3339Nano)))
		} else {
			b.WriteString(fmt.Sprintf("%s(%v)", mmsTypeName(v.Type), v.Value))
		}
	default:
		b.WriteString(fmt.Sprintf("%s(%v)", mmsTypeName(v.Type), v.Value))
	}
}
