package iec61850

import (
	"fmt"
	"strings"
)

// String returns a human-readable description of an MMS variable
// specification. Arrays and structures are rendered recursively; scalar
// types include their size parameters when known.
func (s MmsVariableSpec) String() string {
	var b strings.Builder
	writeVarSpec(&b, s)
	return b.String()
}

func writeVarSpec(b *strings.Builder, s MmsVariableSpec) {
	switch s.Type {
	case Array:
		if s.Array == nil || s.Array.Element == nil {
			b.WriteString("Array[?]")
			return
		}
		fmt.Fprintf(b, "Array[%d] of ", s.Array.ElementCount)
		writeVarSpec(b, *s.Array.Element)
	case Structure:
		b.WriteString("Structure{")
		if s.Structure != nil {
			for i, el := range s.Structure.Elements {
				if i > 0 {
					b.WriteString(", ")
				}
				if el.Name != "" {
					fmt.Fprintf(b, "%s: ", el.Name)
				}
				writeVarSpec(b, el)
			}
		}
		b.WriteString("}")
	case Integer:
		writeSized(b, "Integer", "%dbit", s.IntegerBits)
	case Unsigned:
		writeSized(b, "Unsigned", "%dbit", s.UnsignedBits)
	case Float:
		switch {
		case s.FloatFormatWidth != 0 && s.FloatExponentWidth != 0:
			fmt.Fprintf(b, "Float(fmt=%d, exp=%d)", s.FloatFormatWidth, s.FloatExponentWidth)
		case s.FloatFormatWidth != 0:
			fmt.Fprintf(b, "Float(fmt=%d)", s.FloatFormatWidth)
		case s.FloatExponentWidth != 0:
			fmt.Fprintf(b, "Float(exp=%d)", s.FloatExponentWidth)
		default:
			b.WriteString("Float")
		}
	case BitString:
		writeSized(b, "BitString", "%dbit", s.BitStringSize)
	case OctetString:
		writeSized(b, "OctetString", "%d", s.OctetStringSize)
	case VisibleString:
		writeSized(b, "VisibleString", "%d", s.VisibleStringSize)
	case String:
		writeSized(b, "String", "%d", s.MmsStringSize)
	case BinaryTime:
		writeSized(b, "BinaryTime", "%d", s.BinaryTimeSize)
	default:
		b.WriteString(mmsTypeName(s.Type))
	}
}

func writeSized(b *strings.Builder, name, sizeFormat string, size int) {
	b.WriteString(name)
	if size != 0 {
		b.WriteString("(")
		fmt.Fprintf(b, sizeFormat, size)
		b.WriteString(")")
	}
}
