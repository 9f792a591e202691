package iec61850

import (
	"bytes"
	"fmt"
	"time"

	"github.com/spf13/cast"
	"golang.org/x/text/encoding/unicode"
)

type MmsType int

// data types
const (
	Array MmsType = iota
	Structure
	Boolean
	BitString
	Integer
	Unsigned
	Float
	OctetString
	VisibleString
	GeneralizedTime
	BinaryTime
	Bcd
	ObjId
	String
	UTCTime
	DataAccessError
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
)

// MmsValue is a pure-Go tagged value. Value holds the Go-native
// representation: bool for Boolean, int64 for the integer families, uint32
// for the unsigned families, float64 for Float, []byte for OctetString,
// string for the string families, int64 (ms since epoch) for UTCTime and
// BinaryTime, uint32 for BitString, []*MmsValue for Array and Structure.
type MmsValue struct {
	Type  MmsType
	Value interface{}
}

func NewBooleanMmsValue(v bool) *MmsValue    { return &MmsValue{Type: Boolean, Value: v} }
func NewInt32MmsValue(v int32) *MmsValue     { return &MmsValue{Type: Int32, Value: int64(v)} }
func NewInt64MmsValue(v int64) *MmsValue     { return &MmsValue{Type: Int64, Value: v} }
func NewUint32MmsValue(v uint32) *MmsValue   { return &MmsValue{Type: Uint32, Value: v} }
func NewFloatMmsValue(v float64) *MmsValue   { return &MmsValue{Type: Float, Value: v} }
func NewBitStringMmsValue(v uint32) *MmsValue {
	return &MmsValue{Type: BitString, Value: v}
}
func NewOctetStringMmsValue(v []byte) *MmsValue {
	return &MmsValue{Type: OctetString, Value: append([]byte(nil), v...)}
}
func NewVisibleStringMmsValue(v string) *MmsValue {
	return &MmsValue{Type: VisibleString, Value: v}
}
func NewUTCTimeMmsValue(t time.Time) *MmsValue {
	return &MmsValue{Type: UTCTime, Value: t.UnixMilli()}
}
func NewStructureMmsValue(elements []*MmsValue) *MmsValue {
	return &MmsValue{Type: Structure, Value: elements}
}

// NewMmsStringValue builds an MMS unicode string value (MMS_STRING) from
// UTF-16 big endian octets as they appear on the wire. Octets that do not
// decode are kept verbatim.
func NewMmsStringValue(utf16be []byte) *MmsValue {
	dec := unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM).NewDecoder()
	s, err := dec.Bytes(utf16be)
	if err != nil {
		return &MmsValue{Type: String, Value: string(utf16be)}
	}
	return &MmsValue{Type: String, Value: string(s)}
}

// Clone returns a deep copy, detached from the receiver.
func (v *MmsValue) Clone() *MmsValue {
	if v == nil {
		return nil
	}
	out := &MmsValue{Type: v.Type}
	switch val := v.Value.(type) {
	case []*MmsValue:
		children := make([]*MmsValue, len(val))
		for i, c := range val {
			children[i] = c.Clone()
		}
		out.Value = children
	case []byte:
		out.Value = append([]byte(nil), val...)
	default:
		out.Value = v.Value
	}
	return out
}

// Equal reports deep equality of type and value.
func (v *MmsValue) Equal(other *MmsValue) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.Type != other.Type {
		return false
	}
	switch val := v.Value.(type) {
	case []*MmsValue:
		ov, ok := other.Value.([]*MmsValue)
		if !ok || len(val) != len(ov) {
			return false
		}
		for i := range val {
			if !val[i].Equal(ov[i]) {
				return false
			}
		}
		return true
	case []byte:
		ov, ok := other.Value.([]byte)
		return ok && bytes.Equal(val, ov)
	default:
		return v.Value == other.Value
	}
}

// ToBool coerces the value to bool. Non-boolean scalars follow the usual
// truthiness rules.
func (v *MmsValue) ToBool() bool {
	if v == nil {
		return false
	}
	return cast.ToBool(v.Value)
}

// ToInt coerces the value to int.
func (v *MmsValue) ToInt() int {
	if v == nil {
		return 0
	}
	return cast.ToInt(v.Value)
}

// ToFloat64 coerces the value to float64.
func (v *MmsValue) ToFloat64() float64 {
	if v == nil {
		return 0
	}
	return cast.ToFloat64(v.Value)
}

// ToString coerces the value to a string.
func (v *MmsValue) ToString() string {
	if v == nil {
		return ""
	}
	return cast.ToString(v.Value)
}

// ToOctetString returns the raw octets of an OctetString value, or nil.
func (v *MmsValue) ToOctetString() []byte {
	if v == nil {
		return nil
	}
	b, _ := v.Value.([]byte)
	return b
}

// GetElement returns the i-th child of an Array or Structure.
func (v *MmsValue) GetElement(i int) (*MmsValue, error) {
	children, ok := v.Value.([]*MmsValue)
	if !ok {
		return nil, fmt.Errorf("GetElement: value is not a composite (type %d)", v.Type)
	}
	if i < 0 || i >= len(children) {
		return nil, fmt.Errorf("GetElement: index %d out of range (size %d)", i, len(children))
	}
	return children[i], nil
}

func mmsTypeName(t MmsType) string {
	switch t {
	case Array:
		return "Array"
	case Structure:
		return "Structure"
	case Boolean:
		return "Boolean"
	case BitString:
		return "BitString"
	case Integer:
		return "Integer"
	case Unsigned:
		return "Unsigned"
	case Float:
		return "Float"
	case OctetString:
		return "OctetString"
	case VisibleString:
		return "VisibleString"
	case GeneralizedTime:
		return "GeneralizedTime"
	case BinaryTime:
		return "BinaryTime"
	case Bcd:
		return "Bcd"
	case ObjId:
		return "ObjId"
	case String:
		return "String"
	case UTCTime:
		return "UTCTime"
	case DataAccessError:
		return "DataAccessError"
	case Int8:
		return "Int8"
	case Int16:
		return "Int16"
	case Int32:
		return "Int32"
	case Int64:
		return "Int64"
	case Uint8:
		return "Uint8"
	case Uint16:
		return "Uint16"
	case Uint32:
		return "Uint32"
	}
	return fmt.Sprintf("MmsType(%d)", int(t))
}
