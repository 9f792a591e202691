package iec61850

// DataModel is the client side view of a server's data model as discovered
// through the directory services.
type DataModel struct {
	LDs []LD
}

// LD is a Logical Device
type LD struct {
	Data string
	LNs  []LN
}

// LN is a Logical Node
type LN struct {
	Data      string
	Ref       string
	DOs       []DO
	DSs       []DS
	URReports []URReport
	BRReports []BRReport
	SGCBs     []SGCBRef
}

// URReport are Unbuffered Reports
type URReport struct {
	Data string
	Ref  string
}

// BRReport are Buffered Reports
type BRReport struct {
	Data string
	Ref  string
}

// SGCBRef is a setting group control block
type SGCBRef struct {
	Data string
	Ref  string
}

// DS represents a DataSet
type DS struct {
	Data        string
	DSRefs      []DSRef
	IsDeletable bool
}

type DSRef struct {
	Data string
}

// DO represents a Data Object
type DO struct {
	Data string
	DAs  []DA
}

// DA represents a Data Attribute
type DA struct {
	Data string
	DAs  []DA
	Ref  string
	FC   FC
}
