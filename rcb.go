package iec61850

import (
	"fmt"
	"strings"
)

type TrgOps struct {
	DataChange            bool // Value change
	QualityChange         bool // Quality change
	DataUpdate            bool // Data update
	TriggeredPeriodically bool // Periodic trigger (integrity)
	Gi                    bool // GI (general interrogation) trigger
	Transient             bool // Transient
}

type OptFlds struct {
	SequenceNumber     bool // Sequence number
	TimeOfEntry        bool // Report timestamp
	ReasonForInclusion bool // Reason code (reason for inclusion)
	DataSetName        bool // Data set
	DataReference      bool // Data reference
	BufferOverflow     bool // Buffer overflow indicator
	EntryID            bool // Report entry identifier
	ConfigRevision     bool // Configuration revision
	Segmentation       bool // Report may be split into segments
}

// RcbElement flags select which report control block elements a setRCB
// request carries. The dirty mask of a ClientReportControlBlock is the union
// of the elements changed since the last successful read or write.
type RcbElement int

const (
	RCB_ELEMENT_RPT_ID RcbElement = 1 << iota
	RCB_ELEMENT_RPT_ENA
	// RCB_ELEMENT_RESV only available in unbuffered RCBs
	RCB_ELEMENT_RESV
	RCB_ELEMENT_DATSET
	RCB_ELEMENT_CONF_REV
	RCB_ELEMENT_OPT_FLDS
	RCB_ELEMENT_BUF_TM
	RCB_ELEMENT_SQ_NUM
	RCB_ELEMENT_TRG_OPS
	RCB_ELEMENT_INTG_PD
	RCB_ELEMENT_GI
	// RCB_ELEMENT_PURGE_BUF only available in buffered RCBs
	RCB_ELEMENT_PURGE_BUF
	// RCB_ELEMENT_ENTRY_ID only available in buffered RCBs
	RCB_ELEMENT_ENTRY_ID
	// RCB_ELEMENT_TIME_OF_ENTRY only available in buffered RCBs
	RCB_ELEMENT_TIME_OF_ENTRY
	// RCB_ELEMENT_RESV_TMS only available in buffered RCBs
	RCB_ELEMENT_RESV_TMS
	RCB_ELEMENT_OWNER
)

func (e RcbElement) Has(flag RcbElement) bool { return e&flag != 0 }

// ReasonForInclusion describes why an element is included in a report.
type ReasonForInclusion int

const (
	// IEC61850_REASON_NOT_INCLUDED the element is not included in the received report
	IEC61850_REASON_NOT_INCLUDED ReasonForInclusion = 0
	// IEC61850_REASON_DATA_CHANGE the element is included due to a change of the data value
	IEC61850_REASON_DATA_CHANGE ReasonForInclusion = 1
	// IEC61850_REASON_QUALITY_CHANGE the element is included due to a change in the quality of data
	IEC61850_REASON_QUALITY_CHANGE ReasonForInclusion = 2
	// IEC61850_REASON_DATA_UPDATE the element is included due to an update of the data value
	IEC61850_REASON_DATA_UPDATE ReasonForInclusion = 4
	// IEC61850_REASON_INTEGRITY the element is included due to a periodic integrity report task
	IEC61850_REASON_INTEGRITY ReasonForInclusion = 8
	// IEC61850_REASON_GI the element is included due to a general interrogation by the client
	IEC61850_REASON_GI ReasonForInclusion = 16
	// IEC61850_REASON_UNKNOWN the reason for inclusion is unknown (e.g. report is not
	// configured to include reason-for-inclusion)
	IEC61850_REASON_UNKNOWN ReasonForInclusion = 32
)

func (r ReasonForInclusion) String() string {
	var parts []string
	if r&IEC61850_REASON_DATA_CHANGE != 0 {
		parts = append(parts, "data-change")
	}
	if r&IEC61850_REASON_QUALITY_CHANGE != 0 {
		parts = append(parts, "quality-change")
	}
	if r&IEC61850_REASON_DATA_UPDATE != 0 {
		parts = append(parts, "data-update")
	}
	if r&IEC61850_REASON_INTEGRITY != 0 {
		parts = append(parts, "integrity")
	}
	if r&IEC61850_REASON_GI != 0 {
		parts = append(parts, "gi")
	}
	if r&IEC61850_REASON_UNKNOWN != 0 {
		parts = append(parts, "unknown")
	}
	if len(parts) == 0 {
		return "not-included"
	}
	return strings.Join(parts, "|")
}

// RCBValues is the wire-level snapshot of a report control block as carried
// by GetRCB/SetRCB requests. Buffered-only and unbuffered-only fields are
// meaningful only for the matching kind.
type RCBValues struct {
	RptID   string
	RptEna  bool
	Resv    bool
	DatSet  string
	ConfRev uint32
	OptFlds OptFlds
	BufTm   uint32
	SqNum   uint16
	TrgOps  TrgOps
	IntgPd  uint32
	GI      bool

	PurgeBuf    bool
	EntryID     []byte
	TimeOfEntry int64
	ResvTms     int16
	Owner       []byte

	IsBuffered bool
}

// ClientReportControlBlock is the client side mirror of a server RCB. Setters
// flag the element as changed; SetRCBValues writes only flagged elements and
// clears the mask when the round trip succeeds.
//
// Buffered-only elements (PurgeBuf, EntryID, ResvTms) and the
// unbuffered-only Resv element are rejected on the wrong kind.
type ClientReportControlBlock struct {
	reference      string
	values         RCBValues
	elementChanged RcbElement
}

// NewClientReportControlBlock creates an empty client RCB mirror for the
// given object reference. isBuffered selects BRCB or URCB semantics; with a
// live connection prefer Client.GetRCBValues which fills the mirror from the
// server.
func NewClientReportControlBlock(objectReference string, isBuffered bool) *ClientReportControlBlock {
	return &ClientReportControlBlock{
		reference: objectReference,
		values:    RCBValues{IsBuffered: isBuffered},
	}
}

// Reference returns the object reference of the RCB.
func (r *ClientReportControlBlock) Reference() string { return r.reference }

// IsBuffered indicates whether this is a buffered report control block (BRCB)
// or an unbuffered report control block (URCB).
func (r *ClientReportControlBlock) IsBuffered() bool { return r.values.IsBuffered }

// ElementChanged returns the set of elements changed since the last
// successful read or write.
func (r *ClientReportControlBlock) ElementChanged() RcbElement { return r.elementChanged }

// ClearElementChanged resets the dirty mask.
func (r *ClientReportControlBlock) ClearElementChanged() { r.elementChanged = 0 }

// Values returns a copy of the current field values.
func (r *ClientReportControlBlock) Values() RCBValues { return r.values }

func (r *ClientReportControlBlock) RptID() string    { return r.values.RptID }
func (r *ClientReportControlBlock) RptEna() bool     { return r.values.RptEna }
func (r *ClientReportControlBlock) DatSet() string   { return r.values.DatSet }
func (r *ClientReportControlBlock) ConfRev() uint32  { return r.values.ConfRev }
func (r *ClientReportControlBlock) OptFlds() OptFlds { return r.values.OptFlds }
func (r *ClientReportControlBlock) BufTm() uint32    { return r.values.BufTm }
func (r *ClientReportControlBlock) SqNum() uint16    { return r.values.SqNum }
func (r *ClientReportControlBlock) TrgOps() TrgOps   { return r.values.TrgOps }
func (r *ClientReportControlBlock) IntgPd() uint32   { return r.values.IntgPd }
func (r *ClientReportControlBlock) GI() bool         { return r.values.GI }
func (r *ClientReportControlBlock) Owner() []byte    { return r.values.Owner }

func (r *ClientReportControlBlock) SetRptID(rptID string) {
	r.values.RptID = rptID
	r.elementChanged |= RCB_ELEMENT_RPT_ID
}

func (r *ClientReportControlBlock) SetRptEna(ena bool) {
	r.values.RptEna = ena
	r.elementChanged |= RCB_ELEMENT_RPT_ENA
}

func (r *ClientReportControlBlock) SetDataSetReference(datSet string) {
	r.values.DatSet = datSet
	r.elementChanged |= RCB_ELEMENT_DATSET
}

func (r *ClientReportControlBlock) SetOptFlds(optFlds OptFlds) {
	r.values.OptFlds = optFlds
	r.elementChanged |= RCB_ELEMENT_OPT_FLDS
}

func (r *ClientReportControlBlock) SetBufTm(bufTm uint32) {
	r.values.BufTm = bufTm
	r.elementChanged |= RCB_ELEMENT_BUF_TM
}

func (r *ClientReportControlBlock) SetTrgOps(trgOps TrgOps) {
	r.values.TrgOps = trgOps
	r.elementChanged |= RCB_ELEMENT_TRG_OPS
}

func (r *ClientReportControlBlock) SetIntgPd(intgPd uint32) {
	r.values.IntgPd = intgPd
	r.elementChanged |= RCB_ELEMENT_INTG_PD
}

func (r *ClientReportControlBlock) SetGI(gi bool) {
	r.values.GI = gi
	r.elementChanged |= RCB_ELEMENT_GI
}

// Resv returns the URCB reservation flag.
func (r *ClientReportControlBlock) Resv() bool { return r.values.Resv }

// SetResv sets the URCB reservation flag. Calling it on a buffered RCB is a
// usage error.
func (r *ClientReportControlBlock) SetResv(resv bool) error {
	if r.values.IsBuffered {
		return fmt.Errorf("SetResv %s: %w", r.reference, errBufferedOnlyMismatch("Resv"))
	}
	r.values.Resv = resv
	r.elementChanged |= RCB_ELEMENT_RESV
	return nil
}

func (r *ClientReportControlBlock) PurgeBuf() bool { return r.values.PurgeBuf }

// SetPurgeBuf requests a buffer purge on the next write. Buffered RCBs only.
func (r *ClientReportControlBlock) SetPurgeBuf(purge bool) error {
	if !r.values.IsBuffered {
		return fmt.Errorf("SetPurgeBuf %s: %w", r.reference, errUnbufferedMismatch("PurgeBuf"))
	}
	r.values.PurgeBuf = purge
	r.elementChanged |= RCB_ELEMENT_PURGE_BUF
	return nil
}

// EntryID returns the last entry ID read from the server (buffered only).
func (r *ClientReportControlBlock) EntryID() []byte { return r.values.EntryID }

// SetEntryID sets the resumption point for the next enable. The server
// resumes delivery from the entry following the given one, or flags a buffer
// overflow if it has been purged. Buffered RCBs only.
func (r *ClientReportControlBlock) SetEntryID(entryID []byte) error {
	if !r.values.IsBuffered {
		return fmt.Errorf("SetEntryID %s: %w", r.reference, errUnbufferedMismatch("EntryID"))
	}
	r.values.EntryID = append([]byte(nil), entryID...)
	r.elementChanged |= RCB_ELEMENT_ENTRY_ID
	return nil
}

// TimeOfEntry returns the entry timestamp (ms since epoch, buffered only).
func (r *ClientReportControlBlock) TimeOfEntry() int64 { return r.values.TimeOfEntry }

func (r *ClientReportControlBlock) ResvTms() int16 { return r.values.ResvTms }

// SetResvTms sets the reservation time in seconds. Buffered RCBs only.
func (r *ClientReportControlBlock) SetResvTms(resvTms int16) error {
	if !r.values.IsBuffered {
		return fmt.Errorf("SetResvTms %s: %w", r.reference, errUnbufferedMismatch("ResvTms"))
	}
	r.values.ResvTms = resvTms
	r.elementChanged |= RCB_ELEMENT_RESV_TMS
	return nil
}

func errBufferedOnlyMismatch(field string) error {
	return fmt.Errorf("%s is an unbuffered-only element: %w", field, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
}

func errUnbufferedMismatch(field string) error {
	return fmt.Errorf("%s is a buffered-only element: %w", field, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
}
