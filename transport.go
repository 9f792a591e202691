package iec61850

import "context"

// Transport is the session the client talks through. It abstracts the
// MMS/ACSE/TCP stack: a synchronous request/response primitive plus an
// asynchronous notification path for reports and command terminations.
//
// Implementations must deliver notifications in the order the server emitted
// them and must not invoke notification handlers concurrently.
type Transport interface {
	// Invoke sends a service request and blocks until the response (or the
	// context deadline) arrives. Service level rejections are returned as a
	// ClientError.
	Invoke(ctx context.Context, req ServiceRequest) (ServiceResponse, error)

	// Subscribe registers a handler for a notification kind. Only one handler
	// per kind is supported; registering again overwrites the previous one.
	Subscribe(kind NotificationKind, handler NotificationHandler)

	// Close releases the session. The server treats this like a lost
	// connection: selects held by this client are unselected and owned URCBs
	// are disabled.
	Close() error
}

type NotificationKind int

const (
	NOTIFY_REPORT NotificationKind = iota
	NOTIFY_COMMAND_TERMINATION
	NOTIFY_CONNECTION_CLOSED
)

type NotificationHandler func(Notification)

type Notification interface {
	Kind() NotificationKind
}

// ReportNotification is one raw report message (possibly a single segment of
// a segmented report) as pushed by the server. Optional header fields carry a
// Has flag mirroring the OptFlds of the emitting RCB.
type ReportNotification struct {
	RcbRef string
	RptID  string

	HasSeqNum bool
	SeqNum    uint16

	HasSubSeqNum       bool
	SubSeqNum          uint16
	MoreSegmentsFollow bool

	HasTimeOfEntry bool
	TimeOfEntry    int64 // ms since epoch

	HasDataSetName bool
	DataSetName    string

	HasBufOvfl bool
	BufOvfl    bool

	HasConfRev bool
	ConfRev    uint32

	// EntryID is nil when not included (unbuffered RCBs, or OptFlds without
	// the entry ID bit).
	EntryID []byte

	Members []ReportedMember
}

func (ReportNotification) Kind() NotificationKind { return NOTIFY_REPORT }

// ReportedMember is one dataset member included in a report message.
// Index is the member position within the dataset.
type ReportedMember struct {
	Index  int
	Value  *MmsValue
	Reason ReasonForInclusion
	// DataRef is empty unless the RCB option fields include data references.
	DataRef string
}

// CommandTerminationNotification carries the CommandTermination+/- for a
// control object with an enhanced security control model.
type CommandTerminationNotification struct {
	ObjectRef     string
	LastApplError LastApplError
}

func (CommandTerminationNotification) Kind() NotificationKind { return NOTIFY_COMMAND_TERMINATION }

// ConnectionClosedNotification signals that the session has been closed or
// lost.
type ConnectionClosedNotification struct{}

func (ConnectionClosedNotification) Kind() NotificationKind { return NOTIFY_CONNECTION_CLOSED }

// ServiceRequest is a marker for the typed request structs a Transport can
// carry.
type ServiceRequest interface{ serviceRequest() }

// ServiceResponse is a marker for the typed response structs.
type ServiceResponse interface{ serviceResponse() }

type ReadObjectRequest struct {
	Ref string
	FC  FC
}

type ReadObjectResponse struct {
	Value *MmsValue
}

type WriteObjectRequest struct {
	Ref   string
	FC    FC
	Value *MmsValue
}

type WriteObjectResponse struct{}

// GetServerDirectoryRequest lists the logical device names of the server.
type GetServerDirectoryRequest struct{}

type GetServerDirectoryResponse struct {
	Names []string
}

// GetDirectoryRequest lists child object names of a logical device or
// logical node, filtered by ACSI class. For a logical device reference the
// DATA_OBJECT class yields the flat MMS variable name list.
type GetDirectoryRequest struct {
	Ref   string
	Class ACSIClass
}

type GetDirectoryResponse struct {
	Names []string
}

// GetLogicalDeviceDirectoryRequest lists the logical node names of a
// logical device.
type GetLogicalDeviceDirectoryRequest struct {
	Ld string
}

type GetLogicalDeviceDirectoryResponse struct {
	Names []string
}

// GetDataDirectoryRequest lists the child attribute names of a data object
// or data attribute. With WithFC each name carries its functional constraint
// as a "name[FC]" suffix.
type GetDataDirectoryRequest struct {
	Ref    string
	WithFC bool
}

type GetDataDirectoryResponse struct {
	Names []string
}

type ReadDataSetRequest struct {
	Ref string
}

type ReadDataSetResponse struct {
	Values []*MmsValue
}

// CreateDataSetRequest creates a data set at runtime. A reference of the
// form "LD/LN.name" is domain scoped; "@name" is private to the requesting
// association. Members are attribute references, optionally "[FC]" suffixed.
type CreateDataSetRequest struct {
	Ref     string
	Members []string
}

type CreateDataSetResponse struct{}

// DeleteDataSetRequest deletes a data set created at runtime.
type DeleteDataSetRequest struct {
	Ref string
}

type DeleteDataSetResponse struct{}

type GetDataSetDirectoryRequest struct {
	Ref string
}

type GetDataSetDirectoryResponse struct {
	Members     []string
	IsDeletable bool
}

type GetVariableSpecRequest struct {
	Ref string
	FC  FC
}

type GetVariableSpecResponse struct {
	Spec *MmsVariableSpec
}

type ControlRequestKind int

const (
	CONTROL_SELECT ControlRequestKind = iota
	CONTROL_SELECT_WITH_VALUE
	CONTROL_OPERATE
	CONTROL_CANCEL
)

// ControlRequest is a select, select-with-value, operate or cancel service
// request for one controllable data object.
type ControlRequest struct {
	Ref  string
	Kind ControlRequestKind

	// CtlVal is set for operate and select-with-value.
	CtlVal *MmsValue
	// OperTime is the server local time (ms since epoch) for time activated
	// control, or 0 for immediate execution.
	OperTime int64

	Origin         Origin
	CtlNum         uint8
	Test           bool
	InterlockCheck bool
	SynchroCheck   bool
	// T is the timestamp (ms since epoch) of the control request.
	T int64
}

// ControlResponse is the synchronous outcome of a ControlRequest. A rejected
// request carries the service error plus the application level cause.
type ControlResponse struct {
	Success  bool
	Error    ClientError
	AddCause ControlAddCause
}

type GetRCBRequest struct {
	Ref string
}

type GetRCBResponse struct {
	Values RCBValues
}

// SetRCBRequest writes the RCB elements named by Elements from Values.
// SingleRequest asks the server to apply all elements in one write; otherwise
// elements are applied one by one in the canonical order and the first
// failure aborts the rest.
type SetRCBRequest struct {
	Ref           string
	Values        RCBValues
	Elements      RcbElement
	SingleRequest bool
}

type SetRCBResponse struct{}

func (ReadObjectRequest) serviceRequest()                {}
func (WriteObjectRequest) serviceRequest()               {}
func (GetServerDirectoryRequest) serviceRequest()        {}
func (GetDirectoryRequest) serviceRequest()              {}
func (GetLogicalDeviceDirectoryRequest) serviceRequest() {}
func (GetDataDirectoryRequest) serviceRequest()          {}
func (ReadDataSetRequest) serviceRequest()               {}
func (CreateDataSetRequest) serviceRequest()             {}
func (DeleteDataSetRequest) serviceRequest()             {}
func (GetDataSetDirectoryRequest) serviceRequest()       {}
func (GetVariableSpecRequest) serviceRequest()           {}
func (ControlRequest) serviceRequest()                   {}
func (GetRCBRequest) serviceRequest()                    {}
func (SetRCBRequest) serviceRequest()                    {}

func (ReadObjectResponse) serviceResponse()                {}
func (WriteObjectResponse) serviceResponse()               {}
func (GetServerDirectoryResponse) serviceResponse()        {}
func (GetDirectoryResponse) serviceResponse()              {}
func (GetLogicalDeviceDirectoryResponse) serviceResponse() {}
func (GetDataDirectoryResponse) serviceResponse()          {}
func (ReadDataSetResponse) serviceResponse()               {}
func (CreateDataSetResponse) serviceResponse()             {}
func (DeleteDataSetResponse) serviceResponse()             {}
func (GetDataSetDirectoryResponse) serviceResponse()       {}
func (GetVariableSpecResponse) serviceResponse()           {}
func (ControlResponse) serviceResponse()                   {}
func (GetRCBResponse) serviceResponse()                    {}
func (SetRCBResponse) serviceResponse()                    {}
