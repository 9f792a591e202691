package iec61850

type MmsDataAccessError int

const (
	DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE             MmsDataAccessError = -3
	DATA_ACCESS_ERROR_NO_RESPONSE                   MmsDataAccessError = -2
	DATA_ACCESS_ERROR_SUCCESS                       MmsDataAccessError = -1
	DATA_ACCESS_ERROR_OBJECT_INVALIDATED            MmsDataAccessError = 0
	DATA_ACCESS_ERROR_HARDWARE_FAULT                MmsDataAccessError = 1
	DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE       MmsDataAccessError = 2
	DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED          MmsDataAccessError = 3
	DATA_ACCESS_ERROR_OBJECT_UNDEFINED              MmsDataAccessError = 4
	DATA_ACCESS_ERROR_INVALID_ADDRESS               MmsDataAccessError = 5
	DATA_ACCESS_ERROR_TYPE_UNSUPPORTED              MmsDataAccessError = 6
	DATA_ACCESS_ERROR_TYPE_INCONSISTENT             MmsDataAccessError = 7
	DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT MmsDataAccessError = 8
	DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED     MmsDataAccessError = 9
	DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT          MmsDataAccessError = 10
	DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID          MmsDataAccessError = 11
	DATA_ACCESS_ERROR_UNKNOWN                       MmsDataAccessError = 12
)

// AccessPolicy is the default write access decision for a functional constraint.
// ACCESS_POLICY_ALLOW allows writes, ACCESS_POLICY_DENY denies writes for given FC.
type AccessPolicy int

const (
	ACCESS_POLICY_ALLOW AccessPolicy = iota
	ACCESS_POLICY_DENY
)

// ControlHandlerResult is returned by ControlHandler and
// ControlWaitForExecutionHandler callbacks.
type ControlHandlerResult int

const (
	CONTROL_RESULT_FAILED ControlHandlerResult = iota
	CONTROL_RESULT_OK
	CONTROL_RESULT_WAITING
)

// CheckHandlerResult is returned by ControlPerformCheckHandler callbacks.
type CheckHandlerResult int

const (
	// CONTROL_ACCEPTED check passed
	CONTROL_ACCEPTED CheckHandlerResult = -1
	// CONTROL_WAITING_FOR_SELECT select operation in progress - handler will be called again later
	CONTROL_WAITING_FOR_SELECT CheckHandlerResult = 0
	// CONTROL_HARDWARE_FAULT check failed due to hardware fault
	CONTROL_HARDWARE_FAULT CheckHandlerResult = 1
	// CONTROL_TEMPORARILY_UNAVAILABLE control is already selected or operated
	CONTROL_TEMPORARILY_UNAVAILABLE CheckHandlerResult = 2
	// CONTROL_OBJECT_ACCESS_DENIED check failed due to access control reason
	CONTROL_OBJECT_ACCESS_DENIED CheckHandlerResult = 3
	// CONTROL_OBJECT_UNDEFINED object not visible in this security context
	CONTROL_OBJECT_UNDEFINED CheckHandlerResult = 4
	// CONTROL_VALUE_INVALID ctlVal out of range
	CONTROL_VALUE_INVALID CheckHandlerResult = 11
)

type ControlModel int

const (
	// CONTROL_MODEL_STATUS_ONLY No support for control functions. Control object only support status information.
	CONTROL_MODEL_STATUS_ONLY ControlModel = iota
	// CONTROL_MODEL_DIRECT_NORMAL Direct control with normal security: Supports Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_DIRECT_NORMAL
	// CONTROL_MODEL_SBO_NORMAL Select before operate (SBO) with normal security: Supports Select, Operate, TimeActivatedOperate (optional), and Cancel (optional).
	CONTROL_MODEL_SBO_NORMAL
	// CONTROL_MODEL_DIRECT_ENHANCED Direct control with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_DIRECT_ENHANCED
	// CONTROL_MODEL_SBO_ENHANCED Select before operate (SBO) with enhanced security (enhanced security includes the CommandTermination service)
	CONTROL_MODEL_SBO_ENHANCED
)

// IsSbo reports whether the control model requires a select step before operate.
func (m ControlModel) IsSbo() bool {
	return m == CONTROL_MODEL_SBO_NORMAL || m == CONTROL_MODEL_SBO_ENHANCED
}

// IsEnhanced reports whether the control model includes the CommandTermination service.
func (m ControlModel) IsEnhanced() bool {
	return m == CONTROL_MODEL_DIRECT_ENHANCED || m == CONTROL_MODEL_SBO_ENHANCED
}

// SelectStateChangedReason describes why the select state of a control object changed.
type SelectStateChangedReason int

const (
	// SELECT_STATE_REASON_SELECTED control has been selected
	SELECT_STATE_REASON_SELECTED SelectStateChangedReason = iota
	// SELECT_STATE_REASON_CANCELED cancel received for the control
	SELECT_STATE_REASON_CANCELED
	// SELECT_STATE_REASON_TIMEOUT unselected due to timeout (sboTimeout)
	SELECT_STATE_REASON_TIMEOUT
	// SELECT_STATE_REASON_OPERATED unselected due to successful operate
	SELECT_STATE_REASON_OPERATED
	// SELECT_STATE_REASON_OPERATE_FAILED unselected due to failed operate
	SELECT_STATE_REASON_OPERATE_FAILED
	// SELECT_STATE_REASON_DISCONNECTED unselected due to disconnection of the selecting client
	SELECT_STATE_REASON_DISCONNECTED
)

// OrCat is the category of the originator of a control request.
type OrCat int

const (
	ORIGIN_NOT_SUPPORTED OrCat = iota
	ORIGIN_BAY_CONTROL
	ORIGIN_STATION_CONTROL
	ORIGIN_REMOTE_CONTROL
	ORIGIN_AUTOMATIC_BAY
	ORIGIN_AUTOMATIC_STATION
	ORIGIN_AUTOMATIC_REMOTE
	ORIGIN_MAINTENANCE
	ORIGIN_PROCESS
)

// ControlAddCause is the additional cause information carried by LastApplError
// and CommandTermination messages.
type ControlAddCause int

const (
	ADD_CAUSE_UNKNOWN ControlAddCause = iota
	ADD_CAUSE_NOT_SUPPORTED
	ADD_CAUSE_BLOCKED_BY_SWITCHING_HIERARCHY
	ADD_CAUSE_SELECT_FAILED
	ADD_CAUSE_INVALID_POSITION
	ADD_CAUSE_POSITION_REACHED
	ADD_CAUSE_PARAMETER_CHANGE_IN_EXECUTION
	ADD_CAUSE_STEP_LIMIT
	ADD_CAUSE_BLOCKED_BY_MODE
	ADD_CAUSE_BLOCKED_BY_PROCESS
	ADD_CAUSE_BLOCKED_BY_INTERLOCKING
	ADD_CAUSE_BLOCKED_BY_SYNCHROCHECK
	ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION
	ADD_CAUSE_BLOCKED_BY_HEALTH
	ADD_CAUSE_ONE_OF_N_CONTROL
	ADD_CAUSE_ABORTION_BY_CANCEL
	ADD_CAUSE_TIME_LIMIT_OVER
	ADD_CAUSE_ABORTION_BY_TRIP
	ADD_CAUSE_OBJECT_NOT_SELECTED
	ADD_CAUSE_OBJECT_ALREADY_SELECTED
	ADD_CAUSE_NO_ACCESS_AUTHORITY
	ADD_CAUSE_ENDED_WITH_OVERSHOOT
	ADD_CAUSE_ABORTION_DUE_TO_DEVIATION
	ADD_CAUSE_ABORTION_BY_COMMUNICATION_LOSS
	ADD_CAUSE_ABORTION_BY_COMMAND
	ADD_CAUSE_NONE
	ADD_CAUSE_INCONSISTENT_PARAMETERS
	ADD_CAUSE_LOCKED_BY_OTHER_CLIENT
)

// ControlLastApplError is the error class carried by LastApplError and
// CommandTermination messages.
type ControlLastApplError int

const (
	CONTROL_ERROR_NO_ERROR ControlLastApplError = iota
	CONTROL_ERROR_UNKNOWN
	CONTROL_ERROR_TIMEOUT_TEST
	CONTROL_ERROR_OPERATOR_TEST
)

// LastApplError is the detailed description of the last application error
// received for a control object.
type LastApplError struct {
	// CtlNum is the numeric identifier of the control request; the client can
	// use it to distinguish between different control requests.
	CtlNum   uint8
	Error    ControlLastApplError
	AddCause ControlAddCause
}

// IsPositive reports whether the message describes a CommandTermination+.
// A CommandTermination- carries an AddCause different from ADD_CAUSE_UNKNOWN.
func (e LastApplError) IsPositive() bool {
	return e.Error == CONTROL_ERROR_NO_ERROR && e.AddCause == ADD_CAUSE_UNKNOWN
}

// ACSIClass represents the different ACSI class types as defined in IEC 61850
type ACSIClass int

const (
	ACSI_CLASS_DATA_OBJECT ACSIClass = iota
	ACSI_CLASS_DATA_SET
	ACSI_CLASS_BRCB
	ACSI_CLASS_URCB
	ACSI_CLASS_LCB
	ACSI_CLASS_LOG
	ACSI_CLASS_SGCB
	ACSI_CLASS_GoCB
	ACSI_CLASS_GsCB
	ACSI_CLASS_MSVCB
	ACSI_CLASS_USVCB
)

// RCBEventType identifies report control block lifecycle events observable
// through IedServer.SetRCBEventHandler.
type RCBEventType int

const (
	// RCB_EVENT_GET_PARAMETER parameter read by client
	RCB_EVENT_GET_PARAMETER RCBEventType = iota
	// RCB_EVENT_SET_PARAMETER parameter set by client
	RCB_EVENT_SET_PARAMETER
	// RCB_EVENT_UNRESERVED RCB reservation canceled
	RCB_EVENT_UNRESERVED
	// RCB_EVENT_RESERVED RCB reserved
	RCB_EVENT_RESERVED
	// RCB_EVENT_ENABLE RCB enabled
	RCB_EVENT_ENABLE
	// RCB_EVENT_DISABLE RCB disabled
	RCB_EVENT_DISABLE
	// RCB_EVENT_GI GI report triggered
	RCB_EVENT_GI
	// RCB_EVENT_PURGEBUF purge buffer procedure executed
	RCB_EVENT_PURGEBUF
	// RCB_EVENT_OVERFLOW report buffer overflow
	RCB_EVENT_OVERFLOW
	// RCB_EVENT_REPORT_CREATED a new report was created and inserted into the buffer
	RCB_EVENT_REPORT_CREATED
)

// Origin identifies the client/application that sent a control command.
// It is intended for later analysis.
type Origin struct {
	Category OrCat
	Ident    []byte
}
