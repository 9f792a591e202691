package iec61850

import "fmt"

// ClientError describes the error reason for most client side service
// functions. It implements the error interface so service results can be
// matched with errors.Is.
type ClientError int

const (
	// IED_ERROR_OK No error occurred - service request has been successful
	IED_ERROR_OK ClientError = 0
	// IED_ERROR_NOT_CONNECTED The service request can not be executed because the client is not yet connected
	IED_ERROR_NOT_CONNECTED ClientError = 1
	// IED_ERROR_ALREADY_CONNECTED Connect service not executed because the client is already connected
	IED_ERROR_ALREADY_CONNECTED ClientError = 2
	// IED_ERROR_CONNECTION_LOST The service request can not be executed caused by a loss of connection
	IED_ERROR_CONNECTION_LOST ClientError = 3
	// IED_ERROR_SERVICE_NOT_SUPPORTED The service or some given parameters are not supported by the client stack or by the server
	IED_ERROR_SERVICE_NOT_SUPPORTED ClientError = 4
	// IED_ERROR_CONNECTION_REJECTED Connection rejected by server
	IED_ERROR_CONNECTION_REJECTED ClientError = 5
	// IED_ERROR_OUTSTANDING_CALL_LIMIT_REACHED Cannot send request because outstanding call limit is reached
	IED_ERROR_OUTSTANDING_CALL_LIMIT_REACHED ClientError = 6

	// IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT API function has been called with an invalid argument
	IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT ClientError = 10
	IED_ERROR_ENABLE_REPORT_FAILED_DATASET_MISMATCH ClientError = 11
	// IED_ERROR_OBJECT_REFERENCE_INVALID The provided object reference is invalid (there is a syntactical error)
	IED_ERROR_OBJECT_REFERENCE_INVALID ClientError = 12
	// IED_ERROR_UNEXPECTED_VALUE_RECEIVED Received object is of unexpected type
	IED_ERROR_UNEXPECTED_VALUE_RECEIVED ClientError = 13

	// IED_ERROR_TIMEOUT The communication to the server failed with a timeout
	IED_ERROR_TIMEOUT ClientError = 20
	// IED_ERROR_ACCESS_DENIED The server rejected the access to the requested object/service due to access control
	IED_ERROR_ACCESS_DENIED ClientError = 21
	// IED_ERROR_OBJECT_DOES_NOT_EXIST The server reported that the requested object does not exist
	IED_ERROR_OBJECT_DOES_NOT_EXIST ClientError = 22
	// IED_ERROR_OBJECT_EXISTS The server reported that the requested object already exists
	IED_ERROR_OBJECT_EXISTS ClientError = 23
	// IED_ERROR_OBJECT_ACCESS_UNSUPPORTED The server does not support the requested access method
	IED_ERROR_OBJECT_ACCESS_UNSUPPORTED ClientError = 24
	// IED_ERROR_TYPE_INCONSISTENT The server expected an object of another type
	IED_ERROR_TYPE_INCONSISTENT ClientError = 25
	// IED_ERROR_TEMPORARILY_UNAVAILABLE The object or service is temporarily unavailable
	IED_ERROR_TEMPORARILY_UNAVAILABLE ClientError = 26
	// IED_ERROR_OBJECT_UNDEFINED The specified object is not defined in the server
	IED_ERROR_OBJECT_UNDEFINED ClientError = 27
	// IED_ERROR_INVALID_ADDRESS The specified address is invalid
	IED_ERROR_INVALID_ADDRESS ClientError = 28
	// IED_ERROR_HARDWARE_FAULT Service failed due to a hardware fault
	IED_ERROR_HARDWARE_FAULT ClientError = 29
	// IED_ERROR_TYPE_UNSUPPORTED The requested data type is not supported by the server
	IED_ERROR_TYPE_UNSUPPORTED ClientError = 30
	// IED_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT The provided attributes are inconsistent
	IED_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT ClientError = 31
	// IED_ERROR_OBJECT_VALUE_INVALID The provided object value is invalid
	IED_ERROR_OBJECT_VALUE_INVALID ClientError = 32
	// IED_ERROR_OBJECT_INVALIDATED The object is invalidated
	IED_ERROR_OBJECT_INVALIDATED ClientError = 33
	// IED_ERROR_MALFORMED_MESSAGE Received an invalid response message from the server
	IED_ERROR_MALFORMED_MESSAGE ClientError = 34
	// IED_ERROR_OBJECT_CONSTRAINT_CONFLICT Service was not executed because required resource is still in use
	IED_ERROR_OBJECT_CONSTRAINT_CONFLICT ClientError = 35

	// IED_ERROR_SERVICE_NOT_IMPLEMENTED Service not implemented
	IED_ERROR_SERVICE_NOT_IMPLEMENTED ClientError = 98
	// IED_ERROR_UNKNOWN unknown error
	IED_ERROR_UNKNOWN ClientError = 99
)

var clientErrorNames = map[ClientError]string{
	IED_ERROR_OK:                                    "ok",
	IED_ERROR_NOT_CONNECTED:                         "not connected",
	IED_ERROR_ALREADY_CONNECTED:                     "already connected",
	IED_ERROR_CONNECTION_LOST:                       "connection lost",
	IED_ERROR_SERVICE_NOT_SUPPORTED:                 "service not supported",
	IED_ERROR_CONNECTION_REJECTED:                   "connection rejected",
	IED_ERROR_OUTSTANDING_CALL_LIMIT_REACHED:        "outstanding call limit reached",
	IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT:        "invalid argument",
	IED_ERROR_ENABLE_REPORT_FAILED_DATASET_MISMATCH: "enable report failed, dataset mismatch",
	IED_ERROR_OBJECT_REFERENCE_INVALID:              "object reference invalid",
	IED_ERROR_UNEXPECTED_VALUE_RECEIVED:             "unexpected value received",
	IED_ERROR_TIMEOUT:                               "timeout",
	IED_ERROR_ACCESS_DENIED:                         "access denied",
	IED_ERROR_OBJECT_DOES_NOT_EXIST:                 "object does not exist",
	IED_ERROR_OBJECT_EXISTS:                         "object exists",
	IED_ERROR_OBJECT_ACCESS_UNSUPPORTED:             "object access unsupported",
	IED_ERROR_TYPE_INCONSISTENT:                     "type inconsistent",
	IED_ERROR_TEMPORARILY_UNAVAILABLE:               "temporarily unavailable",
	IED_ERROR_OBJECT_UNDEFINED:                      "object undefined",
	IED_ERROR_INVALID_ADDRESS:                       "invalid address",
	IED_ERROR_HARDWARE_FAULT:                        "hardware fault",
	IED_ERROR_TYPE_UNSUPPORTED:                      "type unsupported",
	IED_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT:         "object attribute inconsistent",
	IED_ERROR_OBJECT_VALUE_INVALID:                  "object value invalid",
	IED_ERROR_OBJECT_INVALIDATED:                    "object invalidated",
	IED_ERROR_MALFORMED_MESSAGE:                     "malformed message",
	IED_ERROR_OBJECT_CONSTRAINT_CONFLICT:            "object constraint conflict",
	IED_ERROR_SERVICE_NOT_IMPLEMENTED:               "service not implemented",
	IED_ERROR_UNKNOWN:                               "unknown error",
}

func (e ClientError) Error() string {
	if name, ok := clientErrorNames[e]; ok {
		return name
	}
	return fmt.Sprintf("client error %d", int(e))
}

// GetIedClientError converts an error code into a Go error. IED_ERROR_OK maps
// to nil.
func GetIedClientError(code ClientError) error {
	if code == IED_ERROR_OK {
		return nil
	}
	return code
}

// clientErrorFromAccessError maps a server side data access result onto the
// client error taxonomy.
func clientErrorFromAccessError(code MmsDataAccessError) ClientError {
	switch code {
	case DATA_ACCESS_ERROR_SUCCESS, DATA_ACCESS_ERROR_SUCCESS_NO_UPDATE:
		return IED_ERROR_OK
	case DATA_ACCESS_ERROR_HARDWARE_FAULT:
		return IED_ERROR_HARDWARE_FAULT
	case DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE:
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	case DATA_ACCESS_ERROR_OBJECT_ACCESS_DENIED:
		return IED_ERROR_ACCESS_DENIED
	case DATA_ACCESS_ERROR_OBJECT_UNDEFINED:
		return IED_ERROR_OBJECT_UNDEFINED
	case DATA_ACCESS_ERROR_INVALID_ADDRESS:
		return IED_ERROR_INVALID_ADDRESS
	case DATA_ACCESS_ERROR_TYPE_UNSUPPORTED:
		return IED_ERROR_TYPE_UNSUPPORTED
	case DATA_ACCESS_ERROR_TYPE_INCONSISTENT:
		return IED_ERROR_TYPE_INCONSISTENT
	case DATA_ACCESS_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT:
		return IED_ERROR_OBJECT_ATTRIBUTE_INCONSISTENT
	case DATA_ACCESS_ERROR_OBJECT_ACCESS_UNSUPPORTED:
		return IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
	case DATA_ACCESS_ERROR_OBJECT_NONE_EXISTENT:
		return IED_ERROR_OBJECT_DOES_NOT_EXIST
	case DATA_ACCESS_ERROR_OBJECT_VALUE_INVALID:
		return IED_ERROR_OBJECT_VALUE_INVALID
	case DATA_ACCESS_ERROR_OBJECT_INVALIDATED:
		return IED_ERROR_OBJECT_INVALIDATED
	default:
		return IED_ERROR_UNKNOWN
	}
}
