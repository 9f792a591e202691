package iec61850

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

const defaultRequestTimeoutMs = 10000

// Settings configures a Client. Transport is required; everything else has
// a usable default.
type Settings struct {
	// Transport carries the ACSI service requests. Use IedServer.Accept for
	// an in-process connection.
	Transport Transport
	// RequestTimeout in ms for a single service request (default 10000).
	RequestTimeout int
	// Logger for protocol level diagnostics. Defaults to a no-op logger.
	Logger *zap.SugaredLogger
}

// Client is an ACSI client association. All exported methods are safe for
// concurrent use; requests issued concurrently are serialized by the
// transport.
type Client struct {
	transport Transport
	timeout   time.Duration
	log       *zap.SugaredLogger

	mu               sync.RWMutex
	reportHandlers   map[string]*reportSubscription
	terminations     map[string]func(CommandTerminationNotification)
	closedHandler    ConnectionClosedHandler
	reportErrHandler ReportErrorHandler
	closed           bool
}

// ConnectionClosedHandler is called when the association is lost or closed
// by the server side.
type ConnectionClosedHandler func()

// ReportErrorHandler receives recoverable report stream conditions, such as
// a segmented report discarded because a segment never arrived.
type ReportErrorHandler func(rcbReference string, err error)

// NewClient creates a client over the given transport.
func NewClient(settings Settings) (*Client, error) {
	if settings.Transport == nil {
		return nil, fmt.Errorf("NewClient: transport is required: %w", IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	timeout := settings.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeoutMs
	}
	log := settings.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	c := &Client{
		transport:      settings.Transport,
		timeout:        time.Duration(timeout) * time.Millisecond,
		log:            log,
		reportHandlers: make(map[string]*reportSubscription),
		terminations:   make(map[string]func(CommandTerminationNotification)),
	}
	c.transport.Subscribe(NOTIFY_REPORT, c.onReportNotification)
	c.transport.Subscribe(NOTIFY_COMMAND_TERMINATION, c.onCommandTermination)
	c.transport.Subscribe(NOTIFY_CONNECTION_CLOSED, c.onConnectionClosed)
	return c, nil
}

// Close releases the association. Installed report handlers stop receiving
// reports.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.transport.Close()
}

func (c *Client) invoke(req ServiceRequest) (ServiceResponse, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()
	resp, err := c.transport.Invoke(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, IED_ERROR_TIMEOUT
		}
		return nil, err
	}
	return resp, nil
}

// Read reads the value of a data attribute or data object.
func (c *Client) ReadObject(objectReference string, fc FC) (*MmsValue, error) {
	resp, err := c.invoke(ReadObjectRequest{Ref: objectReference, FC: fc})
	if err != nil {
		return nil, fmt.Errorf("ReadObject %s[%s]: %w", objectReference, fc, err)
	}
	return resp.(ReadObjectResponse).Value, nil
}

// ReadBool reads a boolean data attribute.
func (c *Client) ReadBool(objectReference string, fc FC) (bool, error) {
	value, err := c.ReadObject(objectReference, fc)
	if err != nil {
		return false, err
	}
	return value.ToBool(), nil
}

// ReadFloat reads a float data attribute.
func (c *Client) ReadFloat(objectReference string, fc FC) (float64, error) {
	value, err := c.ReadObject(objectReference, fc)
	if err != nil {
		return 0, err
	}
	return value.ToFloat64(), nil
}

// ReadInt32 reads an integer data attribute.
func (c *Client) ReadInt32(objectReference string, fc FC) (int32, error) {
	value, err := c.ReadObject(objectReference, fc)
	if err != nil {
		return 0, err
	}
	return int32(value.ToInt()), nil
}

// ReadString reads a visible string data attribute.
func (c *Client) ReadString(objectReference string, fc FC) (string, error) {
	value, err := c.ReadObject(objectReference, fc)
	if err != nil {
		return "", err
	}
	return value.ToString(), nil
}

// WriteObject writes a Go value to a data attribute. The value is converted
// to the matching MMS representation; pass an *MmsValue directly when the
// mapping is ambiguous.
func (c *Client) WriteObject(objectReference string, fc FC, value interface{}) error {
	mv, err := toMmsValue(value)
	if err != nil {
		return fmt.Errorf("Write %s[%s]: %w", objectReference, fc, err)
	}
	return c.WriteValue(objectReference, fc, mv)
}

// Write is a shorthand for WriteObject.
func (c *Client) Write(objectReference string, fc FC, value interface{}) error {
	return c.WriteObject(objectReference, fc, value)
}

// WriteValue writes an MmsValue to a data attribute.
func (c *Client) WriteValue(objectReference string, fc FC, value *MmsValue) error {
	if _, err := c.invoke(WriteObjectRequest{Ref: objectReference, FC: fc, Value: value}); err != nil {
		return fmt.Errorf("Write %s[%s]: %w", objectReference, fc, err)
	}
	return nil
}

// ReadDataSet reads the current member values of a data set.
func (c *Client) ReadDataSet(dataSetReference string) ([]*MmsValue, error) {
	resp, err := c.invoke(ReadDataSetRequest{Ref: dataSetReference})
	if err != nil {
		return nil, fmt.Errorf("ReadDataSet %s: %w", dataSetReference, err)
	}
	return resp.(ReadDataSetResponse).Values, nil
}

// CreateDataSet creates a data set on the server. A reference of the form
// "LD/LN.name" creates a domain scoped data set visible to every client;
// "@name" creates one private to this association, removed when it closes.
// Members are attribute references, optionally suffixed with "[FC]".
func (c *Client) CreateDataSet(dataSetReference string, members []string) error {
	if _, err := c.invoke(CreateDataSetRequest{Ref: dataSetReference, Members: members}); err != nil {
		return fmt.Errorf("CreateDataSet %s: %w", dataSetReference, err)
	}
	return nil
}

// DeleteDataSet deletes a data set previously created at runtime. Data sets
// declared in the model are not deletable.
func (c *Client) DeleteDataSet(dataSetReference string) error {
	if _, err := c.invoke(DeleteDataSetRequest{Ref: dataSetReference}); err != nil {
		return fmt.Errorf("DeleteDataSet %s: %w", dataSetReference, err)
	}
	return nil
}

// InstallConnectionClosedHandler registers a callback invoked when the connection is closed.
// Only one handler per Client is supported; calling again overwrites the previous one.
func (c *Client) InstallConnectionClosedHandler(handler ConnectionClosedHandler) error {
	c.mu.Lock()
	c.closedHandler = handler
	c.mu.Unlock()
	return nil
}

// InstallReportErrorHandler registers a callback for recoverable report
// stream conditions. Only one handler per Client is supported.
func (c *Client) InstallReportErrorHandler(handler ReportErrorHandler) {
	c.mu.Lock()
	c.reportErrHandler = handler
	c.mu.Unlock()
}

func (c *Client) onConnectionClosed(_ Notification) {
	c.mu.RLock()
	handler := c.closedHandler
	c.mu.RUnlock()
	if handler != nil {
		handler()
	}
}

func toMmsValue(value interface{}) (*MmsValue, error) {
	switch v := value.(type) {
	case *MmsValue:
		return v, nil
	case bool:
		return NewBooleanMmsValue(v), nil
	case int:
		return NewInt32MmsValue(int32(v)), nil
	case int32:
		return NewInt32MmsValue(v), nil
	case int64:
		return NewInt64MmsValue(v), nil
	case uint32:
		return NewUint32MmsValue(v), nil
	case float32:
		return NewFloatMmsValue(float64(v)), nil
	case float64:
		return NewFloatMmsValue(v), nil
	case string:
		return NewVisibleStringMmsValue(v), nil
	case []byte:
		return NewOctetStringMmsValue(v), nil
	default:
		return nil, fmt.Errorf("unsupported value type %T: %w", value, IED_ERROR_TYPE_INCONSISTENT)
	}
}
