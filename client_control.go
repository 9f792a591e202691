package iec61850

import (
	"fmt"
	"sync"
	"time"
)

// CommandTerminationHandler receives the CommandTermination of an enhanced
// security control sequence. Call GetLastApplError on the control object to
// distinguish positive from negative termination.
type CommandTerminationHandler func(co *ControlObject)

// ControlObject is a client side control session for one controllable data
// object. It tracks the control model, select state, control number and the
// last application error received from the server.
//
// A ControlObject is not safe for concurrent use; each control sequence
// belongs to one goroutine.
type ControlObject struct {
	client    *Client
	reference string
	ctlModel  ControlModel

	origin         Origin
	test           bool
	interlockCheck bool
	synchroCheck   bool
	constantT      bool

	ctlNum   uint8
	lastT    int64
	selected bool

	mu          sync.Mutex
	lastApplErr LastApplError
	termination CommandTerminationHandler
}

// CreateControlObject creates a control session for the given data object.
// The control model is read from the server (ctlModel attribute, FC=CF).
func (c *Client) CreateControlObject(objectReference string) (*ControlObject, error) {
	value, err := c.ReadObject(objectReference+".ctlModel", CF)
	if err != nil {
		return nil, fmt.Errorf("CreateControlObject %s: %w", objectReference, err)
	}
	co := &ControlObject{
		client:    c,
		reference: objectReference,
		ctlModel:  ControlModel(value.ToInt()),
		origin:    Origin{Category: ORIGIN_REMOTE_CONTROL},
	}

	c.mu.Lock()
	c.terminations[objectReference] = co.onCommandTermination
	c.mu.Unlock()
	return co, nil
}

// Close unregisters the control session. The server side select state, if
// any, expires on its own timeout.
func (co *ControlObject) Close() {
	co.client.mu.Lock()
	delete(co.client.terminations, co.reference)
	co.client.mu.Unlock()
}

// Reference returns the object reference of the controlled data object.
func (co *ControlObject) Reference() string { return co.reference }

// GetControlModel returns the control model read at session creation.
func (co *ControlObject) GetControlModel() ControlModel { return co.ctlModel }

// SetOrigin sets the originator carried in subsequent control requests.
func (co *ControlObject) SetOrigin(category OrCat, ident string) {
	co.origin = Origin{Category: category, Ident: []byte(ident)}
}

// SetTestMode marks subsequent control requests as test commands.
func (co *ControlObject) SetTestMode(test bool) { co.test = test }

// SetInterlockCheck asks the server to perform interlock checks.
func (co *ControlObject) SetInterlockCheck(check bool) { co.interlockCheck = check }

// SetSynchroCheck asks the server to perform synchrocheck.
func (co *ControlObject) SetSynchroCheck(check bool) { co.synchroCheck = check }

// UseConstantT keeps the T parameter of the select step for the following
// operate, as required by some IEDs for SBO sequences.
func (co *ControlObject) UseConstantT(constantT bool) { co.constantT = constantT }

// SetCommandTerminationHandler registers a callback for CommandTermination
// messages of enhanced security control models. Only one handler per control
// object is supported.
func (co *ControlObject) SetCommandTerminationHandler(handler CommandTerminationHandler) {
	co.mu.Lock()
	co.termination = handler
	co.mu.Unlock()
}

// GetLastApplError returns the last application error received for this
// control object, either in a rejected response or in a negative
// CommandTermination.
func (co *ControlObject) GetLastApplError() LastApplError {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.lastApplErr
}

// IsSelected reports whether the last select on this session succeeded and
// has not been consumed by an operate or cancel.
func (co *ControlObject) IsSelected() bool { return co.selected }

func (co *ControlObject) nextT() int64 {
	if co.constantT && co.lastT != 0 {
		return co.lastT
	}
	co.lastT = time.Now().UnixMilli()
	return co.lastT
}

func (co *ControlObject) request(kind ControlRequestKind, ctlVal *MmsValue, operTime int64) ControlRequest {
	return ControlRequest{
		Ref:            co.reference,
		Kind:           kind,
		CtlVal:         ctlVal,
		OperTime:       operTime,
		Origin:         co.origin,
		CtlNum:         co.ctlNum,
		Test:           co.test,
		InterlockCheck: co.interlockCheck,
		SynchroCheck:   co.synchroCheck,
		T:              co.nextT(),
	}
}

func (co *ControlObject) invoke(op string, req ControlRequest) error {
	resp, err := co.client.invoke(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, co.reference, err)
	}
	cr := resp.(ControlResponse)
	if !cr.Success {
		co.mu.Lock()
		co.lastApplErr = LastApplError{
			CtlNum:   req.CtlNum,
			Error:    CONTROL_ERROR_NO_ERROR,
			AddCause: cr.AddCause,
		}
		co.mu.Unlock()
		return fmt.Errorf("%s %s: addCause=%d: %w", op, co.reference, cr.AddCause, cr.Error)
	}
	return nil
}

// Select reserves the control object (SBO with normal security). Use
// SelectWithValue for enhanced security models.
func (co *ControlObject) Select() error {
	if co.ctlModel != CONTROL_MODEL_SBO_NORMAL {
		return fmt.Errorf("Select %s: control model %d does not use select: %w",
			co.reference, co.ctlModel, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	co.ctlNum++
	if err := co.invoke("Select", co.request(CONTROL_SELECT, nil, 0)); err != nil {
		return err
	}
	co.selected = true
	return nil
}

// SelectWithValue reserves the control object and validates the control
// value (SBO with enhanced security).
func (co *ControlObject) SelectWithValue(value interface{}) error {
	if co.ctlModel != CONTROL_MODEL_SBO_ENHANCED {
		return fmt.Errorf("SelectWithValue %s: control model %d does not use select-with-value: %w",
			co.reference, co.ctlModel, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	ctlVal, err := toMmsValue(value)
	if err != nil {
		return fmt.Errorf("SelectWithValue %s: %w", co.reference, err)
	}
	co.ctlNum++
	if err := co.invoke("SelectWithValue", co.request(CONTROL_SELECT_WITH_VALUE, ctlVal, 0)); err != nil {
		return err
	}
	co.selected = true
	return nil
}

// Operate executes the control with the given value. For SBO models a
// successful select must precede the operate.
func (co *ControlObject) Operate(value interface{}) error {
	return co.operate(value, 0)
}

// OperateWithTime schedules the control for execution at the given server
// time (ms since epoch).
func (co *ControlObject) OperateWithTime(value interface{}, operTime int64) error {
	return co.operate(value, operTime)
}

func (co *ControlObject) operate(value interface{}, operTime int64) error {
	if co.ctlModel == CONTROL_MODEL_STATUS_ONLY {
		return fmt.Errorf("Operate %s: control object is status-only: %w",
			co.reference, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	if co.ctlModel.IsSbo() && !co.selected {
		return fmt.Errorf("Operate %s: not selected: %w",
			co.reference, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	ctlVal, err := toMmsValue(value)
	if err != nil {
		return fmt.Errorf("Operate %s: %w", co.reference, err)
	}
	if !co.ctlModel.IsSbo() {
		co.ctlNum++
	}
	err = co.invoke("Operate", co.request(CONTROL_OPERATE, ctlVal, operTime))
	co.selected = false
	return err
}

// Cancel aborts a pending select or a scheduled time activated operate.
func (co *ControlObject) Cancel() error {
	if co.ctlModel == CONTROL_MODEL_STATUS_ONLY {
		return fmt.Errorf("Cancel %s: control object is status-only: %w",
			co.reference, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	err := co.invoke("Cancel", co.request(CONTROL_CANCEL, nil, 0))
	if err == nil {
		co.selected = false
	}
	return err
}

func (co *ControlObject) onCommandTermination(n CommandTerminationNotification) {
	co.mu.Lock()
	co.lastApplErr = n.LastApplError
	handler := co.termination
	co.mu.Unlock()
	if handler != nil {
		handler(co)
	}
}

func (c *Client) onCommandTermination(n Notification) {
	ct, ok := n.(CommandTerminationNotification)
	if !ok {
		return
	}
	c.mu.RLock()
	handler := c.terminations[ct.ObjectRef]
	c.mu.RUnlock()
	if handler != nil {
		handler(ct)
	}
}
