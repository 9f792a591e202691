package iec61850

import (
	"time"
)

// ControlHandler executes a control command on a data object. It runs with
// the data model locked, so the handler may call the Update* methods
// directly. Return CONTROL_RESULT_WAITING to be called again until the
// execution settles.
type ControlHandler func(node *ModelNode, action *ControlAction, ctlVal *MmsValue, test bool) ControlHandlerResult

// ControlPerformCheckHandler vets a select or operate request before
// execution.
type ControlPerformCheckHandler func(action *ControlAction, ctlVal *MmsValue, test bool, interlockCheck bool) CheckHandlerResult

// ControlWaitForExecutionHandler gates the moment of execution, e.g. for a
// synchrocheck. It is polled while it returns CONTROL_RESULT_WAITING; the
// server lock is dropped between polls.
type ControlWaitForExecutionHandler func(action *ControlAction, ctlVal *MmsValue, test bool, synchroCheck bool) ControlHandlerResult

// ControlSelectStateChangedHandler observes select state transitions of a
// control object.
type ControlSelectStateChangedHandler func(action *ControlAction, isSelected bool, reason SelectStateChangedReason)

// ControlAction describes one control request as seen by the server side
// handlers.
type ControlAction struct {
	pipeline *controlPipeline
	conn     *ClientConnection

	origin   Origin
	ctlNum   uint8
	isSelect bool
	test     bool

	interlockCheck bool
	synchroCheck   bool

	ctlTime int64 // time activated control, 0 for immediate
	t       int64

	applErr  ControlLastApplError
	addCause ControlAddCause
}

// SetError sets the error class reported in a negative response or
// CommandTermination.
func (a *ControlAction) SetError(e ControlLastApplError) { a.applErr = e }

// SetAddCause sets the additional cause reported in a negative response or
// CommandTermination.
func (a *ControlAction) SetAddCause(c ControlAddCause) { a.addCause = c }

// GetOrCat returns the originator category of the request.
func (a *ControlAction) GetOrCat() OrCat { return a.origin.Category }

// GetOrIdent returns the originator identifier of the request.
func (a *ControlAction) GetOrIdent() []byte { return a.origin.Ident }

// GetCtlNum returns the control sequence number of the request.
func (a *ControlAction) GetCtlNum() uint8 { return a.ctlNum }

// IsSelect reports whether the action belongs to a select rather than an
// operate.
func (a *ControlAction) IsSelect() bool { return a.isSelect }

// GetClientConnection returns the association the request came in on, or nil
// for a time activated execution after the client disconnected.
func (a *ControlAction) GetClientConnection() *ClientConnection { return a.conn }

// GetControlTime returns the requested execution time (ms since epoch) of a
// time activated control, or 0.
func (a *ControlAction) GetControlTime() int64 { return a.ctlTime }

// GetT returns the timestamp of the control request.
func (a *ControlAction) GetT() int64 { return a.t }

// GetInterlockCheck reports whether the client asked for an interlock check.
func (a *ControlAction) GetInterlockCheck() bool { return a.interlockCheck }

// GetSynchroCheck reports whether the client asked for a synchrocheck.
func (a *ControlAction) GetSynchroCheck() bool { return a.synchroCheck }

type controlState int

const (
	ctlStateIdle controlState = iota
	ctlStateSelected
	ctlStateExecuting
)

const defaultSboTimeout = 30 * time.Second

// executionPollInterval is the re-poll period for handlers that return
// CONTROL_RESULT_WAITING.
const executionPollInterval = 10 * time.Millisecond

// executionTimeLimit bounds how long an operate may stay in the waiting
// state before it fails with ADD_CAUSE_TIME_LIMIT_OVER.
const executionTimeLimit = 30 * time.Second

// controlPipeline is the per data object control state machine: idle,
// selected (SBO models) or executing.
type controlPipeline struct {
	server *IedServer
	node   *ModelNode
	ref    string

	sboTimeout time.Duration

	state          controlState
	selectedBy     ClientID
	selectDeadline time.Time
	selectValue    *MmsValue
	selectTimer    *time.Timer

	pendingOperate *time.Timer // time activated control
	pendingBy      ClientID

	handler       ControlHandler
	checkHandler  ControlPerformCheckHandler
	waitHandler   ControlWaitForExecutionHandler
	selectChanged ControlSelectStateChangedHandler
}

func newControlPipeline(s *IedServer, node *ModelNode) *controlPipeline {
	return &controlPipeline{
		server:     s,
		node:       node,
		ref:        node.GetObjectReference(),
		sboTimeout: defaultSboTimeout,
	}
}

// SetControlHandler installs the execution callback for a controllable data
// object.
func (s *IedServer) SetControlHandler(node *ModelNode, handler ControlHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp := s.controls[node.GetObjectReference()]; cp != nil {
		cp.handler = handler
	}
}

// SetPerformCheckHandler installs the pre-execution check callback.
func (s *IedServer) SetPerformCheckHandler(node *ModelNode, handler ControlPerformCheckHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp := s.controls[node.GetObjectReference()]; cp != nil {
		cp.checkHandler = handler
	}
}

// SetWaitForExecutionHandler installs the execution gate callback.
func (s *IedServer) SetWaitForExecutionHandler(node *ModelNode, handler ControlWaitForExecutionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp := s.controls[node.GetObjectReference()]; cp != nil {
		cp.waitHandler = handler
	}
}

// SetSelectStateChangedHandler installs the select state observer.
func (s *IedServer) SetSelectStateChangedHandler(node *ModelNode, handler ControlSelectStateChangedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp := s.controls[node.GetObjectReference()]; cp != nil {
		cp.selectChanged = handler
	}
}

// SetSboTimeout overrides the select timeout of one control object.
func (s *IedServer) SetSboTimeout(node *ModelNode, timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp := s.controls[node.GetObjectReference()]; cp != nil {
		cp.sboTimeout = timeout
	}
}

func (s *IedServer) handleControl(conn *ClientConnection, cr ControlRequest) (ServiceResponse, error) {
	s.mu.Lock()
	cp := s.controls[normalizeRef(cr.Ref)]
	if cp == nil {
		s.mu.Unlock()
		if s.model.GetModelNodeByObjectReference(normalizeRef(cr.Ref)) == nil {
			return ControlResponse{Error: IED_ERROR_OBJECT_DOES_NOT_EXIST, AddCause: ADD_CAUSE_UNKNOWN}, nil
		}
		return ControlResponse{Error: IED_ERROR_OBJECT_ACCESS_UNSUPPORTED, AddCause: ADD_CAUSE_NOT_SUPPORTED}, nil
	}
	s.beginBatchLocked()
	resp := cp.handleRequest(conn, cr)
	s.commitBatchLocked()
	s.mu.Unlock()
	return resp, nil
}

// ctlModel reads the live control model from the ctlModel attribute.
func (cp *controlPipeline) ctlModel() ControlModel {
	if da := cp.node.GetChild("ctlModel"); da != nil && da.value != nil {
		return ControlModel(da.value.ToInt())
	}
	return cp.node.ctlModel
}

func (cp *controlPipeline) action(conn *ClientConnection, cr ControlRequest, isSelect bool) *ControlAction {
	return &ControlAction{
		pipeline:       cp,
		conn:           conn,
		origin:         cr.Origin,
		ctlNum:         cr.CtlNum,
		isSelect:       isSelect,
		test:           cr.Test,
		interlockCheck: cr.InterlockCheck,
		synchroCheck:   cr.SynchroCheck,
		ctlTime:        cr.OperTime,
		t:              cr.T,
	}
}

func (cp *controlPipeline) handleRequest(conn *ClientConnection, cr ControlRequest) ControlResponse {
	model := cp.ctlModel()
	if model == CONTROL_MODEL_STATUS_ONLY {
		return ControlResponse{Error: IED_ERROR_OBJECT_ACCESS_UNSUPPORTED, AddCause: ADD_CAUSE_NOT_SUPPORTED}
	}
	switch cr.Kind {
	case CONTROL_SELECT:
		if model != CONTROL_MODEL_SBO_NORMAL {
			return ControlResponse{Error: IED_ERROR_OBJECT_ACCESS_UNSUPPORTED, AddCause: ADD_CAUSE_NOT_SUPPORTED}
		}
		return cp.handleSelect(conn, cr, nil)
	case CONTROL_SELECT_WITH_VALUE:
		if model != CONTROL_MODEL_SBO_ENHANCED {
			return ControlResponse{Error: IED_ERROR_OBJECT_ACCESS_UNSUPPORTED, AddCause: ADD_CAUSE_NOT_SUPPORTED}
		}
		return cp.handleSelect(conn, cr, cr.CtlVal)
	case CONTROL_OPERATE:
		return cp.handleOperate(conn, cr, model)
	case CONTROL_CANCEL:
		return cp.handleCancel(conn, cr, model)
	}
	return ControlResponse{Error: IED_ERROR_SERVICE_NOT_IMPLEMENTED, AddCause: ADD_CAUSE_NOT_SUPPORTED}
}

func (cp *controlPipeline) handleSelect(conn *ClientConnection, cr ControlRequest, ctlVal *MmsValue) ControlResponse {
	cp.expireSelectLocked()
	if cp.state != ctlStateIdle {
		if cp.state == ctlStateSelected && cp.selectedBy != conn.id {
			return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_LOCKED_BY_OTHER_CLIENT}
		}
		if cp.state == ctlStateExecuting {
			return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION}
		}
	}

	action := cp.action(conn, cr, true)
	if cp.checkHandler != nil {
		if res := cp.checkHandler(action, ctlVal, cr.Test, cr.InterlockCheck); res != CONTROL_ACCEPTED {
			resp := checkResultToResponse(res)
			if resp.AddCause == ADD_CAUSE_UNKNOWN {
				resp.AddCause = ADD_CAUSE_SELECT_FAILED
			}
			return resp
		}
	}

	cp.state = ctlStateSelected
	cp.selectedBy = conn.id
	cp.selectDeadline = time.Now().Add(cp.sboTimeout)
	cp.selectValue = ctlVal.Clone()
	if cp.selectTimer != nil {
		cp.selectTimer.Stop()
	}
	cp.selectTimer = time.AfterFunc(cp.sboTimeout, cp.onSelectTimeout)
	if cp.selectChanged != nil {
		cp.selectChanged(action, true, SELECT_STATE_REASON_SELECTED)
	}
	cp.server.log.Debugw("control selected", "ref", cp.ref, "client", conn.id)
	return ControlResponse{Success: true}
}

func (cp *controlPipeline) handleOperate(conn *ClientConnection, cr ControlRequest, model ControlModel) ControlResponse {
	cp.expireSelectLocked()
	if model.IsSbo() {
		if cp.state != ctlStateSelected {
			return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_OBJECT_NOT_SELECTED}
		}
		if cp.selectedBy != conn.id {
			return ControlResponse{Error: IED_ERROR_ACCESS_DENIED, AddCause: ADD_CAUSE_LOCKED_BY_OTHER_CLIENT}
		}
		// A SelectWithValue pins the control value; the operate must match it.
		if cp.selectValue != nil && (cr.CtlVal == nil || !cp.selectValue.Equal(cr.CtlVal)) {
			return ControlResponse{Error: IED_ERROR_OBJECT_VALUE_INVALID, AddCause: ADD_CAUSE_INCONSISTENT_PARAMETERS}
		}
	} else if cp.state == ctlStateExecuting {
		return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION}
	}

	action := cp.action(conn, cr, false)
	if cp.checkHandler != nil {
		if res := cp.checkHandler(action, cr.CtlVal, cr.Test, cr.InterlockCheck); res != CONTROL_ACCEPTED {
			cp.operateDone(action, model, false)
			return checkResultToResponse(res)
		}
	}

	// Time activated control: accept now, execute at operTime.
	if cr.OperTime > 0 && cr.OperTime > nowMs() {
		delay := time.Duration(cr.OperTime-nowMs()) * time.Millisecond
		cp.pendingOperate = time.AfterFunc(delay, func() {
			cp.executeDeferred(conn, cr, model)
		})
		cp.pendingBy = conn.id
		cp.server.log.Debugw("operate scheduled", "ref", cp.ref, "delay", delay)
		return ControlResponse{Success: true}
	}

	return cp.execute(action, cr, model)
}

// execute runs the wait-for-execution gate and the control handler. The
// caller holds the server lock with an open trigger batch.
func (cp *controlPipeline) execute(action *ControlAction, cr ControlRequest, model ControlModel) ControlResponse {
	cp.state = ctlStateExecuting
	deadline := time.Now().Add(executionTimeLimit)

	if cp.waitHandler != nil {
		for {
			res := cp.waitHandler(action, cr.CtlVal, cr.Test, cr.SynchroCheck)
			if res == CONTROL_RESULT_OK {
				break
			}
			if res == CONTROL_RESULT_FAILED {
				cp.operateDone(action, model, false)
				return cp.negativeResponse(action)
			}
			if time.Now().After(deadline) {
				action.SetAddCause(ADD_CAUSE_TIME_LIMIT_OVER)
				cp.operateDone(action, model, false)
				return cp.negativeResponse(action)
			}
			cp.pollWait()
		}
	}

	result := CONTROL_RESULT_OK
	if cp.handler != nil {
		for {
			result = cp.handler(cp.node, action, cr.CtlVal, cr.Test)
			if result != CONTROL_RESULT_WAITING {
				break
			}
			if time.Now().After(deadline) {
				action.SetAddCause(ADD_CAUSE_TIME_LIMIT_OVER)
				result = CONTROL_RESULT_FAILED
				break
			}
			cp.pollWait()
		}
	}

	ok := result == CONTROL_RESULT_OK
	cp.operateDone(action, model, ok)
	if !ok {
		return cp.negativeResponse(action)
	}
	return ControlResponse{Success: true}
}

// pollWait drops the server lock for one poll interval so data model access
// keeps flowing while a handler is waiting.
func (cp *controlPipeline) pollWait() {
	s := cp.server
	s.commitBatchLocked()
	s.mu.Unlock()
	time.Sleep(executionPollInterval)
	s.mu.Lock()
	s.beginBatchLocked()
}

// executeDeferred runs a time activated operate when its timer fires.
func (cp *controlPipeline) executeDeferred(conn *ClientConnection, cr ControlRequest, model ControlModel) {
	s := cp.server
	s.mu.Lock()
	cp.pendingOperate = nil
	cp.pendingBy = 0
	requester := conn.id
	if _, ok := s.connections[conn.id]; !ok {
		conn = nil
	}
	if model.IsSbo() {
		// The select lease may have run out while the operate was pending.
		cp.expireSelectLocked()
		if cp.state != ctlStateSelected || cp.selectedBy != requester {
			if model.IsEnhanced() && conn != nil {
				conn.notify(CommandTerminationNotification{ObjectRef: cp.ref, LastApplError: LastApplError{
					CtlNum:   cr.CtlNum,
					Error:    CONTROL_ERROR_UNKNOWN,
					AddCause: ADD_CAUSE_OBJECT_NOT_SELECTED,
				}})
			}
			s.mu.Unlock()
			s.log.Infow("time activated operate dropped, selection lost", "ref", cp.ref)
			return
		}
	}
	action := cp.action(conn, cr, false)
	action.ctlTime = 0
	s.beginBatchLocked()
	resp := cp.execute(action, cr, model)
	s.commitBatchLocked()
	s.mu.Unlock()
	if !resp.Success {
		cp.server.log.Infow("time activated operate failed", "ref", cp.ref, "addCause", resp.AddCause)
	}
}

// operateDone settles the select state and emits the CommandTermination for
// enhanced models.
func (cp *controlPipeline) operateDone(action *ControlAction, model ControlModel, ok bool) {
	cp.state = ctlStateIdle
	if model.IsSbo() {
		reason := SELECT_STATE_REASON_OPERATED
		if !ok {
			reason = SELECT_STATE_REASON_OPERATE_FAILED
		}
		cp.unselectLocked(action, reason)
	}
	if !model.IsEnhanced() {
		return
	}
	lastErr := LastApplError{CtlNum: action.ctlNum}
	if !ok {
		lastErr.Error = action.applErr
		if lastErr.Error == CONTROL_ERROR_NO_ERROR {
			lastErr.Error = CONTROL_ERROR_UNKNOWN
		}
		lastErr.AddCause = action.addCause
		if lastErr.AddCause == ADD_CAUSE_UNKNOWN {
			lastErr.AddCause = ADD_CAUSE_BLOCKED_BY_PROCESS
		}
	}
	if action.conn != nil {
		action.conn.notify(CommandTerminationNotification{ObjectRef: cp.ref, LastApplError: lastErr})
	}
}

func (cp *controlPipeline) negativeResponse(action *ControlAction) ControlResponse {
	addCause := action.addCause
	if addCause == ADD_CAUSE_UNKNOWN {
		addCause = ADD_CAUSE_BLOCKED_BY_PROCESS
	}
	return ControlResponse{Error: IED_ERROR_OBJECT_VALUE_INVALID, AddCause: addCause}
}

func (cp *controlPipeline) handleCancel(conn *ClientConnection, cr ControlRequest, model ControlModel) ControlResponse {
	if cp.pendingOperate != nil {
		if cp.pendingBy != conn.id {
			return ControlResponse{Error: IED_ERROR_ACCESS_DENIED, AddCause: ADD_CAUSE_LOCKED_BY_OTHER_CLIENT}
		}
		cp.pendingOperate.Stop()
		cp.pendingOperate = nil
		cp.pendingBy = 0
		if model.IsEnhanced() {
			conn.notify(CommandTerminationNotification{ObjectRef: cp.ref, LastApplError: LastApplError{
				CtlNum:   cr.CtlNum,
				Error:    CONTROL_ERROR_NO_ERROR,
				AddCause: ADD_CAUSE_ABORTION_BY_CANCEL,
			}})
		}
		return ControlResponse{Success: true}
	}
	if model.IsSbo() {
		cp.expireSelectLocked()
		if cp.state != ctlStateSelected {
			return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_OBJECT_NOT_SELECTED}
		}
		if cp.selectedBy != conn.id {
			return ControlResponse{Error: IED_ERROR_ACCESS_DENIED, AddCause: ADD_CAUSE_LOCKED_BY_OTHER_CLIENT}
		}
		cp.unselectLocked(cp.action(conn, cr, false), SELECT_STATE_REASON_CANCELED)
		return ControlResponse{Success: true}
	}
	return ControlResponse{Success: true}
}

// expireSelectLocked clears a selection whose deadline has passed without
// waiting for the timer callback.
func (cp *controlPipeline) expireSelectLocked() {
	if cp.state == ctlStateSelected && time.Now().After(cp.selectDeadline) {
		cp.unselectLocked(nil, SELECT_STATE_REASON_TIMEOUT)
	}
}

func (cp *controlPipeline) unselectLocked(action *ControlAction, reason SelectStateChangedReason) {
	if cp.state == ctlStateSelected {
		cp.state = ctlStateIdle
	}
	cp.selectedBy = 0
	cp.selectValue = nil
	if cp.selectTimer != nil {
		cp.selectTimer.Stop()
		cp.selectTimer = nil
	}
	if cp.selectChanged != nil {
		cp.selectChanged(action, false, reason)
	}
}

func (cp *controlPipeline) onSelectTimeout() {
	s := cp.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if cp.state == ctlStateSelected && !time.Now().Before(cp.selectDeadline) {
		cp.unselectLocked(nil, SELECT_STATE_REASON_TIMEOUT)
		s.log.Debugw("select timed out", "ref", cp.ref)
	}
}

// onDisconnect releases state held by a closing association.
func (cp *controlPipeline) onDisconnect(id ClientID) {
	if cp.state == ctlStateSelected && cp.selectedBy == id {
		cp.unselectLocked(nil, SELECT_STATE_REASON_DISCONNECTED)
	}
}

func checkResultToResponse(res CheckHandlerResult) ControlResponse {
	switch res {
	case CONTROL_HARDWARE_FAULT:
		return ControlResponse{Error: IED_ERROR_HARDWARE_FAULT, AddCause: ADD_CAUSE_BLOCKED_BY_HEALTH}
	case CONTROL_TEMPORARILY_UNAVAILABLE, CONTROL_WAITING_FOR_SELECT:
		return ControlResponse{Error: IED_ERROR_TEMPORARILY_UNAVAILABLE, AddCause: ADD_CAUSE_COMMAND_ALREADY_IN_EXECUTION}
	case CONTROL_OBJECT_ACCESS_DENIED:
		return ControlResponse{Error: IED_ERROR_ACCESS_DENIED, AddCause: ADD_CAUSE_NO_ACCESS_AUTHORITY}
	case CONTROL_OBJECT_UNDEFINED:
		return ControlResponse{Error: IED_ERROR_OBJECT_UNDEFINED, AddCause: ADD_CAUSE_UNKNOWN}
	case CONTROL_VALUE_INVALID:
		return ControlResponse{Error: IED_ERROR_OBJECT_VALUE_INVALID, AddCause: ADD_CAUSE_INVALID_POSITION}
	}
	return ControlResponse{Error: IED_ERROR_UNKNOWN, AddCause: ADD_CAUSE_UNKNOWN}
}
