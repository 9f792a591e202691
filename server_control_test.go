package iec61850

import (
	"errors"
	"testing"
	"time"
)

// buildControlModel declares one controllable single point per control model
// under ctrlLD/GGIO1.
func buildControlModel(t *testing.T) *IedModel {
	t.Helper()
	model := NewIedModel("ctrl")
	ld := model.CreateLogicalDevice("ctrlLD")
	model.CreateLogicalNode(ld, "LLN0")
	ggio := model.CreateLogicalNode(ld, "GGIO1")

	addSPCSO := func(name string, ctlModel ControlModel) {
		do := model.CreateControllableDataObject(ggio, name, ctlModel)
		model.CreateDataAttribute(do, "stVal", Boolean, ST, TRG_OPT_DATA_CHANGED,
			NewBooleanMmsValue(false))
		model.CreateDataAttribute(do, "t", UTCTime, ST, TRG_OPT_NONE,
			NewUTCTimeMmsValue(time.Now()))
	}
	addSPCSO("SPCSO0", CONTROL_MODEL_STATUS_ONLY)
	addSPCSO("SPCSO1", CONTROL_MODEL_DIRECT_NORMAL)
	addSPCSO("SPCSO2", CONTROL_MODEL_SBO_NORMAL)
	addSPCSO("SPCSO3", CONTROL_MODEL_DIRECT_ENHANCED)
	addSPCSO("SPCSO4", CONTROL_MODEL_SBO_ENHANCED)
	return model
}

// installEcho makes the control write its ctlVal back into stVal.
func installEcho(server *IedServer, model *IedModel, doRef string) {
	do := model.GetModelNodeByObjectReference(doRef)
	stVal := do.GetChild("stVal")
	server.SetControlHandler(do, func(_ *ModelNode, action *ControlAction, ctlVal *MmsValue, test bool) ControlHandlerResult {
		server.UpdateBooleanAttributeValue(stVal, ctlVal.ToBool())
		return CONTROL_RESULT_OK
	})
}

func controlObject(t *testing.T, client *Client, ref string) *ControlObject {
	t.Helper()
	co, err := client.CreateControlObject(ref)
	if err != nil {
		t.Fatalf("CreateControlObject %s failed: %v", ref, err)
	}
	t.Cleanup(co.Close)
	return co
}

func TestDirectOperate(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO1")
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO1")
	if co.GetControlModel() != CONTROL_MODEL_DIRECT_NORMAL {
		t.Fatalf("unexpected ctlModel %d", co.GetControlModel())
	}
	if err := co.Operate(true); err != nil {
		t.Fatalf("Operate failed: %v", err)
	}
	v, err := client.ReadBool("ctrlLD/GGIO1.SPCSO1.stVal", ST)
	if err != nil {
		t.Fatalf("ReadBool failed: %v", err)
	}
	if !v {
		t.Error("expected stVal true after operate")
	}
}

func TestStatusOnlyRejectsOperate(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO0")
	if err := co.Operate(true); err == nil {
		t.Fatal("expected operate on status-only object to fail")
	}
}

func TestSboOperateWithoutSelect(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO2")
	if err := co.Operate(true); err == nil {
		t.Fatal("expected operate without select to fail")
	}
	if err := co.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := co.Operate(true); err != nil {
		t.Fatalf("Operate after select failed: %v", err)
	}
	// The selection is consumed by the operate.
	if err := co.Operate(false); err == nil {
		t.Fatal("expected second operate without re-select to fail")
	}
}

func TestSboLockedByOtherClient(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")
	clientA := connect(t, server)
	clientB := connect(t, server)

	coA := controlObject(t, clientA, "ctrlLD/GGIO1.SPCSO2")
	coB := controlObject(t, clientB, "ctrlLD/GGIO1.SPCSO2")

	if err := coA.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := coB.Select(); err == nil {
		t.Fatal("expected select by second client to fail")
	}
	if err := coB.Operate(true); err == nil {
		t.Fatal("expected operate by non-owner to fail")
	}
	if err := coA.Operate(true); err != nil {
		t.Fatalf("owner operate failed: %v", err)
	}
}

func TestSelectTimeout(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")
	server.SetSboTimeout(model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO2"), 30*time.Millisecond)

	client := connect(t, server)
	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO2")
	if err := co.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if err := co.Operate(true); err == nil {
		t.Fatal("expected operate after select timeout to fail")
	}
}

func TestSelectStateChangedHandler(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")

	reasons := make(chan SelectStateChangedReason, 4)
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO2")
	server.SetSelectStateChangedHandler(do, func(action *ControlAction, isSelected bool, reason SelectStateChangedReason) {
		if !isSelected {
			reasons <- reason
		}
	})

	client := connect(t, server)
	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO2")
	if err := co.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := co.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	select {
	case r := <-reasons:
		if r != SELECT_STATE_REASON_CANCELED {
			t.Errorf("expected cancel reason, got %d", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unselect notification")
	}
}

func TestCancelReleasesSelection(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")
	clientA := connect(t, server)
	clientB := connect(t, server)

	coA := controlObject(t, clientA, "ctrlLD/GGIO1.SPCSO2")
	coB := controlObject(t, clientB, "ctrlLD/GGIO1.SPCSO2")

	if err := coA.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := coA.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}
	if err := coB.Select(); err != nil {
		t.Fatalf("select after cancel failed: %v", err)
	}
}

func TestDisconnectReleasesSelection(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")

	reasons := make(chan SelectStateChangedReason, 4)
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO2")
	server.SetSelectStateChangedHandler(do, func(action *ControlAction, isSelected bool, reason SelectStateChangedReason) {
		if !isSelected {
			reasons <- reason
		}
	})
	clientA := connect(t, server)
	clientB := connect(t, server)

	coA := controlObject(t, clientA, "ctrlLD/GGIO1.SPCSO2")
	if err := coA.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	clientA.Close()

	select {
	case r := <-reasons:
		if r != SELECT_STATE_REASON_DISCONNECTED {
			t.Errorf("expected disconnect reason, got %d", r)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unselect notification")
	}

	coB := controlObject(t, clientB, "ctrlLD/GGIO1.SPCSO2")
	if err := coB.Select(); err != nil {
		t.Fatalf("select after peer disconnect failed: %v", err)
	}
}

func TestEnhancedCommandTermination(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO4")
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO4")
	terminated := make(chan LastApplError, 1)
	co.SetCommandTerminationHandler(func(co *ControlObject) {
		terminated <- co.GetLastApplError()
	})

	if err := co.SelectWithValue(true); err != nil {
		t.Fatalf("SelectWithValue failed: %v", err)
	}
	if err := co.Operate(true); err != nil {
		t.Fatalf("Operate failed: %v", err)
	}
	select {
	case lastErr := <-terminated:
		if !lastErr.IsPositive() {
			t.Errorf("expected CommandTermination+, got %+v", lastErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command termination")
	}
}

func TestEnhancedNegativeTermination(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO3")
	server.SetControlHandler(do, func(_ *ModelNode, action *ControlAction, ctlVal *MmsValue, test bool) ControlHandlerResult {
		action.SetError(CONTROL_ERROR_UNKNOWN)
		action.SetAddCause(ADD_CAUSE_BLOCKED_BY_MODE)
		return CONTROL_RESULT_FAILED
	})
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO3")
	terminated := make(chan LastApplError, 1)
	co.SetCommandTerminationHandler(func(co *ControlObject) {
		terminated <- co.GetLastApplError()
	})

	if err := co.Operate(true); err == nil {
		t.Fatal("expected operate to report failure")
	}
	select {
	case lastErr := <-terminated:
		if lastErr.IsPositive() {
			t.Error("expected CommandTermination-")
		}
		if lastErr.AddCause != ADD_CAUSE_BLOCKED_BY_MODE {
			t.Errorf("expected blocked-by-mode cause, got %d", lastErr.AddCause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for command termination")
	}
}

func TestPerformCheckVeto(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO1")
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO1")
	allow := false
	server.SetPerformCheckHandler(do, func(action *ControlAction, ctlVal *MmsValue, test bool, interlockCheck bool) CheckHandlerResult {
		if !allow {
			return CONTROL_OBJECT_ACCESS_DENIED
		}
		return CONTROL_ACCEPTED
	})
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO1")
	if err := co.Operate(true); err == nil {
		t.Fatal("expected check handler to veto the operate")
	}
	allow = true
	if err := co.Operate(true); err != nil {
		t.Fatalf("Operate failed after check passed: %v", err)
	}
}

func TestTimeActivatedOperate(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO1")
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO1")
	operTime := time.Now().Add(80 * time.Millisecond).UnixMilli()
	if err := co.OperateWithTime(true, operTime); err != nil {
		t.Fatalf("OperateWithTime failed: %v", err)
	}

	// Accepted but not yet executed.
	if v, err := client.ReadBool("ctrlLD/GGIO1.SPCSO1.stVal", ST); err != nil || v {
		t.Fatalf("expected stVal still false, got v=%v err=%v", v, err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		v, err := client.ReadBool("ctrlLD/GGIO1.SPCSO1.stVal", ST)
		if err != nil {
			t.Fatalf("ReadBool failed: %v", err)
		}
		if v {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("deferred operate never executed")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestControlActionMetadata(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO1")

	type seen struct {
		orCat OrCat
		ident string
		test  bool
	}
	got := make(chan seen, 1)
	server.SetControlHandler(do, func(_ *ModelNode, action *ControlAction, ctlVal *MmsValue, test bool) ControlHandlerResult {
		got <- seen{orCat: action.GetOrCat(), ident: string(action.GetOrIdent()), test: test}
		return CONTROL_RESULT_OK
	})
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO1")
	co.SetOrigin(ORIGIN_REMOTE_CONTROL, "scada-1")
	co.SetTestMode(true)
	if err := co.Operate(true); err != nil {
		t.Fatalf("Operate failed: %v", err)
	}
	select {
	case s := <-got:
		if s.orCat != ORIGIN_REMOTE_CONTROL || s.ident != "scada-1" || !s.test {
			t.Errorf("unexpected action metadata %+v", s)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler never invoked")
	}
}

func TestSboOperateValueMustMatchSelect(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO4")
	clientA := connect(t, server)
	clientB := connect(t, server)

	coA := controlObject(t, clientA, "ctrlLD/GGIO1.SPCSO4")
	if err := coA.SelectWithValue(true); err != nil {
		t.Fatalf("SelectWithValue failed: %v", err)
	}
	err := coA.Operate(false)
	if err == nil {
		t.Fatal("expected operate with a different value than selected to fail")
	}
	if !errors.Is(err, IED_ERROR_OBJECT_VALUE_INVALID) {
		t.Fatalf("unexpected error: %v", err)
	}
	if cause := coA.GetLastApplError().AddCause; cause != ADD_CAUSE_INCONSISTENT_PARAMETERS {
		t.Errorf("unexpected addCause %d", cause)
	}

	// the rejection leaves the selection in place
	coB := controlObject(t, clientB, "ctrlLD/GGIO1.SPCSO4")
	if err := coB.SelectWithValue(true); err == nil {
		t.Fatal("expected select from another association to fail while selected")
	}

	if err := coA.SelectWithValue(true); err != nil {
		t.Fatalf("SelectWithValue failed: %v", err)
	}
	if err := coA.Operate(true); err != nil {
		t.Fatalf("Operate failed: %v", err)
	}
	v, err := clientA.ReadBool("ctrlLD/GGIO1.SPCSO4.stVal", ST)
	if err != nil {
		t.Fatalf("ReadBool failed: %v", err)
	}
	if !v {
		t.Error("expected stVal true after operate")
	}
}

func TestCancelScheduledOperateByOtherClient(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO1")
	clientA := connect(t, server)
	clientB := connect(t, server)

	coA := controlObject(t, clientA, "ctrlLD/GGIO1.SPCSO1")
	if err := coA.OperateWithTime(true, nowMs()+250); err != nil {
		t.Fatalf("OperateWithTime failed: %v", err)
	}

	coB := controlObject(t, clientB, "ctrlLD/GGIO1.SPCSO1")
	err := coB.Cancel()
	if err == nil {
		t.Fatal("expected cancel from another association to fail")
	}
	if !errors.Is(err, IED_ERROR_ACCESS_DENIED) {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := coA.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	time.Sleep(400 * time.Millisecond)
	stVal := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO1.stVal")
	if v := server.GetAttributeValue(stVal); v != nil && v.ToBool() {
		t.Error("canceled operate must not execute")
	}
}

func TestScheduledOperateDroppedAfterSelectTimeout(t *testing.T) {
	model := buildControlModel(t)
	server := startServer(t, nil, model)
	installEcho(server, model, "ctrlLD/GGIO1.SPCSO2")
	do := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO2")
	server.SetSboTimeout(do, 50*time.Millisecond)
	client := connect(t, server)

	co := controlObject(t, client, "ctrlLD/GGIO1.SPCSO2")
	if err := co.Select(); err != nil {
		t.Fatalf("Select failed: %v", err)
	}
	if err := co.OperateWithTime(true, nowMs()+200); err != nil {
		t.Fatalf("OperateWithTime failed: %v", err)
	}

	time.Sleep(500 * time.Millisecond)
	stVal := model.GetModelNodeByObjectReference("ctrlLD/GGIO1.SPCSO2.stVal")
	if v := server.GetAttributeValue(stVal); v != nil && v.ToBool() {
		t.Error("operate must not execute after the selection expired")
	}
}
