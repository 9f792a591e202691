package iec61850

import (
	"bytes"
	"testing"
	"time"
)

const (
	urcbRef = "testLD/LLN0.RP.urcb01"
	brcbRef = "testLD/LLN0.BR.brcb01"
)

// subscribe installs a report handler feeding a buffered channel.
func subscribe(t *testing.T, client *Client, rcbRef string) chan ClientReport {
	t.Helper()
	reports := make(chan ClientReport, 16)
	if err := client.InstallReportHandler(rcbRef, "", func(report ClientReport) {
		reports <- report
	}); err != nil {
		t.Fatalf("InstallReportHandler failed: %v", err)
	}
	return reports
}

func waitReport(t *testing.T, reports chan ClientReport) ClientReport {
	t.Helper()
	select {
	case r := <-reports:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for report")
		return ClientReport{}
	}
}

func expectNoReport(t *testing.T, reports chan ClientReport, wait time.Duration) {
	t.Helper()
	select {
	case r := <-reports:
		t.Fatalf("unexpected report %q", r.GetRptId())
	case <-time.After(wait):
	}
}

// setInd toggles one of the Events data set members.
func setInd(server *IedServer, model *IedModel, name string, v bool) {
	node := model.GetModelNodeByObjectReference("testLD/GGIO1." + name + ".stVal")
	server.LockDataModel()
	server.UpdateBooleanAttributeValue(node, v)
	server.UnlockDataModel()
}

func TestUrcbDataChangeReport(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetOptFlds(urcbRef, OptFlds{
		SequenceNumber: true, TimeOfEntry: true, ReasonForInclusion: true, DataSetName: true,
	}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	setInd(server, model, "Ind2", true)

	report := waitReport(t, reports)
	if report.GetRptId() != "events01" {
		t.Errorf("unexpected rptID %q", report.GetRptId())
	}
	if !report.HasSeqNum() {
		t.Error("expected sequence number")
	}
	if !report.HasDataSetName() || report.GetDataSetName() != "testLD/LLN0.Events" {
		t.Errorf("unexpected data set name %q", report.GetDataSetName())
	}
	if report.GetReasonForInclusion(1) != IEC61850_REASON_DATA_CHANGE {
		t.Errorf("expected data-change reason for Ind2, got %v", report.GetReasonForInclusion(1))
	}
	if report.GetReasonForInclusion(0) != IEC61850_REASON_NOT_INCLUDED {
		t.Errorf("expected Ind1 excluded, got %v", report.GetReasonForInclusion(0))
	}
	v, err := report.GetElement(1)
	if err != nil {
		t.Fatalf("GetElement failed: %v", err)
	}
	if !v.ToBool() {
		t.Error("expected reported value true")
	}
}

func TestUrcbDisabledReportsNothing(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	setInd(server, model, "Ind1", true)
	expectNoReport(t, reports, 150*time.Millisecond)
}

func TestBatchedChangesProduceOneReport(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetOptFlds(urcbRef, OptFlds{ReasonForInclusion: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	ind1 := model.GetModelNodeByObjectReference("testLD/GGIO1.Ind1.stVal")
	ind3 := model.GetModelNodeByObjectReference("testLD/GGIO1.Ind3.stVal")
	server.LockDataModel()
	server.UpdateBooleanAttributeValue(ind1, true)
	server.UpdateBooleanAttributeValue(ind3, true)
	server.UnlockDataModel()

	report := waitReport(t, reports)
	if report.GetReasonForInclusion(0) != IEC61850_REASON_DATA_CHANGE ||
		report.GetReasonForInclusion(2) != IEC61850_REASON_DATA_CHANGE {
		t.Error("expected both changed members in one report")
	}
	expectNoReport(t, reports, 150*time.Millisecond)
}

func TestGIReport(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetOptFlds(urcbRef, OptFlds{ReasonForInclusion: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	if err := client.TriggerGIReport(urcbRef); err != nil {
		t.Fatalf("TriggerGIReport failed: %v", err)
	}

	report := waitReport(t, reports)
	for i := 0; i < 4; i++ {
		if report.GetReasonForInclusion(i) != IEC61850_REASON_GI {
			t.Errorf("member %d: expected GI reason, got %v", i, report.GetReasonForInclusion(i))
		}
	}
}

func TestIntegrityReport(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetTrgOps(urcbRef, TrgOps{TriggeredPeriodically: true}); err != nil {
		t.Fatalf("SetTrgOps failed: %v", err)
	}
	if err := client.SetIntgPd(urcbRef, 50); err != nil {
		t.Fatalf("SetIntgPd failed: %v", err)
	}
	if err := client.SetOptFlds(urcbRef, OptFlds{ReasonForInclusion: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	report := waitReport(t, reports)
	if report.GetReasonForInclusion(0) != IEC61850_REASON_INTEGRITY {
		t.Errorf("expected integrity reason, got %v", report.GetReasonForInclusion(0))
	}
	// The timer keeps firing.
	waitReport(t, reports)
}

func TestConfigElementsLockedWhileEnabled(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	if err := client.SetIntgPd(urcbRef, 100); err == nil {
		t.Fatal("expected IntgPd write to be rejected while enabled")
	}
	if err := client.SetRptEna(urcbRef, false); err != nil {
		t.Fatalf("SetRptEna(false) failed: %v", err)
	}
	if err := client.SetIntgPd(urcbRef, 100); err != nil {
		t.Fatalf("SetIntgPd failed after disable: %v", err)
	}
}

func TestPartialWritePreservesOtherElements(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	if err := client.SetBufTm(urcbRef, 25); err != nil {
		t.Fatalf("SetBufTm failed: %v", err)
	}
	if err := client.SetTrgOps(urcbRef, TrgOps{DataChange: true}); err != nil {
		t.Fatalf("SetTrgOps failed: %v", err)
	}

	rcb, err := client.GetRCBValues(urcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if rcb.BufTm() != 25 {
		t.Errorf("BufTm clobbered, got %d", rcb.BufTm())
	}
	if !rcb.TrgOps().DataChange {
		t.Error("TrgOps clobbered")
	}
	if rcb.RptID() != "events01" {
		t.Errorf("RptID clobbered, got %q", rcb.RptID())
	}
}

func TestBufTmCoalescing(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetBufTm(urcbRef, 80); err != nil {
		t.Fatalf("SetBufTm failed: %v", err)
	}
	if err := client.SetOptFlds(urcbRef, OptFlds{ReasonForInclusion: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	setInd(server, model, "Ind1", true)
	setInd(server, model, "Ind2", true)

	report := waitReport(t, reports)
	if report.GetReasonForInclusion(0) != IEC61850_REASON_DATA_CHANGE ||
		report.GetReasonForInclusion(1) != IEC61850_REASON_DATA_CHANGE {
		t.Error("expected both changes coalesced into one report")
	}
	expectNoReport(t, reports, 150*time.Millisecond)
}

func TestSegmentedReportReassembly(t *testing.T) {
	cfg := NewServerConfig()
	cfg.ReportSegmentSize = 2
	model := buildIOModel(t)
	server := startServer(t, cfg, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	if err := client.SetOptFlds(urcbRef, OptFlds{
		SequenceNumber: true, ReasonForInclusion: true, Segmentation: true,
	}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	// A GI includes all four members, twice the segment size.
	if err := client.TriggerGIReport(urcbRef); err != nil {
		t.Fatalf("TriggerGIReport failed: %v", err)
	}

	report := waitReport(t, reports)
	for i := 0; i < 4; i++ {
		if report.GetReasonForInclusion(i) != IEC61850_REASON_GI {
			t.Errorf("member %d missing after reassembly", i)
		}
	}
	values, err := report.GetDataSetValues()
	if err != nil {
		t.Fatalf("GetDataSetValues failed: %v", err)
	}
	if len(values.Value.([]*MmsValue)) != 4 {
		t.Error("expected all members present in reassembled report")
	}
}

func TestBrcbBuffersWhileDisabled(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)

	// Events before any client connects must be retained.
	setInd(server, model, "Ind1", true)
	setInd(server, model, "Ind1", false)

	client := connect(t, server)
	reports := subscribe(t, client, brcbRef)

	if err := client.SetOptFlds(brcbRef, OptFlds{
		ReasonForInclusion: true, EntryID: true, BufferOverflow: true,
	}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(brcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	first := waitReport(t, reports)
	if len(first.GetEntryId()) == 0 {
		t.Error("expected entry ID on buffered report")
	}
	if first.HasBufOvfl() && first.GetBufOvfl() {
		t.Error("unexpected overflow indication")
	}
	second := waitReport(t, reports)
	v, err := second.GetElement(0)
	if err != nil {
		t.Fatalf("GetElement failed: %v", err)
	}
	if v.ToBool() {
		t.Error("expected second replayed event to carry false")
	}
}

func TestBrcbEntryIDResume(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, brcbRef)

	if err := client.SetOptFlds(brcbRef, OptFlds{EntryID: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(brcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	setInd(server, model, "Ind1", true)
	report := waitReport(t, reports)
	lastSeen := append([]byte(nil), report.GetEntryId()...)
	if len(lastSeen) == 0 {
		t.Fatal("expected entry ID")
	}

	if err := client.SetRptEna(brcbRef, false); err != nil {
		t.Fatalf("SetRptEna(false) failed: %v", err)
	}
	// Two events land in the buffer while reporting is off.
	setInd(server, model, "Ind2", true)
	setInd(server, model, "Ind3", true)

	rcb := NewClientReportControlBlock(brcbRef, true)
	if err := rcb.SetEntryID(lastSeen); err != nil {
		t.Fatalf("SetEntryID failed: %v", err)
	}
	rcb.SetRptEna(true)
	if err := client.SetRCBValues(brcbRef, rcb); err != nil {
		t.Fatalf("SetRCBValues failed: %v", err)
	}

	first := waitReport(t, reports)
	if bytes.Equal(first.GetEntryId(), lastSeen) {
		t.Error("resume must start after the given entry")
	}
	if v, err := first.GetElement(1); err != nil || !v.ToBool() {
		t.Errorf("expected Ind2 event first, got v=%v err=%v", v, err)
	}
	second := waitReport(t, reports)
	if v, err := second.GetElement(2); err != nil || !v.ToBool() {
		t.Errorf("expected Ind3 event second, got v=%v err=%v", v, err)
	}
}

func TestBrcbUnknownEntryIDSignalsOverflow(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)

	setInd(server, model, "Ind1", true)

	client := connect(t, server)
	reports := subscribe(t, client, brcbRef)

	rcb := NewClientReportControlBlock(brcbRef, true)
	rcb.SetOptFlds(OptFlds{EntryID: true, BufferOverflow: true})
	if err := rcb.SetEntryID([]byte("nonexistent-id01")); err != nil {
		t.Fatalf("SetEntryID failed: %v", err)
	}
	rcb.SetRptEna(true)
	if err := client.SetRCBValues(brcbRef, rcb); err != nil {
		t.Fatalf("SetRCBValues failed: %v", err)
	}

	report := waitReport(t, reports)
	if !report.HasBufOvfl() || !report.GetBufOvfl() {
		t.Error("expected buffer overflow indication on unknown resume point")
	}
}

func TestBrcbDropOldest(t *testing.T) {
	cfg := NewServerConfig()
	cfg.ReportBufferSize = 2
	model := buildIOModel(t)
	server := startServer(t, cfg, model)

	// Three events in a two entry buffer: the first one is dropped.
	setInd(server, model, "Ind1", true)
	setInd(server, model, "Ind2", true)
	setInd(server, model, "Ind3", true)

	client := connect(t, server)
	reports := subscribe(t, client, brcbRef)

	if err := client.SetOptFlds(brcbRef, OptFlds{BufferOverflow: true}); err != nil {
		t.Fatalf("SetOptFlds failed: %v", err)
	}
	if err := client.SetRptEna(brcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}

	first := waitReport(t, reports)
	if !first.HasBufOvfl() || !first.GetBufOvfl() {
		t.Error("expected overflow flag on first report after drop")
	}
	if _, err := first.GetElement(0); err == nil {
		t.Error("dropped Ind1 event must not be replayed")
	}
	if v, err := first.GetElement(1); err != nil || !v.ToBool() {
		t.Errorf("expected Ind2 event, got v=%v err=%v", v, err)
	}
	second := waitReport(t, reports)
	if second.HasBufOvfl() && second.GetBufOvfl() {
		t.Error("overflow flag must clear after first indication")
	}
}

func TestBrcbPurgeBuf(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)

	setInd(server, model, "Ind1", true)

	client := connect(t, server)
	reports := subscribe(t, client, brcbRef)

	if err := client.SetPurgeBuf(brcbRef); err != nil {
		t.Fatalf("SetPurgeBuf failed: %v", err)
	}
	if err := client.SetRptEna(brcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	expectNoReport(t, reports, 150*time.Millisecond)
}

func TestUrcbReservation(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	clientA := connect(t, server)
	clientB := connect(t, server)

	if err := clientA.SetResv(urcbRef, true); err != nil {
		t.Fatalf("SetResv failed: %v", err)
	}
	if err := clientB.SetRptEna(urcbRef, true); err == nil {
		t.Fatal("expected reserved URCB to reject other client's write")
	}
	if err := clientA.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("owner enable failed: %v", err)
	}
}

func TestRCBEventHandler(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)

	events := make(chan RCBEventType, 32)
	server.SetRCBEventHandler(func(rcb *ReportControlBlock, event RCBEventType, parameterName string, serviceError MmsDataAccessError) {
		events <- event
	})

	client := connect(t, server)
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	if err := client.TriggerGIReport(urcbRef); err != nil {
		t.Fatalf("TriggerGIReport failed: %v", err)
	}
	if err := client.SetRptEna(urcbRef, false); err != nil {
		t.Fatalf("SetRptEna(false) failed: %v", err)
	}

	seen := make(map[RCBEventType]bool)
	for {
		select {
		case e := <-events:
			seen[e] = true
		default:
			if !seen[RCB_EVENT_ENABLE] || !seen[RCB_EVENT_GI] || !seen[RCB_EVENT_DISABLE] {
				t.Fatalf("missing lifecycle events, saw %v", seen)
			}
			return
		}
	}
}

func TestGetRCBValues(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)

	rcb, err := client.GetRCBValues(brcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if !rcb.IsBuffered() {
		t.Error("expected buffered RCB")
	}
	if rcb.RptID() != "events02" {
		t.Errorf("unexpected RptID %q", rcb.RptID())
	}
	if rcb.DatSet() != "testLD/LLN0.Events" {
		t.Errorf("unexpected DatSet %q", rcb.DatSet())
	}
	if rcb.RptEna() {
		t.Error("expected RptEna false")
	}
	if !rcb.TrgOps().DataChange || !rcb.TrgOps().Gi {
		t.Errorf("unexpected TrgOps %+v", rcb.TrgOps())
	}
}

func TestSubscribeEnablesReporting(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	client := connect(t, server)
	reports := subscribe(t, client, urcbRef)

	trgOps := TrgOps{DataChange: true}
	optFlds := OptFlds{SequenceNumber: true, ReasonForInclusion: true}
	if err := client.Subscribe(urcbRef, SubscribeOptions{TrgOps: &trgOps, OptFlds: &optFlds}); err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}

	setInd(server, model, "Ind1", true)
	report := waitReport(t, reports)
	if !report.HasSeqNum() {
		t.Error("expected sequence number")
	}
	if report.GetReasonForInclusion(0) != IEC61850_REASON_DATA_CHANGE {
		t.Errorf("expected data-change reason, got %v", report.GetReasonForInclusion(0))
	}
}

func TestSubscribeConfigFailureLeavesDisabled(t *testing.T) {
	model := buildIOModel(t)
	server := startServer(t, nil, model)
	clientA := connect(t, server)
	clientB := connect(t, server)

	if err := clientA.SetResv(urcbRef, true); err != nil {
		t.Fatalf("SetResv failed: %v", err)
	}

	trgOps := TrgOps{DataChange: true}
	if err := clientB.Subscribe(urcbRef, SubscribeOptions{TrgOps: &trgOps}); err == nil {
		t.Fatal("expected subscribe on a reserved RCB to fail")
	}

	rcb, err := clientA.GetRCBValues(urcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if rcb.RptEna() {
		t.Error("failed subscribe must not enable the RCB")
	}
}

func TestOwnerExposedOnlyWhenConfigured(t *testing.T) {
	server := startServer(t, nil, buildIOModel(t))
	client := connect(t, server)
	if err := client.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	rcb, err := client.GetRCBValues(urcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if len(rcb.Owner()) != 0 {
		t.Errorf("owner must stay empty without EnableOwnerForRCB, got %q", rcb.Owner())
	}

	cfg := NewServerConfig()
	cfg.EnableOwnerForRCB = true
	server2 := startServer(t, cfg, buildIOModel(t))
	client2 := connect(t, server2)
	if err := client2.SetRptEna(urcbRef, true); err != nil {
		t.Fatalf("SetRptEna failed: %v", err)
	}
	rcb2, err := client2.GetRCBValues(urcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if string(rcb2.Owner()) != "test-client" {
		t.Errorf("expected owner test-client, got %q", rcb2.Owner())
	}
}

func TestResvTmsRequiresConfig(t *testing.T) {
	server := startServer(t, nil, buildIOModel(t))
	client := connect(t, server)
	rcb, err := client.GetRCBValues(brcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if err := rcb.SetResvTms(60); err != nil {
		t.Fatalf("SetResvTms failed: %v", err)
	}
	if err := client.SetRCBValues(brcbRef, rcb); err == nil {
		t.Fatal("expected ResvTms write to fail without EnableResvTmsForBRCB")
	}

	cfg := NewServerConfig()
	cfg.EnableResvTmsForBRCB = true
	server2 := startServer(t, cfg, buildIOModel(t))
	client2 := connect(t, server2)
	rcb2, err := client2.GetRCBValues(brcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if err := rcb2.SetResvTms(60); err != nil {
		t.Fatalf("SetResvTms failed: %v", err)
	}
	if err := client2.SetRCBValues(brcbRef, rcb2); err != nil {
		t.Fatalf("SetRCBValues failed: %v", err)
	}
	rcb2, err = client2.GetRCBValues(brcbRef)
	if err != nil {
		t.Fatalf("GetRCBValues failed: %v", err)
	}
	if rcb2.ResvTms() != 60 {
		t.Errorf("expected ResvTms 60, got %d", rcb2.ResvTms())
	}
}

func TestSyncedIntegrityDelayAlignsToPeriod(t *testing.T) {
	cfg := NewServerConfig()
	cfg.SyncIntegrityReportTimes = true
	server := startServer(t, cfg, buildIOModel(t))
	rcb := server.rcbs[urcbRef]
	rcb.intgPd = 1000

	before := nowMs()
	delay := rcb.intgDelay()
	after := nowMs()
	if delay <= 0 || delay > time.Second {
		t.Fatalf("delay %v out of range", delay)
	}
	fire := before + int64(delay/time.Millisecond)
	lo := (before/1000 + 1) * 1000
	hi := (after/1000 + 1) * 1000
	if fire < lo || fire > hi {
		t.Errorf("fire time %d not on a period boundary (expected between %d and %d)", fire, lo, hi)
	}

	server2 := startServer(t, nil, buildIOModel(t))
	rcb2 := server2.rcbs[urcbRef]
	rcb2.intgPd = 1000
	if d := rcb2.intgDelay(); d != time.Second {
		t.Errorf("expected the plain period without sync, got %v", d)
	}
}
