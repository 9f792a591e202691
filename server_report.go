package iec61850

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
)

// RCBEventHandler observes report control block lifecycle events. It is
// called with the server locked; do not call locking server methods from it.
type RCBEventHandler func(rcb *ReportControlBlock, event RCBEventType, parameterName string, serviceError MmsDataAccessError)

// SetRCBEventHandler registers the RCB event observer.
func (s *IedServer) SetRCBEventHandler(handler RCBEventHandler) {
	s.mu.Lock()
	s.rcbEventHandler = handler
	s.mu.Unlock()
}

func (s *IedServer) fireRCBEvent(rcb *ReportControlBlock, event RCBEventType, param string, serr MmsDataAccessError) {
	if s.rcbEventHandler != nil {
		s.rcbEventHandler(rcb, event, param, serr)
	}
}

// bufferedEntry is one report held in the BRCB ring buffer.
type bufferedEntry struct {
	id          []byte
	timeOfEntry int64
	members     []ReportedMember
}

// ReportControlBlock is the server side runtime of one BRCB or URCB.
type ReportControlBlock struct {
	server   *IedServer
	decl     *rcbDecl
	ref      string
	buffered bool

	rptID   string
	datSet  string
	confRev uint32
	optFlds OptFlds
	trgOps  TrgOps
	bufTm   uint32
	intgPd  uint32

	dataset *DataSet

	ena       bool
	enabledBy ClientID
	sqNum     uint16

	resv   bool
	resvBy ClientID // URCB reservation holder
	owner  []byte

	resvTms   int16
	resvTmsBy ClientID

	// BRCB buffer
	buffer  []*bufferedEntry
	bufOvfl bool
	// resumeEntryID is the entry the next enable resumes after; nil means
	// the oldest buffered entry.
	resumeEntryID []byte

	intgTimer *time.Timer

	bufTmTimer     *time.Timer
	pendingReasons map[int]ReasonForInclusion
	pendingTime    int64
}

func newReportControlBlock(s *IedServer, decl *rcbDecl) (*ReportControlBlock, error) {
	kind := "RP"
	if decl.buffered {
		kind = "BR"
	}
	rcb := &ReportControlBlock{
		server:   s,
		decl:     decl,
		ref:      fmt.Sprintf("%s.%s.%s", decl.ln.GetObjectReference(), kind, decl.name),
		buffered: decl.buffered,
		rptID:    decl.rptID,
		datSet:   normalizeRef(decl.datSet),
		confRev:  decl.confRev,
		optFlds:  decl.optFlds,
		trgOps:   decl.trgOps,
		bufTm:    decl.bufTm,
		intgPd:   decl.intgPd,
	}
	if rcb.datSet != "" {
		rcb.dataset = s.model.GetDataSet(rcb.datSet)
		if rcb.dataset == nil {
			return nil, fmt.Errorf("report control block %s: data set %s not in model", rcb.ref, rcb.datSet)
		}
	}
	return rcb, nil
}

// GetName returns the RCB name from the model.
func (rcb *ReportControlBlock) GetName() string { return rcb.decl.name }

// GetReference returns the full object reference of the RCB.
func (rcb *ReportControlBlock) GetReference() string { return rcb.ref }

// GetRptID returns the current report identifier.
func (rcb *ReportControlBlock) GetRptID() string { return rcb.rptID }

// GetDataSet returns the current data set reference.
func (rcb *ReportControlBlock) GetDataSet() string { return rcb.datSet }

// IsEnabled reports whether a client has enabled reporting.
func (rcb *ReportControlBlock) IsEnabled() bool { return rcb.ena }

func (rcb *ReportControlBlock) onServerStart() {}

func (rcb *ReportControlBlock) onServerStop() {
	rcb.stopIntgTimer()
	rcb.stopBufTmTimer()
	rcb.ena = false
	rcb.enabledBy = 0
}

// onDisconnect releases the state held by a closing association. A buffered
// RCB keeps buffering; an unbuffered one is disabled and unreserved.
func (rcb *ReportControlBlock) onDisconnect(id ClientID) {
	if rcb.ena && rcb.enabledBy == id {
		rcb.disableLocked()
	}
	if !rcb.buffered && rcb.resv && rcb.resvBy == id {
		rcb.resv = false
		rcb.resvBy = 0
		rcb.owner = nil
		rcb.server.fireRCBEvent(rcb, RCB_EVENT_UNRESERVED, "", DATA_ACCESS_ERROR_SUCCESS)
	}
	if rcb.buffered && rcb.resvTmsBy == id {
		rcb.resvTms = 0
		rcb.resvTmsBy = 0
	}
}

func (rcb *ReportControlBlock) snapshotValues() RCBValues {
	return RCBValues{
		RptID:      rcb.rptID,
		RptEna:     rcb.ena,
		Resv:       rcb.resv,
		DatSet:     rcb.datSet,
		ConfRev:    rcb.confRev,
		OptFlds:    rcb.optFlds,
		BufTm:      rcb.bufTm,
		SqNum:      rcb.sqNum,
		TrgOps:     rcb.trgOps,
		IntgPd:     rcb.intgPd,
		PurgeBuf:   false,
		EntryID:    append([]byte(nil), rcb.resumeEntryID...),
		ResvTms:    rcb.resvTms,
		Owner:      append([]byte(nil), rcb.owner...),
		IsBuffered: rcb.buffered,
	}
}

func (rcb *ReportControlBlock) handleGet(conn *ClientConnection) GetRCBResponse {
	rcb.server.fireRCBEvent(rcb, RCB_EVENT_GET_PARAMETER, "", DATA_ACCESS_ERROR_SUCCESS)
	return GetRCBResponse{Values: rcb.snapshotValues()}
}

// rcbWrite is one element write of a setRCB request, in canonical apply
// order.
type rcbWrite struct {
	element RcbElement
	name    string
}

// canonical order: configuration first, then reservation, buffer control and
// finally enable/GI.
var rcbWriteOrder = []rcbWrite{
	{RCB_ELEMENT_RPT_ID, "RptID"},
	{RCB_ELEMENT_DATSET, "DatSet"},
	{RCB_ELEMENT_OPT_FLDS, "OptFlds"},
	{RCB_ELEMENT_BUF_TM, "BufTm"},
	{RCB_ELEMENT_TRG_OPS, "TrgOps"},
	{RCB_ELEMENT_INTG_PD, "IntgPd"},
	{RCB_ELEMENT_RESV, "Resv"},
	{RCB_ELEMENT_RESV_TMS, "ResvTms"},
	{RCB_ELEMENT_PURGE_BUF, "PurgeBuf"},
	{RCB_ELEMENT_ENTRY_ID, "EntryID"},
	{RCB_ELEMENT_RPT_ENA, "RptEna"},
	{RCB_ELEMENT_GI, "GI"},
}

// configElements may not be written while the RCB is enabled.
const configElements = RCB_ELEMENT_RPT_ID | RCB_ELEMENT_DATSET | RCB_ELEMENT_OPT_FLDS |
	RCB_ELEMENT_BUF_TM | RCB_ELEMENT_TRG_OPS | RCB_ELEMENT_INTG_PD

func (rcb *ReportControlBlock) handleSet(conn *ClientConnection, r SetRCBRequest) error {
	// Validate everything first so a single-request write is all or nothing.
	var firstErr error
	for _, w := range rcbWriteOrder {
		if !r.Elements.Has(w.element) {
			continue
		}
		if err := rcb.validateWrite(conn, w.element, r.Values); err != nil {
			rcb.server.fireRCBEvent(rcb, RCB_EVENT_SET_PARAMETER, w.name, DATA_ACCESS_ERROR_TEMPORARILY_UNAVAILABLE)
			if firstErr == nil {
				firstErr = err
			}
			if r.SingleRequest {
				return err
			}
		}
	}
	if firstErr != nil && r.SingleRequest {
		return firstErr
	}

	for _, w := range rcbWriteOrder {
		if !r.Elements.Has(w.element) {
			continue
		}
		if err := rcb.validateWrite(conn, w.element, r.Values); err != nil {
			// Sequential write: stop at the first failing element.
			return err
		}
		rcb.applyWrite(conn, w.element, r.Values)
		rcb.server.fireRCBEvent(rcb, RCB_EVENT_SET_PARAMETER, w.name, DATA_ACCESS_ERROR_SUCCESS)
	}
	return nil
}

func (rcb *ReportControlBlock) validateWrite(conn *ClientConnection, element RcbElement, v RCBValues) error {
	// kind mismatches
	if rcb.buffered && element == RCB_ELEMENT_RESV {
		return IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
	}
	if !rcb.buffered && (element == RCB_ELEMENT_PURGE_BUF || element == RCB_ELEMENT_ENTRY_ID || element == RCB_ELEMENT_RESV_TMS) {
		return IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
	}
	if element == RCB_ELEMENT_RESV_TMS && !rcb.server.cfg.EnableResvTmsForBRCB {
		return IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
	}
	// reservation by another client
	if !rcb.buffered && rcb.resv && rcb.resvBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	if rcb.buffered && rcb.resvTmsBy != 0 && rcb.resvTmsBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	if rcb.ena && rcb.enabledBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	if rcb.ena && element&configElements != 0 {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	switch element {
	case RCB_ELEMENT_DATSET:
		if ds := normalizeRef(v.DatSet); ds != "" && rcb.server.model.GetDataSet(ds) == nil {
			return IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
	case RCB_ELEMENT_ENTRY_ID:
		if rcb.ena {
			return IED_ERROR_TEMPORARILY_UNAVAILABLE
		}
	case RCB_ELEMENT_RPT_ENA:
		if v.RptEna && rcb.dataset == nil && rcb.datSet == "" {
			return IED_ERROR_ENABLE_REPORT_FAILED_DATASET_MISMATCH
		}
	case RCB_ELEMENT_SQ_NUM, RCB_ELEMENT_CONF_REV, RCB_ELEMENT_TIME_OF_ENTRY, RCB_ELEMENT_OWNER:
		// read only elements
		return IED_ERROR_ACCESS_DENIED
	}
	return nil
}

func (rcb *ReportControlBlock) applyWrite(conn *ClientConnection, element RcbElement, v RCBValues) {
	switch element {
	case RCB_ELEMENT_RPT_ID:
		rcb.rptID = v.RptID
	case RCB_ELEMENT_DATSET:
		rcb.datSet = normalizeRef(v.DatSet)
		rcb.dataset = rcb.server.model.GetDataSet(rcb.datSet)
		rcb.confRev++
	case RCB_ELEMENT_OPT_FLDS:
		rcb.optFlds = v.OptFlds
	case RCB_ELEMENT_BUF_TM:
		rcb.bufTm = v.BufTm
	case RCB_ELEMENT_TRG_OPS:
		rcb.trgOps = v.TrgOps
	case RCB_ELEMENT_INTG_PD:
		rcb.intgPd = v.IntgPd
	case RCB_ELEMENT_RESV:
		rcb.applyResv(conn, v.Resv)
	case RCB_ELEMENT_RESV_TMS:
		rcb.resvTms = v.ResvTms
		if v.ResvTms > 0 {
			rcb.resvTmsBy = conn.id
		} else {
			rcb.resvTmsBy = 0
		}
	case RCB_ELEMENT_PURGE_BUF:
		if v.PurgeBuf {
			rcb.buffer = nil
			rcb.bufOvfl = false
			rcb.resumeEntryID = nil
			rcb.server.fireRCBEvent(rcb, RCB_EVENT_PURGEBUF, "", DATA_ACCESS_ERROR_SUCCESS)
		}
	case RCB_ELEMENT_ENTRY_ID:
		rcb.resumeEntryID = append([]byte(nil), v.EntryID...)
	case RCB_ELEMENT_RPT_ENA:
		if v.RptEna {
			rcb.enableLocked(conn)
		} else if rcb.ena {
			rcb.disableLocked()
		}
	case RCB_ELEMENT_GI:
		if v.GI {
			rcb.triggerGILocked()
		}
	}
}

func (rcb *ReportControlBlock) applyResv(conn *ClientConnection, resv bool) {
	if resv {
		if !rcb.resv {
			rcb.resv = true
			rcb.resvBy = conn.id
			if rcb.server.cfg.EnableOwnerForRCB {
				rcb.owner = []byte(conn.peer)
			}
			rcb.server.fireRCBEvent(rcb, RCB_EVENT_RESERVED, "", DATA_ACCESS_ERROR_SUCCESS)
		}
		return
	}
	if rcb.resv {
		rcb.resv = false
		rcb.resvBy = 0
		rcb.owner = nil
		rcb.server.fireRCBEvent(rcb, RCB_EVENT_UNRESERVED, "", DATA_ACCESS_ERROR_SUCCESS)
	}
}

func (rcb *ReportControlBlock) enableLocked(conn *ClientConnection) {
	if rcb.dataset == nil {
		rcb.dataset = rcb.server.model.GetDataSet(rcb.datSet)
	}
	rcb.ena = true
	rcb.enabledBy = conn.id
	if rcb.server.cfg.EnableOwnerForRCB {
		rcb.owner = []byte(conn.peer)
	}
	if !rcb.buffered && !rcb.resv {
		// enabling implicitly reserves a URCB
		rcb.resv = true
		rcb.resvBy = conn.id
		rcb.server.fireRCBEvent(rcb, RCB_EVENT_RESERVED, "", DATA_ACCESS_ERROR_SUCCESS)
	}
	rcb.server.fireRCBEvent(rcb, RCB_EVENT_ENABLE, "", DATA_ACCESS_ERROR_SUCCESS)
	rcb.startIntgTimer()
	if rcb.buffered {
		rcb.deliverBufferedLocked()
	}
}

func (rcb *ReportControlBlock) disableLocked() {
	rcb.flushBufTmLocked()
	rcb.ena = false
	rcb.enabledBy = 0
	if rcb.buffered {
		rcb.owner = nil
	}
	rcb.stopIntgTimer()
	rcb.server.fireRCBEvent(rcb, RCB_EVENT_DISABLE, "", DATA_ACCESS_ERROR_SUCCESS)
}

// deliverBufferedLocked replays the buffer after an enable, resuming after
// the entry written to EntryID. A purged resumption point falls back to the
// oldest entry with the overflow flag raised.
func (rcb *ReportControlBlock) deliverBufferedLocked() {
	start := 0
	if len(rcb.resumeEntryID) != 0 {
		found := false
		for i, e := range rcb.buffer {
			if bytes.Equal(e.id, rcb.resumeEntryID) {
				start = i + 1
				found = true
				break
			}
		}
		if !found {
			rcb.bufOvfl = true
			rcb.server.fireRCBEvent(rcb, RCB_EVENT_OVERFLOW, "", DATA_ACCESS_ERROR_SUCCESS)
		}
	}
	for _, e := range rcb.buffer[start:] {
		rcb.sendEntryLocked(e)
	}
	if len(rcb.buffer) > 0 {
		rcb.resumeEntryID = append([]byte(nil), rcb.buffer[len(rcb.buffer)-1].id...)
	}
}

// allowedReasons maps the trigger options to the reason bits the RCB reports.
func (rcb *ReportControlBlock) allowedReasons() ReasonForInclusion {
	var mask ReasonForInclusion
	if rcb.trgOps.DataChange {
		mask |= IEC61850_REASON_DATA_CHANGE
	}
	if rcb.trgOps.QualityChange {
		mask |= IEC61850_REASON_QUALITY_CHANGE
	}
	if rcb.trgOps.DataUpdate {
		mask |= IEC61850_REASON_DATA_UPDATE
	}
	return mask
}

// processBatch evaluates one committed trigger batch. All changes of one
// batch end up in the same report.
func (rcb *ReportControlBlock) processBatch(b *triggerBatch) {
	if rcb.dataset == nil {
		return
	}
	if !rcb.buffered && !rcb.ena {
		return
	}
	mask := rcb.allowedReasons()
	if mask == 0 {
		return
	}
	included := make(map[int]ReasonForInclusion)
	for i, m := range rcb.dataset.members {
		var reason ReasonForInclusion
		for node, r := range b.changes {
			if nodeWithin(node, m.node) {
				reason |= r
			}
		}
		reason &= mask
		if reason != 0 {
			included[i] = reason
		}
	}
	if len(included) == 0 {
		return
	}
	if rcb.bufTm > 0 {
		rcb.coalesceLocked(included)
		return
	}
	rcb.emitLocked(included)
}

// nodeWithin reports whether node is root or a descendant of root.
func nodeWithin(node, root *ModelNode) bool {
	for cur := node; cur != nil; cur = cur.parent {
		if cur == root {
			return true
		}
	}
	return false
}

// coalesceLocked folds triggers into the open bufTm window, opening one if
// needed.
func (rcb *ReportControlBlock) coalesceLocked(included map[int]ReasonForInclusion) {
	if rcb.pendingReasons == nil {
		rcb.pendingReasons = make(map[int]ReasonForInclusion)
		rcb.pendingTime = nowMs()
		rcb.bufTmTimer = time.AfterFunc(time.Duration(rcb.bufTm)*time.Millisecond, rcb.onBufTmExpired)
	}
	for i, r := range included {
		rcb.pendingReasons[i] |= r
	}
}

func (rcb *ReportControlBlock) onBufTmExpired() {
	s := rcb.server
	s.mu.Lock()
	defer s.mu.Unlock()
	rcb.flushBufTmLocked()
}

func (rcb *ReportControlBlock) flushBufTmLocked() {
	if rcb.pendingReasons == nil {
		return
	}
	included := rcb.pendingReasons
	rcb.pendingReasons = nil
	if rcb.bufTmTimer != nil {
		rcb.bufTmTimer.Stop()
		rcb.bufTmTimer = nil
	}
	rcb.emitLocked(included)
}

func (rcb *ReportControlBlock) stopBufTmTimer() {
	if rcb.bufTmTimer != nil {
		rcb.bufTmTimer.Stop()
		rcb.bufTmTimer = nil
	}
	rcb.pendingReasons = nil
}

// triggerGILocked emits a general interrogation report with every dataset
// member.
func (rcb *ReportControlBlock) triggerGILocked() {
	if !rcb.ena || !rcb.trgOps.Gi || rcb.dataset == nil {
		return
	}
	included := make(map[int]ReasonForInclusion, len(rcb.dataset.members))
	for i := range rcb.dataset.members {
		included[i] = IEC61850_REASON_GI
	}
	rcb.server.fireRCBEvent(rcb, RCB_EVENT_GI, "", DATA_ACCESS_ERROR_SUCCESS)
	rcb.emitLocked(included)
}

func (rcb *ReportControlBlock) startIntgTimer() {
	rcb.stopIntgTimer()
	if rcb.intgPd == 0 || !rcb.trgOps.TriggeredPeriodically {
		return
	}
	rcb.intgTimer = time.AfterFunc(rcb.intgDelay(), rcb.onIntgExpired)
}

// intgDelay returns the time until the next integrity report. With
// SyncIntegrityReportTimes the emission is aligned to wall clock multiples
// of the integrity period, so several servers with the same period report
// in step.
func (rcb *ReportControlBlock) intgDelay() time.Duration {
	period := time.Duration(rcb.intgPd) * time.Millisecond
	if !rcb.server.cfg.SyncIntegrityReportTimes {
		return period
	}
	now := nowMs()
	next := (now/int64(rcb.intgPd) + 1) * int64(rcb.intgPd)
	return time.Duration(next-now) * time.Millisecond
}

func (rcb *ReportControlBlock) stopIntgTimer() {
	if rcb.intgTimer != nil {
		rcb.intgTimer.Stop()
		rcb.intgTimer = nil
	}
}

func (rcb *ReportControlBlock) onIntgExpired() {
	s := rcb.server
	s.mu.Lock()
	defer s.mu.Unlock()
	if !rcb.ena || rcb.dataset == nil {
		return
	}
	included := make(map[int]ReasonForInclusion, len(rcb.dataset.members))
	for i := range rcb.dataset.members {
		included[i] = IEC61850_REASON_INTEGRITY
	}
	rcb.emitLocked(included)
	rcb.intgTimer = time.AfterFunc(rcb.intgDelay(), rcb.onIntgExpired)
}

// emitLocked snapshots the included member values into a report. Buffered
// RCBs persist the entry; enabled RCBs send it.
func (rcb *ReportControlBlock) emitLocked(included map[int]ReasonForInclusion) {
	indices := make([]int, 0, len(included))
	for i := range included {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	members := make([]ReportedMember, 0, len(indices))
	for _, i := range indices {
		m := rcb.dataset.members[i]
		rm := ReportedMember{
			Index:  i,
			Value:  rcb.server.buildValueLocked(m.node, m.fc),
			Reason: included[i],
		}
		if rcb.optFlds.DataReference {
			rm.DataRef = m.ref
		}
		members = append(members, rm)
	}

	entry := &bufferedEntry{timeOfEntry: nowMs(), members: members}
	if rcb.buffered {
		entry.id = rcb.newEntryID()
		rcb.bufferEntryLocked(entry)
		rcb.server.fireRCBEvent(rcb, RCB_EVENT_REPORT_CREATED, "", DATA_ACCESS_ERROR_SUCCESS)
	}
	if rcb.ena {
		rcb.sendEntryLocked(entry)
		if rcb.buffered {
			rcb.resumeEntryID = append([]byte(nil), entry.id...)
		}
	}
}

func (rcb *ReportControlBlock) newEntryID() []byte {
	id, err := ulid.New(ulid.Timestamp(time.Now()), rcb.server.entryIDSource)
	if err != nil {
		id = ulid.Make()
	}
	return id.Bytes()
}

// bufferEntryLocked appends to the ring buffer, dropping the oldest entry on
// overflow.
func (rcb *ReportControlBlock) bufferEntryLocked(entry *bufferedEntry) {
	rcb.buffer = append(rcb.buffer, entry)
	if len(rcb.buffer) > rcb.server.cfg.ReportBufferSize {
		rcb.buffer = rcb.buffer[1:]
		if !rcb.bufOvfl {
			rcb.bufOvfl = true
			rcb.server.fireRCBEvent(rcb, RCB_EVENT_OVERFLOW, "", DATA_ACCESS_ERROR_SUCCESS)
		}
	}
}

// sendEntryLocked pushes one report to the enabling client, segmented when
// the member count exceeds the segment size and the RCB opted in.
func (rcb *ReportControlBlock) sendEntryLocked(entry *bufferedEntry) {
	conn := rcb.server.connections[rcb.enabledBy]
	if conn == nil {
		return
	}
	rcb.sqNum++
	seqNum := rcb.sqNum

	segSize := rcb.server.cfg.ReportSegmentSize
	segmented := rcb.optFlds.Segmentation && len(entry.members) > segSize

	bufOvfl := rcb.bufOvfl

	send := func(members []ReportedMember, subSeq uint16, more bool) {
		if !rcb.optFlds.ReasonForInclusion {
			masked := make([]ReportedMember, len(members))
			copy(masked, members)
			for i := range masked {
				masked[i].Reason = IEC61850_REASON_UNKNOWN
			}
			members = masked
		}
		rn := ReportNotification{
			RcbRef:  rcb.ref,
			RptID:   rcb.rptID,
			Members: members,
		}
		if rcb.optFlds.SequenceNumber {
			rn.HasSeqNum = true
			rn.SeqNum = seqNum
		}
		if segmented {
			rn.HasSubSeqNum = true
			rn.SubSeqNum = subSeq
			rn.MoreSegmentsFollow = more
		}
		if rcb.optFlds.TimeOfEntry {
			rn.HasTimeOfEntry = true
			rn.TimeOfEntry = entry.timeOfEntry
		}
		if rcb.optFlds.DataSetName {
			rn.HasDataSetName = true
			rn.DataSetName = rcb.datSet
		}
		if rcb.optFlds.BufferOverflow && rcb.buffered {
			rn.HasBufOvfl = true
			rn.BufOvfl = bufOvfl
		}
		if rcb.optFlds.ConfigRevision {
			rn.HasConfRev = true
			rn.ConfRev = rcb.confRev
		}
		if rcb.optFlds.EntryID && rcb.buffered {
			rn.EntryID = append([]byte(nil), entry.id...)
		}
		conn.notify(rn)
	}

	if !segmented {
		send(entry.members, 0, false)
	} else {
		var subSeq uint16
		for off := 0; off < len(entry.members); off += segSize {
			end := off + segSize
			if end > len(entry.members) {
				end = len(entry.members)
			}
			send(entry.members[off:end], subSeq, end < len(entry.members))
			subSeq++
		}
	}

	if rcb.buffered && bufOvfl {
		// overflow has been indicated, clear until the next drop
		rcb.bufOvfl = false
	}
}
