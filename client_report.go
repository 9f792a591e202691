package iec61850

import (
	"fmt"
	"sort"
)

// ReportCallbackFunction is invoked for every complete report received for a
// subscribed RCB. Segmented reports are reassembled first; the callback never
// sees a partial report.
type ReportCallbackFunction func(report ClientReport)

// ClientReport is one received (and, when segmented, reassembled) report.
type ClientReport struct {
	rcbReference string
	rptID        string

	hasSeqNum bool
	seqNum    uint16

	hasTimeOfEntry bool
	timeOfEntry    int64

	hasDataSetName bool
	dataSetName    string

	hasBufOvfl bool
	bufOvfl    bool

	hasConfRev bool
	confRev    uint32

	entryID []byte

	members map[int]ReportedMember
}

// GetRcbReference returns the object reference of the RCB that produced the
// report.
func (r ClientReport) GetRcbReference() string { return r.rcbReference }

// GetRptId returns the report ID carried in the report.
func (r ClientReport) GetRptId() string { return r.rptID }

// HasSeqNum indicates whether the report carried a sequence number.
func (r ClientReport) HasSeqNum() bool { return r.hasSeqNum }

// GetSeqNum returns the report sequence number.
func (r ClientReport) GetSeqNum() uint16 { return r.seqNum }

// HasTimeOfEntry indicates whether the report carried an entry timestamp.
func (r ClientReport) HasTimeOfEntry() bool { return r.hasTimeOfEntry }

// GetTimeOfEntry returns the entry timestamp in ms since epoch.
func (r ClientReport) GetTimeOfEntry() int64 { return r.timeOfEntry }

// HasDataSetName indicates whether the report carried the data set reference.
func (r ClientReport) HasDataSetName() bool { return r.hasDataSetName }

// GetDataSetName returns the data set reference carried in the report.
func (r ClientReport) GetDataSetName() string { return r.dataSetName }

// HasBufOvfl indicates whether the report carried the buffer overflow flag.
func (r ClientReport) HasBufOvfl() bool { return r.hasBufOvfl }

// GetBufOvfl returns true when the server signalled that buffered entries
// were lost before this report.
func (r ClientReport) GetBufOvfl() bool { return r.bufOvfl }

// HasConfRev indicates whether the report carried the configuration revision.
func (r ClientReport) HasConfRev() bool { return r.hasConfRev }

// GetConfRev returns the configuration revision carried in the report.
func (r ClientReport) GetConfRev() uint32 { return r.confRev }

// GetEntryId returns the entry ID of a buffered report, or nil.
func (r ClientReport) GetEntryId() []byte { return r.entryID }

// GetReasonForInclusion returns the reason the data set member at the given
// index is part of this report, or IEC61850_REASON_NOT_INCLUDED.
func (r ClientReport) GetReasonForInclusion(index int) ReasonForInclusion {
	m, ok := r.members[index]
	if !ok {
		return IEC61850_REASON_NOT_INCLUDED
	}
	return m.Reason
}

// GetElement returns the reported value of the data set member at the given
// index.
func (r ClientReport) GetElement(index int) (*MmsValue, error) {
	m, ok := r.members[index]
	if !ok {
		return nil, fmt.Errorf("GetElement %d: member not included in report: %w",
			index, IED_ERROR_OBJECT_VALUE_INVALID)
	}
	return m.Value, nil
}

// GetDataReference returns the object reference of the data set member at
// the given index, or the empty string when the report did not carry data
// references.
func (r ClientReport) GetDataReference(index int) string {
	return r.members[index].DataRef
}

// GetDataSetValues returns the reported values as one array value. Members
// not included in the report are nil elements.
func (r ClientReport) GetDataSetValues() (*MmsValue, error) {
	if len(r.members) == 0 {
		return nil, fmt.Errorf("GetDataSetValues: empty report: %w", IED_ERROR_OBJECT_VALUE_INVALID)
	}
	indexes := make([]int, 0, len(r.members))
	maxIdx := 0
	for idx := range r.members {
		indexes = append(indexes, idx)
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	sort.Ints(indexes)
	values := make([]*MmsValue, maxIdx+1)
	for _, idx := range indexes {
		values[idx] = r.members[idx].Value
	}
	return &MmsValue{Type: Array, Value: values}, nil
}

// reportSubscription pairs a callback with the reassembly state of one RCB.
type reportSubscription struct {
	rptID   string
	handler ReportCallbackFunction

	// partial holds the report under reassembly, nil when idle.
	partial    *ClientReport
	nextSubSeq uint16
}

// InstallReportHandler registers a callback for reports of the given RCB.
// The rptId must match the RptID currently configured in the RCB; reports
// with a different report ID are matched by RCB reference only when rptId is
// empty. Only one handler per RCB is supported; calling again overwrites the
// previous one.
func (c *Client) InstallReportHandler(rcbReference string, rptId string, handler ReportCallbackFunction) error {
	if handler == nil {
		return fmt.Errorf("InstallReportHandler %s: handler is required: %w",
			rcbReference, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT)
	}
	c.mu.Lock()
	c.reportHandlers[rcbReference] = &reportSubscription{rptID: rptId, handler: handler}
	c.mu.Unlock()
	return nil
}

// UninstallReportHandler removes the report handler of the given RCB. A
// report under reassembly is discarded.
func (c *Client) UninstallReportHandler(rcbReference string) {
	c.mu.Lock()
	delete(c.reportHandlers, rcbReference)
	c.mu.Unlock()
}

// TriggerGIReport asks the server for a general interrogation report on the
// given RCB.
func (c *Client) TriggerGIReport(rcbReference string) error {
	_, err := c.invoke(SetRCBRequest{
		Ref:      rcbReference,
		Values:   RCBValues{GI: true},
		Elements: RCB_ELEMENT_GI,
	})
	if err != nil {
		return fmt.Errorf("TriggerGIReport %s: %w", rcbReference, err)
	}
	return nil
}

func (c *Client) onReportNotification(n Notification) {
	rn, ok := n.(ReportNotification)
	if !ok {
		return
	}

	c.mu.Lock()
	sub, ok := c.reportHandlers[rn.RcbRef]
	if !ok {
		c.mu.Unlock()
		c.log.Debugw("dropping report for unsubscribed RCB", "rcb", rn.RcbRef, "rptId", rn.RptID)
		return
	}
	if sub.rptID != "" && rn.RptID != "" && sub.rptID != rn.RptID {
		c.mu.Unlock()
		c.log.Debugw("dropping report with unexpected rptId", "rcb", rn.RcbRef,
			"want", sub.rptID, "got", rn.RptID)
		return
	}

	report, discarded := sub.consume(rn)
	errHandler := c.reportErrHandler
	handler := sub.handler
	c.mu.Unlock()

	if discarded != nil && errHandler != nil {
		errHandler(rn.RcbRef, discarded)
	}
	if report != nil {
		handler(*report)
	}
}

// consume folds one notification into the reassembly state. It returns the
// completed report, if any, plus an error describing a partial report that
// had to be discarded.
func (s *reportSubscription) consume(rn ReportNotification) (*ClientReport, error) {
	if !rn.HasSubSeqNum {
		// Unsegmented report. An open partial lost its tail.
		var discarded error
		if s.partial != nil {
			discarded = incompleteReportError(s.partial.seqNum)
			s.partial = nil
		}
		report := newClientReport(rn)
		return &report, discarded
	}

	var discarded error
	if s.partial != nil && s.partial.seqNum != rn.SeqNum {
		discarded = incompleteReportError(s.partial.seqNum)
		s.partial = nil
		s.nextSubSeq = 0
	}

	if s.partial == nil {
		// A segment train must start with subSeqNum 0.
		if rn.SubSeqNum != 0 {
			return nil, incompleteReportError(rn.SeqNum)
		}
		report := newClientReport(rn)
		s.partial = &report
		s.nextSubSeq = 1
	} else {
		if rn.SubSeqNum < s.nextSubSeq {
			// duplicate segment
			return nil, discarded
		}
		if rn.SubSeqNum > s.nextSubSeq {
			// gap in the segment train, give up on this report
			err := incompleteReportError(s.partial.seqNum)
			s.partial = nil
			s.nextSubSeq = 0
			return nil, err
		}
		s.partial.merge(rn)
		s.nextSubSeq++
	}

	if rn.MoreSegmentsFollow {
		return nil, discarded
	}
	report := s.partial
	s.partial = nil
	s.nextSubSeq = 0
	return report, discarded
}

func incompleteReportError(seqNum uint16) error {
	return fmt.Errorf("incomplete segmented report seqNum=%d discarded", seqNum)
}

func newClientReport(rn ReportNotification) ClientReport {
	report := ClientReport{
		rcbReference:   rn.RcbRef,
		rptID:          rn.RptID,
		hasSeqNum:      rn.HasSeqNum,
		seqNum:         rn.SeqNum,
		hasTimeOfEntry: rn.HasTimeOfEntry,
		timeOfEntry:    rn.TimeOfEntry,
		hasDataSetName: rn.HasDataSetName,
		dataSetName:    rn.DataSetName,
		hasBufOvfl:     rn.HasBufOvfl,
		bufOvfl:        rn.BufOvfl,
		hasConfRev:     rn.HasConfRev,
		confRev:        rn.ConfRev,
		entryID:        rn.EntryID,
		members:        make(map[int]ReportedMember, len(rn.Members)),
	}
	for _, m := range rn.Members {
		report.members[m.Index] = m
	}
	return report
}

// merge adds the members of a follow-up segment to the report.
func (r *ClientReport) merge(rn ReportNotification) {
	for _, m := range rn.Members {
		r.members[m.Index] = m
	}
	if rn.HasBufOvfl && rn.BufOvfl {
		r.hasBufOvfl = true
		r.bufOvfl = true
	}
}
