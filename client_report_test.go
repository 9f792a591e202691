package iec61850

import (
	"testing"
)

func segment(seq, subSeq uint16, more bool, members ...ReportedMember) ReportNotification {
	return ReportNotification{
		RcbRef:             "testLD/LLN0.RP.urcb01",
		RptID:              "events01",
		HasSeqNum:          true,
		SeqNum:             seq,
		HasSubSeqNum:       true,
		SubSeqNum:          subSeq,
		MoreSegmentsFollow: more,
		Members:            members,
	}
}

func member(index int, v bool) ReportedMember {
	return ReportedMember{Index: index, Value: NewBooleanMmsValue(v), Reason: IEC61850_REASON_GI}
}

func TestSegmentsInOrder(t *testing.T) {
	sub := &reportSubscription{}

	report, discarded := sub.consume(segment(5, 0, true, member(0, true)))
	if report != nil || discarded != nil {
		t.Fatalf("first segment must not complete, got report=%v err=%v", report, discarded)
	}
	report, discarded = sub.consume(segment(5, 1, false, member(1, false)))
	if discarded != nil {
		t.Fatalf("unexpected discard: %v", discarded)
	}
	if report == nil {
		t.Fatal("expected assembled report after final segment")
	}
	if report.GetReasonForInclusion(0) == IEC61850_REASON_NOT_INCLUDED ||
		report.GetReasonForInclusion(1) == IEC61850_REASON_NOT_INCLUDED {
		t.Error("expected members of both segments")
	}
}

func TestSegmentsOutOfOrder(t *testing.T) {
	sub := &reportSubscription{}

	// A train must open with subSeqNum 0.
	report, discarded := sub.consume(segment(5, 1, false, member(1, false)))
	if report != nil {
		t.Fatal("out of order segment must not produce a report")
	}
	if discarded == nil {
		t.Fatal("expected discard error for out of order segment")
	}
	// The next well formed train still assembles.
	sub.consume(segment(6, 0, true, member(0, true)))
	report, discarded = sub.consume(segment(6, 1, false, member(1, true)))
	if report == nil || discarded != nil {
		t.Fatalf("expected clean assembly after recovery, got report=%v err=%v", report, discarded)
	}
}

func TestSegmentGapDiscardsPartial(t *testing.T) {
	sub := &reportSubscription{}

	sub.consume(segment(7, 0, true, member(0, true)))
	report, discarded := sub.consume(segment(7, 2, false, member(2, true)))
	if report != nil {
		t.Fatal("a gap in the train must not produce a report")
	}
	if discarded == nil {
		t.Fatal("expected discard error on gap")
	}
	if sub.partial != nil {
		t.Error("partial state must be dropped after a gap")
	}
}

func TestNewSeqNumSupersedesPartial(t *testing.T) {
	sub := &reportSubscription{}

	sub.consume(segment(8, 0, true, member(0, true)))
	report, discarded := sub.consume(segment(9, 0, false, member(1, true)))
	if discarded == nil {
		t.Error("expected the stale partial to be reported as discarded")
	}
	if report == nil {
		t.Fatal("the superseding report must be delivered")
	}
	if report.GetSeqNum() != 9 {
		t.Errorf("expected seqNum 9, got %d", report.GetSeqNum())
	}
	if report.GetReasonForInclusion(0) != IEC61850_REASON_NOT_INCLUDED {
		t.Error("stale members must not leak into the new report")
	}
}

func TestUnsegmentedReportClosesPartial(t *testing.T) {
	sub := &reportSubscription{}

	sub.consume(segment(10, 0, true, member(0, true)))
	plain := ReportNotification{
		RcbRef:    "testLD/LLN0.RP.urcb01",
		RptID:     "events01",
		HasSeqNum: true,
		SeqNum:    11,
		Members:   []ReportedMember{member(2, true)},
	}
	report, discarded := sub.consume(plain)
	if discarded == nil {
		t.Error("expected the open partial to be discarded")
	}
	if report == nil || report.GetSeqNum() != 11 {
		t.Fatalf("expected the unsegmented report delivered, got %v", report)
	}
}
