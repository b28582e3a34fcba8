package reporting

import (
	"context"
	"errors"
	"testing"
	"time"

	"voice-bridge/internal/calls"
)

type staticSource []calls.CallRecord

func (s staticSource) All() []calls.CallRecord { return s }

func ptr(t time.Time) *time.Time { return &t }

func TestCallsSummary(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	src := staticSource{
		{ID: "1", Direction: calls.DirectionOutbound, Status: calls.StatusCompleted, CreatedAt: base, AnsweredAt: ptr(base), Duration: 90 * time.Second,
			Outcome: &calls.Outcome{Success: true, Summary: "booked"}},
		{ID: "2", Direction: calls.DirectionOutbound, Status: calls.StatusCompleted, CreatedAt: base.Add(time.Minute), AnsweredAt: ptr(base), Duration: 30 * time.Second,
			AnsweredBy: "machine_end_beep", Outcome: &calls.Outcome{Success: false, Summary: "voicemail"}},
		{ID: "3", Direction: calls.DirectionOutbound, Status: calls.StatusNoAnswer, CreatedAt: base.Add(2 * time.Minute)},
		{ID: "4", Direction: calls.DirectionInbound, Status: calls.StatusInProgress, CreatedAt: base.Add(3 * time.Minute), AnsweredAt: ptr(base)},
		{ID: "5", Direction: calls.DirectionInbound, Status: calls.StatusBusy, CreatedAt: base.Add(-time.Hour)},
	}
	svc := NewService(src)

	got, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Range: TimeRange{From: base, To: base.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got.TotalCalls != 4 || got.OutboundCalls != 3 || got.InboundCalls != 1 {
		t.Fatalf("unexpected counts %+v", got)
	}
	if got.CompletedCalls != 2 || got.NoAnswerCalls != 1 || got.ActiveCalls != 1 || got.BusyCalls != 0 {
		t.Fatalf("unexpected status counts %+v", got)
	}
	if got.MachineAnswered != 1 || got.OutcomesReported != 2 || got.OutcomesSucceeded != 1 {
		t.Fatalf("unexpected outcome counts %+v", got)
	}
	if got.TotalDurationSeconds != 120 || got.AverageDurationSeconds != 60 {
		t.Fatalf("unexpected durations %+v", got)
	}
	if got.ConnectionRate != 0.75 {
		t.Fatalf("expected connection rate 0.75, got %v", got.ConnectionRate)
	}

	in, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{Direction: calls.DirectionInbound})
	if err != nil || in.TotalCalls != 2 || in.BusyCalls != 1 {
		t.Fatalf("unexpected inbound summary %+v err=%v", in, err)
	}
}

func TestCallsSummaryRejectsBadRequest(t *testing.T) {
	svc := NewService(staticSource{})
	now := time.Now()
	cases := []CallsSummaryRequest{
		{Range: TimeRange{From: now, To: now}},
		{Direction: "sideways"},
	}
	for _, req := range cases {
		if _, err := svc.CallsSummary(context.Background(), req); !errors.Is(err, ErrInvalidRequest) {
			t.Fatalf("expected ErrInvalidRequest for %+v, got %v", req, err)
		}
	}
}
