// Package reporting aggregates call records for operators and agents.
package reporting

import (
	"context"
	"errors"
	"strings"

	"voice-bridge/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Source lists the records to aggregate. *calls.Ledger satisfies it; only
// records inside the retention window are visible.
type Source interface {
	All() []calls.CallRecord
}

type Service struct {
	src Source
}

func NewService(src Source) *Service { return &Service{src: src} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if !req.Range.From.IsZero() && !req.Range.To.IsZero() && !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	switch req.Direction {
	case "", calls.DirectionInbound, calls.DirectionOutbound:
	default:
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.src == nil {
		return CallsSummary{}, errors.New("reporting: source not configured")
	}
	if err := ctx.Err(); err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, Direction: req.Direction}
	answered, timed := 0, 0
	for _, c := range s.src.All() {
		if req.Direction != "" && c.Direction != req.Direction {
			continue
		}
		if !req.Range.Contains(c.CreatedAt) {
			continue
		}

		out.TotalCalls++
		if c.Direction == calls.DirectionInbound {
			out.InboundCalls++
		} else {
			out.OutboundCalls++
		}
		if c.AnsweredAt != nil {
			answered++
		}
		if strings.HasPrefix(c.AnsweredBy, "machine") || c.AnsweredBy == "fax" {
			out.MachineAnswered++
		}
		if c.Outcome != nil {
			out.OutcomesReported++
			if c.Outcome.Success {
				out.OutcomesSucceeded++
			}
		}

		if c.Status.IsTerminal() && c.AnsweredAt != nil {
			timed++
			out.TotalDurationSeconds += c.DurationSeconds()
		}

		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusFailed:
			out.FailedCalls++
		case calls.StatusNoAnswer:
			out.NoAnswerCalls++
		case calls.StatusBusy:
			out.BusyCalls++
		default:
			out.ActiveCalls++
		}
	}

	if timed > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / timed
	}
	if answered > 0 {
		out.SuccessRate = float64(out.OutcomesSucceeded) / float64(answered)
	}
	if out.TotalCalls > 0 {
		out.ConnectionRate = float64(answered) / float64(out.TotalCalls)
	}
	return out, nil
}
