package calllog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for call summaries.
//
// It MUST be append-only.
// No Update/Delete methods are provided.

type Repository interface {
	Append(ctx context.Context, s Summary) error
}

// Service appends terminal call summaries to the configured repository.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidSummary = errors.New("calllog: invalid summary")

func (s *Service) Append(ctx context.Context, sum Summary) error {
	if s == nil || s.repo == nil {
		return errors.New("calllog: repository not configured")
	}
	if sum.CallID == "" || sum.Status == "" {
		return ErrInvalidSummary
	}

	if sum.ID == "" {
		sum.ID = uuid.NewString()
	}
	if sum.RecordedAt.IsZero() {
		sum.RecordedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, sum)
}

// MultiRepo fans one summary out to every repository. All repositories are
// attempted; failures are joined.
type MultiRepo []Repository

func (m MultiRepo) Append(ctx context.Context, s Summary) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Append(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
