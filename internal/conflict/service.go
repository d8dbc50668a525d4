package conflict

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/SWAB-ITO/swab-app-sub000/internal/model"
	"github.com/SWAB-ITO/swab-app-sub000/internal/normalize"
	"github.com/SWAB-ITO/swab-app-sub000/internal/store"
)

// Errors returned by Service.
var (
	ErrAlreadyDecided  = eris.New("conflict: already decided")
	ErrInvalidDecision = eris.New("conflict: invalid decision")
)

// Repository is the part of store.Store the operator service needs.
type Repository interface {
	GetConflict(ctx context.Context, id string) (*model.Conflict, error)
	ListConflicts(ctx context.Context, filter store.ConflictFilter) ([]model.Conflict, error)
	DecideConflict(ctx context.Context, c *model.Conflict, tasks []model.ArchiveTask) error
}

// Service is the operator contract for reviewing conflicts.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService creates a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// List returns conflicts matching filter.
func (s *Service) List(ctx context.Context, filter store.ConflictFilter) ([]model.Conflict, error) {
	return s.repo.ListConflicts(ctx, filter)
}

// Resolve records an operator decision on a pending conflict. Resolving a
// contact selection schedules every other candidate for archival in the same
// transaction.
func (s *Service) Resolve(ctx context.Context, id string, d model.Decision) (*model.Conflict, error) {
	c, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	chosen, err := c.Chosen(d)
	if err != nil {
		return nil, eris.Wrap(ErrInvalidDecision, err.Error())
	}

	now := s.now().UTC()
	var tasks []model.ArchiveTask

	switch p := c.Payload.(type) {
	case model.ContactSelectionPayload:
		ids := make([]string, len(p.Candidates))
		for i, cand := range p.Candidates {
			ids[i] = cand.ContactID
		}
		if !slices.Contains(ids, chosen) {
			return nil, eris.Wrapf(ErrInvalidDecision, "conflict: %s is not a candidate", chosen)
		}
		for _, loser := range ids {
			if loser == chosen {
				continue
			}
			tasks = append(tasks, model.ArchiveTask{
				ConflictID: c.ID,
				SubjectID:  c.SubjectID,
				WinnerID:   chosen,
				LoserID:    loser,
				Status:     model.ArchivePending,
				CreatedAt:  now,
				UpdatedAt:  now,
			})
		}
	case model.PhoneMismatchPayload:
		if chosen = normalize.Phone(chosen); chosen == "" {
			return nil, eris.Wrap(ErrInvalidDecision, "conflict: value is not a valid phone")
		}
	case model.EmailMismatchPayload:
		if chosen = normalize.Email(chosen); chosen == "" {
			return nil, eris.Wrap(ErrInvalidDecision, "conflict: value is not a valid email")
		}
	case model.CollisionPayload:
		if chosen == "" || !slices.Contains(p.IdentityIDs, chosen) {
			return nil, eris.Wrapf(ErrInvalidDecision, "conflict: %s is not a colliding identity", chosen)
		}
	default:
		return nil, eris.Errorf("conflict: %s has no known payload", c.ID)
	}

	c.Status = model.ConflictResolved
	c.Decision = &model.Decision{Kind: d.Kind, Value: chosen, By: d.By}
	c.ResolvedAt = &now
	if err := s.decide(ctx, c, tasks); err != nil {
		return nil, err
	}

	zap.L().Info("conflict resolved",
		zap.String("component", "conflict.service"),
		zap.String("conflict_id", c.ID),
		zap.String("type", string(c.Type)),
		zap.String("chosen", chosen),
		zap.Int("archive_tasks", len(tasks)),
	)
	return c, nil
}

// Skip closes a pending conflict without a decision. The disagreement is not
// raised again while its dedupe key is unchanged.
func (s *Service) Skip(ctx context.Context, id, by string) (*model.Conflict, error) {
	c, err := s.pending(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	c.Status = model.ConflictSkipped
	c.ResolvedAt = &now
	if by != "" {
		c.Decision = &model.Decision{By: by}
	}
	if err := s.decide(ctx, c, nil); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) pending(ctx context.Context, id string) (*model.Conflict, error) {
	c, err := s.repo.GetConflict(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != model.ConflictPending {
		return nil, eris.Wrapf(ErrAlreadyDecided, "conflict: %s is %s", id, c.Status)
	}
	return c, nil
}

func (s *Service) decide(ctx context.Context, c *model.Conflict, tasks []model.ArchiveTask) error {
	err := s.repo.DecideConflict(ctx, c, tasks)
	if errors.Is(err, store.ErrNotPending) {
		return eris.Wrapf(ErrAlreadyDecided, "conflict: %s", c.ID)
	}
	return err
}
