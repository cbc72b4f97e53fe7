package app

import (
	"context"
	"crypto/subtle"
	"fmt"

	"github.com/rs/zerolog/log"

	"exchange_compass/internal/adapters/observability"
	"exchange_compass/internal/domain"
)

// validTransitions is the whole moderation lifecycle: pending fans out to the
// two terminal states and nothing ever leaves them. Repeating the current
// state is handled before this table is consulted, so a double-click on
// "approve" stays a no-op success.
var validTransitions = map[domain.Status]map[domain.Status]bool{
	domain.StatusPending: {
		domain.StatusApproved: true,
		domain.StatusRejected: true,
	},
	domain.StatusApproved: {},
	domain.StatusRejected: {},
}

type ModerationService struct {
	repo  domain.ReviewRepository
	cache domain.Cache
	token string
}

func NewModerationService(repo domain.ReviewRepository, cache domain.Cache, token string) *ModerationService {
	return &ModerationService{repo: repo, cache: cache, token: token}
}

// authorize rejects everything when no token is configured; an unset secret
// must fail closed, not open.
func (s *ModerationService) authorize(token string) error {
	if s.token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) != 1 {
		return domain.ErrUnauthorized
	}
	return nil
}

func (s *ModerationService) Approve(ctx context.Context, token string, id int64) (domain.ReviewRecord, error) {
	return s.transition(ctx, token, id, domain.StatusApproved)
}

func (s *ModerationService) Reject(ctx context.Context, token string, id int64) (domain.ReviewRecord, error) {
	return s.transition(ctx, token, id, domain.StatusRejected)
}

func (s *ModerationService) transition(ctx context.Context, token string, id int64, target domain.Status) (domain.ReviewRecord, error) {
	if err := s.authorize(token); err != nil {
		return domain.ReviewRecord{}, err
	}
	rec, err := s.repo.GetReview(ctx, id)
	if err != nil {
		return domain.ReviewRecord{}, err
	}
	if rec.Status == target {
		return rec, nil
	}
	if !validTransitions[rec.Status][target] {
		return domain.ReviewRecord{}, fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, target)
	}
	// UpdateStatus compare-and-swaps on the status we read, so a concurrent
	// decision surfaces as a conflict instead of silently winning.
	if err := s.repo.UpdateStatus(ctx, id, rec.Status, target); err != nil {
		return domain.ReviewRecord{}, err
	}
	rec.Status = target
	observability.ObserveModeration(string(target))
	log.Info().Int64("id", id).Str("status", string(target)).Msg("moderation decision")
	invalidateUniCaches(ctx, s.cache, rec.UniName)
	return rec, nil
}

// ListPending is the moderation queue, oldest first.
func (s *ModerationService) ListPending(ctx context.Context, token string, limit int) ([]domain.ReviewRecord, error) {
	if err := s.authorize(token); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.repo.ListByStatus(ctx, domain.StatusPending, limit)
}
