package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"exchange_compass/internal/adapters/observability"
	"exchange_compass/internal/domain"
)

// Scorer runs text through the external classifier via the classification
// cache and enforces the all-or-nothing result contract: either every field
// comes back present and in range, or the caller gets ErrScoringFailure and
// persists the review with no AI fields at all.
type Scorer struct {
	ai      domain.Classifier
	cache   *ScoreCache
	timeout time.Duration
}

func NewScorer(ai domain.Classifier, cache *ScoreCache, timeout time.Duration) *Scorer {
	return &Scorer{ai: ai, cache: cache, timeout: timeout}
}

func (s *Scorer) Score(ctx context.Context, text string, lang domain.Language) (*domain.ClassifierResult, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	res, err := s.cache.GetOrCompute(ctx, text, lang, func(ctx context.Context) (*domain.ClassifierResult, error) {
		out, err := s.ai.ClassifyReview(ctx, text, lang)
		if err != nil {
			return nil, err
		}
		if verr := validateResult(out); verr != nil {
			return nil, verr
		}
		return out, nil
	})
	if err != nil {
		observability.ObserveClassification("failed")
		return nil, fmt.Errorf("%w: %v", domain.ErrScoringFailure, err)
	}
	return res, nil
}

// validateResult rejects partial or out-of-range classifier output. Invalid
// results never reach the cache, so a later rescore gets a fresh attempt.
func validateResult(r *domain.ClassifierResult) error {
	if r == nil {
		return fmt.Errorf("classifier returned no result")
	}
	if r.OverallSentiment == nil || r.AcademicsScore == nil || r.CostScore == nil ||
		r.SocialScore == nil || r.AccommodationScore == nil || r.ThemeSummary == nil {
		return fmt.Errorf("classifier result is missing required fields")
	}
	if _, err := ParseSentiment(*r.OverallSentiment); err != nil {
		return err
	}
	for _, c := range []struct {
		name string
		val  int
	}{
		{"academics_score", *r.AcademicsScore},
		{"cost_score", *r.CostScore},
		{"social_score", *r.SocialScore},
		{"accommodation_score", *r.AccommodationScore},
	} {
		if c.val < 1 || c.val > 5 {
			return fmt.Errorf("%s %d outside 1..5", c.name, c.val)
		}
	}
	if strings.TrimSpace(*r.ThemeSummary) == "" {
		return fmt.Errorf("classifier result has empty theme_summary")
	}
	return nil
}

func ParseSentiment(s string) (domain.Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive":
		return domain.SentimentPositive, nil
	case "neutral":
		return domain.SentimentNeutral, nil
	case "negative":
		return domain.SentimentNegative, nil
	}
	return "", fmt.Errorf("unrecognized sentiment %q", s)
}
