package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"exchange_compass/internal/domain"
)

const reviewsPageLimit = 100

type QueryConfig struct {
	CacheTTL         time.Duration
	SummaryTTL       time.Duration
	SummaryMaxInputs int
	ScrapeWeight     float64
}

type QueryService struct {
	repo  domain.ReviewRepository
	cache domain.Cache
	ai    domain.Classifier
	cfg   QueryConfig
}

func NewQueryService(r domain.ReviewRepository, c domain.Cache, ai domain.Classifier, cfg QueryConfig) *QueryService {
	if cfg.SummaryMaxInputs <= 0 {
		cfg.SummaryMaxInputs = 25
	}
	if cfg.ScrapeWeight <= 0 {
		cfg.ScrapeWeight = 0.5
	}
	return &QueryService{repo: r, cache: c, ai: ai, cfg: cfg}
}

// ListUniversities returns every university aggregate, or only those with at
// least one record for the given major. Only the unfiltered listing is
// cached; filtered requests recompute from the same row set.
func (s *QueryService) ListUniversities(ctx context.Context, major *string) ([]domain.UniversityAggregate, error) {
	filter := ""
	if major != nil {
		filter = strings.TrimSpace(*major)
	}
	if filter == "" {
		var out []domain.UniversityAggregate
		if ok, _ := s.cache.Get(ctx, "unis:all", &out); ok {
			return out, nil
		}
	}
	rows, err := s.repo.ListAggregateRows(ctx)
	if err != nil {
		return nil, err
	}
	aggs := buildAggregates(rows, s.cfg.ScrapeWeight)
	if filter == "" {
		_ = s.cache.Set(ctx, "unis:all", aggs, int(s.cfg.CacheTTL.Seconds()))
		return aggs, nil
	}
	keep := unisWithMajor(rows, filter)
	out := make([]domain.UniversityAggregate, 0, len(aggs))
	for _, a := range aggs {
		if _, ok := keep[a.UniName]; ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// GetUniversity returns one aggregate with its narrative summary attached.
// A summary failure degrades to the plain aggregate rather than failing the
// request.
func (s *QueryService) GetUniversity(ctx context.Context, uni string) (domain.UniversityAggregate, error) {
	key := "agg:" + uni
	var agg domain.UniversityAggregate
	if ok, _ := s.cache.Get(ctx, key, &agg); ok {
		return agg, nil
	}
	rows, err := s.repo.ListAggregateRows(ctx)
	if err != nil {
		return domain.UniversityAggregate{}, err
	}
	for _, a := range buildAggregates(rows, s.cfg.ScrapeWeight) {
		if a.UniName != uni {
			continue
		}
		if sum, serr := s.Summary(ctx, uni); serr != nil {
			log.Warn().Err(serr).Str("uni", uni).Msg("summary unavailable, serving aggregate without it")
		} else if sum != "" {
			a.ThemeSummary = &sum
		}
		_ = s.cache.Set(ctx, key, a, int(s.cfg.CacheTTL.Seconds()))
		return a, nil
	}
	return domain.UniversityAggregate{}, fmt.Errorf("%w: university %q", domain.ErrNotFound, uni)
}

// Summary returns the narrative paragraph for a university. The cache key
// embeds a fingerprint of the contributing review ids, so a changed review
// set is a natural miss and no explicit invalidation is needed; the TTL
// bounds staleness of the prose itself.
func (s *QueryService) Summary(ctx context.Context, uni string) (string, error) {
	inputs, err := s.repo.ListSummaryInputs(ctx, uni, s.cfg.SummaryMaxInputs)
	if err != nil {
		return "", err
	}
	ids := make([]int64, len(inputs))
	excerpts := make([]string, 0, len(inputs))
	for i, in := range inputs {
		ids[i] = in.ID
		// prefer the per-review theme summary; it is already condensed
		if in.ThemeSummary != nil && strings.TrimSpace(*in.ThemeSummary) != "" {
			excerpts = append(excerpts, strings.TrimSpace(*in.ThemeSummary))
		} else if t := strings.TrimSpace(in.RawText); t != "" {
			excerpts = append(excerpts, t)
		}
	}
	if len(excerpts) == 0 {
		return fmt.Sprintf("No reviews found for %s.", uni), nil
	}

	key := "summary:" + uni + ":" + idsFingerprint(ids)
	var cached string
	if ok, _ := s.cache.Get(ctx, key, &cached); ok && cached != "" {
		return cached, nil
	}
	text, err := s.ai.SynthesizeSummary(ctx, uni, excerpts)
	if err != nil {
		return "", err
	}
	_ = s.cache.Set(ctx, key, text, int(s.cfg.SummaryTTL.Seconds()))
	return text, nil
}

// ListApprovedReviews returns the public review listing for one university.
func (s *QueryService) ListApprovedReviews(ctx context.Context, uni string) ([]domain.ReviewRecord, error) {
	key := "reviews:" + uni
	var out []domain.ReviewRecord
	if ok, _ := s.cache.Get(ctx, key, &out); ok {
		return out, nil
	}
	rs, err := s.repo.ListApprovedByUni(ctx, uni, reviewsPageLimit)
	if err != nil {
		return nil, err
	}

	// copy to avoid aliasing the repo's backing array in the cached value
	cp := make([]domain.ReviewRecord, len(rs))
	copy(cp, rs)

	if b, _ := json.Marshal(cp); len(b) < 1_000_000 {
		_ = s.cache.Set(ctx, key, cp, int(s.cfg.CacheTTL.Seconds()))
	}
	return cp, nil
}

func idsFingerprint(ids []int64) string {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	h := sha256.New()
	for _, id := range ids {
		fmt.Fprintf(h, "%d,", id)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
