package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"exchange_compass/internal/adapters/observability"
	"exchange_compass/internal/domain"
)

type rowOutcome int

const (
	outcomeSucceeded rowOutcome = iota
	outcomeScoringFailed
	outcomeContentRejected
	// persist failures are logged and counted in metrics but kept out of the
	// batch report, whose buckets cover only rows the pipeline finished with
	outcomePersistFailed
)

type IngestionService struct {
	repo    domain.ReviewRepository
	scorer  *Scorer
	cache   domain.Cache
	workers int
	enrich  bool
}

func NewIngestionService(repo domain.ReviewRepository, scorer *Scorer, cache domain.Cache, workers int, enrich bool) *IngestionService {
	return &IngestionService{repo: repo, scorer: scorer, cache: cache, workers: workers, enrich: enrich}
}

// IngestBatch runs the full pipeline over a batch with bounded parallelism.
// Rows are independent: one bad row is counted and skipped, never fatal. A
// canceled context stops scheduling further rows and leaves already-persisted
// rows intact; re-running the same file is safe because identical text is a
// classification cache hit.
func (s *IngestionService) IngestBatch(ctx context.Context, rows []domain.RawReview) domain.BatchReport {
	report := domain.BatchReport{RunID: uuid.NewString()}
	if len(rows) == 0 {
		return report
	}

	workers := s.workers
	if workers < 1 {
		workers = 1
	}
	sem := semaphore.NewWeighted(int64(workers))
	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	unis := make(map[string]struct{})

	for _, row := range rows {
		row := row

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Warn().Err(err).Str("run_id", report.RunID).Msg("batch canceled, remaining rows not scheduled")
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(int64(1))

			outcome, uni := s.ingestRow(ctx, row)
			mu.Lock()
			switch outcome {
			case outcomeSucceeded:
				report.Succeeded++
				unis[uni] = struct{}{}
			case outcomeScoringFailed:
				report.ScoringFailed++
				unis[uni] = struct{}{}
			case outcomeContentRejected:
				report.ContentRejected++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	for uni := range unis {
		invalidateUniCaches(ctx, s.cache, uni)
	}

	log.Info().
		Str("run_id", report.RunID).
		Int("succeeded", report.Succeeded).
		Int("scoring_failed", report.ScoringFailed).
		Int("content_rejected", report.ContentRejected).
		Msg("batch ingest finished")
	return report
}

// ingestRow takes one raw row through normalize, score, persist. Batch rows
// are auto-approved AI output; only user submissions enter moderation.
func (s *IngestionService) ingestRow(ctx context.Context, row domain.RawReview) (rowOutcome, string) {
	source := string(row.SourceType)

	uni := strings.TrimSpace(row.UniName)
	if uni == "" {
		observability.ObserveIngestRow(source, "content_rejected")
		return outcomeContentRejected, ""
	}
	clean, lang, err := Normalize(row.Text, row.SourceType)
	if err != nil {
		// empty or redaction-only text never produces a record
		observability.ObserveIngestRow(source, "content_rejected")
		return outcomeContentRejected, ""
	}

	rec := &domain.ReviewRecord{
		UniName:       uni,
		City:          strings.TrimSpace(row.City),
		Major:         row.Major,
		SourceType:    row.SourceType,
		RawReviewText: clean,
		RawLanguage:   lang,
		ReviewerType:  domain.ReviewerAIProcessed,
		Status:        domain.StatusApproved,
	}

	res, serr := s.scorer.Score(ctx, clean, lang)
	if serr == nil {
		applyResult(rec, res)
	}

	if _, ierr := s.repo.InsertReview(ctx, rec); ierr != nil {
		log.Error().Err(ierr).Str("uni", uni).Msg("review insert failed")
		observability.ObserveIngestRow(source, "persist_failed")
		return outcomePersistFailed, ""
	}

	if serr != nil {
		log.Warn().Err(serr).Str("uni", uni).Msg("scoring failed, row persisted unscored")
		observability.ObserveIngestRow(source, "scoring_failed")
		return outcomeScoringFailed, uni
	}
	observability.ObserveIngestRow(source, "succeeded")
	return outcomeSucceeded, uni
}

// IngestSubmission persists a user review as pending. Self-reported scores
// are authoritative and are never replaced by classifier output; structural
// validation happens before any external call is considered.
func (s *IngestionService) IngestSubmission(ctx context.Context, sub domain.Submission) (domain.ReviewRecord, error) {
	if err := validateSubmission(sub); err != nil {
		return domain.ReviewRecord{}, err
	}
	clean, lang, err := Normalize(sub.Text, domain.SourceUserSubmitted)
	if err != nil {
		return domain.ReviewRecord{}, err
	}

	sent := deriveSentiment(sub.AspectScores)
	rec := &domain.ReviewRecord{
		UniName:       strings.TrimSpace(sub.UniName),
		City:          strings.TrimSpace(sub.City),
		Major:         sub.Major,
		SourceType:    domain.SourceUserSubmitted,
		RawReviewText: clean,
		RawLanguage:   lang,
		AspectScores: domain.AspectScores{
			Academics:     cloneInt(sub.Academics),
			Cost:          cloneInt(sub.Cost),
			Social:        cloneInt(sub.Social),
			Accommodation: cloneInt(sub.Accommodation),
		},
		OverallSentiment: &sent,
		ReviewerType:     domain.ReviewerUserSubmitted,
		Status:           domain.StatusPending,
	}

	if s.enrich {
		// theme summary only; a failed enrichment is not a failed submission
		if res, serr := s.scorer.Score(ctx, clean, lang); serr != nil {
			log.Warn().Err(serr).Msg("submission enrichment failed, keeping user scores only")
		} else if res.ThemeSummary != nil {
			t := strings.TrimSpace(*res.ThemeSummary)
			rec.ThemeSummary = &t
		}
	}

	id, ierr := s.repo.InsertReview(ctx, rec)
	if ierr != nil {
		return domain.ReviewRecord{}, fmt.Errorf("persist submission: %w", ierr)
	}
	rec.ID = id
	observability.ObserveIngestRow(string(domain.SourceUserSubmitted), "succeeded")
	// pending rows are invisible to readers; caches stay put until approval
	return *rec, nil
}

// RescoreUnscored retries classification for rows persisted without scores.
// Previously failed batches become cheap to repair once the upstream blip is
// over: unchanged text that did score is a cache hit.
func (s *IngestionService) RescoreUnscored(ctx context.Context, limit int) (int, error) {
	rows, err := s.repo.ListUnscored(ctx, limit)
	if err != nil {
		return 0, err
	}
	fixed := 0
	unis := make(map[string]struct{})
	for _, rec := range rows {
		res, serr := s.scorer.Score(ctx, rec.RawReviewText, rec.RawLanguage)
		if serr != nil {
			log.Warn().Int64("id", rec.ID).Err(serr).Msg("rescore failed")
			continue
		}
		sent, _ := ParseSentiment(*res.OverallSentiment)
		sc := domain.AspectScores{
			Academics:     cloneInt(res.AcademicsScore),
			Cost:          cloneInt(res.CostScore),
			Social:        cloneInt(res.SocialScore),
			Accommodation: cloneInt(res.AccommodationScore),
		}
		if berr := s.repo.BackfillScores(ctx, rec.ID, sc, sent, strings.TrimSpace(*res.ThemeSummary)); berr != nil {
			log.Error().Int64("id", rec.ID).Err(berr).Msg("score backfill failed")
			continue
		}
		fixed++
		unis[rec.UniName] = struct{}{}
	}
	for uni := range unis {
		invalidateUniCaches(ctx, s.cache, uni)
	}
	return fixed, nil
}

// applyResult copies a validated classifier result onto the record.
// validateResult already guaranteed every field is present and in range.
func applyResult(rec *domain.ReviewRecord, res *domain.ClassifierResult) {
	sent, _ := ParseSentiment(*res.OverallSentiment)
	rec.OverallSentiment = &sent
	rec.Academics = cloneInt(res.AcademicsScore)
	rec.Cost = cloneInt(res.CostScore)
	rec.Social = cloneInt(res.SocialScore)
	rec.Accommodation = cloneInt(res.AccommodationScore)
	summary := strings.TrimSpace(*res.ThemeSummary)
	rec.ThemeSummary = &summary
}

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func validateSubmission(sub domain.Submission) error {
	if strings.TrimSpace(sub.UniName) == "" {
		return fmt.Errorf("%w: uni_name is required", domain.ErrValidation)
	}
	if strings.TrimSpace(sub.City) == "" {
		return fmt.Errorf("%w: city is required", domain.ErrValidation)
	}
	if !sub.Complete() {
		return fmt.Errorf("%w: all four aspect scores are required", domain.ErrValidation)
	}
	if !sub.InRange() {
		return fmt.Errorf("%w: aspect scores must be between 1 and 5", domain.ErrValidation)
	}
	return nil
}

// deriveSentiment maps the self-reported score mean onto the sentiment scale
// the classifier uses, so mixed listings stay comparable.
func deriveSentiment(sc domain.AspectScores) domain.Sentiment {
	sum, n := 0, 0
	for _, p := range []*int{sc.Academics, sc.Cost, sc.Social, sc.Accommodation} {
		if p != nil {
			sum += *p
			n++
		}
	}
	if n == 0 {
		return domain.SentimentNeutral
	}
	mean := float64(sum) / float64(n)
	switch {
	case mean >= 3.5:
		return domain.SentimentPositive
	case mean <= 2.5:
		return domain.SentimentNegative
	}
	return domain.SentimentNeutral
}

// invalidateUniCaches drops every read-side key a changed record set can
// stale out. The narrative summary key is left alone: it embeds the
// contributing review-id fingerprint, so membership changes miss it naturally.
func invalidateUniCaches(ctx context.Context, cache domain.Cache, uni string) {
	if cache == nil {
		return
	}
	_ = cache.Del(ctx, "unis:all")
	_ = cache.Del(ctx, "agg:"+uni)
	_ = cache.Del(ctx, "reviews:"+uni)
}
