package domain

import "context"

type ReviewRepository interface {
	// Write paths
	InsertReview(ctx context.Context, r *ReviewRecord) (int64, error)
	BackfillScores(ctx context.Context, id int64, sc AspectScores, sentiment Sentiment, summary string) error
	UpdateStatus(ctx context.Context, id int64, from, to Status) error

	// Read paths
	GetReview(ctx context.Context, id int64) (ReviewRecord, error)
	ListByStatus(ctx context.Context, st Status, limit int) ([]ReviewRecord, error)
	ListApprovedByUni(ctx context.Context, uni string, limit int) ([]ReviewRecord, error)
	ListAggregateRows(ctx context.Context) ([]AggregateRow, error)
	ListSummaryInputs(ctx context.Context, uni string, n int) ([]SummaryInput, error)
	ListUnscored(ctx context.Context, limit int) ([]ReviewRecord, error)
}

type Classifier interface {
	ClassifyReview(ctx context.Context, text string, lang Language) (*ClassifierResult, error)
	SynthesizeSummary(ctx context.Context, uniName string, excerpts []string) (string, error)
}

// ClassificationStore is the durable side of the classification cache.
type ClassificationStore interface {
	GetClassification(ctx context.Context, fingerprint string) (*ClassifierResult, bool, error)
	PutClassification(ctx context.Context, e ClassificationEntry) error
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// Read models & queries
type AggregateRow struct {
	UniName    string
	City       string
	Major      *string
	SourceType SourceType
	AspectScores
}

type SummaryInput struct {
	ID           int64
	ThemeSummary *string
	RawText      string
}
