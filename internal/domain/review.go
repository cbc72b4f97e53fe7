package domain

import "time"

type SourceType string

const (
	SourceSurvey        SourceType = "survey"
	SourceWebScrape     SourceType = "web_scrape"
	SourceUserSubmitted SourceType = "user_submitted"
)

type ReviewerType string

const (
	ReviewerAIProcessed   ReviewerType = "ai_processed"
	ReviewerUserSubmitted ReviewerType = "user_submitted"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

type Language string

const (
	LangEnglish Language = "en"
	LangArabic  Language = "ar"
	LangUnknown Language = "unknown"
)

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// AspectScores holds the four 1-5 ratings. A nil field means that aspect
// was never scored, which is distinct from any numeric value.
type AspectScores struct {
	Academics     *int `json:"academics_score,omitempty"`
	Cost          *int `json:"cost_score,omitempty"`
	Social        *int `json:"social_score,omitempty"`
	Accommodation *int `json:"accommodation_score,omitempty"`
}

func (a AspectScores) Empty() bool {
	return a.Academics == nil && a.Cost == nil && a.Social == nil && a.Accommodation == nil
}

func (a AspectScores) Complete() bool {
	return a.Academics != nil && a.Cost != nil && a.Social != nil && a.Accommodation != nil
}

// InRange reports whether every present score is within [1,5].
func (a AspectScores) InRange() bool {
	for _, p := range []*int{a.Academics, a.Cost, a.Social, a.Accommodation} {
		if p != nil && (*p < 1 || *p > 5) {
			return false
		}
	}
	return true
}

// ReviewRecord is one ingested opinion. raw_review_text is stored only after
// PII stripping; score fields stay nil for records the classifier could not
// handle.
type ReviewRecord struct {
	ID            int64      `json:"id"`
	UniName       string     `json:"uni_name"`
	City          string     `json:"city"`
	Major         *string    `json:"major,omitempty"`
	SourceType    SourceType `json:"source_type"`
	RawReviewText string     `json:"raw_review_text"`
	RawLanguage   Language   `json:"raw_language"`
	AspectScores
	OverallSentiment *Sentiment   `json:"overall_sentiment,omitempty"`
	ThemeSummary     *string      `json:"theme_summary,omitempty"`
	ReviewerType     ReviewerType `json:"reviewer_type"`
	Status           Status       `json:"status"`
	CreatedAt        time.Time    `json:"created_at"`
	UpdatedAt        time.Time    `json:"-"`
}

// RawReview is a batch row after ingest-side field mapping, before
// normalization.
type RawReview struct {
	UniName    string
	City       string
	Major      *string
	SourceType SourceType
	Text       string
}

// Submission is the user-facing review payload. Scores are self-reported and
// authoritative; the pipeline never overwrites them.
type Submission struct {
	UniName string  `json:"uni_name"`
	City    string  `json:"city"`
	Major   *string `json:"major,omitempty"`
	Text    string  `json:"raw_review_text"`
	AspectScores
}

// ClassifierResult is the external service's structured output. Pointer
// fields let validation distinguish absent from zero.
type ClassifierResult struct {
	OverallSentiment   *string `json:"overall_sentiment"`
	AcademicsScore     *int    `json:"academics_score"`
	CostScore          *int    `json:"cost_score"`
	SocialScore        *int    `json:"social_score"`
	AccommodationScore *int    `json:"accommodation_score"`
	ThemeSummary       *string `json:"theme_summary"`
}

// Clone deep-copies the result so cached entries never share pointers with
// callers that may mutate them.
func (r ClassifierResult) Clone() ClassifierResult {
	out := ClassifierResult{}
	if r.OverallSentiment != nil {
		v := *r.OverallSentiment
		out.OverallSentiment = &v
	}
	if r.AcademicsScore != nil {
		v := *r.AcademicsScore
		out.AcademicsScore = &v
	}
	if r.CostScore != nil {
		v := *r.CostScore
		out.CostScore = &v
	}
	if r.SocialScore != nil {
		v := *r.SocialScore
		out.SocialScore = &v
	}
	if r.AccommodationScore != nil {
		v := *r.AccommodationScore
		out.AccommodationScore = &v
	}
	if r.ThemeSummary != nil {
		v := *r.ThemeSummary
		out.ThemeSummary = &v
	}
	return out
}

// ClassificationEntry is one durable cache row; entries are created once and
// never mutated (changed text means a different fingerprint).
type ClassificationEntry struct {
	Fingerprint string
	Language    Language
	Result      ClassifierResult
	Model       string
	CreatedAt   time.Time
}

// BatchReport summarizes one ingest run.
type BatchReport struct {
	RunID           string `json:"run_id"`
	Succeeded       int    `json:"succeeded"`
	ScoringFailed   int    `json:"scoring_failed"`
	ContentRejected int    `json:"content_rejected"`
}
