package mysql

const insertReviewSQL = `
INSERT INTO exchange_reviews
  (uni_name, city, major, source_type, raw_review_text, raw_language,
   academics_score, cost_score, social_score, accommodation_score,
   overall_sentiment, theme_summary, reviewer_type, status)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`

const backfillScoresSQL = `
UPDATE exchange_reviews SET
  academics_score     = ?,
  cost_score          = ?,
  social_score        = ?,
  accommodation_score = ?,
  overall_sentiment   = ?,
  theme_summary       = ?,
  updated_at          = CURRENT_TIMESTAMP
WHERE id = ?
`

// Compare-and-swap on the status the caller read; a lost race shows up as
// zero affected rows instead of a silent overwrite.
const updateStatusSQL = `
UPDATE exchange_reviews SET
  status     = ?,
  updated_at = CURRENT_TIMESTAMP
WHERE id = ? AND status = ?
`

// Entries are immutable: identical text re-scored by a racing worker yields
// the same row, so the first insert wins and the duplicate is a no-op.
const putClassificationSQL = `
INSERT INTO classification_cache
  (fingerprint, language, overall_sentiment, academics_score, cost_score,
   social_score, accommodation_score, theme_summary, model)
VALUES
  (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE fingerprint = fingerprint
`

// -----------------------------------------------------------------------------
// READ QUERIES
// -----------------------------------------------------------------------------

// reviewColumns is the scan order every full-record SELECT shares; keep it in
// sync with scanReview.
const reviewColumns = `
  id, uni_name, city, major, source_type, raw_review_text, raw_language,
  academics_score, cost_score, social_score, accommodation_score,
  overall_sentiment, theme_summary, reviewer_type, status,
  created_at, updated_at
`

const getReviewSQL = `
SELECT` + reviewColumns + `
FROM exchange_reviews
WHERE id = ?
`

// Oldest first: the moderation queue drains in arrival order.
const listByStatusSQL = `
SELECT` + reviewColumns + `
FROM exchange_reviews
WHERE status = ?
ORDER BY created_at ASC, id ASC
LIMIT ?
`

const listApprovedByUniSQL = `
SELECT` + reviewColumns + `
FROM exchange_reviews
WHERE uni_name = ? AND status = 'approved'
ORDER BY created_at DESC, id DESC
LIMIT ?
`

const listUnscoredSQL = `
SELECT` + reviewColumns + `
FROM exchange_reviews
WHERE reviewer_type = 'ai_processed'
  AND academics_score IS NULL AND cost_score IS NULL
  AND social_score IS NULL AND accommodation_score IS NULL
ORDER BY id ASC
LIMIT ?
`

// Aggregation happens in the app layer; this only feeds it the approved rows.
const listAggregateRowsSQL = `
SELECT uni_name, city, major, source_type,
       academics_score, cost_score, social_score, accommodation_score
FROM exchange_reviews
WHERE status = 'approved'
`

const listSummaryInputsSQL = `
SELECT id, theme_summary, raw_review_text
FROM exchange_reviews
WHERE uni_name = ? AND status = 'approved'
ORDER BY created_at DESC, id DESC
LIMIT ?
`

const getClassificationSQL = `
SELECT overall_sentiment, academics_score, cost_score, social_score,
       accommodation_score, theme_summary
FROM classification_cache
WHERE fingerprint = ?
`
