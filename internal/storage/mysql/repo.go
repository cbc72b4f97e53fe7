package mysql

import (
	"context"
	"database/sql"
	"fmt"

	"exchange_compass/internal/domain"
)

func valStr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}
func valInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

type Repo struct{ db *sql.DB }

func New(db *sql.DB) *Repo { return &Repo{db: db} }

func (r *Repo) InsertReview(ctx context.Context, rec *domain.ReviewRecord) (int64, error) {
	var sentiment any
	if rec.OverallSentiment != nil {
		sentiment = string(*rec.OverallSentiment)
	}
	res, err := r.db.ExecContext(ctx, insertReviewSQL,
		rec.UniName,
		rec.City,
		valStr(rec.Major),
		string(rec.SourceType),
		rec.RawReviewText,
		string(rec.RawLanguage),
		valInt(rec.Academics),
		valInt(rec.Cost),
		valInt(rec.Social),
		valInt(rec.Accommodation),
		sentiment,
		valStr(rec.ThemeSummary),
		string(rec.ReviewerType),
		string(rec.Status),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Repo) BackfillScores(ctx context.Context, id int64, sc domain.AspectScores, sentiment domain.Sentiment, summary string) error {
	_, err := r.db.ExecContext(ctx, backfillScoresSQL,
		valInt(sc.Academics),
		valInt(sc.Cost),
		valInt(sc.Social),
		valInt(sc.Accommodation),
		string(sentiment),
		summary,
		id,
	)
	return err
}

func (r *Repo) UpdateStatus(ctx context.Context, id int64, from, to domain.Status) error {
	res, err := r.db.ExecContext(ctx, updateStatusSQL, string(to), id, string(from))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// Row missing or its status moved since the caller read it; one more
		// read tells the two apart.
		var cur string
		switch err := r.db.QueryRowContext(ctx,
			`SELECT status FROM exchange_reviews WHERE id = ?`, id).Scan(&cur); {
		case err == sql.ErrNoRows:
			return domain.ErrNotFound
		case err != nil:
			return err
		}
		return fmt.Errorf("%w: status is %s, expected %s", domain.ErrInvalidTransition, cur, from)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReview(row rowScanner) (domain.ReviewRecord, error) {
	var rec domain.ReviewRecord
	var (
		major                     sql.NullString
		source, lang              string
		acad, cost, social, accom sql.NullInt64
		sentiment, summary        sql.NullString
		reviewer, status          string
		created, updated          sql.NullTime
	)
	if err := row.Scan(
		&rec.ID,
		&rec.UniName,
		&rec.City,
		&major,
		&source,
		&rec.RawReviewText,
		&lang,
		&acad, &cost, &social, &accom,
		&sentiment,
		&summary,
		&reviewer,
		&status,
		&created, &updated,
	); err != nil {
		return domain.ReviewRecord{}, err
	}

	if major.Valid {
		m := major.String
		rec.Major = &m
	}
	rec.SourceType = domain.SourceType(source)
	rec.RawLanguage = domain.Language(lang)
	if acad.Valid {
		v := int(acad.Int64)
		rec.Academics = &v
	}
	if cost.Valid {
		v := int(cost.Int64)
		rec.Cost = &v
	}
	if social.Valid {
		v := int(social.Int64)
		rec.Social = &v
	}
	if accom.Valid {
		v := int(accom.Int64)
		rec.Accommodation = &v
	}
	if sentiment.Valid {
		s := domain.Sentiment(sentiment.String)
		rec.OverallSentiment = &s
	}
	if summary.Valid {
		s := summary.String
		rec.ThemeSummary = &s
	}
	rec.ReviewerType = domain.ReviewerType(reviewer)
	rec.Status = domain.Status(status)
	if created.Valid {
		rec.CreatedAt = created.Time
	}
	if updated.Valid {
		rec.UpdatedAt = updated.Time
	}
	return rec, nil
}

func (r *Repo) GetReview(ctx context.Context, id int64) (domain.ReviewRecord, error) {
	rec, err := scanReview(r.db.QueryRowContext(ctx, getReviewSQL, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return domain.ReviewRecord{}, domain.ErrNotFound
		}
		return domain.ReviewRecord{}, err
	}
	return rec, nil
}

func (r *Repo) listReviews(ctx context.Context, query string, args ...any) ([]domain.ReviewRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ReviewRecord
	for rows.Next() {
		rec, err := scanReview(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *Repo) ListByStatus(ctx context.Context, st domain.Status, limit int) ([]domain.ReviewRecord, error) {
	return r.listReviews(ctx, listByStatusSQL, string(st), limit)
}

func (r *Repo) ListApprovedByUni(ctx context.Context, uni string, limit int) ([]domain.ReviewRecord, error) {
	return r.listReviews(ctx, listApprovedByUniSQL, uni, limit)
}

func (r *Repo) ListUnscored(ctx context.Context, limit int) ([]domain.ReviewRecord, error) {
	return r.listReviews(ctx, listUnscoredSQL, limit)
}

func (r *Repo) ListAggregateRows(ctx context.Context) ([]domain.AggregateRow, error) {
	rows, err := r.db.QueryContext(ctx, listAggregateRowsSQL)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.AggregateRow
	for rows.Next() {
		var ar domain.AggregateRow
		var major sql.NullString
		var source string
		var acad, cost, social, accom sql.NullInt64
		if err := rows.Scan(&ar.UniName, &ar.City, &major, &source, &acad, &cost, &social, &accom); err != nil {
			return nil, err
		}
		if major.Valid {
			m := major.String
			ar.Major = &m
		}
		ar.SourceType = domain.SourceType(source)
		if acad.Valid {
			v := int(acad.Int64)
			ar.Academics = &v
		}
		if cost.Valid {
			v := int(cost.Int64)
			ar.Cost = &v
		}
		if social.Valid {
			v := int(social.Int64)
			ar.Social = &v
		}
		if accom.Valid {
			v := int(accom.Int64)
			ar.Accommodation = &v
		}
		out = append(out, ar)
	}
	return out, rows.Err()
}

func (r *Repo) ListSummaryInputs(ctx context.Context, uni string, n int) ([]domain.SummaryInput, error) {
	rows, err := r.db.QueryContext(ctx, listSummaryInputsSQL, uni, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.SummaryInput
	for rows.Next() {
		var si domain.SummaryInput
		var summary sql.NullString
		if err := rows.Scan(&si.ID, &summary, &si.RawText); err != nil {
			return nil, err
		}
		if summary.Valid {
			s := summary.String
			si.ThemeSummary = &s
		}
		out = append(out, si)
	}
	return out, rows.Err()
}

func (r *Repo) GetClassification(ctx context.Context, fingerprint string) (*domain.ClassifierResult, bool, error) {
	var (
		sentiment, summary        string
		acad, cost, social, accom int
	)
	err := r.db.QueryRowContext(ctx, getClassificationSQL, fingerprint).
		Scan(&sentiment, &acad, &cost, &social, &accom, &summary)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &domain.ClassifierResult{
		OverallSentiment:   &sentiment,
		AcademicsScore:     &acad,
		CostScore:          &cost,
		SocialScore:        &social,
		AccommodationScore: &accom,
		ThemeSummary:       &summary,
	}, true, nil
}

func (r *Repo) PutClassification(ctx context.Context, e domain.ClassificationEntry) error {
	_, err := r.db.ExecContext(ctx, putClassificationSQL,
		e.Fingerprint,
		string(e.Language),
		valStr(e.Result.OverallSentiment),
		valInt(e.Result.AcademicsScore),
		valInt(e.Result.CostScore),
		valInt(e.Result.SocialScore),
		valInt(e.Result.AccommodationScore),
		valStr(e.Result.ThemeSummary),
		e.Model,
	)
	return err
}
