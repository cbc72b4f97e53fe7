package app

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"exchange_compass/internal/adapters/observability"
	"exchange_compass/internal/domain"
)

// ComputeFunc produces a validated classifier result for a cache miss.
type ComputeFunc func(ctx context.Context) (*domain.ClassifierResult, error)

// ScoreCache guarantees at most one external classification per distinct
// (language, text) pair: a durable store keyed by content fingerprint,
// fronted by an in-process expiring LRU, with concurrent lookups on the same
// fingerprint collapsed through singleflight. Failed computes are never
// stored, so a transient outage cannot poison the cache.
type ScoreCache struct {
	store domain.ClassificationStore
	memo  *expirable.LRU[string, domain.ClassifierResult]
	sf    singleflight.Group
	model string
}

func NewScoreCache(store domain.ClassificationStore, model string, memoSize int, memoTTL time.Duration) *ScoreCache {
	if memoSize <= 0 {
		memoSize = 2048
	}
	return &ScoreCache{
		store: store,
		memo:  expirable.NewLRU[string, domain.ClassifierResult](memoSize, nil, memoTTL),
		model: model,
	}
}

// Fingerprint is the stable content hash over (language, clean text).
// Changed text means a new fingerprint, never an update of an old entry.
func Fingerprint(lang domain.Language, text string) string {
	h := sha256.New()
	h.Write([]byte(lang))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *ScoreCache) GetOrCompute(ctx context.Context, text string, lang domain.Language, compute ComputeFunc) (*domain.ClassifierResult, error) {
	fp := Fingerprint(lang, text)
	if res, ok := c.memo.Get(fp); ok {
		observability.ObserveClassification("memo_hit")
		out := res.Clone()
		return &out, nil
	}

	v, err, _ := c.sf.Do(fp, func() (any, error) {
		// a concurrent caller may have filled the memo while we queued
		if res, ok := c.memo.Get(fp); ok {
			observability.ObserveClassification("memo_hit")
			return res.Clone(), nil
		}
		if res, ok, err := c.store.GetClassification(ctx, fp); err != nil {
			return domain.ClassifierResult{}, err
		} else if ok {
			observability.ObserveClassification("store_hit")
			c.memo.Add(fp, res.Clone())
			return res.Clone(), nil
		}
		res, err := compute(ctx)
		if err != nil {
			return domain.ClassifierResult{}, err
		}
		entry := domain.ClassificationEntry{
			Fingerprint: fp,
			Language:    lang,
			Result:      res.Clone(),
			Model:       c.model,
			CreatedAt:   time.Now().UTC(),
		}
		if perr := c.store.PutClassification(ctx, entry); perr != nil {
			// losing the write costs a recompute on the next run, not the result
			log.Warn().Err(perr).Str("fingerprint", fp).Msg("classification cache write failed")
		}
		c.memo.Add(fp, res.Clone())
		observability.ObserveClassification("scored")
		return res.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	out := v.(domain.ClassifierResult)
	return &out, nil
}
