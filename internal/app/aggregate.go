package app

import (
	"math"
	"sort"
	"strings"

	"exchange_compass/internal/domain"
)

// round2 is the display rounding applied to every exported mean. Aspect means
// are rounded before they feed the overall score, and the overall score is
// rounded again, so recomputing an aggregate always reproduces the same JSON
// numbers.
func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// aspectAcc accumulates one aspect across both streams. Records missing the
// aspect never touch it, so numerator and denominator stay in step.
type aspectAcc struct {
	sum  float64
	n    int
	wsum float64
	w    float64
}

func (a *aspectAcc) add(v int, weight float64) {
	a.sum += float64(v)
	a.n++
	a.wsum += float64(v) * weight
	a.w += weight
}

func (a *aspectAcc) volume() *float64 {
	if a.n == 0 {
		return nil
	}
	m := round2(a.sum / float64(a.n))
	return &m
}

func (a *aspectAcc) trust() *float64 {
	if a.w <= 0 {
		return nil
	}
	m := round2(a.wsum / a.w)
	return &m
}

type aggBuilder struct {
	uniName       string
	city          string
	academics     aspectAcc
	cost          aspectAcc
	social        aspectAcc
	accommodation aspectAcc
	count         int
	sources       domain.SourceCounts
}

func (b *aggBuilder) add(row domain.AggregateRow, scrapeWeight float64) {
	if b.city == "" {
		b.city = row.City
	}
	w := 1.0
	if row.SourceType == domain.SourceWebScrape {
		w = scrapeWeight
	}
	if row.Academics != nil {
		b.academics.add(*row.Academics, w)
	}
	if row.Cost != nil {
		b.cost.add(*row.Cost, w)
	}
	if row.Social != nil {
		b.social.add(*row.Social, w)
	}
	if row.Accommodation != nil {
		b.accommodation.add(*row.Accommodation, w)
	}
	b.count++
	switch row.SourceType {
	case domain.SourceSurvey:
		b.sources.Survey++
	case domain.SourceUserSubmitted:
		b.sources.UserSubmitted++
	case domain.SourceWebScrape:
		b.sources.WebScrape++
	}
}

func (b *aggBuilder) build() domain.UniversityAggregate {
	agg := domain.UniversityAggregate{
		UniName: b.uniName,
		City:    b.city,
		Aspects: domain.AspectMeans{
			Academics:     b.academics.volume(),
			Cost:          b.cost.volume(),
			Social:        b.social.volume(),
			Accommodation: b.accommodation.volume(),
		},
		Weighted: domain.AspectMeans{
			Academics:     b.academics.trust(),
			Cost:          b.cost.trust(),
			Social:        b.social.trust(),
			Accommodation: b.accommodation.trust(),
		},
		ReviewCount: b.count,
		Sources:     b.sources,
	}
	var sum float64
	var n int
	for _, m := range []*float64{agg.Aspects.Academics, agg.Aspects.Cost, agg.Aspects.Social, agg.Aspects.Accommodation} {
		if m != nil {
			sum += *m
			n++
		}
	}
	if n > 0 {
		o := round2(sum / float64(n))
		agg.OverallScore = &o
	}
	return agg
}

// buildAggregates groups approved rows by university and computes both mean
// streams. Rows with no aspect scores at all (scoring failed, later approved)
// are not part of the input set: they would inflate review_count while
// contributing to no mean.
func buildAggregates(rows []domain.AggregateRow, scrapeWeight float64) []domain.UniversityAggregate {
	byUni := make(map[string]*aggBuilder)
	for _, row := range rows {
		if row.Empty() {
			continue
		}
		b := byUni[row.UniName]
		if b == nil {
			b = &aggBuilder{uniName: row.UniName}
			byUni[row.UniName] = b
		}
		b.add(row, scrapeWeight)
	}
	out := make([]domain.UniversityAggregate, 0, len(byUni))
	for _, b := range byUni {
		out = append(out, b.build())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UniName < out[j].UniName })
	return out
}

// unisWithMajor reports which universities have at least one record tagged
// with the given major. The filter selects universities, not rows; a matched
// university's aggregate still covers all its records.
func unisWithMajor(rows []domain.AggregateRow, major string) map[string]struct{} {
	want := strings.ToLower(strings.TrimSpace(major))
	out := make(map[string]struct{})
	for _, row := range rows {
		if row.Major == nil {
			continue
		}
		if strings.ToLower(strings.TrimSpace(*row.Major)) == want {
			out[row.UniName] = struct{}{}
		}
	}
	return out
}
