package domain

// AspectMeans carries per-aspect mean scores rounded to two decimals. A nil
// field means zero records contributed to that aspect, which is reported as
// absent, never as 0.
type AspectMeans struct {
	Academics     *float64 `json:"academics,omitempty"`
	Cost          *float64 `json:"cost,omitempty"`
	Social        *float64 `json:"social,omitempty"`
	Accommodation *float64 `json:"accommodation,omitempty"`
}

func (m AspectMeans) Empty() bool {
	return m.Academics == nil && m.Cost == nil && m.Social == nil && m.Accommodation == nil
}

type SourceCounts struct {
	Survey        int `json:"survey"`
	UserSubmitted int `json:"user_submitted"`
	WebScrape     int `json:"web_scrape"`
}

// UniversityAggregate is a derived view recomputed from approved records on
// read. Aspects is the volume-weighted stream (every record equal); Weighted
// applies the trust weights, so a consumer can pick either stream.
type UniversityAggregate struct {
	UniName      string       `json:"uni_name"`
	City         string       `json:"city"`
	OverallScore *float64     `json:"overall_score,omitempty"`
	Aspects      AspectMeans  `json:"aspects"`
	Weighted     AspectMeans  `json:"weighted_aspects"`
	ReviewCount  int          `json:"review_count"`
	Sources      SourceCounts `json:"sources"`
	ThemeSummary *string      `json:"theme_summary,omitempty"`
}
