package app

import (
	"strings"

	"exchange_compass/internal/domain"
)

/********** alias registries (single source of truth) **********/

// surveyAliases maps internal field names to the column headers we accept in
// survey exports. The long entries are the verbatim Google Forms questions,
// typo included. The form also carries direct 1-5 score columns; those are
// superseded by classifier output and intentionally not mapped.
var surveyAliases = map[string][]string{
	"uni_name": {"uni_name", "university", "university_name", "Which university are you rating?"},
	"city":     {"city", "City"},
	"major":    {"major", "Major", "What is your major?"},
	"text": {
		"raw_review_text", "review_text", "text", "review", "comments",
		"Please provide your overall experience or any additional comments about your univerisity",
	},
}

var scrapeAliases = map[string][]string{
	"uni_name": {"uni_name", "university", "university_name", "school", "institution"},
	"city":     {"city", "location.city", "town"},
	"major":    {"major", "program", "field_of_study"},
	"text":     {"raw_review_text", "review_text", "text", "review", "comment", "content", "body"},
}

/********** tiny helpers **********/

// lookupAny: safe nested lookup with dot paths on maps.
func lookupAny(m map[string]any, path string) any {
	cur := any(m)
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		v, ok := obj[part]
		if !ok {
			return nil
		}
		cur = v
	}
	return cur
}

// lookupStr returns string at path or "".
func lookupStr(m map[string]any, path string) string {
	if v := lookupAny(m, path); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// firstNonEmptyAlias: first non-empty string for a named alias set.
func firstNonEmptyAlias(m map[string]any, aliases map[string][]string, key string) *string {
	for _, p := range aliases[key] {
		if s := strings.TrimSpace(lookupStr(m, p)); s != "" {
			return &s
		}
	}
	return nil
}

func ptrStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// normHeader makes CSV header matching robust to case and stray whitespace.
func normHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// firstCSVAlias: first non-empty cell for a named alias set, headers
// compared after normalization.
func firstCSVAlias(row map[string]string, aliases map[string][]string, key string) string {
	for _, a := range aliases[key] {
		if v, ok := row[normHeader(a)]; ok {
			if t := strings.TrimSpace(v); t != "" {
				return t
			}
		}
	}
	return ""
}

/********** survey mapper **********/

// MapSurveyRow turns one CSV row (normalized header -> cell) into a RawReview.
// Missing fields come back empty; the pipeline decides what is rejectable.
func MapSurveyRow(row map[string]string) domain.RawReview {
	return domain.RawReview{
		UniName:    firstCSVAlias(row, surveyAliases, "uni_name"),
		City:       firstCSVAlias(row, surveyAliases, "city"),
		Major:      ptrStr(firstCSVAlias(row, surveyAliases, "major")),
		SourceType: domain.SourceSurvey,
		Text:       firstCSVAlias(row, surveyAliases, "text"),
	}
}

/********** scrape mapper **********/

// MapScrapeRow turns one scraped JSON object into a RawReview.
func MapScrapeRow(m map[string]any) domain.RawReview {
	out := domain.RawReview{SourceType: domain.SourceWebScrape}
	if s := firstNonEmptyAlias(m, scrapeAliases, "uni_name"); s != nil {
		out.UniName = *s
	}
	if s := firstNonEmptyAlias(m, scrapeAliases, "city"); s != nil {
		out.City = *s
	}
	out.Major = firstNonEmptyAlias(m, scrapeAliases, "major")
	if s := firstNonEmptyAlias(m, scrapeAliases, "text"); s != nil {
		out.Text = *s
	}
	return out
}
