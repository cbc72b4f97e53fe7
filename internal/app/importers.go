package app

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
)

// ParseSurveyCSV reads a Google Forms export. Headers are normalized once so
// row maps line up with the survey alias registry. Ragged rows are tolerated;
// rows with no usable text are rejected later by normalization, not here.
func ParseSurveyCSV(r io.Reader) ([]map[string]string, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	keys := make([]string, len(header))
	for i, h := range header {
		keys[i] = normHeader(h)
	}
	var rows []map[string]string
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row: %w", err)
		}
		row := make(map[string]string, len(keys))
		for i, v := range rec {
			if i >= len(keys) {
				break
			}
			row[keys[i]] = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ParseScrapeJSONL reads one JSON object per line, the scrape exporter's
// format. Unparseable lines are logged and counted, never fatal; one broken
// line must not sink the batch.
func ParseScrapeJSONL(r io.Reader) ([]map[string]any, int, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var rows []map[string]any
	skipped := 0
	line := 0
	for sc.Scan() {
		line++
		txt := strings.TrimSpace(sc.Text())
		if txt == "" {
			continue
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(txt), &m); err != nil {
			skipped++
			log.Warn().Int("line", line).Err(err).Msg("skipping unparseable scrape line")
			continue
		}
		rows = append(rows, m)
	}
	if err := sc.Err(); err != nil {
		return nil, skipped, fmt.Errorf("scan jsonl: %w", err)
	}
	return rows, skipped, nil
}
