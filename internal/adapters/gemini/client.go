package gemini

import (
	"bytes"
	"context"
	crand "crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"exchange_compass/internal/adapters/observability"
	"exchange_compass/internal/domain"
)

// Client talks to a Gemini-style generateContent endpoint. One instance
// serves both the per-review classification model and the summary model.
type Client struct {
	base         string
	hc           *http.Client
	key          string
	model        string
	summaryModel string
	rl           *rate.Limiter
}

func New(base, key, model, summaryModel string, rps int) (*Client, error) {
	if key == "" {
		return nil, fmt.Errorf("API key is required")
	}
	if rps <= 0 {
		rps = 2
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	if summaryModel == "" {
		summaryModel = model
	}
	return &Client{
		base:         strings.TrimRight(base, "/"),
		hc:           &http.Client{Timeout: 60 * time.Second},
		key:          key,
		model:        model,
		summaryModel: summaryModel,
		rl:           rate.NewLimiter(rate.Limit(rps), rps),
	}, nil
}

// ---- Public API ----

const classifyPrompt = `You are an expert student advisor analyzing exchange-student feedback about a host university.
Analyze the following review. The language hint is %q; the text may be in English or Arabic.
Score each of the four categories from 1 (worst) to 5 (best) based only on the provided text.
Translate the main point into a concise English summary.

Review Text: %q`

// classifySchema constrains the model to the response shape the scorer
// validates against.
var classifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"overall_sentiment":   map[string]any{"type": "string", "description": "Positive, Neutral, or Negative."},
		"academics_score":     map[string]any{"type": "integer", "description": "Score from 1 (poor) to 5 (excellent)."},
		"cost_score":          map[string]any{"type": "integer", "description": "Score from 1 (expensive) to 5 (cheap)."},
		"social_score":        map[string]any{"type": "integer", "description": "Score from 1 (poor) to 5 (excellent)."},
		"accommodation_score": map[string]any{"type": "integer", "description": "Score from 1 (difficult) to 5 (easy/good)."},
		"theme_summary":       map[string]any{"type": "string", "description": "A 1-2 sentence English summary of the review's main point."},
	},
	"required": []string{"overall_sentiment", "academics_score", "cost_score", "social_score", "accommodation_score", "theme_summary"},
}

func (c *Client) ClassifyReview(ctx context.Context, text string, lang domain.Language) (*domain.ClassifierResult, error) {
	temp := 0.2
	req := genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: fmt.Sprintf(classifyPrompt, string(lang), text)}}}},
		GenerationConfig: &genConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   classifySchema,
			Temperature:      &temp,
		},
	}
	var res domain.ClassifierResult
	if err := c.generate(ctx, "classify", c.model, req, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

const summaryPrompt = `You are the "ExchangeCompass Advisor". Your task is to synthesize a single, balanced narrative review (about 200 words) for the university %q.

The review must cover the four main aspects: Academics, Cost of Living, Social Scene, and Accommodation.

Synthesize the report from the following raw student feedback (which may contain both English and Arabic):

--- START FEEDBACK ---
%s
--- END FEEDBACK ---

Focus on extracting the general consensus and noting any major conflicts in opinion. Structure the output as a single narrative paragraph.`

func (c *Client) SynthesizeSummary(ctx context.Context, uniName string, excerpts []string) (string, error) {
	req := genRequest{
		Contents: []genContent{{Parts: []genPart{{Text: fmt.Sprintf(summaryPrompt, uniName, strings.Join(excerpts, "\n---\n"))}}}},
	}
	var out string
	if err := c.generate(ctx, "summary", c.summaryModel, req, &out); err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// ---- Internals ----

var ErrUnauthorized = errors.New("gemini: unauthorized")

// maxAttempts is the first call plus one transparent retry.
const maxAttempts = 2

type genRequest struct {
	Contents         []genContent `json:"contents"`
	GenerationConfig *genConfig   `json:"generationConfig,omitempty"`
}

type genContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []genPart `json:"parts"`
}

type genPart struct {
	Text string `json:"text"`
}

type genConfig struct {
	ResponseMIMEType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
	Temperature      *float64       `json:"temperature,omitempty"`
}

type genResponse struct {
	Candidates []struct {
		Content struct {
			Parts []genPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r genResponse) text() string {
	if len(r.Candidates) == 0 {
		return ""
	}
	var b strings.Builder
	for _, p := range r.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

// generate performs one generateContent call with client-side rate limiting
// and a single retry on transient failures (network, 429/5xx, undecodable
// payloads), honoring Retry-After when provided. The model's text output is
// assigned to out when out is *string, otherwise unmarshaled into out as JSON.
func (c *Client) generate(ctx context.Context, op, model string, body genRequest, out any) error {
	if err := c.rl.Wait(ctx); err != nil {
		return err
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.base, model)

	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		// build a fresh request each attempt
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		req.Header.Set("x-goog-api-key", c.key)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", "exchange-compass/1.0")

		start := time.Now()
		resp, err := c.hc.Do(req)
		if err != nil {
			observability.ObserveExternal("gemini", op, 0, time.Since(start))
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr
		}
		observability.ObserveExternal("gemini", op, resp.StatusCode, time.Since(start))

		switch resp.StatusCode {
		case http.StatusOK:
			var env genResponse
			derr := json.NewDecoder(resp.Body).Decode(&env)
			resp.Body.Close()
			if derr == nil {
				if txt := env.text(); txt == "" {
					derr = errors.New("no candidate text in response")
				} else if sp, ok := out.(*string); ok {
					*sp = txt
					return nil
				} else if derr = json.Unmarshal([]byte(txt), out); derr == nil {
					return nil
				}
			}
			// Undecodable payloads get the same retry budget as transport
			// failures.
			lastErr = fmt.Errorf("gemini: bad payload: %w", derr)
			if i < maxAttempts-1 && sleepCtx(ctx, backoff(i)) {
				continue
			}
			return lastErr

		case http.StatusUnauthorized, http.StatusForbidden:
			resp.Body.Close()
			return ErrUnauthorized

		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			// Prefer server-provided Retry-After; otherwise exponential backoff.
			wait := retryAfter(resp)
			resp.Body.Close()
			if wait == 0 {
				wait = backoff(i)
			}
			lastErr = fmt.Errorf("gemini: remote %d", resp.StatusCode)
			if i < maxAttempts-1 && sleepCtx(ctx, wait) {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return lastErr

		default:
			// read a small error body for diagnostics
			b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			return fmt.Errorf("gemini: bad status %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
		}
	}

	return lastErr
}

// sleepCtx waits for d or returns early if ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// retryAfter parses Retry-After header (seconds or HTTP-date). Returns 0 if absent/invalid.
func retryAfter(resp *http.Response) time.Duration {
	h := resp.Header.Get("Retry-After")
	if h == "" {
		return 0
	}
	// seconds form
	if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	// HTTP-date form
	if t, err := http.ParseTime(h); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// backoff returns an exponential backoff delay with concurrency-safe jitter.
// i = retry attempt (0,1,2,...). Base doubles each attempt (200ms, 400ms...),
// with up to +50% random jitter to avoid thundering herds.
func backoff(i int) time.Duration {
	base := time.Duration(1<<i) * 200 * time.Millisecond
	var b [1]byte
	if _, err := crand.Read(b[:]); err != nil {
		return base
	}
	f := float64(b[0]) / 255.0                  // 0..1
	j := time.Duration(0.5 * f * float64(base)) // up to +50%
	return base + j
}
