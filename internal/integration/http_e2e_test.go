//go:build integration || !unit

package integration

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	_ "github.com/go-sql-driver/mysql"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	"exchange_compass/internal/adapters/gemini"
	server "exchange_compass/internal/adapters/http_server"
	redisad "exchange_compass/internal/adapters/redis"
	"exchange_compass/internal/app"
	"exchange_compass/internal/domain"
	mysqlrepo "exchange_compass/internal/storage/mysql"
)

const adminToken = "e2e-admin-token"

// ---------- fake Gemini upstream ----------

const classifyBody = `{"overall_sentiment":"Positive","academics_score":4,"cost_score":3,"social_score":5,"accommodation_score":4,"theme_summary":"Solid academics, lively social scene."}`
const narrative = "Students praise the academics and social life; housing costs draw complaints."

func fakeGemini(classifyCalls, summaryCalls *int32) *httptest.Server {
	envelope := func(text string) map[string]any {
		return map[string]any{
			"candidates": []map[string]any{
				{"content": map[string]any{"parts": []map[string]any{{"text": text}}}},
			},
		}
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if strings.Contains(r.URL.Path, "summary-model") {
			atomic.AddInt32(summaryCalls, 1)
			_ = json.NewEncoder(w).Encode(envelope(narrative))
			return
		}
		atomic.AddInt32(classifyCalls, 1)
		_ = json.NewEncoder(w).Encode(envelope(classifyBody))
	}))
}

// ---------- infrastructure ----------

func startMySQL(t *testing.T) *sql.DB {
	t.Helper()

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}
	runOpts := &dockertest.RunOptions{
		Repository: "mysql",
		Tag:        "8.0.36",
		Env: []string{
			"MYSQL_ROOT_PASSWORD=root",
			"MYSQL_DATABASE=compass",
		},
	}
	resource, err := pool.RunWithOptions(runOpts, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run mysql: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	hostPort := resource.GetPort("3306/tcp")
	dsn := fmt.Sprintf("root:root@tcp(127.0.0.1:%s)/compass?parseTime=true&multiStatements=true&charset=utf8mb4,utf8&loc=UTC", hostPort)

	var db *sql.DB
	if err := pool.Retry(func() error {
		var e error
		db, e = sql.Open("mysql", dsn)
		if e != nil {
			return e
		}
		return db.Ping()
	}); err != nil {
		t.Fatalf("connect mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := mysqlrepo.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// ---------- tiny HTTP helpers ----------

func get(t *testing.T, rawURL string, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", rawURL, err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	return res, body
}

func post(t *testing.T, rawURL string, body []byte, hdr map[string]string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, rawURL, bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", rawURL, err)
	}
	out, _ := io.ReadAll(res.Body)
	res.Body.Close()
	return res, out
}

// ---------- the test ----------

func TestHTTP_EndToEnd_ReviewPipeline(t *testing.T) {
	db := startMySQL(t)
	repo := mysqlrepo.New(db)

	mr := miniredis.RunT(t)
	cache := redisad.New(mr.Addr(), "", 0)

	var classifyCalls, summaryCalls int32
	upstream := fakeGemini(&classifyCalls, &summaryCalls)
	defer upstream.Close()

	cl, err := gemini.New(upstream.URL, "test-key", "test-model", "summary-model", 100)
	if err != nil {
		t.Fatalf("gemini.New: %v", err)
	}

	scoreCache := app.NewScoreCache(repo, "test-model", 128, time.Minute)
	scorer := app.NewScorer(cl, scoreCache, 10*time.Second)
	q := app.NewQueryService(repo, cache, cl, app.QueryConfig{
		CacheTTL:         10 * time.Minute,
		SummaryTTL:       10 * time.Minute,
		SummaryMaxInputs: 25,
		ScrapeWeight:     0.5,
	})
	ing := app.NewIngestionService(repo, scorer, cache, 4, false)
	mod := app.NewModerationService(repo, cache, adminToken)

	srv := server.New()
	srv.MountHandlers(&server.Handlers{Q: q, Ing: ing, Mod: mod})
	ts := httptest.NewServer(srv.Mux())
	defer ts.Close()

	ctx := context.Background()

	// Seed the read models through the real batch path.
	report := ing.IngestBatch(ctx, []domain.RawReview{
		{UniName: "Aalen University", City: "Aalen", SourceType: domain.SourceSurvey,
			Text: "Professors were great and the labs are modern."},
		{UniName: "Aalen University", City: "Aalen", SourceType: domain.SourceSurvey,
			Text: "Rent was high but the social life made up for it."},
		{UniName: "Lund University", City: "Lund", Major: pstr("Biology"), SourceType: domain.SourceWebScrape,
			Text: "Courses are rigorous; the housing queue is long."},
	})
	if report.Succeeded != 3 || report.ScoringFailed != 0 || report.ContentRejected != 0 {
		t.Fatalf("unexpected batch report: %+v", report)
	}
	if report.RunID == "" {
		t.Fatal("expected a run id")
	}
	if n := atomic.LoadInt32(&classifyCalls); n != 3 {
		t.Fatalf("want 3 classify calls for 3 distinct texts, got %d", n)
	}

	// Dashboard list: both universities, aspect means from the classifier.
	res, body := get(t, ts.URL+"/api/unis", nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/unis: status %d: %s", res.StatusCode, body)
	}
	var unis []domain.UniversityAggregate
	if err := json.Unmarshal(body, &unis); err != nil {
		t.Fatalf("decode unis: %v", err)
	}
	if len(unis) != 2 || unis[0].UniName != "Aalen University" || unis[1].UniName != "Lund University" {
		t.Fatalf("unexpected unis: %s", body)
	}
	aalen := unis[0]
	if aalen.ReviewCount != 2 || aalen.Sources.Survey != 2 {
		t.Fatalf("unexpected Aalen counts: %+v", aalen)
	}
	if aalen.Aspects.Academics == nil || *aalen.Aspects.Academics != 4.0 {
		t.Fatalf("unexpected Aalen academics mean: %+v", aalen.Aspects)
	}
	if aalen.OverallScore == nil || *aalen.OverallScore != 4.0 {
		t.Fatalf("unexpected Aalen overall: %+v", aalen.OverallScore)
	}

	// Conditional GET short-circuits on the weak ETag.
	etag := res.Header.Get("ETag")
	if etag == "" {
		t.Fatal("expected an ETag on /api/unis")
	}
	res304, _ := get(t, ts.URL+"/api/unis", map[string]string{"If-None-Match": etag})
	if res304.StatusCode != http.StatusNotModified {
		t.Fatalf("conditional GET: want 304, got %d", res304.StatusCode)
	}

	// Major filter selects universities, not rows.
	resM, bodyM := get(t, ts.URL+"/api/unis?major=Biology", nil)
	if resM.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/unis?major: status %d", resM.StatusCode)
	}
	var filtered []domain.UniversityAggregate
	if err := json.Unmarshal(bodyM, &filtered); err != nil {
		t.Fatalf("decode filtered unis: %v", err)
	}
	if len(filtered) != 1 || filtered[0].UniName != "Lund University" {
		t.Fatalf("unexpected major filter result: %s", bodyM)
	}

	// University detail carries the synthesized narrative.
	resU, bodyU := get(t, ts.URL+"/api/university/"+url.PathEscape("Aalen University"), nil)
	if resU.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/university: status %d: %s", resU.StatusCode, bodyU)
	}
	var ua domain.UniversityAggregate
	if err := json.Unmarshal(bodyU, &ua); err != nil {
		t.Fatalf("decode university: %v", err)
	}
	if ua.ThemeSummary == nil || *ua.ThemeSummary != narrative {
		t.Fatalf("missing narrative summary: %+v", ua.ThemeSummary)
	}
	if n := atomic.LoadInt32(&summaryCalls); n != 1 {
		t.Fatalf("want 1 summary call, got %d", n)
	}

	// The legacy widget reads the cached narrative without a second AI call.
	resS, bodyS := get(t, ts.URL+"/api/summary/"+url.PathEscape("Aalen University"), nil)
	if resS.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/summary: status %d", resS.StatusCode)
	}
	var sr struct {
		UniName string `json:"uni_name"`
		Summary string `json:"summary"`
	}
	if err := json.Unmarshal(bodyS, &sr); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if sr.UniName != "Aalen University" || sr.Summary != narrative {
		t.Fatalf("unexpected summary payload: %s", bodyS)
	}
	if n := atomic.LoadInt32(&summaryCalls); n != 1 {
		t.Fatalf("summary should come from cache, got %d upstream calls", n)
	}

	if res404, _ := get(t, ts.URL+"/api/university/Nowhere", nil); res404.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown university: want 404, got %d", res404.StatusCode)
	}

	// One approved review for Lund so far.
	resR, bodyR := get(t, ts.URL+"/api/reviews/"+url.PathEscape("Lund University"), nil)
	if resR.StatusCode != http.StatusOK {
		t.Fatalf("GET /api/reviews: status %d", resR.StatusCode)
	}
	var lundReviews []domain.ReviewRecord
	if err := json.Unmarshal(bodyR, &lundReviews); err != nil {
		t.Fatalf("decode reviews: %v", err)
	}
	if len(lundReviews) != 1 || lundReviews[0].Status != domain.StatusApproved {
		t.Fatalf("unexpected Lund reviews: %s", bodyR)
	}

	// Submit a user review; it lands pending without touching the classifier.
	subBody := []byte(`{"uni_name":"Lund University","city":"Lund","major":"Biology","raw_review_text":"Dorms are fine and the program is strong.","academics_score":5,"cost_score":2,"social_score":4,"accommodation_score":4}`)
	resP, bodyP := post(t, ts.URL+"/api/submit_review", subBody, nil)
	if resP.StatusCode != http.StatusCreated {
		t.Fatalf("POST /api/submit_review: status %d: %s", resP.StatusCode, bodyP)
	}
	var created struct {
		ID     int64         `json:"id"`
		Status domain.Status `json:"status"`
	}
	if err := json.Unmarshal(bodyP, &created); err != nil {
		t.Fatalf("decode submit response: %v", err)
	}
	if created.ID == 0 || created.Status != domain.StatusPending {
		t.Fatalf("unexpected submit response: %s", bodyP)
	}
	if n := atomic.LoadInt32(&classifyCalls); n != 3 {
		t.Fatalf("submission must not call the classifier, got %d calls", n)
	}

	// Out-of-range score is rejected with the specific reason.
	badBody := []byte(`{"uni_name":"Lund University","city":"Lund","raw_review_text":"Scores out of range.","academics_score":9,"cost_score":2,"social_score":4,"accommodation_score":4}`)
	if resBad, out := post(t, ts.URL+"/api/submit_review", badBody, nil); resBad.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid submission: want 400, got %d: %s", resBad.StatusCode, out)
	}

	// Pending rows stay invisible to readers.
	if _, bodyR2 := get(t, ts.URL+"/api/reviews/"+url.PathEscape("Lund University"), nil); true {
		var again []domain.ReviewRecord
		if err := json.Unmarshal(bodyR2, &again); err != nil {
			t.Fatalf("decode reviews: %v", err)
		}
		if len(again) != 1 {
			t.Fatalf("pending review leaked into public listing: %s", bodyR2)
		}
	}

	// Moderation requires the admin token.
	if res401, _ := get(t, ts.URL+"/api/admin/reviews/pending", nil); res401.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing token: want 401, got %d", res401.StatusCode)
	}
	auth := map[string]string{"X-Admin-Token": adminToken}
	resQ, bodyQ := get(t, ts.URL+"/api/admin/reviews/pending", auth)
	if resQ.StatusCode != http.StatusOK {
		t.Fatalf("GET pending: status %d: %s", resQ.StatusCode, bodyQ)
	}
	var queue []domain.ReviewRecord
	if err := json.Unmarshal(bodyQ, &queue); err != nil {
		t.Fatalf("decode queue: %v", err)
	}
	if len(queue) != 1 || queue[0].ID != created.ID {
		t.Fatalf("unexpected moderation queue: %s", bodyQ)
	}

	// Approve is idempotent; a later reject conflicts.
	approveURL := fmt.Sprintf("%s/api/admin/reviews/%d/approve", ts.URL, created.ID)
	resAp, bodyAp := post(t, approveURL, nil, auth)
	if resAp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d: %s", resAp.StatusCode, bodyAp)
	}
	var approved domain.ReviewRecord
	if err := json.Unmarshal(bodyAp, &approved); err != nil {
		t.Fatalf("decode approve response: %v", err)
	}
	if approved.Status != domain.StatusApproved {
		t.Fatalf("approve response status: %s", approved.Status)
	}
	if resAp2, _ := post(t, approveURL, nil, auth); resAp2.StatusCode != http.StatusOK {
		t.Fatalf("replayed approve: want 200, got %d", resAp2.StatusCode)
	}
	rejectURL := fmt.Sprintf("%s/api/admin/reviews/%d/reject", ts.URL, created.ID)
	if resRej, _ := post(t, rejectURL, nil, auth); resRej.StatusCode != http.StatusConflict {
		t.Fatalf("reject after approve: want 409, got %d", resRej.StatusCode)
	}

	// Approval invalidates the read caches: the review shows up everywhere.
	_, bodyR3 := get(t, ts.URL+"/api/reviews/"+url.PathEscape("Lund University"), nil)
	var lundAfter []domain.ReviewRecord
	if err := json.Unmarshal(bodyR3, &lundAfter); err != nil {
		t.Fatalf("decode reviews: %v", err)
	}
	if len(lundAfter) != 2 {
		t.Fatalf("approved submission missing from listing: %s", bodyR3)
	}
	var sub *domain.ReviewRecord
	for i := range lundAfter {
		if lundAfter[i].ReviewerType == domain.ReviewerUserSubmitted {
			sub = &lundAfter[i]
		}
	}
	if sub == nil || sub.Academics == nil || *sub.Academics != 5 {
		t.Fatalf("user-submitted scores were not preserved: %s", bodyR3)
	}

	_, bodyU2 := get(t, ts.URL+"/api/unis", nil)
	var unisAfter []domain.UniversityAggregate
	if err := json.Unmarshal(bodyU2, &unisAfter); err != nil {
		t.Fatalf("decode unis: %v", err)
	}
	var lund *domain.UniversityAggregate
	for i := range unisAfter {
		if unisAfter[i].UniName == "Lund University" {
			lund = &unisAfter[i]
		}
	}
	if lund == nil || lund.ReviewCount != 2 || lund.Sources.UserSubmitted != 1 {
		t.Fatalf("aggregate did not pick up the approval: %s", bodyU2)
	}
}

func pstr(s string) *string { return &s }
