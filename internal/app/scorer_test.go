package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"exchange_compass/internal/app"
	"exchange_compass/internal/domain"
)

func newScorer(ai *fakeClassifier, store *fakeStore) *app.Scorer {
	return app.NewScorer(ai, app.NewScoreCache(store, "gemini-2.5-flash", 16, time.Minute), time.Second)
}

func TestScorer_ValidResultPassesThrough(t *testing.T) {
	ai := &fakeClassifier{res: validResult()}
	store := &fakeStore{}
	s := newScorer(ai, store)

	res, err := s.Score(context.Background(), "good text", domain.LangEnglish)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if *res.AcademicsScore != 4 || *res.ThemeSummary == "" {
		t.Fatalf("result = %+v", res)
	}
	if store.puts != 1 {
		t.Fatalf("validated result not stored (puts=%d)", store.puts)
	}
}

func TestScorer_RejectsPartialOrInvalidResults(t *testing.T) {
	outOfRange := validResult()
	outOfRange.AcademicsScore = ptr(6)

	missing := validResult()
	missing.CostScore = nil

	blankSummary := validResult()
	blankSummary.ThemeSummary = ptr("   ")

	badSentiment := validResult()
	badSentiment.OverallSentiment = ptr("mixed feelings")

	cases := []struct {
		name string
		res  domain.ClassifierResult
	}{
		{"score above five", outOfRange},
		{"missing field", missing},
		{"blank summary", blankSummary},
		{"unknown sentiment", badSentiment},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &fakeStore{}
			s := newScorer(&fakeClassifier{res: tc.res}, store)
			_, err := s.Score(context.Background(), "text "+tc.name, domain.LangEnglish)
			if !errors.Is(err, domain.ErrScoringFailure) {
				t.Fatalf("expected ErrScoringFailure, got %v", err)
			}
			if store.puts != 0 {
				t.Fatal("invalid result must never be cached")
			}
		})
	}
}

func TestScorer_InvalidResultRetriedOnNextCall(t *testing.T) {
	ai := &fakeClassifier{res: validResult()}
	ai.res.SocialScore = ptr(0)
	s := newScorer(ai, &fakeStore{})

	if _, err := s.Score(context.Background(), "same text", domain.LangEnglish); !errors.Is(err, domain.ErrScoringFailure) {
		t.Fatalf("expected ErrScoringFailure, got %v", err)
	}

	ai.mu.Lock()
	ai.res.SocialScore = ptr(3)
	ai.mu.Unlock()

	res, err := s.Score(context.Background(), "same text", domain.LangEnglish)
	if err != nil {
		t.Fatalf("second attempt err: %v", err)
	}
	if *res.SocialScore != 3 {
		t.Fatalf("result = %+v", res)
	}
	if ai.callCount() != 2 {
		t.Fatalf("calls = %d, want 2 (failures are not memoized)", ai.callCount())
	}
}

func TestScorer_ClassifierErrorWrapped(t *testing.T) {
	s := newScorer(&fakeClassifier{err: errors.New("network down")}, &fakeStore{})
	_, err := s.Score(context.Background(), "text", domain.LangEnglish)
	if !errors.Is(err, domain.ErrScoringFailure) {
		t.Fatalf("expected ErrScoringFailure, got %v", err)
	}
}

func TestParseSentiment(t *testing.T) {
	cases := []struct {
		in   string
		want domain.Sentiment
		ok   bool
	}{
		{"Positive", domain.SentimentPositive, true},
		{" negative ", domain.SentimentNegative, true},
		{"NEUTRAL", domain.SentimentNeutral, true},
		{"meh", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := app.ParseSentiment(tc.in)
		if tc.ok && (err != nil || got != tc.want) {
			t.Fatalf("ParseSentiment(%q) = %v, %v", tc.in, got, err)
		}
		if !tc.ok && err == nil {
			t.Fatalf("ParseSentiment(%q) accepted", tc.in)
		}
	}
}
