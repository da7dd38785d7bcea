package embedclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"mnemosyne/internal/errs"
)

func TestHTTPClient_EmbedSendsAuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Fatalf("expected Authorization header Bearer secret, got %q", got)
		}
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "Authorization", APIKey: "secret", Dimension: 2})
	vec, err := c.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 2 {
		t.Fatalf("expected 2-d vector, got %v", vec)
	}
}

func TestHTTPClient_BatchEmbedTruncatesLongInput(t *testing.T) {
	var gotLen int
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embedReq
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotLen = len(req.Input[0])
		resp := map[string]any{"data": []map[string]any{{"embedding": []float32{0.1}}}}
		b, _ := json.Marshal(resp)
		w.Write(b)
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Path: "/", Model: "m"})
	longText := strings.Repeat("a", maxInputChars+500)
	if _, err := c.BatchEmbed(context.Background(), []string{longText}); err != nil {
		t.Fatalf("BatchEmbed: %v", err)
	}
	if gotLen != maxInputChars {
		t.Fatalf("expected truncation to %d chars, got %d", maxInputChars, gotLen)
	}
}

func TestHTTPClient_TransportFailureIsEmbeddingUnavailable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))
	defer ts.Close()

	c := New(Config{BaseURL: ts.URL, Path: "/", Model: "m"})
	_, err := c.Embed(context.Background(), "x")
	if !errors.Is(err, errs.ErrEmbeddingUnavailable) {
		t.Fatalf("expected ErrEmbeddingUnavailable, got %v", err)
	}
}

func TestDeterministic_SameInputSameVector(t *testing.T) {
	c := NewDeterministic(32, 7)
	ctx := context.Background()
	a, err := c.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := c.Embed(ctx, "the quick brown fox")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if CosineSimilarity(a, b) < 0.999 {
		t.Fatalf("expected identical vectors for identical input, similarity=%f", CosineSimilarity(a, b))
	}
	other, _ := c.Embed(ctx, "a completely different sentence")
	if CosineSimilarity(a, other) > 0.99 {
		t.Fatalf("expected distinct vectors for distinct input")
	}
}

func TestCosineSimilarity_MismatchedLengthsReturnZero(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}); got != 0 {
		t.Fatalf("expected 0 for mismatched lengths, got %f", got)
	}
}
