package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type generatorFunc func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

func (f generatorFunc) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return f(ctx, systemPrompt, userPrompt)
}

func TestSummarizingAnalyzerUsesGeneratorSummary(t *testing.T) {
	var gotPrompt string
	a := NewSummarizingAnalyzer(generatorFunc(func(_ context.Context, _, user string) (string, error) {
		gotPrompt = user
		return "Diabetic patient on metformin.", nil
	}), nil)

	const text = "Patient with diabetes takes metformin 500 mg daily."
	res, err := a.Analyze(context.Background(), text)
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if gotPrompt != text {
		t.Fatalf("generator got %q, want OCR text verbatim", gotPrompt)
	}
	if res.Summary != "Diabetic patient on metformin." {
		t.Fatalf("unexpected summary %q", res.Summary)
	}
	if len(res.Entities) == 0 {
		t.Fatalf("expected lexicon entities to be kept")
	}
}

func TestSummarizingAnalyzerSkipsEmptyText(t *testing.T) {
	called := false
	a := NewSummarizingAnalyzer(generatorFunc(func(context.Context, string, string) (string, error) {
		called = true
		return "x", nil
	}), nil)
	res, err := a.Analyze(context.Background(), "   ")
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if called || res.Summary != "" {
		t.Fatalf("empty text must not reach the generator (called=%v summary=%q)", called, res.Summary)
	}
}

func TestSummarizingAnalyzerPropagatesGeneratorError(t *testing.T) {
	a := NewSummarizingAnalyzer(generatorFunc(func(context.Context, string, string) (string, error) {
		return "", errors.New("model offline")
	}), nil)
	if _, err := a.Analyze(context.Background(), "some text"); err == nil {
		t.Fatalf("expected generator error")
	}
}

func TestChatCompletionsGenerator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if r.Header.Get("Authorization") != "Bearer k" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "bad key"}})
			return
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Model != "m" || len(req.Messages) != 2 {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": " summary "}}},
		})
	}))
	defer srv.Close()

	gen, err := NewChatCompletionsGenerator(srv.URL+"/v1/", "k", "m")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	out, err := gen.GenerateText(context.Background(), "sys", "user")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if out != "summary" {
		t.Fatalf("unexpected output %q", out)
	}

	bad, err := NewChatCompletionsGenerator(srv.URL+"/v1", "wrong", "m")
	if err != nil {
		t.Fatalf("new generator: %v", err)
	}
	if _, err := bad.GenerateText(context.Background(), "sys", "user"); err == nil {
		t.Fatalf("expected api error")
	}
	if _, err := NewChatCompletionsGenerator("", "", "m"); err == nil {
		t.Fatalf("expected missing base URL error")
	}
	if _, err := NewChatCompletionsGenerator(srv.URL, "", ""); err == nil {
		t.Fatalf("expected missing model error")
	}
}
