package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

const summarizerSystemPrompt = "You summarize clinical documents for a physician. " +
	"Reply with at most three plain sentences. Do not add facts that are not in the document."

// maxPromptRunes bounds the OCR text forwarded to the model.
const maxPromptRunes = 12000

// SummarizingAnalyzer is an NLP stage that asks a language model for the
// summary and keeps lexicon entities from the base analyzer.
type SummarizingAnalyzer struct {
	generator TextGenerator
	base      NLPStage
}

// NewSummarizingAnalyzer wraps base so that summaries come from generator.
func NewSummarizingAnalyzer(generator TextGenerator, base NLPStage) *SummarizingAnalyzer {
	if base == nil {
		base = NewLexiconAnalyzer()
	}
	return &SummarizingAnalyzer{generator: generator, base: base}
}

// Analyze implements NLPStage.
func (a *SummarizingAnalyzer) Analyze(ctx context.Context, text string) (NLPResult, error) {
	res, err := a.base.Analyze(ctx, text)
	if err != nil {
		return NLPResult{}, err
	}
	if strings.TrimSpace(text) == "" || a.generator == nil {
		return res, nil
	}
	prompt := text
	if runes := []rune(prompt); len(runes) > maxPromptRunes {
		prompt = string(runes[:maxPromptRunes])
	}
	summary, err := a.generator.GenerateText(ctx, summarizerSystemPrompt, prompt)
	if err != nil {
		return NLPResult{}, fmt.Errorf("summarize: %w", err)
	}
	res.Summary = summary
	return res, nil
}

// ChatCompletionsGenerator calls an OpenAI-compatible /chat/completions endpoint
// (vLLM, LiteLLM, Ollama's /v1, hosted providers).
type ChatCompletionsGenerator struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewChatCompletionsGenerator builds a generator. baseURL includes the /v1
// prefix; apiKey may be empty for local models.
func NewChatCompletionsGenerator(baseURL, apiKey, model string) (*ChatCompletionsGenerator, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	model = strings.TrimSpace(model)
	if baseURL == "" {
		return nil, errors.New("chat completions base URL required")
	}
	if model == "" {
		return nil, errors.New("chat completions model required")
	}
	return &ChatCompletionsGenerator{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(apiKey),
		model:      model,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

// GenerateText implements TextGenerator.
func (g *ChatCompletionsGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, chatMessage{Role: "system", Content: systemPrompt})
	}
	messages = append(messages, chatMessage{Role: "user", Content: userPrompt})

	body, err := json.Marshal(chatRequest{Model: g.model, Messages: messages, Temperature: 0})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("chat completions request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp chatErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return "", fmt.Errorf("chat completions api error: %s", errResp.Error.Message)
		}
		return "", fmt.Errorf("chat completions api error: %s", resp.Status)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", fmt.Errorf("chat completions decode: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", errors.New("empty response from chat completions api")
	}
	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", errors.New("empty response from chat completions api")
	}
	return text, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}
