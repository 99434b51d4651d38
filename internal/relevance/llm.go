package relevance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"diariodigest/internal/logger"
	"diariodigest/internal/models"
)

const SourceLLM = "llm"

const systemPrompt = "Eres un asistente experto en explicar normas oficiales chilenas en lenguaje simple. " +
	"Para la publicación indicada responde solo un objeto JSON con las claves " +
	`"relevant" (booleano: afecta a la ciudadanía en general), ` +
	`"relevance_score" ("Low", "Medium" o "High") y ` +
	`"summary" (máximo 2 frases en español claro con el hecho principal y su consecuencia práctica, sin repetir el título).`

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// llmVerdict is the JSON object the model is asked to return.
type llmVerdict struct {
	Relevant bool   `json:"relevant"`
	Score    string `json:"relevance_score"`
	Summary  string `json:"summary"`
}

// maxDocumentText bounds the PDF text sent with each prompt.
const maxDocumentText = 6000

// Downloader fetches a document's PDF. fetch.HTTPStrategy implements it.
type Downloader interface {
	Download(ctx context.Context, rawURL string) ([]byte, error)
}

// LLMAnnotator asks an OpenAI-compatible chat-completions endpoint for a
// verdict on each document. Any failure for a document falls back to the
// keyword classifier for that document only.
//
// When Documents and Text are set, the opening pages of each PDF go into
// the prompt; a download or parse failure leaves the prompt title-only.
type LLMAnnotator struct {
	BaseURL   string
	APIKey    string
	Model     string
	Client    *http.Client
	Fallback  KeywordClassifier
	Documents Downloader
	Text      func([]byte) (string, error)
}

func NewLLMAnnotator(baseURL, apiKey, model string, timeout time.Duration) *LLMAnnotator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &LLMAnnotator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Model:   model,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (a *LLMAnnotator) Annotate(ctx context.Context, docs []models.Document) ([]models.AnnotatedDocument, error) {
	out := make([]models.AnnotatedDocument, 0, len(docs))
	for _, d := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ann, err := a.annotate(ctx, d)
		if err != nil {
			logger.Warn("relevance: llm fallback", map[string]interface{}{"pdf_url": d.PDFURL, "error": err.Error()})
			ann = a.Fallback.Classify(d.Title)
		}
		out = append(out, models.AnnotatedDocument{Document: d, Annotation: ann})
	}
	return out, nil
}

// documentText returns the opening text of d's PDF, or "" when unavailable.
func (a *LLMAnnotator) documentText(ctx context.Context, d models.Document) string {
	if a.Documents == nil || a.Text == nil || d.PDFURL == "" {
		return ""
	}
	data, err := a.Documents.Download(ctx, d.PDFURL)
	if err == nil {
		var text string
		if text, err = a.Text(data); err == nil {
			return truncate(strings.Join(strings.Fields(text), " "), maxDocumentText)
		}
	}
	logger.Debug("relevance: pdf text unavailable, title only", map[string]interface{}{"pdf_url": d.PDFURL, "error": err.Error()})
	return ""
}

func prompt(d models.Document, text string) string {
	p := fmt.Sprintf("Sección: %s\nTítulo: %s", d.Section.Label(), d.Title)
	if text != "" {
		p += "\nTexto:\n" + text
	}
	return p
}

func (a *LLMAnnotator) annotate(ctx context.Context, d models.Document) (models.Annotation, error) {
	body, err := json.Marshal(chatRequest{
		Model: a.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt(d, a.documentText(ctx, d))},
		},
		ResponseFormat: &responseFormat{Type: "json_object"},
	})
	if err != nil {
		return models.Annotation{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return models.Annotation{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.APIKey)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return models.Annotation{}, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return models.Annotation{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return models.Annotation{}, fmt.Errorf("llm status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(raw, &cr); err != nil {
		return models.Annotation{}, fmt.Errorf("decode response: %w", err)
	}
	if cr.Error != nil {
		return models.Annotation{}, fmt.Errorf("llm: %s", cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return models.Annotation{}, fmt.Errorf("llm: no choices")
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(stripFence(cr.Choices[0].Message.Content)), &v); err != nil {
		return models.Annotation{}, fmt.Errorf("decode verdict: %w", err)
	}
	score, ok := parseScore(v.Score)
	if !ok {
		return models.Annotation{}, fmt.Errorf("llm: unknown relevance_score %q", v.Score)
	}
	return models.Annotation{
		Relevant: v.Relevant,
		Score:    score,
		Summary:  strings.TrimSpace(v.Summary),
		Source:   SourceLLM,
	}, nil
}

func parseScore(s string) (models.RelevanceScore, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return models.ScoreLow, true
	case "medium":
		return models.ScoreMedium, true
	case "high":
		return models.ScoreHigh, true
	}
	return "", false
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
