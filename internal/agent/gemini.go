package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"homedoc/internal/conversation"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.0-flash"
)

// GeminiClient calls the Gemini generateContent API and parses
// structured JSON analyses out of the model text. One attempt per call;
// retry policy belongs to the caller.
type GeminiClient struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		APIKey:  apiKey,
		Model:   defaultModel,
		BaseURL: defaultBaseURL,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Wire types for the generateContent endpoint.

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

const analysisPrompt = `You are a medical AI assistant for the HomeDoc telehealth service.
Analyze the patient's symptoms below and respond with ONLY a JSON object, no other text:
{"diagnosis": "most likely condition", "severity": "low|medium|high", "confidence": 0-100, "recommendation": "practical advice for the patient", "requiresDoctor": true|false, "additionalNotes": "anything else worth mentioning"}

Severity hint from intake: %s

Symptoms: %s`

const chatPrompt = `Previous symptoms: %s

Patient's message: %s

Provide a brief, empathetic response and ask ONE relevant follow-up question about timing, severity, triggers, or related symptoms.`

const titlePrompt = `Generate a short title (at most 6 words) for this health consultation. Respond with only the title, no quotes.

%s`

// Analyze requests the final structured analysis for the accumulated
// symptom text.
func (c *GeminiClient) Analyze(ctx context.Context, symptomText string, hint conversation.Severity) (*conversation.AnalysisResult, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(analysisPrompt, hint, symptomText))
	if err != nil {
		return nil, err
	}
	return parseAnalysis(raw)
}

// ChatReply requests a conversational turn. The model is asked for the
// same structured shape as the final analysis; the reply text is taken
// from the notes field, falling back to the recommendation.
func (c *GeminiClient) ChatReply(ctx context.Context, priorSymptoms []string, statement string) (string, error) {
	prior := "None mentioned yet"
	if len(priorSymptoms) > 0 {
		prior = strings.Join(priorSymptoms, ", ")
	}
	raw, err := c.generate(ctx, fmt.Sprintf(analysisPrompt, conversation.SeverityLow,
		fmt.Sprintf(chatPrompt, prior, statement)))
	if err != nil {
		return "", err
	}
	result, err := parseAnalysis(raw)
	if err != nil {
		return "", err
	}
	if result.AdditionalNotes != "" {
		return result.AdditionalNotes, nil
	}
	if result.Recommendation != "" {
		return result.Recommendation, nil
	}
	return "I understand. Can you tell me when these symptoms first started?", nil
}

// GenerateTitle summarizes the transcript into a short human-readable
// title.
func (c *GeminiClient) GenerateTitle(ctx context.Context, transcript string) (string, error) {
	raw, err := c.generate(ctx, fmt.Sprintf(titlePrompt, transcript))
	if err != nil {
		return "", err
	}
	title := strings.Trim(strings.TrimSpace(raw), `"'`)
	if title == "" {
		return "", errors.New("empty title from model")
	}
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60])
	}
	return title, nil
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     0.9,
			TopK:            1,
			TopP:            1,
			MaxOutputTokens: 2048,
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.BaseURL, c.Model, c.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "gemini request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", errors.Errorf("gemini API error: %s - %s", resp.Status, string(body))
	}

	var result generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errors.Wrap(err, "decode gemini response")
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var b strings.Builder
	for _, p := range result.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

// parseAnalysis extracts the JSON object from the model text. Models
// often wrap JSON in markdown fences or lead with prose, so the parse
// targets the outermost brace pair.
func parseAnalysis(raw string) (*conversation.AnalysisResult, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return nil, errors.Errorf("no JSON object in model response: %q", truncate(raw, 120))
	}

	var result conversation.AnalysisResult
	if err := json.Unmarshal([]byte(raw[start:end+1]), &result); err != nil {
		return nil, errors.Wrap(err, "malformed analysis JSON")
	}

	switch conversation.Severity(strings.ToLower(string(result.Severity))) {
	case conversation.SeverityLow:
		result.Severity = conversation.SeverityLow
	case conversation.SeverityHigh:
		result.Severity = conversation.SeverityHigh
	default:
		result.Severity = conversation.SeverityMedium
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 100 {
		result.Confidence = 100
	}
	return &result, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
