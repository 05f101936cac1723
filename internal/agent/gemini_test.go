package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"homedoc/internal/conversation"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*GeminiClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewGeminiClient("test-key")
	c.BaseURL = srv.URL
	return c, srv
}

func modelText(text string) string {
	resp := map[string]any{
		"candidates": []map[string]any{
			{"content": map[string]any{"parts": []map[string]string{{"text": text}}}},
		},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// ---------------------------------------------------------------------------
// Analyze
// ---------------------------------------------------------------------------

func TestAnalyzeParsesFencedJSON(t *testing.T) {
	body := "```json\n" +
		`{"diagnosis":"Flu","severity":"medium","confidence":72,"recommendation":"Rest and hydrate","requiresDoctor":false,"additionalNotes":"Monitor temperature"}` +
		"\n```"

	var gotPath string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, modelText(body))
	})

	result, err := c.Analyze(context.Background(), "headache. fever", conversation.SeverityMedium)
	require.NoError(t, err)
	require.Equal(t, "/models/gemini-2.0-flash:generateContent", gotPath)
	require.Equal(t, "Flu", result.Diagnosis)
	require.Equal(t, conversation.SeverityMedium, result.Severity)
	require.Equal(t, 72, result.Confidence)
	require.Equal(t, "Rest and hydrate", result.Recommendation)
	require.False(t, result.RequiresDoctor)
}

func TestAnalyzeNormalizesSeverityAndConfidence(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText(`{"diagnosis":"X","severity":"CRITICAL","confidence":140,"recommendation":"r"}`))
	})

	result, err := c.Analyze(context.Background(), "symptoms", conversation.SeverityLow)
	require.NoError(t, err)
	require.Equal(t, conversation.SeverityMedium, result.Severity, "unknown tiers default to medium")
	require.Equal(t, 100, result.Confidence)
}

func TestAnalyzeRejectsProseOnlyResponse(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText("I'm sorry, I cannot help with that."))
	})

	_, err := c.Analyze(context.Background(), "symptoms", conversation.SeverityLow)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no JSON object")
}

func TestAnalyzePropagatesAPIError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota exceeded"}`, http.StatusTooManyRequests)
	})

	_, err := c.Analyze(context.Background(), "symptoms", conversation.SeverityLow)
	require.Error(t, err)
	require.Contains(t, err.Error(), "gemini API error")
}

// ---------------------------------------------------------------------------
// ChatReply
// ---------------------------------------------------------------------------

func TestChatReplyPrefersNotes(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText(`{"diagnosis":"","severity":"low","confidence":0,"recommendation":"Drink water","additionalNotes":"That sounds uncomfortable. How long has it lasted?"}`))
	})

	reply, err := c.ChatReply(context.Background(), []string{"headache"}, "it got worse")
	require.NoError(t, err)
	require.Equal(t, "That sounds uncomfortable. How long has it lasted?", reply)
}

func TestChatReplyFallsBackToRecommendation(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText(`{"diagnosis":"","severity":"low","confidence":0,"recommendation":"Can you describe the pain?"}`))
	})

	reply, err := c.ChatReply(context.Background(), nil, "headache")
	require.NoError(t, err)
	require.Equal(t, "Can you describe the pain?", reply)
}

func TestChatReplySendsPriorSymptoms(t *testing.T) {
	var prompt string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req generateRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		prompt = req.Contents[0].Parts[0].Text
		io.WriteString(w, modelText(`{"diagnosis":"","severity":"low","confidence":0,"recommendation":"ok"}`))
	})

	_, err := c.ChatReply(context.Background(), []string{"headache", "fever"}, "also nausea")
	require.NoError(t, err)
	require.Contains(t, prompt, "headache, fever")
	require.Contains(t, prompt, "also nausea")
}

// ---------------------------------------------------------------------------
// GenerateTitle
// ---------------------------------------------------------------------------

func TestGenerateTitleTrimsDecorations(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText("\"Persistent Headache Consultation\"\n"))
	})

	title, err := c.GenerateTitle(context.Background(), "Patient: headache\nAI: noted")
	require.NoError(t, err)
	require.Equal(t, "Persistent Headache Consultation", title)
}

func TestGenerateTitleTruncatesOnRuneBoundary(t *testing.T) {
	long := strings.Repeat("длительная головная боль ", 4) // 100 runes, multi-byte
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText(long))
	})

	title, err := c.GenerateTitle(context.Background(), "transcript")
	require.NoError(t, err)
	require.True(t, utf8.ValidString(title))
	require.Equal(t, 60, utf8.RuneCountInString(title))
}

func TestGenerateTitleRejectsEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, modelText("   "))
	})

	_, err := c.GenerateTitle(context.Background(), "transcript")
	require.Error(t, err)
}
