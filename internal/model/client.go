// Package model provides the HTTP client for the platform's model edge
// functions: chat completion, intent classification, transcription and
// speech synthesis. All heavy lifting happens upstream; this client is
// request shaping, timeouts and strict response parsing.
package model

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vozlab/voz/internal/domain"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config holds client settings.
type Config struct {
	BaseURL         string
	APIKey          string
	ClassifierModel string
	GeneratorModel  string
	// CallTimeout bounds every outbound call client-side, independent of
	// any server-side timeout.
	CallTimeout time.Duration
}

// Client calls the model edge functions over HTTP/JSON.
type Client struct {
	cfg   Config
	httpc *http.Client
}

// New creates a model client.
func New(cfg Config) *Client {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	return &Client{
		cfg:   cfg,
		httpc: &http.Client{},
	}
}

// completionRequest mirrors the OpenAI-compatible chat endpoint.
type completionRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.CallTimeout)
	defer cancel()

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("call %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("call %s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// Complete runs one chat completion and returns the assistant text.
func (c *Client) Complete(ctx context.Context, modelName string, messages []Message) (string, error) {
	var resp completionResponse
	if err := c.post(ctx, "/v1/chat/completions", completionRequest{Model: modelName, Messages: messages}, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// intentVerdict is the structured classification the model must return.
type intentVerdict struct {
	Agent      string            `json:"agent"`
	Tool       string            `json:"tool"`
	Type       string            `json:"type"`
	Confidence float64           `json:"confidence"`
	Entities   map[string]string `json:"entities"`
}

// ClassifyIntent asks the classifier model to pick an agent and tool for
// an ambiguous utterance. The response must be a single JSON object; any
// deviation is an error so the caller can fall back.
func (c *Client) ClassifyIntent(ctx context.Context, utterance string, candidates []domain.AgentConfig) (*domain.ClassifiedIntent, error) {
	var b strings.Builder
	b.WriteString("Classify the user query into exactly one of these agents and tools.\n")
	b.WriteString("Respond with only a JSON object: {\"agent\": slug, \"tool\": name, \"type\": intent, \"confidence\": 0.0-1.0, \"entities\": {kind: subject}}\n")
	b.WriteString("entities maps each tool's entity kind to the subject the user asked about.\n\nAgents:\n")
	for _, a := range candidates {
		b.WriteString("- ")
		b.WriteString(a.Slug)
		b.WriteString(" (")
		b.WriteString(strings.Join(a.Domains, ", "))
		b.WriteString("): tools ")
		for i, tool := range a.Tools {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(tool.Name)
			if tool.EntityKind != "" {
				b.WriteString(" [")
				b.WriteString(tool.EntityKind)
				b.WriteString("]")
			}
		}
		b.WriteString("\n")
	}

	text, err := c.Complete(ctx, c.cfg.ClassifierModel, []Message{
		{Role: "system", Content: b.String()},
		{Role: "user", Content: utterance},
	})
	if err != nil {
		return nil, err
	}

	var verdict intentVerdict
	dec := json.NewDecoder(strings.NewReader(extractJSONObject(text)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&verdict); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}
	if verdict.Agent == "" {
		return nil, fmt.Errorf("classification missing agent")
	}

	return &domain.ClassifiedIntent{
		Type:       verdict.Type,
		Confidence: verdict.Confidence,
		AgentSlug:  verdict.Agent,
		ToolName:   verdict.Tool,
		Entities:   verdict.Entities,
		RawQuery:   utterance,
		Method:     domain.MethodModel,
	}, nil
}

// extractJSONObject trims any prose the model wrapped around its JSON.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

// GenerateRequest carries everything response generation needs.
type GenerateRequest struct {
	Utterance  string
	AgentName  string
	ToolOutput any
	History    []Message
}

// Generate produces the assistant reply from tool output and history.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	system := "You are " + req.AgentName + ", a helpful assistant. Answer concisely in the user's language."
	if req.ToolOutput != nil {
		data, err := json.Marshal(req.ToolOutput)
		if err == nil {
			system += "\nUse this data when relevant:\n" + string(data)
		}
	}

	messages := make([]Message, 0, len(req.History)+2)
	messages = append(messages, Message{Role: "system", Content: system})
	messages = append(messages, req.History...)
	messages = append(messages, Message{Role: "user", Content: req.Utterance})

	return c.Complete(ctx, c.cfg.GeneratorModel, messages)
}

type transcribeRequest struct {
	Audio     string `json:"audio"`
	DeviceID  string `json:"deviceId,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
}

type transcribeResponse struct {
	Text       string `json:"text"`
	Transcript string `json:"transcript"`
}

// Transcribe converts recorded audio into text.
func (c *Client) Transcribe(ctx context.Context, audio []byte, deviceID, sessionID string) (string, error) {
	var resp transcribeResponse
	err := c.post(ctx, "/functions/v1/voice-to-text", transcribeRequest{
		Audio:     base64.StdEncoding.EncodeToString(audio),
		DeviceID:  deviceID,
		SessionID: sessionID,
	}, &resp)
	if err != nil {
		return "", err
	}
	text := resp.Text
	if text == "" {
		text = resp.Transcript
	}
	return text, nil
}

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

type synthesizeResponse struct {
	AudioURL string `json:"audioUrl"`
}

// Synthesize converts reply text to speech and returns the audio URL.
func (c *Client) Synthesize(ctx context.Context, text, voice string) (string, error) {
	if voice == "" {
		voice = "nova"
	}
	var resp synthesizeResponse
	err := c.post(ctx, "/functions/v1/text-to-speech", synthesizeRequest{Text: text, Voice: voice, Speed: 1.0}, &resp)
	if err != nil {
		return "", err
	}
	if resp.AudioURL == "" {
		return "", fmt.Errorf("speech synthesis returned no audio")
	}
	return resp.AudioURL, nil
}
