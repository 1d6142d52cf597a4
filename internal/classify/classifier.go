// Package classify assigns an intent label to a message body using a remote
// Messages-style model API.
package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/nhle/mailsync/internal/model"
)

const (
	defaultEndpoint  = "https://api.anthropic.com/v1/messages"
	defaultModel     = "claude-3-5-haiku-latest"
	defaultMaxTokens = 16
	defaultTimeout   = 10 * time.Second
	apiVersion       = "2023-06-01"

	// SnippetLength is the number of body characters sent for
	// classification.
	SnippetLength = 300
)

// intentLabels are offered to the model. Inbox is the fallback and Sent is
// never inferred from content.
var intentLabels = []model.Category{
	model.CategoryInterested,
	model.CategoryMeetingBooked,
	model.CategoryNotInterested,
	model.CategorySpam,
	model.CategoryOutOfOffice,
}

// Config configures a Classifier.
type Config struct {
	Endpoint  string
	Model     string
	APIKey    string
	MaxTokens int
	Timeout   time.Duration
}

// Classifier is a stateless client: every call is an independent request
// with its own timeout and no shared conversation.
type Classifier struct {
	endpoint  string
	apiKey    string
	model     string
	maxTokens int
	timeout   time.Duration
	client    *http.Client
	logger    *log.Logger
}

// New creates a Classifier. A nil client uses a fresh http.Client.
func New(cfg Config, client *http.Client, logger *log.Logger) *Classifier {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = log.Default()
	}

	return &Classifier{
		endpoint:  cfg.Endpoint,
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		timeout:   cfg.Timeout,
		client:    client,
		logger:    logger,
	}
}

// Disabled returns a classifier that labels every message Inbox.
func Disabled() *Classifier {
	return &Classifier{logger: log.Default()}
}

// Enabled reports whether remote calls are made.
func (c *Classifier) Enabled() bool {
	return c.apiKey != "" && c.client != nil
}

// Classify returns the label for body. It never fails: any error, timeout or
// unexpected answer resolves to model.CategoryInbox.
func (c *Classifier) Classify(ctx context.Context, body string) model.Category {
	if !c.Enabled() {
		return model.CategoryInbox
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.call(ctx, Snippet(body))
	if err != nil {
		c.logger.Warn("classification failed, using default label", "err", err)
		return model.CategoryInbox
	}

	label, ok := model.ParseCategory(Sanitize(answer))
	if !ok {
		c.logger.Debug("classifier answered outside label set", "answer", answer)
		return model.CategoryInbox
	}
	return label
}

// Snippet truncates body to SnippetLength characters.
func Snippet(body string) string {
	runes := []rune(body)
	if len(runes) <= SnippetLength {
		return body
	}
	return string(runes[:SnippetLength])
}

// Sanitize trims whitespace and strips quote and period characters.
func Sanitize(answer string) string {
	answer = strings.TrimSpace(answer)
	return strings.NewReplacer(`"`, "", "'", "", ".", "").Replace(answer)
}

func prompt(snippet string) string {
	options := make([]string, 0, len(intentLabels))
	for _, l := range intentLabels {
		options = append(options, string(l))
	}

	var sb strings.Builder
	sb.WriteString("Classify this email (ONLY respond with the label):\n")
	sb.WriteString(fmt.Sprintf("%q\n", snippet))
	sb.WriteString("Options: ")
	sb.WriteString(strings.Join(options, ", "))
	return sb.String()
}

func (c *Classifier) call(ctx context.Context, snippet string) (string, error) {
	reqBody := apiRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    "You label inbound sales email replies. Answer with exactly one label from the options.",
		Messages: []apiMessage{
			{Role: "user", Content: prompt(snippet)},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("calling classifier: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiErrorResponse
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	var result apiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", fmt.Errorf("decoding response: %w", err)
	}

	for _, block := range result.Content {
		if block.Type == "text" {
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("response has no text content")
}

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type apiResponse struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Content []apiContentBlock `json:"content"`
}

type apiErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}
