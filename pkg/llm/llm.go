// Package llm is the boundary to the external language model. The model
// runs as a local OpenAI-compatible server; this client sends it the
// user's words plus a rendered system summary and gets back exactly one
// JSON action, which is schema-validated, decoded through the action
// constructors, and device-checked before the engine ever sees it.
// Everything the model says is treated as hostile input.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	schemavalidate "github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/sirupsen/logrus"

	"github.com/LevitateOS/installer/pkg/action"
	"github.com/LevitateOS/installer/pkg/probe"
)

const defaultTimeout = 30 * time.Second

const systemPromptHeader = `You translate a user's installation request into exactly one JSON action.
Respond with a single JSON object and nothing else. It must conform to this schema:

`

const systemPromptRules = `

Rules:
- Use only device paths that appear in the system state below.
- If the request is ambiguous or missing information, respond with
  {"action": "clarify", "question": "..."}.
- Never invent device names, sizes, or usernames.
`

const systemPromptState = `
Current system state:

`

// Client talks to the local model server.
type Client struct {
	// Endpoint is the server base URL, e.g. http://127.0.0.1:8080.
	Endpoint string
	// Model is the model name passed through to the server.
	Model string
	// Timeout bounds one translation round trip. A timeout synthesizes
	// a Clarify response instead of failing the turn.
	Timeout time.Duration

	// SourceRoot is where the live system tree is mounted. It is named
	// in the prompt and becomes copy_system's source when the model
	// leaves one out, so the model never has to invent the path.
	SourceRoot string

	HTTPClient *http.Client
	Log        *logrus.Entry

	schemaJSON []byte
	schema     *schemavalidate.Schema
}

// NewClient builds a client and precompiles the action schema.
func NewClient(endpoint, model string, log *logrus.Entry) (*Client, error) {
	raw, err := buildSchema()
	if err != nil {
		return nil, err
	}
	sch, err := compileSchema(raw)
	if err != nil {
		return nil, err
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		log = logrus.NewEntry(l)
	}
	return &Client{
		Endpoint:   strings.TrimSuffix(endpoint, "/"),
		Model:      model,
		Timeout:    defaultTimeout,
		HTTPClient: &http.Client{},
		Log:        log.WithField("component", "llm"),
		schemaJSON: raw,
		schema:     sch,
	}, nil
}

// Chat completion wire types, OpenAI shape.

type chatRequest struct {
	Model          string        `json:"model,omitempty"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// Translate sends the user's text and system summary to the model and
// returns the verified action. A model timeout becomes a Clarify so the
// conversation degrades instead of erroring; malformed or schema-invalid
// output is an error — the engine does not guess.
func (c *Client) Translate(ctx context.Context, text string, snap *probe.Snapshot) (action.Action, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	prompt := systemPromptHeader + string(c.schemaJSON) + systemPromptRules
	if c.SourceRoot != "" {
		prompt += fmt.Sprintf("- The live system tree is at %s; use it as copy_system's source unless the user names another.\n", c.SourceRoot)
	}
	prompt += systemPromptState + probe.RenderContext(snap)
	content, err := c.complete(ctx, prompt, text)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.Log.Warn("model timed out; asking the user instead")
			return action.Clarify{Question: "I couldn't work that out in time. Could you rephrase, or be more specific?"}, nil
		}
		return nil, err
	}

	raw := extractJSON(content)
	inst, err := schemavalidate.UnmarshalJSON(bytes.NewReader([]byte(raw)))
	if err != nil {
		return nil, fmt.Errorf("model output is not JSON: %w", err)
	}
	if err := c.schema.Validate(inst); err != nil {
		return nil, fmt.Errorf("model output failed schema validation: %w", err)
	}

	var w wireAction
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, fmt.Errorf("decode model output: %w", err)
	}
	if w.Action == string(action.KindCopySystem) && w.Source == "" {
		w.Source = c.SourceRoot
	}
	a, err := decodeAction(w)
	if err != nil {
		return nil, err
	}
	return verifyDevices(a, snap), nil
}

func (c *Client) complete(ctx context.Context, system, user string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return "", fmt.Errorf("encode model request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.Endpoint+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("model request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read model response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("model server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))
	}

	var out chatResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return "", fmt.Errorf("decode model response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("model returned no choices")
	}
	c.Log.WithField("duration", time.Since(start).String()).Debug("model responded")
	return out.Choices[0].Message.Content, nil
}

// extractJSON trims markdown fences some models wrap around JSON.
func extractJSON(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if i := strings.LastIndex(s, "```"); i >= 0 {
			s = s[:i]
		}
	}
	return strings.TrimSpace(s)
}
