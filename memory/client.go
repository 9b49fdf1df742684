package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Client is the adapter over the remote memory service. Implementations
// must be stateless and safe for concurrent use; the pipeline holds no
// connection state of its own.
type Client interface {
	// Submit sends a batch of turns for memorization and returns the opaque
	// task ID of the remote job. The turns slice must be non-empty.
	Submit(ctx context.Context, userID, agentID string, turns []ConversationTurn) (string, error)

	// Status reports the remote state of a submitted task. Idempotent and
	// safe to call repeatedly.
	Status(ctx context.Context, taskID string) (TaskState, error)

	// RetrieveDefaultCategories fetches the categorized summaries for a
	// user/agent pair.
	RetrieveDefaultCategories(ctx context.Context, userID, agentID string) ([]CategorySummary, error)
}

// ClientConfig configures the HTTP client for the memory service.
type ClientConfig struct {
	BaseURL   string
	APIKey    string
	UserName  string // optional display name forwarded with submissions
	AgentName string // optional display name forwarded with submissions

	// Retry tuning. Zero values fall back to the defaults below.
	Timeout        time.Duration
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

const (
	defaultClientTimeout  = 30 * time.Second
	defaultMaxRetries     = 4
	defaultInitialBackoff = 1 * time.Second
	defaultMaxBackoff     = 30 * time.Second
)

// HTTPClient implements Client against the memory service's REST API.
type HTTPClient struct {
	cfg        ClientConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHTTPClient constructs an HTTPClient. BaseURL is required.
func NewHTTPClient(cfg ClientConfig, logger zerolog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("memory client: base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultClientTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = defaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaultMaxBackoff
	}
	return &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.With().Str("component", "memory-client").Logger(),
	}, nil
}

type wireTurn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

type memorizeRequest struct {
	UserID       string     `json:"user_id"`
	AgentID      string     `json:"agent_id"`
	UserName     string     `json:"user_name,omitempty"`
	AgentName    string     `json:"agent_name,omitempty"`
	Conversation []wireTurn `json:"conversation"`
}

type memorizeResponse struct {
	TaskID    string `json:"task_id"`
	TaskIDAlt string `json:"taskId"`
}

type statusResponse struct {
	State     string `json:"state"`
	StatusAlt string `json:"status"`
}

type categoriesResponse struct {
	Categories []json.RawMessage `json:"categories"`
}

// Submit implements Client.
func (c *HTTPClient) Submit(ctx context.Context, userID, agentID string, turns []ConversationTurn) (string, error) {
	if len(turns) == 0 {
		return "", fmt.Errorf("memory client: submit requires at least one turn")
	}

	payload := memorizeRequest{
		UserID:    userID,
		AgentID:   agentID,
		UserName:  c.cfg.UserName,
		AgentName: c.cfg.AgentName,
		Conversation: lo.Map(turns, func(t ConversationTurn, _ int) wireTurn {
			return wireTurn{Role: string(t.Role), Text: t.Text}
		}),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("memory client: marshal submission: %w", err)
	}

	var taskID string
	operation := func() error {
		var resp memorizeResponse
		if err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/api/v1/memory/memorize", body, &resp); err != nil {
			return err
		}
		taskID = resp.TaskID
		if taskID == "" {
			taskID = resp.TaskIDAlt
		}
		if taskID == "" {
			return backoff.Permanent(NewServiceError("memorize response carried no task id", 0, nil))
		}
		return nil
	}

	if err := c.retry(ctx, operation); err != nil {
		return "", err
	}
	c.logger.Debug().Str("taskID", taskID).Str("userID", userID).Int("turns", len(turns)).Msg("Submitted conversation batch")
	return taskID, nil
}

// Status implements Client.
func (c *HTTPClient) Status(ctx context.Context, taskID string) (TaskState, error) {
	if taskID == "" {
		return "", fmt.Errorf("memory client: task id is required")
	}

	var state TaskState
	operation := func() error {
		var resp statusResponse
		if err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/memory/status/"+url.PathEscape(taskID), nil, &resp); err != nil {
			return err
		}
		raw := resp.State
		if raw == "" {
			raw = resp.StatusAlt
		}
		parsed, err := parseTaskState(raw)
		if err != nil {
			return backoff.Permanent(err)
		}
		state = parsed
		return nil
	}

	if err := c.retry(ctx, operation); err != nil {
		return "", err
	}
	return state, nil
}

// RetrieveDefaultCategories implements Client. Both category encodings the
// service is known to emit (structured objects and key/value mappings) are
// normalized here; callers only ever see CategorySummary values. Entries
// that cannot be normalized are logged and skipped.
func (c *HTTPClient) RetrieveDefaultCategories(ctx context.Context, userID, agentID string) ([]CategorySummary, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("agent_id", agentID)
	endpoint := c.cfg.BaseURL + "/api/v1/memory/categories?" + q.Encode()

	var raw []json.RawMessage
	operation := func() error {
		entries, err := c.fetchCategories(ctx, endpoint)
		if err != nil {
			return err
		}
		raw = entries
		return nil
	}
	if err := c.retry(ctx, operation); err != nil {
		return nil, err
	}

	summaries := make([]CategorySummary, 0, len(raw))
	for _, entry := range raw {
		normalized, err := normalizeCategory(entry)
		if err != nil {
			c.logger.Warn().Err(err).Str("userID", userID).Msg("Skipping category entry that could not be normalized")
			continue
		}
		summaries = append(summaries, normalized...)
	}
	c.logger.Debug().Str("userID", userID).Int("categories", len(summaries)).Msg("Retrieved default categories")
	return summaries, nil
}

func (c *HTTPClient) fetchCategories(ctx context.Context, endpoint string) ([]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, backoff.Permanent(NewServiceError("create categories request", 0, err))
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, NewTransportError("categories request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored

	if resp.StatusCode >= 400 {
		return nil, c.statusError("categories", resp.StatusCode)
	}

	var envelope categoriesResponse
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&envelope); err != nil {
		return nil, backoff.Permanent(NewServiceError("decode categories response", resp.StatusCode, err))
	}
	return envelope.Categories, nil
}

// doJSON performs one request attempt and decodes a JSON body into out.
// Errors are typed and wrapped with backoff.Permanent where a retry cannot
// help.
func (c *HTTPClient) doJSON(ctx context.Context, method, endpoint string, body []byte, out any) error {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return backoff.Permanent(NewServiceError("create request", 0, err))
	}
	c.setHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewTransportError("request failed", err)
	}
	defer resp.Body.Close() //nolint:errcheck // Body close error can be ignored

	if resp.StatusCode >= 400 {
		return c.statusError(method+" "+endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(NewServiceError("decode response", resp.StatusCode, err))
	}
	return nil
}

// statusError maps a non-success HTTP status to a typed error. 429 and 5xx
// are left retryable; other 4xx are permanent.
func (c *HTTPClient) statusError(what string, statusCode int) error {
	svcErr := NewServiceError(fmt.Sprintf("%s returned status %d", what, statusCode), statusCode, nil)
	if svcErr.Retryable {
		c.logger.Warn().Int("status", statusCode).Msg("Memory service error, retrying")
		return svcErr
	}
	return backoff.Permanent(svcErr)
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
}

// retry runs operation under exponential backoff with jitter. Transport
// errors and retryable service errors are retried up to MaxRetries;
// permanent errors and context cancellation stop immediately.
func (c *HTTPClient) retry(ctx context.Context, operation func() error) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.cfg.InitialBackoff
	eb.Multiplier = 2.0
	eb.MaxInterval = c.cfg.MaxBackoff
	eb.MaxElapsedTime = 0
	eb.RandomizationFactor = 0.2
	eb.Reset()

	b := backoff.WithMaxRetries(eb, c.cfg.MaxRetries)
	err := backoff.Retry(operation, backoff.WithContext(b, ctx))
	if err == nil {
		return nil
	}
	var memErr *Error
	if errors.As(err, &memErr) {
		return memErr
	}
	return NewTransportError("memory service request failed", err)
}

func parseTaskState(raw string) (TaskState, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending", "processing":
		return TaskStatePending, nil
	case "completed":
		return TaskStateCompleted, nil
	case "failed":
		return TaskStateFailed, nil
	default:
		return "", NewServiceError(fmt.Sprintf("unknown task state %q", raw), 0, nil)
	}
}

// normalizeCategory maps one raw category entry into CategorySummary
// values. Two encodings are accepted: a structured object with "name" and
// optional "summary" fields, and a key/value mapping of category name to
// summary text. Anything else is a composition error.
func normalizeCategory(raw json.RawMessage) ([]CategorySummary, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, NewCompositionError("category entry is not an object", err)
	}
	if len(fields) == 0 {
		return nil, NewCompositionError("category entry is empty", nil)
	}

	// Structured shape: {"name": ..., "summary": ...}
	if nameRaw, ok := fields["name"]; ok {
		var name string
		if err := json.Unmarshal(nameRaw, &name); err == nil && name != "" {
			summary := ""
			if summaryRaw, ok := fields["summary"]; ok {
				var s *string
				if err := json.Unmarshal(summaryRaw, &s); err != nil {
					return nil, NewCompositionError("category summary is not a string", err)
				}
				if s != nil {
					summary = *s
				}
			}
			return []CategorySummary{{Name: name, Summary: summary}}, nil
		}
	}

	// Mapping shape: {"<name>": "<summary>", ...}. Keys are sorted so the
	// result is deterministic regardless of map order.
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]CategorySummary, 0, len(fields))
	for _, name := range names {
		var s *string
		if err := json.Unmarshal(fields[name], &s); err != nil {
			return nil, NewCompositionError(fmt.Sprintf("category %q summary is not a string", name), err)
		}
		summary := ""
		if s != nil {
			summary = *s
		}
		out = append(out, CategorySummary{Name: name, Summary: summary})
	}
	return out, nil
}
