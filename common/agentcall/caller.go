// Package agentcall speaks the JSON-RPC "message/send" envelope to
// remote agents. Agents are identified by the base URL of their
// descriptor document; the JSON-RPC endpoint is whatever the document
// declares (defaulting to the base URL itself).
package agentcall

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/paidflow/orchestrator/common/cache"
	"github.com/paidflow/orchestrator/common/models"
)

// AgentCardPath is the well-known location of the descriptor document.
const AgentCardPath = "/.well-known/agent-card.json"

// DefaultTimeout bounds a single agent request.
const DefaultTimeout = 60 * time.Second

// DefaultCardTTL bounds how long a fetched agent card stays cached.
const DefaultCardTTL = 5 * time.Minute

// ErrTimeout is returned when an agent request exceeds the caller's
// per-request timeout.
var ErrTimeout = errors.New("agent call timeout")

// Logger is the narrow logging interface the caller uses.
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
	Debug(msg string, keysAndValues ...interface{})
}

// CallOptions carries optional per-call settings.
type CallOptions struct {
	// ContextID threads a conversation id through related calls.
	ContextID string
	// Metadata rides on the request message; the payment coordinator
	// uses it to attach proof on retries.
	Metadata map[string]interface{}
}

// Caller invokes remote agents over JSON-RPC 2.0.
type Caller struct {
	httpClient *http.Client
	timeout    time.Duration
	logger     Logger

	cards   cache.Cache
	cardTTL time.Duration

	breakersMu sync.Mutex
	breakers   map[string]*gobreaker.CircuitBreaker

	requestID atomic.Int64
}

// Option configures a Caller.
type Option func(*Caller)

// WithTimeout overrides the default per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Caller) { c.timeout = d }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Caller) { c.httpClient = client }
}

// WithCardCache substitutes the agent card cache.
func WithCardCache(cc cache.Cache) Option {
	return func(c *Caller) { c.cards = cc }
}

// WithCardTTL overrides how long fetched cards stay cached.
func WithCardTTL(d time.Duration) Option {
	return func(c *Caller) { c.cardTTL = d }
}

// New creates a caller.
func New(logger Logger, opts ...Option) *Caller {
	c := &Caller{
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		logger:     logger,
		cardTTL:    DefaultCardTTL,
		breakers:   make(map[string]*gobreaker.CircuitBreaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cards == nil {
		c.cards = cache.NewMemory()
	}
	return c
}

// FetchCard retrieves the agent's descriptor document, caching it for
// the card TTL.
func (c *Caller) FetchCard(ctx context.Context, endpointBase string) (*AgentCard, error) {
	base := strings.TrimRight(endpointBase, "/")
	if raw, ok, _ := c.cards.Get(ctx, base); ok {
		var card AgentCard
		if err := json.Unmarshal(raw, &card); err == nil {
			return &card, nil
		}
	}

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(fetchCtx, http.MethodGet, base+AgentCardPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent card %s: %w", base, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch agent card %s: status %d", base, resp.StatusCode)
	}
	var card AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, fmt.Errorf("decode agent card %s: %w", base, err)
	}
	if card.URL == "" {
		card.URL = base
	}

	if raw, err := json.Marshal(&card); err == nil {
		_ = c.cards.Set(ctx, base, raw, c.cardTTL)
	}
	if c.logger != nil {
		c.logger.Debug("fetched agent card", "endpoint", base, "agent", card.Name)
	}
	return &card, nil
}

// ClearCache drops every cached agent card.
func (c *Caller) ClearCache() {
	_ = c.cards.Flush(context.Background())
}

// Available probes the descriptor document without caching a failure.
func (c *Caller) Available(ctx context.Context, endpointBase string) bool {
	_, err := c.FetchCard(ctx, endpointBase)
	return err == nil
}

// Call sends inputs to the agent and decodes the Message-or-Task
// result. A JSON-RPC 402 error comes back as the PaymentRequired
// result variant, not as an error.
func (c *Caller) Call(ctx context.Context, endpointBase string, inputs map[string]interface{}, opts CallOptions) (*Result, error) {
	card, err := c.FetchCard(ctx, endpointBase)
	if err != nil {
		return nil, err
	}

	reqBody := rpcRequest{
		JSONRPC: "2.0",
		Method:  "message/send",
		ID:      c.requestID.Add(1),
		Params: rpcParams{
			Message: Message{
				Kind:      "message",
				MessageID: uuid.NewString(),
				Role:      "user",
				Parts:     []Part{{Kind: PartData, Data: inputs}},
				ContextID: opts.ContextID,
				Metadata:  opts.Metadata,
			},
			Configuration: rpcConfig{Blocking: true},
		},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.post(ctx, card.URL, payload)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s: %w", endpointBase, ErrTimeout)
		}
		return nil, err
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode agent response: %w", err)
	}

	if resp.Error != nil {
		if challenge := decodeChallenge(resp.Error); challenge != nil {
			return &Result{Kind: ResultPaymentRequired, Challenge: challenge}, nil
		}
		return nil, resp.Error
	}
	return decodeResult(resp.Result)
}

// post sends the request body through the endpoint's circuit breaker.
func (c *Caller) post(ctx context.Context, url string, payload []byte) ([]byte, error) {
	out, err := c.breaker(url).Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= http.StatusInternalServerError {
			return nil, fmt.Errorf("agent returned status %d", resp.StatusCode)
		}
		return body, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]byte), nil
}

func (c *Caller) breaker(url string) *gobreaker.CircuitBreaker {
	c.breakersMu.Lock()
	defer c.breakersMu.Unlock()

	if cb, ok := c.breakers[url]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    url,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	c.breakers[url] = cb
	return cb
}

// decodeChallenge recognizes a payment challenge: numeric code 402, or
// an accepts array riding in the error data.
func decodeChallenge(rpcErr *RPCError) *models.PaymentChallenge {
	if len(rpcErr.Data) > 0 {
		var challenge models.PaymentChallenge
		if err := json.Unmarshal(rpcErr.Data, &challenge); err == nil && len(challenge.Accepts) > 0 {
			if challenge.Error == "" {
				challenge.Error = rpcErr.Message
			}
			return &challenge
		}
	}
	if rpcErr.Code == http.StatusPaymentRequired {
		return &models.PaymentChallenge{Error: rpcErr.Message}
	}
	return nil
}

// decodeResult decodes the Message-or-Task union by peeking at kind.
func decodeResult(raw json.RawMessage) (*Result, error) {
	var probe struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("decode result kind: %w", err)
	}
	switch probe.Kind {
	case "message":
		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, fmt.Errorf("decode message result: %w", err)
		}
		return &Result{Kind: ResultMessage, Message: &msg}, nil
	case "task":
		var task Task
		if err := json.Unmarshal(raw, &task); err != nil {
			return nil, fmt.Errorf("decode task result: %w", err)
		}
		return &Result{Kind: ResultTask, Task: &task}, nil
	default:
		return nil, fmt.Errorf("unknown result kind %q", probe.Kind)
	}
}

// ExtractOutput derives a node output from an agent result. A message
// with one text part yields that text; multiple text parts yield a
// list; data-only parts are shallow-merged, later parts winning. Tasks
// yield {taskId, status} plus the first artifact's derived output.
func ExtractOutput(res *Result) interface{} {
	switch res.Kind {
	case ResultMessage:
		return extractParts(res.Message.Parts)
	case ResultTask:
		out := map[string]interface{}{
			"taskId": res.Task.ID,
			"status": res.Task.Status.State,
		}
		if len(res.Task.Artifacts) > 0 {
			out["output"] = extractParts(res.Task.Artifacts[0].Parts)
		}
		return out
	default:
		return nil
	}
}

func extractParts(parts []Part) interface{} {
	var texts []interface{}
	merged := make(map[string]interface{})
	for _, p := range parts {
		switch p.Kind {
		case PartText:
			texts = append(texts, p.Text)
		case PartData:
			for k, v := range p.Data {
				merged[k] = v
			}
		}
	}
	switch {
	case len(texts) == 1:
		return texts[0]
	case len(texts) > 1:
		return texts
	case len(merged) > 0:
		return merged
	default:
		return nil
	}
}
