package gyanmitra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/Ash-D3v/GyanMitra/observability"
)

// ConversationGateway abstracts the remote conversation operations the
// reconciler depends on. Client is the HTTP implementation; TracingGateway
// decorates any implementation with spans; tests substitute fakes.
type ConversationGateway interface {
	// ListConversations fetches one page of the user's conversation
	// list, newest first.
	ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error)

	// GetConversation fetches a full conversation. Returns ErrNotFound
	// when the id no longer exists; callers treat that as non-fatal.
	GetConversation(ctx context.Context, id string) (*Conversation, error)

	// DeleteConversation removes a conversation. Deleting an
	// already-deleted id is success.
	DeleteConversation(ctx context.Context, id string) error

	// SubmitQuery sends a question and returns the answer, creating a
	// conversation when req.ConversationID is empty.
	SubmitQuery(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// SubmitFeedback records a terminal thumbs rating on one message of
	// a conversation.
	SubmitFeedback(ctx context.Context, conversationID string, messageIndex int, rating FeedbackRating) error
}

const defaultTimeout = 30 * time.Second

// Client talks to the GyanMitra backend over its REST API. All authenticated
// calls attach the bearer token from the credential store; a 401/403
// response clears the store so the host application can redirect to login.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      CredentialStore
	limiter    *rate.Limiter
	logger     observability.Logger
	userAgent  string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client. The transport's
// timeout is the only timeout policy the SDK applies.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger attaches a logger. The default is the null logger.
func WithLogger(logger observability.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithRateLimit caps outgoing requests per second with the given burst.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) ClientOption {
	return func(c *Client) { c.userAgent = ua }
}

// NewClient creates a Client for the backend at baseURL using creds for
// token storage.
//
// Example usage:
//
//	store := gyanmitra.NewFileCredentialStore("/home/user/.gyanmitra/credentials.json")
//	client := gyanmitra.NewClient("https://api.gyanmitra.in", store,
//	    gyanmitra.WithLogger(observability.NewDefaultLogger()),
//	)
//	if _, err := client.Login(ctx, "student@example.com", "secret"); err != nil {
//	    log.Fatal(err)
//	}
func NewClient(baseURL string, creds CredentialStore, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
		creds:      creds,
		limiter:    rate.NewLimiter(rate.Inf, 1),
		logger:     observability.NewNullLogger(),
		userAgent:  "gyanmitra-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register creates a new student account. The payload is validated
// client-side before any network call.
func (c *Client) Register(ctx context.Context, name, email, password string, grade int, subjects []string) error {
	payload := map[string]interface{}{
		"name":     name,
		"email":    email,
		"password": password,
		"grade":    grade,
		"subjects": subjects,
	}
	if err := validatePayload(registerSchema, payload); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, "/auth/register", false, payload, nil)
}

// Login authenticates and persists the returned token and profile in the
// credential store.
func (c *Client) Login(ctx context.Context, email, password string) (*User, error) {
	payload := map[string]interface{}{"email": email, "password": password}
	if err := validatePayload(loginSchema, payload); err != nil {
		return nil, err
	}

	var resp struct {
		Token string `json:"token"`
		User  User   `json:"user"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/login", false, payload, &resp); err != nil {
		return nil, err
	}

	if err := c.creds.Save(Credentials{Token: resp.Token, User: resp.User}); err != nil {
		return nil, fmt.Errorf("failed to persist credentials: %w", err)
	}
	return &resp.User, nil
}

// VerifyEmail confirms an email verification token.
func (c *Client) VerifyEmail(ctx context.Context, token string) error {
	path := "/auth/verify-email?token=" + url.QueryEscape(token)
	return c.do(ctx, http.MethodGet, path, false, nil, nil)
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/auth/me", true, nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// Logout clears the stored credentials. Purely local; the backend holds no
// session state beyond the token.
func (c *Client) Logout() error {
	return c.creds.Clear()
}

// SubmitQuery implements ConversationGateway.
func (c *Client) SubmitQuery(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	if req.Language == "" {
		req.Language = DetectQueryLanguage(req.Query)
	}

	payload := map[string]interface{}{
		"query":    req.Query,
		"grade":    req.Grade,
		"subject":  req.Subject,
		"language": req.Language,
	}
	if req.ConversationID != "" {
		payload["conversationId"] = req.ConversationID
	}
	if err := validatePayload(querySchema, payload); err != nil {
		return nil, err
	}

	var result QueryResult
	if err := c.do(ctx, http.MethodPost, "/query", true, payload, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// ListConversations implements ConversationGateway.
func (c *Client) ListConversations(ctx context.Context, page, limit int) (*ConversationPage, error) {
	path := fmt.Sprintf("/conversations?page=%d&limit=%d", page, limit)
	var result ConversationPage
	if err := c.do(ctx, http.MethodGet, path, true, nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetConversation implements ConversationGateway.
func (c *Client) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var conv Conversation
	if err := c.do(ctx, http.MethodGet, "/conversations/"+url.PathEscape(id), true, nil, &conv); err != nil {
		return nil, err
	}
	return &conv, nil
}

// DeleteConversation implements ConversationGateway. A 404 from the backend
// is swallowed: deleting an already-deleted conversation is success.
func (c *Client) DeleteConversation(ctx context.Context, id string) error {
	err := c.do(ctx, http.MethodDelete, "/conversations/"+url.PathEscape(id), true, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

// SubmitFeedback implements ConversationGateway.
func (c *Client) SubmitFeedback(ctx context.Context, conversationID string, messageIndex int, rating FeedbackRating) error {
	payload := map[string]interface{}{
		"conversationId": conversationID,
		"messageIndex":   messageIndex,
		"rating":         string(rating),
	}
	return c.do(ctx, http.MethodPost, "/feedback", true, payload, nil)
}

// Health probes the backend's readiness endpoint. Unauthenticated.
func (c *Client) Health(ctx context.Context) (*HealthStatus, error) {
	var status HealthStatus
	if err := c.do(ctx, http.MethodGet, "/health", false, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// do runs one request/response cycle: rate limit, marshal, auth header,
// status classification, unmarshal. No retries.
func (c *Client) do(ctx context.Context, method, path string, authed bool, body, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %s", ErrNetwork, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("X-Request-ID", uuid.New().String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if authed {
		creds, err := c.creds.Load()
		if err != nil {
			return fmt.Errorf("%w: %s", ErrUnauthorized, err)
		}
		req.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.WithErr(err).WithFields(map[string]interface{}{
			"method": method,
			"path":   path,
		}).Error("request failed")
		return fmt.Errorf("%w: %s", ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		kind := classifyStatus(resp.StatusCode)
		if errors.Is(kind, ErrUnauthorized) {
			// Expired token: discard it so the host redirects to
			// login instead of retrying a dead credential.
			if clearErr := c.creds.Clear(); clearErr != nil {
				c.logger.WithErr(clearErr).Warn("failed to clear credentials")
			}
		}
		return &APIError{
			Kind:       kind,
			StatusCode: resp.StatusCode,
			Message:    readErrorMessage(resp.Body),
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// readErrorMessage extracts the backend's error detail, tolerating both
// {"error": "..."} and {"detail": "..."} shapes.
func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 4096))
	if err != nil || len(data) == 0 {
		return ""
	}

	var payload struct {
		Error  string `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return strconv.Quote(strings.TrimSpace(string(data)))
	}
	if payload.Error != "" {
		return payload.Error
	}
	return payload.Detail
}
