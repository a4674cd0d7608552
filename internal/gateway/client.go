package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/hoodly/hoodlysync/internal/logging"
	"github.com/hoodly/hoodlysync/internal/models"
)

const (
	readMaxRetries  = 3
	readBaseBackoff = 100 * time.Millisecond
	readMaxBackoff  = 2 * time.Second
)

// Options tunes the client's throttling behaviour.
type Options struct {
	RequestsPerSecond int
	Burst             int
	HTTPClient        *http.Client
}

// Client is the single authenticated HTTP entry point to the backend's row
// API, remote procedures, and auth endpoints. Reads are retried with backoff;
// mutations are issued exactly once so a transient failure never turns into a
// duplicate write.
type Client struct {
	baseURL string
	anonKey string
	http    *http.Client
	limiter *opLimiter
	session *SessionManager
}

// NewClient constructs a client for the backend at baseURL authenticated with
// the public anon key.
func NewClient(baseURL, anonKey string, opts Options) *Client {
	rps := opts.RequestsPerSecond
	if rps <= 0 {
		rps = 20
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 10
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		anonKey: anonKey,
		http:    httpClient,
		limiter: newOpLimiter(rps, time.Second, burst, 5*time.Minute),
	}
}

// UseSession attaches the session manager whose tokens authenticate requests.
// Without one the client operates anonymously with the anon key only.
func (c *Client) UseSession(session *SessionManager) {
	c.session = session
}

// Session returns the attached session manager, or nil in anonymous mode.
func (c *Client) Session() *SessionManager {
	return c.session
}

// UserID returns the signed-in user's identifier, or empty in anonymous mode.
func (c *Client) UserID() string {
	if c.session == nil {
		return ""
	}
	return c.session.UserID()
}

// Select fetches rows from a table. Idempotent, retried with backoff on
// transport failures and server errors.
func (c *Client) Select(ctx context.Context, table string, query url.Values, out any) error {
	ctx, span := logging.StartSpan(ctx, "gateway.select."+table)
	defer span.End()

	var attempt int
	for attempt = 0; attempt < readMaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, attempt); err != nil {
				return err
			}
		}

		err := c.do(ctx, http.MethodGet, "/rest/v1/"+table, query, nil, out, "")
		if err == nil {
			return nil
		}
		if !IsRetryable(err) || attempt == readMaxRetries-1 {
			return err
		}

		logging.FromContext(ctx).Warn("retrying read", "table", table, "attempt", attempt+1, "error", err)
	}

	return fmt.Errorf("select %s: exceeded max retries (%d)", table, attempt)
}

// Insert writes new rows to a table and decodes the representation returned
// by the backend into out when out is non-nil. Never retried.
func (c *Client) Insert(ctx context.Context, table string, body, out any) error {
	ctx, span := logging.StartSpan(ctx, "gateway.insert."+table)
	defer span.End()

	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	return c.do(ctx, http.MethodPost, "/rest/v1/"+table, nil, body, out, prefer)
}

// Update patches rows matched by the filter query and decodes the updated
// representation into out when out is non-nil. Never retried; conditional
// filters make it safe to surface a conflict instead.
func (c *Client) Update(ctx context.Context, table string, query url.Values, body, out any) error {
	ctx, span := logging.StartSpan(ctx, "gateway.update."+table)
	defer span.End()

	prefer := "return=minimal"
	if out != nil {
		prefer = "return=representation"
	}
	return c.do(ctx, http.MethodPatch, "/rest/v1/"+table, query, body, out, prefer)
}

// Call invokes a named remote procedure. Not retried: procedures are assumed
// non-idempotent unless the caller wraps the call itself.
func (c *Client) Call(ctx context.Context, procedure string, args, out any) error {
	ctx, span := logging.StartSpan(ctx, "gateway.rpc."+procedure)
	defer span.End()

	return c.do(ctx, http.MethodPost, "/rest/v1/rpc/"+procedure, nil, args, out, "")
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any, prefer string) error {
	if err := c.limiter.Wait(ctx, method+" "+path); err != nil {
		return err
	}

	token := c.anonKey
	authenticated := false
	if c.session != nil && c.session.Authenticated() {
		access, err := c.session.AccessToken(ctx)
		if err != nil {
			return err
		}
		token = access
		authenticated = true
	}

	err := c.roundTrip(ctx, method, path, query, body, out, prefer, token)
	if err == nil || !authenticated || !errors.Is(err, ErrNoSession) {
		return err
	}

	// The backend rejected a token we believed valid. Refresh once and retry.
	access, refreshErr := c.session.ForceRefresh(ctx)
	if refreshErr != nil {
		return refreshErr
	}
	return c.roundTrip(ctx, method, path, query, body, out, prefer, access)
}

func (c *Client) roundTrip(ctx context.Context, method, path string, query url.Values, body, out any, prefer, token string) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeRemoteError(resp)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}

	return nil
}

type remoteErrorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Msg              string `json:"msg"`
	ErrorField       string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func decodeRemoteError(resp *http.Response) error {
	remote := &RemoteError{Status: resp.StatusCode}

	var body remoteErrorBody
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&body); err == nil {
		remote.Code = body.Code
		switch {
		case body.Message != "":
			remote.Message = body.Message
		case body.Msg != "":
			remote.Message = body.Msg
		case body.ErrorDescription != "":
			remote.Message = body.ErrorDescription
		default:
			remote.Message = body.ErrorField
		}
	}
	if remote.Message == "" {
		remote.Message = http.StatusText(resp.StatusCode)
	}

	return remote
}

func sleepBackoff(ctx context.Context, attempt int) error {
	backoff := time.Duration(math.Pow(2, float64(attempt-1))) * readBaseBackoff
	if backoff > readMaxBackoff {
		backoff = readMaxBackoff
	}

	timer := time.NewTimer(backoff)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Auth endpoint payloads.

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshGrantRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID string `json:"id"`
	} `json:"user"`
}

func (c *Client) signInPassword(ctx context.Context, email, password string) (models.SessionTokens, error) {
	return c.tokenGrant(ctx, "password", passwordGrantRequest{Email: email, Password: password})
}

func (c *Client) refreshSession(ctx context.Context, refreshToken string) (models.SessionTokens, error) {
	return c.tokenGrant(ctx, "refresh_token", refreshGrantRequest{RefreshToken: refreshToken})
}

func (c *Client) signOut(ctx context.Context, accessToken string) error {
	return c.roundTrip(ctx, http.MethodPost, "/auth/v1/logout", nil, struct{}{}, nil, "", accessToken)
}

func (c *Client) tokenGrant(ctx context.Context, grantType string, body any) (models.SessionTokens, error) {
	query := url.Values{}
	query.Set("grant_type", grantType)

	var token tokenResponse
	if err := c.roundTrip(ctx, http.MethodPost, "/auth/v1/token", query, body, &token, "", c.anonKey); err != nil {
		return models.SessionTokens{}, err
	}

	now := time.Now().UTC()
	return models.SessionTokens{
		AccessToken:     token.AccessToken,
		AccessExpiresAt: now.Add(time.Duration(token.ExpiresIn) * time.Second),
		RefreshToken:    token.RefreshToken,
		UserID:          token.User.ID,
	}, nil
}

var _ authAPI = (*Client)(nil)
