// Package cloud implements the Pixie cloud session: REST login and class
// queries, lazy id resolution, command writes and the live query channel.
package cloud

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

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/dokzlo13/pixied/internal/pixie/device"
)

// Query is a class query body.
type Query map[string]any

// Home is the cloud's aggregate record of a home.
type Home struct {
	ObjectID   string                   `json:"objectId"`
	Name       string                   `json:"name,omitempty"`
	DeviceList []map[string]any         `json:"deviceList"`
	OnlineList map[string]device.Status `json:"onlineList,omitempty"`
}

// Client is an authenticated session against the Pixie cloud.
// It is safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
	limiter    *rate.Limiter
	group      singleflight.Group

	mu    sync.RWMutex
	creds Credentials
	state State
}

// NewClient creates a new cloud client. A missing installation id is generated.
func NewClient(config Config, creds Credentials, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	if !strings.HasSuffix(config.BaseURL, "/") {
		config.BaseURL += "/"
	}
	creds.EnsureInstallationID()

	limit := rate.Inf
	if config.CommandRate > 0 {
		limit = rate.Limit(config.CommandRate)
	}
	burst := config.CommandBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		creds:      creds,
	}
}

// Config returns the client configuration.
func (c *Client) Config() Config {
	return c.config
}

// Credentials returns a snapshot of the session credentials.
func (c *Client) Credentials() Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

// State returns the current session state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) sessionToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds.SessionToken
}

// Close closes idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Login exchanges username and password for a session token.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	prev := c.state
	if c.state < StateAuthenticated {
		c.state = StateAuthenticating
	}
	body := map[string]any{
		"username": c.creds.Username,
		"password": c.creds.Password,
		"_method":  "GET",
	}
	c.mu.Unlock()

	resp, err := c.do(ctx, http.MethodPost, "login", body, false)
	if err != nil {
		c.setState(prev)
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setState(prev)
		msg, _ := decodeError(resp.Body)
		return &AuthenticationError{StatusCode: resp.StatusCode, Message: msg}
	}

	var result struct {
		ObjectID     string `json:"objectId"`
		SessionToken string `json:"sessionToken"`
		CurHome      *struct {
			ObjectID string `json:"objectId"`
		} `json:"curHome"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		c.setState(prev)
		return fmt.Errorf("login: decode response: %w", err)
	}

	c.mu.Lock()
	c.creds.SessionToken = result.SessionToken
	if result.ObjectID != "" {
		c.creds.UserObjectID = result.ObjectID
	}
	if result.CurHome != nil && result.CurHome.ObjectID != "" {
		c.creds.CurrentHomeID = result.CurHome.ObjectID
	}
	if c.state < StateAuthenticated {
		c.state = StateAuthenticated
	}
	c.mu.Unlock()

	log.Info().Str("user_id", result.ObjectID).Msg("Logged in to Pixie cloud")
	return nil
}

// FetchClass queries records of a class. An invalid session is refreshed by
// logging in again once.
func (c *Client) FetchClass(ctx context.Context, className string, query Query) ([]json.RawMessage, error) {
	results, err := c.fetchClass(ctx, className, query)
	var reqErr *CloudRequestError
	if errors.As(err, &reqErr) && reqErr.InvalidSession() {
		log.Warn().Str("class", className).Msg("Session token rejected, logging in again")
		if lerr := c.Login(ctx); lerr != nil {
			return nil, lerr
		}
		return c.fetchClass(ctx, className, query)
	}
	return results, err
}

func (c *Client) fetchClass(ctx context.Context, className string, query Query) ([]json.RawMessage, error) {
	body := Query{"where": map[string]any{}, "_method": "GET"}
	for k, v := range query {
		body[k] = v
	}

	resp, err := c.do(ctx, http.MethodPost, "classes/"+className, body, true)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", className, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, code := decodeError(resp.Body)
		return nil, &CloudRequestError{Class: className, StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	var result struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("fetch %s: decode response: %w", className, err)
	}
	return result.Results, nil
}

// fetchFirstObjectID returns objectId of the first matching record.
func (c *Client) fetchFirstObjectID(ctx context.Context, className string, query Query) (string, error) {
	results, err := c.FetchClass(ctx, className, query)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", fmt.Errorf("%s: %w", className, ErrNotFound)
	}
	var rec struct {
		ObjectID string `json:"objectId"`
	}
	if err := json.Unmarshal(results[0], &rec); err != nil {
		return "", fmt.Errorf("%s: decode record: %w", className, err)
	}
	return rec.ObjectID, nil
}

// resolve returns a cached id or fetches it once. Concurrent first callers
// share a single fetch.
func (c *Client) resolve(ctx context.Context, key string, field func(*Credentials) *string, fetch func(context.Context) (string, error)) (string, error) {
	c.mu.RLock()
	v := *field(&c.creds)
	c.mu.RUnlock()
	if v != "" {
		return v, nil
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		c.mu.RLock()
		v := *field(&c.creds)
		c.mu.RUnlock()
		if v != "" {
			return v, nil
		}

		v, err := fetch(ctx)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		*field(&c.creds) = v
		c.mu.Unlock()
		log.Debug().Str("field", key).Str("value", v).Msg("Resolved cloud id")
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}

// UserObjectID returns the user's object id.
func (c *Client) UserObjectID(ctx context.Context) (string, error) {
	return c.resolve(ctx, "user_object_id",
		func(cr *Credentials) *string { return &cr.UserObjectID },
		func(ctx context.Context) (string, error) {
			username := c.Credentials().Username
			return c.fetchFirstObjectID(ctx, "_User", Query{"where": map[string]any{"username": username}})
		})
}

// CurrentHomeID returns the id of the user's current home.
func (c *Client) CurrentHomeID(ctx context.Context) (string, error) {
	return c.resolve(ctx, "current_home_id",
		func(cr *Credentials) *string { return &cr.CurrentHomeID },
		func(ctx context.Context) (string, error) {
			return c.fetchFirstObjectID(ctx, "Home", nil)
		})
}

// LiveGroupID returns the id of the home's live group.
func (c *Client) LiveGroupID(ctx context.Context) (string, error) {
	return c.resolve(ctx, "live_group_id",
		func(cr *Credentials) *string { return &cr.LiveGroupID },
		func(ctx context.Context) (string, error) {
			homeID, err := c.CurrentHomeID(ctx)
			if err != nil {
				return "", err
			}
			return c.fetchFirstObjectID(ctx, "LiveGroup", Query{
				"where": map[string]any{
					"GroupID": map[string]any{"$regex": homeID + "$", "$options": "i"},
				},
				"limit": 2,
			})
		})
}

// ResolveAll resolves every lazy id and returns the full credentials.
func (c *Client) ResolveAll(ctx context.Context) (Credentials, error) {
	if _, err := c.UserObjectID(ctx); err != nil {
		return Credentials{}, err
	}
	if _, err := c.CurrentHomeID(ctx); err != nil {
		return Credentials{}, err
	}
	if _, err := c.LiveGroupID(ctx); err != nil {
		return Credentials{}, err
	}
	return c.Credentials(), nil
}

// Home fetches the current home object. It is never cached.
func (c *Client) Home(ctx context.Context) (*Home, error) {
	homeID, err := c.CurrentHomeID(ctx)
	if err != nil {
		return nil, err
	}
	results, err := c.FetchClass(ctx, "Home", Query{"where": map[string]any{"objectId": homeID}})
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("home %s: %w", homeID, ErrNotFound)
	}
	var home Home
	if err := json.Unmarshal(results[0], &home); err != nil {
		return nil, fmt.Errorf("decode home: %w", err)
	}
	return &home, nil
}

// Devices returns the raw device list of the current home.
func (c *Client) Devices(ctx context.Context) ([]map[string]any, error) {
	home, err := c.Home(ctx)
	if err != nil {
		return nil, err
	}
	return home.DeviceList, nil
}

// SendCommand writes an encoded payload to the live group's request field
// and returns the server's updatedAt marker. An invalid session is refreshed
// by logging in again once, like FetchClass.
func (c *Client) SendCommand(ctx context.Context, payload string) (string, error) {
	if c.State() != StateConnected {
		return "", &CommandSendError{Payload: payload, Err: ErrNotConnected}
	}

	liveGroupID, err := c.LiveGroupID(ctx)
	if err != nil {
		return "", &CommandSendError{Payload: payload, Err: err}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", &CommandSendError{Payload: payload, Err: err}
	}

	marker, err := c.putCommand(ctx, liveGroupID, payload)
	var reqErr *CloudRequestError
	if errors.As(err, &reqErr) && reqErr.InvalidSession() {
		log.Warn().Msg("Session token rejected while sending, logging in again")
		if lerr := c.Login(ctx); lerr != nil {
			return "", &CommandSendError{Payload: payload, Err: lerr}
		}
		marker, err = c.putCommand(ctx, liveGroupID, payload)
	}
	if err != nil {
		return "", &CommandSendError{Payload: payload, Err: err}
	}

	log.Debug().Str("payload", payload).Str("updated_at", marker).Msg("Command sent")
	return marker, nil
}

func (c *Client) putCommand(ctx context.Context, liveGroupID, payload string) (string, error) {
	resp, err := c.do(ctx, http.MethodPut, "classes/LiveGroup/"+liveGroupID, map[string]any{"Request": payload}, true)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, code := decodeError(resp.Body)
		return "", &CloudRequestError{Class: "LiveGroup", StatusCode: resp.StatusCode, Code: code, Message: msg}
	}

	var result struct {
		UpdatedAt string `json:"updatedAt"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	return result.UpdatedAt, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, authenticated bool) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
	if err != nil {
		return nil, err
	}

	creds := c.Credentials()
	req.Header.Set("x-parse-application-id", c.config.AppID)
	req.Header.Set("x-parse-installation-id", creds.InstallationID)
	req.Header.Set("x-parse-client-key", c.config.ClientKey)
	req.Header.Set("content-type", "application/json")
	if authenticated {
		req.Header.Set("x-parse-session-token", creds.SessionToken)
	}

	return c.httpClient.Do(req)
}

// decodeError extracts the server error message and code from a response body.
func decodeError(r io.Reader) (string, int) {
	data, _ := io.ReadAll(r)
	var body struct {
		Code  int    `json:"code"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return strings.TrimSpace(string(data)), body.Code
	}
	return body.Error, body.Code
}
