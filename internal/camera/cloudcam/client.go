package cloudcam

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Client talks to a vendor cloud API with token authentication. All device
// operations go through the cloud; nothing is sent to the camera directly.
type Client struct {
	baseURL  string
	email    string
	password string
	apiKey   string

	http *http.Client

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	tokenExpiry  time.Time
}

// NewClient creates a cloud client. No I/O happens until the first call.
func NewClient(baseURL, email, password, apiKey string) *Client {
	return &Client{
		baseURL:  baseURL,
		email:    email,
		password: password,
		apiKey:   apiKey,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type apiResponse struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type loginData struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Login authenticates and caches the token pair.
func (c *Client) Login(ctx context.Context) error {
	var data loginData
	err := c.post(ctx, "/api/user/login", map[string]string{
		"email":    c.email,
		"password": c.password,
		"api_key":  c.apiKey,
	}, &data, false)
	if err != nil {
		return fmt.Errorf("cloud login failed: %w", err)
	}

	c.mu.Lock()
	c.accessToken = data.AccessToken
	c.refreshToken = data.RefreshToken
	c.tokenExpiry = time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

// ensureToken refreshes the access token when it is close to expiry. A
// failed refresh falls back to a full login.
func (c *Client) ensureToken(ctx context.Context) error {
	c.mu.Lock()
	token := c.accessToken
	refresh := c.refreshToken
	expiry := c.tokenExpiry
	c.mu.Unlock()

	if token == "" {
		return c.Login(ctx)
	}
	if time.Until(expiry) > time.Minute {
		return nil
	}

	var data loginData
	err := c.post(ctx, "/api/user/refresh_token", map[string]string{
		"refresh_token": refresh,
	}, &data, false)
	if err != nil {
		return c.Login(ctx)
	}

	c.mu.Lock()
	c.accessToken = data.AccessToken
	if data.RefreshToken != "" {
		c.refreshToken = data.RefreshToken
	}
	c.tokenExpiry = time.Now().Add(time.Duration(data.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return nil
}

// post sends a JSON request. When authed is true the cached access token is
// attached after ensureToken.
func (c *Client) post(ctx context.Context, path string, body map[string]string, out interface{}, authed bool) error {
	payload := make(map[string]string, len(body)+1)
	for k, v := range body {
		payload[k] = v
	}
	if authed {
		if err := c.ensureToken(ctx); err != nil {
			return err
		}
		c.mu.Lock()
		payload["access_token"] = c.accessToken
		c.mu.Unlock()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("cloud request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read cloud response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("cloud returned status %d", resp.StatusCode)
	}

	var envelope apiResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("failed to parse cloud response: %w", err)
	}
	if envelope.Code != "1" {
		return fmt.Errorf("cloud error %s: %s", envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// DeviceInfo is the cloud's view of one device.
type DeviceInfo struct {
	MAC          string `json:"mac"`
	Nickname     string `json:"nickname"`
	ProductModel string `json:"product_model"`
	IsOnline     bool   `json:"is_online"`
}

// GetDevice fetches a device record by MAC address.
func (c *Client) GetDevice(ctx context.Context, mac string) (*DeviceInfo, error) {
	var data struct {
		Device DeviceInfo `json:"device"`
	}
	err := c.post(ctx, "/api/device/get_info", map[string]string{
		"device_mac": mac,
	}, &data, true)
	if err != nil {
		return nil, err
	}
	return &data.Device, nil
}

// RunAction issues a device action (pan, stop, siren) through the cloud.
func (c *Client) RunAction(ctx context.Context, mac, action string, params map[string]string) error {
	body := map[string]string{
		"device_mac": mac,
		"action_key": action,
	}
	for k, v := range params {
		body["param_"+k] = v
	}
	return c.post(ctx, "/api/device/run_action", body, nil, true)
}

// StreamInfo is the cloud-brokered stream descriptor. URL is empty when
// the account tier does not include direct streaming.
type StreamInfo struct {
	URL string `json:"url"`
}

// GetStreamInfo asks the cloud for a stream URL.
func (c *Client) GetStreamInfo(ctx context.Context, mac string) (*StreamInfo, error) {
	var data StreamInfo
	err := c.post(ctx, "/api/device/get_stream", map[string]string{
		"device_mac": mac,
	}, &data, true)
	if err != nil {
		return nil, err
	}
	return &data, nil
}

// Event is one cloud-recorded device event.
type Event struct {
	ID          string `json:"event_id"`
	Category    string `json:"event_category"`
	Value       string `json:"event_value"`
	TimestampMs int64  `json:"event_ts"`
}

// GetEvents lists events for the device newer than since.
func (c *Client) GetEvents(ctx context.Context, mac string, since time.Time, limit int) ([]Event, error) {
	var data struct {
		Events []Event `json:"event_list"`
	}
	err := c.post(ctx, "/api/device/get_event_list", map[string]string{
		"device_mac": mac,
		"begin_time": fmt.Sprintf("%d", since.UnixMilli()),
		"count":      fmt.Sprintf("%d", limit),
	}, &data, true)
	if err != nil {
		return nil, err
	}
	return data.Events, nil
}
