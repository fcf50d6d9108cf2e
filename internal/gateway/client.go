package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/tasmota-bridge/internal/device"
	"github.com/nerrad567/tasmota-bridge/internal/infrastructure/config"
)

const (
	defaultTimeout = 10 * time.Second

	// maxResponseBytes caps how much of a reply is read.
	maxResponseBytes = 4 << 20
)

// Client talks to the gateway's open API.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	baseURL    string
	httpClient *http.Client

	token string
	mu    sync.RWMutex
}

// New creates a client for cfg.URL. The token from cfg is used until
// SetToken replaces it.
func New(cfg config.GatewayConfig) *Client {
	timeout := defaultTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		token:      cfg.Token,
	}
}

// SetToken replaces the bearer token.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Token returns the current bearer token.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// HasToken reports whether a bearer token is set.
func (c *Client) HasToken() bool {
	return c.Token() != ""
}

// ListDevices returns the gateway's device list.
func (c *Client) ListDevices(ctx context.Context) ([]Device, error) {
	var data struct {
		DeviceList []Device `json:"device_list"`
	}
	if err := c.rest(ctx, http.MethodGet, "/devices", nil, true, &data); err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return data.DeviceList, nil
}

// CreateDevices offers descriptors to the gateway in one DiscoveryRequest
// and returns the endpoints it created.
func (c *Client) CreateDevices(ctx context.Context, descriptors []Descriptor) ([]Endpoint, error) {
	if descriptors == nil {
		descriptors = []Descriptor{}
	}
	payload := struct {
		Endpoints []Descriptor `json:"endpoints"`
	}{Endpoints: descriptors}

	reply, err := c.postEvent(ctx, EventDiscoveryRequest, nil, payload)
	if err != nil {
		return nil, fmt.Errorf("creating devices: %w", err)
	}
	return reply.Payload.Endpoints, nil
}

// ReportStateChange tells the gateway the state of the device with serial.
func (c *Client) ReportStateChange(ctx context.Context, serial, thirdSerial string, state device.State) error {
	payload := struct {
		State device.State `json:"state"`
	}{State: state}

	ep := &Endpoint{SerialNumber: serial, ThirdSerialNumber: thirdSerial}
	if _, err := c.postEvent(ctx, EventStatesChange, ep, payload); err != nil {
		return fmt.Errorf("reporting state of %s: %w", serial, err)
	}
	return nil
}

// ReportOnlineChange tells the gateway whether the device with serial is
// reachable.
func (c *Client) ReportOnlineChange(ctx context.Context, serial, thirdSerial string, online bool) error {
	payload := struct {
		Online bool `json:"online"`
	}{Online: online}

	ep := &Endpoint{SerialNumber: serial, ThirdSerialNumber: thirdSerial}
	if _, err := c.postEvent(ctx, EventOnlineChange, ep, payload); err != nil {
		return fmt.Errorf("reporting online of %s: %w", serial, err)
	}
	return nil
}

// DeleteDevice removes the device with serial from the gateway.
func (c *Client) DeleteDevice(ctx context.Context, serial string) error {
	path := "/devices/" + url.PathEscape(serial)
	if err := c.rest(ctx, http.MethodDelete, path, nil, true, nil); err != nil {
		return fmt.Errorf("deleting device %s: %w", serial, err)
	}
	return nil
}

// AcquireToken asks the gateway for an access token once. Until the user
// presses the gateway's button the request fails with ErrTokenNotGranted.
// A granted token is also installed with SetToken.
func (c *Client) AcquireToken(ctx context.Context, appName string) (string, error) {
	path := "/bridge/access_token?app_name=" + url.QueryEscape(appName)

	var data struct {
		Token string `json:"token"`
	}
	err := c.rest(ctx, http.MethodGet, path, nil, false, &data)
	switch {
	case errors.Is(err, ErrUnreachable):
		return "", err
	case err != nil:
		return "", fmt.Errorf("%w: %w", ErrTokenNotGranted, err)
	case data.Token == "":
		return "", ErrTokenNotGranted
	}

	c.SetToken(data.Token)
	return data.Token, nil
}

// WaitForToken calls AcquireToken every interval until a token is granted
// or ctx ends, in which case the error wraps ErrTokenNotGranted.
func (c *Client) WaitForToken(ctx context.Context, appName string, interval time.Duration) (string, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		token, err := c.AcquireToken(ctx, appName)
		if err == nil {
			return token, nil
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("%w: last attempt: %w: %w", ErrTokenNotGranted, err, ctx.Err())
		case <-ticker.C:
		}
	}
}

// postEvent sends one event and checks the reply header.
func (c *Client) postEvent(ctx context.Context, name string, ep *Endpoint, payload any) (*eventReply, error) {
	req := eventRequest{Event: event{
		Header: EventHeader{
			Name:      name,
			MessageID: uuid.NewString(),
			Version:   eventVersion,
		},
		Endpoint: ep,
		Payload:  payload,
	}}

	body, status, err := c.do(ctx, http.MethodPost, "/thirdparty/event", req, true)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized {
		return nil, ErrUnauthorized
	}

	var reply eventReply
	if err := json.Unmarshal(body, &reply); err != nil {
		return nil, fmt.Errorf("%w: decoding reply: %w", ErrRequestFailed, err)
	}

	// Some firmware answers events with the REST envelope instead.
	if reply.Header.Name == "" {
		var env envelope
		if err := json.Unmarshal(body, &env); err == nil && env.Error != CodeSuccess {
			return nil, codeError(env.Error, env.Message)
		}
	}

	if reply.Header.Name == EventErrorResponse || reply.Payload.Description == descriptionUnauthorized {
		if reply.Payload.Description == descriptionUnauthorized {
			return nil, ErrUnauthorized
		}
		return nil, fmt.Errorf("%w: %s: %s", ErrRequestFailed, reply.Payload.Type, reply.Payload.Description)
	}
	return &reply, nil
}

// rest performs a call answered with the {error, data, message} envelope
// and decodes data into out when out is non-nil.
func (c *Client) rest(ctx context.Context, method, path string, in any, auth bool, out any) error {
	body, status, err := c.do(ctx, method, path, in, auth)
	if err != nil {
		return err
	}
	if status == http.StatusUnauthorized {
		return ErrUnauthorized
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return fmt.Errorf("%w: status %d: decoding reply: %w", ErrRequestFailed, status, err)
	}
	if env.Error != CodeSuccess {
		return codeError(env.Error, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding data: %w", ErrRequestFailed, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any, auth bool) ([]byte, int, error) {
	var reader io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return nil, 0, fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, 0, fmt.Errorf("building request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); auth && token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("%w: reading reply: %w", ErrUnreachable, err)
	}
	return body, resp.StatusCode, nil
}

func codeError(code int, message string) error {
	switch code {
	case CodeUnauthorized:
		return ErrUnauthorized
	case CodeNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, message)
	default:
		return fmt.Errorf("%w: code %d: %s", ErrRequestFailed, code, message)
	}
}
