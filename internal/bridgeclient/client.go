// Package bridgeclient is the HTTP client for the gisbridge control API.
package bridgeclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gisbridge/internal/api"
)

const defaultUnaryTimeout = 15 * time.Second

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

func New(baseURL string) *Client {
	return NewWithClient(baseURL, &http.Client{})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	switch {
	case code != "" && message != "":
		return fmt.Sprintf("%s: %s", code, message)
	case code != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, code)
	case message != "":
		return fmt.Sprintf("http %d: %s", e.StatusCode, message)
	default:
		return fmt.Sprintf("http %d", e.StatusCode)
	}
}

// ErrCommandFailed reports an ERROR body from one of the OK/ERROR endpoints:
// the request was delivered but the workstation refused it or timed out.
type ErrCommandFailed struct {
	Op string
}

func (e *ErrCommandFailed) Error() string {
	return fmt.Sprintf("%s: bridge reported ERROR", e.Op)
}

func (c *Client) Version(ctx context.Context) (string, error) {
	body, err := c.request(ctx, http.MethodGet, "/version", nil, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	body, err := c.request(ctx, http.MethodGet, "/health", nil, nil)
	if err != nil {
		return api.HealthResponse{}, err
	}
	var resp api.HealthResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.HealthResponse{}, fmt.Errorf("decode health response: %w", err)
	}
	return resp, nil
}

func (c *Client) InitCommandConsole(ctx context.Context) error {
	body, err := c.request(ctx, http.MethodGet, "/init/cmd", nil, nil)
	if err != nil {
		return err
	}
	return textOutcome("init-cmd", body)
}

type InitMapsetRequest struct {
	GrassDB  string `json:"grassdb"`
	Location string `json:"location"`
	Mapset   string `json:"mapset"`
}

func (c *Client) InitMapset(ctx context.Context, req InitMapsetRequest) error {
	body, err := c.request(ctx, http.MethodPost, "/init/map", nil, req)
	if err != nil {
		return err
	}
	return textOutcome("init-map", body)
}

func (c *Client) DisplayLayer(ctx context.Context, query string) error {
	body, err := c.request(ctx, http.MethodPost, "/init/layer", nil, map[string]string{"query": query})
	if err != nil {
		return err
	}
	return textOutcome("init-layer", body)
}

func (c *Client) SetMapScale(ctx context.Context, scale float64) error {
	body, err := c.request(ctx, http.MethodPost, "/init/scale", nil, map[string]float64{"scale": scale})
	if err != nil {
		return err
	}
	return textOutcome("init-scale", body)
}

type RunModuleRequest struct {
	Cmd    string         `json:"cmd"`
	Kwargs map[string]any `json:"kwargs,omitempty"`
}

func (c *Client) RunModule(ctx context.Context, req RunModuleRequest) (api.GCmdResponse, error) {
	body, err := c.request(ctx, http.MethodPost, "/gcmd", nil, req)
	if err != nil {
		return api.GCmdResponse{}, err
	}
	if strings.TrimSpace(string(body)) == "ERROR" {
		return api.GCmdResponse{}, &ErrCommandFailed{Op: "gcmd"}
	}
	var resp api.GCmdResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.GCmdResponse{}, fmt.Errorf("decode gcmd response: %w", err)
	}
	return resp, nil
}

func (c *Client) Dump(ctx context.Context) (api.DumpSnapshot, error) {
	body, err := c.request(ctx, http.MethodGet, "/dump", nil, nil)
	if err != nil {
		return api.DumpSnapshot{}, err
	}
	if strings.TrimSpace(string(body)) == "ERROR" {
		return api.DumpSnapshot{}, &ErrCommandFailed{Op: "dump"}
	}
	var snap api.DumpSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return api.DumpSnapshot{}, fmt.Errorf("decode dump snapshot: %w", err)
	}
	return snap, nil
}

func (c *Client) History(ctx context.Context, limit int) (api.HistoryEnvelope, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	body, err := c.request(ctx, http.MethodGet, "/history", query, nil)
	if err != nil {
		return api.HistoryEnvelope{}, err
	}
	var env api.HistoryEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return api.HistoryEnvelope{}, fmt.Errorf("decode history envelope: %w", err)
	}
	return env, nil
}

func (c *Client) Quit(ctx context.Context) error {
	body, err := c.request(ctx, http.MethodPost, "/quit", nil, nil)
	if err != nil {
		return err
	}
	return textOutcome("quit", body)
}

func textOutcome(op string, body []byte) error {
	if strings.TrimSpace(string(body)) == "OK" {
		return nil
	}
	return &ErrCommandFailed{Op: op}
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}
