// Copyright (c) 2022-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

package service

import (
	"bytes"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mattermost/callcore/service/call"
	"github.com/mattermost/callcore/service/callconfig"
)

type ClientConfig struct {
	// URL is the address of the callcored HTTP API.
	URL string
	// AuthKey is the admin key requests are authenticated with.
	AuthKey string

	httpURL string
	wsURL   string
}

// Parse validates the config and derives the API and relay URLs.
func (c *ClientConfig) Parse() error {
	if c.URL == "" {
		return fmt.Errorf("invalid URL value: should not be empty")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("failed to parse url: %w", err)
	}

	if u.Host == "" {
		return fmt.Errorf("invalid url host: should not be empty")
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return fmt.Errorf("invalid url scheme: %q is not valid", u.Scheme)
	}

	c.httpURL = c.URL
	u.Path = "/ws"
	c.wsURL = u.String()

	return nil
}

// Client talks to the admin API of a callcored instance.
type Client struct {
	cfg        *ClientConfig
	httpClient *http.Client
	dialFn     DialContextFn
	tlsCfg     *tls.Config
	timeout    time.Duration
}

func NewClient(cfg ClientConfig, opts ...ClientOption) (*Client, error) {
	var c Client

	if err := cfg.Parse(); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.cfg = &cfg

	for _, opt := range opts {
		if err := opt(&c); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	dialFn := c.dialFn
	if dialFn == nil {
		dialFn = (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialFn,
		MaxConnsPerHost:       100,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
		ResponseHeaderTimeout: 10 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   1 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       c.tlsCfg,
	}

	c.httpClient = &http.Client{
		Transport: transport,
		Timeout:   c.timeout,
	}

	return &c, nil
}

// RelayURL returns the websocket address of the signaling relay.
func (c *Client) RelayURL() string {
	return c.cfg.wsURL
}

// do performs a request and decodes the response field named key, if any,
// into out.
func (c *Client) do(method, path string, body any, expectedCode int, key string, out any) error {
	if c.httpClient == nil {
		return fmt.Errorf("http client is not initialized")
	}

	var reqBody io.Reader
	if body != nil {
		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("failed to encode body: %w", err)
		}
		reqBody = &buf
	}

	req, err := http.NewRequest(method, c.cfg.httpURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.SetBasicAuth("", c.cfg.AuthKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	respData := map[string]json.RawMessage{}
	if err := json.NewDecoder(resp.Body).Decode(&respData); err != nil {
		return fmt.Errorf("decoding http response failed: %w", err)
	}

	if resp.StatusCode != expectedCode {
		var errMsg string
		if raw, ok := respData["error"]; ok {
			_ = json.Unmarshal(raw, &errMsg)
		}
		if errMsg != "" {
			return fmt.Errorf("request failed: %s", errMsg)
		}
		return fmt.Errorf("request failed with status %s", resp.Status)
	}

	if key == "" || out == nil {
		return nil
	}

	raw, ok := respData[key]
	if !ok {
		return fmt.Errorf("unexpected response: missing %q field", key)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %q field: %w", key, err)
	}

	return nil
}

// Register creates credentials for userID and returns the generated key.
func (c *Client) Register(userID string) (string, error) {
	var authKey string
	err := c.do(http.MethodPost, "/register", map[string]string{"userID": userID}, http.StatusCreated, "authKey", &authKey)
	if err != nil {
		return "", err
	}
	if authKey == "" {
		return "", fmt.Errorf("unexpected empty auth key")
	}
	return authKey, nil
}

func (c *Client) Unregister(userID string) error {
	return c.do(http.MethodPost, "/unregister", map[string]string{"userID": userID}, http.StatusOK, "", nil)
}

// StartCall makes the agent call userID, or opts.Participants for a group
// call, and returns the call id.
func (c *Client) StartCall(userID string, callType call.Type, opts *call.CallOptions) (string, error) {
	req := startCallRequest{
		UserID:   userID,
		CallType: callType,
	}
	if opts != nil {
		req.GroupName = opts.GroupName
		req.Participants = opts.Participants
	}

	var callID string
	if err := c.do(http.MethodPost, "/calls", req, http.StatusCreated, "callID", &callID); err != nil {
		return "", err
	}
	return callID, nil
}

func (c *Client) GetCall(callID string) (call.Session, error) {
	var s call.Session
	err := c.do(http.MethodGet, "/calls/"+url.PathEscape(callID), nil, http.StatusOK, "call", &s)
	return s, err
}

func (c *Client) ListCalls() ([]call.Session, error) {
	var sessions []call.Session
	err := c.do(http.MethodGet, "/calls", nil, http.StatusOK, "calls", &sessions)
	return sessions, err
}

func (c *Client) EndCall(callID string) error {
	return c.do(http.MethodDelete, "/calls/"+url.PathEscape(callID), nil, http.StatusOK, "", nil)
}

func (c *Client) AcceptCall(callID string) error {
	return c.do(http.MethodPost, "/calls/"+url.PathEscape(callID)+"/accept", nil, http.StatusOK, "", nil)
}

func (c *Client) RejectCall(callID, reason string) error {
	return c.do(http.MethodPost, "/calls/"+url.PathEscape(callID)+"/reject", rejectCallRequest{Reason: reason}, http.StatusOK, "", nil)
}

// CallHistory returns up to limit finished calls, most recent first.
func (c *Client) CallHistory(limit int) ([]call.Record, error) {
	var records []call.Record
	err := c.do(http.MethodGet, "/calls/history?limit="+strconv.Itoa(limit), nil, http.StatusOK, "calls", &records)
	return records, err
}

// SystemInfo samples the load of the service host over window. A zero
// window uses the server default.
func (c *Client) SystemInfo(window time.Duration) (SystemInfo, error) {
	path := "/system"
	if window > 0 {
		path += "?window=" + url.QueryEscape(window.String())
	}
	var info SystemInfo
	err := c.do(http.MethodGet, path, nil, http.StatusOK, "system", &info)
	return info, err
}

func (c *Client) GetCallsConfig() (callconfig.Config, error) {
	var cfg callconfig.Config
	err := c.do(http.MethodGet, "/config", nil, http.StatusOK, "config", &cfg)
	return cfg, err
}

// SetCallsConfig overrides a single setting, addressed by its toml name, and
// returns the resulting configuration.
func (c *Client) SetCallsConfig(key, value string) (callconfig.Config, error) {
	var cfg callconfig.Config
	err := c.do(http.MethodPut, "/config/"+url.PathEscape(key), map[string]string{"value": value}, http.StatusOK, "config", &cfg)
	return cfg, err
}

func (c *Client) ClearCallsConfig(key string) (callconfig.Config, error) {
	var cfg callconfig.Config
	err := c.do(http.MethodDelete, "/config/"+url.PathEscape(key), nil, http.StatusOK, "config", &cfg)
	return cfg, err
}

func (c *Client) Close() error {
	if c.httpClient != nil {
		c.httpClient.CloseIdleConnections()
	}
	return nil
}
