// Package authclient talks to the auth service from other Go services.
package authclient

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
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
	csrfCookie    = "XSRF-TOKEN"
	csrfHeader    = "X-CSRF-Token"
)

type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
}

func NewClient(authServiceURL string) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(authServiceURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse auth url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("auth url %q needs scheme and host", authServiceURL)
	}
	return &Client{
		baseURL: u,
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}, nil
}

// Session is a token pair as returned by signin or refresh, whichever
// transport the service runs with.
type Session struct {
	AccessToken      string    `json:"accessToken"`
	RefreshToken     string    `json:"refreshToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type Profile struct {
	ID       uint   `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

// StatusError is a non-2xx answer from the service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("auth service: %d %s", e.Code, e.Message)
}

type envelope struct {
	Status int             `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type tokenData struct {
	Tokens *Session `json:"tokens"`
}

func (c *Client) endpoint(path string) string {
	return c.baseURL.String() + path
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode body: %w", err)
		}
		r = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), r)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and decodes the data field of a success envelope into out.
func (c *Client) do(req *http.Request, out any) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(raw, &e)
		return resp, &StatusError{Code: resp.StatusCode, Message: e.Message}
	}

	if out != nil {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return resp, fmt.Errorf("decode response: %w", err)
		}
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp, fmt.Errorf("decode response data: %w", err)
		}
	}
	return resp, nil
}

// sessionFrom takes the pair from the body (header transport) or from the
// Set-Cookie headers (cookie transport).
func sessionFrom(resp *http.Response, data tokenData) (*Session, error) {
	if data.Tokens != nil {
		return data.Tokens, nil
	}

	var s Session
	for _, ck := range resp.Cookies() {
		switch ck.Name {
		case accessCookie:
			s.AccessToken, s.AccessExpiresAt = ck.Value, ck.Expires
		case refreshCookie:
			s.RefreshToken, s.RefreshExpiresAt = ck.Value, ck.Expires
		}
	}
	if s.AccessToken == "" || s.RefreshToken == "" {
		return nil, fmt.Errorf("auth service returned no tokens")
	}
	return &s, nil
}

func (c *Client) Signin(ctx context.Context, email, password string) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/signin", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	var data tokenData
	resp, err := c.do(req, &data)
	if err != nil {
		return nil, err
	}
	return sessionFrom(resp, data)
}

// Refresh rotates refreshToken. The token goes in the dedicated cookie and
// body field, never in the Authorization header.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Session, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/auth/refresh", map[string]string{
		"refresh_token": refreshToken,
	})
	if err != nil {
		return nil, err
	}
	req.AddCookie(&http.Cookie{Name: refreshCookie, Value: refreshToken})

	var data tokenData
	resp, err := c.do(req, &data)
	if err != nil {
		return nil, err
	}
	return sessionFrom(resp, data)
}

func (c *Client) authorize(req *http.Request, accessToken string) {
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.AddCookie(&http.Cookie{Name: accessCookie, Value: accessToken})
}

// Me returns the profile behind accessToken. Its response also carries the
// CSRF cookie when the service runs with cookie transport.
func (c *Client) Me(ctx context.Context, accessToken string) (*Profile, error) {
	p, _, err := c.me(ctx, accessToken)
	return p, err
}

func (c *Client) me(ctx context.Context, accessToken string) (*Profile, string, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/auth/me", nil)
	if err != nil {
		return nil, "", err
	}
	c.authorize(req, accessToken)

	var p Profile
	resp, err := c.do(req, &p)
	if err != nil {
		return nil, "", err
	}

	var csrf string
	for _, ck := range resp.Cookies() {
		if ck.Name == csrfCookie {
			csrf = ck.Value
		}
	}
	return &p, csrf, nil
}

// Logout ends the session behind accessToken.
func (c *Client) Logout(ctx context.Context, accessToken string) error {
	_, csrf, err := c.me(ctx, accessToken)
	if err != nil {
		return err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/auth/logout", nil)
	if err != nil {
		return err
	}
	c.authorize(req, accessToken)
	if csrf != "" {
		req.AddCookie(&http.Cookie{Name: csrfCookie, Value: csrf})
		req.Header.Set(csrfHeader, csrf)
		req.Header.Set("Origin", c.baseURL.Scheme+"://"+c.baseURL.Host)
	}

	_, err = c.do(req, nil)
	return err
}
