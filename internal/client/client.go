// Package client is a Go client for the gymdesk HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"gymdesk/internal/apperr"
	"gymdesk/internal/attendance"
	"gymdesk/internal/httpx"
	"gymdesk/internal/membership"
	"gymdesk/internal/reporting"
	"gymdesk/internal/staff"
)

type Client struct {
	baseURL string
	http    *http.Client

	mu    sync.RWMutex
	token string
}

// New returns a client for the server at baseURL. A nil httpClient uses a
// client with a 10 second timeout.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// SetToken sets the bearer token sent with every request.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Login authenticates as a staff member and keeps the issued token.
func (c *Client) Login(ctx context.Context, username, password string) (*staff.Login, error) {
	var login staff.Login
	body := map[string]string{"username": username, "password": password}
	if err := c.do(ctx, http.MethodPost, "/api/v1/auth/login", body, &login); err != nil {
		return nil, err
	}
	c.SetToken(login.Token)
	return &login, nil
}

func (c *Client) RegisterMember(ctx context.Context, reg membership.Registration) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodPost, "/api/v1/members", reg, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) GetMemberByCode(ctx context.Context, code string) (*membership.Member, error) {
	var m membership.Member
	if err := c.do(ctx, http.MethodGet, "/api/v1/members/code/"+url.PathEscape(code), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) NextCode(ctx context.Context) (string, error) {
	var out struct {
		Code string `json:"member_code"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/v1/members/next-code", nil, &out); err != nil {
		return "", err
	}
	return out.Code, nil
}

func (c *Client) CheckIn(ctx context.Context, code string) (*attendance.CheckInReceipt, error) {
	var r attendance.CheckInReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/attendance/checkin", map[string]string{"member_code": code}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (c *Client) CheckOut(ctx context.Context, code string) (*attendance.CheckOutReceipt, error) {
	var r attendance.CheckOutReceipt
	if err := c.do(ctx, http.MethodPost, "/api/v1/attendance/checkout", map[string]string{"member_code": code}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// ListVisits lists visits, newest first; openOnly restricts to sessions
// without a check-out.
func (c *Client) ListVisits(ctx context.Context, openOnly bool) ([]attendance.Visit, error) {
	path := "/api/v1/attendance"
	if openOnly {
		path += "?open=true"
	}
	var visits []attendance.Visit
	if err := c.do(ctx, http.MethodGet, path, nil, &visits); err != nil {
		return nil, err
	}
	return visits, nil
}

func (c *Client) TodaySummary(ctx context.Context) (*reporting.DailySummary, error) {
	var sum reporting.DailySummary
	if err := c.do(ctx, http.MethodGet, "/api/v1/attendance/stats/summary", nil, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// do sends a JSON request. Error responses are returned as *apperr.Error
// carrying the server's kind.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	op := "client." + method + " " + path

	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.mu.RLock()
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	c.mu.RUnlock()

	resp, err := c.http.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindStorageUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var env httpx.ErrorEnvelope
		if err := json.NewDecoder(resp.Body).Decode(&env); err != nil || env.Error.Code == "" {
			return apperr.E(apperr.KindUnknown, op, "unexpected status code: %d", resp.StatusCode)
		}
		return apperr.E(apperr.ParseKind(env.Error.Code), op, "%s", env.Error.Message)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
