package apic

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	cookieName     = "APIC-cookie"
	loginPath      = "/api/aaaLogin.json"
	maxErrorBody   = 512
	defaultTimeout = 30 * time.Second
)

// StatusError is returned for non-2xx replies from the controller.
type StatusError struct {
	Method     string
	Path       string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: unexpected status %d", e.Method, e.Path, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: unexpected status %d: %s", e.Method, e.Path, e.StatusCode, e.Body)
}

type Options struct {
	Host     string // "apic.example.com" or a full base URL
	Username string
	Password string
	Insecure bool // skip TLS certificate verification
	Timeout  time.Duration

	// HTTPClient replaces the client built from Insecure and Timeout.
	HTTPClient *http.Client
}

// Client talks to the fabric controller REST API. It is safe for concurrent
// use once Login has returned.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client

	mu    sync.RWMutex
	token string
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.Insecure},
			},
		}
	}
	base := strings.TrimRight(opts.Host, "/")
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return &Client{
		baseURL:  base,
		username: opts.Username,
		password: opts.Password,
		http:     httpClient,
	}
}

type loginRequest struct {
	AAAUser struct {
		Attributes struct {
			Name string `json:"name"`
			Pwd  string `json:"pwd"`
		} `json:"attributes"`
	} `json:"aaaUser"`
}

// Login authenticates and keeps the session token for later requests.
func (c *Client) Login(ctx context.Context) error {
	var body loginRequest
	body.AAAUser.Attributes.Name = c.username
	body.AAAUser.Attributes.Pwd = c.password
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.do(ctx, http.MethodPost, loginPath, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if len(resp.Imdata) == 0 || resp.Imdata[0].Class != "aaaLogin" {
		return fmt.Errorf("login failed: %w: no aaaLogin object in reply", ErrUnexpectedShape)
	}
	token, err := resp.Imdata[0].Attr("token")
	if err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
	slog.Debug("Logged in to controller", "host", c.baseURL, "user", c.username)
	return nil
}

// Get issues a GET for an API path such as "/api/node/class/vzBrCP.json".
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

// MO fetches a single managed object by DN.
func (c *Client) MO(ctx context.Context, dn string) (*Response, error) {
	return c.Get(ctx, moPath(dn))
}

// Subtree fetches a managed object and all of its descendants.
func (c *Client) Subtree(ctx context.Context, dn string) (*Response, error) {
	return c.Get(ctx, moPath(dn)+"?query-target=subtree")
}

// ClassFilter narrows a class query with wildcard matches.
type ClassFilter struct {
	DN   string
	Name string
}

// Class lists every object of a class, optionally filtered.
func (c *Client) Class(ctx context.Context, class string, filter ClassFilter) (*Response, error) {
	return c.Get(ctx, classPath(class, filter))
}

func moPath(dn string) string {
	return "/api/node/mo/" + dn + ".json"
}

func classPath(class string, filter ClassFilter) string {
	var terms []string
	if filter.DN != "" {
		terms = append(terms, fmt.Sprintf("wcard(%s.dn,%q)", class, filter.DN))
	}
	if filter.Name != "" {
		terms = append(terms, fmt.Sprintf("wcard(%s.name,%q)", class, filter.Name))
	}
	path := "/api/node/class/" + class + ".json"
	switch len(terms) {
	case 0:
		return path
	case 1:
		return path + "?" + url.Values{"query-target-filter": {terms[0]}}.Encode()
	default:
		expr := "and(" + strings.Join(terms, ",") + ")"
		return path + "?" + url.Values{"query-target-filter": {expr}}.Encode()
	}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		req.AddCookie(&http.Cookie{Name: cookieName, Value: token})
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	slog.Debug("Controller request", "method", method, "path", path, "status", res.StatusCode, "duration", time.Since(start))

	if res.StatusCode < 200 || res.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBody))
		return nil, &StatusError{
			Method:     method,
			Path:       path,
			StatusCode: res.StatusCode,
			Body:       strings.TrimSpace(string(snippet)),
		}
	}

	var out Response
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s %s: decode reply: %w", method, path, err)
	}
	return &out, nil
}
