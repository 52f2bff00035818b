// Package apictest provides an in-memory fabric controller for tests.
package apictest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

const Token = "test-token"

// MO builds one "{class: {attributes}}" object.
func MO(class string, attrs map[string]string) map[string]any {
	return map[string]any{class: map[string]any{"attributes": attrs}}
}

// Reply builds a response envelope around objects.
func Reply(objs ...map[string]any) map[string]any {
	if objs == nil {
		objs = []map[string]any{}
	}
	return map[string]any{"totalCount": fmt.Sprint(len(objs)), "imdata": objs}
}

// Controller serves canned replies keyed by request URI, e.g.
// "/api/node/mo/uni/tn-Prod/brc-C1.json?query-target=subtree".
type Controller struct {
	*httptest.Server

	Username string
	Password string

	mu       sync.Mutex
	replies  map[string]any
	failures map[string]int
	requests []string
}

func NewController() *Controller {
	c := &Controller{
		Username: "admin",
		Password: "secret",
		replies:  make(map[string]any),
		failures: make(map[string]int),
	}
	c.Server = httptest.NewServer(http.HandlerFunc(c.serve))
	return c
}

// Handle registers the reply for a request URI.
func (c *Controller) Handle(uri string, reply any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.replies[uri] = reply
}

// Fail makes a request URI answer with the given status code.
func (c *Controller) Fail(uri string, status int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[uri] = status
}

// Requests returns the URIs served so far, logins excluded.
func (c *Controller) Requests() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.requests...)
}

func (c *Controller) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if r.URL.Path == "/api/aaaLogin.json" {
		c.login(w, r)
		return
	}
	cookie, err := r.Cookie("APIC-cookie")
	if err != nil || cookie.Value != Token {
		writeError(w, http.StatusForbidden, "Token was invalid")
		return
	}

	uri := r.URL.RequestURI()
	c.mu.Lock()
	c.requests = append(c.requests, uri)
	status, failing := c.failures[uri]
	reply, ok := c.replies[uri]
	c.mu.Unlock()

	switch {
	case failing:
		writeError(w, status, "forced failure")
	case !ok:
		json.NewEncoder(w).Encode(Reply())
	default:
		json.NewEncoder(w).Encode(reply)
	}
}

func (c *Controller) login(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req struct {
		AAAUser struct {
			Attributes struct {
				Name string `json:"name"`
				Pwd  string `json:"pwd"`
			} `json:"attributes"`
		} `json:"aaaUser"`
	}
	if err := json.Unmarshal(body, &req); err != nil ||
		req.AAAUser.Attributes.Name != c.Username || req.AAAUser.Attributes.Pwd != c.Password {
		writeError(w, http.StatusUnauthorized, "Username or password is incorrect")
		return
	}
	json.NewEncoder(w).Encode(Reply(MO("aaaLogin", map[string]string{"token": Token})))
}

func writeError(w http.ResponseWriter, status int, text string) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(Reply(MO("error", map[string]string{
		"code": fmt.Sprint(status),
		"text": strings.TrimSpace(text),
	})))
}
