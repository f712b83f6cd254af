// Package remote is the authenticated REST client for the central backup
// server: repository identity, SSH key exchange and per-repository retention
// settings.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
)

// HTTPClient allows mocking HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// UserInfo is the authenticated user's profile with the repositories known
// to the server.
type UserInfo struct {
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Repos     []RepoInfo `json:"repos"`
	DiskUsage int64      `json:"disk_usage"`
	DiskQuota int64      `json:"disk_quota"`
	Role      string     `json:"role"`
}

// RepoInfo describes one repository and its retention settings. Maxage and
// Keepdays are nil when the server did not report them.
type RepoInfo struct {
	Name          string `json:"name"`
	Maxage        *int   `json:"maxage,omitempty"`
	Keepdays      *int   `json:"keepdays,omitempty"`
	IgnoreWeekday []int  `json:"ignore_weekday,omitempty"`
}

// ServerInfo is the server's connection identity. Identity is an opaque
// known-hosts blob persisted verbatim.
type ServerInfo struct {
	Version    string `json:"version"`
	RemoteHost string `json:"remotehost"`
	Identity   string `json:"identity"`
}

// Client talks to one remote server with basic authentication.
type Client struct {
	httpClient HTTPClient
	logger     zerolog.Logger
	baseURL    string
	username   string
	password   string
}

// New creates a client for the given server URL and credentials.
func New(logger zerolog.Logger, serverURL, username, password string) (*Client, error) {
	base, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			// Redirects are handled manually so the probed base URL can be
			// pinned for the session.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger:   logger,
		baseURL:  base,
		username: username,
		password: password,
	}, nil
}

// NewWithClient creates a client with a custom HTTP client (for testing).
func NewWithClient(logger zerolog.Logger, httpClient HTTPClient, serverURL, username, password string) (*Client, error) {
	base, err := normalizeURL(serverURL)
	if err != nil {
		return nil, err
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    base,
		username:   username,
		password:   password,
	}, nil
}

// BaseURL returns the server URL currently pinned for this session.
func (c *Client) BaseURL() string { return c.baseURL }

func normalizeURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", &models.HTTPInvalidURLError{URL: serverURL}
	}
	return strings.TrimRight(u.String(), "/"), nil
}

// Probe checks connectivity and authentication against GET /api/. A single
// redirect is followed and the resulting base URL is pinned for the rest of
// the session.
func (c *Client) Probe(ctx context.Context) error {
	resp, err := c.get(ctx, "/api/")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); loc != "" && resp.StatusCode >= 300 && resp.StatusCode < 400 {
		base, err := c.redirectBase(loc)
		if err != nil {
			return err
		}
		c.logger.Debug().Str("base_url", base).Msg("server redirected, pinning new base URL")
		c.baseURL = base
		redirected, err := c.get(ctx, "/api/")
		if err != nil {
			return err
		}
		defer redirected.Body.Close()
		return c.checkStatus(redirected)
	}
	return c.checkStatus(resp)
}

// redirectBase resolves a redirect Location, possibly relative, against the
// probed URL and strips the API path to recover the server base.
func (c *Client) redirectBase(loc string) (string, error) {
	ref, err := url.Parse(loc)
	if err != nil {
		return "", &models.HTTPInvalidURLError{URL: loc}
	}
	probed, err := url.Parse(c.baseURL + "/api/")
	if err != nil {
		return "", &models.HTTPInvalidURLError{URL: c.baseURL}
	}
	resolved := probed.ResolveReference(ref)
	resolved.Path = strings.TrimSuffix(strings.TrimSuffix(resolved.Path, "/"), "/api")
	resolved.RawQuery = ""
	resolved.Fragment = ""
	return normalizeURL(resolved.String())
}

// CurrentUser fetches the authenticated user profile.
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	var out UserInfo
	if err := c.getJSON(ctx, "/api/currentuser/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RegisterSSHKey registers a public key under the given title.
func (c *Client) RegisterSSHKey(ctx context.Context, title, publicKey string) error {
	form := url.Values{}
	form.Set("title", title)
	form.Set("key", publicKey)
	resp, err := c.send(ctx, http.MethodPost, "/api/currentuser/sshkeys", strings.NewReader(form.Encode()), "application/x-www-form-urlencoded")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

// ServerInfo fetches the server version and connection identity.
func (c *Client) ServerInfo(ctx context.Context) (*ServerInfo, error) {
	var out ServerInfo
	if err := c.getJSON(ctx, "/api/minarca/", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetRepo fetches one repository's retention settings.
func (c *Client) GetRepo(ctx context.Context, name string) (*RepoInfo, error) {
	var out RepoInfo
	if err := c.getJSON(ctx, "/api/currentuser/repos/"+url.PathEscape(name), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SetRepo pushes one repository's retention settings.
func (c *Client) SetRepo(ctx context.Context, name string, repo RepoInfo) error {
	body, err := json.Marshal(repo)
	if err != nil {
		return fmt.Errorf("encoding repo settings: %w", err)
	}
	resp, err := c.send(ctx, http.MethodPost, "/api/currentuser/repos/"+url.PathEscape(name), bytes.NewReader(body), "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.checkStatus(resp)
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	return c.send(ctx, http.MethodGet, path, nil, "")
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := c.checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &models.HTTPServerError{URL: c.baseURL, StatusCode: resp.StatusCode, Message: "invalid response body"}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, &models.HTTPInvalidURLError{URL: c.baseURL + path}
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "minarca-agent")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &models.HTTPConnectionError{URL: c.baseURL, Err: err}
	}
	return resp, nil
}

func (c *Client) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &models.HTTPAuthenticationError{URL: c.baseURL}
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return &models.HTTPServerError{
			URL:        c.baseURL,
			StatusCode: resp.StatusCode,
			Message:    extractMessage(body),
		}
	}
}

var (
	paragraphRe = regexp.MustCompile(`(?is)<p[^>]*>(.*?)</p>`)
	titleRe     = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	tagRe       = regexp.MustCompile(`<[^>]*>`)
)

// extractMessage makes a best effort at pulling a human-readable message out
// of an HTML error body.
func extractMessage(body []byte) string {
	text := string(body)
	if m := paragraphRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if m := titleRe.FindStringSubmatch(text); m != nil {
		text = m[1]
	} else if strings.Contains(text, "<") {
		return ""
	}
	text = tagRe.ReplaceAllString(text, "")
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > 256 {
		text = text[:256]
	}
	return text
}
