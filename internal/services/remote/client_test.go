package remote

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/ikus060/minarca-agent/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc   func(req *http.Request) (*http.Response, error)
	requests []*http.Request
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	m.requests = append(m.requests, req)
	return m.doFunc(req)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func response(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, httpClient HTTPClient) *Client {
	t.Helper()
	c, err := NewWithClient(testLogger(), httpClient, "https://backup.example.com", "john", "secret")
	require.NoError(t, err)
	return c
}

func TestNew_InvalidURL(t *testing.T) {
	for _, bad := range []string{"", "not a url", "ftp://host", "backup.example.com"} {
		_, err := NewWithClient(testLogger(), &mockHTTPClient{}, bad, "u", "p")

		var invalid *models.HTTPInvalidURLError
		assert.ErrorAs(t, err, &invalid, "url %q", bad)
	}
}

func TestProbe_Success(t *testing.T) {
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://backup.example.com/api/", req.URL.String())
		user, pass, ok := req.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "john", user)
		assert.Equal(t, "secret", pass)
		return response(http.StatusOK, "{}"), nil
	}}
	c := newTestClient(t, httpClient)

	require.NoError(t, c.Probe(context.Background()))
}

func TestProbe_FollowsOneRedirectAndPinsBaseURL(t *testing.T) {
	httpClient := &mockHTTPClient{}
	httpClient.doFunc = func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "backup.example.com" {
			resp := response(http.StatusMovedPermanently, "")
			resp.Header.Set("Location", "https://www.backup.example.com/api/")
			return resp, nil
		}
		return response(http.StatusOK, "{}"), nil
	}
	c := newTestClient(t, httpClient)

	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, "https://www.backup.example.com", c.BaseURL())
	require.Len(t, httpClient.requests, 2)
}

func TestProbe_RedirectWithoutTrailingSlash(t *testing.T) {
	httpClient := &mockHTTPClient{}
	httpClient.doFunc = func(req *http.Request) (*http.Response, error) {
		if req.URL.Host == "backup.example.com" {
			resp := response(http.StatusMovedPermanently, "")
			resp.Header.Set("Location", "https://www.backup.example.com/api")
			return resp, nil
		}
		assert.Equal(t, "https://www.backup.example.com/api/", req.URL.String())
		return response(http.StatusOK, "{}"), nil
	}
	c := newTestClient(t, httpClient)

	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, "https://www.backup.example.com", c.BaseURL())
}

func TestProbe_RelativeRedirect(t *testing.T) {
	// An https upgrade expressed as a relative Location must keep the host
	// and not leave a dangling /api in the pinned base.
	httpClient := &mockHTTPClient{}
	calls := 0
	httpClient.doFunc = func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := response(http.StatusFound, "")
			resp.Header.Set("Location", "/api/")
			return resp, nil
		}
		assert.Equal(t, "https://backup.example.com/api/", req.URL.String())
		return response(http.StatusOK, "{}"), nil
	}
	c := newTestClient(t, httpClient)

	require.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, "https://backup.example.com", c.BaseURL())
	assert.Equal(t, 2, calls)
}

func TestProbe_AuthenticationError(t *testing.T) {
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		return response(http.StatusUnauthorized, ""), nil
	}}
	c := newTestClient(t, httpClient)

	err := c.Probe(context.Background())

	var authErr *models.HTTPAuthenticationError
	assert.ErrorAs(t, err, &authErr)
}

func TestProbe_ConnectionError(t *testing.T) {
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		return nil, errors.New("dial tcp: connection refused")
	}}
	c := newTestClient(t, httpClient)

	err := c.Probe(context.Background())

	var connErr *models.HTTPConnectionError
	assert.ErrorAs(t, err, &connErr)
}

func TestCurrentUser(t *testing.T) {
	body := `{"email":"john@example.com","username":"john","repos":[{"name":"laptop","maxage":7,"keepdays":30},{"name":"desktop"}],"disk_usage":1024,"disk_quota":4096}`
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://backup.example.com/api/currentuser/", req.URL.String())
		return response(http.StatusOK, body), nil
	}}
	c := newTestClient(t, httpClient)

	user, err := c.CurrentUser(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "john", user.Username)
	require.Len(t, user.Repos, 2)
	require.NotNil(t, user.Repos[0].Maxage)
	assert.Equal(t, 7, *user.Repos[0].Maxage)
	require.NotNil(t, user.Repos[0].Keepdays)
	assert.Equal(t, 30, *user.Repos[0].Keepdays)
	assert.Nil(t, user.Repos[1].Maxage)
}

func TestRegisterSSHKey(t *testing.T) {
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "https://backup.example.com/api/currentuser/sshkeys", req.URL.String())
		body, _ := io.ReadAll(req.Body)
		assert.Contains(t, string(body), "title=laptop")
		return response(http.StatusOK, ""), nil
	}}
	c := newTestClient(t, httpClient)

	err := c.RegisterSSHKey(context.Background(), "laptop", "ssh-ed25519 AAAA... john@laptop")

	require.NoError(t, err)
}

func TestServerInfo(t *testing.T) {
	body := `{"version":"5.0.1","remotehost":"backup.example.com:2222","identity":"backup.example.com ssh-ed25519 AAAA..."}`
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "https://backup.example.com/api/minarca/", req.URL.String())
		return response(http.StatusOK, body), nil
	}}
	c := newTestClient(t, httpClient)

	info, err := c.ServerInfo(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "backup.example.com:2222", info.RemoteHost)
	assert.Contains(t, info.Identity, "ssh-ed25519")
}

func TestGetRepo_ServerErrorWithHTMLBody(t *testing.T) {
	body := `<html><head><title>500 Internal Server Error</title></head><body><h1>Error</h1><p>database is locked</p></body></html>`
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		return response(http.StatusInternalServerError, body), nil
	}}
	c := newTestClient(t, httpClient)

	_, err := c.GetRepo(context.Background(), "laptop")

	var srvErr *models.HTTPServerError
	require.ErrorAs(t, err, &srvErr)
	assert.Equal(t, http.StatusInternalServerError, srvErr.StatusCode)
	assert.Equal(t, "database is locked", srvErr.Message)
}

func TestSetRepo(t *testing.T) {
	httpClient := &mockHTTPClient{doFunc: func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, http.MethodPost, req.Method)
		assert.Equal(t, "https://backup.example.com/api/currentuser/repos/laptop", req.URL.String())
		body, _ := io.ReadAll(req.Body)
		assert.Contains(t, string(body), `"keepdays":30`)
		return response(http.StatusOK, ""), nil
	}}
	c := newTestClient(t, httpClient)
	keepdays := 30

	err := c.SetRepo(context.Background(), "laptop", RepoInfo{Name: "laptop", Keepdays: &keepdays})

	require.NoError(t, err)
}
