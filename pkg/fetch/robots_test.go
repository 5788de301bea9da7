package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRobotsHandler_Allowed(t *testing.T) {
	var robotsHits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			robotsHits.Add(1)
			io.WriteString(w, "User-agent: *\nDisallow: /private\n")
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(server.Close)

	fetcher := NewFetcher(server.Client(), testConfig(0), nil, testLogger())
	rh := NewRobotsHandler(fetcher, NewRateLimiter(0, testLogger()), "poet-test", testLogger())

	public, err := url.Parse(server.URL + "/public/page")
	require.NoError(t, err)
	private, err := url.Parse(server.URL + "/private/page")
	require.NoError(t, err)

	assert.True(t, rh.Allowed(context.Background(), public, "poet-test"))
	assert.False(t, rh.Allowed(context.Background(), private, "poet-test"))
	assert.Equal(t, int32(1), robotsHits.Load(), "robots.txt is fetched once per host")
}

func TestRobotsHandler_MissingRobotsAllowsAll(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	fetcher := NewFetcher(server.Client(), testConfig(0), nil, testLogger())
	rh := NewRobotsHandler(fetcher, NewRateLimiter(0, testLogger()), "poet-test", testLogger())

	target, err := url.Parse(server.URL + "/anything")
	require.NoError(t, err)
	assert.True(t, rh.Allowed(context.Background(), target, "poet-test"))
}
