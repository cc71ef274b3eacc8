package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trial-atlas/models"
)

func TestClientRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "trial-atlas-test", r.Header.Get("User-Agent"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{UserAgent: "trial-atlas-test", Retry: RetryConfig{MaxAttempts: 3}})
	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), srv.URL, &out))
	assert.True(t, out.OK)
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, int64(2), c.Requests())
}

func TestClientDoesNotRetryNotFound(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(ClientOptions{Retry: RetryConfig{MaxAttempts: 3}})
	_, err := c.Get(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.Equal(t, int32(1), calls.Load())
}

func TestDoValStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	attempts := 0
	_, err := DoVal(ctx, RetryConfig{MaxAttempts: 5}, func(context.Context) (int, error) {
		attempts++
		return 0, &TransientError{Err: eris.New("boom")}
	})
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{400, 401, 403, 404, 422} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

type stubResolver struct {
	name    string
	summary *models.LiteratureSummary
	err     error
	calls   int
}

func (s *stubResolver) Name() string { return s.name }

func (s *stubResolver) ResolveDOI(context.Context, string) (*models.LiteratureSummary, error) {
	s.calls++
	return s.summary, s.err
}

func TestResolverChainFillsMissingFields(t *testing.T) {
	first := &stubResolver{name: "a", summary: &models.LiteratureSummary{DOI: "10.1000/x", Title: "T"}}
	second := &stubResolver{name: "b", err: eris.New("down")}
	third := &stubResolver{name: "c", summary: &models.LiteratureSummary{PMID: "12345", Title: "Other", Journal: "J", PublicationDate: "2020"}}

	got, err := ResolverChain{first, second, third}.ResolveDOI(context.Background(), "10.1000/x")
	require.NoError(t, err)
	assert.Equal(t, models.LiteratureSummary{PMID: "12345", DOI: "10.1000/x", Title: "T", Journal: "J", PublicationDate: "2020"}, *got)
}

func TestResolverChainReportsErrorWithoutHit(t *testing.T) {
	chain := ResolverChain{&stubResolver{name: "a", err: eris.New("down")}, &stubResolver{name: "b"}}
	got, err := chain.ResolveDOI(context.Background(), "10.1000/x")
	assert.Nil(t, got)
	assert.Error(t, err)
}

func TestResolverChainStopsWhenComplete(t *testing.T) {
	full := &stubResolver{summary: &models.LiteratureSummary{PMID: "12345", Title: "T", Journal: "J", PublicationDate: "2020"}}
	later := &stubResolver{}
	_, err := ResolverChain{full, later}.ResolveDOI(context.Background(), "10.1000/x")
	require.NoError(t, err)
	assert.Equal(t, 0, later.calls)
}
