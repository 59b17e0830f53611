package prober

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetwatch/fleetwatch/internal/db"
)

func TestProbe_AcceptedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, AcceptedStatusCodes: db.StatusCodes{200}})

	require.True(t, res.OK)
	require.Equal(t, 200, res.Status)
	require.Empty(t, res.Err)
	require.False(t, res.CheckedAt.IsZero())
}

func TestProbe_RejectedStatusKeepsCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, AcceptedStatusCodes: db.StatusCodes{200}})

	require.False(t, res.OK)
	require.Equal(t, 503, res.Status)
	require.Contains(t, res.Err, "unexpected status code: 503")
}

func TestProbe_CustomAcceptedCodes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, AcceptedStatusCodes: db.StatusCodes{200, 204}})

	require.True(t, res.OK)
	require.Equal(t, 204, res.Status)
}

func TestProbe_TransportFailureIsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, AcceptedStatusCodes: db.StatusCodes{200}})

	require.False(t, res.OK)
	require.Zero(t, res.Status)
	require.Contains(t, res.Err, "request failed")
}

func TestProbe_RedirectCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/again", http.StatusFound)
	}))
	defer srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, AcceptedStatusCodes: db.StatusCodes{200}})

	require.False(t, res.OK)
	require.Zero(t, res.Status)
	require.Contains(t, res.Err, "stopped after 3 redirects")
}

func TestProbe_MethodHonored(t *testing.T) {
	var gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
	}))
	defer srv.Close()

	p := NewProber()

	p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL})
	require.Equal(t, http.MethodGet, gotMethod, "empty method falls back to GET")

	p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, Method: http.MethodHead})
	require.Equal(t, http.MethodHead, gotMethod)
}

func TestProbe_PerTargetTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(1500 * time.Millisecond)
	}))
	defer srv.Close()

	p := NewProber()
	res := p.Probe(context.Background(), &db.HTTPTarget{URL: srv.URL, TimeoutSeconds: 1, AcceptedStatusCodes: db.StatusCodes{200}})

	require.False(t, res.OK)
	require.Zero(t, res.Status)
	require.NotEmpty(t, res.Err)
}

func TestStatusAccepted(t *testing.T) {
	require.True(t, statusAccepted(nil, 200), "empty list accepts 200 only")
	require.False(t, statusAccepted(nil, 204))
	require.True(t, statusAccepted(db.StatusCodes{200, 301}, 301))
	require.False(t, statusAccepted(db.StatusCodes{200, 301}, 500))
}
