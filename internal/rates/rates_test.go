package rates

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
)

func TestRate_FetchAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"monero":{"usd":142.37}}`)
	}))
	defer srv.Close()

	q := New("", WithBaseURL(srv.URL))
	for i := 0; i < 3; i++ {
		rate, err := q.Rate(context.Background(), "USD")
		if err != nil {
			t.Fatalf("Rate: %v", err)
		}
		if !rate.Equal(decimal.RequireFromString("142.37")) {
			t.Errorf("rate = %s", rate)
		}
	}
	if calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1 (cached)", calls.Load())
	}
}

func TestXMRForFiat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"monero":{"eur":200}}`)
	}))
	defer srv.Close()

	q := New("", WithBaseURL(srv.URL))
	got, err := q.XMRForFiat(context.Background(), decimal.RequireFromString("50"), "eur")
	if err != nil {
		t.Fatalf("XMRForFiat: %v", err)
	}
	if !got.Equal(decimal.RequireFromString("0.25")) {
		t.Errorf("amount = %s, want 0.25", got)
	}
}

func TestRate_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	q := New("", WithBaseURL(srv.URL))
	if _, err := q.Rate(context.Background(), "usd"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}

func TestRate_MissingCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"monero":{}}`)
	}))
	defer srv.Close()

	q := New("", WithBaseURL(srv.URL))
	if _, err := q.Rate(context.Background(), "zzz"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
}
