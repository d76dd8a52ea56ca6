package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"
	"time"
)

func testSource(p *Passive, srv *httptest.Server) *Passive {
	p.URLFormat = srv.URL + "/?q=%s"
	p.RetryDelay = 10 * time.Millisecond
	p.Client = srv.Client()
	return p
}

func TestParseCrtsh(t *testing.T) {
	body := []byte(`[
		{"name_value": "www.example.com"},
		{"name_value": "api.example.com\nmail.example.com"},
		{"name_value": "*.example.com"},
		{"name_value": "WWW.example.com"},
		{"name_value": "other.notexample.com"}
	]`)

	got, err := parseCrtsh(body, "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"api.example.com", "example.com", "mail.example.com", "www.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseCrtshInvalidJSON(t *testing.T) {
	if _, err := parseCrtsh([]byte("<html>"), "example.com"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestParseHackertarget(t *testing.T) {
	body := []byte("www.example.com,1.2.3.4\napi.example.com,5.6.7.8\n\nother.notexample.com,13.14.15.16\nwww.example.com,1.2.3.4\n")

	got, err := parseHackertarget(body, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"api.example.com", "www.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseOTX(t *testing.T) {
	body := []byte(`{"passive_dns": [
		{"hostname": "www.example.com"},
		{"hostname": "Api.Example.com"},
		{"hostname": "evil.com"},
		{"hostname": ""}
	]}`)

	got, err := parseOTX(body, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"api.example.com", "www.example.com"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestPassiveDiscoverOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("q") != "example.com" {
			t.Errorf("unexpected query %q", r.URL.RawQuery)
		}
		if r.Header.Get("User-Agent") != "probey-test" {
			t.Errorf("unexpected user agent %q", r.Header.Get("User-Agent"))
		}
		w.Write([]byte("www.example.com,1.2.3.4\napi.example.com,5.6.7.8\n"))
	}))
	defer srv.Close()

	src := testSource(HackerTarget("probey-test"), srv)
	got, err := src.Discover(context.Background(), "Example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"api.example.com", "www.example.com"}) {
		t.Errorf("got %v", got)
	}
}

func TestPassiveRetriesOnce(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`[{"name_value": "www.example.com"}]`))
	}))
	defer srv.Close()

	got, err := testSource(CrtSh("t"), srv).Discover(context.Background(), "example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts.Load() != 2 {
		t.Errorf("attempts = %d, want 2", attempts.Load())
	}
	if !reflect.DeepEqual(got, []string{"www.example.com"}) {
		t.Errorf("got %v", got)
	}
}

func TestPassiveNoRetryWhenRateLimited(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := testSource(OTX("t"), srv).Discover(context.Background(), "example.com")
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Errorf("attempts = %d, want 1", attempts.Load())
	}
}

func TestPassiveQuotaNotice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("error: " + hackertargetRateMsg))
	}))
	defer srv.Close()

	_, err := testSource(HackerTarget("t"), srv).Discover(context.Background(), "example.com")
	if !errors.Is(err, errRateLimited) {
		t.Fatalf("expected rate limit error, got %v", err)
	}
}

func TestPassiveSourcesNames(t *testing.T) {
	var names []string
	for _, s := range PassiveSources("t") {
		names = append(names, s.Name())
	}
	if !reflect.DeepEqual(names, []string{"crt.sh", "hackertarget", "otx"}) {
		t.Errorf("got %v", names)
	}
}
