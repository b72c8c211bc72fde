package httpclient

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDoWithRetry_429(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	req, _ := NewRequest(context.Background(), srv.URL)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, DefaultRetryPolicy)
	if err != nil {
		t.Fatalf("DoWithRetry: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || calls != 2 {
		t.Errorf("status=%d calls=%d, want 200 after one retry", resp.StatusCode, calls)
	}
}

func TestDoWithRetry_5xx(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	req, _ := NewRequest(context.Background(), srv.URL)
	policy := RetryPolicy{Retry5xx: true, Backoff5xx: time.Millisecond}
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, policy)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK || calls != 2 {
		t.Errorf("status=%d calls=%d", resp.StatusCode, calls)
	}
}

func TestDoWithRetry_4xxNoRetry(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		http.NotFound(w, r)
	}))
	defer srv.Close()

	req, _ := NewRequest(context.Background(), srv.URL)
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, DefaultRetryPolicy)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound || calls != 1 {
		t.Errorf("status=%d calls=%d, want one unretried 404", resp.StatusCode, calls)
	}
}

func TestDoWithRetry_headersSurviveRetry(t *testing.T) {
	var calls int
	var retryUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		retryUA = r.Header.Get("User-Agent")
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	req, _ := NewRequest(context.Background(), srv.URL)
	policy := RetryPolicy{Retry5xx: true, Backoff5xx: time.Millisecond}
	resp, err := DoWithRetry(context.Background(), srv.Client(), req, policy)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if retryUA != UserAgent {
		t.Errorf("retry User-Agent = %q, want %q", retryUA, UserAgent)
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		in   string
		max  time.Duration
		want time.Duration
	}{
		{"", time.Minute, time.Second},
		{"5", time.Minute, 5 * time.Second},
		{"120", time.Minute, time.Minute},
		{"garbage", time.Minute, time.Second},
	}
	for _, tt := range tests {
		if got := parseRetryAfter(tt.in, tt.max); got != tt.want {
			t.Errorf("parseRetryAfter(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestReadBody_gzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var buf bytes.Buffer
		gz := gzip.NewWriter(&buf)
		gz.Write([]byte("compressed payload"))
		gz.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	req, _ := NewRequest(context.Background(), srv.URL)
	resp, err := srv.Client().Transport.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	body, err := ReadBody(resp)
	if err != nil {
		t.Fatalf("ReadBody: %v", err)
	}
	if string(body) != "compressed payload" {
		t.Errorf("body = %q", body)
	}
}

func TestNewRequest_headers(t *testing.T) {
	req, err := NewRequest(context.Background(), "https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	if req.Header.Get("User-Agent") != UserAgent {
		t.Errorf("User-Agent = %q", req.Header.Get("User-Agent"))
	}
	if req.Header.Get("Accept-Encoding") == "" {
		t.Errorf("Accept-Encoding not set")
	}
}

func TestPacer_allowsBurst(t *testing.T) {
	p := NewPacer(100, 10)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 5; i++ {
		if err := p.Wait(ctx, "https://example.com/path"); err != nil {
			t.Fatalf("Wait %d: %v", i, err)
		}
	}
}
