package backend

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"gocloud.dev/blob"
	"gocloud.dev/blob/memblob"
)

func testContent(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestParseSpec(t *testing.T) {
	tests := []struct {
		raw      string
		wantName string
		wantURL  string
		wantErr  bool
	}{
		{"p1=http://se-1:8010", "p1", "http://se-1:8010", false},
		{"http://se-2:8010/files", "se-2:8010", "http://se-2:8010/files", false},
		{"mem://", "mem://", "mem://", false},
		{" primary=file:///var/data ", "primary", "file:///var/data", false},
		{"http://host/?a=b", "host", "http://host/?a=b", false},
		{"no-scheme", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			spec, err := ParseSpec(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseSpec(%q) err = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if spec.Name != tt.wantName || spec.URL != tt.wantURL {
				t.Errorf("ParseSpec(%q) = %+v, ожидалось name=%q url=%q", tt.raw, spec, tt.wantName, tt.wantURL)
			}
		})
	}
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	if _, err := Open(Spec{Name: "x", URL: "ftp://host"}, Options{}); err == nil {
		t.Error("Open() не вернул ошибку для ftp://")
	}
}

func newMemTransport(t *testing.T, key string, data []byte) *BlobTransport {
	t.Helper()
	ctx := context.Background()

	bucket := memblob.OpenBucket(nil)
	if err := bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: "video/mp4"}); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}

	tr := NewBlobTransportFromBucket("mem-1", bucket, Options{})
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { tr.Stop(ctx) }) //nolint:errcheck
	return tr
}

func TestBlobTransport_StatAndFetch(t *testing.T) {
	data := testContent(10_000)
	tr := newMemTransport(t, "videos/a.mp4", data)
	ctx := context.Background()

	info, err := tr.Stat(ctx, "videos/a.mp4")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 10_000 || info.ContentType != "video/mp4" {
		t.Errorf("Stat = %+v", info)
	}

	got, err := tr.FetchRange(ctx, "videos/a.mp4", 4096, 4096)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if !bytes.Equal(got, data[4096:8192]) {
		t.Error("FetchRange вернул неверные байты")
	}

	// Последний чанк короче запрошенного.
	got, err = tr.FetchRange(ctx, "videos/a.mp4", 8192, 4096)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if len(got) != 10_000-8192 {
		t.Errorf("len = %d, ожидалось %d", len(got), 10_000-8192)
	}
}

func TestBlobTransport_NotFound(t *testing.T) {
	tr := newMemTransport(t, "a", []byte("x"))

	if _, err := tr.Stat(context.Background(), "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Stat(missing) err = %v, ожидался ErrObjectNotFound", err)
	}
	if _, err := tr.FetchRange(context.Background(), "missing", 0, 10); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("FetchRange(missing) err = %v, ожидался ErrObjectNotFound", err)
	}
}

func TestBlobTransport_StoppedClient(t *testing.T) {
	tr := newMemTransport(t, "a", []byte("x"))
	if err := tr.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := tr.Stop(context.Background()); err != nil {
		t.Errorf("повторный Stop вернул ошибку: %v", err)
	}
	if _, err := tr.FetchRange(context.Background(), "a", 0, 1); err == nil {
		t.Error("FetchRange после Stop не вернул ошибку")
	}
}

// newObjectServer — httptest-сервер объектов с поддержкой Range (http.ServeContent).
func newObjectServer(t *testing.T, data []byte, token string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/health/live":
			w.WriteHeader(http.StatusOK)
		case token != "" && r.Header.Get("Authorization") != "Bearer "+token:
			w.WriteHeader(http.StatusUnauthorized)
		case r.URL.Path == "/busy":
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		case r.URL.Path == "/files/a b.bin":
			w.Header().Set("Content-Type", "application/x-test")
			http.ServeContent(w, r, "a.bin", time.Time{}, bytes.NewReader(data))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTPTransport_StatAndFetch(t *testing.T) {
	data := testContent(5000)
	srv := newObjectServer(t, data, "secret")
	ctx := context.Background()

	tr, err := NewHTTPTransport("se-1", srv.URL+"/", Options{Token: "secret"})
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}
	if err := tr.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	info, err := tr.Stat(ctx, "files/a b.bin")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size != 5000 || info.ContentType != "application/x-test" {
		t.Errorf("Stat = %+v", info)
	}

	got, err := tr.FetchRange(ctx, "files/a b.bin", 1000, 2048)
	if err != nil {
		t.Fatalf("FetchRange: %v", err)
	}
	if !bytes.Equal(got, data[1000:3048]) {
		t.Error("FetchRange вернул неверные байты")
	}

	got, err = tr.FetchRange(ctx, "files/a b.bin", 4096, 2048)
	if err != nil {
		t.Fatalf("FetchRange хвоста: %v", err)
	}
	if !bytes.Equal(got, data[4096:]) {
		t.Errorf("хвост: len = %d, ожидалось %d", len(got), 5000-4096)
	}
}

func TestHTTPTransport_Errors(t *testing.T) {
	srv := newObjectServer(t, testContent(10), "")
	ctx := context.Background()

	tr, err := NewHTTPTransport("se-1", srv.URL, Options{})
	if err != nil {
		t.Fatalf("NewHTTPTransport: %v", err)
	}

	if _, err := tr.FetchRange(ctx, "missing", 0, 10); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("FetchRange(missing) err = %v, ожидался ErrObjectNotFound", err)
	}

	_, err = tr.FetchRange(ctx, "busy", 0, 10)
	var transient *TransientError
	if !errors.As(err, &transient) {
		t.Fatalf("FetchRange(busy) err = %v, ожидался TransientError", err)
	}
	if transient.Wait != 3*time.Second {
		t.Errorf("Wait = %v, ожидалось 3s", transient.Wait)
	}
}

func TestHTTPTransport_StartFailsOnUnhealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	tr, _ := NewHTTPTransport("se-1", srv.URL, Options{})
	err := tr.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Errorf("Start err = %v, ожидалась ошибка с HTTP 503", err)
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter("7", time.Second); got != 7*time.Second {
		t.Errorf("retryAfter(7) = %v", got)
	}
	if got := retryAfter("Wed, 21 Oct 2015 07:28:00 GMT", 2*time.Second); got != 2*time.Second {
		t.Errorf("retryAfter(date) = %v, ожидался fallback", got)
	}
}
