package api

import (
	"bytes"
	"compress/gzip"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"

	"prism-board/domain"
)

func gzipString(t *testing.T, s string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.String()
}

func TestGzipRequestBody(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/boards", "alice", gzipString(t, `{"name":"Roadmap"}`),
		echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d: %s", rec.Code, rec.Body.String())
	}
	if b := decodeJSON[domain.Board](t, rec); b.Name != "Roadmap" {
		t.Fatalf("unexpected board %+v", b)
	}
}

func TestGzipRequestBodyRejected(t *testing.T) {
	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/boards", "alice", `{"name":"Roadmap"}`,
		echo.HeaderContentEncoding, "gzip")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", rec.Code)
	}

	rec = a.do(http.MethodPost, "/api/boards", "alice", `{"name":"Roadmap"}`,
		echo.HeaderContentEncoding, "br")
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("expected 415 got %d", rec.Code)
	}
}

func TestContentCoding(t *testing.T) {
	cases := []struct {
		header  string
		gz      bool
		wantErr bool
	}{
		{"", false, false},
		{"identity", false, false},
		{"GZIP", true, false},
		{"identity, gzip", true, false},
		{"gzip, gzip", false, true},
		{"deflate", false, true},
	}
	for _, tc := range cases {
		gz, err := contentCoding(tc.header)
		if gz != tc.gz || (err != nil) != tc.wantErr {
			t.Fatalf("contentCoding(%q) = %v, %v", tc.header, gz, err)
		}
	}
}
