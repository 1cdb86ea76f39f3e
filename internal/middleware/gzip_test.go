package middleware

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// orderEchoHandler разбирает JSON заказа и отвечает статусом из поля status.
func orderEchoHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var in struct {
		Email  string `json:"email"`
		Status int    `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if in.Status == 0 {
		in.Status = http.StatusOK
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(in.Status)
	_ = json.NewEncoder(w).Encode(map[string]string{"customer": in.Email})
}

func compress(t *testing.T, s string) io.Reader {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write([]byte(s)); err != nil {
		t.Fatalf("write gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return &buf
}

func TestGzipMiddleware(t *testing.T) {
	type want struct {
		statusCode      int
		contentEncoding string
		bodyContains    string
	}

	tests := []struct {
		name           string
		body           string
		compressedBody bool
		acceptGzip     bool
		want           want
	}{
		{
			name:       "compressed response for order",
			body:       `{"email":"ada@example.com","status":201}`,
			acceptGzip: true,
			want: want{
				statusCode:      http.StatusCreated,
				contentEncoding: "gzip",
				bodyContains:    `"customer":"ada@example.com"`,
			},
		},
		{
			name: "plain response without accept-encoding",
			body: `{"email":"ada@example.com"}`,
			want: want{
				statusCode:   http.StatusOK,
				bodyContains: `"customer":"ada@example.com"`,
			},
		},
		{
			name:           "compressed request body",
			body:           `{"email":"grace@example.com","status":409}`,
			compressedBody: true,
			acceptGzip:     true,
			want: want{
				statusCode:      http.StatusConflict,
				contentEncoding: "gzip",
				bodyContains:    `"customer":"grace@example.com"`,
			},
		},
		{
			name:           "compressed request, plain response",
			body:           `{"email":"grace@example.com"}`,
			compressedBody: true,
			want: want{
				statusCode:   http.StatusOK,
				bodyContains: `"customer":"grace@example.com"`,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body io.Reader = strings.NewReader(tt.body)
			if tt.compressedBody {
				body = compress(t, tt.body)
			}

			req := httptest.NewRequest(http.MethodPost, "/api/orders", body)
			req.Header.Set("Content-Type", "application/json")
			if tt.compressedBody {
				req.Header.Set("Content-Encoding", "gzip")
			}
			if tt.acceptGzip {
				req.Header.Set("Accept-Encoding", "gzip, deflate")
			}

			w := httptest.NewRecorder()
			GzipMiddleware(http.HandlerFunc(orderEchoHandler)).ServeHTTP(w, req)

			res := w.Result()
			defer res.Body.Close()

			if res.StatusCode != tt.want.statusCode {
				t.Fatalf("status: got %d want %d", res.StatusCode, tt.want.statusCode)
			}
			if ce := res.Header.Get("Content-Encoding"); ce != tt.want.contentEncoding {
				t.Fatalf("content-encoding: got %q want %q", ce, tt.want.contentEncoding)
			}
			if ct := res.Header.Get("Content-Type"); ct != "application/json" {
				t.Fatalf("content-type: got %q", ct)
			}

			reader := io.Reader(res.Body)
			if tt.want.contentEncoding == "gzip" {
				zr, err := gzip.NewReader(res.Body)
				if err != nil {
					t.Fatalf("new gzip reader: %v", err)
				}
				defer zr.Close()
				reader = zr
			}
			got, err := io.ReadAll(reader)
			if err != nil {
				t.Fatalf("read body: %v", err)
			}
			if !strings.Contains(string(got), tt.want.bodyContains) {
				t.Fatalf("body %q does not contain %q", got, tt.want.bodyContains)
			}
		})
	}
}

func TestGzipMiddleware_InvalidBody(t *testing.T) {
	called := false
	h := GzipMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader("not gzip"))
	req.Header.Set("Content-Encoding", "gzip")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d want %d", w.Code, http.StatusBadRequest)
	}
	if called {
		t.Fatal("next handler must not be called for a broken gzip body")
	}
}
