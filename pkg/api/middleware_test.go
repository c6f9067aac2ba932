package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/internal/logger"
)

func okHandler(body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	})
}

func TestCORSMiddleware(t *testing.T) {
	t.Parallel()

	const dashboard = "https://ops.example.com"

	tests := []struct {
		name       string
		allowed    []string
		origin     string
		method     string
		wantOrigin string
	}{
		{name: "wildcard echoes origin", allowed: []string{"*"}, origin: dashboard, method: http.MethodGet, wantOrigin: dashboard},
		{name: "wildcard without origin", allowed: []string{"*"}, method: http.MethodGet, wantOrigin: "*"},
		{name: "listed origin", allowed: []string{"https://other.example.com", dashboard}, origin: dashboard, method: http.MethodGet, wantOrigin: dashboard},
		{name: "unlisted origin", allowed: []string{dashboard}, origin: "https://evil.example.com", method: http.MethodGet},
		{name: "nothing allowed", allowed: nil, origin: dashboard, method: http.MethodGet},
		{name: "preflight", allowed: []string{dashboard}, origin: dashboard, method: http.MethodOptions, wantOrigin: dashboard},
		{name: "preflight from unlisted origin", allowed: []string{dashboard}, origin: "https://evil.example.com", method: http.MethodOptions},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(tt.method, "/api/v1/status", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			CORSMiddleware(tt.allowed)(okHandler("status")).ServeHTTP(w, req)

			require.Equal(t, http.StatusOK, w.Code)
			require.Equal(t, tt.wantOrigin, w.Header().Get("Access-Control-Allow-Origin"))

			if tt.wantOrigin != "" {
				require.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), http.MethodGet)
				require.Contains(t, w.Header().Get("Access-Control-Allow-Headers"), "Content-Type")
				require.Equal(t, "86400", w.Header().Get("Access-Control-Max-Age"))
			}

			if tt.method == http.MethodOptions {
				require.Empty(t, w.Body.String(), "preflight never reaches the handler")
			} else {
				require.Equal(t, "status", w.Body.String())
			}
		})
	}
}

func TestLoggingMiddleware_RecordsStatus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handler http.HandlerFunc
		want    int
	}{
		{
			name:    "implicit 200",
			handler: func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("{}")) },
			want:    http.StatusOK,
		},
		{
			name:    "not found",
			handler: func(w http.ResponseWriter, _ *http.Request) { respondError(w, http.StatusNotFound, "order not found") },
			want:    http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			w := httptest.NewRecorder()
			LoggingMiddleware(logger.NewNopLogger())(tt.handler).
				ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/orders/0x01", nil))

			require.Equal(t, tt.want, w.Code)
		})
	}
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)

	require.Equal(t, http.StatusAccepted, rw.statusCode)
	require.Equal(t, http.StatusAccepted, w.Code)
}

func TestRecoveryMiddleware(t *testing.T) {
	t.Parallel()

	for name, value := range map[string]any{
		"string": "nil map write",
		"error":  errors.New("ledger unavailable"),
		"int":    7,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			panicking := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic(value) })
			w := httptest.NewRecorder()

			require.NotPanics(t, func() {
				RecoveryMiddleware(logger.NewNopLogger())(panicking).
					ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/unmatched", nil))
			})

			require.Equal(t, http.StatusInternalServerError, w.Code)
			require.Equal(t, "Internal Server Error\n", w.Body.String())
		})
	}

	t.Run("no panic", func(t *testing.T) {
		t.Parallel()

		w := httptest.NewRecorder()
		RecoveryMiddleware(logger.NewNopLogger())(okHandler("fine")).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

		require.Equal(t, http.StatusOK, w.Code)
		require.Equal(t, "fine", w.Body.String())
	})
}

func TestMiddlewareChain(t *testing.T) {
	t.Parallel()

	log := logger.NewNopLogger()
	h := RecoveryMiddleware(log)(LoggingMiddleware(log)(CORSMiddleware([]string{"*"})(okHandler("chained"))))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "chained", w.Body.String())
	require.Equal(t, "https://ops.example.com", w.Header().Get("Access-Control-Allow-Origin"))
}
