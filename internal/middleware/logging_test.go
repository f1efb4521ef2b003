package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/ufohubx/keyserver/internal/config"
	"github.com/ufohubx/keyserver/internal/logger"
)

// captureLogger builds a JSON logger whose output lands in the returned
// reader instead of the process stdout.
func captureLogger(t *testing.T) (*logger.Logger, func() string) {
	t.Helper()

	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("pipe: %v", err)
	}

	orig := os.Stdout
	os.Stdout = w
	log := logger.New("info", "json")
	os.Stdout = orig

	return log, func() string {
		w.Close()
		out, err := io.ReadAll(r)
		if err != nil {
			t.Fatalf("read log output: %v", err)
		}
		return string(out)
	}
}

func TestLoggerCorrelatesRequestID(t *testing.T) {
	log, output := captureLogger(t)
	m := New(nil, log, &config.Config{})

	var h http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	h = m.Logger(h)
	h = m.RequestID(h)

	req := httptest.NewRequest(http.MethodGet, "/verify", nil)
	req.Header.Set("X-Request-ID", "req-123")
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := output()
	for _, want := range []string{
		`"request_id":"req-123"`,
		`"status":418`,
		`"path":"/verify"`,
		`"client_ip":"203.0.113.7"`,
	} {
		if !strings.Contains(line, want) {
			t.Errorf("log line missing %s: %s", want, line)
		}
	}
}

func TestLoggerWithoutRequestID(t *testing.T) {
	log, output := captureLogger(t)
	m := New(nil, log, &config.Config{})

	// Logger still emits when no request ID middleware ran
	h := m.Logger(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	line := output()
	if !strings.Contains(line, `"path":"/health"`) {
		t.Fatalf("log line missing path: %s", line)
	}
	if strings.Contains(line, "request_id") {
		t.Fatalf("unexpected request_id field: %s", line)
	}
}
