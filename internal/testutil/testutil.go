// Package testutil provides shared test helpers.
package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

// LoopbackAddr is the RemoteAddr given to requests built by NewLocalRequest.
const LoopbackAddr = "127.0.0.1:12345"

// NewLocalRequest creates a request that appears to come from localhost so
// that tsweb's debug access check passes.
func NewLocalRequest(method, target string, body io.Reader) *http.Request {
	req := httptest.NewRequest(method, target, body)
	req.RemoteAddr = LoopbackAddr
	return req
}

// Serve runs req through h and returns the recorded response.
func Serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// FixturePath returns the path of a file under the repository's fixtures
// directory, searching upwards from the test's working directory.
func FixturePath(t testing.TB, name string) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			path := filepath.Join(dir, "fixtures", name)
			if _, err := os.Stat(path); err != nil {
				t.Fatalf("fixture %s: %v", name, err)
			}
			return path
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("fixture %s: no go.mod above working directory", name)
		}
		dir = parent
	}
}
