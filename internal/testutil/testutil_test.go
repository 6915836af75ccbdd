package testutil

import (
	"net/http"
	"os"
	"strings"
	"testing"
)

func TestNewLocalRequest(t *testing.T) {
	req := NewLocalRequest(http.MethodPost, "/debug/send-command", strings.NewReader("command=x"))
	if req.RemoteAddr != LoopbackAddr {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
	if req.Method != http.MethodPost || req.URL.Path != "/debug/send-command" {
		t.Errorf("unexpected request %s %s", req.Method, req.URL.Path)
	}
}

func TestServe(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte(r.RemoteAddr))
	})
	w := Serve(h, NewLocalRequest(http.MethodGet, "/", nil))
	AssertStatusCode(t, w.Code, http.StatusTeapot)
	if w.Body.String() != LoopbackAddr {
		t.Errorf("body = %q", w.Body.String())
	}
}

func TestFixturePath(t *testing.T) {
	path := FixturePath(t, "tof_frames.jsonl")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("stat %s: %v", path, err)
	}
}
