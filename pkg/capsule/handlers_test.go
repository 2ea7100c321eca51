package capsule

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
)

func TestEchoHandlerReturnsArgumentsVerbatim(t *testing.T) {
	out, err := EchoHandler{}.Handle(context.Background(), map[string]any{"a": 1})
	if err != nil {
		t.Fatal(err)
	}
	m, ok := out.(map[string]any)
	if !ok {
		t.Fatalf("unexpected output type %T", out)
	}
	if m["a"] != 1 || len(m) != 1 {
		t.Fatalf("echo = %+v, want {a:1}", m)
	}
}

func TestHTTPHandlerGetSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	h := NewHTTPHandler()
	out, err := h.Handle(context.Background(), map[string]any{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	m := out.(map[string]any)
	if m["status"] != http.StatusOK || m["body"] != "ok" {
		t.Fatalf("unexpected result %+v", m)
	}
}

func TestHTTPHandlerNonSuccessStatusIsHandlerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	h := NewHTTPHandler()
	if _, err := h.Handle(context.Background(), map[string]any{"url": srv.URL}); err == nil {
		t.Fatal("expected an error for a 500 response")
	}
}

func TestHTTPHandlerMissingURLIsError(t *testing.T) {
	h := NewHTTPHandler()
	if _, err := h.Handle(context.Background(), map[string]any{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestContainerExecStubModeReadsFixture(t *testing.T) {
	dir := t.TempDir()
	fixture := filepath.Join(dir, "envelope.json")
	payload := map[string]any{"result": map[string]any{"success": true}}
	raw, _ := json.Marshal(payload)
	if err := os.WriteFile(fixture, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	h := &ContainerExecHandler{Getenv: func(string) string { return "stub" }}
	out, err := h.Handle(context.Background(), map[string]any{"fixture": fixture})
	if err != nil {
		t.Fatal(err)
	}
	decoded := out.(map[string]any)
	result := decoded["result"].(map[string]any)
	if result["success"] != true {
		t.Fatalf("unexpected decoded fixture %+v", decoded)
	}
}

func TestContainerExecRejectsNonStubRuntime(t *testing.T) {
	h := &ContainerExecHandler{Getenv: func(string) string { return "" }}
	if _, err := h.Handle(context.Background(), map[string]any{"fixture": "irrelevant"}); err == nil {
		t.Fatal("expected error when DEMON_CONTAINER_RUNTIME is not stub")
	}
}
