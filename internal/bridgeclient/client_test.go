package bridgeclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVersion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/version" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		fmt.Fprint(w, "1.0")
	}))
	defer srv.Close()

	version, err := New(srv.URL).Version(context.Background())
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if version != "1.0" {
		t.Fatalf("unexpected version %q", version)
	}
}

func TestTextOutcomeEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/init/cmd" {
			fmt.Fprint(w, "OK")
			return
		}
		fmt.Fprint(w, "ERROR")
	}))
	defer srv.Close()
	client := New(srv.URL)

	if err := client.InitCommandConsole(context.Background()); err != nil {
		t.Fatalf("init-cmd on OK body: %v", err)
	}

	err := client.SetMapScale(context.Background(), 5000)
	var cmdErr *ErrCommandFailed
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
	if cmdErr.Op != "init-scale" {
		t.Fatalf("unexpected op %q", cmdErr.Op)
	}
}

func TestRunModuleDecodesBothOutputShapes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req RunModuleRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		if req.Kwargs["format"] == "json" {
			fmt.Fprint(w, `{"returncode":0,"stdout":{"rows":620}}`)
			return
		}
		fmt.Fprint(w, `{"returncode":0,"stdout":"GRASS 8.4"}`)
	}))
	defer srv.Close()
	client := New(srv.URL)

	resp, err := client.RunModule(context.Background(), RunModuleRequest{Cmd: "g.version"})
	if err != nil {
		t.Fatalf("run module: %v", err)
	}
	if _, structured := resp.Stdout.Structured(); structured || resp.Stdout.Raw() != "GRASS 8.4" {
		t.Fatalf("unexpected raw decode: %+v", resp.Stdout)
	}

	resp, err = client.RunModule(context.Background(), RunModuleRequest{Cmd: "g.region", Kwargs: map[string]any{"format": "json"}})
	if err != nil {
		t.Fatalf("run module structured: %v", err)
	}
	doc, structured := resp.Stdout.Structured()
	if !structured || string(doc) != `{"rows":620}` {
		t.Fatalf("unexpected structured decode: %s", doc)
	}
}

func TestRunModuleErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ERROR")
	}))
	defer srv.Close()

	_, err := New(srv.URL).RunModule(context.Background(), RunModuleRequest{Cmd: "g.version"})
	var cmdErr *ErrCommandFailed
	if !errors.As(err, &cmdErr) {
		t.Fatalf("expected ErrCommandFailed, got %v", err)
	}
}

func TestErrorEnvelopeDecoded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"schema_version":"v1","generated_at":"2026-01-01T00:00:00Z","error":{"code":"E_UI_NOT_READY","message":"workstation is not ready"}}`)
	}))
	defer srv.Close()

	err := New(srv.URL).InitCommandConsole(context.Background())
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusServiceUnavailable || reqErr.Code != "E_UI_NOT_READY" {
		t.Fatalf("unexpected error: %+v", reqErr)
	}
}

func TestHistoryLimitQuery(t *testing.T) {
	var gotLimit string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLimit = r.URL.Query().Get("limit")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"schema_version":"v1","generated_at":"2026-01-01T00:00:00Z","commands":[]}`)
	}))
	defer srv.Close()

	env, err := New(srv.URL).History(context.Background(), 7)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if gotLimit != "7" {
		t.Fatalf("limit not forwarded, got %q", gotLimit)
	}
	if len(env.Commands) != 0 {
		t.Fatalf("unexpected commands: %+v", env.Commands)
	}
}
