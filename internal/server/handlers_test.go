package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xxljob/executor-go/internal/adminclient"
	"github.com/xxljob/executor-go/internal/dispatch"
	"github.com/xxljob/executor-go/internal/registry"
	"github.com/xxljob/executor-go/internal/taskctx"
	"github.com/xxljob/executor-go/internal/tasklog"
	"github.com/xxljob/executor-go/internal/xxltypes"
)

type noopAdmin struct{}

func (noopAdmin) Register(context.Context, string, string) error       { return nil }
func (noopAdmin) RegistryRemove(context.Context, string, string) error { return nil }
func (noopAdmin) Callback(context.Context, adminclient.Callback) error { return nil }

func newTestRouter(t *testing.T, accessToken string) (*httptest.Server, *dispatch.Engine) {
	t.Helper()
	reg := registry.New()
	_ = reg.RegisterFunc("H", xxltypes.KindAsync, false, func(ctx *taskctx.Context) error {
		ctx.SetResult("ok")
		return nil
	})
	sink, err := tasklog.NewDiskSink(t.TempDir(), 0, 0)
	if err != nil {
		t.Fatalf("NewDiskSink: %v", err)
	}
	eng := dispatch.New(reg, sink, noopAdmin{}, nil, dispatch.Options{MaxWorkers: 2, TaskQueueLength: 2})
	h := NewHandlers(nil, eng, sink)
	router := NewRouter(nil, h, accessToken, true)
	return httptest.NewServer(router), eng
}

func postJSON(t *testing.T, srv *httptest.Server, path, token string, body any) (int, response) {
	t.Helper()
	raw, _ := json.Marshal(body)
	req, _ := http.NewRequest(http.MethodPost, srv.URL+path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("XXL-JOB-ACCESS-TOKEN", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request %s: %v", path, err)
	}
	defer resp.Body.Close()
	var env response
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func TestBeat_AlwaysSucceeds(t *testing.T) {
	srv, _ := newTestRouter(t, "")
	defer srv.Close()
	status, env := postJSON(t, srv, "/beat", "", nil)
	if status != http.StatusOK || env.Code != 200 {
		t.Fatalf("expected HTTP 200 / code 200, got status=%d env=%+v", status, env)
	}
}

func TestRun_DispatchesKnownHandler(t *testing.T) {
	srv, _ := newTestRouter(t, "")
	defer srv.Close()

	rd := xxltypes.RunData{JobID: 1, LogID: 1, HandlerName: "H", BlockStrategy: xxltypes.SerialExecution}
	_, env := postJSON(t, srv, "/run", "", rd)
	if env.Code != 200 {
		t.Fatalf("expected run to succeed, got %+v", env)
	}
}

func TestRun_UnknownHandlerReturnsCode500InBody(t *testing.T) {
	srv, _ := newTestRouter(t, "")
	defer srv.Close()

	rd := xxltypes.RunData{JobID: 1, LogID: 1, HandlerName: "missing", BlockStrategy: xxltypes.SerialExecution}
	status, env := postJSON(t, srv, "/run", "", rd)
	if status != http.StatusOK {
		t.Fatalf("expected HTTP 200 even on logical failure, got %d", status)
	}
	if env.Code != 500 {
		t.Fatalf("expected code=500 for unknown handler, got %+v", env)
	}
}

func TestAccessToken_RejectsMismatch(t *testing.T) {
	srv, _ := newTestRouter(t, "secret")
	defer srv.Close()

	_, env := postJSON(t, srv, "/beat", "wrong", nil)
	if env.Code != 500 {
		t.Fatalf("expected rejection for bad token, got %+v", env)
	}

	_, env = postJSON(t, srv, "/beat", "secret", nil)
	if env.Code != 200 {
		t.Fatalf("expected success with correct token, got %+v", env)
	}
}

func TestLog_MissingLogReturnsFriendlyMessage(t *testing.T) {
	srv, _ := newTestRouter(t, "")
	defer srv.Close()

	_, env := postJSON(t, srv, "/log", "", logRequest{LogID: 9999, FromLineNum: 1})
	if env.Code != 200 {
		t.Fatalf("expected code=200 envelope even for missing log, got %+v", env)
	}
	content, ok := env.Content.(map[string]any)
	if !ok {
		t.Fatalf("expected content object, got %+v", env.Content)
	}
	if content["logContent"] != "No such logid logs." {
		t.Fatalf("unexpected content: %+v", content)
	}
}
