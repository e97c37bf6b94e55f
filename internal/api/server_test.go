package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/smazurov/scanout/internal/api/models"
	"github.com/smazurov/scanout/internal/config"
	"github.com/smazurov/scanout/internal/display"
	"github.com/smazurov/scanout/internal/events"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/metrics"
)

const apiTopology = `
[[components]]
id = 0
name = "ovl0"
kind = "overlay"
layers = 2

[[components]]
id = 1
name = "ovl_2l0"
kind = "overlay"
layers = 2
background_input = true

[[components]]
id = 2
name = "dpi0"
kind = "output"
encoder_index = 1

[[components]]
id = 3
name = "dp0"
kind = "output"
encoder_index = 2

[[pipelines]]
name = "main"
path = [0, 1]
routes = [2, 3]
mode = { width = 1280, height = 720, refresh = 60 }
`

type testServer struct {
	server *Server
	mgr    *display.Manager
	hwd    *display.Hardware
}

func newTestServer(t *testing.T, opts Options) *testServer {
	t.Helper()
	topo, err := config.ParseTopology([]byte(apiTopology))
	if err != nil {
		t.Fatal(err)
	}
	bus := events.New()
	mgr, hwd, err := display.BuildSimulated(topo, display.Options{
		Bus:               bus,
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		ManualVblank:      true,
		DisableTimeout:    20 * time.Millisecond,
		VblankWaitTimeout: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(mgr.Close)

	opts.Manager = mgr
	opts.EventBus = bus
	return &testServer{server: NewServer(&opts), mgr: mgr, hwd: hwd}
}

func (ts *testServer) do(t *testing.T, method, path string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return v
}

func TestHealthAndVersion(t *testing.T) {
	ts := newTestServer(t, Options{})

	if w := ts.do(t, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
	w := ts.do(t, http.MethodGet, "/api/version", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("version status = %d", w.Code)
	}
	if v := decode[models.VersionData](t, w); v.GoVersion == "" {
		t.Errorf("version = %+v", v)
	}
}

func TestListAndGetPipeline(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := ts.do(t, http.MethodGet, "/api/pipelines", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	list := decode[models.PipelineListData](t, w)
	if list.Count != 1 || list.Pipelines[0].Name != "main" || list.Pipelines[0].State != "idle" {
		t.Errorf("list = %+v", list)
	}

	w = ts.do(t, http.MethodGet, "/api/pipelines/main", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	p := decode[models.PipelineData](t, w)
	if p.Mode.Width != 1280 || len(p.Status.Layers) != 4 {
		t.Errorf("pipeline = %+v", p)
	}

	if w := ts.do(t, http.MethodGet, "/api/pipelines/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown pipeline status = %d", w.Code)
	}
}

func TestEnableCommitDisable(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := ts.do(t, http.MethodPost, "/api/pipelines/main/enable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("enable status = %d: %s", w.Code, w.Body)
	}
	if p := decode[models.PipelineData](t, w); p.State != "enabled" || p.EnabledAt == "" {
		t.Errorf("after enable = %+v", p)
	}

	commit := models.CommitRequestData{
		Layers: []models.LayerChangeData{{Index: 0}},
		Event:  true,
	}
	commit.Layers[0].State.Enabled = true
	commit.Layers[0].State.Width = 320
	commit.Layers[0].State.Height = 240

	w = ts.do(t, http.MethodPost, "/api/pipelines/main/commit", commit)
	if w.Code != http.StatusOK {
		t.Fatalf("commit status = %d: %s", w.Code, w.Body)
	}
	c := decode[models.CommitData](t, w)
	if c.Token == "" || c.Status != "pending" {
		t.Errorf("commit = %+v", c)
	}

	// A second event while the first is outstanding is rejected.
	w = ts.do(t, http.MethodPost, "/api/pipelines/main/commit", commit)
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate event status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/pipelines/main/disable", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("disable status = %d: %s", w.Code, w.Body)
	}
	if p := decode[models.PipelineData](t, w); p.State != "idle" {
		t.Errorf("after disable = %+v", p)
	}
}

func TestCommitWaitPresented(t *testing.T) {
	ts := newTestServer(t, Options{})
	if err := ts.mgr.Enable("main", nil); err != nil {
		t.Fatal(err)
	}

	ovl, err := ts.hwd.Component(0)
	if err != nil {
		t.Fatal(err)
	}
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				ovl.Tick()
			}
		}
	}()

	w := ts.do(t, http.MethodPost, "/api/pipelines/main/commit", models.CommitRequestData{
		Layers: []models.LayerChangeData{{Index: 1}},
		Wait:   true,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	if c := decode[models.CommitData](t, w); c.Status != "presented" {
		t.Errorf("commit = %+v", c)
	}
}

func TestCommitErrors(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := ts.do(t, http.MethodPost, "/api/pipelines/main/commit", models.CommitRequestData{
		Layers: []models.LayerChangeData{{Index: 0}},
	})
	if w.Code != http.StatusConflict {
		t.Errorf("commit on disabled pipeline status = %d", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/pipelines/main/commit", models.CommitRequestData{
		Layers: []models.LayerChangeData{{Index: 9}},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid layer status = %d", w.Code)
	}
}

func TestConnectivityAndLayerOwner(t *testing.T) {
	ts := newTestServer(t, Options{})

	w := ts.do(t, http.MethodPost, "/api/pipelines/main/connectivity", models.ConnectivityRequestData{EncoderMask: 1 << 2})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	c := decode[models.ConnectivityData](t, w)
	if !c.Changed || c.Chain[len(c.Chain)-1] != 3 {
		t.Errorf("connectivity = %+v", c)
	}

	w = ts.do(t, http.MethodGet, "/api/pipelines/main/layers/3/owner", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("owner status = %d: %s", w.Code, w.Body)
	}
	if o := decode[models.LayerOwnerData](t, w); o.Component != 1 || o.LocalIndex != 1 {
		t.Errorf("owner = %+v", o)
	}

	if w := ts.do(t, http.MethodGet, "/api/pipelines/main/layers/4/owner", nil); w.Code != http.StatusBadRequest {
		t.Errorf("out of range owner status = %d", w.Code)
	}
}

func TestBasicAuth(t *testing.T) {
	ts := newTestServer(t, Options{AuthUsername: "admin", AuthPassword: "secret"})

	if w := ts.do(t, http.MethodGet, "/api/pipelines", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("no credentials status = %d", w.Code)
	} else if !strings.Contains(w.Header().Get("WWW-Authenticate"), "Basic") {
		t.Error("missing WWW-Authenticate header")
	}

	bad := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:wrong"))
	if w := ts.do(t, http.MethodGet, "/api/pipelines", nil, "Authorization", bad); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong password status = %d", w.Code)
	}

	good := "Basic " + base64.StdEncoding.EncodeToString([]byte("admin:secret"))
	if w := ts.do(t, http.MethodGet, "/api/pipelines", nil, "Authorization", good); w.Code != http.StatusOK {
		t.Errorf("valid credentials status = %d", w.Code)
	}

	// Health stays public.
	if w := ts.do(t, http.MethodGet, "/api/health", nil); w.Code != http.StatusOK {
		t.Errorf("health status = %d", w.Code)
	}
}

func TestLogsEndpoint(t *testing.T) {
	logging.Initialize(logging.Config{Level: "info", Format: "text"})
	ts := newTestServer(t, Options{})

	logger := logging.GetLogger("apitest")
	for i := 0; i < 3; i++ {
		logger.Info("entry", "n", i)
	}

	w := ts.do(t, http.MethodGet, "/api/logs?module=apitest&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body)
	}
	logs := decode[models.LogsData](t, w)
	if logs.Count != 2 {
		t.Fatalf("count = %d, want 2", logs.Count)
	}
	for _, e := range logs.Entries {
		if e.Module != "apitest" || e.Message != "entry" {
			t.Errorf("entry = %+v", e)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, Options{PrometheusHandler: metrics.Handler()})
	if err := ts.mgr.Enable("main", nil); err != nil {
		t.Fatal(err)
	}

	w := ts.do(t, http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `pipeline="main"`) {
		t.Error("metrics missing pipeline series")
	}
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t, Options{})
	w := ts.do(t, http.MethodOptions, "/api/pipelines", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS origin header")
	}
}
