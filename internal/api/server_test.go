package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/capturepipe/internal/config"
	"github.com/bryanchriswhite/capturepipe/internal/mux"
	"github.com/bryanchriswhite/capturepipe/internal/pipeline"
	"github.com/bryanchriswhite/capturepipe/internal/recorder"
	"github.com/bryanchriswhite/capturepipe/internal/sink"
	"github.com/gorilla/websocket"
)

type stubCapture struct {
	pipeline.BaseStage
	frame pipeline.Frame
}

func (s *stubCapture) Name() string { return string(pipeline.KindCaptureDesktop) }

func (s *stubCapture) Initialize(_ *config.Config, pctx *pipeline.Context) error {
	s.frame.Image = image.NewRGBA(image.Rect(0, 0, 2, 2))
	return pctx.SetResolution(pipeline.Resolution{Width: 2, Height: 2})
}

func (s *stubCapture) Process(pipeline.Token) (pipeline.Token, error) {
	time.Sleep(time.Millisecond)
	return &s.frame, nil
}

func (s *stubCapture) Shutdown() error { return nil }

type stubEncoder struct {
	pipeline.BaseStage
	kind      pipeline.Kind
	supported bool
	fail      error
}

func (s *stubEncoder) Name() string      { return string(s.kind) }
func (s *stubEncoder) IsSupported() bool { return s.supported }

func (s *stubEncoder) Initialize(*config.Config, *pipeline.Context) error { return nil }

func (s *stubEncoder) Process(pipeline.Token) (pipeline.Token, error) {
	if s.fail != nil {
		return nil, s.fail
	}
	return &pipeline.Packet{Data: []byte{0, 0, 0, 1}}, nil
}

func (s *stubEncoder) Shutdown() error { return nil }

func stubFactory(kind pipeline.Kind) (pipeline.Stage, error) {
	switch kind {
	case pipeline.KindCaptureDesktop:
		return &stubCapture{}, nil
	case pipeline.KindEncodeA:
		return &stubEncoder{kind: kind, supported: true}, nil
	case pipeline.KindEncodeB:
		return &stubEncoder{kind: kind}, nil
	case pipeline.KindFileSink:
		return sink.NewFileSink(), nil
	}
	return nil, pipeline.ErrUnknownKind
}

func newTestServer(t *testing.T) (*httptest.Server, string) {
	t.Helper()
	return newTestServerWithFactory(t, stubFactory)
}

func newTestServerWithFactory(t *testing.T, factory pipeline.Factory) (*httptest.Server, string) {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("audio:\n  sources: []\n"), 0644); err != nil {
		t.Fatal(err)
	}
	mgr, err := config.NewManager(path, nil)
	if err != nil {
		t.Fatal(err)
	}

	noFFmpeg := mux.WithRunner(func(context.Context, string, []string) error { return nil })
	s := NewServer(mgr, factory, WithRecorderOptions(recorder.WithMuxer(mux.New("ffmpeg", noFFmpeg))))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, dir
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHealth(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	decode(t, resp, &body)
	if body["status"] != "healthy" || body["version"] != Version {
		t.Errorf("health = %v", body)
	}
}

func TestStages(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/stages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var stages []StageSupport
	decode(t, resp, &stages)
	if len(stages) != len(pipeline.Kinds()) {
		t.Fatalf("got %d stages, want %d", len(stages), len(pipeline.Kinds()))
	}
	want := map[pipeline.Kind]bool{
		pipeline.KindCaptureDesktop: true,
		pipeline.KindEncodeA:        true,
		pipeline.KindEncodeB:        false,
		pipeline.KindAudioCapture:   false,
		pipeline.KindFileSink:       true,
	}
	for _, st := range stages {
		if w, ok := want[st.Kind]; ok && st.Supported != w {
			t.Errorf("%s supported = %v, want %v", st.Kind, st.Supported, w)
		}
	}
}

func TestRecordingControl(t *testing.T) {
	ts, dir := newTestServer(t)
	base := filepath.Join(dir, "session")

	if resp := post(t, ts.URL+"/api/recording/pause", ""); resp.StatusCode != http.StatusNotFound {
		t.Errorf("pause without recording = %d, want 404", resp.StatusCode)
	}

	resp := post(t, ts.URL+"/api/recording/start", `{"fileName":"`+base+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	var st recorder.Status
	decode(t, resp, &st)
	if st.State != recorder.StateCapturing || st.ID == "" {
		t.Fatalf("status after start = %+v", st)
	}

	if resp := post(t, ts.URL+"/api/recording/start", `{"fileName":"`+base+`"}`); resp.StatusCode != http.StatusConflict {
		t.Errorf("second start = %d, want 409", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/recording/pause", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("pause = %d", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/recording/pause", ""); resp.StatusCode != http.StatusConflict {
		t.Errorf("second pause = %d, want 409", resp.StatusCode)
	}
	if resp := post(t, ts.URL+"/api/recording/resume", ""); resp.StatusCode != http.StatusOK {
		t.Errorf("resume = %d", resp.StatusCode)
	}

	resp = post(t, ts.URL+"/api/recording/stop", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop = %d", resp.StatusCode)
	}
	var out map[string]string
	decode(t, resp, &out)
	if out["output"] != base+".mp4" {
		t.Errorf("output = %q", out["output"])
	}

	statusResp, err := http.Get(ts.URL + "/api/recording/status")
	if err != nil {
		t.Fatal(err)
	}
	defer statusResp.Body.Close()
	decode(t, statusResp, &st)
	if st.State != recorder.StateStopped {
		t.Errorf("state after stop = %s", st.State)
	}
}

func TestStartWithoutFileName(t *testing.T) {
	ts, _ := newTestServer(t)
	if resp := post(t, ts.URL+"/api/recording/start", ""); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("start without fileName = %d, want 400", resp.StatusCode)
	}
}

func TestErrorsEmpty(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/api/recording/errors")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var errs []string
	decode(t, resp, &errs)
	if errs == nil || len(errs) != 0 {
		t.Errorf("errors = %#v, want empty list", errs)
	}
}

func TestStream(t *testing.T) {
	ts, _ := newTestServer(t)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/recording/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg StreamMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if msg.Status.State != recorder.StateUnstarted {
		t.Errorf("state = %s, want unstarted", msg.Status.State)
	}
}

func TestStreamAndErrorsEndpointBothSeeFailure(t *testing.T) {
	factory := func(kind pipeline.Kind) (pipeline.Stage, error) {
		if kind == pipeline.KindEncodeA {
			return &stubEncoder{kind: kind, supported: true, fail: errors.New("encoder lost")}, nil
		}
		return stubFactory(kind)
	}
	ts, dir := newTestServerWithFactory(t, factory)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/recording/stream"

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	resp := post(t, ts.URL+"/api/recording/start", `{"fileName":"`+filepath.Join(dir, "failing")+`"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start = %d", resp.StatusCode)
	}
	defer post(t, ts.URL+"/api/recording/stop", "")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var streamed []string
	for len(streamed) == 0 {
		var msg StreamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("ReadJSON: %v", err)
		}
		streamed = msg.Errors
	}
	if len(streamed) != 1 || !strings.Contains(streamed[0], "encoder lost") {
		t.Fatalf("streamed errors = %v", streamed)
	}

	getErrors := func() []string {
		resp, err := http.Get(ts.URL + "/api/recording/errors")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var errs []string
		decode(t, resp, &errs)
		return errs
	}
	if errs := getErrors(); len(errs) != 1 || errs[0] != streamed[0] {
		t.Errorf("errors endpoint = %v, want the streamed error", errs)
	}
	if errs := getErrors(); len(errs) != 0 {
		t.Errorf("second read of errors endpoint = %v, want empty", errs)
	}
}
