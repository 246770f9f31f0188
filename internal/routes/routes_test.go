package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/marketdata"
	"github.com/Devdeo/devv/internal/services"
)

func newTestRouter(t *testing.T, ffmpegScript string) (http.Handler, *Deps) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell-script ffmpeg stand-in needs a POSIX shell")
	}
	config.MaxUploadBytes = 1 << 20

	uploadDir := t.TempDir()
	store, err := services.NewDiskStore(uploadDir, 1024)
	if err != nil {
		t.Fatal(err)
	}
	sched := services.NewScheduler()
	t.Cleanup(sched.Stop)
	pipeline := services.NewPipeline(store, services.NewAssetIndex(), services.NewDedupIndex(), sched,
		services.PipelineOptions{Retention: time.Minute})

	ffmpeg := filepath.Join(t.TempDir(), "ffmpeg")
	if err := os.WriteFile(ffmpeg, []byte(ffmpegScript), 0755); err != nil {
		t.Fatal(err)
	}
	opts := services.DefaultSupervisorOptions()
	opts.FFmpegPath = ffmpeg
	opts.LogDir = t.TempDir()
	opts.SettleDelay = 50 * time.Millisecond
	opts.TerminateWait = 500 * time.Millisecond
	opts.CleanupSettle = 10 * time.Millisecond
	opts.CleanupInterval = 10 * time.Millisecond
	opts.SessionGrace = time.Minute
	sup := services.NewSupervisor(pipeline, services.NewRegistry(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		sup.Shutdown(ctx)
	})

	d := &Deps{Pipeline: pipeline, Supervisor: sup, UploadDir: uploadDir}
	r := chi.NewRouter()
	CoreRoutes(r, d)
	UploadRoutes(r, d)
	StreamRoutes(r, d)
	return r, d
}

func uploadRequest(t *testing.T, field, filename, content string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if field != "" {
		fw, err := mw.CreateFormFile(field, filename)
		if err != nil {
			t.Fatal(err)
		}
		fw.Write([]byte(content))
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload/alice", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(h http.Handler, req *http.Request) (*httptest.ResponseRecorder, map[string]interface{}) {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var body map[string]interface{}
	json.Unmarshal(rec.Body.Bytes(), &body)
	return rec, body
}

func upload(t *testing.T, h http.Handler, d *Deps, content string) string {
	t.Helper()
	rec, body := do(h, uploadRequest(t, "video", "clip.mp4", content))
	if rec.Code != http.StatusOK {
		t.Fatalf("upload: got %d %s", rec.Code, rec.Body.String())
	}
	d.Pipeline.Wait()
	return body["videoId"].(string)
}

func startRequest(videoID, body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/start/"+videoID, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestUpload(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")

	rec, body := do(h, uploadRequest(t, "video", "clip.mp4", "AAAAAAAAAA"))
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	if body["message"] != "File uploaded successfully" || body["duration"] != float64(120) {
		t.Errorf("unexpected body %v", body)
	}
	if !strings.HasPrefix(body["filename"].(string), "alice_") {
		t.Errorf("stored name should carry the owner tag, got %v", body["filename"])
	}
	d.Pipeline.Wait()

	rec, view := do(h, httptest.NewRequest(http.MethodGet, "/videos/"+body["videoId"].(string), nil))
	if rec.Code != http.StatusOK || view["status"] != services.AssetReady {
		t.Errorf("video view: %d %v", rec.Code, view)
	}
}

func TestUpload_client_errors(t *testing.T) {
	h, _ := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")

	cases := []struct {
		name  string
		req   *http.Request
		error string
	}{
		{"no file field", uploadRequest(t, "", "", ""), "No video file provided"},
		{"wrong field", uploadRequest(t, "file", "clip.mp4", "x"), "No video file provided"},
		{"empty filename", uploadRequest(t, "video", "", "x"), "No selected file"},
		{"bad extension", uploadRequest(t, "video", "notes.txt", "x"), "Invalid file type"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(h, tc.req)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d %s", rec.Code, rec.Body.String())
			}
			if tc.error != "" && body["error"] != tc.error {
				t.Errorf("expected %q, got %v", tc.error, body["error"])
			}
		})
	}
}

func TestUpload_too_large(t *testing.T) {
	h, _ := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")
	config.MaxUploadBytes = 64

	rec, _ := do(h, uploadRequest(t, "video", "clip.mp4", strings.Repeat("A", 4096)))
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
}

func TestUpload_too_large_mid_file(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")
	config.MaxUploadBytes = 1024

	rec, body := do(h, uploadRequest(t, "video", "clip.mp4", strings.Repeat("A", 64*1024)))
	if rec.Code != http.StatusRequestEntityTooLarge || body["error"] != "File too large" {
		t.Fatalf("expected 413, got %d %v", rec.Code, body)
	}
	entries, err := os.ReadDir(d.UploadDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("partial upload left behind: %v", entries)
	}
	if len(d.Pipeline.Assets()) != 0 {
		t.Error("no asset should be recorded")
	}
}

func TestUpload_streams_video_field_after_other_fields(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("note", "hello")
	fw, _ := mw.CreateFormFile("video", "clip.mp4")
	fw.Write([]byte("BBBBBBBBBB"))
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/upload/bob", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rec, body := do(h, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d %s", rec.Code, rec.Body.String())
	}
	data, err := os.ReadFile(filepath.Join(d.UploadDir, body["filename"].(string)))
	if err != nil || string(data) != "BBBBBBBBBB" {
		t.Errorf("stored bytes %q (%v)", data, err)
	}
	d.Pipeline.Wait()
}

func TestErrorMessages(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")
	id := upload(t, h, d, "AAAAAAAAAA")

	_, body := do(h, startRequest(id, `{"streamKey":"k","loops":1,"taskId":"t","platform":"mastodon"}`))
	if body["error"] != "Invalid platform" {
		t.Errorf("invalid platform: %v", body["error"])
	}
	_, body = do(h, startRequest(id, `{"loops":1,"taskId":"t","platform":"youtube"}`))
	if body["error"] != "Missing required fields" {
		t.Errorf("missing fields: %v", body["error"])
	}
	_, body = do(h, startRequest("00000000-0000-0000-0000-000000000000", `{"streamKey":"k","loops":1,"taskId":"t","platform":"youtube"}`))
	if body["error"] != "Video file not found" {
		t.Errorf("unknown video: %v", body["error"])
	}
	_, body = do(h, httptest.NewRequest(http.MethodGet, "/streams/"+id, nil))
	if body["error"] != "Stream not found" {
		t.Errorf("unknown stream: %v", body["error"])
	}

	do(h, startRequest(id, `{"streamKey":"k","loops":1,"taskId":"t","platform":"youtube"}`))
	rec, body := do(h, startRequest(id, `{"streamKey":"k","loops":1,"taskId":"t","platform":"youtube"}`))
	if rec.Code != http.StatusConflict || body["error"] != "Stream already running for this video" {
		t.Errorf("already running: %d %v", rec.Code, body["error"])
	}
}

func TestStartStopStatus(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")
	id := upload(t, h, d, "AAAAAAAAAA")

	rec, body := do(h, startRequest(id, `{"streamKey":"abcd-1234","loops":2,"taskId":"t1","platform":"youtube"}`))
	if rec.Code != http.StatusOK || body["message"] != "Stream starting" || body["videoId"] != id {
		t.Fatalf("start: %d %v", rec.Code, body)
	}

	rec, snap := do(h, httptest.NewRequest(http.MethodGet, "/streams/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	if snap["taskId"] != "t1" || snap["platform"] != "youtube" || snap["streamKey"] != "*****1234" {
		t.Errorf("unexpected snapshot %v", snap)
	}

	rec, _ = do(h, startRequest(id, `{"streamKey":"k","loops":0,"taskId":"t2","platform":"twitter"}`))
	if rec.Code != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", rec.Code)
	}

	rec, body = do(h, httptest.NewRequest(http.MethodPost, "/stop/"+id, nil))
	if rec.Code != http.StatusOK || body["message"] != "Stream stopped successfully" {
		t.Fatalf("stop: %d %v", rec.Code, body)
	}

	rec, _ = do(h, httptest.NewRequest(http.MethodGet, "/streams/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status after stop: expected 404, got %d", rec.Code)
	}
	rec, _ = do(h, httptest.NewRequest(http.MethodPost, "/stop/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("stop twice: expected 404, got %d", rec.Code)
	}
}

func TestStart_errors(t *testing.T) {
	h, d := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")
	id := upload(t, h, d, "AAAAAAAAAA")

	cases := []struct {
		name    string
		videoID string
		body    string
		want    int
	}{
		{"missing loops", id, `{"streamKey":"k","taskId":"t","platform":"youtube"}`, http.StatusBadRequest},
		{"missing key", id, `{"loops":1,"taskId":"t","platform":"youtube"}`, http.StatusBadRequest},
		{"bad json", id, `{`, http.StatusBadRequest},
		{"unknown platform", id, `{"streamKey":"k","loops":1,"taskId":"t","platform":"mastodon"}`, http.StatusBadRequest},
		{"unknown video", "nope", `{"streamKey":"k","loops":1,"taskId":"t","platform":"youtube"}`, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := do(h, startRequest(tc.videoID, tc.body))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d %v", tc.want, rec.Code, body)
			}
			if body["error"] == nil {
				t.Error("error body missing")
			}
		})
	}

	rec, list := do(h, httptest.NewRequest(http.MethodGet, "/streams", nil))
	if rec.Code != http.StatusOK || list["active"] != float64(0) {
		t.Errorf("no session should exist: %d %v", rec.Code, list)
	}
}

func TestHealthAndLimits(t *testing.T) {
	h, _ := newTestRouter(t, "#!/bin/sh\nexec sleep 30\n")

	rec, body := do(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["activeSessions"] != float64(0) {
		t.Errorf("health: %d %v", rec.Code, body)
	}

	rec, body = do(h, httptest.NewRequest(http.MethodGet, "/limits", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("limits: %d", rec.Code)
	}
	platforms, _ := body["platforms"].([]interface{})
	if len(platforms) != 4 {
		t.Errorf("expected four platforms, got %v", body["platforms"])
	}
}

func TestMarketRoutes(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/option-chain-indices" {
			if r.URL.Query().Get("symbol") == "BROKEN" {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			w.Write([]byte(`{"records":{"symbol":"` + r.URL.Query().Get("symbol") + `"}}`))
			return
		}
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	d := &Deps{Market: marketdata.NewClient(upstream.URL, marketdata.Options{CacheTTL: time.Minute, Timeout: 2 * time.Second})}
	r := chi.NewRouter()
	MarketRoutes(r, d)

	rec, body := do(r, httptest.NewRequest(http.MethodGet, "/nse-index", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("index: %d", rec.Code)
	}
	if records, _ := body["records"].(map[string]interface{}); records["symbol"] != "NIFTY" {
		t.Errorf("default symbol should be NIFTY, got %v", body)
	}

	rec, body = do(r, httptest.NewRequest(http.MethodGet, "/nse-equity", nil))
	if rec.Code != http.StatusBadRequest || body["error"] != "Symbol is required" {
		t.Errorf("equity without symbol: %d %v", rec.Code, body)
	}

	rec, body = do(r, httptest.NewRequest(http.MethodGet, "/nse-index?symbol=BROKEN", nil))
	if rec.Code != http.StatusInternalServerError || body["error"] == nil {
		t.Errorf("upstream failure: %d %v", rec.Code, body)
	}
}
