package main

import (
	"bytes"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"example/planartrack/features"
	"example/planartrack/internal/testimg"
	"example/planartrack/recognition"
	"example/planartrack/templatedb"
)

func newTestServer(t *testing.T) (*httptest.Server, *image.Gray) {
	t.Helper()
	cfg := recognition.DefaultConfig()
	dir := t.TempDir()

	tmpl := testimg.Texture(120, 90, 6, 51)
	extractor := cfg.NewExtractor(nil)
	m := testimg.Mat(tmpl)
	set := features.FromImage(extractor, m, "poster")
	m.Close()
	extractor.Close()
	require.NoError(t, templatedb.SaveRecord(filepath.Join(dir, "poster"+templatedb.RecordExt), set))

	srv, cleanup, err := newServer(cfg, dir, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(cleanup)

	ts := httptest.NewServer(srv.routes())
	t.Cleanup(ts.Close)
	return ts, tmpl
}

func pngBody(t *testing.T, img image.Image) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return &buf
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestProcessHandler(t *testing.T) {
	ts, tmpl := newTestServer(t)
	// a camera-sized frame is reduced to 320x240, halving the offset
	frame := testimg.Scene(640, 480, upscale(tmpl), image.Pt(200, 140))

	resp, err := http.Post(ts.URL+"/process", "image/png", pngBody(t, frame))
	require.NoError(t, err)
	got := decode[FrameResponse](t, resp)
	require.True(t, got.Located, got.Error)
	assert.Equal(t, "poster", got.Template)
	assert.Equal(t, recognition.StateTracking, got.State)
	require.Len(t, got.Homography, 9)
	assert.InDelta(t, 100, got.Homography[2], 2)
	assert.InDelta(t, 70, got.Homography[5], 2)

	resp, err = http.Get(ts.URL + "/state")
	require.NoError(t, err)
	state := decode[StateResponse](t, resp)
	assert.Equal(t, recognition.StateTracking, state.State)
	assert.Equal(t, 1, state.Templates)
	assert.Equal(t, 1, state.Stats.Recognitions)

	resp, err = http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), `planartrack_recognition_latency_seconds_count{result="located"} 1`)
}

func TestRecognizeAndReload(t *testing.T) {
	ts, tmpl := newTestServer(t)

	resp, err := http.Post(ts.URL+"/recognize", "image/png", pngBody(t, testimg.Scene(320, 240, tmpl, image.Pt(60, 50))))
	require.NoError(t, err)
	got := decode[FrameResponse](t, resp)
	assert.True(t, got.Located, got.Error)
	assert.Equal(t, recognition.StateSearching, got.State)

	resp, err = http.Post(ts.URL+"/reload", "application/json", nil)
	require.NoError(t, err)
	reloaded := decode[map[string]int](t, resp)
	assert.Equal(t, 1, reloaded["templates"])

	for _, dir := range []string{"/etc", "../elsewhere"} {
		resp, err = http.Post(ts.URL+"/reload", "application/json", strings.NewReader(`{"dir": "`+dir+`"}`))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, dir)
	}

	resp, err = http.Post(ts.URL+"/reload", "application/json", strings.NewReader(`{"dir": "missing"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	resp, err = http.Get(ts.URL + "/state")
	require.NoError(t, err)
	assert.Equal(t, 1, decode[StateResponse](t, resp).Templates, "a failed reload keeps the loaded templates")
}

func TestHandlerErrors(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, err := http.Get(ts.URL + "/process")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/process", "image/png", strings.NewReader("not an image"))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/state", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, err = http.Post(ts.URL+"/process", "image/png", pngBody(t, testimg.Blank(320, 240, 0)))
	require.NoError(t, err)
	got := decode[FrameResponse](t, resp)
	assert.False(t, got.Located)
	assert.NotEmpty(t, got.Error)
}

// upscale doubles img with nearest-neighbour sampling.
func upscale(img *image.Gray) *image.Gray {
	b := img.Bounds()
	out := image.NewGray(image.Rect(0, 0, 2*b.Dx(), 2*b.Dy()))
	for y := 0; y < out.Bounds().Dy(); y++ {
		for x := 0; x < out.Bounds().Dx(); x++ {
			out.SetGray(x, y, img.GrayAt(b.Min.X+x/2, b.Min.Y+y/2))
		}
	}
	return out
}
