// SPDX-License-Identifier: MIT

package api

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/maskd/internal/jobs"
	"github.com/ManuGH/maskd/internal/mask"
	"github.com/ManuGH/maskd/internal/segment"
	"github.com/ManuGH/maskd/internal/session"
	"github.com/ManuGH/maskd/internal/video"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	store := video.NewFrameStore(t.TempDir(), 95)
	src := video.NewSyntheticSource(64, 48, 12, 25)
	sessions := session.NewManager(session.Options{
		MaxConcurrent: 2,
		MaxFrames:     300,
		MaxDimension:  1920,
		Timeout:       5 * time.Minute,
		TouchEvery:    10,
		ProgressEvery: 5,
	}, src, store, segment.NewSimulator())

	jobManager := jobs.NewManager(1)
	t.Cleanup(func() {
		ctx, cancel := contextWithTimeout(t)
		defer cancel()
		_ = jobManager.Shutdown(ctx)
	})

	srv := New(Config{
		Version:       "test",
		SegmenterMode: "sim",
		JobRetention:  time.Hour,
	}, sessions, jobManager)

	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func contextWithTimeout(t *testing.T) (ctx context.Context, cancel context.CancelFunc) {
	t.Helper()
	return context.WithTimeout(context.Background(), 5*time.Second)
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { require.NoError(t, resp.Body.Close()) }()

	var decoded map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&decoded))
	return resp, decoded
}

func openSession(t *testing.T, ts *httptest.Server, ref string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"video_path": ref})
	require.Equal(t, http.StatusCreated, resp.StatusCode, "open failed: %v", body)
	return body["session_id"].(string)
}

func addObject(t *testing.T, ts *httptest.Server, sessionID string, objectID, frame int) map[string]any {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects", map[string]any{
		"frame_idx": frame,
		"object_id": objectID,
		"points":    [][2]float64{{32, 24}},
		"labels":    []int{1},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "add failed: %v", body)
	return body
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "sim", body["segmenter"])
	assert.EqualValues(t, 0, body["active_sessions"])
}

func TestSessionLifecycle(t *testing.T) {
	ts := newTestServer(t)

	sessionID := openSession(t, ts, "clip.mp4")

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["session_id"])
	assert.EqualValues(t, 12, body["total_frames"])
	assert.EqualValues(t, 64, body["frame_width"])
	assert.EqualValues(t, 48, body["frame_height"])
	assert.Empty(t, body["objects"])

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+sessionID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, sessionID, body["session_id"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// close is idempotent over HTTP as well
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/sessions/"+sessionID, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestOpenSessionErrors(t *testing.T) {
	ts := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"video_path": "missing.mp4"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "video_unreadable", body["error"])

	openSession(t, ts, "one.mp4")
	openSession(t, ts, "two.mp4")
	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions", map[string]any{"video_path": "three.mp4"})
	assert.Equal(t, http.StatusInsufficientStorage, resp.StatusCode)
	assert.Equal(t, "capacity_exceeded", body["error"])
	assert.Contains(t, body["detail"], "limit 2")
}

func TestAddObjectAndFrameMasks(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")

	body := addObject(t, ts, sessionID, 1, 0)
	assert.EqualValues(t, 1, body["object_id"])
	assert.Equal(t, "Object 1", body["name"])
	assert.Equal(t, []any{float64(255), float64(0), float64(0)}, body["color"])

	decoded, err := mask.DecodePNG(body["mask"].(string))
	require.NoError(t, err)
	assert.Equal(t, 64, decoded.Width)
	assert.Equal(t, 48, decoded.Height)
	assert.Positive(t, decoded.CountNonzero())

	resp, masksBody := doJSON(t, http.MethodGet, ts.URL+"/api/sessions/"+sessionID+"/frames/0/masks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, masksBody["frame_idx"])
	masks := masksBody["masks"].(map[string]any)
	require.Contains(t, masks, "1")
	_, err = mask.DecodePNG(masks["1"].(string))
	require.NoError(t, err)
}

func TestAddObjectValidation(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects", map[string]any{
		"frame_idx": -1, "object_id": 1, "points": [][2]float64{{1, 1}}, "labels": []int{1},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/ghost/objects", map[string]any{
		"frame_idx": 0, "object_id": 1, "points": [][2]float64{{1, 1}}, "labels": []int{1},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])

	req, err := http.NewRequest(http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects",
		bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.NoError(t, raw.Body.Close())
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestAddObjectWithBox(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects/box", map[string]any{
		"frame_idx": 0,
		"object_id": 1,
		"box":       []float64{8, 8, 24, 20},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "box add failed: %v", body)

	decoded, err := mask.DecodePNG(body["mask"].(string))
	require.NoError(t, err)
	assert.Equal(t, 16*12, decoded.CountNonzero())
}

func TestRefine(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")
	addObject(t, ts, sessionID, 1, 0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects/1/refine", map[string]any{
		"frame_idx": 0,
		"points":    [][2]float64{{32, 24}},
		"labels":    []int{0},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "refine failed: %v", body)
	assert.EqualValues(t, 1, body["object_id"])
	_, err := mask.DecodePNG(body["mask"].(string))
	require.NoError(t, err)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects/99/refine", map[string]any{
		"frame_idx": 0, "points": [][2]float64{{1, 1}}, "labels": []int{1},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "not_found", body["error"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/objects/ghost/refine", map[string]any{
		"frame_idx": 0, "points": [][2]float64{{1, 1}}, "labels": []int{1},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])
}

func encodeUploadPNG(t *testing.T, w, h int, lit bool) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	if lit {
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray(x, y, color.Gray{Y: 255})
			}
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestOverrideMask(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")
	addObject(t, ts, sessionID, 1, 0)

	resp, body := doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+sessionID+"/objects/1/mask", map[string]any{
		"frame_idx": 3,
		"mask":      encodeUploadPNG(t, 64, 48, true),
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, "override failed: %v", body)

	decoded, err := mask.DecodePNG(body["mask"].(string))
	require.NoError(t, err)
	assert.Equal(t, 64*48, decoded.CountNonzero())

	// garbage payloads are rejected up front
	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/sessions/"+sessionID+"/objects/1/mask", map[string]any{
		"frame_idx": 3,
		"mask":      "!!definitely-not-base64!!",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])
}

func waitForJob(t *testing.T, ts *httptest.Server, jobID, wantStatus string) map[string]any {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/jobs/"+jobID, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		status := body["status"].(string)
		if status == wantStatus {
			return body
		}
		if status == "completed" || status == "failed" {
			t.Fatalf("job %s ended %q, want %q: %v", jobID, status, wantStatus, body)
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached %q", jobID, wantStatus)
	return nil
}

func TestPropagateJobLifecycle(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")
	addObject(t, ts, sessionID, 1, 0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/propagate", map[string]any{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode, "propagate failed: %v", body)
	jobID := body["job_id"].(string)
	require.NotEmpty(t, jobID)

	job := waitForJob(t, ts, jobID, "completed")
	assert.EqualValues(t, 100, job["progress"])
	result := job["result"].(map[string]any)
	assert.Equal(t, sessionID, result["session_id"])
	assert.EqualValues(t, 12, result["frames_covered"])
	assert.NotContains(t, result, "mask", "job results carry no pixel data")

	// propagated masks are readable per frame afterwards
	for _, frame := range []int{0, 6, 11} {
		resp, masksBody := doJSON(t, http.MethodGet,
			fmt.Sprintf("%s/api/sessions/%s/frames/%d/masks", ts.URL, sessionID, frame), nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		masks := masksBody["masks"].(map[string]any)
		require.Contains(t, masks, "1", "frame %d", frame)
	}
}

func TestPropagateWithoutObjects(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/propagate", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "nothing_to_propagate", body["error"])
}

func TestPropagateBadDirection(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")
	addObject(t, ts, sessionID, 1, 0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/propagate", map[string]any{
		"direction": "sideways",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_argument", body["error"])
}

func TestJobNotFound(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := doJSON(t, http.MethodGet, ts.URL+"/api/jobs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/api/jobs/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCancelJob(t *testing.T) {
	ts := newTestServer(t)
	sessionID := openSession(t, ts, "clip.mp4")
	addObject(t, ts, sessionID, 1, 0)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sessionID+"/propagate", map[string]any{})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	jobID := body["job_id"].(string)

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/jobs/"+jobID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, jobID, body["job_id"])
	assert.Contains(t, []string{"pending", "running", "failed", "completed"}, body["status"])
}

func TestCleanup(t *testing.T) {
	ts := newTestServer(t)
	openSession(t, ts, "clip.mp4")

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/cleanup", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["removed_sessions"], "fresh session survives cleanup")
	assert.EqualValues(t, 0, body["removed_jobs"])
}
