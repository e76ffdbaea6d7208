package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tutortoise/detection-pipeline/detections"
	"github.com/Tutortoise/detection-pipeline/engine/enginetest"
)

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newTestServer(t *testing.T, model *enginetest.Model) (*AppState, http.Handler) {
	t.Helper()
	pool, err := NewPipelinePool(1, time.Second, func() (*detections.Pipeline, error) {
		return detections.NewPipeline(model, detections.DefaultOptions(), quietLogger())
	})
	require.NoError(t, err)
	t.Cleanup(pool.Destroy)

	state := &AppState{Pool: pool, Logger: quietLogger(), MaxUploadBytes: 10 << 20}
	return state, state.Router()
}

func carModel() *enginetest.Model {
	return enginetest.NewDetector(640, 640, enginetest.DetectionOutput(
		[6]float32{10, 10, 100, 100, 0.9, 2},
		[6]float32{0, 0, 5, 5, 0.1, 0},
	))
}

func decodeDetectResponse(t *testing.T, rec *httptest.ResponseRecorder) DetectResponse {
	t.Helper()
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	var resp DetectResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestDetectRawBody(t *testing.T) {
	_, h := newTestServer(t, carModel())

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t, 1280, 640)))
	req.Header.Set("Content-Type", "image/png")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := decodeDetectResponse(t, rec)
	assert.NotEmpty(t, resp.RequestID)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, MsgSingleDetection, resp.Message)
	require.Len(t, resp.Detections, 1)
	d := resp.Detections[0]
	assert.Equal(t, [4]int32{20, 10, 200, 100}, d.Box)
	assert.InDelta(t, 0.9, d.Confidence, 1e-6)
	assert.Equal(t, 2, d.ClassID)
	assert.Equal(t, "cls 2:0.90", d.Label)
}

func TestDetectJSONBody(t *testing.T) {
	_, h := newTestServer(t, carModel())

	body, err := json.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(testPNG(t, 640, 640))})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := decodeDetectResponse(t, rec)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, [4]int32{10, 10, 100, 100}, resp.Detections[0].Box)
}

func TestDetectMultipart(t *testing.T) {
	_, h := newTestServer(t, carModel())

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "car.png")
	require.NoError(t, err)
	_, err = fw.Write(testPNG(t, 320, 320))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/detect", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	resp := decodeDetectResponse(t, rec)
	require.Len(t, resp.Detections, 1)
	assert.Equal(t, [4]int32{5, 5, 50, 50}, resp.Detections[0].Box)
}

func TestDetectAnnotated(t *testing.T) {
	_, h := newTestServer(t, carModel())

	req := httptest.NewRequest(http.MethodPost, "/detect/annotated", bytes.NewReader(testPNG(t, 640, 480)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "image/jpeg", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	img, err := jpeg.Decode(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())
}

func TestDetectInvalidImage(t *testing.T) {
	model := carModel()
	_, h := newTestServer(t, model)

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader([]byte("not an image")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "invalid_image", resp.Code)
	assert.Zero(t, model.Calls())
}

func TestDetectEmptyBody(t *testing.T) {
	_, h := newTestServer(t, carModel())

	req := httptest.NewRequest(http.MethodPost, "/detect", http.NoBody)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDetectEngineFailure(t *testing.T) {
	model := carModel()
	model.Err = errors.New("kernel exploded")
	_, h := newTestServer(t, model)

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t, 64, 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "inference_error", resp.Code)
	assert.Contains(t, resp.Message, "kernel exploded")
}

func TestDetectMalformedOutput(t *testing.T) {
	model := enginetest.NewDetector(640, 640, enginetest.DetectionOutput([6]float32{1, 1, 2, 2, 0.9, -1}))
	_, h := newTestServer(t, model)

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t, 64, 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "malformed_output", resp.Code)
}

func TestDetectPoolExhausted(t *testing.T) {
	state, h := newTestServer(t, carModel())
	held, err := state.Pool.Acquire(context.Background())
	require.NoError(t, err)
	defer state.Pool.Release(held)

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t, 64, 64)))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsAndHealth(t *testing.T) {
	state, h := newTestServer(t, carModel())

	req := httptest.NewRequest(http.MethodPost, "/detect", bytes.NewReader(testPNG(t, 64, 64)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]float64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metrics))
	assert.EqualValues(t, 1, metrics["pool_size"])
	assert.EqualValues(t, 1, metrics["total_acquired"])
	assert.EqualValues(t, 1, metrics["total_released"])
	assert.EqualValues(t, 0, metrics["sessions_in_use"])

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	state.Pool.Destroy()
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestDetectWrongMethod(t *testing.T) {
	_, h := newTestServer(t, carModel())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/detect", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
