package main

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Tutortoise/detection-pipeline/detections"
	"github.com/Tutortoise/detection-pipeline/models"
	"github.com/Tutortoise/detection-pipeline/surface"
)

type AppState struct {
	Pool           *PipelinePool
	Logger         logrus.FieldLogger
	MaxUploadBytes int64
}

type DetectionJSON struct {
	Box        [4]int32 `json:"box"`
	Confidence float32  `json:"confidence"`
	ClassID    int      `json:"class_id"`
	Label      string   `json:"label"`
}

type DetectResponse struct {
	RequestID  string          `json:"request_id"`
	Count      int             `json:"count"`
	Message    string          `json:"message"`
	Detections []DetectionJSON `json:"detections"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (s *AppState) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/detect", s.handleDetect(false)).Methods("POST")
	r.HandleFunc("/detect/annotated", s.handleDetect(true)).Methods("POST")
	r.HandleFunc("/metrics", s.handleMetrics).Methods("GET")
	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	return r
}

func (s *AppState) handleDetect(annotated bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTotal := time.Now()
		timings := &models.ProcessingTimings{RequestID: uuid.NewString()}
		ctx := r.Context()

		if s.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.MaxUploadBytes)
		}

		imgBytes, err := readImageBytes(r, s.MaxUploadBytes)
		if err != nil {
			sendErrorResponse(w, "invalid_request", err.Error(), http.StatusBadRequest)
			return
		}

		decodeStart := time.Now()
		img, err := surface.DecodeBytes(imgBytes)
		timings.ImageDecode = time.Since(decodeStart)
		if err != nil {
			sendErrorResponse(w, "invalid_image", "Failed to decode image", http.StatusBadRequest)
			return
		}

		pipeline, err := s.Pool.Acquire(ctx)
		if err != nil {
			sendErrorResponse(w, "session_error", err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer s.Pool.Release(pipeline)

		dets, err := pipeline.Detect(ctx, img, timings)
		if err != nil {
			code, status := httpError(err)
			s.Logger.WithError(err).WithField("request_id", timings.RequestID).Warn("detection failed")
			sendErrorResponse(w, code, err.Error(), status)
			return
		}

		if annotated {
			s.writeAnnotated(w, pipeline, img, dets, timings, startTotal)
			return
		}

		timings.Total = time.Since(startTotal)
		logTimings(s.Logger, timings)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(newDetectResponse(timings.RequestID, pipeline.Renderer(), dets))
	}
}

func (s *AppState) writeAnnotated(w http.ResponseWriter, pipeline *detections.Pipeline, img image.Image, dets []models.Detection, timings *models.ProcessingTimings, startTotal time.Time) {
	renderStart := time.Now()
	var buf bytes.Buffer
	if err := surface.EncodeJPEG(&buf, pipeline.Annotate(img, dets)); err != nil {
		sendErrorResponse(w, "processing_error", err.Error(), http.StatusInternalServerError)
		return
	}
	timings.Render = time.Since(renderStart)
	timings.Total = time.Since(startTotal)
	logTimings(s.Logger, timings)

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("X-Request-ID", timings.RequestID)
	w.Write(buf.Bytes())
}

func newDetectResponse(requestID string, renderer *detections.Renderer, dets []models.Detection) DetectResponse {
	resp := DetectResponse{
		RequestID:  requestID,
		Count:      len(dets),
		Message:    getDetectionMessage(len(dets)),
		Detections: make([]DetectionJSON, 0, len(dets)),
	}
	for _, d := range dets {
		resp.Detections = append(resp.Detections, DetectionJSON{
			Box:        d.BBox,
			Confidence: d.Confidence,
			ClassID:    d.ClassID,
			Label:      renderer.Label(d),
		})
	}
	return resp
}

func (s *AppState) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	metrics := s.Pool.GetMetrics()
	response := map[string]interface{}{
		"pool_size":        s.Pool.Size(),
		"sessions_in_use":  metrics.InUse,
		"total_acquired":   metrics.TotalAcquired,
		"total_released":   metrics.TotalReleased,
		"acquire_failures": metrics.AcquireFailures,
		"wait_time_ms":     metrics.WaitTime.Milliseconds(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func (s *AppState) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.Pool.isClosed() {
		sendErrorResponse(w, "unavailable", "pool is closed", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func readImageBytes(r *http.Request, maxBytes int64) ([]byte, error) {
	contentType := r.Header.Get("Content-Type")
	switch {
	case strings.HasPrefix(contentType, "application/json"):
		return handleJSONRequest(r)
	case strings.HasPrefix(contentType, "multipart/form-data"):
		return handleMultipartRequest(r, maxBytes)
	default:
		return handleRawRequest(r)
	}
}

func handleJSONRequest(r *http.Request) ([]byte, error) {
	var req struct {
		Image string `json:"image"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	if req.Image == "" {
		return nil, errors.New("image field is empty")
	}
	return base64.StdEncoding.DecodeString(req.Image)
}

func handleMultipartRequest(r *http.Request, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		return nil, err
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return io.ReadAll(file)
}

func handleRawRequest(r *http.Request) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty request body")
	}
	return data, nil
}

func sendErrorResponse(w http.ResponseWriter, code, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    code,
		Message: message,
	})
}
