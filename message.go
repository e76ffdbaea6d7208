package main

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/Tutortoise/detection-pipeline/models"
)

const (
	MsgNoDetections = "No objects detected above the confidence threshold."

	MsgSingleDetection = "Detected 1 object."
)

func getDetectionMessage(count int) string {
	switch {
	case count == 0:
		return MsgNoDetections
	case count == 1:
		return MsgSingleDetection
	default:
		return fmt.Sprintf("Detected %d objects.", count)
	}
}

// Exit codes for the CLI, one per error kind.
const (
	exitOK            = 0
	exitOther         = 1
	exitImageLoad     = 2
	exitModelLoad     = 3
	exitInference     = 4
	exitMalformed     = 5
	exitWrite         = 6
	exitInvalidConfig = 7
)

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	switch models.KindOf(err) {
	case models.ErrImageLoad:
		return exitImageLoad
	case models.ErrModelLoad:
		return exitModelLoad
	case models.ErrInferenceEngine:
		return exitInference
	case models.ErrMalformedOutput:
		return exitMalformed
	case models.ErrWrite:
		return exitWrite
	case models.ErrInvalidConfig:
		return exitInvalidConfig
	default:
		return exitOther
	}
}

// httpError maps an error kind to a response code and status.
func httpError(err error) (string, int) {
	switch kind := models.KindOf(err); {
	case errors.Is(kind, models.ErrImageLoad):
		return "invalid_image", http.StatusBadRequest
	case errors.Is(kind, models.ErrInferenceEngine):
		return "inference_error", http.StatusBadGateway
	case errors.Is(kind, models.ErrMalformedOutput):
		return "malformed_output", http.StatusBadGateway
	default:
		return "processing_error", http.StatusInternalServerError
	}
}
