package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/marketdata"
	"github.com/Devdeo/devv/internal/services"
)

// Deps carries the services the handlers dispatch to.
type Deps struct {
	Pipeline   *services.Pipeline
	Supervisor *services.Supervisor
	Market     *marketdata.Client
	UploadDir  string
	// DiskMinGB rejects uploads when the upload volume has less free space.
	// Zero disables the check.
	DiskMinGB float64
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func statusFor(err error) int {
	switch {
	case services.IsClientError(err):
		return http.StatusBadRequest
	case services.IsNotFound(err):
		return http.StatusNotFound
	case errors.Is(err, services.ErrAlreadyRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// userMessages holds the text clients see for each sentinel, checked in
// order with errors.Is.
var userMessages = []struct {
	err error
	msg string
}{
	{services.ErrMissingFile, "No video file provided"},
	{services.ErrEmptyFilename, "No selected file"},
	{services.ErrInvalidFileType, "Invalid file type"},
	{services.ErrMissingFields, "Missing required fields"},
	{services.ErrInvalidPlatform, "Invalid platform"},
	{services.ErrInvalidKey, "Invalid stream key"},
	{services.ErrVideoNotFound, "Video file not found"},
	{services.ErrSessionNotFound, "Stream not found"},
	{services.ErrAlreadyRunning, "Stream already running for this video"},
	{services.ErrResourceFailure, "Internal server error"},
}

func userMessage(err error) string {
	for _, m := range userMessages {
		if errors.Is(err, m.err) {
			return m.msg
		}
	}
	return "Internal server error"
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	respondJSON(w, status, map[string]string{"error": userMessage(err)})
}
