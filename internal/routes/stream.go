package routes

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Devdeo/devv/internal/services"
	"github.com/Devdeo/devv/internal/util"
)

func StreamRoutes(r chi.Router, d *Deps) {
	r.Post("/start/{videoId}", d.handleStart)
	r.Post("/stop/{videoId}", d.handleStop)
	r.Get("/streams", d.handleListStreams)
	r.Get("/streams/{videoId}", d.handleStreamStatus)
}

type startBody struct {
	StreamKey string `json:"streamKey"`
	Loops     *int   `json:"loops"`
	TaskID    string `json:"taskId"`
	Platform  string `json:"platform"`
}

func (d *Deps) handleStart(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoId")
	if !util.ValidVideoID(videoID) {
		writeError(w, r, services.ErrVideoNotFound)
		return
	}

	var body startBody
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&body); err != nil || body.Loops == nil {
		writeError(w, r, services.ErrMissingFields)
		return
	}

	_, err := d.Supervisor.Start(r.Context(), services.StartRequest{
		VideoID:   videoID,
		Platform:  body.Platform,
		StreamKey: body.StreamKey,
		TaskID:    body.TaskID,
		Loops:     *body.Loops,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Stream starting",
		"videoId": videoID,
	})
}

func (d *Deps) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := d.Supervisor.Stop(chi.URLParam(r, "videoId")); err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "Stream stopped successfully"})
}

func (d *Deps) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := d.Supervisor.Status(chi.URLParam(r, "videoId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (d *Deps) handleListStreams(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"streams": d.Supervisor.List(),
		"active":  d.Supervisor.ActiveCount(),
	})
}
