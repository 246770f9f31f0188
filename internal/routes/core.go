package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/services"
	"github.com/Devdeo/devv/internal/util"
)

func CoreRoutes(r chi.Router, d *Deps) {
	r.Get("/health", d.handleHealth)
	r.Get("/limits", handleLimits)
}

func (d *Deps) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"status":         "ok",
		"version":        config.Version,
		"activeSessions": d.Supervisor.ActiveCount(),
	}
	if disk, err := util.GetDiskSpace(d.UploadDir); err == nil {
		body["disk"] = map[string]float64{
			"availGB": disk.AvailGB,
			"totalGB": disk.TotalGB,
		}
	}
	respondJSON(w, http.StatusOK, body)
}

func handleLimits(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"allowedExtensions": config.AllowedExtensions,
		"maxFileSize":       config.MaxUploadBytes,
		"platforms":         services.Platforms(),
		"retentionSeconds":  int(config.RetentionWindow.Seconds()),
	})
}
