package routes

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/alerts"
	"github.com/Devdeo/devv/internal/config"
	"github.com/Devdeo/devv/internal/services"
	"github.com/Devdeo/devv/internal/util"
)

func UploadRoutes(r chi.Router, d *Deps) {
	r.Post("/upload/{ownerTag}", d.handleUpload)
	r.Get("/videos", d.handleListVideos)
	r.Get("/videos/{videoId}", d.handleGetVideo)
}

type assetView struct {
	VideoID     string `json:"videoId"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	CanonicalID string `json:"canonicalId,omitempty"`
	Streaming   bool   `json:"streaming"`
	CreatedAt   string `json:"createdAt"`
}

func viewOf(a services.Asset) assetView {
	return assetView{
		VideoID:     a.ID,
		Filename:    a.Filename,
		Status:      a.Status,
		CanonicalID: a.CanonicalID,
		Streaming:   a.Claimed,
		CreatedAt:   a.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}
}

func (d *Deps) handleUpload(w http.ResponseWriter, r *http.Request) {
	ownerTag := chi.URLParam(r, "ownerTag")

	if d.DiskMinGB > 0 {
		if disk, err := util.GetDiskSpace(d.UploadDir); err == nil && disk.AvailGB < d.DiskMinGB {
			log.Warn().Float64("avail_gb", disk.AvailGB).Msg("rejecting upload, disk nearly full")
			alerts.DiskSpaceLow(disk.AvailGB)
			respondJSON(w, http.StatusInsufficientStorage, map[string]string{"error": "Server is low on disk space"})
			return
		}
	}

	r.Body = http.MaxBytesReader(w, r.Body, config.MaxUploadBytes)
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, r, services.ErrMissingFile)
		return
	}
	part, err := videoPart(mr)
	if err != nil {
		if tooLarge(err) {
			respondTooLarge(w)
			return
		}
		writeError(w, r, err)
		return
	}
	defer part.Close()

	res, err := d.Pipeline.Ingest(r.Context(), ownerTag, part.FileName(), part)
	if err != nil {
		if tooLarge(err) {
			respondTooLarge(w)
			return
		}
		writeError(w, r, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":  "File uploaded successfully",
		"videoId":  res.VideoID,
		"filename": res.Filename,
		"duration": config.ReportedDuration,
	})
}

// videoPart advances mr to the "video" form field so its bytes stream
// straight into the content store.
func videoPart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, services.ErrMissingFile
		}
		if err != nil {
			if tooLarge(err) {
				return nil, err
			}
			return nil, services.ErrMissingFile
		}
		if part.FormName() == "video" {
			return part, nil
		}
		part.Close()
	}
}

func tooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

func respondTooLarge(w http.ResponseWriter) {
	respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "File too large"})
}

func (d *Deps) handleListVideos(w http.ResponseWriter, r *http.Request) {
	assets := d.Pipeline.Assets()
	out := make([]assetView, 0, len(assets))
	for _, a := range assets {
		out = append(out, viewOf(a))
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"videos": out})
}

func (d *Deps) handleGetVideo(w http.ResponseWriter, r *http.Request) {
	a, ok := d.Pipeline.Asset(chi.URLParam(r, "videoId"))
	if !ok {
		writeError(w, r, services.ErrVideoNotFound)
		return
	}
	respondJSON(w, http.StatusOK, viewOf(a))
}
