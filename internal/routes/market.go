package routes

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Devdeo/devv/internal/alerts"
	"github.com/Devdeo/devv/internal/marketdata"
)

func MarketRoutes(r chi.Router, d *Deps) {
	r.Get("/nse-index", d.handleIndex)
	r.Get("/nse-equity", d.handleEquity)
}

func (d *Deps) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := d.Market.Index(r.Context(), r.URL.Query().Get("symbol"))
	d.writeMarket(w, "nse-index", data, err)
}

func (d *Deps) handleEquity(w http.ResponseWriter, r *http.Request) {
	data, err := d.Market.Equity(r.Context(), r.URL.Query().Get("symbol"))
	d.writeMarket(w, "nse-equity", data, err)
}

func (d *Deps) writeMarket(w http.ResponseWriter, endpoint string, data json.RawMessage, err error) {
	if errors.Is(err, marketdata.ErrSymbolRequired) {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Symbol is required"})
		return
	}
	if err != nil {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("market data upstream failed")
		alerts.MarketUpstreamFailed(endpoint, err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}
