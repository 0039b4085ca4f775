// Package handler provides HTTP handlers for the model API.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/api/middleware"
	"github.com/3T-LVTN/model/internal/api/models"
	"github.com/3T-LVTN/model/internal/api/response"
	"github.com/3T-LVTN/model/internal/location"
	"github.com/3T-LVTN/model/internal/prediction"
)

// defaultDetailDays is the detail range when the request gives no start.
const defaultDetailDays = 7

// Predictor serves predictions.
type Predictor interface {
	PredictPoints(ctx context.Context, queries []location.Query, when time.Time) ([]*prediction.RatedPrediction, error)
	Summary(ctx context.Context, codes []string, days int) []prediction.LocationSummary
	Detail(ctx context.Context, q location.Query, start, end time.Time) (*prediction.LocationDetail, error)
	ProvinceSummary(ctx context.Context, when time.Time) (*prediction.ProvinceSummary, error)
}

// PredictionHandler handles prediction endpoints.
type PredictionHandler struct {
	predictor Predictor
	logger    zerolog.Logger
	now       func() time.Time
}

// NewPredictionHandler creates a new PredictionHandler.
func NewPredictionHandler(predictor Predictor, logger zerolog.Logger, now func() time.Time) *PredictionHandler {
	if now == nil {
		now = time.Now
	}
	return &PredictionHandler{predictor: predictor, logger: logger, now: now}
}

// Predict handles POST /v1/prediction - rate a batch of points for one day.
func (h *PredictionHandler) Predict(w http.ResponseWriter, r *http.Request) {
	var input models.PredictionRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid prediction request", errs)
		return
	}

	when := h.now()
	if input.PredictDate > 0 {
		when = time.Unix(input.PredictDate, 0)
	}

	queries := make([]location.Query, len(input.Locations))
	for i, l := range input.Locations {
		queries[i] = location.Query{Longitude: &l.Long, Latitude: &l.Lat}
	}

	points, err := h.predictor.PredictPoints(r.Context(), queries, when)
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("prediction failed")
		response.InternalError(w, r, "failed to rate predictions")
		return
	}

	out := models.PredictionResponseData{
		AvailableLocations: []models.PredictionData{},
		MissingLocations:   []models.PredictionData{},
	}
	for i, l := range input.Locations {
		data := models.PredictionData{Idx: l.Idx, Long: l.Long, Lat: l.Lat}
		if points[i] == nil {
			out.MissingLocations = append(out.MissingLocations, data)
			continue
		}
		if points[i].Rated {
			weight := int(points[i].Rate)
			data.Weight = &weight
		}
		out.AvailableLocations = append(out.AvailableLocations, data)
	}
	response.OK(w, r, out)
}

// Summary handles POST /v1/prediction/summary - recent averages per code.
func (h *PredictionHandler) Summary(w http.ResponseWriter, r *http.Request) {
	var input models.SummaryRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid summary request", errs)
		return
	}

	summaries := h.predictor.Summary(r.Context(), input.Location, input.TimeInterval)
	out := make([]models.SummaryLocationInfo, len(summaries))
	for i, s := range summaries {
		out[i] = models.SummaryLocationInfo{
			LocationCode: s.Code,
			Lat:          s.Location.Latitude,
			Lng:          s.Location.Longitude,
			Value:        s.Value,
			Precip:       s.Precip,
			Temperature:  s.Temperature,
		}
	}
	response.OK(w, r, out)
}

// Detail handles POST /v1/prediction/detail - per-day series of one
// location.
func (h *PredictionHandler) Detail(w http.ResponseWriter, r *http.Request) {
	var input models.DetailRequest
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		response.BadRequest(w, r, "invalid JSON body", nil)
		return
	}
	if errs := input.Validate(); len(errs) > 0 {
		response.BadRequest(w, r, "invalid detail request", errs)
		return
	}

	end := h.now()
	if input.EndTime > 0 {
		end = time.Unix(input.EndTime, 0)
	}
	start := end.AddDate(0, 0, -(defaultDetailDays - 1))
	if input.StartTime > 0 {
		start = time.Unix(input.StartTime, 0)
	}
	if start.After(end) {
		start, end = end, start
	}

	q := location.Query{Longitude: input.Lng, Latitude: input.Lat, Code: input.LocationCode}
	detail, err := h.predictor.Detail(r.Context(), q, start, end)
	switch {
	case err == nil:
	case errors.Is(err, location.ErrMissingLocationData):
		response.BadRequest(w, r, "unknown locationCode and no coordinates given", nil)
		return
	case errors.Is(err, location.ErrLocationNotFound):
		response.NotFound(w, r, "location not found")
		return
	case errors.Is(err, prediction.ErrNoPrediction):
		response.LocationUnavailable(w, r)
		return
	default:
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("detail failed")
		response.InternalError(w, r, "failed to load location detail")
		return
	}

	out := models.DetailResponseData{
		LocationGeometry: models.Geometry{
			Type:         "Point",
			Coordinates:  [2]float64{detail.Location.Longitude, detail.Location.Latitude},
			LocationCode: input.LocationCode,
		},
		LocationDetail: make([]models.LocationDetail, len(detail.Days)),
	}
	for i, d := range detail.Days {
		out.LocationDetail[i] = models.LocationDetail{
			Date:        d.Date.Unix(),
			Value:       d.Value,
			Temperature: d.Temperature,
			Precip:      d.Precip,
		}
	}
	response.OK(w, r, out)
}

// ProvinceSummary handles GET /v1/prediction/summary/hcmc - ward counts
// per rate for today.
func (h *PredictionHandler) ProvinceSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.predictor.ProvinceSummary(r.Context(), h.now())
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", middleware.GetRequestID(r.Context())).Msg("province summary failed")
		response.ServiceUnavailable(w, r, "province summary is not available right now")
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	response.OK(w, r, models.ProvinceSummaryData{
		Safe:     summary.Counts[prediction.RateSafe],
		Normal:   summary.Counts[prediction.RateNormal],
		LowRisk:  summary.Counts[prediction.RateLowRisk],
		HighRisk: summary.Counts[prediction.RateHighRisk],
	})
}
