// Package visualcrossing implements weather.Gateway over the Visual
// Crossing history API (CSV responses).
package visualcrossing

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/3T-LVTN/model/internal/provider/resilience"
	"github.com/3T-LVTN/model/internal/weather"
)

const (
	// ProviderName identifies this provider in logs and the health registry.
	ProviderName = "visual-crossing"

	DefaultBaseURL = "https://weather.visualcrossing.com"

	historyPath = "/VisualCrossingWebServices/rest/services/weatherdata/history"

	requestDateFormat  = "2006-01-02"
	responseDateFormat = "01/02/2006"
)

// ClientConfig configures the Visual Crossing client.
type ClientConfig struct {
	BaseURL string

	// Keys is the credential pool shared by every request.
	Keys *KeyPool

	// UnitGroup is us, metric or uk (default: us).
	UnitGroup string

	HTTPClient *resilience.Client
	Logger     zerolog.Logger
}

// Client fetches daily history one day per request so a failure never
// wastes more than one day of quota.
type Client struct {
	baseURL    string
	keys       *KeyPool
	unitGroup  string
	httpClient *resilience.Client
	logger     zerolog.Logger
}

// NewClient creates a Visual Crossing client.
func NewClient(cfg ClientConfig) *Client {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	unitGroup := cfg.UnitGroup
	if unitGroup == "" {
		unitGroup = "us"
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = resilience.NewClient(resilience.DefaultClientConfig(ProviderName))
	}
	keys := cfg.Keys
	if keys == nil {
		keys = NewKeyPool(nil)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		keys:       keys,
		unitGroup:  unitGroup,
		httpClient: httpClient,
		logger:     cfg.Logger,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return ProviderName
}

// Fetch requests each day of [req.Start, req.End) separately and stops at
// the first failing day.
func (c *Client) Fetch(ctx context.Context, req weather.Request) (*weather.Result, error) {
	var records []weather.Record
	for day := req.Start; day.Before(req.End); day = day.AddDate(0, 0, 1) {
		res, err := c.fetchDay(ctx, req.Latitude, req.Longitude, day)
		if err != nil {
			return nil, err
		}
		if res.Status != weather.StatusSuccess {
			return res, nil
		}
		records = append(records, res.Records...)
	}
	return &weather.Result{Status: weather.StatusSuccess, Records: records}, nil
}

// fetchDay tries keys until one is accepted or the pool runs dry.
func (c *Client) fetchDay(ctx context.Context, lat, lon float64, day time.Time) (*weather.Result, error) {
	for {
		key, err := c.keys.Current()
		if err != nil {
			return &weather.Result{Status: weather.StatusFailure, Message: err.Error()}, nil
		}

		status, body, err := c.get(ctx, c.historyURL(lat, lon, day, key))
		if err != nil {
			return nil, err
		}

		switch {
		case status == http.StatusOK:
			records, err := parseCSV(body)
			if err != nil {
				return nil, fmt.Errorf("decoding response: %w", err)
			}
			return &weather.Result{Status: weather.StatusSuccess, Records: records}, nil
		case isQuotaStatus(status):
			c.keys.MarkExhausted(key)
			c.logger.Warn().
				Int("status", status).
				Int("keys_left", c.keys.Available()).
				Msg("visual crossing key rejected, rotating")
		default:
			return &weather.Result{
				Status:  weather.StatusFailure,
				Message: fmt.Sprintf("unexpected status code: %d: %s", status, strings.TrimSpace(string(body))),
			}, nil
		}
	}
}

func (c *Client) historyURL(lat, lon float64, day time.Time, key string) string {
	q := url.Values{}
	q.Set("location", fmt.Sprintf("%f,%f", lat, lon))
	q.Set("startDateTime", day.Format(requestDateFormat))
	q.Set("endDateTime", day.AddDate(0, 0, 1).Format(requestDateFormat))
	q.Set("aggregateHours", "24")
	q.Set("unitGroup", c.unitGroup)
	q.Set("contentType", "csv")
	q.Set("key", key)
	return c.baseURL + historyPath + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, rawURL string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("executing request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func isQuotaStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusUnauthorized ||
		status == http.StatusForbidden
}

// parseCSV maps a history CSV (header row then one row per day) to records.
// Header names are normalised to snake_case, so "Date time" is date_time.
func parseCSV(body []byte) ([]weather.Record, error) {
	r := csv.NewReader(bytes.NewReader(body))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normaliseHeader(h)] = i
	}
	if _, ok := cols["date_time"]; !ok {
		return nil, errors.New("response has no date_time column")
	}

	var out []weather.Record
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		rec, err := toRecord(cols, row)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRecord(cols map[string]int, row []string) (weather.Record, error) {
	field := func(name string) string {
		if i, ok := cols[name]; ok && i < len(row) {
			return strings.Trim(strings.TrimSpace(row[i]), `"`)
		}
		return ""
	}
	number := func(name string) *float64 {
		v, err := strconv.ParseFloat(field(name), 64)
		if err != nil {
			return nil
		}
		return &v
	}

	date, err := time.ParseInLocation(responseDateFormat, field("date_time"), time.UTC)
	if err != nil {
		return weather.Record{}, fmt.Errorf("parsing date %q: %w", field("date_time"), err)
	}

	return weather.Record{
		Date:               date,
		MinimumTemperature: number("minimum_temperature"),
		MaximumTemperature: number("maximum_temperature"),
		Temperature:        number("temperature"),
		DewPoint:           number("dew_point"),
		RelativeHumidity:   number("relative_humidity"),
		HeatIndex:          number("heat_index"),
		WindSpeed:          number("wind_speed"),
		WindGust:           number("wind_gust"),
		WindDirection:      number("wind_direction"),
		WindChill:          number("wind_chill"),
		Precipitation:      number("precipitation"),
		PrecipitationCover: number("precipitation_cover"),
		SnowDepth:          number("snow_depth"),
		Visibility:         number("visibility"),
		CloudCover:         number("cloud_cover"),
		SeaLevelPressure:   number("sea_level_pressure"),
		WeatherType:        field("weather_type"),
		Conditions:         field("conditions"),
		Info:               field("info"),
	}, nil
}

func normaliseHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(h)), " ", "_")
}

var _ weather.Gateway = (*Client)(nil)
