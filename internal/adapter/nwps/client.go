// Package nwps implements the forecast and return-period collaborators
// against the NOAA National Water Prediction Service HTTP API.
package nwps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/flow-alert-service/internal/domain"
)

// DefaultBaseURL is the production NWPS API root.
const DefaultBaseURL = "https://api.water.noaa.gov/nwps/v1"

// Client implements domain.ForecastProvider and domain.ReturnPeriodProvider.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates an NWPS API client.
func NewClient(baseURL string, timeout time.Duration, logger *slog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}
}

// Streamflow fetches forecast flow values for a reach, restricted to the
// requested horizons. The series parameter keeps long-range data off the
// wire entirely.
func (c *Client) Streamflow(ctx context.Context, reachID string, horizons []domain.ForecastHorizon) ([]domain.FlowObservation, error) {
	names := make([]string, len(horizons))
	for i, h := range horizons {
		names[i] = string(h)
	}
	params := url.Values{"series": {strings.Join(names, ",")}}
	u := fmt.Sprintf("%s/reaches/%s/streamflow?%s", c.baseURL, url.PathEscape(reachID), params.Encode())

	var resp streamflowResponse
	if err := c.getJSON(ctx, u, &resp); err != nil {
		return nil, fmt.Errorf("streamflow for reach %s: %w", reachID, err)
	}

	var observations []domain.FlowObservation
	for _, series := range resp.Series {
		unit := parseUnit(series.Units)
		for _, v := range series.Values {
			observations = append(observations, domain.FlowObservation{
				ReachID: reachID,
				Value:   v.Value,
				Unit:    unit,
				Horizon: domain.ForecastHorizon(series.Horizon),
				ValidAt: v.ValidTime,
			})
		}
	}
	return observations, nil
}

// ReturnPeriod fetches the flood-frequency thresholds for a reach. A reach
// without published return periods yields (nil, nil).
func (c *Client) ReturnPeriod(ctx context.Context, reachID string) (*domain.ReturnPeriodTable, error) {
	u := fmt.Sprintf("%s/reaches/%s/returnperiods", c.baseURL, url.PathEscape(reachID))

	var resp returnPeriodResponse
	err := c.getJSON(ctx, u, &resp)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("return periods for reach %s: %w", reachID, err)
	}

	flowByYear := make(map[int]float64, len(resp.ReturnPeriods))
	for yearStr, flow := range resp.ReturnPeriods {
		year, convErr := strconv.Atoi(yearStr)
		if convErr != nil {
			c.logger.Warn("skipping non-numeric return period key", "reach_id", reachID, "key", yearStr)
			continue
		}
		flowByYear[year] = flow
	}
	if len(flowByYear) == 0 {
		return nil, nil
	}

	return &domain.ReturnPeriodTable{
		ReachID:    reachID,
		Unit:       parseUnit(resp.Units),
		FlowByYear: flowByYear,
	}, nil
}

func (c *Client) getJSON(ctx context.Context, fullURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("nwps request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("nwps API error: status %d: %s", resp.StatusCode, body)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var errNotFound = errors.New("nwps: not found")

func isNotFound(err error) bool {
	return errors.Is(err, errNotFound)
}

// parseUnit normalizes the API's unit strings; NWPS publishes imperial by
// default so unrecognized values fall back to cfs.
func parseUnit(s string) domain.FlowUnit {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cms", "m3/s":
		return domain.UnitCMS
	default:
		return domain.UnitCFS
	}
}

// NWPS API response types.

type streamflowResponse struct {
	Reach  reachInfo          `json:"reach"`
	Series []streamflowSeries `json:"series"`
}

type reachInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type streamflowSeries struct {
	Horizon string            `json:"horizon"`
	Units   string            `json:"units"`
	Values  []streamflowValue `json:"values"`
}

type streamflowValue struct {
	Value     float64   `json:"value"`
	ValidTime time.Time `json:"validTime"`
}

type returnPeriodResponse struct {
	ReachID       string             `json:"reachId"`
	Units         string             `json:"units"`
	ReturnPeriods map[string]float64 `json:"returnPeriods"`
}
