// Package estate looks up land and neighbourhood data for a coordinate.
package estate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("estate: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func (e *HTTPStatusError) HTTPStatusCode() int {
	return e.StatusCode
}

type Request struct {
	APIKey    string  `json:"api_key"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type SchoolItem struct {
	SchoolName    string `json:"school_name"`
	SchoolAddress string `json:"school_address"`
}

type SchoolDistrict struct {
	MiddleSchoolItems     []SchoolItem `json:"middle_school_items"`
	ElementarySchoolItems []SchoolItem `json:"elementary_school_items"`
}

type Station struct {
	Station             string `json:"station"`
	Company             string `json:"company"`
	CompanyDisplayLabel string `json:"company_display_label"`
	Rail                string `json:"rail"`
	DistanceM           int    `json:"distance_m"`
}

type StationInfo struct {
	Stations []Station `json:"stations"`
}

type PopulationChangeRate struct {
	Rate         float64 `json:"rate"`
	DisplayLabel string  `json:"display_label"`
}

type Population struct {
	CurrentPopulation    int                  `json:"current_population"`
	PopulationChangeRate PopulationChangeRate `json:"population_change_rate"`
}

// LandPrice rows hold published prices and change rates as display strings.
type LandPrice struct {
	MustData [][]string `json:"must_data"`
}

type EstateResponse struct {
	ChibanAddress         string         `json:"chiban_address"`
	ChibanArea            int            `json:"chiban_area"`
	SpecificUseDistrict   string         `json:"specific_use_district"`
	BuildingCoverageRatio float64        `json:"building_coverage_ratio"`
	FloorAreaRatio        float64        `json:"floor_area_ratio"`
	SchoolDistrict        SchoolDistrict `json:"school_district"`
	Station               StationInfo    `json:"station"`
	Population            Population     `json:"population"`
	LandPrice             LandPrice      `json:"landprice"`
}

// GoogleMapCoords is a latitude/longitude pair in the order Google Maps prints it.
type GoogleMapCoords struct {
	Latitude  float64
	Longitude float64
}

func (c GoogleMapCoords) Tuple() (float64, float64) {
	return c.Latitude, c.Longitude
}

func (c GoogleMapCoords) String() string {
	return strconv.FormatFloat(c.Latitude, 'f', -1, 64) + ", " + strconv.FormatFloat(c.Longitude, 'f', -1, 64)
}

// ParseCoords reads the "lat, lon" form copied out of Google Maps.
func ParseCoords(s string) (GoogleMapCoords, error) {
	lat, lon, ok := strings.Cut(s, ",")
	if !ok {
		return GoogleMapCoords{}, fmt.Errorf("estate: coordinates %q: expected \"lat, lon\"", s)
	}
	la, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return GoogleMapCoords{}, fmt.Errorf("estate: latitude: %w", err)
	}
	lo, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return GoogleMapCoords{}, fmt.Errorf("estate: longitude: %w", err)
	}
	return GoogleMapCoords{Latitude: la, Longitude: lo}, nil
}

type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

func NewClient(url, apiKey string, opts ...Option) (*Client, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("estate: url must not be empty")
	}
	c := &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) PostEstateInfo(ctx context.Context, latitude, longitude float64) (*EstateResponse, error) {
	body, err := json.Marshal(Request{APIKey: c.apiKey, Latitude: latitude, Longitude: longitude})
	if err != nil {
		return nil, fmt.Errorf("estate: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("estate: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("estate: post: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{StatusCode: res.StatusCode, URL: c.url, Body: string(buf)}
	}
	var out EstateResponse
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("estate: decode response: %w", err)
	}
	return &out, nil
}
