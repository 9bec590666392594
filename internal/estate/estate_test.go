package estate

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleResponse = `{
  "chiban_address": "東京都江戸川区西葛西6丁目",
  "chiban_area": 165,
  "specific_use_district": "第一種住居地域",
  "building_coverage_ratio": 60,
  "floor_area_ratio": 200,
  "school_district": {
    "middle_school_items": [{"school_name": "西葛西中学校", "school_address": "西葛西7丁目"}],
    "elementary_school_items": []
  },
  "station": {"stations": [{"station": "西葛西", "company": "tokyometro", "company_display_label": "東京メトロ", "rail": "東西線", "distance_m": 480}]},
  "population": {"current_population": 690000, "population_change_rate": {"rate": -0.4, "display_label": "減少"}},
  "landprice": {"must_data": [["2024", "520000", "+3.1%"]]}
}`

func TestPostEstateInfo(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Accept"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		io.WriteString(w, sampleResponse)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key-1", WithHTTPClient(srv.Client()))
	require.NoError(t, err)
	res, err := c.PostEstateInfo(context.Background(), 35.652832, 139.828491)
	require.NoError(t, err)

	require.Equal(t, Request{APIKey: "key-1", Latitude: 35.652832, Longitude: 139.828491}, got)
	require.Equal(t, "第一種住居地域", res.SpecificUseDistrict)
	require.Equal(t, 165, res.ChibanArea)
	require.InDelta(t, 60.0, res.BuildingCoverageRatio, 1e-9)
	require.Equal(t, "西葛西中学校", res.SchoolDistrict.MiddleSchoolItems[0].SchoolName)
	require.Equal(t, 480, res.Station.Stations[0].DistanceM)
	require.Equal(t, "減少", res.Population.PopulationChangeRate.DisplayLabel)
	require.Equal(t, [][]string{{"2024", "520000", "+3.1%"}}, res.LandPrice.MustData)
}

func TestPostEstateInfo_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, "bad key")
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "wrong")
	require.NoError(t, err)
	_, err = c.PostEstateInfo(context.Background(), 1, 2)
	var se *HTTPStatusError
	require.True(t, errors.As(err, &se))
	require.Equal(t, http.StatusForbidden, se.HTTPStatusCode())
	require.Equal(t, "bad key", se.Body)

	_, err = NewClient(" ", "k")
	require.Error(t, err)
}

func TestGoogleMapCoords(t *testing.T) {
	c := GoogleMapCoords{Latitude: 35.652832, Longitude: 139.828491}
	lat, lon := c.Tuple()
	require.Equal(t, 35.652832, lat)
	require.Equal(t, 139.828491, lon)
	require.Equal(t, "35.652832, 139.828491", c.String())

	parsed, err := ParseCoords(" 35.652832 ,139.828491 ")
	require.NoError(t, err)
	require.Equal(t, c, parsed)

	_, err = ParseCoords("35.6")
	require.Error(t, err)
	_, err = ParseCoords("north, 139")
	require.ErrorContains(t, err, "latitude")
}
