// Package weather implements the weather lookup capability backed by
// the Open-Meteo public API (geocoding + forecast, no API key).
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/nimbuslabs/nimbus/internal/httpkit"
)

const (
	defaultGeocodeURL  = "https://geocoding-api.open-meteo.com/v1/search"
	defaultForecastURL = "https://api.open-meteo.com/v1/forecast"
)

// Client looks up locations and their current conditions.
type Client struct {
	geocodeURL  string
	forecastURL string
	httpClient  *http.Client
	logger      *slog.Logger
}

// NewClient creates a weather client with the shared HTTP defaults.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		geocodeURL:  defaultGeocodeURL,
		forecastURL: defaultForecastURL,
		logger:      logger.With("component", "weather"),
		httpClient:  httpkit.NewClient(httpkit.WithTimeout(15 * time.Second)),
	}
}

// SetEndpoints overrides the API endpoints. Used by tests.
func (c *Client) SetEndpoints(geocode, forecast string) {
	c.geocodeURL = geocode
	c.forecastURL = forecast
}

// Location is a geocoded place.
type Location struct {
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Admin1    string  `json:"admin1,omitempty"`
	Country   string  `json:"country,omitempty"`
}

// Conditions is a current-weather observation.
type Conditions struct {
	TemperatureF float64 `json:"temperature"`
	Condition    string  `json:"condition"`
	WindMPH      float64 `json:"wind_mph"`
	HumidityPct  float64 `json:"humidity_pct"`
}

// DayForecast is one day of forecast data.
type DayForecast struct {
	Date      string  `json:"date"`
	HighF     float64 `json:"high"`
	LowF      float64 `json:"low"`
	Condition string  `json:"condition"`
}

// Geocode resolves a place name to coordinates. Returns an error when
// the name matches nothing.
func (c *Client) Geocode(ctx context.Context, name string) (*Location, error) {
	q := url.Values{}
	q.Set("name", name)
	q.Set("count", "1")
	q.Set("language", "en")
	q.Set("format", "json")

	var result struct {
		Results []Location `json:"results"`
	}
	if err := c.getJSON(ctx, c.geocodeURL+"?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", name, err)
	}
	if len(result.Results) == 0 {
		return nil, fmt.Errorf("no location found for %q", name)
	}
	return &result.Results[0], nil
}

// forecastResponse is the subset of the Open-Meteo forecast payload we use.
type forecastResponse struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		Humidity    float64 `json:"relative_humidity_2m"`
		WeatherCode int     `json:"weather_code"`
		WindSpeed   float64 `json:"wind_speed_10m"`
	} `json:"current"`
	Daily struct {
		Time        []string  `json:"time"`
		TempMax     []float64 `json:"temperature_2m_max"`
		TempMin     []float64 `json:"temperature_2m_min"`
		WeatherCode []int     `json:"weather_code"`
	} `json:"daily"`
}

// Current fetches current conditions for a location.
func (c *Client) Current(ctx context.Context, loc *Location) (*Conditions, error) {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("current", "temperature_2m,relative_humidity_2m,weather_code,wind_speed_10m")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("wind_speed_unit", "mph")

	var result forecastResponse
	if err := c.getJSON(ctx, c.forecastURL+"?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("current conditions for %s: %w", loc.Name, err)
	}

	return &Conditions{
		TemperatureF: result.Current.Temperature,
		Condition:    describeWeatherCode(result.Current.WeatherCode),
		WindMPH:      result.Current.WindSpeed,
		HumidityPct:  result.Current.Humidity,
	}, nil
}

// Forecast fetches a daily forecast for a location. days is clamped to [1, 7].
func (c *Client) Forecast(ctx context.Context, loc *Location, days int) ([]DayForecast, error) {
	if days < 1 {
		days = 1
	}
	if days > 7 {
		days = 7
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("daily", "temperature_2m_max,temperature_2m_min,weather_code")
	q.Set("temperature_unit", "fahrenheit")
	q.Set("forecast_days", fmt.Sprintf("%d", days))

	var result forecastResponse
	if err := c.getJSON(ctx, c.forecastURL+"?"+q.Encode(), &result); err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", loc.Name, err)
	}

	var out []DayForecast
	for i, date := range result.Daily.Time {
		if i >= len(result.Daily.TempMax) || i >= len(result.Daily.TempMin) || i >= len(result.Daily.WeatherCode) {
			break
		}
		out = append(out, DayForecast{
			Date:      date,
			HighF:     result.Daily.TempMax[i],
			LowF:      result.Daily.TempMin[i],
			Condition: describeWeatherCode(result.Daily.WeatherCode[i]),
		})
	}
	return out, nil
}

// getJSON issues a GET request and decodes the JSON response into v.
func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 1<<20)

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		return fmt.Errorf("API error %d: %s", resp.StatusCode, errBody)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// describeWeatherCode converts a WMO weather code to a short phrase.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear"
	case code == 1:
		return "mostly clear"
	case code == 2:
		return "partly cloudy"
	case code == 3:
		return "overcast"
	case code == 45 || code == 48:
		return "fog"
	case code >= 51 && code <= 57:
		return "drizzle"
	case code >= 61 && code <= 67:
		return "rain"
	case code >= 71 && code <= 77:
		return "snow"
	case code >= 80 && code <= 82:
		return "rain showers"
	case code == 85 || code == 86:
		return "snow showers"
	case code == 95:
		return "thunderstorm"
	case code == 96 || code == 99:
		return "thunderstorm with hail"
	default:
		return fmt.Sprintf("weather code %d", code)
	}
}
