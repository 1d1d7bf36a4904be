package weather

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nimbuslabs/nimbus/internal/tools"
)

// RegisterTools adds the weather tools to a registry. Registration
// errors indicate a broken tool definition and are fatal at startup.
func RegisterTools(reg *tools.Registry, c *Client) error {
	defs := []*tools.Tool{
		{
			Name:        "get_weather",
			Description: "Get the current weather for a location. Returns temperature (Fahrenheit), conditions, wind, and humidity.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "City or place name, e.g. Springfield or Portland, OR",
					},
				},
				"required": []string{"location"},
			},
			Handler: c.handleGetWeather,
		},
		{
			Name:        "get_forecast",
			Description: "Get a daily weather forecast for a location, up to 7 days out.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "City or place name",
					},
					"days": map[string]any{
						"type":        "integer",
						"description": "Number of days to forecast (1-7, default 3)",
					},
				},
				"required": []string{"location"},
			},
			Handler: c.handleGetForecast,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Name, err)
		}
	}
	return nil
}

func (c *Client) handleGetWeather(ctx context.Context, args map[string]any) (string, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	loc, err := c.Geocode(ctx, location)
	if err != nil {
		return "", err
	}

	cond, err := c.Current(ctx, loc)
	if err != nil {
		return "", err
	}

	c.logger.Debug("weather lookup",
		"location", loc.Name,
		"temperature", cond.TemperatureF,
		"condition", cond.Condition,
	)

	out := map[string]any{
		"location":    formatPlace(loc),
		"temperature": cond.TemperatureF,
		"condition":   cond.Condition,
		"wind_mph":    cond.WindMPH,
		"humidity":    cond.HumidityPct,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (c *Client) handleGetForecast(ctx context.Context, args map[string]any) (string, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	days := 3
	if d, ok := args["days"].(float64); ok {
		days = int(d)
	}

	loc, err := c.Geocode(ctx, location)
	if err != nil {
		return "", err
	}

	forecast, err := c.Forecast(ctx, loc, days)
	if err != nil {
		return "", err
	}

	out := map[string]any{
		"location": formatPlace(loc),
		"forecast": forecast,
	}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// formatPlace renders a location as "Name, Admin1" when the region is known.
func formatPlace(loc *Location) string {
	if loc.Admin1 != "" {
		return loc.Name + ", " + loc.Admin1
	}
	return loc.Name
}
