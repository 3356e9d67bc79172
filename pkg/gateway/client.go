package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/wisbric/tajine/pkg/endpoint"
	"github.com/wisbric/tajine/pkg/fieldset"
)

// DefaultTimeout bounds one outbound provider call; the in-flight request is
// cancelled when it elapses.
const DefaultTimeout = 10 * time.Second

// Client performs the outbound HTTPS calls to the places provider.
type Client struct {
	httpClient *http.Client
	baseURL    string
	timeout    time.Duration
}

// NewClient creates a provider Client. A nil httpClient selects
// http.DefaultClient; timeout <= 0 selects the default.
func NewClient(httpClient *http.Client, baseURL string, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{httpClient: httpClient, baseURL: baseURL, timeout: timeout}
}

// latLng is the provider's coordinate shape.
type latLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type circle struct {
	Center latLng  `json:"center"`
	Radius float64 `json:"radius"`
}

type rectangle struct {
	Low  latLng `json:"low"`
	High latLng `json:"high"`
}

// textSearchBody is the places:searchText request payload.
type textSearchBody struct {
	TextQuery           string `json:"textQuery"`
	LanguageCode        string `json:"languageCode"`
	RegionCode          string `json:"regionCode"`
	LocationBias        *struct {
		Circle circle `json:"circle"`
	} `json:"locationBias,omitempty"`
	LocationRestriction *struct {
		Rectangle rectangle `json:"rectangle"`
	} `json:"locationRestriction,omitempty"`
}

// autocompleteBody is the places:autocomplete request payload. The session
// token rides in the body here, never in a header.
type autocompleteBody struct {
	Input                string   `json:"input"`
	LanguageCode         string   `json:"languageCode"`
	RegionCode           string   `json:"regionCode"`
	SessionToken         string   `json:"sessionToken,omitempty"`
	IncludedPrimaryTypes []string `json:"includedPrimaryTypes"`
	LocationBias         *struct {
		Circle circle `json:"circle"`
	} `json:"locationBias,omitempty"`
}

// defaultAutocompleteTypes biases autocomplete toward food places.
var defaultAutocompleteTypes = []string{"restaurant", "cafe", "bakery", "food"}

// Do executes one provider call and returns the HTTP status with the raw
// response body. Transport-level failures come back as errors; non-2xx
// statuses do not.
func (c *Client) Do(ctx context.Context, apiKey string, fs fieldset.FieldSet, class endpoint.Class, p Params) (int, []byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(ctx, class, p)
	if err != nil {
		return 0, nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Goog-Api-Key", apiKey)
	req.Header.Set("X-Goog-FieldMask", fs.Mask)
	if p.SessionToken != "" && class != endpoint.Autocomplete {
		req.Header.Set("X-Goog-Session-Token", p.SessionToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading provider response: %w", err)
	}
	return resp.StatusCode, body, nil
}

// buildRequest assembles the endpoint-family-specific request.
func (c *Client) buildRequest(ctx context.Context, class endpoint.Class, p Params) (*http.Request, error) {
	switch class {
	case endpoint.PlaceDetails:
		u := fmt.Sprintf("%s/places/%s?languageCode=%s&regionCode=%s",
			c.baseURL, url.PathEscape(p.PlaceID), url.QueryEscape(p.Language), url.QueryEscape(p.RegionCode))
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)

	case endpoint.TextSearch:
		body := textSearchBody{
			TextQuery:    p.Query,
			LanguageCode: p.Language,
			RegionCode:   p.RegionCode,
		}
		if p.Bias != nil {
			body.LocationBias = &struct {
				Circle circle `json:"circle"`
			}{Circle: circle{
				Center: latLng{Latitude: p.Bias.Lat, Longitude: p.Bias.Lng},
				Radius: p.Bias.RadiusMeters,
			}}
		}
		if p.Restriction != nil {
			body.LocationRestriction = &struct {
				Rectangle rectangle `json:"rectangle"`
			}{Rectangle: rectangle{
				Low:  latLng{Latitude: p.Restriction.South, Longitude: p.Restriction.West},
				High: latLng{Latitude: p.Restriction.North, Longitude: p.Restriction.East},
			}}
		}
		return c.postJSON(ctx, "/places:searchText", body)

	case endpoint.Autocomplete:
		types := p.IncludedTypes
		if len(types) == 0 {
			types = defaultAutocompleteTypes
		}
		body := autocompleteBody{
			Input:                p.Input,
			LanguageCode:         p.Language,
			RegionCode:           p.RegionCode,
			SessionToken:         p.SessionToken,
			IncludedPrimaryTypes: types,
		}
		if p.Bias != nil {
			body.LocationBias = &struct {
				Circle circle `json:"circle"`
			}{Circle: circle{
				Center: latLng{Latitude: p.Bias.Lat, Longitude: p.Bias.Lng},
				Radius: p.Bias.RadiusMeters,
			}}
		}
		return c.postJSON(ctx, "/places:autocomplete", body)

	default:
		return nil, fmt.Errorf("endpoint class %s has no outbound mapping", class)
	}
}

func (c *Client) postJSON(ctx context.Context, path string, body any) (*http.Request, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding provider request: %w", err)
	}
	return http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
}

// extractPlaceIDs pulls provider place IDs out of a text-search response.
// Entries expose either a "places/{id}" resource name or a bare id.
func extractPlaceIDs(body []byte) []string {
	var resp struct {
		Places []struct {
			Name string `json:"name"`
			ID   string `json:"id"`
		} `json:"places"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil
	}

	ids := make([]string, 0, len(resp.Places))
	for _, pl := range resp.Places {
		const prefix = "places/"
		switch {
		case len(pl.Name) > len(prefix) && pl.Name[:len(prefix)] == prefix:
			ids = append(ids, pl.Name[len(prefix):])
		case pl.ID != "":
			ids = append(ids, pl.ID)
		}
	}
	return ids
}
