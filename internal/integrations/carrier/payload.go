package carrier

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/BearBump/trackengine/internal/models"
	"github.com/pkg/errors"
)

// stringField reads a string or numeric JSON value; anything else yields "".
func stringField(fields map[string]json.RawMessage, key string) string {
	raw, ok := fields[key]
	if !ok {
		return ""
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if json.Unmarshal(raw, &n) == nil {
		return n.String()
	}
	return ""
}

func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		if v := stringField(fields, k); v != "" {
			return v
		}
	}
	return ""
}

func floatField(fields map[string]json.RawMessage, keys ...string) (float64, bool) {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		var f float64
		if json.Unmarshal(raw, &f) == nil {
			return f, true
		}
		var s string
		if json.Unmarshal(raw, &s) == nil {
			if f, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}

// parseLocation accepts either a plain place name or an address object. Carriers
// disagree on key names, so the common aliases are all accepted.
func parseLocation(raw json.RawMessage) (*models.Location, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	var name string
	if json.Unmarshal(trimmed, &name) == nil {
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, nil
		}
		return &models.Location{Name: name}, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &fields); err != nil {
		return nil, errors.Wrap(err, "decode location")
	}

	addrFields := fields
	if nested, ok := fields["address"]; ok {
		var m map[string]json.RawMessage
		if json.Unmarshal(nested, &m) == nil {
			addrFields = m
		}
	}

	loc := &models.Location{
		Name: firstString(fields, []string{"name", "facility", "locationName"}),
		Address: models.Address{
			Street:  firstString(addrFields, []string{"street", "address1", "streetLines", "streetAddress"}),
			City:    firstString(addrFields, []string{"city", "addressLocality", "eventCity"}),
			State:   firstString(addrFields, []string{"state", "stateProvince", "stateOrProvinceCode", "eventState"}),
			ZipCode: firstString(addrFields, []string{"zipCode", "postalCode", "zip", "eventZIPCode"}),
			Country: firstString(addrFields, []string{"country", "countryCode"}),
		},
	}

	coordFields := fields
	if nested, ok := fields["coordinates"]; ok {
		var m map[string]json.RawMessage
		if json.Unmarshal(nested, &m) == nil {
			coordFields = m
		}
	}
	lat, okLat := floatField(coordFields, "lat", "latitude")
	lon, okLon := floatField(coordFields, "lon", "lng", "longitude")
	if okLat && okLon {
		loc.Coordinates = &models.Coordinates{Lat: lat, Lon: lon}
	}

	if loc.Name == "" {
		parts := make([]string, 0, 3)
		for _, p := range []string{loc.Address.City, loc.Address.State, loc.Address.Country} {
			if p != "" {
				parts = append(parts, p)
			}
		}
		loc.Name = strings.Join(parts, ", ")
	}
	return loc, nil
}
