package geometry

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"
	"github.com/sirupsen/logrus"

	"hdbresale/server/config"
)

var ErrInvalidBoundaries = errors.New("invalid boundary document")

// Boundary is one named planning area.
type Boundary struct {
	Name  string
	Shape Shape
}

type rawFeature struct {
	Properties map[string]any `json:"properties"`
	Geometry   *rawGeometry   `json:"geometry"`
}

type rawGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

var descriptionName = regexp.MustCompile(`(?is)<th>\s*PLN_AREA_N\s*</th>\s*<td>\s*([^<]*?)\s*</td>`)

// ParseBoundaries reads planning area outlines from either a GeoJSON
// FeatureCollection or an object keyed by area name whose values are
// coordinate arrays or geometry objects. Input order is kept. Features that
// cannot be decoded are logged and skipped.
func ParseBoundaries(data []byte, logger *logrus.Logger) ([]Boundary, error) {
	if logger == nil {
		logger = logrus.New()
	}

	var head struct {
		Type     string            `json:"type"`
		Features []json.RawMessage `json:"features"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoundaries, err)
	}

	if head.Type == "FeatureCollection" {
		return parseFeatureCollection(head.Features, logger), nil
	}
	return parseKeyed(data, logger)
}

func parseFeatureCollection(features []json.RawMessage, logger *logrus.Logger) []Boundary {
	boundaries := make([]Boundary, 0, len(features))
	for i, raw := range features {
		var feature rawFeature
		if err := json.Unmarshal(raw, &feature); err != nil {
			logger.WithError(err).WithField("feature", i).Warn("Skipping malformed boundary feature")
			continue
		}

		name := featureName(feature.Properties)
		if name == "" {
			logger.WithField("feature", i).Warn("Skipping boundary feature without a name")
			continue
		}
		if feature.Geometry == nil {
			logger.WithField("planning_area", name).Warn("Skipping boundary feature without geometry")
			continue
		}

		shape, err := ParseShape(feature.Geometry.Type, feature.Geometry.Coordinates)
		if err != nil {
			logger.WithError(err).WithField("planning_area", name).Warn("Skipping boundary feature")
			continue
		}
		boundaries = append(boundaries, Boundary{Name: name, Shape: shape})
	}
	return boundaries
}

func parseKeyed(data []byte, logger *logrus.Logger) ([]Boundary, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBoundaries, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, fmt.Errorf("%w: expected an object", ErrInvalidBoundaries)
	}

	var boundaries []Boundary
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBoundaries, err)
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidBoundaries, err)
		}

		name := config.NormalizeTown(key)
		shape, err := parseKeyedValue(value)
		if err != nil {
			logger.WithError(err).WithField("planning_area", name).Warn("Skipping boundary entry")
			continue
		}
		boundaries = append(boundaries, Boundary{Name: name, Shape: shape})
	}
	return boundaries, nil
}

func parseKeyedValue(value json.RawMessage) (Shape, error) {
	trimmed := bytes.TrimSpace(value)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var geometry rawGeometry
		if err := json.Unmarshal(trimmed, &geometry); err != nil {
			return Shape{}, fmt.Errorf("%w: %v", ErrUnsupportedGeometry, err)
		}
		if geometry.Type == "" {
			return Shape{}, fmt.Errorf("%w: geometry without type", ErrUnsupportedGeometry)
		}
		return ParseShape(geometry.Type, geometry.Coordinates)
	}
	return ParseShape("", trimmed)
}

func featureName(props map[string]any) string {
	for _, key := range []string{"name", "Name", "PLN_AREA_N"} {
		if v, ok := props[key].(string); ok && strings.TrimSpace(v) != "" {
			return config.NormalizeTown(v)
		}
	}
	if desc, ok := props["Description"].(string); ok {
		if m := descriptionName.FindStringSubmatch(desc); m != nil && m[1] != "" {
			return config.NormalizeTown(m[1])
		}
	}
	return ""
}

// LoadBoundariesFile parses the boundary document at path.
func LoadBoundariesFile(path string, logger *logrus.Logger) ([]Boundary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read boundaries: %w", err)
	}
	return ParseBoundaries(data, logger)
}

// FeatureCollection renders boundaries as GeoJSON for the map layer.
func FeatureCollection(boundaries []Boundary) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, b := range boundaries {
		feature := geojson.NewFeature(b.Shape.Geometry())
		feature.Properties = geojson.Properties{
			"name":          b.Name,
			"geometry_type": b.Shape.Kind.String(),
		}
		fc.Append(feature)
	}
	return fc
}

// SaveBoundaries writes boundaries to path as a FeatureCollection so later
// runs can skip the download.
func SaveBoundaries(path string, boundaries []Boundary, logger *logrus.Logger) error {
	if logger == nil {
		logger = logrus.New()
	}

	fc := FeatureCollection(boundaries)
	fc.ExtraMembers = geojson.Properties{
		"metadata": map[string]interface{}{
			"generated":      time.Now().Format(time.RFC3339),
			"description":    "Master plan planning area boundaries",
			"planning_areas": len(fc.Features),
		},
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create boundaries directory: %w", err)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create boundaries file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(fc); err != nil {
		return fmt.Errorf("failed to encode GeoJSON: %w", err)
	}

	logger.Infof("Saved %d planning area boundaries to %s", len(fc.Features), path)
	return nil
}
