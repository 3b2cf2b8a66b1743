package geometry

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

var ErrUnsupportedGeometry = errors.New("unsupported geometry")

type ShapeKind int

const (
	ShapePolygon ShapeKind = iota + 1
	ShapeMultiPolygon
)

func (k ShapeKind) String() string {
	switch k {
	case ShapePolygon:
		return "Polygon"
	case ShapeMultiPolygon:
		return "MultiPolygon"
	default:
		return "unknown"
	}
}

// Shape is a planning area outline. Exactly one of Polygon or MultiPolygon
// is set, according to Kind.
type Shape struct {
	Kind         ShapeKind
	Polygon      orb.Polygon
	MultiPolygon orb.MultiPolygon
}

func (s Shape) Geometry() orb.Geometry {
	if s.Kind == ShapeMultiPolygon {
		return s.MultiPolygon
	}
	return s.Polygon
}

func (s Shape) Bound() orb.Bound {
	return s.Geometry().Bound()
}

// Contains reports whether p (lon, lat) lies inside the shape. Holes are
// respected.
func (s Shape) Contains(p orb.Point) bool {
	switch s.Kind {
	case ShapePolygon:
		return planar.PolygonContains(s.Polygon, p)
	case ShapeMultiPolygon:
		return planar.MultiPolygonContains(s.MultiPolygon, p)
	default:
		return false
	}
}

// ParseShape decodes GeoJSON coordinates. geometryType may be empty, in
// which case the encoding is chosen by nesting depth: three levels is a
// Polygon, four a MultiPolygon. Anything else is ErrUnsupportedGeometry.
func ParseShape(geometryType string, coordinates json.RawMessage) (Shape, error) {
	if geometryType == "" {
		depth, err := nestingDepth(coordinates)
		if err != nil {
			return Shape{}, err
		}
		switch depth {
		case 3:
			geometryType = "Polygon"
		case 4:
			geometryType = "MultiPolygon"
		default:
			return Shape{}, fmt.Errorf("%w: coordinate nesting depth %d", ErrUnsupportedGeometry, depth)
		}
	}

	switch geometryType {
	case "Polygon":
		var raw [][][]float64
		if err := json.Unmarshal(coordinates, &raw); err != nil {
			return Shape{}, fmt.Errorf("%w: invalid polygon coordinates: %v", ErrUnsupportedGeometry, err)
		}
		poly, err := toPolygon(raw)
		if err != nil {
			return Shape{}, err
		}
		return Shape{Kind: ShapePolygon, Polygon: poly}, nil

	case "MultiPolygon":
		var raw [][][][]float64
		if err := json.Unmarshal(coordinates, &raw); err != nil {
			return Shape{}, fmt.Errorf("%w: invalid multipolygon coordinates: %v", ErrUnsupportedGeometry, err)
		}
		if len(raw) == 0 {
			return Shape{}, fmt.Errorf("%w: empty multipolygon", ErrUnsupportedGeometry)
		}
		multi := make(orb.MultiPolygon, 0, len(raw))
		for _, p := range raw {
			poly, err := toPolygon(p)
			if err != nil {
				return Shape{}, err
			}
			multi = append(multi, poly)
		}
		return Shape{Kind: ShapeMultiPolygon, MultiPolygon: multi}, nil

	default:
		return Shape{}, fmt.Errorf("%w: %s", ErrUnsupportedGeometry, geometryType)
	}
}

func toPolygon(rings [][][]float64) (orb.Polygon, error) {
	if len(rings) == 0 {
		return nil, fmt.Errorf("%w: polygon without rings", ErrUnsupportedGeometry)
	}
	poly := make(orb.Polygon, 0, len(rings))
	for _, ring := range rings {
		if len(ring) < 4 {
			return nil, fmt.Errorf("%w: ring with %d positions", ErrUnsupportedGeometry, len(ring))
		}
		r := make(orb.Ring, 0, len(ring))
		for _, pos := range ring {
			if len(pos) < 2 {
				return nil, fmt.Errorf("%w: position with %d values", ErrUnsupportedGeometry, len(pos))
			}
			r = append(r, orb.Point{pos[0], pos[1]})
		}
		poly = append(poly, r)
	}
	return poly, nil
}

// nestingDepth counts array levels down to the first number.
func nestingDepth(coordinates json.RawMessage) (int, error) {
	var v any
	if err := json.Unmarshal(coordinates, &v); err != nil {
		return 0, fmt.Errorf("%w: invalid coordinates: %v", ErrUnsupportedGeometry, err)
	}

	depth := 0
	for {
		arr, ok := v.([]any)
		if !ok {
			break
		}
		depth++
		if len(arr) == 0 {
			return 0, fmt.Errorf("%w: empty coordinate array", ErrUnsupportedGeometry)
		}
		v = arr[0]
	}
	if _, ok := v.(float64); !ok {
		return 0, fmt.Errorf("%w: non-numeric coordinates", ErrUnsupportedGeometry)
	}
	return depth, nil
}
