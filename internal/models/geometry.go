package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrEmptyGeometry is returned when a geometry payload carries no coordinates.
var ErrEmptyGeometry = errors.New("empty geometry")

// Point is a WGS84 position.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// BBox is an axis-aligned bounding box in WGS84.
type BBox struct {
	MinLat float64 `json:"minLat"`
	MinLng float64 `json:"minLng"`
	MaxLat float64 `json:"maxLat"`
	MaxLng float64 `json:"maxLng"`
}

// IsZero reports whether the box was never set.
func (b BBox) IsZero() bool {
	return b == BBox{}
}

// Polygon represents a GeoJSON Polygon.
// It stores coordinates in GeoJSON order: [rings][points][lon,lat]
// SRID 4326 (WGS84) is assumed.
type Polygon struct {
	Coordinates [][][2]float64
	SRID        int
}

// MarshalJSON emits a GeoJSON Polygon object.
func (p Polygon) MarshalJSON() ([]byte, error) {
	geom := struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}{
		Type:        "Polygon",
		Coordinates: p.Coordinates,
	}
	return json.Marshal(geom)
}

// UnmarshalJSON parses a GeoJSON Polygon. A missing type is accepted.
func (p *Polygon) UnmarshalJSON(data []byte) error {
	var geom struct {
		Type        string         `json:"type"`
		Coordinates [][][2]float64 `json:"coordinates"`
	}

	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal polygon: %w", err)
	}

	if geom.Type != "" && geom.Type != "Polygon" {
		return fmt.Errorf("expected Polygon type, got %s", geom.Type)
	}

	p.Coordinates = geom.Coordinates
	p.SRID = 4326

	return nil
}

// MultiPolygon represents a GeoJSON MultiPolygon.
// It stores coordinates in GeoJSON order: [polygons][rings][points][lon,lat]
// Parcels made of several detached pieces use this shape.
type MultiPolygon struct {
	Coordinates [][][][2]float64
	SRID        int
}

// MarshalJSON emits a GeoJSON MultiPolygon object.
func (mp MultiPolygon) MarshalJSON() ([]byte, error) {
	geom := struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}{
		Type:        "MultiPolygon",
		Coordinates: mp.Coordinates,
	}
	return json.Marshal(geom)
}

// UnmarshalJSON parses a GeoJSON MultiPolygon. A missing type is accepted.
func (mp *MultiPolygon) UnmarshalJSON(data []byte) error {
	var geom struct {
		Type        string           `json:"type"`
		Coordinates [][][][2]float64 `json:"coordinates"`
	}

	if err := json.Unmarshal(data, &geom); err != nil {
		return fmt.Errorf("failed to unmarshal multipolygon: %w", err)
	}

	if geom.Type != "" && geom.Type != "MultiPolygon" {
		return fmt.Errorf("expected MultiPolygon type, got %s", geom.Type)
	}

	mp.Coordinates = geom.Coordinates
	mp.SRID = 4326

	return nil
}

// Boundary is a parcel outline: exactly one of Polygon or MultiPolygon is set.
type Boundary struct {
	Polygon      *Polygon
	MultiPolygon *MultiPolygon
}

// MarshalJSON emits the set member as GeoJSON, or null.
func (b Boundary) MarshalJSON() ([]byte, error) {
	switch {
	case b.MultiPolygon != nil:
		return json.Marshal(b.MultiPolygon)
	case b.Polygon != nil:
		return json.Marshal(b.Polygon)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON dispatches on the GeoJSON type member.
func (b *Boundary) UnmarshalJSON(data []byte) error {
	parsed, err := ParseBoundary(data)
	if err != nil {
		return err
	}
	if parsed == nil {
		*b = Boundary{}
		return nil
	}
	*b = *parsed
	return nil
}

// ParseBoundary parses a GeoJSON Polygon or MultiPolygon. The remote store
// sometimes holds geometry as a JSON-encoded string; that form is unwrapped
// first. A null or empty payload returns nil, nil.
func ParseBoundary(raw []byte) (*Boundary, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	if raw[0] == '"' {
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("failed to unwrap string geometry: %w", err)
		}
		return ParseBoundary([]byte(encoded))
	}

	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("failed to read geometry type: %w", err)
	}

	switch head.Type {
	case "Polygon":
		var p Polygon
		if err := json.Unmarshal(raw, &p); err != nil {
			return nil, err
		}
		if len(p.Coordinates) == 0 {
			return nil, ErrEmptyGeometry
		}
		return &Boundary{Polygon: &p}, nil
	case "MultiPolygon":
		var mp MultiPolygon
		if err := json.Unmarshal(raw, &mp); err != nil {
			return nil, err
		}
		if len(mp.Coordinates) == 0 {
			return nil, ErrEmptyGeometry
		}
		return &Boundary{MultiPolygon: &mp}, nil
	default:
		return nil, fmt.Errorf("unsupported geometry type %q", head.Type)
	}
}

// outerRings returns the exterior ring of every member polygon.
func (b Boundary) outerRings() [][][2]float64 {
	var rings [][][2]float64
	if b.Polygon != nil && len(b.Polygon.Coordinates) > 0 {
		rings = append(rings, b.Polygon.Coordinates[0])
	}
	if b.MultiPolygon != nil {
		for _, poly := range b.MultiPolygon.Coordinates {
			if len(poly) > 0 {
				rings = append(rings, poly[0])
			}
		}
	}
	return rings
}

// BBox computes the bounding box of the outer rings.
func (b Boundary) BBox() BBox {
	var box BBox
	first := true
	for _, ring := range b.outerRings() {
		for _, pt := range ring {
			lng, lat := pt[0], pt[1]
			if first {
				box = BBox{MinLat: lat, MinLng: lng, MaxLat: lat, MaxLng: lng}
				first = false
				continue
			}
			box.MinLat = min(box.MinLat, lat)
			box.MinLng = min(box.MinLng, lng)
			box.MaxLat = max(box.MaxLat, lat)
			box.MaxLng = max(box.MaxLng, lng)
		}
	}
	return box
}

// Centroid is the vertex average of the outer rings, skipping each ring's
// closing point. Good enough to drop a map pin; not an area centroid.
func (b Boundary) Centroid() (Point, bool) {
	var sumLat, sumLng float64
	n := 0
	for _, ring := range b.outerRings() {
		pts := ring
		if len(pts) > 1 && pts[0] == pts[len(pts)-1] {
			pts = pts[:len(pts)-1]
		}
		for _, pt := range pts {
			sumLng += pt[0]
			sumLat += pt[1]
			n++
		}
	}
	if n == 0 {
		return Point{}, false
	}
	return Point{Lat: sumLat / float64(n), Lng: sumLng / float64(n)}, true
}
