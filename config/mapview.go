package config

// MapView positions the planning area map when the dashboard opens.
type MapView struct {
	Name      string    `json:"name"`
	Center    []float64 `json:"center"`
	ZoomLevel int       `json:"zoom_level"`
}

// DefaultMapView frames the whole island.
var DefaultMapView = MapView{
	Name:      "singapore",
	Center:    []float64{1.3521, 103.8198},
	ZoomLevel: 11,
}

// Valid reports whether the view has a usable lat/lon centre and zoom.
func (v MapView) Valid() bool {
	if len(v.Center) != 2 {
		return false
	}
	lat, lon := v.Center[0], v.Center[1]
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180 && v.ZoomLevel > 0
}

// ViewOrDefault returns v, or DefaultMapView when v is unusable.
func (v MapView) ViewOrDefault() MapView {
	if v.Valid() {
		return v
	}
	return DefaultMapView
}
