package model

import (
	"fmt"
	"math"
)

// Class labels used throughout the pipeline.
const (
	LabelBackground = 0
	LabelPresence   = 1
)

// NoFold marks a point that has not been assigned to a cross-validation fold.
const NoFold = -1

// GeoPoint is a labelled geographic observation. Identity is positional within
// a collection; Key is only used to de-duplicate rows during proximity joins.
type GeoPoint struct {
	Key       string             `json:"key"`
	Latitude  float64            `json:"latitude"`
	Longitude float64            `json:"longitude"`
	Label     int                `json:"label"`
	Features  map[string]float64 `json:"features,omitempty"`
	Fold      int                `json:"fold"`
}

// NewPoint returns an unassigned point with no covariates.
func NewPoint(key string, lat, lon float64, label int) GeoPoint {
	return GeoPoint{Key: key, Latitude: lat, Longitude: lon, Label: label, Fold: NoFold}
}

// Valid reports whether the coordinates are finite and inside the WGS84 range.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// Feature returns the named covariate, or NaN when it has not been populated.
func (p GeoPoint) Feature(name string) float64 {
	v, ok := p.Features[name]
	if !ok {
		return math.NaN()
	}
	return v
}

// WithFeature returns a copy of p with the covariate set. The feature map is
// copied so the receiver is never mutated.
func (p GeoPoint) WithFeature(name string, v float64) GeoPoint {
	features := make(map[string]float64, len(p.Features)+1)
	for k, fv := range p.Features {
		features[k] = fv
	}
	features[name] = v
	p.Features = features
	return p
}

func (p GeoPoint) String() string {
	return fmt.Sprintf("%s(%.5f, %.5f, label=%d)", p.Key, p.Latitude, p.Longitude, p.Label)
}
