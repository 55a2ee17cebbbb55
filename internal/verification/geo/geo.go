// Package geo validates scan coordinates against the national service region
// and flags impossible travel between successive scans of one certificate.
package geo

import (
	"math"
	"time"

	"skern/internal/platform/config"
	"skern/internal/verification/models"
)

const earthRadiusKm = 6371.0

// Validator applies the geospatial policy.
type Validator struct {
	cfg config.GeoConfig
}

func NewValidator(cfg config.GeoConfig) *Validator {
	return &Validator{cfg: cfg}
}

// InRegion reports whether the fix lies inside the configured bounding region.
func (v *Validator) InRegion(fix models.GPSFix) bool {
	return fix.Lat >= v.cfg.MinLat && fix.Lat <= v.cfg.MaxLat &&
		fix.Lon >= v.cfg.MinLon && fix.Lon <= v.cfg.MaxLon
}

// Check validates the fix against the region and, when the certificate has a
// prior accepted scan, against the impossible-travel ceiling. A zero reason
// means the scan passed.
func (v *Validator) Check(fix models.GPSFix, at time.Time, last *models.ScanOrigin) models.ReasonCode {
	if !v.InRegion(fix) {
		return models.ReasonGeofenceRejected
	}
	if last == nil {
		return ""
	}

	elapsed := at.Sub(last.Timestamp).Hours()
	if elapsed <= 0 {
		// Clock skew or same-instant scans. Distance alone decides: two fixes
		// far apart with no elapsed time cannot both be genuine.
		if haversineKm(fix.Lat, fix.Lon, last.Lat, last.Lon) > 1.0 {
			return models.ReasonImpossibleTravelRejected
		}
		return ""
	}

	distKm := haversineKm(fix.Lat, fix.Lon, last.Lat, last.Lon)
	if distKm/elapsed > v.cfg.MaxSpeedKmh {
		return models.ReasonImpossibleTravelRejected
	}
	return ""
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}
