package rotator

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Equatorial is a sky position together with the observer and time needed to find it
// in the local sky.
type Equatorial struct {
	// RightAscension is in hours.
	RightAscension float64
	Declination    float64
	// Latitude and Longitude locate the observer, longitude positive east.
	Latitude  float64
	Longitude float64
	Time      time.Time
}

// equhor converts between azimuth/altitude and hour-angle/declination.
// Phi is the observer's latitude
// Arguments are in radians
// Algorithm from https://metacpan.org/dist/Astro-Montenbruck/source/lib/Astro/Montenbruck/CoCo.pm
func equhor_rad(x, y, phi float64) (float64, float64) {
	sx, sy, sphi := math.Sin(x), math.Sin(y), math.Sin(phi)
	cx, cy, cphi := math.Cos(x), math.Cos(y), math.Cos(phi)

	sq := (sy * sphi) + (cy * cphi * cx)
	q := math.Asin(math.Max(-1, math.Min(1, sq)))

	cp := (sy - (sphi * sq)) / (cphi * math.Cos(q))
	if math.IsNaN(cp) || math.IsInf(cp, 0) {
		// Zenith (or a pole observer); azimuth is undefined.
		cp = 1
	}
	p := math.Acos(math.Max(-1, math.Min(1, cp)))
	if sx > 0 {
		p = 2*math.Pi - p
	}
	return p, q
}

func deg2rad(x float64) float64 {
	return x * math.Pi / 180
}

func rad2deg(x float64) float64 {
	return x * 180 / math.Pi
}

func equhor_deg(x, y, phi float64) (float64, float64) {
	x, y, phi = deg2rad(x), deg2rad(y), deg2rad(phi)
	p, q := equhor_rad(x, y, phi)
	return rad2deg(p), rad2deg(q)
}

// LocalSiderealTime returns the local mean sidereal time in degrees for the given
// longitude (east positive).
func LocalSiderealTime(t time.Time, longitude float64) float64 {
	t = t.UTC()
	jd := satellite.JDay(t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second())
	jd += float64(t.Nanosecond()) / float64(time.Second) / 86400
	return WrapAzimuth(rad2deg(satellite.ThetaG_JD(jd)) + longitude)
}

// EquatorialToHorizontal returns the azimuth (from north, through east) and altitude of
// eq as seen by its observer. The altitude is not clamped to the mount limits.
//
// The hour angle comes from mean sidereal time. No precession, nutation or refraction
// is applied, so J2000 catalogue coordinates land within a fraction of a degree of the
// true position, inside the controller's one degree band.
func EquatorialToHorizontal(eq Equatorial) Orientation {
	ha := LocalSiderealTime(eq.Time, eq.Longitude) - eq.RightAscension*15
	az, alt := equhor_deg(ha, eq.Declination, eq.Latitude)
	return Orientation{Azimuth: WrapAzimuth(az), Altitude: alt}
}
