package rotator

import (
	"math"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestWrapAzimuth(t *testing.T) {
	for _, a := range []float64{0, 0.5, 1, 45.25, 90, 180, 270.5, 359, 359.75} {
		if got := WrapAzimuth(a + 360); got != a {
			t.Errorf("WrapAzimuth(%v+360) = %v, want %v", a, got, a)
		}
		if got := WrapAzimuth(a - 360); got != a {
			t.Errorf("WrapAzimuth(%v-360) = %v, want %v", a, got, a)
		}
		if got := WrapAzimuth(a); got != a {
			t.Errorf("WrapAzimuth(%v) = %v", a, got)
		}
	}
	for _, test := range []struct {
		in, want float64
	}{
		{360, 0},
		{720, 0},
		{-90, 270},
		{-720.5, 359.5},
		{-1e-18, 0},
	} {
		if got := WrapAzimuth(test.in); got != test.want {
			t.Errorf("WrapAzimuth(%v) = %v, want %v", test.in, got, test.want)
		}
	}
}

func TestNormalize(t *testing.T) {
	for _, test := range []struct {
		in, want Orientation
	}{
		{Orientation{370, 95}, Orientation{10, 90}},
		{Orientation{-10, 0}, Orientation{350, 20}},
		{Orientation{180, 45}, Orientation{180, 45}},
	} {
		if diff := cmp.Diff(test.want, test.in.Normalize()); diff != "" {
			t.Errorf("Normalize(%+v): got(-)/want(+):\n%s", test.in, diff)
		}
	}
	if AltitudeInRange(95) || AltitudeInRange(19.9) || !AltitudeInRange(20) || !AltitudeInRange(90) {
		t.Error("AltitudeInRange boundaries")
	}
}

func TestCommandLine(t *testing.T) {
	for _, test := range []struct {
		cmd  Command
		want string
	}{
		{StopCommand, "AZ0EL0\n"},
		{Command{Clockwise, Raise}, "AZ1EL1\n"},
		{Command{CounterClockwise, Lower}, "AZ2EL2\n"},
		{Command{Stop, Raise}, "AZ0EL1\n"},
		{Command{Clockwise, Hold}, "AZ1\n"},
	} {
		if got := string(test.cmd.Line()); got != test.want {
			t.Errorf("%+v.Line() = %q, want %q", test.cmd, got, test.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	for _, test := range []struct {
		input   string
		want    Command
		wantErr bool
	}{
		{"AZ1EL2\n", Command{Clockwise, Lower}, false},
		{"  AZ0EL0", StopCommand, false},
		{"EL1", Command{Hold, Raise}, false},
		{"AZ2", Command{CounterClockwise, Hold}, false},
		{"AZ9EL0", Command{}, true},
		{"AZ", Command{}, true},
		{"hello", Command{}, true},
	} {
		t.Run(test.input, func(t *testing.T) {
			got, err := ParseCommand(test.input)
			if (err != nil) != test.wantErr {
				t.Fatalf("ParseCommand(%q) error = %v, wantErr %v", test.input, err, test.wantErr)
			}
			if diff := cmp.Diff(test.want, got); diff != "" {
				t.Errorf("unexpected command: got(-)/want(+):\n%s", diff)
			}
		})
	}
}

func TestEquhor(t *testing.T) {
	const lat = 40.0
	for _, test := range []struct {
		name            string
		ha, dec         float64
		wantAz, wantAlt float64
	}{
		{"meridian south", 0, 10, 180, 60},
		{"meridian north", 0, 70, 0, 60},
		{"zenith", 0, lat, math.NaN(), 90},
		{"south pole", 0, -90, 180, -lat},
	} {
		t.Run(test.name, func(t *testing.T) {
			az, alt := equhor_deg(test.ha, test.dec, lat)
			az = WrapAzimuth(az)
			if math.Abs(alt-test.wantAlt) > 1e-4 {
				t.Errorf("alt = %v, want %v", alt, test.wantAlt)
			}
			if math.IsNaN(test.wantAz) {
				return
			}
			if d := math.Abs(math.Remainder(az-test.wantAz, 360)); d > 1e-4 {
				t.Errorf("az = %v, want %v", az, test.wantAz)
			}
		})
	}
	// A star west of the meridian has an azimuth past south.
	if az, _ := equhor_deg(30, 10, lat); az <= 180 {
		t.Errorf("western hour angle gave az %v", az)
	}
}

func TestEquatorialToHorizontal(t *testing.T) {
	when := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	const lat, lon = 39.9075, 116.3912

	pole := EquatorialToHorizontal(Equatorial{RightAscension: 0, Declination: 90, Latitude: lat, Longitude: lon, Time: when})
	if math.Abs(pole.Altitude-lat) > 1e-6 {
		t.Errorf("pole altitude = %v, want %v", pole.Altitude, lat)
	}
	if pole.Azimuth > 1e-3 && pole.Azimuth < 360-1e-3 {
		t.Errorf("pole azimuth = %v, want north", pole.Azimuth)
	}

	// A star on the local meridian transits due south.
	lst := LocalSiderealTime(when, lon)
	transit := EquatorialToHorizontal(Equatorial{RightAscension: lst / 15, Declination: 0, Latitude: lat, Longitude: lon, Time: when})
	if math.Abs(transit.Azimuth-180) > 1e-4 || math.Abs(transit.Altitude-(90-lat)) > 1e-4 {
		t.Errorf("transit = %+v, want az 180 alt %v", transit, 90-lat)
	}

	for _, ra := range []float64{0, 2.53, 6.75, 12, 18.62, 23.9} {
		got := EquatorialToHorizontal(Equatorial{RightAscension: ra, Declination: 38.78, Latitude: lat, Longitude: lon, Time: when})
		if got.Azimuth < 0 || got.Azimuth >= 360 || got.Altitude < -90 || got.Altitude > 90 {
			t.Errorf("ra %v: out of range %+v", ra, got)
		}
	}
}

func TestLocalSiderealTimeIsMean(t *testing.T) {
	// Greenwich mean sidereal time at the J2000 epoch is 280.46061837°; apparent
	// sidereal time differs from it by the equation of the equinoxes.
	got := LocalSiderealTime(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), 0)
	if math.Abs(got-280.46061837) > 1e-3 {
		t.Errorf("GMST at J2000 = %v, want 280.46061837", got)
	}
	if got := LocalSiderealTime(time.Date(2000, 1, 1, 12, 0, 0, 0, time.UTC), -90); math.Abs(got-190.46061837) > 1e-3 {
		t.Errorf("LST at 90°W = %v, want 190.46061837", got)
	}
}

type readySource struct {
	ready bool
}

func (readySource) Attitude() Orientation { return Orientation{} }
func (readySource) ProcessCommand(Command) {}
func (r readySource) Ready() bool { return r.ready }

func TestReady(t *testing.T) {
	if !Ready(nil) {
		t.Error("Ready(nil) = false, want true")
	}
	if Ready(readySource{}) {
		t.Error("Ready(warming source) = true")
	}
	if !Ready(readySource{ready: true}) {
		t.Error("Ready(warm source) = false")
	}
}

func TestLocalSiderealTimeAdvances(t *testing.T) {
	when := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)
	a := LocalSiderealTime(when, 0)
	b := LocalSiderealTime(when.Add(time.Hour), 0)
	// One solar hour is slightly more than 15 sidereal degrees.
	d := WrapAzimuth(b - a)
	if d < 15 || d > 15.1 {
		t.Errorf("sidereal advance over one hour = %v", d)
	}
}
