// Package imu decodes the hex-token frame stream emitted by the six-axis sensor
// board and integrates its angular rates into an orientation estimate.
package imu

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const (
	// FrameSize is the number of byte tokens in one frame.
	FrameSize = 22

	payloadStart = 7
	payloadEnd   = 19
)

var (
	header  = [2]string{"5a", "4a"}
	trailer = [2]string{"aa", "55"}
)

// ErrFormat reports a malformed frame or payload token.
var ErrFormat = errors.New("malformed frame")

// Sample is the content of one frame.
type Sample struct {
	// Accel holds raw acceleration counts.
	Accel [3]int16
	// Rate holds angular rate in degrees per second.
	Rate [3]float64
}

// HexToSigned reassembles two single-byte hex tokens as a big-endian int16.
func HexToSigned(hi, lo string) (int16, error) {
	h, err := parseByte(hi)
	if err != nil {
		return 0, err
	}
	l, err := parseByte(lo)
	if err != nil {
		return 0, err
	}
	return int16(uint16(h)<<8 | uint16(l)), nil
}

func parseByte(token string) (byte, error) {
	if len(token) < 1 || len(token) > 2 {
		return 0, fmt.Errorf("%w: token %q", ErrFormat, token)
	}
	v, err := strconv.ParseUint(token, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: token %q", ErrFormat, token)
	}
	return byte(v), nil
}

// IsHeader reports whether tokens begins with the frame header.
func IsHeader(tokens []string) bool {
	return len(tokens) >= 2 &&
		strings.EqualFold(tokens[0], header[0]) &&
		strings.EqualFold(tokens[1], header[1])
}

// Decode parses exactly one frame.
func Decode(tokens []string) (Sample, error) {
	var s Sample
	if len(tokens) != FrameSize {
		return s, fmt.Errorf("%w: got %d tokens, want %d", ErrFormat, len(tokens), FrameSize)
	}
	if !IsHeader(tokens) ||
		!strings.EqualFold(tokens[FrameSize-2], trailer[0]) ||
		!strings.EqualFold(tokens[FrameSize-1], trailer[1]) {
		return s, fmt.Errorf("%w: bad header or trailer", ErrFormat)
	}
	payload := tokens[payloadStart:payloadEnd]
	var fields [6]int16
	for i := range fields {
		v, err := HexToSigned(payload[2*i], payload[2*i+1])
		if err != nil {
			return s, err
		}
		fields[i] = v
	}
	for i := 0; i < 3; i++ {
		s.Accel[i] = fields[i]
		s.Rate[i] = float64(fields[3+i]) / 1000.0
	}
	return s, nil
}

// Encode renders s as a frame. Rates are rounded to the nearest thousandth of a
// degree per second and saturate at the int16 range of the wire format, about
// ±32.767°/s; bytes outside the payload are zero.
func Encode(s Sample) []string {
	tokens := make([]string, FrameSize)
	for i := range tokens {
		tokens[i] = "00"
	}
	tokens[0], tokens[1] = header[0], header[1]
	tokens[FrameSize-2], tokens[FrameSize-1] = trailer[0], trailer[1]
	put := func(i int, v int16) {
		u := uint16(v)
		tokens[payloadStart+2*i] = fmt.Sprintf("%02x", u>>8)
		tokens[payloadStart+2*i+1] = fmt.Sprintf("%02x", u&0xff)
	}
	for i := 0; i < 3; i++ {
		put(i, s.Accel[i])
		put(3+i, rateMilli(s.Rate[i]))
	}
	return tokens
}

func rateMilli(rate float64) int16 {
	v := math.Round(rate * 1000)
	switch {
	case math.IsNaN(v):
		return 0
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}
