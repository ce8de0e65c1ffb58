package sensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHeartRateMeasurement_Uint8(t *testing.T) {
	bpm, err := ParseHeartRateMeasurement([]byte{0x00, 142})
	require.NoError(t, err)
	assert.Equal(t, 142, bpm)
}

func TestParseHeartRateMeasurement_Uint16(t *testing.T) {
	// flag bit 0 set, value 0x0120 = 288 (test value, not physiological)
	bpm, err := ParseHeartRateMeasurement([]byte{0x01, 0x20, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 288, bpm)
}

func TestParseHeartRateMeasurement_TooShort(t *testing.T) {
	_, err := ParseHeartRateMeasurement([]byte{0x00})
	assert.Error(t, err)

	_, err = ParseHeartRateMeasurement([]byte{0x01, 0x20})
	assert.Error(t, err)
}

func TestParseRSCMeasurement_SpeedCadenceOnly(t *testing.T) {
	// speed 768/256 = 3.0 m/s, cadence 170
	m, err := ParseRSCMeasurement([]byte{0x00, 0x00, 0x03, 170})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.SpeedMPS, 1e-9)
	assert.Equal(t, 170, m.CadenceSPM)
	assert.False(t, m.HasStrideLength)
	assert.False(t, m.HasTotalDistance)
}

func TestParseRSCMeasurement_AllFields(t *testing.T) {
	buf := []byte{
		0x03,       // stride length + total distance present
		0x00, 0x03, // speed 3.0 m/s
		160,        // cadence
		0x78, 0x00, // stride length 120 -> 1.20 m
		0x10, 0x27, 0x00, 0x00, // total distance 10000 -> 1000.0 m
	}
	m, err := ParseRSCMeasurement(buf)
	require.NoError(t, err)
	assert.InDelta(t, 3.0, m.SpeedMPS, 1e-9)
	assert.Equal(t, 160, m.CadenceSPM)
	require.True(t, m.HasStrideLength)
	assert.InDelta(t, 1.20, m.StrideLengthM, 1e-9)
	require.True(t, m.HasTotalDistance)
	assert.InDelta(t, 1000.0, m.TotalDistanceM, 1e-9)
}

func TestParseRSCMeasurement_TooShort(t *testing.T) {
	_, err := ParseRSCMeasurement([]byte{0x00, 0x00, 0x03})
	assert.Error(t, err)

	// claims stride length but truncated
	_, err = ParseRSCMeasurement([]byte{0x01, 0x00, 0x03, 160, 0x78})
	assert.Error(t, err)

	// claims total distance but truncated
	_, err = ParseRSCMeasurement([]byte{0x02, 0x00, 0x03, 160, 0x10, 0x27})
	assert.Error(t, err)
}
