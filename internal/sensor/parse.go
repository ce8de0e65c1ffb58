package sensor

import "fmt"

// Bluetooth service and characteristic UUIDs for running sensors
const (
	// Heart Rate Service
	ServiceUUIDHeartRate         = "0000180d-0000-1000-8000-00805f9b34fb"
	CharUUIDHeartRateMeasurement = "00002a37-0000-1000-8000-00805f9b34fb"

	// Running Speed and Cadence Service (RSC)
	ServiceUUIDRunningSpeedCadence = "00001814-0000-1000-8000-00805f9b34fb"
	CharUUIDRSCMeasurement         = "00002a53-0000-1000-8000-00805f9b34fb"
)

// ParseHeartRateMeasurement parses heart rate measurement characteristic data.
// See: https://www.bluetooth.com/specifications/specs/heart-rate-service-1-0/
func ParseHeartRateMeasurement(buf []byte) (int, error) {
	if len(buf) < 2 {
		return 0, fmt.Errorf("heart rate data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	// Bit 0: 0 = UINT8, 1 = UINT16
	if flags&0x01 != 0 {
		if len(buf) < 3 {
			return 0, fmt.Errorf("heart rate UINT16 data too short: %d bytes", len(buf))
		}
		return int(uint16(buf[1]) | uint16(buf[2])<<8), nil
	}
	return int(buf[1]), nil
}

// RSC Measurement flag bits (Running Speed and Cadence 1.0 spec)
const (
	rscFlagStrideLength  = 1 << 0 // Instantaneous Stride Length present
	rscFlagTotalDistance = 1 << 1 // Total Distance present
)

// RSCMeasurement holds the decoded fields of one RSC measurement.
type RSCMeasurement struct {
	SpeedMPS         float64 // instantaneous speed
	CadenceSPM       int     // steps per minute
	HasStrideLength  bool
	StrideLengthM    float64
	HasTotalDistance bool
	TotalDistanceM   float64 // cumulative, sensor lifetime
}

// ParseRSCMeasurement parses RSC measurement characteristic data. Speed is
// UINT16 in 1/256 m/s, cadence UINT8, stride length UINT16 in 1/100 m,
// total distance UINT32 in 1/10 m.
// See: https://www.bluetooth.com/specifications/specs/running-speed-and-cadence-service-1-0/
func ParseRSCMeasurement(buf []byte) (RSCMeasurement, error) {
	if len(buf) < 4 {
		return RSCMeasurement{}, fmt.Errorf("RSC data too short: %d bytes", len(buf))
	}

	flags := buf[0]
	m := RSCMeasurement{
		SpeedMPS:   float64(uint16(buf[1])|uint16(buf[2])<<8) / 256.0,
		CadenceSPM: int(buf[3]),
	}
	offset := 4

	if flags&rscFlagStrideLength != 0 {
		if offset+2 > len(buf) {
			return RSCMeasurement{}, fmt.Errorf("RSC data too short for stride length at offset %d", offset)
		}
		m.HasStrideLength = true
		m.StrideLengthM = float64(uint16(buf[offset])|uint16(buf[offset+1])<<8) / 100.0
		offset += 2
	}

	if flags&rscFlagTotalDistance != 0 {
		if offset+4 > len(buf) {
			return RSCMeasurement{}, fmt.Errorf("RSC data too short for total distance at offset %d", offset)
		}
		raw := uint32(buf[offset]) | uint32(buf[offset+1])<<8 | uint32(buf[offset+2])<<16 | uint32(buf[offset+3])<<24
		m.HasTotalDistance = true
		m.TotalDistanceM = float64(raw) / 10.0
	}

	return m, nil
}
