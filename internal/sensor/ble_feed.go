package sensor

import (
	"fmt"
	"log"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"
)

// BLEFeed is a Feed backed by Bluetooth LE running sensors: a heart rate
// strap (0x180D) and a foot pod / watch pod speaking Running Speed and
// Cadence (0x1814). Notifications arrive on the BLE stack's goroutines and
// are multiplexed onto the single event channel.
type BLEFeed struct {
	adapter     *bluetooth.Adapter
	logger      *log.Logger
	scanTimeout time.Duration
	events      chan Event

	mu       sync.Mutex
	devices  []bluetooth.Device
	stopOnce sync.Once
}

const bleEventBuffer = 64

// NewBLEFeed creates a BLE-backed feed. scanTimeout bounds sensor discovery.
func NewBLEFeed(adapter *bluetooth.Adapter, logger *log.Logger, scanTimeout time.Duration) *BLEFeed {
	if adapter == nil {
		panic("BLEFeed: adapter cannot be nil")
	}
	if logger == nil {
		panic("BLEFeed: logger cannot be nil")
	}
	if scanTimeout <= 0 {
		scanTimeout = 15 * time.Second
	}
	return &BLEFeed{
		adapter:     adapter,
		logger:      logger,
		scanTimeout: scanTimeout,
		events:      make(chan Event, bleEventBuffer),
	}
}

// Events implements Feed.
func (f *BLEFeed) Events() <-chan Event { return f.events }

// Start enables the adapter, scans for HR and RSC sensors, connects to the
// first of each found, and subscribes to their measurement notifications.
// At least one sensor must be found or Start fails.
func (f *BLEFeed) Start() error {
	if err := f.adapter.Enable(); err != nil {
		return fmt.Errorf("enable BLE stack: %w", err)
	}

	hrUUID, err := bluetooth.ParseUUID(ServiceUUIDHeartRate)
	if err != nil {
		return fmt.Errorf("parse HR service UUID: %w", err)
	}
	rscUUID, err := bluetooth.ParseUUID(ServiceUUIDRunningSpeedCadence)
	if err != nil {
		return fmt.Errorf("parse RSC service UUID: %w", err)
	}

	hrAddr, rscAddr, err := f.scanForSensors(hrUUID, rscUUID)
	if err != nil {
		return err
	}
	if hrAddr == nil && rscAddr == nil {
		return fmt.Errorf("no running sensors found within %v", f.scanTimeout)
	}

	if rscAddr != nil {
		if err := f.connectAndSubscribe(*rscAddr, rscUUID, CharUUIDRSCMeasurement, f.handleRSC); err != nil {
			return fmt.Errorf("subscribe RSC sensor: %w", err)
		}
	}
	if hrAddr != nil {
		if err := f.connectAndSubscribe(*hrAddr, hrUUID, CharUUIDHeartRateMeasurement, f.handleHeartRate); err != nil {
			// HR is secondary; keep running on motion data alone
			f.logger.Printf("BLEFeed: heart rate sensor unavailable: %v", err)
			f.emit(Event{Kind: KindError, At: time.Now(), Err: err})
		}
	}

	return nil
}

// scanForSensors scans until one address per wanted service is seen or the
// scan timeout elapses.
func (f *BLEFeed) scanForSensors(hrUUID, rscUUID bluetooth.UUID) (hr, rsc *bluetooth.Address, err error) {
	var mu sync.Mutex
	done := make(chan struct{})
	stopped := false

	stop := func() {
		if !stopped {
			stopped = true
			_ = f.adapter.StopScan()
			close(done)
		}
	}

	timer := time.AfterFunc(f.scanTimeout, func() {
		mu.Lock()
		defer mu.Unlock()
		stop()
	})
	defer timer.Stop()

	f.logger.Printf("BLEFeed: scanning for running sensors (timeout %v)", f.scanTimeout)
	scanErr := f.adapter.Scan(func(_ *bluetooth.Adapter, device bluetooth.ScanResult) {
		mu.Lock()
		defer mu.Unlock()
		if stopped {
			return
		}
		if hr == nil && device.HasServiceUUID(hrUUID) {
			addr := device.Address
			hr = &addr
			f.logger.Printf("BLEFeed: found heart rate sensor %s (%s)", device.LocalName(), addr.String())
		}
		if rsc == nil && device.HasServiceUUID(rscUUID) {
			addr := device.Address
			rsc = &addr
			f.logger.Printf("BLEFeed: found RSC sensor %s (%s)", device.LocalName(), addr.String())
		}
		if hr != nil && rsc != nil {
			stop()
		}
	})

	<-done
	if scanErr != nil {
		return nil, nil, fmt.Errorf("BLE scan: %w", scanErr)
	}
	mu.Lock()
	defer mu.Unlock()
	return hr, rsc, nil
}

// connectAndSubscribe connects to a device and enables notifications on one
// characteristic of one service.
func (f *BLEFeed) connectAndSubscribe(addr bluetooth.Address, serviceUUID bluetooth.UUID, charUUID string, handler func([]byte)) error {
	device, err := f.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr.String(), err)
	}

	f.mu.Lock()
	f.devices = append(f.devices, device)
	f.mu.Unlock()

	services, err := device.DiscoverServices([]bluetooth.UUID{serviceUUID})
	if err != nil || len(services) == 0 {
		return fmt.Errorf("discover service %s: %w", serviceUUID.String(), err)
	}

	cu, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return fmt.Errorf("parse characteristic UUID: %w", err)
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{cu})
	if err != nil || len(chars) == 0 {
		return fmt.Errorf("discover characteristic %s: %w", charUUID, err)
	}

	if err := chars[0].EnableNotifications(handler); err != nil {
		return fmt.Errorf("enable notifications on %s: %w", charUUID, err)
	}

	f.logger.Printf("BLEFeed: subscribed to %s on %s", charUUID, addr.String())
	return nil
}

func (f *BLEFeed) handleRSC(buf []byte) {
	m, err := ParseRSCMeasurement(buf)
	if err != nil {
		f.emit(Event{Kind: KindError, At: time.Now(), Err: err})
		return
	}
	if !m.HasTotalDistance {
		// Without a cumulative distance there is nothing for the session
		// total to build on; skip rather than invent one from speed.
		return
	}
	f.emit(Event{
		Kind: KindMotion,
		At:   time.Now(),
		Motion: MotionSample{
			DistanceMeters: m.TotalDistanceM,
			SpeedMPS:       m.SpeedMPS,
			CadenceSPM:     m.CadenceSPM,
		},
	})
}

func (f *BLEFeed) handleHeartRate(buf []byte) {
	bpm, err := ParseHeartRateMeasurement(buf)
	if err != nil {
		f.emit(Event{Kind: KindError, At: time.Now(), Err: err})
		return
	}
	f.emit(Event{Kind: KindHeartRate, At: time.Now(), HeartRate: bpm})
}

// emit delivers without blocking the BLE callback goroutine.
func (f *BLEFeed) emit(ev Event) {
	select {
	case f.events <- ev:
	default:
	}
}

// Stop disconnects all sensors and closes the event channel.
func (f *BLEFeed) Stop() {
	f.stopOnce.Do(func() {
		f.mu.Lock()
		devices := f.devices
		f.devices = nil
		f.mu.Unlock()

		for _, d := range devices {
			if err := d.Disconnect(); err != nil {
				f.logger.Printf("BLEFeed: disconnect: %v", err)
			}
		}
		close(f.events)
		f.logger.Printf("BLEFeed: stopped")
	})
}
