package sensor

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/centerseed/havital-watch/internal/go_func_utils"
)

// MockFeed is a Feed that synthesizes sensor data without hardware. It ticks
// a virtual runner forward at a controllable speed and heart rate, and can
// expose a small web API so the values can be changed from a browser or curl
// while the app runs.
type MockFeed struct {
	logger *log.Logger
	config MockFeedConfig
	events chan Event

	mu        sync.RWMutex
	speedMPS  float64
	heartRate int
	distanceM float64
	lat, lon  float64

	server   *http.Server
	doneChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// MockFeedConfig configures a MockFeed.
type MockFeedConfig struct {
	TickInterval   time.Duration // how often samples are emitted; default 1s
	ServerPort     int           // 0 disables the control web server
	StartSpeedMPS  float64
	StartHeartRate int
	StartLat       float64
	StartLon       float64
}

// mockFeedState is the web API view of the feed.
type mockFeedState struct {
	SpeedMPS       float64 `json:"speedMps"`
	HeartRate      int     `json:"heartRate"`
	DistanceMeters float64 `json:"distanceMeters"`
}

// NewMockFeed creates a mock feed. Call Start to begin emitting.
func NewMockFeed(logger *log.Logger, config MockFeedConfig) *MockFeed {
	if logger == nil {
		panic("MockFeed: logger cannot be nil")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = time.Second
	}
	return &MockFeed{
		logger:    logger,
		config:    config,
		events:    make(chan Event, bleEventBuffer),
		speedMPS:  config.StartSpeedMPS,
		heartRate: config.StartHeartRate,
		lat:       config.StartLat,
		lon:       config.StartLon,
		doneChan:  make(chan struct{}),
	}
}

// Events implements Feed.
func (m *MockFeed) Events() <-chan Event { return m.events }

// Start launches the generator loop and, when configured, the control server.
func (m *MockFeed) Start() error {
	if m.config.ServerPort > 0 {
		mux := http.NewServeMux()
		mux.HandleFunc("/api/state", m.handleGetState)
		mux.HandleFunc("/api/set", m.handleSetValues)
		m.server = &http.Server{
			Addr:    fmt.Sprintf("127.0.0.1:%d", m.config.ServerPort),
			Handler: mux,
		}
		m.wg.Add(1)
		go_func_utils.SafeGo(m.logger, func() {
			defer m.wg.Done()
			m.logger.Printf("MockFeed: control server on %s", m.server.Addr)
			if err := m.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				m.logger.Printf("MockFeed: control server: %v", err)
			}
		})
	}

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.runGenerator()
	})
	return nil
}

func (m *MockFeed) runGenerator() {
	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.doneChan:
			return
		case now := <-ticker.C:
			m.mu.Lock()
			m.distanceM += m.speedMPS * m.config.TickInterval.Seconds()
			// crude northward drift, ~1e-5 deg per meter
			m.lat += m.speedMPS * m.config.TickInterval.Seconds() * 1e-5
			motion := MotionSample{
				DistanceMeters: m.distanceM,
				SpeedMPS:       m.speedMPS,
				CadenceSPM:     170,
			}
			bpm := m.heartRate
			loc := GeoPoint{Lat: m.lat, Lon: m.lon}
			m.mu.Unlock()

			m.emit(Event{Kind: KindMotion, At: now, Motion: motion})
			if bpm > 0 {
				m.emit(Event{Kind: KindHeartRate, At: now, HeartRate: bpm})
			}
			m.emit(Event{Kind: KindLocation, At: now, Location: loc})
		}
	}
}

func (m *MockFeed) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// SetSpeed changes the virtual runner's speed in m/s.
func (m *MockFeed) SetSpeed(speedMPS float64) {
	m.mu.Lock()
	m.speedMPS = speedMPS
	m.mu.Unlock()
}

// SetHeartRate changes the virtual heart rate in bpm.
func (m *MockFeed) SetHeartRate(bpm int) {
	m.mu.Lock()
	m.heartRate = bpm
	m.mu.Unlock()
}

func (m *MockFeed) handleGetState(w http.ResponseWriter, r *http.Request) {
	m.mu.RLock()
	state := mockFeedState{
		SpeedMPS:       m.speedMPS,
		HeartRate:      m.heartRate,
		DistanceMeters: m.distanceM,
	}
	m.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(state)
}

func (m *MockFeed) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		SpeedMPS  *float64 `json:"speedMps"`
		HeartRate *int     `json:"heartRate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	m.mu.Lock()
	if req.SpeedMPS != nil {
		m.speedMPS = *req.SpeedMPS
	}
	if req.HeartRate != nil {
		m.heartRate = *req.HeartRate
	}
	m.mu.Unlock()

	m.handleGetState(w, r)
}

// Stop halts the generator and control server and closes the event channel.
func (m *MockFeed) Stop() {
	m.stopOnce.Do(func() {
		close(m.doneChan)
		if m.server != nil {
			_ = m.server.Close()
		}
		m.wg.Wait()
		close(m.events)
		m.logger.Printf("MockFeed: stopped")
	})
}
