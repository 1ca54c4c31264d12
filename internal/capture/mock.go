package capture

import (
	"fmt"
	"sync"
	"time"
)

// MockDriver produces silence at the configured chunk cadence. It exists so
// scribed can run end to end on machines without audio hardware.
type MockDriver struct {
	// Interval overrides the realtime chunk cadence. Zero means derive it
	// from the stream's sample rate.
	Interval time.Duration
}

func (d *MockDriver) Devices() ([]Device, error) {
	return []Device{{ID: 0, Name: "mock input", IsDefault: true}}, nil
}

func (d *MockDriver) Open(deviceID, sampleRate, channels, chunkFrames int) (Stream, error) {
	if deviceID > 0 {
		return nil, fmt.Errorf("unknown input device %d", deviceID)
	}
	interval := d.Interval
	if interval <= 0 {
		interval = time.Duration(chunkFrames) * time.Second / time.Duration(sampleRate)
	}
	return &mockStream{
		interval: interval,
		samples:  chunkFrames * channels,
		closed:   make(chan struct{}),
	}, nil
}

func (d *MockDriver) Close() error { return nil }

type mockStream struct {
	interval  time.Duration
	samples   int
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *mockStream) Read() ([]int16, error) {
	select {
	case <-s.closed:
		return nil, fmt.Errorf("stream closed")
	case <-time.After(s.interval):
		return make([]int16, s.samples), nil
	}
}

func (s *mockStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}
