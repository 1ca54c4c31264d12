package capture

import (
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type readResult struct {
	chunk []int16
	err   error
}

type fakeStream struct {
	script    chan readResult
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		script: make(chan readResult, 16),
		closed: make(chan struct{}),
	}
}

func (s *fakeStream) Read() ([]int16, error) {
	select {
	case <-s.closed:
		return nil, errors.New("stream closed")
	case r := <-s.script:
		return r.chunk, r.err
	}
}

func (s *fakeStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeDriver struct {
	mu       sync.Mutex
	devices  []Device
	openErr  error
	stream   *fakeStream
	lastOpen int
}

func newFakeDriver(devices ...Device) *fakeDriver {
	return &fakeDriver{devices: devices, lastOpen: -99}
}

func (d *fakeDriver) Devices() ([]Device, error) {
	return d.devices, nil
}

func (d *fakeDriver) Open(deviceID, sampleRate, channels, chunkFrames int) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openErr != nil {
		return nil, d.openErr
	}
	d.lastOpen = deviceID
	d.stream = newFakeStream()
	return d.stream, nil
}

func (d *fakeDriver) Close() error { return nil }

func (d *fakeDriver) cur() *fakeStream {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stream
}

func (d *fakeDriver) openedDevice() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastOpen
}

func testCaptureConfig() config.CaptureConfig {
	return config.CaptureConfig{
		Driver:      "mock",
		DeviceID:    -1,
		SampleRate:  16000,
		Channels:    1,
		ChunkFrames: 320,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func makeChunk(value int16, samples int) []int16 {
	chunk := make([]int16, samples)
	for i := range chunk {
		chunk[i] = value
	}
	return chunk
}

func pcmBytes(chunks ...[]int16) []byte {
	var out []byte
	for _, chunk := range chunks {
		for _, s := range chunk {
			var b [2]byte
			binary.LittleEndian.PutUint16(b[:], uint16(s))
			out = append(out, b[0], b[1])
		}
	}
	return out
}

func collectLevels(t *testing.T, eng *Engine, n int) []float64 {
	t.Helper()
	levels := make([]float64, 0, n)
	timeout := time.After(2 * time.Second)
	for len(levels) < n {
		select {
		case ev := <-eng.Events():
			if ev.Kind != EventLevel {
				t.Fatalf("unexpected event kind %d (err: %v)", ev.Kind, ev.Err)
			}
			levels = append(levels, ev.Level)
		case <-timeout:
			t.Fatalf("timed out waiting for %d level events, have %d", n, len(levels))
		}
	}
	return levels
}

func TestRecordingAccumulatesChunks(t *testing.T) {
	driver := newFakeDriver(
		Device{ID: 0, Name: "built-in", IsDefault: true},
		Device{ID: 1, Name: "usb mic"},
	)
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	devices, err := eng.Devices()
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if len(devices) != 2 {
		t.Fatalf("expected 2 devices, got %d", len(devices))
	}
	if err := eng.SelectDevice(1); err != nil {
		t.Fatalf("SelectDevice: %v", err)
	}

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := driver.openedDevice(); got != 1 {
		t.Fatalf("opened device %d, want 1", got)
	}

	chunks := [][]int16{
		makeChunk(16384, 320),
		makeChunk(0, 320),
		makeChunk(8192, 320),
	}
	stream := driver.cur()
	for _, c := range chunks {
		stream.script <- readResult{chunk: c}
	}

	levels := collectLevels(t, eng, 3)
	wantLevels := []float64{0.5, 0, 0.25}
	for i, want := range wantLevels {
		if diff := levels[i] - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("level[%d] = %v, want %v", i, levels[i], want)
		}
	}

	pcm, err := eng.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := pcmBytes(chunks...)
	if len(pcm) != len(want) {
		t.Fatalf("pcm length %d, want %d", len(pcm), len(want))
	}
	for i := range want {
		if pcm[i] != want[i] {
			t.Fatalf("pcm byte %d = %#x, want %#x", i, pcm[i], want[i])
		}
	}

	select {
	case ev := <-eng.Events():
		t.Fatalf("unexpected event after stop: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStartWhileRecordingRejected(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.Start(); !errors.Is(err, ErrAlreadyRecording) {
		t.Fatalf("second Start = %v, want ErrAlreadyRecording", err)
	}
	if _, err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopAndCancelWhenIdle(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if _, err := eng.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop = %v, want ErrNotRecording", err)
	}
	if err := eng.Cancel(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Cancel = %v, want ErrNotRecording", err)
	}
}

func TestCancelDiscardsBuffer(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	driver.cur().script <- readResult{chunk: makeChunk(12000, 320)}
	collectLevels(t, eng, 1)
	if err := eng.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A fresh recording must not see the discarded audio.
	if err := eng.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	chunk := makeChunk(100, 320)
	driver.cur().script <- readResult{chunk: chunk}
	collectLevels(t, eng, 1)
	pcm, err := eng.Stop()
	if err != nil {
		t.Fatalf("Stop: %v", err)
	}
	want := pcmBytes(chunk)
	if len(pcm) != len(want) {
		t.Fatalf("pcm length %d, want %d", len(pcm), len(want))
	}
}

func TestDeviceFailureAbortsRecording(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stream := driver.cur()
	stream.script <- readResult{chunk: makeChunk(16384, 320)}
	collectLevels(t, eng, 1)
	stream.script <- readResult{err: io.ErrUnexpectedEOF}

	select {
	case ev := <-eng.Events():
		if ev.Kind != EventError {
			t.Fatalf("expected error event, got %+v", ev)
		}
		if !errors.Is(ev.Err, io.ErrUnexpectedEOF) {
			t.Fatalf("event error = %v, want ErrUnexpectedEOF", ev.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}

	// Reap the aborted session, then confirm a new one can start.
	if err := eng.Cancel(); err != nil {
		t.Fatalf("Cancel after failure: %v", err)
	}
	if err := eng.Start(); err != nil {
		t.Fatalf("restart after failure: %v", err)
	}
	if _, err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStopSurfacesDeviceFailure(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	driver.cur().script <- readResult{err: io.ErrUnexpectedEOF}

	select {
	case ev := <-eng.Events():
		if ev.Kind != EventError {
			t.Fatalf("expected error event, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for error event")
	}

	if _, err := eng.Stop(); !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Stop = %v, want wrapped ErrUnexpectedEOF", err)
	}
}

func TestSelectDeviceValidation(t *testing.T) {
	driver := newFakeDriver(
		Device{ID: 0, Name: "built-in", IsDefault: true},
		Device{ID: 1, Name: "usb mic"},
	)
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.SelectDevice(7); err == nil {
		t.Fatal("expected error for unknown device id")
	}
	if err := eng.SelectDevice(-1); err != nil {
		t.Fatalf("SelectDevice(-1): %v", err)
	}
	if err := eng.SelectDevice(0); err != nil {
		t.Fatalf("SelectDevice(0): %v", err)
	}
}

func TestSelectDeviceDuringRecordingAppliesToNextStart(t *testing.T) {
	driver := newFakeDriver(
		Device{ID: 0, Name: "built-in", IsDefault: true},
		Device{ID: 1, Name: "usb mic"},
	)
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := driver.openedDevice(); got != -1 {
		t.Fatalf("opened device %d, want host default", got)
	}
	if err := eng.SelectDevice(1); err != nil {
		t.Fatalf("SelectDevice while recording: %v", err)
	}
	if _, err := eng.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := eng.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if got := driver.openedDevice(); got != 1 {
		t.Fatalf("opened device %d, want newly selected 1", got)
	}
	if _, err := eng.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestStartFailsWhenDeviceUnavailable(t *testing.T) {
	driver := newFakeDriver(Device{ID: 0, Name: "built-in", IsDefault: true})
	driver.openErr = errors.New("no such device")
	eng := NewEngine(testCaptureConfig(), driver, testLogger())

	if err := eng.Start(); err == nil {
		t.Fatal("expected Start to fail")
	}
	if _, err := eng.Stop(); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("Stop = %v, want ErrNotRecording", err)
	}
}

func TestMockDriverProducesSilence(t *testing.T) {
	driver := &MockDriver{Interval: time.Millisecond}
	stream, err := driver.Open(-1, 16000, 1, 320)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()

	samples, err := stream.Read()
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(samples) != 320 {
		t.Fatalf("chunk size %d, want 320", len(samples))
	}
	for i, s := range samples {
		if s != 0 {
			t.Fatalf("sample %d = %d, want silence", i, s)
		}
	}
}
