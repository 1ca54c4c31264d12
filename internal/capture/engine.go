// Package capture records microphone audio as 16-bit little-endian PCM. The
// engine owns the recording buffer: chunks accumulate internally and are only
// handed out, as one contiguous payload, when the recording stops.
package capture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

var (
	// ErrAlreadyRecording is returned by Start while a capture is active.
	ErrAlreadyRecording = errors.New("already recording")
	// ErrNotRecording is returned by Stop and Cancel when idle.
	ErrNotRecording = errors.New("not recording")
)

// EventKind discriminates engine events.
type EventKind int

const (
	// EventLevel carries the RMS level of one captured chunk.
	EventLevel EventKind = iota
	// EventError reports an asynchronous device failure. The recording is
	// aborted and its buffer discarded; the owner should call Cancel to
	// reap the session.
	EventError
)

type Event struct {
	Kind  EventKind
	Level float64
	Err   error
}

// Engine drives one recording at a time on top of a Driver.
type Engine struct {
	driver Driver
	log    *slog.Logger

	sampleRate  int
	channels    int
	chunkFrames int

	events chan Event

	mu       sync.Mutex
	deviceID int
	active   bool
	stopping bool
	stream   Stream
	stopCh   chan struct{}
	doneCh   chan struct{}
	buf      []byte
	readErr  error
}

func NewEngine(cfg config.CaptureConfig, driver Driver, log *slog.Logger) *Engine {
	return &Engine{
		driver:      driver,
		log:         log.With(slog.String("component", "capture")),
		sampleRate:  cfg.SampleRate,
		channels:    cfg.Channels,
		chunkFrames: cfg.ChunkFrames,
		deviceID:    cfg.DeviceID,
		events:      make(chan Event, 64),
	}
}

// Events exposes level and error events. Sends never block the capture loop;
// level events are dropped under backpressure.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Devices lists input devices known to the driver.
func (e *Engine) Devices() ([]Device, error) {
	return e.driver.Devices()
}

// SelectDevice picks the input opened by the next Start. An ID below zero
// selects the host default. A recording already in progress keeps the device
// it opened.
func (e *Engine) SelectDevice(id int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if id >= 0 {
		devices, err := e.driver.Devices()
		if err != nil {
			return fmt.Errorf("list audio devices: %w", err)
		}
		found := false
		for _, d := range devices {
			if d.ID == id {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("unknown input device %d", id)
		}
	}
	e.deviceID = id
	return nil
}

// Start opens the selected device and begins accumulating chunks.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrAlreadyRecording
	}
	deviceID := e.deviceID
	e.mu.Unlock()

	stream, err := e.driver.Open(deviceID, e.sampleRate, e.channels, e.chunkFrames)
	if err != nil {
		return fmt.Errorf("open capture stream: %w", err)
	}

	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		stream.Close()
		return ErrAlreadyRecording
	}
	e.active = true
	e.stopping = false
	e.stream = stream
	e.buf = nil
	e.readErr = nil
	e.stopCh = make(chan struct{})
	e.doneCh = make(chan struct{})
	stopCh, doneCh := e.stopCh, e.doneCh
	e.mu.Unlock()

	e.log.Debug("recording started", slog.Int("device", deviceID))
	go e.readLoop(stream, stopCh, doneCh)
	return nil
}

// Stop ends the recording and returns the accumulated PCM payload, the exact
// concatenation of every captured chunk. No events for this recording are
// emitted after Stop returns.
func (e *Engine) Stop() ([]byte, error) {
	return e.teardown(false)
}

// Cancel ends the recording and discards the buffer.
func (e *Engine) Cancel() error {
	_, err := e.teardown(true)
	return err
}

func (e *Engine) teardown(discard bool) ([]byte, error) {
	e.mu.Lock()
	if !e.active || e.stopping {
		e.mu.Unlock()
		return nil, ErrNotRecording
	}
	e.stopping = true
	stream, stopCh, doneCh := e.stream, e.stopCh, e.doneCh
	e.mu.Unlock()

	close(stopCh)
	stream.Close()
	<-doneCh

	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = false
	e.stopping = false
	e.stream = nil
	pcm := e.buf
	e.buf = nil
	err := e.readErr
	e.readErr = nil

	if discard {
		e.log.Debug("recording cancelled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("capture aborted: %w", err)
	}
	e.log.Debug("recording stopped", slog.Int("bytes", len(pcm)))
	return pcm, nil
}

func (e *Engine) readLoop(stream Stream, stopCh, doneCh chan struct{}) {
	defer close(doneCh)
	defer stream.Close()

	for {
		select {
		case <-stopCh:
			return
		default:
		}

		samples, err := stream.Read()
		if err != nil {
			select {
			case <-stopCh:
				return
			default:
			}
			e.fail(err)
			return
		}

		e.mu.Lock()
		e.buf = append(e.buf, chunkBytes(samples)...)
		e.mu.Unlock()
		e.emit(Event{Kind: EventLevel, Level: rms(samples)})
	}
}

func (e *Engine) fail(err error) {
	e.mu.Lock()
	e.readErr = err
	e.buf = nil
	e.mu.Unlock()
	e.log.Error("capture device failed", slog.String("error", err.Error()))
	e.emit(Event{Kind: EventError, Err: err})
}

func (e *Engine) emit(ev Event) {
	select {
	case e.events <- ev:
	default:
		e.log.Warn("dropping capture event", slog.Int("kind", int(ev.Kind)))
	}
}

// rms computes the normalized root-mean-square level of a chunk in [0, 1].
func rms(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		f := float64(s)
		sum += f * f
	}
	level := math.Sqrt(sum/float64(len(samples))) / 32768
	if level > 1 {
		level = 1
	}
	return level
}

func chunkBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}
