package capture

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// PortAudioDriver captures from real hardware through the PortAudio host API.
type PortAudioDriver struct {
	mu          sync.Mutex
	initialized bool
}

func NewPortAudioDriver() *PortAudioDriver {
	return &PortAudioDriver{}
}

func (d *PortAudioDriver) ensureInit() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.initialized {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	d.initialized = true
	return nil
}

// Devices lists input-capable devices. The ID is the index in PortAudio's
// device table, so it stays valid for Open calls.
func (d *PortAudioDriver) Devices() ([]Device, error) {
	if err := d.ensureInit(); err != nil {
		return nil, err
	}
	infos, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}
	def, _ := portaudio.DefaultInputDevice()

	out := make([]Device, 0, len(infos))
	for i, info := range infos {
		if info.MaxInputChannels < 1 {
			continue
		}
		out = append(out, Device{
			ID:        i,
			Name:      info.Name,
			IsDefault: def != nil && info == def,
		})
	}
	return out, nil
}

func (d *PortAudioDriver) Open(deviceID, sampleRate, channels, chunkFrames int) (Stream, error) {
	if err := d.ensureInit(); err != nil {
		return nil, err
	}

	var info *portaudio.DeviceInfo
	if deviceID < 0 {
		def, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("default input device: %w", err)
		}
		info = def
	} else {
		infos, err := portaudio.Devices()
		if err != nil {
			return nil, fmt.Errorf("list audio devices: %w", err)
		}
		if deviceID >= len(infos) {
			return nil, fmt.Errorf("unknown input device %d", deviceID)
		}
		info = infos[deviceID]
	}
	if info.MaxInputChannels < channels {
		return nil, fmt.Errorf("device %q cannot capture %d channel(s)", info.Name, channels)
	}

	params := portaudio.LowLatencyParameters(info, nil)
	params.Input.Channels = channels
	params.SampleRate = float64(sampleRate)
	params.FramesPerBuffer = chunkFrames

	buf := make([]int16, chunkFrames*channels)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, fmt.Errorf("open capture stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("start capture stream: %w", err)
	}
	return &paStream{stream: stream, buf: buf}, nil
}

func (d *PortAudioDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.initialized {
		return nil
	}
	d.initialized = false
	return portaudio.Terminate()
}

type paStream struct {
	stream    *portaudio.Stream
	buf       []int16
	closeOnce sync.Once
	closeErr  error
}

func (s *paStream) Read() ([]int16, error) {
	if err := s.stream.Read(); err != nil {
		return nil, err
	}
	out := make([]int16, len(s.buf))
	copy(out, s.buf)
	return out, nil
}

func (s *paStream) Close() error {
	s.closeOnce.Do(func() {
		stopErr := s.stream.Stop()
		s.closeErr = s.stream.Close()
		if s.closeErr == nil {
			s.closeErr = stopErr
		}
	})
	return s.closeErr
}
