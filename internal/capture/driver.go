package capture

// Device describes a usable audio input.
type Device struct {
	ID        int
	Name      string
	IsDefault bool
}

// Driver abstracts the audio host API. The engine never talks to PortAudio
// directly so recordings can be driven by synthetic streams in tests and in
// headless environments.
type Driver interface {
	// Devices lists input-capable devices. IDs are stable for the lifetime
	// of the driver.
	Devices() ([]Device, error)
	// Open starts a capture stream on the given device. A deviceID below
	// zero selects the host default input.
	Open(deviceID, sampleRate, channels, chunkFrames int) (Stream, error)
	// Close releases the host API.
	Close() error
}

// Stream delivers interleaved 16-bit samples one chunk at a time.
//
// Close must be safe to call multiple times and must unblock a pending Read.
type Stream interface {
	Read() ([]int16, error)
	Close() error
}
