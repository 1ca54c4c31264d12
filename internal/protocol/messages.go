package protocol

import "time"

// Request subjects. Every request is a NATS request/reply exchange carrying
// JSON; replies embed an Error field so callers can tell a rejected request
// from a transport failure.
const (
	SubjectAudioStart        = "audio.start"
	SubjectAudioStop         = "audio.stop"
	SubjectAudioCancel       = "audio.cancel"
	SubjectAudioToggle       = "audio.toggle"
	SubjectAudioDevices      = "audio.devices"
	SubjectAudioDeviceSelect = "audio.device.select"

	SubjectHistoryRecent = "history.recent"
	SubjectHistorySearch = "history.search"
	SubjectHistoryGet    = "history.get"
	SubjectHistoryDelete = "history.delete"
	SubjectHistoryClear  = "history.clear"

	SubjectBackendConfigure = "backend.configure"
	SubjectBackendPrimary   = "backend.primary"
	SubjectBackendList      = "backend.list"

	SubjectOutputCopy    = "output.copy"
	SubjectOutputPaste   = "output.paste"
	SubjectOutputRestore = "output.restore"
)

// Event subjects. Events are fire-and-forget publishes.
const (
	SubjectEventState  = "event.state"
	SubjectEventLevel  = "event.level"
	SubjectEventResult = "event.result"
	SubjectEventError  = "event.error"
)

// Ack is the reply for requests that carry no result payload.
type Ack struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Device describes an input-capable audio device.
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// DeviceList is the reply to audio.devices.
type DeviceList struct {
	Devices []Device `json:"devices"`
	Error   string   `json:"error,omitempty"`
}

// DeviceSelect asks the capture engine to use a device on the next start.
// ID -1 selects the host default.
type DeviceSelect struct {
	ID int `json:"id"`
}

// HistoryQuery parameterizes history.recent, history.search, history.get and
// history.delete. Unused fields are ignored by the handler.
type HistoryQuery struct {
	Query string `json:"query,omitempty"`
	Limit int    `json:"limit,omitempty"`
	ID    int64  `json:"id,omitempty"`
}

// HistoryEntry mirrors one persisted transcription.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	DurationMS int64     `json:"duration_ms"`
	Service    string    `json:"service"`
	CreatedAt  time.Time `json:"created_at"`
}

// HistoryPage is the reply to history queries.
type HistoryPage struct {
	Entries []HistoryEntry `json:"entries"`
	Error   string         `json:"error,omitempty"`
}

// HistoryCleared is the reply to history.clear.
type HistoryCleared struct {
	Removed int64  `json:"removed"`
	Error   string `json:"error,omitempty"`
}

// BackendConfigure registers or updates a transcription backend.
type BackendConfigure struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	APIKey  string `json:"api_key,omitempty"`
	BaseURL string `json:"base_url,omitempty"`
	Model   string `json:"model,omitempty"`
	Command string `json:"command,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

// BackendPrimary selects the primary backend by name.
type BackendPrimary struct {
	Name string `json:"name"`
}

// BackendInfo describes one registered backend.
type BackendInfo struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Primary bool   `json:"primary"`
}

// BackendList is the reply to backend.list.
type BackendList struct {
	Backends []BackendInfo `json:"backends"`
	Error    string        `json:"error,omitempty"`
}

// OutputText carries text for output.copy and output.paste.
type OutputText struct {
	Text string `json:"text,omitempty"`
}

// StateEvent announces a pipeline state transition.
type StateEvent struct {
	State     string    `json:"state"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// LevelEvent carries one loudness sample, normalized to [0, 1]. Published
// only while the pipeline is recording.
type LevelEvent struct {
	SessionID string  `json:"session_id"`
	Level     float64 `json:"level"`
}

// Segment is a timed span of a transcription, in milliseconds.
type Segment struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Text    string `json:"text"`
}

// Word is a single word with millisecond timings.
type Word struct {
	StartMS int64  `json:"start_ms"`
	EndMS   int64  `json:"end_ms"`
	Word    string `json:"word"`
}

// ResultEvent is published once per completed recording cycle, after the
// transcription has been persisted.
type ResultEvent struct {
	SessionID  string    `json:"session_id"`
	EntryID    int64     `json:"entry_id,omitempty"`
	Text       string    `json:"text"`
	Language   string    `json:"language"`
	DurationMS int64     `json:"duration_ms"`
	Segments   []Segment `json:"segments,omitempty"`
	Words      []Word    `json:"words,omitempty"`
	Service    string    `json:"service"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorEvent carries a human-readable failure message for the UI.
type ErrorEvent struct {
	SessionID string    `json:"session_id,omitempty"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}
