// Package pipeline owns the recording state machine. It sequences capture,
// encoding, transcription, transform, persistence and output, and publishes
// the state, level, result and error streams consumed by UIs.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/capture"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/output"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
	"github.com/loqalabs/loqa-scribe/internal/transform"
	"github.com/loqalabs/loqa-scribe/internal/wav"
)

var (
	ErrAlreadyRecording = errors.New("already recording")
	ErrProcessing       = errors.New("still processing previous recording")
	ErrNotRecording     = errors.New("not recording")
)

// processTimeout bounds one encode-transcribe-persist pass. Push-to-talk
// recordings are utterance sized, so a minute covers slow backends.
const processTimeout = 60 * time.Second

// Capture is the slice of the capture engine the state machine drives.
type Capture interface {
	Devices() ([]capture.Device, error)
	SelectDevice(id int) error
	Start() error
	Stop() ([]byte, error)
	Cancel() error
	Events() <-chan capture.Event
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdCancel
	cmdToggle
	cmdState
)

type command struct {
	kind  commandKind
	reply chan cmdReply
}

type cmdReply struct {
	state State
	err   error
}

type procOutcome struct {
	session     RecordingSession
	text        string
	result      transcribe.Result
	service     string
	entryID     int64
	delivered   output.Delivery
	deliveryErr error
	elapsed     time.Duration
	err         error
}

type Service struct {
	cfg       config.Config
	bus       *bus.Client
	engine    Capture
	registry  *transcribe.Registry
	store     *history.Store
	output    *output.Coordinator
	transform *transform.Engine
	log       *slog.Logger
	metrics   *pipelineMetrics

	ctx    context.Context
	cancel context.CancelFunc
	subs   []*nats.Subscription
	wg     sync.WaitGroup

	cmds   chan command
	procCh chan procOutcome

	// Owned by the run loop; never touched from any other goroutine.
	state   State
	session *RecordingSession

	ready bool
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, engine Capture, registry *transcribe.Registry, store *history.Store, out *output.Coordinator, transformer *transform.Engine, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:       cfg,
		bus:       busClient,
		engine:    engine,
		registry:  registry,
		store:     store,
		output:    out,
		transform: transformer,
		log:       log.With(slog.String("component", "pipeline")),
		metrics:   newPipelineMetrics(log),
		ctx:       ctx,
		cancel:    cancel,
		cmds:      make(chan command),
		procCh:    make(chan procOutcome, 1),
		state:     StateIdle,
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectAudioStart, s.handleAudioStart},
		{protocol.SubjectAudioStop, s.handleAudioStop},
		{protocol.SubjectAudioCancel, s.handleAudioCancel},
		{protocol.SubjectAudioToggle, s.handleAudioToggle},
		{protocol.SubjectAudioDevices, s.handleAudioDevices},
		{protocol.SubjectAudioDeviceSelect, s.handleDeviceSelect},
		{protocol.SubjectHistoryRecent, s.handleHistoryRecent},
		{protocol.SubjectHistorySearch, s.handleHistorySearch},
		{protocol.SubjectHistoryGet, s.handleHistoryGet},
		{protocol.SubjectHistoryDelete, s.handleHistoryDelete},
		{protocol.SubjectHistoryClear, s.handleHistoryClear},
		{protocol.SubjectBackendConfigure, s.handleBackendConfigure},
		{protocol.SubjectBackendPrimary, s.handleBackendPrimary},
		{protocol.SubjectBackendList, s.handleBackendList},
		{protocol.SubjectOutputCopy, s.handleOutputCopy},
		{protocol.SubjectOutputPaste, s.handleOutputPaste},
		{protocol.SubjectOutputRestore, s.handleOutputRestore},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drainSubs()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}

	s.wg.Add(1)
	go s.run()
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	s.drainSubs()
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) drainSubs() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

// CurrentState asks the run loop for its state. After shutdown it reports
// idle.
func (s *Service) CurrentState() State {
	reply, err := s.dispatchReply(cmdState)
	if err != nil {
		return StateIdle
	}
	return reply.state
}

func (s *Service) dispatch(kind commandKind) error {
	reply, err := s.dispatchReply(kind)
	if err != nil {
		return err
	}
	return reply.err
}

func (s *Service) dispatchReply(kind commandKind) (cmdReply, error) {
	reply := make(chan cmdReply, 1)
	select {
	case s.cmds <- command{kind: kind, reply: reply}:
	case <-s.ctx.Done():
		return cmdReply{}, errors.New("pipeline shutting down")
	}
	return <-reply, nil
}

// run is the single writer of pipeline state. Boundary commands, capture
// events and processing outcomes all land here.
func (s *Service) run() {
	defer s.wg.Done()
	s.publishState(StateIdle, "")
	for {
		select {
		case <-s.ctx.Done():
			if s.state == StateRecording {
				if err := s.engine.Cancel(); err != nil {
					s.log.Warn("failed to release capture on shutdown", slogError(err))
				}
			}
			return
		case cmd := <-s.cmds:
			cmd.reply <- s.apply(cmd.kind)
		case ev := <-s.engine.Events():
			s.handleCaptureEvent(ev)
		case outcome := <-s.procCh:
			s.finishProcessing(outcome)
		}
	}
}

func (s *Service) apply(kind commandKind) cmdReply {
	var err error
	switch kind {
	case cmdState:
		// Pure read.
	case cmdStart:
		err = s.startRecording()
	case cmdStop:
		err = s.stopRecording()
	case cmdCancel:
		err = s.cancelRecording()
	case cmdToggle:
		switch s.state {
		case StateRecording:
			err = s.stopRecording()
		case StateProcessing:
			err = ErrProcessing
		default:
			err = s.startRecording()
		}
	}
	return cmdReply{state: s.state, err: err}
}

func (s *Service) startRecording() error {
	switch s.state {
	case StateRecording:
		return ErrAlreadyRecording
	case StateProcessing:
		return ErrProcessing
	}
	if err := s.engine.Start(); err != nil {
		// No session came into existence, so the state stays put; the
		// caller and the error stream both hear about it.
		s.log.Warn("capture start failed", slogError(err))
		s.publishError("", err.Error())
		return err
	}
	sess := RecordingSession{ID: uuid.NewString(), StartedAt: time.Now().UTC()}
	s.session = &sess
	s.setState(StateRecording, sess.ID)
	s.metrics.recordStart(s.ctx)
	s.log.Info("recording started", slog.String("session_id", sess.ID))
	return nil
}

func (s *Service) stopRecording() error {
	if s.state != StateRecording {
		return ErrNotRecording
	}
	sess := *s.session
	pcm, err := s.engine.Stop()
	if err != nil {
		s.session = nil
		s.failCycle(sess.ID, err)
		return err
	}
	s.setState(StateProcessing, sess.ID)
	s.log.Info("recording stopped",
		slog.String("session_id", sess.ID),
		slog.Int("pcm_bytes", len(pcm)))
	s.wg.Add(1)
	go s.process(sess, pcm)
	return nil
}

func (s *Service) cancelRecording() error {
	if s.state != StateRecording {
		return ErrNotRecording
	}
	sessID := s.session.ID
	if err := s.engine.Cancel(); err != nil {
		// The buffer is being discarded anyway.
		s.log.Debug("capture cancel", slogError(err))
	}
	s.session = nil
	s.setState(StateIdle, sessID)
	s.metrics.recordCycle(s.ctx, "cancelled")
	s.log.Info("recording cancelled", slog.String("session_id", sessID))
	return nil
}

func (s *Service) handleCaptureEvent(ev capture.Event) {
	switch ev.Kind {
	case capture.EventLevel:
		if s.state == StateRecording && s.session != nil {
			s.publishLevel(s.session.ID, ev.Level)
		}
	case capture.EventError:
		if s.state != StateRecording || s.session == nil {
			return
		}
		sessID := s.session.ID
		s.session = nil
		if err := s.engine.Cancel(); err != nil {
			s.log.Debug("capture reap after device failure", slogError(err))
		}
		s.failCycle(sessID, ev.Err)
	}
}

// process runs the heavy half of a stop transition off the loop, then posts
// the outcome back so the loop alone moves the state machine.
func (s *Service) process(sess RecordingSession, pcm []byte) {
	defer s.wg.Done()
	started := time.Now()
	outcome := s.runCycle(sess, pcm)
	outcome.elapsed = time.Since(started)
	select {
	case s.procCh <- outcome:
	case <-s.ctx.Done():
	}
}

func (s *Service) runCycle(sess RecordingSession, pcm []byte) procOutcome {
	outcome := procOutcome{session: sess}
	ctx, cancel := context.WithTimeout(s.ctx, processTimeout)
	defer cancel()

	wavBytes, err := wav.Encode(pcm, s.cfg.Capture.SampleRate, s.cfg.Capture.Channels)
	if err != nil {
		outcome.err = fmt.Errorf("encode audio: %w", err)
		return outcome
	}

	if !s.registry.IsConfigured() {
		// Credentials may have landed in the config after startup.
		if err := s.registry.Bootstrap(s.cfg.Transcribe, s.log); err != nil {
			outcome.err = err
			return outcome
		}
	}
	outcome.service = s.registry.PrimaryName()

	result, err := s.registry.Transcribe(ctx, transcribe.Audio{
		WAV:        wavBytes,
		SampleRate: s.cfg.Capture.SampleRate,
		Channels:   s.cfg.Capture.Channels,
	}, transcribe.Options{
		Language:       s.cfg.Transcribe.Language,
		Prompt:         s.cfg.Transcribe.Prompt,
		Temperature:    s.cfg.Transcribe.Temperature,
		WordTimestamps: s.cfg.Transcribe.WordTimestamps,
	})
	if err != nil {
		outcome.err = err
		return outcome
	}
	if result.DurationMS == 0 {
		result.DurationMS = wav.DurationMS(len(pcm), s.cfg.Capture.SampleRate, s.cfg.Capture.Channels)
	}
	if result.Language == "" {
		result.Language = "unknown"
	}
	outcome.result = result

	text, err := s.transform.Apply(ctx, result.Text)
	if err != nil {
		s.log.Warn("transform failed, keeping unpolished transcript", slogError(err))
	}
	outcome.text = strings.TrimSpace(text)
	if outcome.text == "" {
		// Silence. Nothing to persist or deliver.
		s.output.Notify("Transcription", "No speech detected")
		return outcome
	}

	entry, err := s.store.Insert(ctx, history.Entry{
		Text:       outcome.text,
		Language:   result.Language,
		DurationMS: result.DurationMS,
		Service:    outcome.service,
	})
	if err != nil {
		outcome.err = fmt.Errorf("persist transcription: %w", err)
		return outcome
	}
	outcome.entryID = entry.ID

	outcome.delivered, outcome.deliveryErr = s.output.Deliver(outcome.text)
	s.output.Notify("Transcription complete", snippet(outcome.text))
	return outcome
}

func (s *Service) finishProcessing(outcome procOutcome) {
	if s.state != StateProcessing {
		s.log.Warn("dropping processing outcome", slog.String("state", s.state.String()))
		return
	}
	s.session = nil
	s.metrics.recordProcessing(s.ctx, outcome.elapsed)

	if outcome.err != nil {
		s.failCycle(outcome.session.ID, outcome.err)
		return
	}

	s.setState(StateComplete, outcome.session.ID)
	s.publishResult(outcome)
	if outcome.text == "" {
		s.metrics.recordCycle(s.ctx, "empty")
		s.log.Info("cycle produced no speech", slog.String("session_id", outcome.session.ID))
		return
	}
	if outcome.deliveryErr != nil {
		// Output trouble degrades the delivery, not the cycle.
		msg := outcome.deliveryErr.Error()
		if outcome.delivered.Copied {
			msg += " (transcript is on the clipboard)"
		}
		s.publishError(outcome.session.ID, msg)
	}
	s.metrics.recordCycle(s.ctx, "complete")
	s.log.Info("cycle complete",
		slog.String("session_id", outcome.session.ID),
		slog.Int64("entry_id", outcome.entryID),
		slog.Int64("duration_ms", outcome.result.DurationMS),
		slog.String("service", outcome.service))
}

// failCycle moves the machine into error with the most useful message it
// can find: a backend's own complaint beats a wrapped chain around it.
func (s *Service) failCycle(sessionID string, err error) {
	s.log.Warn("recording cycle failed",
		slog.String("session_id", sessionID),
		slogError(err))
	s.setState(StateError, sessionID)
	s.publishError(sessionID, errorMessage(err))
	s.metrics.recordCycle(s.ctx, "error")
}

func errorMessage(err error) string {
	var be *transcribe.BackendError
	if errors.As(err, &be) {
		return be.Message
	}
	return err.Error()
}

func (s *Service) setState(next State, sessionID string) {
	s.state = next
	s.publishState(next, sessionID)
}

func (s *Service) publishState(state State, sessionID string) {
	s.publish(protocol.SubjectEventState, protocol.StateEvent{
		State:     state.String(),
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishLevel(sessionID string, level float64) {
	s.publish(protocol.SubjectEventLevel, protocol.LevelEvent{
		SessionID: sessionID,
		Level:     level,
	})
}

func (s *Service) publishError(sessionID, message string) {
	s.publish(protocol.SubjectEventError, protocol.ErrorEvent{
		SessionID: sessionID,
		Message:   message,
		Timestamp: time.Now().UTC(),
	})
}

func (s *Service) publishResult(outcome procOutcome) {
	s.publish(protocol.SubjectEventResult, protocol.ResultEvent{
		SessionID:  outcome.session.ID,
		EntryID:    outcome.entryID,
		Text:       outcome.text,
		Language:   outcome.result.Language,
		DurationMS: outcome.result.DurationMS,
		Segments:   mapSegments(outcome.result.Segments),
		Words:      mapWords(outcome.result.Words),
		Service:    outcome.service,
		Timestamp:  time.Now().UTC(),
	})
}

func (s *Service) publish(subject string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal event", slog.String("subject", subject), slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(subject, data); err != nil {
		s.log.Warn("failed to publish event", slog.String("subject", subject), slogError(err))
	}
}

func mapSegments(segments []transcribe.Segment) []protocol.Segment {
	if len(segments) == 0 {
		return nil
	}
	out := make([]protocol.Segment, 0, len(segments))
	for _, seg := range segments {
		out = append(out, protocol.Segment{StartMS: seg.StartMS, EndMS: seg.EndMS, Text: seg.Text})
	}
	return out
}

func mapWords(words []transcribe.Word) []protocol.Word {
	if len(words) == 0 {
		return nil
	}
	out := make([]protocol.Word, 0, len(words))
	for _, w := range words {
		out = append(out, protocol.Word{StartMS: w.StartMS, EndMS: w.EndMS, Word: w.Word})
	}
	return out
}

func snippet(text string) string {
	const max = 80
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max-3]) + "..."
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
