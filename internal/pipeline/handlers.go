package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/history"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/transcribe"
)

const requestTimeout = 5 * time.Second

func (s *Service) requestContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(s.ctx, requestTimeout)
}

func (s *Service) handleAudioStart(msg *nats.Msg) {
	s.respondAck(msg, s.dispatch(cmdStart))
}

func (s *Service) handleAudioStop(msg *nats.Msg) {
	s.respondAck(msg, s.dispatch(cmdStop))
}

func (s *Service) handleAudioCancel(msg *nats.Msg) {
	s.respondAck(msg, s.dispatch(cmdCancel))
}

func (s *Service) handleAudioToggle(msg *nats.Msg) {
	s.respondAck(msg, s.dispatch(cmdToggle))
}

func (s *Service) handleAudioDevices(msg *nats.Msg) {
	devices, err := s.engine.Devices()
	if err != nil {
		s.respond(msg, protocol.DeviceList{Error: err.Error()})
		return
	}
	list := protocol.DeviceList{Devices: make([]protocol.Device, 0, len(devices))}
	for _, d := range devices {
		list.Devices = append(list.Devices, protocol.Device{ID: d.ID, Name: d.Name, IsDefault: d.IsDefault})
	}
	s.respond(msg, list)
}

func (s *Service) handleDeviceSelect(msg *nats.Msg) {
	var req protocol.DeviceSelect
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondAck(msg, fmt.Errorf("decode request: %w", err))
		return
	}
	s.respondAck(msg, s.engine.SelectDevice(req.ID))
}

func (s *Service) handleHistoryRecent(msg *nats.Msg) {
	req, err := decodeHistoryQuery(msg.Data)
	if err != nil {
		s.respond(msg, protocol.HistoryPage{Error: err.Error()})
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	entries, err := s.store.Recent(ctx, req.Limit)
	s.respondEntries(msg, entries, err)
}

func (s *Service) handleHistorySearch(msg *nats.Msg) {
	req, err := decodeHistoryQuery(msg.Data)
	if err != nil {
		s.respond(msg, protocol.HistoryPage{Error: err.Error()})
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	entries, err := s.store.Search(ctx, req.Query, req.Limit)
	s.respondEntries(msg, entries, err)
}

func (s *Service) handleHistoryGet(msg *nats.Msg) {
	req, err := decodeHistoryQuery(msg.Data)
	if err != nil {
		s.respond(msg, protocol.HistoryPage{Error: err.Error()})
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	entry, err := s.store.Get(ctx, req.ID)
	if err != nil {
		s.respond(msg, protocol.HistoryPage{Error: err.Error()})
		return
	}
	s.respondEntries(msg, []history.Entry{entry}, nil)
}

func (s *Service) handleHistoryDelete(msg *nats.Msg) {
	req, err := decodeHistoryQuery(msg.Data)
	if err != nil {
		s.respondAck(msg, err)
		return
	}
	ctx, cancel := s.requestContext()
	defer cancel()
	s.respondAck(msg, s.store.Delete(ctx, req.ID))
}

func (s *Service) handleHistoryClear(msg *nats.Msg) {
	ctx, cancel := s.requestContext()
	defer cancel()
	removed, err := s.store.Clear(ctx)
	if err != nil {
		s.respond(msg, protocol.HistoryCleared{Error: err.Error()})
		return
	}
	s.respond(msg, protocol.HistoryCleared{Removed: removed})
}

func (s *Service) handleBackendConfigure(msg *nats.Msg) {
	var req protocol.BackendConfigure
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondAck(msg, fmt.Errorf("decode request: %w", err))
		return
	}
	if req.Name == "" {
		s.respondAck(msg, errors.New("backend name required"))
		return
	}
	backend, err := transcribe.NewBackend(config.BackendConfig{
		Name:    req.Name,
		Kind:    req.Kind,
		APIKey:  req.APIKey,
		BaseURL: req.BaseURL,
		Model:   req.Model,
		Command: req.Command,
	}, s.log)
	if err != nil {
		s.respondAck(msg, err)
		return
	}
	s.registry.Configure(backend, req.Primary)
	s.respondAck(msg, nil)
}

func (s *Service) handleBackendPrimary(msg *nats.Msg) {
	var req protocol.BackendPrimary
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.respondAck(msg, fmt.Errorf("decode request: %w", err))
		return
	}
	s.respondAck(msg, s.registry.SetPrimary(req.Name))
}

func (s *Service) handleBackendList(msg *nats.Msg) {
	available := s.registry.Available()
	list := protocol.BackendList{Backends: make([]protocol.BackendInfo, 0, len(available))}
	for _, info := range available {
		list.Backends = append(list.Backends, protocol.BackendInfo{
			Name:    info.Name,
			Kind:    info.Kind,
			Primary: info.Primary,
		})
	}
	s.respond(msg, list)
}

func (s *Service) handleOutputCopy(msg *nats.Msg) {
	text, err := decodeOutputText(msg.Data)
	if err != nil {
		s.respondAck(msg, err)
		return
	}
	s.respondAck(msg, s.output.Copy(text))
}

func (s *Service) handleOutputPaste(msg *nats.Msg) {
	text, err := decodeOutputText(msg.Data)
	if err != nil {
		s.respondAck(msg, err)
		return
	}
	s.respondAck(msg, s.output.Paste(text))
}

func (s *Service) handleOutputRestore(msg *nats.Msg) {
	s.respondAck(msg, s.output.Restore())
}

func decodeHistoryQuery(data []byte) (protocol.HistoryQuery, error) {
	var req protocol.HistoryQuery
	if len(data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return req, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

func decodeOutputText(data []byte) (string, error) {
	var req protocol.OutputText
	if len(data) > 0 {
		if err := json.Unmarshal(data, &req); err != nil {
			return "", fmt.Errorf("decode request: %w", err)
		}
	}
	if req.Text == "" {
		return "", errors.New("text required")
	}
	return req.Text, nil
}

func (s *Service) respondEntries(msg *nats.Msg, entries []history.Entry, err error) {
	if err != nil {
		s.respond(msg, protocol.HistoryPage{Error: err.Error()})
		return
	}
	page := protocol.HistoryPage{Entries: make([]protocol.HistoryEntry, 0, len(entries))}
	for _, e := range entries {
		page.Entries = append(page.Entries, protocol.HistoryEntry{
			ID:         e.ID,
			Text:       e.Text,
			Language:   e.Language,
			DurationMS: e.DurationMS,
			Service:    e.Service,
			CreatedAt:  e.CreatedAt,
		})
	}
	s.respond(msg, page)
}

func (s *Service) respondAck(msg *nats.Msg, err error) {
	ack := protocol.Ack{OK: err == nil}
	if err != nil {
		ack.Error = err.Error()
	}
	s.respond(msg, ack)
}

func (s *Service) respond(msg *nats.Msg, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Warn("failed to marshal reply", slog.String("subject", msg.Subject), slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.log.Warn("failed to respond", slog.String("subject", msg.Subject), slogError(err))
	}
}
