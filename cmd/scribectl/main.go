// Command scribectl drives a running scribed daemon over its NATS boundary:
// recording control, device and backend management, history queries and a
// live event watcher.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/nats-io/nats.go"
)

var version = "0.1.0-dev"

const requestTimeout = 5 * time.Second

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	cmd, args := os.Args[1], os.Args[2:]
	switch cmd {
	case "version":
		fmt.Println(version)
		return
	case "help", "-h", "--help":
		usage()
		return
	}

	if err := run(cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: scribectl <command> [flags]

Recording:
  toggle            start or stop recording, depending on state
  start             start recording
  stop              stop recording and transcribe
  cancel            discard the active recording

Devices and backends:
  devices           list input devices
  device [-id N]    select the capture device (-1 for the host default)
  backends          list transcription backends
                    (-primary NAME switches the primary first)

History:
  history           show recent transcriptions (-limit N, -id N for one entry)
  search <query>    full-text search over transcriptions
  delete -id N      delete one transcription
  clear             delete all transcriptions

Events:
  watch             stream pipeline events (-levels includes loudness samples)

All commands accept -server URL (default `+nats.DefaultURL+` or
the first entry of SCRIBE_BUS_SERVERS).
`)
}

func run(cmd string, args []string) error {
	switch cmd {
	case "toggle":
		return runSimple(protocol.SubjectAudioToggle, args)
	case "start":
		return runSimple(protocol.SubjectAudioStart, args)
	case "stop":
		return runSimple(protocol.SubjectAudioStop, args)
	case "cancel":
		return runSimple(protocol.SubjectAudioCancel, args)
	case "devices":
		return runDevices(args)
	case "device":
		return runDeviceSelect(args)
	case "backends":
		return runBackends(args)
	case "history":
		return runHistory(args)
	case "search":
		return runSearch(args)
	case "delete":
		return runDelete(args)
	case "clear":
		return runClear(args)
	case "watch":
		return runWatch(args)
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func newFlagSet(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	server := fs.String("server", defaultServer(), "NATS server URL of the scribe daemon")
	return fs, server
}

func defaultServer() string {
	if v := os.Getenv("SCRIBE_BUS_SERVERS"); v != "" {
		if i := strings.IndexByte(v, ','); i >= 0 {
			return v[:i]
		}
		return v
	}
	return nats.DefaultURL
}

func dial(server string) (*nats.Conn, error) {
	nc, err := nats.Connect(server, nats.Name("scribectl"), nats.Timeout(2*time.Second))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w (is scribed running?)", server, err)
	}
	return nc, nil
}

func request[T any](nc *nats.Conn, subject string, payload any) (T, error) {
	var reply T
	data, err := json.Marshal(payload)
	if err != nil {
		return reply, err
	}
	msg, err := nc.Request(subject, data, requestTimeout)
	if err != nil {
		return reply, fmt.Errorf("request %s: %w", subject, err)
	}
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return reply, fmt.Errorf("decode %s reply: %w", subject, err)
	}
	return reply, nil
}

func requestAck(nc *nats.Conn, subject string, payload any) error {
	ack, err := request[protocol.Ack](nc, subject, payload)
	if err != nil {
		return err
	}
	if !ack.OK {
		return errors.New(ack.Error)
	}
	return nil
}

func runSimple(subject string, args []string) error {
	fs, server := newFlagSet(subject)
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := requestAck(nc, subject, nil); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runDevices(args []string) error {
	fs, server := newFlagSet("devices")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	list, err := request[protocol.DeviceList](nc, protocol.SubjectAudioDevices, nil)
	if err != nil {
		return err
	}
	if list.Error != "" {
		return errors.New(list.Error)
	}
	if len(list.Devices) == 0 {
		fmt.Println("no input devices")
		return nil
	}
	for _, d := range list.Devices {
		marker := " "
		if d.IsDefault {
			marker = "*"
		}
		fmt.Printf("%s %3d  %s\n", marker, d.ID, d.Name)
	}
	return nil
}

func runDeviceSelect(args []string) error {
	fs, server := newFlagSet("device")
	id := fs.Int("id", -1, "Device ID to capture from (-1 selects the host default)")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := requestAck(nc, protocol.SubjectAudioDeviceSelect, protocol.DeviceSelect{ID: *id}); err != nil {
		return err
	}
	fmt.Println("ok")
	return nil
}

func runBackends(args []string) error {
	fs, server := newFlagSet("backends")
	primary := fs.String("primary", "", "Switch the primary backend before listing")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	if *primary != "" {
		if err := requestAck(nc, protocol.SubjectBackendPrimary, protocol.BackendPrimary{Name: *primary}); err != nil {
			return err
		}
	}

	list, err := request[protocol.BackendList](nc, protocol.SubjectBackendList, nil)
	if err != nil {
		return err
	}
	if list.Error != "" {
		return errors.New(list.Error)
	}
	if len(list.Backends) == 0 {
		fmt.Println("no backends configured")
		return nil
	}
	for _, b := range list.Backends {
		marker := " "
		if b.Primary {
			marker = "*"
		}
		fmt.Printf("%s %-16s %s\n", marker, b.Name, b.Kind)
	}
	return nil
}

func runHistory(args []string) error {
	fs, server := newFlagSet("history")
	limit := fs.Int("limit", 0, "Number of entries (0 uses the daemon default)")
	id := fs.Int64("id", 0, "Show one entry in full by ID")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	if *id > 0 {
		page, err := request[protocol.HistoryPage](nc, protocol.SubjectHistoryGet, protocol.HistoryQuery{ID: *id})
		if err != nil {
			return err
		}
		if page.Error != "" {
			return errors.New(page.Error)
		}
		for _, e := range page.Entries {
			printEntry(e)
		}
		return nil
	}

	page, err := request[protocol.HistoryPage](nc, protocol.SubjectHistoryRecent, protocol.HistoryQuery{Limit: *limit})
	if err != nil {
		return err
	}
	if page.Error != "" {
		return errors.New(page.Error)
	}
	printEntries(page.Entries)
	return nil
}

func runSearch(args []string) error {
	fs, server := newFlagSet("search")
	limit := fs.Int("limit", 0, "Number of entries (0 uses the daemon default)")
	fs.Parse(args)

	query := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if query == "" {
		return errors.New("search requires a query, e.g.: scribectl search standup notes")
	}

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	page, err := request[protocol.HistoryPage](nc, protocol.SubjectHistorySearch, protocol.HistoryQuery{Query: query, Limit: *limit})
	if err != nil {
		return err
	}
	if page.Error != "" {
		return errors.New(page.Error)
	}
	printEntries(page.Entries)
	return nil
}

func runDelete(args []string) error {
	fs, server := newFlagSet("delete")
	id := fs.Int64("id", 0, "Entry ID to delete")
	fs.Parse(args)

	if *id <= 0 {
		return errors.New("delete requires -id")
	}

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := requestAck(nc, protocol.SubjectHistoryDelete, protocol.HistoryQuery{ID: *id}); err != nil {
		return err
	}
	fmt.Println("deleted")
	return nil
}

func runClear(args []string) error {
	fs, server := newFlagSet("clear")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	cleared, err := request[protocol.HistoryCleared](nc, protocol.SubjectHistoryClear, nil)
	if err != nil {
		return err
	}
	if cleared.Error != "" {
		return errors.New(cleared.Error)
	}
	fmt.Printf("removed %d entries\n", cleared.Removed)
	return nil
}

func runWatch(args []string) error {
	fs, server := newFlagSet("watch")
	levels := fs.Bool("levels", false, "Include loudness samples (high rate)")
	fs.Parse(args)

	nc, err := dial(*server)
	if err != nil {
		return err
	}
	defer nc.Close()

	subs := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectEventState, printStateEvent},
		{protocol.SubjectEventResult, printResultEvent},
		{protocol.SubjectEventError, printErrorEvent},
	}
	if *levels {
		subs = append(subs, struct {
			subject string
			handler nats.MsgHandler
		}{protocol.SubjectEventLevel, printLevelEvent})
	}
	for _, s := range subs {
		if _, err := nc.Subscribe(s.subject, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
	}
	if err := nc.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "watching %s (ctrl-c to stop)\n", *server)
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	return nil
}

func printStateEvent(msg *nats.Msg) {
	var ev protocol.StateEvent
	if json.Unmarshal(msg.Data, &ev) != nil {
		return
	}
	line := fmt.Sprintf("%s  state   %s", ev.Timestamp.Local().Format("15:04:05"), ev.State)
	if ev.SessionID != "" {
		line += "  session=" + ev.SessionID
	}
	fmt.Println(line)
}

func printLevelEvent(msg *nats.Msg) {
	var ev protocol.LevelEvent
	if json.Unmarshal(msg.Data, &ev) != nil {
		return
	}
	fmt.Printf("          level   %.3f\n", ev.Level)
}

func printResultEvent(msg *nats.Msg) {
	var ev protocol.ResultEvent
	if json.Unmarshal(msg.Data, &ev) != nil {
		return
	}
	fmt.Printf("%s  result  #%d (%s, %.1fs) %s\n",
		ev.Timestamp.Local().Format("15:04:05"),
		ev.EntryID,
		ev.Service,
		float64(ev.DurationMS)/1000,
		ev.Text)
}

func printErrorEvent(msg *nats.Msg) {
	var ev protocol.ErrorEvent
	if json.Unmarshal(msg.Data, &ev) != nil {
		return
	}
	fmt.Printf("%s  error   %s\n", ev.Timestamp.Local().Format("15:04:05"), ev.Message)
}

func printEntries(entries []protocol.HistoryEntry) {
	if len(entries) == 0 {
		fmt.Println("no entries")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-5d %s  %s\n", e.ID, e.CreatedAt.Local().Format("2006-01-02 15:04"), snippet(e.Text))
	}
}

func printEntry(e protocol.HistoryEntry) {
	fmt.Printf("id:       %d\n", e.ID)
	fmt.Printf("created:  %s\n", e.CreatedAt.Local().Format(time.RFC3339))
	fmt.Printf("service:  %s\n", e.Service)
	if e.Language != "" {
		fmt.Printf("language: %s\n", e.Language)
	}
	fmt.Printf("duration: %.1fs\n", float64(e.DurationMS)/1000)
	fmt.Println()
	fmt.Println(e.Text)
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= 72 {
		return text
	}
	return string(runes[:72]) + "..."
}
