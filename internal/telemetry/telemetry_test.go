package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/lhkeeper/internal/history"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/influxdb"
	"github.com/nerrad567/lhkeeper/internal/infrastructure/mqtt"
	"github.com/nerrad567/lhkeeper/internal/lighthouse"
)

type logLine struct {
	level string
	msg   string
	args  []any
}

type recordingLogger struct {
	mu    sync.Mutex
	lines []logLine
}

func (l *recordingLogger) add(level, msg string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, logLine{level, msg, args})
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.add("DEBUG", msg, args) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.add("INFO", msg, args) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.add("WARN", msg, args) }
func (l *recordingLogger) Error(msg string, args ...any) { l.add("ERROR", msg, args) }

// attr returns the value logged under key for the first line with msg.
func (l *recordingLogger) attr(msg, key string) (any, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if line.msg != msg {
			continue
		}
		for i := 0; i+1 < len(line.args); i += 2 {
			if line.args[i] == key {
				return line.args[i+1], true
			}
		}
	}
	return nil, false
}

func (l *recordingLogger) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.lines))
	for _, line := range l.lines {
		out = append(out, line.level+" "+line.msg)
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// cycleEvents is the event sequence of one healthy cycle with read-back.
func cycleEvents() []lighthouse.Event {
	payload := lighthouse.BuildWakeCommand(0xDEADBEEF, 60, lighthouse.DefaultSecondaryHeader).Bytes()
	report := &lighthouse.CycleReport{Cycle: 1, StartedAt: t0, ConnectAttempts: 2}
	return []lighthouse.Event{
		{Type: lighthouse.EventConnecting, Attempt: 1},
		{Type: lighthouse.EventConnectFailed, Attempt: 1, Err: lighthouse.ErrDisconnected},
		{Type: lighthouse.EventConnecting, Attempt: 2},
		{Type: lighthouse.EventConnected, Attempt: 2},
		{Type: lighthouse.EventWriting, Handle: 0x35, Payload: payload},
		{Type: lighthouse.EventWritten, Handle: 0x35, Payload: payload},
		{Type: lighthouse.EventReading, Handle: 0x35},
		{Type: lighthouse.EventRead, Handle: 0x35, Payload: payload},
		{Type: lighthouse.EventDisconnected},
		{Type: lighthouse.EventCycleComplete, Report: report},
		{Type: lighthouse.EventSleeping, Duration: 20 * time.Second},
		{Type: lighthouse.EventAwake},
	}
}

func TestConsole_Verbosity(t *testing.T) {
	tests := []struct {
		name      string
		verbosity int
		wantLines int
	}{
		{"silent", 0, 0},
		{"info", 1, 6},   // connected, writing, written, disconnected, cycle complete, sleeping
		{"trace", 2, 11}, // adds connecting x2, retry, read back, awake
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log := &recordingLogger{}
			c := NewConsole(log, tt.verbosity)
			for _, e := range cycleEvents() {
				c.Observe(e)
			}
			if got := log.messages(); len(got) != tt.wantLines {
				t.Errorf("lines = %d, want %d: %v", len(got), tt.wantLines, got)
			}
		})
	}
}

func TestConsole_InfoShowsWritePayload(t *testing.T) {
	log := &recordingLogger{}
	c := NewConsole(log, 1)
	for _, e := range cycleEvents() {
		c.Observe(e)
	}

	if got, ok := log.attr("writing", "payload"); !ok || got != "1202003cefbeadde000000000000000000000000" {
		t.Errorf("writing payload = %v, want wake command hex", got)
	}
	if got, ok := log.attr("writing", "handle"); !ok || got != "0x35" {
		t.Errorf("writing handle = %v, want 0x35", got)
	}
	if _, ok := log.attr("read back", "value"); ok {
		t.Error("read back logged at verbosity 1")
	}
}

func TestConsole_DisconnectFailureAlwaysWarns(t *testing.T) {
	log := &recordingLogger{}
	c := NewConsole(log, 0)

	c.Observe(lighthouse.Event{Type: lighthouse.EventDisconnected, Err: errors.New("hci: unknown connection")})

	got := log.messages()
	if len(got) != 1 || got[0] != "WARN disconnect failed" {
		t.Errorf("lines = %v", got)
	}
}

func TestConsole_CycleFailedIsError(t *testing.T) {
	log := &recordingLogger{}
	c := NewConsole(log, 1)

	err := fmt.Errorf("%w: handle 0x35: att error", lighthouse.ErrWrite)
	c.Observe(lighthouse.Event{
		Type:   lighthouse.EventCycleFailed,
		Err:    err,
		Report: &lighthouse.CycleReport{Cycle: 3, Err: err},
	})

	if got := log.messages(); len(got) != 1 || got[0] != "ERROR cycle failed" {
		t.Errorf("lines = %v", got)
	}
}

type publishedJSON struct {
	topic    string
	body     []byte
	retained bool
}

type fakePublisher struct {
	published  []publishedJSON
	handlers   map[string]mqtt.MessageHandler
	publishErr error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{handlers: make(map[string]mqtt.MessageHandler)}
}

func (p *fakePublisher) PublishJSON(topic string, v any, retained bool) error {
	if p.publishErr != nil {
		return p.publishErr
	}
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}
	p.published = append(p.published, publishedJSON{topic, body, retained})
	return nil
}

func (p *fakePublisher) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	p.handlers[topic] = handler
	return nil
}

func (p *fakePublisher) onTopic(topic string) []publishedJSON {
	var out []publishedJSON
	for _, m := range p.published {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func TestMQTT_PublishesEventsStateAndHealth(t *testing.T) {
	pub := newFakePublisher()
	m := NewMQTT(pub, "DEADBEEF", "run-1", nil)

	events := cycleEvents()
	for _, e := range events {
		m.Observe(e)
	}

	evts := pub.onTopic("lhkeeper/event/DEADBEEF")
	if len(evts) != len(events) {
		t.Fatalf("event messages = %d, want %d", len(evts), len(events))
	}
	for _, e := range evts {
		if e.retained {
			t.Error("events must not be retained")
		}
	}

	var first EventMessage
	if err := json.Unmarshal(evts[4].body, &first); err != nil {
		t.Fatal(err)
	}
	if first.Type != lighthouse.EventWriting || first.Payload != "1202003cefbeadde000000000000000000000000" || first.RunID != "run-1" {
		t.Errorf("writing event = %+v", first)
	}

	states := pub.onTopic("lhkeeper/state/DEADBEEF")
	if len(states) != 1 || !states[0].retained {
		t.Fatalf("state messages = %+v", states)
	}
	var state StateMessage
	if err := json.Unmarshal(states[0].body, &state); err != nil {
		t.Fatal(err)
	}
	if state.LastCycle == nil || state.LastCycle.ConnectAttempts != 2 || !state.LastCycle.Success {
		t.Errorf("state = %+v", state)
	}

	if m.Health() != HealthHealthy {
		t.Errorf("Health() = %q, want healthy", m.Health())
	}
	if h := pub.onTopic("lhkeeper/health"); len(h) != 1 || !h[0].retained {
		t.Errorf("health messages = %+v", h)
	}
}

func TestMQTT_HealthTransitions(t *testing.T) {
	pub := newFakePublisher()
	m := NewMQTT(pub, "DEADBEEF", "run-1", nil)

	failed := &lighthouse.CycleReport{Cycle: 1, Err: lighthouse.ErrWrite}
	m.Observe(lighthouse.Event{Type: lighthouse.EventCycleFailed, Report: failed, Err: failed.Err})
	m.Observe(lighthouse.Event{Type: lighthouse.EventCycleFailed, Report: failed, Err: failed.Err})
	m.Observe(lighthouse.Event{Type: lighthouse.EventStopped, State: "error"})

	var got []string
	for _, msg := range pub.onTopic("lhkeeper/health") {
		var h HealthMessage
		if err := json.Unmarshal(msg.body, &h); err != nil {
			t.Fatal(err)
		}
		got = append(got, h.Status)
	}
	if strings.Join(got, ",") != "degraded,stopping" {
		t.Errorf("health sequence = %v", got)
	}
}

func TestMQTT_PublishFailureIsLogged(t *testing.T) {
	pub := newFakePublisher()
	pub.publishErr = mqtt.ErrNotConnected
	log := &recordingLogger{}
	m := NewMQTT(pub, "DEADBEEF", "run-1", log)

	m.Observe(lighthouse.Event{Type: lighthouse.EventAwake})

	if got := log.messages(); len(got) != 1 || got[0] != "DEBUG mqtt publish dropped" {
		t.Errorf("lines = %v", got)
	}
}

func TestHandleCommands(t *testing.T) {
	pub := newFakePublisher()
	stops := 0
	if err := HandleCommands(pub, "DEADBEEF", func() { stops++ }); err != nil {
		t.Fatalf("HandleCommands() error = %v", err)
	}

	handler, ok := pub.handlers["lhkeeper/command/DEADBEEF"]
	if !ok {
		t.Fatalf("subscribed to %v", pub.handlers)
	}

	tests := []struct {
		payload string
		wantErr bool
	}{
		{`{"command":"stop"}`, false},
		{`{"command":"reboot"}`, true},
		{`not json`, true},
	}
	for _, tt := range tests {
		err := handler("lhkeeper/command/DEADBEEF", []byte(tt.payload))
		if (err != nil) != tt.wantErr {
			t.Errorf("payload %s: error = %v, wantErr %v", tt.payload, err, tt.wantErr)
		}
	}
	if stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
}

type fakeWriter struct {
	cycles  []lighthouse.CycleSummary
	retries []int
	tags    influxdb.Tags
}

func (w *fakeWriter) WriteCycle(tags influxdb.Tags, s lighthouse.CycleSummary) {
	w.tags = tags
	w.cycles = append(w.cycles, s)
}

func (w *fakeWriter) WriteConnectRetry(tags influxdb.Tags, attempt int, _ time.Time) {
	w.tags = tags
	w.retries = append(w.retries, attempt)
}

func TestInflux_WritesCyclesAndRetries(t *testing.T) {
	w := &fakeWriter{}
	tags := influxdb.Tags{LighthouseID: "DEADBEEF", Address: "aa:bb:cc:dd:ee:ff", RunID: "run-1"}
	obs := NewInflux(w, tags)

	for _, e := range cycleEvents() {
		obs.Observe(e)
	}

	if len(w.cycles) != 1 || w.cycles[0].ConnectAttempts != 2 {
		t.Errorf("cycles = %+v", w.cycles)
	}
	if len(w.retries) != 1 || w.retries[0] != 1 {
		t.Errorf("retries = %v", w.retries)
	}
	if w.tags != tags {
		t.Errorf("tags = %+v", w.tags)
	}
}

type fakeRepo struct {
	entries   []history.Entry
	recordErr error

	mu       sync.Mutex
	pruned   time.Duration
	prunes   int
	pruneErr error
}

func (r *fakeRepo) Record(_ context.Context, e history.Entry) error {
	if r.recordErr != nil {
		return r.recordErr
	}
	r.entries = append(r.entries, e)
	return nil
}

func (r *fakeRepo) Recent(context.Context, int) ([]history.Entry, error) {
	return r.entries, nil
}

func (r *fakeRepo) Prune(_ context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pruned = olderThan
	r.prunes++
	if r.pruneErr != nil {
		return 0, r.pruneErr
	}
	return 7, nil
}

func (r *fakeRepo) pruneCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.prunes
}

func TestHistory_RecordsFinishedCycles(t *testing.T) {
	repo := &fakeRepo{}
	h := NewHistory(repo, "run-1", "DEADBEEF", "aa:bb:cc:dd:ee:ff", nil)

	for _, e := range cycleEvents() {
		h.Observe(e)
	}
	failed := &lighthouse.CycleReport{Cycle: 2, StartedAt: t0, Err: lighthouse.ErrConnection}
	h.Observe(lighthouse.Event{Type: lighthouse.EventCycleFailed, Report: failed, Err: failed.Err})

	if len(repo.entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(repo.entries))
	}
	got := repo.entries[1]
	if got.RunID != "run-1" || got.LighthouseID != "DEADBEEF" || got.Success || got.ErrorKind != "connection" {
		t.Errorf("failed entry = %+v", got)
	}
}

func TestHistory_RecordFailureIsLogged(t *testing.T) {
	repo := &fakeRepo{recordErr: errors.New("database is locked")}
	log := &recordingLogger{}
	h := NewHistory(repo, "run-1", "DEADBEEF", "aa:bb:cc:dd:ee:ff", log)

	h.Observe(lighthouse.Event{Type: lighthouse.EventCycleComplete, Report: &lighthouse.CycleReport{Cycle: 1}})

	if got := log.messages(); len(got) != 1 || !strings.HasPrefix(got[0], "WARN") {
		t.Errorf("lines = %v", got)
	}
}

func TestPruneHistory(t *testing.T) {
	repo := &fakeRepo{}

	n, err := PruneHistory(context.Background(), repo, 0)
	if err != nil || n != 0 || repo.pruned != 0 {
		t.Errorf("zero retention: n=%d err=%v pruned=%v", n, err, repo.pruned)
	}

	n, err = PruneHistory(context.Background(), repo, 30*24*time.Hour)
	if err != nil || n != 7 || repo.pruned != 30*24*time.Hour {
		t.Errorf("n=%d err=%v pruned=%v", n, err, repo.pruned)
	}
}

func TestRunPruner_PrunesPeriodically(t *testing.T) {
	tests := []struct {
		name     string
		pruneErr error
		wantLog  string
	}{
		{"success", nil, "INFO pruned cycle history"},
		{"failure keeps running", errors.New("database is locked"), "WARN pruning cycle history failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &fakeRepo{pruneErr: tt.pruneErr}
			log := &recordingLogger{}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			done := make(chan error, 1)
			go func() { done <- RunPruner(ctx, repo, 30*24*time.Hour, 5*time.Millisecond, log) }()

			deadline := time.After(2 * time.Second)
			for repo.pruneCount() < 2 {
				select {
				case <-deadline:
					t.Fatalf("prunes = %d, want at least 2", repo.pruneCount())
				case <-time.After(time.Millisecond):
				}
			}
			cancel()

			select {
			case err := <-done:
				if err != nil {
					t.Errorf("RunPruner() error = %v, want nil", err)
				}
			case <-time.After(time.Second):
				t.Fatal("RunPruner did not return after cancel")
			}

			var found bool
			for _, m := range log.messages() {
				if m == tt.wantLog {
					found = true
				}
			}
			if !found {
				t.Errorf("log lines = %v, want %q", log.messages(), tt.wantLog)
			}
		})
	}
}

func TestRunPruner_ZeroRetentionReturns(t *testing.T) {
	repo := &fakeRepo{}
	if err := RunPruner(context.Background(), repo, 0, time.Millisecond, nil); err != nil {
		t.Fatalf("RunPruner() error = %v", err)
	}
	if repo.pruneCount() != 0 {
		t.Errorf("prunes = %d, want 0", repo.pruneCount())
	}
}

func TestObservers_FanOut(t *testing.T) {
	pub := newFakePublisher()
	w := &fakeWriter{}
	repo := &fakeRepo{}

	all := lighthouse.Observers{
		NewConsole(&recordingLogger{}, 2),
		NewMQTT(pub, "DEADBEEF", "run-1", nil),
		NewInflux(w, influxdb.Tags{LighthouseID: "DEADBEEF"}),
		NewHistory(repo, "run-1", "DEADBEEF", "aa:bb:cc:dd:ee:ff", nil),
	}
	for _, e := range cycleEvents() {
		all.Observe(e)
	}

	if len(w.cycles) != 1 || len(repo.entries) != 1 || len(pub.onTopic("lhkeeper/state/DEADBEEF")) != 1 {
		t.Errorf("fan-out incomplete: influx=%d history=%d state=%d",
			len(w.cycles), len(repo.entries), len(pub.onTopic("lhkeeper/state/DEADBEEF")))
	}
}
