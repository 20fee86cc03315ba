package keepalive

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nerrad567/lhkeeper/internal/lighthouse"
	"github.com/nerrad567/lhkeeper/internal/link"
)

// fakeClock advances only when Sleep is called. cancelAfter, when set,
// cancels the context on the Nth sleep.
type fakeClock struct {
	now         time.Time
	sleeps      []time.Duration
	cancelAfter int
	cancel      context.CancelFunc
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.sleeps = append(c.sleeps, d)
	if c.cancelAfter > 0 && len(c.sleeps) == c.cancelAfter && c.cancel != nil {
		c.cancel()
		return ctx.Err()
	}
	c.now = c.now.Add(d)
	return nil
}

type fakeLink struct {
	connectErrs []error
	connects    int
	disconnects int
	writes      [][]byte
	writeErrs   []error
	onWrite     func()
	reads       int
	readValue   []byte
	readErr     error
	open        bool
}

func (l *fakeLink) Connect(context.Context, string) error {
	l.connects++
	if len(l.connectErrs) > 0 {
		err := l.connectErrs[0]
		l.connectErrs = l.connectErrs[1:]
		if err != nil {
			return err
		}
	}
	l.open = true
	return nil
}

func (l *fakeLink) WriteCharacteristic(_ uint16, value []byte) error {
	l.writes = append(l.writes, append([]byte(nil), value...))
	if l.onWrite != nil {
		l.onWrite()
	}
	if len(l.writeErrs) > 0 {
		err := l.writeErrs[0]
		l.writeErrs = l.writeErrs[1:]
		return err
	}
	return nil
}

func (l *fakeLink) ReadCharacteristic(uint16) ([]byte, error) {
	l.reads++
	return l.readValue, l.readErr
}

func (l *fakeLink) Disconnect() error {
	l.disconnects++
	l.open = false
	return nil
}

type recorder struct {
	events []lighthouse.Event
}

func (r *recorder) Observe(e lighthouse.Event) { r.events = append(r.events, e) }

func (r *recorder) count(t lighthouse.EventType) int {
	n := 0
	for _, e := range r.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (r *recorder) types() []lighthouse.EventType {
	out := make([]lighthouse.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

var errDropped = fmt.Errorf("peer went away: %w", lighthouse.ErrDisconnected)

func testConfig() Config {
	id := lighthouse.DeviceID(0xDEADBEEF)
	return Config{
		LighthouseID:  id,
		Address:       "aa:bb:cc:dd:ee:ff",
		Handle:        lighthouse.DefaultHandle,
		Command:       lighthouse.BuildWakeCommand(id, 60, lighthouse.DefaultSecondaryHeader),
		DeviceTimeout: 60 * time.Second,
		PingInterval:  20 * time.Second,
		GlobalTimeout: 50 * time.Second,
		Retry:         link.RetryPolicy{MaxAttempts: 5, Pause: 2 * time.Second},
		Verbosity:     VerbosityInfo,
	}
}

func newTestScheduler(t *testing.T, cfg Config, l *fakeLink, clock *fakeClock, rec *recorder) *Scheduler {
	t.Helper()
	s, err := New(Options{Config: cfg, Link: l, Clock: clock, Observer: rec, RunID: "run-1"})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestRun_StopsAfterGlobalTimeout(t *testing.T) {
	l := &fakeLink{}
	clock := newFakeClock()
	rec := &recorder{}
	s := newTestScheduler(t, testConfig(), l, clock, rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if l.connects != 3 {
		t.Errorf("connects = %d, want 3", l.connects)
	}
	if len(l.writes) != 3 {
		t.Errorf("writes = %d, want 3", len(l.writes))
	}
	if l.disconnects != 3 {
		t.Errorf("disconnects = %d, want 3", l.disconnects)
	}
	if len(clock.sleeps) != 3 {
		t.Errorf("sleeps = %v, want three 20s sleeps", clock.sleeps)
	}

	want, _ := hex.DecodeString("1202003cefbeadde000000000000000000000000")
	for i, w := range l.writes {
		if !bytes.Equal(w, want) {
			t.Errorf("write %d = %x, want %x", i, w, want)
		}
	}

	st := s.Status()
	if st.State != StateStopped || st.StopReason != StopDeadline {
		t.Errorf("status = %s/%s, want stopped/%s", st.State, st.StopReason, StopDeadline)
	}
	if st.Cycles != 3 || st.Failures != 0 {
		t.Errorf("cycles/failures = %d/%d, want 3/0", st.Cycles, st.Failures)
	}
	if st.Deadline == nil || !st.Deadline.Equal(st.StartedAt.Add(50*time.Second)) {
		t.Errorf("deadline = %v, want start+50s", st.Deadline)
	}
	if st.LastCycle == nil || st.LastCycle.Cycle != 3 || !st.LastCycle.Success {
		t.Errorf("last cycle = %+v, want successful cycle 3", st.LastCycle)
	}
	if rec.count(lighthouse.EventCycleComplete) != 3 {
		t.Errorf("cycle_complete events = %d, want 3", rec.count(lighthouse.EventCycleComplete))
	}
	if got := rec.events[len(rec.events)-1]; got.Type != lighthouse.EventStopped || got.State != StopDeadline {
		t.Errorf("last event = %s/%s, want stopped/%s", got.Type, got.State, StopDeadline)
	}
}

func TestRun_EventOrder(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalTimeout = time.Second // one cycle

	l := &fakeLink{}
	rec := &recorder{}
	s := newTestScheduler(t, cfg, l, newFakeClock(), rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []lighthouse.EventType{
		lighthouse.EventConnecting,
		lighthouse.EventConnected,
		lighthouse.EventWriting,
		lighthouse.EventWritten,
		lighthouse.EventDisconnected,
		lighthouse.EventCycleComplete,
		lighthouse.EventSleeping,
		lighthouse.EventAwake,
		lighthouse.EventStopped,
	}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestRun_WriteFailureStillDisconnects(t *testing.T) {
	l := &fakeLink{writeErrs: []error{errors.New("att: write rejected")}}
	rec := &recorder{}
	s := newTestScheduler(t, testConfig(), l, newFakeClock(), rec)

	err := s.Run(context.Background())
	if !errors.Is(err, lighthouse.ErrWrite) {
		t.Fatalf("Run() error = %v, want ErrWrite", err)
	}
	if l.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", l.disconnects)
	}
	if l.open {
		t.Error("link left open after write failure")
	}

	// The link must be released before the failure is reported.
	var sawDisconnect bool
	for _, e := range rec.events {
		if e.Type == lighthouse.EventDisconnected {
			sawDisconnect = true
		}
		if e.Type == lighthouse.EventCycleFailed {
			if !sawDisconnect {
				t.Error("cycle_failed emitted before disconnected")
			}
			if e.Report == nil || e.Report.ErrorKind() != lighthouse.KindWrite {
				t.Errorf("cycle_failed report = %+v, want write kind", e.Report)
			}
		}
	}

	st := s.Status()
	if st.StopReason != StopError || st.Failures != 1 {
		t.Errorf("status = %+v, want error stop with one failure", st)
	}
}

func TestRun_FatalErrorSurvivesConcurrentCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := &fakeLink{
		writeErrs: []error{errors.New("att: write rejected")},
		onWrite:   cancel,
	}
	s := newTestScheduler(t, testConfig(), l, newFakeClock(), &recorder{})

	err := s.Run(ctx)
	if !errors.Is(err, lighthouse.ErrWrite) {
		t.Fatalf("Run() error = %v, want ErrWrite even though ctx was canceled", err)
	}
	if st := s.Status(); st.StopReason != StopError {
		t.Errorf("stop reason = %q, want %q", st.StopReason, StopError)
	}
	if l.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", l.disconnects)
	}
}

func TestRun_ConnectionExhaustedIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Retry = link.RetryPolicy{MaxAttempts: 3, Pause: 2 * time.Second}

	l := &fakeLink{connectErrs: []error{errDropped, errDropped, errDropped}}
	clock := newFakeClock()
	s := newTestScheduler(t, cfg, l, clock, &recorder{})

	err := s.Run(context.Background())
	if !errors.Is(err, lighthouse.ErrConnection) {
		t.Fatalf("Run() error = %v, want ErrConnection", err)
	}
	if l.connects != 3 {
		t.Errorf("connects = %d, want 3", l.connects)
	}
	if len(l.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(l.writes))
	}
	if len(clock.sleeps) != 2 {
		t.Errorf("sleeps = %v, want two retry pauses", clock.sleeps)
	}
	if last := s.Status().LastCycle; last == nil || last.ConnectAttempts != 3 || last.ErrorKind != "connection" {
		t.Errorf("last cycle = %+v, want 3 attempts, kind connection", last)
	}
}

func TestRun_RecoversWithinCycle(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalTimeout = time.Second

	l := &fakeLink{connectErrs: []error{errDropped, nil}}
	s := newTestScheduler(t, cfg, l, newFakeClock(), &recorder{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if last := s.Status().LastCycle; last == nil || last.ConnectAttempts != 2 || !last.Success {
		t.Errorf("last cycle = %+v, want success after 2 attempts", last)
	}
}

func TestRun_CancelDuringSleepIsGraceful(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalTimeout = 0 // run forever

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := newFakeClock()
	clock.cancelAfter = 2
	clock.cancel = cancel

	l := &fakeLink{}
	s := newTestScheduler(t, cfg, l, clock, &recorder{})

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil on cancellation", err)
	}
	if l.connects != 2 || l.disconnects != 2 {
		t.Errorf("connects/disconnects = %d/%d, want 2/2", l.connects, l.disconnects)
	}
	if st := s.Status(); st.StopReason != StopCanceled || st.Deadline != nil {
		t.Errorf("status = %+v, want canceled with no deadline", st)
	}
}

func TestRun_AlreadyCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	l := &fakeLink{connectErrs: []error{context.Canceled}}
	s := newTestScheduler(t, testConfig(), l, newFakeClock(), &recorder{})

	if err := s.Run(ctx); err != nil {
		t.Fatalf("Run() error = %v, want nil", err)
	}
	if len(l.writes) != 0 {
		t.Errorf("writes = %d, want 0", len(l.writes))
	}
}

func TestRun_TraceReadsBack(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalTimeout = time.Second
	cfg.Verbosity = VerbosityTrace

	l := &fakeLink{readValue: []byte{0x12, 0x02}}
	rec := &recorder{}
	s := newTestScheduler(t, cfg, l, newFakeClock(), rec)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if l.reads != 1 {
		t.Errorf("reads = %d, want 1", l.reads)
	}
	if last := s.Status().LastCycle; last == nil || last.ReadBack != "1202" {
		t.Errorf("last cycle = %+v, want read_back 1202", last)
	}
	if rec.count(lighthouse.EventRead) != 1 {
		t.Errorf("read events = %d, want 1", rec.count(lighthouse.EventRead))
	}
}

func TestRun_InfoSkipsReadBack(t *testing.T) {
	cfg := testConfig()
	cfg.GlobalTimeout = time.Second

	l := &fakeLink{}
	s := newTestScheduler(t, cfg, l, newFakeClock(), &recorder{})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if l.reads != 0 {
		t.Errorf("reads = %d, want 0", l.reads)
	}
}

func TestRun_ReadFailureIsFatal(t *testing.T) {
	cfg := testConfig()
	cfg.Verbosity = VerbosityTrace

	l := &fakeLink{readErr: errors.New("att: read not permitted")}
	s := newTestScheduler(t, cfg, l, newFakeClock(), &recorder{})

	err := s.Run(context.Background())
	if !errors.Is(err, lighthouse.ErrRead) {
		t.Fatalf("Run() error = %v, want ErrRead", err)
	}
	if l.disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", l.disconnects)
	}
}

func TestNew_RequiresLink(t *testing.T) {
	if _, err := New(Options{Config: testConfig()}); err == nil {
		t.Error("New() without link should fail")
	}
}

func TestStatus_BeforeRun(t *testing.T) {
	s := newTestScheduler(t, testConfig(), &fakeLink{}, newFakeClock(), &recorder{})

	st := s.Status()
	if st.Running() {
		t.Error("Running() = true before Run")
	}
	if st.State != StateIdle || st.LighthouseID != "DEADBEEF" || st.RunID != "run-1" {
		t.Errorf("status = %+v", st)
	}
	if st.Command != "1202003cefbeadde000000000000000000000000" {
		t.Errorf("command = %s", st.Command)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "zero intervals", mutate: func(c *Config) { c.PingInterval = 0; c.DeviceTimeout = 0 }},
		{name: "missing address", mutate: func(c *Config) { c.Address = "" }, wantErr: "address is required"},
		{name: "zero handle", mutate: func(c *Config) { c.Handle = 0 }, wantErr: "handle"},
		{name: "ping too slow", mutate: func(c *Config) { c.PingInterval = 45 * time.Second }, wantErr: "ping"},
		{name: "no attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "attempts"},
		{name: "negative global", mutate: func(c *Config) { c.GlobalTimeout = -time.Second }, wantErr: "global timeout"},
		{name: "negative connect timeout", mutate: func(c *Config) { c.ConnectTimeout = -time.Second }, wantErr: "connect timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, lighthouse.ErrConfiguration) {
				t.Fatalf("Validate() error = %v, want ErrConfiguration", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}
