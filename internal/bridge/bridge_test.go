package bridge

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/ipx800-bridge/internal/device"
	"github.com/nerrad567/ipx800-bridge/internal/infrastructure/config"
	"github.com/nerrad567/ipx800-bridge/internal/ipx800"
	"github.com/nerrad567/ipx800-bridge/internal/state"
)

// fakeController is an in-memory IPX800.
type fakeController struct {
	mu       sync.Mutex
	raw      state.Raw
	fail     map[string]bool
	fetchErr error
	calls    []string
}

func newFakeController() *fakeController {
	raw := state.NewRaw()
	for i := 0; i < 4; i++ {
		raw.Inputs[fmt.Sprintf("btn%d", i)] = false
	}
	for i := 0; i < 8; i++ {
		raw.Outputs[fmt.Sprintf("led%d", i)] = false
	}
	return &fakeController{raw: raw, fail: make(map[string]bool)}
}

func (f *fakeController) FetchStatus(context.Context) (state.Raw, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return state.Raw{}, f.fetchErr
	}
	return f.raw.Clone(), nil
}

func (f *fakeController) SetOutputs(_ context.Context, channels []string, desired bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range channels {
		if !state.IsOutputChannel(ch) {
			return fmt.Errorf("%w: %q", ipx800.ErrInvalidChannel, ch)
		}
	}

	var failed []string
	causes := make(map[string]error)
	for _, ch := range channels {
		f.calls = append(f.calls, fmt.Sprintf("%s=%v", ch, desired))
		if f.fail[ch] {
			failed = append(failed, ch)
			causes[ch] = ipx800.ErrTransientIO
			continue
		}
		f.raw.Outputs[ch] = desired
	}
	if len(failed) > 0 {
		return &ipx800.ActuationError{Failed: failed, Causes: causes}
	}
	return nil
}

func (f *fakeController) setInput(ch string, pressed bool) {
	f.mu.Lock()
	f.raw.Inputs[ch] = pressed
	f.mu.Unlock()
}

func (f *fakeController) setFailing(ch string, failing bool) {
	f.mu.Lock()
	f.fail[ch] = failing
	f.mu.Unlock()
}

func (f *fakeController) output(ch string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.raw.Outputs[ch]
}

func (f *fakeController) recorded() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

func testEndpoint() config.EndpointConfig {
	return config.EndpointConfig{
		ID:           "garage",
		Name:         "Garage",
		Address:      "192.168.1.50",
		PollInterval: 20 * time.Millisecond,
		MaxBackoff:   100 * time.Millisecond,
		Trigger:      config.TriggerChange,
	}
}

func openRegistry(t *testing.T, dir string, ep config.EndpointConfig) *device.Registry {
	t.Helper()
	dbCfg := config.DatabaseConfig{DataDir: dir, WALMode: true, BusyTimeout: 5}
	reg, err := device.Load(context.Background(), dbCfg, ep, nil)
	if err != nil {
		t.Fatalf("device.Load() error = %v", err)
	}
	t.Cleanup(func() { reg.Close() }) //nolint:errcheck // Test cleanup
	return reg
}

// flakyRegistry fails one chosen ApplyStates call and passes everything
// else through to the real registry.
type flakyRegistry struct {
	*device.Registry

	mu     sync.Mutex
	calls  int
	failAt int
}

// failCall makes the n-th ApplyStates call from now fail.
func (r *flakyRegistry) failCall(n int) {
	r.mu.Lock()
	r.failAt = r.calls + n
	r.mu.Unlock()
}

func (r *flakyRegistry) ApplyStates(ctx context.Context, changes []device.StateChange) error {
	r.mu.Lock()
	r.calls++
	fail := r.calls == r.failAt
	r.mu.Unlock()
	if fail {
		return errors.New("disk I/O error")
	}
	return r.Registry.ApplyStates(ctx, changes)
}

type fixture struct {
	ctrl   *fakeController
	reg    *device.Registry
	bridge *Bridge
}

func newFixture(t *testing.T, ep config.EndpointConfig, defs ...device.Definition) *fixture {
	t.Helper()
	ctx := context.Background()

	reg := openRegistry(t, t.TempDir(), ep)
	for _, def := range defs {
		if _, err := reg.AddDevice(ctx, def); err != nil {
			t.Fatalf("AddDevice(%s) error = %v", def.ID, err)
		}
	}

	ctrl := newFakeController()
	b, err := New(Options{Endpoint: ep, Controller: ctrl, Registry: reg})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &fixture{ctrl: ctrl, reg: reg, bridge: b}
}

func hallDevice() device.Definition {
	return device.Definition{ID: "hall", Name: "Hall", InputChannel: "btn0", OutputChannels: []string{"led0", "led1"}}
}

func (f *fixture) poll(t *testing.T) error {
	t.Helper()
	return f.bridge.PollOnce(context.Background())
}

func (f *fixture) device(t *testing.T, id string) *device.LogicalDevice {
	t.Helper()
	d, err := f.reg.GetDevice(id)
	if err != nil {
		t.Fatalf("GetDevice(%s) error = %v", id, err)
	}
	return d
}

func TestNew_PublishesInitialSnapshot(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())

	snap, ok := f.bridge.Hub().Latest()
	if !ok {
		t.Fatal("no snapshot published by New")
	}
	if snap.Seq != 1 || snap.Endpoint != "garage" {
		t.Errorf("snapshot = seq %d endpoint %q", snap.Seq, snap.Endpoint)
	}
	if _, ok := snap.Device("hall"); !ok {
		t.Error("initial snapshot missing registered device")
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := New(Options{Endpoint: testEndpoint()}); err == nil {
		t.Error("New() without controller should fail")
	}
	if _, err := New(Options{Endpoint: testEndpoint(), Controller: newFakeController()}); err == nil {
		t.Error("New() without registry should fail")
	}
}

func TestIngest_FirstReadingIsBaseline(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	f.ctrl.setInput("btn0", true)

	if err := f.poll(t); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	if f.device(t, "hall").LogicalState {
		t.Error("first reading toggled the device")
	}
	if calls := f.ctrl.recorded(); len(calls) != 0 {
		t.Errorf("actuation on first reading: %v", calls)
	}
	snap := f.bridge.Snapshot()
	if !snap.Inputs["btn0"] {
		t.Error("snapshot does not carry the polled input")
	}
}

func TestIngest_InputTransitionTogglesDevice(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	f.ctrl.setInput("btn0", true)
	if err := f.poll(t); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	d := f.device(t, "hall")
	if !d.LogicalState {
		t.Fatal("device not toggled on")
	}
	if d.PendingState != nil {
		t.Errorf("intent not confirmed: %v", *d.PendingState)
	}
	if !f.ctrl.output("led0") || !f.ctrl.output("led1") {
		t.Error("outputs not driven on")
	}

	snap := f.bridge.Snapshot()
	view, _ := snap.Device("hall")
	if !view.LogicalState || view.Pending {
		t.Errorf("snapshot device = %+v", view)
	}
	if !snap.Outputs["led0"] || !snap.Outputs["led1"] {
		t.Errorf("snapshot outputs = %v", snap.Outputs)
	}

	// Releasing the button is a change too.
	f.ctrl.setInput("btn0", false)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	if f.device(t, "hall").LogicalState {
		t.Error("device not toggled back off")
	}

	history, err := f.reg.History(context.Background(), "hall", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 || history[0].Source != device.SourceInput {
		t.Errorf("history = %+v", history)
	}
}

func TestIngest_PressModeIgnoresRelease(t *testing.T) {
	ep := testEndpoint()
	ep.Trigger = config.TriggerPress
	f := newFixture(t, ep, hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	f.ctrl.setInput("btn0", true)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	f.ctrl.setInput("btn0", false)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	if !f.device(t, "hall").LogicalState {
		t.Error("release toggled the device in press mode")
	}
}

func TestIngest_DevicesOnOneInputInRegistrationOrder(t *testing.T) {
	f := newFixture(t, testEndpoint(),
		device.Definition{ID: "b", Name: "B", InputChannel: "btn1", OutputChannels: []string{"led5"}},
		device.Definition{ID: "a", Name: "A", InputChannel: "btn1", OutputChannels: []string{"led2"}},
		device.Definition{ID: "c", Name: "C", InputChannel: "btn2", OutputChannels: []string{"led7"}},
	)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	f.ctrl.setInput("btn1", true)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	want := []string{"led5=true", "led2=true"}
	if got := f.ctrl.recorded(); !reflect.DeepEqual(got, want) {
		t.Errorf("actuation order = %v, want %v", got, want)
	}
	if f.device(t, "c").LogicalState {
		t.Error("device on another input was toggled")
	}
}

func TestIngest_UnboundInputIsInert(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	f.ctrl.setInput("btn3", true)
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	if calls := f.ctrl.recorded(); len(calls) != 0 {
		t.Errorf("unbound input caused actuation: %v", calls)
	}
	if !f.bridge.Snapshot().Inputs["btn3"] {
		t.Error("input change not reflected in snapshot")
	}
}

func TestIngest_PartialUpdateKeepsOtherChannels(t *testing.T) {
	f := newFixture(t, testEndpoint())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	update := state.NewRaw()
	update.Outputs["led4"] = true
	if err := f.bridge.Ingest(context.Background(), update); err != nil {
		t.Fatal(err)
	}

	snap := f.bridge.Snapshot()
	if len(snap.Inputs) != 4 || len(snap.Outputs) != 8 {
		t.Errorf("partial update dropped channels: inputs %d outputs %d", len(snap.Inputs), len(snap.Outputs))
	}
	if !snap.Outputs["led4"] {
		t.Error("partial update not applied")
	}
}

func TestIngest_ActuationFailureKeepsIntentUntilRecovered(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}

	f.ctrl.setFailing("led1", true)
	f.ctrl.setInput("btn0", true)
	err := f.poll(t)
	if !errors.Is(err, ipx800.ErrActuationFailed) {
		t.Fatalf("PollOnce() error = %v, want ErrActuationFailed", err)
	}

	d := f.device(t, "hall")
	if !d.LogicalState || d.PendingState == nil || !*d.PendingState {
		t.Fatalf("device after failed actuation = %+v", d)
	}
	if view, _ := f.bridge.Snapshot().Device("hall"); !view.Pending {
		t.Error("snapshot does not flag the pending intent")
	}

	// Next cycle, no input change: the intent is re-driven.
	f.ctrl.setFailing("led1", false)
	f.ctrl.reset()
	if err := f.poll(t); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}

	d = f.device(t, "hall")
	if d.PendingState != nil || !d.LogicalState {
		t.Errorf("intent not confirmed after recovery: %+v", d)
	}
	want := []string{"led0=true", "led1=true"}
	if got := f.ctrl.recorded(); !reflect.DeepEqual(got, want) {
		t.Errorf("re-actuation = %v, want %v", got, want)
	}
}

func TestIngest_UnstoredToggleIsRetried(t *testing.T) {
	tests := []struct {
		name    string
		trigger string
	}{
		{name: "change", trigger: config.TriggerChange},
		{name: "press", trigger: config.TriggerPress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ep := testEndpoint()
			ep.Trigger = tt.trigger
			f := newFixture(t, ep, hallDevice())
			if err := f.poll(t); err != nil {
				t.Fatal(err)
			}

			pressed := state.NewRaw()
			pressed.Inputs["btn0"] = true

			// A cancelled context makes the registry transaction fail.
			cancelled, cancel := context.WithCancel(context.Background())
			cancel()
			if err := f.bridge.Ingest(cancelled, pressed); err == nil {
				t.Fatal("Ingest() with cancelled context should fail")
			}
			if d := f.device(t, "hall"); d.LogicalState || d.PendingState != nil {
				t.Fatalf("device after unstored toggle = %+v", d)
			}
			if f.ctrl.output("led0") {
				t.Fatal("outputs driven although the toggle was not stored")
			}
			if f.bridge.Snapshot().Inputs["btn0"] {
				t.Error("snapshot reports an input whose toggle was not stored")
			}

			// The same reading again must toggle the device.
			if err := f.bridge.Ingest(context.Background(), pressed); err != nil {
				t.Fatalf("Ingest() error = %v", err)
			}
			d := f.device(t, "hall")
			if !d.LogicalState || d.PendingState != nil {
				t.Errorf("device after retried reading = %+v", d)
			}
			if !f.ctrl.output("led0") || !f.ctrl.output("led1") {
				t.Error("outputs not driven on retried reading")
			}
		})
	}
}

func TestPollOnce_FailureKeepsSnapshot(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	before := f.bridge.Snapshot()

	f.ctrl.mu.Lock()
	f.ctrl.fetchErr = fmt.Errorf("%w: connection refused", ipx800.ErrTransientIO)
	f.ctrl.mu.Unlock()

	if err := f.poll(t); !errors.Is(err, ipx800.ErrTransientIO) {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if after := f.bridge.Snapshot(); after.Seq != before.Seq {
		t.Errorf("failed poll published a snapshot: seq %d -> %d", before.Seq, after.Seq)
	}

	h := f.bridge.Health()
	if h.ConsecutiveFailures != 1 || h.LastError == "" || h.Healthy() {
		t.Errorf("Health() = %+v", h)
	}

	f.ctrl.mu.Lock()
	f.ctrl.fetchErr = nil
	f.ctrl.mu.Unlock()
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	if h := f.bridge.Health(); !h.Healthy() || h.Devices != 1 {
		t.Errorf("Health() after recovery = %+v", h)
	}
}

func TestSetDeviceState(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	ctx := context.Background()
	sub := f.bridge.Hub().Subscribe()
	defer f.bridge.Hub().Unsubscribe(sub)
	<-sub.C() // initial snapshot

	d, err := f.bridge.SetDeviceState(ctx, "hall", true)
	if err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if !d.LogicalState || d.PendingState != nil {
		t.Errorf("returned device = %+v", d)
	}
	if !f.ctrl.output("led0") || !f.ctrl.output("led1") {
		t.Error("outputs not driven")
	}

	select {
	case snap := <-sub.C():
		if view, _ := snap.Device("hall"); !view.LogicalState {
			t.Error("broadcast snapshot does not show the new state")
		}
	case <-time.After(time.Second):
		t.Fatal("no snapshot broadcast after SetDeviceState")
	}

	// Same desired state again re-drives the outputs and succeeds.
	f.ctrl.reset()
	if _, err := f.bridge.SetDeviceState(ctx, "hall", true); err != nil {
		t.Fatalf("repeated SetDeviceState() error = %v", err)
	}
	if got := f.ctrl.recorded(); len(got) != 2 {
		t.Errorf("repeated command actuation = %v", got)
	}

	history, _ := f.reg.History(ctx, "hall", 10)
	if len(history) != 1 || history[0].Source != device.SourceCommand {
		t.Errorf("history = %+v, want one command entry", history)
	}
}

func TestSetDeviceState_FailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	f.ctrl.setFailing("led1", true)

	_, err := f.bridge.SetDeviceState(context.Background(), "hall", true)
	if !errors.Is(err, ipx800.ErrActuationFailed) {
		t.Fatalf("SetDeviceState() error = %v, want ErrActuationFailed", err)
	}
	if got := ipx800.FailedChannels(err); !reflect.DeepEqual(got, []string{"led1"}) {
		t.Errorf("FailedChannels() = %v, want [led1]", got)
	}

	d := f.device(t, "hall")
	if d.LogicalState || d.PendingState != nil {
		t.Errorf("device after failed command = %+v", d)
	}

	snap := f.bridge.Snapshot()
	if !snap.Outputs["led0"] {
		t.Error("succeeded channel not reflected in snapshot")
	}
	if snap.Outputs["led1"] {
		t.Error("failed channel reported as set")
	}
}

func TestSetDeviceState_UnclearedIntentIsNotReplayed(t *testing.T) {
	ep := testEndpoint()
	ctx := context.Background()
	reg := openRegistry(t, t.TempDir(), ep)
	if _, err := reg.AddDevice(ctx, hallDevice()); err != nil {
		t.Fatal(err)
	}
	flaky := &flakyRegistry{Registry: reg}
	ctrl := newFakeController()
	b, err := New(Options{Endpoint: ep, Controller: ctrl, Registry: flaky})
	if err != nil {
		t.Fatal(err)
	}

	// Intent stored, led1 fails, then clearing the intent fails too.
	ctrl.setFailing("led1", true)
	flaky.failCall(2)
	_, err = b.SetDeviceState(ctx, "hall", true)
	if !errors.Is(err, ipx800.ErrActuationFailed) || !errors.Is(err, ErrStatePersist) {
		t.Fatalf("SetDeviceState() error = %v, want ErrActuationFailed and ErrStatePersist", err)
	}
	if got := ipx800.FailedChannels(err); !reflect.DeepEqual(got, []string{"led1"}) {
		t.Errorf("FailedChannels() = %v, want [led1]", got)
	}
	if ErrorCode(err) != CodeActuationFailed {
		t.Errorf("ErrorCode() = %q, want %q", ErrorCode(err), CodeActuationFailed)
	}
	if d, _ := reg.GetDevice("hall"); d.PendingState == nil {
		t.Fatal("expected the intent to be left behind")
	}

	// The controller recovers; the next cycle must drop the intent, not drive it.
	ctrl.setFailing("led1", false)
	ctrl.reset()
	if err := b.PollOnce(ctx); err != nil {
		t.Fatalf("PollOnce() error = %v", err)
	}
	if got := ctrl.recorded(); len(got) != 0 {
		t.Errorf("abandoned command was re-driven: %v", got)
	}
	d, _ := reg.GetDevice("hall")
	if d.LogicalState || d.PendingState != nil {
		t.Errorf("device after recovery pass = %+v", d)
	}
	if ctrl.output("led1") {
		t.Error("led1 switched on by recovery")
	}

	// A fresh command on the same device goes through normally.
	if _, err := b.SetDeviceState(ctx, "hall", true); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if d, _ := reg.GetDevice("hall"); !d.LogicalState || d.PendingState != nil {
		t.Errorf("device after new command = %+v", d)
	}
}

func TestSetDeviceState_SurvivesRestart(t *testing.T) {
	ep := testEndpoint()
	dir := t.TempDir()
	ctx := context.Background()

	reg := openRegistry(t, dir, ep)
	if _, err := reg.AddDevice(ctx, hallDevice()); err != nil {
		t.Fatal(err)
	}
	b, err := New(Options{Endpoint: ep, Controller: newFakeController(), Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.SetDeviceState(ctx, "hall", true); err != nil {
		t.Fatalf("SetDeviceState() error = %v", err)
	}
	if err := reg.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened := openRegistry(t, dir, ep)
	d, err := reopened.GetDevice("hall")
	if err != nil {
		t.Fatalf("GetDevice() after reopen error = %v", err)
	}
	if !d.LogicalState || d.PendingState != nil {
		t.Errorf("device after reopen = %+v", d)
	}
	history, err := reopened.History(ctx, "hall", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 || history[0].Source != device.SourceCommand {
		t.Errorf("history after reopen = %+v", history)
	}
}

func TestSetDeviceState_NotFound(t *testing.T) {
	f := newFixture(t, testEndpoint())
	before := f.bridge.Snapshot().Seq

	_, err := f.bridge.SetDeviceState(context.Background(), "ghost", true)
	if !errors.Is(err, device.ErrDeviceNotFound) {
		t.Fatalf("SetDeviceState() error = %v, want ErrDeviceNotFound", err)
	}
	if f.bridge.Snapshot().Seq != before {
		t.Error("not-found command published a snapshot")
	}
}

func TestSetOutputState(t *testing.T) {
	f := newFixture(t, testEndpoint())
	ctx := context.Background()

	if err := f.bridge.SetOutputState(ctx, []string{"led2", "led3"}, true); err != nil {
		t.Fatalf("SetOutputState() error = %v", err)
	}
	snap := f.bridge.Snapshot()
	if !snap.Outputs["led2"] || !snap.Outputs["led3"] {
		t.Errorf("outputs = %v", snap.Outputs)
	}

	f.ctrl.setFailing("led3", true)
	err := f.bridge.SetOutputState(ctx, []string{"led2", "led3"}, false)
	if got := ipx800.FailedChannels(err); !reflect.DeepEqual(got, []string{"led3"}) {
		t.Fatalf("FailedChannels() = %v, want [led3]", got)
	}
	snap = f.bridge.Snapshot()
	if snap.Outputs["led2"] || !snap.Outputs["led3"] {
		t.Errorf("after partial failure outputs = %v", snap.Outputs)
	}

	if err := f.bridge.SetOutputState(ctx, []string{"btn0"}, true); !errors.Is(err, ipx800.ErrInvalidChannel) {
		t.Errorf("SetOutputState(btn0) error = %v, want ErrInvalidChannel", err)
	}
	if err := f.bridge.SetOutputState(ctx, nil, true); !errors.Is(err, ErrInvalidCommand) {
		t.Errorf("SetOutputState(nil) error = %v, want ErrInvalidCommand", err)
	}
}

func TestRecoverPending_AtStartup(t *testing.T) {
	ep := testEndpoint()
	dir := t.TempDir()
	ctx := context.Background()

	// Simulate a crash between persisting the intent and driving the outputs.
	reg := openRegistry(t, dir, ep)
	if _, err := reg.AddDevice(ctx, hallDevice()); err != nil {
		t.Fatal(err)
	}
	change := device.StateChange{DeviceID: "hall", LogicalState: false, Pending: device.BoolPtr(true)}
	if err := reg.ApplyStates(ctx, []device.StateChange{change}); err != nil {
		t.Fatal(err)
	}

	ctrl := newFakeController()
	b, err := New(Options{Endpoint: ep, Controller: ctrl, Registry: reg})
	if err != nil {
		t.Fatal(err)
	}
	b.RecoverPending(ctx)

	d, _ := reg.GetDevice("hall")
	if !d.LogicalState || d.PendingState != nil {
		t.Errorf("device after recovery = %+v", d)
	}
	if !ctrl.output("led0") || !ctrl.output("led1") {
		t.Error("outputs not re-driven")
	}

	history, _ := reg.History(ctx, "hall", 10)
	if len(history) == 0 || history[0].Source != device.SourceRecovery {
		t.Errorf("history = %+v, want recovery entry first", history)
	}
}

func TestConcurrentInputAndCommand(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	if err := f.poll(t); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	const rounds = 50

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			update := state.NewRaw()
			update.Inputs["btn0"] = i%2 == 0
			if err := f.bridge.Ingest(ctx, update); err != nil {
				t.Errorf("Ingest() error = %v", err)
				return
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			if _, err := f.bridge.SetDeviceState(ctx, "hall", i%3 == 0); err != nil {
				t.Errorf("SetDeviceState() error = %v", err)
				return
			}
		}
	}()
	wg.Wait()

	d := f.device(t, "hall")
	if d.PendingState != nil {
		t.Fatalf("intent left pending: %v", *d.PendingState)
	}

	calls := f.ctrl.recorded()
	if len(calls) < 2 {
		t.Fatalf("recorded actuations = %v", calls)
	}
	want := []string{fmt.Sprintf("led0=%v", d.LogicalState), fmt.Sprintf("led1=%v", d.LogicalState)}
	if got := calls[len(calls)-2:]; !reflect.DeepEqual(got, want) {
		t.Errorf("last actuation = %v, registry state = %v", got, d.LogicalState)
	}
	if f.ctrl.output("led0") != d.LogicalState || f.ctrl.output("led1") != d.LogicalState {
		t.Errorf("controller outputs disagree with registry state %v", d.LogicalState)
	}

	snap := f.bridge.Snapshot()
	if view, _ := snap.Device("hall"); view.LogicalState != d.LogicalState || view.Pending {
		t.Errorf("latest snapshot device = %+v, registry state = %v", view, d.LogicalState)
	}
}

func TestDeviceManagement(t *testing.T) {
	f := newFixture(t, testEndpoint())
	ctx := context.Background()

	d, err := f.bridge.AddDevice(ctx, device.Definition{Name: "Porch", OutputChannels: []string{"led6"}})
	if err != nil {
		t.Fatalf("AddDevice() error = %v", err)
	}
	if d.ID == "" {
		t.Fatal("AddDevice() did not generate an id")
	}
	if _, ok := f.bridge.Snapshot().Device(d.ID); !ok {
		t.Error("added device missing from snapshot")
	}

	if _, err := f.bridge.AddDevice(ctx, device.Definition{ID: d.ID, Name: "Again", OutputChannels: []string{"led6"}}); !errors.Is(err, device.ErrDeviceExists) {
		t.Errorf("AddDevice(existing id) error = %v, want ErrDeviceExists", err)
	}

	renamed, err := f.bridge.RenameDevice(ctx, d.ID, "Front porch")
	if err != nil || renamed.Name != "Front porch" {
		t.Fatalf("RenameDevice() = %+v, %v", renamed, err)
	}
	if view, _ := f.bridge.Snapshot().Device(d.ID); view.Name != "Front porch" {
		t.Errorf("snapshot name = %q", view.Name)
	}

	if err := f.bridge.RemoveDevice(ctx, d.ID); err != nil {
		t.Fatalf("RemoveDevice() error = %v", err)
	}
	if _, ok := f.bridge.Snapshot().Device(d.ID); ok {
		t.Error("removed device still in snapshot")
	}
	if err := f.bridge.RemoveDevice(ctx, d.ID); !errors.Is(err, device.ErrDeviceNotFound) {
		t.Errorf("second RemoveDevice() error = %v, want ErrDeviceNotFound", err)
	}
}

func TestNextDelay(t *testing.T) {
	b := &Bridge{endpoint: config.EndpointConfig{PollInterval: time.Second, MaxBackoff: 5 * time.Second}}

	tests := []struct {
		failures int
		err      error
		want     time.Duration
	}{
		{failures: 0, err: nil, want: time.Second},
		{failures: 1, err: errors.New("x"), want: time.Second},
		{failures: 2, err: errors.New("x"), want: 2 * time.Second},
		{failures: 3, err: errors.New("x"), want: 4 * time.Second},
		{failures: 4, err: errors.New("x"), want: 5 * time.Second},
		{failures: 40, err: errors.New("x"), want: 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("failures=%d", tt.failures), func(t *testing.T) {
			b.health.ConsecutiveFailures = tt.failures
			if got := b.nextDelay(tt.err); got != tt.want {
				t.Errorf("nextDelay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRun_PollsUntilCancelled(t *testing.T) {
	f := newFixture(t, testEndpoint(), hallDevice())
	sub := f.bridge.Hub().Subscribe()
	defer f.bridge.Hub().Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.bridge.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	polled := 0
	for polled < 3 {
		select {
		case snap := <-sub.C():
			if len(snap.Inputs) > 0 {
				polled++
			}
		case <-deadline:
			t.Fatalf("only %d polls observed", polled)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v, want nil", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run() did not stop after cancel")
	}
}
