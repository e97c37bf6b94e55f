package pipeline

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/hw/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var testMode = hw.Mode{Width: 1920, Height: 1080, Refresh: 60}

// fakeChannel records submitted packets. Completions are delivered by the
// test, either through OnComplete or the completion queue.
type fakeChannel struct {
	mu          sync.Mutex
	seqs        []uint64
	packets     [][]hw.Instruction
	submitErr   error
	flushes     int
	completions chan hw.Completion
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{completions: make(chan hw.Completion, 8)}
}

func (f *fakeChannel) Submit(pkt *hw.Packet) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return f.submitErr
	}
	ins, err := hw.Decode(pkt.DeviceView())
	if err != nil {
		return err
	}
	f.seqs = append(f.seqs, pkt.Seq())
	f.packets = append(f.packets, ins)
	return nil
}

func (f *fakeChannel) Flush(time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
	return nil
}

func (f *fakeChannel) Completions() <-chan hw.Completion {
	return f.completions
}

func (f *fakeChannel) submitted() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seqs)
}

func (f *fakeChannel) lastSeq() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.seqs) == 0 {
		return 0
	}
	return f.seqs[len(f.seqs)-1]
}

func (f *fakeChannel) lastPacket() []hw.Instruction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.packets) == 0 {
		return nil
	}
	return f.packets[len(f.packets)-1]
}

// rig is a two-component chain on simulated hardware: a two-layer overlay
// feeding an output engine.
type rig struct {
	arena     *hw.Arena
	interlock *sim.Interlock
	ovl       *sim.Component
	rdma      *sim.Component
	p         *Pipeline
}

type rigOption func(*Config)

func withRoutes(routes ...hw.ComponentID) rigOption {
	return func(c *Config) { c.Routes = routes }
}

func newRig(t *testing.T, mode WriteMode, opts ...rigOption) *rig {
	t.Helper()

	r := &rig{
		arena:     hw.NewArena(),
		interlock: sim.NewInterlock(),
		ovl: sim.NewComponent(sim.ComponentOptions{
			ID: 0, Name: "ovl0", Layers: 2, EncoderIndex: hw.NoEncoder,
			ManualVblank: true, Logger: testLogger(),
		}),
		rdma: sim.NewComponent(sim.ComponentOptions{
			ID: 1, Name: "rdma0", EncoderIndex: hw.NoEncoder,
			ManualVblank: true, Logger: testLogger(),
		}),
	}
	for _, c := range []*sim.Component{r.ovl, r.rdma} {
		if err := r.arena.Register(c); err != nil {
			t.Fatal(err)
		}
	}

	cfg := Config{
		Name:              "test",
		Chain:             []hw.ComponentID{0, 1},
		Arena:             r.arena,
		Interlock:         r.interlock,
		WriteMode:         mode,
		Logger:            testLogger(),
		DisableTimeout:    20 * time.Millisecond,
		VblankWaitTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(p.Close)
	r.p = p
	return r
}

func (r *rig) enable(t *testing.T) {
	t.Helper()
	if err := r.p.Enable(testMode); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
}

func (r *rig) layer(i int) LayerStatus {
	return r.p.Status().Layers[i]
}

func layerOn(x int) hw.LayerState {
	return hw.LayerState{Enabled: true, X: x, Width: 640, Height: 480, Pitch: 2560, Format: 0x34325258, Addr: 0x1000_0000}
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func contains(calls []string, call string) bool {
	for _, c := range calls {
		if c == call {
			return true
		}
	}
	return false
}
