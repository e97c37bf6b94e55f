package sim

import (
	"log/slog"
	"sync"
	"time"

	"github.com/smazurov/scanout/internal/hw"
)

const completionBuffer = 64

// registerFile is the write port the sequencer uses to apply packet writes.
type registerFile interface {
	WriteRegister(offset, value uint32)
}

type job struct {
	seq uint64
	ins []hw.Instruction
	pc  int
}

// Sequencer is a simulated command-queue engine. Packets execute in
// submission order; a wait-for-event instruction parks execution until Signal
// raises the event. Finished packets are reported on Completions.
type Sequencer struct {
	arena  *hw.Arena
	logger *slog.Logger

	mu          sync.Mutex
	events      map[uint32]bool
	jobs        []*job
	drained     chan struct{}
	closed      bool
	stalled     bool
	failStatus  hw.CompletionStatus
	submitted   int
	completed   int
	completions chan hw.Completion
}

var _ hw.SequencerChannel = (*Sequencer)(nil)

// NewSequencer creates a sequencer that applies writes to arena components.
func NewSequencer(arena *hw.Arena, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	drained := make(chan struct{})
	close(drained)
	return &Sequencer{
		arena:       arena,
		logger:      logger,
		events:      make(map[uint32]bool),
		drained:     drained,
		completions: make(chan hw.Completion, completionBuffer),
	}
}

// SetStalled stops (or resumes) packet execution.
func (s *Sequencer) SetStalled(stalled bool) {
	s.mu.Lock()
	s.stalled = stalled
	done := s.runLocked()
	s.mu.Unlock()
	s.deliver(done)
}

// SetFailure makes every completed packet report status. StatusOK restores
// normal operation.
func (s *Sequencer) SetFailure(status hw.CompletionStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failStatus = status
}

// Submitted returns the number of accepted packets.
func (s *Sequencer) Submitted() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitted
}

// Completed returns the number of executed packets.
func (s *Sequencer) Completed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed
}

// Pending returns the number of packets not yet finished.
func (s *Sequencer) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Submit implements hw.SequencerChannel. The device view of the packet is
// copied, so the caller may rebuild the packet immediately.
func (s *Sequencer) Submit(pkt *hw.Packet) error {
	ins, err := hw.Decode(pkt.DeviceView())
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return hw.ErrChannelClosed
	}
	if len(s.jobs) == 0 {
		s.drained = make(chan struct{})
	}
	s.jobs = append(s.jobs, &job{seq: pkt.Seq(), ins: ins})
	s.submitted++
	done := s.runLocked()
	s.mu.Unlock()

	s.deliver(done)
	return nil
}

// Signal raises a hardware event and resumes any packet waiting for it.
func (s *Sequencer) Signal(event uint32) {
	s.mu.Lock()
	s.events[event] = true
	done := s.runLocked()
	s.mu.Unlock()

	s.deliver(done)
}

// Flush implements hw.SequencerChannel.
func (s *Sequencer) Flush(timeout time.Duration) error {
	s.mu.Lock()
	drained := s.drained
	s.mu.Unlock()

	select {
	case <-drained:
		return nil
	case <-time.After(timeout):
		return hw.ErrFlushTimeout
	}
}

// Completions implements hw.SequencerChannel.
func (s *Sequencer) Completions() <-chan hw.Completion {
	return s.completions
}

// Close rejects further submissions and closes the completion channel.
func (s *Sequencer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.completions)
}

// runLocked executes packets until the head packet blocks. Must hold s.mu.
func (s *Sequencer) runLocked() []hw.Completion {
	if s.stalled {
		return nil
	}

	var done []hw.Completion
	for len(s.jobs) > 0 {
		j := s.jobs[0]
		if !s.step(j) {
			break
		}
		s.jobs = s.jobs[1:]
		s.completed++
		done = append(done, hw.Completion{Seq: j.seq, Status: s.failStatus, At: time.Now()})
	}
	if len(s.jobs) == 0 {
		select {
		case <-s.drained:
		default:
			close(s.drained)
		}
	}
	return done
}

// step advances a job; it returns true once the job reached its end marker.
func (s *Sequencer) step(j *job) bool {
	for j.pc < len(j.ins) {
		ins := j.ins[j.pc]
		switch ins.Op {
		case hw.OpClearEvent:
			delete(s.events, ins.Event)
		case hw.OpWaitForEvent:
			if !s.events[ins.Event] {
				return false
			}
			delete(s.events, ins.Event)
		case hw.OpWrite:
			s.apply(ins)
		case hw.OpEndOfCommands:
			j.pc = len(j.ins)
			return true
		}
		j.pc++
	}
	return true
}

func (s *Sequencer) apply(ins hw.Instruction) {
	comp, ok := s.arena.Get(ins.Component)
	if !ok {
		s.logger.Warn("Packet writes unknown component", "component", ins.Component)
		return
	}
	rf, ok := comp.(registerFile)
	if !ok {
		s.logger.Warn("Component has no register file", "component", ins.Component)
		return
	}
	rf.WriteRegister(ins.Offset, ins.Value)
}

// deliver posts completions without blocking; s.mu keeps Close from closing
// the channel mid-send.
func (s *Sequencer) deliver(done []hw.Completion) {
	if len(done) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, c := range done {
		select {
		case s.completions <- c:
		default:
			s.logger.Warn("Completion queue full, dropping completion", "seq", c.Seq)
		}
	}
}
