package display

import (
	"fmt"

	"github.com/smazurov/scanout/internal/config"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/hw/sim"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/pipeline"
)

// Hardware is the simulated device behind a manager built by BuildSimulated.
type Hardware struct {
	Arena      *hw.Arena
	Interlock  *sim.Interlock
	Components map[hw.ComponentID]*sim.Component
	// Sequencers holds the command sequencer of every offload pipeline.
	Sequencers map[string]*sim.Sequencer
}

// Component returns the simulated component with the given id.
func (h *Hardware) Component(id int) (*sim.Component, error) {
	c, ok := h.Components[hw.ComponentID(id)]
	if !ok {
		return nil, fmt.Errorf("%w: %d", hw.ErrUnknownComponent, id)
	}
	return c, nil
}

// Close shuts the sequencers down.
func (h *Hardware) Close() {
	for _, s := range h.Sequencers {
		s.Close()
	}
}

// BuildSimulated creates simulated hardware for topo and a manager holding
// one disabled pipeline per topology pipeline. All pipelines share one
// interlock.
func BuildSimulated(topo *config.Topology, opts Options) (*Manager, *Hardware, error) {
	hwd := &Hardware{
		Arena:      hw.NewArena(),
		Interlock:  sim.NewInterlock(),
		Components: make(map[hw.ComponentID]*sim.Component, len(topo.Components)),
		Sequencers: make(map[string]*sim.Sequencer),
	}

	compLogger := logging.GetLogger("hw")
	for _, spec := range topo.Components {
		c := sim.NewComponent(sim.ComponentOptions{
			ID:              hw.ComponentID(spec.ID),
			Name:            spec.Name,
			Layers:          spec.Layers,
			EncoderIndex:    spec.Encoder(),
			BackgroundInput: spec.BackgroundInput,
			MaxWidth:        spec.MaxWidth,
			ManualVblank:    opts.ManualVblank,
			Logger:          compLogger.With("component", spec.Name),
		})
		if err := hwd.Arena.Register(c); err != nil {
			return nil, nil, err
		}
		hwd.Components[c.ID()] = c
	}

	mgr := NewManager(opts)
	mgr.onClose(hwd.Close)

	for _, spec := range topo.Pipelines {
		mode, err := hwd.writeMode(spec, opts)
		if err != nil {
			mgr.Close()
			return nil, nil, err
		}

		p, err := pipeline.New(pipeline.Config{
			Name:              spec.Name,
			Chain:             componentIDs(spec.Path),
			Routes:            componentIDs(spec.Routes),
			Arena:             hwd.Arena,
			Interlock:         hwd.Interlock,
			WriteMode:         mode,
			Bus:               opts.Bus,
			DisableTimeout:    opts.DisableTimeout,
			VblankWaitTimeout: opts.VblankWaitTimeout,
		})
		if err != nil {
			mgr.Close()
			return nil, nil, fmt.Errorf("failed to create pipeline %s: %w", spec.Name, err)
		}
		if err := mgr.Add(p, spec.Mode); err != nil {
			p.Close()
			mgr.Close()
			return nil, nil, err
		}
	}

	return mgr, hwd, nil
}

// writeMode resolves the pipeline write mode. Offload pipelines get their own
// sequencer, woken by the vblank of the first component in the path.
func (h *Hardware) writeMode(spec config.PipelineSpec, opts Options) (pipeline.WriteMode, error) {
	switch spec.WriteMode {
	case config.WriteModeDirectVblank:
		return pipeline.DirectWrite{LatchOnVblank: true}, nil
	case config.WriteModeOffload:
		seq := sim.NewSequencer(h.Arena, logging.GetLogger("sequencer").With("pipeline", spec.Name))
		h.Sequencers[spec.Name] = seq

		event := *spec.SequencerEvent
		first, err := h.Component(spec.Path[0])
		if err != nil {
			return nil, err
		}
		first.AddVblankSignal(func() { seq.Signal(event) })

		return pipeline.OffloadWrite{
			Channel:      seq,
			Event:        event,
			PacketSize:   spec.PacketSize,
			FlushTimeout: opts.FlushTimeout,
		}, nil
	default:
		return pipeline.DirectWrite{}, nil
	}
}

func componentIDs(ids []int) []hw.ComponentID {
	out := make([]hw.ComponentID, len(ids))
	for i, id := range ids {
		out[i] = hw.ComponentID(id)
	}
	return out
}
