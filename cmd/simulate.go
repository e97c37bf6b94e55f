package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smazurov/scanout/internal/config"
	"github.com/smazurov/scanout/internal/display"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/logging"
	"github.com/smazurov/scanout/internal/pipeline"
	"github.com/spf13/cobra"
)

// settleTimeout bounds the wait for an asynchronous completion after a tick.
const settleTimeout = 20 * time.Millisecond

// SimulationReport is the outcome of one simulate run.
type SimulationReport struct {
	Pipeline    string          `json:"pipeline"`
	Ticks       int             `json:"ticks"`
	Stalled     bool            `json:"stalled"`
	EventToken  string          `json:"event_token"`
	EventStatus string          `json:"event_status"`
	Status      pipeline.Status `json:"status"`
}

// SimulateOptions are the inputs of RunSimulation.
type SimulateOptions struct {
	Topology string
	Pipeline string
	Ticks    int
	Stall    bool
}

// CreateSimulateCmd creates the simulate command.
func CreateSimulateCmd() *cobra.Command {
	var opts SimulateOptions
	var logLevel string

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a commit scenario on simulated hardware",
		Long: `Builds the topology on simulated hardware, enables one pipeline, commits layer 0 ` +
			`with a completion event and drives the given number of refresh ticks. With --stall the ` +
			`command sequencer never completes, which exercises the stall budget. Prints the ` +
			`event outcome and the pipeline status as JSON.`,
		Args: cobra.NoArgs,
		// Standalone: skip the daemon setup run by the root command.
		PersistentPreRun: func(*cobra.Command, []string) {},
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Initialize(logging.Config{Level: logLevel, Format: "text"})

			report, err := RunSimulation(cmd.Context(), opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVar(&opts.Topology, "topology", "topology.toml", "Path to topology file")
	cmd.Flags().StringVar(&opts.Pipeline, "pipeline", "", "Pipeline to drive (default: first in topology)")
	cmd.Flags().IntVar(&opts.Ticks, "ticks", 3, "Number of refresh ticks to simulate")
	cmd.Flags().BoolVar(&opts.Stall, "stall", false, "Stall the command sequencer (offload pipelines)")
	cmd.Flags().StringVar(&logLevel, "log-level", "warn", "Log level")

	return cmd
}

// RunSimulation performs one scripted scenario and tears the display down.
func RunSimulation(ctx context.Context, opts SimulateOptions) (*SimulationReport, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	topo, err := config.LoadTopology(opts.Topology)
	if err != nil {
		return nil, err
	}
	name := opts.Pipeline
	if name == "" {
		name = topo.Pipelines[0].Name
	}

	mgr, hwd, err := display.BuildSimulated(topo, display.Options{
		ManualVblank:      true,
		DisableTimeout:    100 * time.Millisecond,
		VblankWaitTimeout: 50 * time.Millisecond,
		FlushTimeout:      100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	defer mgr.Close()

	p, err := mgr.Pipeline(name)
	if err != nil {
		return nil, err
	}
	seq, offload := hwd.Sequencers[name]
	if opts.Stall {
		if !offload {
			return nil, fmt.Errorf("pipeline %s does not use a command sequencer", name)
		}
		seq.SetStalled(true)
	}

	if err := mgr.Enable(name, nil); err != nil {
		return nil, err
	}

	st := p.Status()
	ev, err := mgr.Commit(name, pipeline.Changes{Layers: []pipeline.LayerChange{{
		Index: 0,
		State: hw.LayerState{
			Enabled: true,
			Width:   st.Width,
			Height:  st.Height,
			Pitch:   st.Width * 4,
			Format:  0x34325258, // XR24
			Addr:    0x8000_0000,
		},
	}}}, true)
	if err != nil {
		return nil, err
	}

	first, err := hwd.Component(int(p.Chain()[0]))
	if err != nil {
		return nil, err
	}
	for i := 0; i < opts.Ticks; i++ {
		first.Tick()
		if ev.Status() == pipeline.EventPending {
			// Completions are delivered asynchronously.
			waitCtx, cancel := context.WithTimeout(ctx, settleTimeout)
			_, _ = ev.Wait(waitCtx)
			cancel()
		}
	}

	report := &SimulationReport{
		Pipeline:    name,
		Ticks:       opts.Ticks,
		Stalled:     opts.Stall,
		EventToken:  ev.Token(),
		EventStatus: string(ev.Status()),
		Status:      p.Status(),
	}

	if opts.Stall {
		seq.SetStalled(false)
	}
	return report, mgr.Disable(ctx, name)
}
