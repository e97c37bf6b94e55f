package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/smazurov/scanout/internal/hw"
)

// Write modes accepted in a topology file.
const (
	WriteModeDirect       = "direct"
	WriteModeDirectVblank = "direct-vblank"
	WriteModeOffload      = "offload"
)

// Component kinds. Kind is informational except for ComponentOverlay, whose
// layers default to 4 when unset.
const (
	ComponentOverlay = "overlay"
	ComponentDMA     = "dma"
	ComponentOutput  = "output"
)

// ErrInvalidTopology is wrapped by every topology validation failure.
var ErrInvalidTopology = errors.New("invalid topology")

// ComponentSpec describes one hardware block.
type ComponentSpec struct {
	ID              int    `toml:"id" json:"id"`
	Name            string `toml:"name" json:"name"`
	Kind            string `toml:"kind" json:"kind"`
	Layers          int    `toml:"layers" json:"layers"`
	EncoderIndex    *int   `toml:"encoder_index" json:"encoder_index,omitempty"`
	BackgroundInput bool   `toml:"background_input" json:"background_input"`
	MaxWidth        int    `toml:"max_width" json:"max_width,omitempty"`
}

// Encoder returns the encoder index, or hw.NoEncoder when unset.
func (c ComponentSpec) Encoder() int {
	if c.EncoderIndex == nil {
		return hw.NoEncoder
	}
	return *c.EncoderIndex
}

// PipelineSpec describes one output path.
type PipelineSpec struct {
	Name           string  `toml:"name" json:"name"`
	Path           []int   `toml:"path" json:"path"`
	Routes         []int   `toml:"routes" json:"routes,omitempty"`
	WriteMode      string  `toml:"write_mode" json:"write_mode"`
	SequencerEvent *uint32 `toml:"sequencer_event" json:"sequencer_event,omitempty"`
	PacketSize     int     `toml:"packet_size" json:"packet_size,omitempty"`
	Mode           hw.Mode `toml:"mode" json:"mode"`
}

// Topology is the static description of the display hardware.
type Topology struct {
	Components []ComponentSpec `toml:"components" json:"components"`
	Pipelines  []PipelineSpec  `toml:"pipelines" json:"pipelines"`
}

// LoadTopology reads, defaults and validates a topology file.
func LoadTopology(path string) (*Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology: %w", err)
	}
	return ParseTopology(data)
}

// ParseTopology decodes, defaults and validates a TOML topology.
func ParseTopology(data []byte) (*Topology, error) {
	var topo Topology
	if err := toml.Unmarshal(data, &topo); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}
	topo.applyDefaults()
	if err := topo.Validate(); err != nil {
		return nil, err
	}
	return &topo, nil
}

func (t *Topology) applyDefaults() {
	for i := range t.Components {
		c := &t.Components[i]
		if c.Name == "" {
			c.Name = fmt.Sprintf("comp%d", c.ID)
		}
		if c.Kind == ComponentOverlay && c.Layers == 0 {
			c.Layers = 4
		}
	}
	for i := range t.Pipelines {
		p := &t.Pipelines[i]
		if p.WriteMode == "" {
			p.WriteMode = WriteModeDirect
		}
		if p.PacketSize == 0 {
			p.PacketSize = hw.DefaultPacketSize
		}
	}
}

// Validate checks ids, references and per-pipeline settings.
func (t *Topology) Validate() error {
	if len(t.Pipelines) == 0 {
		return fmt.Errorf("%w: no pipelines", ErrInvalidTopology)
	}

	comps := make(map[int]ComponentSpec, len(t.Components))
	for _, c := range t.Components {
		if c.ID < 0 || c.ID > 0xff {
			return fmt.Errorf("%w: component %q id %d out of range", ErrInvalidTopology, c.Name, c.ID)
		}
		if _, dup := comps[c.ID]; dup {
			return fmt.Errorf("%w: duplicate component id %d", ErrInvalidTopology, c.ID)
		}
		if c.Layers < 0 {
			return fmt.Errorf("%w: component %q has negative layer count", ErrInvalidTopology, c.Name)
		}
		comps[c.ID] = c
	}

	names := make(map[string]bool, len(t.Pipelines))
	for _, p := range t.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("%w: pipeline without name", ErrInvalidTopology)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate pipeline %q", ErrInvalidTopology, p.Name)
		}
		names[p.Name] = true

		if len(p.Path) == 0 {
			return fmt.Errorf("%w: pipeline %q has an empty path", ErrInvalidTopology, p.Name)
		}
		for _, id := range append(append([]int{}, p.Path...), p.Routes...) {
			if _, ok := comps[id]; !ok {
				return fmt.Errorf("%w: pipeline %q references unknown component %d", ErrInvalidTopology, p.Name, id)
			}
		}
		if comps[p.Path[0]].Layers == 0 {
			return fmt.Errorf("%w: pipeline %q starts with a component without layers", ErrInvalidTopology, p.Name)
		}

		switch p.WriteMode {
		case WriteModeDirect, WriteModeDirectVblank:
		case WriteModeOffload:
			if p.SequencerEvent == nil {
				return fmt.Errorf("%w: offload pipeline %q needs sequencer_event", ErrInvalidTopology, p.Name)
			}
			if p.PacketSize < 4*hw.InstructionSize {
				return fmt.Errorf("%w: pipeline %q packet_size %d too small", ErrInvalidTopology, p.Name, p.PacketSize)
			}
		default:
			return fmt.Errorf("%w: pipeline %q has unknown write_mode %q", ErrInvalidTopology, p.Name, p.WriteMode)
		}

		if err := p.Mode.Valid(); err != nil {
			return fmt.Errorf("%w: pipeline %q: %w", ErrInvalidTopology, p.Name, err)
		}
	}
	return nil
}

// Component returns the component with the given id.
func (t *Topology) Component(id int) (ComponentSpec, bool) {
	for _, c := range t.Components {
		if c.ID == id {
			return c, true
		}
	}
	return ComponentSpec{}, false
}
