package hw

import (
	"fmt"
	"time"
)

// MaxBPC is the highest bits-per-component the display chain accepts.
const MaxBPC = 10

// Mode is a display timing as seen by the component chain.
type Mode struct {
	Width   int `json:"width" toml:"width"`
	Height  int `json:"height" toml:"height"`
	Refresh int `json:"refresh" toml:"refresh"`
	BPC     int `json:"bpc,omitempty" toml:"bpc"`
}

// Valid reports whether the mode has usable dimensions and refresh rate.
func (m Mode) Valid() error {
	if m.Width <= 0 || m.Height <= 0 {
		return fmt.Errorf("invalid mode size %dx%d", m.Width, m.Height)
	}
	if m.Refresh <= 0 {
		return fmt.Errorf("invalid refresh rate %d", m.Refresh)
	}
	return nil
}

// FrameInterval returns the duration of one refresh interval.
func (m Mode) FrameInterval() time.Duration {
	if m.Refresh <= 0 {
		return 0
	}
	return time.Second / time.Duration(m.Refresh)
}

// ClampBPC returns the mode with BPC limited to MaxBPC. Zero means MaxBPC.
func (m Mode) ClampBPC() Mode {
	if m.BPC <= 0 || m.BPC > MaxBPC {
		m.BPC = MaxBPC
	}
	return m
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%d", m.Width, m.Height, m.Refresh)
}

// LayerState is the geometry and buffer binding of one overlay layer.
type LayerState struct {
	Enabled bool   `json:"enabled"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Pitch   int    `json:"pitch"`
	Format  uint32 `json:"format"`
	Addr    uint64 `json:"addr"`
}
