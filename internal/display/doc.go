// Package display owns the pipelines of one display device.
//
// Manager tracks every pipeline by name:
//   - Enable/Disable individual pipelines with lifecycle state tracking
//     (idle, enabling, enabled, disabling, error)
//   - Commit and connectivity requests routed to the named pipeline
//   - OnStateChange callback for domain reactions (logging, LEDs, API)
//   - EnableAll/DisableAll run concurrently across pipelines
//
// BuildSimulated wires a topology onto in-process hardware so the daemon and
// the simulate command run without a real device:
//
//	mgr, hwd, err := display.BuildSimulated(topo, display.Options{
//	    Bus: bus,
//	    OnStateChange: func(name string, old, new display.State, err error) {
//	        log.Printf("pipeline %s: %s -> %s", name, old, new)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer hwd.Close()
//	defer mgr.Close()
//	mgr.EnableAll(ctx)
package display
