// Package pipeline implements the display commit engine: it stages
// configuration for one output's component chain, makes it take effect
// atomically at a refresh boundary and delivers client completion events.
//
// # Execution contexts
//
// Three contexts touch a Pipeline concurrently:
//   - the control path (Enable, Disable, StageCommit, Flush, Commit), serialized
//     per pipeline by the commit lock
//   - the vblank path (HandleVblank), invoked once per refresh interval by the
//     first component of the chain
//   - the completion path (OnComplete), fed from the sequencer channel's
//     completion queue by a goroutine owned by the pipeline
//
// The vblank and completion paths never take the commit lock. They only enter
// short critical sections on the flags lock guarding the pending flags, the
// flush-in-progress flag, the outstanding completion event and the stall
// counter.
//
// # Write modes
//
// The write path is chosen once in New:
//
//	DirectWrite{}                    // shadowed registers, written by Flush under the interlock
//	DirectWrite{LatchOnVblank: true} // written by the vblank path
//	OffloadWrite{Channel: ch, ...}   // packet built by Flush, executed by the sequencer
//
// In offload mode a layer stays config-pending until the sequencer reports the
// packet complete. A packet that has not completed after three refresh
// intervals is reported once as a sequencer timeout.
//
// # Events
//
// At most one CompletionEvent is outstanding per pipeline. Requesting another
// returns ErrEventAlreadyPending; the staged changes are still merged.
package pipeline
