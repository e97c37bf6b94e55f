package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"
	"github.com/smazurov/scanout/internal/events"
)

// sseBuffer is the per-connection event backlog. Events beyond it are dropped
// for that connection only.
const sseBuffer = 64

// forward returns a bus handler that queues events without blocking the
// publisher.
func forward[T events.Event](ch chan<- any) func(T) {
	return func(e T) {
		select {
		case ch <- e:
		default:
		}
	}
}

// registerSSERoutes registers the pipeline event stream. Vblank events are
// only streamed on request since they arrive once per refresh.
func (s *Server) registerSSERoutes() {
	sse.Register(s.api, huma.Operation{
		OperationID: "events-stream",
		Method:      http.MethodGet,
		Path:        "/api/events",
		Summary:     "Pipeline Event Stream",
		Description: "Real-time commit completions, dropped events, sequencer timeouts, applied configuration and lifecycle changes",
		Tags:        []string{"events"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"vblank":                 events.VblankEvent{},
		"commit-completed":       events.CommitCompletedEvent{},
		"event-dropped":          events.EventDroppedEvent{},
		"sequencer-timeout":      events.SequencerTimeoutEvent{},
		"config-applied":         events.ConfigAppliedEvent{},
		"pipeline-state-changed": events.PipelineStateChangedEvent{},
	}, func(ctx context.Context, input *struct {
		Vblank bool `query:"vblank" doc:"Also stream per-refresh vblank events"`
	}, send sse.Sender) {
		eventCh := make(chan any, sseBuffer)

		unsubscribers := []func(){
			s.eventBus.Subscribe(forward[events.CommitCompletedEvent](eventCh)),
			s.eventBus.Subscribe(forward[events.EventDroppedEvent](eventCh)),
			s.eventBus.Subscribe(forward[events.SequencerTimeoutEvent](eventCh)),
			s.eventBus.Subscribe(forward[events.ConfigAppliedEvent](eventCh)),
			s.eventBus.Subscribe(forward[events.PipelineStateChangedEvent](eventCh)),
		}
		if input.Vblank {
			unsubscribers = append(unsubscribers, s.eventBus.Subscribe(forward[events.VblankEvent](eventCh)))
		}
		defer func() {
			for _, unsub := range unsubscribers {
				unsub()
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return
			case event := <-eventCh:
				if err := send.Data(event); err != nil {
					return
				}
			}
		}
	})
}
