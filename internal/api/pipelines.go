package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/smazurov/scanout/internal/api/models"
	"github.com/smazurov/scanout/internal/display"
	"github.com/smazurov/scanout/internal/hw"
	"github.com/smazurov/scanout/internal/pipeline"
)

// commitWaitTimeout bounds a commit request that waits for its event.
const commitWaitTimeout = 5 * time.Second

// registerPipelineRoutes registers the pipeline control endpoints.
func (s *Server) registerPipelineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-pipelines",
		Method:      http.MethodGet,
		Path:        "/api/pipelines",
		Summary:     "List Pipelines",
		Description: "Get every configured output pipeline with its lifecycle and commit state",
		Tags:        []string{"pipelines"},
		Errors:      []int{401},
		Security:    withAuth(),
	}, func(_ context.Context, _ *struct{}) (*models.PipelineListResponse, error) {
		infos := s.manager.List()
		out := make([]models.PipelineData, len(infos))
		for i, info := range infos {
			out[i] = toPipelineData(info)
		}
		return &models.PipelineListResponse{
			Body: models.PipelineListData{Pipelines: out, Count: len(out)},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/api/pipelines/{name}",
		Summary:     "Get Pipeline",
		Description: "Get one pipeline with layer bookkeeping and counters",
		Tags:        []string{"pipelines"},
		Errors:      []int{401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.PipelineNameInput) (*models.PipelineResponse, error) {
		info, err := s.manager.Status(input.Name)
		if err != nil {
			return nil, mapPipelineError(err)
		}
		return &models.PipelineResponse{Body: toPipelineData(*info)}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "enable-pipeline",
		Method:      http.MethodPost,
		Path:        "/api/pipelines/{name}/enable",
		Summary:     "Enable Pipeline",
		Description: "Power up the component chain and start scanout, with the default mode unless one is given",
		Tags:        []string{"pipelines"},
		Errors:      []int{400, 401, 404, 409, 500},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.EnableRequest) (*models.PipelineResponse, error) {
		var mode *hw.Mode
		if input.Body != nil {
			mode = input.Body.Mode
		}
		if err := s.manager.Enable(input.Name, mode); err != nil {
			return nil, mapPipelineError(err)
		}
		return s.pipelineResponse(input.Name)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "disable-pipeline",
		Method:      http.MethodPost,
		Path:        "/api/pipelines/{name}/disable",
		Summary:     "Disable Pipeline",
		Description: "Blank every layer, wait for the hardware to settle and power the chain down",
		Tags:        []string{"pipelines"},
		Errors:      []int{401, 404, 409, 500},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.PipelineNameInput) (*models.PipelineResponse, error) {
		if err := s.manager.Disable(ctx, input.Name); err != nil {
			return nil, mapPipelineError(err)
		}
		return s.pipelineResponse(input.Name)
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "commit-pipeline",
		Method:      http.MethodPost,
		Path:        "/api/pipelines/{name}/commit",
		Summary:     "Commit",
		Description: "Stage a mode and layer changes and flush them. With wait, the response is sent once the completion event is finalized.",
		Tags:        []string{"pipelines"},
		Errors:      []int{400, 401, 404, 409, 500, 504},
		Security:    withAuth(),
	}, func(ctx context.Context, input *models.CommitRequest) (*models.CommitResponse, error) {
		changes := pipeline.Changes{Mode: input.Body.Mode}
		for _, l := range input.Body.Layers {
			changes.Layers = append(changes.Layers, pipeline.LayerChange{
				Index: l.Index,
				State: l.State,
				Async: l.Async,
			})
		}

		wantEvent := input.Body.Event || input.Body.Wait
		ev, err := s.manager.Commit(input.Name, changes, wantEvent)
		if err != nil {
			return nil, mapPipelineError(err)
		}

		resp := &models.CommitResponse{}
		if ev == nil {
			return resp, nil
		}
		resp.Body.Token = ev.Token()
		resp.Body.Status = string(ev.Status())

		if input.Body.Wait {
			waitCtx, cancel := context.WithTimeout(ctx, commitWaitTimeout)
			defer cancel()
			status, err := ev.Wait(waitCtx)
			if err != nil {
				return nil, huma.NewError(http.StatusGatewayTimeout, "Completion event not finalized", err)
			}
			resp.Body.Status = string(status)
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-connectivity",
		Method:      http.MethodPost,
		Path:        "/api/pipelines/{name}/connectivity",
		Summary:     "Update Connectivity",
		Description: "Select the output route matching the first connected encoder. Only allowed while the pipeline is disabled.",
		Tags:        []string{"pipelines"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.ConnectivityRequest) (*models.ConnectivityResponse, error) {
		changed, err := s.manager.Connectivity(input.Name, input.Body.EncoderMask)
		if err != nil {
			return nil, mapPipelineError(err)
		}
		p, err := s.manager.Pipeline(input.Name)
		if err != nil {
			return nil, mapPipelineError(err)
		}
		chain := make([]int, 0, len(p.Chain()))
		for _, id := range p.Chain() {
			chain = append(chain, int(id))
		}
		return &models.ConnectivityResponse{
			Body: models.ConnectivityData{Changed: changed, Chain: chain},
		}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-layer-owner",
		Method:      http.MethodGet,
		Path:        "/api/pipelines/{name}/layers/{index}/owner",
		Summary:     "Layer Owner",
		Description: "Resolve a pipeline-wide layer index to the owning component and its local layer",
		Tags:        []string{"pipelines"},
		Errors:      []int{400, 401, 404},
		Security:    withAuth(),
	}, func(_ context.Context, input *models.LayerOwnerRequest) (*models.LayerOwnerResponse, error) {
		p, err := s.manager.Pipeline(input.Name)
		if err != nil {
			return nil, mapPipelineError(err)
		}
		id, local, err := p.WhichComponentOwnsLayer(input.Index)
		if err != nil {
			return nil, mapPipelineError(err)
		}
		return &models.LayerOwnerResponse{
			Body: models.LayerOwnerData{Component: int(id), LocalIndex: local},
		}, nil
	})
}

func (s *Server) pipelineResponse(name string) (*models.PipelineResponse, error) {
	info, err := s.manager.Status(name)
	if err != nil {
		return nil, mapPipelineError(err)
	}
	return &models.PipelineResponse{Body: toPipelineData(*info)}, nil
}

func toPipelineData(info display.Info) models.PipelineData {
	data := models.PipelineData{
		Name:        info.Name,
		State:       string(info.State),
		Mode:        info.Mode,
		EnableCount: info.EnableCount,
		Status:      info.Pipeline,
	}
	if !info.EnabledAt.IsZero() {
		data.EnabledAt = info.EnabledAt.Format(time.RFC3339)
	}
	if info.LastError != nil {
		data.LastError = info.LastError.Error()
	}
	return data
}

// mapPipelineError converts manager and pipeline errors to HTTP errors.
func mapPipelineError(err error) error {
	switch {
	case errors.Is(err, display.ErrPipelineNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, display.ErrBusy),
		errors.Is(err, pipeline.ErrEventAlreadyPending),
		errors.Is(err, pipeline.ErrNotEnabled):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, pipeline.ErrInvalidLayer),
		errors.Is(err, pipeline.ErrInvalidConfig):
		return huma.Error400BadRequest(err.Error())
	case errors.Is(err, display.ErrClosed):
		return huma.Error503ServiceUnavailable(err.Error())
	default:
		return huma.Error500InternalServerError(err.Error())
	}
}
