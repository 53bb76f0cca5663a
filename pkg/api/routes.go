// Package api defines the inspection API over the loaded dataset, the layer
// set and the map surface.
package api

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/simulation"
)

const Version = "1.0.0"

// Types

type IDInput struct {
	ID string `path:"id" doc:"Layer ID" example:"routes"`
}

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"1.0.0"`
	Dataset string `json:"dataset" doc:"Dataset state" example:"ready"`
	Error   string `json:"error,omitempty" doc:"Last load error"`
}

type LayerState struct {
	analysis.LayerInfo
	Active bool `json:"active" doc:"Whether the layer is drawn"`
}

type LayersBody struct {
	Layers []LayerState       `json:"layers"`
	Active []analysis.LayerID `json:"active"`
	Stats  layers.Stats       `json:"stats"`
	Meta   *analysis.Metadata `json:"metadata,omitempty"`
}

type ActiveBody struct {
	Active []analysis.LayerID `json:"active" doc:"Active layers in canonical order"`
}

type ToggleBody struct {
	Layer  analysis.LayerID   `json:"layer"`
	On     bool               `json:"on" doc:"Whether the layer is active after the toggle"`
	Active []analysis.LayerID `json:"active"`
}

type SetActiveInput struct {
	Body struct {
		Layers []string `json:"layers" doc:"Layer ids to activate; ids without data are dropped" example:"[\"routes\",\"demand\"]"`
	}
}

type RecommendedInput struct {
	Zoom float64 `query:"zoom" default:"12" doc:"Map zoom level"`
}

type RecommendedBody struct {
	Zoom   float64            `json:"zoom"`
	Layers []analysis.LayerID `json:"layers"`
}

type GeoJSONOutput struct {
	ContentType string `header:"Content-Type"`
	Body        []byte
}

// APIHandler holds all REST API handlers.
type APIHandler struct {
	loader *mapview.Loader
	sim    *simulation.View
}

// NewAPIHandler serves loader's store, controller and surface. sim may be nil.
func NewAPIHandler(loader *mapview.Loader, sim *simulation.View) *APIHandler {
	return &APIHandler{loader: loader, sim: sim}
}

// Register adds every route to api.
func (h *APIHandler) Register(api huma.API) {
	h.RegisterHealth(api)
	h.RegisterLayers(api)
	h.RegisterMap(api)
	h.RegisterDispatch(api)
}

func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags("health"))
}

func (h *APIHandler) RegisterLayers(api huma.API) {
	huma.Get(api, "/api/v1/layers", h.GetLayers, huma.OperationTags("layers"))
	huma.Get(api, "/api/v1/layers/recommended", h.GetRecommended, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/{id}/toggle", h.ToggleLayer, huma.OperationTags("layers"))
	huma.Put(api, "/api/v1/layers/active", h.SetActive, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/enable-all", h.EnableAll, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/layers/clear", h.ClearAll, huma.OperationTags("layers"))
	huma.Post(api, "/api/v1/dataset/reload", h.Reload, huma.OperationTags("dataset"))
}

func (h *APIHandler) RegisterMap(api huma.API) {
	huma.Get(api, "/api/v1/map.geojson", h.GetGeoJSON, huma.OperationTags("map"))
}

func (h *APIHandler) RegisterDispatch(api huma.API) {
	huma.Get(api, "/api/v1/dispatch", h.GetDispatch, huma.OperationTags("dispatch"))
}

// Handlers

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	status, msg := h.loader.Surface.Status()
	return &struct{ Body HealthBody }{Body: HealthBody{
		Status:  "ok",
		Version: Version,
		Dataset: status.String(),
		Error:   msg,
	}}, nil
}

func (h *APIHandler) active() []analysis.LayerID {
	out := h.loader.Layers.Active()
	if out == nil {
		out = []analysis.LayerID{}
	}
	return out
}

func (h *APIHandler) GetLayers(ctx context.Context, input *struct{}) (*struct{ Body LayersBody }, error) {
	ctrl := h.loader.Layers
	ds := ctrl.Dataset()
	body := LayersBody{Active: h.active(), Stats: ctrl.Stats()}
	for _, info := range analysis.LayerMetadata(ds) {
		body.Layers = append(body.Layers, LayerState{LayerInfo: info, Active: ctrl.IsActive(info.ID)})
	}
	if ds != nil {
		md := ds.Metadata
		body.Meta = &md
	}
	return &struct{ Body LayersBody }{Body: body}, nil
}

func (h *APIHandler) GetRecommended(ctx context.Context, input *RecommendedInput) (*struct{ Body RecommendedBody }, error) {
	rec := h.loader.Layers.Recommended(input.Zoom)
	return &struct{ Body RecommendedBody }{Body: RecommendedBody{Zoom: input.Zoom, Layers: rec}}, nil
}

func (h *APIHandler) ToggleLayer(ctx context.Context, input *IDInput) (*struct{ Body ToggleBody }, error) {
	id, ok := analysis.ParseLayerID(input.ID)
	if !ok {
		return nil, huma.Error404NotFound("unknown layer " + input.ID)
	}
	on := h.loader.Layers.Toggle(id)
	return &struct{ Body ToggleBody }{Body: ToggleBody{Layer: id, On: on, Active: h.active()}}, nil
}

func (h *APIHandler) SetActive(ctx context.Context, input *SetActiveInput) (*struct{ Body ActiveBody }, error) {
	ids := make([]analysis.LayerID, 0, len(input.Body.Layers))
	for _, s := range input.Body.Layers {
		ids = append(ids, analysis.LayerID(s))
	}
	h.loader.Layers.SetActive(ids)
	return &struct{ Body ActiveBody }{Body: ActiveBody{Active: h.active()}}, nil
}

func (h *APIHandler) EnableAll(ctx context.Context, input *struct{}) (*struct{ Body ActiveBody }, error) {
	h.loader.Layers.EnableAll()
	return &struct{ Body ActiveBody }{Body: ActiveBody{Active: h.active()}}, nil
}

func (h *APIHandler) ClearAll(ctx context.Context, input *struct{}) (*struct{ Body ActiveBody }, error) {
	h.loader.Layers.ClearAll()
	return &struct{ Body ActiveBody }{Body: ActiveBody{Active: h.active()}}, nil
}

func (h *APIHandler) Reload(ctx context.Context, input *struct{}) (*struct{ Body LayersBody }, error) {
	if err := h.loader.Retry(ctx); err != nil {
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			return nil, huma.Error422UnprocessableEntity(err.Error())
		}
		return nil, huma.Error502BadGateway(err.Error())
	}
	return h.GetLayers(ctx, input)
}

func (h *APIHandler) GetGeoJSON(ctx context.Context, input *struct{}) (*GeoJSONOutput, error) {
	frame := h.loader.Surface.Snapshot()
	if frame.Status != mapview.StatusReady {
		return nil, huma.Error503ServiceUnavailable("map is " + frame.Status.String())
	}
	data, err := json.Marshal(mapview.ExportGeoJSON(frame))
	if err != nil {
		return nil, huma.Error500InternalServerError("encoding geojson", err)
	}
	return &GeoJSONOutput{ContentType: "application/geo+json", Body: data}, nil
}

func (h *APIHandler) GetDispatch(ctx context.Context, input *struct{}) (*struct{ Body simulation.Status }, error) {
	if h.sim == nil {
		return nil, huma.Error404NotFound("simulation not running")
	}
	return &struct{ Body simulation.Status }{Body: h.sim.Status()}, nil
}
