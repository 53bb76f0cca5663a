package api

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
)

// NewServeMux returns a mux with the API mounted on it.
func NewServeMux(h *APIHandler) *http.ServeMux {
	mux := http.NewServeMux()

	humaConfig := huma.DefaultConfig("taxi-stream API", Version)
	humaConfig.Info.Description = "Inspect and switch the analysis layers of the taxi map."
	// Disable $schema property in responses (cleaner JSON)
	humaConfig.CreateHooks = []func(huma.Config) huma.Config{}

	h.Register(humago.New(mux, humaConfig))
	return mux
}
