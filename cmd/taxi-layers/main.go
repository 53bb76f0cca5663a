package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/api"
	"github.com/sudorandom/taxi-stream/pkg/clock"
	"github.com/sudorandom/taxi-stream/pkg/dispatch"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
	"github.com/sudorandom/taxi-stream/pkg/simulation"
	"github.com/sudorandom/taxi-stream/pkg/sources"
	"github.com/sudorandom/taxi-stream/pkg/utils"
)

type Globals struct {
	Analysis string `help:"Analysis payload URL or file path." default:"${analysis}" env:"TAXI_ANALYSIS"`
	Presets  string `help:"YAML file overriding the renderer presets." env:"TAXI_PRESETS"`
	CacheDir string `help:"Payload cache directory. Empty disables caching." env:"TAXI_CACHE_DIR"`
	Width    int    `help:"Map width in pixels, used to fit the view." default:"1920"`
	Height   int    `help:"Map height in pixels, used to fit the view." default:"1080"`
}

// open builds the store, controller and surface. close releases the cache.
func (g *Globals) open() (loader *mapview.Loader, closeFn func(), err error) {
	presets, err := render.LoadPresets(g.Presets)
	if err != nil {
		return nil, nil, err
	}
	closeFn = func() {}
	var cache *utils.PayloadCache
	if g.CacheDir != "" {
		cache, err = utils.OpenPayloadCache(filepath.Join(g.CacheDir, "payloads"))
		if err != nil {
			return nil, nil, fmt.Errorf("open payload cache: %w", err)
		}
		closeFn = func() {
			if err := cache.Close(); err != nil {
				log.Printf("Error closing payload cache: %v", err)
			}
		}
	}
	client := &http.Client{Timeout: 30 * time.Second}
	store := analysis.NewStore(analysis.SourceFor(g.Analysis, client, cache))
	return &mapview.Loader{
		Store:   store,
		Layers:  layers.NewController(store),
		Surface: mapview.NewSurface(g.Width, g.Height, presets),
	}, closeFn, nil
}

type ServeCmd struct {
	Addr     string `help:"Listen address." default:":8080" env:"TAXI_API_ADDR"`
	Dispatch string `help:"Dispatch websocket URL to mirror. Empty disables the dispatch status route." env:"TAXI_DISPATCH_URL"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loader, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	loader.Watch(ctx)
	if err := loader.Load(ctx); err != nil {
		log.Printf("Initial load failed, POST /api/v1/dataset/reload to retry: %v", err)
	}

	var sim *simulation.View
	if c.Dispatch != "" {
		sim = simulation.NewView(loader.Surface, dispatch.NewClient(c.Dispatch), clock.Real{}, simulation.Config{ShowDemand: true, UseProximity: true, UseSupplyDemand: true})
		if err := sim.Mount(ctx); err != nil {
			return err
		}
		defer sim.Unmount()
	}

	srv := &http.Server{
		Addr:              c.Addr,
		Handler:           api.NewServeMux(api.NewAPIHandler(loader, sim)),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Error shutting down server: %v", err)
		}
	}()

	log.Printf("Serving API on %s (docs at /docs)", c.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type ExportCmd struct {
	Output      string   `short:"o" help:"Output file. Defaults to stdout." type:"path"`
	Layers      []string `help:"Layers to export. Defaults to every layer with data."`
	Recommended float64  `help:"Export the layers recommended at this zoom instead." placeholder:"ZOOM"`
}

func (c *ExportCmd) Run(g *Globals) error {
	loader, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	if err := loader.Load(context.Background()); err != nil {
		return err
	}
	switch {
	case c.Recommended > 0:
		loader.Layers.SetActive(loader.Layers.Recommended(c.Recommended))
	case len(c.Layers) > 0:
		ids := make([]analysis.LayerID, len(c.Layers))
		for i, s := range c.Layers {
			ids[i] = analysis.LayerID(s)
		}
		loader.Layers.SetActive(ids)
	default:
		loader.Layers.EnableAll()
	}
	loader.Surface.Sync(loader.Layers.Active())

	fc := mapview.ExportGeoJSON(loader.Surface.Snapshot())
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return err
	}
	if c.Output == "" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	if err := os.WriteFile(c.Output, data, 0o644); err != nil {
		return err
	}
	log.Printf("Wrote %d features for %v to %s", len(fc.Features), loader.Layers.Active(), c.Output)
	return nil
}

type ValidateCmd struct{}

func (c *ValidateCmd) Run(g *Globals) error {
	loader, closeFn, err := g.open()
	if err != nil {
		return err
	}
	defer closeFn()

	ds, err := loader.Store.Load(context.Background())
	if err != nil {
		var verr *analysis.ValidationError
		if errors.As(err, &verr) {
			return fmt.Errorf("payload is invalid: %w", err)
		}
		return err
	}
	md := ds.Metadata
	fmt.Printf("Records: %d  Drivers: %d  Analysed: %s\n", md.TotalRecords, md.UniqueDrivers, md.AnalysisTimestamp)
	fmt.Printf("Bounds:  lat %.4f..%.4f  lng %.4f..%.4f\n\n", md.Bounds.LatMin, md.Bounds.LatMax, md.Bounds.LngMin, md.Bounds.LngMax)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "LAYER\tKIND\tRECORDS\tDESCRIPTION")
	for _, info := range analysis.LayerMetadata(ds) {
		count := fmt.Sprint(info.Count)
		if !info.Present {
			count = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, analysis.KindOf(info.ID), count, info.Description)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	// Records past the validation sample are only checked when rendered.
	skipped := 0
	for _, id := range ds.NonEmpty() {
		l, _ := ds.Layer(id)
		res := render.Layer(l, true, loader.Surface.Presets())
		skipped += len(res.Skipped)
	}
	if skipped > 0 {
		fmt.Printf("\n%d records would be skipped when drawn\n", skipped)
	}
	return nil
}

var cli struct {
	Globals

	Serve    ServeCmd    `cmd:"" help:"Serve the layer inspection API."`
	Export   ExportCmd   `cmd:"" help:"Export the rendered layers as GeoJSON."`
	Validate ValidateCmd `cmd:"" help:"Load and validate an analysis payload."`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env: %v", err)
	}
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx := kong.Parse(&cli,
		kong.Name("taxi-layers"),
		kong.Description("Inspect, validate and export the taxi analysis map layers."),
		kong.Vars{"analysis": sources.AnalysisFile},
		kong.UsageOnError(),
	)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}
