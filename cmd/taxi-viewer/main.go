package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/hajimehoshi/ebiten/v2"
	"github.com/joho/godotenv"
	_ "github.com/silbinarywolf/preferdiscretegpu"

	"github.com/sudorandom/taxi-stream/pkg/analysis"
	"github.com/sudorandom/taxi-stream/pkg/animation"
	"github.com/sudorandom/taxi-stream/pkg/clock"
	"github.com/sudorandom/taxi-stream/pkg/dispatch"
	"github.com/sudorandom/taxi-stream/pkg/layers"
	"github.com/sudorandom/taxi-stream/pkg/mapview"
	"github.com/sudorandom/taxi-stream/pkg/render"
	"github.com/sudorandom/taxi-stream/pkg/simulation"
	"github.com/sudorandom/taxi-stream/pkg/sources"
	"github.com/sudorandom/taxi-stream/pkg/utils"
	"github.com/sudorandom/taxi-stream/pkg/viewer"
)

var cli struct {
	Analysis       string        `help:"Analysis payload URL or file path." default:"${analysis}" env:"TAXI_ANALYSIS"`
	Presets        string        `help:"YAML file overriding the renderer presets." env:"TAXI_PRESETS"`
	CacheDir       string        `help:"Directory for the payload cache and basemap tiles. Empty disables caching." default:"data" env:"TAXI_CACHE_DIR"`
	Tiles          string        `help:"Basemap tile URL template." default:"${tiles}" env:"TAXI_TILES"`
	Dispatch       string        `help:"Dispatch websocket URL. Empty disables the live view." default:"${dispatch}" env:"TAXI_DISPATCH_URL"`
	Demand         bool          `help:"Draw the dispatch demand hexagons." default:"true" negatable:""`
	Proximity      bool          `help:"Badge: dispatcher uses the distance score." default:"true" negatable:""`
	Supply         bool          `help:"Badge: dispatcher uses the supply/demand score." default:"true" negatable:""`
	StepDelay      time.Duration `help:"Delay between animation waypoints." default:"200ms" env:"TAXI_STEP_DELAY"`
	GraceDelay     time.Duration `help:"How long a finished taxi stays before cleanup." default:"800ms" env:"TAXI_GRACE_DELAY"`
	HideDelay      time.Duration `help:"How long completed order pins stay visible." default:"1s" env:"TAXI_HIDE_DELAY"`
	Backoff        time.Duration `help:"Initial reconnect delay." default:"1s" env:"TAXI_RECONNECT_BACKOFF"`
	MaxBackoff     time.Duration `help:"Reconnect delay cap." default:"30s" env:"TAXI_RECONNECT_MAX_BACKOFF"`
	PaceByDistance bool          `help:"Time waypoint steps by segment length instead of a fixed delay." env:"TAXI_PACE_BY_DISTANCE"`
	Speed          float64       `help:"Taxi speed in m/s when pacing by distance." default:"15"`
	Width          int           `help:"Internal rendering width." default:"1920"`
	Height         int           `help:"Internal rendering height." default:"1080"`
	WindowWidth    int           `help:"Initial window width (non-headless only)." default:"1280"`
	WindowHeight   int           `help:"Initial window height (non-headless only)." default:"720"`
	TPS            int           `help:"Ticks per second (engine updates)." default:"30"`
	Headless       bool          `help:"Run without a local window (Xvfb rendering active)."`
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env: %v", err)
	}
	kong.Parse(&cli,
		kong.Name("taxi-viewer"),
		kong.Description("Taxi fleet analysis map with the live dispatch view."),
		kong.Vars{
			"analysis": sources.AnalysisPayloadURL,
			"dispatch": sources.DispatchSocketURL,
			"tiles":    sources.OSMTileTemplate,
		},
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	presets, err := render.LoadPresets(cli.Presets)
	if err != nil {
		log.Fatalf("Failed to load presets: %v", err)
	}

	var cache *utils.PayloadCache
	tileDir := ""
	if cli.CacheDir != "" {
		cache, err = utils.OpenPayloadCache(filepath.Join(cli.CacheDir, "payloads"))
		if err != nil {
			log.Printf("Payload cache disabled: %v", err)
		} else {
			defer func() {
				if err := cache.Close(); err != nil {
					log.Printf("Error closing payload cache: %v", err)
				}
			}()
		}
		tileDir = filepath.Join(cli.CacheDir, "tiles")
	}

	client := &http.Client{Timeout: 30 * time.Second}
	store := analysis.NewStore(analysis.SourceFor(cli.Analysis, client, cache))
	controller := layers.NewController(store)
	surface := mapview.NewSurface(cli.Width, cli.Height, presets)
	basemap := *mapview.OpenStreetMap
	basemap.Template = cli.Tiles
	surface.SetBasemap(&basemap)

	loader := &mapview.Loader{Store: store, Layers: controller, Surface: surface}
	loader.Watch(ctx)
	go func() {
		if err := loader.Load(ctx); err != nil {
			log.Printf("Initial load failed, press R to retry: %v", err)
		}
	}()

	var sim *simulation.View
	if cli.Dispatch != "" {
		dc := dispatch.NewClient(cli.Dispatch)
		dc.InitialBackoff, dc.MaxBackoff = cli.Backoff, cli.MaxBackoff
		sim = simulation.NewView(surface, dc, clock.Real{}, simulation.Config{
			Animation: animation.Config{
				StepDelay:      cli.StepDelay,
				GraceDelay:     cli.GraceDelay,
				PaceByDistance: cli.PaceByDistance,
				Speed:          cli.Speed,
			},
			HideDelay:       cli.HideDelay,
			ShowDemand:      cli.Demand,
			UseProximity:    cli.Proximity,
			UseSupplyDemand: cli.Supply,
		})
		if err := sim.Mount(ctx); err != nil {
			log.Fatalf("Failed to start dispatch view: %v", err)
		}
		defer sim.Unmount()
	}

	game := viewer.NewGame(ctx, loader, sim, viewer.Options{
		Width:        cli.Width,
		Height:       cli.Height,
		TileCacheDir: tileDir,
		HTTPClient:   client,
	})

	ebiten.SetTPS(cli.TPS)
	if cli.Headless {
		log.Println("Running in HEADLESS mode (Rendering active).")
	} else {
		ebiten.SetWindowSize(cli.WindowWidth, cli.WindowHeight)
		ebiten.SetWindowTitle("Taxi Fleet Map")
		ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	}
	if err := ebiten.RunGame(game); err != nil {
		log.Fatal(err)
	}
}
