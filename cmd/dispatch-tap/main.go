package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/sudorandom/taxi-stream/pkg/dispatch"
	"github.com/sudorandom/taxi-stream/pkg/sources"
)

var cli struct {
	URL      string        `arg:"" optional:"" help:"Dispatch websocket URL." default:"${dispatch}" env:"TAXI_DISPATCH_URL"`
	Timeout  time.Duration `help:"How long to run before exiting (0 for infinite)."`
	JSON     bool          `help:"Dump raw JSON instead of showing stats."`
	AckAfter time.Duration `help:"Acknowledge each new assignment after this delay, standing in for the viewer (0 disables)."`
}

// Stats is the tap's view of the stream.
type Stats struct {
	mu          sync.Mutex
	StartTime   time.Time
	States      int
	Demands     int
	Taxis       map[dispatch.TaxiStatus]int
	Orders      map[dispatch.OrderStatus]int
	Algorithms  map[string]int
	Assignments map[string]bool
	Routes      int
	MissingLegs int
	Hexagons    int
	Unbounded   int
}

// RecordState counts the latest snapshot and returns assignments not seen
// before.
func (s *Stats) RecordState(ws dispatch.WorldState) []dispatch.Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.States++
	s.Taxis = make(map[dispatch.TaxiStatus]int)
	for _, t := range ws.Taxis {
		s.Taxis[t.Status]++
	}
	s.Orders = make(map[dispatch.OrderStatus]int)
	for _, o := range ws.Orders {
		s.Orders[o.Status]++
	}
	var fresh []dispatch.Assignment
	for _, a := range ws.Assignments {
		if s.Assignments[a.OrderID] {
			continue
		}
		s.Assignments[a.OrderID] = true
		s.Algorithms[a.AlgorithmUsed]++
		if a.ToPickupRoute == nil || a.ToDropoffRoute == nil || a.ToPickupRoute.Path == nil || a.ToDropoffRoute.Path == nil {
			s.MissingLegs++
		} else {
			s.Routes += len(a.ToPickupRoute.Path) + len(a.ToDropoffRoute.Path)
		}
		fresh = append(fresh, a)
	}
	return fresh
}

func (s *Stats) RecordDemand(hexes []dispatch.DemandHexagon) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Demands++
	s.Hexagons = len(hexes)
	s.Unbounded = 0
	for _, h := range hexes {
		if h.DemandRatio < 0 {
			s.Unbounded++
		}
	}
}

func (s *Stats) Report(c *dispatch.Client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs := c.Stats()

	elapsed := time.Since(s.StartTime).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	state := "DISCONNECTED"
	if c.Connected() {
		state = "CONNECTED"
	}

	fmt.Printf("\033[H\033[2J") // Clear screen
	fmt.Printf("Dispatch Stream Stats (Running for %.1fs, %s)\n", elapsed, state)
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Client ID:     %s\n", c.ID)
	fmt.Printf("Connects:      %d (%d drops)\n", cs.Connects, cs.Disconnects)
	types := make([]string, 0, len(cs.Messages))
	for t := range cs.Messages {
		types = append(types, t)
	}
	sort.Strings(types)
	for _, t := range types {
		fmt.Printf("  %-20s %d (%.2f/s)\n", t, cs.Messages[t], float64(cs.Messages[t])/elapsed)
	}
	fmt.Printf("Sent:          %d (%d dropped while offline)\n", cs.Sent, cs.Dropped)
	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Taxis:         %d free, %d busy\n", s.Taxis[dispatch.TaxiFree], s.Taxis[dispatch.TaxiBusy])
	fmt.Printf("Orders:        %d pending, %d assigned, %d completed\n",
		s.Orders[dispatch.OrderPending], s.Orders[dispatch.OrderAssigned], s.Orders[dispatch.OrderCompleted])
	fmt.Printf("Assignments:   %d seen, %d without both legs\n", len(s.Assignments), s.MissingLegs)
	if n := len(s.Assignments) - s.MissingLegs; n > 0 {
		fmt.Printf("Avg waypoints: %.1f\n", float64(s.Routes)/float64(n))
	}
	algs := make([]string, 0, len(s.Algorithms))
	for a := range s.Algorithms {
		algs = append(algs, a)
	}
	sort.Strings(algs)
	for _, a := range algs {
		fmt.Printf("  %-20s %d\n", a, s.Algorithms[a])
	}
	fmt.Printf("Demand:        %d hexagons (%d with no taxis)\n", s.Hexagons, s.Unbounded)
	fmt.Printf("--------------------------------------------------\n")
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Error loading .env: %v", err)
	}
	kong.Parse(&cli,
		kong.Name("dispatch-tap"),
		kong.Description("Watch the dispatch websocket and summarise its traffic."),
		kong.Vars{"dispatch": sources.DispatchSocketURL},
	)
	log.SetOutput(os.Stderr)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if cli.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cli.Timeout)
		defer cancel()
	}

	stats := &Stats{
		StartTime:   time.Now(),
		Algorithms:  make(map[string]int),
		Assignments: make(map[string]bool),
	}
	c := dispatch.NewClient(cli.URL)
	c.OnState = func(ws dispatch.WorldState) {
		for _, a := range stats.RecordState(ws) {
			if cli.AckAfter <= 0 {
				continue
			}
			orderID := a.OrderID
			time.AfterFunc(cli.AckAfter, func() {
				if err := c.CompleteAssignment(orderID); err != nil {
					log.Printf("Failed to acknowledge %s: %v", orderID, err)
				}
			})
		}
	}
	c.OnDemand = stats.RecordDemand
	if cli.JSON {
		c.OnRaw = func(msg []byte) {
			var pretty bytes.Buffer
			if err := json.Indent(&pretty, msg, "", "  "); err != nil {
				fmt.Printf("%s\n\n", msg)
				return
			}
			fmt.Printf("%s\n\n", pretty.String())
		}
	}

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case err := <-done:
			if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				log.Fatalf("dispatch: %v", err)
			}
			if !cli.JSON {
				stats.Report(c)
			}
			return
		case <-ticker.C:
			if !cli.JSON {
				stats.Report(c)
			}
		}
	}
}
