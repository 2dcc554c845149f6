package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/Garsondee/clouds-of-aurora/internal/api"
	"github.com/Garsondee/clouds-of-aurora/internal/config"
	"github.com/Garsondee/clouds-of-aurora/internal/interact"
	"github.com/Garsondee/clouds-of-aurora/internal/loop"
	"github.com/Garsondee/clouds-of-aurora/internal/snapshot"
	"github.com/Garsondee/clouds-of-aurora/internal/syncloop"
	"github.com/Garsondee/clouds-of-aurora/internal/tilemap"
)

type reportOptions struct {
	rounds  int
	offline bool
	trace   bool
}

func main() {
	var opts reportOptions
	extra := func(fs *flag.FlagSet) {
		fs.IntVar(&opts.rounds, "rounds", 0, "extra poll rounds after the initial fetch")
		fs.BoolVar(&opts.offline, "offline", false, "print the cached snapshot instead of contacting the server")
		fs.BoolVar(&opts.trace, "trace", false, "print the full sync trace")
	}
	cfg, err := config.Load(os.Args[1:], os.Getenv, extra)
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		log.Fatal(err)
	}
	level, _ := cfg.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(context.Background(), os.Stdout, cfg, opts); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, w io.Writer, cfg config.Config, opts reportOptions) error {
	if opts.offline {
		st, err := snapshot.NewStore(cfg.DataDir).Load(cfg.SettlementID)
		if err != nil {
			return fmt.Errorf("offline report: %w", err)
		}
		store := syncloop.NewStore()
		store.Restore(st)
		fmt.Fprintf(w, "=== Map Report (offline, saved %s) ===\n", st.SavedAt.Format(time.RFC3339))
		printStore(w, cfg, store)
		return nil
	}

	client := api.NewClient(cfg.BaseURL,
		api.WithToken(cfg.Token),
		api.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}),
	)
	q := loop.NewQueue()
	sopts := syncloop.Options{
		SettlementID:   cfg.SettlementID,
		Interval:       cfg.PollInterval,
		EventsInterval: cfg.EventsInterval,
		Log:            syncloop.NewSyncLog(),
	}
	if cfg.CacheEnabled {
		sopts.Persister = snapshot.NewStore(cfg.DataDir)
	}
	sched := syncloop.NewScheduler(client, q, nil, sopts)
	sched.Start(ctx)
	q.Settle()

	for i := 0; i < opts.rounds; i++ {
		time.Sleep(cfg.PollInterval)
		sched.Tick(time.Now())
		q.Settle()
	}
	if err := sched.SaveNow(time.Now()); err != nil {
		slog.Warn("snapshot save failed", "err", err)
	}

	fmt.Fprintf(w, "=== Map Report ===\n")
	fmt.Fprintf(w, "server=%s settlement=%d rounds=%d\n", cfg.BaseURL, cfg.SettlementID, opts.rounds)
	printStore(w, cfg, sched.Store())

	fmt.Fprintf(w, "\n--- Sync ---\n")
	if status := sched.Store().Status(); status != "" {
		fmt.Fprintf(w, "failing: %s\n", status)
	}
	fmt.Fprint(w, sched.Log().Summary())
	if opts.trace {
		fmt.Fprintf(w, "\n%s", sched.Log().Format())
	}
	return nil
}

func printStore(w io.Writer, cfg config.Config, store *syncloop.Store) {
	if s, ok := store.Settlement(); ok {
		fmt.Fprintf(w, "name=%q season=%s buildings=%d\n", s.Name, s.Season, len(s.Buildings))
		fmt.Fprintf(w, "resources: %s\n", interact.ResourceBar(s))
	} else {
		fmt.Fprintln(w, "settlement: unavailable")
	}
	if c, ok := store.Clock(); ok {
		fmt.Fprintf(w, "tick=%d\n", c.Tick)
	}

	fmt.Fprintf(w, "\n--- Map %dx%d ---\n", cfg.GridSize, cfg.GridSize)
	fmt.Fprint(w, asciiMap(store.Index(), cfg.GridSize))
	fmt.Fprintln(w, "legend: UPPER=building (lower while under construction) *=resource node lower=terrain ?=missing")

	if bs := buildingLines(store.Buildings()); len(bs) > 0 {
		fmt.Fprintf(w, "\n--- Buildings ---\n")
		for _, l := range bs {
			fmt.Fprintln(w, l)
		}
	}
	if nodes := nodeLines(store.Tiles()); len(nodes) > 0 {
		fmt.Fprintf(w, "\n--- Resource nodes ---\n")
		for _, l := range nodes {
			fmt.Fprintln(w, l)
		}
	}
	if evs := store.Events(); len(evs) > 0 {
		fmt.Fprintf(w, "\n--- Events ---\n")
		for _, e := range evs {
			fmt.Fprintf(w, "%s [%s] %s\n", e.Timestamp, e.Type, e.Description)
		}
	}
}

// asciiMap draws one character per cell: buildings win over nodes, nodes
// over terrain, as on screen.
func asciiMap(idx *tilemap.Index, size int) string {
	var b strings.Builder
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			b.WriteByte(cellChar(idx, tilemap.Coord{X: x, Y: y}))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func cellChar(idx *tilemap.Index, c tilemap.Coord) byte {
	if bl := idx.Building(c); bl != nil {
		ch := initial(bl.Type, '#')
		if bl.Constructed {
			return upper(ch)
		}
		return lower(ch)
	}
	if idx.Node(c) != nil {
		return '*'
	}
	if t := idx.Tile(c); t != nil {
		return lower(initial(t.Terrain, '.'))
	}
	return '?'
}

func initial(s string, def byte) byte {
	s = strings.TrimSpace(s)
	if s == "" || s[0] >= 0x80 {
		return def
	}
	return s[0]
}

func upper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - 'a' + 'A'
	}
	return c
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c - 'A' + 'a'
	}
	return c
}

func buildingLines(bs []api.Building) []string {
	sorted := append([]api.Building(nil), bs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })
	out := make([]string, 0, len(sorted))
	for _, b := range sorted {
		at := "unplaced"
		if b.X != nil && b.Y != nil {
			at = fmt.Sprintf("(%d,%d)", *b.X, *b.Y)
		}
		state := "built"
		if !b.Constructed {
			state = fmt.Sprintf("building %d%%", b.Progress)
		}
		out = append(out, fmt.Sprintf("#%-4d %-12s %-9s %-13s %s", b.ID, b.Type, at, state, b.Assigned))
	}
	return out
}

func nodeLines(tiles []api.Tile) []string {
	var out []string
	for _, t := range tiles {
		for _, n := range t.Nodes {
			who := "idle"
			if n.Gatherer != nil {
				who = "gathered by " + n.Gatherer.Label()
			}
			out = append(out, fmt.Sprintf("#%-4d %-16s (%d,%d) %s %d/%d %s", n.ID, n.Name, t.X, t.Y, n.ResourceType, n.Quantity, n.MaxQuantity, who))
		}
	}
	return out
}
