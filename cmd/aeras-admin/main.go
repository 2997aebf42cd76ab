// README: Admin CLI; seeds blocks and operators and runs review, resolution and cleanup tasks against the shared store.
package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/alecthomas/kong"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"aeras/internal/config"
	"aeras/internal/infra"
	"aeras/internal/modules/dispatch"
	"aeras/internal/modules/location"
	"aeras/internal/modules/operator"
	"aeras/internal/modules/ride"
	"aeras/internal/o11y"
	"aeras/internal/types"
)

//go:embed seed.json
var defaultSeed []byte

type app struct {
	backends *infra.Backends
	rides    *ride.Service
	dispatch *dispatch.Service
}

type seedFile struct {
	Blocks    []location.Block    `json:"blocks"`
	Operators []operator.Operator `json:"operators"`
}

type SeedCmd struct {
	File string `name:"file" short:"f" help:"Seed JSON with blocks and operators. Defaults to the bundled campus set." type:"existingfile"`
}

func (c *SeedCmd) Run(ctx context.Context, a *app) error {
	raw := defaultSeed
	if c.File != "" {
		b, err := os.ReadFile(c.File)
		if err != nil {
			return err
		}
		raw = b
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return fmt.Errorf("parse seed: %w", err)
	}
	blocks := location.NewBlockStore(a.backends.Store)
	for _, b := range seed.Blocks {
		if err := blocks.Put(ctx, b); err != nil {
			return fmt.Errorf("block %s: %w", b.ID, err)
		}
	}
	ops := operator.NewStore(a.backends.Store)
	created := 0
	for i := range seed.Operators {
		err := ops.Register(ctx, &seed.Operators[i])
		if errors.Is(err, operator.ErrExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("operator %s: %w", seed.Operators[i].ID, err)
		}
		created++
	}
	fmt.Printf("seeded %d blocks, %d new operators\n", len(seed.Blocks), created)
	return nil
}

type PendingCmd struct{}

func (c *PendingCmd) Run(ctx context.Context, a *app) error {
	entries, err := a.rides.Store().PendingReviews(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ENTRY\tOPERATOR\tDISTANCE_M\tFINAL_POINTS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%.1f\t%d\n", e.ID, e.OperatorID, e.GPSAccuracy, e.FinalPoints)
	}
	return w.Flush()
}

type ReviewCmd struct {
	Entry   string `arg:"" help:"Points history entry id."`
	Decline bool   `name:"decline" help:"Decline instead of approving."`
	Points  *int   `name:"points" help:"Points to award when approving (0-10)."`
}

func (c *ReviewCmd) Run(ctx context.Context, a *app) error {
	entry, err := a.rides.ReviewPoints(ctx, ride.ReviewCommand{
		EntryID: types.ID(c.Entry),
		Approve: !c.Decline,
		Points:  c.Points,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s reviewed: status=%s awarded=%d\n", entry.ID, entry.Status, *entry.AwardedPoints)
	return nil
}

type ResolveCmd struct {
	Ride     string  `arg:"" help:"Ride id waiting for manual verification."`
	Distance float64 `name:"distance" required:"" help:"Verified drop-off distance from the block in meters."`
}

func (c *ResolveCmd) Run(ctx context.Context, a *app) error {
	res, err := a.rides.ResolveManualVerification(ctx, ride.ResolveCommand{
		RideID:         types.ID(c.Ride),
		DistanceMeters: c.Distance,
	})
	if err != nil {
		return err
	}
	fmt.Printf("%s completed: points=%d status=%s replayed=%t\n",
		res.Completed.ID, res.Completed.PointsEarned, res.Completed.PointsStatus, res.Replayed)
	return nil
}

type ReconcileCmd struct{}

func (c *ReconcileCmd) Run(ctx context.Context, a *app) error {
	report, err := a.rides.Reconcile(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("checked %d completed rides: removed %d active rides, %d requests\n",
		report.Checked, report.ActiveRemoved, report.RequestsRemoved)
	return nil
}

type SweepCmd struct{}

// Run closes overdue and fully rejected requests once, for deployments where
// no API process is running the monitors.
func (c *SweepCmd) Run(ctx context.Context, a *app) error {
	timedOut, err := a.dispatch.SweepTimeouts(ctx)
	if err != nil {
		return err
	}
	rejected, err := a.dispatch.SweepAllRejected(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("closed %d timed out, %d fully rejected\n", timedOut, rejected)
	return nil
}

var cli struct {
	Seed      SeedCmd      `cmd:"" help:"Load location blocks and register operators."`
	Pending   PendingCmd   `cmd:"" help:"List points entries waiting for review."`
	Review    ReviewCmd    `cmd:"" help:"Approve or decline a pending points entry."`
	Resolve   ResolveCmd   `cmd:"" help:"Complete a ride waiting for manual verification."`
	Reconcile ReconcileCmd `cmd:"" help:"Remove rides and requests left behind by interrupted completions."`
	Sweep     SweepCmd     `cmd:"" help:"Run the timeout and rejection sweeps once."`
}

func main() {
	if err := run(); err != nil {
		log.Fatalf("aeras-admin: %v", err)
	}
}

func run() error {
	_ = godotenv.Load()
	kctx := kong.Parse(&cli, kong.Name("aeras-admin"), kong.UsageOnError())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Store.Backend == config.StoreMemory {
		return errors.New("AERAS_STORE must name a shared backend (redis or firebase)")
	}
	backends, err := infra.OpenBackends(ctx, cfg)
	if err != nil {
		return err
	}
	defer backends.Close()

	logger := o11y.NewLogger(cfg.Observability.LogLevel)
	loc := location.NewService(location.NewBlockStore(backends.Store), backends.Samples)
	a := &app{
		backends: backends,
		rides:    ride.NewService(backends.Store, loc, loc, ride.Options{Logger: logger}),
		dispatch: dispatch.NewService(backends.Store, loc, dispatch.Options{RequestTimeout: cfg.Dispatch.RequestTimeout, Logger: logger}),
	}
	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(a)
}
