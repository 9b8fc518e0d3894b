package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"
	"github.com/zoobzio/tracekit"
	"go.uber.org/zap"
)

var (
	demoSlow     time.Duration
	demoJSON     bool
	demoFailures int
	demoIDs      string
)

var errCardDeclined = errors.New("card declined")

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Trace a simulated checkout and print the results",
	Long: `Run a simulated checkout on a fake clock: validate (50ms), then
charge (200ms) wrapping a gateway call (150ms) and a db insert.
The trace tree, slow operations, metrics and store stats are printed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig("tracekit-demo")
		if err != nil {
			return err
		}
		logger, err := newLogger()
		if err != nil {
			return err
		}
		defer func() { _ = logger.Sync() }()

		return runDemo(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
	},
}

func init() {
	demoCmd.Flags().DurationVar(&demoSlow, "slow", 100*time.Millisecond, "Slow operation threshold")
	demoCmd.Flags().BoolVar(&demoJSON, "json", false, "Print traces as JSON")
	demoCmd.Flags().IntVar(&demoFailures, "failures", 1, "Number of failed checkouts to simulate")
	demoCmd.Flags().StringVar(&demoIDs, "ids", "hex", "ID format: hex, uuid or ulid")
	rootCmd.AddCommand(demoCmd)
}

func runDemo(ctx context.Context, out io.Writer, cfg tracekit.Config, logger *zap.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	clock := clockz.NewFakeClock()

	opts := []tracekit.ConsoleOption{tracekit.WithWriter(out)}
	if demoJSON {
		opts = append(opts, tracekit.WithPrettyPrint())
	}
	cfg.ExportTo = tracekit.ExportNone

	tracerOpts := []tracekit.Option{
		tracekit.WithClock(clock),
		tracekit.WithLogger(logger),
		tracekit.WithExporter(tracekit.NewConsoleExporter(opts...)),
	}
	switch demoIDs {
	case "", "hex":
	case "uuid":
		tracerOpts = append(tracerOpts, tracekit.WithIDGenerator(tracekit.UUIDs{}))
	case "ulid":
		tracerOpts = append(tracerOpts, tracekit.WithIDGenerator(tracekit.NewULIDs(clock)))
	default:
		return fmt.Errorf("unknown id format %q", demoIDs)
	}

	tracer, err := tracekit.New(cfg, tracerOpts...)
	if err != nil {
		return err
	}
	defer func() { _ = tracer.Close(ctx) }()

	if _, err := checkout(ctx, tracer, clock, nil); err != nil {
		return err
	}
	for i := 0; i < demoFailures; i++ {
		if _, err := checkout(ctx, tracer, clock, errCardDeclined); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "\nslow traces (> %s):\n", demoSlow)
	for _, trace := range tracer.SlowTraces(demoSlow) {
		fmt.Fprintf(out, "  %s %s\n", trace.ID(), trace.Duration())
		for _, span := range trace.SlowOperations(demoSlow) {
			fmt.Fprintf(out, "    %s %s\n", span.Name, span.Duration)
		}
	}

	stats, err := tracer.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "\nstored=%d mean=%s min=%s max=%s\n", stats.Count, stats.Mean, stats.Min, stats.Max)
	return nil
}

// checkout records one simulated request. chargeErr fails the charge step.
func checkout(ctx context.Context, tracer *tracekit.Tracer, clock *clockz.FakeClock, chargeErr error) (*tracekit.Trace, error) {
	trace := tracer.StartTrace("checkout")

	if _, err := trace.StartSpan("validate"); err != nil {
		return nil, err
	}
	clock.Advance(50 * time.Millisecond)
	if err := trace.EndSpan(nil); err != nil {
		return nil, err
	}

	charge, err := trace.StartSpan("charge")
	if err != nil {
		return nil, err
	}
	charge.SetAttribute("amount", 4200)

	err = tracer.Instrument(ctx, trace.ID(), "gateway-call", func(context.Context) error {
		clock.Advance(150 * time.Millisecond)
		return chargeErr
	})
	if err != nil && !errors.Is(err, chargeErr) {
		return nil, err
	}

	dbSpan, err := trace.StartSpan("db.insert")
	if err != nil {
		return nil, err
	}
	dbSpan.SetAttribute(tracekit.QueryAttribute, "INSERT INTO orders")
	clock.Advance(20 * time.Millisecond)
	if err := trace.EndSpan(nil); err != nil {
		return nil, err
	}

	clock.Advance(30 * time.Millisecond)
	if err := trace.EndSpan(chargeErr); err != nil {
		return nil, err
	}
	if err := trace.EndSpan(nil); err != nil {
		return nil, err
	}

	finished, err := tracer.FinishTrace(ctx, trace.ID(), chargeErr)
	if err != nil {
		return finished, err
	}
	return finished, nil
}
