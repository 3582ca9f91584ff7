package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/tfkr-ae/orderproc/domain"
)

type stressOptions struct {
	*rootOptions
	Orders    int
	BatchSize int
	Delay     time.Duration
	Type      string
	JSON      bool
}

func newStressCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &stressOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run a stress test directly against the database",
		Long: `Generate and process orders in batches without going through the HTTP API.

Interrupting the command stops dispatching new batches and waits for the
batches in flight. The run is recorded in the stress test history.

Example:
  orderproc stress --orders 5000 --batch-size 250
  orderproc stress --orders 1000 --type complex --delay 50ms --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStress(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Orders, "orders", 1000, "number of orders to generate")
	cmd.Flags().IntVar(&opts.BatchSize, "batch-size", 0, "orders per batch, defaults to stress.default_batch_size")
	cmd.Flags().DurationVar(&opts.Delay, "delay", 0, "pause between batches")
	cmd.Flags().StringVar(&opts.Type, "type", string(domain.OrderTypeSimple), "order type (simple|complex)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the result as JSON")

	return cmd
}

func runStress(cmd *cobra.Command, opts *stressOptions) error {
	cfg, logger, err := opts.load(os.Stderr)
	if err != nil {
		return err
	}
	svc, repo, err := openService(cfg, logger)
	if err != nil {
		return err
	}
	defer repo.Close()
	defer svc.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := svc.Stress.Run(ctx, domain.StressConfig{
		NumOrders:           opts.Orders,
		BatchSize:           opts.BatchSize,
		DelayBetweenBatches: int(opts.Delay / time.Millisecond),
		OrderType:           domain.OrderType(strings.ToUpper(opts.Type)),
	})
	if err != nil {
		return fmt.Errorf("running stress test : %w", err)
	}

	if opts.JSON {
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(result)
	}
	return printStressResult(cmd.OutOrStdout(), result)
}

func printStressResult(out io.Writer, result *domain.StressResult) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "id\t%s\n", result.ID)
	fmt.Fprintf(w, "status\t%s\n", result.Status)
	fmt.Fprintf(w, "message\t%s\n", result.Message)
	fmt.Fprintf(w, "orders\t%d processed, %d succeeded, %d failed of %d\n",
		result.ProcessedOrders, result.SuccessfulOrders, result.FailedOrders, result.TotalOrders)
	fmt.Fprintf(w, "duration\t%s\n", time.Duration(result.DurationMillis)*time.Millisecond)
	fmt.Fprintf(w, "throughput\t%.2f orders/s\n", result.Throughput)
	fmt.Fprintf(w, "batch latency\t%.2f ms\n", result.AvgBatchLatencyMillis)
	fmt.Fprintf(w, "success rate\t%.2f%%\n", result.SuccessRate)
	return w.Flush()
}
