package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/zoobzio/tracekit"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect tracer configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check <file>",
	Short: "Validate a tracer config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := tracekit.LoadConfig(args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "service_name:    %s\n", cfg.ServiceName)
		fmt.Fprintf(out, "export_to:       %s\n", cfg.ExportTo)
		fmt.Fprintf(out, "capture_metrics: %t\n", cfg.MetricsEnabled())
		fmt.Fprintf(out, "sample_rate:     %g\n", cfg.Rate())
		fmt.Fprintf(out, "store_capacity:  %d\n", cfg.StoreCapacity)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configCheckCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads --config when set, otherwise the defaults for service.
func loadConfig(service string) (tracekit.Config, error) {
	if configPath == "" {
		cfg := tracekit.DefaultConfig()
		cfg.ServiceName = service
		return cfg, nil
	}
	return tracekit.LoadConfig(configPath)
}
