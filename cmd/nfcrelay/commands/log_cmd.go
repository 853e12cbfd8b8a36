package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Analyze protocol capture files (.rlog)",
		// Capture analysis does not need a valid relay configuration.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	}
	cmd.AddCommand(logViewCmd(), logStatsCmd(), logFilterCmd(), logExportCmd())
	return cmd
}

func addFilterFlags(fs *pflag.FlagSet, o *FilterOptions) {
	fs.StringVar(&o.ConnID, "conn-id", "", "filter by connection ID")
	fs.StringVar(&o.Session, "session", "", "filter by session ID")
	fs.StringVar(&o.Layer, "layer", "", "filter by layer (transport, wire, session)")
	fs.StringVar(&o.Direction, "direction", "", "filter by direction (in, out)")
	fs.StringVar(&o.Category, "category", "", "filter by category (message, state, status, error)")
	fs.StringVar(&o.TimeStart, "time-start", "", "filter events from this time (RFC3339)")
	fs.StringVar(&o.TimeEnd, "time-end", "", "filter events before this time (RFC3339)")
}

func logViewCmd() *cobra.Command {
	var opts FilterOptions
	cmd := &cobra.Command{
		Use:   "view <file.rlog>",
		Short: "View a capture in human-readable format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return RunView(args[0], filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	return cmd
}

func logStatsCmd() *cobra.Command {
	var opts FilterOptions
	cmd := &cobra.Command{
		Use:   "stats <file.rlog>",
		Short: "Show statistics about a capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return RunStats(args[0], filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	return cmd
}

func logFilterCmd() *cobra.Command {
	var (
		opts   FilterOptions
		output string
	)
	cmd := &cobra.Command{
		Use:   "filter <file.rlog>",
		Short: "Write matching events to a new capture",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			n, err := RunFilter(args[0], output, filter)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Filtered %d events to %s\n", n, output)
			return nil
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func logExportCmd() *cobra.Command {
	var (
		opts   FilterOptions
		format string
		output string
	)
	cmd := &cobra.Command{
		Use:   "export <file.rlog>",
		Short: "Export a capture as JSON lines or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := opts.Build()
			if err != nil {
				return err
			}
			return RunExport(args[0], format, output, filter, cmd.OutOrStdout())
		},
	}
	addFilterFlags(cmd.Flags(), &opts)
	cmd.Flags().StringVarP(&format, "format", "f", "jsonl", "output format (jsonl, csv)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")
	return cmd
}
