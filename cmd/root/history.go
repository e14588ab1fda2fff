package root

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ipybridge/ipybridge/pkg/config"
	"github.com/ipybridge/ipybridge/pkg/store"
)

func newHistoryCmd() *cobra.Command {
	var (
		configPath string
		storePath  string
		limit      int
		full       bool
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent executions from the execution log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if storePath != "" {
				cfg.Store.Path = storePath
			}
			if cfg.Store.Path == "" {
				return fmt.Errorf("no execution log configured; set store.path or pass --store")
			}

			st, err := store.NewSQLiteStore(cfg.Store.Path)
			if err != nil {
				return fmt.Errorf("opening execution log: %w", err)
			}
			defer st.Close()

			execs, err := st.Recent(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(execs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No recorded executions.")
				return nil
			}

			out := cmd.OutOrStdout()
			for _, exec := range execs {
				fmt.Fprintf(out, "%s  %-28s  %s\n",
					exec.CreatedAt.Format("2006-01-02 15:04:05"),
					exec.Status,
					firstLine(exec.Command))
				if full {
					fmt.Fprintln(out, indent(exec.Transcript, "    "))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVar(&storePath, "store", "", "Override the execution log database path")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of executions to list")
	cmd.Flags().BoolVar(&full, "full", false, "Print the full transcript of each execution")

	return cmd
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	return line
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
