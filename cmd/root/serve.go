package root

import (
	"fmt"
	"log/slog"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ipybridge/ipybridge/pkg/broker"
	"github.com/ipybridge/ipybridge/pkg/config"
	"github.com/ipybridge/ipybridge/pkg/history"
	"github.com/ipybridge/ipybridge/pkg/kernel"
	"github.com/ipybridge/ipybridge/pkg/server"
	"github.com/ipybridge/ipybridge/pkg/store"
)

type serveFlags struct {
	configPath  string
	listenAddr  string
	historyPath string
	storePath   string
	python      string
}

func newServeCmd() *cobra.Command {
	var flags serveFlags

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server and its Python worker",
		Long: `Start the Python worker process and serve the execute and reset tools
over MCP. By default the server speaks the stdio transport; pass --listen
to serve streamable HTTP instead.`,
		Example: `  # Serve over stdio (for MCP clients spawning a subprocess)
  ipybridge serve

  # Serve over HTTP
  ipybridge serve --listen :8080

  # Use a specific interpreter and config file
  ipybridge serve --python /usr/bin/python3.12 --config ./ipybridge.yaml`,
		Args: cobra.NoArgs,
		RunE: flags.run,
	}

	cmd.Flags().StringVarP(&flags.configPath, "config", "c", "", "Path to the configuration file")
	cmd.Flags().StringVarP(&flags.listenAddr, "listen", "l", "", "Serve streamable HTTP on this address instead of stdio")
	cmd.Flags().StringVar(&flags.historyPath, "history-file", "", "Override the command history file path")
	cmd.Flags().StringVar(&flags.storePath, "store", "", "Override the execution log database path")
	cmd.Flags().StringVar(&flags.python, "python", "", "Override the Python interpreter")

	return cmd
}

func (f *serveFlags) run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return err
	}
	if f.python != "" {
		cfg.Python.Command = f.python
	}
	if f.historyPath != "" {
		cfg.History.Path = f.historyPath
	}
	if f.storePath != "" {
		cfg.Store.Path = f.storePath
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := kernel.NewManager(
		cfg.Python.Command,
		cfg.Python.Args,
		cfg.Timeouts.Ready.Std(),
		cfg.Timeouts.Shutdown.Std(),
	)
	b := broker.New(broker.NewWorker(manager), broker.Timeouts{
		IOPubOverall: cfg.Timeouts.IOPubOverall.Std(),
		Poll:         cfg.Timeouts.Poll.Std(),
		PollPause:    cfg.Timeouts.PollPause.Std(),
		ShellReply:   cfg.Timeouts.ShellReply.Std(),
	})

	if err := b.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}
	defer func() {
		if err := b.Shutdown(); err != nil {
			slog.Warn("Worker shutdown failed", "error", err)
		}
	}()

	var st store.Store
	if cfg.Store.Path != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.Store.Path)
		if err != nil {
			// The execution log is best-effort; serve without it.
			slog.Warn("Could not open execution log store", "path", cfg.Store.Path, "error", err)
		} else {
			st = sqlStore
			defer sqlStore.Close()
		}
	}

	srv := server.New(b, history.NewSink(cfg.History.Path), st)

	if f.listenAddr != "" {
		ln, err := net.Listen("tcp", f.listenAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", f.listenAddr, err)
		}
		go func() {
			<-ctx.Done()
			_ = ln.Close()
		}()
		return srv.Serve(ctx, ln)
	}

	err = srv.Run(ctx)
	if err != nil && ctx.Err() != nil {
		// Normal shutdown path: the signal context canceled the stdio loop.
		return nil
	}
	return err
}
