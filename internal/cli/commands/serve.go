package commands

import (
	"context"
	"errors"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/restful/internal/web/profiling"
	"github.com/conduit-lang/restful/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(opts *globalOptions) *cobra.Command {
	var port int
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON:API",
		Long: `Load the schema, connect the store and serve the API until SIGINT or
SIGTERM. In-flight requests are drained before the process exits.`,
		Example: `  restful serve
  restful serve --config prod.yaml --port 9000
  RESTFUL_DATABASE_DRIVER=sqlite3 RESTFUL_DATABASE_URL=file:app.db restful serve --migrate`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port = port
			}
			if migrate {
				cfg.Database.Migrate = true
			}

			log, err := newLogger(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			svc, err := newService(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			log.Info("api ready",
				zap.String("prefix", cfg.API.Prefix),
				zap.String("store", cfg.Database.Driver),
				zap.Strings("types", svc.handler.Registry().Types()))

			srvConfig := server.DefaultConfig(svc.router)
			srvConfig.Address = cfg.Server.Address()
			srvConfig.ReadTimeout = cfg.Server.ReadTimeout
			srvConfig.WriteTimeout = cfg.Server.WriteTimeout
			srvConfig.IdleTimeout = cfg.Server.IdleTimeout
			srvConfig.Logger = log
			if cfg.Server.TLSCert != "" {
				srvConfig.TLS = &server.TLSConfig{CertFile: cfg.Server.TLSCert, KeyFile: cfg.Server.TLSKey}
			}

			srv, err := server.New(srvConfig)
			if err != nil {
				_ = svc.Close()
				return err
			}

			gs := server.NewGracefulShutdown(srv, &server.ShutdownConfig{
				Timeout: cfg.Server.ShutdownTimeout,
				Logger:  log,
			})
			gs.RegisterHook(func(ctx context.Context) error { return svc.Close() })

			if cfg.Debug.Address != "" {
				debugSrv, err := startProfiling(cfg.Debug.Address, log)
				if err != nil {
					_ = svc.Close()
					return err
				}
				gs.RegisterHook(debugSrv.Shutdown)
			}
			return gs.Run(cmd.Context())
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides server.port)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "create missing tables before serving")
	return cmd
}

// startProfiling serves pprof on its own listener until shut down
func startProfiling(addr string, log *zap.Logger) (*server.Server, error) {
	config := server.DefaultConfig(profiling.Handler(profiling.DefaultConfig()))
	config.Address = addr
	// CPU profiles and traces stream for as long as requested
	config.WriteTimeout = 0
	config.Logger = log.Named("pprof")

	srv, err := server.New(config)
	if err != nil {
		return nil, err
	}
	if err := srv.Listen(); err != nil {
		return nil, err
	}
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("profiling server failed", zap.Error(err))
		}
	}()
	return srv, nil
}
