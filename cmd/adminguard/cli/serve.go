package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/faucetdb/adminguard/internal/scheduler"
	"github.com/faucetdb/adminguard/internal/server"
	"github.com/faucetdb/adminguard/internal/service"
)

const banner = `
   _      _       _
  /_\  __| |_ __ (_)_ _  __ _ _  _ __ _ _ _ __| |
 / _ \/ _' | '  \| | ' \/ _' | || / _' | '_/ _' |
/_/ \_\__,_|_|_|_|_|_||_\__, |\_,_\__,_|_| \__,_|
                        |___/
`

func newServeCmd() *cobra.Command {
	var (
		port int
		host string
		dev  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the security API server",
		Long: `Start the HTTP server that exposes the session, block, incident and
assessment APIs, together with the expiry sweep and the scheduled mass
invalidation.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(dev)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "HTTP listen port")
	cmd.Flags().StringVar(&host, "host", "0.0.0.0", "HTTP listen host")
	cmd.Flags().BoolVar(&dev, "dev", false, "Enable development mode (debug logging)")

	viper.BindPFlag("server.port", cmd.Flags().Lookup("port"))
	viper.BindPFlag("server.host", cmd.Flags().Lookup("host"))

	return cmd
}

func runServe(dev bool) error {
	fc, err := loadConfig()
	if err != nil {
		return err
	}
	if dev {
		fc.Logging.Level = "debug"
	}
	if fc.Auth.IdentitySecret == "" {
		return errors.New("auth.identity_secret is required (set it in the config file or ADMINGUARD_AUTH_IDENTITY_SECRET)")
	}

	fmt.Print(banner)
	fmt.Println()

	logger := newLogger(fc.Logging)

	c, err := buildComponents(fc, logger)
	if err != nil {
		return fmt.Errorf("init components: %w", err)
	}
	defer c.close()
	logger.Info("security store initialized", "driver", c.store.Driver(), "cache", fc.Cache.Backend, "timezone", fc.Security.Timezone)

	verifier := service.NewIdentityVerifier(fc.Auth.IdentitySecret, fc.Auth.IdentityIssuer, c.clock)
	srvCfg, err := server.ConfigFrom(fc, versionString())
	if err != nil {
		return err
	}
	srv := server.New(srvCfg, c.deps(), verifier, c.clock, logger)

	sup := scheduler.NewSupervisor(logger, fc.Server.ShutdownTimeout)
	sup.Add(scheduler.NewCleanupService(c.limiter, c.sessions, c.clock,
		fc.Security.CleanupInterval, fc.Security.FailureRetention, logger))
	sup.Add(c.invalidation)
	sup.Add(srv)

	scheme := "http"
	if srvCfg.TLSCertFile != "" {
		scheme = "https"
	}
	fmt.Printf("→ adminguard %s\n", versionString())
	fmt.Printf("→ Listening on %s://%s\n", scheme, srv.Addr())
	fmt.Printf("→ OpenAPI:    %s://%s/openapi.json\n", scheme, srv.Addr())
	fmt.Printf("→ Health:     %s://%s/healthz\n", scheme, srv.Addr())
	fmt.Printf("→ Metrics:    %s://%s/metrics\n", scheme, srv.Addr())
	fmt.Println()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = sup.Serve(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("adminguard stopped")
	return nil
}
