package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/telekom/mcauth/pkg/config"
	"github.com/telekom/mcauth/pkg/metrics"
	"github.com/telekom/mcauth/pkg/pipeline"
	"github.com/telekom/mcauth/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	// Context is the base context for every command, e.g. one cancelled on SIGINT.
	Context context.Context
	// OpenBrowser opens the verification page. Nil uses the platform opener.
	OpenBrowser func(url string) error
	// Sleeper paces device-code polling. Nil waits in real time.
	Sleeper pipeline.Sleeper
	// Now is the clock used for expiry checks. Nil uses time.Now.
	Now func() time.Time
}

type runtimeState struct {
	configPath           string
	accountsFileOverride string
	tokenStorageOverride string
	metricsAddr          string
	verbose              bool

	cfg    *config.Config
	writer io.Writer
	log    *zap.SugaredLogger

	openBrowser func(url string) error
	sleeper     pipeline.Sleeper
	now         func() time.Time

	metricsServer *http.Server
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath:  cfg.ConfigPath,
		writer:      cfg.OutputWriter,
		openBrowser: cfg.OpenBrowser,
		sleeper:     cfg.Sleeper,
		now:         cfg.Now,
	}

	root := &cobra.Command{
		Use:           "mcauth",
		Short:         "Sign in to Minecraft with a Microsoft account and manage saved accounts",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.openBrowser == nil {
				rt.openBrowser = openBrowser
			}
			if rt.now == nil {
				rt.now = time.Now
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			switch cmd.Name() {
			case "version", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			if err := rt.loadConfig(); err != nil {
				return err
			}
			rt.log = system.NewLogger(rt.cfg.Verbose)
			zap.ReplaceGlobals(rt.log.Desugar())
			return rt.startMetrics()
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
			return rt.stopMetrics()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVar(&rt.accountsFileOverride, "accounts-file", "", "Path to the saved accounts file")
	root.PersistentFlags().StringVar(&rt.tokenStorageOverride, "token-storage", "", "Account storage backend: file or keychain")
	root.PersistentFlags().StringVar(&rt.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address while the command runs")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable debug logging and progress output")

	base := cfg.Context
	if base == nil {
		base = context.Background()
	}
	root.SetContext(context.WithValue(base, runtimeKey{}, rt))

	root.AddCommand(
		NewLoginCommand(),
		NewAccountsCommand(),
		NewTokenCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)
	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

// loadConfig applies file, then environment, then flags.
func (rt *runtimeState) loadConfig() error {
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		return err
	}
	cfg.ApplyEnv()
	if rt.accountsFileOverride != "" {
		cfg.Storage.AccountsFile = rt.accountsFileOverride
	}
	if rt.tokenStorageOverride != "" {
		cfg.Storage.TokenStorage = rt.tokenStorageOverride
	}
	if rt.verbose {
		cfg.Verbose = true
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", rt.configPath, err)
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) startMetrics() error {
	if rt.metricsAddr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", rt.metricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on metrics address: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.MetricsHandler())
	rt.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := rt.metricsServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			rt.log.Warnw("Metrics server stopped", "error", err)
		}
	}()
	rt.log.Infow("Serving metrics", "addr", ln.Addr().String())
	return nil
}

func (rt *runtimeState) stopMetrics() error {
	if rt.metricsServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return rt.metricsServer.Shutdown(ctx)
}
