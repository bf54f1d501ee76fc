// negotiate runs negotiation scenarios headless and summarizes stored results.
//
//	negotiate run scenarios/startup_acquisition.json --max-rounds 6
//	negotiate results --scenario "Startup Acquisition"
//	negotiate prompt startup_acquisition.json --agent buyer
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nidhogg/parley/internal/app"
	"github.com/nidhogg/parley/internal/config"
	"github.com/nidhogg/parley/internal/scenario"
	"github.com/nidhogg/parley/internal/session"
)

func main() {
	_ = godotenv.Load()
	if err := newRootCmd(nil).Execute(); err != nil {
		os.Exit(1)
	}
}

type cliContext struct {
	cfgPath string
	logLvl  string
	cfg     *config.Config
	logger  *zap.Logger
	source  session.ModelSource
}

type ctxKey struct{}

func fromCmd(cmd *cobra.Command) *cliContext {
	return cmd.Context().Value(ctxKey{}).(*cliContext)
}

// newRootCmd builds the CLI. A nil source routes models through the
// configured providers.
func newRootCmd(source session.ModelSource) *cobra.Command {
	cc := &cliContext{source: source}

	cmd := &cobra.Command{
		Use:          "negotiate",
		Short:        "Run LLM negotiation scenarios from the terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cc.cfgPath == "" {
				cc.cfgPath = os.Getenv("CONFIG_PATH")
			}
			if cc.cfgPath == "" {
				cc.cfgPath = config.DefaultConfigPath
			}
			cfg, err := config.Load(cc.cfgPath)
			switch {
			case err == nil:
			case errors.Is(err, fs.ErrNotExist):
				cfg = config.Default()
			default:
				return err
			}
			cc.cfg = cfg

			level := cc.logLvl
			if level == "" {
				level = "warn"
			}
			logger, err := app.NewLogger(level)
			if err != nil {
				return err
			}
			cc.logger = logger
			if cc.source == nil {
				cc.source = app.NewRouter(cfg, nil, logger)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cmd.SetContext(context.WithValue(ctx, ctxKey{}, cc))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cc.cfgPath, "config", "", "Config file (default: $CONFIG_PATH or "+config.DefaultConfigPath+")")
	cmd.PersistentFlags().StringVar(&cc.logLvl, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newResultsCmd())
	cmd.AddCommand(newPromptCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	return cmd
}

// loadScenario reads path as given, then relative to the scenarios dir.
func loadScenario(cfg *config.Config, path string) (string, *scenario.Scenario, error) {
	if _, err := os.Stat(path); err != nil {
		alt := filepath.Join(cfg.Negotiation.ScenariosDir, path)
		if _, altErr := os.Stat(alt); altErr == nil {
			path = alt
		}
	}
	sc, err := scenario.Load(path)
	if err != nil {
		return "", nil, err
	}
	return filepath.Base(path), sc, nil
}
