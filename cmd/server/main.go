package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ssukumar/GlobalInvigoration/internal/config"
)

var (
	configPath string
	verbose    bool
	strict     bool

	logger   *zap.Logger
	logLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
)

var rootCmd = &cobra.Command{
	Use:   "invigoration",
	Short: "Reach-and-collect experiment server",
	Long: `Runs the reach-and-collect experiment: participants join over HTTP,
stream pointer and key input over a websocket, and every reach, round and
session is persisted for later export.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = newLogger(verbose)
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&strict, "strict", false, "panic on invariant violations")

	rootCmd.AddCommand(serveCmd, exportCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if debug {
		logLevel.SetLevel(zap.DebugLevel)
	}
	zapCfg.Level = logLevel
	return zapCfg.Build()
}

// loadConfig reads the config file, applies environment overrides and
// flags, then validates. Repairs are logged as warnings.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.LookupEnv, logger)
	// --verbose wins over logging.level.
	if !verbose && cfg.Logging.Level != "" {
		if level, err := zapcore.ParseLevel(cfg.Logging.Level); err == nil {
			logLevel.SetLevel(level)
		} else {
			logger.Warn("invalid logging.level", zap.String("value", cfg.Logging.Level))
		}
	}
	if strict {
		cfg.Experiment.StrictInvariants = true
	}
	warnings, err := cfg.Validate()
	for _, warning := range warnings {
		logger.Warn("config repaired", zap.String("detail", warning))
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}
