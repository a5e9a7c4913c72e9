package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rustyeddy/copier/config"
)

var rootCmd = &cobra.Command{
	Use:   "copier",
	Short: "Keep target trading venues in sync with a source venue's pending orders",
	Long: `Copier reconciles pending orders and the positions they trigger from one
source venue onto any number of target venues. It has no real-time link: each
run takes one snapshot of every venue, diffs by the source ticket carried as
the copy's magic tag, and applies the minimal create/update/cleanup set.

Orphaned copies (tag no longer live at the source) are only removed after a
configurable number of consecutive missing polls, so a single dropped poll
never destroys a position.`,
}

var (
	cfgPath string
	envPath string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "./copier.yaml", "path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&envPath, "env", "", "optional .env file with credentials")
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig loads the .env file (if any) before the config so ${VAR}
// references in the config file resolve.
func loadConfig() (*config.Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}
	return config.LoadFromFile(cfgPath)
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zc.Build()
}
