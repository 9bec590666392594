package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"rag-portal/internal/config"
	"rag-portal/internal/paramstore"
)

const defaultConfigPath = "./configs/config.yaml"

var (
	cfgFile  string
	logLevel string

	// cfg is loaded before every command runs.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rag-portal",
	Short: "Document QA, assessment chat and LINE bot portal",
	Long: `rag-portal answers questions about documents with retrieval augmented
generation, runs the assessment interview over the web and LINE, and
serves the avatar and real estate lookups.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file, yaml or toml (default "+defaultConfigPath+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	setupLogger(cmd.ErrOrStderr(), c.Log, logLevel)

	if c.Secrets.SSMPrefix != "" {
		store, err := paramstore.NewFromDefaultConfig(cmd.Context())
		if err != nil {
			return fmt.Errorf("init parameter store: %w", err)
		}
		if err := config.ResolveSecrets(cmd.Context(), c, store); err != nil {
			return err
		}
	}
	cfg = c
	return nil
}

// loadConfig reads path, or the default config file when it exists. Without
// either, defaults and the environment are used.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); errors.Is(err, os.ErrNotExist) {
			c := config.Default()
			c.ApplyEnv(os.Getenv)
			return c, nil
		}
		path = defaultConfigPath
	}
	c, err := config.LoadConfig(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	return c, nil
}

// setupLogger sends logs to w so command output on stdout stays clean.
func setupLogger(w io.Writer, lc config.LogConfig, override string) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level := lc.Level
	if override != "" {
		level = override
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if strings.EqualFold(lc.Format, "json") {
		log.Logger = zerolog.New(w).With().Timestamp().Caller().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}).With().Caller().Logger()
}
