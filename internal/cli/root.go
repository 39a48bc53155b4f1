// Package cli wires the storefront commands: the HTTP server, the schema
// migration and the mail worker.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"github.com/spf13/cobra"
)

var (
	logLevel string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:           "storefront",
	Short:         "Storefront authentication and cart service",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				if cmd.Flags().Changed("env-file") || !os.IsNotExist(err) {
					return fmt.Errorf("load %s: %w", envFile, err)
				}
				log.Debugf("no %s file, using the process environment", envFile)
			}
		}
		if v := os.Getenv("LOG_LEVEL"); v != "" && !cmd.Flags().Changed("log-level") {
			logLevel = v
		}
		lvl, err := parseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(lvl)
		log.SetHeader(`${time_rfc3339} ${level} ${short_file}:${line}`)
		return nil
	},
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorf("%s: %v", rootCmd.Name(), err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error, off)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(workerCmd)
}

func parseLevel(s string) (log.Lvl, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return log.DEBUG, nil
	case "", "info":
		return log.INFO, nil
	case "warn", "warning":
		return log.WARN, nil
	case "error":
		return log.ERROR, nil
	case "off":
		return log.OFF, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
