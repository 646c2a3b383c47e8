package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"genai-assessor/internal/app"
	"genai-assessor/internal/config"
	"genai-assessor/internal/logging"
	"genai-assessor/internal/worker"
)

var (
	configFile string
	envFile    string
)

var rootCmd = &cobra.Command{
	Use:   "assessor-worker",
	Short: "Execute queued notebook evaluations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(config.Options{ConfigFile: configFile, EnvFile: envFile})
		if err != nil {
			return err
		}
		if cfg.Queue.RedisAddr == "" || cfg.History.Driver == "" {
			return errors.New("the worker needs REDIS_ADDR and a history driver")
		}
		log, err := logging.New(cfg.Log.Level, cfg.Log.Development)
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := app.Build(ctx, cfg, log)
		if err != nil {
			return err
		}
		defer a.Close()

		return worker.Run(ctx, cfg.Queue.RedisAddr, cfg.Queue.Concurrency, a.Service, log.Named("worker"))
	},
}

func init() {
	rootCmd.Flags().StringVar(&configFile, "config", "", "config file (yaml, toml or json)")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
