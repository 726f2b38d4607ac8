package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/lucasew/artifactquota/internal/errutil"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "artifactquota",
	Short: "Keeps CI artifact storage under a quota",
	Long: `artifactquota frees space in an artifact store before an upload by
deleting existing artifacts, oldest or newest first, until the pending
upload fits under the configured limit.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		if _, printErr := fmt.Fprintln(os.Stderr, errutil.Render(err)); printErr != nil {
			errutil.ReportError(printErr, "Failed to print error to stderr")
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("ledger", "", "Path to the SQLite ledger of past reclamations (disabled when empty)")

	bindFlag(rootCmd.PersistentFlags(), "verbose", "ARTIFACTQUOTA_VERBOSE", "RUNNER_DEBUG")
	bindFlag(rootCmd.PersistentFlags(), "ledger", "ARTIFACTQUOTA_LEDGER")
}

func initConfig() {
	viper.SetEnvPrefix("ARTIFACTQUOTA")
	viper.AutomaticEnv()

	level := slog.LevelInfo
	if viper.GetBool("verbose") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// bindFlag binds a flag to a viper key of the same name and to the given
// environment variables, the first set one winning.
func bindFlag(flags *pflag.FlagSet, key string, envs ...string) {
	if err := viper.BindPFlag(key, flags.Lookup(key)); err != nil {
		errutil.ReportError(err, "Failed to bind flag", "flag", key)
	}
	if len(envs) == 0 {
		return
	}
	if err := viper.BindEnv(append([]string{key}, envs...)...); err != nil {
		errutil.ReportError(err, "Failed to bind environment", "flag", key)
	}
}
