package cmd

import (
	"fmt"
	"os"

	"lavaqueue/config"
	"lavaqueue/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "lavaqueue",
	Short: "lavaqueue keeps Lavalink playback queues in Redis so sessions survive restarts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runService()
	},
	SilenceUsage: true,
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initLogger(cfg *config.Config) {
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: cfg.LogFile,
		MaxSize:    cfg.LogMaxSize,
		MaxBackups: cfg.LogMaxBackups,
		MaxAge:     cfg.LogMaxAge,
		Compress:   cfg.LogCompress,
	})
}
