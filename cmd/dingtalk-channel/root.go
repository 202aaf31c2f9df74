package main

import (
	"fmt"
	"os"

	"github.com/keepmind9/dingtalk-channel/internal/config"
	"github.com/keepmind9/dingtalk-channel/internal/logger"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "dingtalk-channel",
	Short: "dingtalk-channel connects DingTalk robots to a chatbot agent",
	Long: `dingtalk-channel runs the DingTalk channel plugin on its own. It keeps one
stream connection per DingTalk robot account, turns robot messages into agent
requests and delivers the agent's replies back through session webhooks.`,
	SilenceUsage: true,
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(accountsCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig loads the config file and initializes the global logger from it
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := logger.Config{
		Level:        cfg.Logging.Level,
		File:         cfg.Logging.File,
		MaxSize:      cfg.Logging.MaxSize,
		MaxBackups:   cfg.Logging.MaxBackups,
		MaxAge:       cfg.Logging.MaxAge,
		Compress:     cfg.Logging.Compress,
		EnableStdout: cfg.Logging.EnableStdout,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"config_file": configFile,
		"log_level":   cfg.Logging.Level,
		"log_file":    cfg.Logging.File,
	}).Debug("logger-initialized")
	return cfg, nil
}
