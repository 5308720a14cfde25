// Package cli implements the voicebridge command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/agentplexus/omnivoice-bridge/internal/config"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
)

var (
	cfgFile  string
	envFile  string
	logLevel string

	// loaded at init time
	paths config.Paths
	log   *logging.Logger
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "voicebridge",
		Short: "Bridge phone calls to conversational AI",
		Long: "voicebridge answers Twilio calls and connects them to a realtime voice AI, " +
			"or runs a speak-and-listen conversation against a text model.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			var err error
			paths, err = config.ResolvePaths()
			if err != nil {
				return err
			}
			if cfgFile != "" {
				paths.Config = cfgFile
			}
			level := logLevel
			if level == "" {
				level = "info"
			}
			log = logging.New(nil, level)
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.voicebridge/config.yaml)")
	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the config")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error, fatal, silent)")

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSessionsCmd())
	cmd.AddCommand(newKnowledgeCmd())
	cmd.AddCommand(newNumbersCmd())
	cmd.AddCommand(newDialCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// loadConfig reads and validates the configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(paths.Config)
	if err != nil {
		return cfg, err
	}
	if issues := config.Validate(&cfg); len(issues) > 0 {
		for _, issue := range issues {
			log.Error().Str("path", issue.Path).Msg(issue.Message)
		}
		return cfg, &config.ConfigError{Message: "validation failed"}
	}
	return cfg, nil
}

// knowledgePath is the configured knowledge base, or the default location.
func knowledgePath(cfg config.Config) string {
	if cfg.Knowledge.Path != "" {
		return cfg.Knowledge.Path
	}
	return paths.Knowledge
}
