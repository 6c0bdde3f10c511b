package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/t0mk/applogger"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("APPLOGGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:   "applogger-collector",
		Short: "Collector for applogger clients",
		RunE: func(cmd *cobra.Command, args []string) error {
			if path := v.GetString("config"); path != "" {
				v.SetConfigFile(path)
				if err := v.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config: %w", err)
				}
			}

			level := new(slog.LevelVar)
			if err := level.UnmarshalText([]byte(v.GetString("log-level"))); err != nil {
				return fmt.Errorf("invalid log level: %w", err)
			}
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})).
				With("service", "applogger-collector")

			collector, err := applogger.NewCollector(applogger.CollectorConfig{
				DBPath:   v.GetString("db"),
				APIToken: v.GetString("api-token"),
				Port:     v.GetInt("port"),
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			defer collector.Close()

			if v.GetString("api-token") == "" {
				logger.Warn("no api token configured, accepting every client")
			}
			return collector.Start()
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "config file (yaml, toml or json)")
	flags.String("db", "applogger.db", "sqlite database path")
	flags.String("api-token", "", "token clients must present")
	flags.Int("port", 8081, "listen port")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}
