// Package cmd implements the kvdns command line.
package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/scott/kvdns/config"
	"github.com/scott/kvdns/logging"
)

const (
	// ExitSetupFailed defines exit code
	ExitSetupFailed = 1
)

var (
	configFile string

	v = config.NewViper()

	rootCmd = &cobra.Command{
		Use:           "kvdns",
		Short:         "Authoritative DNS server answering from a key-value store",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file; KVDNS_* environment variables and flags override it")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-file", "console", "log file path, console logs to stderr")
	rootCmd.PersistentFlags().String("backend", "redis", "record backend (redis or bolt)")
	rootCmd.PersistentFlags().String("redis-url", "", "Redis URL, overrides the redis address settings")
	rootCmd.PersistentFlags().String("bolt-path", "./data/records.db", "bbolt database path")
	bindFlags(rootCmd.PersistentFlags(), map[string]string{
		"log.level":       "log-level",
		"log.file":        "log-file",
		"store.backend":   "backend",
		"store.redis.url": "redis-url",
		"store.bolt.path": "bolt-path",
	})

	rootCmd.AddCommand(serverCmd, importCmd, keysCmd, versionCmd)
}

// bindFlags binds config keys to flags, so an explicitly set flag wins over
// the file and the environment.
func bindFlags(flags *pflag.FlagSet, keys map[string]string) {
	for key, name := range keys {
		if err := v.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("binding flag %s: %v", name, err))
		}
	}
}

// loadConfig reads the configuration and initialises logging.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(v, configFile)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return nil, fmt.Errorf("failed initializing log %v", err)
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Infof("loaded config from %s", used)
	}
	return cfg, nil
}
