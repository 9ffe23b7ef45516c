package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ridgecache/ridge/cache"
)

// cfgFile holds the path to an optional ridgectl configuration file,
// resolved ahead of environment variables and flags.
var cfgFile string

// basePath is the directory a cache.Manager opens caches under.
var basePath string

var rootCmd = &cobra.Command{
	Use:   "ridgectl",
	Short: "inspect and operate a ridge cache directory",
	Long: `ridgectl operates directly on a cache.Manager's on-disk directory:

  ridgectl schema --path ./data <cache>
  ridgectl catchup --path ./data <cache>
  ridgectl stat --path ./data <cache>

Configuration can be provided via --config, environment variables
prefixed RIDGECTL_, or the --path flag directly; the cache name is
always the positional argument.`,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ridgectl.yaml)")
	rootCmd.PersistentFlags().StringVar(&basePath, "path", "", "base directory a cache.Manager opens caches under")
	viper.BindPFlag("path", rootCmd.PersistentFlags().Lookup("path"))

	rootCmd.AddCommand(schemaCmd, catchupCmd, statCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("ridgectl")
	}
	viper.SetEnvPrefix("RIDGECTL")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "ridgectl: using config file", viper.ConfigFileUsed())
	}
	if basePath == "" {
		basePath = viper.GetString("path")
	}
}

// openManager constructs a cache.Manager rooted at the resolved
// base path, failing fast if none was supplied.
func openManager() (*cache.Manager, error) {
	if basePath == "" {
		return nil, fmt.Errorf("ridgectl: --path (or RIDGECTL_PATH / config's path key) is required")
	}
	return cache.NewManager(basePath), nil
}
