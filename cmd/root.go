package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/catalog"
	"github.com/rhac/rhacbot/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rhacbot",
	Short: "RHAC bot relays announcements to residence hall floor chats",
	// Run: func(cmd *cobra.Command, args []string) { },
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	var (
		cfgFile  string
		logLevel string
		dbHost   string
		dbPort   uint16
		dbUser   string
		dbPass   string
		dbName   string
	)

	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.yml", "config file to load")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "The log level to use (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "", "MySQL host for the chat registry. The registry is kept in memory when empty")
	rootCmd.PersistentFlags().Uint16Var(&dbPort, "db-port", 3306, "MySQL port")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "", "MySQL user")
	rootCmd.PersistentFlags().StringVar(&dbPass, "db-pass", "", "MySQL password")
	rootCmd.PersistentFlags().StringVar(&dbName, "db-name", "rhacbot", "MySQL database name")

	for _, name := range []string{"config", "log-level", "db-host", "db-port", "db-user", "db-pass", "db-name"} {
		cobra.CheckErr(viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)))
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// Find home directory.
	home, err := os.UserHomeDir()
	cobra.CheckErr(err)

	// Search config in home directory with name ".rhacbot" (without extension).
	viper.AddConfigPath(home)
	viper.SetConfigType("yaml")
	viper.SetConfigName(".rhacbot")

	viper.SetEnvPrefix("RHACBOT")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		_, err := fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		if err != nil {
			return
		}
	}
}

// loadConfig initializes logging and loads the bot config, exiting on failure
func loadConfig() *config.Config {
	slogs.Init(viper.GetString("log-level"))
	cfg, err := config.LoadConfig(viper.GetString("config"))
	if err != nil {
		slogs.Logr.Fatal("Error loading config", "error", err)
	}
	return cfg
}

// loadCatalog returns the configured building catalog, or the built-in one
func loadCatalog(cfg *config.Config) *catalog.Catalog {
	if cfg.BuildingsFile == "" {
		return catalog.Default()
	}
	c, err := catalog.Load(cfg.BuildingsFile)
	if err != nil {
		slogs.Logr.Fatal("Error loading buildings file", "path", cfg.BuildingsFile, "error", err)
	}
	return c
}
