package cmd

import (
	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/config"
	"github.com/rhac/rhacbot/internal/database"
)

// openChatStore connects to MySQL when a db host is set, otherwise it falls back
// to an in-memory registry. The returned func releases the store.
func openChatStore(cfg *config.Config) (database.ChatStore, func()) {
	dbHost := viper.GetString("db-host")
	if dbHost == "" {
		slogs.Logr.Warn("No database host configured, chats will be kept in memory")
		return database.NewMemoryStore(cfg.AppEnv), func() {}
	}

	slogs.Logr.Info("Connecting to the database", "host", dbHost)
	datastore, err := database.NewDatastore(
		dbHost,
		viper.GetUint16("db-port"),
		viper.GetString("db-user"),
		viper.GetString("db-pass"),
		viper.GetString("db-name"),
		cfg.AppEnv,
	)
	if err != nil {
		slogs.Logr.Fatal("Could not initialize MySQL connection", "error", err)
	}
	return datastore, func() {
		if err := datastore.Close(); err != nil {
			slogs.Logr.Error("Error closing database", "error", err)
		}
	}
}
