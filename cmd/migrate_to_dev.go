package cmd

import (
	"context"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/database"
)

var migrateToDevCmd = &cobra.Command{
	Use:   "migrate-to-dev",
	Short: "Copies the registered chats of one environment into the dev environment",
	Run: func(cmd *cobra.Command, args []string) {
		loadConfig()

		from := viper.GetString("from")
		tag := viper.GetString("tag")
		dryRun := viper.GetBool("dry-run")

		slogs.Logr.Info("Received parameters", "from", from, "tag", tag, "dry-run", dryRun)

		if viper.GetString("db-host") == "" {
			slogs.Logr.Error("migrate-to-dev needs a database, set --db-host")
			return
		}

		slogs.Logr.Info("Connecting to the database")
		datastore, err := database.NewDatastore(
			viper.GetString("db-host"),
			viper.GetUint16("db-port"),
			viper.GetString("db-user"),
			viper.GetString("db-pass"),
			viper.GetString("db-name"),
			tag,
		)
		if err != nil {
			slogs.Logr.Error("Could not initialize MySQL connection", "error", err)
			return
		}
		defer func() {
			if err := datastore.Close(); err != nil {
				slogs.Logr.Error("Error closing database", "error", err)
			}
		}()

		count, err := datastore.CopyChats(context.Background(), from, tag, dryRun)
		if err != nil {
			slogs.Logr.Error("Error copying chats", "from", from, "tag", tag, "error", err)
			return
		}
		if dryRun {
			slogs.Logr.Info("Dry run, no chats written", "would-copy", count, "from", from, "tag", tag)
			return
		}
		slogs.Logr.Info("Chats copied", "count", count, "from", from, "tag", tag)
	},
}

func init() {
	rootCmd.AddCommand(migrateToDevCmd)
	migrateToDevCmd.Flags().String("from", "prod", "Environment to copy chats from")
	migrateToDevCmd.Flags().String("tag", "dev", "Environment tag applied to the copies")
	migrateToDevCmd.Flags().Bool("dry-run", false, "Only report how many chats would be copied")

	cobra.CheckErr(viper.BindPFlag("from", migrateToDevCmd.Flags().Lookup("from")))
	cobra.CheckErr(viper.BindPFlag("tag", migrateToDevCmd.Flags().Lookup("tag")))
	cobra.CheckErr(viper.BindPFlag("dry-run", migrateToDevCmd.Flags().Lookup("dry-run")))
}
