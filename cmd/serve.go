package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/groupme"
	"github.com/rhac/rhacbot/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the bot backend that relays messages to GroupMe floor chats",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		if addr := viper.GetString("listen"); addr != "" {
			cfg.ListenAddr = addr
		}
		if cfg.AdminPassword == "" {
			slogs.Logr.Warn("No admin password configured, every send will be rejected")
		}
		if cfg.GroupMeAccessToken == "" {
			slogs.Logr.Warn("No GroupMe access token configured, relaying will fail")
		}

		store, closeStore := openChatStore(cfg)
		defer closeStore()

		client := groupme.NewClient(cfg.GroupMeAPIURL, cfg.GroupMeImageURL, cfg.GroupMeAccessToken)
		srv := server.New(server.Options{
			Prefix:          cfg.APIPrefix,
			AdminPassword:   cfg.AdminPassword,
			SendConcurrency: cfg.SendConcurrency,
			SupportedTypes:  cfg.SupportedTypesMap,
		}, loadCatalog(cfg), store, client)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := srv.Run(ctx, cfg.ListenAddr); err != nil {
			slogs.Logr.Error("Bot backend stopped", "error", err)
			return
		}
		slogs.Logr.Info("Bot backend stopped")
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Address to listen on, overrides listen_addr from the config file")

	cobra.CheckErr(viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen")))
}
