package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/auth"
	"github.com/rhac/rhacbot/internal/compose"
	"github.com/rhac/rhacbot/internal/dispatch"
	"github.com/rhac/rhacbot/internal/payload"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Sends a message to the floor chats of the selected regions and buildings",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		var authenticator auth.Authenticator = auth.NewSecretGate(cfg.AdminPassword)
		if cfg.RemoteAuth {
			authenticator = auth.NewRemoteGate(cfg.BackendURL)
		}
		session := compose.NewSession(loadCatalog(cfg), authenticator, dispatch.NewGateway(cfg.BackendURL), cfg.SupportedTypesMap)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := session.Login(ctx, viper.GetString("password")); err != nil {
			slogs.Logr.Fatal("Login failed", "error", err)
		}

		err := session.Selection().Select(viper.GetBool("all"), viper.GetStringSlice("region"), viper.GetStringSlice("building"))
		if err != nil {
			slogs.Logr.Fatal("Invalid selection", "error", err)
		}

		var attachment *payload.Attachment
		if path := viper.GetString("image"); path != "" {
			attachment, err = payload.LoadAttachment(path)
			if err != nil {
				slogs.Logr.Fatal("Error loading image", "path", path, "error", err)
			}
		}

		outcome, err := session.Submit(ctx, viper.GetString("message"), attachment)
		if err != nil {
			slogs.Logr.Fatal("Message not sent", "error", err)
		}
		fmt.Println(outcome.String())
		if outcome.Partial() {
			slogs.Logr.Error("Some chats did not receive the message", "groups", outcome.FailedChats)
			os.Exit(2)
		}
		if !outcome.OK {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringSlice("region", nil, "Region to send to; repeat or comma separate for several")
	sendCmd.Flags().StringSlice("building", nil, "Building id to send to; its region is selected automatically")
	sendCmd.Flags().Bool("all", false, "Send to every building")
	sendCmd.Flags().String("message", "", "Message text")
	sendCmd.Flags().String("image", "", "Path to an image to attach")
	sendCmd.Flags().String("password", "", "Executive password, also read from RHACBOT_PASSWORD")

	for _, name := range []string{"region", "building", "all", "message", "image", "password"} {
		cobra.CheckErr(viper.BindPFlag(name, sendCmd.Flags().Lookup(name)))
	}
}
