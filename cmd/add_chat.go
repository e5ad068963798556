package cmd

import (
	"context"
	"errors"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rhac/rhacbot/internal/database"
	"github.com/rhac/rhacbot/internal/groupme"
)

var addChatCmd = &cobra.Command{
	Use:   "add-chat",
	Short: "Joins a GroupMe floor chat and registers it for a building",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		link := viper.GetString("link")
		buildingID := viper.GetString("building-id")
		floor := viper.GetInt("floor")

		slogs.Logr.Info("Received parameters", "link", link, "building-id", buildingID, "floor", floor)

		if link == "" || buildingID == "" {
			slogs.Logr.Error("Missing required flags", "link", link, "building-id", buildingID)
			return
		}
		if _, ok := loadCatalog(cfg).Building(buildingID); !ok {
			slogs.Logr.Error("Unknown building", "building-id", buildingID)
			return
		}

		groupID, shareToken, err := groupme.ParseJoinLink(link)
		if err != nil {
			slogs.Logr.Error("Invalid GroupMe link", "link", link, "error", err)
			return
		}

		store, closeStore := openChatStore(cfg)
		defer closeStore()

		ctx := context.Background()
		exists, err := store.ChatExists(ctx, groupID)
		if err != nil {
			slogs.Logr.Error("Error checking chat in database", "groupme_id", groupID, "error", err)
			return
		}
		if exists {
			slogs.Logr.Info("Chat already registered", "groupme_id", groupID)
			return
		}

		client := groupme.NewClient(cfg.GroupMeAPIURL, cfg.GroupMeImageURL, cfg.GroupMeAccessToken)
		if err := client.JoinGroup(ctx, groupID, shareToken); err != nil {
			slogs.Logr.Error("Error joining group", "groupme_id", groupID, "error", err)
			return
		}

		chat, err := store.AddChat(ctx, database.Chat{GroupID: groupID, BuildingID: buildingID, Floor: floor})
		if err != nil {
			if errors.Is(err, database.ErrChatExists) {
				slogs.Logr.Info("Chat already registered", "groupme_id", groupID)
				return
			}
			slogs.Logr.Error("Error storing chat", "groupme_id", groupID, "error", err)
			return
		}
		slogs.Logr.Info("Chat added", "groupme_id", chat.GroupID, "building-id", chat.BuildingID, "floor", chat.Floor, "env", chat.Env)
	},
}

func init() {
	rootCmd.AddCommand(addChatCmd)
	addChatCmd.Flags().String("link", "", "GroupMe share link, e.g. https://groupme.com/join_group/<id>/<token>")
	addChatCmd.Flags().String("building-id", "", "Building the chat belongs to")
	addChatCmd.Flags().Int("floor", 0, "Floor number of the chat")

	cobra.CheckErr(viper.BindPFlag("link", addChatCmd.Flags().Lookup("link")))
	cobra.CheckErr(viper.BindPFlag("building-id", addChatCmd.Flags().Lookup("building-id")))
	cobra.CheckErr(viper.BindPFlag("floor", addChatCmd.Flags().Lookup("floor")))
}
