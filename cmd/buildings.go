package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chia-network/go-modules/pkg/slogs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var buildingsCmd = &cobra.Command{
	Use:   "buildings",
	Short: "Lists the regions and buildings messages can be targeted at",
	Run: func(cmd *cobra.Command, args []string) {
		c := loadCatalog(loadConfig())

		if viper.GetBool("json") {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"regions": c.Regions(), "buildings": c.All()}); err != nil {
				slogs.Logr.Error("Error writing buildings", "error", err)
			}
			return
		}

		for _, region := range c.Regions() {
			fmt.Println(region)
			for _, b := range c.Buildings(region) {
				fmt.Printf("  %-4s %s\n", b.ID, b.Label)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(buildingsCmd)
	buildingsCmd.Flags().Bool("json", false, "Print the catalog as JSON")

	cobra.CheckErr(viper.BindPFlag("json", buildingsCmd.Flags().Lookup("json")))
}
