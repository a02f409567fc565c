package cmd

import (
	"fmt"
	"strings"

	"github.com/marcus/sn/internal/output"
	"github.com/marcus/sn/internal/syncconfig"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage sn configuration",
	Long: `Read and write config.json in the sn config directory
(~/.config/sn, or $SN_CONFIG_DIR). SN_<KEY> environment variables override
the file.`,
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		if !syncconfig.IsValidKey(key) {
			output.Error("unknown config key: %s", key)
			fmt.Println("Valid keys:", strings.Join(syncconfig.Keys, ", "))
			return fmt.Errorf("unknown config key: %s", key)
		}
		if err := syncconfig.Set(key, val); err != nil {
			output.Error("%v", err)
			return err
		}

		fmt.Printf("SET %s = %s\n", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show the effective value of a config key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, err := syncconfig.Get(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "Show every config key with its effective value",
	RunE: func(cmd *cobra.Command, args []string) error {
		values := make(map[string]string, len(syncconfig.Keys))
		for _, key := range syncconfig.Keys {
			val, err := syncconfig.Get(key)
			if err != nil {
				output.Error("%v", err)
				return err
			}
			values[key] = val
		}

		if jsonOut {
			return output.JSON(values)
		}
		for _, key := range syncconfig.Keys {
			fmt.Printf("%-16s %s\n", key, values[key])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
}
