package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tasksmith/tasksmith/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and change settings",
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "Show all settings",
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings()
		if err != nil {
			fatalf("%v", err)
		}
		for _, key := range config.Keys() {
			value, err := settings.Get(key)
			if err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s = %v\n", key, value)
		}
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Show one setting",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings()
		if err != nil {
			fatalf("%v", err)
		}
		value, err := settings.Get(args[0])
		if err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%v\n", value)
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Change one setting",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := loadSettings()
		if err != nil {
			fatalf("%v", err)
		}
		if err := settings.Set(args[0], coerce(args[1])); err != nil {
			fatalf("%v", err)
		}
		if err := settings.Save(); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("Saved %s to %s\n", args[0], settings.Path())
	},
}

// coerce maps CLI strings onto the types the config expects.
func coerce(raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return raw
}

func init() {
	configCmd.AddCommand(configListCmd, configGetCmd, configSetCmd)
	rootCmd.AddCommand(configCmd)
}
