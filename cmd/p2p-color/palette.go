package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var paletteCmd = &cobra.Command{
	Use:   "palette",
	Short: "Manage the colors offered by the panel",
}

var paletteListCmd = &cobra.Command{
	Use:   "list",
	Short: "List palette colors",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pal, err := buildPalette(cfg)
		if err != nil {
			return err
		}
		for _, name := range pal.Names() {
			hex, _ := pal.Hex(name)
			fmt.Fprintf(cmd.OutOrStdout(), "%-12s %s\n", name, hex)
		}
		return nil
	},
}

var paletteAddCmd = &cobra.Command{
	Use:   "add NAME #RRGGBB",
	Short: "Add or replace a palette color",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pal, err := buildPalette(cfg)
		if err != nil {
			return err
		}
		if err := pal.Add(args[0], args[1]); err != nil {
			return fmt.Errorf("add color %q: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
		return nil
	},
}

var paletteRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a palette color",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		pal, err := buildPalette(cfg)
		if err != nil {
			return err
		}
		if err := pal.Remove(args[0]); err != nil {
			return fmt.Errorf("remove color %q: %w", args[0], err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
		return nil
	},
}

func init() {
	paletteCmd.AddCommand(paletteListCmd, paletteAddCmd, paletteRemoveCmd)
	rootCmd.AddCommand(paletteCmd)
}
