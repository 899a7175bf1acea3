package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/websoft9/sshcore/internal/sshcore/hostkeys"
)

var knownHostsCmd = &cobra.Command{
	Use:   "known-hosts",
	Short: "Inspect or clear the cached host keys",
}

var knownHostsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print the path to the host key cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := hostkeys.Load(cfg.KnownHostsPath); err != nil {
			return fmt.Errorf("load known hosts: %w", err)
		}
		fmt.Println(cfg.KnownHostsPath)
		return nil
	},
}

var knownHostsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cached host key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.Remove(cfg.KnownHostsPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", cfg.KnownHostsPath, err)
		}
		fmt.Printf("cleared %s\n", cfg.KnownHostsPath)
		return nil
	},
}

func init() {
	knownHostsCmd.AddCommand(knownHostsListCmd)
	knownHostsCmd.AddCommand(knownHostsClearCmd)
}
