// Command sshc is an interactive SSH client built on this module's own
// protocol implementation rather than golang.org/x/crypto/ssh.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/websoft9/sshcore/internal/config"
	"github.com/websoft9/sshcore/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sshc",
	Short: "A from-scratch SSH client",
	Long: `sshc speaks SSH-1 and SSH-2 directly, without delegating to an
external client library. It supports password and local-key
authentication, trust-on-first-use host key verification, a SOCKS, HTTP
or Telnet proxy hop, and local (-L) port forwarding.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded

		level, _ := cmd.Flags().GetString("log-level")
		if level == "" {
			level = cfg.LogLevel
		}
		logging.Setup(logging.Options{Level: level, Pretty: cfg.LogFormat == "pretty"})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "", "override the configured log level (debug, info, warn, error)")
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(knownHostsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "sshc: %v\n", err)
		os.Exit(1)
	}
}
