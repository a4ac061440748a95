// Command nntpd runs the NNTP server, or its administrative console, as
// configured by flags, environment variables, or a config file bound
// through viper.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nntpd",
		Short: "NNTP server core",
	}
	root.PersistentFlags().String("config", "", "path to a config file (yaml/json/toml)")
	root.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAdminCmd())
	return root
}
