package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wellgone/augment-token-manager-worker/internal/http/handler"
)

var rootCmd = &cobra.Command{
	Use:   "tokenmanager",
	Short: "tokenmanager stores Augment access tokens and tracks their ban status",
	Long: "tokenmanager runs the token manager API: dashboard login, the Augment OAuth PKCE flow, " +
		"token storage, and ban status validation against the tenant API.\n\n" +
		"Run 'tokenmanager serve' to start the HTTP server.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "tokenmanager %s\n", handler.Version)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.SilenceUsage = true
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
