// Command karuna-admin runs operator tasks against the production database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:           "karuna-admin",
		Short:         "Operator tasks for the Karuna donation platform",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(createAdminCmd())
	rootCmd.AddCommand(accountCmd())
	rootCmd.AddCommand(kycCmd())
	rootCmd.AddCommand(recurringCmd())
	rootCmd.AddCommand(genPIIKeyCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
