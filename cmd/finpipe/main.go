package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootFlags struct {
	config  string
	envFile string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var rf rootFlags
	root := &cobra.Command{
		Use:           "finpipe",
		Short:         "Investment notification and activity service",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&rf.config, "config", "c", "./config.json", "path to config file (json or yaml)")
	root.PersistentFlags().StringVar(&rf.envFile, "env-file", ".env", "optional dotenv file with secrets")

	root.AddCommand(
		serveCmd(&rf),
		maturityCmd(&rf),
		activityCmd(&rf),
		secretCmd(),
	)
	return root
}
