package main

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"finpipe/internal/config"
)

func secretCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage credentials in the OS keyring",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <key>",
		Short: "Store a credential read from stdin",
		Long: fmt.Sprintf(`Store a credential in the OS keyring. The value is read from stdin so it
never lands in shell history. Set FINPIPE_KEYRING=true to use it.

Keys: %s, %s, %s`, config.KeyMailAPIKey, config.KeyTelegramToken, config.KeyDatabaseDSN),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			value := strings.TrimSpace(line)
			if value == "" {
				if err != nil {
					return fmt.Errorf("reading value: %w", err)
				}
				return errors.New("empty value")
			}
			if err := config.StoreSecret(args[0], value); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "stored %s\n", args[0])
			return nil
		},
	})
	return cmd
}
