package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/QTest-hq/formprobe/internal/auth"
)

const defaultPassword = "formprobe"

func passwordCmd(a *app) *cobra.Command {
	var (
		table      string
		resetTable string
	)

	cmd := &cobra.Command{
		Use:   "set-all-password [password]",
		Short: "Set the password of every user",
		Long: `Re-hashes the password of every account in the user table, so suites can
log in as any fixture user.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			password := defaultPassword
			if len(args) > 0 {
				password = args[0]
			}

			conn, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer conn.Close()

			users := auth.NewSQLUsers(conn.SQL(), table, resetTable, a.cfg.PasswordCost)
			n, err := users.SetAllPasswords(ctx, password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d user(s)\n", n)
			return nil
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "User table (formprobe_user when empty)")
	cmd.Flags().StringVar(&resetTable, "reset-table", "", "Reset code table (formprobe_reset_code when empty)")

	return cmd
}
