package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/storefront/internal/app/domain/user"
	"github.com/R3E-Network/storefront/internal/app/runtime"
)

func newUserCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage back-office users",
	}

	var (
		name          string
		role          string
		passwordStdin bool
	)
	create := &cobra.Command{
		Use:   "create <email>",
		Short: "Create a back-office user",
		Long: `Create a back-office user. The password is read from the
STOREFRONT_USER_PASSWORD environment variable, or from the first line of
stdin with --password-stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := os.Getenv("STOREFRONT_USER_PASSWORD")
			if passwordStdin {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("read password: %w", err)
				}
				password = strings.TrimRight(line, "\r\n")
			}
			if password == "" {
				return errors.New("password required: set STOREFRONT_USER_PASSWORD or use --password-stdin")
			}
			r := user.Role(role)
			if !r.Valid() {
				return fmt.Errorf("unknown role %q (admin, staff)", role)
			}
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				u, err := rt.App().Users.Create(cmd.Context(), args[0], name, r, password)
				if err != nil {
					return err
				}
				opts.out.Success("created %s user %s (%s)", u.Role, u.Email, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&role, "role", string(user.RoleStaff), "role: admin or staff")
	create.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the password from stdin")

	list := &cobra.Command{
		Use:   "list",
		Short: "List back-office users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return opts.withRuntime(cmd.Context(), func(rt *runtime.Application) error {
				users, err := rt.App().Users.List(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(users))
				for _, u := range users {
					state := "active"
					if !u.Active {
						state = "disabled"
					}
					rows = append(rows, []string{u.Email, u.Name, string(u.Role), state})
				}
				return opts.out.Table([]string{"EMAIL", "NAME", "ROLE", "STATE"}, rows)
			})
		},
	}

	cmd.AddCommand(create, list)
	return cmd
}
