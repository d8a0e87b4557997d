package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"complyline/internal/app"
	"complyline/internal/domain"
	"complyline/internal/server"
)

func departmentCmd() *cobra.Command {
	dept := &cobra.Command{
		Use:   "department",
		Short: "Manage departments",
	}
	dept.AddCommand(departmentSeedCmd())
	dept.AddCommand(departmentListCmd())
	return dept
}

func departmentSeedCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				if err := a.SeedDepartment(cmd.Context(), id, name, nil, nil); err != nil {
					return err
				}
				fmt.Println("department", id, "ready")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "department id")
	cmd.Flags().StringVar(&name, "name", "", "department name (defaults to the id)")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}

func departmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				depts, err := a.Engine.Repo.ListDepartments(cmd.Context())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(depts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, d := range depts {
					tw.AppendRow(table.Row{d.ID, d.Name, d.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func assigneeCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "assignee",
		Short: "Manage assignees",
	}
	a.AddCommand(assigneeAddCmd())
	return a
}

func assigneeAddCmd() *cobra.Command {
	var (
		member     domain.Assignee
		phone      string
		department string
		manager    bool
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an assignee to a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			if phone != "" {
				member.PhoneNumber = &phone
			}
			return withApp(func(a *app.App) error {
				dept, err := a.Engine.Repo.GetDepartment(cmd.Context(), department)
				if err != nil {
					return fmt.Errorf("department %s: %w", department, err)
				}
				managers := map[string]bool{member.ID: manager}
				if err := a.SeedDepartment(cmd.Context(), dept.ID, dept.Name, []domain.Assignee{member}, managers); err != nil {
					return err
				}
				fmt.Printf("added %s to %s\n", member.DisplayName(), dept.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&member.ID, "id", "", "assignee id")
	cmd.Flags().StringVar(&member.Email, "email", "", "email address")
	cmd.Flags().StringVar(&member.FirstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&member.LastName, "last-name", "", "last name")
	cmd.Flags().StringVar(&phone, "phone", "", "phone number for SMS")
	cmd.Flags().StringVar(&department, "department", "", "department id")
	cmd.Flags().BoolVar(&manager, "manager", false, "receive escalations for the department")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("department")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	k := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	k.AddCommand(apiKeyCreateCmd())
	k.AddCommand(apiKeyListCmd())
	k.AddCommand(apiKeyDeleteCmd())
	return k
}

func apiKeyCreateCmd() *cobra.Command {
	var (
		name        string
		roles       []string
		departments []string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				secret, key, err := a.IssueAPIKey(cmd.Context(), actorID(), name, roles, departments)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": key.ID, "actor_id": key.ActorID, "key": secret})
				}
				fmt.Printf("API key %s for %s (shown once):\n%s\n", key.ID, key.ActorID, secret)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role (ADMIN, DEPARTMENT_MANAGER, ASSIGNEE); repeatable")
	cmd.Flags().StringSliceVar(&departments, "department", nil, "department id; repeatable")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys of --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				owner := actorID()
				if all {
					owner = ""
				}
				keys, err := a.Engine.Repo.ListAPIKeys(cmd.Context(), owner)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Actor", "Name", "Roles", "Departments", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.ActorID, k.Name, k.Roles, k.DepartmentIDs, k.CreatedAt.Format(time.RFC3339)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "list keys of every actor")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return a.Engine.Repo.DeleteAPIKey(cmd.Context(), args[0])
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	var (
		roles       []string
		departments []string
		ttl         time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for --actor-id",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tok, err := server.SignToken(a.AuthConfig(), actorID(), roles, departments, ttl)
				if err != nil {
					return err
				}
				fmt.Println(tok)
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", []string{"ADMIN"}, "role claim; repeatable")
	cmd.Flags().StringSliceVar(&departments, "department", nil, "departmentIds claim; repeatable")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime (0 for no expiry)")
	return cmd
}
