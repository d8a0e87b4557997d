package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"complyline/internal/app"
	"complyline/internal/audit"
	"complyline/internal/domain"
	"complyline/internal/engine"
	"complyline/internal/notify"
)

func templateCmd() *cobra.Command {
	tpl := &cobra.Command{
		Use:   "template",
		Short: "Manage compliance templates",
		Long:  "A template describes a monthly obligation of a department. Automated templates get a task every month; the due day is clamped to the month length.",
	}
	tpl.AddCommand(templateCreateCmd())
	tpl.AddCommand(templateListCmd())
	tpl.AddCommand(templateShowCmd())
	tpl.AddCommand(templateUpdateCmd())
	tpl.AddCommand(templateDeleteCmd())
	tpl.PersistentFlags().String("department", "", "department id")
	_ = tpl.MarkPersistentFlagRequired("department")
	return tpl
}

type templateFlags struct {
	name, description, forms, docs string
	dueDay                         float64
	automated                      bool
}

func (f *templateFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.name, "name", "", "template name")
	cmd.Flags().StringVar(&f.description, "description", "", "details copied to each task")
	cmd.Flags().Float64Var(&f.dueDay, "due-day", 0, "day of month the task is due")
	cmd.Flags().StringVar(&f.forms, "forms", "", "comma separated forms")
	cmd.Flags().StringVar(&f.docs, "required-docs", "", "comma separated required documents")
	cmd.Flags().BoolVar(&f.automated, "automated", true, "generate tasks every month")
}

func (f *templateFlags) input(cmd *cobra.Command) engine.TemplateInput {
	in := engine.TemplateInput{
		Name:        optionalString(cmd, "name", f.name),
		Description: optionalString(cmd, "description", f.description),
	}
	if cmd.Flags().Changed("due-day") {
		in.DueDay = &f.dueDay
	}
	if cmd.Flags().Changed("forms") {
		in.Forms = nonNil(engine.SplitList(f.forms))
	}
	if cmd.Flags().Changed("required-docs") {
		in.RequiredDocs = nonNil(engine.SplitList(f.docs))
	}
	if cmd.Flags().Changed("automated") {
		in.Automated = &f.automated
	}
	return in
}

func nonNil(items []string) []string {
	if items == nil {
		return []string{}
	}
	return items
}

func department(cmd *cobra.Command) string {
	v, _ := cmd.Flags().GetString("department")
	return v
}

func templateCreateCmd() *cobra.Command {
	var f templateFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a template",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tpl, err := a.Engine.CreateTemplate(cmd.Context(), department(cmd), f.input(cmd), actorID())
				if err != nil {
					return err
				}
				return printTemplates([]domain.Template{tpl})
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func templateListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List templates of a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				items, err := a.Engine.ListTemplates(cmd.Context(), department(cmd))
				if err != nil {
					return err
				}
				return printTemplates(items)
			})
		},
	}
}

func templateShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tpl, err := a.Engine.GetTemplate(cmd.Context(), department(cmd), args[0])
				if err != nil {
					return err
				}
				return printJSON(tpl)
			})
		},
	}
}

func templateUpdateCmd() *cobra.Command {
	var f templateFlags
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update a template; only given flags change",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tpl, err := a.Engine.UpdateTemplate(cmd.Context(), department(cmd), args[0], f.input(cmd), actorID())
				if err != nil {
					return err
				}
				return printTemplates([]domain.Template{tpl})
			})
		},
	}
	f.bind(cmd)
	return cmd
}

func templateDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a template; its tasks are kept",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				return a.Engine.DeleteTemplate(cmd.Context(), department(cmd), args[0], actorID())
			})
		},
	}
}

func printTemplates(items []domain.Template) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Due day", "Automated", "Forms", "Required docs"})
	for _, t := range items {
		tw.AppendRow(table.Row{t.ID, t.Name, t.DueDay, t.Automated, strings.Join(t.Forms, ", "), strings.Join(t.RequiredDocs, ", ")})
	}
	tw.Render()
	return nil
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Work with generated tasks",
		Long:  "Tasks are PENDING when generated. skip and close end them, reopen returns them to PENDING. Every change is audited.",
	}
	task.AddCommand(taskListCmd())
	for _, t := range []struct {
		use, short string
		target     domain.TaskStatus
	}{
		{"skip", "Skip a task", domain.StatusSkipped},
		{"close", "Close a task", domain.StatusClosed},
		{"reopen", "Reopen a task", domain.StatusPending},
	} {
		task.AddCommand(taskTransitionCmd(t.use, t.short, t.target))
	}
	task.AddCommand(taskRegenerateCmd())
	task.AddCommand(taskAssignCmd())
	task.PersistentFlags().String("department", "", "department id")
	_ = task.MarkPersistentFlagRequired("department")
	return task
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tasks of a department, earliest due first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				tasks, err := a.Engine.ListTasks(cmd.Context(), department(cmd))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Due", "Override"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.ID, t.Title, t.Status, t.DueDate.Format("2006-01-02"), t.ManualOverride})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskTransitionCmd(use, short string, target domain.TaskStatus) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   use + " <task-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				opts := engine.TransitionOptions{ActorID: actorID(), Reason: optionalString(cmd, "reason", reason)}
				task, err := a.Engine.Transition(cmd.Context(), department(cmd), args[0], target, opts)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(task)
				}
				fmt.Printf("%s is now %s\n", task.ID, task.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func taskRegenerateCmd() *cobra.Command {
	var (
		month, year int
		reason      string
	)
	cmd := &cobra.Command{
		Use:   "regenerate <template-id>",
		Short: "Force-generate a template's task, resetting it to PENDING",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				opts := engine.RegenerateOptions{ActorID: actorID(), Reason: optionalString(cmd, "reason", reason)}
				if cmd.Flags().Changed("month") {
					opts.Month = &month
				}
				if cmd.Flags().Changed("year") {
					opts.Year = &year
				}
				res, err := a.Engine.Regenerate(cmd.Context(), department(cmd), args[0], opts)
				if err != nil {
					return err
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12, defaults to current)")
	cmd.Flags().IntVar(&year, "year", 0, "year (defaults to current)")
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded in the audit trail")
	return cmd
}

func taskAssignCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "assign <task-id>",
		Short: "Assign a task to an assignee",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				assignment, err := a.Engine.AssignTask(cmd.Context(), department(cmd), args[0], assignee, actorID())
				if err != nil {
					return err
				}
				return printJSON(assignment)
			})
		},
	}
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee id")
	_ = cmd.MarkFlagRequired("assignee")
	return cmd
}

func generateCmd() *cobra.Command {
	var (
		month, year int
		notifyNew   bool
	)
	cmd := &cobra.Command{
		Use:   "generate <template-id>",
		Short: "Generate a template's task for a month (no-op when it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				now := time.Now().UTC()
				if !cmd.Flags().Changed("month") {
					month = int(now.Month())
				}
				if !cmd.Flags().Changed("year") {
					year = now.Year()
				}
				res, err := a.Engine.GenerateMonthlyTask(cmd.Context(), args[0], engine.GenerateOptions{
					Month:   month,
					Year:    year,
					ActorID: actorID(),
				})
				if err != nil {
					return err
				}
				if notifyNew && res.Created {
					if _, err := a.Notifier.NotifyTaskCreation(cmd.Context(), res.Task.ID, notify.Options{}); err != nil {
						return err
					}
				}
				return printJSON(res)
			})
		},
	}
	cmd.Flags().IntVar(&month, "month", 0, "month (1-12, defaults to current)")
	cmd.Flags().IntVar(&year, "year", 0, "year (defaults to current)")
	cmd.Flags().BoolVar(&notifyNew, "notify", false, "notify assignees when a task is created")
	return cmd
}

func runMonthlyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-monthly",
		Short: "Run the monthly generation batch now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				summary, err := a.Scheduler.RunMonthly(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
}

func notifyCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notify",
		Short: "Send task notifications",
	}
	var (
		window float64
		reason string
	)
	reminders := &cobra.Command{
		Use:   "reminders",
		Short: "Remind assignees of tasks due within the window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				report, err := a.Notifier.ProcessUpcomingReminders(cmd.Context(), notify.ReminderOptions{
					Options:     notify.Options{Reason: reason},
					WindowHours: window,
				})
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	reminders.Flags().Float64Var(&window, "window-hours", notify.DefaultReminderWindowHours, "reminder window in hours")
	reminders.Flags().StringVar(&reason, "reason", "", "reason included in the message")
	escalations := &cobra.Command{
		Use:   "escalations",
		Short: "Escalate overdue tasks to assignees and department managers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				report, err := a.Notifier.ProcessOverdueEscalations(cmd.Context(), notify.Options{Reason: reason})
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	escalations.Flags().StringVar(&reason, "reason", "", "reason included in the message")
	n.AddCommand(reminders, escalations)
	return n
}

func auditCmd() *cobra.Command {
	a := &cobra.Command{
		Use:   "audit",
		Short: "Inspect and prune the audit trail",
	}
	a.AddCommand(auditListCmd())
	a.AddCommand(auditPruneCmd())
	return a
}

func auditListCmd() *cobra.Command {
	var (
		f          audit.Filters
		start, end string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List audit entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, d := range []struct {
				raw string
				dst **time.Time
			}{{start, &f.StartDate}, {end, &f.EndDate}} {
				if d.raw == "" {
					continue
				}
				t, err := time.Parse("2006-01-02", d.raw)
				if err != nil {
					return fmt.Errorf("invalid date %q: %w", d.raw, err)
				}
				*d.dst = &t
			}
			return withApp(func(a *app.App) error {
				page, err := a.Engine.Audit.Find(cmd.Context(), f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(page)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Time", "Action", "Actor", "Department", "Entity"})
				for _, e := range page.Records {
					tw.AppendRow(table.Row{e.ID, e.CreatedAt.Format(time.RFC3339), e.Action, deref(e.ActorID), deref(e.DepartmentID),
						strings.Trim(deref(e.PrimaryEntityType)+":"+deref(e.PrimaryEntityID), ":")})
				}
				tw.AppendFooter(table.Row{"", "", "", "", "total", page.Total})
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Action, "action", "", "action filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	cmd.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	cmd.Flags().StringVar(&f.EntityType, "entity-type", "", "primary entity type filter")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "primary entity id filter")
	cmd.Flags().StringVar(&start, "start", "", "earliest date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "latest date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&f.Limit, "limit", audit.DefaultLimit, "page size (max 200)")
	cmd.Flags().IntVar(&f.Offset, "offset", 0, "page offset")
	return cmd
}

func auditPruneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Delete entries older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				n, err := a.Scheduler.RunRetention(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("pruned %d audit entries (retention %d days)\n", n, a.Engine.Audit.RetentionDays)
				return nil
			})
		},
	}
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
