package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/flemzord/cronsync/internal/schedule"
	"github.com/flemzord/cronsync/pkg/app"
	"github.com/spf13/cobra"
)

var headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
var cellStyle = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		}).
		Headers(headers...)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// listRow renders one task the way operators read it: an "(ovr)" marker
// on overridden intervals, Never for tasks without history.
func listRow(task schedule.TaskSummary) []string {
	interval := task.Interval
	if task.Override {
		interval += " (ovr)"
	}
	enabled := "No"
	if task.Enabled {
		enabled = "Yes"
	}
	lastRun, status := "Never", "-"
	if task.LastRun.State != schedule.RunNever {
		lastRun = formatTime(&task.LastRun.Time)
		status = string(task.LastRun.State)
		if task.LastRun.ExitCode != nil {
			status = fmt.Sprintf("%s (%d)", status, *task.LastRun.ExitCode)
		}
	}
	return []string{task.Name, interval, enabled, lastRun, status}
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func tasksCmd(flags *globalFlags) *cobra.Command {
	var tenant string
	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "Inspect and manage scheduled tasks",
	}
	cmd.PersistentFlags().StringVarP(&tenant, "tenant", "t", schedule.DefaultTenant, "Tenant namespace")

	key := func(name string) schedule.Key {
		return schedule.Key{Name: name, Tenant: tenant}
	}

	cmd.AddCommand(
		tasksListCmd(flags, &tenant),
		tasksInfoCmd(flags, key),
		tasksToggleCmd(flags, key, true),
		tasksToggleCmd(flags, key, false),
		tasksIntervalCmd(flags, key),
		tasksRunCmd(flags, key),
		tasksDueCmd(flags),
		tasksPurgeCmd(flags, &tenant),
		tasksSyncCmd(flags),
	)
	return cmd
}

func tasksListCmd(flags *globalFlags, tenant *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				tasks, err := s.Manager().List(ctx, *tenant)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), tasks)
				}
				t := newTable("NAME", "INTERVAL", "ENABLED", "LAST RUN", "STATUS")
				for _, task := range tasks {
					t.Row(listRow(task)...)
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func tasksInfoCmd(flags *globalFlags, key func(string) schedule.Key) *cobra.Command {
	return &cobra.Command{
		Use:   "info <name>",
		Short: "Show a task's definition and recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				info, err := s.Manager().Info(ctx, key(args[0]))
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), info)
			})
		},
	}
}

func tasksToggleCmd(flags *globalFlags, key func(string) schedule.Key, enable bool) *cobra.Command {
	use, short := "disable <name>", "Stop a task from being scheduled"
	if enable {
		use, short = "enable <name>", "Schedule a disabled task again"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				k := key(args[0])
				var err error
				if enable {
					err = s.Manager().Enable(ctx, k)
				} else {
					err = s.Manager().Disable(ctx, k)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s enabled=%t\n", k, enable)
				return nil
			})
		},
	}
}

func tasksIntervalCmd(flags *globalFlags, key func(string) schedule.Key) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "interval",
		Short: "Override or restore a task's interval",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "set <name> <expr>",
		Short: "Override the declared interval",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				if err := s.Manager().SetInterval(ctx, key(args[0]), args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s interval=%q\n", key(args[0]), args[1])
				return nil
			})
		},
	}, &cobra.Command{
		Use:   "clear <name>",
		Short: "Return to the declared interval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				if err := s.Manager().ClearInterval(ctx, key(args[0])); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s interval cleared\n", key(args[0]))
				return nil
			})
		},
	})
	return cmd
}

func tasksRunCmd(flags *globalFlags, key func(string) schedule.Key) *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Dispatch a task now, outside its schedule",
		Long: "Dispatch a task now. With a local runner the command waits for the run,\n" +
			"since exiting would cancel it; use --wait=false with a remote runner.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return withSession(ctx, flags, func(ctx context.Context, s *app.Session) error {
				runID, err := s.Manager().ForceRun(ctx, key(args[0]))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "dispatched %s run_id=%s\n", key(args[0]), runID)
				if !wait {
					return nil
				}
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				info, err := s.WaitRun(ctx, runID, 0)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "state=%s exit_code=%d\n", info.State, info.ExitCode)
				if info.Output != "" {
					fmt.Fprintln(out, strings.TrimRight(info.Output, "\n"))
				}
				if info.State != schedule.RunSucceeded {
					return fmt.Errorf("run %s finished %s", runID, info.State)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "Wait for the run to finish")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up waiting after this long (0 waits indefinitely)")
	return cmd
}

func tasksDueCmd(flags *globalFlags) *cobra.Command {
	var (
		since  string
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "due",
		Short: "Preview what an evaluation would dispatch, across all tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var last *time.Time
			if since != "" {
				t, err := time.Parse(time.RFC3339, since)
				if err != nil {
					return fmt.Errorf("--since must be RFC 3339: %w", err)
				}
				last = &t
			}
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				set, err := s.Manager().Due(ctx, last)
				if err != nil {
					return err
				}
				if asJSON {
					return printJSON(cmd.OutOrStdout(), set.Tasks)
				}
				sort.Slice(set.Tasks, func(i, j int) bool {
					return set.Tasks[i].Key.String() < set.Tasks[j].Key.String()
				})
				t := newTable("TENANT", "NAME", "MATCHED AT")
				for _, task := range set.Tasks {
					matched := task.MatchedAt
					t.Row(task.Tenant, task.Name, formatTime(&matched))
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "Last checked time (RFC 3339); default checks the current minute only")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func tasksPurgeCmd(flags *globalFlags, tenant *string) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete every task of the tenant given with --tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("tenant") {
				return errors.New("purge requires an explicit --tenant")
			}
			if !yes {
				confirmed := false
				err := huh.NewConfirm().
					Title(fmt.Sprintf("Delete all tasks of tenant %q?", *tenant)).
					Description("Declared tasks come back on the next sync; overrides are lost.").
					Affirmative("Delete").
					Negative("Cancel").
					Value(&confirmed).
					Run()
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.OutOrStdout(), "aborted")
					return nil
				}
			}
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				n, err := s.Manager().Purge(ctx, *tenant)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "deleted %d task(s) of %s\n", n, *tenant)
				return nil
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip confirmation")
	return cmd
}

func tasksSyncCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Apply the declared tasks to the store for every tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withSession(cmd.Context(), flags, func(ctx context.Context, s *app.Session) error {
				results, err := s.Sync(ctx)
				tenants := make([]string, 0, len(results))
				for tenant := range results {
					tenants = append(tenants, tenant)
				}
				sort.Strings(tenants)

				t := newTable("TENANT", "INSERTED", "UPDATED", "UNCHANGED", "FAILED")
				failed := 0
				for _, tenant := range tenants {
					r := results[tenant]
					if r.Skipped {
						t.Row(tenant, "skipped", "-", "-", "-")
						continue
					}
					failed += len(r.Failed)
					t.Row(tenant, fmt.Sprint(len(r.Inserted)), fmt.Sprint(len(r.Updated)),
						fmt.Sprint(len(r.Unchanged)), fmt.Sprint(len(r.Failed)))
				}
				fmt.Fprintln(cmd.OutOrStdout(), t)
				if err == nil && failed > 0 {
					err = fmt.Errorf("%d task declaration(s) failed, see log", failed)
				}
				return err
			})
		},
	}
}
