package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/cron"
)

// buildCronCmd creates the "cron" command group for inspecting and editing
// scheduled jobs without running the agent.
func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(buildCronListCmd(), buildCronAddCmd(), buildCronRemoveCmd())
	return cmd
}

func openCronStore(configPath string) (*cron.Store, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cron.NewStore(cfg.Cron.Path)
}

func buildCronListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore(configPath)
			if err != nil {
				return err
			}
			jobs := store.List()
			if len(jobs) == 0 {
				cmd.Println("No scheduled jobs.")
				return nil
			}
			now := time.Now()
			for _, job := range jobs {
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				next := "-"
				if at, ok := job.Next(now); ok {
					next = at.UTC().Format(time.RFC3339)
				}
				cmd.Printf("%s  %-20s %-8s next=%s  %s\n",
					job.ID, job.Name, state, next, describeSchedule(job.Schedule))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	return cmd
}

func buildCronAddCmd() *cobra.Command {
	var (
		configPath string
		name       string
		message    string
		every      time.Duration
		at         string
		expr       string
		once       bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Example: `  # Every morning at 08:00 UTC
  relay cron add --name briefing --cron "0 8 * * *" --message "Summarize today's calendar"

  # Once, five minutes from now
  relay cron add --name reminder --every 5m --once --message "Check the oven"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || message == "" {
				return fmt.Errorf("--name and --message are required")
			}

			var schedule cron.Schedule
			var err error
			switch {
			case expr != "":
				schedule, err = cron.NewCronSchedule(expr)
			case every > 0:
				schedule, err = cron.NewEverySchedule(every)
			case at != "":
				var ts time.Time
				ts, err = time.Parse(time.RFC3339, at)
				if err == nil {
					schedule, err = cron.NewAtSchedule(ts, time.Now())
				}
			default:
				return fmt.Errorf("one of --cron, --every, or --at is required")
			}
			if err != nil {
				return err
			}

			store, err := openCronStore(configPath)
			if err != nil {
				return err
			}
			job, err := store.Add(name, schedule, cron.Payload{Message: message}, once, "")
			if err != nil {
				return err
			}
			cmd.Printf("Added job %s (%s)\n", job.ID, job.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	cmd.Flags().StringVar(&name, "name", "", "Job name")
	cmd.Flags().StringVar(&message, "message", "", "Task prompt the agent receives when the job fires")
	cmd.Flags().DurationVar(&every, "every", 0, "Fixed interval, e.g. 30m or 24h")
	cmd.Flags().StringVar(&at, "at", "", "One-shot absolute time (RFC3339)")
	cmd.Flags().StringVar(&expr, "cron", "", "Five-field cron expression, evaluated in UTC")
	cmd.Flags().BoolVar(&once, "once", false, "Delete the job after its first run")
	return cmd
}

func buildCronRemoveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openCronStore(configPath)
			if err != nil {
				return err
			}
			removed, err := store.Remove(args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("no job with ID %s", args[0])
			}
			cmd.Printf("Removed job %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the configuration file")
	return cmd
}

func describeSchedule(s cron.Schedule) string {
	switch s.Kind {
	case cron.KindAt:
		return "at " + time.UnixMilli(s.AtMS).UTC().Format(time.RFC3339)
	case cron.KindEvery:
		return "every " + (time.Duration(s.EveryMS) * time.Millisecond).String()
	case cron.KindCron:
		return "cron " + s.Expr
	}
	return string(s.Kind)
}
