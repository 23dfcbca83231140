package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// taskCmd groups the facade-backed task subcommands named in spec.md §6:
// task {list|info|cancel|cleanup}. These operate on the C14 unified
// facade's registered tasks, distinct from `list`/`fetch`'s mining tasks
// — a registered task is the lower-level unit the pool/monitor/legacy
// manager actually schedule.
func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect and control registered tasks via the unified facade",
	}
	cmd.AddCommand(taskListCmd())
	cmd.AddCommand(taskInfoCmd())
	cmd.AddCommand(taskCancelCmd())
	cmd.AddCommand(taskCleanupCmd())
	return cmd
}

func taskListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := loadConfig()
			if err != nil {
				return newUserError("%w", err)
			}
			eng, err := buildEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			ctx := context.Background()
			eng.Start(ctx)
			defer stopEngine(eng, logger)

			tasks := eng.Tasks.ListTasks(nil)
			if len(tasks) == 0 {
				fmt.Println("no registered tasks")
				return nil
			}
			for _, t := range tasks {
				status, _ := eng.Tasks.TaskStatus(t.ID)
				fmt.Printf("%-36s  %-8s  %s\n", t.ID, status, t.Name)
			}
			return nil
		},
	}
}

func taskInfoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <task-id>",
		Short: "Show a registered task's status, result, and error",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := loadConfig()
			if err != nil {
				return newUserError("%w", err)
			}
			eng, err := buildEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			ctx := context.Background()
			eng.Start(ctx)
			defer stopEngine(eng, logger)

			id := args[0]
			status, err := eng.Tasks.TaskStatus(id)
			if err != nil {
				return newUserError("unknown task %q: %w", id, err)
			}
			fmt.Printf("id:     %s\n", id)
			fmt.Printf("status: %s\n", status)
			if result, err := eng.Tasks.TaskResult(id); err == nil && result != nil {
				fmt.Printf("result: %v\n", result)
			}
			if taskErr, err := eng.Tasks.TaskError(id); err == nil && taskErr != nil {
				fmt.Printf("error:  %v\n", taskErr)
			}
			return nil
		},
	}
}

func taskCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a pending registered task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := loadConfig()
			if err != nil {
				return newUserError("%w", err)
			}
			eng, err := buildEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			ctx := context.Background()
			eng.Start(ctx)
			defer stopEngine(eng, logger)

			if err := eng.Tasks.CancelTask(args[0]); err != nil {
				return newUserError("cancel %q: %w", args[0], err)
			}
			fmt.Printf("task %s cancelled\n", args[0])
			return nil
		},
	}
}

func taskCleanupCmd() *cobra.Command {
	var maxAge string
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove terminal task records older than --max-age",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := setupLogger()
			cfg, err := loadConfig()
			if err != nil {
				return newUserError("%w", err)
			}
			eng, err := buildEngine(cfg, logger)
			if err != nil {
				return fmt.Errorf("build engine: %w", err)
			}
			ctx := context.Background()
			eng.Start(ctx)
			defer stopEngine(eng, logger)

			age := durationOrDefault(maxAge, time.Hour)
			removed := eng.Tasks.CleanupCompleted(age)
			fmt.Printf("removed %d terminal task record(s) older than %s\n", removed, age)
			return nil
		},
	}
	cmd.Flags().StringVar(&maxAge, "max-age", "1h", "remove terminal tasks completed before this duration ago")
	return cmd
}
