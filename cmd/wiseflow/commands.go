package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wiseflow-dev/wiseflow/internal/types"
)

// runMiningTask is the shared implementation behind fetch/process/
// analyze/pipeline: each creates one mining task against a connector
// family and runs it to completion. The four verbs are deliberately thin
// pass-throughs over the same C11 operation — spec.md scopes out
// concrete parsing/pipeline stages, so there is no separate "process" or
// "analyze" engine operation to call into; the CLI's job here is only to
// give the facade a real caller (spec.md §6).
func runMiningTask(connectorName string, params []string) error {
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

	task, err := eng.Mining.CreateTask(ctx, connectorName+" task", types.MiningTaskType(connectorName), parseKeyValues(params))
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}

	result, err := eng.Mining.RunTask(ctx, task.TaskID)
	if err != nil {
		return fmt.Errorf("run task: %w", err)
	}

	fmt.Printf("task %s completed: %d item(s)\n", task.TaskID, result["item_count"])
	return nil
}

func fetchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch <connector> [key=value ...]",
		Short: "Create and run a mining task against a connector",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMiningTask(args[0], args[1:])
		},
	}
	return cmd
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process <connector> [key=value ...]",
		Short: "Alias of fetch — run a mining task (no separate processing stage in this scope)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMiningTask(args[0], args[1:])
		},
	}
}

func analyzeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analyze <connector> [key=value ...]",
		Short: "Alias of fetch — run a mining task (no separate analysis stage in this scope)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMiningTask(args[0], args[1:])
		},
	}
}

func pipelineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pipeline <connector> [key=value ...]",
		Short: "Alias of fetch — run a mining task (no separate pipeline stage in this scope)",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMiningTask(args[0], args[1:])
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List mining tasks",
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

			tasks, err := eng.Mining.ListTasks(ctx, nil)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			if len(tasks) == 0 {
				fmt.Println("no mining tasks")
				return nil
			}
			for _, t := range tasks {
				fmt.Printf("%-36s  %-10s  %-8s  %s\n", t.TaskID, t.TaskType, t.Status, t.Name)
			}
			return nil
		},
	}
}

func monitorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "monitor",
		Short: "Summarize task status counts across registered tasks",
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

			tasks, err := eng.Mining.ListTasks(ctx, nil)
			if err != nil {
				return fmt.Errorf("list tasks: %w", err)
			}
			counts := map[types.MiningTaskStatus]int{}
			for _, t := range tasks {
				counts[t.Status]++
			}
			fmt.Printf("mining tasks: %d total\n", len(tasks))
			for status, n := range counts {
				fmt.Printf("  %-10s %d\n", status, n)
			}
			return nil
		},
	}
}
