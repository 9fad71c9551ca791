package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/antcode-sh/antcode/pkg/client"
	"github.com/antcode-sh/antcode/pkg/types"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// apiClient builds a client from the command's --server/--token flags,
// falling back to ANTCODE_SERVER / ANTCODE_TOKEN
func apiClient(cmd *cobra.Command) *client.Client {
	server, _ := cmd.Flags().GetString("server")
	token, _ := cmd.Flags().GetString("token")
	if server == "" {
		server = os.Getenv("ANTCODE_SERVER")
	}
	if server == "" {
		server = "http://127.0.0.1:8000"
	}
	if token == "" {
		token = os.Getenv("ANTCODE_TOKEN")
	}
	return client.NewClient(server, token)
}

func addClientFlags(cmds ...*cobra.Command) {
	for _, c := range cmds {
		c.PersistentFlags().String("server", "", "Master URL (default $ANTCODE_SERVER or http://127.0.0.1:8000)")
		c.PersistentFlags().String("token", "", "API token (default $ANTCODE_TOKEN)")
	}
}

// readSpec loads a YAML resource file into the request shape the API
// accepts
func readSpec(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %v", err)
	}
	var spec map[string]any
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %v", err)
	}
	return spec, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// Project commands

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List projects",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		projects, err := apiClient(cmd).ListProjects(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tTYPE\tHASH\tSTRATEGY")
		for _, p := range projects {
			hash := p.FileHash
			if len(hash) > 12 {
				hash = hash[:12]
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.PublicID, p.Name, p.Type, hash, p.ExecutionStrategy)
		}
		return w.Flush()
	},
}

var projectCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Create a project from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		spec, err := readSpec(path)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()
		project, err := apiClient(cmd).CreateProject(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Project %s created (%s)\n", project.Name, project.PublicID)
		return nil
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := apiClient(cmd).DeleteProject(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Project %s deleted\n", args[0])
		return nil
	},
}

// Task commands

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage scheduled tasks",
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		tasks, err := apiClient(cmd).ListTasks(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tACTIVE\tSTATE\tOK\tFAIL")
		for _, t := range tasks {
			fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%d\n",
				t.PublicID, t.Name, scheduleSummary(t), t.IsActive, t.CurrentState, t.SuccessCount, t.FailureCount)
		}
		return w.Flush()
	},
}

func scheduleSummary(t *types.ScheduledTask) string {
	switch t.ScheduleKind {
	case types.ScheduleCron:
		return "cron " + t.CronExpr
	case types.ScheduleInterval:
		return fmt.Sprintf("every %ds", t.IntervalSeconds)
	case types.ScheduleDate, types.ScheduleOnce:
		if t.RunAt != nil {
			return "at " + t.RunAt.Format(time.RFC3339)
		}
	}
	return string(t.ScheduleKind)
}

var taskCreateCmd = &cobra.Command{
	Use:   "create -f FILE",
	Short: "Create a scheduled task from a YAML file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("file")
		spec, err := readSpec(path)
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()
		task, err := apiClient(cmd).CreateTask(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Task %s created (%s)\n", task.Name, task.PublicID)
		return nil
	},
}

var taskTriggerCmd = &cobra.Command{
	Use:   "trigger ID",
	Short: "Fire a task immediately",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pairs, _ := cmd.Flags().GetStringSlice("param")
		params := make(map[string]any, len(pairs))
		for _, pair := range pairs {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				return fmt.Errorf("bad --param %q, want key=value", pair)
			}
			params[key] = value
		}
		ctx, cancel := commandContext()
		defer cancel()
		executionID, err := apiClient(cmd).TriggerTask(ctx, args[0], params)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Execution %s started\n", executionID)
		return nil
	},
}

var taskRunsCmd = &cobra.Command{
	Use:   "runs ID",
	Short: "List a task's executions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		executions, err := apiClient(cmd).ListExecutions(ctx, args[0])
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tNODE\tSTARTED\tDURATION\tRETRIES")
		for _, e := range executions {
			node := e.NodeID
			if node == "" {
				node = "local"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%.1fs\t%d\n",
				e.ID, e.State, node, e.StartTime.Format(time.RFC3339), e.DurationSeconds, e.RetryCount)
		}
		return w.Flush()
	},
}

var taskDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := apiClient(cmd).DeleteTask(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Task %s deleted\n", args[0])
		return nil
	},
}

// Execution commands

var executionCmd = &cobra.Command{
	Use:     "execution",
	Aliases: []string{"exec"},
	Short:   "Inspect executions",
}

var executionGetCmd = &cobra.Command{
	Use:   "get ID",
	Short: "Show one execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		e, err := apiClient(cmd).GetExecution(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Execution: %s\n", e.ID)
		fmt.Printf("  Task: %s\n", e.TaskPublicID)
		fmt.Printf("  State: %s\n", e.State)
		if e.NodeID != "" {
			fmt.Printf("  Node: %s\n", e.NodeID)
		}
		fmt.Printf("  Started: %s\n", e.StartTime.Format(time.RFC3339))
		if e.EndTime != nil {
			fmt.Printf("  Ended: %s (%.1fs)\n", e.EndTime.Format(time.RFC3339), e.DurationSeconds)
		}
		if e.ErrorMessage != "" {
			fmt.Printf("  Error: %s\n", e.ErrorMessage)
		}
		return nil
	},
}

var executionLogsCmd = &cobra.Command{
	Use:   "logs ID",
	Short: "Tail an execution's logs",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tail, _ := cmd.Flags().GetInt("tail")
		logType := types.LogTypeOutput
		if errLog, _ := cmd.Flags().GetBool("error"); errLog {
			logType = types.LogTypeError
		}
		ctx, cancel := commandContext()
		defer cancel()
		content, err := apiClient(cmd).ExecutionLogs(ctx, args[0], logType, tail)
		if err != nil {
			return err
		}
		fmt.Print(content)
		if content != "" && !strings.HasSuffix(content, "\n") {
			fmt.Println()
		}
		return nil
	},
}

var executionCancelCmd = &cobra.Command{
	Use:   "cancel ID",
	Short: "Cancel an execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := apiClient(cmd).CancelExecution(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Execution %s cancelled\n", args[0])
		return nil
	},
}

// Node commands

var nodeCmd = &cobra.Command{
	Use:   "node",
	Short: "Manage worker nodes",
}

var nodeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered nodes",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		nodes, err := apiClient(cmd).ListNodes(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tADDRESS\tSTATUS\tREGION\tTASKS")
		for _, n := range nodes {
			fmt.Fprintf(w, "%s\t%s\t%s:%d\t%s\t%s\t%d/%d\n",
				n.ID, n.Name, n.Host, n.Port, n.Status, n.Region,
				n.Metrics.RunningTasks, n.MaxConcurrent())
		}
		return w.Flush()
	},
}

var nodeRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a worker node",
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		if host == "" {
			return fmt.Errorf("--host is required")
		}
		port, _ := cmd.Flags().GetInt("port")
		name, _ := cmd.Flags().GetString("name")
		region, _ := cmd.Flags().GetString("region")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		render, _ := cmd.Flags().GetBool("render")

		spec := map[string]any{
			"name":   name,
			"host":   host,
			"port":   port,
			"region": region,
			"tags":   tags,
			"capabilities": map[string]any{
				"render": render,
			},
		}
		ctx, cancel := commandContext()
		defer cancel()
		reg, err := apiClient(cmd).CreateNode(ctx, spec)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Node %s registered (%s)\n", reg.Node.Name, reg.Node.ID)
		fmt.Println()
		fmt.Println("Credentials (shown once, store them now):")
		fmt.Printf("  API Key:    %s\n", reg.APIKey)
		fmt.Printf("  Secret Key: %s\n", reg.SecretKey)
		return nil
	},
}

var nodeTestCmd = &cobra.Command{
	Use:   "test ID",
	Short: "Probe a node and clear any suspension",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := apiClient(cmd).TestNode(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node %s is reachable\n", args[0])
		return nil
	},
}

var nodeDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a node",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		if err := apiClient(cmd).DeleteNode(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("✓ Node %s deleted\n", args[0])
		return nil
	},
}

var nodeInstallKeyCmd = &cobra.Command{
	Use:   "install-key",
	Short: "Mint an install key for bootstrapping a worker",
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetInt("ttl")
		ctx, cancel := commandContext()
		defer cancel()
		key, err := apiClient(cmd).CreateInstallKey(ctx, ttl)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Install key: %s\n", key.Key)
		fmt.Printf("  Expires: %s\n", key.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

// Queue commands

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the central queue",
}

var queueStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depth and throughput",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext()
		defer cancel()
		status, err := apiClient(cmd).QueueStatus(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		for key, value := range status {
			fmt.Fprintf(w, "%s\t%v\n", key, value)
		}
		return w.Flush()
	},
}

func init() {
	addClientFlags(projectCmd, taskCmd, executionCmd, nodeCmd, queueCmd)

	projectCmd.AddCommand(projectListCmd)
	projectCmd.AddCommand(projectCreateCmd)
	projectCmd.AddCommand(projectDeleteCmd)
	projectCreateCmd.Flags().StringP("file", "f", "", "YAML project definition (required)")
	_ = projectCreateCmd.MarkFlagRequired("file")

	taskCmd.AddCommand(taskListCmd)
	taskCmd.AddCommand(taskCreateCmd)
	taskCmd.AddCommand(taskTriggerCmd)
	taskCmd.AddCommand(taskRunsCmd)
	taskCmd.AddCommand(taskDeleteCmd)
	taskCreateCmd.Flags().StringP("file", "f", "", "YAML task definition (required)")
	_ = taskCreateCmd.MarkFlagRequired("file")
	taskTriggerCmd.Flags().StringSlice("param", nil, "Execution parameter key=value (repeatable)")

	executionCmd.AddCommand(executionGetCmd)
	executionCmd.AddCommand(executionLogsCmd)
	executionCmd.AddCommand(executionCancelCmd)
	executionLogsCmd.Flags().Int("tail", 200, "Lines to tail")
	executionLogsCmd.Flags().Bool("error", false, "Read the error stream instead of output")

	nodeCmd.AddCommand(nodeListCmd)
	nodeCmd.AddCommand(nodeRegisterCmd)
	nodeCmd.AddCommand(nodeTestCmd)
	nodeCmd.AddCommand(nodeDeleteCmd)
	nodeCmd.AddCommand(nodeInstallKeyCmd)
	nodeRegisterCmd.Flags().String("name", "", "Node name (defaults to host)")
	nodeRegisterCmd.Flags().String("host", "", "Node host (required)")
	nodeRegisterCmd.Flags().Int("port", 8100, "Node port")
	nodeRegisterCmd.Flags().String("region", "", "Node region")
	nodeRegisterCmd.Flags().StringSlice("tag", nil, "Node tag (repeatable)")
	nodeRegisterCmd.Flags().Bool("render", false, "Node has a headless browser")
	nodeInstallKeyCmd.Flags().Int("ttl", 24, "Key lifetime in hours")

	queueCmd.AddCommand(queueStatusCmd)
}
