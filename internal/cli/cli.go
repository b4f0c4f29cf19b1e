package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/ignatij/notiflow/internal/config"
	internal_http "github.com/ignatij/notiflow/internal/http"
	"github.com/ignatij/notiflow/internal/log"
	"github.com/ignatij/notiflow/internal/notifier"
	internal_storage "github.com/ignatij/notiflow/internal/storage"
	"github.com/ignatij/notiflow/pkg/models"
	"github.com/ignatij/notiflow/pkg/service"
	"github.com/ignatij/notiflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// workflowFile is the JSON accepted by `create --file`.
type workflowFile struct {
	Name       string               `json:"name"`
	Steps      []models.StepSpec    `json:"steps"`
	Recurrence *models.ScheduleSpec `json:"recurrence,omitempty"`
}

func SetupCLI(rootCmd *cobra.Command) {
	rootCmd.PersistentFlags().String("env", "", "Path to .env file")
	rootCmd.PersistentFlags().String("db", "", "Database connection string (overrides config)")
	rootCmd.PersistentFlags().Bool("memory", false, "Use the in-memory store instead of Postgres")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, workers and schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			port, _ := cmd.Flags().GetString("port")
			if port == "" {
				port = cfg.HTTP.Port
			}
			return serve(internal_http.NewServer(svc, log.GetLogger()), port)
		},
	}
	serveCmd.Flags().String("port", "", "HTTP port (overrides config)")

	createCmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a workflow from a JSON definition file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			def, err := readWorkflowFile(path)
			if err != nil {
				return err
			}
			if len(args) == 1 {
				def.Name = args[0]
			}
			_, svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			id, err := svc.CreateWorkflow(def.Name, def.Steps, def.Recurrence)
			if err != nil {
				return errors.Wrap(err, "failed to create workflow")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workflow '%s' with ID %s\n", def.Name, id)
			return nil
		},
	}
	createCmd.Flags().StringP("file", "f", "", "Workflow definition (JSON)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			return listWorkflows(cmd.OutOrStdout(), svc)
		},
	}

	planCmd := &cobra.Command{
		Use:   "plan [id]",
		Short: "Print the execution plan of a workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			plan, err := svc.PlanWorkflow(args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), plan)
		},
	}

	executeCmd := &cobra.Command{
		Use:   "execute [id]",
		Short: "Run every step of a workflow and wait for the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, closeFn, err := openService(cmd)
			if err != nil {
				return err
			}
			defer closeFn()
			handles, err := svc.ExecuteWorkflow(args[0])
			if err != nil {
				return err
			}
			// wait for the queued tasks before reading the logs
			svc.Close()
			return printResults(cmd.OutOrStdout(), svc, args[0], handles)
		},
	}

	extractCmd := &cobra.Command{
		Use:   "extract [text]",
		Short: "Draft a workflow definition from free text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			templateID, _ := cmd.Flags().GetString("template")
			def := service.BuildDefinition(args[0], templateID)
			def.Name = service.TextWorkflowName
			return printJSON(cmd.OutOrStdout(), def)
		},
	}
	extractCmd.Flags().String("template", "", "Template ID to reference from the drafted step")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			source, _ := cmd.Flags().GetString("source")
			changed, err := internal_storage.Migrate(dsn(cmd, cfg), source)
			if err != nil {
				return err
			}
			if !changed {
				fmt.Fprintln(cmd.OutOrStdout(), "No new migrations")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied successfully")
			return nil
		},
	}
	migrateCmd.Flags().String("source", internal_storage.DefaultMigrations, "Migration source URL")

	rootCmd.AddCommand(serveCmd, createCmd, listCmd, planCmd, executeCmd, extractCmd, migrateCmd)
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	envFile, _ := cmd.Flags().GetString("env")
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}
	log.SetLevel(cfg.LogLevel)
	return cfg, nil
}

func dsn(cmd *cobra.Command, cfg *config.Config) string {
	if db, _ := cmd.Flags().GetString("db"); db != "" {
		return db
	}
	return cfg.DSN()
}

// openService wires config, store, notifier and the workflow service. The returned
// function stops the service and closes the store.
func openService(cmd *cobra.Command) (*config.Config, *service.WorkflowService, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	store, err := openStore(cmd, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}

	svc, err := service.NewWorkflowService(context.Background(), store, newNotifier(cfg), service.Options{
		Workers:       cfg.Workflow.Workers,
		QueueSize:     cfg.Workflow.QueueSize,
		TaskTimeout:   cfg.Workflow.TaskTimeout,
		OperatorEmail: cfg.Workflow.OperatorEmail,
		MeetingLink:   cfg.Workflow.MeetingLink,
		Location:      loc,
		Retry: service.RetryPolicy{
			MaxAttempts:     cfg.Retry.MaxAttempts,
			InitialInterval: cfg.Retry.InitialInterval,
			MaxInterval:     cfg.Retry.MaxInterval,
		},
	}, log.GetLogger())
	if err != nil {
		store.Close()
		return nil, nil, nil, err
	}
	return cfg, svc, func() {
		svc.Close()
		if err := store.Close(); err != nil {
			log.GetLogger().Errorf("Failed to close store: %v", err)
		}
	}, nil
}

func openStore(cmd *cobra.Command, cfg *config.Config) (storage.Store, error) {
	if memory, _ := cmd.Flags().GetBool("memory"); memory {
		log.GetLogger().Warn("Using the in-memory store; nothing will be persisted")
		return storage.NewInMemoryStore(), nil
	}
	log.GetLogger().Debugf("Connecting to %s:%d/%s", cfg.DB.Host, cfg.DB.Port, cfg.DB.Name)
	store, err := internal_storage.InitStore(dsn(cmd, cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize store")
	}
	return store, nil
}

func newNotifier(cfg *config.Config) service.Notifier {
	if cfg.Workflow.Notifier == "log" {
		return notifier.NewLogNotifier(log.GetLogger())
	}
	return notifier.NewSMTPNotifier(notifier.SMTPConfig{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		User:     cfg.SMTP.User,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
	})
}

func serve(srv *internal_http.Server, port string) error {
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- srv.Start(port)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(shutdown)

	select {
	case err := <-serverErrors:
		return err
	case sig := <-shutdown:
		log.GetLogger().Infof("Shutdown signal received: %v", sig)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return errors.Wrap(err, "server shutdown")
		}
		log.GetLogger().Info("Server stopped gracefully")
		return nil
	}
}

func readWorkflowFile(path string) (workflowFile, error) {
	var def workflowFile
	if path == "" {
		return def, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return def, errors.Wrapf(err, "read %s", path)
	}
	if err := json.Unmarshal(data, &def); err != nil {
		return def, errors.Wrapf(err, "parse %s", path)
	}
	return def, nil
}

func listWorkflows(out io.Writer, svc *service.WorkflowService) error {
	workflows, err := svc.ListWorkflows()
	if err != nil {
		return errors.Wrap(err, "failed to list workflows")
	}
	if len(workflows) == 0 {
		fmt.Fprintf(out, "No workflows found.\n")
		return nil
	}
	fmt.Fprintf(out, "Workflows:\n")
	for _, wf := range workflows {
		schedule := "-"
		if wf.Recurrence != nil {
			schedule = service.CronExpr(*wf.Recurrence)
		}
		fmt.Fprintf(out, "- ID: %s, Name: %s, Steps: %d, Schedule: %s, Created: %s\n",
			wf.ID, wf.Name, len(wf.Steps), schedule, wf.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func printResults(out io.Writer, svc *service.WorkflowService, workflowID string, handles []models.TaskHandle) error {
	logs, err := svc.ListExecutionLogs(workflowID)
	if err != nil {
		return err
	}
	byTask := make(map[string]models.ExecutionLog, len(logs))
	for _, l := range logs {
		byTask[l.TaskID] = l
	}
	for _, h := range handles {
		l, ok := byTask[h.TaskID]
		if !ok {
			fmt.Fprintf(out, "step %d: task %s has no result\n", h.Order, h.TaskID)
			continue
		}
		if l.Message != "" {
			fmt.Fprintf(out, "step %d (%s): %s - %s\n", h.Order, l.StepType, l.Status, l.Message)
			continue
		}
		fmt.Fprintf(out, "step %d (%s): %s\n", h.Order, l.StepType, l.Status)
	}
	return nil
}

func printJSON(out io.Writer, v interface{}) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
