package cli

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iambrandonn/coderloop/internal/agent"
	"github.com/iambrandonn/coderloop/internal/artifacts"
	"github.com/iambrandonn/coderloop/internal/config"
	"github.com/iambrandonn/coderloop/internal/eventlog"
	"github.com/iambrandonn/coderloop/internal/fsutil"
	"github.com/iambrandonn/coderloop/internal/gate"
	"github.com/iambrandonn/coderloop/internal/oracle"
	"github.com/iambrandonn/coderloop/internal/runstate"
	"github.com/iambrandonn/coderloop/internal/sequencer"
	"github.com/iambrandonn/coderloop/internal/supervisor"
	"github.com/iambrandonn/coderloop/internal/transcript"
	"github.com/iambrandonn/coderloop/internal/workspace"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Generate, build and validate a backend for a request",
		Long: `Start a new run. If --request is not given, coderloop asks for one
on standard input.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, v)
		},
	}
	cmd.Flags().StringP("request", "r", "", "Natural language description of the backend to build")
	_ = v.BindPFlag("request", cmd.Flags().Lookup("request"))
	return cmd
}

func runRun(cmd *cobra.Command, v *viper.Viper) error {
	logger, err := newLogger(cmd.ErrOrStderr(), v.GetString("log-level"))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	inTTY := isTerminal(cmd.InOrStdin())
	outTTY := isTerminal(out)

	cfg, cfgPath, err := loadOrCreateConfig(v.GetString("config"), logger)
	if err != nil {
		return err
	}
	logger.Info("loaded configuration", "path", cfgPath)

	if model := strings.TrimSpace(v.GetString("model")); model != "" {
		cfg.Oracle.Model = model
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	workspaceRoot := cfg.WorkspaceRootFor(cfgPath)
	if err := workspace.Initialize(workspaceRoot); err != nil {
		return fmt.Errorf("failed to initialize workspace: %w", err)
	}
	logger.Info("workspace initialized", "path", workspaceRoot)

	if err := loadDotEnv(workspaceRoot, logger); err != nil {
		return err
	}

	oracleClient, err := oracle.NewOpenAIClient(oracle.Options{
		APIKey:       v.GetString("api_key"),
		Organization: v.GetString("organization"),
		BaseURL:      cfg.Oracle.BaseURL,
		Model:        cfg.Oracle.Model,
		Temperature:  cfg.Oracle.Temperature,
		Timeout:      cfg.OracleTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	sup, err := supervisor.New(supervisor.Options{
		BuildCmd:     cfg.Backend.BuildCmd,
		RunCmd:       cfg.Backend.RunCmd,
		BuildTimeout: cfg.BuildTimeout(),
	}, logger)
	if err != nil {
		return err
	}

	store := artifacts.NewStore(cfg.ProjectDir(workspaceRoot), logger)
	if err := store.Initialize(); err != nil {
		return err
	}

	request := strings.TrimSpace(v.GetString("request"))
	if request == "" {
		request, err = promptForRequest(in, out, inTTY)
		if err != nil {
			return err
		}
	}

	var confirmer gate.Confirmer = gate.AutoApprove{}
	if cfg.Policy.RequireConfirmation && !v.GetBool("yes") {
		confirmer = gate.NewTerminalConfirmer(in, out, outTTY)
	}

	runID := sequencer.NewRunID(time.Now())
	evtLog, err := eventlog.NewEventLog(eventlog.Path(workspaceRoot, runID), runID, logger)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}
	defer evtLog.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	seq := sequencer.New(sequencer.Config{
		Oracle:  oracleClient,
		Builder: sup,
		Store:   store,
		Gate:    confirmer,
		Backend: agent.BackendOptions{
			BaseURL:      cfg.Backend.BaseURL,
			Warmup:       cfg.Warmup(),
			ProbeTimeout: cfg.ProbeTimeout(),
			MaxBugCount:  cfg.Backend.MaxBugCount,
		},
		DiscoveryProbeTimeout:  cfg.DiscoveryProbeTimeout(),
		ContinueOnAgentFailure: cfg.Policy.ContinueOnAgentFailure,
		StatePath:              runstate.GetRunStatePath(workspaceRoot),
		Narrator:               transcript.NewNarrator(out, outTTY),
		Logger:                 logger,
		Recorder:               evtLog,
	})

	logger.Info("run started", "run_id", runID)
	report, runErr := seq.Run(ctx, runID, request)
	printSummary(out, report)
	if runErr != nil {
		return fmt.Errorf("run %s failed: %w", runID, runErr)
	}

	fmt.Fprintf(out, "\nGenerated server: %s\n", store.Dir())
	logger.Info("run complete", "run_id", runID)
	return nil
}

// loadOrCreateConfig finds an existing config or creates a new one.
// Without an explicit path it walks up from the working directory and
// creates a default in the working directory if nothing is found.
func loadOrCreateConfig(configPath string, logger *slog.Logger) (*config.Config, string, error) {
	if configPath != "" {
		cfg, err := config.LoadFromFile(configPath)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
		return cfg, configPath, nil
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get current directory: %w", err)
	}

	if found := config.FindInTree(cwd); found != "" {
		logger.Info("found existing config", "path", found)
		cfg, err := config.LoadFromFile(found)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, found, nil
	}

	defaultPath := filepath.Join(cwd, config.FileName)
	logger.Info("no config found, creating default", "path", defaultPath)

	cfg := config.GenerateDefault()
	if err := cfg.SaveToFile(defaultPath); err != nil {
		return nil, "", fmt.Errorf("failed to save default config: %w", err)
	}
	return cfg, defaultPath, nil
}

// loadDotEnv reads <workspace>/.env into the process environment so the API
// key can live next to coderloop.json. Variables already set win.
func loadDotEnv(workspaceRoot string, logger *slog.Logger) error {
	path := filepath.Join(workspaceRoot, ".env")
	if !fsutil.FileExists(path) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	logger.Info("loaded environment file", "path", path)
	return nil
}
