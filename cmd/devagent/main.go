package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"devagent/internal/adapter/llm"
	"devagent/internal/adapter/tool"
	"devagent/internal/domain"
	"devagent/internal/infra/config"
	"devagent/internal/infra/logger"
	"devagent/internal/infra/tracer"
	"devagent/internal/security"
	"devagent/internal/usecase"
	"devagent/internal/usecase/eventbus"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  = flag.String("config", "", "path to YAML config file")
		workspace   = flag.String("workspace", "", "workspace root for tools (overrides config)")
		model       = flag.String("model", "", "model name (overrides config)")
		providerURL = flag.String("provider-url", "", "completion API base URL (overrides config)")
		apiKey      = flag.String("key", "", "API key (overrides config)")
		confirm     = flag.String("confirm", "", "confirmation policy: auto-approve, never-execute, per-call")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg, *workspace, *model, *providerURL, *apiKey, *confirm)

	task, err := readTask(flag.Args())
	if err != nil {
		return err
	}

	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(shutdownCtx)
	}()

	bus := eventbus.New(cfg.Bus.HistorySize, logger.Component(log, "bus"))
	defer bus.Shutdown()

	console := newConsoleRenderer(os.Stdout)
	bus.Subscribe(nil, console.Handle, cfg.Bus.QueueSize)

	sandbox, err := security.NewSandbox(cfg.Workspace.Root)
	if err != nil {
		return err
	}

	toolLog := logger.Component(log, "tool")
	registry := tool.NewRegistry(toolLog)
	registry.Register(tool.NewFilesystemTool(sandbox, toolLog))
	registry.Register(tool.NewSearchTool(sandbox, toolLog))
	registry.Register(tool.NewShellTool(sandbox.Root(), cfg.Shell.Allowlist,
		time.Duration(cfg.Shell.TimeoutSeconds)*time.Second, toolLog))
	registry.Register(tool.NewGitTool(sandbox.Root(), toolLog))
	registry.Register(tool.NewMemoryTool(cfg.Workspace.NotesDir, toolLog))

	registry.Use(tool.NewLoggingMiddleware(toolLog))
	registry.Use(tool.NewRateLimitMiddleware(cfg.Agent.RateLimitPerSec, cfg.Agent.RateLimitBurst))
	registry.Use(tool.NewSchemaValidationMiddleware(registry))

	policy := domain.ParseConfirmationPolicy(cfg.Agent.ConfirmPolicy)
	executor := tool.NewExecutor(registry, bus, newTerminalConfirmer(os.Stdin, os.Stdout), policy, toolLog)

	llmLog := logger.Component(log, "llm")
	var provider domain.CompletionProvider = llm.NewOpenAIProvider(cfg.Provider, llmLog)
	provider = llm.NewCircuitBreakerProvider(provider, llm.CircuitBreakerConfig{}, llmLog)

	tokens, err := usecase.NewTokenCounter(cfg.Provider.Model)
	if err != nil {
		log.Warn("token counter unavailable, usage estimates disabled", "error", err)
		tokens = nil
	}

	orch := usecase.NewOrchestrator(usecase.OrchestratorDeps{
		Provider:        provider,
		Tools:           executor,
		Bus:             bus,
		Logger:          log,
		Tokens:          tokens,
		Model:           cfg.Provider.Model,
		MaxTokens:       cfg.Provider.MaxTokens,
		Temperature:     cfg.Provider.Temperature,
		MaxTurns:        cfg.Agent.MaxTurns,
		MissingToolName: cfg.Agent.MissingToolName,
	})

	session := usecase.NewSession()
	log.Info("starting task",
		"session_id", session.ID,
		"model", cfg.Provider.Model,
		"workspace", sandbox.Root(),
	)

	answer, err := orch.Run(ctx, session, task)
	if err != nil {
		return err
	}

	// Drain queued events before the final answer so output never interleaves.
	bus.Shutdown()
	console.Flush()
	fmt.Println(answer)
	return nil
}

// applyFlags overlays non-empty CLI flags onto the loaded config.
func applyFlags(cfg *config.Config, workspace, model, providerURL, apiKey, confirm string) {
	if workspace != "" {
		cfg.Workspace.Root = workspace
	}
	if model != "" {
		cfg.Provider.Model = model
	}
	if providerURL != "" {
		cfg.Provider.BaseURL = providerURL
	}
	if apiKey != "" {
		cfg.Provider.APIKey = apiKey
	}
	if confirm != "" {
		cfg.Agent.ConfirmPolicy = string(domain.ParseConfirmationPolicy(confirm))
	}
}

// readTask takes the task from the remaining args, or from stdin when no
// args are given (supports piping).
func readTask(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}

	info, err := os.Stdin.Stat()
	if err == nil && (info.Mode()&os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(bufio.NewReader(os.Stdin))
		if err != nil {
			return "", fmt.Errorf("read task from stdin: %w", err)
		}
		task := strings.TrimSpace(string(data))
		if task != "" {
			return task, nil
		}
	}

	return "", fmt.Errorf("no task given: pass it as arguments or pipe it on stdin")
}
