package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/rada-agent/rada/internal/agent"
	"github.com/rada-agent/rada/internal/api"
	"github.com/rada-agent/rada/internal/config"
	"github.com/rada-agent/rada/internal/engine"
	"github.com/rada-agent/rada/internal/retrieval"
	"github.com/rada-agent/rada/internal/sandbox"
	"github.com/rada-agent/rada/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rada server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running rada server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show rada system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "rada.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "rada version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	initLogging(cfg.Log.Level)

	slog.Debug("configuration loaded",
		"provider", cfg.Engine.Provider,
		"code_model", cfg.Engine.CodeModel,
		"embed_model", cfg.Engine.EmbedModel,
		"data_dir", cfg.Storage.DataDir,
		"context_top_k", cfg.Retrieval.ContextTopK,
		"success_threshold", cfg.Learning.SuccessThreshold,
		"execution_timeout", cfg.Exec.Timeout,
	)

	apiToken := cfg.Server.APIToken
	if apiToken == "" {
		apiToken = uuid.NewString()
		printWarning("RADA_API_TOKEN not set, generated one for this run: %s", apiToken)
	}

	// Refuse to start a second instance.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	if err := checkNotRunning(cfg, pidPath); err != nil {
		return err
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The embedding model always comes from the local engine; the code model
	// only needs to be present locally when it is the generation provider.
	eng := engine.NewOllama(cfg.Engine.BaseURL)
	codeModel := cfg.Engine.CodeModel
	if cfg.Engine.Provider == "openrouter" {
		codeModel = ""
	}
	if err := engine.EnsureReady(ctx, eng, codeModel, cfg.Engine.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	generator := newGenerator(cfg, eng)
	vectorStore := retrieval.NewSQLiteStore(store.DB())
	embedder := retrieval.NewEmbedder(eng, cfg.Engine.EmbedModel)
	executor := sandbox.New(cfg.Exec.Timeout)

	ag := agent.New(store, vectorStore, embedder, generator, executor, agent.Options{
		ContextTopK:      cfg.Retrieval.ContextTopK,
		InteractionTopK:  cfg.Retrieval.InteractionTopK,
		SuccessThreshold: cfg.Learning.SuccessThreshold,
	})

	if err := ag.Bootstrap(ctx); err != nil {
		return fmt.Errorf("seeding knowledge base: %w", err)
	}

	handler := api.NewHandler(api.Deps{
		Agent:  ag,
		Engine: eng,
		Token:  apiToken,
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	// MCP server over stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(api.MCPDeps{Agent: ag})
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "rada listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// checkNotRunning probes the health endpoint; a live response means another
// instance already owns the port.
func checkNotRunning(cfg config.Config, pidPath string) error {
	healthURL := fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(healthURL)
	if err != nil {
		return nil
	}
	resp.Body.Close()
	if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
		printWarning("rada is already running (PID %d)", pid)
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	printWarning("rada is already running on port %d", cfg.Server.Port)
	return fmt.Errorf("server already running on port %d", cfg.Server.Port)
}

func newGenerator(cfg config.Config, eng engine.Engine) engine.Generator {
	if cfg.Engine.Provider == "openrouter" {
		return engine.NewOpenRouter(cfg.Engine.OpenRouterAPIKey, cfg.Engine.OpenRouterModel)
	}
	return engine.NewChatGenerator(eng, cfg.Engine.CodeModel)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("rada is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop rada (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to rada (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	engineResp, err := client.Get(cfg.Engine.BaseURL + "/api/version")
	if err != nil {
		printStatus("Engine", "not running")
	} else {
		engineResp.Body.Close()
		printStatus("Engine", "running at %s", cfg.Engine.BaseURL)
	}

	printStatus("Provider", "%s", cfg.Engine.Provider)
	if cfg.Engine.Provider == "openrouter" {
		printStatus("Code model", "%s (openrouter)", cfg.Engine.OpenRouterModel)
	} else {
		printStatus("Code model", "%s", cfg.Engine.CodeModel)
	}
	printStatus("Embed model", "%s", cfg.Engine.EmbedModel)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
