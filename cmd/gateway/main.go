// Command gateway runs the realtime voice session gateway.
//
// Usage:
//
//	gateway serve
//	gateway probe --url ws://localhost:8080/realtime --customer c42
//	gateway version
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/gorilla/websocket"
	"golang.org/x/term"

	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/agent"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/auth"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/completion"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/config"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/convlog"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/docstore"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/gateway"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/logger"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/observability"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/server"
	"github.com/HaoZhang615/Realtime-Synthetic-Call-Center-Agents-sub000/pkg/tools/mcptoolset"
)

// CLI defines the command-line interface.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" default:"1" help:"Start the gateway server."`
	Probe   ProbeCmd   `cmd:"" help:"Open an interactive frame console against a running gateway."`

	LogLevel  string `help:"Log level (debug, info, warn, error)." default:"info"`
	LogFile   string `help:"Log file path (empty = stderr)."`
	LogFormat string `help:"Log format (simple, verbose, or json)." default:"simple"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("voice gateway version %s\n", version)
	return nil
}

// ServeCmd starts the gateway server.
type ServeCmd struct {
	Addr       string `help:"Listen address override." placeholder:"HOST:PORT"`
	AgentsFile string `name:"agents-file" help:"Agents YAML file override." type:"path"`
	Metrics    bool   `help:"Expose Prometheus metrics on /metrics." default:"true" negatable:""`
}

func (c *ServeCmd) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Server.ListenAddr = c.Addr
	}
	if c.AgentsFile != "" {
		cfg.AgentsFile = c.AgentsFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	obs := observability.NewManager(observability.Config{
		Metrics: observability.MetricsConfig{Enabled: c.Metrics},
	})
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer obs.Shutdown(context.Background())

	store, err := docstore.Connect(ctx, docstore.Options{
		Endpoint:                cfg.Docstore.Endpoint,
		Database:                cfg.Docstore.Database,
		ConversationsCollection: cfg.Docstore.ConversationsCollection,
		CustomersCollection:     cfg.Docstore.CustomersCollection,
		PurchasesCollection:     cfg.Docstore.PurchasesCollection,
		ProductsCollection:      cfg.Docstore.ProductsCollection,
	})
	if err != nil {
		return fmt.Errorf("failed to connect document store: %w", err)
	}
	defer store.Close(context.Background())

	tokens, err := auth.NewProvider(cfg.Credential)
	if err != nil {
		return fmt.Errorf("failed to build credential provider: %w", err)
	}

	registry := agent.NewRegistry(cfg.Language)
	if err := gateway.RegisterBuiltins(registry, store); err != nil {
		return err
	}

	var mcp *mcptoolset.Toolset
	if cfg.MCP.URL != "" || cfg.MCP.Command != "" {
		mcp, err = mcptoolset.New(mcptoolset.Config{URL: cfg.MCP.URL, Command: cfg.MCP.Command})
		if err != nil {
			return fmt.Errorf("invalid MCP configuration: %w", err)
		}
		defer mcp.Close()
	}

	catalog := gateway.BuildCatalog(ctx, store, mcp)

	if cfg.AgentsFile != "" {
		file, err := config.LoadAgentsFile(cfg.AgentsFile)
		if err != nil {
			return err
		}
		ids, err := gateway.ApplyAgentsFile(registry, catalog, file)
		if err != nil {
			return err
		}
		slog.Info("Registered agents from file", "path", cfg.AgentsFile, "agents", ids)

		watcher, err := gateway.WatchAgentsFile(ctx, registry, catalog, cfg.AgentsFile)
		if err != nil {
			slog.Warn("Agents file watching unavailable", "path", cfg.AgentsFile, "error", err)
		} else {
			defer watcher.Close()
		}
	}

	var convLogger *convlog.Logger
	if cfg.Upstream.TitleDeployment != "" {
		titler := completion.New(cfg.Upstream.Endpoint, cfg.Upstream.APIVersion, cfg.Upstream.TitleDeployment, tokens)
		convLogger = convlog.New(store, titler, cfg.Upstream.TitleDeployment)
	} else {
		convLogger = convlog.New(store, nil, "")
	}

	dispatcher := agent.NewDispatcher(registry, cfg.ToolCallTimeout)
	manager := gateway.NewManager(registry, dispatcher,
		gateway.WithUpstream(cfg.Upstream, tokens),
		gateway.WithStore(store),
		gateway.WithConversationLogger(convLogger))

	srv := server.New(cfg.Server, manager, obs)
	go func() {
		<-ctx.Done()
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := srv.Stop(stopCtx); err != nil {
			slog.Error("Server shutdown failed", "error", err)
		}
	}()

	display := displayAddr(cfg.Server.ListenAddr)
	fmt.Printf("\nVoice gateway ready on %s\n", cfg.Server.ListenAddr)
	fmt.Printf("   Realtime:  ws://%s/realtime\n", display)
	fmt.Printf("   Health:    http://%s/health\n", display)
	fmt.Printf("   Stats:     http://%s/sessions/stats\n", display)
	if c.Metrics {
		fmt.Printf("   Metrics:   http://%s/metrics\n", display)
	}
	fmt.Printf("   Agents:    %s (root: %s)\n", strings.Join(registry.IDs(), ", "), registry.RootID())
	fmt.Println("\nPress Ctrl+C to stop")

	return srv.Start()
}

// ProbeCmd connects to a running gateway and bridges stdin/stdout to
// the session, one JSON frame per line.
type ProbeCmd struct {
	URL      string `help:"Gateway WebSocket URL." default:"ws://localhost:8080/realtime"`
	Customer string `help:"Bind the session to this customer id." placeholder:"ID"`
}

func (c *ProbeCmd) Run() error {
	target, err := c.targetURL()
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("probe dial failed: %s", resp.Status)
		}
		return fmt.Errorf("probe dial failed: %w", err)
	}
	defer conn.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	if interactive {
		fmt.Printf("Connected to %s. One JSON frame per line, Ctrl+D to quit.\n", target)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			fmt.Printf("<- %s\n", data)
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Print("-> ")
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !json.Valid([]byte(line)) {
			fmt.Fprintln(os.Stderr, "not a JSON frame, skipped")
			continue
		}
		if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
	return scanner.Err()
}

func (c *ProbeCmd) targetURL() (string, error) {
	parsed, err := url.Parse(c.URL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway URL %q: %w", c.URL, err)
	}
	if c.Customer != "" {
		query := parsed.Query()
		query.Set("customer_id", c.Customer)
		parsed.RawQuery = query.Encode()
	}
	return parsed.String(), nil
}

func displayAddr(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}

func initLogger(levelStr, file, format string) (func(), error) {
	level := logger.ParseLevel(levelStr)
	output := os.Stderr
	cleanup := func() {}
	if file != "" {
		logFile, closeFile, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, err
		}
		output, cleanup = logFile, closeFile
	}
	logger.Init(level, output, format)
	return cleanup, nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("gateway"),
		kong.Description("Realtime voice session gateway for call-center agents"),
		kong.UsageOnError(),
	)

	cleanup, err := initLogger(cli.LogLevel, cli.LogFile, cli.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer cleanup()

	err = ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
