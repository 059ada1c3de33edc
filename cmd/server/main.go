// server is the multi-transport RPC server binary. It exposes the same
// method/params protocol over WebSocket, HTTP, and stdio channels at once.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/config"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/logging"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/metrics"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/protocol"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/server"
	"github.com/SilentCaMXMF/universal-mcp-server-sub001/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file (optional)")
		stdioMode  = flag.Bool("stdio", false, "Enable the stdio channel (disables the startup banner)")
	)
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *stdioMode {
		cfg.Stdio.Enabled = true
	}

	logger := logging.NewLogger(logging.Config{
		Level:     logging.LogLevel(cfg.Logging.Level),
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	logging.SetDefault(logger)

	sink := metrics.NewPrometheusSink(cfg.Metrics.Namespace)

	srv := server.NewServer(cfg,
		server.WithLogger(logger),
		server.WithMetricsSink(sink),
	)
	registerBuiltins(srv, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		logger.WithError(err).Error("server failed to start")
		os.Exit(1)
	}

	done := make(chan struct{})
	sink.StartUptimeCounter(done)
	defer close(done)

	if !*stdioMode {
		printBanner(cfg)
	}

	<-ctx.Done()
	logger.Info("shutdown signal received")

	// Tell WebSocket peers the server is going away before their
	// connections are force-closed.
	if m := srv.Manager(); m != nil {
		if a, ok := m.Adapter("websocket"); ok {
			if ws, ok := a.(*transport.WebSocketAdapter); ok {
				ws.Broadcast(&protocol.Notification{
					Method: "server/shutdown",
					Params: map[string]interface{}{"reason": "shutdown signal received"},
				})
			}
		}
	}
	srv.Stop()
}

// registerBuiltins installs the sample capabilities and resources every
// deployment gets out of the box.
func registerBuiltins(srv *server.Server, cfg *config.Config) {
	srv.RegisterTool(protocol.Tool{
		Name:        "echo",
		Description: "Echo the provided message back to the caller",
		InputSchema: protocol.ObjectSchema("Echo parameters", map[string]interface{}{
			"message": protocol.StringParam("Message to echo"),
		}, []string{"message"}),
	}, protocol.ToolHandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		message, ok := args["message"].(string)
		if !ok {
			return nil, protocol.NewError(protocol.CodeInvalidParams, "message must be a string", nil)
		}
		return map[string]interface{}{"message": message}, nil
	}))

	srv.RegisterTool(protocol.Tool{
		Name:        "time",
		Description: "Return the current server time",
		InputSchema: protocol.ObjectSchema("Time parameters", map[string]interface{}{
			"format": protocol.StringParam("Go time layout (default RFC3339)"),
		}, nil),
	}, protocol.ToolHandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		layout := time.RFC3339
		if f, ok := args["format"].(string); ok && f != "" {
			layout = f
		}
		return map[string]interface{}{"time": time.Now().Format(layout)}, nil
	}))

	srv.RegisterTool(protocol.Tool{
		Name:        "join",
		Description: "Join a list of strings with a separator",
		InputSchema: protocol.ObjectSchema("Join parameters", map[string]interface{}{
			"items":     protocol.ArraySchema("Strings to join", protocol.StringParam("One item")),
			"separator": protocol.StringParam("Separator placed between items (default \",\")"),
		}, []string{"items"}),
	}, protocol.ToolHandlerFunc(func(_ context.Context, args map[string]interface{}) (interface{}, error) {
		raw, ok := args["items"].([]interface{})
		if !ok {
			return nil, protocol.NewError(protocol.CodeInvalidParams, "items must be an array of strings", nil)
		}
		items := make([]string, 0, len(raw))
		for _, v := range raw {
			s, ok := v.(string)
			if !ok {
				return nil, protocol.NewError(protocol.CodeInvalidParams, "items must be an array of strings", nil)
			}
			items = append(items, s)
		}
		separator := ","
		if s, ok := args["separator"].(string); ok {
			separator = s
		}
		return map[string]interface{}{"joined": strings.Join(items, separator)}, nil
	}))

	srv.RegisterResource(protocol.Resource{
		URI:         "server://about",
		Name:        "About",
		Description: "Server identity and build information",
		MimeType:    "text/plain",
	}, protocol.ResourceHandlerFunc(func(_ context.Context, _ string) ([]protocol.Content, error) {
		return []protocol.Content{
			protocol.NewTextContent(fmt.Sprintf("%s %s: %s", cfg.Server.Name, cfg.Server.Version, cfg.Server.Description)),
		}, nil
	}))
}

func printBanner(cfg *config.Config) {
	bold := color.New(color.FgCyan, color.Bold)
	dim := color.New(color.FgHiBlack)

	bold.Printf("%s %s\n", cfg.Server.Name, cfg.Server.Version)
	if cfg.WebSocket.Enabled {
		dim.Printf("  websocket  %s%s\n", cfg.WebSocket.Address, cfg.WebSocket.Path)
	}
	if cfg.HTTP.Enabled {
		dim.Printf("  http       %s%s (health: /health)\n", cfg.HTTP.Address, cfg.HTTP.Path)
	}
	if cfg.Stdio.Enabled {
		dim.Printf("  stdio      delimiter %q\n", cfg.Stdio.Delimiter)
	}
	if cfg.Metrics.Enabled {
		dim.Printf("  metrics    %s%s\n", cfg.HTTP.Address, cfg.Metrics.Path)
	}
}
