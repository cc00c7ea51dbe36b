// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	anthropicprovider "github.com/ergonlabs/ergon/providers/anthropic"
	openaiprovider "github.com/ergonlabs/ergon/providers/openai"

	"github.com/ergonlabs/ergon/pkg/config"
	"github.com/ergonlabs/ergon/pkg/dispatch"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/mcp"
	"github.com/ergonlabs/ergon/pkg/registry"
	"github.com/ergonlabs/ergon/pkg/resilience"
	"github.com/ergonlabs/ergon/pkg/telemetry"
	"github.com/ergonlabs/ergon/pkg/workflow"
)

// runtime is the wired process state every command runs against: config,
// logging, telemetry, the artifact registry and the dispatcher.
type runtime struct {
	cfg        *config.Config
	logger     *slog.Logger
	metrics    *telemetry.Metrics
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	mcpClients map[string]*mcp.Client
	shutdown   telemetry.ShutdownFunc
}

func newRuntime(ctx context.Context, flags globalFlags) (*runtime, error) {
	cfg, err := config.LoadWithProfile(flags.Config, flags.Profile)
	if err != nil {
		return nil, err
	}

	logger := telemetry.ConfigureSlog(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	shutdown, err := telemetry.InitWithConfig("ergon", version, telemetry.Config{
		Exporter:     cfg.Telemetry.Exporter,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
	})
	if err != nil {
		return nil, err
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	reg := registry.New(registry.WithLogger(logger))
	for _, dir := range cfg.Registry.AutoloadPaths {
		loaded, err := reg.LoadFromDirectory(dir)
		if err != nil {
			logger.Warn("manifest autoload failed", "dir", dir, "error", err)
			continue
		}
		logger.Debug("manifests loaded", "dir", dir, "count", loaded)
	}

	clients := connectMCPServers(ctx, cfg, reg, logger)

	provider, err := buildProvider(cfg)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	caps, err := dispatch.TableFromOverrides(cfg.Dispatch.Capabilities)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	dispatcher, err := dispatch.New(provider,
		dispatch.WithRegistry(reg),
		dispatch.WithLogger(logger),
		dispatch.WithMetrics(metrics),
		dispatch.WithCapabilityTable(caps),
		dispatch.WithRetry(resilience.RetryConfig{
			MaxAttempts:  cfg.Dispatch.Retry.MaxAttempts,
			InitialDelay: cfg.Dispatch.Retry.InitialDelay,
			MaxDelay:     cfg.Dispatch.Retry.MaxDelay,
			Multiplier:   2.0,
		}),
		dispatch.WithTimeout(cfg.Dispatch.RequestTimeout),
		dispatch.WithProtocol(cfg.Dispatch.Protocol),
		dispatch.WithDefaultModel(cfg.LLM.Model),
	)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}

	return &runtime{
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
		registry:   reg,
		dispatcher: dispatcher,
		mcpClients: clients,
		shutdown:   shutdown,
	}, nil
}

func (rt *runtime) close(ctx context.Context) {
	for name, client := range rt.mcpClients {
		if err := client.Close(); err != nil {
			rt.logger.Warn("mcp client close failed", "server", name, "error", err)
		}
	}
	if rt.shutdown != nil {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := rt.shutdown(shutdownCtx); err != nil {
			rt.logger.Warn("telemetry shutdown failed", "error", err)
		}
	}
}

// connectMCPServers starts every configured stdio MCP server and registers
// its tools as plugin tools. A server that fails to start or list is logged
// and skipped, never fatal.
func connectMCPServers(ctx context.Context, cfg *config.Config, reg *registry.Registry, logger *slog.Logger) map[string]*mcp.Client {
	clients := make(map[string]*mcp.Client, len(cfg.MCP.Servers))
	for name, srv := range cfg.MCP.Servers {
		if strings.TrimSpace(srv.Command) == "" {
			logger.Warn("mcp server missing command", "server", name)
			continue
		}
		opts := []mcp.ClientOption{mcp.WithClientLogger(logger)}
		if srv.Timeout > 0 {
			opts = append(opts, mcp.WithRequestTimeout(srv.Timeout))
		}
		client, err := mcp.NewStdioClient(srv.Command, srv.Args, opts...)
		if err != nil {
			logger.Warn("mcp server unreachable", "server", name, "error", err)
			continue
		}
		count, err := mcp.RegisterTools(ctx, client, reg, logger)
		if err != nil {
			logger.Warn("mcp tool registration failed", "server", name, "error", err)
			_ = client.Close()
			continue
		}
		logger.Debug("mcp tools registered", "server", name, "count", count)
		clients[name] = client
	}
	return clients
}

func buildProvider(cfg *config.Config) (llm.Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "openai":
		opts := []openaiprovider.Option{}
		if cfg.LLM.Model != "" {
			opts = append(opts, openaiprovider.WithModel(cfg.LLM.Model))
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, openaiprovider.WithBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.APIKey != "" {
			opts = append(opts, openaiprovider.WithAPIKey(cfg.LLM.APIKey))
		}
		return openaiprovider.New(opts...), nil
	case "anthropic":
		opts := []anthropicprovider.Option{}
		if cfg.LLM.Model != "" {
			opts = append(opts, anthropicprovider.WithModel(cfg.LLM.Model))
		}
		if cfg.LLM.BaseURL != "" {
			opts = append(opts, anthropicprovider.WithBaseURL(cfg.LLM.BaseURL))
		}
		if cfg.LLM.APIKey != "" {
			opts = append(opts, anthropicprovider.WithAPIKey(cfg.LLM.APIKey))
		}
		return anthropicprovider.New(opts...), nil
	case "", "ollama":
		return llm.NewOllama(cfg.LLM.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown llm.provider %q (want openai, anthropic or ollama)", cfg.LLM.Provider)
	}
}

func newAuditStore(cfg *config.Config) (workflow.AuditStore, func(), error) {
	switch cfg.Audit.Store {
	case "", "none":
		return nil, nil, nil
	case "memory":
		return workflow.NewMemoryAuditStore(), nil, nil
	case "sqlite":
		store, err := workflow.OpenSQLiteAuditStore(cfg.Audit.Path)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit.store %q", cfg.Audit.Store)
	}
}

// agentStepResolver turns a declarative workflow step into a dispatch turn.
// The step's config names the agent and its prompt; results land in the
// shared workflow context under the step id.
func agentStepResolver(rt *runtime, params map[string]interface{}) workflow.StepResolver {
	return func(sc workflow.StepConfig) (workflow.StepFunc, error) {
		agentName, _ := sc.Config["agent"].(string)
		if agentName == "" {
			return nil, fmt.Errorf("step %s: missing agent", sc.Name)
		}
		a, ok := rt.registry.Agent(agentName)
		if !ok {
			return nil, fmt.Errorf("step %s: unknown agent %q", sc.Name, agentName)
		}
		prompt, _ := sc.Config["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			return nil, fmt.Errorf("step %s: missing prompt", sc.Name)
		}

		return func(ctx context.Context, wfContext map[string]interface{}) (map[string]interface{}, error) {
			contextVars := make(map[string]interface{}, len(params)+len(wfContext))
			for k, v := range params {
				contextVars[k] = v
			}
			for k, v := range wfContext {
				contextVars[k] = v
			}

			resp, err := rt.dispatcher.Dispatch(ctx, dispatch.Request{
				Agent:       a,
				History:     []llm.Message{{Role: llm.RoleUser, Content: prompt}},
				ContextVars: contextVars,
			})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"output": resp.Message.Content}, nil
		}, nil
	}
}
