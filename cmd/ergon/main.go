// Copyright 2026 © The Ergon Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/ergonlabs/ergon/pkg/agent"
	"github.com/ergonlabs/ergon/pkg/dispatch"
	"github.com/ergonlabs/ergon/pkg/llm"
	"github.com/ergonlabs/ergon/pkg/registry"
	"github.com/ergonlabs/ergon/pkg/workflow"
)

const version = "dev"

type globalFlags struct {
	Config  string
	Profile string
	Timeout time.Duration
	JSON    bool
	Help    bool
}

type chatResult struct {
	Agent       string                `json:"agent"`
	Content     string                `json:"content"`
	ToolResults []dispatch.ToolResult `json:"tool_results,omitempty"`
	Usage       llm.Usage             `json:"usage"`
	Attempts    int                   `json:"attempts"`
	Protocol    string                `json:"protocol"`
}

type workflowRunResult struct {
	Workflow string                         `json:"workflow"`
	Status   string                         `json:"status"`
	Results  map[string]workflow.StepResult `json:"results"`
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global, args, err := parseGlobalFlags(os.Args[1:])
	if err != nil {
		fatal(err)
	}
	if global.Help || len(args) == 0 {
		printUsage()
		return
	}

	switch args[0] {
	case "agents":
		runAgents(ctx, global, args[1:])
	case "tools":
		runTools(ctx, global, args[1:])
	case "workflows":
		runWorkflows(ctx, global, args[1:])
	case "chat":
		runChat(ctx, global, args[1:])
	case "mcp":
		runMCP(ctx, global, args[1:])
	case "help":
		printUsage()
	case "version":
		fmt.Println(version)
	default:
		fatal(fmt.Errorf("unknown command %q", args[0]))
	}
}

func parseGlobalFlags(args []string) (globalFlags, []string, error) {
	flags := globalFlags{
		Config:  getenv("ERGON_CONFIG", ""),
		Timeout: 2 * time.Minute,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			return flags, args[i+1:], nil
		}
		if !strings.HasPrefix(arg, "-") {
			return flags, args[i:], nil
		}
		switch {
		case arg == "-h" || arg == "--help":
			flags.Help = true
			return flags, nil, nil
		case arg == "--json":
			flags.JSON = true
		case arg == "--config":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --config")
			}
			flags.Config = args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="):
			flags.Config = strings.TrimPrefix(arg, "--config=")
		case arg == "--profile":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --profile")
			}
			flags.Profile = args[i+1]
			i++
		case strings.HasPrefix(arg, "--profile="):
			flags.Profile = strings.TrimPrefix(arg, "--profile=")
		case arg == "--timeout":
			if i+1 >= len(args) {
				return flags, nil, fmt.Errorf("missing value for --timeout")
			}
			value, err := time.ParseDuration(args[i+1])
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
			i++
		case strings.HasPrefix(arg, "--timeout="):
			value, err := time.ParseDuration(strings.TrimPrefix(arg, "--timeout="))
			if err != nil {
				return flags, nil, fmt.Errorf("invalid --timeout: %w", err)
			}
			flags.Timeout = value
		default:
			return flags, nil, fmt.Errorf("unknown global flag %q", arg)
		}
	}
	return flags, nil, nil
}

func runAgents(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: ergon agents <list|show>"))
	}
	rt, err := newRuntime(ctx, flags)
	if err != nil {
		fatal(err)
	}
	defer rt.close(ctx)

	switch args[0] {
	case "list":
		ensureNoArgs(args[1:])
		names := rt.registry.List(registry.KindAgent)
		if flags.JSON {
			printJSON(names)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "NAME", "MODEL", "TOOLS", "TOOL_CHOICE")
		for _, name := range names {
			a, ok := rt.registry.Agent(name)
			if !ok {
				continue
			}
			writeRow(writer, a.Name(), a.Model(), joinToolNames(a), a.ToolChoice())
		}
		_ = writer.Flush()
	case "show":
		if len(args) < 2 {
			fatal(errors.New("usage: ergon agents show <name>"))
		}
		a, ok := rt.registry.Agent(args[1])
		if !ok {
			fatal(fmt.Errorf("unknown agent %q", args[1]))
		}
		if flags.JSON {
			printJSON(map[string]any{
				"name":         a.Name(),
				"model":        a.Model(),
				"instructions": a.Instructions(nil),
				"tools":        toolNames(a),
				"tool_choice":  a.ToolChoice(),
			})
			return
		}
		fmt.Printf("name: %s\n", a.Name())
		fmt.Printf("model: %s\n", orDash(a.Model()))
		fmt.Printf("tool_choice: %s\n", orDash(a.ToolChoice()))
		fmt.Printf("tools: %s\n", orDash(joinToolNames(a)))
		fmt.Printf("instructions:\n%s\n", a.Instructions(nil))
	default:
		fatal(fmt.Errorf("unknown agents command %q", args[0]))
	}
}

func runTools(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: ergon tools list"))
	}
	ensureNoArgs(args[1:])

	rt, err := newRuntime(ctx, flags)
	if err != nil {
		fatal(err)
	}
	defer rt.close(ctx)

	type toolRow struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		Description string `json:"description,omitempty"`
	}
	rows := make([]toolRow, 0)
	for _, kind := range []registry.Kind{registry.KindTool, registry.KindPluginTool} {
		for _, name := range rt.registry.List(kind) {
			row := toolRow{Name: name, Kind: string(kind)}
			if c, ok := rt.registry.Tool(name); ok {
				row.Description = c.Description()
			}
			rows = append(rows, row)
		}
	}

	if flags.JSON {
		printJSON(rows)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "NAME", "KIND", "DESCRIPTION")
	for _, row := range rows {
		writeRow(writer, row.Name, row.Kind, row.Description)
	}
	_ = writer.Flush()
}

func runWorkflows(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 {
		fatal(errors.New("usage: ergon workflows <list|show|validate|run>"))
	}

	// validate parses a file on disk and needs no runtime wiring.
	if args[0] == "validate" {
		if len(args) < 2 {
			fatal(errors.New("usage: ergon workflows validate <file>"))
		}
		data, err := os.ReadFile(args[1])
		if err != nil {
			fatal(err)
		}
		cfg, err := workflow.ParseConfig(data)
		if err != nil {
			fatal(err)
		}
		// A no-op resolver is enough to exercise graph validation.
		if _, err := cfg.Build(func(workflow.StepConfig) (workflow.StepFunc, error) {
			return func(context.Context, map[string]interface{}) (map[string]interface{}, error) {
				return nil, nil
			}, nil
		}); err != nil {
			fatal(err)
		}
		fmt.Printf("workflow %s: %d steps, ok\n", cfg.Name, len(cfg.Steps))
		return
	}

	rt, err := newRuntime(ctx, flags)
	if err != nil {
		fatal(err)
	}
	defer rt.close(ctx)

	switch args[0] {
	case "list":
		ensureNoArgs(args[1:])
		names := rt.registry.List(registry.KindWorkflow)
		if flags.JSON {
			printJSON(names)
			return
		}
		writer := newTabWriter()
		writeRow(writer, "NAME", "STEPS", "DESCRIPTION")
		for _, name := range names {
			cfg, ok := rt.registry.Workflow(name)
			if !ok {
				continue
			}
			writeRow(writer, cfg.Name, fmt.Sprintf("%d", len(cfg.Steps)), cfg.Description)
		}
		_ = writer.Flush()
	case "show":
		if len(args) < 2 {
			fatal(errors.New("usage: ergon workflows show <name>"))
		}
		cfg, ok := rt.registry.Workflow(args[1])
		if !ok {
			fatal(fmt.Errorf("unknown workflow %q", args[1]))
		}
		if flags.JSON {
			payload, err := cfg.EncodeJSON(true)
			if err != nil {
				fatal(err)
			}
			fmt.Println(string(payload))
			return
		}
		payload, err := cfg.EncodeYAML()
		if err != nil {
			fatal(err)
		}
		fmt.Print(string(payload))
	case "run":
		cmd := flag.NewFlagSet("workflows run", flag.ContinueOnError)
		var params multiFlag
		cmd.Var(&params, "param", "Initial context entry key=value (repeatable)")
		paramsJSON := cmd.String("params-json", "", "Initial context as a JSON object")
		if err := cmd.Parse(args[1:]); err != nil {
			fatal(err)
		}
		if cmd.NArg() < 1 {
			fatal(errors.New("usage: ergon workflows run <name> [--param key=value] [--params-json '{...}']"))
		}
		name := cmd.Arg(0)
		cfg, ok := rt.registry.Workflow(name)
		if !ok {
			fatal(fmt.Errorf("unknown workflow %q", name))
		}
		vars := map[string]interface{}{}
		if strings.TrimSpace(*paramsJSON) != "" {
			if err := json.Unmarshal([]byte(*paramsJSON), &vars); err != nil {
				fatal(fmt.Errorf("invalid --params-json: %w", err))
			}
		}
		pairs, err := parseKeyValues(params)
		if err != nil {
			fatal(err)
		}
		for k, v := range pairs {
			vars[k] = v
		}

		w, err := cfg.Build(agentStepResolver(rt, vars))
		if err != nil {
			fatal(err)
		}

		engineOpts := []workflow.EngineOption{
			workflow.WithLogger(rt.logger),
			workflow.WithMetrics(rt.metrics),
		}
		audit, closeAudit, err := newAuditStore(rt.cfg)
		if err != nil {
			fatal(err)
		}
		if closeAudit != nil {
			defer closeAudit()
		}
		if audit != nil {
			engineOpts = append(engineOpts, workflow.WithAuditStore(audit))
		}

		runCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
		defer cancel()
		results, err := workflow.NewEngine(engineOpts...).Execute(runCtx, w)
		if err != nil {
			fatal(err)
		}

		if flags.JSON {
			printJSON(workflowRunResult{
				Workflow: w.Name,
				Status:   string(w.Status()),
				Results:  results,
			})
			return
		}
		writer := newTabWriter()
		writeRow(writer, "STEP", "STATUS", "OUTPUT")
		for _, s := range w.Steps() {
			res, ok := results[s.ID]
			if !ok {
				writeRow(writer, s.ID, string(s.Status), "")
				continue
			}
			out := res.Error
			if res.Success {
				out = summarizeData(res.Data)
			}
			writeRow(writer, s.ID, string(s.Status), truncate(out, 80))
		}
		_ = writer.Flush()
		fmt.Printf("workflow %s status=%s\n", w.Name, w.Status())
	default:
		fatal(fmt.Errorf("unknown workflows command %q", args[0]))
	}
}

func runChat(ctx context.Context, flags globalFlags, args []string) {
	cmd := flag.NewFlagSet("chat", flag.ContinueOnError)
	message := cmd.String("message", "", "User message to send")
	model := cmd.String("model", "", "Model override for this turn")
	instructions := cmd.String("instructions", "", "Instructions for an ad-hoc agent not in the registry")
	stream := cmd.Bool("stream", false, "Stream the raw completion instead of one dispatch turn")
	var vars multiFlag
	cmd.Var(&vars, "var", "Context variable key=value (repeatable)")
	if err := cmd.Parse(args); err != nil {
		fatal(err)
	}
	if cmd.NArg() < 1 {
		fatal(errors.New("usage: ergon chat <agent> [--message <text>]"))
	}

	rt, err := newRuntime(ctx, flags)
	if err != nil {
		fatal(err)
	}
	defer rt.close(ctx)

	name := cmd.Arg(0)
	a, ok := rt.registry.Agent(name)
	if !ok {
		if strings.TrimSpace(*instructions) == "" {
			fatal(fmt.Errorf("unknown agent %q (pass --instructions to run an ad-hoc agent)", name))
		}
		a, err = agent.New(name, agent.WithInstructions(*instructions))
		if err != nil {
			fatal(err)
		}
	}

	contextVars, err := parseKeyValues(vars)
	if err != nil {
		fatal(err)
	}

	// No --message drops into an interactive session.
	if strings.TrimSpace(*message) == "" {
		chatLoop(ctx, flags, rt, a, contextVars, *model)
		return
	}

	req := dispatch.Request{
		Agent:       a,
		History:     []llm.Message{{Role: llm.RoleUser, Content: *message}},
		ContextVars: contextVars,
		Model:       *model,
	}

	chatCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
	defer cancel()

	if *stream {
		chunks, err := rt.dispatcher.DispatchStream(chatCtx, req)
		if err != nil {
			fatal(err)
		}
		for chunk := range chunks {
			if chunk.Error != nil {
				fatal(chunk.Error)
			}
			fmt.Print(chunk.Content)
		}
		fmt.Println()
		return
	}

	resp, err := rt.dispatcher.Dispatch(chatCtx, req)
	if err != nil {
		fatal(err)
	}

	if flags.JSON {
		printJSON(chatResult{
			Agent:       a.Name(),
			Content:     resp.Message.Content,
			ToolResults: resp.ToolResults,
			Usage:       resp.Usage,
			Attempts:    resp.Attempts,
			Protocol:    resp.Protocol,
		})
		return
	}
	if resp.Message.Content != "" {
		fmt.Println(resp.Message.Content)
	}
	for _, tr := range resp.ToolResults {
		payload, _ := json.Marshal(tr.Result)
		fmt.Printf("tool %s -> %s\n", tr.Name, string(payload))
	}
}

// chatLoop reads user turns from stdin until EOF, carrying the conversation
// history (tool results included) across turns.
func chatLoop(ctx context.Context, flags globalFlags, rt *runtime, a *agent.Agent, contextVars map[string]interface{}, model string) {
	scanner := bufio.NewScanner(os.Stdin)
	var history []llm.Message

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return
		}

		history = append(history, llm.Message{Role: llm.RoleUser, Content: line})

		turnCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
		resp, err := rt.dispatcher.Dispatch(turnCtx, dispatch.Request{
			Agent:       a,
			History:     history,
			ContextVars: contextVars,
			Model:       model,
		})
		cancel()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			history = history[:len(history)-1]
			continue
		}

		if resp.Message.Content != "" {
			fmt.Println(resp.Message.Content)
		}
		history = append(history, resp.Message)
		for _, tr := range resp.ToolResults {
			payload, _ := json.Marshal(tr.Result)
			fmt.Printf("tool %s -> %s\n", tr.Name, string(payload))
			history = append(history, llm.Message{
				Role:       llm.RoleTool,
				Content:    string(payload),
				ToolCallID: tr.CallID,
			})
		}
	}
}

func runMCP(ctx context.Context, flags globalFlags, args []string) {
	if len(args) == 0 || args[0] != "list" {
		fatal(errors.New("usage: ergon mcp list"))
	}
	ensureNoArgs(args[1:])

	rt, err := newRuntime(ctx, flags)
	if err != nil {
		fatal(err)
	}
	defer rt.close(ctx)

	if len(rt.cfg.MCP.Servers) == 0 {
		fmt.Println("no mcp servers configured")
		return
	}

	type mcpRow struct {
		Server      string `json:"server"`
		Tool        string `json:"tool,omitempty"`
		Description string `json:"description,omitempty"`
		Error       string `json:"error,omitempty"`
	}
	serverNames := make([]string, 0, len(rt.mcpClients))
	for name := range rt.mcpClients {
		serverNames = append(serverNames, name)
	}
	sort.Strings(serverNames)

	rows := make([]mcpRow, 0)
	for _, name := range serverNames {
		listCtx, cancel := context.WithTimeout(ctx, flags.Timeout)
		tools, err := rt.mcpClients[name].ListTools(listCtx)
		cancel()
		if err != nil {
			rows = append(rows, mcpRow{Server: name, Error: err.Error()})
			continue
		}
		for _, t := range tools {
			rows = append(rows, mcpRow{Server: name, Tool: t.Name, Description: t.Description})
		}
	}

	if flags.JSON {
		printJSON(rows)
		return
	}
	writer := newTabWriter()
	writeRow(writer, "SERVER", "TOOL", "DESCRIPTION")
	for _, row := range rows {
		if row.Error != "" {
			writeRow(writer, row.Server, "ERROR", row.Error)
			continue
		}
		writeRow(writer, row.Server, row.Tool, row.Description)
	}
	_ = writer.Flush()
}

func toolNames(a *agent.Agent) []string {
	fns := a.Functions()
	names := make([]string, 0, len(fns))
	for _, fn := range fns {
		names = append(names, fn.Name())
	}
	return names
}

func joinToolNames(a *agent.Agent) string {
	return strings.Join(toolNames(a), ",")
}

func parseKeyValues(pairs []string) (map[string]interface{}, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(key) == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", pair)
		}
		out[strings.TrimSpace(key)] = value
	}
	return out, nil
}

func summarizeData(data map[string]interface{}) string {
	if len(data) == 0 {
		return ""
	}
	if out, ok := data["output"].(string); ok && len(data) == 1 {
		return out
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(payload)
}

func printJSON(value any) {
	payload, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(payload))
}

func newTabWriter() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
}

func writeRow(writer *tabwriter.Writer, cols ...string) {
	for i, col := range cols {
		cols[i] = normalizeCell(col)
	}
	fmt.Fprintln(writer, strings.Join(cols, "\t"))
}

func normalizeCell(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "-"
	}
	return strings.Join(strings.Fields(value), " ")
}

func orDash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func truncate(value string, limit int) string {
	value = normalizeCell(value)
	if limit <= 0 || len(value) <= limit {
		return value
	}
	if limit <= 3 {
		return value[:limit]
	}
	return value[:limit-3] + "..."
}

func printUsage() {
	fmt.Print(`Ergon CLI

Usage:
  ergon [global flags] <command> [args]

Global flags:
  --config <path>      Path to config.yaml (or ERGON_CONFIG)
  --profile <name>     Config profile overlay (config.<name>.yaml)
  --timeout <dur>      Command timeout (default 2m)
  --json               JSON output

Commands:
  agents list
  agents show <name>
  tools list
  workflows list
  workflows show <name>
  workflows validate <file>
  workflows run <name> [--param key=value] [--params-json '{...}']
  chat <agent> [--message <text>] [--model <m>] [--var key=value] [--instructions <text>] [--stream]
  mcp list
  version
` + "\n")
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}

func ensureNoArgs(args []string) {
	if len(args) > 0 {
		fatal(fmt.Errorf("unexpected args: %v", args))
	}
}

type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(value string) error {
	*m = append(*m, value)
	return nil
}

func getenv(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
