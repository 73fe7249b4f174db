package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/flowstack/flowstack/pkg/ai"
	"github.com/flowstack/flowstack/pkg/apperrors"
	"github.com/flowstack/flowstack/pkg/bridge"
	"github.com/flowstack/flowstack/pkg/engine"
	"github.com/flowstack/flowstack/pkg/executor"
	"github.com/flowstack/flowstack/pkg/logger"
	"github.com/flowstack/flowstack/pkg/sandbox"
	"github.com/flowstack/flowstack/pkg/state"
	"github.com/flowstack/flowstack/pkg/store"
)

type runOptions struct {
	workflowsDir  string
	version       string
	projectFolder string
	vars          []string
	provider      string
	timeout       time.Duration
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run <workflow-id>",
		Short: "Execute a workflow to completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWorkflow(cmd, args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.workflowsDir, "workflows", "./workflows", "directory of workflow definition files")
	cmd.Flags().StringVar(&opts.version, "workflow-version", store.VersionLatest, "definition version to run")
	cmd.Flags().StringVar(&opts.projectFolder, "project-folder", "", "project folder for file operations and state snapshots")
	cmd.Flags().StringArrayVar(&opts.vars, "var", nil, "initial variable as name=value (value parsed as JSON when possible, repeatable)")
	cmd.Flags().StringVar(&opts.provider, "provider", "", "default prompt provider (azure-openai, openai, static)")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "overall run timeout (0 disables)")
	return cmd
}

func runWorkflow(cmd *cobra.Command, workflowID string, opts *runOptions) error {
	log := logger.New(logger.Config{
		Level:  logger.ParseLevel(viper.GetString("log-level")),
		Format: viper.GetString("log-format"),
		Stdout: cmd.ErrOrStderr(),
		Stderr: cmd.ErrOrStderr(),
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	loader := store.NewFSLoader(opts.workflowsDir)
	def, err := loader.LoadWorkflow(ctx, workflowID, opts.version)
	if err != nil {
		return err
	}

	variables, err := parseVars(opts.vars)
	if err != nil {
		return err
	}

	providers, err := buildProviders(opts.provider)
	if err != nil {
		return err
	}

	resolver := state.NewResolver(log)
	sb := sandbox.New(log)
	br := bridge.New(16)
	states := store.NewStateStore(log)
	clock := executor.RealClock{}
	metrics := engine.NewMetrics(prometheus.DefaultRegisterer)

	registry := executor.NewRegistry()
	eng := engine.New(engine.DefaultConfig(), registry, states, clock, log, metrics)

	registry.MustRegister(executor.NewAgentExecutor(providers, resolver, sb, clock, log))
	registry.MustRegister(executor.NewUserInputExecutor(br, clock, log))
	registry.MustRegister(executor.NewConditionalExecutor(resolver, sb, clock, log))
	registry.MustRegister(executor.NewLoopExecutor(resolver, eng, clock, log))
	registry.MustRegister(executor.NewFileExecutor(resolver, clock, log))
	registry.MustRegister(executor.NewHTTPExecutor(resolver, clock, log))
	registry.MustRegister(executor.NewCodeExecutor(sb, clock, log))
	registry.MustRegister(executor.NewSubWorkflowExecutor(loader, eng, resolver, sb, clock, log))

	inst, err := eng.StartInstance(ctx, def, engine.StartOptions{
		ProjectFolder: opts.projectFolder,
		Variables:     variables,
	})
	if err != nil {
		return err
	}

	go answerInputRequests(ctx, br, cmd.InOrStdin(), cmd.OutOrStdout())
	go logEvents(inst, log)

	status, err := eng.AwaitInstance(ctx, inst)
	if err != nil {
		return err
	}
	if status != engine.StatusSucceeded {
		return apperrors.Newf(apperrors.CodeUnknown, "cli", "instance finished with status %s", status)
	}

	return printResult(cmd.OutOrStdout(), inst)
}

// parseVars turns repeated name=value flags into the initial variable bag.
// Values decode as JSON when they parse, otherwise stay strings.
func parseVars(pairs []string) (map[string]any, error) {
	vars := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		name, raw, found := strings.Cut(pair, "=")
		if !found || name == "" {
			return nil, apperrors.Newf(apperrors.CodeValidation, "cli", "invalid --var %q, want name=value", pair)
		}
		var value any
		if err := json.Unmarshal([]byte(raw), &value); err != nil {
			value = raw
		}
		vars[name] = value
	}
	return vars, nil
}

// buildProviders registers every provider the environment configures. The
// static provider is always available so offline runs work.
func buildProviders(defaultName string) (*ai.Registry, error) {
	providers := ai.NewRegistry()

	if endpoint := os.Getenv("AZURE_OPENAI_ENDPOINT"); endpoint != "" {
		azure, err := ai.NewAzureOpenAI(endpoint,
			os.Getenv("AZURE_OPENAI_API_KEY"),
			os.Getenv("AZURE_OPENAI_DEPLOYMENT"))
		if err != nil {
			return nil, err
		}
		providers.Register("azure-openai", azure)
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		providers.Register("openai", ai.NewOpenAI(apiKey,
			os.Getenv("OPENAI_BASE_URL"),
			os.Getenv("OPENAI_MODEL")))
	}
	providers.Register("static", ai.NewStatic(os.Getenv("FLOWSTACK_STATIC_OUTPUT")))

	if defaultName != "" {
		if _, err := providers.Get(defaultName); err != nil {
			return nil, err
		}
		providers.SetDefault(defaultName)
	}
	return providers, nil
}

// answerInputRequests services the user-input bridge on the terminal:
// print the prompt, read one line, resolve the pending request.
func answerInputRequests(ctx context.Context, br *bridge.Bridge, in io.Reader, out io.Writer) {
	reader := bufio.NewReader(in)
	for {
		select {
		case <-ctx.Done():
			return
		case req, ok := <-br.Requests():
			if !ok {
				return
			}
			if req.ValidationError != "" {
				fmt.Fprintf(out, "! %s\n", req.ValidationError)
			}
			fmt.Fprintf(out, "%s", req.Prompt)
			for _, opt := range req.Options {
				fmt.Fprintf(out, "\n  %s: %s", opt.Value, opt.Label)
			}
			if req.DefaultValue != nil {
				fmt.Fprintf(out, " [%v]", req.DefaultValue)
			}
			fmt.Fprint(out, "\n> ")

			line, err := reader.ReadString('\n')
			if err != nil {
				_ = br.Reject(req.RequestID, apperrors.New(apperrors.CodeIO, "cli", "reading input", err))
				return
			}
			_ = br.Resolve(req.RequestID, strings.TrimRight(line, "\r\n"))
		}
	}
}

func logEvents(inst *engine.Instance, log *slog.Logger) {
	for ev := range inst.Events() {
		log.Info("event", "type", string(ev.Type), "node_id", ev.NodeID)
	}
}

// printResult writes the final variable bag as JSON to stdout.
func printResult(out io.Writer, inst *engine.Instance) error {
	data, err := json.MarshalIndent(inst.Context().Variables, "", "  ")
	if err != nil {
		return apperrors.New(apperrors.CodeInternal, "cli", "rendering result", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
