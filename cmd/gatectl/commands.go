package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/execution-gate/internal/application/service"
	"github.com/garyjia/execution-gate/internal/approval"
	"github.com/garyjia/execution-gate/internal/cli"
	"github.com/garyjia/execution-gate/internal/config"
	"github.com/garyjia/execution-gate/internal/domain/entity"
	"github.com/garyjia/execution-gate/internal/flow"
	"github.com/garyjia/execution-gate/internal/graph"
	"github.com/garyjia/execution-gate/internal/planfile"
	"github.com/garyjia/execution-gate/pkg/utils"
)

// errInfeasible is returned when a plan file cannot be scheduled
var errInfeasible = errors.New("plan is not feasible")

type app struct {
	configPath string
	jsonOut    bool
	verbose    bool
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "gatectl",
		Short: "Inspect and plan task files against the execution gate rules",
		Long: `gatectl reads a YAML plan file, annotates its tasks across the time,
scope, impact and mode dimensions, and prints the staged execution plan,
the conflicts found and graph statistics.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Config file (defaults and GATE_* environment when empty)")
	root.PersistentFlags().BoolVar(&a.jsonOut, "json", false, "Machine-readable JSON output")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log to stderr")

	root.AddCommand(a.planCmd())
	root.AddCommand(a.validateCmd())
	root.AddCommand(a.statsCmd())
	return root
}

func (a *app) planCmd() *cobra.Command {
	var (
		decide map[string]string
		output string
	)

	cmd := &cobra.Command{
		Use:   "plan <plan-file>",
		Short: "Build the staged execution plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(args[0])
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			decisions, err := mergeDecisions(env.file.Decisions, decide)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			analysis, err := env.load(ctx)
			if err != nil {
				return err
			}

			plan, err := env.planning.BuildPlan(ctx, decisions)
			if errors.Is(err, service.ErrPlanVetoed) {
				out := cmd.OutOrStdout()
				if a.jsonOut {
					_ = writeJSON(out, analysis.Report)
				} else {
					fmt.Fprint(out, cli.RenderConflicts(derefConflicts(analysis.Report.Conflicts)))
				}
				return fmt.Errorf("%w: %s", errInfeasible, strings.Join(analysis.Report.Vetoes, "; "))
			}
			if err != nil {
				return err
			}

			if output != "" {
				if err := writePlanYAML(output, plan); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return writeJSON(out, plan)
			}
			fmt.Fprint(out, cli.RenderPlan(plan, env.engine.Task, analysis.Statistics.CriticalPath))
			if len(analysis.Report.Conflicts) > 0 {
				fmt.Fprintln(out)
				fmt.Fprint(out, cli.RenderConflicts(derefConflicts(analysis.Report.Conflicts)))
			}
			return nil
		},
	}

	cmd.Flags().StringToStringVar(&decide, "decide", nil, "Answer a decision question (question=true|false), overrides the file")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the plan as YAML to this path")
	return cmd
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check a plan file for structural errors and blocking conflicts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			env, err := a.setup(args[0])
			if err != nil {
				if !a.jsonOut {
					fmt.Fprintln(out, cli.Verdict(false, args[0]))
				}
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			analysis, err := env.load(cmd.Context())
			if err != nil {
				if !a.jsonOut {
					fmt.Fprintln(out, cli.Verdict(false, err.Error()))
				}
				return err
			}

			report := analysis.Report
			if a.jsonOut {
				if err := writeJSON(out, report); err != nil {
					return err
				}
			} else {
				msg := fmt.Sprintf("%s: %d tasks, %d conflicts, plan risk %.1f",
					args[0], analysis.Statistics.Tasks, len(report.Conflicts), report.PlanRisk)
				fmt.Fprintln(out, cli.Verdict(report.Feasible, msg))
				if len(report.Conflicts) > 0 {
					fmt.Fprint(out, cli.RenderConflicts(derefConflicts(report.Conflicts)))
				}
			}

			if !report.Feasible {
				return errInfeasible
			}
			return nil
		},
	}
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <plan-file>",
		Short: "Print graph statistics and the critical path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := a.setup(args[0])
			if err != nil {
				return err
			}
			defer env.logger.Sync() //nolint:errcheck

			analysis, err := env.load(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if a.jsonOut {
				return writeJSON(out, analysis.Statistics)
			}
			fmt.Fprint(out, cli.RenderStats(analysis.Statistics))
			return nil
		},
	}
}

// planEnv is an in-memory planning stack for one plan file
type planEnv struct {
	file     *planfile.File
	engine   *graph.Engine
	planning service.PlanningService
	logger   *zap.Logger
}

func (a *app) setup(path string) (*planEnv, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, err
	}

	logger := zap.NewNop()
	if a.verbose {
		lc := cfg.ToLogger()
		lc.OutputPath = "stderr"
		lc.Format = "console"
		if logger, err = utils.NewLogger(lc); err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	file, err := planfile.Load(path)
	if err != nil {
		return nil, err
	}

	engine := graph.NewEngine(graph.WithLogger(logger), graph.WithLayerConfig(cfg.ToLayers()))
	gate := approval.NewGate(engine, approval.NewMemoryAuditLog(cfg.Approval.AuditRetention),
		approval.WithConfig(cfg.ToGate()),
		approval.WithLogger(logger),
	)
	planning := service.NewPlanningService(engine, gate,
		flow.NewResolver(flow.WithResolverLogger(logger)),
		nil, nil, utils.NewKVLogger(logger))

	return &planEnv{file: file, engine: engine, planning: planning, logger: logger}, nil
}

func (e *planEnv) load(ctx context.Context) (*service.PlanAnalysis, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	analysis, err := e.planning.LoadTasks(ctx, e.file.CloneTasks())
	if err != nil {
		var gerr *graph.GraphError
		if errors.As(err, &gerr) && len(gerr.Path) > 0 {
			return nil, fmt.Errorf("%w (%s)", err, strings.Join(gerr.Path, " -> "))
		}
		return nil, err
	}
	for _, b := range e.file.Branches {
		if err := e.planning.AddBranch(ctx, b); err != nil {
			return nil, err
		}
	}
	return analysis, nil
}

func mergeDecisions(base map[string]bool, overrides map[string]string) (map[string]bool, error) {
	out := make(map[string]bool, len(base)+len(overrides))
	for k, v := range base {
		out[k] = v
	}
	for q, raw := range overrides {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "true", "yes", "y", "1":
			out[q] = true
		case "false", "no", "n", "0":
			out[q] = false
		default:
			return nil, fmt.Errorf("decision %q: expected true or false, got %q", q, raw)
		}
	}
	return out, nil
}

func derefConflicts(in []*entity.Conflict) []entity.Conflict {
	out := make([]entity.Conflict, 0, len(in))
	for _, c := range in {
		out = append(out, *c)
	}
	return out
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writePlanYAML(path string, plan *flow.ExecutionPlan) error {
	data, err := yaml.Marshal(plan)
	if err != nil {
		return fmt.Errorf("encode plan: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
