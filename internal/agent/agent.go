// Package agent 实现计划/执行编排引擎:一次用户输入被规划为有序的
// 块任务序列,逐块调用模型填参、校验并执行,直到产出最终回答。
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	apperrors "PantryPilot/internal/errors"
	"PantryPilot/internal/lexicon"
	"PantryPilot/internal/llm"
	"PantryPilot/internal/observability/metrics"
	"PantryPilot/internal/prompt"
	"PantryPilot/internal/schema"
	"PantryPilot/internal/sqlguard"
	"PantryPilot/internal/store"
)

const defaultMaxSteps = 32

// Agent 是编排引擎。所有依赖在构造时注入,运行期间只读,
// 可安全地被多个请求并发使用。
type Agent struct {
	llm      llm.Client
	store    store.Store
	guard    *sqlguard.Guard
	lexicon  *lexicon.Lexicon
	logger   *slog.Logger
	now      func() time.Time
	maxSteps int
}

// Option 配置 Agent 的可选项。
type Option func(*Agent)

// WithLexicon 替换内置词表。
func WithLexicon(lex *lexicon.Lexicon) Option {
	return func(a *Agent) {
		if lex != nil {
			a.lexicon = lex
		}
	}
}

// WithLogger 指定日志器。
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock 注入时间源,日期短语解析依赖它。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithMaxSteps 设置单次运行的步数上限。
func WithMaxSteps(n int) Option {
	return func(a *Agent) {
		if n > 0 {
			a.maxSteps = n
		}
	}
}

// New 创建编排引擎。
func New(client llm.Client, st store.Store, guard *sqlguard.Guard, opts ...Option) (*Agent, error) {
	if client == nil {
		return nil, fmt.Errorf("LLM 客户端不能为空")
	}
	if st == nil {
		return nil, fmt.Errorf("存储不能为空")
	}
	if guard == nil {
		return nil, fmt.Errorf("SQL 守卫不能为空")
	}
	a := &Agent{
		llm:      client,
		store:    st,
		guard:    guard,
		lexicon:  lexicon.Default(),
		logger:   slog.Default(),
		now:      time.Now,
		maxSteps: defaultMaxSteps,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// RunResult 是一次运行的产出。
type RunResult struct {
	FinalAnswer string   `json:"final_answer"`
	DebugInfo   []string `json:"debug_info"`
	Steps       []Step   `json:"steps"`
}

// Run 执行一次完整的规划与编排。model 为空时用客户端默认模型。
// 运行保证产出用户可见的回答:每个块的失败都被捕获为结构化结果,
// 游标耗尽后由兜底逻辑合成答案。
func (a *Agent) Run(ctx context.Context, input, model string) (*RunResult, error) {
	if strings.TrimSpace(input) == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, "用户输入不能为空")
	}

	mem := NewMemory(input)
	mem.Model = model
	started := a.now()

	schemas, err := a.store.TableSchemas(ctx)
	if err != nil {
		a.logger.Warn("读取表结构失败", "error", err)
		mem.Debugf("[run] table schema introspection failed => %v", err)
	}

	plan, ok := a.plan(ctx, mem, schemas)
	if !ok {
		metrics.ObserveAgentRun("clarification")
		return &RunResult{
			FinalAnswer: "Could not plan tasks. Possibly clarify your request.",
			DebugInfo:   mem.Debug,
		}, nil
	}
	plan.Normalize()
	mem.Debugf("[run] plan normalized => %d task(s)", plan.Len())

	var finalAnswer string
	done := false

	for executed := 0; executed < a.maxSteps; executed++ {
		task, ok := plan.Current()
		if !ok {
			break
		}
		kind, valid := schema.ParseKind(task.Block)
		if !valid {
			mem.Record(schema.KindUnknown, nil,
				errorResultf("unrecognized block %q", task.Block))
			mem.Debugf("[run] skipping unrecognized block %q", task.Block)
			plan.Advance()
			continue
		}

		args, err := a.fill(ctx, kind, task, mem, schemas)
		var result *Result
		if err != nil {
			result = errorResult(err)
		} else {
			result = a.dispatch(ctx, kind, args, mem, schemas)
		}
		mem.Record(kind, args, result)
		metrics.ObserveBlock(string(kind), result.Error != "")
		mem.Debugf("[run] step %d %s => success=%v error=%q",
			len(mem.Steps)-1, kind, result.Success, result.Error)

		if kind == schema.KindReflect && result.Error == "" {
			if result.FinalMessage != "" {
				finalAnswer = result.FinalMessage + formatDataOutput(result.DataOutput)
				done = true
				break
			}
			if len(result.AdditionalTasks) > 0 {
				plan.Splice(result.AdditionalTasks)
				mem.Debugf("[run] reflect spliced %d task(s)", len(result.AdditionalTasks))
			}
		}
		if kind == schema.KindOutput && result.Error == "" && result.FinalMessage != "" {
			finalAnswer = result.FinalMessage
			done = true
			break
		}
		plan.Advance()
	}

	if !done {
		finalAnswer = a.fallback(mem)
		mem.Debugf("[run] fallback answer => %s", finalAnswer)
		metrics.ObserveAgentRun("fallback")
	} else {
		metrics.ObserveAgentRun("completed")
	}

	a.logger.Info("agent run finished",
		"steps", len(mem.Steps),
		"duration", a.now().Sub(started).String(),
		"fallback", !done,
	)
	return &RunResult{FinalAnswer: finalAnswer, DebugInfo: mem.Debug, Steps: mem.Steps}, nil
}

// plan 调用规划模型,产出初始任务列表。空计划或解析失败都走澄清路径。
func (a *Agent) plan(ctx context.Context, mem *Memory, schemas map[string][]string) (*Plan, bool) {
	outcome, err := a.llm.Complete(ctx, llm.Request{
		System:    prompt.PlannerSystem(schema.Blocks(), schemas),
		User:      prompt.PlannerUser(mem.OriginalInput),
		Functions: []schema.Definition{schema.Planner()},
		Mode:      llm.ModeStructured,
		Model:     mem.Model,
	})
	if err != nil {
		a.logger.Warn("规划调用失败", "error", err)
		mem.Debugf("[plan] llm error => %v", err)
		return nil, false
	}

	call := outcome.Call
	if call == nil {
		if recovered, ok := llm.DecodeLoose(outcome.Text); ok {
			call = recovered
		}
	}
	if call == nil || call.Name != string(schema.KindPlanTasks) {
		mem.Debugf("[plan] no usable plan_tasks call")
		return nil, false
	}

	var args schema.PlanTasksArgs
	if err := schema.DecodeArgs(call.Arguments, &args); err != nil {
		mem.Debugf("[plan] decode error => %v", err)
		return nil, false
	}
	if len(args.Tasks) == 0 {
		mem.Debugf("[plan] empty task list")
		return nil, false
	}
	mem.Debugf("[plan] tasks => %d", len(args.Tasks))
	return NewPlan(args.Tasks), true
}

// fill 为当前块调用填参模型,返回通过契约校验前的原始参数。
// 模型没有返回结构化调用时,尝试从自由文本恢复一次。
func (a *Agent) fill(ctx context.Context, kind schema.Kind, task schema.TaskItem, mem *Memory, schemas map[string][]string) (json.RawMessage, error) {
	def, ok := schema.Lookup(string(kind))
	if !ok {
		return nil, apperrors.New(apperrors.CodeSchemaMismatch,
			fmt.Sprintf("no schema for block %q", kind))
	}

	outcome, err := a.llm.Complete(ctx, llm.Request{
		System:    prompt.ForBlock(kind, task.Description, mem.View(), schemas),
		User:      mem.OriginalInput,
		Functions: []schema.Definition{def},
		Mode:      llm.ModeStructured,
		Model:     mem.Model,
	})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeLLMFailure, err,
			fmt.Sprintf("filler call for %s failed", kind))
	}

	call := outcome.Call
	if call == nil {
		if recovered, ok := llm.DecodeLoose(outcome.Text); ok {
			mem.Debugf("[%s] recovered structured call from free text", kind)
			call = recovered
		}
	}
	if call == nil {
		return nil, apperrors.New(apperrors.CodeSchemaMismatch,
			fmt.Sprintf("model returned no structured call for %s", kind))
	}
	if call.Name != string(kind) {
		return nil, apperrors.New(apperrors.CodeSchemaMismatch,
			fmt.Sprintf("model answered block %q, expected %q", call.Name, kind))
	}
	return call.Arguments, nil
}

// fallback 在没有显式最终消息时,从最近一次 SQL 结果的形状合成回答。
func (a *Agent) fallback(mem *Memory) string {
	last := mem.LastSQL
	switch {
	case last == nil:
		return "(No final answer produced)"
	case last.Error != "":
		return "Sorry, an error occurred with your request:\n" + last.Error
	case last.RowsInserted != nil && *last.RowsInserted == 0:
		return "No rows were inserted. Please check your request."
	case last.RowsInserted != nil:
		return fmt.Sprintf("%d row(s) inserted.", *last.RowsInserted)
	case last.RowsAffected != nil && *last.RowsAffected == 0:
		return "No matching items were found to update/delete. If you expected a change, please check the name."
	case last.RowsAffected != nil:
		return fmt.Sprintf("%d row(s) affected.", *last.RowsAffected)
	case last.RowsCount != nil && *last.RowsCount == 0:
		return "No matching items found."
	case last.RowsCount != nil:
		return fmt.Sprintf("Found %d row(s).", *last.RowsCount)
	default:
		return "(No final answer produced)"
	}
}

// formatDataOutput 把 reflect 给出的数据附在最终消息后面。
func formatDataOutput(data any) string {
	if data == nil {
		return ""
	}
	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return ""
	}
	return "\n\n" + string(encoded)
}
