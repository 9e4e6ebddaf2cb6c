package agent

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"PantryPilot/internal/llm"
	"PantryPilot/internal/schema"
	"PantryPilot/internal/sqlguard"
	"PantryPilot/internal/store"
	"PantryPilot/internal/store/memory"
)

var testClock = func() time.Time {
	return time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
}

// scriptedLLM 按脚本顺序吐出应答,超出脚本视为测试错误。
type scriptedLLM struct {
	t        *testing.T
	outcomes []*llm.Outcome
	calls    int
}

func (s *scriptedLLM) Complete(_ context.Context, _ llm.Request) (*llm.Outcome, error) {
	if s.calls >= len(s.outcomes) {
		s.t.Fatalf("超出脚本的第 %d 次模型调用", s.calls+1)
	}
	outcome := s.outcomes[s.calls]
	s.calls++
	return outcome, nil
}

type failingLLM struct{}

func (failingLLM) Complete(context.Context, llm.Request) (*llm.Outcome, error) {
	return nil, context.DeadlineExceeded
}

func structured(name, args string) *llm.Outcome {
	return &llm.Outcome{Call: &llm.StructuredCall{Name: name, Arguments: json.RawMessage(args)}}
}

func freeText(text string) *llm.Outcome {
	return &llm.Outcome{Text: text}
}

func newTestAgent(t *testing.T, client llm.Client, opts ...Option) (*Agent, *memory.Store) {
	t.Helper()
	st := memory.NewStore(memory.DefaultSchemas())
	guard := sqlguard.NewGuard(map[string]sqlguard.Permission{
		"fridge_items":   sqlguard.PermissionAlwaysAllow,
		"shopping_items": sqlguard.PermissionAlwaysAllow,
	}, true)
	opts = append([]Option{WithClock(testClock)}, opts...)
	a, err := New(client, st, guard, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a, st
}

func TestRunAddMilkEndToEnd(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[
			{"block":"parse_block","description":"parse the item"},
			{"block":"sql_block","description":"insert the item"},
			{"block":"reflect_block","description":"wrap up"}
		]}`),
		structured("parse_block", `{"raw_text":"Add 2 liters of milk expiring tomorrow","parsed_item":{"name":"milk"}}`),
		structured("sql_block", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"INSERT"}`),
		structured("reflect_block", `{"reasoning":"insert succeeded","final_message":"Added 2 liters of milk to your fridge."}`),
	}}
	a, st := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Add 2 liters of milk expiring tomorrow", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Added 2 liters of milk to your fridge." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}

	// 解析步骤补齐了数量、单位和过期日期。
	var parseStep *Step
	for i := range result.Steps {
		if result.Steps[i].Block == schema.KindParse {
			parseStep = &result.Steps[i]
		}
	}
	if parseStep == nil {
		t.Fatal("缺少 parse_block 步骤")
	}
	item := parseStep.Result.ParsedItem
	if item["name"] != "milk" {
		t.Fatalf("name = %v", item["name"])
	}
	if item["quantity"] != 2.0 {
		t.Fatalf("quantity = %v (%T), 期望 2.0", item["quantity"], item["quantity"])
	}
	if item["unit"] != "liter" {
		t.Fatalf("unit = %v, 期望 liter", item["unit"])
	}
	if item["expiration_date"] != "2025-01-02" {
		t.Fatalf("expiration_date = %v, 期望 2025-01-02", item["expiration_date"])
	}

	// 行已写入且字段取值一致。
	guard := sqlguard.NewGuard(map[string]sqlguard.Permission{"fridge_items": sqlguard.PermissionAlwaysAllow}, true)
	query, _ := guard.BuildSelect("fridge_items", nil, "")
	rows, err := st.Select(context.Background(), query)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("rows = %d, 期望 1", len(rows))
	}
	if rows[0]["name"] != "milk" || rows[0]["quantity"] != 2.0 || rows[0]["expiration_date"] != "2025-01-02" {
		t.Fatalf("行内容不符: %v", rows[0])
	}
}

func TestRunDeleteMissingItemFallsBackToTemplate(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[
			{"block":"sql_block","description":"delete tomatoes"},
			{"block":"reflect_block","description":"wrap up"}
		]}`),
		structured("sql_block", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"DELETE","where_clause":"WHERE name = 'Tomatoes'"}`),
		// reflect 既无最终消息也无新任务,走兜底。
		structured("reflect_block", `{"reasoning":"nothing changed"}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Delete tomatoes", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := "No matching items were found to update/delete. If you expected a change, please check the name."
	if result.FinalAnswer != want {
		t.Fatalf("FinalAnswer = %q, 期望 %q", result.FinalAnswer, want)
	}
}

func TestRunPlanFailureReturnsClarification(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	result, err := a.Run(context.Background(), "Add milk", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Could not plan tasks. Possibly clarify your request." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	if len(result.Steps) != 0 {
		t.Fatalf("规划失败不应执行任何步骤, steps = %d", len(result.Steps))
	}
}

func TestRunEmptyPlanReturnsClarification(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[]}`),
	}}
	a, _ := newTestAgent(t, client)
	result, err := a.Run(context.Background(), "???", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Could not plan tasks. Possibly clarify your request." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	if len(result.Steps) != 0 {
		t.Fatalf("空计划不应执行任何步骤, steps = %d", len(result.Steps))
	}
	if client.calls != 1 {
		t.Fatalf("空计划之后不应再调用模型, calls = %d", client.calls)
	}
}

func TestRunRecoversPlanFromFreeText(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		freeText("```json\n{\"name\":\"plan_tasks\",\"arguments\":{\"tasks\":[{\"block\":\"reflect_block\",\"description\":\"answer\"}]}}\n```"),
		structured("reflect_block", `{"reasoning":"direct answer","final_message":"Hello!"}`),
	}}
	a, _ := newTestAgent(t, client)
	result, err := a.Run(context.Background(), "Say hello", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Hello!" {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
}

func TestRunNormalizesPlanWithoutReflect(t *testing.T) {
	// 计划只有一个 sql_block,且填参就失败;合成的 reflect 仍会执行。
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[{"block":"sql_block","description":"broken"}]}`),
		freeText("I cannot do that."),
		structured("reflect_block", `{"reasoning":"step failed","final_message":"I could not run that request."}`),
	}}
	a, _ := newTestAgent(t, client)
	result, err := a.Run(context.Background(), "Do something", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "I could not run that request." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps = %d, 期望 2", len(result.Steps))
	}
	if result.Steps[0].Result.Error == "" {
		t.Fatal("失败的 sql_block 应记录错误")
	}
	if result.Steps[1].Block != schema.KindReflect {
		t.Fatalf("末尾步骤 = %s, 期望 reflect_block", result.Steps[1].Block)
	}
}

func TestRunReflectSplicesAdditionalTasks(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[
			{"block":"reflect_block","description":"decide"},
			{"block":"output_block","description":"legacy tail"}
		]}`),
		// 第一次 reflect 追加两个任务。
		structured("reflect_block", `{"reasoning":"need data","additional_tasks":[
			{"block":"sql_block","description":"list items"},
			{"block":"reflect_block","description":"now answer"}
		]}`),
		structured("sql_block", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"SELECT"}`),
		structured("reflect_block", `{"reasoning":"done","final_message":"Your fridge has 1 item."}`),
	}}
	a, st := newTestAgent(t, client)
	if err := st.Seed("fridge_items", []store.Row{{"name": "milk", "quantity": 1.0}}); err != nil {
		t.Fatalf("Seed: %v", err)
	}

	result, err := a.Run(context.Background(), "What's in my fridge?", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Your fridge has 1 item." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	// 插入的任务在原计划的 output_block 之前执行,终止后不再执行它。
	var kinds []string
	for _, step := range result.Steps {
		kinds = append(kinds, string(step.Block))
	}
	want := "reflect_block,sql_block,reflect_block"
	if strings.Join(kinds, ",") != want {
		t.Fatalf("执行顺序 = %v, 期望 %s", kinds, want)
	}
}

func TestRunRecordsUnrecognizedBlockUnderSentinelKind(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[
			{"block":"make_coffee_block","description":"not a real block"},
			{"block":"reflect_block","description":"wrap up"}
		]}`),
		structured("reflect_block", `{"reasoning":"skip bad block","final_message":"Done."}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Make me coffee", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Done." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps = %d, 期望 2", len(result.Steps))
	}
	first := result.Steps[0]
	if first.Block != schema.KindUnknown {
		t.Fatalf("首步 Block = %q, 期望 %q", first.Block, schema.KindUnknown)
	}
	if !strings.Contains(first.Result.Error, "make_coffee_block") {
		t.Fatalf("错误应包含原始块名: %q", first.Result.Error)
	}
}

func TestRunSplicedNonReflectTailGetsTerminalReflect(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[{"block":"reflect_block","description":"decide"}]}`),
		// reflect 只追加一个 sql_block,不带收尾的 reflect。
		structured("reflect_block", `{"reasoning":"need data","additional_tasks":[
			{"block":"sql_block","description":"list items"}
		]}`),
		structured("sql_block", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"SELECT"}`),
		structured("reflect_block", `{"reasoning":"done","final_message":"Your fridge is empty."}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "What's in my fridge?", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "Your fridge is empty." {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	// 补齐的 reflect 收尾,最后一步不能是 sql_block。
	last := result.Steps[len(result.Steps)-1]
	if last.Block != schema.KindReflect {
		t.Fatalf("最后一步 = %s, 期望 reflect_block", last.Block)
	}
}

func TestRunStepCeilingTerminates(t *testing.T) {
	// reflect 永远追加新的 reflect,步数上限保证终止。
	outcomes := []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[{"block":"reflect_block","description":"loop"}]}`),
	}
	for i := 0; i < 10; i++ {
		outcomes = append(outcomes, structured("reflect_block",
			`{"reasoning":"again","additional_tasks":[{"block":"reflect_block","description":"loop"}]}`))
	}
	client := &scriptedLLM{t: t, outcomes: outcomes}
	a, _ := newTestAgent(t, client, WithMaxSteps(5))

	result, err := a.Run(context.Background(), "loop forever", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Steps) != 5 {
		t.Fatalf("steps = %d, 期望 5", len(result.Steps))
	}
	if result.FinalAnswer == "" {
		t.Fatal("即使到达步数上限也必须有回答")
	}
}

func TestRunOutputBlockOverridesEmptySelect(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[
			{"block":"sql_block","description":"find tomatoes"},
			{"block":"output_block","description":"summarize"}
		]}`),
		structured("sql_block", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"SELECT","where_clause":"WHERE name = 'tomatoes'"}`),
		structured("output_block", `{"final_message":"Here are your tomatoes!"}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Show my tomatoes", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.FinalAnswer != "No matching items found." {
		t.Fatalf("FinalAnswer = %q, 期望空查询覆盖语", result.FinalAnswer)
	}
}

func TestRunPermissionDeniedSurfacesInFallback(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[{"block":"sql_block","description":"read audit log"}]}`),
		structured("sql_block", `{"table_name":"audit_log","columns":[],"values":[],"action_type":"SELECT"}`),
		structured("reflect_block", `{"reasoning":"denied"}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Show the audit log", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(result.FinalAnswer, "Sorry, an error occurred with your request:") {
		t.Fatalf("FinalAnswer = %q, 期望错误兜底语", result.FinalAnswer)
	}
	if !strings.Contains(result.FinalAnswer, "denied") {
		t.Fatalf("FinalAnswer 应包含拒绝原因: %q", result.FinalAnswer)
	}
}

func TestRunRejectsEmptyInput(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	if _, err := a.Run(context.Background(), "   ", ""); err == nil {
		t.Fatal("空输入应当报错")
	}
}

func TestRunReflectDataOutputAppended(t *testing.T) {
	client := &scriptedLLM{t: t, outcomes: []*llm.Outcome{
		structured("plan_tasks", `{"tasks":[{"block":"reflect_block","description":"answer"}]}`),
		structured("reflect_block", `{"reasoning":"done","final_message":"Summary below.","data_output":{"total":3}}`),
	}}
	a, _ := newTestAgent(t, client)

	result, err := a.Run(context.Background(), "Summarize", "")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.HasPrefix(result.FinalAnswer, "Summary below.") {
		t.Fatalf("FinalAnswer = %q", result.FinalAnswer)
	}
	if !strings.Contains(result.FinalAnswer, `"total": 3`) {
		t.Fatalf("FinalAnswer 缺少数据附录: %q", result.FinalAnswer)
	}
}
