package agent

import (
	"encoding/json"
	"fmt"

	"PantryPilot/internal/prompt"
	"PantryPilot/internal/schema"
	"PantryPilot/internal/store"
)

// Result 是一次块执行的返回值。Success 与 Error 互斥,其余字段按块
// 类型选择性填充。行数字段用指针区分「未产生」与「恰好为零」。
type Result struct {
	Success         bool              `json:"success"`
	Error           string            `json:"error,omitempty"`
	Statement       string            `json:"statement,omitempty"`
	Explanation     string            `json:"explanation,omitempty"`
	RowsData        []store.Row       `json:"rows_data,omitempty"`
	RowsCount       *int64            `json:"rows_count,omitempty"`
	RowsAffected    *int64            `json:"rows_affected,omitempty"`
	RowsInserted    *int64            `json:"rows_inserted,omitempty"`
	ParsedItem      map[string]any    `json:"parsed_item,omitempty"`
	ResponseText    string            `json:"response_text,omitempty"`
	Reasoning       string            `json:"reasoning,omitempty"`
	FinalMessage    string            `json:"final_message,omitempty"`
	DataOutput      any               `json:"data_output,omitempty"`
	AdditionalTasks []schema.TaskItem `json:"additional_tasks,omitempty"`
}

func errorResult(err error) *Result {
	return &Result{Error: err.Error()}
}

func errorResultf(format string, args ...any) *Result {
	return &Result{Error: fmt.Sprintf(format, args...)}
}

// Summary 把结果折叠为提示词可嵌入的映射,行数据只保留条数。
func (r *Result) Summary() map[string]any {
	if r == nil {
		return nil
	}
	summary := make(map[string]any)
	if r.Error != "" {
		summary["error"] = r.Error
	} else {
		summary["success"] = r.Success
	}
	if r.RowsCount != nil {
		summary["rows_count"] = *r.RowsCount
	}
	if r.RowsAffected != nil {
		summary["rows_affected"] = *r.RowsAffected
	}
	if r.RowsInserted != nil {
		summary["rows_inserted"] = *r.RowsInserted
	}
	if len(r.RowsData) > 0 {
		summary["rows_data"] = r.RowsData
	}
	return summary
}

// Step 是执行日志中的一条记录,追加后不再修改。
type Step struct {
	Index  int             `json:"index"`
	Block  schema.Kind     `json:"block"`
	Args   json.RawMessage `json:"args,omitempty"`
	Result *Result         `json:"result"`
}

// Memory 是单次请求内共享的累加器。每类结果只保留最近一次,
// Steps 按执行顺序追加。
type Memory struct {
	OriginalInput string
	Model         string
	TargetTable   string
	ParsedItem    map[string]any

	LastParse   *Result
	LastSQL     *Result
	LastChat    *Result
	LastReflect *Result
	LastOutput  *Result

	Steps []Step
	Debug []string
}

// NewMemory 创建一次请求的记忆。
func NewMemory(input string) *Memory {
	return &Memory{OriginalInput: input}
}

// Debugf 追加一条调试轨迹。
func (m *Memory) Debugf(format string, args ...any) {
	m.Debug = append(m.Debug, fmt.Sprintf(format, args...))
}

// Record 把一步的结果写入日志,并更新对应类型的最近结果槽位。
func (m *Memory) Record(kind schema.Kind, args json.RawMessage, result *Result) {
	m.Steps = append(m.Steps, Step{
		Index:  len(m.Steps),
		Block:  kind,
		Args:   args,
		Result: result,
	})
	switch kind {
	case schema.KindParse:
		m.LastParse = result
	case schema.KindSQL, schema.KindBatchInsert, schema.KindBatchUpdate, schema.KindBatchDelete:
		m.LastSQL = result
	case schema.KindChat:
		m.LastChat = result
	case schema.KindReflect:
		m.LastReflect = result
	case schema.KindOutput:
		m.LastOutput = result
	}
}

// View 返回指定块可见的最小记忆切片。
func (m *Memory) View() prompt.View {
	view := prompt.View{
		OriginalInput: m.OriginalInput,
		TargetTable:   m.TargetTable,
		ParsedItem:    m.ParsedItem,
	}
	if m.LastSQL != nil {
		view.RecentSQL = m.LastSQL.Summary()
		view.RecentRows = m.LastSQL.RowsData
	}
	if m.LastChat != nil {
		view.RecentChat = m.LastChat.ResponseText
	}
	return view
}
