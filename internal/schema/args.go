package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	xerrors "PantryPilot/internal/errors"
)

// Value 是填充模型给出的一个列值。模型有时返回字符串，有时返回
// 数字或 null，这里统一收敛为文本形式并保留 null 信息。
type Value struct {
	Raw  string
	Null bool
}

// UnmarshalJSON 接受 string/number/bool/null 四种标量。
func (v *Value) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if bytes.Equal(trimmed, []byte("null")) {
		v.Null = true
		v.Raw = ""
		return nil
	}
	var asString string
	if err := json.Unmarshal(trimmed, &asString); err == nil {
		v.Raw = asString
		return nil
	}
	var asNumber json.Number
	if err := json.Unmarshal(trimmed, &asNumber); err == nil {
		v.Raw = asNumber.String()
		return nil
	}
	var asBool bool
	if err := json.Unmarshal(trimmed, &asBool); err == nil {
		v.Raw = strconv.FormatBool(asBool)
		return nil
	}
	return fmt.Errorf("unsupported value literal: %s", string(trimmed))
}

// MarshalJSON 保持与解析对称。
func (v Value) MarshalJSON() ([]byte, error) {
	if v.Null {
		return []byte("null"), nil
	}
	return json.Marshal(v.Raw)
}

// String 返回文本形式，null 值显示为 NULL。
func (v Value) String() string {
	if v.Null {
		return "NULL"
	}
	return v.Raw
}

// StringValue 构造一个普通文本值。
func StringValue(raw string) Value {
	return Value{Raw: raw}
}

// NullValue 构造一个 NULL 值。
func NullValue() Value {
	return Value{Null: true}
}

// TaskItem 是规划结果中的一项任务。
type TaskItem struct {
	Block       string `json:"block"`
	Description string `json:"description"`
	Title       string `json:"title"`
	Reasoning   string `json:"reasoning,omitempty"`
}

// PlanTasksArgs 对应 plan_tasks 的参数。
type PlanTasksArgs struct {
	Tasks     []TaskItem `json:"tasks"`
	Reasoning string     `json:"reasoning,omitempty"`
}

// Validate 实现参数校验。空计划不在此处拦截，编排器需要区分
// "没有任务" 与 "参数损坏" 两种情况。
func (a *PlanTasksArgs) Validate() error {
	for i, item := range a.Tasks {
		if strings.TrimSpace(item.Block) == "" {
			return xerrors.New(xerrors.CodeSchemaMismatch, fmt.Sprintf("tasks[%d] 缺少 block 字段", i))
		}
	}
	return nil
}

// ParseArgs 对应 parse_block 的参数。
type ParseArgs struct {
	RawText     string           `json:"raw_text"`
	Explanation string           `json:"explanation,omitempty"`
	ParsedItem  map[string]any   `json:"parsed_item,omitempty"`
	DBRows      []map[string]any `json:"db_rows,omitempty"`
}

func (a *ParseArgs) Validate() error {
	if strings.TrimSpace(a.RawText) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "parse_block 缺少 raw_text")
	}
	return nil
}

// sql_block 支持的动作类型。
const (
	ActionSelect = "SELECT"
	ActionInsert = "INSERT"
	ActionUpdate = "UPDATE"
	ActionDelete = "DELETE"
)

// SQLArgs 对应 sql_block 的参数。
type SQLArgs struct {
	TableName   string   `json:"table_name"`
	Columns     []string `json:"columns"`
	Values      []Value  `json:"values"`
	ActionType  string   `json:"action_type"`
	Explanation string   `json:"explanation,omitempty"`
	WhereClause string   `json:"where_clause,omitempty"`
}

func (a *SQLArgs) Validate() error {
	if strings.TrimSpace(a.TableName) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "sql_block 缺少 table_name")
	}
	action := strings.ToUpper(strings.TrimSpace(a.ActionType))
	switch action {
	case ActionSelect, ActionInsert, ActionUpdate, ActionDelete:
		a.ActionType = action
	default:
		return xerrors.New(xerrors.CodeSchemaMismatch, fmt.Sprintf("无法识别的 action_type: %q", a.ActionType))
	}
	return nil
}

// InsertRow 是批量插入中的一行。
type InsertRow struct {
	Columns []string `json:"columns"`
	Values  []Value  `json:"values"`
}

// UpdateRow 是批量更新中的一行。
type UpdateRow struct {
	WhereClause string   `json:"where_clause"`
	Columns     []string `json:"columns"`
	Values      []Value  `json:"values"`
}

// DeleteRow 是批量删除中的一行。
type DeleteRow struct {
	WhereClause string `json:"where_clause"`
}

// BatchInsertArgs 对应 batch_insert_block 的参数。
type BatchInsertArgs struct {
	TableName   string      `json:"table_name"`
	Rows        []InsertRow `json:"rows"`
	Explanation string      `json:"explanation,omitempty"`
}

func (a *BatchInsertArgs) Validate() error {
	if strings.TrimSpace(a.TableName) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_insert_block 缺少 table_name")
	}
	if len(a.Rows) == 0 {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_insert_block 需要至少一行 rows")
	}
	return nil
}

// BatchUpdateArgs 对应 batch_update_block 的参数。
type BatchUpdateArgs struct {
	TableName   string      `json:"table_name"`
	Rows        []UpdateRow `json:"rows"`
	Explanation string      `json:"explanation,omitempty"`
}

func (a *BatchUpdateArgs) Validate() error {
	if strings.TrimSpace(a.TableName) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_update_block 缺少 table_name")
	}
	if len(a.Rows) == 0 {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_update_block 需要至少一行 rows")
	}
	return nil
}

// BatchDeleteArgs 对应 batch_delete_block 的参数。
type BatchDeleteArgs struct {
	TableName   string      `json:"table_name"`
	Rows        []DeleteRow `json:"rows"`
	Explanation string      `json:"explanation,omitempty"`
}

func (a *BatchDeleteArgs) Validate() error {
	if strings.TrimSpace(a.TableName) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_delete_block 缺少 table_name")
	}
	if len(a.Rows) == 0 {
		return xerrors.New(xerrors.CodeSchemaMismatch, "batch_delete_block 需要至少一行 rows")
	}
	return nil
}

// ChatArgs 对应 chat_block 的参数。
type ChatArgs struct {
	UserPrompt string `json:"user_prompt"`
	Context    string `json:"context,omitempty"`
}

func (a *ChatArgs) Validate() error {
	if strings.TrimSpace(a.UserPrompt) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "chat_block 缺少 user_prompt")
	}
	return nil
}

// ReflectArgs 对应 reflect_block 的参数。
type ReflectArgs struct {
	Reasoning       string     `json:"reasoning"`
	FinalMessage    string     `json:"final_message,omitempty"`
	DataOutput      any        `json:"data_output,omitempty"`
	AdditionalTasks []TaskItem `json:"additional_tasks,omitempty"`
}

func (a *ReflectArgs) Validate() error {
	if strings.TrimSpace(a.Reasoning) == "" {
		return xerrors.New(xerrors.CodeSchemaMismatch, "reflect_block 缺少 reasoning")
	}
	return nil
}

// OutputArgs 对应 output_block 的参数。
type OutputArgs struct {
	FinalMessage string `json:"final_message"`
}

func (a *OutputArgs) Validate() error {
	// final_message 允许为空，输出块自己会给出兜底文案。
	return nil
}

// Validator 是所有参数类型共同实现的校验接口。
type Validator interface {
	Validate() error
}

// DecodeArgs 将模型返回的 arguments JSON 解析为具体参数并校验。
// 任何解析失败都映射为 SCHEMA_MISMATCH，调用方据此返回结构化错误结果。
func DecodeArgs(raw json.RawMessage, dst Validator) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return xerrors.New(xerrors.CodeSchemaMismatch, "模型未返回参数")
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return xerrors.Wrap(xerrors.CodeSchemaMismatch, err, "解析块参数失败")
	}
	return dst.Validate()
}
