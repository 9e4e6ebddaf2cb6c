// Package prompt 负责为规划与逐块填参调用拼装指令文本。
// 拼装是纯函数:只依赖块类型、记忆切片与在线表结构。
package prompt

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"PantryPilot/internal/schema"
)

// View 是暴露给提示词的最小记忆切片。每种块只看到与它相关的槽位,
// 避免把整个记忆图塞进提示词。
type View struct {
	OriginalInput string
	TargetTable   string
	ParsedItem    map[string]any
	RecentSQL     map[string]any
	RecentRows    []map[string]any
	RecentChat    string
}

// PlannerSystem 生成规划调用的系统提示词,罗列可用块与在线表结构。
func PlannerSystem(blocks []schema.Definition, schemas map[string][]string) string {
	var b strings.Builder
	b.WriteString("You are a task planner for a pantry assistant. ")
	b.WriteString("Decompose the user's request into an ordered list of typed blocks.\n")
	b.WriteString("Respond with a plan_tasks function call only. No prose, no disclaimers.\n\n")
	b.WriteString("Available blocks:\n")
	for _, def := range blocks {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	b.WriteString("\n")
	b.WriteString(renderSchemas(schemas))
	b.WriteString("\nRules:\n")
	b.WriteString("- The last task must be reflect_block.\n")
	b.WriteString("- Use parse_block before writing a new item so its fields are normalized.\n")
	b.WriteString("- Writes to a table always need a WHERE filter for UPDATE and DELETE.\n")
	return b.String()
}

// PlannerUser 生成规划调用的用户内容。
func PlannerUser(userInput string) string {
	return fmt.Sprintf("User request: %s", userInput)
}

// ForBlock 为指定块生成填参调用的系统提示词。
func ForBlock(kind schema.Kind, description string, view View, schemas map[string][]string) string {
	var b strings.Builder

	switch kind {
	case schema.KindParse:
		b.WriteString("You are parse_block. Parse the raw user text into structured item data.\n")
		b.WriteString("Return a parse_block function call with { raw_text, explanation, parsed_item }. No disclaimers.\n")
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
		if len(view.RecentRows) > 0 {
			fmt.Fprintf(&b, "db_rows => %s\n", compactJSON(view.RecentRows))
		}
		if view.TargetTable != "" {
			fmt.Fprintf(&b, "target_table => %s\n", view.TargetTable)
		}

	case schema.KindSQL:
		b.WriteString("You are sql_block. Produce { table_name, columns, values, action_type, explanation, where_clause }.\n")
		b.WriteString(renderSchemas(schemas))
		b.WriteString("Use only columns that exist in the target table.\n")
		b.WriteString("For UPDATE or DELETE the where_clause must start with WHERE.\n")
		b.WriteString("Return a sql_block function call only. No disclaimers.\n")
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
		if len(view.ParsedItem) > 0 {
			fmt.Fprintf(&b, "parsed_item => %s\n", compactJSON(view.ParsedItem))
		}

	case schema.KindBatchInsert, schema.KindBatchUpdate, schema.KindBatchDelete:
		fmt.Fprintf(&b, "You are %s. Produce { table_name, rows, explanation } covering every item.\n", kind)
		b.WriteString(renderSchemas(schemas))
		b.WriteString("Each row follows the single-statement rules. Return a function call only.\n")
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
		if len(view.ParsedItem) > 0 {
			fmt.Fprintf(&b, "parsed_item => %s\n", compactJSON(view.ParsedItem))
		}

	case schema.KindChat:
		b.WriteString("You are chat_block. Answer the user's prompt conversationally.\n")
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
		if view.RecentChat != "" {
			fmt.Fprintf(&b, "previous_chat => %s\n", view.RecentChat)
		}

	case schema.KindReflect:
		b.WriteString("You are reflect_block, the terminal decision point.\n")
		b.WriteString("If the work is done, return { reasoning, final_message } and optionally data_output.\n")
		b.WriteString("If more steps are needed, return { reasoning, additional_tasks } instead.\n")
		b.WriteString("Return a reflect_block function call only. No disclaimers.\n")
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
		if len(view.RecentSQL) > 0 {
			fmt.Fprintf(&b, "recent_sql_result => %s\n", compactJSON(view.RecentSQL))
		}
		if view.RecentChat != "" {
			fmt.Fprintf(&b, "recent_chat_result => %s\n", view.RecentChat)
		}

	case schema.KindOutput:
		b.WriteString("You are output_block. Summarize the final results for the user.\n")
		b.WriteString("Return an output_block function call with { final_message }. No disclaimers.\n")
		if len(view.RecentSQL) > 0 {
			fmt.Fprintf(&b, "recent_sql_result => %s\n", compactJSON(view.RecentSQL))
		}
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)

	default:
		fmt.Fprintf(&b, "You are %s.\n", kind)
		fmt.Fprintf(&b, "user_input => %s\n", view.OriginalInput)
	}

	if description != "" {
		fmt.Fprintf(&b, "task_description => %s\n", description)
	}
	return b.String()
}

// renderSchemas 以稳定顺序输出表结构。
func renderSchemas(schemas map[string][]string) string {
	if len(schemas) == 0 {
		return ""
	}
	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Tables:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s => [%s]\n", name, strings.Join(schemas[name], ", "))
	}
	return b.String()
}

func compactJSON(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(encoded)
}
