package prompt

import (
	"strings"
	"testing"

	"PantryPilot/internal/schema"
)

func sampleSchemas() map[string][]string {
	return map[string][]string{
		"fridge_items":   {"id", "name", "quantity", "unit", "expiration_date"},
		"shopping_items": {"id", "name", "quantity"},
	}
}

func TestPlannerSystemListsBlocksAndTables(t *testing.T) {
	text := PlannerSystem(schema.Blocks(), sampleSchemas())

	for _, def := range schema.Blocks() {
		if !strings.Contains(text, string(def.Name)) {
			t.Errorf("规划提示词缺少块 %s", def.Name)
		}
	}
	if !strings.Contains(text, "fridge_items => [id, name, quantity, unit, expiration_date]") {
		t.Fatalf("规划提示词缺少表结构:\n%s", text)
	}
	if !strings.Contains(text, "reflect_block") {
		t.Fatal("规划提示词必须提及 reflect_block 收尾规则")
	}
}

func TestSQLBlockPromptEmbedsParsedItem(t *testing.T) {
	view := View{
		OriginalInput: "Add 2 liters of milk",
		ParsedItem:    map[string]any{"name": "milk", "quantity": 2.0},
	}
	text := ForBlock(schema.KindSQL, "insert the item", view, sampleSchemas())

	if !strings.Contains(text, `"name":"milk"`) {
		t.Fatalf("sql_block 提示词缺少解析结果:\n%s", text)
	}
	if !strings.Contains(text, "Tables:") {
		t.Fatal("sql_block 提示词缺少表结构")
	}
	if !strings.Contains(text, "task_description => insert the item") {
		t.Fatal("sql_block 提示词缺少任务描述")
	}
}

func TestParseBlockPromptIsMinimal(t *testing.T) {
	view := View{
		OriginalInput: "Add milk",
		RecentChat:    "irrelevant chat result",
	}
	text := ForBlock(schema.KindParse, "", view, sampleSchemas())

	if strings.Contains(text, "irrelevant chat result") {
		t.Fatal("parse_block 不应看到聊天结果")
	}
	if !strings.Contains(text, "user_input => Add milk") {
		t.Fatal("parse_block 提示词缺少用户输入")
	}
}

func TestReflectPromptShowsRecentSQL(t *testing.T) {
	view := View{
		OriginalInput: "Delete tomatoes",
		RecentSQL:     map[string]any{"rows_affected": 0},
	}
	text := ForBlock(schema.KindReflect, "", view, nil)

	if !strings.Contains(text, `"rows_affected":0`) {
		t.Fatalf("reflect_block 提示词缺少最近 SQL 结果:\n%s", text)
	}
}

func TestRenderSchemasStableOrder(t *testing.T) {
	first := renderSchemas(sampleSchemas())
	for i := 0; i < 10; i++ {
		if renderSchemas(sampleSchemas()) != first {
			t.Fatal("表结构输出顺序不稳定")
		}
	}
}
