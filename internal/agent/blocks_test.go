package agent

import (
	"context"
	"encoding/json"
	"testing"

	"PantryPilot/internal/schema"
)

func TestMergeParsedItemSkipsExistingColumns(t *testing.T) {
	columns := []string{"name"}
	values := []schema.Value{schema.StringValue("milk")}
	item := map[string]any{
		"name":     "whole milk", // 已有列不覆盖
		"quantity": 2.0,
		"unit":     "liter",
	}
	mergedColumns, mergedValues := mergeParsedItem(columns, values, item)

	if len(mergedColumns) != 3 || len(mergedValues) != 3 {
		t.Fatalf("合并后 %d 列 %d 值, 期望各 3", len(mergedColumns), len(mergedValues))
	}
	if mergedColumns[0] != "name" || mergedValues[0].Raw != "milk" {
		t.Fatalf("已有列被改写: %v", mergedColumns)
	}
	// 新列按字典序追加。
	if mergedColumns[1] != "quantity" || mergedColumns[2] != "unit" {
		t.Fatalf("新列顺序 = %v", mergedColumns[1:])
	}
	if mergedValues[1].Raw != "2" || mergedValues[2].Raw != "liter" {
		t.Fatalf("新值 = %v", mergedValues[1:])
	}
}

func TestHandleBatchInsert(t *testing.T) {
	a, st := newTestAgent(t, failingLLM{})
	mem := NewMemory("stock up")

	raw := json.RawMessage(`{"table_name":"fridge_items","rows":[
		{"columns":["name"],"values":["milk"]},
		{"columns":["name"],"values":["eggs"]}
	]}`)
	result := a.handleBatchInsert(context.Background(), raw, mem)
	if result.Error != "" {
		t.Fatalf("批量插入失败: %s", result.Error)
	}
	if result.RowsInserted == nil || *result.RowsInserted != 2 {
		t.Fatalf("RowsInserted = %v, 期望 2", result.RowsInserted)
	}
	if mem.TargetTable != "fridge_items" {
		t.Fatalf("TargetTable = %q", mem.TargetTable)
	}

	rows, err := st.TableSchemas(context.Background())
	if err != nil || len(rows) == 0 {
		t.Fatalf("TableSchemas: %v", err)
	}
}

func TestHandleBatchUpdateWithoutWhereFails(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	mem := NewMemory("update all")

	raw := json.RawMessage(`{"table_name":"fridge_items","rows":[
		{"columns":["quantity"],"values":["5"],"where_clause":""}
	]}`)
	result := a.handleBatchUpdate(context.Background(), raw, mem)
	if result.Error == "" {
		t.Fatal("缺少 WHERE 的批量更新应当失败")
	}
}

func TestHandleOutputOverridesOnError(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	mem := NewMemory("do something")
	mem.LastSQL = &Result{Error: "table is locked"}

	result := a.handleOutput(json.RawMessage(`{"final_message":"All done!"}`), mem)
	want := "Sorry, an error occurred with your request:\ntable is locked"
	if result.FinalMessage != want {
		t.Fatalf("FinalMessage = %q, 期望 %q", result.FinalMessage, want)
	}
}

func TestHandleOutputLetsMessageStand(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	mem := NewMemory("add milk")
	one := int64(1)
	mem.LastSQL = &Result{Success: true, RowsAffected: &one}

	result := a.handleOutput(json.RawMessage(`{"final_message":"Added milk."}`), mem)
	if result.FinalMessage != "Added milk." {
		t.Fatalf("FinalMessage = %q", result.FinalMessage)
	}
}

func TestHandleParseFillsTargetTableDefaults(t *testing.T) {
	a, _ := newTestAgent(t, failingLLM{})
	mem := NewMemory("add cheese")
	mem.TargetTable = "fridge_items"
	schemas := map[string][]string{
		"fridge_items": {"id", "name", "quantity", "unit", "category", "expiration_date"},
	}

	raw := json.RawMessage(`{"raw_text":"add cheese","parsed_item":{"name":"cheese"}}`)
	result := a.handleParse(raw, mem, schemas)
	if result.Error != "" {
		t.Fatalf("handleParse: %s", result.Error)
	}
	item := result.ParsedItem
	if item["quantity"] != 1.0 || item["unit"] != "unit" || item["category"] != "misc" {
		t.Fatalf("默认值不符: %v", item)
	}
	if date, ok := item["expiration_date"]; !ok || date != nil {
		t.Fatalf("expiration_date 应为 nil, got %v (present=%v)", date, ok)
	}
}
