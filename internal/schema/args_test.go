package schema

import (
	"encoding/json"
	"testing"

	xerrors "PantryPilot/internal/errors"
)

func TestParseKind(t *testing.T) {
	if kind, ok := ParseKind("sql_block"); !ok || kind != KindSQL {
		t.Fatalf("expected sql_block to parse, got %q ok=%v", kind, ok)
	}
	if _, ok := ParseKind("drop_table_block"); ok {
		t.Fatal("unknown block name must not parse")
	}
	if _, ok := ParseKind(""); ok {
		t.Fatal("empty block name must not parse")
	}
}

func TestLookupAndBlocks(t *testing.T) {
	def, ok := Lookup("sql_block")
	if !ok {
		t.Fatal("sql_block should be registered")
	}
	if def.Name != KindSQL {
		t.Fatalf("unexpected definition name: %s", def.Name)
	}
	required, _ := def.Parameters["required"].([]string)
	if len(required) == 0 {
		t.Fatal("sql_block should declare required parameters")
	}

	if _, ok := Lookup("unknown_block"); ok {
		t.Fatal("unknown block must not resolve")
	}

	for _, def := range Blocks() {
		if def.Name == KindPlanTasks {
			t.Fatal("Blocks must not contain plan_tasks")
		}
	}
	if Planner().Name != KindPlanTasks {
		t.Fatalf("unexpected planner definition: %s", Planner().Name)
	}
}

func TestDecodeArgsSQL(t *testing.T) {
	raw := json.RawMessage(`{
		"table_name": "fridge_items",
		"columns": ["name", "quantity", "expiration_date"],
		"values": ["Milk", 2, null],
		"action_type": "insert"
	}`)

	var args SQLArgs
	if err := DecodeArgs(raw, &args); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if args.ActionType != ActionInsert {
		t.Fatalf("action type should be normalized, got %q", args.ActionType)
	}
	if got := args.Values[1].String(); got != "2" {
		t.Fatalf("numeric value should keep its text form, got %q", got)
	}
	if !args.Values[2].Null {
		t.Fatal("third value should be null")
	}
}

func TestDecodeArgsRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		dst  Validator
	}{
		{"empty payload", "", &SQLArgs{}},
		{"malformed json", "{", &SQLArgs{}},
		{"missing table", `{"columns":[],"values":[],"action_type":"SELECT"}`, &SQLArgs{}},
		{"bad action", `{"table_name":"fridge_items","columns":[],"values":[],"action_type":"TRUNCATE"}`, &SQLArgs{}},
		{"empty batch rows", `{"table_name":"fridge_items","rows":[]}`, &BatchInsertArgs{}},
		{"update row without rows", `{"table_name":"fridge_items"}`, &BatchUpdateArgs{}},
		{"task without block", `{"tasks":[{"description":"d","title":"t"}]}`, &PlanTasksArgs{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := DecodeArgs(json.RawMessage(tc.raw), tc.dst)
			if err == nil {
				t.Fatal("expected error")
			}
			if xerrors.CodeOf(err) != xerrors.CodeSchemaMismatch {
				t.Fatalf("expected SCHEMA_MISMATCH, got %v", err)
			}
		})
	}
}

func TestValueRoundTrip(t *testing.T) {
	var v Value
	if err := json.Unmarshal([]byte(`true`), &v); err != nil {
		t.Fatalf("bool literal: %v", err)
	}
	if v.Raw != "true" {
		t.Fatalf("unexpected bool text: %q", v.Raw)
	}

	if err := json.Unmarshal([]byte(`{"nested":1}`), &v); err == nil {
		t.Fatal("object literal must be rejected")
	}

	data, err := json.Marshal(NullValue())
	if err != nil {
		t.Fatalf("marshal null: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("null must marshal to null, got %s", data)
	}
	if NullValue().String() != "NULL" {
		t.Fatal("null value should render as NULL")
	}
}
