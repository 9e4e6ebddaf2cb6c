package agent

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"

	"PantryPilot/internal/llm"
	"PantryPilot/internal/schema"
)

// dispatch 按块类型做全量匹配分发。未知类型在 schema.Kind 层就会被
// 拦下,这里的 default 只为编译期穷尽性服务。
func (a *Agent) dispatch(ctx context.Context, kind schema.Kind, raw json.RawMessage, mem *Memory, schemas map[string][]string) *Result {
	switch kind {
	case schema.KindParse:
		return a.handleParse(raw, mem, schemas)
	case schema.KindSQL:
		return a.handleSQL(ctx, raw, mem)
	case schema.KindBatchInsert:
		return a.handleBatchInsert(ctx, raw, mem)
	case schema.KindBatchUpdate:
		return a.handleBatchUpdate(ctx, raw, mem)
	case schema.KindBatchDelete:
		return a.handleBatchDelete(ctx, raw, mem)
	case schema.KindChat:
		return a.handleChat(ctx, raw, mem)
	case schema.KindReflect:
		return a.handleReflect(raw)
	case schema.KindOutput:
		return a.handleOutput(raw, mem)
	case schema.KindPlanTasks:
		return errorResultf("plan_tasks is only valid during planning")
	default:
		return errorResultf("unrecognized block %q", kind)
	}
}

// handleParse 规范化条目名称,补齐数量、单位和过期日期,
// 再按目标表结构填默认值。
func (a *Agent) handleParse(raw json.RawMessage, mem *Memory, schemas map[string][]string) *Result {
	var args schema.ParseArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}

	item := make(map[string]any, len(args.ParsedItem))
	for key, value := range args.ParsedItem {
		item[key] = value
	}

	if name, ok := item["name"].(string); ok {
		normalized := a.lexicon.NormalizeName(name)
		if normalized != name {
			mem.Debugf("[parse_block] normalized name %q => %q", name, normalized)
		}
		item["name"] = normalized
	}

	_, hasQuantity := item["quantity"]
	_, hasUnit := item["unit"]
	if !hasQuantity || !hasUnit {
		if quantity, unit, ok := a.lexicon.GuessQuantityUnit(args.RawText); ok {
			if !hasQuantity {
				item["quantity"] = quantity
			}
			if !hasUnit {
				item["unit"] = unit
			}
		}
	}

	if _, ok := item["expiration_date"]; !ok {
		if date, ok := a.lexicon.GuessExpiration(args.RawText, a.now()); ok {
			item["expiration_date"] = date
		}
	}

	// 目标表要求但仍缺失的列,按类型填默认值。
	for _, column := range schemas[mem.TargetTable] {
		if _, ok := item[column]; ok {
			continue
		}
		switch column {
		case "quantity":
			item[column] = 1.0
		case "unit":
			item[column] = "unit"
		case "category":
			item[column] = "misc"
		case "expiration_date":
			item[column] = nil
		}
	}

	mem.ParsedItem = item
	mem.Debugf("[parse_block] parsed_item => %v", item)
	return &Result{Success: true, ParsedItem: item, Explanation: args.Explanation}
}

// handleSQL 先并入挂起的解析结果,再交给守卫构建并执行。
func (a *Agent) handleSQL(ctx context.Context, raw json.RawMessage, mem *Memory) *Result {
	var args schema.SQLArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	mem.TargetTable = args.TableName

	if (args.ActionType == schema.ActionInsert || args.ActionType == schema.ActionUpdate) && len(mem.ParsedItem) > 0 {
		args.Columns, args.Values = mergeParsedItem(args.Columns, args.Values, mem.ParsedItem)
		mem.Debugf("[sql_block] merged parsed_item => columns=%v", args.Columns)
	}

	stmt, err := a.guard.Build(args)
	if err != nil {
		return errorResult(err)
	}
	mem.Debugf("[sql_block] statement => %s", stmt.SQL)

	if stmt.Action == schema.ActionSelect {
		rows, err := a.store.Select(ctx, stmt)
		if err != nil {
			return &Result{Error: err.Error(), Statement: stmt.SQL}
		}
		count := int64(len(rows))
		return &Result{
			Success:     true,
			RowsData:    rows,
			RowsCount:   &count,
			Statement:   stmt.SQL,
			Explanation: args.Explanation,
		}
	}

	affected, err := a.store.Exec(ctx, stmt)
	if err != nil {
		return &Result{Error: err.Error(), Statement: stmt.SQL}
	}
	result := &Result{
		Success:      true,
		RowsAffected: &affected,
		Statement:    stmt.SQL,
		Explanation:  args.Explanation,
	}
	if stmt.Action == schema.ActionInsert {
		result.RowsInserted = &affected
	}
	return result
}

func (a *Agent) handleBatchInsert(ctx context.Context, raw json.RawMessage, mem *Memory) *Result {
	var args schema.BatchInsertArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	mem.TargetTable = args.TableName

	stmts, err := a.guard.BuildBatchInsert(args)
	if err != nil {
		return errorResult(err)
	}
	total, err := a.store.ExecBatch(ctx, stmts)
	if err != nil {
		return &Result{Error: err.Error(), RowsInserted: &total}
	}
	return &Result{
		Success:      true,
		RowsInserted: &total,
		RowsAffected: &total,
		Explanation:  args.Explanation,
	}
}

func (a *Agent) handleBatchUpdate(ctx context.Context, raw json.RawMessage, mem *Memory) *Result {
	var args schema.BatchUpdateArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	mem.TargetTable = args.TableName

	stmts, err := a.guard.BuildBatchUpdate(args)
	if err != nil {
		return errorResult(err)
	}
	total, err := a.store.ExecBatch(ctx, stmts)
	if err != nil {
		return &Result{Error: err.Error(), RowsAffected: &total}
	}
	return &Result{Success: true, RowsAffected: &total, Explanation: args.Explanation}
}

func (a *Agent) handleBatchDelete(ctx context.Context, raw json.RawMessage, mem *Memory) *Result {
	var args schema.BatchDeleteArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	mem.TargetTable = args.TableName

	stmts, err := a.guard.BuildBatchDelete(args)
	if err != nil {
		return errorResult(err)
	}
	total, err := a.store.ExecBatch(ctx, stmts)
	if err != nil {
		return &Result{Error: err.Error(), RowsAffected: &total}
	}
	return &Result{Success: true, RowsAffected: &total, Explanation: args.Explanation}
}

// handleChat 把用户问题转发给模型做自由回答,不挂任何函数约束。
func (a *Agent) handleChat(ctx context.Context, raw json.RawMessage, mem *Memory) *Result {
	var args schema.ChatArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}

	system := "You are a helpful pantry assistant. Answer the user's question directly."
	if args.Context != "" {
		system += "\nContext: " + args.Context
	}
	outcome, err := a.llm.Complete(ctx, llm.Request{
		System: system,
		User:   args.UserPrompt,
		Mode:   llm.ModeFreeText,
		Model:  mem.Model,
	})
	if err != nil {
		return errorResult(err)
	}
	text := outcome.Text
	if text == "" && outcome.Call != nil {
		text = string(outcome.Call.Arguments)
	}
	return &Result{Success: true, ResponseText: text}
}

func (a *Agent) handleReflect(raw json.RawMessage) *Result {
	var args schema.ReflectArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	return &Result{
		Success:         true,
		Reasoning:       args.Reasoning,
		FinalMessage:    args.FinalMessage,
		DataOutput:      args.DataOutput,
		AdditionalTasks: args.AdditionalTasks,
	}
}

// handleOutput 检查最近一次 SQL 结果,在出错或零行时覆盖模型给的
// 总结,避免向用户虚报成功。
func (a *Agent) handleOutput(raw json.RawMessage, mem *Memory) *Result {
	var args schema.OutputArgs
	if err := schema.DecodeArgs(raw, &args); err != nil {
		return errorResult(err)
	}
	message := args.FinalMessage
	if message == "" {
		message = "(No final_message provided by LLM)"
	}

	last := mem.LastSQL
	switch {
	case last == nil:
		// 没有 SQL 结果可核对,模型的总结原样放行。
	case last.Error != "":
		mem.Debugf("[output_block] overriding LLM message due to SQL error")
		message = "Sorry, an error occurred with your request:\n" + last.Error
	case last.RowsAffected != nil && *last.RowsAffected == 0:
		mem.Debugf("[output_block] overriding LLM message => no row changed")
		message = "No matching items were found to update/delete. If you expected a change, please check the name."
	case last.RowsCount != nil && *last.RowsCount == 0:
		mem.Debugf("[output_block] overriding LLM message => empty SELECT")
		message = "No matching items found."
	}
	return &Result{Success: true, FinalMessage: message}
}

// mergeParsedItem 把解析结果并入列/值列表,跳过已有列。
// 键按字典序合入,保证语句文本稳定。
func mergeParsedItem(columns []string, values []schema.Value, item map[string]any) ([]string, []schema.Value) {
	present := make(map[string]bool, len(columns))
	for _, column := range columns {
		present[column] = true
	}
	keys := make([]string, 0, len(item))
	for key := range item {
		if !present[key] {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		columns = append(columns, key)
		values = append(values, valueFromAny(item[key]))
	}
	return columns, values
}

// valueFromAny 把解析结果中的取值转成语句取值。
func valueFromAny(v any) schema.Value {
	switch value := v.(type) {
	case nil:
		return schema.NullValue()
	case string:
		return schema.StringValue(value)
	case float64:
		return schema.StringValue(strconv.FormatFloat(value, 'f', -1, 64))
	case int:
		return schema.StringValue(strconv.Itoa(value))
	case int64:
		return schema.StringValue(strconv.FormatInt(value, 10))
	case bool:
		return schema.StringValue(strconv.FormatBool(value))
	case json.Number:
		return schema.StringValue(value.String())
	default:
		return schema.StringValue(strconvQuoteless(value))
	}
}

func strconvQuoteless(v any) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(encoded)
}
