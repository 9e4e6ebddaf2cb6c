package schema

// Kind 是封闭的块类型枚举。调度永远基于该枚举做穷尽匹配，
// 未知的块名在解析阶段就会被拒绝。
type Kind string

const (
	KindPlanTasks   Kind = "plan_tasks"
	KindParse       Kind = "parse_block"
	KindSQL         Kind = "sql_block"
	KindBatchInsert Kind = "batch_insert_block"
	KindBatchUpdate Kind = "batch_update_block"
	KindBatchDelete Kind = "batch_delete_block"
	KindChat        Kind = "chat_block"
	KindReflect     Kind = "reflect_block"
	KindOutput      Kind = "output_block"
)

// KindUnknown 标记计划里无法识别的块名。只用于步骤记录,
// 不参与调度,Valid 对它返回 false。
const KindUnknown Kind = "unknown_block"

// ParseKind 将块名解析为枚举值。未知名称返回 false，不会构造新值。
func ParseKind(name string) (Kind, bool) {
	kind := Kind(name)
	if kind.Valid() {
		return kind, true
	}
	return "", false
}

// Valid 检查给定的块类型是否为支持的枚举值。
func (k Kind) Valid() bool {
	switch k {
	case KindPlanTasks, KindParse, KindSQL, KindBatchInsert, KindBatchUpdate,
		KindBatchDelete, KindChat, KindReflect, KindOutput:
		return true
	default:
		return false
	}
}

// Definition 描述一个块的函数调用契约：名称、给规划模型看的说明，
// 以及发送给填充模型的参数约束。
type Definition struct {
	Name        Kind
	Description string
	Parameters  map[string]any
}

// definitions 的声明顺序即对外公布顺序，单次运行内保持稳定。
var definitions = []Definition{
	{
		Name:        KindPlanTasks,
		Description: "Produce a short ordered list of tasks (blocks) that solve the user request. Each item has a block name, a short description and a title.",
		Parameters: objectSchema(map[string]any{
			"tasks": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"block":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"title":       map[string]any{"type": "string"},
					"reasoning":   map[string]any{"type": "string"},
				}, "block", "description", "title"),
			},
			"reasoning": map[string]any{"type": "string"},
		}, "tasks"),
	},
	{
		Name:        KindParse,
		Description: "Parse raw user text into a structured item (name, quantity, unit, expiration_date, category).",
		Parameters: objectSchema(map[string]any{
			"raw_text":    map[string]any{"type": "string"},
			"explanation": map[string]any{"type": "string"},
			"parsed_item": map[string]any{"type": "object"},
			"db_rows": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "object"},
			},
		}, "raw_text"),
	},
	{
		Name:        KindSQL,
		Description: "Run a single SELECT/INSERT/UPDATE/DELETE action against one table.",
		Parameters: objectSchema(map[string]any{
			"table_name": map[string]any{"type": "string"},
			"columns": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"values": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string"},
			},
			"action_type": map[string]any{
				"type": "string",
				"enum": []string{"SELECT", "INSERT", "UPDATE", "DELETE"},
			},
			"explanation":  map[string]any{"type": "string"},
			"where_clause": map[string]any{"type": "string"},
		}, "table_name", "columns", "values", "action_type"),
	},
	{
		Name:        KindBatchInsert,
		Description: "Insert several rows into one table in a single transaction.",
		Parameters: objectSchema(map[string]any{
			"table_name": map[string]any{"type": "string"},
			"rows": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"columns": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"values": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				}, "columns", "values"),
			},
			"explanation": map[string]any{"type": "string"},
		}, "table_name", "rows"),
	},
	{
		Name:        KindBatchUpdate,
		Description: "Update several rows of one table in a single transaction. Every row needs its own WHERE clause.",
		Parameters: objectSchema(map[string]any{
			"table_name": map[string]any{"type": "string"},
			"rows": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"where_clause": map[string]any{"type": "string"},
					"columns": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"values": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
				}, "where_clause", "columns", "values"),
			},
			"explanation": map[string]any{"type": "string"},
		}, "table_name", "rows"),
	},
	{
		Name:        KindBatchDelete,
		Description: "Delete several rows of one table in a single transaction. Every row needs its own WHERE clause.",
		Parameters: objectSchema(map[string]any{
			"table_name": map[string]any{"type": "string"},
			"rows": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"where_clause": map[string]any{"type": "string"},
				}, "where_clause"),
			},
			"explanation": map[string]any{"type": "string"},
		}, "table_name", "rows"),
	},
	{
		Name:        KindChat,
		Description: "Answer an open-ended question with free text, no database access.",
		Parameters: objectSchema(map[string]any{
			"user_prompt": map[string]any{"type": "string"},
			"context":     map[string]any{"type": "string"},
		}, "user_prompt"),
	},
	{
		Name:        KindReflect,
		Description: "Review the executed steps. Either finish with a final_message, or request additional tasks.",
		Parameters: objectSchema(map[string]any{
			"reasoning":     map[string]any{"type": "string"},
			"final_message": map[string]any{"type": "string"},
			"data_output":   map[string]any{"type": "object"},
			"additional_tasks": map[string]any{
				"type": "array",
				"items": objectSchema(map[string]any{
					"block":       map[string]any{"type": "string"},
					"description": map[string]any{"type": "string"},
					"title":       map[string]any{"type": "string"},
					"reasoning":   map[string]any{"type": "string"},
				}, "block", "description", "title"),
			},
		}, "reasoning"),
	},
	{
		Name:        KindOutput,
		Description: "Produce the final user-facing answer, then the run is done.",
		Parameters: objectSchema(map[string]any{
			"final_message": map[string]any{"type": "string"},
		}, "final_message"),
	},
}

var index = buildIndex()

func buildIndex() map[Kind]int {
	idx := make(map[Kind]int, len(definitions))
	for i, def := range definitions {
		idx[def.Name] = i
	}
	return idx
}

// Lookup 按块名查找契约。未知块名返回 false，调用方自行处理。
func Lookup(name string) (Definition, bool) {
	kind, ok := ParseKind(name)
	if !ok {
		return Definition{}, false
	}
	return definitions[index[kind]], true
}

// All 返回全部块契约，顺序固定。
func All() []Definition {
	out := make([]Definition, len(definitions))
	copy(out, definitions)
	return out
}

// Blocks 返回可被编排执行的块契约，即去掉 plan_tasks 本身。
func Blocks() []Definition {
	out := make([]Definition, 0, len(definitions)-1)
	for _, def := range definitions {
		if def.Name == KindPlanTasks {
			continue
		}
		out = append(out, def)
	}
	return out
}

// Planner 返回规划调用使用的契约。
func Planner() Definition {
	return definitions[index[KindPlanTasks]]
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	out := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		out["required"] = required
	}
	return out
}
