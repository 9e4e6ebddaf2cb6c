package agent

import (
	"PantryPilot/internal/schema"
)

// Plan 是有序任务列表,由游标严格从左到右消费。
// reflect 步骤可以在游标之后插入新任务,永远不会插到游标之前。
type Plan struct {
	tasks  []schema.TaskItem
	cursor int
}

// NewPlan 以规划结果初始化任务列表。
func NewPlan(tasks []schema.TaskItem) *Plan {
	return &Plan{tasks: append([]schema.TaskItem(nil), tasks...)}
}

// Normalize 保证最后一个任务是 reflect_block,缺失时补一个合成任务。
func (p *Plan) Normalize() {
	if n := len(p.tasks); n > 0 && schema.Kind(p.tasks[n-1].Block) == schema.KindReflect {
		return
	}
	p.tasks = append(p.tasks, schema.TaskItem{
		Block:       string(schema.KindReflect),
		Description: "Review the executed steps and produce the final answer.",
		Title:       "Reflect",
	})
}

// Current 返回游标所指的任务。
func (p *Plan) Current() (schema.TaskItem, bool) {
	if p.cursor >= len(p.tasks) {
		return schema.TaskItem{}, false
	}
	return p.tasks[p.cursor], true
}

// Advance 向右移动游标。
func (p *Plan) Advance() {
	p.cursor++
}

// Splice 把新任务按原顺序插到游标的紧后方。
// 插入后重新校验末尾,保证最后执行的仍然是 reflect_block。
func (p *Plan) Splice(tasks []schema.TaskItem) {
	if len(tasks) == 0 {
		return
	}
	at := p.cursor + 1
	if at > len(p.tasks) {
		at = len(p.tasks)
	}
	expanded := make([]schema.TaskItem, 0, len(p.tasks)+len(tasks))
	expanded = append(expanded, p.tasks[:at]...)
	expanded = append(expanded, tasks...)
	expanded = append(expanded, p.tasks[at:]...)
	p.tasks = expanded
	p.Normalize()
}

// Len 返回当前任务总数。
func (p *Plan) Len() int {
	return len(p.tasks)
}

// Tasks 返回任务列表副本,供日志与测试使用。
func (p *Plan) Tasks() []schema.TaskItem {
	return append([]schema.TaskItem(nil), p.tasks...)
}
