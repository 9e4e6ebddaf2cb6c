package agent

import (
	"testing"

	"PantryPilot/internal/schema"
)

func TestNormalizeAppendsReflect(t *testing.T) {
	p := NewPlan([]schema.TaskItem{
		{Block: "parse_block"},
		{Block: "sql_block"},
	})
	p.Normalize()
	tasks := p.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("len = %d, 期望 3", len(tasks))
	}
	if tasks[2].Block != string(schema.KindReflect) {
		t.Fatalf("末尾任务 = %q, 期望 reflect_block", tasks[2].Block)
	}

	// 已以 reflect 结尾时不重复追加。
	p.Normalize()
	if p.Len() != 3 {
		t.Fatalf("重复 Normalize 后 len = %d, 期望 3", p.Len())
	}
}

func TestNormalizeEmptyPlan(t *testing.T) {
	p := NewPlan(nil)
	p.Normalize()
	if p.Len() != 1 {
		t.Fatalf("len = %d, 期望 1", p.Len())
	}
}

func TestSpliceInsertsAfterCursor(t *testing.T) {
	p := NewPlan([]schema.TaskItem{
		{Block: "sql_block", Title: "first"},
		{Block: "reflect_block", Title: "mid"},
		{Block: "reflect_block", Title: "tail"},
	})
	p.Advance() // 游标指向 mid

	p.Splice([]schema.TaskItem{
		{Block: "parse_block", Title: "new-a"},
		{Block: "sql_block", Title: "new-b"},
	})

	tasks := p.Tasks()
	if len(tasks) != 5 {
		t.Fatalf("len = %d, 期望 5", len(tasks))
	}
	titles := []string{tasks[0].Title, tasks[1].Title, tasks[2].Title, tasks[3].Title, tasks[4].Title}
	want := []string{"first", "mid", "new-a", "new-b", "tail"}
	for i := range want {
		if titles[i] != want[i] {
			t.Fatalf("顺序不符: %v, 期望 %v", titles, want)
		}
	}

	// 游标未被移动,下一步进入第一个插入的任务。
	p.Advance()
	current, ok := p.Current()
	if !ok || current.Title != "new-a" {
		t.Fatalf("游标应指向 new-a, got %+v", current)
	}
}

func TestSpliceRestoresReflectTail(t *testing.T) {
	// 常见形态:游标停在末尾的 reflect 上,它插入了新任务。
	p := NewPlan([]schema.TaskItem{{Block: "reflect_block", Title: "terminal"}})
	p.Splice([]schema.TaskItem{{Block: "sql_block", Title: "extra"}})

	tasks := p.Tasks()
	if len(tasks) != 3 {
		t.Fatalf("len = %d, 期望 3", len(tasks))
	}
	if tasks[1].Title != "extra" {
		t.Fatalf("插入位置不符: %+v", tasks)
	}
	if tasks[2].Block != string(schema.KindReflect) {
		t.Fatalf("末尾任务 = %q, 期望 reflect_block", tasks[2].Block)
	}
}

func TestSpliceEmptyIsNoop(t *testing.T) {
	p := NewPlan([]schema.TaskItem{{Block: "reflect_block"}})
	p.Splice(nil)
	if p.Len() != 1 {
		t.Fatalf("len = %d, 期望 1", p.Len())
	}
}
