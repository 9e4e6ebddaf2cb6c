// Package memory 提供内存版存储实现。它按结构化语句执行,行为与
// MySQL 实现对齐,用于本地迭代与测试。
package memory

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	apperrors "PantryPilot/internal/errors"
	"PantryPilot/internal/schema"
	"PantryPilot/internal/sqlguard"
	"PantryPilot/internal/store"
)

// Store 是 store.Store 的内存实现。
type Store struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	columns []string
	rows    []store.Row
}

// NewStore 按给定的表结构创建空库。
func NewStore(schemas map[string][]string) *Store {
	tables := make(map[string]*table, len(schemas))
	for name, columns := range schemas {
		tables[name] = &table{columns: append([]string(nil), columns...)}
	}
	return &Store{tables: tables}
}

// DefaultSchemas 返回与部署迁移一致的表结构,供本地模式直接使用。
func DefaultSchemas() map[string][]string {
	return map[string][]string{
		"fridge_items":   {"id", "name", "quantity", "unit", "category", "expiration_date"},
		"shopping_items": {"id", "name", "quantity", "unit", "category"},
		"invoices":       {"id", "vendor", "total_amount", "invoice_date"},
		"invoice_items":  {"id", "invoice_id", "name", "quantity", "unit_price"},
	}
}

// Seed 直接插入行,跳过守卫,仅用于初始化与测试。
func (s *Store) Seed(tableName string, rows []store.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[tableName]
	if !ok {
		return fmt.Errorf("未知表 %q", tableName)
	}
	for _, row := range rows {
		copied := make(store.Row, len(row))
		for column, value := range row {
			copied[column] = value
		}
		tbl.rows = append(tbl.rows, copied)
	}
	return nil
}

// SeedDefaults 写入与 MySQL 部署迁移相同的示例数据。
func (s *Store) SeedDefaults() error {
	seeds := map[string][]store.Row{
		"fridge_items": {
			{"id": float64(1), "name": "Milk", "quantity": float64(1), "unit": "liter", "category": "dairy", "expiration_date": "2025-02-01"},
			{"id": float64(2), "name": "Eggs", "quantity": float64(12), "unit": "unit", "category": "dairy", "expiration_date": "2025-01-20"},
			{"id": float64(3), "name": "Spinach", "quantity": float64(1), "unit": "bag", "category": "vegetables", "expiration_date": "2025-01-18"},
		},
		"shopping_items": {
			{"id": float64(1), "name": "Cheese", "quantity": float64(1), "unit": "pack", "category": "dairy"},
			{"id": float64(2), "name": "Tomatoes", "quantity": float64(5), "unit": "unit", "category": "vegetables"},
			{"id": float64(3), "name": "Chicken Breast", "quantity": float64(2), "unit": "kg", "category": "meat"},
		},
		"invoices": {
			{"id": float64(1), "vendor": "SuperMart", "total_amount": float64(23.50), "invoice_date": "2025-01-10"},
			{"id": float64(2), "vendor": "GroceryTown", "total_amount": float64(45.00), "invoice_date": "2025-01-15"},
		},
		"invoice_items": {
			{"id": float64(1), "invoice_id": float64(1), "name": "Milk", "quantity": float64(2), "unit_price": float64(1.20)},
			{"id": float64(2), "invoice_id": float64(1), "name": "Butter", "quantity": float64(1), "unit_price": float64(2.50)},
			{"id": float64(3), "invoice_id": float64(2), "name": "Chicken Breast", "quantity": float64(2), "unit_price": float64(5.00)},
			{"id": float64(4), "invoice_id": float64(2), "name": "Eggs", "quantity": float64(12), "unit_price": float64(0.15)},
		},
	}
	for tableName, rows := range seeds {
		if err := s.Seed(tableName, rows); err != nil {
			return err
		}
	}
	return nil
}

// Select 按结构化条件过滤并投影。
func (s *Store) Select(_ context.Context, stmt *sqlguard.Statement) ([]store.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tbl, err := s.table(stmt)
	if err != nil {
		return nil, err
	}
	cond, err := parseWhere(stmt)
	if err != nil {
		return nil, err
	}

	result := make([]store.Row, 0)
	for _, row := range tbl.rows {
		if !cond.matches(row) {
			continue
		}
		result = append(result, projectRow(row, stmt.Columns))
	}
	return result, nil
}

// Exec 执行单条写语句。
func (s *Store) Exec(_ context.Context, stmt *sqlguard.Statement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.execLocked(stmt)
}

// ExecBatch 在一次快照内依次执行,任一失败则恢复快照。
func (s *Store) ExecBatch(_ context.Context, stmts []*sqlguard.Statement) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.snapshotLocked()
	var total int64
	for _, stmt := range stmts {
		affected, err := s.execLocked(stmt)
		if err != nil {
			s.tables = snapshot
			return total, err
		}
		total += affected
	}
	return total, nil
}

// TableSchemas 返回表结构副本。
func (s *Store) TableSchemas(context.Context) (map[string][]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schemas := make(map[string][]string, len(s.tables))
	for name, tbl := range s.tables {
		schemas[name] = append([]string(nil), tbl.columns...)
	}
	return schemas, nil
}

// Close 实现 store.Store,无资源可释放。
func (s *Store) Close() error { return nil }

func (s *Store) execLocked(stmt *sqlguard.Statement) (int64, error) {
	tbl, err := s.table(stmt)
	if err != nil {
		return 0, err
	}
	switch stmt.Action {
	case schema.ActionInsert:
		row := make(store.Row, len(tbl.columns))
		for _, column := range tbl.columns {
			row[column] = nil
		}
		for i, column := range stmt.Columns {
			if !tbl.hasColumn(column) {
				return 0, executionError(stmt, fmt.Errorf("表 %q 没有列 %q", stmt.Table, column))
			}
			row[column] = convertValue(stmt.Values[i])
		}
		tbl.rows = append(tbl.rows, row)
		return 1, nil

	case schema.ActionUpdate:
		cond, err := parseWhere(stmt)
		if err != nil {
			return 0, err
		}
		// 先整体校验列名,再改行,坏列不能留下改了一半的行。
		for _, column := range stmt.Columns {
			if !tbl.hasColumn(column) {
				return 0, executionError(stmt, fmt.Errorf("表 %q 没有列 %q", stmt.Table, column))
			}
		}
		var affected int64
		for _, row := range tbl.rows {
			if !cond.matches(row) {
				continue
			}
			for i, column := range stmt.Columns {
				row[column] = convertValue(stmt.Values[i])
			}
			affected++
		}
		return affected, nil

	case schema.ActionDelete:
		cond, err := parseWhere(stmt)
		if err != nil {
			return 0, err
		}
		kept := tbl.rows[:0]
		var affected int64
		for _, row := range tbl.rows {
			if cond.matches(row) {
				affected++
				continue
			}
			kept = append(kept, row)
		}
		tbl.rows = kept
		return affected, nil

	default:
		return 0, executionError(stmt, fmt.Errorf("不支持的写动作 %q", stmt.Action))
	}
}

func (s *Store) table(stmt *sqlguard.Statement) (*table, error) {
	tbl, ok := s.tables[stmt.Table]
	if !ok {
		return nil, executionError(stmt, fmt.Errorf("未知表 %q", stmt.Table))
	}
	return tbl, nil
}

func (s *Store) snapshotLocked() map[string]*table {
	snapshot := make(map[string]*table, len(s.tables))
	for name, tbl := range s.tables {
		rows := make([]store.Row, len(tbl.rows))
		for i, row := range tbl.rows {
			copied := make(store.Row, len(row))
			for column, value := range row {
				copied[column] = value
			}
			rows[i] = copied
		}
		snapshot[name] = &table{columns: append([]string(nil), tbl.columns...), rows: rows}
	}
	return snapshot
}

func (t *table) hasColumn(name string) bool {
	for _, column := range t.columns {
		if column == name {
			return true
		}
	}
	return false
}

func projectRow(row store.Row, columns []string) store.Row {
	if len(columns) == 0 {
		copied := make(store.Row, len(row))
		for column, value := range row {
			copied[column] = value
		}
		return copied
	}
	projected := make(store.Row, len(columns))
	for _, column := range columns {
		projected[column] = row[column]
	}
	return projected
}

// condition 是内存实现支持的等值过滤。nil 条件匹配所有行。
type condition struct {
	column  string
	text    string
	number  float64
	numeric bool
	fold    bool
}

var (
	foldedNameEq   = regexp.MustCompile(`(?i)^where\s+lower\((\w+)\)\s*=\s*lower\((?:'([^']*)'|"([^"]*)")\)$`)
	quotedColumnEq = regexp.MustCompile(`(?i)^where\s+(\w+)\s*=\s*(?:'([^']*)'|"([^"]*)")$`)
	numberColumnEq = regexp.MustCompile(`(?i)^where\s+(\w+)\s*=\s*(\d+(?:\.\d+)?)$`)
)

func parseWhere(stmt *sqlguard.Statement) (*condition, error) {
	where := strings.TrimSpace(stmt.Where)
	if where == "" {
		return nil, nil
	}
	if m := foldedNameEq.FindStringSubmatch(where); m != nil {
		return &condition{column: m[1], text: m[2] + m[3], fold: true}, nil
	}
	if m := quotedColumnEq.FindStringSubmatch(where); m != nil {
		return &condition{column: m[1], text: m[2] + m[3]}, nil
	}
	if m := numberColumnEq.FindStringSubmatch(where); m != nil {
		number, err := strconv.ParseFloat(m[2], 64)
		if err != nil {
			return nil, executionError(stmt, err)
		}
		return &condition{column: m[1], number: number, numeric: true}, nil
	}
	return nil, executionError(stmt, fmt.Errorf("内存存储不支持过滤条件 %q", where))
}

func (c *condition) matches(row store.Row) bool {
	if c == nil {
		return true
	}
	value, ok := row[c.column]
	if !ok || value == nil {
		return false
	}
	if c.numeric {
		number, ok := toFloat(value)
		return ok && number == c.number
	}
	text := fmt.Sprintf("%v", value)
	if c.fold {
		return strings.EqualFold(text, c.text)
	}
	return text == c.text
}

func toFloat(v any) (float64, bool) {
	switch value := v.(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	case int64:
		return float64(value), true
	case string:
		number, err := strconv.ParseFloat(value, 64)
		return number, err == nil
	default:
		return 0, false
	}
}

// convertValue 把守卫保留的原始取值折叠为存储类型:null 为 nil,
// 数字字面量为 float64,带引号的字符串去引号并还原转义。
func convertValue(v schema.Value) any {
	if v.Null {
		return nil
	}
	raw := v.Raw
	if len(raw) >= 2 && strings.HasPrefix(raw, "'") && strings.HasSuffix(raw, "'") {
		return strings.ReplaceAll(raw[1:len(raw)-1], "''", "'")
	}
	if number, err := strconv.ParseFloat(raw, 64); err == nil {
		return number
	}
	return raw
}

func executionError(stmt *sqlguard.Statement, err error) error {
	return apperrors.Wrap(apperrors.CodeSQLExecution, err,
		fmt.Sprintf("执行语句失败: %s", stmt.SQL),
		apperrors.WithMetadata("statement", stmt.SQL),
		apperrors.WithMetadata("table", stmt.Table))
}

var _ store.Store = (*Store)(nil)
