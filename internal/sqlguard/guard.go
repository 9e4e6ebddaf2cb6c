package sqlguard

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "PantryPilot/internal/errors"
	"PantryPilot/internal/schema"
)

// Permission 表示某张表的写入策略。
type Permission string

const (
	// PermissionAlwaysAllow 允许任意读写。
	PermissionAlwaysAllow Permission = "ALWAYS_ALLOW"
	// PermissionRequireUser 写入需要用户确认,读取不受限。
	PermissionRequireUser Permission = "REQUIRE_USER"
	// PermissionAlwaysDeny 读写一律拒绝。
	PermissionAlwaysDeny Permission = "ALWAYS_DENY"
)

// ParsePermission 解析配置中的策略字符串。
func ParsePermission(name string) (Permission, bool) {
	switch Permission(strings.ToUpper(strings.TrimSpace(name))) {
	case PermissionAlwaysAllow:
		return PermissionAlwaysAllow, true
	case PermissionRequireUser:
		return PermissionRequireUser, true
	case PermissionAlwaysDeny:
		return PermissionAlwaysDeny, true
	default:
		return "", false
	}
}

// Statement 是守卫产出的可执行语句。SQL 字段携带完整语句文本,
// 结构化字段保留原始成分,方便存储层选择按文本或按结构执行。
type Statement struct {
	Action  string
	Table   string
	Columns []string
	Values  []schema.Value
	Where   string
	SQL     string
}

// Guard 在语句构建前执行表级策略与参数校验。
// 权限表在进程启动时注入,运行期间只读。
type Guard struct {
	permissions   map[string]Permission
	confirmWrites bool
}

// NewGuard 创建守卫。未出现在 permissions 中的表默认拒绝。
func NewGuard(permissions map[string]Permission, confirmWrites bool) *Guard {
	copied := make(map[string]Permission, len(permissions))
	for table, perm := range permissions {
		copied[table] = perm
	}
	return &Guard{permissions: copied, confirmWrites: confirmWrites}
}

// PermissionFor 返回表的策略,未知表视为 ALWAYS_DENY。
func (g *Guard) PermissionFor(table string) Permission {
	if perm, ok := g.permissions[table]; ok {
		return perm
	}
	return PermissionAlwaysDeny
}

// Authorize 校验给定动作能否作用于表。
// SELECT 仅受 ALWAYS_DENY 限制;写入在 REQUIRE_USER 下还需确认标志。
func (g *Guard) Authorize(action, table string) error {
	perm := g.PermissionFor(table)
	if perm == PermissionAlwaysDeny {
		return apperrors.New(apperrors.CodePermissionDenied,
			fmt.Sprintf("operation %s on table %q is denied by policy", action, table),
			apperrors.WithMetadata("table", table),
			apperrors.WithMetadata("action", action))
	}
	if action == schema.ActionSelect {
		return nil
	}
	if perm == PermissionRequireUser && !g.confirmWrites {
		return apperrors.New(apperrors.CodePermissionDenied,
			fmt.Sprintf("write to table %q requires user confirmation", table),
			apperrors.WithMetadata("table", table),
			apperrors.WithMetadata("action", action))
	}
	return nil
}

// Build 按动作类型分派到对应的构建函数。
func (g *Guard) Build(args schema.SQLArgs) (*Statement, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	switch args.ActionType {
	case schema.ActionSelect:
		return g.BuildSelect(args.TableName, args.Columns, args.WhereClause)
	case schema.ActionInsert:
		return g.BuildInsert(args.TableName, args.Columns, args.Values)
	case schema.ActionUpdate:
		return g.BuildUpdate(args.TableName, args.Columns, args.Values, args.WhereClause)
	case schema.ActionDelete:
		return g.BuildDelete(args.TableName, args.WhereClause)
	default:
		return nil, apperrors.New(apperrors.CodeValidationFailed,
			fmt.Sprintf("unsupported action type %q", args.ActionType))
	}
}

// BuildSelect 构建查询语句。columns 为空时退化为 SELECT *。
func (g *Guard) BuildSelect(table string, columns []string, where string) (*Statement, error) {
	if err := g.Authorize(schema.ActionSelect, table); err != nil {
		return nil, err
	}
	columnList := "*"
	if len(columns) > 0 {
		columnList = strings.Join(columns, ", ")
	}
	where = strings.TrimSpace(where)
	if where != "" {
		if err := validateWhere(where); err != nil {
			return nil, err
		}
		where = RewriteNameFilter(where)
	}
	text := fmt.Sprintf("SELECT %s FROM %s", columnList, table)
	if where != "" {
		text += " " + where
	}
	return &Statement{
		Action:  schema.ActionSelect,
		Table:   table,
		Columns: columns,
		Where:   where,
		SQL:     text,
	}, nil
}

// BuildInsert 构建插入语句,要求列数与值数一致。
func (g *Guard) BuildInsert(table string, columns []string, values []schema.Value) (*Statement, error) {
	if err := g.Authorize(schema.ActionInsert, table); err != nil {
		return nil, err
	}
	if len(columns) != len(values) {
		return nil, columnValueMismatch(table, len(columns), len(values))
	}
	if len(columns) == 0 {
		return nil, apperrors.New(apperrors.CodeValidationFailed,
			fmt.Sprintf("insert into table %q has no columns", table))
	}
	literals := make([]string, len(values))
	for i, v := range values {
		literals[i] = renderValue(v)
	}
	text := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(columns, ", "), strings.Join(literals, ", "))
	return &Statement{
		Action:  schema.ActionInsert,
		Table:   table,
		Columns: columns,
		Values:  values,
		SQL:     text,
	}, nil
}

// BuildUpdate 构建更新语句,WHERE 子句必填且必须以 WHERE 开头。
func (g *Guard) BuildUpdate(table string, columns []string, values []schema.Value, where string) (*Statement, error) {
	if err := g.Authorize(schema.ActionUpdate, table); err != nil {
		return nil, err
	}
	if len(columns) != len(values) {
		return nil, columnValueMismatch(table, len(columns), len(values))
	}
	if len(columns) == 0 {
		return nil, apperrors.New(apperrors.CodeValidationFailed,
			fmt.Sprintf("update on table %q has no columns", table))
	}
	if err := validateWhere(where); err != nil {
		return nil, err
	}
	where = RewriteNameFilter(strings.TrimSpace(where))
	assignments := make([]string, len(columns))
	for i, column := range columns {
		assignments[i] = fmt.Sprintf("%s = %s", column, renderValue(values[i]))
	}
	text := fmt.Sprintf("UPDATE %s SET %s %s", table, strings.Join(assignments, ", "), where)
	return &Statement{
		Action:  schema.ActionUpdate,
		Table:   table,
		Columns: columns,
		Values:  values,
		Where:   where,
		SQL:     text,
	}, nil
}

// BuildDelete 构建删除语句,约束与 BuildUpdate 相同。
func (g *Guard) BuildDelete(table string, where string) (*Statement, error) {
	if err := g.Authorize(schema.ActionDelete, table); err != nil {
		return nil, err
	}
	if err := validateWhere(where); err != nil {
		return nil, err
	}
	where = RewriteNameFilter(strings.TrimSpace(where))
	text := fmt.Sprintf("DELETE FROM %s %s", table, where)
	return &Statement{
		Action: schema.ActionDelete,
		Table:  table,
		Where:  where,
		SQL:    text,
	}, nil
}

// BuildBatchInsert 将批量插入展开为逐行语句,由存储层在单事务内执行。
func (g *Guard) BuildBatchInsert(args schema.BatchInsertArgs) ([]*Statement, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	statements := make([]*Statement, 0, len(args.Rows))
	for i, row := range args.Rows {
		stmt, err := g.BuildInsert(args.TableName, row.Columns, row.Values)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeOf(err), err,
				fmt.Sprintf("batch insert row %d", i))
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

// BuildBatchUpdate 将批量更新展开为逐行语句。
func (g *Guard) BuildBatchUpdate(args schema.BatchUpdateArgs) ([]*Statement, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	statements := make([]*Statement, 0, len(args.Rows))
	for i, row := range args.Rows {
		stmt, err := g.BuildUpdate(args.TableName, row.Columns, row.Values, row.WhereClause)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeOf(err), err,
				fmt.Sprintf("batch update row %d", i))
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

// BuildBatchDelete 将批量删除展开为逐行语句。
func (g *Guard) BuildBatchDelete(args schema.BatchDeleteArgs) ([]*Statement, error) {
	if err := args.Validate(); err != nil {
		return nil, err
	}
	statements := make([]*Statement, 0, len(args.Rows))
	for i, row := range args.Rows {
		stmt, err := g.BuildDelete(args.TableName, row.WhereClause)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeOf(err), err,
				fmt.Sprintf("batch delete row %d", i))
		}
		statements = append(statements, stmt)
	}
	return statements, nil
}

func columnValueMismatch(table string, columns, values int) error {
	return apperrors.New(apperrors.CodeValidationFailed,
		fmt.Sprintf("column/value count mismatch on table %q: %d columns, %d values", table, columns, values))
}

func validateWhere(where string) error {
	fields := strings.Fields(where)
	if len(fields) == 0 || !strings.EqualFold(fields[0], "WHERE") {
		return apperrors.New(apperrors.CodeValidationFailed,
			"write without a WHERE filter is rejected")
	}
	return nil
}

var (
	singleQuotedNameEq = regexp.MustCompile(`(?i)^where\s+name\s*=\s*'([^']*)'$`)
	doubleQuotedNameEq = regexp.MustCompile(`(?i)^where\s+name\s*=\s*"([^"]*)"$`)
	numericLiteral     = regexp.MustCompile(`^\d+(\.\d+)?$`)
	singleQuoted       = regexp.MustCompile(`^'.*'$`)
)

// RewriteNameFilter 把形如 WHERE name = 'x' 的等值过滤改写为大小写不敏感
// 的比较,保留原引号。其他列、其他操作符或已改写的过滤原样返回。
func RewriteNameFilter(where string) string {
	trimmed := strings.TrimSpace(where)
	if m := singleQuotedNameEq.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf("WHERE LOWER(name) = LOWER('%s')", m[1])
	}
	if m := doubleQuotedNameEq.FindStringSubmatch(trimmed); m != nil {
		return fmt.Sprintf(`WHERE LOWER(name) = LOWER("%s")`, m[1])
	}
	return where
}

// renderValue 将取值渲染为语句字面量:null 渲染为 NULL,已带单引号或
// 纯十进制数字原样通过,其余用单引号包裹并转义内部引号。
func renderValue(v schema.Value) string {
	if v.Null {
		return "NULL"
	}
	raw := v.Raw
	if singleQuoted.MatchString(raw) {
		return raw
	}
	if numericLiteral.MatchString(raw) {
		return raw
	}
	return "'" + strings.ReplaceAll(raw, "'", "''") + "'"
}
