// Package store 定义语句执行的存储抽象。核心编排逻辑只依赖这里的
// 接口,生产环境由 MySQL 实现,测试由内存实现。
package store

import (
	"context"

	"PantryPilot/internal/sqlguard"
)

// Row 是一行查询结果,列名到取值。
type Row = map[string]any

// Store 是面向表的执行接口。实现必须保证:执行失败返回携带语句文本
// 的结构化错误,并且任何已打开的写事务在返回前回滚。
type Store interface {
	// Select 执行查询,返回有序行集。
	Select(ctx context.Context, stmt *sqlguard.Statement) ([]Row, error)

	// Exec 执行单条写语句,返回受影响行数。
	Exec(ctx context.Context, stmt *sqlguard.Statement) (int64, error)

	// ExecBatch 在单个事务内依次执行写语句。任意一条失败则整体回滚,
	// 返回失败前累计的行数与错误;全部成功则提交并返回总行数。
	ExecBatch(ctx context.Context, stmts []*sqlguard.Statement) (int64, error)

	// TableSchemas 返回表名到有序列名的映射。
	TableSchemas(ctx context.Context) (map[string][]string, error)

	// Close 释放底层连接。
	Close() error
}
