// Package mysql 提供基于 MySQL 的存储实现。守卫产出的语句文本被
// 原样执行,表结构通过 information_schema 在线探测。
package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"

	apperrors "PantryPilot/internal/errors"
	"PantryPilot/internal/sqlguard"
	"PantryPilot/internal/store"
)

// Config MySQL 连接配置。
type Config struct {
	DSN             string
	Database        string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Store 是 store.Store 的 MySQL 实现。
type Store struct {
	db       *sql.DB
	database string
}

// NewStore 建立连接池并校验连通性。
func NewStore(ctx context.Context, cfg Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("MySQL DSN 不能为空")
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return nil, fmt.Errorf("MySQL 数据库名不能为空")
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("连接 MySQL 失败: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(20)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(10)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}
	if cfg.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("无法连接到 MySQL: %w", err)
	}
	return &Store{db: db, database: cfg.Database}, nil
}

// Select 执行查询语句,把每一行扫描为列名到取值的映射。
func (s *Store) Select(ctx context.Context, stmt *sqlguard.Statement) ([]store.Row, error) {
	rows, err := s.db.QueryContext(ctx, stmt.SQL)
	if err != nil {
		return nil, executionError(stmt, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, executionError(stmt, err)
	}

	result := make([]store.Row, 0)
	for rows.Next() {
		values := make([]any, len(columns))
		scan := make([]any, len(columns))
		for i := range values {
			scan[i] = &values[i]
		}
		if err := rows.Scan(scan...); err != nil {
			return nil, executionError(stmt, err)
		}
		row := make(store.Row, len(columns))
		for i, column := range columns {
			row[column] = normalizeValue(values[i])
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, executionError(stmt, err)
	}
	return result, nil
}

// Exec 执行单条写语句。
func (s *Store) Exec(ctx context.Context, stmt *sqlguard.Statement) (int64, error) {
	result, err := s.db.ExecContext(ctx, stmt.SQL)
	if err != nil {
		return 0, executionError(stmt, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, executionError(stmt, err)
	}
	return affected, nil
}

// ExecBatch 在单事务内依次执行。任一语句失败则整体回滚,
// 返回失败前累计的行数与错误。
func (s *Store) ExecBatch(ctx context.Context, stmts []*sqlguard.Statement) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeSQLExecution, err, "开启批量事务失败")
	}

	var total int64
	for _, stmt := range stmts {
		result, err := tx.ExecContext(ctx, stmt.SQL)
		if err != nil {
			tx.Rollback()
			return total, executionError(stmt, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			tx.Rollback()
			return total, executionError(stmt, err)
		}
		total += affected
	}
	if err := tx.Commit(); err != nil {
		return total, apperrors.Wrap(apperrors.CodeSQLExecution, err, "提交批量事务失败")
	}
	return total, nil
}

// TableSchemas 从 information_schema 读取库内所有表的有序列名。
func (s *Store) TableSchemas(ctx context.Context) (map[string][]string, error) {
	const query = `SELECT table_name, column_name
FROM information_schema.columns
WHERE table_schema = ?
ORDER BY table_name, ordinal_position`

	rows, err := s.db.QueryContext(ctx, query, s.database)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "读取表结构失败")
	}
	defer rows.Close()

	schemas := make(map[string][]string)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "扫描表结构失败")
		}
		schemas[table] = append(schemas[table], column)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageFailure, err, "遍历表结构失败")
	}
	return schemas, nil
}

// Close 关闭连接池。
func (s *Store) Close() error {
	return s.db.Close()
}

// DB 暴露底层连接,供迁移与任务仓库复用同一个池。
func (s *Store) DB() *sql.DB {
	return s.db
}

func executionError(stmt *sqlguard.Statement, err error) error {
	return apperrors.Wrap(apperrors.CodeSQLExecution, err,
		fmt.Sprintf("执行语句失败: %s", stmt.SQL),
		apperrors.WithMetadata("statement", stmt.SQL),
		apperrors.WithMetadata("table", stmt.Table))
}

// normalizeValue 把驱动返回的取值折叠为 JSON 友好的类型。
func normalizeValue(v any) any {
	switch value := v.(type) {
	case []byte:
		return string(value)
	case time.Time:
		return value.Format("2006-01-02 15:04:05")
	default:
		return v
	}
}

var _ store.Store = (*Store)(nil)
