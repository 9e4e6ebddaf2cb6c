package sqlguard

import (
	"errors"
	"strings"
	"testing"

	apperrors "PantryPilot/internal/errors"
	"PantryPilot/internal/schema"
)

func testGuard() *Guard {
	return NewGuard(map[string]Permission{
		"fridge_items":   PermissionAlwaysAllow,
		"shopping_items": PermissionAlwaysAllow,
		"invoices":       PermissionRequireUser,
		"audit_log":      PermissionAlwaysDeny,
	}, true)
}

func TestBuildInsertColumnValueMismatch(t *testing.T) {
	g := testGuard()
	_, err := g.BuildInsert("fridge_items",
		[]string{"name", "quantity"},
		[]schema.Value{schema.StringValue("milk")})
	if err == nil {
		t.Fatal("期望列值数量不一致时报错")
	}
	if apperrors.CodeOf(err) != apperrors.CodeValidationFailed {
		t.Fatalf("错误码 = %v, 期望 %v", apperrors.CodeOf(err), apperrors.CodeValidationFailed)
	}
}

func TestBuildInsertRendersLiterals(t *testing.T) {
	g := testGuard()
	stmt, err := g.BuildInsert("fridge_items",
		[]string{"name", "quantity", "unit", "expiration_date"},
		[]schema.Value{
			schema.StringValue("milk"),
			schema.StringValue("2"),
			schema.StringValue("'liter'"),
			schema.NullValue(),
		})
	if err != nil {
		t.Fatalf("BuildInsert: %v", err)
	}
	want := "INSERT INTO fridge_items (name, quantity, unit, expiration_date) VALUES ('milk', 2, 'liter', NULL)"
	if stmt.SQL != want {
		t.Fatalf("SQL = %q, 期望 %q", stmt.SQL, want)
	}
}

func TestBuildInsertEscapesEmbeddedQuote(t *testing.T) {
	g := testGuard()
	stmt, err := g.BuildInsert("fridge_items",
		[]string{"name"},
		[]schema.Value{schema.StringValue("chef's salad")})
	if err != nil {
		t.Fatalf("BuildInsert: %v", err)
	}
	if !strings.Contains(stmt.SQL, "'chef''s salad'") {
		t.Fatalf("SQL = %q, 期望转义内部引号", stmt.SQL)
	}
}

func TestWriteWithoutWhereRejected(t *testing.T) {
	g := testGuard()
	cases := []string{"", "name = 'milk'", "name"}
	for _, where := range cases {
		if _, err := g.BuildDelete("fridge_items", where); err == nil {
			t.Fatalf("where = %q 应当被拒绝", where)
		}
		if _, err := g.BuildUpdate("fridge_items",
			[]string{"quantity"}, []schema.Value{schema.StringValue("3")}, where); err == nil {
			t.Fatalf("where = %q 应当被拒绝", where)
		}
	}
}

func TestWherePrefixCaseInsensitive(t *testing.T) {
	g := testGuard()
	if _, err := g.BuildDelete("fridge_items", "where quantity = 0"); err != nil {
		t.Fatalf("小写 where 应当通过: %v", err)
	}
}

func TestAlwaysDenyBlocksEverything(t *testing.T) {
	g := testGuard()
	if _, err := g.BuildSelect("audit_log", nil, ""); err == nil {
		t.Fatal("ALWAYS_DENY 下 SELECT 应当被拒绝")
	}
	if _, err := g.BuildInsert("audit_log",
		[]string{"name"}, []schema.Value{schema.StringValue("x")}); err == nil {
		t.Fatal("ALWAYS_DENY 下 INSERT 应当被拒绝")
	}
	// 未登记的表视同 ALWAYS_DENY。
	if _, err := g.BuildSelect("unknown_table", nil, ""); err == nil {
		t.Fatal("未知表应当被拒绝")
	}
}

func TestDenialErrorCarriesMetadata(t *testing.T) {
	g := testGuard()
	err := g.Authorize(schema.ActionDelete, "audit_log")
	if apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Fatalf("错误码 = %v, 期望 %v", apperrors.CodeOf(err), apperrors.CodePermissionDenied)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("期望 *apperrors.Error, got %T", err)
	}
	meta := appErr.Metadata()
	if meta["table"] != "audit_log" || meta["action"] != schema.ActionDelete {
		t.Fatalf("metadata = %v, 期望包含 table 与 action", meta)
	}
}

func TestRequireUserGatesWrites(t *testing.T) {
	unconfirmed := NewGuard(map[string]Permission{"invoices": PermissionRequireUser}, false)
	if _, err := unconfirmed.BuildSelect("invoices", nil, ""); err != nil {
		t.Fatalf("REQUIRE_USER 不限制 SELECT: %v", err)
	}
	_, err := unconfirmed.BuildInsert("invoices",
		[]string{"vendor"}, []schema.Value{schema.StringValue("acme")})
	if apperrors.CodeOf(err) != apperrors.CodePermissionDenied {
		t.Fatalf("未确认时写入应当被拒绝, got %v", err)
	}

	confirmed := NewGuard(map[string]Permission{"invoices": PermissionRequireUser}, true)
	if _, err := confirmed.BuildInsert("invoices",
		[]string{"vendor"}, []schema.Value{schema.StringValue("acme")}); err != nil {
		t.Fatalf("已确认时写入应当放行: %v", err)
	}
}

func TestRewriteNameFilter(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"WHERE name = 'Tomatoes'", "WHERE LOWER(name) = LOWER('Tomatoes')"},
		{"where name='milk'", "WHERE LOWER(name) = LOWER('milk')"},
		{`WHERE name = "Eggs"`, `WHERE LOWER(name) = LOWER("Eggs")`},
		// 改写幂等。
		{"WHERE LOWER(name) = LOWER('Tomatoes')", "WHERE LOWER(name) = LOWER('Tomatoes')"},
		// 其他列或操作符不改写。
		{"WHERE category = 'dairy'", "WHERE category = 'dairy'"},
		{"WHERE quantity = 2", "WHERE quantity = 2"},
		{"WHERE name LIKE 'tom%'", "WHERE name LIKE 'tom%'"},
	}
	for _, tc := range cases {
		if got := RewriteNameFilter(tc.in); got != tc.want {
			t.Errorf("RewriteNameFilter(%q) = %q, 期望 %q", tc.in, got, tc.want)
		}
	}
}

func TestDeleteAppliesRewrite(t *testing.T) {
	g := testGuard()
	upper, err := g.BuildDelete("fridge_items", "WHERE name = 'Tomatoes'")
	if err != nil {
		t.Fatalf("BuildDelete: %v", err)
	}
	lower, err := g.BuildDelete("fridge_items", "WHERE name = 'tomatoes'")
	if err != nil {
		t.Fatalf("BuildDelete: %v", err)
	}
	if !strings.Contains(upper.SQL, "LOWER(name)") || !strings.Contains(lower.SQL, "LOWER(name)") {
		t.Fatalf("期望两条语句都包含大小写折叠: %q / %q", upper.SQL, lower.SQL)
	}
}

func TestBuildBatchInsertRollsUpRowError(t *testing.T) {
	g := testGuard()
	_, err := g.BuildBatchInsert(schema.BatchInsertArgs{
		TableName: "fridge_items",
		Rows: []schema.InsertRow{
			{Columns: []string{"name"}, Values: []schema.Value{schema.StringValue("milk")}},
			{Columns: []string{"name", "quantity"}, Values: []schema.Value{schema.StringValue("eggs")}},
		},
	})
	if err == nil {
		t.Fatal("第二行列值不一致应当使整批失败")
	}
	if !strings.Contains(err.Error(), "row 1") {
		t.Fatalf("错误应当指出出错行: %v", err)
	}
}

func TestBuildSelectDefaultsToStar(t *testing.T) {
	g := testGuard()
	stmt, err := g.BuildSelect("fridge_items", nil, "")
	if err != nil {
		t.Fatalf("BuildSelect: %v", err)
	}
	if stmt.SQL != "SELECT * FROM fridge_items" {
		t.Fatalf("SQL = %q", stmt.SQL)
	}
}
