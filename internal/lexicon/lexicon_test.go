package lexicon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNormalizeName(t *testing.T) {
	lex := Default()
	cases := map[string]string{
		"Tomato":   "tomatoes",
		"tomatoe":  "tomatoes",
		"TOMATOES": "tomatoes",
		"  Milk ":  "milk",
	}
	for raw, want := range cases {
		if got := lex.NormalizeName(raw); got != want {
			t.Errorf("NormalizeName(%q) = %q, 期望 %q", raw, got, want)
		}
	}
}

func TestGuessQuantityUnit(t *testing.T) {
	lex := Default()
	quantity, unit, ok := lex.GuessQuantityUnit("Add 2 liters of milk expiring tomorrow")
	if !ok {
		t.Fatal("期望识别出数量和单位")
	}
	if quantity != 2.0 || unit != "liter" {
		t.Fatalf("got (%v, %q), 期望 (2, liter)", quantity, unit)
	}

	if _, _, ok := lex.GuessQuantityUnit("add some milk"); ok {
		t.Fatal("无数量单位时不应误报")
	}

	quantity, unit, ok = lex.GuessQuantityUnit("buy 1.5 bags of rice")
	if !ok || quantity != 1.5 || unit != "bag" {
		t.Fatalf("got (%v, %q, %v), 期望 (1.5, bag, true)", quantity, unit, ok)
	}
}

func TestResolveDatePhraseDeterministic(t *testing.T) {
	lex := Default()
	cases := map[string]string{
		"today":      "2025-01-01",
		"tomorrow":   "2025-01-02",
		"next week":  "2025-01-08",
		"in 2 days":  "2025-01-03",
		"in 2 weeks": "2025-01-15",
		"In 1 Week":  "2025-01-08",
	}
	for phrase, want := range cases {
		got, ok := lex.ResolveDatePhrase(phrase, fixedNow)
		if !ok {
			t.Errorf("ResolveDatePhrase(%q) 未解析", phrase)
			continue
		}
		if got != want {
			t.Errorf("ResolveDatePhrase(%q) = %q, 期望 %q", phrase, got, want)
		}
	}

	if _, ok := lex.ResolveDatePhrase("someday", fixedNow); ok {
		t.Fatal("未知短语不应解析")
	}
}

func TestGuessExpirationFromText(t *testing.T) {
	lex := Default()
	date, ok := lex.GuessExpiration("Add 2 liters of milk expiring tomorrow", fixedNow)
	if !ok || date != "2025-01-02" {
		t.Fatalf("got (%q, %v), 期望 (2025-01-02, true)", date, ok)
	}

	date, ok = lex.GuessExpiration("yogurt expires in 2 weeks", fixedNow)
	if !ok || date != "2025-01-15" {
		t.Fatalf("got (%q, %v), 期望 (2025-01-15, true)", date, ok)
	}

	if _, ok := lex.GuessExpiration("add milk", fixedNow); ok {
		t.Fatal("无过期短语时不应误报")
	}
}

func TestLoadFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lexicon.json")
	payload := `{
  "name_synonyms": {"Avocadoe": "avocados"},
  "date_offsets": {"day after tomorrow": 2}
}`
	if err := os.WriteFile(path, []byte(payload), 0o644); err != nil {
		t.Fatalf("写入测试文件失败: %v", err)
	}

	lex, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if got := lex.NormalizeName("avocadoe"); got != "avocados" {
		t.Fatalf("覆盖同义词未生效: %q", got)
	}
	// 内置条目仍然可用。
	if got := lex.NormalizeName("tomato"); got != "tomatoes" {
		t.Fatalf("内置同义词丢失: %q", got)
	}
	date, ok := lex.ResolveDatePhrase("day after tomorrow", fixedNow)
	if !ok || date != "2025-01-03" {
		t.Fatalf("覆盖日期短语未生效: (%q, %v)", date, ok)
	}
}
