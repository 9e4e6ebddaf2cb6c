// Package lexicon 提供解析自然语言条目时用到的词表:名称同义词、
// 数量单位模式和相对日期短语。词表可由 JSON 文件扩充。
package lexicon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Lexicon 是进程启动时装配的只读词表。
type Lexicon struct {
	nameSynonyms map[string]string
	dateOffsets  map[string]int
}

// overlay 是 JSON 覆盖文件的结构。
type overlay struct {
	NameSynonyms map[string]string `json:"name_synonyms"`
	DateOffsets  map[string]int    `json:"date_offsets"`
}

// Default 返回内置词表。
func Default() *Lexicon {
	return &Lexicon{
		nameSynonyms: map[string]string{
			"tomato":   "tomatoes",
			"tomatoe":  "tomatoes",
			"tomatoes": "tomatoes",
		},
		dateOffsets: map[string]int{
			"today":     0,
			"tomorrow":  1,
			"next week": 7,
		},
	}
}

// LoadFile 在内置词表之上叠加 JSON 覆盖文件。
func LoadFile(path string) (*Lexicon, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("词表文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("解析词表路径失败: %w", err)
	}
	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("读取词表文件失败: %w", err)
	}
	defer file.Close()

	var extra overlay
	if err := json.NewDecoder(file).Decode(&extra); err != nil {
		return nil, fmt.Errorf("解析词表文件失败: %w", err)
	}

	lex := Default()
	for raw, canonical := range extra.NameSynonyms {
		lex.nameSynonyms[strings.ToLower(strings.TrimSpace(raw))] = canonical
	}
	for phrase, offset := range extra.DateOffsets {
		lex.dateOffsets[strings.ToLower(strings.TrimSpace(phrase))] = offset
	}
	return lex, nil
}

// NormalizeName 折叠大小写并套用同义词表。
func (l *Lexicon) NormalizeName(raw string) string {
	lowered := strings.ToLower(strings.TrimSpace(raw))
	if canonical, ok := l.nameSynonyms[lowered]; ok {
		return canonical
	}
	return lowered
}

var quantityUnitPattern = regexp.MustCompile(
	`(?i)(\d+(?:\.\d+)?)\s*(liter|liters|unit|units|bag|bags|piece|pieces)\b`)

// GuessQuantityUnit 在自由文本里寻找「数字 单位词」的组合。
// 单位统一折叠为单数形式。
func (l *Lexicon) GuessQuantityUnit(text string) (float64, string, bool) {
	m := quantityUnitPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	quantity, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		quantity = 1.0
	}
	unit := strings.TrimSuffix(strings.ToLower(m[2]), "s")
	return quantity, unit, true
}

var (
	expiryCuePattern = regexp.MustCompile(
		`(?i)\b(?:expires?|expiring|expiry)\s+(today|tomorrow|next week|in\s+\d+\s+(?:days?|weeks?))\b`)
	relativeCountPattern = regexp.MustCompile(`(?i)^in\s+(\d+)\s+(days?|weeks?)$`)
)

// GuessExpiration 在自由文本里寻找过期短语并解析为 ISO 日期。
func (l *Lexicon) GuessExpiration(text string, now time.Time) (string, bool) {
	m := expiryCuePattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return l.ResolveDatePhrase(m[1], now)
}

// ResolveDatePhrase 把相对日期短语解析为 ISO 日期。
// 支持词表短语(today/tomorrow/next week 等)和 in N days/weeks。
func (l *Lexicon) ResolveDatePhrase(phrase string, now time.Time) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(phrase))
	normalized = strings.Join(strings.Fields(normalized), " ")

	if offset, ok := l.dateOffsets[normalized]; ok {
		return now.AddDate(0, 0, offset).Format("2006-01-02"), true
	}
	if m := relativeCountPattern.FindStringSubmatch(normalized); m != nil {
		count, err := strconv.Atoi(m[1])
		if err != nil {
			return "", false
		}
		days := count
		if strings.HasPrefix(m[2], "week") {
			days = count * 7
		}
		return now.AddDate(0, 0, days).Format("2006-01-02"), true
	}
	return "", false
}
