package pythonbridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"

	"PantryPilot/internal/llm"
)

// Client 通过调用本地 Python 脚本实现模型推理，便于在没有远端
// API 的环境下迭代。脚本从 stdin 读取请求 JSON，向 stdout 写结果。
type Client struct {
	pythonExec string
	scriptPath string
	workingDir string
}

// NewClient 创建 Python Bridge 客户端。
func NewClient(pythonExec, scriptPath, workingDir string) (*Client, error) {
	if scriptPath == "" {
		return nil, fmt.Errorf("未指定 Python 脚本路径")
	}
	if pythonExec == "" {
		pythonExec = "python3"
	}
	return &Client{
		pythonExec: pythonExec,
		scriptPath: scriptPath,
		workingDir: workingDir,
	}, nil
}

// Complete 调用外部脚本，并解析输出。
// 输入形如 {"system":..., "user":..., "functions":[...], "mode":...}；
// 输出要么是 {"name":..., "arguments":{...}}，要么是 {"text":"..."}。
func (c *Client) Complete(ctx context.Context, req llm.Request) (*llm.Outcome, error) {
	type function struct {
		Name        string         `json:"name"`
		Description string         `json:"description,omitempty"`
		Parameters  map[string]any `json:"parameters"`
	}
	functions := make([]function, 0, len(req.Functions))
	for _, def := range req.Functions {
		functions = append(functions, function{
			Name:        string(def.Name),
			Description: def.Description,
			Parameters:  def.Parameters,
		})
	}

	payload := map[string]any{
		"system":    req.System,
		"user":      req.User,
		"functions": functions,
		"mode":      string(req.Mode),
		"model":     req.Model,
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	command := exec.CommandContext(ctx, c.pythonExec, c.scriptPath)
	if c.workingDir != "" {
		command.Dir = c.workingDir
	}
	command.Stdin = bytes.NewReader(encoded)

	var stdout, stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("执行 Python 脚本失败: %v, stderr=%s", err, strings.TrimSpace(stderr.String()))
	}

	var resp struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
		Text      string          `json:"text"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("解析 Python 输出失败: %w", err)
	}

	if resp.Name != "" {
		return &llm.Outcome{
			Call: &llm.StructuredCall{Name: resp.Name, Arguments: resp.Arguments},
		}, nil
	}
	return &llm.Outcome{Text: resp.Text}, nil
}

// ResolveScriptPath 根据工作目录推导脚本绝对路径。
func ResolveScriptPath(workingDir, scriptPath string) string {
	if scriptPath == "" || filepath.IsAbs(scriptPath) {
		return scriptPath
	}
	if workingDir == "" {
		return scriptPath
	}
	return filepath.Join(workingDir, scriptPath)
}

var _ llm.Client = (*Client)(nil)
