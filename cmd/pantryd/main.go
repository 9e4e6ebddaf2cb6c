package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"PantryPilot/internal/agent"
	"PantryPilot/internal/api"
	"PantryPilot/internal/auth"
	"PantryPilot/internal/config"
	"PantryPilot/internal/lexicon"
	"PantryPilot/internal/llm"
	"PantryPilot/internal/llm/openai"
	"PantryPilot/internal/llm/pythonbridge"
	"PantryPilot/internal/observability/alerting"
	"PantryPilot/internal/observability/metrics"
	"PantryPilot/internal/sqlguard"
	"PantryPilot/internal/store"
	memstore "PantryPilot/internal/store/memory"
	mysqlstore "PantryPilot/internal/store/mysql"
	"PantryPilot/internal/task"
	"PantryPilot/pkg/logger"
)

// main 是 pantryd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("pantryd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	configPath := os.Getenv("PANTRYD_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("configs", "pantryd.yaml")
	}

	var cfg *config.Config
	if _, err := os.Stat(configPath); err == nil {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		AddSource:   cfg.Logging.AddSource,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	pantryStore, err := createStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer pantryStore.Close()

	guard := sqlguard.NewGuard(parsePermissions(cfg.Storage.Permissions), *cfg.Agent.ConfirmWrites)

	lex := lexicon.Default()
	if cfg.Agent.LexiconPath != "" {
		loaded, err := lexicon.LoadFile(cfg.Agent.LexiconPath)
		if err != nil {
			return fmt.Errorf("加载词表失败: %w", err)
		}
		lex = loaded
	}

	ag, err := agent.New(llmClient, pantryStore, guard,
		agent.WithLexicon(lex),
		agent.WithLogger(logger.Named("agent")),
		agent.WithMaxSteps(cfg.Agent.MaxSteps),
	)
	if err != nil {
		return err
	}

	taskStore, err := createTaskStore(cfg, pantryStore)
	if err != nil {
		return err
	}

	taskQueue, err := createTaskQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := taskQueue.Close(); err != nil {
			logger.L().Warn("关闭任务队列失败", "error", err)
		}
	}()

	taskService := task.NewService(taskStore, taskQueue, cfg.TaskQueue.MaxRetries)
	defer taskService.Close()

	processorOpts := []task.ProcessorOption{
		task.WithWorkerCount(cfg.TaskQueue.Workers),
		task.WithProcessorLogger(logger.Named("processor")),
	}
	notifiers := []alerting.Notifier{&alerting.LogNotifier{Logger: logger.Named("alerts")}}
	if cfg.Alerting.WebhookURL != "" {
		notifiers = append(notifiers, &alerting.WebhookNotifier{
			URL:     cfg.Alerting.WebhookURL,
			Timeout: cfg.Alerting.Timeout,
		})
	}
	processorOpts = append(processorOpts, task.WithAlertDispatcher(alerting.NewFanout(notifiers...)))

	processor := task.NewProcessor(ag, taskStore, taskQueue, taskQueue, processorOpts...)

	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.L().Error("任务处理器异常退出", "error", err)
		}
	}()

	if cfg.Server.MetricsAddress != "" {
		go func() {
			if err := metrics.StartServer(ctx, cfg.Server.MetricsAddress); err != nil && !errors.Is(err, context.Canceled) {
				logger.L().Error("指标服务异常退出", "error", err)
			}
		}()
	}

	serverOpts := []api.ServerOption{api.WithShutdownTimeout(cfg.Server.ShutdownTimeout)}
	if cfg.Auth.Enabled {
		seeds := make([]auth.Seed, 0, len(cfg.Auth.Keys))
		for _, hash := range cfg.Auth.Keys {
			seeds = append(seeds, auth.Seed{Hash: hash})
		}
		authSvc, err := auth.NewService(auth.Config{Enabled: true, Seeds: seeds},
			auth.WithAuditLogger(logger.Audit()))
		if err != nil {
			return err
		}
		serverOpts = append(serverOpts, api.WithAuthService(authSvc))
	}

	server := api.NewServer(cfg.Server.Address, ag, taskService, serverOpts...)

	logger.L().Info("pantryd 启动",
		"address", cfg.Server.Address,
		"storage", cfg.Storage.Driver,
		"queue", cfg.TaskQueue.Driver,
		"llm", cfg.LLM.Provider,
	)
	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "python_bridge":
		scriptPath := pythonbridge.ResolveScriptPath(cfg.LLM.Python.WorkingDir, cfg.LLM.Python.ScriptPath)
		return pythonbridge.NewClient(cfg.LLM.Python.PythonExecutable, scriptPath, cfg.LLM.Python.WorkingDir)
	case "", "openai":
		apiKey := cfg.LLM.OpenAI.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或 OPENAI_API_KEY 环境变量")
		}
		return openai.NewClient(openai.Config{
			APIKey:      apiKey,
			BaseURL:     cfg.LLM.OpenAI.BaseURL,
			Model:       cfg.LLM.OpenAI.Model,
			Temperature: cfg.LLM.OpenAI.Temperature,
			Timeout:     cfg.LLM.OpenAI.Timeout,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func createStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		st := memstore.NewStore(memstore.DefaultSchemas())
		if err := st.SeedDefaults(); err != nil {
			return nil, err
		}
		return st, nil
	case "mysql":
		st, err := mysqlstore.NewStore(ctx, mysqlstore.Config{
			DSN:             cfg.Storage.MySQL.DSN,
			Database:        cfg.Storage.MySQL.Database,
			MaxOpenConns:    cfg.Storage.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.Storage.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.Storage.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Storage.MySQL.ConnMaxIdleTime,
		})
		if err != nil {
			return nil, err
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close()
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createTaskStore(cfg *config.Config, pantryStore store.Store) (task.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		return task.NewMemoryStore(), nil
	case "mysql":
		// 复用食材库的连接池,任务表与业务表同库。
		if st, ok := pantryStore.(*mysqlstore.Store); ok {
			return task.NewMySQLStoreWithDB(st.DB())
		}
		return task.NewMySQLStore(cfg.Storage.MySQL.DSN)
	default:
		return nil, fmt.Errorf("未知的存储驱动: %s", cfg.Storage.Driver)
	}
}

func createTaskQueue(cfg *config.Config) (task.Queue, error) {
	switch cfg.TaskQueue.Driver {
	case "", "memory":
		return task.NewMemoryQueue(cfg.TaskQueue.BufferSize), nil
	case "redis":
		return task.NewRedisQueue(task.RedisQueueConfig{
			Address:  cfg.TaskQueue.Redis.Addr,
			Password: cfg.TaskQueue.Redis.Password,
			DB:       cfg.TaskQueue.Redis.DB,
			Queue:    cfg.TaskQueue.Redis.QueueKey,
		})
	case "rabbitmq":
		return task.NewRabbitMQQueue(task.RabbitMQConfig{
			URL:     cfg.TaskQueue.RabbitMQ.URL,
			Queue:   cfg.TaskQueue.RabbitMQ.Queue,
			Durable: true,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.TaskQueue.Driver)
	}
}

func parsePermissions(raw map[string]string) map[string]sqlguard.Permission {
	permissions := make(map[string]sqlguard.Permission, len(raw))
	for tableName, value := range raw {
		if parsed, ok := sqlguard.ParsePermission(value); ok {
			permissions[tableName] = parsed
		} else {
			logger.L().Warn("忽略非法的表策略", "table", tableName, "value", value)
		}
	}
	return permissions
}
