package auth

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"strings"
)

// Service 负责校验请求携带的 API Key。
type Service struct {
	store   Store
	enabled bool
	audit   *slog.Logger
}

// ServiceOption 配置 Service 的可选项。
type ServiceOption func(*Service)

// WithAuditLogger 指定审计日志输出。
func WithAuditLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.audit = logger
	}
}

// NewService 构造鉴权服务。cfg.Enabled 为 false 时所有请求直接放行。
func NewService(cfg Config, opts ...ServiceOption) (*Service, error) {
	s := &Service{enabled: cfg.Enabled}
	if cfg.Enabled {
		store, err := NewMemoryStore(cfg.Seeds)
		if err != nil {
			return nil, err
		}
		s.store = store
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Enabled 返回鉴权是否启用。
func (s *Service) Enabled() bool {
	return s != nil && s.enabled
}

// AuthenticateRequest 根据 X-API-Key 请求头校验调用方身份。
func (s *Service) AuthenticateRequest(ctx context.Context, rawKey string) (*Key, error) {
	if s == nil || !s.enabled {
		return nil, ErrDisabled
	}
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return nil, ErrMissingKey
	}

	digest := HashKey(rawKey)
	key, err := s.store.LookupKey(ctx, digest)
	if err != nil {
		return nil, ErrInvalidKey
	}
	// 查表已经按摘要命中,再做一次恒定时间比较避免实现偏差。
	if subtle.ConstantTimeCompare([]byte(digest), []byte(key.Hash)) != 1 {
		return nil, ErrInvalidKey
	}
	if key.Disabled {
		return nil, ErrKeyRevoked
	}
	return key, nil
}
