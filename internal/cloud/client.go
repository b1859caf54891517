// Package cloud реализует клиент облачного сервиса анализа
package cloud

import (
	"context"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Пути API
const (
	PathSleepAnalysis   = "/v1/analysis/sleep"
	PathRoutineAnalysis = "/v1/analysis/routine"
	PathSleepPrediction = "/v1/predictions/sleep"
)

// ClientConfig параметры HTTP клиента
type ClientConfig struct {
	BaseURL    string
	Timeout    time.Duration
	RetryCount int
}

// Client HTTP клиент облака поверх resty
type Client struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewClient создает клиент
func NewClient(cfg ClientConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetRetryCount(cfg.RetryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			// 429 не повторяем: им управляет ограничитель
			return err == nil && r != nil && r.StatusCode() >= http.StatusInternalServerError
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &Client{http: client, logger: logger}
}

// HTTPClient возвращает нижележащий *http.Client
func (c *Client) HTTPClient() *http.Client {
	return c.http.GetClient()
}

// Post отправляет JSON запрос и декодирует ответ в result.
// Все ошибки возвращаются как *Error.
func (c *Client) Post(ctx context.Context, credential, path string, body, result any) error {
	if credential == "" {
		return &Error{Kind: ErrInvalidCredential, Op: path}
	}

	requestID := uuid.NewString()
	start := time.Now()

	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(credential).
		SetHeader("X-Request-ID", requestID).
		SetBody(body).
		SetResult(result).
		SetError(&apiError{}).
		Post(path)

	if err != nil {
		c.logger.Warn("Cloud request failed",
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		return transportError(path, err)
	}

	if resp.IsError() {
		body, _ := resp.Error().(*apiError)
		c.logger.Warn("Cloud returned error status",
			zap.String("path", path),
			zap.String("request_id", requestID),
			zap.Int("status_code", resp.StatusCode()),
		)
		return statusError(path, resp.StatusCode(), body)
	}

	c.logger.Debug("Cloud request completed",
		zap.String("path", path),
		zap.String("request_id", requestID),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
