package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultSendTimeout ограничивает один сетевой вызов провайдера.
const DefaultSendTimeout = 30 * time.Second

// maxResponseBody ограничивает чтение тела ответа: нормализатору
// больше не нужно, а патологический ответ не должен расти в памяти.
const maxResponseBody = 1 << 20

// Sender — контракт диспетчера для владельцев диалогов.
type Sender interface {
	Send(ctx context.Context, history []Message, cfg ProviderConfig) ChatResult
}

// Dispatcher выполняет один чат-запрос: собирает тело, шлёт его с
// ограничением по времени и нормализует ответ. Между вызовами
// состояния не хранит; конфигурация фиксируется аргументом на момент
// вызова, так что переключение активного провайдера на лету не меняет
// уже отправленный запрос.
//
// Повторов нет намеренно: каждая ошибка доводится до вызывающей
// стороны, политика ретраев — дело слоя представления.
type Dispatcher struct {
	httpClient *http.Client
	normalizer *Normalizer
	timeout    time.Duration
	logger     *slog.Logger
}

// NewDispatcher создаёт диспетчер. timeout <= 0 включает DefaultSendTimeout.
func NewDispatcher(httpClient *http.Client, normalizer *Normalizer, timeout time.Duration, logger *slog.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	if normalizer == nil {
		normalizer = NewNormalizer(nil)
	}
	return &Dispatcher{
		httpClient: httpClient,
		normalizer: normalizer,
		timeout:    timeout,
		logger:     logger,
	}
}

// Send выполняет вызов провайдера и возвращает нормализованный результат.
// Блокируется не дольше таймаута; вызывающая сторона запускает Send из
// собственной горутины, поэтому UI-поток здесь никогда не стоит.
func (d *Dispatcher) Send(ctx context.Context, history []Message, cfg ProviderConfig) ChatResult {
	if cfg.APIURL == "" {
		return failure(KindValidationError, "api_url is not configured")
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := buildRequest(ctx, history, cfg)
	if err != nil {
		return failure(KindValidationError, err.Error())
	}

	started := time.Now()
	resp, err := d.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() == context.DeadlineExceeded {
			d.logWarn("provider call timed out", cfg, started, err)
			return failure(KindTimeout, "provider did not respond within "+d.timeout.String())
		}
		d.logWarn("provider call failed", cfg, started, err)
		return failure(KindNetworkError, err.Error())
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		d.logWarn("read provider response failed", cfg, started, err)
		return failure(KindNetworkError, "read response: "+err.Error())
	}

	result := d.normalizer.Normalize(resp.StatusCode, body)
	if d.logger != nil {
		if result.OK() {
			d.logger.Debug("provider call ok",
				slog.String("model", cfg.Model),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", time.Since(started)))
		} else {
			d.logger.Warn("provider call rejected",
				slog.String("model", cfg.Model),
				slog.Int("status", resp.StatusCode),
				slog.String("kind", string(result.Kind())),
				slog.Duration("duration", time.Since(started)))
		}
	}
	return result
}

func (d *Dispatcher) logWarn(msg string, cfg ProviderConfig, started time.Time, err error) {
	if d.logger == nil {
		return
	}
	d.logger.Warn(msg,
		slog.String("model", cfg.Model),
		slog.Duration("duration", time.Since(started)),
		slog.String("error", err.Error()))
}
