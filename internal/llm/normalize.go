package llm

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultAuthExpiredPatterns — подстроки в msg iflow-конверта, означающие
// протухший токен. Провайдер менял формулировку, поэтому список настраиваемый
// (английская и китайская версии по умолчанию).
var DefaultAuthExpiredPatterns = []string{
	"token expired",
	"token已过期",
	"令牌已过期",
}

// Normalizer приводит сырой HTTP-ответ провайдера к единому ChatResult.
// Определение формата идёт по содержимому тела, а не по заголовкам:
// провайдеры не гарантируют ни версию, ни Content-Type, а формы ответов
// могут совпадать по отдельным полям, поэтому порядок проверок фиксирован.
type Normalizer struct {
	// SnippetLimit ограничивает Detail и RawSnippet. 0 — значение по умолчанию.
	SnippetLimit int
	// AuthExpiredPatterns — подстроки (без учёта регистра) в msg,
	// переводящие ProviderError в AuthExpired.
	AuthExpiredPatterns []string
}

// NewNormalizer создаёт нормализатор. Пустой patterns включает
// DefaultAuthExpiredPatterns.
func NewNormalizer(patterns []string) *Normalizer {
	if len(patterns) == 0 {
		patterns = DefaultAuthExpiredPatterns
	}
	return &Normalizer{
		SnippetLimit:        defaultSnippetLimit,
		AuthExpiredPatterns: patterns,
	}
}

// Normalize классифицирует статус и тело ответа.
//
// Статус задаёт только грубую категорию (401/403 — авторизация, 5xx —
// недоступность провайдера); основная классификация — по форме тела,
// в порядке: iflow-конверт, OpenAI-совместимый формат, упрощённый
// формат с верхнеуровневым content. Тела ошибочных статусов тоже
// разбираются: многие провайдеры кладут осмысленный detail в JSON.
func (n *Normalizer) Normalize(status int, body []byte) ChatResult {
	limit := n.SnippetLimit
	if limit <= 0 {
		limit = defaultSnippetLimit
	}

	var top map[string]json.RawMessage
	parsed := json.Unmarshal(bytes.TrimSpace(body), &top) == nil

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return failureRaw(KindAuthError, n.errorDetail(top, parsed, status), body, limit)
	case status >= 500:
		return failureRaw(KindProviderUnavailable, n.errorDetail(top, parsed, status), body, limit)
	case status < 200 || status > 299:
		return failureRaw(KindProviderError, n.errorDetail(top, parsed, status), body, limit)
	}

	if !parsed {
		return failureRaw(KindUnrecognizedFormat, "response body is not valid JSON", body, limit)
	}

	// 1. iflow-конверт: объект со status и msg.
	if _, hasStatus := top["status"]; hasStatus {
		if _, hasMsg := top["msg"]; hasMsg {
			return n.normalizeIflow(top, body, limit)
		}
	}

	// 2. OpenAI-совместимый формат: choices[0].message.content.
	if rawChoices, ok := top["choices"]; ok {
		return normalizeOpenAI(rawChoices, body, limit)
	}

	// 3. Упрощённый формат: верхнеуровневая строка content.
	if rawContent, ok := top["content"]; ok {
		var content string
		if err := json.Unmarshal(rawContent, &content); err == nil {
			return success(content)
		}
	}

	return failureRaw(KindUnrecognizedFormat, "no known response shape matched", body, limit)
}

// normalizeIflow разбирает конверт {status, msg, body}.
// Успех — status "0" или 0; текст лежит в body.choices[0].message.content
// либо в body.content.
func (n *Normalizer) normalizeIflow(top map[string]json.RawMessage, body []byte, limit int) ChatResult {
	var msg string
	_ = json.Unmarshal(top["msg"], &msg)

	if !iflowSuccess(top["status"]) {
		if n.matchesAuthExpired(msg) {
			return failureDetail(KindAuthExpired, msg, limit)
		}
		return failureDetail(KindProviderError, msg, limit)
	}

	var envBody map[string]json.RawMessage
	if err := json.Unmarshal(top["body"], &envBody); err != nil {
		return failureRaw(KindMalformedResponse, "iflow envelope body is not an object", body, limit)
	}

	if rawChoices, ok := envBody["choices"]; ok {
		return normalizeOpenAI(rawChoices, body, limit)
	}
	if rawContent, ok := envBody["content"]; ok {
		var content string
		if err := json.Unmarshal(rawContent, &content); err == nil {
			return success(content)
		}
	}
	return failureRaw(KindMalformedResponse, "iflow envelope body carries no content", body, limit)
}

// iflowSuccess принимает оба варианта успешного статуса: строку "0" и число 0.
func iflowSuccess(raw json.RawMessage) bool {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s == "0"
	}
	var num float64
	if err := json.Unmarshal(raw, &num); err == nil {
		return num == 0
	}
	return false
}

func normalizeOpenAI(rawChoices json.RawMessage, body []byte, limit int) ChatResult {
	var choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	}
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return failureRaw(KindMalformedResponse, "choices is not an array of messages", body, limit)
	}
	if len(choices) == 0 {
		return failureRaw(KindMalformedResponse, "choices array is empty", body, limit)
	}
	// Пустая строка — валидный ответ: ошибка только при отсутствии
	// ключа или явном null.
	content := choices[0].Message.Content
	if content == nil {
		return failureRaw(KindMalformedResponse, "choices[0].message.content is missing", body, limit)
	}
	return success(*content)
}

func (n *Normalizer) matchesAuthExpired(msg string) bool {
	lower := strings.ToLower(msg)
	for _, pattern := range n.AuthExpiredPatterns {
		if pattern == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}

// errorDetail достаёт человекочитаемое сообщение из тела ошибочного статуса:
// msg iflow-конверта, затем error.message OpenAI-совместимых ошибок,
// затем просто код статуса.
func (n *Normalizer) errorDetail(top map[string]json.RawMessage, parsed bool, status int) string {
	if parsed {
		var msg string
		if raw, ok := top["msg"]; ok {
			if err := json.Unmarshal(raw, &msg); err == nil && msg != "" {
				return msg
			}
		}
		if raw, ok := top["error"]; ok {
			var apiErr struct {
				Message string `json:"message"`
			}
			if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Message != "" {
				return apiErr.Message
			}
		}
	}
	return fmt.Sprintf("http status %d", status)
}
