package llm

import "fmt"

// ErrorKind — машиночитаемая категория ошибки чат-запроса.
// UI может ветвиться по Kind (например, запросить новый ключ при AuthExpired),
// не разбирая текст Detail.
type ErrorKind string

const (
	KindValidationError     ErrorKind = "validation_error"
	KindNotFound            ErrorKind = "not_found"
	KindNetworkError        ErrorKind = "network_error"
	KindTimeout             ErrorKind = "timeout"
	KindAuthError           ErrorKind = "auth_error"
	KindAuthExpired         ErrorKind = "auth_expired"
	KindProviderError       ErrorKind = "provider_error"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindMalformedResponse   ErrorKind = "malformed_response"
	KindUnrecognizedFormat  ErrorKind = "unrecognized_format"
	KindBusy                ErrorKind = "busy"
)

// defaultSnippetLimit ограничивает размер Detail и RawSnippet,
// чтобы испорченный или враждебный ответ не раздувал память и логи.
const defaultSnippetLimit = 200

// ChatError — структурированная ошибка чат-запроса.
// RawSnippet хранит усечённое начало сырого тела ответа для диагностики.
type ChatError struct {
	Kind       ErrorKind `json:"kind"`
	Detail     string    `json:"detail"`
	RawSnippet string    `json:"raw_snippet,omitempty"`
}

func (e *ChatError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// ChatResult — нормализованный результат одного обращения к провайдеру:
// либо текст ответа ассистента, либо ChatError. Ровно одно из полей
// Content/Err заполнено. Provider и Model фиксируют конфигурацию, с
// которой вызов реально выполнялся: активная конфигурация могла смениться,
// пока запрос был в полёте, и атрибуция идёт по захваченной.
type ChatResult struct {
	Content  string
	Err      *ChatError
	Provider string
	Model    string
}

// OK сообщает, что результат успешный.
func (r ChatResult) OK() bool {
	return r.Err == nil
}

// Kind возвращает категорию ошибки или пустую строку для успеха.
func (r ChatResult) Kind() ErrorKind {
	if r.Err == nil {
		return ""
	}
	return r.Err.Kind
}

func success(content string) ChatResult {
	return ChatResult{Content: content}
}

func failure(kind ErrorKind, detail string) ChatResult {
	return failureDetail(kind, detail, defaultSnippetLimit)
}

func failureDetail(kind ErrorKind, detail string, limit int) ChatResult {
	return ChatResult{Err: &ChatError{Kind: kind, Detail: truncate(detail, limit)}}
}

func failureRaw(kind ErrorKind, detail string, raw []byte, limit int) ChatResult {
	return ChatResult{Err: &ChatError{
		Kind:       kind,
		Detail:     truncate(detail, limit),
		RawSnippet: truncate(string(raw), limit),
	}}
}

// truncate обрезает строку до limit байт по границе руны.
func truncate(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	return s[:cut]
}
