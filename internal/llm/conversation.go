package llm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Роли сообщений, которые диалог отправляет провайдеру.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message — одно сообщение диалога. После добавления не меняется;
// порядок добавления и есть контекст, уходящий провайдеру.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Conversation владеет упорядоченной историей одной сессии и её
// жизненным циклом вокруг вызова провайдера. Инвариант: на диалог
// одновременно выполняется не больше одного запроса; второй вызов
// RequestReply получает Busy сразу, без очереди. Так ответы
// добавляются в истории строго в порядке приёма запросов.
//
// generation помечает текущую «жизнь» истории: Clear её увеличивает,
// и ответ, начатый до очистки, по завершении тихо отбрасывается,
// а не дописывается в уже другой диалог.
type Conversation struct {
	mu         sync.Mutex
	id         string
	messages   []Message
	generation uint64
	inFlight   bool

	dispatcher Sender
	registry   *Registry
	logger     *slog.Logger
}

// NewConversation создаёт пустой диалог.
func NewConversation(dispatcher Sender, registry *Registry, logger *slog.Logger) *Conversation {
	return &Conversation{
		id:         uuid.NewString(),
		dispatcher: dispatcher,
		registry:   registry,
		logger:     logger,
	}
}

// ID возвращает идентификатор диалога.
func (c *Conversation) ID() string {
	return c.id
}

// AppendUser синхронно добавляет сообщение пользователя.
// Пустое после обрезки пробелов сообщение отклоняется.
func (c *Conversation) AppendUser(content string) (Message, error) {
	if strings.TrimSpace(content) == "" {
		return Message{}, &ChatError{Kind: KindValidationError, Detail: "message content is empty"}
	}

	msg := Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Content:   content,
		Timestamp: time.Now(),
	}

	c.mu.Lock()
	c.messages = append(c.messages, msg)
	c.mu.Unlock()
	return msg, nil
}

// RequestReply запрашивает ответ ассистента на текущую историю,
// используя активную конфигурацию реестра, захваченную на момент
// вызова. При успехе ответ дописывается в историю; при ошибке история
// не меняется — текст ошибки показывает UI, но в контекст провайдера
// он не попадает. Вызов блокирует только свою горутину.
func (c *Conversation) RequestReply(ctx context.Context) ChatResult {
	c.mu.Lock()
	if c.inFlight {
		c.mu.Unlock()
		return failure(KindBusy, "a request is already in flight for this conversation")
	}
	c.inFlight = true
	gen := c.generation
	history := make([]Message, len(c.messages))
	copy(history, c.messages)
	c.mu.Unlock()

	cfg := c.registry.Active()
	result := c.dispatcher.Send(ctx, history, cfg)
	result.Provider = cfg.Name
	result.Model = cfg.Model

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	if gen != c.generation {
		// Диалог очистили, пока запрос был в полёте.
		if c.logger != nil {
			c.logger.Debug("stale reply dropped",
				slog.String("conversation_id", c.id),
				slog.Uint64("generation", gen))
		}
		return result
	}

	if result.OK() {
		c.messages = append(c.messages, Message{
			ID:        uuid.NewString(),
			Role:      RoleAssistant,
			Content:   result.Content,
			Timestamp: time.Now(),
		})
	}
	return result
}

// Messages возвращает копию истории.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len возвращает длину истории.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear синхронно очищает историю. Безопасен во время полёта запроса:
// незавершённый вызов доработает, но его результат отбросится по
// несовпадению поколения.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.generation++
}
