package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"aichat/internal/llm"
	"aichat/internal/preset"
	"aichat/internal/stats"

	"github.com/google/uuid"
)

// ChatAPI — JSON-фасад над ядром для web-клиента: диалоги, конфигурация
// провайдеров, пресеты и статистика. Сам фасад тонкий: вся логика
// диалога и нормализации живёт в internal/llm.
type ChatAPI struct {
	Sessions *llm.SessionStore
	Registry *llm.Registry
	Presets  *preset.Manager
	Stats    *stats.Store
	Logger   *slog.Logger
	// Persist сохраняет снапшот после полной замены конфигурации
	// (PUT /api/config); точечные мутации персистятся через
	// Registry.OnChange. Может быть nil.
	Persist func(llm.Snapshot) error
}

type chatRequest struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

type chatResponse struct {
	ConversationID string `json:"conversation_id"`
	Reply          string `json:"reply"`
}

// handleChat принимает сообщение пользователя и возвращает нормализованный
// ответ ассистента. Пустой conversation_id заводит новую сессию.
func (a *ChatAPI) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	conv := a.Sessions.GetOrCreate(req.ConversationID)
	if _, err := conv.AppendUser(req.Message); err != nil {
		writeCoreError(w, err)
		return
	}

	result := conv.RequestReply(r.Context())
	if !result.OK() {
		writeChatError(w, statusForKind(result.Err.Kind), string(result.Err.Kind), result.Err.Detail, result.Err.RawSnippet)
		return
	}

	a.recordStats(r, req.Message, result)
	WriteJSON(w, http.StatusOK, chatResponse{
		ConversationID: req.ConversationID,
		Reply:          result.Content,
	})
}

func (a *ChatAPI) handleHistory(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("conversation_id")
	if id == "" {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "conversation_id is required")
		return
	}
	conv, ok := a.Sessions.Get(id)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"conversation_id": id,
		"messages":        conv.Messages(),
	})
}

func (a *ChatAPI) handleNewConversation(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	a.Sessions.GetOrCreate(id)
	WriteJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}

func (a *ChatAPI) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConversationID string `json:"conversation_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ConversationID == "" {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "conversation_id is required")
		return
	}
	conv, ok := a.Sessions.Get(req.ConversationID)
	if !ok {
		WriteJSONError(w, http.StatusNotFound, "not_found", "conversation not found")
		return
	}
	conv.Clear()
	WriteJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (a *ChatAPI) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, a.Registry.ExportSnapshot())
}

// handlePutConfig целиком заменяет набор конфигураций (формат Snapshot).
func (a *ChatAPI) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var snap llm.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := a.Registry.LoadSnapshot(snap); err != nil {
		writeCoreError(w, err)
		return
	}
	if a.Persist != nil {
		if err := a.Persist(a.Registry.ExportSnapshot()); err != nil {
			a.Logger.Error("persist config failed", slog.String("error", err.Error()))
		}
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *ChatAPI) handleUpsertProvider(w http.ResponseWriter, r *http.Request) {
	var cfg llm.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return
	}
	if err := a.Registry.Upsert(cfg); err != nil {
		writeCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (a *ChatAPI) handleSetActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "name is required")
		return
	}
	cfg, err := a.Registry.SetActive(req.Name)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"active": cfg.Name})
}

func (a *ChatAPI) handlePresets(w http.ResponseWriter, r *http.Request) {
	if a.Presets == nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "presets are not configured")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"prompts":   a.Presets.Prompts(),
		"templates": a.Presets.Templates(),
	})
}

func (a *ChatAPI) handleRenderTemplate(w http.ResponseWriter, r *http.Request) {
	if a.Presets == nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "presets are not configured")
		return
	}
	var req struct {
		Template string            `json:"template"`
		Values   map[string]string `json:"values"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Template == "" {
		WriteJSONError(w, http.StatusBadRequest, "bad_request", "template is required")
		return
	}
	content, err := a.Presets.Render(req.Template, req.Values)
	if err != nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]string{"content": content})
}

func (a *ChatAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if a.Stats == nil {
		WriteJSONError(w, http.StatusNotFound, "not_found", "statistics are not configured")
		return
	}
	totals, err := a.Stats.Totals(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	byModel, err := a.Stats.ByModel(r.Context())
	if err != nil {
		WriteJSONError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"totals":   totals,
		"by_model": byModel,
	})
}

// recordStats пишет пару user/assistant в статистику. Атрибуция идёт по
// конфигурации из результата: активная могла смениться, пока запрос был
// в полёте. Ошибки только логируются: сбой статистики не должен ломать
// сам чат.
func (a *ChatAPI) recordStats(r *http.Request, userText string, result llm.ChatResult) {
	if a.Stats == nil {
		return
	}
	for _, rec := range []struct {
		role string
		text string
	}{
		{llm.RoleUser, userText},
		{llm.RoleAssistant, result.Content},
	} {
		if err := a.Stats.Record(r.Context(), rec.role, result.Provider, result.Model, len([]rune(rec.text))); err != nil {
			a.Logger.Warn("record stats failed", slog.String("error", err.Error()))
			return
		}
	}
}

// writeCoreError транслирует *ChatError ядра в HTTP-ответ.
func writeCoreError(w http.ResponseWriter, err error) {
	var chatErr *llm.ChatError
	if errors.As(err, &chatErr) {
		writeChatError(w, statusForKind(chatErr.Kind), string(chatErr.Kind), chatErr.Detail, chatErr.RawSnippet)
		return
	}
	WriteJSONError(w, http.StatusInternalServerError, "internal", err.Error())
}

// statusForKind сопоставляет категорию ошибки ядра HTTP-статусу фасада.
// Ошибки провайдера отдаются как 502: для клиента шлюз — это upstream.
func statusForKind(kind llm.ErrorKind) int {
	switch kind {
	case llm.KindValidationError:
		return http.StatusBadRequest
	case llm.KindNotFound:
		return http.StatusNotFound
	case llm.KindBusy:
		return http.StatusConflict
	case llm.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}
