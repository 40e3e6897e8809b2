package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// chatRequest — тело исходящего запроса в OpenAI-совместимой нотации:
// это наименьший общий знаменатель поддерживаемых провайдеров,
// включая iflow, принимающий тот же формат на входе.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// endpointURL достраивает путь /chat/completions, если адрес задан базой
// (провайдеры указываются и так, и так; правило унаследовано от формата
// конфигурации, где встречаются оба варианта).
func endpointURL(apiURL string) string {
	if strings.Contains(apiURL, "/chat/completions") {
		return apiURL
	}
	return strings.TrimRight(apiURL, "/") + "/chat/completions"
}

// buildRequest собирает HTTP-запрос из истории и конфигурации.
// История передаётся целиком и по порядку: усечение контекста —
// забота вызывающей стороны.
func buildRequest(ctx context.Context, history []Message, cfg ProviderConfig) (*http.Request, error) {
	// Конфигурации из реестра уже дополнены дефолтами; подстраховка
	// нужна для конфигураций, собранных вручную.
	temperature := DefaultTemperature
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	maxTokens := DefaultMaxTokens
	if cfg.MaxTokens != nil {
		maxTokens = *cfg.MaxTokens
	}

	payload := chatRequest{
		Model:       cfg.Model,
		Messages:    make([]chatMessage, 0, len(history)),
		Temperature: temperature,
		MaxTokens:   maxTokens,
	}
	for _, msg := range history {
		payload.Messages = append(payload.Messages, chatMessage{Role: msg.Role, Content: msg.Content})
	}

	buf, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL(cfg.APIURL), bytes.NewReader(buf))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.APIKey)
	return req, nil
}
