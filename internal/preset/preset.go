// Package preset хранит роли (системные промпты) и шаблоны запросов.
// Оба набора лежат в JSON-файлах каталога presets; при первом запуске
// создаются файлы с дефолтами. Ядро чата про пресеты не знает:
// слой представления подставляет выбранную роль или отрендеренный
// шаблон в текст сообщения сам.
package preset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
)

// Prompt — именованная роль с системным промптом.
type Prompt struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	SystemPrompt string `json:"system_prompt"`
}

// Template — шаблон запроса с плейсхолдерами вида {placeholder}.
type Template struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Template    string `json:"template"`
}

var placeholderRe = regexp.MustCompile(`\{([^{}]+)\}`)

// Manager загружает и отдаёт пресеты. Потокобезопасен.
type Manager struct {
	mu            sync.RWMutex
	promptsPath   string
	templatesPath string
	prompts       map[string]Prompt
	templates     map[string]Template
}

// NewManager создаёт менеджер над каталогом dir, создавая каталог
// и дефолтные файлы, если их ещё нет.
func NewManager(dir string) (*Manager, error) {
	if dir == "" {
		return nil, fmt.Errorf("presets dir is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create presets dir: %w", err)
	}

	m := &Manager{
		promptsPath:   filepath.Join(dir, "prompts.json"),
		templatesPath: filepath.Join(dir, "templates.json"),
		prompts:       make(map[string]Prompt),
		templates:     make(map[string]Template),
	}

	if err := m.ensureDefaults(); err != nil {
		return nil, err
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	return m, nil
}

// Prompt возвращает роль по идентификатору.
func (m *Manager) Prompt(id string) (Prompt, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prompts[id]
	return p, ok
}

// PromptIDs возвращает отсортированный список идентификаторов ролей.
func (m *Manager) PromptIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return sortedKeys(m.prompts)
}

// Prompts возвращает копию карты ролей.
func (m *Manager) Prompts() map[string]Prompt {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Prompt, len(m.prompts))
	for id, p := range m.prompts {
		out[id] = p
	}
	return out
}

// Template возвращает шаблон по идентификатору.
func (m *Manager) Template(id string) (Template, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tpl, ok := m.templates[id]
	return tpl, ok
}

// Templates возвращает копию карты шаблонов.
func (m *Manager) Templates() map[string]Template {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Template, len(m.templates))
	for id, tpl := range m.templates {
		out[id] = tpl
	}
	return out
}

// Render подставляет значения в плейсхолдеры шаблона.
// Плейсхолдер без значения остаётся в тексте как есть — так видно,
// что именно пользователь забыл заполнить.
func (m *Manager) Render(id string, values map[string]string) (string, error) {
	tpl, ok := m.Template(id)
	if !ok {
		return "", fmt.Errorf("template %q not found", id)
	}

	return placeholderRe.ReplaceAllStringFunc(tpl.Template, func(match string) string {
		key := match[1 : len(match)-1]
		if value, ok := values[key]; ok {
			return value
		}
		return match
	}), nil
}

// UpsertPrompt добавляет или заменяет роль и сохраняет файл.
func (m *Manager) UpsertPrompt(id string, p Prompt) error {
	if id == "" || p.SystemPrompt == "" {
		return fmt.Errorf("prompt id and system_prompt are required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.prompts[id] = p
	return writeJSON(m.promptsPath, m.prompts)
}

func (m *Manager) ensureDefaults() error {
	if _, err := os.Stat(m.promptsPath); os.IsNotExist(err) {
		if err := writeJSON(m.promptsPath, defaultPrompts()); err != nil {
			return err
		}
	}
	if _, err := os.Stat(m.templatesPath); os.IsNotExist(err) {
		if err := writeJSON(m.templatesPath, defaultTemplates()); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) load() error {
	if err := readJSON(m.promptsPath, &m.prompts); err != nil {
		return fmt.Errorf("load prompts: %w", err)
	}
	if err := readJSON(m.templatesPath, &m.templates); err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	return nil
}

func defaultPrompts() map[string]Prompt {
	return map[string]Prompt{
		"copywriter": {
			Name:         "Copywriter",
			Description:  "Пишет маркетинговые и рекламные тексты",
			SystemPrompt: "You are a professional copywriter. Write clear, engaging copy tailored to the user's request. Keep the tone professional and the message concise.",
		},
		"educator": {
			Name:         "Educator",
			Description:  "Строгий, но понятный объяснитель сложных тем",
			SystemPrompt: "You are a strict but fair educator. Explain complex concepts clearly, with accurate details and examples. Politely correct mistakes in the user's assumptions.",
		},
		"companion": {
			Name:         "Companion",
			Description:  "Лёгкий собеседник для свободной беседы",
			SystemPrompt: "You are a witty, friendly conversation partner. Keep the chat light and fun without drifting off topic.",
		},
	}
}

func defaultTemplates() map[string]Template {
	return map[string]Template{
		"interview": {
			Name:        "Interview practice",
			Description: "Репетиция собеседования на заданную позицию",
			Template:    "I am preparing for a {position} interview. Act as the interviewer: start with a short intro, ask for my self-introduction, then ask 3-5 professional questions about {position} plus one behavioral question, and finish with feedback.",
		},
		"brainstorm": {
			Name:        "Brainstorm",
			Description: "Структурированный мозговой штурм по теме",
			Template:    "Help me brainstorm around {topic}: propose 5 ideas, expand each briefly, then group them by relevance and summarize.",
		},
	}
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
