package llm

import (
	"fmt"
	"sort"
	"sync"
)

const (
	// DefaultTemperature и DefaultMaxTokens подставляются,
	// когда конфигурация не задаёт параметры сэмплирования.
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 1000
)

// ProviderConfig — именованная конфигурация провайдера chat-completion API.
// JSON-теги совпадают с форматом файла конфигурации (ProviderRecord).
// Параметры сэмплирования — указатели, чтобы отличать незаданное значение
// от явного нуля: temperature 0 — валидный детерминированный режим,
// дефолт подставляется только вместо отсутствующего ключа.
type ProviderConfig struct {
	Name        string   `json:"name"`
	APIURL      string   `json:"api_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// ProviderRecord — конфигурация без имени: значение в карте снапшота.
type ProviderRecord struct {
	APIURL      string   `json:"api_url"`
	APIKey      string   `json:"api_key"`
	Model       string   `json:"model"`
	Temperature *float64 `json:"temperature,omitempty"`
	MaxTokens   *int     `json:"max_tokens,omitempty"`
}

// Float64 и Int упрощают заполнение опциональных полей конфигурации
// литералами.
func Float64(v float64) *float64 { return &v }

// Int возвращает указатель на v.
func Int(v int) *int { return &v }

// Snapshot — переносимое состояние реестра для внешнего хранилища
// (файл, browser storage и т.п.). Реестр не знает, кто и куда его пишет.
type Snapshot struct {
	Providers map[string]ProviderRecord `json:"providers"`
	Active    string                    `json:"active"`
}

// Registry хранит именованные конфигурации провайдеров и указатель
// на активную. Потокобезопасен; смена активной конфигурации атомарна —
// промежуточное состояние между старой и новой не наблюдаемо.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]ProviderConfig
	active    string
	onChange  func(Snapshot)
}

// NewRegistry создаёт пустой реестр без активной конфигурации.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]ProviderConfig)}
}

// OnChange регистрирует наблюдателя, вызываемого после каждой мутации
// (Upsert, SetActive) со свежим снапшотом. Используется коллаборатором
// персистентности. LoadSnapshot наблюдателя не дёргает, чтобы
// перечитывание файла не зацикливалось с его же записью.
//
// Наблюдатель вызывается под блокировкой реестра: снапшоты приходят
// строго в порядке фиксации мутаций, и последний записанный — актуальный.
// Из наблюдателя нельзя обращаться к реестру.
func (r *Registry) OnChange(fn func(Snapshot)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get возвращает конфигурацию по имени.
func (r *Registry) Get(name string) (ProviderConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, &ChatError{Kind: KindNotFound, Detail: fmt.Sprintf("provider config %q not found", name)}
	}
	return cfg, nil
}

// Upsert добавляет или заменяет конфигурацию по имени.
// Отсутствующие temperature/maxTokens получают значения по умолчанию.
func (r *Registry) Upsert(cfg ProviderConfig) error {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[cfg.Name] = cfg
	if r.onChange != nil {
		r.onChange(r.exportLocked())
	}
	return nil
}

// SetActive атомарно переключает активную конфигурацию.
// Уже выполняющиеся запросы работают со снимком конфигурации,
// захваченным на момент отправки, и переключения не замечают.
func (r *Registry) SetActive(name string) (ProviderConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cfg, ok := r.providers[name]
	if !ok {
		return ProviderConfig{}, &ChatError{Kind: KindNotFound, Detail: fmt.Sprintf("provider config %q not found", name)}
	}
	r.active = name
	if r.onChange != nil {
		r.onChange(r.exportLocked())
	}
	return cfg, nil
}

// Active возвращает активную конфигурацию или пустую sentinel-конфигурацию,
// если активная не назначалась. Отправка с пустой конфигурацией завершится
// ValidationError, а не паникой.
func (r *Registry) Active() ProviderConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if cfg, ok := r.providers[r.active]; ok {
		return cfg
	}
	return ProviderConfig{}
}

// Names возвращает отсортированный список имён конфигураций.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len возвращает количество конфигураций.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.providers)
}

// LoadSnapshot заменяет всё состояние реестра содержимым снапшота.
// Каждая запись валидируется; первая же ошибка прерывает загрузку,
// не меняя текущего состояния.
func (r *Registry) LoadSnapshot(snap Snapshot) error {
	providers := make(map[string]ProviderConfig, len(snap.Providers))
	for name, rec := range snap.Providers {
		cfg := ProviderConfig{
			Name:   name,
			APIURL: rec.APIURL,
			APIKey: rec.APIKey,
			Model:  rec.Model,
		}
		if rec.Temperature != nil {
			cfg.Temperature = Float64(*rec.Temperature)
		}
		if rec.MaxTokens != nil {
			cfg.MaxTokens = Int(*rec.MaxTokens)
		}
		cfg = cfg.withDefaults()
		if err := cfg.validate(); err != nil {
			return fmt.Errorf("snapshot provider %q: %w", name, err)
		}
		providers[name] = cfg
	}
	if snap.Active != "" {
		if _, ok := providers[snap.Active]; !ok {
			return &ChatError{Kind: KindNotFound, Detail: fmt.Sprintf("snapshot active provider %q not found", snap.Active)}
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers = providers
	r.active = snap.Active
	return nil
}

// ExportSnapshot выдаёт копию состояния для персистентности.
func (r *Registry) ExportSnapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.exportLocked()
}

func (r *Registry) exportLocked() Snapshot {
	snap := Snapshot{
		Providers: make(map[string]ProviderRecord, len(r.providers)),
		Active:    r.active,
	}
	for name, cfg := range r.providers {
		rec := ProviderRecord{
			APIURL: cfg.APIURL,
			APIKey: cfg.APIKey,
			Model:  cfg.Model,
		}
		// Указатели копируются по значению, чтобы снапшот не делил
		// память с состоянием реестра.
		if cfg.Temperature != nil {
			rec.Temperature = Float64(*cfg.Temperature)
		}
		if cfg.MaxTokens != nil {
			rec.MaxTokens = Int(*cfg.MaxTokens)
		}
		snap.Providers[name] = rec
	}
	return snap
}

// withDefaults подставляет параметры сэмплирования по умолчанию.
// Дефолт получает только отсутствующее (nil) значение; явный ноль
// сохраняется как есть.
func (c ProviderConfig) withDefaults() ProviderConfig {
	if c.Temperature == nil {
		c.Temperature = Float64(DefaultTemperature)
	}
	if c.MaxTokens == nil {
		c.MaxTokens = Int(DefaultMaxTokens)
	}
	return c
}

func (c ProviderConfig) validate() error {
	switch {
	case c.Name == "":
		return &ChatError{Kind: KindValidationError, Detail: "provider name is required"}
	case c.APIURL == "":
		return &ChatError{Kind: KindValidationError, Detail: "api_url is required"}
	case c.Temperature != nil && (*c.Temperature < 0 || *c.Temperature > 2):
		return &ChatError{Kind: KindValidationError, Detail: fmt.Sprintf("temperature %v is out of range [0, 2]", *c.Temperature)}
	case c.MaxTokens != nil && *c.MaxTokens < 1:
		return &ChatError{Kind: KindValidationError, Detail: fmt.Sprintf("max_tokens %d must be >= 1", *c.MaxTokens)}
	}
	return nil
}
