package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubSender — ручной диспетчер для тестов диалога.
type stubSender struct {
	mu      sync.Mutex
	calls   []ProviderConfig
	started chan struct{}
	release chan struct{}
	result  ChatResult
}

func (s *stubSender) Send(ctx context.Context, history []Message, cfg ProviderConfig) ChatResult {
	s.mu.Lock()
	s.calls = append(s.calls, cfg)
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.release != nil {
		<-s.release
	}
	return s.result
}

func (s *stubSender) configs() []ProviderConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ProviderConfig, len(s.calls))
	copy(out, s.calls)
	return out
}

func registryWith(t *testing.T, cfgs ...ProviderConfig) *Registry {
	t.Helper()
	r := NewRegistry()
	for _, cfg := range cfgs {
		if err := r.Upsert(cfg); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}
	if len(cfgs) > 0 {
		if _, err := r.SetActive(cfgs[0].Name); err != nil {
			t.Fatalf("SetActive failed: %v", err)
		}
	}
	return r
}

func TestConversation_AppendUserValidation(t *testing.T) {
	c := NewConversation(&stubSender{}, NewRegistry(), nil)

	_, err := c.AppendUser("   \n\t ")
	if err == nil {
		t.Fatal("expected validation error for blank content")
	}
	chatErr, ok := err.(*ChatError)
	if !ok || chatErr.Kind != KindValidationError {
		t.Fatalf("expected validation_error, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("history must stay empty, got %d messages", c.Len())
	}
}

func TestConversation_SuccessScenario(t *testing.T) {
	sender := &stubSender{result: success("Hi there!")}
	reg := registryWith(t, validConfig("main"))
	c := NewConversation(sender, reg, nil)

	if _, err := c.AppendUser("Hello"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}

	res := c.RequestReply(context.Background())
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}

	msgs := c.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "Hello" {
		t.Errorf("unexpected first message %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "Hi there!" {
		t.Errorf("unexpected second message %+v", msgs[1])
	}
	if msgs[0].ID == "" || msgs[0].ID == msgs[1].ID {
		t.Error("messages must carry distinct ids")
	}
}

func TestConversation_FailureDoesNotAppend(t *testing.T) {
	sender := &stubSender{result: failure(KindAuthError, "http status 401")}
	reg := registryWith(t, validConfig("main"))
	c := NewConversation(sender, reg, nil)

	if _, err := c.AppendUser("Hello"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}

	res := c.RequestReply(context.Background())
	if res.Kind() != KindAuthError {
		t.Fatalf("expected auth_error, got %v", res.Kind())
	}
	// Текст ошибки виден вызывающему, но в контекст не попадает.
	if got := c.Messages(); len(got) != 1 {
		t.Fatalf("expected history unchanged (1 message), got %d", len(got))
	}
}

func TestConversation_BusyWhileInFlight(t *testing.T) {
	sender := &stubSender{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  success("late"),
	}
	reg := registryWith(t, validConfig("main"))
	c := NewConversation(sender, reg, nil)

	if _, err := c.AppendUser("first"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}

	done := make(chan ChatResult, 1)
	go func() { done <- c.RequestReply(context.Background()) }()
	<-sender.started

	before := c.Len()
	res := c.RequestReply(context.Background())
	if res.Kind() != KindBusy {
		t.Fatalf("expected busy, got %v", res.Kind())
	}
	if c.Len() != before {
		t.Error("busy rejection must not alter history")
	}

	close(sender.release)
	if res := <-done; !res.OK() {
		t.Fatalf("first request should finish ok, got %v", res.Err)
	}
	if c.Len() != 2 {
		t.Errorf("expected 2 messages after completion, got %d", c.Len())
	}
}

func TestConversation_ClearDropsStaleReply(t *testing.T) {
	sender := &stubSender{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  success("stale answer"),
	}
	reg := registryWith(t, validConfig("main"))
	c := NewConversation(sender, reg, nil)

	if _, err := c.AppendUser("old question"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}

	done := make(chan ChatResult, 1)
	go func() { done <- c.RequestReply(context.Background()) }()
	<-sender.started

	c.Clear()
	close(sender.release)

	res := <-done
	if !res.OK() {
		t.Fatalf("in-flight call itself should succeed, got %v", res.Err)
	}
	if got := c.Messages(); len(got) != 0 {
		t.Fatalf("stale reply leaked into cleared conversation: %+v", got)
	}

	// Диалог после очистки снова работоспособен.
	if _, err := c.AppendUser("new question"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}
	if res := c.RequestReply(context.Background()); !res.OK() {
		t.Fatalf("expected success after clear, got %v", res.Err)
	}
	if c.Len() != 2 {
		t.Errorf("expected fresh history of 2, got %d", c.Len())
	}
}

func TestConversation_SwitchMidFlightUsesCapturedConfig(t *testing.T) {
	type seen struct {
		model string
		path  string
	}
	requests := make(chan seen, 2)

	newServer := func() *httptest.Server {
		return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var payload chatRequest
			_ = json.NewDecoder(r.Body).Decode(&payload)
			requests <- seen{model: payload.Model, path: r.Host}
			w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
		}))
	}
	serverA := newServer()
	defer serverA.Close()
	serverB := newServer()
	defer serverB.Close()

	cfgA := ProviderConfig{Name: "a", APIURL: serverA.URL, Model: "model-a"}
	cfgB := ProviderConfig{Name: "b", APIURL: serverB.URL, Model: "model-b"}
	reg := registryWith(t, cfgA, cfgB)

	d := NewDispatcher(&http.Client{}, NewNormalizer(nil), time.Second, nil)
	c := NewConversation(d, reg, nil)

	if _, err := c.AppendUser("q1"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}
	if res := c.RequestReply(context.Background()); !res.OK() {
		t.Fatalf("first reply failed: %v", res.Err)
	}

	// Переключаем активного провайдера между вызовами.
	if _, err := reg.SetActive("b"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}

	if _, err := c.AppendUser("q2"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}
	if res := c.RequestReply(context.Background()); !res.OK() {
		t.Fatalf("second reply failed: %v", res.Err)
	}

	first, second := <-requests, <-requests
	if first.model != "model-a" {
		t.Errorf("first call used %q, want model-a", first.model)
	}
	if second.model != "model-b" {
		t.Errorf("second call used %q, want model-b", second.model)
	}
}

func TestConversation_ResultCarriesCapturedConfig(t *testing.T) {
	sender := &stubSender{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		result:  success("ok"),
	}
	cfgA := validConfig("a")
	cfgA.Model = "model-a"
	cfgB := validConfig("b")
	cfgB.Model = "model-b"
	reg := registryWith(t, cfgA, cfgB)
	c := NewConversation(sender, reg, nil)

	if _, err := c.AppendUser("q"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}

	done := make(chan ChatResult, 1)
	go func() { done <- c.RequestReply(context.Background()) }()
	<-sender.started

	// Активный провайдер меняется, пока запрос в полёте.
	if _, err := reg.SetActive("b"); err != nil {
		t.Fatalf("SetActive failed: %v", err)
	}
	close(sender.release)

	res := <-done
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	// Результат атрибутируется конфигурации, захваченной при отправке.
	if res.Provider != "a" || res.Model != "model-a" {
		t.Errorf("result attributed to %s/%s, want a/model-a", res.Provider, res.Model)
	}
}

func TestConversation_TimeoutReturnsToIdle(t *testing.T) {
	var slow atomic.Bool
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slow.Load() {
			<-release
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"fine"}}]}`))
	}))
	defer server.Close()
	defer close(release)

	reg := registryWith(t, ProviderConfig{Name: "s", APIURL: server.URL, Model: "m"})
	d := NewDispatcher(&http.Client{}, NewNormalizer(nil), 50*time.Millisecond, nil)
	c := NewConversation(d, reg, nil)

	slow.Store(true)
	if _, err := c.AppendUser("hang"); err != nil {
		t.Fatalf("AppendUser failed: %v", err)
	}
	if res := c.RequestReply(context.Background()); res.Kind() != KindTimeout {
		t.Fatalf("expected timeout, got %v", res.Kind())
	}

	// Состояние вернулось в Idle: следующий запрос проходит.
	slow.Store(false)
	if res := c.RequestReply(context.Background()); !res.OK() {
		t.Fatalf("expected success after timeout, got %v", res.Err)
	}
}
