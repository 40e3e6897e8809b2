package llm

import (
	"strings"
	"testing"
)

func TestNormalize_IflowEnvelopeChoices(t *testing.T) {
	n := NewNormalizer(nil)
	body := `{"status":"0","msg":"ok","body":{"choices":[{"message":{"role":"assistant","content":"Привет!"}}]}}`

	res := n.Normalize(200, []byte(body))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Content != "Привет!" {
		t.Errorf("expected 'Привет!', got %q", res.Content)
	}
}

func TestNormalize_IflowEnvelopeNumericStatusAndContent(t *testing.T) {
	n := NewNormalizer(nil)
	body := `{"status":0,"msg":"ok","body":{"content":"direct text"}}`

	res := n.Normalize(200, []byte(body))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Content != "direct text" {
		t.Errorf("expected 'direct text', got %q", res.Content)
	}
}

func TestNormalize_IflowFailureStatus(t *testing.T) {
	n := NewNormalizer(nil)
	body := `{"status":"1001","msg":"quota exceeded","body":{}}`

	res := n.Normalize(200, []byte(body))
	if res.Kind() != KindProviderError {
		t.Fatalf("expected provider_error, got %v", res.Kind())
	}
	if res.Err.Detail != "quota exceeded" {
		t.Errorf("expected provider msg in detail, got %q", res.Err.Detail)
	}
}

func TestNormalize_IflowTokenExpired(t *testing.T) {
	n := NewNormalizer(nil)

	for _, msg := range []string{"Token expired, please re-login", "错误：token已过期"} {
		body := `{"status":"401","msg":"` + msg + `","body":null}`
		res := n.Normalize(200, []byte(body))
		if res.Kind() != KindAuthExpired {
			t.Errorf("msg %q: expected auth_expired, got %v", msg, res.Kind())
		}
	}
}

func TestNormalize_IflowCustomPattern(t *testing.T) {
	n := NewNormalizer([]string{"sitzung abgelaufen"})
	body := `{"status":"1","msg":"Sitzung abgelaufen","body":null}`

	if res := n.Normalize(200, []byte(body)); res.Kind() != KindAuthExpired {
		t.Fatalf("expected auth_expired for custom pattern, got %v", res.Kind())
	}

	// Дефолтная английская формулировка с кастомным списком уже не матчится.
	body = `{"status":"1","msg":"token expired","body":null}`
	if res := n.Normalize(200, []byte(body)); res.Kind() != KindProviderError {
		t.Fatalf("expected provider_error, got %v", res.Kind())
	}
}

func TestNormalize_IflowSuccessWithoutContent(t *testing.T) {
	n := NewNormalizer(nil)
	body := `{"status":"0","msg":"ok","body":{"usage":{"total_tokens":5}}}`

	if res := n.Normalize(200, []byte(body)); res.Kind() != KindMalformedResponse {
		t.Fatalf("expected malformed_response, got %v", res.Kind())
	}
}

func TestNormalize_OpenAIFormat(t *testing.T) {
	n := NewNormalizer(nil)
	body := `{"id":"chatcmpl-1","choices":[{"index":0,"message":{"role":"assistant","content":"Hi there!"}}]}`

	res := n.Normalize(200, []byte(body))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Content != "Hi there!" {
		t.Errorf("expected 'Hi there!', got %q", res.Content)
	}
}

func TestNormalize_OpenAIEmptyChoices(t *testing.T) {
	n := NewNormalizer(nil)

	if res := n.Normalize(200, []byte(`{"choices":[]}`)); res.Kind() != KindMalformedResponse {
		t.Fatalf("expected malformed_response for empty choices, got %v", res.Kind())
	}
	if res := n.Normalize(200, []byte(`{"choices":[{"message":{"role":"assistant","content":null}}]}`)); res.Kind() != KindMalformedResponse {
		t.Fatalf("expected malformed_response for null content, got %v", res.Kind())
	}
}

func TestNormalize_OpenAIEmptyStringContentIsSuccess(t *testing.T) {
	n := NewNormalizer(nil)

	// Ошибка формы — только отсутствующий или null content;
	// присланная пустая строка остаётся пустым успешным ответом.
	res := n.Normalize(200, []byte(`{"choices":[{"message":{"role":"assistant","content":""}}]}`))
	if !res.OK() {
		t.Fatalf("expected success for empty string content, got %v", res.Err)
	}
	if res.Content != "" {
		t.Errorf("expected empty content, got %q", res.Content)
	}
}

func TestNormalize_SimplifiedFormat(t *testing.T) {
	n := NewNormalizer(nil)

	res := n.Normalize(200, []byte(`{"content":"plain answer"}`))
	if !res.OK() {
		t.Fatalf("expected success, got %v", res.Err)
	}
	if res.Content != "plain answer" {
		t.Errorf("expected 'plain answer', got %q", res.Content)
	}
}

func TestNormalize_UnrecognizedFormat(t *testing.T) {
	n := NewNormalizer(nil)

	res := n.Normalize(200, []byte(`{"foo":"bar"}`))
	if res.Kind() != KindUnrecognizedFormat {
		t.Fatalf("expected unrecognized_format, got %v", res.Kind())
	}
	if res.Err.RawSnippet == "" {
		t.Error("expected non-empty raw snippet")
	}
}

func TestNormalize_IflowFailureDetailHonorsSnippetLimit(t *testing.T) {
	n := NewNormalizer(nil)
	n.SnippetLimit = 16

	body := `{"status":"1","msg":"` + strings.Repeat("a", 500) + `","body":null}`
	res := n.Normalize(200, []byte(body))
	if res.Kind() != KindProviderError {
		t.Fatalf("expected provider_error, got %v", res.Kind())
	}
	if len(res.Err.Detail) > 16 {
		t.Errorf("detail length %d exceeds configured limit 16", len(res.Err.Detail))
	}
}

func TestNormalize_SnippetIsBounded(t *testing.T) {
	n := NewNormalizer(nil)
	huge := `{"foo":"` + strings.Repeat("x", 10_000) + `"}`

	res := n.Normalize(200, []byte(huge))
	if res.Kind() != KindUnrecognizedFormat {
		t.Fatalf("expected unrecognized_format, got %v", res.Kind())
	}
	if len(res.Err.RawSnippet) > defaultSnippetLimit {
		t.Errorf("snippet length %d exceeds limit %d", len(res.Err.RawSnippet), defaultSnippetLimit)
	}
}

func TestNormalize_NotJSON(t *testing.T) {
	n := NewNormalizer(nil)

	if res := n.Normalize(200, []byte("<html>gateway error</html>")); res.Kind() != KindUnrecognizedFormat {
		t.Fatalf("expected unrecognized_format, got %v", res.Kind())
	}
}

func TestNormalize_AuthStatuses(t *testing.T) {
	n := NewNormalizer(nil)

	if res := n.Normalize(401, nil); res.Kind() != KindAuthError {
		t.Fatalf("expected auth_error for 401, got %v", res.Kind())
	}
	if res := n.Normalize(403, []byte(`{}`)); res.Kind() != KindAuthError {
		t.Fatalf("expected auth_error for 403, got %v", res.Kind())
	}
}

func TestNormalize_ServerErrorStatus(t *testing.T) {
	n := NewNormalizer(nil)

	res := n.Normalize(503, []byte(`{"error":{"message":"overloaded"}}`))
	if res.Kind() != KindProviderUnavailable {
		t.Fatalf("expected provider_unavailable, got %v", res.Kind())
	}
	if res.Err.Detail != "overloaded" {
		t.Errorf("expected detail from error body, got %q", res.Err.Detail)
	}
}

func TestNormalize_ClientErrorStatusWithEnvelopeMsg(t *testing.T) {
	n := NewNormalizer(nil)

	res := n.Normalize(400, []byte(`{"status":"2","msg":"bad model","body":null}`))
	if res.Kind() != KindProviderError {
		t.Fatalf("expected provider_error, got %v", res.Kind())
	}
	if res.Err.Detail != "bad model" {
		t.Errorf("expected envelope msg in detail, got %q", res.Err.Detail)
	}
}
