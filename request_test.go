package restfetch

import (
	"context"
	"strings"
	"testing"
)

func testToken() *CancelToken {
	return newCancelToken(context.Background())
}

func TestBuildDescriptorHeaderPrecedence(t *testing.T) {
	client := New(
		WithBase("https://api.fake"),
		WithRequestOptions(RequestOptions{Headers: map[string]string{
			"X-Layer": "provider",
			"X-Keep":  "provider",
		}}),
		WithRequestOptionsFunc(func(url, method string, body []byte) RequestOptions {
			return RequestOptions{Headers: map[string]string{"X-Computed": "provider-func"}}
		}),
	)

	spec := &requestSpec{
		method: "GET",
		path:   "users",
		instanceOptions: RequestOptions{Headers: map[string]string{
			"x-layer": "instance",
		}},
		callOptions: RequestOptions{Headers: map[string]string{
			"X-Layer": "call",
		}},
		retryHeaders: map[string]string{"X-Retry": "retry"},
	}

	desc, err := client.buildDescriptor(spec, testToken())
	if err != nil {
		t.Fatalf("buildDescriptor failed: %v", err)
	}

	if desc.Headers["X-Layer"] != "call" {
		t.Errorf("call layer should win, got %q", desc.Headers["X-Layer"])
	}
	if desc.Headers["X-Keep"] != "provider" {
		t.Errorf("untouched provider header should survive, got %q", desc.Headers["X-Keep"])
	}
	if desc.Headers["X-Computed"] != "provider-func" {
		t.Errorf("computed provider header missing, got %q", desc.Headers["X-Computed"])
	}
	if desc.Headers["X-Retry"] != "retry" {
		t.Errorf("retry header missing, got %q", desc.Headers["X-Retry"])
	}
}

func TestBuildDescriptorComputedOptionsPerAttempt(t *testing.T) {
	calls := 0
	client := New(
		WithBase("https://api.fake"),
		WithRequestOptionsFunc(func(url, method string, body []byte) RequestOptions {
			calls++
			return RequestOptions{Headers: map[string]string{"X-N": strings.Repeat("x", calls)}}
		}),
	)

	spec := &requestSpec{method: "GET", path: "users"}
	first, _ := client.buildDescriptor(spec, testToken())
	second, _ := client.buildDescriptor(spec, testToken())

	if calls != 2 {
		t.Fatalf("computed options should be re-evaluated per attempt, got %d calls", calls)
	}
	if first.Headers["X-N"] == second.Headers["X-N"] {
		t.Error("expected fresh computed headers per attempt")
	}
}

func TestBuildDescriptorContentTypeDefaults(t *testing.T) {
	client := New(WithBase("https://api.fake"))

	structured, err := client.buildDescriptor(&requestSpec{
		method: "POST", path: "users",
		body: map[string]interface{}{"name": "bob"},
	}, testToken())
	if err != nil {
		t.Fatalf("buildDescriptor failed: %v", err)
	}
	if structured.Headers["Content-Type"] != "application/json" {
		t.Errorf("structured body should default to JSON, got %q", structured.Headers["Content-Type"])
	}
	if string(structured.Body) != `{"name":"bob"}` {
		t.Errorf("unexpected serialized body: %s", structured.Body)
	}

	raw, _ := client.buildDescriptor(&requestSpec{
		method: "POST", path: "users",
		body: "plain payload",
	}, testToken())
	if raw.Headers["Content-Type"] != "text/plain" {
		t.Errorf("string body should default to text/plain, got %q", raw.Headers["Content-Type"])
	}
	if string(raw.Body) != "plain payload" {
		t.Errorf("string body must not be serialized, got %s", raw.Body)
	}

	explicit, _ := client.buildDescriptor(&requestSpec{
		method: "POST", path: "users",
		body:            map[string]interface{}{"a": 1},
		instanceOptions: RequestOptions{Headers: map[string]string{"Content-Type": "application/vnd.custom+json"}},
	}, testToken())
	if explicit.Headers["Content-Type"] != "application/vnd.custom+json" {
		t.Errorf("explicit content type must win, got %q", explicit.Headers["Content-Type"])
	}

	empty, _ := client.buildDescriptor(&requestSpec{method: "GET", path: "users"}, testToken())
	if _, ok := empty.Headers["Content-Type"]; ok {
		t.Error("bodyless request must not carry a content type")
	}
}

func TestBuildDescriptorDeleteID(t *testing.T) {
	client := New(WithBase("https://api.fake"))

	desc, err := client.buildDescriptor(&requestSpec{
		method:   "DELETE",
		path:     "users",
		deleteID: "42",
	}, testToken())
	if err != nil {
		t.Fatalf("buildDescriptor failed: %v", err)
	}

	if desc.URL != "https://api.fake/users/42" {
		t.Errorf("delete id should become a path segment, got %q", desc.URL)
	}
	if desc.Body != nil {
		t.Error("delete by id must not carry a body")
	}
	if _, ok := desc.Headers["Content-Type"]; ok {
		t.Error("delete by id must not carry a content type")
	}
}

func TestBuildDescriptorQueryLayering(t *testing.T) {
	client := New(
		WithBase("https://api.fake"),
		WithQueryParams(map[string]interface{}{"env": "prod", "page": 1}),
	)

	desc, err := client.buildDescriptor(&requestSpec{
		method:      "GET",
		path:        "users",
		queryParams: map[string]interface{}{"page": 2},
		callQuery:   map[string]interface{}{"q": "bob"},
	}, testToken())
	if err != nil {
		t.Fatalf("buildDescriptor failed: %v", err)
	}

	if desc.URL != "https://api.fake/users?env=prod&page=2&q=bob" {
		t.Errorf("unexpected URL: %q", desc.URL)
	}
}

func TestBuildDescriptorSerializeFailure(t *testing.T) {
	client := New(WithBase("https://api.fake"))

	_, err := client.buildDescriptor(&requestSpec{
		method: "POST", path: "users",
		body: make(chan int),
	}, testToken())
	if err == nil {
		t.Fatal("expected serialization error")
	}
	if err.Type != ErrorTypeValidation {
		t.Errorf("expected Validation type, got %q", err.Type)
	}
	if !strings.HasPrefix(err.Message, "Failed to fetch:") {
		t.Errorf("unexpected message: %q", err.Message)
	}
}
