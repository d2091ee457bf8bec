package restfetch

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func fetchOnce(t *testing.T, client *Client, path string, resolve ResolveFunc) (interface{}, *Error) {
	t.Helper()

	desc, buildErr := client.buildDescriptor(&requestSpec{method: "GET", path: path}, testToken())
	if buildErr != nil {
		return nil, buildErr
	}
	out, fetchErr := client.execute(desc)
	if fetchErr != nil {
		return nil, fetchErr
	}
	return normalizeOutcome(out, resolve)
}

func TestFetchSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":1,"name":"bob"}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	data, err := fetchOnce(t, client, "users", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	m, ok := data.(map[string]interface{})
	if !ok {
		t.Fatalf("expected parsed object, got %T", data)
	}
	if m["name"] != "bob" {
		t.Errorf("unexpected data: %v", m)
	}
}

func TestFetchTextResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprint(w, "hello")
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	data, err := fetchOnce(t, client, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != "hello" {
		t.Errorf("expected raw text, got %v", data)
	}
}

func TestFetchHTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"reason":"no such user"}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	_, err := fetchOnce(t, client, "users/9", nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if err.Type != ErrorTypeHTTP {
		t.Errorf("expected HttpStatus, got %q", err.Type)
	}
	if err.Status != 404 {
		t.Errorf("expected 404, got %d", err.Status)
	}
	if err.Error() != "Failed to fetch: 404 Not Found" {
		t.Errorf("unexpected message: %q", err.Error())
	}
	body, ok := err.Data.(map[string]interface{})
	if !ok || body["reason"] != "no such user" {
		t.Errorf("expected parsed error body, got %v", err.Data)
	}
}

func TestFetchUnparsableSuccessBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "<html>not json</html>")
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	_, err := fetchOnce(t, client, "", nil)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if err.Type != ErrorTypeParse {
		t.Errorf("expected Parse type, got %q", err.Type)
	}
	if err.Data != "<html>not json</html>" {
		t.Errorf("error should carry the raw body, got %v", err.Data)
	}
}

func TestFetchTransportError(t *testing.T) {
	client := New(WithBase("http://127.0.0.1:1"), WithTimeout(500*time.Millisecond))
	_, err := fetchOnce(t, client, "users", nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if err.Type != ErrorTypeTransport {
		t.Errorf("expected Transport type, got %q", err.Type)
	}
	if !strings.HasPrefix(err.Error(), "Failed to fetch:") {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestFetchResolveError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	_, err := fetchOnce(t, client, "", func(data interface{}) (interface{}, error) {
		return nil, errors.New("unexpected shape")
	})
	if err == nil {
		t.Fatal("expected resolve error")
	}
	if err.Type != ErrorTypeResolve {
		t.Errorf("expected Resolve type, got %q", err.Type)
	}
	if err.Error() != ResolveErrorMessage {
		t.Errorf("unexpected message: %q", err.Error())
	}
}

func TestFetchResolvePanicIsContained(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":null}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	_, err := fetchOnce(t, client, "", func(data interface{}) (interface{}, error) {
		var s []interface{}
		return s[3], nil
	})
	if err == nil {
		t.Fatal("expected resolve error from panic")
	}
	if err.Type != ErrorTypeResolve {
		t.Errorf("expected Resolve type, got %q", err.Type)
	}
}

func TestFetchResolveTransform(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"items":[1,2,3]}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	data, err := fetchOnce(t, client, "", func(data interface{}) (interface{}, error) {
		items := data.(map[string]interface{})["items"].([]interface{})
		return len(items), nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != 3 {
		t.Errorf("expected transformed value, got %v", data)
	}
}

func TestFetchEmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	data, err := fetchOnce(t, client, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data != nil {
		t.Errorf("expected nil data for empty body, got %v", data)
	}
}

func TestMiddlewareChainOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"trace":%q}`, r.Header.Get("X-Trace"))
	}))
	defer server.Close()

	appender := func(tag string) Middleware {
		return func(req *http.Request, next RoundTripper) (*http.Response, error) {
			req.Header.Set("X-Trace", req.Header.Get("X-Trace")+tag)
			return next.RoundTrip(req)
		}
	}

	client := New(
		WithBase(server.URL),
		WithMiddleware(appender("a"), appender("b")),
	)

	data, err := fetchOnce(t, client, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.(map[string]interface{})["trace"] != "ab" {
		t.Errorf("middleware should run in registration order, got %v", data)
	}
}

func TestRateLimiterDeniesAttempt(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL), WithRateLimiter(1, 1))

	if _, err := fetchOnce(t, client, "", nil); err != nil {
		t.Fatalf("first attempt should pass: %v", err)
	}
	_, err := fetchOnce(t, client, "", nil)
	if err == nil {
		t.Fatal("second immediate attempt should be rate limited")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("expected ErrRateLimited, got %v", err)
	}
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := New(
		WithBase(server.URL),
		WithCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 2, RecoveryTimeout: time.Minute}),
	)

	for i := 0; i < 2; i++ {
		if _, err := fetchOnce(t, client, "", nil); err == nil {
			t.Fatal("expected 500 error")
		}
	}

	_, err := fetchOnce(t, client, "", nil)
	if err == nil {
		t.Fatal("expected denial from open breaker")
	}
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestDeduplicationSharesExchange(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	client := New(WithBase(server.URL), WithDeduplication())

	results := make(chan *Error, 3)
	for i := 0; i < 3; i++ {
		go func() {
			_, err := fetchOnce(t, client, "shared", nil)
			results <- err
		}()
	}

	// Give all three goroutines time to coalesce on the in-flight exchange.
	time.Sleep(100 * time.Millisecond)
	close(release)

	for i := 0; i < 3; i++ {
		if err := <-results; err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("expected one shared exchange, got %d", got)
	}
}

func TestRequestAndResponseHooks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer server.Close()

	var sawRequest, sawResponse int32
	client := New(
		WithBase(server.URL),
		WithOnRequest(func(req *http.Request) { atomic.AddInt32(&sawRequest, 1) }),
		WithOnResponse(func(resp *http.Response) { atomic.AddInt32(&sawResponse, 1) }),
	)

	if _, err := fetchOnce(t, client, "", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atomic.LoadInt32(&sawRequest) != 1 || atomic.LoadInt32(&sawResponse) != 1 {
		t.Errorf("hooks not invoked: request=%d response=%d", sawRequest, sawResponse)
	}
}

func TestDefaultUserAgent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"ua":%q}`, r.Header.Get("User-Agent"))
	}))
	defer server.Close()

	client := New(WithBase(server.URL))
	data, err := fetchOnce(t, client, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ua := data.(map[string]interface{})["ua"].(string)
	if !strings.HasPrefix(ua, "restfetch/") {
		t.Errorf("expected engine user agent, got %q", ua)
	}

	custom := New(
		WithBase(server.URL),
		WithRequestOptions(RequestOptions{Headers: map[string]string{"User-Agent": "custom/1"}}),
	)
	data, err = fetchOnce(t, custom, "", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := data.(map[string]interface{})["ua"]; got != "custom/1" {
		t.Errorf("explicit user agent must win, got %q", got)
	}
}
