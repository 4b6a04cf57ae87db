package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/toolhost/internal/approval"
	"github.com/flemzord/toolhost/internal/chat"
	"github.com/flemzord/toolhost/internal/core"
	"github.com/flemzord/toolhost/internal/orchestrator"
	"github.com/flemzord/toolhost/internal/settings"
	"github.com/flemzord/toolhost/internal/tool"
	"github.com/flemzord/toolhost/internal/tool/tooltest"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

// apiFixture is a gateway wired to a real orchestrator, with one tool
// ("shell") that always waits for confirmation.
type apiFixture struct {
	gateway  *Gateway
	orch     *orchestrator.Service
	settings *settings.Store
	session  *chat.MemorySession
	request  chat.Request
	handler  http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	store := settings.NewStore()
	store.Update(approval.SettingEligibleForAutoApproval, map[string]any{"shell": false}, settings.ScopeUser)

	registry := tool.NewRegistry(tool.RegistryConfig{Settings: store})
	t.Cleanup(registry.Close)
	engine := approval.New(approval.Config{Settings: store})
	t.Cleanup(engine.Close)

	chats := chat.NewMemoryService(nil)
	sess := chats.Open("s1")
	req := sess.AddRequest("clean the build")

	orch := orchestrator.New(orchestrator.Config{
		Registry: registry,
		Approval: engine,
		Chat:     chats,
		Logger:   discardLogger(),
	})

	d := tooltest.SimpleTool("shell")
	if _, err := registry.RegisterToolData(d); err != nil {
		t.Fatalf("RegisterToolData: %v", err)
	}
	if _, err := registry.RegisterToolImplementation(d.ID, tooltest.EchoTool()); err != nil {
		t.Fatalf("RegisterToolImplementation: %v", err)
	}
	if _, err := registry.RegisterToolData(tooltest.SimpleTool("unimplemented")); err != nil {
		t.Fatalf("RegisterToolData: %v", err)
	}
	set, err := registry.CreateToolSet(tool.InternalSource(), "terminal", "terminal", tool.ToolSetOptions{})
	if err != nil {
		t.Fatalf("CreateToolSet: %v", err)
	}
	set.AddTool(d)

	g := &Gateway{
		config:       Config{Auth: AuthConfig{BearerToken: "tok"}},
		logger:       discardLogger(),
		metrics:      &Metrics{},
		orchestrator: orch,
		settings:     store,
		sessions:     chats,
		startedAt:    time.Now(),
	}
	return &apiFixture{
		gateway:  g,
		orch:     orch,
		settings: store,
		session:  sess,
		request:  req,
		handler:  g.buildRouter(),
	}
}

// invokeShell starts a shell call and waits until it asks for confirmation.
func (f *apiFixture) invokeShell(t *testing.T, callID string) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() {
		_, err := f.orch.InvokeTool(context.Background(), tool.Call{
			CallID:     callID,
			ToolID:     "shell",
			Parameters: json.RawMessage(`{"command":"rm -rf build"}`),
			Context:    &tool.InvocationContext{SessionID: f.session.ID()},
		}, nil)
		done <- err
	}()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if inv, ok := f.orch.Invocation(callID); ok && inv.State().Kind == tool.StateWaitingForConfirmation {
			return done
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("call %s never waited for confirmation", callID)
	return nil
}

// do sends an authenticated request through the router.
func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	r.Header.Set("Authorization", "Bearer tok")
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, r)
	return rr
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %q: %v", rr.Body.String(), err)
	}
	return v
}

func newAppContext() *core.AppContext {
	return core.NewAppContext(discardLogger(), "/data", "/ws")
}

func awaitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("InvokeTool did not return")
		return nil
	}
}
