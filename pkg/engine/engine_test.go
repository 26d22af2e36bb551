package engine

import (
	"context"
	"errors"
	"iter"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/observability"
	"github.com/kadirpekel/agentrelay/pkg/retry"
)

type fakeTransport struct {
	mu sync.Mutex

	// stream returns the events and trailing error of the n-th stream call.
	stream func(call int) ([]a2a.Event, error)
	send   a2a.SendMessageResult

	tasks   []*a2a.Task
	getErrs []error

	streamCalls int
	getCalls    int
	sent        []*a2a.Message
	canceled    []a2a.TaskID
	destroyed   bool
}

func (f *fakeTransport) SendMessage(_ context.Context, p *a2a.MessageSendParams) (a2a.SendMessageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, p.Message)
	return f.send, nil
}

func (f *fakeTransport) SendStreamingMessage(_ context.Context, p *a2a.MessageSendParams) iter.Seq2[a2a.Event, error] {
	f.mu.Lock()
	call := f.streamCalls
	f.streamCalls++
	f.sent = append(f.sent, p.Message)
	f.mu.Unlock()

	var events []a2a.Event
	var err error
	if f.stream != nil {
		events, err = f.stream(call)
	}
	return func(yield func(a2a.Event, error) bool) {
		for _, ev := range events {
			if !yield(ev, nil) {
				return
			}
		}
		if err != nil {
			yield(nil, err)
		}
	}
}

func (f *fakeTransport) GetTask(_ context.Context, q *a2a.TaskQueryParams) (*a2a.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.getCalls
	f.getCalls++
	if i < len(f.getErrs) && f.getErrs[i] != nil {
		return nil, f.getErrs[i]
	}
	if len(f.tasks) == 0 {
		return nil, nil
	}
	return f.tasks[min(i, len(f.tasks)-1)], nil
}

func (f *fakeTransport) CancelTask(_ context.Context, p *a2a.TaskIDParams) (*a2a.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, p.ID)
	return &a2a.Task{ID: p.ID, Status: a2a.TaskStatus{State: a2a.TaskStateCanceled}}, nil
}

func (f *fakeTransport) Destroy() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destroyed = true
	return nil
}

func streamOf(events ...a2a.Event) func(int) ([]a2a.Event, error) {
	return func(int) ([]a2a.Event, error) { return events, nil }
}

func agentText(text string) *a2a.Message {
	return a2a.NewMessage(a2a.MessageRoleAgent, a2a.TextPart{Text: text})
}

func working(taskID a2a.TaskID, text string) *a2a.TaskStatusUpdateEvent {
	return &a2a.TaskStatusUpdateEvent{
		TaskID:    taskID,
		ContextID: "ctx-1",
		Status:    a2a.TaskStatus{State: a2a.TaskStateWorking, Message: agentText(text)},
	}
}

func completedWithArtifact(taskID a2a.TaskID, parts ...a2a.Part) *a2a.Task {
	return &a2a.Task{
		ID:        taskID,
		ContextID: "ctx-1",
		Status:    a2a.TaskStatus{State: a2a.TaskStateCompleted},
		Artifacts: []*a2a.Artifact{{Parts: parts}},
	}
}

func userText(text string) *a2a.Message {
	return a2a.NewMessage(a2a.MessageRoleUser, a2a.TextPart{Text: text})
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func newTestEngine(t *testing.T, ft *fakeTransport, mutate ...func(*Config)) (*Engine, *sleepRecorder) {
	t.Helper()
	cfg := Config{
		BaseURL:      "http://stub.test",
		PollInterval: time.Millisecond,
		MaxWait:      10 * time.Millisecond,
		Retry:        retry.Config{MaxRetries: 3, BaseDelay: time.Millisecond},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	card := &a2a.AgentCard{
		Name:         "stub",
		URL:          "http://stub.test",
		Capabilities: a2a.AgentCapabilities{Streaming: true},
	}
	e, err := New(context.Background(), cfg,
		WithTransport(ft),
		WithCard(card),
		WithMetrics(observability.NoopMetrics{}))
	require.NoError(t, err)

	rec := &sleepRecorder{}
	e.sleep = rec.sleep
	t.Cleanup(func() { _ = e.Close() })
	return e, rec
}

func TestSendMessage_PingPong(t *testing.T) {
	ft := &fakeTransport{
		stream: streamOf(working("task-1", "pin"), working("task-1", "ping")),
		tasks:  []*a2a.Task{completedWithArtifact("task-1", a2a.TextPart{Text: "pong"})},
	}
	e, _ := newTestEngine(t, ft)

	var chunks []string
	resp, err := e.SendMessage(context.Background(), userText("ping"), func(_ context.Context, c Chunk) error {
		chunks = append(chunks, c.Content.(string))
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, "pong", resp.MergedText)
	assert.Equal(t, 2, resp.EventCount)
	assert.Equal(t, []string{"pin", "g"}, chunks)
	assert.Equal(t, a2a.TaskID("task-1"), resp.TaskID)
	assert.Equal(t, "ctx-1", resp.ContextID)
	assert.Equal(t, a2a.TaskStateCompleted, resp.FinalState)
	assert.Equal(t, 1, ft.getCalls)
}

func TestSendMessage_ArtifactsOverrideStreamedText(t *testing.T) {
	ft := &fakeTransport{
		stream: streamOf(working("task-1", "partial...")),
		tasks:  []*a2a.Task{completedWithArtifact("task-1", a2a.TextPart{Text: "final result"})},
	}
	e, _ := newTestEngine(t, ft)

	resp, err := e.SendMessage(context.Background(), userText("go"), nil)

	require.NoError(t, err)
	assert.Equal(t, "final result", resp.MergedText)
	assert.Equal(t, []string{"final result"}, resp.TextParts)
}

func TestSendMessage_DataMergedSmart(t *testing.T) {
	ft := &fakeTransport{
		stream: streamOf(
			&a2a.TaskArtifactUpdateEvent{
				TaskID:   "task-1",
				Artifact: &a2a.Artifact{Parts: []a2a.Part{a2a.DataPart{Data: map[string]any{"items": []any{"a"}}}}},
			},
			&a2a.TaskArtifactUpdateEvent{
				TaskID:   "task-1",
				Artifact: &a2a.Artifact{Parts: []a2a.Part{a2a.DataPart{Data: map[string]any{"items": []any{"b"}}}}},
			},
		),
		tasks: []*a2a.Task{{ID: "task-1", Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}}},
	}
	e, _ := newTestEngine(t, ft)

	var dataChunks int
	resp, err := e.SendMessage(context.Background(), userText("list"), func(_ context.Context, c Chunk) error {
		if c.Type == ChunkData {
			dataChunks++
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 2, dataChunks)
	assert.Len(t, resp.DataParts, 2)
	assert.Equal(t, map[string]any{"items": []any{"a", "b"}}, resp.MergedData)
}

func TestSendMessage_HistoryFallback(t *testing.T) {
	ft := &fakeTransport{
		stream: streamOf(working("task-1", "thinking")),
		tasks: []*a2a.Task{{
			ID:      "task-1",
			Status:  a2a.TaskStatus{State: a2a.TaskStateCompleted},
			History: []*a2a.Message{userText("q"), agentText("the answer"), userText("thanks")},
		}},
	}
	e, _ := newTestEngine(t, ft)

	resp, err := e.SendMessage(context.Background(), userText("q"), nil)

	require.NoError(t, err)
	assert.Equal(t, "the answer", resp.MergedText)
}

func TestSendMessage_PollFailuresBackOffAndGiveUp(t *testing.T) {
	boom := errors.New("connection refused")
	ft := &fakeTransport{
		stream:  streamOf(working("task-1", "partial")),
		getErrs: []error{boom, boom, boom, boom, boom},
	}
	e, rec := newTestEngine(t, ft)

	resp, err := e.SendMessage(context.Background(), userText("go"), nil)

	require.NoError(t, err)
	assert.Equal(t, "partial", resp.MergedText)
	assert.Equal(t, 5, ft.getCalls)
	assert.Equal(t, []time.Duration{
		1500 * time.Microsecond,
		2 * time.Millisecond,
		2500 * time.Microsecond,
		3 * time.Millisecond,
	}, rec.delays)
}

func TestSendMessage_PollTimeoutIsBestEffort(t *testing.T) {
	ft := &fakeTransport{
		stream: streamOf(working("task-1", "still going")),
		tasks:  []*a2a.Task{{ID: "task-1", Status: a2a.TaskStatus{State: a2a.TaskStateWorking}}},
	}
	e, rec := newTestEngine(t, ft)

	resp, err := e.SendMessage(context.Background(), userText("go"), nil)

	require.NoError(t, err)
	assert.Equal(t, "still going", resp.MergedText)
	assert.Equal(t, 10, ft.getCalls)
	assert.Len(t, rec.delays, 9)
}

func TestSendMessage_NoTaskSkipsPoll(t *testing.T) {
	ft := &fakeTransport{stream: streamOf(agentText("direct reply"))}
	e, _ := newTestEngine(t, ft)

	resp, err := e.SendMessage(context.Background(), userText("hi"), nil)

	require.NoError(t, err)
	assert.Equal(t, "direct reply", resp.MergedText)
	assert.Zero(t, ft.getCalls)
}

func TestSendMessage_AlwaysCreatesNewTask(t *testing.T) {
	ft := &fakeTransport{stream: streamOf(agentText("ok"))}
	e, _ := newTestEngine(t, ft)

	msg := userText("again")
	msg.TaskID = "old-task"
	_, err := e.SendMessage(context.Background(), msg, nil)

	require.NoError(t, err)
	require.Len(t, ft.sent, 1)
	assert.Empty(t, ft.sent[0].TaskID)
	assert.Equal(t, a2a.TaskID("old-task"), msg.TaskID)
}

func TestSendMessage_Blocking(t *testing.T) {
	ft := &fakeTransport{
		send:  completedWithArtifact("task-9", a2a.TextPart{Text: "done"}),
		tasks: []*a2a.Task{completedWithArtifact("task-9", a2a.TextPart{Text: "done"})},
	}
	e, _ := newTestEngine(t, ft, func(c *Config) { c.Blocking = true })

	resp, err := e.SendMessage(context.Background(), userText("go"), nil)

	require.NoError(t, err)
	assert.Equal(t, "done", resp.MergedText)
	assert.Equal(t, 1, resp.EventCount)
	assert.Zero(t, ft.streamCalls)
}

func TestSendMessage_Errors(t *testing.T) {
	t.Run("empty_message", func(t *testing.T) {
		e, _ := newTestEngine(t, &fakeTransport{})
		_, err := e.SendMessage(context.Background(), a2a.NewMessage(a2a.MessageRoleUser), nil)
		assert.ErrorIs(t, err, retry.ErrInvalidInput)
	})

	t.Run("closed", func(t *testing.T) {
		ft := &fakeTransport{}
		e, _ := newTestEngine(t, ft)
		require.NoError(t, e.Close())
		assert.True(t, ft.destroyed)

		_, err := e.SendMessage(context.Background(), userText("x"), nil)
		assert.ErrorIs(t, err, ErrNotInitialized)
	})

	t.Run("callback_error_is_permanent", func(t *testing.T) {
		ft := &fakeTransport{stream: streamOf(working("task-1", "x"))}
		e, _ := newTestEngine(t, ft)
		stop := errors.New("client went away")

		_, err := e.SendMessage(context.Background(), userText("x"), func(context.Context, Chunk) error {
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, retry.KindPermanent, retry.KindOf(err))
	})

	t.Run("protocol_error_is_permanent", func(t *testing.T) {
		ft := &fakeTransport{stream: func(int) ([]a2a.Event, error) { return nil, a2a.ErrInvalidParams }}
		e, _ := newTestEngine(t, ft)

		_, err := e.SendMessage(context.Background(), userText("x"), nil)
		assert.ErrorIs(t, err, a2a.ErrInvalidParams)
		assert.Equal(t, retry.KindPermanent, retry.KindOf(err))
	})
}

func TestSendWithRetry(t *testing.T) {
	t.Run("transient_then_success_uses_fresh_message_id", func(t *testing.T) {
		ft := &fakeTransport{
			stream: func(call int) ([]a2a.Event, error) {
				if call == 0 {
					return nil, a2a.ErrInternalError
				}
				return []a2a.Event{agentText("recovered")}, nil
			},
		}
		e, _ := newTestEngine(t, ft)

		resp, err := e.SendWithRetry(context.Background(), userText("x"), nil)

		require.NoError(t, err)
		assert.Equal(t, "recovered", resp.MergedText)
		require.Len(t, ft.sent, 2)
		assert.NotEqual(t, ft.sent[0].ID, ft.sent[1].ID)
	})

	t.Run("permanent_single_attempt", func(t *testing.T) {
		ft := &fakeTransport{stream: func(int) ([]a2a.Event, error) { return nil, a2a.ErrMethodNotFound }}
		e, _ := newTestEngine(t, ft)

		_, err := e.SendWithRetry(context.Background(), userText("x"), nil)

		require.Error(t, err)
		assert.Equal(t, 1, ft.streamCalls)
	})

	t.Run("exhausted", func(t *testing.T) {
		ft := &fakeTransport{stream: func(int) ([]a2a.Event, error) { return nil, a2a.ErrInternalError }}
		e, _ := newTestEngine(t, ft)

		_, err := e.SendWithRetry(context.Background(), userText("x"), nil)

		assert.True(t, retry.IsRetryExhausted(err))
		assert.ErrorIs(t, err, a2a.ErrInternalError)
		assert.Equal(t, 3, ft.streamCalls)
	})
}

func TestCancel(t *testing.T) {
	ft := &fakeTransport{}
	e, _ := newTestEngine(t, ft)

	task, err := e.Cancel(context.Background(), "task-7")

	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCanceled, task.Status.State)
	assert.Equal(t, []a2a.TaskID{"task-7"}, ft.canceled)
}

func TestSettled(t *testing.T) {
	withArtifact := []*a2a.Artifact{{Parts: []a2a.Part{a2a.TextPart{Text: "x"}}}}

	tests := []struct {
		name string
		task *a2a.Task
		want bool
	}{
		{name: "completed", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateCompleted}}, want: true},
		{name: "failed", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateFailed}}, want: true},
		{name: "canceled", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateCanceled}}, want: true},
		{name: "working_with_artifacts", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateWorking}, Artifacts: withArtifact}, want: false},
		{name: "unknown_empty", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateUnknown}}, want: false},
		{name: "unknown_with_artifacts", task: &a2a.Task{Status: a2a.TaskStatus{State: a2a.TaskStateUnknown}, Artifacts: withArtifact}, want: true},
		{name: "submitted_with_agent_history", task: &a2a.Task{
			Status:  a2a.TaskStatus{State: a2a.TaskStateSubmitted},
			History: []*a2a.Message{agentText("hello")},
		}, want: true},
		{name: "submitted_with_user_history", task: &a2a.Task{
			Status:  a2a.TaskStatus{State: a2a.TaskStateSubmitted},
			History: []*a2a.Message{userText("hello")},
		}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, settled(tt.task))
		})
	}
}

func TestRewriteCardURL(t *testing.T) {
	hosts := (&Config{DockerHosts: []string{"custom-agent"}}).dockerHosts()

	tests := []struct {
		in   string
		want string
	}{
		{in: "http://planner-agent:8001", want: "http://localhost:8001"},
		{in: "http://custom-agent:9000/a2a", want: "http://localhost:9000/a2a"},
		{in: "http://knowledge-agent", want: "http://localhost"},
		{in: "https://example.com:8443", want: "https://example.com:8443"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			card := &a2a.AgentCard{URL: tt.in}
			got := rewriteCardURL(card, hosts)
			assert.Equal(t, tt.want, got.URL)
			assert.Equal(t, tt.in, card.URL)
		})
	}
}

func TestHeaderTransport(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := Config{Headers: map[string]string{"X-Team": "relay"}}
	cfg.SetDefaults()
	client := newHTTPClient(&cfg, BearerToken("s3cret"))

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, DefaultUserAgent, got.Get("User-Agent"))
	assert.Equal(t, "application/json; charset=utf-8", got.Get("Accept"))
	assert.Equal(t, "relay", got.Get("X-Team"))
	assert.Equal(t, "Bearer s3cret", got.Get("Authorization"))
}

type failingCredentials struct{}

func (failingCredentials) Headers(context.Context) (map[string]string, error) {
	return nil, errors.New("token expired")
}

func TestHeaderTransport_CredentialFailureIsPermanent(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	client := newHTTPClient(&cfg, failingCredentials{})

	_, err := client.Get("http://127.0.0.1:1")
	require.Error(t, err)
	assert.Equal(t, retry.KindPermanent, retry.KindOf(err))
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{}
	cfg.SetDefaults()
	assert.Error(t, cfg.Validate())

	cfg.BaseURL = "ftp://agent"
	assert.Error(t, cfg.Validate())

	cfg.BaseURL = "http://agent"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 12, cfg.pollAttempts())

	cfg.PollInterval = time.Hour
	assert.Error(t, cfg.Validate())
}
