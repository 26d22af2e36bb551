package task

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/a2aproject/a2a-go/a2a"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kadirpekel/agentrelay/pkg/config"
)

func newTask(contextID string, state a2a.TaskState) *a2a.Task {
	return &a2a.Task{
		ID:        a2a.TaskID(uuid.NewString()),
		ContextID: contextID,
		Status:    a2a.TaskStatus{State: state},
	}
}

// storeSuite runs the same behaviour checks against every Store backend.
func storeSuite(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("get_unknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrTaskNotFound)
	})

	t.Run("put_and_get", func(t *testing.T) {
		s := newStore(t)
		tk := newTask("ctx-1", a2a.TaskStateSubmitted)
		tk.Artifacts = []*a2a.Artifact{{ID: "a1", Parts: a2a.ContentParts{a2a.TextPart{Text: "hi"}}}}
		require.NoError(t, s.Put(ctx, tk))

		got, err := s.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, got.ID)
		assert.Equal(t, "ctx-1", got.ContextID)
		assert.Equal(t, a2a.TaskStateSubmitted, got.Status.State)
		require.Len(t, got.Artifacts, 1)
	})

	t.Run("terminal_is_immutable", func(t *testing.T) {
		s := newStore(t)
		tk := newTask("ctx-2", a2a.TaskStateWorking)
		require.NoError(t, s.Put(ctx, tk))

		tk.Status.State = a2a.TaskStateCompleted
		require.NoError(t, s.Put(ctx, tk))

		// Re-saving the same terminal state is allowed.
		require.NoError(t, s.Put(ctx, tk))

		tk.Status.State = a2a.TaskStateWorking
		err := s.Put(ctx, tk)
		require.ErrorIs(t, err, ErrTerminalState)

		got, err := s.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
	})

	t.Run("list_by_context_in_order", func(t *testing.T) {
		s := newStore(t)
		first := newTask("conv", a2a.TaskStateSubmitted)
		second := newTask("conv", a2a.TaskStateSubmitted)
		other := newTask("other", a2a.TaskStateSubmitted)
		require.NoError(t, s.Put(ctx, first))
		require.NoError(t, s.Put(ctx, second))
		require.NoError(t, s.Put(ctx, other))

		// Updating the first task must not move it.
		first.Status.State = a2a.TaskStateWorking
		require.NoError(t, s.Put(ctx, first))

		list, err := s.ListByContext(ctx, "conv")
		require.NoError(t, err)
		require.Len(t, list, 2)
		assert.Equal(t, first.ID, list[0].ID)
		assert.Equal(t, a2a.TaskStateWorking, list[0].Status.State)
		assert.Equal(t, second.ID, list[1].ID)

		empty, err := s.ListByContext(ctx, "nobody")
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("a2a_adapter", func(t *testing.T) {
		s := NewA2AStore(newStore(t))
		tk := newTask("ctx-3", a2a.TaskStateSubmitted)
		require.NoError(t, s.Save(ctx, tk))
		got, err := s.Get(ctx, tk.ID)
		require.NoError(t, err)
		assert.Equal(t, tk.ID, got.ID)
		assert.Error(t, s.Save(ctx, nil))
	})
}

func TestMemoryStore(t *testing.T) {
	storeSuite(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	tk := newTask("ctx", a2a.TaskStateWorking)
	require.NoError(t, s.Put(ctx, tk))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	got.Status.State = a2a.TaskStateFailed

	again, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateWorking, again.Status.State)
	assert.Equal(t, 1, s.Len())
}

func TestSQLStore_SQLite(t *testing.T) {
	storeSuite(t, func(t *testing.T) Store {
		s, err := OpenSQLStore(context.Background(), "sqlite3", ":memory:")
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestSQLStore_MetadataRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	tk := newTask("ctx", a2a.TaskStateWorking)
	tk.Metadata = map[string]any{"agent": "planner", "attempt": float64(2)}
	require.NoError(t, s.Put(ctx, tk))

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, tk.Metadata, got.Metadata)
}

func TestSQLStore_UpsertKeepsTerminalRow(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	tk := newTask("ctx", a2a.TaskStateCompleted)
	require.NoError(t, s.Put(ctx, tk))

	// A writer that read the row before it turned terminal still runs the
	// upsert; the conflict clause must refuse it.
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, s.rebind(s.upsertSQL()),
		string(tk.ID), tk.ContextID, string(a2a.TaskStateWorking),
		`{"state":"working"}`, "[]", "[]", "{}", now.UnixNano(), now, now)
	require.NoError(t, err)
	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := s.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
}

func TestSQLStore_ConcurrentWritersRespectTerminal(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLStore(ctx, "sqlite", ":memory:")
	require.NoError(t, err)
	defer s.Close()

	base := newTask("ctx", a2a.TaskStateWorking)
	require.NoError(t, s.Put(ctx, base))

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tk := *base
			tk.Status = a2a.TaskStatus{State: a2a.TaskStateWorking}
			if i%2 == 0 {
				tk.Status = a2a.TaskStatus{State: a2a.TaskStateCompleted}
			}
			_ = s.Put(ctx, &tk)
		}()
	}
	wg.Wait()

	got, err := s.Get(ctx, base.ID)
	require.NoError(t, err)
	assert.Equal(t, a2a.TaskStateCompleted, got.Status.State)
}

func TestSQLStore_Rebind(t *testing.T) {
	pg := &SQLStore{dialect: DialectPostgres}
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $2", pg.rebind("SELECT 1 WHERE a = ? AND b = ?"))

	my := &SQLStore{dialect: DialectMySQL}
	assert.Equal(t, "a = ?", my.rebind("a = ?"))
}

func TestNewSQLStore_Validation(t *testing.T) {
	_, err := NewSQLStore(context.Background(), nil, "sqlite")
	assert.Error(t, err)
	assert.Equal(t, DialectPostgres, normalizeDialect("postgresql"))
	assert.Equal(t, DialectSQLite, normalizeDialect(""))
}

func TestNewStoreFromConfig(t *testing.T) {
	ctx := context.Background()

	s, closeFn, err := NewStoreFromConfig(ctx, config.TasksConfig{Backend: config.TaskStoreMemory})
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)
	assert.NoError(t, closeFn())

	s, closeFn, err = NewStoreFromConfig(ctx, config.TasksConfig{Backend: config.TaskStoreSQL, Dialect: "sqlite", DSN: ":memory:"})
	require.NoError(t, err)
	assert.IsType(t, &SQLStore{}, s)
	assert.NoError(t, closeFn())

	_, _, err = NewStoreFromConfig(ctx, config.TasksConfig{Backend: config.TaskStoreSQL})
	assert.Error(t, err)

	_, _, err = NewStoreFromConfig(ctx, config.TasksConfig{Backend: "redis"})
	assert.Error(t, err)
}
