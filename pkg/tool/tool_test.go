package tool

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTool struct{ name, origin string }

func (s stubTool) Name() string           { return s.name }
func (s stubTool) Description() string    { return s.origin }
func (s stubTool) Schema() map[string]any { return nil }

func (s stubTool) Call(context.Context, map[string]any) (*Result, error) {
	return &Result{Content: []string{s.origin}}, nil
}

type stubSet struct {
	name   string
	tools  []CallableTool
	err    error
	closed bool
}

func (s *stubSet) Name() string { return s.name }

func (s *stubSet) Tools(context.Context) ([]CallableTool, error) {
	return s.tools, s.err
}

func (s *stubSet) Close() error {
	s.closed = true
	return s.err
}

func TestGroup_Tools(t *testing.T) {
	a := &stubSet{name: "a", tools: []CallableTool{stubTool{"search", "a"}, stubTool{"add", "a"}}}
	b := &stubSet{name: "b", tools: []CallableTool{stubTool{"search", "b"}, stubTool{"navigate", "b"}}}
	down := &stubSet{name: "down", err: errors.New("connection refused")}

	g := NewGroup("all", a, down, b)
	tools, err := g.Tools(context.Background())
	require.NoError(t, err)
	require.Len(t, tools, 3)

	search := Find(tools, "search")
	require.NotNil(t, search)
	assert.Equal(t, "a", search.Description())
	assert.NotNil(t, Find(tools, "navigate"))
	assert.Nil(t, Find(tools, "missing"))
}

func TestGroup_AllFailing(t *testing.T) {
	g := NewGroup("all", &stubSet{err: errors.New("one")}, &stubSet{err: errors.New("two")})

	_, err := g.Tools(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "one")
	assert.Contains(t, err.Error(), "two")
}

func TestGroup_Close(t *testing.T) {
	a := &stubSet{}
	b := &stubSet{err: errors.New("close failed")}

	err := NewGroup("all", a, b).Close()
	assert.EqualError(t, err, "close failed")
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}

func TestResult_Text(t *testing.T) {
	var r *Result
	assert.Empty(t, r.Text())
	assert.Equal(t, "a\nb", (&Result{Content: []string{"a", "b"}}).Text())
}
