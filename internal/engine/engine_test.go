package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Invisible-Cities-Agency/sidequestcore/internal/violation"
)

type fakeAdapter struct {
	id        string
	name      string
	available bool
}

func (f *fakeAdapter) ID() string   { return f.id }
func (f *fakeAdapter) Name() string { return f.name }
func (f *fakeAdapter) IsAvailable() bool { return f.available }
func (f *fakeAdapter) CheckRule(ctx context.Context, ruleID string) ([]violation.InputViolation, error) {
	return nil, nil
}
func (f *fakeAdapter) FullScan(ctx context.Context) ([]violation.InputViolation, error) {
	return nil, nil
}

func TestRegistryGetMissing(t *testing.T) {
	r := NewRegistry()
	_, err := r.Get("eslint")
	assert.Error(t, err)
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{id: "eslint", name: "ESLint", available: true}, 10)

	a, err := r.Get("eslint")
	require.NoError(t, err)
	assert.Equal(t, "ESLint", a.Name())
}

func TestRegistryAvailableOrdersByPriority(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{id: "tsc", name: "TypeScript", available: true}, 20)
	r.Register(&fakeAdapter{id: "eslint", name: "ESLint", available: true}, 10)
	r.Register(&fakeAdapter{id: "schema", name: "Schema", available: false}, 5)

	avail := r.Available()
	require.Len(t, avail, 2)
	assert.Equal(t, "eslint", avail[0].ID())
	assert.Equal(t, "tsc", avail[1].ID())
}

func TestRegistryOrderedIncludesUnavailable(t *testing.T) {
	r := NewRegistry()
	r.Register(&fakeAdapter{id: "tsc", available: true}, 20)
	r.Register(&fakeAdapter{id: "schema", available: false}, 5)

	ordered := r.Ordered()
	require.Len(t, ordered, 2)
	assert.Equal(t, "schema", ordered[0].ID())
}
