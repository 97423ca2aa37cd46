package lifecycle

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courtbooking/internal/logger"
	"courtbooking/internal/persister"
	"courtbooking/internal/retry"
	"courtbooking/internal/store"
)

func TestMain(m *testing.M) {
	logger.Init()
	os.Exit(m.Run())
}

func newPersister(t *testing.T) *persister.Persister {
	t.Helper()
	p := persister.New(store.NewMemoryStore(), retry.Policy{Attempts: 3})
	require.NoError(t, p.Initialise(100))
	return p
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(newPersister(t), retry.Policy{Attempts: 3})
}

// racingPersister records the attributes put and runs race once, straight
// after the first successful put of the attribute named after.
type racingPersister struct {
	persister.OptimisticPersister
	after string
	race  func()
	puts  []string
}

func (p *racingPersister) Put(ctx context.Context, item string, version *int, attr store.Attribute) (int, error) {
	p.puts = append(p.puts, attr.Name)
	v, err := p.OptimisticPersister.Put(ctx, item, version, attr)
	if race := p.race; err == nil && race != nil && attr.Name == p.after {
		p.race = nil
		race()
	}
	return v, err
}

func TestDefaultStateIsActive(t *testing.T) {
	m := newManager(t)

	state, url, err := m.GetLifecycleState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Active, state)
	assert.Empty(t, url)
}

func TestRetireRequiresURL(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	assert.ErrorIs(t, m.SetLifecycleState(ctx, Retired, ""), ErrInvalidURL)
	assert.ErrorIs(t, m.SetLifecycleState(ctx, Retired, "ftp://x"), ErrInvalidURL)

	require.NoError(t, m.SetLifecycleState(ctx, Retired, "http://x"))
	state, url, err := m.GetLifecycleState(ctx)
	require.NoError(t, err)
	assert.Equal(t, Retired, state)
	assert.Equal(t, "http://x", url)
}

func TestURLOnlyReportedWhenRetired(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLifecycleState(ctx, Retired, "http://x"))
	require.NoError(t, m.SetLifecycleState(ctx, Active, ""))

	state, url, err := m.GetLifecycleState(ctx)
	require.NoError(t, err)
	assert.Equal(t, Active, state)
	assert.Empty(t, url)
}

func TestRetireWritesURLBeforeState(t *testing.T) {
	p := &racingPersister{OptimisticPersister: newPersister(t)}
	m := NewManager(p, retry.Policy{Attempts: 3})

	require.NoError(t, m.SetLifecycleState(context.Background(), Retired, "http://x"))
	assert.Equal(t, []string{urlAttrName, stateAttrName}, p.puts)
}

func TestRetireRewritesBothAfterConflict(t *testing.T) {
	ctx := context.Background()
	inner := newPersister(t)
	p := &racingPersister{OptimisticPersister: inner, after: urlAttrName}
	p.race = func() {
		item, err := inner.Get(ctx, ItemName)
		require.NoError(t, err)
		_, err = inner.Put(ctx, ItemName, item.Version, store.Attribute{Name: urlAttrName, Value: "http://stale"})
		require.NoError(t, err)
	}
	m := NewManager(p, retry.Policy{Attempts: 3})

	require.NoError(t, m.SetLifecycleState(ctx, Retired, "http://new"))
	assert.Equal(t, []string{urlAttrName, stateAttrName, urlAttrName, stateAttrName}, p.puts)

	state, url, err := m.GetLifecycleState(ctx)
	require.NoError(t, err)
	assert.Equal(t, Retired, state)
	assert.Equal(t, "http://new", url)
}

func TestSetRejectsUnknownState(t *testing.T) {
	m := newManager(t)
	assert.ErrorIs(t, m.SetLifecycleState(context.Background(), State("PAUSED"), ""), ErrUnknownState)
}

func TestCheckOperation(t *testing.T) {
	tests := []struct {
		name      string
		state     State
		url       string
		readOnly  bool
		endUser   bool
		wantError bool
	}{
		{"active write", Active, "", false, true, false},
		{"readonly read", ReadOnly, "", true, true, false},
		{"readonly write", ReadOnly, "", false, true, true},
		{"readonly system write", ReadOnly, "", false, false, false},
		{"retired read", Retired, "http://x", true, true, true},
		{"retired system write", Retired, "http://x", false, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(t)
			ctx := context.Background()
			require.NoError(t, m.SetLifecycleState(ctx, tt.state, tt.url))

			err := m.CheckOperation(ctx, tt.readOnly, tt.endUser)
			if !tt.wantError {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrOperationRejected)
		})
	}
}

func TestRejectedMessages(t *testing.T) {
	m := newManager(t)
	ctx := context.Background()

	require.NoError(t, m.SetLifecycleState(ctx, ReadOnly, ""))
	err := m.CheckOperation(ctx, false, true)
	assert.EqualError(t, err, "Cannot mutate bookings or rules - booking service is temporarily readonly whilst site maintenance is in progress")

	require.NoError(t, m.SetLifecycleState(ctx, Retired, "http://x"))
	err = m.CheckOperation(ctx, true, true)
	assert.Contains(t, err.Error(), "http://x")

	var rejected *RejectedError
	require.True(t, errors.As(err, &rejected))
	assert.Equal(t, Retired, rejected.State)
	assert.Equal(t, "http://x", rejected.URL)
}

func TestParseState(t *testing.T) {
	s, err := ParseState("readonly")
	require.NoError(t, err)
	assert.Equal(t, ReadOnly, s)

	_, err = ParseState("")
	assert.ErrorIs(t, err, ErrUnknownState)
}
