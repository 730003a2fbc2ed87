package tasks

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mesh-intelligence/mender/pkg/types"
)

type namedTask string

func (n namedTask) Name() string                      { return string(n) }
func (n namedTask) Run(context.Context) (bool, error) { return true, nil }

func newRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	require.NoError(t, r.Register(types.KindCheck, namedTask("edges"), namedTask("entitysets"), namedTask("linking")))
	require.NoError(t, r.Register(types.KindUpgrade, namedTask("create_tables")))
	return r
}

func names(ts []types.Task) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.Name()
	}
	return out
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name        string
		kind        types.Kind
		requested   []string
		all         bool
		want        []string
		wantErr     error
		wantUnknown []string
	}{
		{
			name:      "requested order kept",
			kind:      types.KindCheck,
			requested: []string{"linking", "edges"},
			want:      []string{"linking", "edges"},
		},
		{
			name: "all resolves every check in name order",
			kind: types.KindCheck,
			all:  true,
			want: []string{"edges", "entitysets", "linking"},
		},
		{
			name:      "duplicates collapse",
			kind:      types.KindCheck,
			requested: []string{"edges", "edges", "linking", "edges"},
			want:      []string{"edges", "linking"},
		},
		{
			name:        "one unknown fails the whole resolution",
			kind:        types.KindCheck,
			requested:   []string{"edges", "bogus", "linking", "nope"},
			wantErr:     types.ErrUnknownTask,
			wantUnknown: []string{"bogus", "nope"},
		},
		{
			name:        "kinds are separate collections",
			kind:        types.KindUpgrade,
			requested:   []string{"edges"},
			wantErr:     types.ErrUnknownTask,
			wantUnknown: []string{"edges"},
		},
		{
			name:    "nothing requested",
			kind:    types.KindCheck,
			wantErr: types.ErrNoTasks,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRegistry(t)
			got, err := r.Resolve(tt.kind, tt.requested, tt.all)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
				assert.Nil(t, got)
				if tt.wantUnknown != nil {
					var ute *UnknownTaskError
					require.True(t, errors.As(err, &ute))
					assert.Equal(t, tt.wantUnknown, ute.Names)
					assert.Equal(t, tt.kind, ute.Kind)
				}
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, names(got))
		})
	}
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	r := newRegistry(t)
	err := r.Register(types.KindCheck, namedTask("edges"))
	assert.ErrorIs(t, err, types.ErrDuplicateTask)

	// The same name under another kind is fine.
	require.NoError(t, r.Register(types.KindUpgrade, namedTask("edges")))
}

func TestNames(t *testing.T) {
	r := newRegistry(t)
	assert.Equal(t, []string{"edges", "entitysets", "linking"}, r.Names(types.KindCheck))
	assert.Equal(t, []string{"create_tables"}, r.Names(types.KindUpgrade))
	assert.Empty(t, NewRegistry().Names(types.KindCheck))
}
