package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRows struct {
	vals []string
	i    int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return []any{r.vals[r.i-1]}, nil }

func (r *fakeRows) Next() bool {
	if r.i >= len(r.vals) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	p, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("unexpected dest %T", dest[0])
	}
	*p = r.vals[r.i-1]
	return nil
}

// fakeDB models the surfaced_notifications table as identity -> ids.
type fakeDB struct {
	rows map[string][]string
	fail error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.fail != nil {
		return pgconn.CommandTag{}, f.fail
	}
	identity := args[0].(string)
	switch {
	case strings.Contains(sql, "INSERT"):
		inserted := 0
		for _, id := range args[1].([]string) {
			dup := false
			for _, have := range f.rows[identity] {
				if have == id {
					dup = true
				}
			}
			if !dup {
				f.rows[identity] = append(f.rows[identity], id)
				inserted++
			}
		}
		return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", inserted)), nil
	case strings.Contains(sql, "DELETE"):
		n := len(f.rows[identity])
		delete(f.rows, identity)
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", n)), nil
	}
	return pgconn.CommandTag{}, errors.New("unexpected statement")
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if f.fail != nil {
		return nil, f.fail
	}
	return &fakeRows{vals: f.rows[args[0].(string)]}, nil
}

func TestSurfacedRepoRoundTrip(t *testing.T) {
	ctx := context.Background()
	db := &fakeDB{rows: map[string][]string{}}
	repo := NewSurfacedRepo(db, zap.NewNop())

	require.NoError(t, repo.Append(ctx, "alice", "n1", "n2"))
	require.NoError(t, repo.Append(ctx, "alice", "n2", "n3"))
	require.NoError(t, repo.Append(ctx, "alice"))

	ids, err := repo.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2", "n3"}, ids)

	require.NoError(t, repo.Reset(ctx, "alice"))
	ids, err = repo.Load(ctx, "alice")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSurfacedRepoWrapsErrors(t *testing.T) {
	boom := errors.New("connection refused")
	repo := NewSurfacedRepo(&fakeDB{fail: boom}, zap.NewNop())

	_, err := repo.Load(context.Background(), "alice")
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, repo.Append(context.Background(), "alice", "n1"), boom)
}
