package hook

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guillaume29200/esport-cms/internal/metrics"
)

func recordAction(calls *[]string, label string) Action {
	return func(context.Context, interface{}) error {
		*calls = append(*calls, label)
		return nil
	}
}

func TestDo_OrderByPriorityThenRegistration(t *testing.T) {
	table := NewTable(nil)
	var calls []string

	table.AddAction("news", "app.boot", 20, recordAction(&calls, "news-20"))
	table.AddAction("auth", "app.boot", 0, recordAction(&calls, "auth-0"))
	table.AddAction("premium", "app.boot", DefaultPriority, recordAction(&calls, "premium-10a"))
	table.AddAction("admin", "app.boot", DefaultPriority, recordAction(&calls, "admin-10b"))

	require.NoError(t, table.Do(context.Background(), "app.boot", nil))
	assert.Equal(t, []string{"auth-0", "premium-10a", "admin-10b", "news-20"}, calls)
}

func TestDo_AggregatesErrorsAndContinues(t *testing.T) {
	table := NewTable(metrics.New())
	var calls []string
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	table.AddAction("a", "user.login", 1, func(context.Context, interface{}) error { return errA })
	table.AddAction("b", "user.login", 2, func(context.Context, interface{}) error { return errB })
	table.AddAction("c", "user.login", 3, recordAction(&calls, "c"))

	err := table.Do(context.Background(), "user.login", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errB)
	assert.Contains(t, err.Error(), "hook user.login (a)")
	assert.Equal(t, []string{"c"}, calls)
}

func TestDo_StopHaltsQuietly(t *testing.T) {
	table := NewTable(nil)
	var calls []string

	table.AddAction("a", "request.before", 0, func(context.Context, interface{}) error { return ErrStop })
	table.AddAction("b", "request.before", 5, recordAction(&calls, "b"))

	assert.NoError(t, table.Do(context.Background(), "request.before", nil))
	assert.Empty(t, calls)
}

func TestDo_RecoversPanics(t *testing.T) {
	table := NewTable(nil)
	var calls []string

	table.AddAction("bad", "app.boot", 0, func(context.Context, interface{}) error { panic("kaboom") })
	table.AddAction("good", "app.boot", 1, recordAction(&calls, "good"))

	err := table.Do(context.Background(), "app.boot", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPanic)
	assert.True(t, strings.Contains(err.Error(), "kaboom"))
	assert.Equal(t, []string{"good"}, calls)
}

func TestDo_CancelledContext(t *testing.T) {
	table := NewTable(nil)
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())

	table.AddAction("a", "app.shutdown", 0, func(context.Context, interface{}) error {
		cancel()
		return nil
	})
	table.AddAction("b", "app.shutdown", 1, recordAction(&calls, "b"))

	err := table.Do(ctx, "app.shutdown", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, calls)
}

func TestDo_PayloadMutation(t *testing.T) {
	table := NewTable(nil)
	table.AddAction("auth", "user.login", DefaultPriority, func(_ context.Context, p interface{}) error {
		p.(*UserEvent).Role = "admin"
		return nil
	})

	ev := &UserEvent{UserID: "u1"}
	require.NoError(t, table.Do(context.Background(), "user.login", ev))
	assert.Equal(t, "admin", ev.Role)
}

func TestDo_NoCallbacks(t *testing.T) {
	assert.NoError(t, NewTable(nil).Do(context.Background(), "nothing", nil))
}

func TestApply_ThreadsValue(t *testing.T) {
	table := NewTable(nil)
	table.AddFilter("news", "admin.menu", 20, func(_ context.Context, v interface{}) (interface{}, error) {
		return append(v.(Menu), MenuItem{ID: "news", Label: "News", Weight: 20}), nil
	})
	table.AddFilter("auth", "admin.menu", 10, func(_ context.Context, v interface{}) (interface{}, error) {
		return append(v.(Menu), MenuItem{ID: "users", Label: "Users", Weight: 10}), nil
	})

	menu, err := ApplyAs(context.Background(), table, "admin.menu", Menu{})
	require.NoError(t, err)
	require.Len(t, menu, 2)
	assert.Equal(t, "users", menu[0].ID)
	assert.Equal(t, "news", menu[1].ID)
}

func TestApply_FirstErrorAbortsWithOriginal(t *testing.T) {
	table := NewTable(nil)
	boom := errors.New("boom")
	var thirdCalled bool

	table.AddFilter("a", "user.profile", 1, func(_ context.Context, v interface{}) (interface{}, error) {
		return "changed", nil
	})
	table.AddFilter("b", "user.profile", 2, func(context.Context, interface{}) (interface{}, error) {
		return nil, boom
	})
	table.AddFilter("c", "user.profile", 3, func(_ context.Context, v interface{}) (interface{}, error) {
		thirdCalled = true
		return v, nil
	})

	out, err := table.Apply(context.Background(), "user.profile", "original")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "original", out)
	assert.False(t, thirdCalled)
}

func TestApply_StopAcceptsValue(t *testing.T) {
	table := NewTable(nil)
	table.AddFilter("premium", "content.access", 1, func(_ context.Context, v interface{}) (interface{}, error) {
		req := v.(AccessRequest)
		req.Allowed = true
		return req, ErrStop
	})
	table.AddFilter("deny", "content.access", 2, func(_ context.Context, v interface{}) (interface{}, error) {
		req := v.(AccessRequest)
		req.Allowed = false
		return req, nil
	})

	got, err := ApplyAs(context.Background(), table, "content.access", AccessRequest{})
	require.NoError(t, err)
	assert.True(t, got.Allowed)
}

func TestApplyAs_WrongType(t *testing.T) {
	table := NewTable(nil)
	table.AddFilter("x", "news.article", 1, func(context.Context, interface{}) (interface{}, error) {
		return 42, nil
	})

	got, err := ApplyAs(context.Background(), table, "news.article", "body")
	assert.ErrorIs(t, err, ErrFilterType)
	assert.Equal(t, "body", got)
}

func TestUnsubscribeAndRemoveOwner(t *testing.T) {
	table := NewTable(nil)
	var calls []string

	off := table.AddAction("news", "app.boot", 1, recordAction(&calls, "news"))
	table.AddAction("premium", "app.boot", 2, recordAction(&calls, "premium-action"))
	table.AddFilter("premium", "admin.menu", 2, func(_ context.Context, v interface{}) (interface{}, error) { return v, nil })

	off()
	off()
	assert.Equal(t, 2, table.RemoveOwner("premium"))
	assert.False(t, table.Has("app.boot"))
	assert.False(t, table.Has("admin.menu"))

	require.NoError(t, table.Do(context.Background(), "app.boot", nil))
	assert.Empty(t, calls)
}

func TestIntrospection(t *testing.T) {
	table := NewTable(nil)
	reg := table.For("premium")
	reg.On("user.login", func(context.Context, interface{}) error { return nil })
	reg.AddFilter("admin.menu", 30, func(_ context.Context, v interface{}) (interface{}, error) { return v, nil })
	table.For("auth").AddAction("user.login", 0, func(context.Context, interface{}) error { return nil })

	assert.Equal(t, []string{"admin.menu", "user.login"}, table.Names())
	assert.Equal(t, []Entry{
		{Hook: "user.login", Kind: KindAction, Owner: "auth", Priority: 0},
		{Hook: "user.login", Kind: KindAction, Owner: "premium", Priority: DefaultPriority},
	}, table.Entries("user.login"))
	assert.Len(t, table.All(), 3)
	assert.Equal(t, "premium", reg.Owner())
}

func TestCallbackMayRegisterDuringDispatch(t *testing.T) {
	table := NewTable(nil)
	var calls []string

	table.AddAction("a", "app.boot", 0, func(context.Context, interface{}) error {
		table.AddAction("late", "app.boot", 1, recordAction(&calls, "late"))
		return nil
	})

	require.NoError(t, table.Do(context.Background(), "app.boot", nil))
	assert.Empty(t, calls, "registration applies to the next dispatch")

	require.NoError(t, table.Do(context.Background(), "app.boot", nil))
	assert.Equal(t, []string{"late"}, calls)
}

func TestConcurrentDispatch(t *testing.T) {
	table := NewTable(nil)
	var mu sync.Mutex
	count := 0
	table.AddAction("x", "request.after", 0, func(context.Context, interface{}) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = table.Do(context.Background(), "request.after", nil)
				off := table.AddFilter("y", "z", 0, func(_ context.Context, v interface{}) (interface{}, error) { return v, nil })
				off()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 500, count)
}

func TestMenuSorted(t *testing.T) {
	menu := Menu{
		{ID: "c", Label: "Zeta", Weight: 10},
		{ID: "a", Label: "Alpha", Weight: 20},
		{ID: "b", Label: "Beta", Weight: 10},
	}
	sorted := menu.Sorted()
	assert.Equal(t, []string{"b", "c", "a"}, []string{sorted[0].ID, sorted[1].ID, sorted[2].ID})
	assert.Equal(t, "c", menu[0].ID, "Sorted must not reorder the receiver")
}
