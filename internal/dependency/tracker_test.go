package dependency

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leonardcser/tiercache/internal/cache"
	"github.com/leonardcser/tiercache/internal/kv"
	"github.com/leonardcser/tiercache/internal/logger"
)

func TestMain(m *testing.M) {
	logger.InitWriter(io.Discard)
	os.Exit(m.Run())
}

type fixture struct {
	cache   *cache.Manager
	tracker *Tracker
	clock   *clockwork.FakeClock
}

func newFixture(t *testing.T, cfg Config) fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	ccfg := cache.DefaultConfig()
	ccfg.EnableAdaptiveTTL = false
	m, err := cache.New(ccfg, kv.NewMemory(clock, 0), cache.WithClock(clock))
	require.NoError(t, err)
	tr, err := New(m, cfg, WithClock(clock))
	require.NoError(t, err)
	return fixture{cache: m, tracker: tr, clock: clock}
}

func (f fixture) seed(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		require.True(t, f.cache.Set(context.Background(), k, []byte("v:"+k)))
	}
}

func (f fixture) has(key string) bool {
	_, ok := f.cache.Get(context.Background(), key)
	return ok
}

func TestTracker_Cascade(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.seed(t, "parent", "child", "bystander")

	require.NoError(t, f.tracker.Register(ctx, "child", "parent"))
	assert.Equal(t, []string{"child"}, f.tracker.Dependencies(ctx, "parent"))

	assert.Equal(t, 2, f.tracker.InvalidateWithDependencies(ctx, "parent"))
	assert.False(t, f.has("parent"))
	assert.False(t, f.has("child"))
	assert.True(t, f.has("bystander"))
	assert.Empty(t, f.tracker.Dependencies(ctx, "parent"), "record removed")
}

func TestTracker_Transitive(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.seed(t, "a", "b", "c")

	require.NoError(t, f.tracker.Register(ctx, "b", "a"))
	require.NoError(t, f.tracker.Register(ctx, "c", "b"))

	assert.Equal(t, 3, f.tracker.InvalidateWithDependencies(ctx, "a"))
	assert.False(t, f.has("c"))
}

func TestTracker_Cycle(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.seed(t, "a", "b")

	require.NoError(t, f.tracker.Register(ctx, "b", "a"))
	require.NoError(t, f.tracker.Register(ctx, "a", "b"))

	assert.Equal(t, 2, f.tracker.InvalidateWithDependencies(ctx, "a"))
}

func TestTracker_Diamond(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	require.NoError(t, f.tracker.RegisterMultiple(ctx, "d", []string{"b", "c"}))
	require.NoError(t, f.tracker.Register(ctx, "b", "a"))
	require.NoError(t, f.tracker.Register(ctx, "c", "a"))

	assert.Equal(t, 4, f.tracker.InvalidateWithDependencies(ctx, "a"), "d counted once")
}

func TestTracker_Expiry(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.seed(t, "parent", "child")

	require.NoError(t, f.tracker.Register(ctx, "child", "parent", WithTTL(time.Second)))
	f.clock.Advance(time.Second)

	assert.Empty(t, f.tracker.Dependencies(ctx, "parent"))
	assert.Equal(t, 1, f.tracker.InvalidateWithDependencies(ctx, "parent"))
	assert.True(t, f.has("child"))
}

func TestTracker_Namespaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	nsOpt := []cache.Option{cache.WithNamespace("web")}
	f.cache.Set(ctx, "page", []byte("p"), nsOpt...)
	f.cache.Set(ctx, "summary", []byte("s"), nsOpt...)

	require.NoError(t, f.tracker.Register(ctx, "summary", "page",
		WithNamespace("web"), WithSourceNamespace("web")))
	assert.Equal(t, []string{"web:summary"},
		f.tracker.Dependencies(ctx, "page", WithSourceNamespace("web")))

	assert.Equal(t, 2, f.tracker.InvalidateWithDependencies(ctx, "page", WithNamespace("web")))
	assert.False(t, f.has("web:summary"))
}

func TestTracker_OverflowDropsSoonestExpiring(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxDependenciesPerKey = 2
	f := newFixture(t, cfg)

	require.NoError(t, f.tracker.Register(ctx, "c1", "p", WithTTL(10*time.Second)))
	require.NoError(t, f.tracker.Register(ctx, "c2", "p", WithTTL(30*time.Second)))
	require.NoError(t, f.tracker.Register(ctx, "c3", "p", WithTTL(20*time.Second)))

	assert.Equal(t, []string{"c2", "c3"}, f.tracker.Dependencies(ctx, "p"))
}

func TestTracker_OverflowTieBreak(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.MaxDependenciesPerKey = 2
	f := newFixture(t, cfg)

	for _, k := range []string{"c", "b", "a"} {
		require.NoError(t, f.tracker.Register(ctx, k, "p"))
	}
	assert.Equal(t, []string{"b", "c"}, f.tracker.Dependencies(ctx, "p"))
}

func TestTracker_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	f.cache.Set(ctx, RecordPrefix+"parent", []byte("{not json"))

	assert.Empty(t, f.tracker.Dependencies(ctx, "parent"))
	require.NoError(t, f.tracker.Register(ctx, "child", "parent"))
	assert.Equal(t, []string{"child"}, f.tracker.Dependencies(ctx, "parent"))
}

func TestTracker_CleanupExpired(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	require.NoError(t, f.tracker.Register(ctx, "c1", "p", WithTTL(time.Second)))
	require.NoError(t, f.tracker.Register(ctx, "c2", "p", WithTTL(time.Second)))
	require.NoError(t, f.tracker.Register(ctx, "c3", "p", WithTTL(time.Hour)))
	require.NoError(t, f.tracker.Register(ctx, "x", "q", WithTTL(time.Hour)))
	f.clock.Advance(2 * time.Second)

	assert.Equal(t, 2, f.tracker.CleanupExpired(ctx))
	assert.Equal(t, 0, f.tracker.CleanupExpired(ctx))
	assert.Equal(t, []string{"c3"}, f.tracker.Dependencies(ctx, "p"))
	assert.Equal(t, []string{"x"}, f.tracker.Dependencies(ctx, "q"))
}

func TestTracker_RecordOutlivesLatestDependency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	require.NoError(t, f.tracker.Register(ctx, "c", "p", WithTTL(1500*time.Millisecond)))
	f.clock.Advance(1400 * time.Millisecond)
	assert.Equal(t, []string{"c"}, f.tracker.Dependencies(ctx, "p"))

	f.clock.Advance(time.Second)
	assert.Empty(t, f.cache.ScanPattern(ctx, RecordPrefix+"*"))
}

// readOnlyCache accepts reads but rejects every write.
type readOnlyCache struct{}

func (readOnlyCache) Get(context.Context, string, ...cache.Option) ([]byte, bool) { return nil, false }
func (readOnlyCache) Set(context.Context, string, []byte, ...cache.Option) bool   { return false }
func (readOnlyCache) Invalidate(context.Context, string, ...cache.Option) bool    { return false }
func (readOnlyCache) ScanPattern(context.Context, string) []string                { return nil }

func TestTracker_RegisterWriteFailure(t *testing.T) {
	ctx := context.Background()
	tr, err := New(readOnlyCache{}, DefaultConfig(), WithClock(clockwork.NewFakeClock()))
	require.NoError(t, err)

	err = tr.Register(ctx, "child", "parent")
	require.Error(t, err)
	assert.Equal(t, errors.CodeDatabase, errors.GetCode(err))

	err = tr.RegisterMultiple(ctx, "child", []string{"a", "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency:a")
	assert.Contains(t, err.Error(), "dependency:b")
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MaxDependenciesPerKey = -1
	_, err = New(readOnlyCache{}, cfg)
	require.Error(t, err)
	assert.Equal(t, errors.CodeInvalidConfig, errors.GetCode(err))
}

func TestTracker_ConcurrentRegisterKeepsEveryDependent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())

	const n = 32
	want := make([]string, 0, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		key := fmt.Sprintf("dep-%02d", i)
		want = append(want, key)
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.tracker.Register(ctx, key, "source"))
		}()
	}
	wg.Wait()

	assert.Equal(t, want, f.tracker.Dependencies(ctx, "source"))
	assert.Equal(t, n+1, f.tracker.InvalidateWithDependencies(ctx, "source"))
}
