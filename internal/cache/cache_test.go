package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry() *Entry {
	return &Entry{
		Artifacts: []Artifact{{Name: "dist", Content: []byte("tarball")}},
		Stdout:    "built\n",
	}
}

func TestLookupStore(t *testing.T) {
	c := New()
	fp := digest.FromString("stage")

	_, ok, err := c.Lookup(fp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Store(fp, sampleEntry()))

	got, ok, err := c.Lookup(fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "built\n", got.Stdout)
	assert.Equal(t, 1, c.Len())
}

func TestBindInvalidatesOnScopeChange(t *testing.T) {
	c := New()
	fp := digest.FromString("stage")

	changed, err := c.Bind("app-a")
	require.NoError(t, err)
	assert.True(t, changed)
	require.NoError(t, c.Store(fp, sampleEntry()))

	changed, err = c.Bind("app-a")
	require.NoError(t, err)
	assert.False(t, changed)
	_, ok, _ := c.Lookup(fp)
	assert.True(t, ok, "rebinding the same scope must keep entries")

	changed, err = c.Bind("app-b")
	require.NoError(t, err)
	assert.True(t, changed)
	_, ok, _ = c.Lookup(fp)
	assert.False(t, ok, "binding another scope must drop entries")
	assert.Equal(t, "app-b", c.Scope())
}

func TestAcquireSharesScope(t *testing.T) {
	c := New()

	release1, invalidated, err := c.Acquire("app")
	require.NoError(t, err)
	assert.True(t, invalidated)
	require.NoError(t, c.Store(digest.FromString("stage"), sampleEntry()))

	release2, invalidated, err := c.Acquire("app")
	require.NoError(t, err)
	assert.False(t, invalidated)
	assert.Equal(t, 1, c.Len())

	release1()
	release2()
}

func TestAcquireWaitsForOtherScope(t *testing.T) {
	c := New()

	release, _, err := c.Acquire("app-a")
	require.NoError(t, err)
	require.NoError(t, c.Store(digest.FromString("stage"), sampleEntry()))

	acquired := make(chan func())
	go func() {
		release, _, err := c.Acquire("app-b")
		if err != nil {
			close(acquired)
			return
		}
		acquired <- release
	}()

	select {
	case <-acquired:
		t.Fatal("scope changed while a run held the cache")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, "app-a", c.Scope())
	assert.Equal(t, 1, c.Len())

	release()

	select {
	case releaseB, ok := <-acquired:
		require.True(t, ok, "acquire failed")
		assert.Equal(t, "app-b", c.Scope())
		assert.Zero(t, c.Len())
		releaseB()
	case <-time.After(5 * time.Second):
		t.Fatal("acquire did not complete after release")
	}
}

func TestInvalidate(t *testing.T) {
	c := New()
	require.NoError(t, c.Store(digest.FromString("a"), sampleEntry()))
	require.NoError(t, c.Invalidate())
	assert.Equal(t, 0, c.Len())
}

func TestPersistentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "fingerprints.db")
	fp := digest.FromString("stage")

	c, err := Open(path)
	require.NoError(t, err)
	_, err = c.Bind("app")
	require.NoError(t, err)
	require.NoError(t, c.Store(fp, sampleEntry()))
	require.NoError(t, c.Close())

	c, err = Open(path)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, "app", c.Scope())
	assert.Equal(t, 1, c.Len())

	got, ok, err := c.Lookup(fp)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("tarball"), got.Artifacts[0].Content)

	_, err = c.Bind("other")
	require.NoError(t, err)
	assert.Equal(t, 0, c.Len())
}
