package chunkserver

import (
	"bytes"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/pyropy/chunkserver/core/model"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T, chunkSize int64) *ChunkStore {
	t.Helper()

	store, err := NewChunkStore(t.TempDir(), chunkSize, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, store.Close())
	})

	return store
}

func TestChunkStore_ExampleScenario(t *testing.T) {
	store := newTestStore(t, 64)

	overwritten, err := store.Create("c1")
	require.NoError(t, err)
	require.False(t, overwritten)

	free, err := store.GetFreeSpace("c1")
	require.NoError(t, err)
	require.Equal(t, int64(64), free)

	size, err := store.Append("c1", []byte("hello"))
	require.NoError(t, err)
	require.Equal(t, int64(5), size)

	free, err = store.GetFreeSpace("c1")
	require.NoError(t, err)
	require.Equal(t, int64(59), free)

	data, err := store.Read("c1", 0, 5)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), data)

	data, err = store.Read("c1", 3, 10)
	require.NoError(t, err)
	require.Equal(t, []byte("lo"), data)
}

func TestChunkStore_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "text", data: []byte("hello world")},
		{name: "binary", data: []byte{0x00, 0x01, 0x02, 0xFF}},
		{name: "empty", data: []byte{}},
		{name: "full chunk", data: bytes.Repeat([]byte{'x'}, 128)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, 128)

			_, err := store.Create("chunk-1")
			require.NoError(t, err)

			_, err = store.Append("chunk-1", tt.data)
			require.NoError(t, err)

			data, err := store.Read("chunk-1", 0, int64(len(tt.data)))
			require.NoError(t, err)
			require.Equal(t, tt.data, data)
		})
	}
}

func TestChunkStore_FreeSpaceDecreasesByAppendLength(t *testing.T) {
	store := newTestStore(t, 1024)

	_, err := store.Create("c1")
	require.NoError(t, err)

	want := int64(1024)
	for _, payload := range []string{"a", "bb", "", "cccccccc", "dddd"} {
		_, err = store.Append("c1", []byte(payload))
		require.NoError(t, err)
		want -= int64(len(payload))

		free, err := store.GetFreeSpace("c1")
		require.NoError(t, err)
		require.Equal(t, want, free)
	}
}

func TestChunkStore_Read(t *testing.T) {
	store := newTestStore(t, 64)
	_, err := store.Create("c1")
	require.NoError(t, err)
	_, err = store.Append("c1", []byte("0123456789"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		offset  int64
		length  int64
		want    []byte
		errKind model.ErrorKind
	}{
		{name: "whole chunk", offset: 0, length: 10, want: []byte("0123456789")},
		{name: "middle", offset: 2, length: 3, want: []byte("234")},
		{name: "short read", offset: 7, length: 100, want: []byte("789")},
		{name: "zero length", offset: 3, length: 0, want: []byte{}},
		{name: "offset at end", offset: 10, length: 5, want: []byte{}},
		{name: "offset beyond end", offset: 50, length: 5, want: []byte{}},
		{name: "negative offset", offset: -1, length: 5, errKind: model.KindBadArgument},
		{name: "negative length", offset: 0, length: -5, errKind: model.KindBadArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := store.Read("c1", tt.offset, tt.length)
			if tt.errKind != "" {
				require.Error(t, err)
				require.Equal(t, tt.errKind, model.KindOf(err))
				return
			}

			require.NoError(t, err)
			require.Equal(t, tt.want, data)
		})
	}
}

func TestChunkStore_CreateIsDestructive(t *testing.T) {
	store := newTestStore(t, 64)

	_, err := store.Create("c1")
	require.NoError(t, err)
	_, err = store.Append("c1", []byte("old data"))
	require.NoError(t, err)

	overwritten, err := store.Create("c1")
	require.NoError(t, err)
	require.True(t, overwritten)

	data, err := store.Read("c1", 0, 64)
	require.NoError(t, err)
	require.Empty(t, data)

	free, err := store.GetFreeSpace("c1")
	require.NoError(t, err)
	require.Equal(t, int64(64), free)
}

func TestChunkStore_MissingChunk(t *testing.T) {
	store := newTestStore(t, 64)

	tests := []struct {
		name string
		call func() error
	}{
		{
			name: "append",
			call: func() error {
				_, err := store.Append("missing", []byte("x"))
				return err
			},
		},
		{
			name: "read",
			call: func() error {
				_, err := store.Read("missing", 0, 1)
				return err
			},
		},
		{
			name: "get free space",
			call: func() error {
				_, err := store.GetFreeSpace("missing")
				return err
			},
		},
		{
			name: "stat",
			call: func() error {
				_, err := store.Stat("missing")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			require.ErrorIs(t, err, model.ErrNotFound)
			require.ErrorIs(t, err, ErrChunkDoesNotExist)
		})
	}

	_, err := os.Stat(store.chunkPath("missing"))
	require.True(t, os.IsNotExist(err), "append must not create a chunk")
}

func TestChunkStore_AppendEnforcesCapacity(t *testing.T) {
	store := newTestStore(t, 8)

	_, err := store.Create("c1")
	require.NoError(t, err)
	_, err = store.Append("c1", []byte("12345"))
	require.NoError(t, err)

	size, err := store.Append("c1", []byte("6789"))
	require.ErrorIs(t, err, model.ErrCapacityExceeded)
	require.ErrorIs(t, err, ErrChunkFull)
	require.Equal(t, int64(5), size)

	data, err := store.Read("c1", 0, 8)
	require.NoError(t, err)
	require.Equal(t, []byte("12345"), data)

	size, err = store.Append("c1", []byte("678"))
	require.NoError(t, err)
	require.Equal(t, int64(8), size)

	free, err := store.GetFreeSpace("c1")
	require.NoError(t, err)
	require.Zero(t, free)
}

func TestChunkStore_InvalidHandle(t *testing.T) {
	store := newTestStore(t, 64)

	for _, handle := range []string{"", ".", "..", "a/b", "../escape", "a\\b", "nul\x00"} {
		t.Run(fmt.Sprintf("%q", handle), func(t *testing.T) {
			_, err := store.Create(handle)
			require.ErrorIs(t, err, model.ErrBadArgument)
			require.ErrorIs(t, err, ErrInvalidHandle)

			_, err = store.Append(handle, []byte("x"))
			require.ErrorIs(t, err, model.ErrBadArgument)
		})
	}
}

func TestChunkStore_CreateStorageError(t *testing.T) {
	store := newTestStore(t, 64)

	// a directory squatting on the chunk path makes the open fail
	require.NoError(t, os.Mkdir(store.chunkPath("dir"), 0750))

	_, err := store.Create("dir")
	require.ErrorIs(t, err, model.ErrStorage)
}

func TestChunkStore_ConcurrentAppends(t *testing.T) {
	const writers = 16
	store := newTestStore(t, 1<<20)

	_, err := store.Create("c1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	total := 0
	for i := 0; i < writers; i++ {
		payload := bytes.Repeat([]byte{byte('a' + i)}, 100+i)
		total += len(payload)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := store.Append("c1", payload); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	info, err := store.Stat("c1")
	require.NoError(t, err)
	require.Equal(t, int64(total), info.Size)

	data, err := store.Read("c1", 0, int64(total))
	require.NoError(t, err)
	for i := 0; i < writers; i++ {
		run := bytes.Repeat([]byte{byte('a' + i)}, 100+i)
		require.True(t, bytes.Contains(data, run), "payload %d interleaved or lost", i)
	}
}

func TestChunkStore_StatAndList(t *testing.T) {
	store := newTestStore(t, 64)

	for _, h := range []string{"b", "a"} {
		_, err := store.Create(h)
		require.NoError(t, err)
	}
	_, err := store.Append("a", []byte("abc"))
	require.NoError(t, err)
	_, err = store.Create("b")
	require.NoError(t, err)

	info, err := store.Stat("a")
	require.NoError(t, err)
	require.Equal(t, int64(3), info.Size)
	require.Equal(t, 1, info.Generation)
	require.False(t, info.CreatedAt.IsZero())
	require.False(t, info.ModifiedAt.Before(info.CreatedAt))

	chunks, err := store.List()
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	require.Equal(t, "a", chunks[0].Handle)
	require.Equal(t, int64(3), chunks[0].Size)
	require.Equal(t, "b", chunks[1].Handle)
	require.Equal(t, 2, chunks[1].Generation)
}

func TestChunkStore_ReopenKeepsChunks(t *testing.T) {
	root := t.TempDir()
	log := zaptest.NewLogger(t).Sugar()

	store, err := NewChunkStore(root, 64, log)
	require.NoError(t, err)
	_, err = store.Create("c1")
	require.NoError(t, err)
	_, err = store.Append("c1", []byte("persisted"))
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = NewChunkStore(root, 64, log)
	require.NoError(t, err)
	defer store.Close()

	data, err := store.Read("c1", 0, 64)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), data)

	info, err := store.Stat("c1")
	require.NoError(t, err)
	require.Equal(t, 1, info.Generation)
}

func TestChunkStore_LockTableDoesNotGrow(t *testing.T) {
	store := newTestStore(t, 64)

	_, err := store.Create("c1")
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		handle := fmt.Sprintf("missing-%d", i)
		_, err = store.Read(handle, 0, 1)
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = store.Append(handle, []byte("x"))
		require.ErrorIs(t, err, model.ErrNotFound)
		_, err = store.GetFreeSpace(handle)
		require.ErrorIs(t, err, model.ErrNotFound)

		_, held := store.locks.Get(handle)
		require.False(t, held, "lock entry left for %s", handle)
	}

	_, err = store.Append("c1", []byte("abc"))
	require.NoError(t, err)

	_, held := store.locks.Get("c1")
	require.False(t, held)
}

func TestChunkStore_LockReleasedWhileOthersWait(t *testing.T) {
	store := newTestStore(t, 1<<20)

	_, err := store.Create("c1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				if _, err := store.Append("c1", []byte("x")); err != nil {
					t.Error(err)
				}
				return
			}
			if _, err := store.Read("c1", 0, 1); err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	info, err := store.Stat("c1")
	require.NoError(t, err)
	require.Equal(t, int64(16), info.Size)

	_, held := store.locks.Get("c1")
	require.False(t, held)
}
