package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	fp "path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pyropy/chunkserver/core/model"
	"github.com/pyropy/chunkserver/lib/cmap"
	"go.uber.org/zap"
)

const (
	chunkExt       = ".chunk"
	catalogDirName = ".catalog"
)

var (
	ErrChunkDoesNotExist = errors.New("chunk does not exist")
	ErrInvalidHandle     = errors.New("invalid chunk handle")
	ErrInvalidRange      = errors.New("offset and length must not be negative")
	ErrChunkFull         = errors.New("chunk capacity exceeded")
)

// ChunkStore keeps one file per chunk under a root directory it owns.
// Operations on the same handle are serialized by a per-handle lock.
type ChunkStore struct {
	root      string
	chunkSize int64

	locks   cmap.Map[model.ChunkHandle, *handleLock]
	catalog *ChunkCatalog
	log     *zap.SugaredLogger
}

func NewChunkStore(root string, chunkSize int64, log *zap.SugaredLogger) (*ChunkStore, error) {
	err := os.MkdirAll(root, 0750)
	if err != nil {
		return nil, err
	}

	catalog, err := OpenChunkCatalog(fp.Join(root, catalogDirName))
	if err != nil {
		return nil, err
	}

	return &ChunkStore{
		root:      root,
		chunkSize: chunkSize,
		locks:     cmap.NewMap[model.ChunkHandle, *handleLock](),
		catalog:   catalog,
		log:       log,
	}, nil
}

func (s *ChunkStore) Root() string {
	return s.root
}

func (s *ChunkStore) ChunkSize() int64 {
	return s.chunkSize
}

func (s *ChunkStore) Close() error {
	return s.catalog.Close()
}

// Create creates an empty chunk. An existing chunk with the same handle is
// truncated; overwritten reports that case.
func (s *ChunkStore) Create(handle model.ChunkHandle) (overwritten bool, err error) {
	const op = "create"
	if err := validateHandle(op, handle); err != nil {
		return false, err
	}

	defer s.lock(handle)()

	path := s.chunkPath(handle)
	if _, err := os.Stat(path); err == nil {
		overwritten = true
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0640)
	if err != nil {
		return false, model.NewError(model.KindStorage, op, handle, err)
	}

	err = f.Close()
	if err != nil {
		return false, model.NewError(model.KindStorage, op, handle, err)
	}

	if overwritten {
		s.log.Warnw("chunk", "event", "create", "status", "existing chunk truncated", "handle", handle)
	}

	err = s.catalog.RecordCreate(context.Background(), handle, time.Now().UTC())
	if err != nil {
		s.log.Errorw("chunk", "event", "create", "status", "catalog update failed", "handle", handle, "error", err)
	}

	return overwritten, nil
}

// GetFreeSpace returns chunk capacity minus the current chunk size.
func (s *ChunkStore) GetFreeSpace(handle model.ChunkHandle) (int64, error) {
	const op = "get free space"
	if err := validateHandle(op, handle); err != nil {
		return 0, err
	}

	defer s.rlock(handle)()

	size, err := s.size(op, handle)
	if err != nil {
		return 0, err
	}

	return s.chunkSize - size, nil
}

// Append writes data at the end of an existing chunk and returns the new
// chunk size. Either all of data is written or the chunk is left unchanged.
func (s *ChunkStore) Append(handle model.ChunkHandle, data []byte) (int64, error) {
	const op = "append"
	if err := validateHandle(op, handle); err != nil {
		return 0, err
	}

	defer s.lock(handle)()

	f, err := os.OpenFile(s.chunkPath(handle), os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		return 0, openError(op, handle, err)
	}

	size, err := s.appendLocked(op, handle, f, data)
	if closeErr := f.Close(); closeErr != nil && err == nil {
		err = model.NewError(model.KindStorage, op, handle, closeErr)
	}
	if err != nil {
		return size, err
	}

	err = s.catalog.RecordAppend(context.Background(), handle, time.Now().UTC())
	if err != nil {
		s.log.Errorw("chunk", "event", "append", "status", "catalog update failed", "handle", handle, "error", err)
	}

	return size, nil
}

func (s *ChunkStore) appendLocked(op string, handle model.ChunkHandle, f *os.File, data []byte) (int64, error) {
	fi, err := f.Stat()
	if err != nil {
		return 0, model.NewError(model.KindStorage, op, handle, err)
	}

	size := fi.Size()
	if size+int64(len(data)) > s.chunkSize {
		err = fmt.Errorf("%w: size %d, appending %d, capacity %d", ErrChunkFull, size, len(data), s.chunkSize)
		return size, model.NewError(model.KindCapacityExceeded, op, handle, err)
	}

	if len(data) == 0 {
		return size, nil
	}

	_, err = f.Write(data)
	if err != nil {
		if truncErr := f.Truncate(size); truncErr != nil {
			s.log.Errorw("chunk", "event", "append", "status", "rollback failed", "handle", handle, "error", truncErr)
		}
		return size, model.NewError(model.KindStorage, op, handle, err)
	}

	return size + int64(len(data)), nil
}

// Read returns up to length bytes starting at offset. Reads past the end of
// the chunk are cut short; an offset at or beyond the end yields no bytes.
func (s *ChunkStore) Read(handle model.ChunkHandle, offset, length int64) ([]byte, error) {
	const op = "read"
	if err := validateHandle(op, handle); err != nil {
		return nil, err
	}

	if offset < 0 || length < 0 {
		return nil, model.NewError(model.KindBadArgument, op, handle, ErrInvalidRange)
	}

	defer s.rlock(handle)()

	f, err := os.Open(s.chunkPath(handle))
	if err != nil {
		return nil, openError(op, handle, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return nil, model.NewError(model.KindStorage, op, handle, err)
	}

	size := fi.Size()
	if offset >= size || length == 0 {
		return []byte{}, nil
	}

	n := size - offset
	if length < n {
		n = length
	}

	buf := make([]byte, n)
	read, err := f.ReadAt(buf, offset)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, model.NewError(model.KindStorage, op, handle, err)
	}

	return buf[:read], nil
}

// Stat describes a single chunk.
func (s *ChunkStore) Stat(handle model.ChunkHandle) (model.ChunkInfo, error) {
	const op = "stat"
	if err := validateHandle(op, handle); err != nil {
		return model.ChunkInfo{}, err
	}

	defer s.rlock(handle)()

	size, err := s.size(op, handle)
	if err != nil {
		return model.ChunkInfo{}, err
	}

	info := model.ChunkInfo{Handle: handle, Size: size}

	entry, exists, err := s.catalog.Get(context.Background(), handle)
	if err != nil {
		s.log.Errorw("chunk", "event", "stat", "status", "catalog read failed", "handle", handle, "error", err)
	}
	if exists {
		info.Generation = entry.Generation
		info.CreatedAt = entry.CreatedAt
		info.ModifiedAt = entry.ModifiedAt
	}

	return info, nil
}

// List describes every chunk held under the root, ordered by handle.
func (s *ChunkStore) List() ([]model.ChunkInfo, error) {
	const op = "list"

	dirEntries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, model.NewError(model.KindStorage, op, "", err)
	}

	entries, err := s.catalog.All(context.Background())
	if err != nil {
		s.log.Errorw("chunk", "event", "list", "status", "catalog read failed", "error", err)
	}

	chunks := make([]model.ChunkInfo, 0, len(dirEntries))
	for _, de := range dirEntries {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, chunkExt) {
			continue
		}

		fi, err := de.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, model.NewError(model.KindStorage, op, "", err)
		}

		handle := strings.TrimSuffix(name, chunkExt)
		info := model.ChunkInfo{Handle: handle, Size: fi.Size()}
		if entry, ok := entries[handle]; ok {
			info.Generation = entry.Generation
			info.CreatedAt = entry.CreatedAt
			info.ModifiedAt = entry.ModifiedAt
		}

		chunks = append(chunks, info)
	}

	sort.Slice(chunks, func(i, j int) bool {
		return chunks[i].Handle < chunks[j].Handle
	})

	return chunks, nil
}

func (s *ChunkStore) chunkPath(handle model.ChunkHandle) string {
	return fp.Join(s.root, handle+chunkExt)
}

// handleLock is the lock of one handle. It stays in the lock table only
// while some call holds or waits for it.
type handleLock struct {
	sync.RWMutex

	mu      sync.Mutex
	refs    int
	retired bool
}

// lock takes the exclusive lock of handle and returns its release func.
func (s *ChunkStore) lock(handle model.ChunkHandle) func() {
	l := s.acquire(handle)
	l.Lock()

	return func() {
		l.Unlock()
		s.release(handle, l)
	}
}

func (s *ChunkStore) rlock(handle model.ChunkHandle) func() {
	l := s.acquire(handle)
	l.RLock()

	return func() {
		l.RUnlock()
		s.release(handle, l)
	}
}

func (s *ChunkStore) acquire(handle model.ChunkHandle) *handleLock {
	for {
		l, ok := s.locks.Get(handle)
		if !ok {
			l, _ = s.locks.GetOrSet(handle, &handleLock{})
		}

		l.mu.Lock()
		if l.retired {
			// removed from the table after we loaded it
			l.mu.Unlock()
			continue
		}
		l.refs++
		l.mu.Unlock()

		return l
	}
}

func (s *ChunkStore) release(handle model.ChunkHandle, l *handleLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		l.retired = true
		s.locks.Delete(handle)
	}
}

func (s *ChunkStore) size(op string, handle model.ChunkHandle) (int64, error) {
	fi, err := os.Stat(s.chunkPath(handle))
	if err != nil {
		return 0, openError(op, handle, err)
	}

	return fi.Size(), nil
}

func openError(op string, handle model.ChunkHandle, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewError(model.KindNotFound, op, handle, ErrChunkDoesNotExist)
	}

	return model.NewError(model.KindStorage, op, handle, err)
}

func validateHandle(op string, handle model.ChunkHandle) error {
	switch {
	case handle == "", handle == ".", handle == "..",
		strings.ContainsAny(handle, `/\`+"\x00"),
		strings.ContainsRune(handle, fp.Separator):
		return model.NewError(model.KindBadArgument, op, handle, ErrInvalidHandle)
	}

	return nil
}
