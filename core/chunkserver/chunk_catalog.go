package chunkserver

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	ds "github.com/ipfs/go-datastore"
	dsq "github.com/ipfs/go-datastore/query"
	dslvl "github.com/ipfs/go-ds-leveldb"
	"github.com/pyropy/chunkserver/core/model"
)

const catalogPrefix = "/chunks"

// ChunkCatalog keeps per-chunk bookkeeping next to the chunk files. The chunk
// file stays the source of truth for existence and size.
type ChunkCatalog struct {
	Chunks *dslvl.Datastore
}

type CatalogEntry struct {
	Generation int
	CreatedAt  time.Time
	ModifiedAt time.Time
}

func OpenChunkCatalog(path string) (*ChunkCatalog, error) {
	store, err := dslvl.NewDatastore(path, nil)
	if err != nil {
		return nil, err
	}

	return &ChunkCatalog{
		Chunks: store,
	}, nil
}

func catalogKey(handle model.ChunkHandle) ds.Key {
	return ds.NewKey(catalogPrefix).ChildString(handle)
}

func (c *ChunkCatalog) Get(ctx context.Context, handle model.ChunkHandle) (CatalogEntry, bool, error) {
	var entry CatalogEntry

	b, err := c.Chunks.Get(ctx, catalogKey(handle))
	if errors.Is(err, ds.ErrNotFound) {
		return entry, false, nil
	}
	if err != nil {
		return entry, false, err
	}

	err = json.Unmarshal(b, &entry)
	if err != nil {
		return entry, false, err
	}

	return entry, true, nil
}

// RecordCreate bumps the generation of handle and resets its timestamps.
func (c *ChunkCatalog) RecordCreate(ctx context.Context, handle model.ChunkHandle, at time.Time) error {
	entry, _, err := c.Get(ctx, handle)
	if err != nil {
		return err
	}

	entry.Generation++
	entry.CreatedAt = at
	entry.ModifiedAt = at

	return c.put(ctx, handle, entry)
}

func (c *ChunkCatalog) RecordAppend(ctx context.Context, handle model.ChunkHandle, at time.Time) error {
	entry, _, err := c.Get(ctx, handle)
	if err != nil {
		return err
	}

	entry.ModifiedAt = at

	return c.put(ctx, handle, entry)
}

// All returns every catalog entry keyed by chunk handle.
func (c *ChunkCatalog) All(ctx context.Context) (map[model.ChunkHandle]CatalogEntry, error) {
	entries := make(map[model.ChunkHandle]CatalogEntry)

	res, err := c.Chunks.Query(ctx, dsq.Query{Prefix: catalogPrefix})
	if err != nil {
		return entries, err
	}
	defer res.Close()

	for {
		r, hasNext := res.NextSync()
		if !hasNext {
			break
		}
		if r.Error != nil {
			return entries, r.Error
		}

		var entry CatalogEntry
		err = json.Unmarshal(r.Value, &entry)
		if err != nil {
			return entries, err
		}

		entries[ds.RawKey(r.Key).BaseNamespace()] = entry
	}

	return entries, nil
}

func (c *ChunkCatalog) Close() error {
	return c.Chunks.Close()
}

func (c *ChunkCatalog) put(ctx context.Context, handle model.ChunkHandle, entry CatalogEntry) error {
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	return c.Chunks.Put(ctx, catalogKey(handle), b)
}
