package model

import "time"

// ChunkHandle names a chunk. Handles are assigned by the master.
type ChunkHandle = string

type ChunkInfo struct {
	Handle     ChunkHandle
	Size       int64
	Generation int // number of times the handle was (re)created on this node
	CreatedAt  time.Time
	ModifiedAt time.Time
}
