package master

import (
	"github.com/google/uuid"
)

// Master is the part of the master RPC surface chunk servers call into.
type Master interface {
	// ReportHealth ...
	ReportHealth(args *ReportHealthArgs, reply *ReportHealthReply) error
}

type Chunk struct {
	Handle string
	Size   int64
}

type ReportHealthArgs struct {
	ChunkServerID uuid.UUID
	Address       string
	Chunks        []Chunk
}

type ReportHealthReply struct {
}
