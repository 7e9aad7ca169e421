package chunkserver

import (
	"errors"

	"github.com/pyropy/chunkserver/core/model"
)

// ServiceName is the name the chunk server API is registered under.
const ServiceName = "ChunkServerAPI"

// Status is the outcome of a call. Payloads travel in the reply fields next to it.
type Status struct {
	OK      bool
	Kind    model.ErrorKind
	Message string
}

func OK() Status {
	return Status{OK: true}
}

// StatusFromError encodes err for the wire. A nil err is success.
func StatusFromError(err error) Status {
	if err == nil {
		return OK()
	}

	msg := err.Error()
	var e *model.Error
	if errors.As(err, &e) {
		msg = e.Cause()
	}

	return Status{
		Kind:    model.KindOf(err),
		Message: msg,
	}
}

// Err decodes the status back into a *model.Error, or nil on success.
func (s Status) Err(op string, handle model.ChunkHandle) error {
	if s.OK {
		return nil
	}

	kind := s.Kind
	if kind == "" {
		kind = model.KindStorage
	}

	var cause error
	if s.Message != "" && s.Message != string(kind) {
		cause = errors.New(s.Message)
	}

	return model.NewError(kind, op, handle, cause)
}

type CreateArgs struct {
	Handle string
}

type CreateReply struct {
	Status
	Overwritten bool
}

type GetChunkSpaceArgs struct {
	Handle string
}

type GetChunkSpaceReply struct {
	Status
	FreeSpace int64
}

type AppendArgs struct {
	Handle string
	Data   []byte
}

type AppendReply struct {
	Status
	ChunkSize int64
}

type ReadArgs struct {
	Handle string
	Offset int64
	Length int64
}

type ReadReply struct {
	Status
	Data []byte
}

type ListChunksArgs struct {
	Prefix string // only chunks whose handle starts with Prefix
}

type ListChunksReply struct {
	Status
	Chunks []model.ChunkInfo
}

type StatArgs struct {
	Handle string
}

type StatReply struct {
	Status
	Chunk model.ChunkInfo
}

type IChunkServer interface {
	Create(args *CreateArgs, reply *CreateReply) error
	GetChunkSpace(args *GetChunkSpaceArgs, reply *GetChunkSpaceReply) error
	Append(args *AppendArgs, reply *AppendReply) error
	Read(args *ReadArgs, reply *ReadReply) error
	ListChunks(args *ListChunksArgs, reply *ListChunksReply) error
	Stat(args *StatArgs, reply *StatReply) error
}
