package chunkserver

import (
	"strings"

	"github.com/pyropy/chunkserver/core/model"
	rpcChunkServer "github.com/pyropy/chunkserver/rpc/chunkserver"
	"go.uber.org/zap"
)

// ChunkServerAPI exposes a ChunkServer over net/rpc. Failures are reported in
// the reply Status, never as RPC errors.
type ChunkServerAPI struct {
	server *ChunkServer
	log    *zap.SugaredLogger
}

func NewChunkServerAPI(chunkServer *ChunkServer) *ChunkServerAPI {
	return &ChunkServerAPI{
		server: chunkServer,
		log:    chunkServer.log,
	}
}

// Create ...
func (a *ChunkServerAPI) Create(args *rpcChunkServer.CreateArgs, reply *rpcChunkServer.CreateReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.Create", "handle", args.Handle)

	reply.Status = a.do("create", args.Handle, func() error {
		overwritten, err := a.server.Create(args.Handle)
		reply.Overwritten = overwritten
		return err
	})

	return nil
}

// GetChunkSpace ...
func (a *ChunkServerAPI) GetChunkSpace(args *rpcChunkServer.GetChunkSpaceArgs, reply *rpcChunkServer.GetChunkSpaceReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.GetChunkSpace", "handle", args.Handle)

	reply.Status = a.do("get free space", args.Handle, func() error {
		free, err := a.server.GetFreeSpace(args.Handle)
		reply.FreeSpace = free
		return err
	})

	return nil
}

// Append ...
func (a *ChunkServerAPI) Append(args *rpcChunkServer.AppendArgs, reply *rpcChunkServer.AppendReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.Append", "handle", args.Handle, "bytes", len(args.Data))

	reply.Status = a.do("append", args.Handle, func() error {
		size, err := a.server.Append(args.Handle, args.Data)
		reply.ChunkSize = size
		return err
	})

	return nil
}

// Read ...
func (a *ChunkServerAPI) Read(args *rpcChunkServer.ReadArgs, reply *rpcChunkServer.ReadReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.Read", "handle", args.Handle, "offset", args.Offset, "length", args.Length)

	reply.Status = a.do("read", args.Handle, func() error {
		data, err := a.server.Read(args.Handle, args.Offset, args.Length)
		reply.Data = data
		return err
	})

	return nil
}

// ListChunks ...
func (a *ChunkServerAPI) ListChunks(args *rpcChunkServer.ListChunksArgs, reply *rpcChunkServer.ListChunksReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.ListChunks", "prefix", args.Prefix)

	reply.Status = a.do("list", "", func() error {
		chunks, err := a.server.List()
		if err != nil {
			return err
		}

		reply.Chunks = make([]model.ChunkInfo, 0, len(chunks))
		for _, chunk := range chunks {
			if strings.HasPrefix(chunk.Handle, args.Prefix) {
				reply.Chunks = append(reply.Chunks, chunk)
			}
		}

		return nil
	})

	return nil
}

// Stat ...
func (a *ChunkServerAPI) Stat(args *rpcChunkServer.StatArgs, reply *rpcChunkServer.StatReply) error {
	a.log.Infow("rpc", "event", "ChunkServerAPI.Stat", "handle", args.Handle)

	reply.Status = a.do("stat", args.Handle, func() error {
		info, err := a.server.Stat(args.Handle)
		reply.Chunk = info
		return err
	})

	return nil
}

// do runs fn on the worker pool and encodes its outcome.
func (a *ChunkServerAPI) do(op string, handle model.ChunkHandle, fn func() error) rpcChunkServer.Status {
	var err error
	poolErr := a.server.Pool.Do(func() {
		err = fn()
	})
	if poolErr != nil {
		err = model.NewError(model.KindUnavailable, op, handle, poolErr)
	}

	if err != nil {
		a.log.Warnw("rpc", "status", "operation failed", "op", op, "handle", handle, "kind", model.KindOf(err), "error", err)
	}

	return rpcChunkServer.StatusFromError(err)
}
