package client

import (
	"net/rpc"

	"github.com/pyropy/chunkserver/core/model"
	"github.com/pyropy/chunkserver/rpc/chunkserver"
)

// Client talks to a single chunk server. Failed operations return a
// *model.Error so callers can branch on model.KindOf.
type Client struct {
	Addr      string
	RpcClient *rpc.Client
}

func NewClient(addr string) (*Client, error) {
	rpcClient, err := rpc.DialHTTP("tcp", addr)
	if err != nil {
		return nil, err
	}

	return &Client{
		Addr:      addr,
		RpcClient: rpcClient,
	}, nil
}

func (c *Client) Close() error {
	return c.RpcClient.Close()
}

// Create creates an empty chunk. overwritten is true when an existing chunk
// with the same handle was truncated.
func (c *Client) Create(handle model.ChunkHandle) (overwritten bool, err error) {
	var reply chunkserver.CreateReply
	args := &chunkserver.CreateArgs{Handle: handle}

	err = c.call("Create", "create", handle, args, &reply)
	if err != nil {
		return false, err
	}

	return reply.Overwritten, reply.Err("create", handle)
}

func (c *Client) GetChunkSpace(handle model.ChunkHandle) (int64, error) {
	var reply chunkserver.GetChunkSpaceReply
	args := &chunkserver.GetChunkSpaceArgs{Handle: handle}

	err := c.call("GetChunkSpace", "get free space", handle, args, &reply)
	if err != nil {
		return 0, err
	}

	return reply.FreeSpace, reply.Err("get free space", handle)
}

// Append returns the chunk size after the append.
func (c *Client) Append(handle model.ChunkHandle, data []byte) (int64, error) {
	var reply chunkserver.AppendReply
	args := &chunkserver.AppendArgs{Handle: handle, Data: data}

	err := c.call("Append", "append", handle, args, &reply)
	if err != nil {
		return 0, err
	}

	return reply.ChunkSize, reply.Err("append", handle)
}

func (c *Client) Read(handle model.ChunkHandle, offset, length int64) ([]byte, error) {
	var reply chunkserver.ReadReply
	args := &chunkserver.ReadArgs{Handle: handle, Offset: offset, Length: length}

	err := c.call("Read", "read", handle, args, &reply)
	if err != nil {
		return nil, err
	}

	if err = reply.Err("read", handle); err != nil {
		return nil, err
	}

	// gob drops empty slices
	if reply.Data == nil {
		reply.Data = []byte{}
	}

	return reply.Data, nil
}

func (c *Client) ListChunks(prefix string) ([]model.ChunkInfo, error) {
	var reply chunkserver.ListChunksReply
	args := &chunkserver.ListChunksArgs{Prefix: prefix}

	err := c.call("ListChunks", "list", "", args, &reply)
	if err != nil {
		return nil, err
	}

	return reply.Chunks, reply.Err("list", "")
}

// Stat describes one chunk: its size, generation and timestamps.
func (c *Client) Stat(handle model.ChunkHandle) (model.ChunkInfo, error) {
	var reply chunkserver.StatReply
	args := &chunkserver.StatArgs{Handle: handle}

	err := c.call("Stat", "stat", handle, args, &reply)
	if err != nil {
		return model.ChunkInfo{}, err
	}

	return reply.Chunk, reply.Err("stat", handle)
}

// call reports transport failures as unavailable errors.
func (c *Client) call(method, op string, handle model.ChunkHandle, args, reply any) error {
	err := c.RpcClient.Call(chunkserver.ServiceName+"."+method, args, reply)
	if err != nil {
		return model.NewError(model.KindUnavailable, op, handle, err)
	}

	return nil
}
