package chunkserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/chunkserver/lib/workerpool"
	rpcChunkServer "github.com/pyropy/chunkserver/rpc/chunkserver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var ErrChunkServerNotStarted = errors.New("chunk server not started")

// ChunkServer is a single storage node: one listen address, one storage
// root and one worker pool.
type ChunkServer struct {
	*ChunkStore

	ChunkServerID uuid.UUID
	Cfg           NodeConfig
	Pool          *workerpool.Pool
	Health        *HealthMonitorService

	log        *zap.SugaredLogger
	listener   net.Listener
	httpServer *http.Server
	serveErr   chan error
	stopHealth context.CancelFunc
	healthDone chan struct{}
}

func NewChunkServer(cfg NodeConfig, log *zap.SugaredLogger) (*ChunkServer, error) {
	id := uuid.New()
	log = log.With("node", cfg.Addr, "chunkServerID", id)

	chunkStore, err := NewChunkStore(cfg.Root, cfg.ChunkSize, log)
	if err != nil {
		return nil, err
	}

	interval := cfg.HealthInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}

	return &ChunkServer{
		ChunkStore:    chunkStore,
		ChunkServerID: id,
		Cfg:           cfg,
		Pool:          workerpool.New(cfg.Workers),
		Health:        NewHealthReportService(chunkStore, id, cfg.MasterAddr, interval, log),
		log:           log,
	}, nil
}

// Start binds the listen address and serves ChunkServerAPI over HTTP.
func (c *ChunkServer) Start() error {
	rpcServer := rpc.NewServer()
	err := rpcServer.RegisterName(rpcChunkServer.ServiceName, NewChunkServerAPI(c))
	if err != nil {
		return err
	}

	l, err := net.Listen("tcp", c.Cfg.Addr)
	if err != nil {
		c.log.Errorw("startup", "error", "net listen failed", "address", c.Cfg.Addr)
		return err
	}

	c.listener = l
	c.httpServer = &http.Server{
		Handler:           rpcServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	c.serveErr = make(chan error, 1)

	go func() {
		err := c.httpServer.Serve(l)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		c.serveErr <- err
	}()

	c.log.Infow("startup", "status", "chunkserver rpc server started", "address", c.Addr(), "root", c.Root(), "workers", c.Pool.Workers(), "chunkSize", c.ChunkSize())

	if c.Cfg.MasterAddr != "" {
		ctx, cancel := context.WithCancel(context.Background())
		c.stopHealth = cancel
		c.healthDone = make(chan struct{})
		c.Health.address = c.Addr()
		go func() {
			defer close(c.healthDone)
			c.Health.Start(ctx)
		}()
	}

	return nil
}

// Addr returns the bound address once started, the configured one before.
func (c *ChunkServer) Addr() string {
	if c.listener != nil {
		return c.listener.Addr().String()
	}

	return c.Cfg.Addr
}

// Stop stops accepting connections, lets in-flight calls finish and closes
// the chunk store. Calls arriving on already open connections afterwards
// are answered with an unavailable status.
func (c *ChunkServer) Stop(ctx context.Context) error {
	if c.httpServer == nil {
		return ErrChunkServerNotStarted
	}

	c.log.Infow("shutdown", "status", "chunkserver rpc server stopping", "address", c.Addr())
	defer c.log.Infow("shutdown", "status", "chunkserver rpc server stopped", "address", c.Addr())

	var err error
	if c.stopHealth != nil {
		c.stopHealth()
		select {
		case <-c.healthDone:
		case <-ctx.Done():
			err = fmt.Errorf("health reporter: %w", ctx.Err())
		}
	}

	err = multierr.Append(err, c.httpServer.Shutdown(ctx))
	err = multierr.Append(err, <-c.serveErr)

	return multierr.Append(err, c.Close())
}

// Close releases the worker pool and the chunk store. It is all the cleanup
// a server that never started needs; Stop calls it for a running one.
func (c *ChunkServer) Close() error {
	c.Pool.Stop()
	return c.ChunkStore.Close()
}
