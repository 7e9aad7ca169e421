package main

import (
	"context"
	"time"

	"github.com/pyropy/chunkserver/core/chunkserver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// serve runs the chunk servers until ctx is done and then stops them,
// giving in-flight calls up to shutdownTimeout.
func serve(ctx context.Context, nodes []chunkserver.NodeConfig, log *zap.SugaredLogger, shutdownTimeout time.Duration) error {
	servers, err := startChunkServers(nodes, log)
	if err != nil {
		log.Errorw("startup", "error", err)
		return err
	}

	<-ctx.Done()

	log.Infow("shutdown", "status", "signal received, stopping chunk servers", "servers", len(servers))

	stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return stopChunkServers(stopCtx, servers, log)
}

// startChunkServers starts one chunk server per node config. If any of them
// fails to start, the ones already running are stopped again.
func startChunkServers(nodes []chunkserver.NodeConfig, log *zap.SugaredLogger) ([]*chunkserver.ChunkServer, error) {
	servers := make([]*chunkserver.ChunkServer, 0, len(nodes))

	for _, node := range nodes {
		server, err := chunkserver.NewChunkServer(node, log)
		if err == nil {
			err = server.Start()
			if err != nil {
				err = multierr.Append(err, server.Close())
			}
		}

		if err != nil {
			log.Errorw("startup", "error", "chunk server failed to start", "address", node.Addr, "root", node.Root)
			return nil, multierr.Append(err, stopChunkServers(context.Background(), servers, log))
		}

		servers = append(servers, server)
	}

	return servers, nil
}

func stopChunkServers(ctx context.Context, servers []*chunkserver.ChunkServer, log *zap.SugaredLogger) error {
	var err error
	for _, server := range servers {
		if stopErr := server.Stop(ctx); stopErr != nil {
			log.Errorw("shutdown", "error", stopErr, "address", server.Addr())
			err = multierr.Append(err, stopErr)
		}
	}

	return err
}
