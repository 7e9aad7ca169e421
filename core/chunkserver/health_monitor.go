package chunkserver

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/rpc"
	"time"

	"github.com/google/uuid"
	"github.com/pyropy/chunkserver/rpc/master"
	"go.uber.org/zap"
)

// HealthMonitorService periodically reports the chunks held by this server to the master.
type HealthMonitorService struct {
	masterAddr    string
	address       string
	chunkServerID uuid.UUID
	interval      time.Duration
	chunkStore    *ChunkStore
	log           *zap.SugaredLogger
}

func NewHealthReportService(chunkStore *ChunkStore, chunkServerID uuid.UUID, masterAddr string, interval time.Duration, log *zap.SugaredLogger) *HealthMonitorService {
	return &HealthMonitorService{
		masterAddr:    masterAddr,
		chunkServerID: chunkServerID,
		interval:      interval,
		chunkStore:    chunkStore,
		log:           log,
	}
}

// Start reports once per interval until ctx is canceled.
func (h *HealthMonitorService) Start(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := h.Report(ctx)
			if err != nil {
				h.log.Warnw("health", "status", "report failed", "master", h.masterAddr, "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Report sends the current chunk list to the master. The whole exchange is
// bounded by one report interval and by ctx.
func (h *HealthMonitorService) Report(ctx context.Context) error {
	if h.masterAddr == "" {
		return nil
	}

	chunks, err := h.chunkStore.List()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, h.interval)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", h.masterAddr)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := h.connectRPC(conn)
	if err != nil {
		conn.Close()
		return contextErr(ctx, err)
	}

	defer client.Close()

	chunkReport := make([]master.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		chunkReport = append(chunkReport, master.Chunk{
			Handle: chunk.Handle,
			Size:   chunk.Size,
		})
	}

	var reply master.ReportHealthReply
	args := &master.ReportHealthArgs{
		ChunkServerID: h.chunkServerID,
		Address:       h.address,
		Chunks:        chunkReport,
	}

	err = client.Call("MasterAPI.ReportHealth", args, &reply)
	if err != nil {
		return contextErr(ctx, err)
	}

	return nil
}

// connectRPC runs the HTTP CONNECT handshake rpc.DialHTTP does.
func (h *HealthMonitorService) connectRPC(conn net.Conn) (*rpc.Client, error) {
	_, err := io.WriteString(conn, "CONNECT "+rpc.DefaultRPCPath+" HTTP/1.0\n\n")
	if err != nil {
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), &http.Request{Method: "CONNECT"})
	if err != nil {
		return nil, err
	}
	if resp.Status != "200 Connected to Go RPC" {
		return nil, fmt.Errorf("master %s: unexpected HTTP response: %s", h.masterAddr, resp.Status)
	}

	return rpc.NewClient(conn), nil
}

// contextErr reports the ctx error once ctx is done. A connection closed on
// cancel otherwise shows up as a read error.
func contextErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}

	return err
}
