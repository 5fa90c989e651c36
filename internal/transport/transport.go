// Package transport moves table request blobs between workers and servers.
//
// Local calls servers in the same process and is used by tests and single
// process runs. HTTP posts blobs to remote servers; NewHandler is its
// server-side counterpart. Both implement table.Transport for one worker.
package transport

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dreamware/graphps/internal/blob"
	"github.com/dreamware/graphps/internal/cluster"
)

// Backend is the server side of a transport: it submits requests to the
// server's consistency controller and waits for the replies.
type Backend interface {
	Get(ctx context.Context, worker, table int, req blob.Blob) (blob.Blob, error)
	Add(ctx context.Context, worker, table int, req blob.Blob) (blob.Blob, error)
	Finish(ctx context.Context, worker int) error
}

// Local reaches servers in the same process.
type Local struct {
	Servers []Backend
	Worker  int
}

// NewLocal returns a transport sending as worker to servers, indexed by
// server id.
func NewLocal(worker int, servers ...Backend) *Local {
	return &Local{Servers: servers, Worker: worker}
}

func (l *Local) server(id int) (Backend, error) {
	if id < 0 || id >= len(l.Servers) {
		return nil, fmt.Errorf("no server %d among %d", id, len(l.Servers))
	}
	return l.Servers[id], nil
}

func (l *Local) Get(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error) {
	b, err := l.server(server)
	if err != nil {
		return nil, err
	}
	return b.Get(ctx, l.Worker, table, req)
}

func (l *Local) Add(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error) {
	b, err := l.server(server)
	if err != nil {
		return nil, err
	}
	return b.Add(ctx, l.Worker, table, req)
}

// Finish tells every server this worker is done.
func (l *Local) Finish(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, b := range l.Servers {
		g.Go(func() error { return b.Finish(gctx, l.Worker) })
	}
	return g.Wait()
}

// HTTP reaches servers by their base URLs, indexed by server id.
type HTTP struct {
	Addrs  []string
	Worker int
}

// NewHTTP returns a transport sending as worker to the servers of topo.
func NewHTTP(worker int, topo cluster.Topology) *HTTP {
	addrs := make([]string, len(topo.Servers))
	for i, s := range topo.Servers {
		addrs[i] = strings.TrimRight(s.Addr, "/")
	}
	return &HTTP{Addrs: addrs, Worker: worker}
}

func (h *HTTP) url(server int, path string) (string, error) {
	if server < 0 || server >= len(h.Addrs) {
		return "", fmt.Errorf("no server %d among %d", server, len(h.Addrs))
	}
	return h.Addrs[server] + path, nil
}

func (h *HTTP) post(ctx context.Context, server int, path string, req blob.Blob) (blob.Blob, error) {
	url, err := h.url(server, path)
	if err != nil {
		return nil, err
	}
	return cluster.PostBlob(ctx, url, h.Worker, req)
}

func (h *HTTP) Get(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error) {
	return h.post(ctx, server, fmt.Sprintf("/table/%d/get", table), req)
}

func (h *HTTP) Add(ctx context.Context, server, table int, req blob.Blob) (blob.Blob, error) {
	return h.post(ctx, server, fmt.Sprintf("/table/%d/add", table), req)
}

// Finish tells every server this worker is done.
func (h *HTTP) Finish(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for s := range h.Addrs {
		g.Go(func() error {
			_, err := h.post(gctx, s, "/finish", nil)
			return err
		})
	}
	return g.Wait()
}
