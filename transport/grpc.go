package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/adamgarcia4/goLearning/meshguard/gossip"
)

const (
	DefaultInboxSize   = 256
	DefaultSendTimeout = 500 * time.Millisecond
)

// GRPCOptions configures a GRPC transport.
type GRPCOptions struct {
	ListenAddress string
	InboxSize     int
	SendTimeout   time.Duration
	Logf          func(format string, args ...interface{})
}

// GRPC is a gossip.Transport over gRPC. Every peer gets one client
// connection; every inbound Deliver call lands in a bounded inbox that the
// epoch loop drains without blocking. When the inbox is full new packets
// are dropped, the same way a radio drops frames nobody reads.
type GRPC struct {
	addr        string
	srv         *grpc.Server
	lis         net.Listener
	sendTimeout time.Duration
	logf        func(format string, args ...interface{})

	inbox   chan gossip.Packet
	dropped atomic.Uint64

	mu     sync.RWMutex
	conns  map[string]*grpc.ClientConn
	closed bool
}

func NewGRPC(opts GRPCOptions) (*GRPC, error) {
	if opts.ListenAddress == "" || !strings.Contains(opts.ListenAddress, ":") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddr, opts.ListenAddress)
	}
	if opts.InboxSize <= 0 {
		opts.InboxSize = DefaultInboxSize
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = DefaultSendTimeout
	}
	logf := opts.Logf
	if logf == nil {
		logf = func(string, ...interface{}) {}
	}

	g := &GRPC{
		addr:        opts.ListenAddress,
		srv:         grpc.NewServer(),
		sendTimeout: opts.SendTimeout,
		logf:        logf,
		inbox:       make(chan gossip.Packet, opts.InboxSize),
		conns:       make(map[string]*grpc.ClientConn),
	}
	RegisterMeshServer(g.srv, &meshServer{transport: g})
	return g, nil
}

// Listen binds the listen address. Binding errors (e.g. port already in
// use) surface here, before anything is served.
func (g *GRPC) Listen() error {
	lis, err := net.Listen("tcp", g.addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	g.mu.Lock()
	g.lis = lis
	g.addr = lis.Addr().String()
	g.mu.Unlock()
	return nil
}

// Serve blocks serving Deliver calls until Close.
func (g *GRPC) Serve() error {
	g.mu.RLock()
	lis := g.lis
	g.mu.RUnlock()
	if lis == nil {
		return ErrNotListening
	}
	if err := g.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Addr is the bound address once Listen has returned.
func (g *GRPC) Addr() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.addr
}

// AddPeer opens (lazily) a client connection to addr.
func (g *GRPC) AddPeer(id gossip.NodeID, addr string) error {
	if addr == "" || !strings.Contains(addr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidAddr, addr)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return ErrClosed
	}
	if _, ok := g.conns[addr]; ok {
		return nil
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", id, err)
	}
	g.conns[addr] = conn
	return nil
}

// Send delivers payload to a registered peer address.
func (g *GRPC) Send(addr string, payload []byte) error {
	g.mu.RLock()
	conn, ok := g.conns[addr]
	closed := g.closed
	from := g.addr
	g.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, addr)
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.sendTimeout)
	defer cancel()
	ctx = metadata.AppendToOutgoingContext(ctx, fromMetadataKey, from)
	return deliver(ctx, conn, payload)
}

// Receive returns the next queued packet without blocking.
func (g *GRPC) Receive() (gossip.Packet, bool) {
	select {
	case p := <-g.inbox:
		return p, true
	default:
		return gossip.Packet{}, false
	}
}

// Dropped is the number of inbound packets discarded because the inbox was full.
func (g *GRPC) Dropped() uint64 {
	return g.dropped.Load()
}

// Close stops the server and closes every peer connection.
func (g *GRPC) Close() error {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return nil
	}
	g.closed = true
	conns := g.conns
	g.conns = make(map[string]*grpc.ClientConn)
	g.mu.Unlock()

	g.srv.Stop()

	var errs []error
	for addr, conn := range conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", addr, err))
		}
	}
	return errors.Join(errs...)
}

func (g *GRPC) enqueue(p gossip.Packet) {
	select {
	case g.inbox <- p:
	default:
		if n := g.dropped.Add(1); n == 1 || n%100 == 0 {
			g.logf("Inbox full, dropped %d packet(s)", n)
		}
	}
}

type meshServer struct {
	transport *GRPC
}

func (s *meshServer) Deliver(ctx context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	from := ""
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if v := md.Get(fromMetadataKey); len(v) > 0 {
			from = v[0]
		}
	}
	s.transport.enqueue(gossip.Packet{From: from, Payload: in.GetValue()})
	return &emptypb.Empty{}, nil
}
