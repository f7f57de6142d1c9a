// Package runtimectx groups the process-wide mutable state into a
// single runtime context: the socket id pool, the server-type/instance
// registry, the binding registry, the interface list, the reactor, and
// the stats counters. It supplies the CreateListener/DestroyListener
// factories that give the binding registry concrete listening sockets
// without it having to import internal/transport itself.
package runtimectx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/dkrasnov/serveez/internal/binding"
	"github.com/dkrasnov/serveez/internal/codec"
	"github.com/dkrasnov/serveez/internal/codec/bzip2codec"
	"github.com/dkrasnov/serveez/internal/codec/gzipcodec"
	"github.com/dkrasnov/serveez/internal/codec/lz4codec"
	"github.com/dkrasnov/serveez/internal/codec/snappycodec"
	"github.com/dkrasnov/serveez/internal/iface"
	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/reactor"
	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/socket"
	"github.com/dkrasnov/serveez/internal/stats"
	"github.com/dkrasnov/serveez/internal/transport"
	"golang.org/x/sys/unix"
)

// Context is the single runtime context used in place of package-level
// globals; every core entry point in this package takes one as its
// receiver or first parameter.
type Context struct {
	Logger   *slog.Logger
	Registry *registry.Registry
	Bindings *binding.Registry
	Reactor  *reactor.Reactor
	Ifaces   *iface.List
	Stats    *stats.Counters

	ids            *socket.IDPool
	resetRequested atomic.Bool
}

// New builds a Context: discovers host interfaces, sizes the id pool to
// maxSockets, and wires the binding registry's listener factory to the
// concrete transport implementations.
func New(logger *slog.Logger, maxSockets int, tickInterval time.Duration) (*Context, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ifaces := iface.NewList()
	if err := ifaces.Discover(); err != nil {
		logger.Warn("interface discovery failed", "err", err)
	}

	ctx := &Context{
		Logger:   logger,
		Registry: registry.New(),
		Ifaces:   ifaces,
		Stats:    stats.New(),
		ids:      socket.NewIDPool(maxSockets),
	}
	ctx.Reactor = reactor.New(tickInterval, maxSockets, ctx.preFree, ctx.free)
	ctx.Reactor.Notify = ctx.tickNotify
	ctx.Bindings = binding.NewRegistry(ifaces, ctx.createListener, ctx.destroyListener)
	return ctx, nil
}

// RequestReset asks for every server instance's reset hook to run at
// the start of the next tick. Safe to call from any goroutine (it is
// cmd/serveezd's SIGHUP handler); the hooks themselves only ever run on
// the reactor thread, so no callback ever runs concurrently with
// another.
func (ctx *Context) RequestReset() {
	ctx.resetRequested.Store(true)
}

// tickNotify is the reactor's per-tick hook: a pending reset sweep
// first, then every instance's notify hook.
func (ctx *Context) tickNotify() {
	if ctx.resetRequested.Swap(false) {
		ctx.Logger.Info("resetting server instances")
		ctx.Registry.ResetAll()
	}
	ctx.Registry.NotifyAll()
}

// RegisterServerType registers a server type with the
// instance registry.
func (ctx *Context) RegisterServerType(t *registry.Type) error {
	return ctx.Registry.RegisterType(t)
}

// InstantiateAndBind instantiates a server and binds it to port in one
// step, the composition cmd/serveezd's config loader drives for every
// configured (server, port) pair.
func (ctx *Context) InstantiateAndBind(typeName, instanceName string, options map[string]any, port *portcfg.Config) (*registry.Instance, error) {
	inst, err := ctx.Registry.Instantiate(typeName, instanceName, options)
	if err != nil {
		return nil, err
	}
	if err := ctx.Bindings.Bind(inst, port); err != nil {
		return nil, err
	}
	return inst, nil
}

// Run drives the reactor until ctx is cancelled, finalizing every
// registered server instance on the way out.
func (ctx *Context) Run(parent context.Context) error {
	return ctx.Reactor.Run(parent, func() {
		for _, err := range ctx.Registry.FinalizeAll() {
			ctx.Logger.Error("finalize failed", "err", err)
		}
	})
}

// preFree is the reactor's PreFree hook: for a
// listener, it discards the binding registry's side-table entry before
// the socket is freed.
func (ctx *Context) preFree(s *socket.Socket) {
	if s.Kind == socket.KindListener {
		ctx.Bindings.Forget(s)
	}
}

// free is the reactor's Free hook: closes the OS descriptor(s) and
// returns the socket's id to the pool.
func (ctx *Context) free(s *socket.Socket) {
	if s.Flags.Has(socket.FlagSock) {
		if s.FD >= 0 {
			_ = unix.Close(s.FD)
		}
		if s.RecvFD >= 0 && s.RecvFD != s.FD {
			_ = unix.Close(s.RecvFD)
		}
		if s.SendFD >= 0 && s.SendFD != s.FD {
			_ = unix.Close(s.SendFD)
		}
	}
	ctx.ids.Free(s.ID)
}

// createListener is the binding.CreateListener factory: it builds and
// starts a concrete listening socket for port's protocol and wires its
// accept/dispatch path before handing it to the reactor.
func (ctx *Context) createListener(port *portcfg.Config) (*socket.Socket, error) {
	switch port.Proto {
	case portcfg.ProtoTCP:
		return ctx.createTCPListener(port)
	case portcfg.ProtoUDP:
		return ctx.createUDPListener(port)
	case portcfg.ProtoICMP, portcfg.ProtoRAW:
		return ctx.createRawListener(port)
	case portcfg.ProtoPipe:
		return ctx.createPipeListener(port)
	default:
		return nil, fmt.Errorf("runtimectx: unknown protocol %v", port.Proto)
	}
}

func (ctx *Context) destroyListener(l *socket.Socket) error {
	l.Kill()
	return nil
}

func (ctx *Context) allocID() (socket.ID, error) {
	id, err := ctx.ids.Alloc()
	if err != nil {
		return 0, fmt.Errorf("runtimectx: %w", err)
	}
	return id, nil
}

func (ctx *Context) createTCPListener(port *portcfg.Config) (*socket.Socket, error) {
	id, err := ctx.allocID()
	if err != nil {
		return nil, err
	}
	fd, err := transport.ListenTCP(port)
	if err != nil {
		ctx.ids.Free(id)
		return nil, err
	}
	s := socket.New(id, 0, 0)
	s.FD, s.RecvFD, s.SendFD = fd, fd, fd
	s.Kind = socket.KindListener
	s.Proto = socket.ProtoTCP
	s.Flags |= socket.FlagSock | socket.FlagListening
	s.Callbacks.ReadSocket = ctx.acceptTCP
	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		return nil, err
	}
	return s, nil
}

func (ctx *Context) createUDPListener(port *portcfg.Config) (*socket.Socket, error) {
	id, err := ctx.allocID()
	if err != nil {
		return nil, err
	}
	fd, err := transport.ListenUDP(port)
	if err != nil {
		ctx.ids.Free(id)
		return nil, err
	}
	local, err := transport.LocalAddrPort(fd)
	if err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		return nil, err
	}
	s := transport.NewDatagram(id, fd, local, port)
	s.Stats = ctx.Stats
	s.Callbacks.HandleRequest = ctx.dispatchDatagram
	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		return nil, err
	}
	return s, nil
}

func (ctx *Context) createRawListener(port *portcfg.Config) (*socket.Socket, error) {
	id, err := ctx.allocID()
	if err != nil {
		return nil, err
	}
	fd, err := transport.OpenRaw(port)
	if err != nil {
		ctx.ids.Free(id)
		return nil, err
	}
	local, _ := transport.LocalAddrPort(fd)
	s := transport.NewRaw(id, fd, local, port)
	s.Stats = ctx.Stats
	s.Callbacks.HandleRequest = ctx.dispatchDatagram
	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		return nil, err
	}
	return s, nil
}

func (ctx *Context) createPipeListener(port *portcfg.Config) (*socket.Socket, error) {
	id, err := ctx.allocID()
	if err != nil {
		return nil, err
	}
	recvFD, sendFD, err := transport.CreatePipe(port)
	if err != nil {
		ctx.ids.Free(id)
		return nil, err
	}
	s := transport.NewPipe(id, recvFD, sendFD, port)
	s.Stats = ctx.Stats
	s.Callbacks.CheckRequest = ctx.dispatchPipe(port)
	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(recvFD)
		_ = unix.Close(sendFD)
		ctx.ids.Free(id)
		return nil, err
	}
	return s, nil
}

// dispatchPipe returns a CheckRequest that hands the pipe to its bound
// server's connect-installed parser the first time data arrives (pipes
// skip the address-based binding filter), then leaves subsequent
// dispatch to whichever CheckRequest that install left in place.
func (ctx *Context) dispatchPipe(port *portcfg.Config) func(*socket.Socket) error {
	wired := false
	return func(s *socket.Socket) error {
		if wired {
			return nil
		}
		bindings := ctx.Bindings.BindingsOf(s)
		for _, b := range bindings {
			inst, ok := b.Server.(*registry.Instance)
			if !ok || inst.Type.ConnectSocket == nil {
				continue
			}
			if err := inst.Type.ConnectSocket(inst, s); err != nil {
				return err
			}
			wired = true
			break
		}
		if wired && s.Callbacks.CheckRequest != nil {
			return s.Callbacks.CheckRequest(s)
		}
		return nil
	}
}

// acceptTCP is installed as every TCP listener's ReadSocket. It accepts
// one pending connection, resolves which server owns it via the
// binding filter, runs detection if the port requests it, then hands
// off to that server's connect_socket.
func (ctx *Context) acceptTCP(l *socket.Socket) error {
	port, _ := l.Port.(*portcfg.Config)
	if port == nil {
		return fmt.Errorf("runtimectx: listener %d has no port config", l.ID)
	}

	if !ctx.allowConnect(l, port) {
		ctx.Stats.RecordConnectRejected()
		return nil
	}

	fd, remote, err := transport.AcceptTCP(l.FD)
	if err != nil {
		if isWouldBlock(err) {
			return nil
		}
		return fmt.Errorf("runtimectx: accept: %w", err)
	}
	ctx.Stats.RecordAccept()

	// The accept itself always drains the kernel backlog; a socket
	// ceiling is enforced as an immediate, controlled teardown of the
	// connection just accepted rather than refusing to accept at all,
	// so the listener's backlog slot is reliably freed.
	if ctx.Reactor.AtCapacity() {
		_ = unix.Close(fd)
		ctx.Stats.RecordAcceptRejected()
		ctx.Logger.Warn("socket ceiling reached, tearing down accepted connection", "port", port.Name)
		return nil
	}

	local, err := transport.LocalAddrPort(fd)
	if err != nil {
		_ = unix.Close(fd)
		return err
	}

	bindings := binding.Filter(l, port, local.Addr(), local.Port(), ctx.Bindings.BindingsOf(l))
	if len(bindings) == 0 {
		_ = unix.Close(fd)
		ctx.Logger.Warn("no binding matched accepted connection, dropping", "local", local)
		return nil
	}
	bindings = filterPeerAccess(bindings, remote.Addr())
	if len(bindings) == 0 {
		_ = unix.Close(fd)
		ctx.Stats.RecordAccessDenied()
		ctx.Logger.Warn("peer denied by allow/deny list", "remote", remote)
		return nil
	}
	chosen := bindings[0]
	inst, ok := chosen.Server.(*registry.Instance)
	if !ok {
		_ = unix.Close(fd)
		return fmt.Errorf("runtimectx: binding server is not a registry.Instance")
	}

	id, err := ctx.allocID()
	if err != nil {
		_ = unix.Close(fd)
		return nil
	}
	s := transport.NewStream(id, fd, remote, local, chosen.Port)
	s.Stats = ctx.Stats

	if chosen.Port.DetectionFill > 0 {
		ctx.installDetection(s, inst, chosen.Port)
	} else {
		if inst.Type.ConnectSocket != nil {
			if err := inst.Type.ConnectSocket(inst, s); err != nil {
				_ = unix.Close(fd)
				ctx.ids.Free(id)
				return nil
			}
		}
		if err := ctx.spliceCodec(s, chosen.Port.Codec); err != nil {
			ctx.Logger.Warn("codec splice failed", "codec", chosen.Port.Codec, "err", err)
			_ = unix.Close(fd)
			ctx.ids.Free(id)
			return nil
		}
	}

	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		ctx.Stats.RecordAcceptRejected()
		return nil
	}
	return nil
}

// installDetection wires a CheckRequest wrapper that consults
// inst.Type.DetectProto on every read until it resolves, then replaces
// itself with the server's real connect_socket wiring once the
// three-valued probe (ok, insufficient, fail) resolves.
func (ctx *Context) installDetection(s *socket.Socket, inst *registry.Instance, port *portcfg.Config) {
	start := time.Now()
	s.Callbacks.CheckRequest = func(sock *socket.Socket) error {
		if inst.Type.DetectProto == nil {
			return ctx.finishDetection(sock, inst, port)
		}
		switch inst.Type.DetectProto(inst, port, sock) {
		case registry.DetectOK:
			return ctx.finishDetection(sock, inst, port)
		case registry.DetectFail:
			sock.Shutdown()
			return nil
		default: // DetectInsufficient
			wait := port.DetectionWait
			if wait <= 0 {
				wait = portcfg.DefaultDetectionWait
			}
			if time.Since(start) > time.Duration(wait)*time.Second || sock.Recv.Fill >= port.DetectionFill {
				sock.Shutdown()
			}
			return nil
		}
	}
}

func (ctx *Context) finishDetection(s *socket.Socket, inst *registry.Instance, port *portcfg.Config) error {
	s.Callbacks.CheckRequest = nil
	if inst.Type.ConnectSocket != nil {
		if err := inst.Type.ConnectSocket(inst, s); err != nil {
			return err
		}
	}
	if err := ctx.spliceCodec(s, port.Codec); err != nil {
		return err
	}
	if s.Recv.Fill > 0 && s.Callbacks.CheckRequest != nil {
		return s.Callbacks.CheckRequest(s)
	}
	return nil
}

// spliceCodec transparently attaches name's codec as both decoder and
// encoder on s. name == "" is a no-op; name == "auto" installs
// receive-side codec detection only (installCodecDetection). Decode and encode get
// separate codec.Impl instances since each carries its own per-direction
// compressor/decompressor state.
func (ctx *Context) spliceCodec(s *socket.Socket, name string) error {
	if name == "" {
		return nil
	}
	if name == "auto" {
		ctx.installCodecDetection(s)
		return nil
	}
	recvImpl, err := newCodecImpl(name)
	if err != nil {
		return err
	}
	if err := codec.SpliceRecv(s, recvImpl); err != nil {
		return err
	}
	sendImpl, err := newCodecImpl(name)
	if err != nil {
		return err
	}
	return codec.SpliceSend(s, sendImpl)
}

// installCodecDetection wraps s's CheckRequest so the first bytes
// received are compared against each detectable codec's magic; a match
// auto-splices that decoder on the receive side. Snappy declares no magic and is excluded. If enough
// bytes arrive to rule out every candidate, the connection proceeds as
// plaintext.
func (ctx *Context) installCodecDetection(s *socket.Socket) {
	candidates := []codec.Impl{gzipcodec.New(), lz4codec.New(), bzip2codec.New()}
	maxMagic := 0
	for _, impl := range candidates {
		if n := impl.DetectionSize(); n > maxMagic {
			maxMagic = n
		}
	}
	saved := s.Callbacks.CheckRequest
	s.Callbacks.CheckRequest = func(sock *socket.Socket) error {
		raw := sock.Recv.Filled()
		if impl := codec.Detect(candidates, raw); impl != nil {
			sock.Callbacks.CheckRequest = saved
			if err := codec.SpliceRecv(sock, impl); err != nil {
				return err
			}
			return sock.Callbacks.CheckRequest(sock)
		}
		if len(raw) >= maxMagic {
			sock.Callbacks.CheckRequest = saved
			if saved != nil {
				return saved(sock)
			}
			return nil
		}
		return nil
	}
}

// Connect opens a non-blocking outbound TCP connection and enqueues it on the reactor with
// CONNECTING set. The returned socket's ConnectedSocket is the default
// SO_ERROR check; callers layer their own completion logic by wrapping
// it before the next tick.
func (ctx *Context) Connect(remote netip.AddrPort, port *portcfg.Config) (*socket.Socket, error) {
	id, err := ctx.allocID()
	if err != nil {
		return nil, err
	}
	fd, err := transport.ConnectTCP(remote)
	if err != nil {
		ctx.ids.Free(id)
		return nil, err
	}
	s := transport.NewConnecting(id, fd, remote, port)
	s.Stats = ctx.Stats
	if err := ctx.Reactor.Add(s); err != nil {
		_ = unix.Close(fd)
		ctx.ids.Free(id)
		return nil, err
	}
	return s, nil
}

// dispatchDatagram is installed as a UDP/ICMP/RAW listener's
// HandleRequest. It resolves the surviving bindings via the binding
// filter and invokes each matching server's handle_request in order.
func (ctx *Context) dispatchDatagram(l *socket.Socket, buf []byte, remote netip.AddrPort) error {
	port, _ := l.Port.(*portcfg.Config)
	if port == nil {
		return fmt.Errorf("runtimectx: datagram socket %d has no port config", l.ID)
	}
	bindings := binding.Filter(l, port, l.LocalAddr, l.LocalPort, ctx.Bindings.BindingsOf(l))
	if (port.Proto == portcfg.ProtoICMP || port.Proto == portcfg.ProtoRAW) && len(buf) > 0 {
		bindings = filterICMPSubType(bindings, buf[0])
	}
	if len(bindings) == 0 {
		ctx.Stats.RecordDatagramDropped()
		return nil
	}
	bindings = filterPeerAccess(bindings, remote.Addr())
	if len(bindings) == 0 {
		ctx.Stats.RecordAccessDenied()
		return nil
	}
	for _, b := range bindings {
		inst, ok := b.Server.(*registry.Instance)
		if !ok || inst.Type.HandleRequest == nil {
			continue
		}
		if err := inst.Type.HandleRequest(inst, l, buf, remote); err != nil {
			ctx.Logger.Warn("handle_request failed", "server", inst.Name, "err", err)
		}
	}
	return nil
}

// filterPeerAccess drops bindings whose port-level allow/deny lists
// reject the remote peer. The
// check is per binding, not per listener: two servers sharing one
// listener may admit different peer sets.
func filterPeerAccess(bindings []binding.Binding, remote netip.Addr) []binding.Binding {
	var out []binding.Binding
	for _, b := range bindings {
		if b.Port.PermitsPeer(remote) {
			out = append(out, b)
		}
	}
	return out
}

// filterICMPSubType narrows bindings to those whose ICMPSubType either
// matches subType or is left at the wildcard zero value. Several serveez
// tenants can share one raw ICMP socket distinguished only by a leading
// sub-type byte in the payload; binding.Filter only
// resolves address/port/device, so this second pass inspects the actual
// packet content Filter never sees.
func filterICMPSubType(bindings []binding.Binding, subType byte) []binding.Binding {
	var out []binding.Binding
	for _, b := range bindings {
		if b.Port.ICMPSubType != 0 && b.Port.ICMPSubType != subType {
			continue
		}
		out = append(out, b)
	}
	return out
}

// allowConnect enforces the port's connect-frequency cap, tracked in the listener socket's opaque Data field.
func (ctx *Context) allowConnect(l *socket.Socket, port *portcfg.Config) bool {
	if port.ConnectFrequency <= 0 {
		return true
	}
	lim, _ := l.Data.(*connectLimiter)
	if lim == nil {
		lim = &connectLimiter{}
		l.Data = lim
	}
	now := time.Now().Unix()
	if lim.second != now {
		lim.second = now
		lim.count = 0
	}
	if lim.count >= port.ConnectFrequency {
		return false
	}
	lim.count++
	return true
}

type connectLimiter struct {
	second int64
	count  int
}

// newCodecImpl builds a fresh codec.Impl by name, the port-level
// selector portcfg.Config.Codec carries. A fresh
// instance per splice direction keeps encode/decode state separate.
func newCodecImpl(name string) (codec.Impl, error) {
	switch name {
	case "gzip":
		return gzipcodec.New(), nil
	case "lz4":
		return lz4codec.New(), nil
	case "snappy":
		return snappycodec.New(), nil
	case "bzip2":
		return bzip2codec.New(), nil
	default:
		return nil, fmt.Errorf("runtimectx: unknown codec %q", name)
	}
}

func isWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}
