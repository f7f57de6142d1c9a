package transport

import (
	"fmt"
	"os/user"
	"strconv"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
	"golang.org/x/sys/unix"
)

// CreatePipe creates (or reuses) the recv and send named fifos of a
// pipe port config, chowns them per the endpoint descriptors (a new fifo
// gets the endpoint's mode at mkfifo time, subject to the umask; an
// existing one keeps its mode), and opens both ends non-blocking.
func CreatePipe(port *portcfg.Config) (recvFD, sendFD int, err error) {
	recvFD, err = openFifoEnd(&port.Recv, unix.O_RDONLY)
	if err != nil {
		return -1, -1, err
	}
	sendFD, err = openFifoEnd(&port.Send, unix.O_WRONLY)
	if err != nil {
		unix.Close(recvFD)
		return -1, -1, err
	}
	return recvFD, sendFD, nil
}

func openFifoEnd(ep *portcfg.PipeEndpoint, flags int) (int, error) {
	perm := ep.Permissions
	if perm == 0 {
		perm = 0600
	}
	if err := unix.Mkfifo(ep.Name, perm); err != nil && err != unix.EEXIST {
		return -1, fmt.Errorf("transport: mkfifo %s: %w", ep.Name, err)
	}
	uid, gid, err := resolveOwner(ep)
	if err != nil {
		return -1, err
	}
	if uid >= 0 || gid >= 0 {
		if err := unix.Chown(ep.Name, uid, gid); err != nil {
			return -1, fmt.Errorf("transport: chown %s: %w", ep.Name, err)
		}
	}
	fd, err := unix.Open(ep.Name, flags|unix.O_NONBLOCK, perm)
	if err != nil {
		return -1, fmt.Errorf("transport: open %s: %w", ep.Name, err)
	}
	return fd, nil
}

// resolveOwner computes the target uid/gid for a pipe endpoint,
// returning -1 for either when unset (leave ownership alone).
// portcfg.Validate already rejects a config where a name and an
// explicit numeric id disagree, so either source may be trusted here.
func resolveOwner(ep *portcfg.PipeEndpoint) (uid, gid int, err error) {
	uid, gid = -1, -1
	if ep.UID != nil {
		uid = *ep.UID
	} else if ep.User != "" {
		u, err := user.Lookup(ep.User)
		if err != nil {
			return -1, -1, fmt.Errorf("transport: pipe user %q: %w", ep.User, err)
		}
		uid, err = strconv.Atoi(u.Uid)
		if err != nil {
			return -1, -1, fmt.Errorf("transport: pipe user %q: malformed uid", ep.User)
		}
	}
	if ep.GID != nil {
		gid = *ep.GID
	} else if ep.Group != "" {
		g, err := user.LookupGroup(ep.Group)
		if err != nil {
			return -1, -1, fmt.Errorf("transport: pipe group %q: %w", ep.Group, err)
		}
		gid, err = strconv.Atoi(g.Gid)
		if err != nil {
			return -1, -1, fmt.Errorf("transport: pipe group %q: malformed gid", ep.Group)
		}
	}
	return uid, gid, nil
}

// NewPipe wraps a pipe pair's two fds into one Socket with the default
// stream-shaped read/write callbacks (a pipe moves bytes exactly like a
// stream once both ends are open).
func NewPipe(id socket.ID, recvFD, sendFD int, port *portcfg.Config) *socket.Socket {
	s := socket.New(id, port.RecvBufferSize, port.SendBufferSize)
	s.FD = recvFD
	s.RecvFD = recvFD
	s.SendFD = sendFD
	s.Kind = socket.KindPipe
	s.Proto = socket.ProtoPIPE
	s.Flags |= socket.FlagSock | socket.FlagConnected
	s.Callbacks.ReadSocket = ReadStream
	s.Callbacks.WriteSocket = WriteStream
	return s
}
