// Package handlers implements the admin API's read-only endpoint
// handlers: health, live stats, registered ports, bound server
// instances, and the interface list.
package handlers

import (
	"net/http"
	"time"

	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/registry"
	"github.com/dkrasnov/serveez/internal/runtimectx"
	"github.com/gin-gonic/gin"
)

// Handler holds the runtime context every admin endpoint reads from.
type Handler struct {
	ctx       *runtimectx.Context
	startTime time.Time
}

// New builds a Handler bound to ctx.
func New(ctx *runtimectx.Context) *Handler {
	return &Handler{ctx: ctx, startTime: time.Now()}
}

// Health reports process liveness.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// Stats reports live reactor/socket counters.
func (h *Handler) Stats(c *gin.Context) {
	snap := h.ctx.Stats.Snapshot()
	c.JSON(http.StatusOK, StatsResponse{
		UptimeSeconds:    uptimeSince(h.startTime),
		LiveSockets:      len(h.ctx.Reactor.Live()),
		Listeners:        len(h.ctx.Bindings.Listeners()),
		AcceptsTotal:     snap.AcceptsTotal,
		AcceptsRejected:  snap.AcceptsRejected,
		ConnectsRejected: snap.ConnectsRejected,
		SocketsKilled:    snap.SocketsKilled,
		FloodKicks:       snap.FloodKicks,
		BufferOverflows:  snap.BufferOverflows,
		DatagramsDropped: snap.DatagramsDropped,
		AccessDenied:     snap.AccessDenied,
	})
}

// Ports lists every live listener's port configuration.
func (h *Handler) Ports(c *gin.Context) {
	listeners := h.ctx.Bindings.Listeners()
	out := make([]PortResponse, 0, len(listeners))
	for _, l := range listeners {
		port, ok := l.Port.(*portcfg.Config)
		if !ok {
			continue
		}
		out = append(out, PortResponse{
			Name:     port.Name,
			Proto:    port.Proto.String(),
			AddrFlag: addrFlagString(port.AddrFlag),
			Addr:     portAddrString(port),
			Device:   port.Device,
			Port:     port.Port,
			Bindings: len(h.ctx.Bindings.BindingsOf(l)),
		})
	}
	c.JSON(http.StatusOK, out)
}

// Servers lists every registered server instance.
func (h *Handler) Servers(c *gin.Context) {
	instances := h.ctx.Registry.Instances("")
	ports := h.portNamesByInstance()
	out := make([]ServerResponse, 0, len(instances))
	for _, inst := range instances {
		resp := ServerResponse{
			Name: inst.Name,
			Type: inst.Type.Name,
			Port: ports[inst.Name],
		}
		if inst.Type.InfoServer != nil {
			resp.Info = inst.Type.InfoServer(inst)
		}
		out = append(out, resp)
	}
	c.JSON(http.StatusOK, out)
}

// Interfaces lists every known network interface.
func (h *Handler) Interfaces(c *gin.Context) {
	records := h.ctx.Ifaces.All()
	out := make([]InterfaceResponse, 0, len(records))
	for _, r := range records {
		out = append(out, InterfaceResponse{
			Index:       r.Index,
			Addr:        r.Addr.String(),
			Description: r.Description,
			UserAdded:   r.UserAdded,
		})
	}
	c.JSON(http.StatusOK, out)
}

func addrFlagString(f portcfg.AddrFlag) string {
	switch f {
	case portcfg.AddrAny:
		return "any"
	case portcfg.AddrSpecific:
		return "specific"
	case portcfg.AddrDevice:
		return "device"
	case portcfg.AddrAll:
		return "all"
	default:
		return "unknown"
	}
}

func portAddrString(p *portcfg.Config) string {
	if p.AddrFlag == portcfg.AddrSpecific && p.Addr.IsValid() {
		return p.Addr.String()
	}
	return ""
}

// portNamesByInstance reverse-scans the binding registry: it tracks
// bindings by listener, not by instance, so an instance's port name is
// recovered by walking every listener's bindings.
func (h *Handler) portNamesByInstance() map[string]string {
	out := map[string]string{}
	for _, l := range h.ctx.Bindings.Listeners() {
		for _, b := range h.ctx.Bindings.BindingsOf(l) {
			inst, ok := b.Server.(*registry.Instance)
			if !ok {
				continue
			}
			if _, exists := out[inst.Name]; !exists {
				out[inst.Name] = b.Port.Name
			}
		}
	}
	return out
}
