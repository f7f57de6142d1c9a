// Package registry implements the server-type/server-instance
// registry: item-list-described config structs, Instantiate, and the
// type/instance tables it populates.
package registry

import (
	"fmt"
	"net/netip"
	"sort"
	"strings"

	"github.com/dkrasnov/serveez/internal/container"
	"github.com/dkrasnov/serveez/internal/portcfg"
	"github.com/dkrasnov/serveez/internal/socket"
)

// ItemKind is one of the value kinds a server type's item list may
// declare for a config item.
type ItemKind int

const (
	KindInteger ItemKind = iota
	KindBoolean
	KindIntArray
	KindString
	KindStrArray
	KindHash
	KindPortConfig
)

// Item describes one configurable field a server type declares. The
// filled value lives in the instance's config map under Item.Name.
type Item struct {
	Name        string
	Kind        ItemKind
	HasDefault  bool
	Default     any
}

// DetectResult is detect_proto's three-valued outcome.
type DetectResult int

const (
	DetectInsufficient DetectResult = iota
	DetectOK
	DetectFail
)

// Type is a server type's callback vtable and declared item list.
type Type struct {
	Name  string
	Items []Item

	GlobalInit     func() error
	GlobalFinalize func() error
	Init           func(inst *Instance) error
	Finalize       func(inst *Instance) error

	DetectProto   func(inst *Instance, cfg *portcfg.Config, sock *socket.Socket) DetectResult
	ConnectSocket func(inst *Instance, sock *socket.Socket) error
	HandleRequest func(inst *Instance, sock *socket.Socket, buf []byte, remote netip.AddrPort) error

	// InfoServer/InfoClient/Notify/Reset are optional introspection
	// and signal hooks: a one-line instance description, a
	// per-connection description, a periodic tick notification, and a
	// SIGHUP-style state reset.
	InfoServer func(inst *Instance) string
	InfoClient func(inst *Instance, sock *socket.Socket) string
	Notify     func(inst *Instance)
	Reset      func(inst *Instance)

	// BeforeValidate / AfterValidate are instantiate()'s syntactic-
	// validity and unused-key hooks.
	BeforeValidate func(options map[string]any) error
	AfterValidate  func(config map[string]any, consumed map[string]bool) error

	globalInitDone bool
}

// Instance is one running server. It satisfies internal/binding.Server.
// State is the server type's own runtime state, opaque to the registry.
type Instance struct {
	Type   *Type
	Name   string
	Config map[string]any
	State  any
}

// InstanceName satisfies binding.Server.
func (inst *Instance) InstanceName() string { return inst.Name }

// Registry holds every registered server type and instance.
type Registry struct {
	types     *container.Map[*Type]
	instances *container.Map[*Instance]
}

// New builds an empty registry.
func New() *Registry {
	return &Registry{
		types:     container.NewMap[*Type](),
		instances: container.NewMap[*Instance](),
	}
}

// RegisterType adds a server type, running its global_init exactly once.
func (r *Registry) RegisterType(t *Type) error {
	if _, exists := r.types.Get(t.Name); exists {
		return fmt.Errorf("registry: server type %q already registered", t.Name)
	}
	if t.GlobalInit != nil && !t.globalInitDone {
		if err := t.GlobalInit(); err != nil {
			return fmt.Errorf("registry: global_init %q: %w", t.Name, err)
		}
		t.globalInitDone = true
	}
	r.types.Put(t.Name, t)
	return nil
}

// Type looks up a registered server type by name.
func (r *Registry) Type(name string) (*Type, bool) { return r.types.Get(name) }

// Instantiate fills a config map from options
// and each item's default, running before/after hooks, then registers
// the resulting instance under instanceName (conventionally
// "type-specific", e.g. "echo-0", parsed on demand by callers, never
// enforced here).
func (r *Registry) Instantiate(typeName, instanceName string, options map[string]any) (*Instance, error) {
	t, ok := r.types.Get(typeName)
	if !ok {
		return nil, fmt.Errorf("registry: unknown server type %q", typeName)
	}
	if _, exists := r.instances.Get(instanceName); exists {
		return nil, fmt.Errorf("registry: instance %q already exists", instanceName)
	}
	if t.BeforeValidate != nil {
		if err := t.BeforeValidate(options); err != nil {
			return nil, fmt.Errorf("registry: %s %q: before hook: %w", typeName, instanceName, err)
		}
	}

	config := make(map[string]any, len(t.Items))
	consumed := make(map[string]bool, len(options))
	for _, item := range t.Items {
		v, present := options[item.Name]
		if present {
			if err := checkKind(item, v); err != nil {
				return nil, fmt.Errorf("registry: %s %q: item %q: %w", typeName, instanceName, item.Name, err)
			}
			config[item.Name] = v
			consumed[item.Name] = true
			continue
		}
		if item.HasDefault {
			config[item.Name] = item.Default
			continue
		}
		return nil, fmt.Errorf("registry: %s %q: required item %q has no value and no default", typeName, instanceName, item.Name)
	}

	if t.AfterValidate != nil {
		if err := t.AfterValidate(config, consumed); err != nil {
			return nil, fmt.Errorf("registry: %s %q: after hook: %w", typeName, instanceName, err)
		}
	} else {
		for key := range options {
			if !consumed[key] {
				return nil, fmt.Errorf("registry: %s %q: unused option %q", typeName, instanceName, key)
			}
		}
	}

	inst := &Instance{Type: t, Name: instanceName, Config: config}
	if t.Init != nil {
		if err := t.Init(inst); err != nil {
			return nil, fmt.Errorf("registry: %s %q: init: %w", typeName, instanceName, err)
		}
	}
	r.instances.Put(instanceName, inst)
	return inst, nil
}

// Lookup finds a registered instance by name.
func (r *Registry) Lookup(name string) (*Instance, bool) { return r.instances.Get(name) }

// Instances returns every registered instance whose name has the given
// type prefix, or every instance if prefix is empty, in name order.
func (r *Registry) Instances(prefix string) []*Instance {
	var out []*Instance
	names := r.instances.Keys()
	sort.Strings(names)
	for _, name := range names {
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		if v, ok := r.instances.Get(name); ok {
			out = append(out, v)
		}
	}
	return out
}

// Finalize tears down one instance, invoking its type's finalize hook.
func (r *Registry) Finalize(name string) error {
	inst, ok := r.instances.Get(name)
	if !ok {
		return fmt.Errorf("registry: no such instance %q", name)
	}
	if inst.Type.Finalize != nil {
		if err := inst.Type.Finalize(inst); err != nil {
			return fmt.Errorf("registry: finalize %q: %w", name, err)
		}
	}
	r.instances.Del(name)
	return nil
}

// NotifyAll runs every instance's notify hook, in instance-name order.
// The reactor invokes this once per tick.
func (r *Registry) NotifyAll() {
	for _, inst := range r.Instances("") {
		if inst.Type.Notify != nil {
			inst.Type.Notify(inst)
		}
	}
}

// ResetAll runs every instance's reset hook.
func (r *Registry) ResetAll() {
	for _, inst := range r.Instances("") {
		if inst.Type.Reset != nil {
			inst.Type.Reset(inst)
		}
	}
}

// FinalizeAll finalizes every remaining instance, then runs each
// registered type's global_finalize exactly once.
// Errors are collected rather than aborting the sweep; teardown must
// visit every instance.
func (r *Registry) FinalizeAll() []error {
	var errs []error
	for _, inst := range r.Instances("") {
		if err := r.Finalize(inst.Name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, name := range r.types.Keys() {
		t, ok := r.types.Get(name)
		if !ok || t.GlobalFinalize == nil {
			continue
		}
		if err := t.GlobalFinalize(); err != nil {
			errs = append(errs, fmt.Errorf("registry: global_finalize %q: %w", name, err))
		}
		t.globalInitDone = false
	}
	return errs
}

func checkKind(item Item, v any) error {
	switch item.Kind {
	case KindInteger:
		if _, ok := v.(int); !ok {
			return fmt.Errorf("expected integer, got %T", v)
		}
	case KindBoolean:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected boolean, got %T", v)
		}
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case KindIntArray:
		if _, ok := v.([]int); !ok {
			return fmt.Errorf("expected []int, got %T", v)
		}
	case KindStrArray:
		if _, ok := v.([]string); !ok {
			return fmt.Errorf("expected []string, got %T", v)
		}
	case KindHash:
		if _, ok := v.(map[string]string); !ok {
			return fmt.Errorf("expected map[string]string, got %T", v)
		}
	case KindPortConfig:
		if _, ok := v.(*portcfg.Config); !ok {
			return fmt.Errorf("expected *portcfg.Config, got %T", v)
		}
	}
	return nil
}
