package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func echoType() *Type {
	return &Type{
		Name: "echo",
		Items: []Item{
			{Name: "max-clients", Kind: KindInteger, HasDefault: true, Default: 100},
			{Name: "banner", Kind: KindString},
		},
	}
}

func TestRegisterType_RunsGlobalInitOnce(t *testing.T) {
	calls := 0
	typ := echoType()
	typ.GlobalInit = func() error { calls++; return nil }

	r := New()
	require.NoError(t, r.RegisterType(typ))
	assert.Equal(t, 1, calls)

	require.Error(t, r.RegisterType(typ), "duplicate type name must be rejected")
	assert.Equal(t, 1, calls, "global_init must not re-run on the rejected duplicate")
}

func TestInstantiate_FillsDefaultAndRequiredItems(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))

	inst, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "hello"})
	require.NoError(t, err)
	assert.Equal(t, 100, inst.Config["max-clients"])
	assert.Equal(t, "hello", inst.Config["banner"])
	assert.Equal(t, "echo-0", inst.InstanceName())
}

func TestInstantiate_MissingRequiredItemErrors(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))

	_, err := r.Instantiate("echo", "echo-0", map[string]any{})
	assert.ErrorContains(t, err, "banner")
}

func TestInstantiate_UnusedOptionErrorsWithoutAfterHook(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))

	_, err := r.Instantiate("echo", "echo-0", map[string]any{
		"banner":      "hi",
		"unknown-key": true,
	})
	assert.ErrorContains(t, err, "unknown-key")
}

func TestInstantiate_WrongKindRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))

	_, err := r.Instantiate("echo", "echo-0", map[string]any{
		"banner":      "hi",
		"max-clients": "not-an-int",
	})
	assert.ErrorContains(t, err, "max-clients")
}

func TestInstantiate_DuplicateInstanceNameRejected(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))
	_, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "hi"})
	require.NoError(t, err)

	_, err = r.Instantiate("echo", "echo-0", map[string]any{"banner": "again"})
	assert.Error(t, err)
}

func TestInstantiate_UnknownTypeRejected(t *testing.T) {
	r := New()
	_, err := r.Instantiate("nope", "nope-0", nil)
	assert.Error(t, err)
}

func TestInstances_FiltersByPrefix(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterType(echoType()))
	_, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "a"})
	require.NoError(t, err)
	_, err = r.Instantiate("echo", "echo-1", map[string]any{"banner": "b"})
	require.NoError(t, err)

	all := r.Instances("echo")
	assert.Len(t, all, 2)
	assert.Empty(t, r.Instances("other"))
}

func TestFinalize_RunsHookAndRemovesInstance(t *testing.T) {
	finalized := false
	typ := echoType()
	typ.Finalize = func(inst *Instance) error { finalized = true; return nil }

	r := New()
	require.NoError(t, r.RegisterType(typ))
	_, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "a"})
	require.NoError(t, err)

	require.NoError(t, r.Finalize("echo-0"))
	assert.True(t, finalized)

	_, ok := r.Lookup("echo-0")
	assert.False(t, ok)
}

func TestInstantiate_AfterHookOverridesUnusedKeyCheck(t *testing.T) {
	typ := echoType()
	typ.AfterValidate = func(config map[string]any, consumed map[string]bool) error {
		return nil
	}
	r := New()
	require.NoError(t, r.RegisterType(typ))

	_, err := r.Instantiate("echo", "echo-0", map[string]any{
		"banner":  "hi",
		"whatever": "ignored by custom after-hook",
	})
	require.NoError(t, err)
}

func TestNotifyAllAndResetAll_RunHooksPerInstance(t *testing.T) {
	typ := echoType()
	notified, reset := 0, 0
	typ.Notify = func(*Instance) { notified++ }
	typ.Reset = func(*Instance) { reset++ }

	r := New()
	require.NoError(t, r.RegisterType(typ))
	_, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "hi"})
	require.NoError(t, err)

	r.NotifyAll()
	r.NotifyAll()
	r.ResetAll()
	assert.Equal(t, 2, notified)
	assert.Equal(t, 1, reset)
}

func TestFinalizeAll_FinalizesInstancesThenGlobal(t *testing.T) {
	typ := echoType()
	var order []string
	typ.Finalize = func(inst *Instance) error { order = append(order, "finalize:"+inst.Name); return nil }
	typ.GlobalFinalize = func() error { order = append(order, "global"); return nil }

	r := New()
	require.NoError(t, r.RegisterType(typ))
	_, err := r.Instantiate("echo", "echo-0", map[string]any{"banner": "x"})
	require.NoError(t, err)

	require.Empty(t, r.FinalizeAll())
	assert.Equal(t, []string{"finalize:echo-0", "global"}, order)
	assert.Empty(t, r.Instances(""))
}
