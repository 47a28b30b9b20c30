package demo

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adversary/internal/payload"
	"adversary/internal/target"
)

func invoke(t *testing.T, tgt target.Target, args ...payload.Value) target.Outcome {
	t.Helper()
	return target.NewInvoker(0).Invoke(context.Background(), tgt, args)
}

func TestRegistryTargetsValidate(t *testing.T) {
	require.NotEmpty(t, Names())
	for _, entry := range All() {
		assert.NoError(t, entry.Target.Validate(), entry.Target.Name)
	}
	_, err := Lookup("nope")
	assert.Error(t, err)
}

func TestLookupNormalizesNames(t *testing.T) {
	entry, err := Lookup(" Vulnerable-Multiply ")
	require.NoError(t, err)
	assert.Equal(t, "vulnerable_multiply", entry.Target.Name)
	assert.Equal(t, "url_blocklist", Normalize("URL blocklist"))
}

func TestVulnerableMultiplyOverflows(t *testing.T) {
	out := invoke(t, VulnerableMultiply(), payload.Int(1<<40))
	assert.ErrorIs(t, out.Err, payload.ErrOverflow)

	out = invoke(t, VulnerableMultiply(), payload.Int(2))
	require.NoError(t, out.Err)
	got, _ := out.Result.AsInt()
	assert.Equal(t, int64(1999999998), got)
}

func TestVulnerableAuthBypass(t *testing.T) {
	auth := VulnerableAuth()
	out := invoke(t, auth, payload.Text("bob"), payload.Text("bob"))
	require.NoError(t, out.Err)
	granted, _ := out.Result.AsBool()
	assert.True(t, granted)

	out = invoke(t, auth, payload.Text("bob"), payload.Text("secret"))
	granted, _ = out.Result.AsBool()
	assert.False(t, granted)

	out = invoke(t, auth, payload.Text("admin"), payload.Int(3))
	assert.ErrorIs(t, out.Err, payload.ErrType)
}

func TestSafeFunctionContract(t *testing.T) {
	out := invoke(t, SafeFunction(), payload.Int(5000))
	assert.ErrorIs(t, out.Err, payload.ErrValue)
	assert.True(t, SafeFunctionContext().Expected(out.Err))

	out = invoke(t, SafeFunction(), payload.Int(21))
	require.NoError(t, out.Err)
	got, _ := out.Result.AsInt()
	assert.Equal(t, int64(42), got)
}

func TestRatioPanicsOnZero(t *testing.T) {
	out := invoke(t, Ratio(), payload.Int(0))
	var pe *payload.PanicError
	require.True(t, errors.As(out.Err, &pe))
	assert.Equal(t, payload.ClassDivideByZero, payload.Classify(out.Err))
}

func TestURLBlocklist(t *testing.T) {
	out := invoke(t, URLBlocklist(), payload.Text("http://evil.com/path"))
	require.NoError(t, out.Err)
	blocked, _ := out.Result.AsBool()
	assert.True(t, blocked)

	out = invoke(t, URLBlocklist(), payload.Text(" http://evil.com/path"))
	assert.ErrorIs(t, out.Err, payload.ErrValue)
}
