package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	defs      []Definition
	probeErrs []error // consumed in order; last value repeats
	probeN    int32
	invoked   map[string]int
}

func (f *fakeService) ListTools(context.Context) ([]Definition, error) { return f.defs, nil }

func (f *fakeService) Probe(context.Context) error {
	n := int(atomic.AddInt32(&f.probeN, 1)) - 1
	if n < len(f.probeErrs) {
		return f.probeErrs[n]
	}
	if len(f.probeErrs) == 0 {
		return nil
	}
	return f.probeErrs[len(f.probeErrs)-1]
}

func (f *fakeService) Invoke(_ context.Context, endpoint, action string, params map[string]any, _ time.Duration) (map[string]any, error) {
	if f.invoked == nil {
		f.invoked = map[string]int{}
	}
	f.invoked[endpoint]++
	return map[string]any{"ok": true}, nil
}

func TestRegisterRejectsUnknownCategoryAndType(t *testing.T) {
	r := New()
	err := r.Register(Definition{ServiceName: "svc", LocalName: "x", Type: "bogus", Category: CategorySearch, Enabled: true})
	require.Error(t, err)

	err = r.Register(Definition{ServiceName: "svc", LocalName: "x", Type: TypeExternal, Category: "bogus", Enabled: true})
	require.Error(t, err)
}

func TestSelectForAgentOrderingAndAvailability(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Definition{ServiceName: "svc", LocalName: "a", Type: TypeExternal, Category: CategorySearch, Enabled: true}))
	require.NoError(t, r.Register(Definition{ServiceName: "svc", LocalName: "b", Type: TypeExternal, Category: CategorySearch, Enabled: true}))
	require.NoError(t, r.Register(Definition{ServiceName: "svc", LocalName: "c", Type: TypeExternal, Category: CategorySearch, Enabled: false}))

	// Services default unavailable until a probe succeeds; mark available for a and b.
	r.setServiceAvailability("svc", true)

	r.tools["svc.a"].recordCall(true, 10*time.Millisecond)
	r.tools["svc.b"].recordCall(true, 5*time.Millisecond)
	r.tools["svc.b"].recordCall(true, 5*time.Millisecond)
	r.tools["svc.c"].recordCall(true, 1*time.Millisecond)

	got := r.SelectForAgent([]Category{CategorySearch}, nil, 0)
	require.Len(t, got, 2, "disabled tool must be excluded")
	for _, tool := range got {
		assert.True(t, tool.IsEnabled)
	}
	// Both a and b have successRate 1; tie-break by lower avgResponseTime (b).
	assert.Equal(t, "svc.b", got[0].ID)
	assert.Equal(t, "svc.a", got[1].ID)
}

func TestProbeAllRemovesServiceAfterTwoConsecutiveUnhealthyProbes(t *testing.T) {
	svc := &fakeService{
		defs: []Definition{{LocalName: "x", Type: TypeExternal, Category: CategoryData, Enabled: true}},
	}
	r := New()
	r.RegisterService("svc", svc)
	r.DiscoverAll(context.Background())
	_, ok := r.Get("svc.x")
	require.True(t, ok)

	svc.probeErrs = []error{errors.New("down"), errors.New("down")}
	r.probeAll(context.Background())
	_, ok = r.Get("svc.x")
	require.True(t, ok, "one failed probe does not remove the service yet")

	r.probeAll(context.Background())
	_, ok = r.Get("svc.x")
	require.False(t, ok, "two consecutive failed probes remove the service's tools")
}

func TestExecuteBuiltinUpdatesStats(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBuiltin(DefinitionCalculator, ExecuteCalculator))
	out, err := r.Execute(context.Background(), "builtin.calculator", "evaluate", map[string]any{"expression": "1+1"}, 0)
	require.NoError(t, err)
	assert.Equal(t, float64(2), out["result"])

	tool, ok := r.Get("builtin.calculator")
	require.True(t, ok)
	assert.Equal(t, uint64(1), tool.Stats().TotalCalls)
	assert.Equal(t, float64(1), tool.Stats().SuccessRate)
}

func TestExecuteUnavailableToolFails(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(Definition{ServiceName: "svc", LocalName: "x", Type: TypeExternal, Category: CategoryData, Enabled: false}))
	_, err := r.Execute(context.Background(), "svc.x", "run", nil, 0)
	require.Error(t, err)
}
