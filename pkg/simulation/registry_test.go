package simulation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSimulation struct{ name string }

func (s *stubSimulation) Name() string                           { return s.name }
func (s *stubSimulation) Description() string                    { return "stub " + s.name }
func (s *stubSimulation) Configure(map[string]interface{}) error { return nil }
func (s *stubSimulation) Run(context.Context) (*Result, error)   { return &Result{Passed: true}, nil }
func (s *stubSimulation) Stop() error                            { return nil }

func stub(name string) func() Simulation {
	return func() Simulation { return &stubSimulation{name: name} }
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("zulu", stub("zulu"), nil))
	require.NoError(t, reg.Register("alpha", stub("alpha"), &SimulationConfig{Name: "alpha"}))

	assert.Error(t, reg.Register("alpha", stub("alpha"), nil))
	assert.Error(t, reg.Register("", stub(""), nil))
	assert.Equal(t, []string{"alpha", "zulu"}, reg.List())

	sim, err := reg.Get("zulu")
	require.NoError(t, err)
	assert.Equal(t, "zulu", sim.Name())

	_, err = reg.Get("missing")
	assert.Error(t, err)

	_, ok := reg.Manifest("zulu")
	assert.False(t, ok)
	m, ok := reg.Manifest("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", m.Name)
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
name: demo
description: demo run
parameters:
  - name: count
    type: integer
    default: 3
    min: 1
  - name: wait
    type: duration
    default: 2s
`))
	require.NoError(t, err)
	assert.Equal(t, "demo", m.Name)

	p, ok := m.Parameter("count")
	require.True(t, ok)
	assert.Equal(t, 3, p.Default)

	withDefaults := m.WithDefaults(map[string]interface{}{"count": 7})
	p, _ = withDefaults.Parameter("count")
	assert.Equal(t, 7, p.Default)
	p, _ = m.Parameter("count")
	assert.Equal(t, 3, p.Default, "original manifest must not change")
}

func TestParseManifestRejectsBadDocuments(t *testing.T) {
	cases := map[string]string{
		"no name":      "description: x\n",
		"bad type":     "name: a\nparameters:\n  - name: p\n    type: list\n",
		"duplicate":    "name: a\nparameters:\n  - name: p\n    type: string\n  - name: p\n    type: string\n",
		"unnamed":      "name: a\nparameters:\n  - type: string\n",
		"invalid yaml": "name: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(doc))
			assert.Error(t, err)
		})
	}
}
