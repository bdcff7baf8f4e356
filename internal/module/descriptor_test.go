package module

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDescriptor_YAML(t *testing.T) {
	data := []byte(`
id: premium
name: PremiumManager
version: v1.2.0
core: false
requires:
  - auth >=1.0.0
  - id: news
    version: ">=0.3.0, <1.0.0"
settings:
  currency: EUR
  expiry_schedule: "@every 1m"
`)
	d, err := ParseDescriptor(data, "module.yaml")
	require.NoError(t, err)

	assert.Equal(t, "premium", d.ID)
	assert.Equal(t, "1.2.0", d.Version, "leading v is stripped")
	require.Len(t, d.Requires, 2)
	assert.Equal(t, Requirement{ID: "auth", Version: ">=1.0.0"}, d.Requires[0])
	assert.Equal(t, Requirement{ID: "news", Version: ">=0.3.0, <1.0.0"}, d.Requires[1])
	assert.Equal(t, "EUR", d.Settings.String("currency", ""))
}

func TestParseDescriptor_JSON(t *testing.T) {
	data := []byte(`{"id":"news","version":"0.4.0","requires":["auth",{"id":"premium","version":"*"}]}`)
	d, err := ParseDescriptor(data, "module.json")
	require.NoError(t, err)

	assert.Equal(t, "news", d.Name, "name defaults to id")
	assert.Equal(t, []Requirement{{ID: "auth"}, {ID: "premium", Version: "*"}}, d.Requires)
}

func TestParseDescriptor_Invalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"bad id", "id: News\nversion: 1.0.0"},
		{"missing version", "id: news"},
		{"bad version", "id: news\nversion: one"},
		{"self requirement", "id: news\nversion: 1.0.0\nrequires: [news]"},
		{"duplicate requirement", "id: news\nversion: 1.0.0\nrequires: [auth, auth]"},
		{"bad constraint", "id: news\nversion: 1.0.0\nrequires: ['auth >=x']"},
		{"bad yaml", "id: [news"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDescriptor([]byte(tt.data), "module.yaml")
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidDescriptor), "err = %v", err)
		})
	}
}

func TestMustParseDescriptorPanics(t *testing.T) {
	assert.Panics(t, func() { MustParseDescriptor([]byte("id: 1"), "module.yaml") })
}

func TestRequirementString(t *testing.T) {
	assert.Equal(t, "auth", Requirement{ID: "auth"}.String())
	assert.Equal(t, "auth >=1.0.0", Requirement{ID: "auth", Version: ">=1.0.0"}.String())
}
