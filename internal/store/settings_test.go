package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRepository(t *testing.T) {
	repo := newTestStore(t).Settings()

	_, err := repo.Get(SettingActiveProfile)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.Set(SettingActiveProfile, "a"))
	require.NoError(t, repo.Set(SettingActiveProfile, "b"), "overwrite")
	v, err := repo.Get(SettingActiveProfile)
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	require.NoError(t, repo.Delete(SettingActiveProfile))
	assert.NoError(t, repo.Delete(SettingActiveProfile), "deleting a missing key")
}

func TestSettingsRepository_Bool(t *testing.T) {
	repo := newTestStore(t).Settings()

	tests := []struct {
		name  string
		value string
		def   bool
		want  bool
	}{
		{name: "missing uses default", def: true, want: true},
		{name: "true", value: "true", want: true},
		{name: "false", value: "false", def: true, want: false},
		{name: "garbage uses default", value: "maybe", def: true, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, repo.Delete(SettingDetectionEnabled))
			if tt.value != "" {
				require.NoError(t, repo.Set(SettingDetectionEnabled, tt.value))
			}
			assert.Equal(t, tt.want, repo.GetBool(SettingDetectionEnabled, tt.def))
		})
	}

	require.NoError(t, repo.SetBool(SettingDetectionEnabled, false))
	v, err := repo.Get(SettingDetectionEnabled)
	require.NoError(t, err)
	assert.Equal(t, "false", v)
}
