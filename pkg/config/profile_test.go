package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_KnownProfiles(t *testing.T) {
	cases := []struct {
		profile Profile
		want    Profile
	}{
		{ProfileStartup, ProfileStartup},
		{ProfileGrowth, ProfileGrowth},
		{ProfileScale, ProfileScale},
		{ProfileEnterprise, ProfileEnterprise},
	}
	for _, tc := range cases {
		settings := Resolve(tc.profile)
		assert.Equal(t, tc.want, settings.Profile)
	}
}

func TestResolve_UnknownProfileFallsBackToGrowth(t *testing.T) {
	settings := Resolve(Profile("nonsense"))
	assert.Equal(t, ProfileGrowth, settings.Profile)
}

func TestResolve_SettingsScaleMonotonically(t *testing.T) {
	startup := Resolve(ProfileStartup)
	growth := Resolve(ProfileGrowth)
	scale := Resolve(ProfileScale)
	enterprise := Resolve(ProfileEnterprise)

	assert.Less(t, startup.HotStoreTTL, growth.HotStoreTTL)
	assert.Less(t, growth.HotStoreTTL, scale.HotStoreTTL)
	assert.Less(t, scale.HotStoreTTL, enterprise.HotStoreTTL)

	assert.Less(t, startup.L1Config.MaxEntries, growth.L1Config.MaxEntries)
	assert.Less(t, growth.L1Config.MaxEntries, scale.L1Config.MaxEntries)
	assert.Less(t, scale.L1Config.MaxEntries, enterprise.L1Config.MaxEntries)

	// Snapshot threshold tightens (fewer events between snapshots) as
	// scale grows, since replay cost relative to snapshot cost rises.
	assert.Greater(t, startup.SnapshotThreshold, growth.SnapshotThreshold)
	assert.Greater(t, growth.SnapshotThreshold, scale.SnapshotThreshold)
	assert.Greater(t, scale.SnapshotThreshold, enterprise.SnapshotThreshold)
}

func TestSettings_NewSnapshotStrategy(t *testing.T) {
	startup := Resolve(ProfileStartup)
	strategy := startup.NewSnapshotStrategy()
	require.NotNil(t, strategy)
	assert.Equal(t, "simple", strategy.Name())

	growth := Resolve(ProfileGrowth)
	adaptive := growth.NewSnapshotStrategy()
	require.NotNil(t, adaptive)
	assert.Equal(t, "adaptive", adaptive.Name())
}
