package featureflag

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFeatureFlag(t *testing.T) {
	f := New([]string{" disable_conflict_cache", "", "DISABLE_EVENT_BROADCAST"})

	t.Run("run if enabled", func(t *testing.T) {
		var runCache bool
		f.IfSet(FlagDisableConflictCache, func() {
			runCache = true
		})
		require.True(t, runCache)

		var runPlanView bool
		f.IfSet(FlagDisablePlanViewConflicts, func() {
			runPlanView = true
		})
		require.False(t, runPlanView)
	})

	t.Run("run if disabled", func(t *testing.T) {
		var runCache bool
		f.IfNotSet(FlagDisableConflictCache, func() {
			runCache = true
		})
		require.False(t, runCache)

		var runDetect bool
		f.IfNotSet(FlagDisableDetectOnAdd, func() {
			runDetect = true
		})
		require.True(t, runDetect)
	})

	t.Run("list", func(t *testing.T) {
		require.Equal(t, []string{
			"DISABLE_CONFLICT_CACHE",
			"DISABLE_EVENT_BROADCAST",
		}, f.List())
	})
}
