package confirmation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wjz5788/leverageguard-attestor-sub002/pkg/store"
)

func TestConfirmations(t *testing.T) {
	tests := []struct {
		name  string
		block uint64
		tip   uint64
		want  uint64
	}{
		{name: "block at tip", block: 100, tip: 100, want: 1},
		{name: "scenario provisional", block: 120, tip: 125, want: 6},
		{name: "scenario final", block: 120, tip: 140, want: 21},
		{name: "block above tip", block: 130, tip: 125, want: 0},
		{name: "genesis", block: 0, tip: 0, want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, Confirmations(tt.block, tt.tip))
		})
	}
}

func TestTracker_Classify(t *testing.T) {
	tracker := NewTracker(0)
	require.Equal(t, uint64(12), tracker.Threshold)

	confs, class := tracker.Classify(120, 125)
	require.Equal(t, uint64(6), confs)
	require.Equal(t, Provisional, class)
	require.Equal(t, store.StatusPaidUnconfirmed, class.Status())

	confs, class = tracker.Classify(120, 131)
	require.Equal(t, uint64(12), confs)
	require.Equal(t, Final, class)
	require.Equal(t, store.StatusPaid, class.Status())
	require.Equal(t, "final", class.String())

	_, class = NewTracker(1).Classify(120, 120)
	require.Equal(t, Final, class)
}

func TestCheckTransition(t *testing.T) {
	require.NoError(t, CheckTransition(store.StatusPending, store.StatusPaidUnconfirmed))
	require.NoError(t, CheckTransition(store.StatusPaidUnconfirmed, store.StatusPaid))
	require.NoError(t, CheckTransition(store.StatusPaid, store.StatusPaid))
	require.ErrorIs(t, CheckTransition(store.StatusPaid, store.StatusPaidUnconfirmed), ErrFinalityRegression)
}
