package app

import (
	"testing"
	"time"

	"github.com/ry86pkqf74-rgb/researchflow-production-sub006/internal/modules/routing"
	"github.com/stretchr/testify/require"
)

func TestParseTimezoneLocation(t *testing.T) {
	loc, err := parseTimezoneLocation("America/New_York")
	require.NoError(t, err)
	require.Equal(t, "America/New_York", loc.String())

	loc, err = parseTimezoneLocation("+08:00")
	require.NoError(t, err)
	_, offset := time.Now().In(loc).Zone()
	require.Equal(t, 8*3600, offset)

	loc, err = parseTimezoneLocation("-05:30")
	require.NoError(t, err)
	_, offset = time.Now().In(loc).Zone()
	require.Equal(t, -(5*3600 + 30*60), offset)

	_, err = parseTimezoneLocation("Neverland/Nowhere")
	require.Error(t, err)

	_, err = parseTimezoneLocation("+99:00")
	require.Error(t, err)
}

func TestParseTierMap(t *testing.T) {
	require.Nil(t, parseTierMap(nil))

	out := parseTierMap(map[string]string{
		"extract":  "nano",
		"REVIEW":   "FRONTIER",
		" triage ": "Mini",
		"bogus":    "turbo",
	})
	require.Len(t, out, 3)
	require.Equal(t, routing.TierNano, out["EXTRACT"])
	require.Equal(t, routing.TierFrontier, out["REVIEW"])
	require.Equal(t, routing.TierMini, out["TRIAGE"])
	require.NotContains(t, out, "BOGUS")
}

func TestHumanizeDuration(t *testing.T) {
	require.Equal(t, "42s", humanizeDuration(42*time.Second+300*time.Millisecond))
	require.Equal(t, "15m0s", humanizeDuration(15*time.Minute+20*time.Second))
	require.Equal(t, "3h0m0s", humanizeDuration(3*time.Hour+5*time.Minute))
	require.Equal(t, "48h0m0s", humanizeDuration(2*24*time.Hour+7*time.Hour))
}
