package mission_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/rorefcat/internal/domain/mission"
)

func TestDefault_ResolveReceiver(t *testing.T) {
	reg := mission.Default()

	cases := []struct {
		center, dir, rx   string
		wantMission, want string
	}{
		{mission.UCAR, "champ", "CHAM", "champ", "champ"},
		{mission.UCAR, "cosmic1", "C003", "cosmic1", "cosmic1c3"},
		{mission.UCAR, "cosmic2", "C2E6", "cosmic2", "cosmic2e6"},
		{mission.UCAR, "metopb", "MTPB", "metop", "metopb"},
		{mission.UCAR, "gpsmetas", "GPSM", "gpsmet", "gpsmetas"},
		{mission.UCAR, "geoopt", "GO02", "geoopt", "geooptG02"},
		{mission.ROMSAF, "cosmic", "C001", "cosmic1", "cosmic1c1"},
		{mission.ROMSAF, "metop", "META", "metop", "metopa"},
		{mission.JPL, "cosmic1", "cosmic1c1", "cosmic1", "cosmic1c1"},
	}
	for _, c := range cases {
		m, rx, ok := reg.ResolveReceiver(c.center, c.dir, c.rx)
		require.True(t, ok, "%s %s/%s", c.center, c.dir, c.rx)
		assert.Equal(t, c.wantMission, m)
		assert.Equal(t, c.want, rx)
	}

	_, _, ok := reg.ResolveReceiver(mission.UCAR, "metopa", "MTPB")
	assert.False(t, ok)
}

func TestMission_CenterRoots(t *testing.T) {
	reg := mission.Default()

	metop, err := reg.Mission("metop")
	require.NoError(t, err)
	assert.Equal(t, []string{"metopa", "metopb", "metopc"}, metop.CenterRoots(mission.UCAR))
	assert.Equal(t, []string{"metop"}, metop.CenterRoots(mission.ROMSAF))

	cosmic2, _ := reg.Mission("cosmic2")
	assert.Empty(t, cosmic2.CenterRoots(mission.ROMSAF))
	assert.Equal(t, []string{"cosmic2"}, cosmic2.CenterRoots(mission.JPL))

	_, err = reg.Mission("voyager")
	assert.Error(t, err)
	assert.Contains(t, reg.Names(), "champ")

	m, ok := reg.MissionOfReceiver("cosmic1c4")
	assert.True(t, ok)
	assert.Equal(t, "cosmic1", m)
}
