package ifsched

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func createTestSchedCfg(t *testing.T) *SchedCfg {
	t.Helper()
	sc := CreateSchedCfg("test")

	strict := CreateIntrfcSchedDesc("rtr1-eth0", 1, 0, 2, StrictPriorityType, 100.0)
	strict.AddQueue(0, 0.0, 0)
	strict.AddQueue(1, 0.0, 0)
	sc.AddIntrfc(strict)

	cbq := CreateIntrfcSchedDesc("rtr1-eth1", 1, 1, 2, CBQType, 10.0)
	for priority := 0; priority < 3; priority++ {
		cbq.AddQueue(priority, 1.0, 50000)
	}
	cbq.CBQ = &CBQDesc{Guideline: AncestorOnlyGuideline, General: PRRGeneral, LinkSharing: cbqLines}
	sc.AddIntrfc(cbq)

	twoTier := CreateIntrfcSchedDesc("rtr2-eth0", 2, 0, 1, TwoTierType, 1000.0)
	for priority := 0; priority < 4; priority++ {
		twoTier.AddQueue(priority, 0.5, 0)
	}
	twoTier.TwoTier = &TwoTierDesc{Boundary: 2, Low: WeightedFairType, High: StrictPriorityType}
	sc.AddIntrfc(twoTier)

	require.NoError(t, sc.AddParam(AnyMatch, AnyMatch, "stats", "true"))
	return sc
}

func TestSchedCfgSerialization(t *testing.T) {
	sc := createTestSchedCfg(t)

	t.Run("yaml bytes", func(t *testing.T) {
		bytes, err := yaml.Marshal(*sc)
		require.NoError(t, err)
		recovered, err := ReadSchedCfg("", true, bytes)
		require.NoError(t, err)
		assert.Equal(t, sc, recovered)
	})

	t.Run("json bytes", func(t *testing.T) {
		bytes, err := json.Marshal(*sc)
		require.NoError(t, err)
		recovered, err := ReadSchedCfg("", false, bytes)
		require.NoError(t, err)
		assert.Equal(t, sc, recovered)
	})

	t.Run("files", func(t *testing.T) {
		dir := t.TempDir()
		for _, name := range []string{"cfg.yaml", "cfg.json"} {
			filename := filepath.Join(dir, name)
			require.NoError(t, sc.WriteToFile(filename))
			recovered, err := ReadSchedCfg(filename, strings.HasSuffix(name, ".yaml"), nil)
			require.NoError(t, err)
			assert.Equal(t, sc, recovered)
		}
		assert.Error(t, sc.WriteToFile(filepath.Join(dir, "cfg.txt")))
	})

	t.Run("single interface", func(t *testing.T) {
		filename := filepath.Join(t.TempDir(), "intrfc.yml")
		require.NoError(t, sc.Intrfcs[1].WriteToFile(filename))
		recovered, err := ReadIntrfcSchedDesc(filename, true, nil)
		require.NoError(t, err)
		assert.Equal(t, sc.Intrfcs[1], *recovered)
	})

	_, err := ReadSchedCfg(filepath.Join(t.TempDir(), "missing.yaml"), true, nil)
	assert.Error(t, err)
	_, err = ReadSchedCfg("", true, []byte("name: [unclosed"))
	assert.Error(t, err)
}

func TestReorderSchedParams(t *testing.T) {
	params := []SchedParam{
		{Node: "1", Intrfc: "0", Param: "bndwdth", Value: "1"},
		{Node: AnyMatch, Intrfc: AnyMatch, Param: "bndwdth", Value: "100"},
		{Node: AnyMatch, Intrfc: AnyMatch, Param: "bndwdth", Value: "100"},
		{Node: "1", Intrfc: AnyMatch, Param: "bndwdth", Value: "10"},
		{Node: AnyMatch, Intrfc: "1", Param: "trace", Value: "true"},
	}
	ordered := reorderSchedParams(params)
	values := []string{}
	for _, sp := range ordered {
		values = append(values, sp.Value)
	}
	assert.Equal(t, []string{"100", "10", "true", "1"}, values)
	assert.Len(t, params, 5, "input is left alone")
}

func TestApplyParams(t *testing.T) {
	sc := createTestSchedCfg(t)
	require.NoError(t, sc.AddParam("1", "0", "bndwdth", "1"))
	require.NoError(t, sc.AddParam(AnyMatch, AnyMatch, "bndwdth", "100"))
	require.NoError(t, sc.AddParam("1", AnyMatch, "bndwdth", "10.5"))
	require.NoError(t, sc.AddParam("2", AnyMatch, "capacity", "3000"))
	require.NoError(t, sc.AddParam("1", "1", "guideline", TopLevelGuideline))
	require.NoError(t, sc.AddParam("1", "1", "toplevel", "2"))
	require.NoError(t, sc.AddParam(AnyMatch, "0", "trace", "True"))
	require.NoError(t, sc.ApplyParams())

	assert.Equal(t, 1.0, sc.Intrfcs[0].Bndwdth)
	assert.Equal(t, 10.5, sc.Intrfcs[1].Bndwdth)
	assert.Equal(t, 100.0, sc.Intrfcs[2].Bndwdth)

	assert.Equal(t, TopLevelGuideline, sc.Intrfcs[1].CBQ.Guideline)
	assert.Equal(t, 2, sc.Intrfcs[1].CBQ.TopLevel)
	assert.Nil(t, sc.Intrfcs[0].CBQ)

	for _, qd := range sc.Intrfcs[2].Queues {
		assert.Equal(t, 3000, qd.Capacity)
	}
	assert.Equal(t, 50000, sc.Intrfcs[1].Queues[0].Capacity)

	assert.True(t, sc.Intrfcs[0].Trace)
	assert.False(t, sc.Intrfcs[1].Trace)
	assert.True(t, sc.Intrfcs[2].Stats)
}

func TestSchedParamErrors(t *testing.T) {
	sc := CreateSchedCfg("errors")
	assert.Error(t, sc.AddParam(AnyMatch, AnyMatch, "latency", "1"))
	assert.Error(t, sc.AddParam("rtr1", AnyMatch, "bndwdth", "1"))
	assert.Error(t, sc.AddParam(AnyMatch, "eth0", "bndwdth", "1"))
	assert.Empty(t, sc.Params)

	sc.AddIntrfc(CreateIntrfcSchedDesc("eth0", 0, 0, 1, StrictPriorityType, 10.0))
	require.NoError(t, sc.AddParam(AnyMatch, AnyMatch, "bndwdth", "-3"))
	require.NoError(t, sc.AddParam(AnyMatch, AnyMatch, "scheduler", "LOTTERY"))
	require.NoError(t, sc.AddParam(AnyMatch, AnyMatch, "toplevel", "zero"))
	err := sc.ApplyParams()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bandwidth")
	assert.Contains(t, err.Error(), "LOTTERY")
	assert.Contains(t, err.Error(), "top level")
}

func TestBuildSchedulers(t *testing.T) {
	sc := createTestSchedCfg(t)
	require.NoError(t, sc.AddParam("2", AnyMatch, "trace", "true"))
	tm := CreateTraceManager("build", true)

	scheds, err := BuildSchedulers(sc, &fakeClock{}, tm)
	require.NoError(t, err)
	require.Len(t, scheds, 3)

	assert.Equal(t, StrictPriorityType, scheds["rtr1-eth0"].Kind())
	assert.Equal(t, []int{0, 1}, scheds["rtr1-eth0"].Priorities())

	cbq, isCBQ := scheds["rtr1-eth1"].(*CBQ)
	require.True(t, isCBQ)
	assert.Equal(t, 3, cbq.Tree().NumApplications())
	assert.Equal(t, "root/A/2", cbq.Tree().ClassPath(2))

	tt, isTwoTier := scheds["rtr2-eth0"].(*TwoTier)
	require.True(t, isTwoTier)
	low, high := tt.Tiers()
	assert.Equal(t, WeightedFairType, low.Kind())
	assert.Equal(t, []int{2, 3}, high.Priorities())
	assert.Contains(t, tm.NameByID, 2)

	require.False(t, tt.Insert(CreatePacket(100, 3, nil), 3, 0.0))
	assert.NotEmpty(t, tm.Traces[2])
}

func TestBuildIntrfcSchedulerErrors(t *testing.T) {
	tests := []struct {
		name string
		desc *IntrfcSchedDesc
	}{
		{"unknown scheduler", CreateIntrfcSchedDesc("eth0", 0, 0, 1, "LOTTERY", 10.0)},
		{"cbq without settings", CreateIntrfcSchedDesc("eth0", 0, 0, 1, CBQType, 10.0)},
		{"two tier without settings", CreateIntrfcSchedDesc("eth0", 0, 0, 1, TwoTierType, 10.0)},
	}
	dupQueues := CreateIntrfcSchedDesc("eth0", 0, 0, 1, RoundRobinType, 10.0)
	dupQueues.AddQueue(1, 1.0, 0)
	dupQueues.AddQueue(1, 1.0, 0)
	tests = append(tests, struct {
		name string
		desc *IntrfcSchedDesc
	}{"duplicate queue", dupQueues})

	missingApp := CreateIntrfcSchedDesc("eth0", 0, 0, 1, CBQType, 10.0)
	missingApp.AddQueue(0, 1.0, 0)
	missingApp.AddQueue(5, 1.0, 0)
	missingApp.CBQ = &CBQDesc{Guideline: AncestorOnlyGuideline, General: PRRGeneral,
		LinkSharing: []string{"ANY ANY root, 0 0.5 0 0, 1 0.5 0 0"}}
	tests = append(tests, struct {
		name string
		desc *IntrfcSchedDesc
	}{"queue without application", missingApp})

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := BuildIntrfcScheduler(test.desc, &fakeClock{})
			assert.Error(t, err)
		})
	}

	sc := CreateSchedCfg("dups")
	sc.AddIntrfc(CreateIntrfcSchedDesc("eth0", 0, 0, 1, StrictPriorityType, 10.0))
	sc.AddIntrfc(CreateIntrfcSchedDesc("eth0", 1, 0, 1, StrictPriorityType, 10.0))
	_, err := BuildSchedulers(sc, &fakeClock{}, nil)
	assert.Error(t, err)
}

func TestBuildCBQFromFile(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "linksharing.txt")
	text := "# shared by every interface\r\nANY ANY root, 0 0.7 1 0, 1 0.3 0 1\r\n"
	require.NoError(t, os.WriteFile(filename, []byte(text), 0644))

	desc := CreateIntrfcSchedDesc("eth0", 0, 0, 1, CBQType, 10.0)
	desc.AddQueue(0, 0.7, 0)
	desc.AddQueue(1, 0.3, 0)
	desc.CBQ = &CBQDesc{Guideline: TopLevelGuideline, TopLevel: 1, General: WRRGeneral, LinkSharingFile: filename}

	sched, err := BuildIntrfcScheduler(desc, &fakeClock{})
	require.NoError(t, err)
	cbq := sched.(*CBQ)
	appIdx, present := cbq.Tree().Application(0)
	require.True(t, present)
	assert.True(t, cbq.Tree().Node(appIdx).Borrow)
	assert.InDelta(t, 0.3, cbq.Weight(1), 1e-12)

	desc.CBQ.LinkSharingFile = filepath.Join(t.TempDir(), "missing.txt")
	_, err = BuildIntrfcScheduler(desc, &fakeClock{})
	assert.Error(t, err)
}
