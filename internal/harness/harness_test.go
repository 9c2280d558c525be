package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	for _, name := range []string{"host_disk_index", "cross_store_index"} {
		t.Run(name, func(t *testing.T) {
			s, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)
			require.NoError(t, RunWithGolden(t, s))
		})
	}
}

func TestRun_HostUpgrade(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/host_upgrade.yaml")
	require.NoError(t, err)

	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 7)

	reg := result.Trace[1]
	assert.Equal(t, OpRegister, reg.Op)
	assert.Equal(t, "data", reg.Store)
	assert.Equal(t, []any{"VmHost@0.0.2"}, reg.Result)

	idx := result.Trace[5]
	assert.Equal(t, "cmtIdx/VmHost", idx.Target)
	assert.Equal(t, OutcomeOK, idx.Outcome)
}

func TestRun_SeqRestartsAfterSetup(t *testing.T) {
	s, err := LoadScenario("testdata/scenarios/host_disk_index.yaml")
	require.NoError(t, err)

	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_ReportsFailedExpectations(t *testing.T) {
	s := &Scenario{
		Name:        "failing",
		Description: "every expectation here is wrong",
		Stores:      []StoreSpec{{Name: "data", Specs: []string{specPath(t, "disks.cue")}}},
		Flow: []Step{
			{Op: OpCreate, Type: "VirtualHardDisk", Data: map[string]any{"name": "d0", "size": 10}},
			{Op: OpGet, Type: "VirtualHardDisk", ID: "d0", Expect: &Expect{Result: map[string]any{"data": map[string]any{"size": 11}}}},
			{Op: OpGet, Type: "VirtualHardDisk", ID: "d9"},
			{Op: OpDelete, Type: "VirtualHardDisk", ID: "d0", Expect: &Expect{Error: "NOT_FOUND"}},
		},
		Assertions: []Assertion{
			{Type: AssertRecord, Record: "VirtualHardDisk/d0", Absent: true},
			{Type: AssertTraceCount, Op: OpGet, Count: 1},
		},
	}

	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Trace, 4)
	assert.Equal(t, "NOT_FOUND", result.Trace[2].Outcome)

	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "flow[1] get VirtualHardDisk/d0: result")
	assert.Contains(t, result.Errors[1], "flow[2] get VirtualHardDisk/d9: expected ok, got NOT_FOUND")
	assert.Contains(t, result.Errors[2], "flow[3] delete VirtualHardDisk/d0: expected NOT_FOUND, got ok")
	assert.Contains(t, result.Errors[3], "assertions[1]")
}

func TestRun_AbsentRecordAssertionFails(t *testing.T) {
	s := &Scenario{
		Name:        "absent",
		Description: "a record that exists is not absent",
		Stores:      []StoreSpec{{Name: "data", Specs: []string{specPath(t, "disks.cue")}}},
		Flow: []Step{
			{Op: OpCreate, Type: "VirtualHardDisk", Data: map[string]any{"name": "d0"}},
		},
		Assertions: []Assertion{{Type: AssertRecord, Record: "VirtualHardDisk/d0", Absent: true}},
	}
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "record exists")
}

func TestRun_SetupFailureIsAnError(t *testing.T) {
	s := &Scenario{
		Name:        "bad_setup",
		Description: "setup creates a record of an unknown type",
		Stores:      []StoreSpec{{Name: "data", Specs: []string{specPath(t, "disks.cue")}}},
		Setup:       []Step{{Op: OpCreate, Type: "VmHost", Data: map[string]any{"name": "h1"}}},
		Flow:        []Step{{Op: OpList, Type: "VirtualHardDisk"}},
		Assertions:  []Assertion{{Type: AssertTraceCount, Op: OpList, Count: 1}},
	}
	_, err := Run(t.Context(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "setup step 0 (create)")
}

func TestRun_BadSpecFailsStart(t *testing.T) {
	s := &Scenario{
		Name:        "bad_spec",
		Description: "the CUE file has no schema entries",
		Stores:      []StoreSpec{{Name: "data", Specs: []string{writeScenario(t, "other: 1\n")}}},
		Flow:        []Step{{Op: OpList, Type: "VirtualHardDisk"}},
		Assertions:  []Assertion{{Type: AssertTraceCount, Op: OpList, Count: 1}},
	}
	_, err := Run(t.Context(), s)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no schema entries found")
}

func TestRun_BadPathIsAStepOutcome(t *testing.T) {
	s := &Scenario{
		Name:        "bad_path",
		Description: "an unbalanced selector is rejected by the store",
		Stores:      []StoreSpec{{Name: "data", Specs: []string{specPath(t, "disks.cue")}}},
		Setup:       []Step{{Op: OpCreate, Type: "VirtualHardDisk", Data: map[string]any{"name": "d0"}}},
		Flow: []Step{{
			Op: OpResolve, Type: "VirtualHardDisk", ID: "d0", Path: "name[",
			Expect: &Expect{Error: "BAD_REQUEST"},
		}},
		Assertions: []Assertion{{Type: AssertTraceContains, Op: OpResolve, Outcome: "BAD_REQUEST"}},
	}
	result, err := Run(t.Context(), s)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
