package chainselector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterBySubmitterPercentage_UnanimousChain(t *testing.T) {
	rows := []SubmissionRow{
		{StateHash: "A", ParentStateHash: "G", Submitter: "s1", Height: 2},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s2", Height: 2},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s3", Height: 2},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s4", Height: 2},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s5", Height: 2},
	}
	selected := FilterBySubmitterPercentage(rows, 0.5)
	assert.Equal(t, []string{"A"}, selected)
}

func TestFilterBySubmitterPercentage_ForkSplit(t *testing.T) {
	// S3: 4 submitters observe A1, 1 observes A2, both parent G.
	rows := []SubmissionRow{
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s1", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s2", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s3", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s4", Height: 2},
		{StateHash: "A2", ParentStateHash: "G", Submitter: "s5", Height: 2},
	}
	selected := FilterBySubmitterPercentage(rows, 0.5)
	assert.Equal(t, []string{"A1"}, selected)
}

func TestSelect_S2_SingleChainUnanimous(t *testing.T) {
	rows := []SubmissionRow{
		{StateHash: "A", ParentStateHash: "G", Submitter: "s1", Height: 2, FileName: "f1"},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s2", Height: 2, FileName: "f2"},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s3", Height: 2, FileName: "f3"},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s4", Height: 2, FileName: "f4"},
		{StateHash: "A", ParentStateHash: "G", Submitter: "s5", Height: 2, FileName: "f5"},
	}

	result := Select(rows, []string{"G"}, nil, 0.5)

	require.Len(t, result.Shortlist, 1)
	assert.Equal(t, Edge{Parent: "G", Child: "A"}, result.Shortlist[0])
	assert.Len(t, result.PointRecords, 5)
	for _, pr := range result.PointRecords {
		assert.Equal(t, "A", pr.StateHash)
	}
}

func TestSelect_S3_ForkEightyTwenty(t *testing.T) {
	rows := []SubmissionRow{
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s1", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s2", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s3", Height: 2},
		{StateHash: "A1", ParentStateHash: "G", Submitter: "s4", Height: 2},
		{StateHash: "A2", ParentStateHash: "G", Submitter: "s5", Height: 2},
	}

	result := Select(rows, []string{"G"}, nil, 0.5)

	var children []string
	for _, e := range result.Shortlist {
		children = append(children, e.Child)
	}
	assert.Contains(t, children, "A1")
	assert.NotContains(t, children, "A2")
	assert.Len(t, result.PointRecords, 4)
}

func TestSelect_S1_EmptyWindow(t *testing.T) {
	result := Select(nil, []string{"G"}, nil, 0.5)
	assert.Empty(t, result.Shortlist)
	assert.Empty(t, result.PointRecords)
}

func TestSelect_Determinism(t *testing.T) {
	rows := []SubmissionRow{
		{StateHash: "A", ParentStateHash: "G", Submitter: "s1", Height: 2, FileTimestamp: time.Unix(1, 0)},
		{StateHash: "B", ParentStateHash: "A", Submitter: "s1", Height: 3, FileTimestamp: time.Unix(2, 0)},
		{StateHash: "B", ParentStateHash: "A", Submitter: "s2", Height: 3, FileTimestamp: time.Unix(2, 0)},
		{StateHash: "C", ParentStateHash: "A", Submitter: "s3", Height: 3, FileTimestamp: time.Unix(2, 0)},
	}

	first := Select(rows, []string{"G"}, nil, 0.25)
	second := Select(rows, []string{"G"}, nil, 0.25)

	assert.Equal(t, first.Shortlist, second.Shortlist)
	assert.Equal(t, first.PointRecords, second.PointRecords)
}

func TestPruneToBatch_DropsUnobservedHash(t *testing.T) {
	shortlist := []Edge{{Parent: "G", Child: "A"}, {Parent: "A", Child: "ghost"}}
	batchHashes := map[string]bool{"A": true}

	pruned := PruneToBatch(shortlist, batchHashes)
	require.Len(t, pruned, 1)
	assert.Equal(t, "A", pruned[0].Child)
}

func TestBuildGraph_IncludesPrevRelationsAndDedupesEdges(t *testing.T) {
	rows := []SubmissionRow{
		{StateHash: "B", ParentStateHash: "A", Submitter: "s1"},
		{StateHash: "B", ParentStateHash: "A", Submitter: "s2"},
	}
	g := BuildGraph(rows, []string{"G"}, []Edge{{Parent: "G", Child: "A"}})

	assert.ElementsMatch(t, []string{"B"}, g.edges["A"])
	assert.ElementsMatch(t, []string{"A"}, g.edges["G"])
}
