// Package chainselector implements the canonical-chain shortlist algorithm
// of spec.md §4.5: submitter-coverage filtering, weighted graph
// construction, and a deterministic BFS shortlist. Batch data is carried as
// plain slices of SubmissionRow rather than through a dataframe runtime
// (spec.md §9 design note); the graph itself is an adjacency map discarded
// at the end of the batch.
package chainselector

import (
	"sort"
	"time"
)

// SubmissionRow is one verified, error-free submission from the current
// batch, flattened from model.Submission into the columns ChainSelector
// operates on.
type SubmissionRow struct {
	StateHash       string
	ParentStateHash string
	Submitter       string
	FileName        string
	Height          int64
	Slot            int64
	Epoch           int64
	FileTimestamp   time.Time
}

// Edge is a parent -> child relation between two state hashes.
type Edge struct {
	Parent string
	Child  string
}

// PointRecord credits a submitter for landing on a canonical state hash.
type PointRecord struct {
	FileName         string
	FileTimestamp    time.Time
	Epoch            int64
	BlockProducerKey string
	Height           int64
	StateHash        string
}

// Result is the output of Select: the canonical fragment for this batch
// plus the point records it earns.
type Result struct {
	Shortlist    []Edge
	PointRecords []PointRecord
}

// Graph is a directed adjacency map keyed by state-hash string.
type Graph struct {
	nodes map[string]struct{}
	edges map[string][]string // parent -> children
}

// WeightedGraph adds a deterministic weight per (parent, child) edge.
type WeightedGraph struct {
	*Graph
	weight map[Edge]int
}

// FilterBySubmitterPercentage returns the state hashes whose coverage --
// the fraction of the batch's distinct submitters who observed them -- is
// at least threshold (spec.md §4.5 step 1). Result order is deterministic:
// ascending state-hash string.
func FilterBySubmitterPercentage(rows []SubmissionRow, threshold float64) []string {
	totalSubmitters := make(map[string]struct{})
	observers := make(map[string]map[string]struct{})

	for _, r := range rows {
		totalSubmitters[r.Submitter] = struct{}{}
		if observers[r.StateHash] == nil {
			observers[r.StateHash] = make(map[string]struct{})
		}
		observers[r.StateHash][r.Submitter] = struct{}{}
	}

	if len(totalSubmitters) == 0 {
		return nil
	}

	var selected []string
	for hash, obs := range observers {
		coverage := float64(len(obs)) / float64(len(totalSubmitters))
		if coverage >= threshold {
			selected = append(selected, hash)
		}
	}
	sort.Strings(selected)
	return selected
}

// BuildGraph constructs the batch graph per spec.md §4.5 step 2. Nodes are
// the union of prevSelected and every state hash seen in rows (both child
// and parent columns); edges are every (parent -> child) pair observed in
// rows plus every edge in prevRelations.
func BuildGraph(rows []SubmissionRow, prevSelected []string, prevRelations []Edge) *Graph {
	g := &Graph{
		nodes: make(map[string]struct{}),
		edges: make(map[string][]string),
	}

	addNode := func(h string) {
		if h == "" {
			return
		}
		g.nodes[h] = struct{}{}
	}
	addEdge := func(parent, child string) {
		if parent == "" || child == "" {
			return
		}
		for _, existing := range g.edges[parent] {
			if existing == child {
				return
			}
		}
		g.edges[parent] = append(g.edges[parent], child)
	}

	for _, h := range prevSelected {
		addNode(h)
	}
	for _, r := range rows {
		addNode(r.StateHash)
		addNode(r.ParentStateHash)
		addEdge(r.ParentStateHash, r.StateHash)
	}
	for _, e := range prevRelations {
		addNode(e.Parent)
		addNode(e.Child)
		addEdge(e.Parent, e.Child)
	}

	return g
}

// observerCounts returns, per state hash, the number of distinct
// submitters who reported it in the current batch.
func observerCounts(rows []SubmissionRow) map[string]int {
	observers := make(map[string]map[string]struct{})
	for _, r := range rows {
		if observers[r.StateHash] == nil {
			observers[r.StateHash] = make(map[string]struct{})
		}
		observers[r.StateHash][r.Submitter] = struct{}{}
	}
	counts := make(map[string]int, len(observers))
	for hash, obs := range observers {
		counts[hash] = len(obs)
	}
	return counts
}

// heightByHash returns the blockchain height submitted for each state hash
// (first occurrence wins; submissions for the same state hash agree on
// height by construction).
func heightByHash(rows []SubmissionRow) map[string]int64 {
	heights := make(map[string]int64, len(rows))
	for _, r := range rows {
		if _, ok := heights[r.StateHash]; !ok {
			heights[r.StateHash] = r.Height
		}
	}
	return heights
}

// ApplyWeights computes a deterministic weight per edge incident to
// cSelected or prevSelected, per spec.md §4.5 step 3 and SPEC_FULL.md's
// resolution of the open weighting-formula question:
//
//	weight(parent->child) = observerCount(child)*1000 - branchingPenalty + heightBonus
//
// where branchingPenalty is 100*(out-degree(parent)-1) clamped at 0 (so a
// parent with many children spreads less weight per edge, favoring
// consensus over forks) and heightBonus is 1 when child's height is
// exactly parent's height + 1 and 0 otherwise (rewards height-monotonic
// edges). Edges not incident to either selection set receive weight 0:
// they exist only to keep the graph connected for traversal, not to be
// preferred.
func ApplyWeights(g *Graph, rows []SubmissionRow, cSelected, prevSelected []string) *WeightedGraph {
	counts := observerCounts(rows)
	heights := heightByHash(rows)

	interesting := make(map[string]struct{})
	for _, h := range cSelected {
		interesting[h] = struct{}{}
	}
	for _, h := range prevSelected {
		interesting[h] = struct{}{}
	}

	weight := make(map[Edge]int)
	for parent, children := range g.edges {
		branchingPenalty := 100 * (len(children) - 1)
		if branchingPenalty < 0 {
			branchingPenalty = 0
		}
		for _, child := range children {
			e := Edge{Parent: parent, Child: child}
			_, childInteresting := interesting[child]
			_, parentInteresting := interesting[parent]
			if !childInteresting && !parentInteresting {
				weight[e] = 0
				continue
			}

			w := counts[child] * 1000
			w -= branchingPenalty

			if ph, ok := heights[parent]; ok {
				if ch, ok := heights[child]; ok && ch == ph+1 {
					w++
				}
			}
			weight[e] = w
		}
	}

	return &WeightedGraph{Graph: g, weight: weight}
}

// BFSShortlist performs the deterministic weighted traversal of spec.md
// §4.5 step 4. The FIFO queue is seeded with seeds (prevSelected ++
// cSelected); the walk starts from seeds[0] and collects only the nodes it
// reaches through chosen successors, not every reachable node. At each
// expansion only the single highest-weighted unvisited child is followed
// (ties broken by ascending state-hash string) -- this is what makes the
// shortlist a *canonical fragment* rather than every fork the batch
// observed: a parent with several children (a fork) yields one surviving
// successor, the one more submitters agree on (spec.md §4.5 step 3(i),
// §8 scenario S3: the minority branch is never added to the shortlist).
func BFSShortlist(g *WeightedGraph, seeds []string) []Edge {
	if len(seeds) == 0 {
		return nil
	}

	visited := make(map[string]bool)
	var shortlist []Edge

	// Only seeds[0] roots the traversal (spec.md §4.5 step 4: "starting
	// from the first seed"); other seeds are collected only if reachable
	// from it, matching the source implementation's single BFS root.
	queue := []string{seeds[0]}
	visited[seeds[0]] = true

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]

		children := append([]string(nil), g.edges[node]...)
		sort.Slice(children, func(i, j int) bool {
			wi := g.weight[Edge{Parent: node, Child: children[i]}]
			wj := g.weight[Edge{Parent: node, Child: children[j]}]
			if wi != wj {
				return wi > wj
			}
			return children[i] < children[j]
		})

		for _, child := range children {
			if visited[child] {
				continue
			}
			// Only the best-weighted unvisited child becomes the
			// canonical successor of node; the rest are forks and are
			// left out of the shortlist entirely.
			shortlist = append(shortlist, Edge{Parent: node, Child: child})
			visited[child] = true
			queue = append(queue, child)
			break
		}
	}

	return shortlist
}

// PruneToBatch drops any shortlisted edge whose child does not appear as a
// state_hash in the current batch's submissions (spec.md §4.5 step 5, §3
// invariant 3); prior-batch canonical anchors remain as relations only
// when they're a parent of a kept edge.
func PruneToBatch(shortlist []Edge, batchHashes map[string]bool) []Edge {
	var kept []Edge
	for _, e := range shortlist {
		if batchHashes[e.Child] {
			kept = append(kept, e)
		}
	}
	return kept
}

// PointRecords emits one point per submission whose state hash is in the
// pruned shortlist (spec.md §4.5 step 6).
func PointRecords(rows []SubmissionRow, shortlist []Edge) []PointRecord {
	canonical := make(map[string]bool, len(shortlist))
	for _, e := range shortlist {
		canonical[e.Child] = true
	}

	var records []PointRecord
	for _, r := range rows {
		if !canonical[r.StateHash] {
			continue
		}
		records = append(records, PointRecord{
			FileName:         r.FileName,
			FileTimestamp:    r.FileTimestamp,
			Epoch:            r.Epoch,
			BlockProducerKey: r.Submitter,
			Height:           r.Height,
			StateHash:        r.StateHash,
		})
	}
	return records
}

// Select composes all six steps of spec.md §4.5 into the coordinator's
// single entry point.
func Select(rows []SubmissionRow, prevSelected []string, prevRelations []Edge, threshold float64) Result {
	if len(rows) == 0 {
		return Result{}
	}

	cSelected := FilterBySubmitterPercentage(rows, threshold)
	graph := BuildGraph(rows, prevSelected, prevRelations)
	weighted := ApplyWeights(graph, rows, cSelected, prevSelected)

	seeds := append(append([]string(nil), prevSelected...), cSelected...)
	if len(seeds) == 0 {
		return Result{}
	}

	shortlist := BFSShortlist(weighted, seeds)

	batchHashes := make(map[string]bool, len(rows))
	for _, r := range rows {
		batchHashes[r.StateHash] = true
	}
	shortlist = PruneToBatch(shortlist, batchHashes)

	return Result{
		Shortlist:    shortlist,
		PointRecords: PointRecords(rows, shortlist),
	}
}
