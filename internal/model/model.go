// Package model holds the plain record types shared by every coordinator
// subsystem. Per SPEC_FULL.md's design notes, batch data is carried as
// slices of small structs rather than through a tabular/dataframe runtime.
package model

import "time"

// Submission is an immutable record produced by the upstream verifier
// pipeline. Only submissions with Verified true and an empty
// ValidationError participate in chain selection.
type Submission struct {
	SubmittedAtDate    time.Time
	SubmittedAt        time.Time
	Submitter          string
	CreatedAt          time.Time
	BlockHash          string
	StateHash          string
	Parent             string
	Height             int64
	Slot               int64
	RemoteAddr         string
	PeerID             string
	GraphQLControlPort string
	BuiltWithCommitSHA string
	ValidationError    string
	Verified           bool
}

// IsValid reports whether the submission is eligible for chain selection:
// verified and free of a validation error. An empty-string error is treated
// as equivalent to no error (SPEC_FULL.md open question 4).
func (s Submission) IsValid() bool {
	return s.Verified && s.ValidationError == ""
}

// Node is a block producer identified by its public key.
type Node struct {
	BlockProducerKey string
	UpdatedAt        time.Time
}

// BotLog anchors one processed batch; per-batch derivative rows join to it
// by BotLogID. FilesProcessed of -1 denotes the administrative seed row.
type BotLog struct {
	ID               int64
	ProcessingTime   float64
	FilesProcessed   int
	FileTimestamps   time.Time
	BatchStartEpoch  float64
	BatchEndEpoch    float64
}

// StatehashResult is the canonical fragment chosen for a batch.
type StatehashResult struct {
	BotLogID        int64
	StateHash       string
	ParentStateHash string
}

// PointRecord credits one submission landing on a canonical state hash.
type PointRecord struct {
	FileName         string
	FileTimestamps   time.Time
	BlockchainEpoch  int64
	BlockProducerKey string
	BlockchainHeight int64
	Amount           int
	CreatedAt        time.Time
	BotLogID         int64
	StateHash        string
}

// TimeInterval is a left-closed, right-open window [Start, End).
type TimeInterval struct {
	Start time.Time
	End   time.Time
}
