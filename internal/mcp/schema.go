package mcp

import (
	"github.com/nvandessel/ragp/internal/engine"
	"github.com/nvandessel/ragp/internal/model"
	"github.com/nvandessel/ragp/internal/runtime"
)

// RagpStatusInput is the input schema for the ragp_status tool.
type RagpStatusInput struct{}

// RagpStatusOutput wraps the engine status.
type RagpStatusOutput struct {
	Status engine.Status `json:"status"`
}

// RagpConnectionsInput selects a sender to inspect.
type RagpConnectionsInput struct {
	Sender uint64 `json:"sender" jsonschema:"the sender node ID"`
}

// RagpConnectionsOutput lists the sender's effective outgoing synapses.
type RagpConnectionsOutput struct {
	Sender      uint64             `json:"sender"`
	Connections []model.Connection `json:"connections"`
}

// StimulusItem is one batch entry for ragp_stimulate.
type StimulusItem struct {
	Node     uint64  `json:"node" jsonschema:"the target node ID"`
	Strength float32 `json:"strength" jsonschema:"stimulus strength in [0,1]"`
	Source   string  `json:"source,omitempty" jsonschema:"the producing source, e.g. mic"`
}

// RagpStimulateInput submits a stimulus batch.
type RagpStimulateInput struct {
	Stimuli []StimulusItem `json:"stimuli" jsonschema:"the stimulus batch"`
}

// RagpStimulateOutput reports batch acceptance.
type RagpStimulateOutput struct {
	Result runtime.BatchResult `json:"result"`
}

// RagpUpdateWeightInput sets one edge weight.
type RagpUpdateWeightInput struct {
	Sender   uint64  `json:"sender" jsonschema:"the sender node ID"`
	Receiver uint64  `json:"receiver" jsonschema:"the receiver node ID"`
	Weight   float32 `json:"weight" jsonschema:"the new weight in [0,1]; 0 removes the edge"`
}

// RagpUpdateWeightOutput acknowledges the write.
type RagpUpdateWeightOutput struct {
	OK bool `json:"ok"`
}

// RagpComputeCDInput scores candidate actions.
type RagpComputeCDInput struct {
	Stimulus uint64   `json:"stimulus" jsonschema:"the triggering stimulus node ID"`
	Context  []uint64 `json:"context,omitempty" jsonschema:"context node IDs framing the decision"`
}

// RagpComputeCDOutput returns ranked action scores.
type RagpComputeCDOutput struct {
	Scores []model.ActionScore `json:"scores"`
}

// RagpConsolidateInput triggers consolidation.
type RagpConsolidateInput struct{}

// RagpConsolidateOutput reports the merge.
type RagpConsolidateOutput struct {
	Result engine.ConsolidateResult `json:"result"`
}

// RagpActivationInput requests the activation snapshot.
type RagpActivationInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"maximum entries to return (default all)"`
}

// RagpActivationOutput lists active nodes by activation descending.
type RagpActivationOutput struct {
	Active []model.ActiveNode `json:"active"`
}

// RagpBackupInput exports a graph snapshot.
type RagpBackupInput struct {
	Path string `json:"path" jsonschema:"destination file path for the snapshot"`
}

// RagpBackupOutput reports the export.
type RagpBackupOutput struct {
	Path      string `json:"path"`
	NodeCount int    `json:"node_count"`
	EdgeCount int    `json:"edge_count"`
}
