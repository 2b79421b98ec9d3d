package mcp

import (
	"context"
	"fmt"

	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/nvandessel/ragp/internal/model"
)

func (s *Server) handleStatus(ctx context.Context, req *sdk.CallToolRequest, args RagpStatusInput) (*sdk.CallToolResult, RagpStatusOutput, error) {
	return nil, RagpStatusOutput{Status: s.engine.Status()}, nil
}

func (s *Server) handleConnections(ctx context.Context, req *sdk.CallToolRequest, args RagpConnectionsInput) (*sdk.CallToolResult, RagpConnectionsOutput, error) {
	conns, err := s.engine.GetConnections(model.NodeID(args.Sender))
	if err != nil {
		return nil, RagpConnectionsOutput{}, err
	}
	return nil, RagpConnectionsOutput{Sender: args.Sender, Connections: conns}, nil
}

func (s *Server) handleStimulate(ctx context.Context, req *sdk.CallToolRequest, args RagpStimulateInput) (*sdk.CallToolResult, RagpStimulateOutput, error) {
	if len(args.Stimuli) == 0 {
		return nil, RagpStimulateOutput{}, fmt.Errorf("'stimuli' parameter is required")
	}

	batch := make([]model.Stimulus, len(args.Stimuli))
	for i, st := range args.Stimuli {
		source := st.Source
		if source == "" {
			source = "mcp"
		}
		batch[i] = model.Stimulus{
			Node:     model.NodeID(st.Node),
			Strength: st.Strength,
			Source:   source,
		}
	}

	res, err := s.engine.SubmitStimuli(batch)
	if err != nil {
		return nil, RagpStimulateOutput{}, err
	}
	return nil, RagpStimulateOutput{Result: res}, nil
}

func (s *Server) handleUpdateWeight(ctx context.Context, req *sdk.CallToolRequest, args RagpUpdateWeightInput) (*sdk.CallToolResult, RagpUpdateWeightOutput, error) {
	err := s.engine.UpdateWeight(model.NodeID(args.Sender), model.NodeID(args.Receiver), args.Weight)
	if err != nil {
		return nil, RagpUpdateWeightOutput{}, err
	}
	return nil, RagpUpdateWeightOutput{OK: true}, nil
}

func (s *Server) handleComputeCD(ctx context.Context, req *sdk.CallToolRequest, args RagpComputeCDInput) (*sdk.CallToolResult, RagpComputeCDOutput, error) {
	ctxNodes := make([]model.NodeID, len(args.Context))
	for i, id := range args.Context {
		ctxNodes[i] = model.NodeID(id)
	}
	scores, err := s.engine.ComputeCD(model.NodeID(args.Stimulus), ctxNodes)
	if err != nil {
		return nil, RagpComputeCDOutput{}, err
	}
	return nil, RagpComputeCDOutput{Scores: scores}, nil
}

func (s *Server) handleConsolidate(ctx context.Context, req *sdk.CallToolRequest, args RagpConsolidateInput) (*sdk.CallToolResult, RagpConsolidateOutput, error) {
	res, err := s.engine.Consolidate()
	if err != nil {
		return nil, RagpConsolidateOutput{}, err
	}
	return nil, RagpConsolidateOutput{Result: res}, nil
}

func (s *Server) handleActivation(ctx context.Context, req *sdk.CallToolRequest, args RagpActivationInput) (*sdk.CallToolResult, RagpActivationOutput, error) {
	active := s.engine.GetActivation()
	if args.Limit > 0 && len(active) > args.Limit {
		active = active[:args.Limit]
	}
	return nil, RagpActivationOutput{Active: active}, nil
}

func (s *Server) handleBackup(ctx context.Context, req *sdk.CallToolRequest, args RagpBackupInput) (*sdk.CallToolResult, RagpBackupOutput, error) {
	if args.Path == "" {
		return nil, RagpBackupOutput{}, fmt.Errorf("'path' parameter is required")
	}
	header, err := s.engine.ExportBackup(args.Path)
	if err != nil {
		return nil, RagpBackupOutput{}, err
	}
	return nil, RagpBackupOutput{
		Path:      args.Path,
		NodeCount: header.NodeCount,
		EdgeCount: header.EdgeCount,
	}, nil
}
