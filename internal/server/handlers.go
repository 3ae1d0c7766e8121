package server

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/missionctl/internal/audit"
	"github.com/ppiankov/missionctl/internal/ledger"
)

// Service implements MissionServiceServer over a ledger and an audit
// trail. A nil trail makes the audit methods unavailable.
type Service struct {
	ledger *ledger.Ledger
	trail  *audit.Trail
}

// NewService returns the read API service.
func NewService(l *ledger.Ledger, trail *audit.Trail) *Service {
	return &Service{ledger: l, trail: trail}
}

var _ MissionServiceServer = (*Service)(nil)

// GetRun returns {"run": MissionRun} for {"run_id"}.
func (s *Service) GetRun(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireString(in, "run_id")
	if err != nil {
		return nil, err
	}
	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"run": run})
}

// ListRuns returns {"runs": [...]} newest first for an optional {"limit"}.
func (s *Service) ListRuns(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runs, err := s.ledger.ListRuns(ctx, intField(in, "limit"))
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"runs": runs})
}

// GetTimeline returns {"run", "events"} for {"run_id"}.
func (s *Service) GetTimeline(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	runID, err := requireString(in, "run_id")
	if err != nil {
		return nil, err
	}
	run, err := s.ledger.GetRun(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	events, err := s.ledger.GetTimeline(ctx, runID)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"run": run, "events": events})
}

// QueryAudit returns {"entries": [...]} newest first, filtered by the
// optional action, target, from, to (RFC 3339) and limit fields.
func (s *Service) QueryAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.trail == nil {
		return nil, status.Error(codes.FailedPrecondition, "audit trail is not configured")
	}
	f := audit.Filter{
		Action: stringField(in, "action"),
		Target: stringField(in, "target"),
		Limit:  intField(in, "limit"),
	}
	var err error
	if f.From, err = timeField(in, "from"); err != nil {
		return nil, err
	}
	if f.To, err = timeField(in, "to"); err != nil {
		return nil, err
	}
	entries, err := s.trail.Query(ctx, f)
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(map[string]any{"entries": entries})
}

// VerifyAudit returns the hash chain verification result.
func (s *Service) VerifyAudit(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if s.trail == nil {
		return nil, status.Error(codes.FailedPrecondition, "audit trail is not configured")
	}
	return toStruct(s.trail.VerifyIntegrity(ctx))
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, ledger.ErrRunNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}

func requireString(in *structpb.Struct, name string) (string, error) {
	v := stringField(in, name)
	if v == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s is required", name)
	}
	return v, nil
}

func intField(in *structpb.Struct, name string) int {
	return int(in.GetFields()[name].GetNumberValue())
}

func timeField(in *structpb.Struct, name string) (time.Time, error) {
	v := stringField(in, name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, status.Errorf(codes.InvalidArgument, "%s must be RFC 3339: %v", name, err)
	}
	return t, nil
}
