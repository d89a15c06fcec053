package nbi

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/internal/logging"
	sim "github.com/signalsfoundry/unifilar/internal/sim/state"
	"github.com/signalsfoundry/unifilar/model"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// DiagramServiceName is the fully qualified gRPC service name.
const DiagramServiceName = "unifilar.v1.DiagramService"

// DiagramServiceServer is the server API for the diagram service. Every
// payload is a well-known type; field names follow the Frame JSON form.
type DiagramServiceServer interface {
	GetFrame(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	ListRoutes(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Paint(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Erase(context.Context, *structpb.Struct) (*structpb.Struct, error)
	FloodFill(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EraseArea(context.Context, *structpb.Struct) (*structpb.Struct, error)
	TranslateGroup(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Clear(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	AddTerminal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RemoveTerminal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateTerminal(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSparkConfig(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetLineWidth(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Start(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Stop(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Export(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	Import(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func newEmpty() *emptypb.Empty    { return new(emptypb.Empty) }
func newStruct() *structpb.Struct { return new(structpb.Struct) }

// DiagramServiceDesc describes DiagramService for grpc.Server.RegisterService.
var DiagramServiceDesc = grpc.ServiceDesc{
	ServiceName: DiagramServiceName,
	HandlerType: (*DiagramServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("GetFrame", newEmpty, DiagramServiceServer.GetFrame),
		unaryMethod("ListRoutes", newEmpty, DiagramServiceServer.ListRoutes),
		unaryMethod("Paint", newStruct, DiagramServiceServer.Paint),
		unaryMethod("Erase", newStruct, DiagramServiceServer.Erase),
		unaryMethod("FloodFill", newStruct, DiagramServiceServer.FloodFill),
		unaryMethod("EraseArea", newStruct, DiagramServiceServer.EraseArea),
		unaryMethod("TranslateGroup", newStruct, DiagramServiceServer.TranslateGroup),
		unaryMethod("Clear", newEmpty, DiagramServiceServer.Clear),
		unaryMethod("AddTerminal", newStruct, DiagramServiceServer.AddTerminal),
		unaryMethod("RemoveTerminal", newStruct, DiagramServiceServer.RemoveTerminal),
		unaryMethod("UpdateTerminal", newStruct, DiagramServiceServer.UpdateTerminal),
		unaryMethod("SetSparkConfig", newStruct, DiagramServiceServer.SetSparkConfig),
		unaryMethod("SetLineWidth", newStruct, DiagramServiceServer.SetLineWidth),
		unaryMethod("Start", newEmpty, DiagramServiceServer.Start),
		unaryMethod("Stop", newEmpty, DiagramServiceServer.Stop),
		unaryMethod("Export", newEmpty, DiagramServiceServer.Export),
		unaryMethod("Import", newStruct, DiagramServiceServer.Import),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "unifilar/v1/diagram.proto",
}

// RegisterDiagramServiceServer attaches srv to s.
func RegisterDiagramServiceServer(s grpc.ServiceRegistrar, srv DiagramServiceServer) {
	s.RegisterService(&DiagramServiceDesc, srv)
}

func unaryMethod[Req proto.Message](
	name string,
	newReq func() Req,
	call func(DiagramServiceServer, context.Context, Req) (*structpb.Struct, error),
) grpc.MethodDesc {
	fullMethod := "/" + DiagramServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			impl := srv.(DiagramServiceServer)
			if interceptor == nil {
				return call(impl, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(impl, ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// DiagramService implements DiagramServiceServer over a DiagramState.
type DiagramService struct {
	state *sim.DiagramState
	log   logging.Logger
}

// NewDiagramService constructs a DiagramService bound to state.
func NewDiagramService(state *sim.DiagramState, log logging.Logger) *DiagramService {
	return &DiagramService{
		state: state,
		log:   logging.OrNoop(log),
	}
}

// GetFrame returns the current render snapshot.
func (s *DiagramService) GetFrame(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	return toStruct(s.state.Frame())
}

type routeJSON struct {
	EmitterID  string   `json:"emitterId"`
	ReceptorID string   `json:"receptorId"`
	Cells      [][2]int `json:"cells"`
}

// ListRoutes returns every shortest route in the current topology.
func (s *DiagramService) ListRoutes(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	routes := s.state.Routes()
	out := make([]routeJSON, len(routes))
	for i, r := range routes {
		cells := make([][2]int, len(r.Cells))
		for j, c := range r.Cells {
			cells[j] = [2]int{c.X, c.Y}
		}
		out[i] = routeJSON{EmitterID: r.EmitterID, ReceptorID: r.ReceptorID, Cells: cells}
	}
	return toStruct(struct {
		TopologyVersion uint64      `json:"topologyVersion"`
		Routes          []routeJSON `json:"routes"`
	}{s.state.TopologyVersion(), out})
}

// Paint paints one cell at (x, y). When toX and toY are present it paints a
// straight stroke instead, locked to the dominant axis.
func (s *DiagramService) Paint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(err)
	}
	color, err := requireColor(in, "color")
	if err != nil {
		return nil, ToStatusError(err)
	}

	painted := 1
	if _, ok := in.GetFields()["toX"]; ok {
		to, err := requirePoint(in, "toX", "toY")
		if err != nil {
			return nil, ToStatusError(err)
		}
		painted = len(s.state.PaintLine(ctx, p, to, color))
	} else {
		s.state.Paint(ctx, p, color)
	}
	return s.versioned(map[string]any{"painted": painted})
}

// Erase removes the cell at (x, y).
func (s *DiagramService) Erase(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.versioned(map[string]any{"erased": s.state.Erase(ctx, p)})
}

// FloodFill recolours the same-coloured component containing (x, y).
func (s *DiagramService) FloodFill(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(err)
	}
	color, err := requireColor(in, "color")
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.versioned(map[string]any{"filled": len(s.state.FloodFill(ctx, p, color))})
}

// EraseArea removes every cell inside the rectangle (x1, y1)-(x2, y2).
func (s *DiagramService) EraseArea(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	a, err := requirePoint(in, "x1", "y1")
	if err != nil {
		return nil, ToStatusError(err)
	}
	b, err := requirePoint(in, "x2", "y2")
	if err != nil {
		return nil, ToStatusError(err)
	}
	return s.versioned(map[string]any{"erased": s.state.EraseArea(ctx, a, b)})
}

// TranslateGroup moves the connected component containing (x, y) by
// (dx, dy).
func (s *DiagramService) TranslateGroup(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(err)
	}
	delta, err := requirePoint(in, "dx", "dy")
	if err != nil {
		return nil, ToStatusError(err)
	}
	group := s.state.ConnectedComponent(p)
	if len(group) == 0 {
		return nil, ToStatusError(fmt.Errorf("%w: no painted cell at %v", ErrInvalidRequest, p))
	}
	moved := s.state.TranslateGroup(ctx, group, delta.X, delta.Y)
	return s.versioned(map[string]any{"moved": moved, "cells": len(group)})
}

// Clear removes every cell and text; terminals stay, stale.
func (s *DiagramService) Clear(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	s.state.Clear(ctx)
	return s.versioned(map[string]any{})
}

// AddTerminal binds an emitter or receptor to the painted cell at (x, y).
func (s *DiagramService) AddTerminal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(err)
	}
	rawKind, err := requireString(in, "kind")
	if err != nil {
		return nil, ToStatusError(err)
	}
	kind, ok := model.ParseTerminalKind(rawKind)
	if !ok {
		return nil, ToStatusError(fmt.Errorf("%w: %q", sim.ErrInvalidTerminalKind, rawKind))
	}

	t, err := s.state.AddTerminal(ctx, p, kind)
	if err != nil {
		return nil, ToStatusError(err)
	}
	logging.FromContext(ctx, s.log).Info(ctx, "terminal added",
		logging.String("terminal_id", t.ID),
		logging.String("kind", string(t.Kind)),
		logging.String("cell", p.Key()),
	)
	return terminalStruct(t)
}

// RemoveTerminal deletes a terminal by id, or the terminal at (x, y) when
// no id is given.
func (s *DiagramService) RemoveTerminal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := optionalString(in, "id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	if id != nil {
		ctx, span := StartChildSpan(ctx, "Diagram/RemoveTerminal/registry", *id)
		defer span.End()
		if err := s.state.RemoveTerminal(ctx, *id); err != nil {
			span.RecordError(err)
			return nil, ToStatusError(err)
		}
		return s.versioned(map[string]any{"removed": true})
	}

	p, err := requirePoint(in, "x", "y")
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: id or x/y is required", ErrInvalidRequest))
	}
	if !s.state.RemoveTerminalAt(ctx, p) {
		return nil, ToStatusError(fmt.Errorf("%w: at %v", sim.ErrTerminalNotFound, p))
	}
	return s.versioned(map[string]any{"removed": true})
}

// UpdateTerminal patches active, name and color of terminal id.
func (s *DiagramService) UpdateTerminal(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	id, err := requireString(in, "id")
	if err != nil {
		return nil, ToStatusError(err)
	}
	patch, err := TerminalPatchFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	t, err := s.state.UpdateTerminal(ctx, id, patch)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return terminalStruct(t)
}

// SetSparkConfig merges the given fields into the spark configuration and
// returns the clamped result.
func (s *DiagramService) SetSparkConfig(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	patch, err := SparkPatchFromStruct(in)
	if err != nil {
		return nil, ToStatusError(err)
	}
	return sparkStruct(s.state.SetSparkConfig(ctx, patch))
}

// SetLineWidth changes the stroke width, which is also the cell size of the
// rendered frame.
func (s *DiagramService) SetLineWidth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	w, err := requireInt(in, "width")
	if err != nil {
		return nil, ToStatusError(err)
	}
	return structpb.NewStruct(map[string]any{"width": s.state.SetLineWidth(ctx, w)})
}

// Start begins emission. It fails when no active emitter or no receptor is
// placed on a painted cell.
func (s *DiagramService) Start(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	if err := s.state.Start(ctx); err != nil {
		return nil, ToStatusError(err)
	}
	return structpb.NewStruct(map[string]any{"running": true})
}

// Stop halts emission and clears every particle.
func (s *DiagramService) Stop(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	s.state.Stop(ctx)
	return structpb.NewStruct(map[string]any{"running": false})
}

// Export returns the versioned export document.
func (s *DiagramService) Export(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	data, err := s.state.Export(ctx)
	if err != nil {
		return nil, ToStatusError(err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode export: %v", err)
	}
	return out, nil
}

// Import replaces the diagram with the given document. Legacy, versioned
// and storage forms are all accepted.
func (s *DiagramService) Import(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return nil, ToStatusError(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}
	ctx, span := StartChildSpan(ctx, "Diagram/Import/replace", "", attribute.Int("document_bytes", len(data)))
	defer span.End()
	if err := s.state.Import(ctx, data); err != nil {
		span.RecordError(err)
		return nil, ToStatusError(err)
	}
	d := s.state.Snapshot()
	return s.versioned(map[string]any{
		"cells":     len(d.Cells),
		"terminals": len(d.Terminals),
	})
}

func (s *DiagramService) versioned(fields map[string]any) (*structpb.Struct, error) {
	fields["topologyVersion"] = s.state.TopologyVersion()
	return structpb.NewStruct(fields)
}

func (s *DiagramService) ensureReady() error {
	if s == nil || s.state == nil {
		return status.Error(codes.FailedPrecondition, "diagram state is not configured")
	}
	return nil
}

func terminalStruct(t *model.Terminal) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":         t.ID,
		"kind":       string(t.Kind),
		"name":       t.Name,
		"x":          t.X,
		"y":          t.Y,
		"color":      string(t.Color),
		"active":     t.Active,
		"intervalMs": t.IntervalMs,
	})
}

func sparkStruct(c core.SparkConfig) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"speed":        c.Speed,
		"size":         c.Size,
		"color":        string(c.Color),
		"trail":        c.Trail,
		"trailLength":  c.TrailLength,
		"intervalMs":   c.IntervalMs,
		"maxParticles": c.MaxParticles,
	})
}

func toStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out := new(structpb.Struct)
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}
