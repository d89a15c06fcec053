package nbi

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/signalsfoundry/unifilar/core"
	"github.com/signalsfoundry/unifilar/model"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrInvalidRequest marks client-side validation failures.
var ErrInvalidRequest = errors.New("invalid request")

// requireInt reads a whole number field.
func requireInt(s *structpb.Struct, key string) (int, error) {
	v, ok := s.GetFields()[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	return toInt(key, v)
}

func optionalInt(s *structpb.Struct, key string) (*int, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	n, err := toInt(key, v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func optionalFloat(s *structpb.Struct, key string) (*float64, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || math.IsNaN(n.NumberValue) || math.IsInf(n.NumberValue, 0) {
		return nil, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
	}
	f := n.NumberValue
	return &f, nil
}

func optionalBool(s *structpb.Struct, key string) (*bool, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a boolean", ErrInvalidRequest, key)
	}
	out := b.BoolValue
	return &out, nil
}

func optionalString(s *structpb.Struct, key string) (*string, error) {
	v, ok := s.GetFields()[key]
	if !ok || isNull(v) {
		return nil, nil
	}
	str, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidRequest, key)
	}
	out := str.StringValue
	return &out, nil
}

func requireString(s *structpb.Struct, key string) (string, error) {
	str, err := optionalString(s, key)
	if err != nil {
		return "", err
	}
	if str == nil || strings.TrimSpace(*str) == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidRequest, key)
	}
	return *str, nil
}

// requirePoint reads a cell coordinate from two integer fields.
func requirePoint(s *structpb.Struct, xKey, yKey string) (model.Point, error) {
	x, err := requireInt(s, xKey)
	if err != nil {
		return model.Point{}, err
	}
	y, err := requireInt(s, yKey)
	if err != nil {
		return model.Point{}, err
	}
	return model.Pt(x, y), nil
}

func requireColor(s *structpb.Struct, key string) (model.Color, error) {
	c, err := requireString(s, key)
	if err != nil {
		return "", err
	}
	return model.Color(c), nil
}

// SparkPatchFromStruct decodes a partial spark configuration. Unknown keys
// are ignored.
func SparkPatchFromStruct(s *structpb.Struct) (core.SparkPatch, error) {
	var (
		p   core.SparkPatch
		err error
	)
	if p.Speed, err = optionalFloat(s, "speed"); err != nil {
		return p, err
	}
	if p.Size, err = optionalInt(s, "size"); err != nil {
		return p, err
	}
	color, err := optionalString(s, "color")
	if err != nil {
		return p, err
	}
	if color != nil {
		c := model.Color(*color)
		p.Color = &c
	}
	if p.Trail, err = optionalBool(s, "trail"); err != nil {
		return p, err
	}
	if p.TrailLength, err = optionalInt(s, "trailLength"); err != nil {
		return p, err
	}
	if p.IntervalMs, err = optionalInt(s, "intervalMs"); err != nil {
		return p, err
	}
	if p.MaxParticles, err = optionalInt(s, "maxParticles"); err != nil {
		return p, err
	}
	return p, nil
}

// TerminalPatchFromStruct decodes the mutable terminal attributes.
func TerminalPatchFromStruct(s *structpb.Struct) (core.TerminalPatch, error) {
	var (
		p   core.TerminalPatch
		err error
	)
	if p.Active, err = optionalBool(s, "active"); err != nil {
		return p, err
	}
	if p.Name, err = optionalString(s, "name"); err != nil {
		return p, err
	}
	color, err := optionalString(s, "color")
	if err != nil {
		return p, err
	}
	if color != nil {
		c := model.Color(*color)
		p.Color = &c
	}
	return p, nil
}

func toInt(key string, v *structpb.Value) (int, error) {
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidRequest, key)
	}
	f := n.NumberValue
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%w: %s must be a whole number", ErrInvalidRequest, key)
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, fmt.Errorf("%w: %s out of range", ErrInvalidRequest, key)
	}
	return int(f), nil
}

func isNull(v *structpb.Value) bool {
	_, ok := v.GetKind().(*structpb.Value_NullValue)
	return ok
}
