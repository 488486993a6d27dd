// problem_service.go: gRPC service exposing a loaded problem to remote optimizers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"regexp"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProblemServiceName is the fully qualified gRPC service name.
const ProblemServiceName = "globalizer.ProblemService"

// Problem service methods. Requests and responses are google.protobuf.Struct
// messages carrying the JSON shapes below.
const (
	MethodDescribe     = "Describe"
	MethodCalculate    = "Calculate"
	MethodCalculateAll = "CalculateAll"
	MethodStartTrial   = "StartTrial"
	MethodPing         = "Ping"
)

type calculateRequest struct {
	Continuous []float64 `json:"y"`
	Discrete   []string  `json:"u,omitempty"`
	Index      int       `json:"index"`
}

type calculateResponse struct {
	Value float64 `json:"value"`
}

type calculateAllResponse struct {
	Values []float64 `json:"values"`
}

type pingResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Path   string `json:"path,omitempty"`
}

// ProblemSource yields the problem a service answers for. ModuleManager
// implements it, so a reload is picked up by the next call.
type ProblemSource interface {
	GetProblem() Problem
}

// ProblemSourceFunc adapts a function to ProblemSource.
type ProblemSourceFunc func() Problem

func (f ProblemSourceFunc) GetProblem() Problem { return f() }

// contextCalculator is implemented by problems whose evaluation honours a
// context, such as ScriptedProblem.
type contextCalculator interface {
	CalculateFunctionalsContext(ctx context.Context, y []float64, u []string, fNumber int) (float64, error)
	CalculateAllFunctionalsContext(ctx context.Context, y []float64, u []string) ([]float64, error)
}

type problemServiceServer interface {
	handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error)
}

var problemServiceDesc = grpc.ServiceDesc{
	ServiceName: ProblemServiceName,
	HandlerType: (*problemServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: MethodDescribe, Handler: problemMethodHandler(MethodDescribe)},
		{MethodName: MethodCalculate, Handler: problemMethodHandler(MethodCalculate)},
		{MethodName: MethodCalculateAll, Handler: problemMethodHandler(MethodCalculateAll)},
		{MethodName: MethodStartTrial, Handler: problemMethodHandler(MethodStartTrial)},
		{MethodName: MethodPing, Handler: problemMethodHandler(MethodPing)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "globalizer/problem_service",
}

func problemMethodHandler(method string) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		server := srv.(problemServiceServer)
		if interceptor == nil {
			return server.handle(ctx, method, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(method)}
		handler := func(ctx context.Context, req any) (any, error) {
			return server.handle(ctx, method, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func fullMethod(method string) string {
	return "/" + ProblemServiceName + "/" + method
}

// ProblemServiceStats reports service counters.
type ProblemServiceStats struct {
	RunID    string `json:"run_id"`
	Calls    int64  `json:"calls"`
	Failures int64  `json:"failures"`
	Panics   int64  `json:"panics"`
}

// ProblemService serves the problem of a ProblemSource over gRPC. Calls
// are serialized: problems are not required to be safe for concurrent use.
//
// Example usage:
//
//	manager := NewModuleManager(DefaultModuleManagerConfig())
//	if _, err := manager.InitProblem("builtin:rastrigin", ProblemOptions{Dimension: 4}); err != nil {
//	    return err
//	}
//	service := NewProblemService(manager, logger)
//	lis, _ := net.Listen("tcp", ":9100")
//	return service.Serve(ctx, lis)
type ProblemService struct {
	source  ProblemSource
	logger  Logger
	runID   string
	metrics *RecoveryMetrics

	mu sync.Mutex

	calls    atomic.Int64
	failures atomic.Int64
}

// NewProblemService creates a service answering for source.
func NewProblemService(source ProblemSource, logger any) *ProblemService {
	runID := uuid.NewString()
	return &ProblemService{
		source:  source,
		logger:  NewLogger(logger).With("component", "problem_service", "run_id", runID),
		runID:   runID,
		metrics: &RecoveryMetrics{},
	}
}

// Register attaches the service to a gRPC server.
func (s *ProblemService) Register(registrar grpc.ServiceRegistrar) {
	registrar.RegisterService(&problemServiceDesc, s)
}

// Serve runs a gRPC server on lis until ctx is cancelled, then stops it
// gracefully.
func (s *ProblemService) Serve(ctx context.Context, lis net.Listener, opts ...grpc.ServerOption) error {
	opts = append([]grpc.ServerOption{grpc.ChainUnaryInterceptor(s.recoveryInterceptor)}, opts...)
	server := grpc.NewServer(opts...)
	s.Register(server)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Serve(lis) }()
	s.logger.Info("Problem service listening", "address", lis.Addr().String())

	select {
	case <-ctx.Done():
		server.GracefulStop()
		<-errCh
		s.logger.Info("Problem service stopped")
		return nil
	case err := <-errCh:
		return err
	}
}

// Stats returns the service counters.
func (s *ProblemService) Stats() ProblemServiceStats {
	return ProblemServiceStats{
		RunID:    s.runID,
		Calls:    s.calls.Load(),
		Failures: s.failures.Load(),
		Panics:   s.metrics.Snapshot().TotalPanicsRecovered,
	}
}

// recoveryInterceptor turns a panicking problem into an Internal status.
func (s *ProblemService) recoveryInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	defer func() {
		if r := recover(); r != nil {
			MetricsRecoveryHandler(s.logger, s.metrics, "problem_service")(r, captureStack())
			err = status.Errorf(codes.Internal, "panic in %s: %v", info.FullMethod, r)
		}
	}()
	return handler(ctx, req)
}

func (s *ProblemService) handle(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	s.calls.Add(1)
	ctx = ContextWithLogger(ctx, s.logger.With("method", method))

	out, err := s.dispatch(ctx, method, req)
	if err != nil {
		s.failures.Add(1)
		LoggerFromContext(ctx).Debug("Problem call failed", "error", err)
		return nil, statusFromError(err)
	}
	resp, err := encodeStruct(out)
	if err != nil {
		s.failures.Add(1)
		return nil, statusFromError(err)
	}
	return resp, nil
}

func (s *ProblemService) dispatch(ctx context.Context, method string, req *structpb.Struct) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if method == MethodPing {
		resp := pingResponse{Status: "ok", RunID: s.runID}
		if pather, ok := s.source.(interface{ Path() string }); ok {
			resp.Path = pather.Path()
		}
		return resp, nil
	}

	problem := s.source.GetProblem()
	if problem == nil {
		return nil, NewNotInitializedError("service", method)
	}

	switch method {
	case MethodDescribe:
		return Describe(problem)

	case MethodCalculate:
		var in calculateRequest
		if err := decodeStruct(req, &in); err != nil {
			return nil, err
		}
		var value float64
		var err error
		if cc, ok := problem.(contextCalculator); ok {
			value, err = cc.CalculateFunctionalsContext(ctx, in.Continuous, in.Discrete, in.Index)
		} else {
			value, err = problem.CalculateFunctionals(in.Continuous, in.Discrete, in.Index)
		}
		return calculateResponse{Value: value}, err

	case MethodCalculateAll:
		var in calculateRequest
		if err := decodeStruct(req, &in); err != nil {
			return nil, err
		}
		var values []float64
		var err error
		if cc, ok := problem.(contextCalculator); ok {
			values, err = cc.CalculateAllFunctionalsContext(ctx, in.Continuous, in.Discrete)
		} else {
			values, err = problem.CalculateAllFunctionals(in.Continuous, in.Discrete)
		}
		return calculateAllResponse{Values: values}, err

	case MethodStartTrial:
		return problem.GetStartTrial()

	default:
		return nil, status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
}

// encodeStruct converts a JSON-tagged value into a Struct message.
func encodeStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, NewSerializationError("encode response", err)
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(data, out); err != nil {
		return nil, NewSerializationError("encode response", err)
	}
	return out, nil
}

// decodeStruct converts a Struct message into a JSON-tagged value.
func decodeStruct(in *structpb.Struct, v any) error {
	if in == nil {
		in = &structpb.Struct{}
	}
	data, err := protojson.Marshal(in)
	if err != nil {
		return NewSerializationError("decode message", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return NewSerializationError("decode message", err)
	}
	return nil
}

var problemStatusCodes = map[errors.ErrorCode]codes.Code{
	ErrCodeCapabilityUnsupported: codes.Unimplemented,
	ErrCodeNotInitialized:        codes.FailedPrecondition,
	ErrCodeAlreadyInitialized:    codes.FailedPrecondition,
	ErrCodeStartTrialAmbiguous:   codes.FailedPrecondition,
	ErrCodeInvalidDimension:      codes.InvalidArgument,
	ErrCodeInvalidPoint:          codes.InvalidArgument,
	ErrCodeInvalidFunctionIndex:  codes.InvalidArgument,
	ErrCodeDiscreteValue:         codes.InvalidArgument,
	ErrCodeInvalidParameter:      codes.InvalidArgument,
	ErrCodeSerializationError:    codes.InvalidArgument,
	ErrCodeAccessCancelled:       codes.Canceled,
	ErrCodeInterpreterFinalized:  codes.Unavailable,
}

// statusFromError encodes the structured code as a "[CODE] " message prefix.
func statusFromError(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	code := errorCode(err)
	if code == "" {
		return status.Error(codes.Unknown, err.Error())
	}
	grpcCode, ok := problemStatusCodes[code]
	if !ok {
		grpcCode = codes.Internal
	}
	return status.Error(grpcCode, fmt.Sprintf("[%s] %s", code, err.Error()))
}

var statusCodePrefix = regexp.MustCompile(`(?s)^\[([A-Z]+_[0-9]+)\] (.*)$`)

// errorFromStatus rebuilds the structured error of a failed call. Errors
// that never reached the problem become retryable transport errors.
func errorFromStatus(err error, endpoint string) error {
	st, ok := status.FromError(err)
	if !ok {
		return NewGRPCTransportError(err).WithContext("endpoint", endpoint)
	}
	if m := statusCodePrefix.FindStringSubmatch(st.Message()); m != nil {
		return NewRemoteProblemError(m[1], m[2], endpoint)
	}
	switch st.Code() {
	case codes.Unavailable, codes.DeadlineExceeded, codes.Canceled, codes.Unimplemented:
		return NewGRPCTransportError(err).WithContext("endpoint", endpoint)
	default:
		return NewEvaluationError("remote", err).WithContext("endpoint", endpoint)
	}
}
