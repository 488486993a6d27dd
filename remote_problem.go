// remote_problem.go: Problem adapter forwarding evaluations to a remote problem service
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package globalizer

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// RemoteTLSConfig enables TLS towards the problem service. Leaving every
// field empty keeps the connection in plaintext.
type RemoteTLSConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	CertFile string `json:"cert_file,omitempty" yaml:"cert_file,omitempty"`
	KeyFile  string `json:"key_file,omitempty" yaml:"key_file,omitempty"`
	CAFile   string `json:"ca_file,omitempty" yaml:"ca_file,omitempty"`
}

// RemoteProblemConfig configures a RemoteProblem.
type RemoteProblemConfig struct {
	Endpoint       string               `json:"endpoint" yaml:"endpoint"`
	CallTimeout    time.Duration        `json:"call_timeout" yaml:"call_timeout"`
	MaxMessageSize int                  `json:"max_message_size" yaml:"max_message_size"`
	TLS            RemoteTLSConfig      `json:"tls" yaml:"tls"`
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`

	// DialOptions are appended after the defaults; tests use them to dial
	// an in-memory listener.
	DialOptions []grpc.DialOption `json:"-" yaml:"-"`

	Logger any `json:"-" yaml:"-"`
}

// DefaultRemoteProblemConfig returns plaintext settings with a 10s call
// timeout and the default circuit breaker.
func DefaultRemoteProblemConfig() RemoteProblemConfig {
	return RemoteProblemConfig{
		CallTimeout:    10 * time.Second,
		MaxMessageSize: 4 * 1024 * 1024, // 4MB
		CircuitBreaker: DefaultCircuitBreakerConfig(),
	}
}

// RemoteProblem is a Problem served by a ProblemService on another process
// or host. The endpoint comes from SetConfigPath or the "endpoint"
// parameter. Initialize fetches the problem metadata once; metadata queries
// are then answered locally and only evaluations and start trials travel.
//
// The remote side owns the problem configuration: SetDimension is accepted
// before Initialize only as an expectation, and Initialize fails when the
// remote dimension differs.
//
// Example usage:
//
//	problem := NewRemoteProblem(DefaultRemoteProblemConfig())
//	_ = problem.SetConfigPath("optim-worker:9100")
//	if err := problem.Initialize(); err != nil {
//	    return err
//	}
//	defer problem.Close()
//	value, err := problem.CalculateFunctionals(y, nil, 0)
type RemoteProblem struct {
	ProblemBase

	config  RemoteProblemConfig
	logger  Logger
	breaker *CircuitBreaker

	expectedDimension int

	connMu sync.Mutex
	conn   *grpc.ClientConn
	info   ProblemInfo
}

// NewRemoteProblem creates an unconnected remote problem.
func NewRemoteProblem(config RemoteProblemConfig) *RemoteProblem {
	defaults := DefaultRemoteProblemConfig()
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaults.CallTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}

	p := &RemoteProblem{
		ProblemBase: NewProblemBase("remote", 1, int(^uint(0)>>1), 0),
		config:      config,
		logger:      NewLogger(config.Logger).With("component", "remote_problem"),
		breaker:     NewCircuitBreaker(config.CircuitBreaker),
	}
	p.RegisterParameter("endpoint", config.Endpoint, func(v string) error {
		p.config.Endpoint = v
		return nil
	})
	p.RegisterParameter("call_timeout", config.CallTimeout.String(), func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return NewInvalidParameterError("call_timeout", v, err)
		}
		p.config.CallTimeout = d
		return nil
	})
	return p
}

// SetLogger replaces the logger.
func (p *RemoteProblem) SetLogger(logger any) {
	p.logger = NewLogger(logger).With("component", "remote_problem")
}

// Endpoint returns the configured service address.
func (p *RemoteProblem) Endpoint() string {
	return p.config.Endpoint
}

// BreakerStats returns the circuit breaker counters.
func (p *RemoteProblem) BreakerStats() CircuitBreakerStats {
	return p.breaker.GetStats()
}

// SetConfigPath sets the service endpoint.
func (p *RemoteProblem) SetConfigPath(path string) error {
	return p.SetParameter("endpoint", path)
}

// SetDimension records the dimension the remote problem is expected to have.
func (p *RemoteProblem) SetDimension(dimension int) error {
	if p.IsInitialized() {
		return NewAlreadyInitializedError(p.Name)
	}
	if dimension < 1 {
		return NewInvalidDimensionError(dimension, 1, p.MaxDimension)
	}
	p.expectedDimension = dimension
	p.dimension = dimension
	return nil
}

// SetParameter applies "endpoint" or "call_timeout" before Initialize.
func (p *RemoteProblem) SetParameter(name, value string) error {
	if p.IsInitialized() {
		return NewAlreadyInitializedError(p.Name)
	}
	return p.ProblemBase.SetParameter(name, value)
}

// GetParameters lists the local settings followed by the remote problem's
// parameters, prefixed with "remote.".
func (p *RemoteProblem) GetParameters() []Parameter {
	params := p.ProblemBase.GetParameters()
	for _, param := range p.info.Parameters {
		params = append(params, Parameter{Name: "remote." + param.Name, Value: param.Value})
	}
	return params
}

// Initialize connects and caches the remote metadata.
func (p *RemoteProblem) Initialize() error {
	return p.InitializeContext(context.Background())
}

// InitializeContext is Initialize bounded by ctx.
func (p *RemoteProblem) InitializeContext(ctx context.Context) error {
	if p.IsInitialized() {
		return NewAlreadyInitializedError(p.Name)
	}
	if p.config.Endpoint == "" {
		return NewInvalidParameterError("endpoint", "", nil)
	}

	var info ProblemInfo
	if err := p.call(ctx, MethodDescribe, struct{}{}, &info); err != nil {
		return err
	}
	if p.expectedDimension > 0 && info.Dimension != p.expectedDimension {
		return NewInvalidDimensionError(p.expectedDimension, info.Dimension, info.Dimension)
	}
	if err := p.ProblemBase.Initialize(); err != nil {
		return err
	}

	p.info = info
	p.dimension = info.Dimension
	p.discreteCount = info.Discrete
	p.logger.Info("Remote problem initialized",
		"endpoint", p.config.Endpoint,
		"dimension", info.Dimension,
		"functions", info.Functions)
	return nil
}

// Info returns the cached remote metadata.
func (p *RemoteProblem) Info() (ProblemInfo, error) {
	if err := p.RequireInitialized("Info"); err != nil {
		return ProblemInfo{}, err
	}
	return p.info, nil
}

func (p *RemoteProblem) GetBounds() ([]float64, []float64, error) {
	if err := p.RequireInitialized("GetBounds"); err != nil {
		return nil, nil, err
	}
	return append([]float64(nil), p.info.Lower...), append([]float64(nil), p.info.Upper...), nil
}

func (p *RemoteProblem) GetOptimumValue() (float64, error) {
	if err := p.RequireInitialized("GetOptimumValue"); err != nil {
		return 0, err
	}
	if p.info.OptimumValue == nil {
		return 0, NewCapabilityUnsupportedError("GetOptimumValue")
	}
	return *p.info.OptimumValue, nil
}

func (p *RemoteProblem) GetOptimumPoint() (Point, error) {
	if err := p.RequireInitialized("GetOptimumPoint"); err != nil {
		return Point{}, err
	}
	if p.info.OptimumPoint == nil {
		return Point{}, NewCapabilityUnsupportedError("GetOptimumPoint")
	}
	return p.info.OptimumPoint.Clone(), nil
}

func (p *RemoteProblem) GetNumberOfFunctions() (int, error) {
	if err := p.RequireInitialized("GetNumberOfFunctions"); err != nil {
		return 0, err
	}
	return p.info.Functions, nil
}

func (p *RemoteProblem) GetNumberOfConstraints() (int, error) {
	if err := p.RequireInitialized("GetNumberOfConstraints"); err != nil {
		return 0, err
	}
	return p.info.Constraints, nil
}

func (p *RemoteProblem) GetNumberOfCriterions() (int, error) {
	if err := p.RequireInitialized("GetNumberOfCriterions"); err != nil {
		return 0, err
	}
	return p.info.Criterions, nil
}

func (p *RemoteProblem) GetDiscreteVariableValues() ([][]string, error) {
	if err := p.RequireInitialized("GetDiscreteVariableValues"); err != nil {
		return nil, err
	}
	if p.info.Discrete == 0 || p.info.DiscreteValues == nil {
		return nil, NewCapabilityUnsupportedError("GetDiscreteVariableValues")
	}
	out := make([][]string, len(p.info.DiscreteValues))
	for i, domain := range p.info.DiscreteValues {
		out[i] = append([]string(nil), domain...)
	}
	return out, nil
}

func (p *RemoteProblem) CalculateFunctionals(y []float64, u []string, fNumber int) (float64, error) {
	return p.CalculateFunctionalsContext(context.Background(), y, u, fNumber)
}

// CalculateFunctionalsContext evaluates one functional remotely. The point
// layout and index are checked before anything is sent.
func (p *RemoteProblem) CalculateFunctionalsContext(ctx context.Context, y []float64, u []string, fNumber int) (float64, error) {
	if err := p.RequireInitialized("CalculateFunctionals"); err != nil {
		return 0, err
	}
	if err := p.ValidatePoint(y, u); err != nil {
		return 0, err
	}
	if err := p.ValidateFunctionIndex(fNumber, p.info.Functions); err != nil {
		return 0, err
	}
	var resp calculateResponse
	req := calculateRequest{Continuous: y, Discrete: u, Index: fNumber}
	if err := p.call(ctx, MethodCalculate, req, &resp); err != nil {
		return 0, err
	}
	return resp.Value, nil
}

func (p *RemoteProblem) CalculateAllFunctionals(y []float64, u []string) ([]float64, error) {
	return p.CalculateAllFunctionalsContext(context.Background(), y, u)
}

// CalculateAllFunctionalsContext evaluates every functional in one round trip.
func (p *RemoteProblem) CalculateAllFunctionalsContext(ctx context.Context, y []float64, u []string) ([]float64, error) {
	if err := p.RequireInitialized("CalculateAllFunctionals"); err != nil {
		return nil, err
	}
	if err := p.ValidatePoint(y, u); err != nil {
		return nil, err
	}
	var resp calculateAllResponse
	req := calculateRequest{Continuous: y, Discrete: u}
	if err := p.call(ctx, MethodCalculateAll, req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Values) != p.info.Functions {
		return nil, NewSerializationError(
			fmt.Sprintf("expected %d values, got %d", p.info.Functions, len(resp.Values)), nil)
	}
	return resp.Values, nil
}

func (p *RemoteProblem) GetStartTrial() (Trial, error) {
	if err := p.RequireInitialized("GetStartTrial"); err != nil {
		return Trial{}, err
	}
	var trial Trial
	if err := p.call(context.Background(), MethodStartTrial, struct{}{}, &trial); err != nil {
		return Trial{}, err
	}
	return trial, nil
}

// Ping checks that the service answers. It works before Initialize.
func (p *RemoteProblem) Ping(ctx context.Context) error {
	var resp pingResponse
	if err := p.call(ctx, MethodPing, struct{}{}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return NewHealthCheckFailedError(p.config.Endpoint, fmt.Errorf("status %q", resp.Status))
	}
	return nil
}

// Close releases the connection. The problem cannot be used afterwards.
func (p *RemoteProblem) Close() error {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn == nil {
		return nil
	}
	err := p.conn.Close()
	p.conn = nil
	p.info = ProblemInfo{}
	p.initialized = false
	return err
}

// call sends req through the circuit breaker and decodes the reply into resp.
func (p *RemoteProblem) call(ctx context.Context, method string, req, resp any) error {
	conn, err := p.connection()
	if err != nil {
		return err
	}
	in, err := encodeStruct(req)
	if err != nil {
		return err
	}

	return p.breaker.Execute(p.config.Endpoint, func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.config.CallTimeout)
		defer cancel()

		out := &structpb.Struct{}
		if err := conn.Invoke(callCtx, fullMethod(method), in, out); err != nil {
			return errorFromStatus(err, p.config.Endpoint)
		}
		return decodeStruct(out, resp)
	})
}

func (p *RemoteProblem) connection() (*grpc.ClientConn, error) {
	p.connMu.Lock()
	defer p.connMu.Unlock()
	if p.conn != nil {
		return p.conn, nil
	}

	creds, err := p.transportCredentials()
	if err != nil {
		return nil, err
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(p.config.MaxMessageSize),
			grpc.MaxCallSendMsgSize(p.config.MaxMessageSize),
		),
	}
	opts = append(opts, p.config.DialOptions...)

	conn, err := grpc.NewClient(p.config.Endpoint, opts...)
	if err != nil {
		return nil, NewGRPCTransportError(err).WithContext("endpoint", p.config.Endpoint)
	}
	p.conn = conn
	p.logger.Debug("Remote problem client created", "endpoint", p.config.Endpoint, "tls", p.config.TLS.Enabled)
	return conn, nil
}

func (p *RemoteProblem) transportCredentials() (credentials.TransportCredentials, error) {
	if !p.config.TLS.Enabled {
		return insecure.NewCredentials(), nil
	}
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}

	if p.config.TLS.CertFile != "" || p.config.TLS.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(p.config.TLS.CertFile, p.config.TLS.KeyFile)
		if err != nil {
			return nil, NewInvalidParameterError("tls.cert_file", p.config.TLS.CertFile, err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}
	if p.config.TLS.CAFile != "" {
		caCert, err := os.ReadFile(p.config.TLS.CAFile)
		if err != nil {
			return nil, NewInvalidParameterError("tls.ca_file", p.config.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, NewInvalidParameterError("tls.ca_file", p.config.TLS.CAFile,
				fmt.Errorf("no certificates in %s", strconv.Quote(p.config.TLS.CAFile)))
		}
		tlsConfig.RootCAs = pool
	}
	return credentials.NewTLS(tlsConfig), nil
}
