package proto

import (
	"EdgeScan/engine"
	iface "EdgeScan/interface"
	"EdgeScan/pipeline"
	"context"
	"encoding/json"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// Pipeline is the part of pipeline.Driver the service exposes.
type Pipeline interface {
	Stats() pipeline.Stats
	Latest() (pipeline.Result, bool)
	Subscribe() (<-chan pipeline.Result, func())
	Stop()
}

// Engine reports the loaded model; engine.Detector implements it.
type Engine interface {
	CheckConfig() engine.EngineConfig
}

type Server struct {
	Pipeline Pipeline
	Engine   Engine
	// Requests counts served calls when set.
	Requests prometheus.Counter
	Log      *zap.Logger
}

func NewServer(p Pipeline, eng Engine, requests prometheus.Counter, log *zap.Logger) *Server {
	return &Server{Pipeline: p, Engine: eng, Requests: requests, Log: log.Named("grpc")}
}

func (s *Server) count() {
	if s.Requests != nil {
		s.Requests.Inc()
	}
}

func (s *Server) Status(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	s.count()
	return toStruct(map[string]interface{}{
		"pipeline": s.Pipeline.Stats(),
		"model":    s.Engine.CheckConfig(),
	})
}

func (s *Server) Latest(ctx context.Context, req *emptypb.Empty) (*structpb.Struct, error) {
	s.count()
	r, ok := s.Pipeline.Latest()
	if !ok {
		return nil, status.Error(codes.NotFound, "no result yet")
	}
	return resultStruct(r)
}

// Stop asks the pipeline to finish its current cycle and exit.
func (s *Server) Stop(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	s.count()
	s.Log.Warn("Stop requested over gRPC")
	s.Pipeline.Stop()
	return &emptypb.Empty{}, nil
}

// Watch streams results until the client goes away or the pipeline stops.
func (s *Server) Watch(req *emptypb.Empty, stream PipelineService_WatchServer) error {
	s.count()
	results, cancel := s.Pipeline.Subscribe()
	defer cancel()
	for {
		select {
		case <-stream.Context().Done():
			return nil
		case r, ok := <-results:
			if !ok {
				return nil
			}
			msg, err := resultStruct(r)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				s.Log.Debug("Watch stream closed", zap.Error(err))
				return err
			}
		}
	}
}

func resultStruct(r pipeline.Result) (*structpb.Struct, error) {
	if r.Detections == nil {
		r.Detections = []iface.Detection{}
	}
	return toStruct(r)
}

// toStruct goes through JSON so struct tags decide the field names.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode: %v", err)
	}
	return out, nil
}

// StartGRPCServer listens on port and serves srv in the background.
func StartGRPCServer(port int, srv *Server) (*grpc.Server, error) {
	addr := fmt.Sprintf(":%d", port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on port %s: %w", addr, err)
	}
	s := grpc.NewServer()
	RegisterPipelineServiceServer(s, srv)
	go func() {
		srv.Log.Info("gRPC server listening", zap.String("addr", addr))
		if err := s.Serve(lis); err != nil {
			srv.Log.Error("Failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s, nil
}
