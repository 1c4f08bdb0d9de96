package cluster

// External Relationship/Admin RPC boundary,
// grounded on the original system's tonic-based UserNode RPC service
// (original_source/server/balancer/src/outer/rpc/node.rs). That service
// is internal-protocol-agnostic: it only forwards WhichNode over gRPC to
// external callers, independent of the mesh's own reqwest wire format.
//
// The request/response types below are plain structs encoded with a gob
// codec registered under grpc's default codec name ("proto"), not
// protoc-generated messages: generating real .pb.go stubs requires
// running protoc, which this build forgoes entirely. gob still lets every
// message ride google.golang.org/grpc's normal unary call path untouched.

import (
	"bytes"
	"context"
	"encoding/gob"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

func init() {
	encoding.RegisterCodec(gobCodec{})
}

// gobCodec overrides grpc's built-in "proto" codec name so every
// request/response below can be an ordinary Go struct.
type gobCodec struct{}

func (gobCodec) Name() string { return "proto" }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

// WhichNodeRequest/Response expose Registry.WhichNode externally.
type WhichNodeRequest struct{ UserID uint64 }
type WhichNodeResponse struct{ NodeID uint32 }

// PushMsgRequest/Response expose admin-side message injection: the caller supplies a receiver and raw envelope bytes built
// by the admin surface; the scheduler resolves the node and forwards.
type PushMsgRequest struct {
	ReceiverID uint64
	Envelope   []byte
}
type PushMsgResponse struct{ Accepted bool }

// GroupUserListRequest/Response mirror the reqwest resource of the same
// name, exposed here for the external relationship/admin layer too.
type GroupUserListRequest struct{ GroupID uint64 }
type GroupUserListResponse struct{ UserIDs []uint64 }

// MeshForwarder delivers a PushMsg envelope to the node that owns
// receiverID, once resolved. RegistryForwarder implements this over the
// Registry's live reqwest callers.
type MeshForwarder interface {
	ForwardToNode(ctx context.Context, nodeID uint32, envelope []byte) error
}

// AdminService implements the external gRPC surface over one Scheduler.
type AdminService struct {
	Registry *Registry
	Rel      RelationshipClient
	Forward  MeshForwarder

	mu         sync.Mutex
	groupCache map[uint64][]uint64
}

// NewAdminService builds the external RPC surface over registry.
func NewAdminService(registry *Registry, rel RelationshipClient, forward MeshForwarder) *AdminService {
	return &AdminService{Registry: registry, Rel: rel, Forward: forward, groupCache: make(map[uint64][]uint64)}
}

func (s *AdminService) whichNode(ctx context.Context, req *WhichNodeRequest) (*WhichNodeResponse, error) {
	nodeID, err := s.Registry.WhichNode(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	return &WhichNodeResponse{NodeID: nodeID}, nil
}

func (s *AdminService) pushMsg(ctx context.Context, req *PushMsgRequest) (*PushMsgResponse, error) {
	nodeID, err := s.Registry.WhichNode(ctx, req.ReceiverID)
	if err != nil {
		return nil, err
	}
	if s.Forward == nil {
		return &PushMsgResponse{Accepted: false}, nil
	}
	if err := s.Forward.ForwardToNode(ctx, nodeID, req.Envelope); err != nil {
		return nil, err
	}
	return &PushMsgResponse{Accepted: true}, nil
}

func (s *AdminService) groupUserList(ctx context.Context, req *GroupUserListRequest) (*GroupUserListResponse, error) {
	s.mu.Lock()
	cached, ok := s.groupCache[req.GroupID]
	s.mu.Unlock()
	if ok {
		return &GroupUserListResponse{UserIDs: cached}, nil
	}
	if s.Rel == nil {
		return &GroupUserListResponse{}, nil
	}
	members, err := s.Rel.GroupUserList(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.groupCache[req.GroupID] = members
	s.mu.Unlock()
	return &GroupUserListResponse{UserIDs: members}, nil
}

var schedulerServiceDesc = grpc.ServiceDesc{
	ServiceName: "primcluster.mesh.Scheduler",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "WhichNode",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(WhichNodeRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				svc := srv.(*AdminService)
				if interceptor == nil {
					return svc.whichNode(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/primcluster.mesh.Scheduler/WhichNode"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return svc.whichNode(ctx, req.(*WhichNodeRequest))
				})
			},
		},
		{
			MethodName: "PushMsg",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(PushMsgRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				svc := srv.(*AdminService)
				if interceptor == nil {
					return svc.pushMsg(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/primcluster.mesh.Scheduler/PushMsg"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return svc.pushMsg(ctx, req.(*PushMsgRequest))
				})
			},
		},
		{
			MethodName: "GroupUserList",
			Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
				req := new(GroupUserListRequest)
				if err := dec(req); err != nil {
					return nil, err
				}
				svc := srv.(*AdminService)
				if interceptor == nil {
					return svc.groupUserList(ctx, req)
				}
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/primcluster.mesh.Scheduler/GroupUserList"}
				return interceptor(ctx, req, info, func(ctx context.Context, req any) (any, error) {
					return svc.groupUserList(ctx, req.(*GroupUserListRequest))
				})
			},
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scheduler.proto",
}

// RegisterAdminService attaches svc to server under the manually-declared
// ServiceDesc above.
func RegisterAdminService(server *grpc.Server, svc *AdminService) {
	server.RegisterService(&schedulerServiceDesc, svc)
}
