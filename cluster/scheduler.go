package cluster

import (
	"context"
	"encoding/binary"
	"errors"
	"log"

	"github.com/primcluster/mesh/reqwest"
)

// RegisterFlag carries the "new-peer" bit prefixing a *NodeRegister
// payload.
type RegisterFlag byte

const (
	FlagExistingPeer RegisterFlag = 0
	FlagNewPeer      RegisterFlag = 1
)

// RelationshipClient is the external collaborator GroupUserList delegates
// to; kept as a narrow interface so the scheduler doesn't
// depend on the relationship package's storage details.
type RelationshipClient interface {
	GroupUserList(ctx context.Context, groupID uint64) ([]uint64, error)
}

// Scheduler wires Registry operations onto reqwest resource ids for one
// inbound node connection.
type Scheduler struct {
	Registry *Registry
	Rel      RelationshipClient

	groupCache   map[uint64][]uint64
	groupCacheMu chanMutex
}

type chanMutex chan struct{}

func newChanMutex() chanMutex {
	c := make(chanMutex, 1)
	c <- struct{}{}
	return c
}

func (m chanMutex) lock()   { <-m }
func (m chanMutex) unlock() { m <- struct{}{} }

// NewScheduler builds a Scheduler over registry, delegating group
// membership lookups to rel.
func NewScheduler(registry *Registry, rel RelationshipClient) *Scheduler {
	return &Scheduler{
		Registry:     registry,
		Rel:          rel,
		groupCache:   make(map[uint64][]uint64),
		groupCacheMu: newChanMutex(),
	}
}

// BindHandlers registers every Scheduler operation on conn, to be called
// once per accepted reqwest.Conn before Start.
func (s *Scheduler) BindHandlers(conn *reqwest.Conn) {
	conn.HandleFunc(reqwest.ResourceNodeAuth, s.handleNodeAuth(conn))
	conn.HandleFunc(reqwest.ResourceMessageNodeRegister, s.handleRegister(conn, ClassMessage))
	conn.HandleFunc(reqwest.ResourceMessageNodeUnregister, s.handleUnregister(ClassMessage))
	conn.HandleFunc(reqwest.ResourceSeqnumNodeRegister, s.handleRegister(conn, ClassSeqnum))
	conn.HandleFunc(reqwest.ResourceSeqnumNodeUnregister, s.handleUnregister(ClassSeqnum))
	conn.HandleFunc(reqwest.ResourceRecorderNodeRegister, s.handleRegister(conn, ClassRecorder))
	conn.HandleFunc(reqwest.ResourceRecorderNodeUnregister, s.handleUnregister(ClassRecorder))
	conn.HandleFunc(reqwest.ResourceWhichNode, s.handleWhichNode)
	conn.HandleFunc(reqwest.ResourceGroupUserList, s.handleGroupUserList)
	conn.HandleFunc(reqwest.ResourceRecorderList, s.handleRecorderList)
}

func (s *Scheduler) handleNodeAuth(conn *reqwest.Conn) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		info, err := unmarshalServerInfo(payload)
		if err != nil {
			return nil, err
		}
		s.Registry.Auth(info.ID, conn)
		self := s.selfInfo()
		return marshalServerInfo(self), nil
	}
}

func (s *Scheduler) handleRegister(conn *reqwest.Conn, class NodeClass) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		if len(payload) < 1 {
			return nil, errors.New("cluster: register payload missing flag byte")
		}
		flag := RegisterFlag(payload[0])
		info, err := unmarshalServerInfo(payload[1:])
		if err != nil {
			return nil, err
		}
		isNew := s.Registry.Register(info, class)
		_ = isNew // the wire flag, not our own observation, drives pairing (see below)

		newPeer := flag == FlagNewPeer
		errs := s.Registry.Broadcast(class, info.ID, func(peerID uint32, peer *reqwest.Conn) error {
			_, err := peer.CallAsServer(context.Background(), registerResourceFor(class), append([]byte{byte(flag)}, marshalServerInfo(info)...))
			return err
		})
		for _, e := range errs {
			log.Printf("cluster: broadcast register to peer failed: %v", e)
		}
		_ = newPeer // consumed by callers driving ShouldConnect, not the scheduler itself

		return marshalServerInfo(s.selfInfo()), nil
	}
}

func (s *Scheduler) handleUnregister(class NodeClass) reqwest.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		info, err := unmarshalServerInfo(payload)
		if err != nil {
			return nil, err
		}
		if err := s.Registry.Unregister(info.ID, class); err != nil {
			return nil, err
		}
		errs := s.Registry.Broadcast(class, info.ID, func(peerID uint32, peer *reqwest.Conn) error {
			_, err := peer.CallAsServer(context.Background(), unregisterResourceFor(class), marshalServerInfo(info))
			return err
		})
		for _, e := range errs {
			log.Printf("cluster: broadcast unregister to peer failed: %v", e)
		}
		return nil, nil
	}
}

func (s *Scheduler) handleWhichNode(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 8 {
		return nil, errors.New("cluster: which_node payload must be 8 bytes")
	}
	userID := binary.BigEndian.Uint64(payload)
	nodeID, err := s.Registry.WhichNode(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, nodeID)
	return out, nil
}

func (s *Scheduler) handleGroupUserList(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) != 8 {
		return nil, errors.New("cluster: group_user_list payload must be 8 bytes")
	}
	groupID := binary.BigEndian.Uint64(payload)

	s.groupCacheMu.lock()
	cached, ok := s.groupCache[groupID]
	s.groupCacheMu.unlock()
	if ok {
		return marshalUserList(cached), nil
	}

	if s.Rel == nil {
		return nil, errors.New("cluster: no relationship client configured")
	}
	members, err := s.Rel.GroupUserList(ctx, groupID)
	if err != nil {
		return nil, err
	}

	s.groupCacheMu.lock()
	s.groupCache[groupID] = members
	s.groupCacheMu.unlock()
	return marshalUserList(members), nil
}

func (s *Scheduler) handleRecorderList(ctx context.Context, payload []byte) ([]byte, error) {
	ids := s.Registry.MembersOf(ClassRecorder)
	out := make([]byte, 0, len(ids)*4)
	for _, id := range ids {
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, id)
		out = append(out, buf...)
	}
	return out, nil
}

func (s *Scheduler) selfInfo() ServerInfo {
	return ServerInfo{Type: TypeSchedulerCluster, Status: "up"}
}

func registerResourceFor(class NodeClass) reqwest.ResourceID {
	switch class {
	case ClassSeqnum:
		return reqwest.ResourceSeqnumNodeRegister
	case ClassRecorder:
		return reqwest.ResourceRecorderNodeRegister
	default:
		return reqwest.ResourceMessageNodeRegister
	}
}

func unregisterResourceFor(class NodeClass) reqwest.ResourceID {
	switch class {
	case ClassSeqnum:
		return reqwest.ResourceSeqnumNodeUnregister
	case ClassRecorder:
		return reqwest.ResourceRecorderNodeUnregister
	default:
		return reqwest.ResourceMessageNodeUnregister
	}
}

func marshalUserList(ids []uint64) []byte {
	out := make([]byte, len(ids)*8)
	for i, id := range ids {
		binary.BigEndian.PutUint64(out[i*8:], id)
	}
	return out
}
