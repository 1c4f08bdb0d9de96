package cluster

import (
	"context"
	"encoding/binary"
	"errors"

	"github.com/primcluster/mesh/reqwest"
)

// RemoteScheduler calls a Scheduler's WhichNode and GroupUserList
// resources over an already-authenticated reqwest.Conn. A message node
// holds one of these per Scheduler connection, implementing
// msgnode.NodeResolver and msgnode.GroupLister without depending on the
// cluster package's internal Registry.
type RemoteScheduler struct {
	Conn *reqwest.Conn
}

// WhichNode implements msgnode.NodeResolver using the same 8-byte
// user_id request and 4-byte node_id response handleWhichNode speaks.
func (c *RemoteScheduler) WhichNode(ctx context.Context, userID uint64) (uint32, error) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, userID)

	resp, err := c.Conn.Call(ctx, reqwest.ResourceWhichNode, payload)
	if err != nil {
		return 0, err
	}
	if len(resp) != 4 {
		return 0, errors.New("cluster: which_node response must be 4 bytes")
	}
	return binary.BigEndian.Uint32(resp), nil
}

// GroupUserList implements msgnode.GroupLister using the same 8-byte
// group_id request and 8-bytes-per-member response handleGroupUserList
// speaks.
func (c *RemoteScheduler) GroupUserList(ctx context.Context, groupID uint64) ([]uint64, error) {
	payload := make([]byte, 8)
	binary.BigEndian.PutUint64(payload, groupID)

	resp, err := c.Conn.Call(ctx, reqwest.ResourceGroupUserList, payload)
	if err != nil {
		return nil, err
	}
	if len(resp)%8 != 0 {
		return nil, errors.New("cluster: group_user_list response must be a multiple of 8 bytes")
	}
	members := make([]uint64, 0, len(resp)/8)
	for i := 0; i < len(resp); i += 8 {
		members = append(members, binary.BigEndian.Uint64(resp[i:i+8]))
	}
	return members, nil
}

// AuthNode performs the client side of handleNodeAuth: it announces self
// over conn and returns the Scheduler's own ServerInfo. A node binary
// calls this once, immediately after dialing the Scheduler, before
// registering as any particular NodeClass.
func AuthNode(ctx context.Context, conn *reqwest.Conn, self ServerInfo) (ServerInfo, error) {
	resp, err := conn.Call(ctx, reqwest.ResourceNodeAuth, marshalServerInfo(self))
	if err != nil {
		return ServerInfo{}, err
	}
	return unmarshalServerInfo(resp)
}

// RegisterNode performs the client side of handleRegister: it announces
// self as a member of class over conn. The Scheduler broadcasts the
// registration to every other live peer of the same class either way,
// relaying flag (first-time join or reconnect) unchanged for the pairing
// rule.
func RegisterNode(ctx context.Context, conn *reqwest.Conn, flag RegisterFlag, class NodeClass, self ServerInfo) (ServerInfo, error) {
	payload := append([]byte{byte(flag)}, marshalServerInfo(self)...)
	resp, err := conn.Call(ctx, registerResourceFor(class), payload)
	if err != nil {
		return ServerInfo{}, err
	}
	return unmarshalServerInfo(resp)
}

// UnregisterNode performs the client side of handleUnregister, called as
// a node binary shuts down cleanly.
func UnregisterNode(ctx context.Context, conn *reqwest.Conn, class NodeClass, self ServerInfo) error {
	_, err := conn.Call(ctx, unregisterResourceFor(class), marshalServerInfo(self))
	return err
}
