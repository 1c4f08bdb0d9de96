package cluster

import (
	"encoding/binary"
	"errors"
)

// ServerInfo wire layout: a flat fixed-width record, mirroring the
// envelope head's "fixed words, no framework" idiom rather than
// protobuf/json, since this payload rides inside a reqwest frame whose
// own framing already carries a length.
//
//	4B id | 2B serviceAddrLen | serviceAddr | 2B clusterAddrLen | clusterAddr |
//	8B connectionID | 1B status byte (0=down,1=up) | 2B type | 4B load | 8B fingerprint
const serverInfoFixedSize = 4 + 2 + 2 + 8 + 1 + 2 + 4 + 8

func marshalServerInfo(info ServerInfo) []byte {
	out := make([]byte, serverInfoFixedSize+len(info.ServiceAddress)+len(info.ClusterAddress))
	off := 0
	binary.BigEndian.PutUint32(out[off:], info.ID)
	off += 4
	binary.BigEndian.PutUint16(out[off:], uint16(len(info.ServiceAddress)))
	off += 2
	off += copy(out[off:], info.ServiceAddress)
	binary.BigEndian.PutUint16(out[off:], uint16(len(info.ClusterAddress)))
	off += 2
	off += copy(out[off:], info.ClusterAddress)
	binary.BigEndian.PutUint64(out[off:], info.ConnectionID)
	off += 8
	if info.Status == "up" {
		out[off] = 1
	}
	off++
	binary.BigEndian.PutUint16(out[off:], uint16(info.Type))
	off += 2
	binary.BigEndian.PutUint32(out[off:], uint32(info.Load))
	off += 4
	binary.BigEndian.PutUint64(out[off:], uint64(info.Fingerprint))
	return out
}

func unmarshalServerInfo(b []byte) (ServerInfo, error) {
	if len(b) < 4+2 {
		return ServerInfo{}, errors.New("cluster: server_info too short")
	}
	var info ServerInfo
	off := 0
	info.ID = binary.BigEndian.Uint32(b[off:])
	off += 4
	svcLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+svcLen+2 {
		return ServerInfo{}, errors.New("cluster: server_info truncated service address")
	}
	info.ServiceAddress = string(b[off : off+svcLen])
	off += svcLen
	clusterLen := int(binary.BigEndian.Uint16(b[off:]))
	off += 2
	if len(b) < off+clusterLen+8+1+2+4+8 {
		return ServerInfo{}, errors.New("cluster: server_info truncated")
	}
	info.ClusterAddress = string(b[off : off+clusterLen])
	off += clusterLen
	info.ConnectionID = binary.BigEndian.Uint64(b[off:])
	off += 8
	if b[off] == 1 {
		info.Status = "up"
	} else {
		info.Status = "down"
	}
	off++
	info.Type = NodeType(binary.BigEndian.Uint16(b[off:]))
	off += 2
	info.Load = int32(binary.BigEndian.Uint32(b[off:]))
	off += 4
	info.Fingerprint = int64(binary.BigEndian.Uint64(b[off:]))
	return info, nil
}
