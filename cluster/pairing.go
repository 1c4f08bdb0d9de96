package cluster

// ShouldConnect implements the deterministic cluster-mesh pairing rule
//: given two message-node ids and whether the caller is
// observing newPeer as a brand-new join, decide whether this side should
// be the one to dial. Applied identically on both sides of a pair, it
// yields exactly one connection regardless of observation order.
func ShouldConnect(me, peer uint32, newPeer bool) bool {
	meOdd := me&1 != 0
	peerOdd := peer&1 != 0
	if meOdd == peerOdd {
		return newPeer
	}
	return !newPeer
}
