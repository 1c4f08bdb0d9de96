package cluster

import "testing"

// Scenario S5: M1=131073 (odd) and M2=131074 (even) both learn of each
// other. M1, already registered, sees M2 arrive and gets new_peer=true;
// M2, the joiner, sees M1 as an existing peer and gets new_peer=false.
// Parities differ, so should_connect returns !new_peer_flag on each side:
// M1 (new_peer=true) must not dial, M2 (new_peer=false) must dial.
func TestShouldConnectScenarioS5(t *testing.T) {
	const m1, m2 = uint32(131073), uint32(131074)

	m1Dials := ShouldConnect(m1, m2, true)  // M1's view: M2 is the new peer
	m2Dials := ShouldConnect(m2, m1, false) // M2's view: M1 is an existing peer

	if m1Dials {
		t.Fatalf("M1 (observing new peer) should not dial")
	}
	if !m2Dials {
		t.Fatalf("M2 (observing existing peer) should dial")
	}
}

// Verify by inserting both registration events in both orders: regardless of which side is told "you are the new one",
// exactly one of the two sides decides to dial.
func TestShouldConnectExactlyOnePerPairBothOrders(t *testing.T) {
	pairs := [][2]uint32{{131073, 131074}, {2, 100}, {7, 9}, {8, 10}}
	for _, p := range pairs {
		// Order 1: p[0] is the joiner (sees p[1] as existing, flag=false);
		// p[1] sees p[0] as new (flag=true).
		joinerDials := ShouldConnect(p[0], p[1], false)
		peerDials := ShouldConnect(p[1], p[0], true)
		if joinerDials == peerDials {
			t.Fatalf("pair %v: both or neither dialed (joiner=%v peer=%v)", p, joinerDials, peerDials)
		}

		// Order 2: roles reversed, p[1] is the joiner instead.
		joinerDials2 := ShouldConnect(p[1], p[0], false)
		peerDials2 := ShouldConnect(p[0], p[1], true)
		if joinerDials2 == peerDials2 {
			t.Fatalf("pair %v reversed: both or neither dialed (joiner=%v peer=%v)", p, joinerDials2, peerDials2)
		}
	}
}

func TestShouldConnectSameParity(t *testing.T) {
	// Same parity: the side observing a newly joined peer dials.
	if !ShouldConnect(4, 6, true) {
		t.Fatalf("same parity, newPeer=true should dial")
	}
	if ShouldConnect(4, 6, false) {
		t.Fatalf("same parity, newPeer=false should not dial")
	}
}

func TestShouldConnectDifferingParity(t *testing.T) {
	if ShouldConnect(4, 7, true) {
		t.Fatalf("differing parity, newPeer=true should not dial")
	}
	if !ShouldConnect(4, 7, false) {
		t.Fatalf("differing parity, newPeer=false should dial")
	}
}
