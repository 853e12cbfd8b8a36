// Package session pairs this client with its peer through the relay.
//
// Both peers connect to the same relay and use the same session id. The
// relay forwards every frame to the other members of that session, so the
// peers discover each other with a small presence handshake:
//
//	A: connect, SYN            (nobody listening, SYN is lost)
//	B: connect, SYN   ->  A    A answers ACK, reports PARTNER_CONNECT
//	A: ACK            ->  B    B reports PARTNER_CONNECT
//
// If both SYNs cross, each side answers the other's SYN with ACK and the
// duplicate ACK is ignored. Each side reports PARTNER_CONNECT once.
//
// FIN announces that a peer left (PARTNER_LEFT). PSH carries the NFC
// payload, which is handed to the Observer unchanged.
//
// # States
//
//	DISCONNECTED -> CONNECTING -> AWAITING_PEER -> PEER_CONNECTED <-> PEER_LEFT
//
// Any state returns to DISCONNECTED on Disconnect or when the transport
// ends. With AutoReconnect a lost transport is rebuilt with backoff and the
// session passes through CONNECTING again.
package session
