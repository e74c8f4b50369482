// Package voice implements the client side of the voice mesh: one session
// per joined room, owning a peer connection per remote participant, the
// local microphone track, and the per-user audio sinks. Connection-setup
// messages travel through the store-and-forward relay; audio never does.
package voice

import "strings"

// ShouldInitiate reports whether self creates the offer toward remote.
// Exactly one side of every pair initiates, so duplicate "glare" offers
// cannot happen: the lexicographically greater address (case-insensitive)
// is the initiator, and both sides compute the same answer.
func ShouldInitiate(self, remote string) bool {
	return strings.ToLower(self) > strings.ToLower(remote)
}
