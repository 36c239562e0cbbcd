package signaling

import "regexp"

var (
	// Dice faces U+2680 to U+2685.
	diceRoomID  = regexp.MustCompile(`^[\x{2680}-\x{2685}]{4,10}$`)
	plainRoomID = regexp.MustCompile(`^[A-Za-z0-9_-]{4,32}$`)
	peerID      = regexp.MustCompile(`^[0-9a-f]{32}$`)
	token       = regexp.MustCompile(`^[0-9A-Fa-f-]{32,36}$`)
)

// ValidRoomID accepts 4-10 dice faces or 4-32 letters, digits, '-' and '_'.
func ValidRoomID(id string) bool {
	return diceRoomID.MatchString(id) || plainRoomID.MatchString(id)
}

// ValidPeerID accepts 32 lowercase hex characters.
func ValidPeerID(id string) bool {
	return peerID.MatchString(id)
}

// ValidSessionToken accepts 32-36 hex or '-' characters, which covers a UUID
// with or without dashes.
func ValidSessionToken(t string) bool {
	return token.MatchString(t)
}
