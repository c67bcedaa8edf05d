package models

// SentinelEncrypted is the reserved IDDiscord value marking a leader whose
// real identifier must be decrypted from IDDiscordCipher before use.
const SentinelEncrypted = "Encrypted"

// RaidLeader is an organizer of a run, eligible for tagged notifications.
type RaidLeader struct {
	IDDiscord       string `json:"id_discord"`
	Username        string `json:"username"`
	IDDiscordCipher string `json:"id_discord_cipher,omitempty"`
}

// IsEncrypted reports whether the leader's identifier is privacy-protected.
func (l RaidLeader) IsEncrypted() bool {
	return l.IDDiscord == SentinelEncrypted
}
