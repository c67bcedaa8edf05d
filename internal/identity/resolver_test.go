package identity

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thebakerswow/thebakers-front-sub000/internal/models"
)

func TestResolvePlainIdentifier(t *testing.T) {
	leader := models.RaidLeader{IDDiscord: "123456789", Username: "chef"}

	// No secret configured: plain ids must still resolve with no crypto work.
	id, err := Resolve(leader, "")
	require.NoError(t, err)
	assert.Equal(t, "123456789", id)
}

func TestResolveRoundTrip(t *testing.T) {
	secret := "shared-guild-secret"
	ct, err := Encrypt("987654321098765432", secret)
	require.NoError(t, err)

	leader := models.RaidLeader{
		IDDiscord:       models.SentinelEncrypted,
		Username:        "chef",
		IDDiscordCipher: ct,
	}

	id, err := Resolve(leader, secret)
	require.NoError(t, err)
	assert.Equal(t, "987654321098765432", id)
}

func TestResolveFailures(t *testing.T) {
	secret := "shared-guild-secret"
	emptyCT, err := Encrypt("", secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		leader models.RaidLeader
		secret string
	}{
		{
			name:   "missing secret",
			leader: models.RaidLeader{IDDiscord: models.SentinelEncrypted, IDDiscordCipher: "irrelevant"},
			secret: "",
		},
		{
			name:   "undecodable ciphertext",
			leader: models.RaidLeader{IDDiscord: models.SentinelEncrypted, IDDiscordCipher: "not-base64!!!"},
			secret: secret,
		},
		{
			name: "truncated ciphertext",
			leader: models.RaidLeader{
				IDDiscord:       models.SentinelEncrypted,
				IDDiscordCipher: base64.StdEncoding.EncodeToString([]byte("short")),
			},
			secret: secret,
		},
		{
			name:   "empty plaintext",
			leader: models.RaidLeader{IDDiscord: models.SentinelEncrypted, IDDiscordCipher: emptyCT},
			secret: secret,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := Resolve(tt.leader, tt.secret)
			var resErr *ResolutionError
			require.ErrorAs(t, err, &resErr)
			assert.Empty(t, id)
		})
	}
}
