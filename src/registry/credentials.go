package registry

import (
	"crypto/sha256"
	"encoding/hex"
)

// Credentials are the RTSP user and password shared by the fleet.
type Credentials struct {
	Username string
	Password string
}

// DeriveCredentials derives the RTSP credentials every node computes from the shared secret.
func DeriveCredentials(secret string) Credentials {
	sum := sha256.Sum256([]byte(secret + ":rtsp"))
	return Credentials{
		Username: "opensentry",
		Password: hex.EncodeToString(sum[:])[:32],
	}
}

// NewCredentials prefers a shared secret over an explicit user and password.
func NewCredentials(username string, password string, secret string) Credentials {
	if secret != "" {
		return DeriveCredentials(secret)
	}
	return Credentials{Username: username, Password: password}
}

func (c Credentials) Apply(conn *Connection) {
	if c.Username == "" || conn.Username != "" {
		return
	}
	conn.Username = c.Username
	conn.Password = c.Password
}
