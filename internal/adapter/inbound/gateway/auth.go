package gateway

import (
	"crypto/sha256"
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/alexedwards/argon2id"
)

// adminKeyParams mirrors OWASP's Argon2id minimums for the admin key hash.
var adminKeyParams = &argon2id.Params{
	Memory:      47 * 1024,
	Iterations:  1,
	Parallelism: 1,
	SaltLength:  16,
	KeyLength:   32,
}

// HashAdminKey returns an Argon2id hash of rawKey, suitable for
// ADMIN_API_KEY_HASH. Used by the hash-key CLI subcommand.
func HashAdminKey(rawKey string) (string, error) {
	return argon2id.CreateHash(rawKey, adminKeyParams)
}

// verifyAdminKey checks candidate against the configured admin key or hash.
// Comparison is timing-safe: SHA-256 digests are compared with
// subtle.ConstantTimeCompare over fixed-length buffers, so elapsed time
// does not leak how many leading bytes matched.
func verifyAdminKey(candidate, configuredKey, configuredHash string) bool {
	if configuredHash != "" {
		ok, err := safeArgon2idCompare(candidate, configuredHash)
		return err == nil && ok
	}
	want := sha256.Sum256([]byte(configuredKey))
	got := sha256.Sum256([]byte(candidate))
	return subtle.ConstantTimeCompare(want[:], got[:]) == 1
}

func safeArgon2idCompare(rawKey, storedHash string) (match bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			match = false
			err = fmt.Errorf("gateway: invalid argon2id hash parameters: %v", r)
		}
	}()
	return argon2id.ComparePasswordAndHash(rawKey, storedHash)
}

// extractAdminKey returns the admin key from X-Api-Key or Authorization: Bearer.
func extractAdminKey(apiKeyHeader, authHeader string) string {
	if apiKeyHeader != "" {
		return apiKeyHeader
	}
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}
	return ""
}
