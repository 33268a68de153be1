package auth

import (
	"crypto/sha1"
)

// NativePasswordPlugin and ClearPasswordPlugin are the only two
// authentication plugins this client supports, per spec.md §4.2. Any
// other plugin name fails the handshake with UnsupportedAuth before a
// single byte of password material is sent.
const (
	NativePasswordPlugin = "mysql_native_password"
	ClearPasswordPlugin  = "mysql_clear_password"
)

// NativePasswordResponse computes the mysql_native_password auth
// response: SHA1(password) XOR SHA1(scramble || SHA1(SHA1(password))).
// An empty password yields an empty response unconditionally, per
// spec.md §4.2 and the boundary case in §8.
func NativePasswordResponse(password string, scramble []byte) []byte {
	if password == "" {
		return nil
	}

	stage1 := sha1.Sum([]byte(password))
	stage2 := sha1.Sum(stage1[:])

	h := sha1.New()
	h.Write(scramble)
	h.Write(stage2[:])
	scrambleHash := h.Sum(nil)

	out := make([]byte, len(stage1))
	for i := range out {
		out[i] = stage1[i] ^ scrambleHash[i]
	}
	return out
}

// ClearPasswordResponse returns the password verbatim, the body of
// mysql_clear_password's auth response.
func ClearPasswordResponse(password string) []byte {
	return []byte(password)
}
