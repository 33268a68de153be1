package auth

import (
	"fmt"

	"github.com/dbbouncer/asyncmy/internal/proto"
	"github.com/dbbouncer/asyncmy/internal/wire"
)

// UnsupportedAuthError reports a server-offered auth plugin this client
// doesn't implement.
type UnsupportedAuthError struct {
	Plugin string
}

func (e *UnsupportedAuthError) Error() string {
	return fmt.Sprintf("auth: unsupported authentication plugin %q", e.Plugin)
}

// BuildHandshakeResponse constructs the HandshakeResponse41 packet body:
// capabilities, max-packet-size, charset, 23 filler bytes, the
// NUL-terminated username, the auth-response (encoded per the negotiated
// capability set — length-encoded if
// PLUGIN_AUTH_LENENC_CLIENT_DATA, else 1-byte-length-prefixed if
// SECURE_CONNECTION, else NUL-terminated), the database name if
// CLIENT_CONNECT_WITH_DB, and the plugin name if PLUGIN_AUTH.
func BuildHandshakeResponse(greeting *Greeting, caps proto.CapabilitySet, username, password, database string) ([]byte, error) {
	plugin := greeting.AuthPluginName
	if plugin == "" {
		plugin = NativePasswordPlugin
	}

	var authResponse []byte
	switch plugin {
	case NativePasswordPlugin:
		authResponse = NativePasswordResponse(password, greeting.Scramble)
	case ClearPasswordPlugin:
		authResponse = ClearPasswordResponse(password)
	default:
		return nil, &UnsupportedAuthError{Plugin: plugin}
	}

	b := wire.NewBuilder(128)
	b.PutInt32(uint32(caps))
	b.PutInt32(1<<24 - 1) // max-packet-size
	b.PutInt8(proto.DefaultCharset)
	b.PutFixedString(make([]byte, 23))
	b.PutNullString([]byte(username))

	switch {
	case caps.Has(proto.CapabilityPluginAuthLenencData):
		b.PutLengthEncodedString(authResponse)
	case caps.Has(proto.CapabilitySecureConnection):
		b.PutInt8(uint8(len(authResponse)))
		b.PutFixedString(authResponse)
	default:
		b.PutNullString(authResponse)
	}

	if caps.Has(proto.CapabilityConnectWithDB) && database != "" {
		b.PutNullString([]byte(database))
	}

	if caps.Has(proto.CapabilityPluginAuth) {
		b.PutNullString([]byte(plugin))
	}

	return b.Bytes(), nil
}
