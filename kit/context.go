package kit

import "context"

type contextKey int

const (
	transportKey contextKey = iota
	requestIDKey
	remoteAddrKey
	roomKey
	peerKey
)

func with(ctx context.Context, k contextKey, v string) context.Context {
	return context.WithValue(ctx, k, v)
}

func get(ctx context.Context, k contextKey) string {
	v, _ := ctx.Value(k).(string)
	return v
}

// WithTransport records the surface serving the call: "http", "ws" or "mcp".
func WithTransport(ctx context.Context, t string) context.Context { return with(ctx, transportKey, t) }

// GetTransport defaults to "http".
func GetTransport(ctx context.Context) string {
	if v := get(ctx, transportKey); v != "" {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context { return with(ctx, requestIDKey, id) }
func GetRequestID(ctx context.Context) string                     { return get(ctx, requestIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return with(ctx, remoteAddrKey, addr)
}
func GetRemoteAddr(ctx context.Context) string { return get(ctx, remoteAddrKey) }

// WithRoom records the collaboration room a websocket connection joined.
func WithRoom(ctx context.Context, room string) context.Context { return with(ctx, roomKey, room) }
func GetRoom(ctx context.Context) string                        { return get(ctx, roomKey) }

// WithPeer records the replica (CRDT peer) behind a connection.
func WithPeer(ctx context.Context, peer string) context.Context { return with(ctx, peerKey, peer) }
func GetPeer(ctx context.Context) string                        { return get(ctx, peerKey) }

// LogAttrs returns the identifiers set on ctx as slog key/value pairs.
func LogAttrs(ctx context.Context) []any {
	var attrs []any
	for _, kv := range []struct {
		name string
		key  contextKey
	}{
		{"request_id", requestIDKey},
		{"room", roomKey},
		{"peer", peerKey},
	} {
		if v := get(ctx, kv.key); v != "" {
			attrs = append(attrs, kv.name, v)
		}
	}
	return attrs
}
