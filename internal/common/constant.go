package common

// ServedFromHeader tells the caller where a proxied response came from.
const ServedFromHeader = "X-Served-From"

// Values of ServedFromHeader.
const (
	ServedFromNetwork = "network"
	ServedFromCache   = "cache"
	ServedFromOffline = "offline"
	ServedFromQueue   = "queue"
)

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// ControlPrefix is the path prefix reserved for the gateway's own API.
const ControlPrefix = "/_gateway"
