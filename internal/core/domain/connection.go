package domain

// ConnState tracks the upstream connection lifecycle. Transitions are
// serialized by the connection manager; readers always observe a consistent
// snapshot.
type ConnState string

const (
	ConnStateDisconnected   ConnState = "disconnected"
	ConnStateConnecting     ConnState = "connecting"
	ConnStateAuthenticating ConnState = "authenticating"
	ConnStateConnected      ConnState = "connected"
	ConnStateReconnecting   ConnState = "reconnecting"
	ConnStateShuttingDown   ConnState = "shutting-down"
)

func (s ConnState) String() string {
	return string(s)
}
