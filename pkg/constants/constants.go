package constants

import "time"

const (
	// DefaultPoolSize bounds concurrent pooled sessions when
	// connection.pool.size is not configured.
	DefaultPoolSize = 50
	// RequestIDLength size of the id sent on a socket RPC request
	RequestIDLength = 16
	// DefaultSocketTimeout is how long a socket RPC waits for its response.
	DefaultSocketTimeout = 30 * time.Second
	// CloseMessageCode identifies the message id for a close request
	CloseMessageCode = 1000
)

const (
	BoltScheme        = "bolt"
	SecureBoltScheme  = "bolt+s"
	HTTPScheme        = "http"
	SecureHTTPScheme  = "https"
	EmbeddedScheme    = "file"
	RoutingBoltScheme = "bolt+routing"
)
