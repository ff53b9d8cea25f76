package bolt

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	gorilla "github.com/gorilla/websocket"

	"github.com/ogmkit/ogmkit.go/internal/rand"
	"github.com/ogmkit/ogmkit.go/pkg/constants"
	"github.com/ogmkit/ogmkit.go/pkg/logger"
)

// conn is one socket connection speaking the CBOR RPC protocol. Responses
// are correlated back to callers by request id.
type conn struct {
	ws       *gorilla.Conn
	writeMut sync.Mutex
	timeout  time.Duration
	logger   logger.Logger

	responseChannels     map[string]chan rpcResponse
	responseChannelsLock sync.RWMutex

	closeOnce  sync.Once
	closeChan  chan struct{}
	closeError error
}

// dial opens a socket connection to the endpoint. The bolt scheme
// translates to a plain websocket unless the security policy requires
// encryption, in which case it dials TLS; bolt+s always dials TLS. A dial
// failure is reported as unavailability so endpoint selection can move on.
func dial(ctx context.Context, endpoint string, tlsConf *tls.Config, log logger.Logger) (*conn, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, err
	}

	var wsScheme string
	switch u.Scheme {
	case constants.BoltScheme, constants.RoutingBoltScheme:
		wsScheme = "ws"
		if tlsConf != nil {
			wsScheme = "wss"
		}
	case constants.SecureBoltScheme:
		wsScheme = "wss"
	default:
		return nil, fmt.Errorf("%w: %q", constants.ErrUnknownScheme, u.Scheme)
	}

	dialer := &gorilla.Dialer{
		Proxy:             gorilla.DefaultDialer.Proxy,
		HandshakeTimeout:  gorilla.DefaultDialer.HandshakeTimeout,
		TLSClientConfig:   tlsConf,
		EnableCompression: true,
		Subprotocols:      []string{"cbor"},
	}

	wsURL := fmt.Sprintf("%s://%s/rpc", wsScheme, u.Host)
	ws, resp, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dialing %s: %v", constants.ErrServiceUnavailable, endpoint, err)
	}
	defer resp.Body.Close()

	c := &conn{
		ws:               ws,
		timeout:          constants.DefaultSocketTimeout,
		logger:           log,
		responseChannels: make(map[string]chan rpcResponse),
		closeChan:        make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// send issues one RPC and decodes its result into dest when dest is
// non-nil.
func (c *conn) send(ctx context.Context, dest any, method string, params ...any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	select {
	case <-c.closeChan:
		return c.closeError
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	id := rand.NewRequestID(constants.RequestIDLength)
	responseChan, err := c.createResponseChannel(id)
	if err != nil {
		return err
	}
	defer c.removeResponseChannel(id)

	if err := c.write(&rpcRequest{ID: id, Method: method, Params: params}); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closeChan:
		return c.closeError
	case res, open := <-responseChan:
		if !open {
			return errors.New("response channel closed")
		}
		if res.Error != nil {
			return res.Error
		}
		if dest == nil || res.Result == nil {
			return nil
		}
		if err := cbor.Unmarshal(res.Result, dest); err != nil {
			return fmt.Errorf("error unmarshaling response: %w", err)
		}
		return nil
	}
}

func (c *conn) write(v any) error {
	data, err := cbor.Marshal(v)
	if err != nil {
		return err
	}
	c.writeMut.Lock()
	defer c.writeMut.Unlock()
	return c.ws.WriteMessage(gorilla.BinaryMessage, data)
}

func (c *conn) readLoop() {
	for {
		select {
		case <-c.closeChan:
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				c.fail(err)
				return
			}
			c.handleResponse(data)
		}
	}
}

func (c *conn) handleResponse(data []byte) {
	var res rpcResponse
	if err := cbor.Unmarshal(data, &res); err != nil {
		c.logger.Error("discarding undecodable frame", "error", err)
		return
	}

	responseChan, ok := c.takeResponseChannel(res.ID)
	if !ok {
		c.logger.Error("no waiter for response", "id", res.ID)
		return
	}
	responseChan <- res
	close(responseChan)
}

// fail tears the connection down after a read error, waking every pending
// caller with the close error.
func (c *conn) fail(err error) {
	c.closeOnce.Do(func() {
		if errors.Is(err, net.ErrClosed) || gorilla.IsUnexpectedCloseError(err) {
			c.closeError = fmt.Errorf("%w: %v", constants.ErrServiceUnavailable, err)
		} else {
			c.closeError = err
		}
		close(c.closeChan)
	})
}

func (c *conn) close() error {
	c.closeOnce.Do(func() {
		c.closeError = net.ErrClosed
		close(c.closeChan)
	})

	c.writeMut.Lock()
	err := c.ws.WriteMessage(gorilla.CloseMessage,
		gorilla.FormatCloseMessage(constants.CloseMessageCode, ""))
	c.writeMut.Unlock()
	if err != nil {
		c.logger.Debug("failed to write close message", "error", err)
	}

	return c.ws.Close()
}

func (c *conn) alive() bool {
	select {
	case <-c.closeChan:
		return false
	default:
		return true
	}
}

func (c *conn) createResponseChannel(id string) (chan rpcResponse, error) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()
	if _, ok := c.responseChannels[id]; ok {
		return nil, fmt.Errorf("%w: %v", constants.ErrIDInUse, id)
	}
	ch := make(chan rpcResponse, 1)
	c.responseChannels[id] = ch
	return ch, nil
}

func (c *conn) takeResponseChannel(id string) (chan rpcResponse, bool) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()
	ch, ok := c.responseChannels[id]
	if ok {
		delete(c.responseChannels, id)
	}
	return ch, ok
}

func (c *conn) removeResponseChannel(id string) {
	c.responseChannelsLock.Lock()
	defer c.responseChannelsLock.Unlock()
	delete(c.responseChannels, id)
}
