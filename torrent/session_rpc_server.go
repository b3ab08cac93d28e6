package torrent

import (
	"context"
	"net"
	"net/http"
	"net/rpc"
	"strconv"
	"sync"
	"time"

	"github.com/drizzle-bt/drizzle/internal/logger"
	"github.com/gorilla/websocket"
	"github.com/powerman/rpc-codec/jsonrpc2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	// Events queued for a websocket client. A client that falls behind is disconnected.
	wsSendBuffer   = 256
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

type rpcServer struct {
	rpcServer  *rpc.Server
	httpServer http.Server
	session    *Session
	upgrader   websocket.Upgrader
	log        logger.Logger

	// Websocket handlers still running. Shutdown does not wait for hijacked connections.
	wsWG     sync.WaitGroup
	wsCloseC chan struct{}
	doneC    chan struct{}
}

func newRPCServer(ses *Session) *rpcServer {
	h := &rpcHandler{session: ses}
	srv := rpc.NewServer()
	_ = srv.RegisterName("Session", h)

	reg := prometheus.NewRegistry()
	reg.MustRegister(&metricsCollector{registry: ses.metrics.registry})

	s := &rpcServer{
		rpcServer: srv,
		session:   ses,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:      logger.New("rpc server"),
		wsCloseC: make(chan struct{}),
		doneC:    make(chan struct{}),
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/events", s.handleEvents)
	mux.Handle("/", jsonrpc2.HTTPHandler(srv))
	s.httpServer.Handler = mux
	return s
}

func (s *rpcServer) Start(host string, port int) error {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	s.log.Infoln("RPC server is listening on", listener.Addr().String())

	go func() {
		defer close(s.doneC)
		err := s.httpServer.Serve(listener)
		if err == http.ErrServerClosed {
			return
		}
		s.log.Errorln("RPC server stopped:", err)
	}()

	return nil
}

func (s *rpcServer) Stop(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	close(s.wsCloseC)
	err := s.httpServer.Shutdown(ctx)
	s.wsWG.Wait()
	<-s.doneC
	return err
}

// handleEvents streams session events as JSON text messages until the client goes away.
func (s *rpcServer) handleEvents(w http.ResponseWriter, r *http.Request) {
	// Added before the connection is hijacked so Stop, which waits after Shutdown, sees it.
	s.wsWG.Add(1)
	defer s.wsWG.Done()
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debugln("websocket upgrade failed:", err)
		return
	}
	defer conn.Close()

	sendC := make(chan Event, wsSendBuffer)
	overflowC := make(chan struct{})
	var once sync.Once
	unsubscribe := s.session.SubscribeEvents(func(e Event) {
		select {
		case sendC <- e:
		default:
			once.Do(func() { close(overflowC) })
		}
	})
	defer unsubscribe()

	// Reader detects the client closing the connection.
	readDoneC := make(chan struct{})
	go func() {
		defer close(readDoneC)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()
	for {
		select {
		case e := <-sendC:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err = conn.WriteJSON(newRPCEvent(e)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err = conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-overflowC:
			s.log.Warningln("websocket client is too slow, disconnecting", r.RemoteAddr)
			s.writeClose(conn, websocket.ClosePolicyViolation, "too slow")
			return
		case <-readDoneC:
			return
		case <-s.wsCloseC:
			s.writeClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		}
	}
}

func (s *rpcServer) writeClose(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}
