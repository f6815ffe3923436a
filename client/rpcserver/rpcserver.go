// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

// Package rpcserver is the JSON-RPC server of mmswapd. Every call is a POST
// of {"method": ..., "params": ...} to the root path.
package rpcserver

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/msgjson"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	// rpcTimeoutSeconds bounds the reading and writing of a request. It
	// exceeds the 30 second order and orderbook request timeouts.
	rpcTimeoutSeconds = 40

	// maxRequestBytes caps the size of a request body.
	maxRequestBytes = 1 << 20
)

// rpcserver version
const (
	rpcSemverMajor uint32 = 0
	rpcSemverMinor uint32 = 1
	rpcSemverPatch uint32 = 0
)

var (
	// Check that RPCServer satisfies dex.Connector.
	_   dex.Connector = (*RPCServer)(nil)
	log dex.Logger    = dex.Disabled
)

// clientCore is satisfied by *ordermatch.Engine.
type clientCore interface {
	Buy(ctx context.Context, form *ordermatch.TradeForm) (*ordermatch.TakerRequest, error)
	Sell(ctx context.Context, form *ordermatch.TradeForm) (*ordermatch.TakerRequest, error)
	SetPrice(ctx context.Context, form *ordermatch.SetPriceForm) (*ordermatch.MakerOrder, error)
	OrderStatus(id uuid.UUID) (*ordermatch.OrderStatus, error)
	CancelOrder(id uuid.UUID) error
	CancelAllOrders(cancelBy *ordermatch.CancelBy) (*ordermatch.CancelAllResult, error)
	MyOrders() *ordermatch.MyOrders
	Orderbook(ctx context.Context, base, rel string) (*ordermatch.OrderbookResult, error)
	BestOrders(ticker string, action ordermatch.TakerAction, n int) map[string][]*ordermatch.OrderbookEntry
}

var _ clientCore = (*ordermatch.Engine)(nil)

// RPCServer is a single-client http server.
type RPCServer struct {
	core    clientCore
	mux     *chi.Mux
	srv     *http.Server
	addr    string
	authSHA [32]byte
	auth    bool
	version string

	// ctx is the Connect context, used by the handlers of blocking routes.
	ctxMtx sync.RWMutex
	ctx    context.Context
}

// Config holds variables needed to create a new RPC Server.
type Config struct {
	Core clientCore
	Addr string
	// User and Pass are the basic auth credentials. Auth is disabled when
	// both are empty.
	User, Pass string
	// AppVersion is reported by the version route.
	AppVersion string
	Logger     dex.Logger
}

// New is the constructor for an RPCServer.
func New(cfg *Config) (*RPCServer, error) {
	if cfg.Core == nil {
		return nil, errors.New("no core")
	}
	if cfg.User != "" && cfg.Pass == "" {
		return nil, errors.New("rpc user set without a password")
	}
	if cfg.Logger != nil {
		log = cfg.Logger
	}

	// Create an HTTP router.
	mux := chi.NewRouter()
	httpServer := &http.Server{
		Handler:      mux,
		ReadTimeout:  rpcTimeoutSeconds * time.Second, // slow requests should not hold connections opened
		WriteTimeout: rpcTimeoutSeconds * time.Second, // hung responses must die
	}

	s := &RPCServer{
		core:    cfg.Core,
		mux:     mux,
		srv:     httpServer,
		addr:    cfg.Addr,
		version: cfg.AppVersion,
		ctx:     context.Background(),
	}
	if cfg.Pass != "" {
		// Prepare the basic auth header sha to compare against.
		login := cfg.User + ":" + cfg.Pass
		auth := "Basic " + base64.StdEncoding.EncodeToString([]byte(login))
		s.authSHA = sha256.Sum256([]byte(auth))
		s.auth = true
	}

	// Middleware
	mux.Use(middleware.Recoverer)
	mux.Use(s.authMiddleware)
	mux.With(middleware.AllowContentType("application/json")).Post("/", s.handleJSON)

	return s, nil
}

// Connect starts the RPC server. Satisfies the dex.Connector interface.
func (s *RPCServer) Connect(ctx context.Context) (*sync.WaitGroup, error) {
	// Start serving.
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, fmt.Errorf("can't listen on %s. rpc server quitting: %w", s.addr, err)
	}
	// Update the listening address in case a :0 was provided.
	s.addr = listener.Addr().String()

	s.ctxMtx.Lock()
	s.ctx = ctx
	s.ctxMtx.Unlock()

	var wg sync.WaitGroup

	// Close the listener on context cancellation.
	wg.Add(1)
	go func() {
		defer wg.Done()
		<-ctx.Done()

		if err := s.srv.Shutdown(context.Background()); err != nil {
			// Error from closing listeners:
			log.Errorf("HTTP server Shutdown: %v", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.srv.Serve(listener); !errors.Is(err, http.ErrServerClosed) {
			log.Warnf("unexpected (http.Server).Serve error: %v", err)
		}
		log.Infof("RPC server off")
	}()
	log.Infof("RPC server listening on %s", s.addr)
	return &wg, nil
}

// Addr is the listening address. After Connect, a ":0" port is resolved.
func (s *RPCServer) Addr() string {
	return s.addr
}

func (s *RPCServer) runCtx() context.Context {
	s.ctxMtx.RLock()
	defer s.ctxMtx.RUnlock()
	return s.ctx
}

// handleJSON handles all https json requests.
func (s *RPCServer) handleJSON(w http.ResponseWriter, r *http.Request) {
	// Persistent connections are not supported. Inform the user and close
	// the connection when response handling is completed.
	w.Header().Set("Connection", "close")
	w.Header().Set("Content-Type", "application/json")
	r.Close = true

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	r.Body.Close()
	if err != nil {
		http.Error(w, "error reading request body", http.StatusBadRequest)
		return
	}
	req, err := msgjson.DecodeRequest(body)
	if err != nil {
		writeJSON(w, createResponse("", nil,
			msgjson.NewError(msgjson.RPCParseError, "unable to parse request: %v", err)))
		return
	}

	ctx, cancel := context.WithCancel(s.runCtx())
	defer cancel()
	go func() {
		select {
		case <-r.Context().Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	writeJSON(w, s.handleRequest(ctx, req))
}

// handleRequest sends the request to the correct handler function if able.
func (s *RPCServer) handleRequest(ctx context.Context, req *msgjson.Request) *msgjson.ResponsePayload {
	route, exists := routes[req.Method]
	if !exists {
		return createResponse(req.Method, nil,
			msgjson.NewError(msgjson.RPCUnknownRoute, "unknown route %q", req.Method))
	}
	log.Tracef("RPC call %s", req.Method)
	return route(ctx, s, req)
}

func writeJSON(w http.ResponseWriter, payload *msgjson.ResponsePayload) {
	b, err := json.Marshal(payload)
	if err != nil {
		log.Errorf("unable to marshal response: %v", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(b); err != nil {
		log.Errorf("error writing response: %v", err)
	}
}

// authMiddleware checks incoming requests for authentication.
func (s *RPCServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.auth {
			next.ServeHTTP(w, r)
			return
		}
		// User and password must be set on the request.
		auth := r.Header["Authorization"]
		if len(auth) == 0 {
			log.Warnf("Server authentication failure from ip: %s", r.RemoteAddr)
			w.Header().Add("WWW-Authenticate", `Basic realm="mmswap RPC"`)
			http.Error(w, "authorization required", http.StatusUnauthorized)
			return
		}
		authSHA := sha256.Sum256([]byte(auth[0]))
		if subtle.ConstantTimeCompare(s.authSHA[:], authSHA[:]) != 1 {
			log.Warnf("Server authentication failure from ip: %s", r.RemoteAddr)
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
