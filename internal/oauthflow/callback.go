package oauthflow

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
)

// callbackPort is the fixed loopback port every package's OAuth redirect_uri
// points at. Authorization servers that dynamically register a client see
// the same redirect_uri regardless of which package is authenticating;
// requests are routed to the right in-flight flow by their state parameter.
const callbackPort = 5173

const callbackPath = "/oauth/callback"

// callbackResult is what a completed (or failed) authorization redirect
// carries back to the flow that registered for it.
type callbackResult struct {
	code             string
	err              string
	errorDescription string
}

// callbackServer is the single shared HTTP listener bound to
// http://127.0.0.1:5173/oauth/callback. Only one authorization flow is ever
// in flight at a time (see globalLock), so at most one registration exists,
// but the server is written to dispatch by state regardless so a stale or
// duplicate redirect can't be mistaken for the active flow's.
type callbackServer struct {
	mu       sync.Mutex
	srv      *http.Server
	waiters  map[string]chan callbackResult
	refcount int
}

var (
	sharedCallbackServer     *callbackServer
	sharedCallbackServerOnce sync.Once
	sharedCallbackServerMu   sync.Mutex
)

func getSharedCallbackServer() *callbackServer {
	sharedCallbackServerOnce.Do(func() {
		sharedCallbackServer = &callbackServer{waiters: make(map[string]chan callbackResult)}
	})
	return sharedCallbackServer
}

// register starts the shared listener (if not already running) and returns
// a channel that receives exactly one callbackResult for the given state,
// plus a cleanup func that must be called once the flow is done (success,
// failure, or abandonment) to stop the listener once no flow needs it.
func (s *callbackServer) register(state string) (<-chan callbackResult, func(), error) {
	sharedCallbackServerMu.Lock()
	defer sharedCallbackServerMu.Unlock()

	s.mu.Lock()
	ch := make(chan callbackResult, 1)
	s.waiters[state] = ch
	s.refcount++
	needStart := s.srv == nil
	s.mu.Unlock()

	if needStart {
		mux := http.NewServeMux()
		mux.HandleFunc(callbackPath, s.handle)
		srv := &http.Server{Addr: fmt.Sprintf("127.0.0.1:%d", callbackPort), Handler: mux}
		s.mu.Lock()
		s.srv = srv
		s.mu.Unlock()

		ln, err := net.Listen("tcp", srv.Addr)
		if err != nil {
			s.mu.Lock()
			s.srv = nil
			delete(s.waiters, state)
			s.refcount--
			s.mu.Unlock()
			return nil, nil, fmt.Errorf("oauthflow: bind callback listener on %s: %w", srv.Addr, err)
		}
		go srv.Serve(ln) //nolint:errcheck // shutdown errors are expected and ignored
	}

	cleanup := func() {
		sharedCallbackServerMu.Lock()
		defer sharedCallbackServerMu.Unlock()

		s.mu.Lock()
		delete(s.waiters, state)
		s.refcount--
		srv := s.srv
		last := s.refcount == 0
		if last {
			s.srv = nil
		}
		s.mu.Unlock()

		if last && srv != nil {
			_ = srv.Shutdown(context.Background())
		}
	}
	return ch, cleanup, nil
}

func (s *callbackServer) handle(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")

	s.mu.Lock()
	ch, ok := s.waiters[state]
	s.mu.Unlock()

	if !ok {
		http.Error(w, "unknown or expired authorization state", http.StatusBadRequest)
		return
	}

	res := callbackResult{
		code:             q.Get("code"),
		err:              q.Get("error"),
		errorDescription: q.Get("error_description"),
	}
	select {
	case ch <- res:
	default:
	}

	if res.err != "" {
		fmt.Fprintf(w, "Authorization failed: %s. You may close this tab.", res.err)
		return
	}
	fmt.Fprint(w, "Authorization complete. You may close this tab and return to your client.")
}
