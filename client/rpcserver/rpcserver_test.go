package rpcserver

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"decred.org/mmswap/client/ordermatch"
	"decred.org/mmswap/dex"
	"decred.org/mmswap/dex/msgjson"
	"github.com/decred/slog"
	"github.com/google/uuid"
)

func init() {
	log = dex.StdOutLogger("TEST", slog.LevelTrace)
}

var (
	tCtx context.Context
)

type TCore struct {
	tradeForm    *ordermatch.TradeForm
	tradeAction  ordermatch.TakerAction
	takerRequest *ordermatch.TakerRequest
	tradeErr     error
	setPriceForm *ordermatch.SetPriceForm
	makerOrder   *ordermatch.MakerOrder
	setPriceErr  error
	status       *ordermatch.OrderStatus
	statusErr    error
	cancelled    uuid.UUID
	cancelErr    error
	cancelBy     *ordermatch.CancelBy
	cancelAll    *ordermatch.CancelAllResult
	cancelAllErr error
	myOrders     *ordermatch.MyOrders
	book         *ordermatch.OrderbookResult
	bookErr      error
	bookCtx      context.Context
	best         map[string][]*ordermatch.OrderbookEntry
	bestArgs     *bestOrdersForm
}

func (c *TCore) Buy(ctx context.Context, form *ordermatch.TradeForm) (*ordermatch.TakerRequest, error) {
	c.tradeForm, c.tradeAction = form, ordermatch.Buy
	return c.takerRequest, c.tradeErr
}
func (c *TCore) Sell(ctx context.Context, form *ordermatch.TradeForm) (*ordermatch.TakerRequest, error) {
	c.tradeForm, c.tradeAction = form, ordermatch.Sell
	return c.takerRequest, c.tradeErr
}
func (c *TCore) SetPrice(ctx context.Context, form *ordermatch.SetPriceForm) (*ordermatch.MakerOrder, error) {
	c.setPriceForm = form
	return c.makerOrder, c.setPriceErr
}
func (c *TCore) OrderStatus(id uuid.UUID) (*ordermatch.OrderStatus, error) {
	return c.status, c.statusErr
}
func (c *TCore) CancelOrder(id uuid.UUID) error {
	c.cancelled = id
	return c.cancelErr
}
func (c *TCore) CancelAllOrders(cancelBy *ordermatch.CancelBy) (*ordermatch.CancelAllResult, error) {
	c.cancelBy = cancelBy
	return c.cancelAll, c.cancelAllErr
}
func (c *TCore) MyOrders() *ordermatch.MyOrders {
	return c.myOrders
}
func (c *TCore) Orderbook(ctx context.Context, base, rel string) (*ordermatch.OrderbookResult, error) {
	c.bookCtx = ctx
	return c.book, c.bookErr
}
func (c *TCore) BestOrders(ticker string, action ordermatch.TakerAction, n int) map[string][]*ordermatch.OrderbookEntry {
	c.bestArgs = &bestOrdersForm{Coin: ticker, Action: action, Number: n}
	return c.best
}

func newTServer(t *testing.T, start bool, user, pass string) (*RPCServer, func()) {
	tSrv, fn, err := newTServerWErr(t, start, user, pass)
	if err != nil {
		t.Fatal(err)
	}
	return tSrv, fn
}

func newTServerWErr(t *testing.T, start bool, user, pass string) (*RPCServer, func(), error) {
	t.Helper()

	var shutdown func()
	ctx, killCtx := context.WithCancel(tCtx)
	cfg := &Config{
		Core:       &TCore{},
		Addr:       "127.0.0.1:0",
		User:       user,
		Pass:       pass,
		AppVersion: "1.2.3",
	}
	s, err := New(cfg)
	if err != nil {
		killCtx()
		return nil, nil, err
	}
	if start {
		cm := dex.NewConnectionMaster(s)
		err := cm.ConnectOnce(ctx)
		if err != nil {
			killCtx()
			return nil, nil, err
		}
		shutdown = func() {
			killCtx()
			cm.Disconnect()
		}
	} else {
		shutdown = killCtx
	}
	return s, shutdown, nil
}

func TestMain(m *testing.M) {
	var shutdown func()
	tCtx, shutdown = context.WithCancel(context.Background())
	doIt := func() int {
		defer shutdown()
		return m.Run()
	}
	os.Exit(doIt())
}

func TestConnectBindError(t *testing.T) {
	s0, shutdown := newTServer(t, true, "", "abc")
	defer shutdown()

	s, err := New(&Config{
		Core: &TCore{},
		Addr: s0.Addr(),
		Pass: "abc",
	})
	if err != nil {
		t.Fatalf("error creating server: %v", err)
	}

	cm := dex.NewConnectionMaster(s)
	if err = cm.ConnectOnce(tCtx); err == nil {
		shutdown() // shutdown both servers with shared context
		cm.Disconnect()
		t.Fatal("should have failed to bind")
	}
}

type tResponseWriter struct {
	b    []byte
	code int
}

func (w *tResponseWriter) Header() http.Header {
	return make(http.Header)
}
func (w *tResponseWriter) Write(msg []byte) (int, error) {
	w.b = msg
	return len(msg), nil
}
func (w *tResponseWriter) WriteHeader(statusCode int) {
	w.code = statusCode
}

func TestParseHTTPRequest(t *testing.T) {
	s, shutdown := newTServer(t, false, "", "abc")
	defer shutdown()
	var r *http.Request

	handle := func(name string) *msgjson.ResponsePayload {
		t.Helper()
		w := &tResponseWriter{}
		s.handleJSON(w, r)
		if w.code != 200 {
			t.Fatalf("%s: HTTP error %d", name, w.code)
		}
		payload, err := msgjson.DecodeResponse(w.b)
		if err != nil {
			t.Fatalf("%s: unable to unmarshal payload: %v", name, err)
		}
		return payload
	}
	ensureMsgErr := func(name string, wantCode int) {
		t.Helper()
		payload := handle(name)
		if payload.Error == nil {
			t.Fatalf("%s: no error", name)
		}
		if wantCode != payload.Error.Code {
			t.Fatalf("%s, wanted %d, got %d",
				name, wantCode, payload.Error.Code)
		}
	}
	ensureNoErr := func(name string) {
		t.Helper()
		if payload := handle(name); payload.Error != nil {
			t.Fatalf("%s: errored: %v", name, payload.Error)
		}
	}
	newRequest := func(body string) *http.Request {
		r, _ := http.NewRequest("POST", "/", bytes.NewBufferString(body))
		return r
	}

	// Not JSON.
	r = newRequest("{")
	ensureMsgErr("bad json", msgjson.RPCParseError)

	// No method.
	r = newRequest(`{"params": {}}`)
	ensureMsgErr("no method", msgjson.RPCParseError)

	// Unknown route.
	r = newRequest(`{"method": "123"}`)
	ensureMsgErr("bad route", msgjson.RPCUnknownRoute)

	// Use real route.
	r = newRequest(`{"method": "version"}`)
	ensureNoErr("good request")

	// Use real route with bad args.
	r = newRequest(`{"method": "help", "params": "something"}`)
	ensureMsgErr("bad params", msgjson.RPCArgumentsError)
}

func TestRouter(t *testing.T) {
	s, shutdown := newTServer(t, false, "user", "pass")
	defer shutdown()
	auth := "Basic " + base64.StdEncoding.EncodeToString([]byte("user:pass"))

	tests := []struct {
		name, method, contentType, auth string
		wantCode                        int
	}{{
		name:        "ok",
		method:      http.MethodPost,
		contentType: "application/json",
		auth:        auth,
		wantCode:    http.StatusOK,
	}, {
		name:        "no auth",
		method:      http.MethodPost,
		contentType: "application/json",
		wantCode:    http.StatusUnauthorized,
	}, {
		name:        "GET",
		method:      http.MethodGet,
		contentType: "application/json",
		auth:        auth,
		wantCode:    http.StatusMethodNotAllowed,
	}, {
		name:        "wrong content type",
		method:      http.MethodPost,
		contentType: "text/plain",
		auth:        auth,
		wantCode:    http.StatusUnsupportedMediaType,
	}}
	for _, test := range tests {
		r := httptest.NewRequest(test.method, "/", bytes.NewBufferString(`{"method": "version"}`))
		r.Header.Set("Content-Type", test.contentType)
		if test.auth != "" {
			r.Header.Set("Authorization", test.auth)
		}
		w := httptest.NewRecorder()
		s.mux.ServeHTTP(w, r)
		if w.Code != test.wantCode {
			t.Fatalf("%s: wanted HTTP %d, got %d", test.name, test.wantCode, w.Code)
		}
		if w.Code != http.StatusOK {
			continue
		}
		payload, err := msgjson.DecodeResponse(w.Body.Bytes())
		if err != nil {
			t.Fatalf("%s: bad response: %v", test.name, err)
		}
		res := new(VersionResponse)
		if err := payload.UnmarshalResult(res); err != nil {
			t.Fatalf("%s: bad result: %v", test.name, err)
		}
		if res.AppVersion != "1.2.3" || res.RPCServerVer.Major != rpcSemverMajor {
			t.Fatalf("%s: wrong version %+v", test.name, res)
		}
	}
}

func TestServe(t *testing.T) {
	s, shutdown := newTServer(t, true, "", "")
	defer shutdown()

	body, _ := json.Marshal(&msgjson.Request{Method: "help"})
	resp, err := http.Post("http://"+s.Addr()+"/", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post error: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("wrong status %d", resp.StatusCode)
	}
	var payload msgjson.ResponsePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	var help string
	if err := payload.UnmarshalResult(&help); err != nil {
		t.Fatalf("help error: %v", err)
	}
	if help != ListCommands() {
		t.Fatalf("wrong help %q", help)
	}
}

func TestNew(t *testing.T) {
	authTests := []struct {
		name, user, pass, wantAuth string
		wantErr                    bool
	}{{
		name:     "ok",
		user:     "user",
		pass:     "pass",
		wantAuth: "AK+rg3mIGeouojwZwNRMjBjZouASr4mu4FWMTXQQcD0=",
	}, {
		name:     "ok various input",
		user:     `&!"#$%&'()~=`,
		pass:     `+<>*?,:.;/][{}`,
		wantAuth: "Te4g4+Ke9Q07MYo3iT1OCqq5qXX2ZcB47FBiVaT41hQ=",
	}, {
		name:    "no password",
		user:    "user",
		wantErr: true,
	}}
	for _, test := range authTests {
		s, shutdown, err := newTServerWErr(t, false, test.user, test.pass)
		if test.wantErr {
			if err == nil {
				t.Fatalf("expected error for test %s", test.name)
			}
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error for test %s: %v", test.name, err)
		}
		auth := base64.StdEncoding.EncodeToString((s.authSHA[:]))
		if auth != test.wantAuth {
			t.Fatalf("expected auth %s but got %s", test.wantAuth, auth)
		}
		shutdown()
	}

	s, shutdown := newTServer(t, false, "", "")
	defer shutdown()
	if s.auth {
		t.Fatal("auth enabled without credentials")
	}
	if _, err := New(&Config{Addr: "127.0.0.1:0"}); err == nil {
		t.Fatal("no error for a missing core")
	}
}

func TestAuthMiddleware(t *testing.T) {
	s, shutdown := newTServer(t, false, "", "abc")
	defer shutdown()
	am := s.authMiddleware(http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
	r, _ := http.NewRequest("GET", "", nil)

	wantAuthError := func(name string, want bool) {
		t.Helper()
		w := &tResponseWriter{}
		am.ServeHTTP(w, r)
		if w.code != http.StatusUnauthorized && w.code != http.StatusOK {
			t.Fatalf("unexpected HTTP error %d for test \"%s\"",
				w.code, name)
		}
		switch want {
		case true:
			if w.code != http.StatusUnauthorized {
				t.Fatalf("Expected unauthorized HTTP error for test \"%s\"",
					name)
			}
		case false:
			if w.code != http.StatusOK {
				t.Fatalf("Expected OK HTTP status for test \"%s\"",
					name)
			}
		}
	}

	user, pass := "Which one is it?", "It's the one that says bmf on it."
	login := user + ":" + pass
	h := "Basic "
	auth := h + base64.StdEncoding.EncodeToString([]byte(login))
	s.authSHA = sha256.Sum256([]byte(auth))

	tests := []struct {
		name, user, pass, header string
		hasAuth, wantErr         bool
	}{{
		name:    "auth ok",
		user:    user,
		pass:    pass,
		header:  h,
		hasAuth: true,
		wantErr: false,
	}, {
		name:    "wrong pass",
		user:    user,
		pass:    "password123",
		header:  h,
		hasAuth: true,
		wantErr: true,
	}, {
		name:    "unknown user",
		user:    "Jules",
		pass:    pass,
		header:  h,
		hasAuth: true,
		wantErr: true,
	}, {
		name:    "no header",
		user:    user,
		pass:    pass,
		header:  h,
		hasAuth: false,
		wantErr: true,
	}, {
		name:    "malformed header",
		user:    user,
		pass:    pass,
		header:  "basic ",
		hasAuth: true,
		wantErr: true,
	}}
	for _, test := range tests {
		login = test.user + ":" + test.pass
		auth = test.header + base64.StdEncoding.EncodeToString([]byte(login))
		requestHeader := make(http.Header)
		if test.hasAuth {
			requestHeader.Add("Authorization", auth)
		}
		r.Header = requestHeader
		wantAuthError(test.name, test.wantErr)
	}
}
