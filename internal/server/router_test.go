package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/gamedesk/internal/content"
	"github.com/Tyrowin/gamedesk/internal/document"
	"github.com/Tyrowin/gamedesk/internal/render"
)

const (
	castXML = `<data>
  <npc id="c1" name="Bob" permit="true"><tagged>tavern</tagged></npc>
  <npc id="c2" name="Eve" permit="false"><tagged>tavern</tagged></npc>
  <npc id="c3" name="Max"><tagged>docks</tagged></npc>
</data>`
	errorPage = "<html>forbidden</html>"
)

// stubHandler is a dynamic handler whose Content is a plain function.
type stubHandler struct {
	content func() (content.Content, error)
}

func (h *stubHandler) ContentType(content.Params) string { return "text/plain" }

func (h *stubHandler) Content(context.Context, content.Params, bool) (content.Content, error) {
	return h.content()
}

func stub(fn func() (content.Content, error)) content.Factory {
	return func(string, content.Deps) (content.Handler, error) {
		return &stubHandler{content: fn}, nil
	}
}

type testDesk struct {
	root  string
	store *document.Store
	hub   *Hub
	srv   *Server
}

func writeFile(t *testing.T, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(name), 0o755))
	require.NoError(t, os.WriteFile(name, []byte(body), 0o600))
}

// startDesk builds a web root, loads the cast and serves both listeners on
// loopback until the test ends.
func startDesk(t *testing.T) *testDesk {
	t.Helper()
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), "<html>home</html>")
	writeFile(t, filepath.Join(root, "style.css"), "body{}")
	writeFile(t, filepath.Join(root, "favicon.png"), "PNG")
	writeFile(t, filepath.Join(root, errorFile), errorPage)
	writeFile(t, filepath.Join(root, "maps", "harbor.png"), "PNG")
	writeFile(t, filepath.Join(root, "chars", "index.tmpl"), `{{range children . "npc"}}{{attr . "name"}} {{end}}`)
	writeFile(t, filepath.Join(root, "data", "cast.xml"), castXML)

	store := document.NewStore(filepath.Join(root, "data"))
	require.NoError(t, store.LoadDir())

	renderer := render.New(root)
	hub := NewHub(nil, nil)
	registry := content.NewRegistry(content.Deps{Store: store, Publisher: hub, Renderer: renderer})
	registry.Register(content.DataKey, content.NewData)
	registry.Register("boom", stub(func() (content.Content, error) { panic("dice fell off the table") }))
	registry.Register("fail", stub(func() (content.Content, error) { return nil, errors.New("no luck") }))
	registry.Register("sheet", stub(func() (content.Content, error) {
		return content.File(filepath.Join(root, "style.css")), nil
	}))

	router := NewRouter(RouterConfig{Root: root, Registry: registry, Hub: hub, Renderer: renderer})
	srv := New(Options{GMAddr: "127.0.0.1:0", PlayerAddr: "127.0.0.1:0", Workers: 4}, router, hub, nil, nil)
	require.NoError(t, srv.Start())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return &testDesk{root: root, store: store, hub: hub, srv: srv}
}

// request sends one request line plus a header and returns everything the
// server wrote before closing.
func request(t *testing.T, addr net.Addr, line string) string {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer func() { _ = conn.Close() }()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))

	_, err = fmt.Fprintf(conn, "%s\r\nHost: desk\r\n\r\n", line)
	require.NoError(t, err)
	body, err := io.ReadAll(conn)
	require.NoError(t, err)
	return string(body)
}

func okResponse(contentType, body string) string {
	return "HTTP/1.1 200 OK\r\nContent-Type: " + contentType + "\r\n\r\n" + body
}

func forbidden() string {
	return "HTTP/1.1 403 FORBIDDEN\r\n\r\n" + errorPage
}

func TestRouterStatic(t *testing.T) {
	d := startDesk(t)
	player := d.srv.PlayerAddr()

	assert.Equal(t, okResponse("text/css", "body{}"), request(t, player, "GET /style.css HTTP/1.1"))
	assert.Equal(t, okResponse("text/css", "body{}"), request(t, player, "GET /style.css?v=3 HTTP/1.1"))
	assert.Equal(t, okResponse("text/css", "body{}"), request(t, player, "GET http://desk:8080/style.css HTTP/1.1"))
	assert.Equal(t, okResponse("text/html", "<html>home</html>"), request(t, player, "GET / HTTP/1.1"))
	assert.Equal(t, okResponse("image/png", "PNG"), request(t, player, "GET /favicon.ico HTTP/1.1"))
}

func TestRouterHead(t *testing.T) {
	d := startDesk(t)
	assert.Equal(t, okResponse("text/css", ""), request(t, d.srv.PlayerAddr(), "HEAD /style.css HTTP/1.1"))
}

func TestRouterErrorPage(t *testing.T) {
	d := startDesk(t)
	player := d.srv.PlayerAddr()

	assert.Equal(t, forbidden(), request(t, player, "GET /missing.css HTTP/1.1"))
	assert.Equal(t, forbidden(), request(t, player, "GET /ugmt/unknown?x=1 HTTP/1.1"))
	assert.Equal(t, forbidden(), request(t, player, "GET /../../etc/passwd HTTP/1.1"))
	assert.Equal(t, forbidden(), request(t, player, "NONSENSE"))
	assert.Equal(t, forbidden(), request(t, player, "GET /%zz HTTP/1.1"))
}

func TestRouterListingIsPrivileged(t *testing.T) {
	d := startDesk(t)

	gm := request(t, d.srv.GMAddr(), "GET /maps HTTP/1.1")
	assert.Contains(t, gm, "HTTP/1.1 200 OK\r\nContent-Type: text/html\r\n\r\n")
	assert.Contains(t, gm, `href="/maps/harbor.png"`)

	assert.Equal(t, forbidden(), request(t, d.srv.PlayerAddr(), "GET /maps HTTP/1.1"))
}

func TestRouterListingEscapesNames(t *testing.T) {
	d := startDesk(t)
	const name = "<img src=x onerror=alert(1)>"
	writeFile(t, filepath.Join(d.root, "maps", name), "PNG")

	gm := request(t, d.srv.GMAddr(), "GET /maps HTTP/1.1")
	assert.NotContains(t, gm, "<img")
	assert.Contains(t, gm, ">&lt;img src=x onerror=alert(1)&gt;</a>")
	assert.Contains(t, gm, `href="/maps/%3Cimg%20src=x%20onerror=alert%281%29%3E"`)
}

func TestRouterDynamic(t *testing.T) {
	d := startDesk(t)

	assert.Equal(t,
		okResponse("text/html; charset=utf-8", "Bob Eve Max \n"),
		request(t, d.srv.PlayerAddr(), "GET /ugmt/data?view=chars HTTP/1.1"))
	assert.Equal(t,
		okResponse("text/plain", "body{}"),
		request(t, d.srv.PlayerAddr(), "GET /ugmt/sheet HTTP/1.1"))
	assert.Equal(t,
		okResponse("text/html; charset=utf-8", ""),
		request(t, d.srv.PlayerAddr(), "HEAD /ugmt/data?view=chars HTTP/1.1"))
}

func TestRouterEditRequiresPrivilege(t *testing.T) {
	d := startDesk(t)
	const line = "GET /ugmt/data?edit=c3&key=permit&val=true HTTP/1.1"

	assert.Equal(t, okResponse("text/plain; charset=utf-8", "\n"), request(t, d.srv.PlayerAddr(), line))
	c3, ok := d.store.Get("c3")
	require.True(t, ok)
	assert.Equal(t, "", c3.AttrOr("permit"))

	assert.Equal(t, okResponse("text/plain; charset=utf-8", "\n"), request(t, d.srv.GMAddr(), line))
	c3, _ = d.store.Get("c3")
	assert.Equal(t, "true", c3.AttrOr("permit"))
}

func TestRouterHandlerFault(t *testing.T) {
	d := startDesk(t)
	headersOnly := okResponse("text/plain", "")

	assert.Equal(t, headersOnly, request(t, d.srv.PlayerAddr(), "GET /ugmt/boom HTTP/1.1"))
	assert.Equal(t, headersOnly, request(t, d.srv.PlayerAddr(), "GET /ugmt/fail HTTP/1.1"))

	// The worker survives the panic.
	assert.Equal(t, okResponse("text/css", "body{}"), request(t, d.srv.PlayerAddr(), "GET /style.css HTTP/1.1"))
}

func TestRouterLogsHandlerFaultError(t *testing.T) {
	var logs bytes.Buffer
	registry := content.NewRegistry(content.Deps{})
	registry.Register("fail", stub(func() (content.Content, error) { return nil, errors.New("no luck") }))
	router := NewRouter(RouterConfig{
		Root:     t.TempDir(),
		Registry: registry,
		Logger:   slog.New(slog.NewJSONHandler(&logs, nil)),
	})

	server, client := net.Pipe()
	resp := make(chan string, 1)
	go func() {
		_, _ = io.WriteString(client, "GET /ugmt/fail HTTP/1.1\r\n\r\n")
		body, _ := io.ReadAll(client)
		resp <- string(body)
	}()
	router.ServeConn(context.Background(), server, false)

	assert.Equal(t, okResponse("text/plain", ""), <-resp)
	assert.Contains(t, logs.String(), `"msg":"handler fault"`)
	assert.Contains(t, logs.String(), `"error":"no luck"`)
	assert.Contains(t, logs.String(), `"handler":"fail"`)
}

// TestWebSocketPush subscribes with an independent client and checks that a
// GM edit arrives as a text frame.
func TestWebSocketPush(t *testing.T) {
	d := startDesk(t)

	url := fmt.Sprintf("ws://%s%sdata", d.srv.PlayerAddr(), SocketPrefix)
	ws, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return d.hub.Count(content.DataKey) == 1 },
		2*time.Second, 10*time.Millisecond)

	request(t, d.srv.GMAddr(), "GET /ugmt/data?edit=c3&key=permit&val=true HTTP/1.1")

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	kind, msg, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, kind)
	assert.Equal(t, "id=c3:permit=true:name=Max", string(msg))
}

func TestWebSocketMissingKeyIsDropped(t *testing.T) {
	d := startDesk(t)
	assert.Equal(t, "", request(t, d.srv.PlayerAddr(), "GET /socket/data HTTP/1.1"))
	assert.Equal(t, 0, d.hub.Count("data"))
}
