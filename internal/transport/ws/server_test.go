package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JLerxky/prime-game-sub000/internal/mapgen/palette"
	"github.com/JLerxky/prime-game-sub000/internal/persistence/snapshot"
	"github.com/JLerxky/prime-game-sub000/internal/protocol"
)

func testMap() *snapshot.MapV1 {
	return &snapshot.MapV1{
		Header:        snapshot.Header{Version: snapshot.Version, MapID: "m-1", Seed: 7},
		CatalogDigest: "cafe",
		Center:        [3]int{0, 0, 0},
		Size:          [3]int{2, 2, 2},
		Layers:        []int{0, 1},
		Palette:       []string{"", "grass", "air"},
		Planes: []snapshot.PlaneV1{
			{Z: 0, Layer: 0, Cells: []uint16{1, 1, 1, 1}},
			{Z: 1, Layer: 1, Cells: []uint16{2, 2, 0, 2}},
		},
	}
}

func dial(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func start(t *testing.T, src MapSource) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(src, nil)
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", s.Handler())
	mux.HandleFunc("/v1/map", s.MapHandler())
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return s, srv
}

func writeMsg(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

func readMsg(t *testing.T, conn *websocket.Conn) (string, []byte) {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	require.NoError(t, err)
	base, err := protocol.DecodeBase(b)
	require.NoError(t, err)
	return base.Type, b
}

func hello(planes ...int) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: "t", Planes: planes}
}

func TestServer_HelloStreamsWelcomeAndPlanes(t *testing.T) {
	h := &Holder{}
	h.Set(testMap())
	_, srv := start(t, h)
	conn := dial(t, srv)
	writeMsg(t, conn, hello())

	typ, b := readMsg(t, conn)
	require.Equal(t, protocol.TypeWelcome, typ)
	var w protocol.WelcomeMsg
	require.NoError(t, json.Unmarshal(b, &w))
	require.Equal(t, "m-1", w.MapID)
	require.Equal(t, uint64(7), w.Seed)
	require.Equal(t, [3]int{-1, -1, 0}, w.Region.Min)
	require.Equal(t, []int{0, 1}, w.Planes)
	pal, err := palette.FromIDs(w.Palette)
	require.NoError(t, err)
	require.Equal(t, pal.Digest(), w.PaletteDigest)

	for z := 0; z < 2; z++ {
		typ, b = readMsg(t, conn)
		require.Equal(t, protocol.TypePlane, typ)
		var p protocol.PlaneMsg
		require.NoError(t, json.Unmarshal(b, &p))
		require.Equal(t, z, p.Z)
		require.Equal(t, "RLE", p.Encoding)
		cells, err := palette.DecodePlane(p.Data, p.Width*p.Height)
		require.NoError(t, err)
		require.Equal(t, testMap().Planes[z].Cells, cells)
	}
}

func TestServer_PlaneFilterAndGetPlane(t *testing.T) {
	h := &Holder{}
	h.Set(testMap())
	_, srv := start(t, h)
	conn := dial(t, srv)
	writeMsg(t, conn, hello(1))

	typ, _ := readMsg(t, conn)
	require.Equal(t, protocol.TypeWelcome, typ)
	typ, b := readMsg(t, conn)
	require.Equal(t, protocol.TypePlane, typ)
	var p protocol.PlaneMsg
	require.NoError(t, json.Unmarshal(b, &p))
	require.Equal(t, 1, p.Z)

	writeMsg(t, conn, protocol.GetPlaneMsg{Type: protocol.TypeGetPlane, ProtocolVersion: protocol.Version, Z: 0})
	typ, b = readMsg(t, conn)
	require.Equal(t, protocol.TypePlane, typ)
	require.NoError(t, json.Unmarshal(b, &p))
	require.Equal(t, 0, p.Z)

	writeMsg(t, conn, protocol.GetPlaneMsg{Type: protocol.TypeGetPlane, ProtocolVersion: protocol.Version, Z: 5})
	typ, b = readMsg(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrPlaneNotFound, e.Code)

	writeMsg(t, conn, protocol.GetPlaneMsg{Type: protocol.TypeGetPlane, ProtocolVersion: "0.9", Z: 0})
	_, b = readMsg(t, conn)
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrProtoVersion, e.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{")))
	_, b = readMsg(t, conn)
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrProtoBadRequest, e.Code)
}

func TestServer_NotReadyThenNotify(t *testing.T) {
	h := &Holder{}
	s, srv := start(t, h)
	conn := dial(t, srv)
	writeMsg(t, conn, hello(0))

	typ, b := readMsg(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrMapNotReady, e.Code)
	require.Equal(t, 1, s.Clients())

	h.Set(testMap())
	s.Notify()
	typ, _ = readMsg(t, conn)
	require.Equal(t, protocol.TypeWelcome, typ)
	typ, _ = readMsg(t, conn)
	require.Equal(t, protocol.TypePlane, typ)

	s.Broadcast(protocol.NewError(protocol.ErrContradiction, "regeneration failed"))
	typ, b = readMsg(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrContradiction, e.Code)
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	h := &Holder{}
	h.Set(testMap())
	_, srv := start(t, h)
	conn := dial(t, srv)
	msg := hello()
	msg.ProtocolVersion = "0.1"
	writeMsg(t, conn, msg)

	typ, b := readMsg(t, conn)
	require.Equal(t, protocol.TypeError, typ)
	var e protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(b, &e))
	require.Equal(t, protocol.ErrProtoVersion, e.Code)

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
}

func TestMapHandler(t *testing.T) {
	h := &Holder{}
	s := NewServer(h, nil)

	rec := httptest.NewRecorder()
	s.MapHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/map", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	h.Set(testMap())
	rec = httptest.NewRecorder()
	s.MapHandler()(rec, httptest.NewRequest(http.MethodGet, "/v1/map", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got MapSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, map[string]int{"grass": 4, "air": 3}, got.Counts)
	require.Equal(t, "m-1", got.Welcome.MapID)
}
