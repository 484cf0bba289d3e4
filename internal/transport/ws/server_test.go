package ws

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"monworld.ai/internal/protocol"
	"monworld.ai/internal/sim/catalogs"
	"monworld.ai/internal/sim/economy"
	"monworld.ai/internal/sim/engine"
	"monworld.ai/internal/sim/presence"
	"monworld.ai/internal/sim/shapes"
	"monworld.ai/internal/sim/tuning"
)

// deferredSink breaks the engine/server construction cycle the same way the
// server binary does.
type deferredSink struct {
	mu   sync.Mutex
	sink engine.EventSink
}

func (d *deferredSink) set(s engine.EventSink) {
	d.mu.Lock()
	d.sink = s
	d.mu.Unlock()
}

func (d *deferredSink) BuildProgress(rec engine.ProgressRecord) {
	d.mu.Lock()
	s := d.sink
	d.mu.Unlock()
	if s != nil {
		s.BuildProgress(rec)
	}
}

func (d *deferredSink) PiecePlaced(rec engine.PlacementRecord) {
	d.mu.Lock()
	s := d.sink
	d.mu.Unlock()
	if s != nil {
		s.PiecePlaced(rec)
	}
}

func testTemplate() catalogs.Template {
	return catalogs.Template{
		Name:    "watchtower",
		Version: "1.0",
		Phases: []catalogs.Phase{
			{Name: "foundation", Pieces: []catalogs.PieceSpec{
				{Shape: shapes.KindBox, Offset: [3]float64{0, 0.15, 0}, Scale: [3]float64{0.8, 0.3, 0.8}},
			}},
			{Name: "tower", Pieces: []catalogs.PieceSpec{
				{Shape: shapes.KindCylinder, Offset: [3]float64{0, 0.6, 0}, Scale: [3]float64{0.5, 0.6, 0.5}},
				{Shape: shapes.KindCylinder, Offset: [3]float64{0, 1.2, 0}, Scale: [3]float64{0.4, 0.6, 0.4}},
			}},
			{Name: "crown", Pieces: []catalogs.PieceSpec{
				{Shape: shapes.KindCone, Offset: [3]float64{0, 1.7, 0}, Scale: [3]float64{0.4, 0.4, 0.4}},
			}},
		},
	}
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	cat := &catalogs.Catalogs{Blueprints: catalogs.BlueprintCatalog{
		ByName: map[string]catalogs.Template{"watchtower": testTemplate()},
		Digest: "test",
	}}
	tn := tuning.Defaults()
	tn.SweepEveryMinutes = 0

	ledger := economy.NewMemoryLedger(tn.StartingCredits)
	world := engine.NewMemoryWorld(ledger)
	reg := presence.NewRegistry()
	sink := &deferredSink{}

	eng, err := engine.New(engine.Config{
		Catalogs:   cat,
		Tuning:     tn,
		Plans:      engine.NewMemoryPlanStore(),
		Primitives: world,
		Placer:     world,
		Ledger:     ledger,
		Locator:    reg,
		Sink:       sink,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	t.Cleanup(func() { eng.Close() })

	srv := NewServer(eng, reg, func(actorID string) protocol.WelcomeMsg {
		return protocol.WelcomeMsg{
			Type:            protocol.TypeWelcome,
			ProtocolVersion: protocol.Version,
			ActorID:         actorID,
			BuildParams: protocol.BuildParams{
				BatchSize:  tn.BatchSize,
				SiteRadius: tn.SiteRadius,
				PieceCost:  tn.PieceCost,
			},
			Catalogs: protocol.CatalogDigests{
				BlueprintsDigest: cat.Blueprints.Digest,
				BlueprintCount:   len(cat.Blueprints.ByName),
			},
		}
	}, nil)
	sink.set(srv)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)
	return hs
}

func dial(t *testing.T, hs *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(hs.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendJSON(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, b, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

// readAck skips EVENT broadcasts until the ACK for the given act arrives.
func readAck(t *testing.T, conn *websocket.Conn, ackFor string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		m := readJSON(t, conn)
		if m["type"] == protocol.TypeAck && m["ack_for"] == ackFor {
			return m
		}
	}
	t.Fatalf("no ACK for %s", ackFor)
	return nil
}

func hello(t *testing.T, conn *websocket.Conn, token string) map[string]any {
	t.Helper()
	msg := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, AgentName: "bot"}
	if token != "" {
		msg.Auth = &protocol.HelloAuth{Token: token}
	}
	sendJSON(t, conn, msg)
	return readJSON(t, conn)
}

func TestSession_BuildFlow(t *testing.T) {
	hs := newTestServer(t)
	conn := dial(t, hs)

	welcome := hello(t, conn, "actor_t1")
	if welcome["type"] != protocol.TypeWelcome || welcome["actor_id"] != "actor_t1" {
		t.Fatalf("welcome: %v", welcome)
	}
	bp := welcome["build_params"].(map[string]any)
	if bp["batch_size"].(float64) != 5 {
		t.Fatalf("build_params: %v", bp)
	}

	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "m1", Action: protocol.ActMove, X: 0, Z: 0})
	if ack := readAck(t, conn, "m1"); ack["accepted"] != true {
		t.Fatalf("move ack: %v", ack)
	}

	sendJSON(t, conn, protocol.ActMsg{
		Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "b1",
		Action: protocol.ActBuildStart, Blueprint: "watchtower", Anchor: [2]float64{0, 0},
	})
	ack := readAck(t, conn, "b1")
	if ack["accepted"] != true {
		t.Fatalf("start ack: %v", ack)
	}
	result := ack["result"].(map[string]any)
	if result["total_pieces"].(float64) != 4 {
		t.Fatalf("start result: %v", result)
	}

	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "c1", Action: protocol.ActBuildContinue})

	// The terminal progress is broadcast as an EVENT before the ACK lands.
	sawEvent := false
	var contAck map[string]any
	for i := 0; i < 10 && contAck == nil; i++ {
		m := readJSON(t, conn)
		switch m["type"] {
		case protocol.TypeEvent:
			if m["event"] == "BUILD_PROGRESS" && m["status"] == "completed" {
				sawEvent = true
			}
		case protocol.TypeAck:
			contAck = m
		}
	}
	if contAck == nil || contAck["accepted"] != true {
		t.Fatalf("continue ack: %v", contAck)
	}
	prog := contAck["result"].(map[string]any)
	if prog["status"] != "completed" || prog["placed"].(float64) != 4 || prog["active"] != false {
		t.Fatalf("progress: %v", prog)
	}
	if !sawEvent {
		t.Fatalf("no BUILD_PROGRESS event broadcast")
	}

	// Terminal plans are gone: status idle, further continues refused.
	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "s1", Action: protocol.ActBuildStatus})
	ack = readAck(t, conn, "s1")
	if ack["accepted"] != true || ack["result"].(map[string]any)["active"] != false {
		t.Fatalf("status ack: %v", ack)
	}
	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "c2", Action: protocol.ActBuildContinue})
	ack = readAck(t, conn, "c2")
	if ack["accepted"] != false || ack["code"] != protocol.ErrNoActivePlan {
		t.Fatalf("continue-after-done ack: %v", ack)
	}
}

func TestSession_BadRequests(t *testing.T) {
	hs := newTestServer(t)
	conn := dial(t, hs)
	hello(t, conn, "actor_t2")

	// Unknown action.
	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "x1", Action: "TELEPORT"})
	ack := readAck(t, conn, "x1")
	if ack["accepted"] != false || ack["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("ack: %v", ack)
	}

	// Wrong protocol version on an act.
	sendJSON(t, conn, protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: "0.9", ID: "x2", Action: protocol.ActBuildStatus})
	ack = readAck(t, conn, "x2")
	if ack["accepted"] != false || ack["code"] != protocol.ErrProtoBadRequest {
		t.Fatalf("ack: %v", ack)
	}

	// Unknown blueprint surfaces the engine's refusal.
	sendJSON(t, conn, protocol.ActMsg{
		Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ID: "x3",
		Action: protocol.ActBuildStart, Blueprint: "ziggurat", Anchor: [2]float64{0, 0},
	})
	ack = readAck(t, conn, "x3")
	if ack["accepted"] != false || ack["code"] != protocol.ErrUnknownTemplate {
		t.Fatalf("ack: %v", ack)
	}
}

func TestHandshake_AnonymousGetsGeneratedID(t *testing.T) {
	hs := newTestServer(t)
	conn := dial(t, hs)

	welcome := hello(t, conn, "")
	id, _ := welcome["actor_id"].(string)
	if !strings.HasPrefix(id, "actor_") {
		t.Fatalf("actor id: %q", id)
	}
}

func TestHandshake_RejectsBadVersion(t *testing.T) {
	hs := newTestServer(t)
	conn := dial(t, hs)

	sendJSON(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.9", AgentName: "bot"})
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected close on bad protocol version")
	}
}
