package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"go/ast"
	"go/parser"
	"go/token"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-voice/pkg/core/live"
)

// fakeBridge upgrades one connection, answers the hello and then runs script.
func fakeBridge(t *testing.T, ack any, script func(conn *websocket.Conn)) (*httptest.Server, chan Hello) {
	t.Helper()
	hellos := make(chan Hello, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var hello Hello
		if err := conn.ReadJSON(&hello); err != nil {
			return
		}
		hellos <- hello
		if err := conn.WriteJSON(ack); err != nil {
			return
		}
		if script != nil {
			script(conn)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, hellos
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newTestTransport(srv *httptest.Server) *Transport {
	return NewTransport(Options{
		URL:    wsURL(srv),
		Model:  "gemini-live",
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
}

func okAck() HelloAck {
	return HelloAck{Type: TypeHelloAck, ProtocolVersion: ProtocolVersion1, SessionID: "s-1"}
}

func nextEvent(t *testing.T, sess live.Session) live.InboundEvent {
	t.Helper()
	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatalf("events closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return live.InboundEvent{}
}

func TestOpenHandshake(t *testing.T) {
	srv, hellos := fakeBridge(t, okAck(), func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	sess, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{
		Instruction: "Be brief.",
		Voice:       "Zephyr",
		Tools:       []live.ToolDeclaration{{Name: "capture_lead"}},
		Transcribe:  true,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	hello := <-hellos
	if hello.Type != TypeHello || hello.ProtocolVersion != ProtocolVersion1 || hello.SessionID == "" {
		t.Fatalf("hello = %+v", hello)
	}
	if hello.AudioIn.SampleRateHz != 16000 || hello.AudioOut.SampleRateHz != 24000 {
		t.Fatalf("audio formats = %+v / %+v", hello.AudioIn, hello.AudioOut)
	}
	if hello.Instruction != "Be brief." || len(hello.Tools) != 1 || !hello.Transcribe || hello.Model != "gemini-live" {
		t.Fatalf("hello = %+v", hello)
	}
	if got := sess.(*Session).ID(); got != "s-1" {
		t.Fatalf("session id = %q", got)
	}
}

func TestOpenRejected(t *testing.T) {
	srv, _ := fakeBridge(t, ServerError{Type: TypeError, Code: "unauthorized", Message: "bad key", Close: true}, nil)
	_, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{})
	if !errors.Is(err, live.ErrTransport) || !strings.Contains(err.Error(), "bad key") {
		t.Fatalf("Open err = %v", err)
	}
}

func TestOpenWithoutURL(t *testing.T) {
	if _, err := NewTransport(Options{}).Open(context.Background(), live.SessionConfig{}); !errors.Is(err, live.ErrTransport) {
		t.Fatalf("Open err = %v", err)
	}
}

func TestSendFrames(t *testing.T) {
	frames := make(chan map[string]any, 4)
	srv, _ := fakeBridge(t, okAck(), func(conn *websocket.Conn) {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				close(frames)
				return
			}
			var m map[string]any
			if json.Unmarshal(data, &m) == nil {
				frames <- m
			}
		}
	})
	sess, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	blob := live.EncodeBlock(live.SampleBlock{SampleRate: 16000, Samples: []float32{0.25, -0.25}})
	if err := sess.Send(context.Background(), live.OutboundEvent{Audio: &blob}); err != nil {
		t.Fatalf("Send audio: %v", err)
	}
	results := []live.ToolResult{{ID: "c1", Name: "capture_lead", Response: map[string]any{"result": "OK"}}}
	if err := sess.Send(context.Background(), live.OutboundEvent{ToolResponses: results}); err != nil {
		t.Fatalf("Send tool response: %v", err)
	}

	audio := <-frames
	if audio["type"] != TypeAudioFrame || audio["mime_type"] != "audio/pcm;rate=16000" || audio["seq"] != 1.0 {
		t.Fatalf("audio frame = %v", audio)
	}
	tool := <-frames
	responses, _ := tool["responses"].([]any)
	if tool["type"] != TypeToolResponse || len(responses) != 1 {
		t.Fatalf("tool frame = %v", tool)
	}
}

func TestReceiveEvents(t *testing.T) {
	srv, _ := fakeBridge(t, okAck(), func(conn *websocket.Conn) {
		_ = conn.WriteJSON(ServerContent{Type: TypeServerContent, AudioB64: "AAABAA==", OutputTranscript: "Hi"})
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"mystery"}`))
		_ = conn.WriteJSON(ServerError{Type: TypeError, Code: "slow", Message: "lagging"})
		_ = conn.WriteJSON(ToolCall{Type: TypeToolCall, Calls: []FunctionCall{{Name: "capture_lead", Args: map[string]any{"name": "Ada"}}}})
		_ = conn.WriteJSON(ServerContent{Type: TypeServerContent, TurnComplete: true, Interrupted: true})
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_, _, _ = conn.ReadMessage()
	})
	sess, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	ev := nextEvent(t, sess)
	if ev.Audio == nil || ev.Audio.Base64 != "AAABAA==" || ev.Audio.SampleRate != 24000 || ev.OutputTranscriptDelta != "Hi" {
		t.Fatalf("first event = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if len(ev.ToolCalls) != 1 || ev.ToolCalls[0].ID != "" || ev.ToolCalls[0].Args["name"] != "Ada" {
		t.Fatalf("tool event = %+v", ev)
	}
	ev = nextEvent(t, sess)
	if !ev.TurnComplete || !ev.Interrupted {
		t.Fatalf("final event = %+v", ev)
	}

	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Fatalf("unexpected extra event")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("events not closed after close frame")
	}
	if sess.Err() != nil {
		t.Fatalf("Err after normal close = %v", sess.Err())
	}
}

func TestFatalServerError(t *testing.T) {
	srv, _ := fakeBridge(t, okAck(), func(conn *websocket.Conn) {
		_ = conn.WriteJSON(ServerError{Type: TypeError, Code: "upstream", Message: "model gone", Close: true})
		_, _, _ = conn.ReadMessage()
	})
	sess, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer sess.Close()

	for range sess.Events() {
	}
	if !errors.Is(sess.Err(), live.ErrTransport) {
		t.Fatalf("Err = %v", sess.Err())
	}
}

func TestSendAfterClose(t *testing.T) {
	srv, _ := fakeBridge(t, okAck(), func(conn *websocket.Conn) {
		_, _, _ = conn.ReadMessage()
	})
	sess, err := newTestTransport(srv).Open(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	blob := live.Blob{Data: []byte{0, 0}, MIMEType: "audio/pcm;rate=16000"}
	if err := sess.Send(context.Background(), live.OutboundEvent{Audio: &blob}); !errors.Is(err, live.ErrTransport) {
		t.Fatalf("Send after close = %v", err)
	}
}

func TestDecodeServerMessage(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		code  string
	}{
		{"invalid json", `{`, "bad_frame"},
		{"missing type", `{}`, "bad_frame"},
		{"unknown type", `{"type":"nope"}`, "bad_frame"},
		{"old protocol", `{"type":"hello_ack","protocol_version":"0"}`, "unsupported"},
		{"negative rate", `{"type":"server_content","sample_rate_hz":-1}`, "bad_frame"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeServerMessage([]byte(tt.frame))
			var de *DecodeError
			if !errors.As(err, &de) || de.Code != tt.code {
				t.Fatalf("err = %v, want code %q", err, tt.code)
			}
		})
	}

	msg, err := DecodeServerMessage([]byte(`{"type":"server_content","input_transcript":"hey"}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sc, ok := msg.(ServerContent); !ok || sc.InputTranscript != "hey" {
		t.Fatalf("msg = %#v", msg)
	}
}

func TestToolCallBatchKeepsEveryCall(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"tool_call","calls":[{"id":"a","name":"capture_lead"},{"id":"b","name":""},{"name":"schedule_appointment"}]}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	ev, ok := inbound(msg, 24000)
	if !ok || len(ev.ToolCalls) != 3 {
		t.Fatalf("event = %+v, %v", ev, ok)
	}
	want := []live.ToolInvocation{{ID: "a", Name: "capture_lead"}, {ID: "b", Name: ""}, {ID: "", Name: "schedule_appointment"}}
	for i, w := range want {
		if got := ev.ToolCalls[i]; got.ID != w.ID || got.Name != w.Name {
			t.Fatalf("call %d = %+v, want %+v", i, got, w)
		}
	}

	results := live.NewToolCallRouter(time.Second, nil, nil).Dispatch(context.Background(), ev.ToolCalls)
	if len(results) != 3 || results[1].ID != "b" || !results[1].IsError || results[1].Text() != live.UnknownFunctionText {
		t.Fatalf("results = %+v", results)
	}
}

func TestExportedDeclarationsDocumented(t *testing.T) {
	files, err := filepath.Glob("*.go")
	if err != nil {
		t.Fatal(err)
	}
	fset := token.NewFileSet()
	for _, name := range files {
		if strings.HasSuffix(name, "_test.go") {
			continue
		}
		f, err := parser.ParseFile(fset, name, nil, parser.ParseComments)
		if err != nil {
			t.Fatalf("parse %s: %v", name, err)
		}
		for _, decl := range f.Decls {
			switch d := decl.(type) {
			case *ast.FuncDecl:
				if d.Name.IsExported() && d.Doc == nil {
					t.Fatalf("%s: %s has no doc comment", fset.Position(d.Pos()), d.Name.Name)
				}
			case *ast.GenDecl:
				if d.Tok != token.TYPE {
					continue
				}
				for _, spec := range d.Specs {
					ts := spec.(*ast.TypeSpec)
					if ts.Name.IsExported() && ts.Doc == nil && d.Doc == nil {
						t.Fatalf("%s: %s has no doc comment", fset.Position(ts.Pos()), ts.Name.Name)
					}
				}
			}
		}
	}
}
