package wire

import (
	"encoding/json"
	"testing"

	"github.com/wrenfield/loreshare/internal/bus"
)

func TestResponseChannel(t *testing.T) {
	for req, want := range map[string]string{
		ChanRequestVisibleTree: ChanResponseVisibleTree,
		ChanRequestFullTree:    ChanResponseFullTree,
		ChanRequestContent:     ChanResponseContent,
	} {
		got, ok := ResponseChannel(req)
		if !ok || got != want {
			t.Errorf("ResponseChannel(%q) = %q, %v", req, got, ok)
		}
	}
	if _, ok := ResponseChannel(ChanShareURL); ok {
		t.Error("share-url should have no response channel")
	}
}

func TestDecode_ValidPayload(t *testing.T) {
	raw, _ := json.Marshal(ContentRequest{RequesterID: "alice", PageID: "p1"})
	env := bus.Envelope{Channel: ChanRequestContent, SenderID: "alice", Payload: raw}

	var req ContentRequest
	if err := Decode(env, &req); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if req.PageID != "p1" {
		t.Errorf("page id = %q", req.PageID)
	}
}

func TestDecode_RejectsInvalidPayload(t *testing.T) {
	env := bus.Envelope{Channel: ChanRequestContent, Payload: json.RawMessage(`{"requester_id":"alice"}`)}
	var req ContentRequest
	if err := Decode(env, &req); err == nil {
		t.Error("missing page_id accepted")
	}

	env = bus.Envelope{Channel: ChanRequestContent, Payload: json.RawMessage(`{"page_id"`)}
	if err := Decode(env, &req); err == nil {
		t.Error("malformed JSON accepted")
	}
}

func TestURLShareValidate(t *testing.T) {
	if err := (URLShare{URL: "https://wiki.example/mara"}).Validate(); err != nil {
		t.Errorf("valid url rejected: %v", err)
	}
	if err := (URLShare{URL: "not a url"}).Validate(); err == nil {
		t.Error("junk url accepted")
	}
	if err := (URLShare{}).Validate(); err == nil {
		t.Error("empty share accepted")
	}
}
