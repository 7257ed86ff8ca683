package rpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/wrenfield/loreshare/internal/apperr"
	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/testutil"
	"github.com/wrenfield/loreshare/internal/wire"
)

func coordinatorPair(t *testing.T, timeout time.Duration) (*Coordinator, *Coordinator) {
	t.Helper()
	b := testutil.Broker(t)
	alice := testutil.Attach(t, b, "alice")
	bob := testutil.Attach(t, b, "bob")
	return New(alice, timeout, testutil.Logger()), New(bob, timeout, testutil.Logger())
}

func TestRequestResponse(t *testing.T) {
	alice, bob := coordinatorPair(t, 2*time.Second)

	bob.Serve(wire.ChanRequestContent, func(env bus.Envelope) (any, error) {
		var req wire.ContentRequest
		if err := wire.Decode(env, &req); err != nil {
			return nil, err
		}
		return wire.ContentResponse{
			RequesterID: req.RequesterID,
			PageID:      req.PageID,
			HTML:        "<h1>Captain Mara</h1>",
		}, nil
	})

	var resp wire.ContentResponse
	err := alice.Request(context.Background(), wire.ChanRequestContent,
		wire.ContentRequest{RequesterID: "alice", PageID: "p-mara"}, &resp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.HTML != "<h1>Captain Mara</h1>" {
		t.Errorf("html = %q", resp.HTML)
	}
	if resp.PageID != "p-mara" {
		t.Errorf("page id = %q", resp.PageID)
	}
}

func TestRequestTimesOutWithoutResponder(t *testing.T) {
	alice, _ := coordinatorPair(t, 200*time.Millisecond)

	start := time.Now()
	var resp wire.TreeResponse
	err := alice.Request(context.Background(), wire.ChanRequestVisibleTree,
		wire.TreeRequest{RequesterID: "alice"}, &resp)

	if !errors.Is(err, apperr.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond || elapsed > 2*time.Second {
		t.Errorf("timed out after %v, want roughly the configured timeout", elapsed)
	}
}

func TestRequestSkipsResponsesForOthers(t *testing.T) {
	b := testutil.Broker(t)
	aliceAd := testutil.Attach(t, b, "alice")
	bobAd := testutil.Attach(t, b, "bob")
	alice := New(aliceAd, 2*time.Second, testutil.Logger())
	bob := New(bobAd, 2*time.Second, testutil.Logger())

	bob.Serve(wire.ChanRequestContent, func(env bus.Envelope) (any, error) {
		var req wire.ContentRequest
		if err := wire.Decode(env, &req); err != nil {
			return nil, err
		}
		// A response for someone else lands first; the requester must
		// keep waiting for its own.
		decoy := wire.ContentResponse{RequesterID: "charlie", PageID: req.PageID, HTML: "<p>not yours</p>"}
		if err := bobAd.Publish(wire.ChanResponseContent, decoy); err != nil {
			return nil, err
		}
		return wire.ContentResponse{RequesterID: req.RequesterID, PageID: req.PageID, HTML: "<p>yours</p>"}, nil
	})

	var resp wire.ContentResponse
	err := alice.Request(context.Background(), wire.ChanRequestContent,
		wire.ContentRequest{RequesterID: "alice", PageID: "p1"}, &resp)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.HTML != "<p>yours</p>" {
		t.Errorf("html = %q, want the response addressed to alice", resp.HTML)
	}
}

func TestRequestOnPushChannel(t *testing.T) {
	alice, _ := coordinatorPair(t, time.Second)
	var resp wire.TreeResponse
	err := alice.Request(context.Background(), wire.ChanShareURL,
		wire.URLShare{URL: "https://x"}, &resp)
	if err == nil {
		t.Error("request on a one-way channel should fail")
	}
}

func TestRequestHonorsContext(t *testing.T) {
	alice, _ := coordinatorPair(t, 10*time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	var resp wire.TreeResponse
	err := alice.Request(ctx, wire.ChanRequestFullTree,
		wire.TreeRequest{RequesterID: "alice"}, &resp)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("cancellation did not cut the wait short")
	}
}
