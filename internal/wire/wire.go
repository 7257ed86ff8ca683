// Package wire defines the room protocol: the broadcast channel names and
// the payload carried on each. Every payload is JSON; requests carry the
// requester's participant id so the matching response can be picked out of
// the broadcast stream.
package wire

import (
	"encoding/json"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/wrenfield/loreshare/internal/bus"
	"github.com/wrenfield/loreshare/internal/tree"
)

// Broadcast channel names. Request channels are answered on the paired
// response channel; push and share channels are one-way.
const (
	ChanRequestVisibleTree  = "request-visible-tree"
	ChanResponseVisibleTree = "response-visible-tree"
	ChanRequestFullTree     = "request-full-tree"
	ChanResponseFullTree    = "response-full-tree"
	ChanRequestContent      = "request-content"
	ChanResponseContent     = "response-content"
	ChanPushVisibleTree     = "push-visible-tree"
	ChanPushFullTree        = "push-full-tree"
	ChanShareURL            = "share-url"
	ChanShareHTML           = "share-html"
)

var responseFor = map[string]string{
	ChanRequestVisibleTree: ChanResponseVisibleTree,
	ChanRequestFullTree:    ChanResponseFullTree,
	ChanRequestContent:     ChanResponseContent,
}

// ResponseChannel returns the response channel paired with a request
// channel. ok is false for channels that take no response.
func ResponseChannel(requestChannel string) (string, bool) {
	resp, ok := responseFor[requestChannel]
	return resp, ok
}

// TreeRequest asks the owner for its tree. Sent on request-visible-tree or
// request-full-tree. RequesterName is display-only; matching is always by
// id.
type TreeRequest struct {
	RequesterID   string `json:"requester_id"`
	RequesterName string `json:"requester_name,omitempty"`
}

func (r TreeRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequesterID, validation.Required),
	)
}

// TreeResponse answers a TreeRequest with the owner's tree, filtered or
// full depending on the channel.
type TreeResponse struct {
	RequesterID string    `json:"requester_id"`
	Tree        tree.Tree `json:"tree"`
}

func (r TreeResponse) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequesterID, validation.Required),
	)
}

// ContentRequest asks the owner for one page's rendered content.
// ForceRefresh makes the owner re-render instead of answering from its
// cache.
type ContentRequest struct {
	RequesterID  string `json:"requester_id"`
	PageID       string `json:"page_id"`
	ForceRefresh bool   `json:"force_refresh,omitempty"`
}

func (r ContentRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequesterID, validation.Required),
		validation.Field(&r.PageID, validation.Required),
	)
}

// ContentResponse answers a ContentRequest. A non-empty Err means the
// owner could not produce the content; requesters treat that the same as
// no answer at all, just without waiting out the timeout.
type ContentResponse struct {
	RequesterID string `json:"requester_id"`
	PageID      string `json:"page_id"`
	HTML        string `json:"html,omitempty"`
	Err         string `json:"err,omitempty"`
}

func (r ContentResponse) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.RequesterID, validation.Required),
		validation.Field(&r.PageID, validation.Required),
	)
}

// TreePush is the owner's unsolicited broadcast of its current tree after
// a mutation. Sent on push-visible-tree for everyone and push-full-tree
// for elevated participants.
type TreePush struct {
	Tree tree.Tree `json:"tree"`
}

// URLShare points the room at an external page.
type URLShare struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

func (s URLShare) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.URL, validation.Required, is.URL),
	)
}

// HTMLShare carries a rendered fragment directly. Anything too large for
// the payload ceiling has to be shared as a URL instead.
type HTMLShare struct {
	HTML  string `json:"html"`
	Title string `json:"title,omitempty"`
}

func (s HTMLShare) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.HTML, validation.Required),
	)
}

// Decode unmarshals an envelope's payload into v and, when v validates
// itself, rejects payloads that do not pass.
func Decode(env bus.Envelope, v any) error {
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("wire: decode %s: %w", env.Channel, err)
	}
	if val, ok := v.(validation.Validatable); ok {
		if err := val.Validate(); err != nil {
			return fmt.Errorf("wire: invalid %s payload: %w", env.Channel, err)
		}
	}
	return nil
}
