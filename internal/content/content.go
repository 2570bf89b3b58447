// Package content turns a campaign's payload reference into a deliverable payload.
//
// Two reference forms are understood:
//
//	keyword:<KEYWORD>   the material stored under that keyword
//	{...}               an inline JSON-encoded transport.Payload
package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"mailbot/internal/campaign"
	kit "mailbot/internal/transport"
)

var ErrUnknownPayload = errors.New("content: unknown payload reference")

const keywordPrefix = "keyword:"

// MaterialSource loads the JSON-encoded payload stored for a keyword.
type MaterialSource interface {
	MaterialPayload(ctx context.Context, keyword string) ([]byte, error)
}

type Resolver struct {
	src MaterialSource
}

func NewResolver(src MaterialSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns the payload a campaign delivers.
func (r *Resolver) Resolve(ctx context.Context, c campaign.Campaign) (kit.Payload, error) {
	return r.ResolveRef(ctx, c.PayloadRef)
}

func (r *Resolver) ResolveRef(ctx context.Context, ref string) (kit.Payload, error) {
	ref = strings.TrimSpace(ref)
	switch {
	case strings.HasPrefix(ref, keywordPrefix):
		kw := strings.TrimSpace(strings.TrimPrefix(ref, keywordPrefix))
		if kw == "" || r.src == nil {
			return kit.Payload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, ref)
		}
		raw, err := r.src.MaterialPayload(ctx, kw)
		if err != nil {
			return kit.Payload{}, fmt.Errorf("load material %q: %w", kw, err)
		}
		return Decode(raw)
	case strings.HasPrefix(ref, "{"):
		return Decode([]byte(ref))
	}
	return kit.Payload{}, fmt.Errorf("%w: %q", ErrUnknownPayload, ref)
}

// KeywordRef builds the reference for a keyword material.
func KeywordRef(keyword string) string { return keywordPrefix + keyword }

// Decode parses and validates a JSON payload.
func Decode(raw []byte) (kit.Payload, error) {
	var p kit.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return kit.Payload{}, fmt.Errorf("%w: %v", ErrUnknownPayload, err)
	}
	if p.Kind == "" {
		p = inferKind(p)
	}
	if err := p.Validate(); err != nil {
		return kit.Payload{}, err
	}
	return p, nil
}

// Encode validates p and returns its stored form.
func Encode(p kit.Payload) ([]byte, error) {
	if p.Kind == "" {
		p = inferKind(p)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(p)
}

func inferKind(p kit.Payload) kit.Payload {
	if len(p.Attachments) == 0 {
		p.Kind = kit.PayloadText
		if p.Text == "" {
			p.Text = p.Caption
			p.Caption = ""
		}
		return p
	}
	return kit.AttachmentsPayload(p.Caption, p.Attachments, p.Entities...)
}
