package cdp

import (
	"encoding/json"
	"sort"

	"github.com/mafredri/cdp/protocol/fetch"
	"github.com/mafredri/cdp/protocol/network"

	"webpen/pkg/domain"
	"webpen/pkg/traffic"
)

// ToNeutralRequest converts a paused fetch event into the neutral
// request model.
func ToNeutralRequest(ev *fetch.RequestPausedReply) *traffic.Request {
	req := traffic.NewRequest()
	req.ID = string(ev.RequestID)
	req.URL = ev.Request.URL
	req.Method = ev.Request.Method
	req.ResourceType = string(ev.ResourceType)

	var headers map[string]string
	if len(ev.Request.Headers) > 0 {
		if err := json.Unmarshal(ev.Request.Headers, &headers); err == nil {
			for k, v := range headers {
				req.Headers.Set(k, v)
			}
		}
	}
	if ev.Request.PostData != nil {
		req.Body = []byte(*ev.Request.PostData)
	}
	return req
}

// ToHeaderEntries converts a neutral header map to protocol entries in a
// stable order.
func ToHeaderEntries(h traffic.Header) []fetch.HeaderEntry {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]fetch.HeaderEntry, 0, len(h))
	for _, k := range keys {
		entries = append(entries, fetch.HeaderEntry{Name: k, Value: h[k]})
	}
	return entries
}

// HeadersFromRaw decodes a protocol header blob into the neutral map.
func HeadersFromRaw(raw network.Headers) traffic.Header {
	out := make(traffic.Header)
	if len(raw) == 0 {
		return out
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return out
	}
	for k, v := range m {
		out.Set(k, v)
	}
	return out
}

// ToNeutralCookie converts a protocol cookie.
func ToNeutralCookie(c network.Cookie) domain.Cookie {
	return domain.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		Expires:  c.Expires,
		Secure:   c.Secure,
		HTTPOnly: c.HTTPOnly,
		SameSite: string(c.SameSite),
	}
}
