package webdav

import (
	"encoding/xml"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/quarryfs/quarry/pkg/auth"
	"github.com/quarryfs/quarry/pkg/gateway"
)

// Multistatus XML shapes (RFC 4918 §14). Only the properties the
// filesystem can answer are emitted; requested-but-unknown properties
// are silently omitted, which every mainstream client tolerates.

type multistatus struct {
	XMLName   xml.Name      `xml:"D:multistatus"`
	XMLNS     string        `xml:"xmlns:D,attr"`
	Responses []davResponse `xml:"D:response"`
}

type davResponse struct {
	Href      string     `xml:"D:href"`
	Propstats []propstat `xml:"D:propstat"`
}

type propstat struct {
	Prop   prop   `xml:"D:prop"`
	Status string `xml:"D:status"`
}

type prop struct {
	DisplayName    string        `xml:"D:displayname,omitempty"`
	ResourceType   *resourceType `xml:"D:resourcetype,omitempty"`
	ContentLength  *int64        `xml:"D:getcontentlength,omitempty"`
	LastModified   string        `xml:"D:getlastmodified,omitempty"`
	ETag           string        `xml:"D:getetag,omitempty"`
	ContentType    string        `xml:"D:getcontenttype,omitempty"`
}

type resourceType struct {
	Collection *struct{} `xml:"D:collection,omitempty"`
}

func (h *Handler) handlePropfind(w http.ResponseWriter, r *http.Request, principal *auth.Result, path string) {
	io.Copy(io.Discard, r.Body) // allprop bodies carry nothing we need

	// Depth: infinity is capped to 1: advertised behaviour, and the
	// safety valve against walking a whole bucket per request.
	depth := r.Header.Get("Depth")
	if depth == "" || depth == DepthInfinity {
		depth = "1"
	}

	entry, err := h.gw.Stat(r.Context(), principal, path)
	if err != nil {
		h.writeError(w, err)
		return
	}

	ms := multistatus{Responses: []davResponse{h.entryResponse(*entry)}}

	if depth == "1" && entry.IsDirectory {
		listing, err := h.gw.List(r.Context(), principal, path)
		if err != nil {
			h.writeError(w, err)
			return
		}
		for _, child := range listing.Entries {
			ms.Responses = append(ms.Responses, h.entryResponse(child))
		}
	}

	writeMultistatus(w, ms)
}

// entryResponse renders one entry as a multistatus response element.
func (h *Handler) entryResponse(e gateway.Entry) davResponse {
	p := prop{
		DisplayName:  e.Name,
		LastModified: e.Modified.UTC().Format(http.TimeFormat),
	}

	if e.IsDirectory {
		p.ResourceType = &resourceType{Collection: &struct{}{}}
	} else {
		p.ResourceType = &resourceType{}
		size := e.Size
		p.ContentLength = &size
		p.ETag = e.ETag
		p.ContentType = e.MimeType
	}

	return davResponse{
		Href: h.href(e.Path, e.IsDirectory),
		Propstats: []propstat{{
			Prop:   p,
			Status: "HTTP/1.1 200 OK",
		}},
	}
}

// writeMultistatus serialises a 207 response.
func writeMultistatus(w http.ResponseWriter, ms multistatus) {
	ms.XMLNS = "DAV:"
	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(http.StatusMultiStatus)
	io.WriteString(w, xml.Header)
	enc := xml.NewEncoder(w)
	_ = enc.Encode(ms)
}

// lockDiscovery is the LOCK response body (RFC 4918 §14.8).
type lockDiscovery struct {
	XMLName xml.Name   `xml:"D:prop"`
	XMLNS   string     `xml:"xmlns:D,attr"`
	Active  activeLock `xml:"D:lockdiscovery>D:activelock"`
}

type activeLock struct {
	Scope   lockScopeXML `xml:"D:lockscope"`
	Type    lockTypeXML  `xml:"D:locktype"`
	Depth   string       `xml:"D:depth"`
	Owner   string       `xml:"D:owner,omitempty"`
	Timeout string       `xml:"D:timeout"`
	Token   lockTokenXML `xml:"D:locktoken"`
}

type lockScopeXML struct {
	Exclusive *struct{} `xml:"D:exclusive,omitempty"`
	Shared    *struct{} `xml:"D:shared,omitempty"`
}

type lockTypeXML struct {
	Write struct{} `xml:"D:write"`
}

type lockTokenXML struct {
	Href string `xml:"D:href"`
}

// writeLockResponse serialises a lockdiscovery body for l.
func (h *Handler) writeLockResponse(w http.ResponseWriter, l *Lock, status int) {
	body := lockDiscovery{
		XMLNS: "DAV:",
		Active: activeLock{
			Depth:   l.Depth,
			Owner:   l.Owner,
			Timeout: "Second-" + strconv.FormatInt(int64(l.Timeout/time.Second), 10),
			Token:   lockTokenXML{Href: l.Token},
		},
	}
	if l.Scope == ScopeShared {
		body.Active.Scope.Shared = &struct{}{}
	} else {
		body.Active.Scope.Exclusive = &struct{}{}
	}

	w.Header().Set("Content-Type", `application/xml; charset="utf-8"`)
	w.WriteHeader(status)
	io.WriteString(w, xml.Header)
	enc := xml.NewEncoder(w)
	_ = enc.Encode(body)
}
