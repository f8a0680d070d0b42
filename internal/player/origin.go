package player

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/glebovdev/podvault-cli/internal/blob"
	"github.com/glebovdev/podvault-cli/internal/media"
)

const DefaultProxyPath = "/api/v1/podcasts/proxy?url="

// Origin is the application's own origin and its media proxy. Cross-origin
// audio is routed through the proxy so it can be tapped without being muted.
type Origin struct {
	origin    string
	proxyPath string
}

// NewOrigin derives the origin from apiBase. An empty proxyPath disables proxying.
func NewOrigin(apiBase, proxyPath string) (*Origin, error) {
	u, err := url.Parse(strings.TrimSpace(apiBase))
	if err != nil {
		return nil, fmt.Errorf("invalid API base URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", apiBase)
	}
	return &Origin{
		origin:    u.Scheme + "://" + u.Host,
		proxyPath: proxyPath,
	}, nil
}

func (o *Origin) String() string { return o.origin }

func (o *Origin) SameOrigin(raw string) bool {
	return media.SameOrigin(raw, o.origin)
}

// Proxied returns the locator the media element should load for raw. Blob
// URIs and same-origin URLs are returned unchanged.
func (o *Origin) Proxied(raw string) string {
	if raw == "" || blob.IsBlobURL(raw) || o.SameOrigin(raw) || o.proxyPath == "" {
		return raw
	}
	return o.origin + o.proxyPath + url.QueryEscape(raw)
}

// TapSafe reports whether locator may be routed through the analyser.
func (o *Origin) TapSafe(locator string) bool {
	return blob.IsBlobURL(locator) || o.SameOrigin(locator)
}

// Resolve turns an API-relative reference such as "/secure/42" into an
// absolute URL on this origin.
func (o *Origin) Resolve(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.IsAbs() {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return o.origin + ref
}
