// Package blob provides in-memory object URLs for cached audio payloads.
package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Scheme is the prefix every object URL starts with.
const Scheme = "blob:"

var (
	ErrRevoked  = errors.New("blob: object URL revoked")
	ErrNotFound = errors.New("blob: unknown object URL")
)

// IsBlobURL reports whether locator is an object URL.
func IsBlobURL(locator string) bool {
	return strings.HasPrefix(locator, Scheme)
}

type object struct {
	data        []byte
	contentType string
}

// Registry mints and revokes object URLs. A URL stays readable until it is
// revoked; revoking twice is a no-op.
type Registry struct {
	origin  string
	mu      sync.Mutex
	objects map[string]*object
	revoked map[string]struct{}
	minted  int
	freed   int
}

// NewRegistry creates a registry whose URLs carry the given origin,
// e.g. "blob:https://api.podvault.app/<uuid>".
func NewRegistry(origin string) *Registry {
	return &Registry{
		origin:  strings.TrimSuffix(origin, "/"),
		objects: make(map[string]*object),
		revoked: make(map[string]struct{}),
	}
}

// Create stores data and returns a fresh object URL for it.
func (r *Registry) Create(data []byte, contentType string) string {
	id := uuid.NewString()
	var uri string
	if r.origin == "" {
		uri = Scheme + id
	} else {
		uri = fmt.Sprintf("%s%s/%s", Scheme, r.origin, id)
	}

	r.mu.Lock()
	r.objects[uri] = &object{data: data, contentType: contentType}
	r.minted++
	r.mu.Unlock()

	log.Debug().Str("uri", uri).Int("bytes", len(data)).Msg("Object URL created")
	return uri
}

// Open returns a reader over the object's bytes and its content type.
func (r *Registry) Open(uri string) (io.ReadSeekCloser, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.revoked[uri]; ok {
		return nil, "", ErrRevoked
	}
	obj, ok := r.objects[uri]
	if !ok {
		return nil, "", ErrNotFound
	}
	return nopCloser{bytes.NewReader(obj.data)}, obj.contentType, nil
}

// Revoke frees the object behind uri. It reports whether this call released
// anything, so a second revoke returns false.
func (r *Registry) Revoke(uri string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.objects[uri]; !ok {
		return false
	}
	delete(r.objects, uri)
	r.revoked[uri] = struct{}{}
	r.freed++
	log.Debug().Str("uri", uri).Msg("Object URL revoked")
	return true
}

// Live returns the number of object URLs that have not been revoked.
func (r *Registry) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.objects)
}

// Stats returns how many URLs were minted and how many were released.
func (r *Registry) Stats() (minted, freed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.minted, r.freed
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }
