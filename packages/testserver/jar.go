package testserver

import (
	"net/http"
	"sort"
	"strings"
)

// CookieJar maps cookie names to their current value. Only the name and value
// of a cookie are kept. The zero value is an empty jar ready to use.
//
// Copies of a CookieJar share storage; use Clone for an independent jar.
// A CookieJar is not safe for concurrent use.
type CookieJar struct {
	cookies map[string]string
}

// NewCookieJar returns a jar holding the given cookies, later ones replacing
// earlier ones with the same name.
func NewCookieJar(cookies ...*http.Cookie) CookieJar {
	var jar CookieJar
	for _, c := range cookies {
		jar.Add(c)
	}
	return jar
}

// Add inserts c, replacing any cookie with the same name.
func (j *CookieJar) Add(c *http.Cookie) {
	if c == nil {
		return
	}
	if j.cookies == nil {
		j.cookies = make(map[string]string)
	}
	j.cookies[c.Name] = c.Value
}

// Get returns the cookie with the given name, or nil.
func (j CookieJar) Get(name string) *http.Cookie {
	value, ok := j.cookies[name]
	if !ok {
		return nil
	}
	return &http.Cookie{Name: name, Value: value}
}

func (j CookieJar) Len() int {
	return len(j.cookies)
}

// Names returns the cookie names in sorted order.
func (j CookieJar) Names() []string {
	names := make([]string, 0, len(j.cookies))
	for name := range j.cookies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// All returns every cookie, sorted by name.
func (j CookieJar) All() []*http.Cookie {
	names := j.Names()
	all := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		all = append(all, &http.Cookie{Name: name, Value: j.cookies[name]})
	}
	return all
}

// Clone returns an independent copy of the jar.
func (j CookieJar) Clone() CookieJar {
	clone := CookieJar{cookies: make(map[string]string, len(j.cookies))}
	for name, value := range j.cookies {
		clone.cookies[name] = value
	}
	return clone
}

// HeaderValue serializes the jar as a Cookie request header value:
// "name=value; name=value". Empty for an empty jar.
func (j CookieJar) HeaderValue() string {
	names := j.Names()
	pairs := make([]string, 0, len(names))
	for _, name := range names {
		pairs = append(pairs, name+"="+j.cookies[name])
	}
	return strings.Join(pairs, "; ")
}
