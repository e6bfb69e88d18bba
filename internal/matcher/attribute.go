package matcher

import (
	"fmt"
	"net/http"
	"strings"
)

type attrKind int

const (
	attrPath attrKind = iota
	attrMethod
	attrHost
	attrScheme
	attrURL
	attrQuery
	attrRemoteAddr
	attrUserAgent
	attrContentType
	attrProto
	attrHeader
	attrParam
	attrCookie
)

// builtinAttributes maps the plain attribute names a rule may reference.
var builtinAttributes = map[string]attrKind{
	"path":         attrPath,
	"method":       attrMethod,
	"host":         attrHost,
	"scheme":       attrScheme,
	"url":          attrURL,
	"query":        attrQuery,
	"remote_addr":  attrRemoteAddr,
	"user_agent":   attrUserAgent,
	"content_type": attrContentType,
	"proto":        attrProto,
}

// keyedAttributes are the extension forms written as "<prefix>:<key>".
var keyedAttributes = map[string]attrKind{
	"header": attrHeader,
	"param":  attrParam,
	"cookie": attrCookie,
}

// Attribute is a request accessor resolved once, when a rule is built.
type Attribute struct {
	kind attrKind
	key  string
	name string
}

// ParseAttribute resolves an attribute name such as "path" or
// "header:X-Api-Key". Unknown names return ErrUnknownAttribute.
func ParseAttribute(name string) (Attribute, error) {
	if kind, ok := builtinAttributes[name]; ok {
		return Attribute{kind: kind, name: name}, nil
	}

	prefix, key, found := strings.Cut(name, ":")
	if found && key != "" {
		if kind, ok := keyedAttributes[prefix]; ok {
			if kind == attrHeader {
				key = http.CanonicalHeaderKey(key)
			}
			return Attribute{kind: kind, key: key, name: prefix + ":" + key}, nil
		}
	}

	return Attribute{}, fmt.Errorf("%w: %q", ErrUnknownAttribute, name)
}

// Name returns the canonical attribute name.
func (a Attribute) Name() string {
	return a.name
}

// Value reads the attribute from r. Missing values read as "".
func (a Attribute) Value(r *http.Request) string {
	switch a.kind {
	case attrPath:
		return r.URL.Path
	case attrMethod:
		return r.Method
	case attrHost:
		return r.Host
	case attrScheme:
		if r.URL.Scheme != "" {
			return r.URL.Scheme
		}
		if r.TLS != nil {
			return "https"
		}
		return "http"
	case attrURL:
		return r.URL.String()
	case attrQuery:
		return r.URL.RawQuery
	case attrRemoteAddr:
		return r.RemoteAddr
	case attrUserAgent:
		return r.UserAgent()
	case attrContentType:
		return r.Header.Get("Content-Type")
	case attrProto:
		return r.Proto
	case attrHeader:
		return r.Header.Get(a.key)
	case attrParam:
		return r.URL.Query().Get(a.key)
	case attrCookie:
		if c, err := r.Cookie(a.key); err == nil {
			return c.Value
		}
		return ""
	}
	return ""
}
