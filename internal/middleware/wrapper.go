package middleware

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/tanmay/stackgate/internal/stack"
)

// bufferedResponse holds a downstream response so it can be rewritten.
type bufferedResponse struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func (b *bufferedResponse) Header() http.Header { return b.header }

func (b *bufferedResponse) WriteHeader(code int) {
	if b.status == 0 {
		b.status = code
	}
}

func (b *bufferedResponse) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

// ResponseWrapper is the "wrap" kind: it surrounds the downstream body with
// text, repeated times on each side. Args: text (default "*"), times (default 1).
func ResponseWrapper() stack.Factory {
	return stack.Factory{
		Kind: "wrap",
		New: func(args stack.Args) (stack.Middleware, error) {
			cfg := struct {
				Text  string `yaml:"text"`
				Times int    `yaml:"times"`
			}{Text: "*", Times: 1}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if cfg.Times < 1 {
				return nil, errors.New("wrap: times must be >= 1")
			}
			return wrapBody(strings.Repeat(cfg.Text, cfg.Times)), nil
		},
	}
}

func wrapBody(affix string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			buf := &bufferedResponse{header: w.Header()}
			next.ServeHTTP(buf, r)

			if buf.status == 0 {
				buf.status = http.StatusOK
			}
			size := buf.body.Len() + 2*len(affix)
			w.Header().Set("Content-Length", strconv.Itoa(size))
			w.WriteHeader(buf.status)
			w.Write([]byte(affix))
			w.Write(buf.body.Bytes())
			w.Write([]byte(affix))
		})
	}
}

// Header is the "header" kind. Args: set, a map of response headers applied
// before the rest of the chain runs.
func Header() stack.Factory {
	return stack.Factory{
		Kind: "header",
		New: func(args stack.Args) (stack.Middleware, error) {
			var cfg struct {
				Set map[string]string `yaml:"set"`
			}
			if err := args.Decode(&cfg); err != nil {
				return nil, err
			}
			if len(cfg.Set) == 0 {
				return nil, errors.New("header: set is empty")
			}
			headers := make(http.Header, len(cfg.Set))
			for k, v := range cfg.Set {
				headers.Set(k, v)
			}
			return setHeaders(headers), nil
		},
	}
}

func setHeaders(headers http.Header) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for k, v := range headers {
				w.Header()[k] = append([]string(nil), v...)
			}
			next.ServeHTTP(w, r)
		})
	}
}
