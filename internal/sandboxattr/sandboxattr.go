// Package sandboxattr widens the sandbox attribute of embedded iframes so the
// pixel preview can run scripts and reach its parent.
package sandboxattr

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Required lists the tokens every sandboxed iframe must carry.
var Required = []string{"allow-scripts", "allow-same-origin", "allow-forms", "allow-popups"}

// Patch appends the missing Required tokens to a sandbox attribute value. Existing
// tokens keep their order; applying it twice changes nothing.
func Patch(value string) string {
	tokens := strings.Fields(value)
	seen := make(map[string]bool, len(tokens))
	for _, tok := range tokens {
		seen[strings.ToLower(tok)] = true
	}
	for _, req := range Required {
		if !seen[req] {
			tokens = append(tokens, req)
			seen[req] = true
		}
	}
	return strings.Join(tokens, " ")
}

// Rewrite copies the HTML document from r to w, patching iframe[sandbox]
// attributes. Everything else is copied byte for byte.
func Rewrite(w io.Writer, r io.Reader) error {
	z := html.NewTokenizer(r)
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if err := z.Err(); err != io.EOF {
				return err
			}
			return nil
		case html.StartTagToken, html.SelfClosingTagToken:
			raw := z.Raw()
			tok := z.Token()
			if tok.DataAtom == atom.Iframe && patchToken(&tok) {
				if _, err := io.WriteString(w, tok.String()); err != nil {
					return err
				}
				continue
			}
			if _, err := w.Write(raw); err != nil {
				return err
			}
		default:
			if _, err := w.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}

func patchToken(tok *html.Token) bool {
	for i, attr := range tok.Attr {
		if attr.Key != "sandbox" {
			continue
		}
		patched := Patch(attr.Val)
		if patched == attr.Val {
			return false
		}
		tok.Attr[i].Val = patched
		return true
	}
	return false
}

// Middleware rewrites successful text/html responses from next.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &bufferedWriter{header: w.Header(), status: http.StatusOK}
		next.ServeHTTP(rec, r)

		body := rec.buf.Bytes()
		if rec.status == http.StatusOK && strings.HasPrefix(w.Header().Get("Content-Type"), "text/html") {
			var out bytes.Buffer
			if err := Rewrite(&out, bytes.NewReader(body)); err == nil {
				body = out.Bytes()
			}
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(rec.status)
		_, _ = w.Write(body)
	})
}

type bufferedWriter struct {
	header      http.Header
	buf         bytes.Buffer
	status      int
	wroteHeader bool
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.wroteHeader {
		return
	}
	b.status = status
	b.wroteHeader = true
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	b.wroteHeader = true
	return b.buf.Write(p)
}
