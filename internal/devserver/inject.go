package devserver

import (
	"bytes"
	"io"

	"golang.org/x/net/html"
)

const clientTag = `<script src="` + ClientPath + `"></script>`

// injectClient copies an HTML document and inserts the reload client
// script before the closing body tag, or at the end when there is none.
func injectClient(r io.Reader) ([]byte, error) {
	var out bytes.Buffer
	z := html.NewTokenizer(r)
	injected := false

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			if err := z.Err(); err != io.EOF {
				return nil, err
			}
			break
		}
		if !injected && tt == html.EndTagToken {
			name, _ := z.TagName()
			if string(name) == "body" || string(name) == "html" {
				out.WriteString(clientTag)
				injected = true
			}
		}
		out.Write(z.Raw())
	}

	if !injected {
		out.WriteString(clientTag)
	}
	return out.Bytes(), nil
}
