package export

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
)

// lookupEncoding resolves a text encoding label. UTF-8 without BOM returns
// nil, meaning no transformation. "utf-8-bom" (alias "utf-8-sig") prepends a
// byte order mark; any other WHATWG label (windows-1250, iso-8859-2,
// shift_jis, ...) is accepted.
func lookupEncoding(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return nil, nil
	case "utf-8-bom", "utf-8-sig", "utf8-bom":
		return unicode.UTF8BOM, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("export: unknown encoding %q: %w", label, err)
	}
	if enc == unicode.UTF8 {
		return nil, nil
	}
	return enc, nil
}
