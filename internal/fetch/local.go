package fetch

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"golang.org/x/net/html/charset"
)

// ReadLocalHTML loads a saved page, decoding it to UTF-8 from whatever
// charset its meta tags or byte order mark declare.
func ReadLocalHTML(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}

	utf8Reader, err := charset.NewReader(bytes.NewReader(data), "text/html")
	if err != nil {
		return "", fmt.Errorf("detecting charset of %s: %w", path, err)
	}

	out, err := io.ReadAll(utf8Reader)
	if err != nil {
		return "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return string(out), nil
}
