package innertube

import (
	"errors"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// ReadCookieHeader turns a Netscape cookies.txt file, or a file of
// name=value lines, into a Cookie header value. A missing file yields "".
func ReadCookieHeader(fs afero.Fs, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}

	var cookies []string
	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.Contains(line, "\t") {
			parts := strings.Split(line, "\t")
			if len(parts) >= 7 && parts[5] != "" && parts[6] != "" {
				cookies = append(cookies, parts[5]+"="+parts[6])
			}
			continue
		}
		if strings.Contains(line, "=") {
			cookies = append(cookies, strings.TrimSuffix(line, ";"))
		}
	}
	return strings.Join(cookies, "; "), nil
}
