package httpclient

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// loadCookieFile reads a JSON name->value map. A missing file yields no cookies.
func loadCookieFile(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 -- operator-configured path.
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "read cookie file %s", path)
	}
	cookies := map[string]string{}
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, eris.Wrapf(err, "parse cookie file %s", path)
	}
	return cookies, nil
}

func writeCookieFile(path string, cookies map[string]string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return eris.Wrap(err, "create cookie directory")
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return eris.Wrap(err, "marshal cookies")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return eris.Wrap(err, "write cookie file")
	}
	if err := os.Rename(tmp, path); err != nil {
		return eris.Wrap(err, "replace cookie file")
	}
	return nil
}
