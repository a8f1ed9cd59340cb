package blob

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DirUploader archives images in a local directory, served under baseURL.
type DirUploader struct {
	root    string
	baseURL string
}

func NewDirUploader(root, baseURL string) *DirUploader {
	return &DirUploader{root: root, baseURL: strings.TrimSuffix(baseURL, "/")}
}

func (d *DirUploader) Upload(_ context.Context, name string, data []byte) (string, error) {
	if _, err := WriteFileAtomic(d.root, name, data); err != nil {
		return "", fmt.Errorf("archive %s: %w", name, err)
	}
	return d.URL(name), nil
}

func (d *DirUploader) List(context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", d.root, err)
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && !strings.HasPrefix(e.Name(), ".") {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}

func (d *DirUploader) URL(name string) string { return d.baseURL + "/" + name }
