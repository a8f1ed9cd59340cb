package blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// PeerUploader forwards images to another station's /upload_image/{id}
// endpoint, which archives them. It cannot list.
type PeerUploader struct {
	base   string
	client *http.Client
}

func NewPeerUploader(baseURL string, timeout time.Duration) *PeerUploader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PeerUploader{
		base:   strings.TrimSuffix(baseURL, "/"),
		client: &http.Client{Timeout: timeout},
	}
}

func (p *PeerUploader) Upload(ctx context.Context, name string, data []byte) (string, error) {
	subject, ok := SubjectOf(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrBadName, name)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", LatestName(subject))
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	target := p.base + "/" + strconv.Itoa(subject)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("peer upload %s: %w", name, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("peer upload %s: status %d: %s", name, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out struct {
		ImageURL string `json:"image_url"`
	}
	if json.Unmarshal(raw, &out) == nil && out.ImageURL != "" {
		return out.ImageURL, nil
	}
	return target, nil
}

func (p *PeerUploader) List(context.Context) ([]string, error) { return nil, nil }

func (p *PeerUploader) URL(name string) string { return p.base + "/" + name }
