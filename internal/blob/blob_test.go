package blob

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNaming(t *testing.T) {
	at := time.Date(2024, 6, 1, 7, 5, 9, 0, time.UTC)
	assert.Equal(t, "plant_2_20240601_070509.jpg", ArchiveName(2, at))
	assert.Equal(t, "plant_2.jpg", LatestName(2))

	id, stamp, ok := ParseArchiveName("plant_12_20240601_070509.jpg")
	require.True(t, ok)
	assert.Equal(t, 12, id)
	assert.Equal(t, "20240601_070509", stamp)

	for _, bad := range []string{"plant_1.jpg", "plant_x_20240601_070509.jpg", "plant_1_2024_0601.jpg", "notes.txt"} {
		_, _, ok := ParseArchiveName(bad)
		assert.False(t, ok, bad)
	}

	id, ok = SubjectOf("plant_3.jpg")
	assert.True(t, ok)
	assert.Equal(t, 3, id)
	_, ok = SubjectOf("plant_3.jpg.bak")
	assert.False(t, ok)
}

func TestAnalytics(t *testing.T) {
	names := []string{
		"plant_1_20240601_070509.jpg",
		"plant_1_20240602_080000.jpg",
		"plant_2_20241399_250000.jpg",
		"plant_1.jpg",
		"readme.md",
	}
	got := Analytics(names, func(n string) string { return "https://x/" + n })

	require.Len(t, got, 2)
	require.Len(t, got["Plant 1"], 2)
	assert.Equal(t, "2024-06-02 08:00:00", got["Plant 1"][0].Timestamp)
	assert.Equal(t, "https://x/plant_1_20240602_080000.jpg", got["Plant 1"][0].URL)
	assert.Equal(t, "2024-06-01 07:05:09", got["Plant 1"][1].Timestamp)
	assert.Equal(t, "Unknown timestamp", got["Plant 2"][0].Timestamp)
}

func TestDirUploader(t *testing.T) {
	root := filepath.Join(t.TempDir(), "archive")
	d := NewDirUploader(root, "/archive/")

	names, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)

	url, err := d.Upload(context.Background(), "plant_1_20240601_070509.jpg", []byte("jpeg"))
	require.NoError(t, err)
	assert.Equal(t, "/archive/plant_1_20240601_070509.jpg", url)

	_, err = d.Upload(context.Background(), "plant_1_20240601_070509.jpg", []byte("jpeg2"))
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(root, "plant_1_20240601_070509.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg2", string(data))

	names, err = d.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"plant_1_20240601_070509.jpg"}, names)

	_, err = d.Upload(context.Background(), "../escape.jpg", []byte("x"))
	assert.ErrorIs(t, err, ErrBadName)
}

func TestPeerUploader(t *testing.T) {
	var gotPath, gotFilename, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFilename, gotBody = hdr.Filename, string(b)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","image_url":"https://peer/plant_2_x.jpg"}`))
	}))
	defer srv.Close()

	p := NewPeerUploader(srv.URL+"/upload_image/", time.Second)
	url, err := p.Upload(context.Background(), "plant_2_20240601_070509.jpg", []byte("frame"))
	require.NoError(t, err)
	assert.Equal(t, "https://peer/plant_2_x.jpg", url)
	assert.Equal(t, "/upload_image/2", gotPath)
	assert.Equal(t, "plant_2.jpg", gotFilename)
	assert.Equal(t, "frame", gotBody)

	_, err = p.Upload(context.Background(), "capture.jpg", []byte("frame"))
	assert.ErrorIs(t, err, ErrBadName)

	names, err := p.List(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, names)
}

func TestPeerUploaderReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "disk full", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewPeerUploader(srv.URL, time.Second).Upload(context.Background(), "plant_1.jpg", []byte("x"))
	assert.ErrorContains(t, err, "status 500")
}

type flakyUploader struct {
	DirUploader
	err error
}

func (f *flakyUploader) Upload(context.Context, string, []byte) (string, error) { return "", f.err }

func TestGuardedOpens(t *testing.T) {
	boom := errors.New("unreachable")
	g := WithBreaker(&flakyUploader{err: boom}, 1, time.Hour)
	_, err := g.Upload(context.Background(), "plant_1.jpg", nil)
	assert.ErrorIs(t, err, boom)
	_, err = g.Upload(context.Background(), "plant_1.jpg", nil)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestAzureUploaderURL(t *testing.T) {
	conn := "DefaultEndpointsProtocol=https;AccountName=planthkr;AccountKey=dGVzdGtleQ==;EndpointSuffix=core.windows.net"
	a, err := NewAzureUploader(conn, "trial", time.Second)
	require.NoError(t, err)
	assert.Equal(t, "https://planthkr.blob.core.windows.net/trial/plant_1.jpg", a.URL("plant_1.jpg"))

	_, err = a.Upload(context.Background(), "a/b.jpg", nil)
	assert.ErrorIs(t, err, ErrBadName)
}
