// Package blob stores captured images. Archive names follow
// plant_{id}_{yyyymmdd_HHMMSS}.jpg; the latest image of a plant is the
// fixed name plant_{id}.jpg.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/LeonardoBeccarini/plantpi/internal/model"
)

const (
	stampLayout   = "20060102_150405"
	displayLayout = "2006-01-02 15:04:05"
	unknownStamp  = "Unknown timestamp"
)

var ErrBadName = errors.New("invalid blob name")

// Uploader is an image archive.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	List(ctx context.Context) ([]string, error)
	URL(name string) string
}

var archiveRe = regexp.MustCompile(`^plant_(\d+)_(\d{8}_\d{6})\.jpg$`)

func ArchiveName(subject int, t time.Time) string {
	return fmt.Sprintf("plant_%d_%s.jpg", subject, t.Format(stampLayout))
}

func LatestName(subject int) string {
	return fmt.Sprintf("plant_%d.jpg", subject)
}

// ParseArchiveName extracts the subject and the raw stamp. ok is false for
// names that are not archive names.
func ParseArchiveName(name string) (subject int, stamp string, ok bool) {
	m := archiveRe.FindStringSubmatch(name)
	if m == nil {
		return 0, "", false
	}
	id, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, "", false
	}
	return id, m[2], true
}

// SubjectOf accepts archive and latest names.
func SubjectOf(name string) (int, bool) {
	if id, _, ok := ParseArchiveName(name); ok {
		return id, true
	}
	var id int
	if _, err := fmt.Sscanf(name, "plant_%d.jpg", &id); err == nil && LatestName(id) == name {
		return id, true
	}
	return 0, false
}

// Analytics groups archive names under "Plant {id}", newest first. Names
// that are not archive names are ignored.
func Analytics(names []string, url func(string) string) map[string][]model.ImageRecord {
	type entry struct {
		stamp string
		rec   model.ImageRecord
	}
	groups := map[string][]entry{}
	for _, name := range names {
		id, stamp, ok := ParseArchiveName(name)
		if !ok {
			continue
		}
		ts := unknownStamp
		if t, err := time.Parse(stampLayout, stamp); err == nil {
			ts = t.Format(displayLayout)
		}
		key := fmt.Sprintf("Plant %d", id)
		groups[key] = append(groups[key], entry{stamp: stamp, rec: model.ImageRecord{URL: url(name), Timestamp: ts}})
	}

	out := make(map[string][]model.ImageRecord, len(groups))
	for key, es := range groups {
		sort.SliceStable(es, func(i, j int) bool { return es[i].stamp > es[j].stamp })
		recs := make([]model.ImageRecord, len(es))
		for i, e := range es {
			recs[i] = e.rec
		}
		out[key] = recs
	}
	return out
}

func checkName(name string) error {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// WriteFileAtomic replaces dir/name so readers never see a partial file.
func WriteFileAtomic(dir, name string, data []byte) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+name+".*")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	dst := filepath.Join(dir, name)
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return "", fmt.Errorf("replace %s: %w", name, err)
	}
	return dst, nil
}
