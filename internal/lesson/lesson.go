// Package lesson reads and writes the packaged lesson artifact: a zip holding
// metadata.json, one media file and a slides/ folder of images.
package lesson

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/mossy-p/liveclass/internal/recorder"
	"github.com/mossy-p/liveclass/internal/slides"
	"github.com/mossy-p/liveclass/internal/timeline"
)

const (
	metadataFile = "metadata.json"
	slidesDir    = "slides/"
)

var ErrInvalidArtifact = errors.New("invalid lesson artifact")

// maxEntrySize caps the decompressed size of a single archive entry.
var maxEntrySize uint64 = 512 << 20

// Metadata is stored as metadata.json. Timeline holds the serialized
// "mm:ss -> N" table.
type Metadata struct {
	Subject  string `json:"subject"`
	Teacher  string `json:"teacher"`
	Date     string `json:"date"`
	Time     string `json:"time"`
	Timeline string `json:"timeline"`
	Live     bool   `json:"is_live_recorded,omitempty"`
}

// File is one named entry of the artifact.
type File struct {
	Name string
	Data []byte
}

// Lesson is an unpacked artifact. Slides keep the order they had in the
// archive.
type Lesson struct {
	Metadata Metadata
	Media    File
	Slides   []File
}

// Filename is the artifact name used for caching and upload.
func Filename(meta Metadata) string {
	name := fmt.Sprintf("%s_%s_%s.zip", meta.Subject, meta.Date, meta.Time)
	return strings.NewReplacer("/", "-", "\\", "-").Replace(name)
}

// Table parses the timeline. Malformed timelines are rejected.
func (l *Lesson) Table() (timeline.Table, error) {
	return timeline.Parse(l.Metadata.Timeline)
}

// FromRecording packages a stopped recording. Slide refs are read from disk.
func FromRecording(meta Metadata, rec *recorder.Result) (*Lesson, error) {
	return FromFiles(meta, File{Name: rec.MediaName, Data: rec.Media}, rec.Timeline, rec.Slides)
}

// FromFiles packages media that was captured elsewhere together with a
// timeline and the slide images at refs.
func FromFiles(meta Metadata, media File, table timeline.Table, refs []string) (*Lesson, error) {
	meta.Timeline = table.String()
	l := &Lesson{Metadata: meta, Media: media}
	for _, ref := range refs {
		data, err := os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read slide: %w", err)
		}
		l.Slides = append(l.Slides, File{Name: filepath.Base(ref), Data: data})
	}
	return l, nil
}

// ReadMedia loads a media file from disk, keeping its base name.
func ReadMedia(p string) (File, error) {
	data, err := os.ReadFile(p)
	if err != nil {
		return File{}, fmt.Errorf("read media: %w", err)
	}
	return File{Name: filepath.Base(p), Data: data}, nil
}

// Write encodes l as a zip archive.
func Write(w io.Writer, l *Lesson) error {
	if l.Media.Name == "" {
		return fmt.Errorf("%w: no media", ErrInvalidArtifact)
	}

	zw := zip.NewWriter(w)

	meta, err := json.MarshalIndent(l.Metadata, "", "  ")
	if err != nil {
		return err
	}
	if err := writeEntry(zw, metadataFile, meta); err != nil {
		return err
	}
	if err := writeEntry(zw, path.Base(l.Media.Name), l.Media.Data); err != nil {
		return err
	}
	for _, s := range l.Slides {
		if err := writeEntry(zw, slidesDir+path.Base(s.Name), s.Data); err != nil {
			return err
		}
	}
	return zw.Close()
}

// Encode returns the zip archive of l.
func Encode(l *Lesson) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, l); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Read decodes an artifact. It needs metadata.json and exactly one media
// file at the top level.
func Read(r io.ReaderAt, size int64) (*Lesson, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArtifact, err)
	}

	l := &Lesson{}
	var haveMeta bool
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		name := f.Name
		switch {
		case name == metadataFile:
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			if err := json.Unmarshal(data, &l.Metadata); err != nil {
				return nil, fmt.Errorf("%w: metadata: %v", ErrInvalidArtifact, err)
			}
			haveMeta = true
		case strings.HasPrefix(name, slidesDir):
			if strings.Contains(strings.TrimPrefix(name, slidesDir), "/") {
				continue
			}
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			l.Slides = append(l.Slides, File{Name: path.Base(name), Data: data})
		case !strings.Contains(name, "/"):
			if l.Media.Name != "" {
				return nil, fmt.Errorf("%w: more than one media file", ErrInvalidArtifact)
			}
			data, err := readEntry(f)
			if err != nil {
				return nil, err
			}
			l.Media = File{Name: name, Data: data}
		}
	}

	if !haveMeta {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidArtifact, metadataFile)
	}
	if l.Media.Name == "" {
		return nil, fmt.Errorf("%w: missing media", ErrInvalidArtifact)
	}
	return l, nil
}

// Decode reads an artifact held in memory.
func Decode(data []byte) (*Lesson, error) {
	return Read(bytes.NewReader(data), int64(len(data)))
}

// readEntry refuses entries over maxEntrySize. The header can lie, so the
// stream is capped as well.
func readEntry(f *zip.File) ([]byte, error) {
	if f.UncompressedSize64 > maxEntrySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidArtifact, f.Name, maxEntrySize)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrInvalidArtifact, f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(io.LimitReader(rc, int64(maxEntrySize)+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidArtifact, f.Name, err)
	}
	if uint64(len(data)) > maxEntrySize {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidArtifact, f.Name, maxEntrySize)
	}
	return data, nil
}

// ExtractSlides writes the slides into a new directory under dir and returns
// them as a set. Releasing the set removes the directory.
func (l *Lesson) ExtractSlides(dir string) (*slides.Set, error) {
	tmp, err := os.MkdirTemp(dir, "slides-")
	if err != nil {
		return nil, fmt.Errorf("extract slides: %w", err)
	}

	refs := make([]string, 0, len(l.Slides))
	for _, s := range l.Slides {
		p := filepath.Join(tmp, filepath.Base(s.Name))
		if err := os.WriteFile(p, s.Data, 0o600); err != nil {
			os.RemoveAll(tmp)
			return nil, fmt.Errorf("extract slides: %w", err)
		}
		refs = append(refs, p)
	}

	return slides.NewSet(refs, func() { os.RemoveAll(tmp) }), nil
}
