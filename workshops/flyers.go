package workshops

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/afero"
)

// DefaultFlyerMaxBytes is the upload limit for flyer images.
const DefaultFlyerMaxBytes int64 = 5 << 20

var (
	ErrInvalidFlyer  = errors.New("flyer must be an image")
	ErrFlyerTooLarge = errors.New("flyer exceeds the size limit")
)

// FlyerStore keeps uploaded flyer images on a filesystem and serves them
// back under a public base URL.
type FlyerStore struct {
	fs       afero.Fs
	baseURL  string
	maxBytes int64
	now      func() time.Time
}

func NewFlyerStore(fs afero.Fs, baseURL string, maxBytes int64) *FlyerStore {
	if maxBytes <= 0 {
		maxBytes = DefaultFlyerMaxBytes
	}
	if baseURL == "" {
		baseURL = "/flyers"
	}
	return &FlyerStore{
		fs:       fs,
		baseURL:  strings.TrimRight(baseURL, "/"),
		maxBytes: maxBytes,
		now:      time.Now,
	}
}

// MaxBytes reports the upload limit.
func (s *FlyerStore) MaxBytes() int64 {
	return s.maxBytes
}

// LimitLabel formats the upload limit for messages, e.g. "5MB".
func (s *FlyerStore) LimitLabel() string {
	switch {
	case s.maxBytes%(1<<20) == 0:
		return fmt.Sprintf("%dMB", s.maxBytes>>20)
	case s.maxBytes%(1<<10) == 0:
		return fmt.Sprintf("%dKB", s.maxBytes>>10)
	default:
		return fmt.Sprintf("%d bytes", s.maxBytes)
	}
}

// Save stores an image read from r and returns its public URL. The content
// type is sniffed from the bytes, not taken from the client.
func (s *FlyerStore) Save(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, s.maxBytes+1))
	if err != nil {
		return "", fmt.Errorf("read flyer: %w", err)
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrFlyerTooLarge
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return "", ErrInvalidFlyer
	}

	name := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString()[:8], mtype.Extension())
	if err := afero.WriteFile(s.fs, "/"+name, data, 0o644); err != nil {
		return "", fmt.Errorf("write flyer: %w", err)
	}
	return s.baseURL + "/" + name, nil
}

// Handler serves stored flyers. Mount it with the base URL prefix stripped.
// Only individual files are served; directories answer 404 so the set of
// uploads cannot be listed.
func (s *FlyerStore) Handler() http.Handler {
	files := http.FileServer(afero.NewHttpFs(s.fs).Dir("/"))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := s.fs.Stat(path.Clean("/" + r.URL.Path))
		if err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
