package bundle

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/zeebo/blake3"

	"github.com/briangreenhill/inkpot/internal/render"
)

// Fingerprint hashes every file under dir, names included, so any add,
// remove, rename or edit changes the result.
func Fingerprint(dir string) ([32]byte, error) {
	var sum [32]byte
	h := blake3.New()
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		_, _ = io.WriteString(h, filepath.ToSlash(rel))
		_, _ = h.Write([]byte{0})
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(h, f); err != nil {
			return err
		}
		_, _ = h.Write([]byte{0})
		return nil
	})
	if err != nil {
		return sum, fmt.Errorf("fingerprint %s: %w", dir, err)
	}
	copy(sum[:], h.Sum(nil))
	return sum, nil
}

// Watcher polls a bundle directory and hands each successfully loaded
// revision to onChange. It is the development counterpart of a single Load.
type Watcher struct {
	opts     Options
	interval time.Duration
	log      zerolog.Logger
	onChange func(render.Renderer)

	seen bool
	last [32]byte
}

func NewWatcher(opts Options, interval time.Duration, log zerolog.Logger, onChange func(render.Renderer)) *Watcher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Watcher{opts: opts, interval: interval, log: log, onChange: onChange}
}

// Poll loads the bundle if its contents changed since the previous call.
// A revision that fails to load is not retried until it changes again.
// Poll is not safe for concurrent use.
func (w *Watcher) Poll() (bool, error) {
	sum, err := Fingerprint(w.opts.Dir)
	if err != nil {
		return false, err
	}
	if w.seen && sum == w.last {
		return false, nil
	}
	w.seen, w.last = true, sum

	r, err := Load(w.opts)
	if err != nil {
		return false, err
	}
	w.onChange(r)
	return true, nil
}

// Run polls until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		w.poll()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Watcher) poll() {
	changed, err := w.Poll()
	switch {
	case err != nil:
		w.log.Error().Err(err).Str("dir", w.opts.Dir).Msg("bundle reload failed")
	case changed:
		w.log.Info().Str("dir", w.opts.Dir).Msg("bundle reloaded")
	}
}
