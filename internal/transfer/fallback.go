package transfer

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jordanhubbard/mend/pkg/messages"
)

// Fallback persists undeliverable packages as timestamped JSON documents
// under a per-target directory, and watches an inbox directory for packages
// dropped by peers through the same mechanism.
type Fallback struct {
	outDir   string
	inboxDir string
	watcher  *fsnotify.Watcher
	done     chan struct{}
}

// NewFallback creates the fallback with outbox and inbox roots.
func NewFallback(outDir, inboxDir string) (*Fallback, error) {
	for _, dir := range []string{outDir, inboxDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create transfer directory %s: %w", dir, err)
		}
	}
	return &Fallback{outDir: outDir, inboxDir: inboxDir}, nil
}

// Write persists one package under <outDir>/<target>/<timestamp>-<id>.json.
func (f *Fallback) Write(pkg *messages.TransferPackage) error {
	dir := filepath.Join(f.outDir, pkg.TargetSystem)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create target directory: %w", err)
	}

	data, err := json.MarshalIndent(pkg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal package %s: %w", pkg.ID, err)
	}

	name := fmt.Sprintf("%s-%s.json", time.Now().UTC().Format("20060102T150405"), pkg.ID)
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write package file: %w", err)
	}
	log.Printf("[Transfer] Package %s persisted to %s", pkg.ID, path)
	return nil
}

// Watch starts ingesting packages dropped into the inbox directory. Files
// already present are processed first, then fsnotify picks up new drops.
// Ingested files are removed; rejected ones are renamed aside for
// inspection.
func (f *Fallback) Watch(receive func(*messages.TransferPackage) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create inbox watcher: %w", err)
	}
	if err := watcher.Add(f.inboxDir); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch inbox %s: %w", f.inboxDir, err)
	}
	f.watcher = watcher
	f.done = make(chan struct{})

	// Drain anything that arrived while we were down.
	entries, err := os.ReadDir(f.inboxDir)
	if err == nil {
		for _, e := range entries {
			if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
				f.ingest(filepath.Join(f.inboxDir, e.Name()), receive)
			}
		}
	}

	go func() {
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".json") {
					continue
				}
				// Writers may still be flushing; a short delay avoids
				// reading half a document.
				time.Sleep(100 * time.Millisecond)
				f.ingest(ev.Name, receive)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("[Transfer] Inbox watcher error: %v", err)
			case <-f.done:
				return
			}
		}
	}()

	log.Printf("[Transfer] Watching inbox %s", f.inboxDir)
	return nil
}

func (f *Fallback) ingest(path string, receive func(*messages.TransferPackage) error) {
	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[Transfer] Failed to read inbox file %s: %v", path, err)
		return
	}

	var pkg messages.TransferPackage
	if err := json.Unmarshal(data, &pkg); err != nil {
		log.Printf("[Transfer] Malformed inbox file %s: %v", path, err)
		f.reject(path)
		return
	}

	if err := receive(&pkg); err != nil {
		log.Printf("[Transfer] Rejected inbox package %s: %v", pkg.ID, err)
		f.reject(path)
		return
	}

	if err := os.Remove(path); err != nil {
		log.Printf("[Transfer] Failed to remove ingested file %s: %v", path, err)
	}
}

func (f *Fallback) reject(path string) {
	if err := os.Rename(path, path+".rejected"); err != nil {
		log.Printf("[Transfer] Failed to set aside %s: %v", path, err)
	}
}

// Close stops the inbox watcher.
func (f *Fallback) Close() {
	if f.done != nil {
		close(f.done)
		f.done = nil
	}
	if f.watcher != nil {
		f.watcher.Close()
		f.watcher = nil
	}
}
