package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileStore — коллаборатор персистентности реестра: хранит Snapshot в
// JSON-файле и умеет следить за его внешними изменениями. Ядро про файл
// не знает — интегрирующее приложение подписывает FileStore на
// Registry.OnChange и, наоборот, скармливает реестру перечитанные
// снапшоты.
type FileStore struct {
	path   string
	logger *slog.Logger
}

// NewFileStore создаёт хранилище снапшотов по указанному пути.
func NewFileStore(path string, logger *slog.Logger) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("filestore path is empty")
	}
	return &FileStore{path: path, logger: logger}, nil
}

// Load читает снапшот из файла. Второй результат false, если файла нет.
func (s *FileStore) Load() (Snapshot, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("read snapshot %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return Snapshot{}, false, nil
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("unmarshal snapshot %s: %w", s.path, err)
	}
	return snap, true, nil
}

// Save атомарно записывает снапшот: сначала во временный файл рядом,
// затем rename. Читатель никогда не увидит полузаписанный JSON.
func (s *FileStore) Save(snap Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpName := tmpFile.Name()
	if err := os.Chmod(tmpName, 0o600); err != nil && !errors.Is(err, os.ErrPermission) {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Watch следит за файлом снапшота и зовёт onReload после каждой записи,
// пока контекст жив. Наблюдение ставится на каталог: редакторы и наш же
// Save заменяют файл через rename, и watch на сам файл после этого
// слепнет. События схлопываются по debounce, чтобы серия записей
// давала одно перечитывание. Собственные записи тоже приводят к
// onReload — LoadSnapshot идемпотентен, и цикла с OnChange не
// возникает, потому что LoadSnapshot наблюдателей не зовёт.
func (s *FileStore) Watch(ctx context.Context, debounce time.Duration, onReload func(Snapshot)) error {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		watcher.Close()
		return fmt.Errorf("create store dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	go func() {
		defer watcher.Close()

		var timer *time.Timer
		var timerC <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(s.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(debounce)
					timerC = timer.C
				} else {
					timer.Reset(debounce)
				}
			case <-timerC:
				snap, found, err := s.Load()
				if err != nil {
					if s.logger != nil {
						s.logger.Warn("snapshot reload failed", slog.String("error", err.Error()))
					}
					continue
				}
				if found {
					onReload(snap)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				if s.logger != nil {
					s.logger.Warn("snapshot watcher error", slog.String("error", err.Error()))
				}
			}
		}
	}()
	return nil
}
