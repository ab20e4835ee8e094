package assets

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/anima/engine/core"
)

var (
	ErrAssetNotFound = errors.New("asset not found")
	ErrNoDecoder     = errors.New("no decoder registered")
	ErrManagerClosed = errors.New("asset manager already closed")
)

type AssetInfo struct {
	Name       string
	Path       string
	LastLoaded time.Time
}

// MeshDecoder turns an imported model file into MeshData. File formats are
// provided by the application; the engine only ships the in-memory source.
type MeshDecoder interface {
	Decode(path string) (*MeshData, error)
}

// Source supplies mesh data by name. AssetManager is the engine's implementation.
type Source interface {
	LoadMesh(name string) (*MeshData, error)
	LoadTexture(name string) (*TextureData, error)
}

// AssetChange is reported when a watched file is created, written or removed.
type AssetChange struct {
	Name    string
	Path    string
	Removed bool
}

type AssetManager struct {
	meshes   map[string]*MeshData
	files    map[string]AssetInfo
	decoders map[string]MeshDecoder
	textures *TextureLoader

	mutex sync.RWMutex

	done     chan struct{}
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan AssetChange
	wg       sync.WaitGroup
}

func NewAssetManager() *AssetManager {
	return &AssetManager{
		meshes:   make(map[string]*MeshData),
		files:    make(map[string]AssetInfo),
		decoders: make(map[string]MeshDecoder),
		textures: NewTextureLoader(),
		changes:  make(chan AssetChange, 64),
		done:     make(chan struct{}),
	}
}

// RegisterMesh makes md available under name without touching the disk.
func (am *AssetManager) RegisterMesh(name string, md *MeshData) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.meshes[name] = md
}

// RegisterDecoder associates a file extension (".glb") with a decoder.
func (am *AssetManager) RegisterDecoder(ext string, decoder MeshDecoder) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	am.decoders[strings.ToLower(ext)] = decoder
}

// LoadMesh is safe to call from background workers.
func (am *AssetManager) LoadMesh(name string) (*MeshData, error) {
	am.mutex.RLock()
	md, registered := am.meshes[name]
	info, indexed := am.files[name]
	var decoder MeshDecoder
	if indexed {
		decoder = am.decoders[strings.ToLower(filepath.Ext(info.Path))]
	}
	am.mutex.RUnlock()

	if registered {
		return md, md.Validate()
	}
	if !indexed {
		return nil, fmt.Errorf("%w: mesh '%s'", ErrAssetNotFound, name)
	}
	if decoder == nil {
		return nil, fmt.Errorf("%w: for '%s'", ErrNoDecoder, info.Path)
	}

	md, err := decoder.Decode(info.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to decode '%s': %w", info.Path, err)
	}
	if err := md.Validate(); err != nil {
		return nil, err
	}

	am.mutex.Lock()
	info.LastLoaded = time.Now()
	am.files[name] = info
	am.mutex.Unlock()
	return md, nil
}

// LoadTexture decodes the indexed image file registered under name.
func (am *AssetManager) LoadTexture(name string) (*TextureData, error) {
	am.mutex.RLock()
	info, ok := am.files[name]
	am.mutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: texture '%s'", ErrAssetNotFound, name)
	}
	return am.textures.Load(name, info.Path)
}

// Changes reports watched file events. It is closed by Close.
func (am *AssetManager) Changes() <-chan AssetChange {
	return am.changes
}

// Watch indexes every file under dir and keeps the index current until Close.
func (am *AssetManager) Watch(dir string) error {
	if am.isClosed {
		return ErrManagerClosed
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	am.fsnotify = w
	if err := am.watchRecursive(dir); err != nil {
		w.Close()
		am.fsnotify = nil
		return err
	}
	am.wg.Add(1)
	go am.start()
	core.LogInfo("Watching assets under '%s'.", dir)
	return nil
}

// Index adds every file under dir without watching it.
func (am *AssetManager) Index(dir string) error {
	return filepath.Walk(dir, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			am.handleFileEvent(walkPath)
		}
		return nil
	})
}

func (am *AssetManager) Close() error {
	if am.isClosed {
		return ErrManagerClosed
	}
	am.isClosed = true
	close(am.done)
	am.wg.Wait()
	close(am.changes)
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e := <-am.fsnotify.Events:
			s, err := os.Stat(e.Name)
			if err == nil && s != nil && s.IsDir() {
				if e.Op&fsnotify.Create != 0 {
					if err := am.watchRecursive(e.Name); err != nil {
						core.LogError(err.Error())
					}
				}
				continue
			}
			switch {
			case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
				am.handleFileEvent(e.Name)
				am.notify(AssetChange{Name: assetName(e.Name), Path: e.Name})
			case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				am.removeAsset(e.Name)
				am.notify(AssetChange{Name: assetName(e.Name), Path: e.Name, Removed: true})
			}

		case err := <-am.fsnotify.Errors:
			if err != nil {
				core.LogError(err.Error())
			}

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

// notify never blocks the watcher goroutine.
func (am *AssetManager) notify(change AssetChange) {
	select {
	case am.changes <- change:
	default:
		core.LogWarn("asset change for '%s' dropped, consumer is not draining", change.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(path string) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() {
			return am.fsnotify.Add(walkPath)
		}
		am.handleFileEvent(walkPath)
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	name := assetName(path)
	am.files[name] = AssetInfo{
		Name: name,
		Path: path,
	}
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.files, assetName(path))
}

// assetName strips directory and extension: assets/models/Soldier.glb -> Soldier.
func assetName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
