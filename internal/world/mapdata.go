package world

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/annel0/fg-server/internal/vec"
	"gopkg.in/yaml.v3"
)

// ErrUnknownMap возвращается загрузчиком, если карта не найдена
var ErrUnknownMap = errors.New("unknown map")

// EntitySpec описание объекта мира в файле карты
type EntitySpec struct {
	ID               int32             `yaml:"id"`
	Name             string            `yaml:"name"`
	Pos              vec.Vec2          `yaml:"pos"`
	Interactable     bool              `yaml:"interactable"`
	Walkable         bool              `yaml:"walkable"`
	Visible          bool              `yaml:"visible"`
	InteractDistance int               `yaml:"interact_distance"`
	Scene            string            `yaml:"scene"`
	Script           string            `yaml:"script"`
	Params           map[string]string `yaml:"params"`
}

// MapData статические данные карты: проходимость, точка появления и объекты
type MapData struct {
	Name      string
	Spawn     vec.Vec2
	Collision *CollisionGrid
	Entities  []EntitySpec
}

// mapFile формат YAML-файла карты
type mapFile struct {
	Name      string       `yaml:"name"`
	Origin    vec.Vec2     `yaml:"origin"`
	Spawn     vec.Vec2     `yaml:"spawn"`
	Collision []string     `yaml:"collision"`
	Entities  []EntitySpec `yaml:"entities"`
}

// MapLoader отдаёт данные карты по имени
type MapLoader interface {
	LoadMap(name string) (*MapData, error)
}

// ParseMap разбирает YAML описание карты
func ParseMap(data []byte) (*MapData, error) {
	var mf mapFile
	if err := yaml.Unmarshal(data, &mf); err != nil {
		return nil, fmt.Errorf("не удалось разобрать карту: %w", err)
	}
	if mf.Name == "" {
		return nil, fmt.Errorf("карта без имени")
	}
	grid, err := ParseCollisionRows(mf.Origin, mf.Collision)
	if err != nil {
		return nil, fmt.Errorf("карта %s: %w", mf.Name, err)
	}
	return &MapData{
		Name:      mf.Name,
		Spawn:     mf.Spawn,
		Collision: grid,
		Entities:  mf.Entities,
	}, nil
}

// FileMapLoader читает карты из <dir>/<name>.yaml и кэширует их
type FileMapLoader struct {
	dir string

	mu    sync.Mutex
	cache map[string]*MapData
}

// NewFileMapLoader создаёт загрузчик карт из каталога
func NewFileMapLoader(dir string) *FileMapLoader {
	return &FileMapLoader{dir: dir, cache: make(map[string]*MapData)}
}

// LoadMap реализует MapLoader
func (l *FileMapLoader) LoadMap(name string) (*MapData, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if md, ok := l.cache[name]; ok {
		return md, nil
	}
	if name == "" || filepath.Base(name) != name {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMap, name)
	}

	data, err := os.ReadFile(filepath.Join(l.dir, name+".yaml"))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownMap, name)
		}
		return nil, fmt.Errorf("не удалось прочитать карту %s: %w", name, err)
	}
	md, err := ParseMap(data)
	if err != nil {
		return nil, err
	}
	if md.Name != name {
		return nil, fmt.Errorf("файл %s.yaml описывает карту %s", name, md.Name)
	}
	l.cache[name] = md
	return md, nil
}

// StaticMapLoader отдаёт заранее построенные карты
type StaticMapLoader map[string]*MapData

// LoadMap реализует MapLoader
func (l StaticMapLoader) LoadMap(name string) (*MapData, error) {
	md, ok := l[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMap, name)
	}
	return md, nil
}
