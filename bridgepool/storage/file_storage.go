package storage

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"torrer/bridgepool/model"
	"torrer/internal/shared/logger"
)

const fileHeader = "# torrer bridge configuration"

var (
	ErrBridgeExists   = errors.New("bridge already exists")
	ErrBridgeNotFound = errors.New("bridge not found")
)

// Storage 接口定义了网桥持久化的行为。
type Storage interface {
	List() ([]model.Bridge, error)
	Add(b model.Bridge) error
	Remove(address string, port int) error
}

// FileStorage 实现了 Storage 接口，每行一个规范形式的网桥。
// 每次修改都整体重写文件；跨进程并发写入时以最后写入者为准。
type FileStorage struct {
	filePath string
	mu       sync.RWMutex
}

// NewFileStorage 创建一个新的 FileStorage 实例。
func NewFileStorage(filePath string) *FileStorage {
	return &FileStorage{
		filePath: filePath,
	}
}

func (fs *FileStorage) Path() string { return fs.filePath }

// List 按文件顺序返回所有网桥。文件不存在时返回空列表。
func (fs *FileStorage) List() ([]model.Bridge, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.load()
}

// Add 追加一个网桥。相同 address:port 已存在时返回 ErrBridgeExists。
func (fs *FileStorage) Add(b model.Bridge) error {
	if err := b.Validate(); err != nil {
		return err
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	bridges, err := fs.load()
	if err != nil {
		return err
	}
	for _, existing := range bridges {
		if existing.Key() == b.Key() {
			return fmt.Errorf("%s: %w", b.Key(), ErrBridgeExists)
		}
	}

	if err := fs.save(append(bridges, b)); err != nil {
		return err
	}
	l := logger.WithComponent("BridgePool/Storage")
	l.Info().Str("bridge", b.Key()).Msg("Bridge added.")
	return nil
}

// Remove 按 address:port 删除网桥。不存在时返回 ErrBridgeNotFound。
func (fs *FileStorage) Remove(address string, port int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	bridges, err := fs.load()
	if err != nil {
		return err
	}

	key := model.Bridge{Address: address, Port: port}.Key()
	kept := make([]model.Bridge, 0, len(bridges))
	for _, b := range bridges {
		if b.Key() != key {
			kept = append(kept, b)
		}
	}
	if len(kept) == len(bridges) {
		return fmt.Errorf("%s: %w", key, ErrBridgeNotFound)
	}

	if err := fs.save(kept); err != nil {
		return err
	}
	l := logger.WithComponent("BridgePool/Storage")
	l.Info().Str("bridge", key).Msg("Bridge removed.")
	return nil
}

// load must be called with fs.mu held.
func (fs *FileStorage) load() ([]model.Bridge, error) {
	l := logger.WithComponent("BridgePool/Storage")

	file, err := os.Open(fs.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			l.Debug().Str("path", fs.filePath).Msg("Bridge file not found, starting with an empty store.")
			return []model.Bridge{}, nil
		}
		return nil, fmt.Errorf("failed to open bridge file: %w", err)
	}
	defer file.Close()

	bridges, err := parseBridgeLines(file, fs.filePath, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read bridge file: %w", err)
	}
	return bridges, nil
}

// save must be called with fs.mu held.
func (fs *FileStorage) save(bridges []model.Bridge) error {
	var sb strings.Builder
	sb.WriteString(fileHeader)
	sb.WriteString("\n")
	for _, b := range bridges {
		sb.WriteString(b.String())
		sb.WriteString("\n")
	}

	dir := filepath.Dir(fs.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create bridge directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".bridges-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to write bridge file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(sb.String()); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write bridge file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write bridge file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write bridge file: %w", err)
	}
	if err := os.Rename(tmpPath, fs.filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to replace bridge file: %w", err)
	}

	l := logger.WithComponent("BridgePool/Storage")

	l.Debug().Int("count", len(bridges)).Msg("Saved bridges to file.")
	return nil
}

// ReadFromTorrc 从 torrc 中导入 "Bridge ..." 配置行，其他配置项忽略。
func ReadFromTorrc(path string) ([]model.Bridge, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open torrc: %w", err)
	}
	defer file.Close()
	return parseBridgeLines(file, path, true)
}

// parseBridgeLines skips blanks, comments and unparseable lines. With
// torrcOnly set, only lines starting with "Bridge " are considered.
func parseBridgeLines(f *os.File, path string, torrcOnly bool) ([]model.Bridge, error) {
	l := logger.WithComponent("BridgePool/Storage")

	bridges := []model.Bridge{}
	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if torrcOnly && !(len(line) > 7 && strings.EqualFold(line[:7], "bridge ")) {
			continue
		}

		b, err := model.ParseBridge(line)
		if err != nil {
			l.Warn().Str("path", path).Int("line", lineNum).Err(err).Msg("Skipping malformed bridge line.")
			continue
		}
		bridges = append(bridges, b)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return bridges, nil
}
