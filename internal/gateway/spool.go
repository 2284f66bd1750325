package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
)

const (
	spoolJobFile       = "job.json"
	spoolOriginalFile  = "original"
	spoolConvertedFile = "converted"
	spoolDirMode       = 0o750
	spoolFileMode      = 0o640
)

// spoolRecord 是 job.json 的内容；job.json 最后写入，存在即表示载荷完整。
type spoolRecord struct {
	ID        string    `json:"id"`
	Hash      string    `json:"hash"`
	Filename  string    `json:"filename"`
	CreatedAt time.Time `json:"created_at"`
}

// spool 把待写入缓存的任务先落到 .pending/<uuid>/，进程崩溃后可重放。
type spool struct {
	dir string
}

func newSpool(dir string) (*spool, error) {
	if dir == "" {
		return nil, errors.New("spool dir required")
	}
	if err := os.MkdirAll(dir, spoolDirMode); err != nil {
		return nil, fmt.Errorf("create spool dir %s: %w", dir, err)
	}
	return &spool{dir: dir}, nil
}

// put 依次写入两份载荷，最后原子写入 job.json，返回任务目录。
func (s *spool) put(job Job) (string, error) {
	id := uuid.New().String()
	dir := filepath.Join(s.dir, id)
	if err := os.Mkdir(dir, spoolDirMode); err != nil {
		return "", err
	}
	cleanup := func(err error) (string, error) {
		os.RemoveAll(dir)
		return "", err
	}

	if err := os.WriteFile(filepath.Join(dir, spoolOriginalFile), job.Original, spoolFileMode); err != nil {
		return cleanup(err)
	}
	if err := os.WriteFile(filepath.Join(dir, spoolConvertedFile), job.Converted, spoolFileMode); err != nil {
		return cleanup(err)
	}

	data, err := json.MarshalIndent(spoolRecord{
		ID:        id,
		Hash:      job.Hash,
		Filename:  job.Filename,
		CreatedAt: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return cleanup(err)
	}
	tmpPath := filepath.Join(dir, spoolJobFile+".tmp")
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, spoolFileMode)
	if err != nil {
		return cleanup(err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return cleanup(err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return cleanup(err)
	}
	if err := f.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, spoolJobFile)); err != nil {
		return cleanup(err)
	}
	return dir, nil
}

// load 读取任务目录；没有 job.json 的目录返回 fs.ErrNotExist，视为写入中断。
func (s *spool) load(dir string) (Job, error) {
	data, err := os.ReadFile(filepath.Join(dir, spoolJobFile))
	if err != nil {
		return Job{}, err
	}
	var record spoolRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return Job{}, fmt.Errorf("decode %s: %w", spoolJobFile, err)
	}
	original, err := os.ReadFile(filepath.Join(dir, spoolOriginalFile))
	if err != nil {
		return Job{}, err
	}
	converted, err := os.ReadFile(filepath.Join(dir, spoolConvertedFile))
	if err != nil {
		return Job{}, err
	}
	return Job{
		Hash:      record.Hash,
		Filename:  record.Filename,
		Original:  original,
		Converted: converted,
	}, nil
}

// list 返回所有任务目录。
func (s *spool) list() ([]string, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	dirs := make([]string, 0, len(dirents))
	for _, dirent := range dirents {
		if !dirent.IsDir() {
			continue
		}
		dirs = append(dirs, filepath.Join(s.dir, dirent.Name()))
	}
	return dirs, nil
}

func (s *spool) remove(dir string) error {
	return os.RemoveAll(dir)
}
