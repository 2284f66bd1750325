package cache

import (
	"context"
	"errors"
	"io"
	"time"
)

// Store 负责管理磁盘缓存的读写。磁盘布局遵循：
//
//	<StoragePath>/<sha256>/<filename><ext>   # 原始上传
//	<StoragePath>/<sha256>/<filename>.mp3    # 转换结果
//	<StoragePath>/<sha256>/metadata.json     # expiry_date/filename/extension
//
// 成员数不等于 3 的目录视为写入中或已损坏，读路径一律当作不存在。
type Store interface {
	// Write 依次写入原始文件、转换结果，最后写 metadata.json。同一 hash 并发写入时后写者胜出。
	Write(ctx context.Context, record Record, original, converted io.Reader) (*Entry, error)

	// Stat 校验三成员约束并返回元数据，不判断是否过期。
	Stat(ctx context.Context, hash string) (*Entry, error)

	// Open 返回指定载荷的可流式读取结果。若不存在或不完整则返回 ErrNotFound。
	Open(ctx context.Context, hash string, kind Kind) (*ReadResult, error)

	// Delete 递归删除条目目录，删除前清除只读权限位；目录不存在不算错误。
	Delete(ctx context.Context, hash string) error

	// Scan 遍历缓存根目录，单个条目失败只计数不中断。
	Scan(ctx context.Context) (*ScanResult, error)
}

// Kind 区分条目内的两份载荷。
type Kind string

const (
	KindOriginal  Kind = "original"
	KindConverted Kind = "converted"
)

// ConvertedExtension 是转换结果的固定扩展名。
const ConvertedExtension = ".mp3"

// MetadataFile 是条目元数据的文件名，属于磁盘布局契约的一部分。
const MetadataFile = "metadata.json"

// entryMembers 是一个完整条目目录的成员数。
const entryMembers = 3

// Record 描述一次待写入的条目。
type Record struct {
	Hash      string
	Filename  string // 不含扩展名
	Extension string // 含前导点，例如 ".mp4"
	ExpiresAt time.Time
}

// Entry 表示一个完整写入的缓存条目。
type Entry struct {
	Hash          string    `json:"hash"`
	Filename      string    `json:"filename"`
	Extension     string    `json:"extension"`
	ExpiresAt     time.Time `json:"expires_at"`
	OriginalSize  int64     `json:"original_size"`
	ConvertedSize int64     `json:"converted_size"`
	ModTime       time.Time `json:"mod_time"`
	Dir           string    `json:"-"`
}

// OriginalName 返回原始载荷在目录中的文件名。
func (e Entry) OriginalName() string {
	return e.Filename + e.Extension
}

// ConvertedName 返回转换结果在目录中的文件名。
func (e Entry) ConvertedName() string {
	return e.Filename + ConvertedExtension
}

// ExpiredAt 判断条目在 now 时刻是否已经失效。
func (e Entry) ExpiredAt(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// ReadResult 组合 Entry 与载荷 Reader，便于 HTTP 层直接流式返回。
type ReadResult struct {
	Entry  Entry
	Kind   Kind
	Name   string
	Size   int64
	Reader io.ReadSeekCloser
}

// Incomplete 描述扫描时发现的不完整目录（写入中或崩溃残留）。
type Incomplete struct {
	Hash    string
	Dir     string
	Members int
	ModTime time.Time
}

// ScanResult 是一次全量扫描的结果。
type ScanResult struct {
	Entries    []Entry
	Incomplete []Incomplete
	Failed     int
}

var (
	// ErrNotFound 表示条目从未缓存，或目录不满足三成员约束。
	ErrNotFound = errors.New("cache entry not found")
	// ErrExpired 表示条目存在但 TTL 已过，读取方应提示重新上传。
	ErrExpired = errors.New("cache entry expired")
	// ErrStorageIO 包装权限、磁盘满、部分写入等底层 IO 错误。
	ErrStorageIO = errors.New("cache storage io")
	// ErrInvalidRecord 表示写入参数不满足布局约束。
	ErrInvalidRecord = errors.New("invalid cache record")
)
