package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StoreOptions 控制磁盘权限与扫描重试策略。
type StoreOptions struct {
	DirMode     os.FileMode
	FileMode    os.FileMode
	ScanRetries int
	ScanBackoff time.Duration
}

const tempPrefix = ".cache-"

// NewStore 以 basePath 为根目录构建磁盘缓存，整站复用一份实例。
func NewStore(basePath string, opts StoreOptions) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	perms := newPermissions(opts.DirMode, opts.FileMode)
	if err := perms.mkdir(abs); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	retries := opts.ScanRetries
	if retries < 0 {
		retries = 0
	}

	return &fileStore{
		basePath:    abs,
		perms:       perms,
		scanRetries: retries,
		scanBackoff: opts.ScanBackoff,
	}, nil
}

// fileStore 不加锁：同一 hash 的并发写入内容必然一致，metadata.json 最后落盘即可。
type fileStore struct {
	basePath    string
	perms       permissions
	scanRetries int
	scanBackoff time.Duration
}

func (s *fileStore) Write(ctx context.Context, record Record, original, converted io.Reader) (*Entry, error) {
	if err := validateRecord(record); err != nil {
		return nil, err
	}
	dir := filepath.Join(s.basePath, record.Hash)

	if err := s.perms.mkdir(dir); err != nil {
		return nil, fmt.Errorf("%w: create entry dir: %w", ErrStorageIO, err)
	}

	originalName := record.Filename + record.Extension
	convertedName := record.Filename + ConvertedExtension

	// 先撤掉旧的 metadata，重写期间读路径看到的是“写入中”，而不是新旧混合的条目。
	if err := os.Remove(filepath.Join(dir, MetadataFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: reset metadata: %w", ErrStorageIO, err)
	}
	if err := s.pruneForeignMembers(dir, originalName, convertedName); err != nil {
		return nil, fmt.Errorf("%w: prune entry dir: %w", ErrStorageIO, err)
	}

	originalSize, err := s.writeMember(ctx, dir, originalName, original)
	if err != nil {
		return nil, fmt.Errorf("%w: write original: %w", ErrStorageIO, err)
	}
	convertedSize, err := s.writeMember(ctx, dir, convertedName, converted)
	if err != nil {
		return nil, fmt.Errorf("%w: write converted: %w", ErrStorageIO, err)
	}

	meta, err := encodeMetadata(record)
	if err != nil {
		return nil, fmt.Errorf("%w: encode metadata: %w", ErrStorageIO, err)
	}
	if _, err := s.writeMember(ctx, dir, MetadataFile, bytes.NewReader(meta)); err != nil {
		return nil, fmt.Errorf("%w: write metadata: %w", ErrStorageIO, err)
	}

	return &Entry{
		Hash:          record.Hash,
		Filename:      record.Filename,
		Extension:     record.Extension,
		ExpiresAt:     record.ExpiresAt,
		OriginalSize:  originalSize,
		ConvertedSize: convertedSize,
		ModTime:       time.Now(),
		Dir:           dir,
	}, nil
}

func (s *fileStore) Stat(ctx context.Context, hash string) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir, err := s.entryDir(hash)
	if err != nil {
		return nil, err
	}
	entry, _, err := s.inspect(hash, dir)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, ErrNotFound
	}
	return entry, nil
}

func (s *fileStore) Open(ctx context.Context, hash string, kind Kind) (*ReadResult, error) {
	entry, err := s.Stat(ctx, hash)
	if err != nil {
		return nil, err
	}

	var name string
	var size int64
	switch kind {
	case KindOriginal:
		name, size = entry.OriginalName(), entry.OriginalSize
	case KindConverted:
		name, size = entry.ConvertedName(), entry.ConvertedSize
	default:
		return nil, fmt.Errorf("unknown payload kind %q", kind)
	}

	f, err := os.Open(filepath.Join(entry.Dir, name))
	if err != nil {
		// Reaper 可能在 Stat 与 Open 之间删掉了目录。
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: open %s: %w", ErrStorageIO, kind, err)
	}

	return &ReadResult{
		Entry:  *entry,
		Kind:   kind,
		Name:   name,
		Size:   size,
		Reader: f,
	}, nil
}

func (s *fileStore) Delete(ctx context.Context, hash string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir, err := s.entryDir(hash)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := s.perms.makeRemovable(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: clear read-only bits: %w", ErrStorageIO, err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("%w: remove entry: %w", ErrStorageIO, err)
	}
	return nil
}

func (s *fileStore) Scan(ctx context.Context) (*ScanResult, error) {
	dirents, err := s.readRoot(ctx)
	if err != nil {
		return nil, err
	}

	result := &ScanResult{}
	for _, dirent := range dirents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !dirent.IsDir() || !validHash(dirent.Name()) {
			continue
		}
		hash := dirent.Name()
		entry, incomplete, err := s.inspect(hash, filepath.Join(s.basePath, hash))
		switch {
		case err != nil && errors.Is(err, ErrNotFound):
			// 扫描与删除并发，目录已经消失。
		case err != nil:
			result.Failed++
		case entry != nil:
			result.Entries = append(result.Entries, *entry)
		case incomplete != nil:
			result.Incomplete = append(result.Incomplete, *incomplete)
		}
	}
	return result, nil
}

// readRoot 读取根目录，失败时按 scanRetries 有限次重试。
func (s *fileStore) readRoot(ctx context.Context) ([]os.DirEntry, error) {
	var lastErr error
	for attempt := 0; attempt <= s.scanRetries; attempt++ {
		if attempt > 0 && s.scanBackoff > 0 {
			timer := time.NewTimer(s.scanBackoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, ctx.Err()
			case <-timer.C:
			}
		}
		dirents, err := os.ReadDir(s.basePath)
		if err == nil {
			return dirents, nil
		}
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: scan %s after %d attempts: %w", ErrStorageIO, s.basePath, s.scanRetries+1, lastErr)
}

// inspect 校验单个条目目录；完整时返回 Entry，不完整时返回 Incomplete。
func (s *fileStore) inspect(hash, dir string) (*Entry, *Incomplete, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: stat %s: %w", ErrStorageIO, hash, err)
	}
	if !info.IsDir() {
		return nil, nil, ErrNotFound
	}

	members, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("%w: list %s: %w", ErrStorageIO, hash, err)
	}

	incomplete := &Incomplete{Hash: hash, Dir: dir, Members: len(members), ModTime: info.ModTime()}
	if len(members) != entryMembers {
		return nil, incomplete, nil
	}

	byName := make(map[string]os.DirEntry, len(members))
	for _, member := range members {
		byName[member.Name()] = member
	}
	if _, ok := byName[MetadataFile]; !ok {
		return nil, incomplete, nil
	}

	doc, err := readMetadata(filepath.Join(dir, MetadataFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, ErrNotFound
		}
		return nil, incomplete, nil
	}

	filename, ext := doc.Filename, doc.Extension
	if filename == "" {
		var ok bool
		if filename, ext, ok = inferLegacyNames(members); !ok {
			return nil, incomplete, nil
		}
	}

	entry := &Entry{
		Hash:      hash,
		Filename:  filename,
		Extension: ext,
		ExpiresAt: doc.expiresAt(),
		ModTime:   info.ModTime(),
		Dir:       dir,
	}
	originalSize, ok := regularSize(byName[entry.OriginalName()])
	if !ok {
		return nil, incomplete, nil
	}
	convertedSize, ok := regularSize(byName[entry.ConvertedName()])
	if !ok {
		return nil, incomplete, nil
	}
	entry.OriginalSize = originalSize
	entry.ConvertedSize = convertedSize
	return entry, nil, nil
}

// inferLegacyNames 兼容只记录 expiry_date 的旧 metadata：.mp3 成员为转换结果，另一个为原始文件。
func inferLegacyNames(members []os.DirEntry) (string, string, bool) {
	var converted, original string
	for _, member := range members {
		name := member.Name()
		switch {
		case name == MetadataFile:
		case strings.EqualFold(filepath.Ext(name), ConvertedExtension) && converted == "":
			converted = name
		default:
			original = name
		}
	}
	if converted == "" || original == "" {
		return "", "", false
	}
	base := strings.TrimSuffix(converted, filepath.Ext(converted))
	ext := filepath.Ext(original)
	if strings.TrimSuffix(original, ext) != base || filepath.Ext(converted) != ConvertedExtension {
		return "", "", false
	}
	return base, ext, true
}

func regularSize(member os.DirEntry) (int64, bool) {
	if member == nil || !member.Type().IsRegular() {
		return 0, false
	}
	info, err := member.Info()
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}

// writeMember 通过临时文件 + rename 写入单个成员，失败时清理临时文件。
func (s *fileStore) writeMember(ctx context.Context, dir, name string, body io.Reader) (int64, error) {
	tempFile, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, err
	}
	tempName := tempFile.Name()

	written, err := copyWithContext(ctx, tempFile, body)
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil {
		err = s.perms.chmodFile(tempName)
	}
	if err != nil {
		os.Remove(tempName)
		return 0, err
	}

	if err := os.Rename(tempName, filepath.Join(dir, name)); err != nil {
		os.Remove(tempName)
		return 0, err
	}
	return written, nil
}

// pruneForeignMembers 删除不属于本次写入的旧载荷（同一 hash 以不同文件名重新上传时）。
// 其他写入者的临时文件保留，避免打断并发写入。
func (s *fileStore) pruneForeignMembers(dir, originalName, convertedName string) error {
	members, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, member := range members {
		name := member.Name()
		if name == originalName || name == convertedName || name == MetadataFile || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		path := filepath.Join(dir, name)
		if err := s.perms.makeRemovable(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		if err := os.RemoveAll(path); err != nil {
			return err
		}
	}
	return nil
}

func (s *fileStore) entryDir(hash string) (string, error) {
	if !validHash(hash) {
		return "", ErrNotFound
	}
	return filepath.Join(s.basePath, hash), nil
}

func validateRecord(record Record) error {
	if !validHash(record.Hash) {
		return fmt.Errorf("%w: hash %q", ErrInvalidRecord, record.Hash)
	}
	if record.Filename == "" || strings.ContainsAny(record.Filename, `/\`) || strings.HasPrefix(record.Filename, ".") {
		return fmt.Errorf("%w: filename %q", ErrInvalidRecord, record.Filename)
	}
	if !strings.HasPrefix(record.Extension, ".") || strings.ContainsAny(record.Extension, `/\`) {
		return fmt.Errorf("%w: extension %q", ErrInvalidRecord, record.Extension)
	}
	if strings.EqualFold(record.Extension, ConvertedExtension) {
		return fmt.Errorf("%w: original extension collides with converted payload", ErrInvalidRecord)
	}
	if record.Filename+record.Extension == MetadataFile {
		return fmt.Errorf("%w: original name collides with metadata", ErrInvalidRecord)
	}
	if record.ExpiresAt.IsZero() {
		return fmt.Errorf("%w: expiry required", ErrInvalidRecord)
	}
	return nil
}

// validHash 只接受 64 位小写十六进制，顺带挡住 .pending 等非条目目录与路径穿越。
func validHash(hash string) bool {
	if len(hash) != 64 {
		return false
	}
	for i := 0; i < len(hash); i++ {
		c := hash[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
