package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Repository 在 Store 之上叠加过期语义：唯一持有时钟，读路径惰性删除过期条目。
type Repository struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// RepositoryOption 定制 Repository。
type RepositoryOption func(*Repository)

// WithClock 替换时间源，测试中用于推进虚拟时间。
func WithClock(now func() time.Time) RepositoryOption {
	return func(r *Repository) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRepository 创建 Repository；ttl 必须为正。
func NewRepository(store Store, ttl time.Duration, opts ...RepositoryOption) (*Repository, error) {
	if store == nil {
		return nil, errors.New("cache store required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("cache ttl must be positive, got %s", ttl)
	}
	repo := &Repository{store: store, ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, nil
}

// Now 返回 Repository 使用的当前时间。
func (r *Repository) Now() time.Time {
	return r.now()
}

// TTL 返回写入时使用的存活时长。
func (r *Repository) TTL() time.Duration {
	return r.ttl
}

// IsExpired 使用 Repository 的时钟判断条目是否失效。
func (r *Repository) IsExpired(entry Entry) bool {
	return entry.ExpiredAt(r.now())
}

// Find 返回指定载荷的读取结果。过期条目会被立即删除并返回 ErrExpired，
// 之后再查同一 hash 得到 ErrNotFound。
func (r *Repository) Find(ctx context.Context, hash string, kind Kind) (*ReadResult, error) {
	entry, err := r.store.Stat(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			lookupsTotal.WithLabelValues(resultMiss).Inc()
		} else {
			lookupsTotal.WithLabelValues(resultError).Inc()
		}
		return nil, err
	}

	if r.IsExpired(*entry) {
		lookupsTotal.WithLabelValues(resultExpired).Inc()
		if err := r.store.Delete(ctx, hash); err != nil {
			return nil, errors.Join(ErrExpired, err)
		}
		lazyExpiredTotal.Inc()
		return nil, ErrExpired
	}

	result, err := r.store.Open(ctx, hash, kind)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			lookupsTotal.WithLabelValues(resultMiss).Inc()
		} else {
			lookupsTotal.WithLabelValues(resultError).Inc()
		}
		return nil, err
	}
	lookupsTotal.WithLabelValues(resultHit).Inc()
	return result, nil
}

// Store 以 now+TTL 为过期时间写入条目，filename 为上传时的原始文件名。
func (r *Repository) Store(ctx context.Context, hash, filename string, original, converted io.Reader) (*Entry, error) {
	base, ext := SplitFilename(filename)
	record := Record{
		Hash:      hash,
		Filename:  base,
		Extension: ext,
		ExpiresAt: r.now().Add(r.ttl),
	}
	entry, err := r.store.Write(ctx, record, original, converted)
	if err != nil {
		storesTotal.WithLabelValues(resultError).Inc()
		return nil, err
	}
	storesTotal.WithLabelValues(resultOK).Inc()
	return entry, nil
}

// ListLive 返回所有未过期的完整条目，按过期时间升序，其次按 hash。
func (r *Repository) ListLive(ctx context.Context) ([]Entry, error) {
	scan, err := r.store.Scan(ctx)
	if err != nil {
		return nil, err
	}
	now := r.now()
	live := make([]Entry, 0, len(scan.Entries))
	for _, entry := range scan.Entries {
		if entry.ExpiredAt(now) {
			continue
		}
		live = append(live, entry)
	}
	sort.Slice(live, func(i, j int) bool {
		if !live[i].ExpiresAt.Equal(live[j].ExpiresAt) {
			return live[i].ExpiresAt.Before(live[j].ExpiresAt)
		}
		return live[i].Hash < live[j].Hash
	})
	return live, nil
}

// Scan 透传底层全量扫描，供 Reaper 使用。
func (r *Repository) Scan(ctx context.Context) (*ScanResult, error) {
	return r.store.Scan(ctx)
}

// Remove 删除条目目录。
func (r *Repository) Remove(ctx context.Context, hash string) error {
	return r.store.Delete(ctx, hash)
}

// RemoveExpired 重新读取条目，只有当它仍是扫描时看到的那一份（ExpiresAt 相同）
// 且在 now 时已过期才删除。扫描之后被重写或已被删除的条目返回 false。
func (r *Repository) RemoveExpired(ctx context.Context, seen Entry, now time.Time) (bool, error) {
	current, err := r.store.Stat(ctx, seen.Hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if !current.ExpiresAt.Equal(seen.ExpiresAt) || !current.ExpiredAt(now) {
		return false, nil
	}
	if err := r.store.Delete(ctx, seen.Hash); err != nil {
		return false, err
	}
	return true, nil
}

const fallbackFilename = "upload"

// SplitFilename 把上传文件名拆成安全的 base 与小写扩展名，目录部分会被丢弃。
func SplitFilename(name string) (string, string) {
	name = strings.ReplaceAll(name, `\`, "/")
	name = filepath.Base(name)
	if name == "." || name == "/" {
		name = ""
	}
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)
	return sanitizeBase(base), strings.ToLower(ext)
}

func sanitizeBase(base string) string {
	base = strings.Map(func(r rune) rune {
		switch {
		case r < 0x20 || r == 0x7f:
			return -1
		case r == '/' || r == '\\' || r == '"':
			return '_'
		}
		return r
	}, base)
	base = strings.TrimLeft(strings.TrimSpace(base), ".")
	if base == "" {
		return fallbackFilename
	}
	return base
}
