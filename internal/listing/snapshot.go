// Package listing keeps an eventually consistent, lock-free view of the live
// cache entries. A producer loop rescans the repository and hands the result
// to a consumer loop through a one-slot channel; the consumer publishes it by
// swapping an atomic pointer, so readers never block on disk I/O.
package listing

import (
	"time"

	"github.com/any-hub/convert-hub/internal/cache"
)

// Snapshot 是某一时刻的存活条目集合，发布后不可修改。
type Snapshot struct {
	Version uint64
	TakenAt time.Time
	Entries []cache.Entry
}

// Len 返回条目数量。
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Entries)
}

// Empty 报告快照是否没有任何条目。
func (s *Snapshot) Empty() bool {
	return s.Len() == 0
}

var emptySnapshot = &Snapshot{}
