package memory

import (
	"container/heap"
	"time"
)

// timeIndex 按时间排序的小顶堆，允许过期条目残留
// 查询时与当前记录比对，不一致的条目直接丢弃
type timeIndex struct {
	entries timeEntries
}

type timeEntry struct {
	id int64
	at time.Time
}

type timeEntries []timeEntry

func (h timeEntries) Len() int { return len(h) }
func (h timeEntries) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].id < h[j].id
	}
	return h[i].at.Before(h[j].at)
}
func (h timeEntries) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timeEntries) Push(x any)   { *h = append(*h, x.(timeEntry)) }
func (h *timeEntries) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	*h = old[:n-1]
	return e
}

func (x *timeIndex) push(id int64, at time.Time) {
	heap.Push(&x.entries, timeEntry{id: id, at: at})
}

// due 弹出所有 at <= now 的条目，valid 返回 true 的条目会被重新放回
// 返回结果按时间升序，最多 limit 条
func (x *timeIndex) due(now time.Time, limit int, valid func(id int64, at time.Time) bool) []int64 {
	var (
		ids  []int64
		keep []timeEntry
		seen = make(map[int64]struct{})
	)
	for x.entries.Len() > 0 && len(ids) < limit {
		top := x.entries[0]
		if top.at.After(now) {
			break
		}
		heap.Pop(&x.entries)
		if _, dup := seen[top.id]; dup {
			continue
		}
		if !valid(top.id, top.at) {
			continue
		}
		seen[top.id] = struct{}{}
		ids = append(ids, top.id)
		keep = append(keep, top)
	}
	for _, e := range keep {
		heap.Push(&x.entries, e)
	}
	return ids
}
