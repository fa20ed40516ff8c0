package frontier

import (
	"container/heap"

	"github.com/rankmybrand/geocrawl/internal/crawl"
)

// entryHeap orders frontier entries by priority (higher first), breaking
// ties by discovery time (earlier first).
type entryHeap []crawl.FrontierEntry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].DiscoveredAt.Before(h[j].DiscoveredAt)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x any) {
	*h = append(*h, x.(crawl.FrontierEntry))
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	*h = old[:n-1]
	return entry
}

func (h *entryHeap) pushEntry(e crawl.FrontierEntry) {
	heap.Push(h, e)
}

func (h *entryHeap) popEntry() crawl.FrontierEntry {
	return heap.Pop(h).(crawl.FrontierEntry)
}
