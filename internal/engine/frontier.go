package engine

// Frontier is the FIFO queue of URLs waiting to be crawled. Every URL pushed
// is first recorded in the VisitedSet, so a URL is enqueued at most once per
// session. Owned by the crawl loop; not safe for concurrent use.
type Frontier struct {
	queue   []string
	head    int
	visited *VisitedSet
}

// NewFrontier creates an empty frontier backed by visited.
func NewFrontier(visited *VisitedSet) *Frontier {
	return &Frontier{visited: visited}
}

// Push enqueues rawURL unless it was seen before. Reports whether it was
// enqueued.
func (f *Frontier) Push(rawURL string) bool {
	if !f.visited.Add(rawURL) {
		return false
	}
	f.queue = append(f.queue, rawURL)
	return true
}

// Pop removes and returns the oldest URL.
func (f *Frontier) Pop() (string, bool) {
	if f.head >= len(f.queue) {
		return "", false
	}
	next := f.queue[f.head]
	f.queue[f.head] = ""
	f.head++

	// Reclaim the consumed prefix once it dominates the backing array.
	if f.head > 64 && f.head*2 >= len(f.queue) {
		f.queue = append(f.queue[:0:0], f.queue[f.head:]...)
		f.head = 0
	}
	return next, true
}

// Len returns the number of queued URLs.
func (f *Frontier) Len() int {
	return len(f.queue) - f.head
}

// IsEmpty reports whether nothing is queued.
func (f *Frontier) IsEmpty() bool {
	return f.Len() == 0
}

// Snapshot returns the queued URLs in dequeue order.
func (f *Frontier) Snapshot() []string {
	out := make([]string, f.Len())
	copy(out, f.queue[f.head:])
	return out
}

// Visited returns the VisitedSet backing the frontier.
func (f *Frontier) Visited() *VisitedSet {
	return f.visited
}
