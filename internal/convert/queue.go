package convert

import "container/heap"

// jobQueue は優先度順のジョブキューです。優先度が同じ場合は
// 投入順（FIFO）を維持します。呼び出し側でロックを取る前提で、
// この構造体自体は同期を行いません。
type jobQueue struct {
	heap  jobHeap
	index map[string]*queueItem
	seq   uint64
}

type queueItem struct {
	job *ConversionJob
	pos int
}

func newJobQueue() *jobQueue {
	q := &jobQueue{index: make(map[string]*queueItem)}
	heap.Init(&q.heap)
	return q
}

// Push はジョブを追加します。同一ジョブの二重投入は無視します。
func (q *jobQueue) Push(job *ConversionJob) {
	if _, exists := q.index[job.JobID]; exists {
		return
	}
	q.seq++
	job.seq = q.seq
	item := &queueItem{job: job}
	heap.Push(&q.heap, item)
	q.index[job.JobID] = item
}

// Pop は最も優先度の高いジョブを取り出します。空なら nil を返します。
func (q *jobQueue) Pop() *ConversionJob {
	if q.heap.Len() == 0 {
		return nil
	}
	item := heap.Pop(&q.heap).(*queueItem)
	delete(q.index, item.job.JobID)
	return item.job
}

// Remove は待機中のジョブをキューから取り除きます。
// 取り除けた場合 true を返します。
func (q *jobQueue) Remove(jobID string) bool {
	item, ok := q.index[jobID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, item.pos)
	delete(q.index, jobID)
	return true
}

// Len は待機中のジョブ数を返します。
func (q *jobQueue) Len() int {
	return q.heap.Len()
}

type jobHeap []*queueItem

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	a, b := h[i].job, h[j].job
	if a.Priority.rank() != b.Priority.rank() {
		return a.Priority.rank() < b.Priority.rank()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.seq < b.seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *jobHeap) Push(x any) {
	item := x.(*queueItem)
	item.pos = len(*h)
	*h = append(*h, item)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}
