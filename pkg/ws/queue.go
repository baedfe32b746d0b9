package ws

// frameQueue 有界 FIFO 环形队列，满时覆盖最旧元素。非并发安全，由 Connection.mu 保护
type frameQueue struct {
	buf   [][]byte
	head  int
	count int
}

func newFrameQueue(capacity int) *frameQueue {
	return &frameQueue{buf: make([][]byte, capacity)}
}

// push 入队，返回是否丢弃了最旧元素
func (q *frameQueue) push(frame []byte) bool {
	if len(q.buf) == 0 {
		return true
	}
	if q.count == len(q.buf) {
		q.buf[q.head] = frame
		q.head = (q.head + 1) % len(q.buf)
		return true
	}
	q.buf[(q.head+q.count)%len(q.buf)] = frame
	q.count++
	return false
}

// drain 按入队顺序取出全部元素
func (q *frameQueue) drain() [][]byte {
	out := make([][]byte, 0, q.count)
	for i := 0; i < q.count; i++ {
		idx := (q.head + i) % len(q.buf)
		out = append(out, q.buf[idx])
		q.buf[idx] = nil
	}
	q.head = 0
	q.count = 0
	return out
}

// unshift 将未能发送的元素放回队首，保持原顺序；超出容量的部分按丢弃最旧处理
func (q *frameQueue) unshift(frames [][]byte) {
	rest := q.drain()
	for _, f := range frames {
		q.push(f)
	}
	for _, f := range rest {
		q.push(f)
	}
}

func (q *frameQueue) len() int {
	return q.count
}
