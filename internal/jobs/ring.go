package jobs

// ring keeps the last cap lines, evicting the oldest.
type ring struct {
	buf   []string
	start int
	size  int
	total int
}

func newRing(capacity int) *ring {
	if capacity < 1 {
		capacity = 1
	}
	return &ring{buf: make([]string, capacity)}
}

func (r *ring) push(line string) {
	r.total++
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = line
		r.size++
		return
	}
	r.buf[r.start] = line
	r.start = (r.start + 1) % len(r.buf)
}

// tail returns up to n newest lines, oldest first.
func (r *ring) tail(n int) []string {
	if n > r.size || n <= 0 {
		n = r.size
	}
	out := make([]string, n)
	skip := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int { return r.size }
