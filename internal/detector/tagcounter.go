package detector

// tagCounter 是一个按插入顺序淘汰的有界计数表。
// 标签空间由 标的×方向×分桶×窗口 组合而成，正常远小于容量，
// 上限只是防止配置异常时无界增长。
type tagCounter struct {
	capacity int
	counts   map[string]int64
	order    []string // 插入顺序，满了淘汰最旧的 key
}

func newTagCounter(capacity int) *tagCounter {
	return &tagCounter{
		capacity: capacity,
		counts:   make(map[string]int64),
		order:    make([]string, 0, capacity),
	}
}

// Inc 使指定标签的计数加一，必要时淘汰最旧的标签
func (c *tagCounter) Inc(tag string) {
	if _, ok := c.counts[tag]; !ok {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.counts, oldest)
		}
		c.order = append(c.order, tag)
	}
	c.counts[tag]++
}

// Snapshot 返回计数表的一份拷贝
func (c *tagCounter) Snapshot() map[string]int64 {
	out := make(map[string]int64, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}
