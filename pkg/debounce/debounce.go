// Package debounce 把一段时间内的多次触发合并成一次执行
package debounce

import (
	"sync"
	"time"
)

// Debouncer 尾沿防抖：每次 Trigger 都会把执行时间推迟到 wait 之后，
// 直到安静期结束才调用一次 fn。Trigger 永不阻塞。
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	fn      func()
	timer   *time.Timer
	gen     uint64 // 每次 Trigger/Cancel 递增，旧定时器回调据此失效
	stopped bool
}

// New 创建防抖器；fn 在独立 goroutine 中执行
func New(wait time.Duration, fn func()) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

// Trigger 触发（或重新计时）一次延迟执行
func (d *Debouncer) Trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.gen++
	gen := d.gen
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, func() { d.fire(gen) })
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if d.stopped || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// Pending 是否有尚未执行的触发
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.timer != nil
}

// Cancel 丢弃尚未执行的触发（之后仍可再次 Trigger）
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

// Stop 永久停止；已经在执行中的 fn 不受影响
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}
