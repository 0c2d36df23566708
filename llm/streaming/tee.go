package streaming

import (
	"context"
	"sync"
	"sync/atomic"
)

// Tee 将单一上游通道复制给多个独立消费者。
//
// 所有元素追加到同一个只增不减的缓冲区，由唯一的上游读取 goroutine 填充；
// 每个 Cursor 维护自己的读位置，慢消费者不会丢数据，也不会阻塞其他消费者。
type Tee[T any] struct {
	mu     sync.Mutex
	items  []T
	done   bool
	err    error
	notify chan struct{} // 每次追加或结束时关闭并替换

	produced atomic.Int64
}

// Cursor 是 Tee 上的独立读游标，不可并发使用。
type Cursor[T any] struct {
	tee *Tee[T]
	pos int
}

// NewTee 启动上游读取并返回 n 个游标（n 至少为 1）。
// ctx 取消时上游读取停止，游标在读完已缓冲元素后返回 ctx 的错误。
func NewTee[T any](ctx context.Context, src <-chan T, n int) (*Tee[T], []*Cursor[T]) {
	if n < 1 {
		n = 1
	}
	t := &Tee[T]{notify: make(chan struct{})}
	cursors := make([]*Cursor[T], n)
	for i := range cursors {
		cursors[i] = &Cursor[T]{tee: t}
	}
	go t.pump(ctx, src)
	return t, cursors
}

func (t *Tee[T]) pump(ctx context.Context, src <-chan T) {
	for {
		select {
		case <-ctx.Done():
			t.finish(ctx.Err())
			return
		case item, ok := <-src:
			if !ok {
				t.finish(nil)
				return
			}
			t.append(item)
		}
	}
}

func (t *Tee[T]) append(item T) {
	t.mu.Lock()
	t.items = append(t.items, item)
	ch := t.notify
	t.notify = make(chan struct{})
	t.mu.Unlock()

	t.produced.Add(1)
	close(ch)
}

func (t *Tee[T]) finish(err error) {
	t.mu.Lock()
	if t.done {
		t.mu.Unlock()
		return
	}
	t.done = true
	t.err = err
	ch := t.notify
	t.mu.Unlock()
	close(ch)
}

// Produced 返回上游已写入的元素数量。
func (t *Tee[T]) Produced() int64 {
	return t.produced.Load()
}

// Next 返回下一个元素。上游正常结束且已读完时 ok 为 false、err 为 nil；
// 上游因 ctx 取消而结束时返回该错误。
func (c *Cursor[T]) Next(ctx context.Context) (item T, ok bool, err error) {
	for {
		c.tee.mu.Lock()
		if c.pos < len(c.tee.items) {
			item = c.tee.items[c.pos]
			c.pos++
			c.tee.mu.Unlock()
			return item, true, nil
		}
		if c.tee.done {
			err = c.tee.err
			c.tee.mu.Unlock()
			return item, false, err
		}
		wait := c.tee.notify
		c.tee.mu.Unlock()

		select {
		case <-ctx.Done():
			return item, false, ctx.Err()
		case <-wait:
		}
	}
}

// Position 返回游标已消费的元素数量。
func (c *Cursor[T]) Position() int {
	return c.pos
}
