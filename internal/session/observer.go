package session

import "sync"

// observer доставляет снимки подписчику в порядке публикации.
// Очередь не ограничена: медленный подписчик не блокирует Resolver.
type observer struct {
	ch     chan Session
	mu     sync.Mutex
	queue  []Session
	signal chan struct{}
	done   chan struct{}
	once   sync.Once
}

func newObserver() *observer {
	o := &observer{
		ch:     make(chan Session),
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go o.pump()
	return o
}

func (o *observer) publish(s Session) {
	o.mu.Lock()
	o.queue = append(o.queue, s)
	o.mu.Unlock()

	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *observer) close() {
	o.once.Do(func() { close(o.done) })
}

func (o *observer) pump() {
	defer close(o.ch)
	for {
		o.mu.Lock()
		if len(o.queue) == 0 {
			o.mu.Unlock()
			select {
			case <-o.signal:
				continue
			case <-o.done:
				return
			}
		}
		next := o.queue[0]
		o.queue = o.queue[1:]
		o.mu.Unlock()

		select {
		case o.ch <- next:
		case <-o.done:
			return
		}
	}
}
