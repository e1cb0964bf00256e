package event

import (
	"context"
	"log"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
)

// lifecycleTopic 总线内部topic
const lifecycleTopic = "aether.lifecycle"

// defaultSubscriberBuffer 每个订阅者的缓冲事件数
const defaultSubscriberBuffer = 256

// Filter 订阅过滤条件。零值匹配所有事件。
type Filter struct {
	WorkflowID   string
	WorkflowType string
}

// Matches 事件是否命中过滤条件
func (f Filter) Matches(e *Event) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if f.WorkflowType != "" && f.WorkflowType != e.WorkflowType {
		return false
	}
	return true
}

// Envelope 投递给订阅者的信封。GapBefore>0表示此事件之前
// 有GapBefore条事件因缓冲溢出被丢弃，订阅者应通过Monitor API
// 重读权威状态。
type Envelope struct {
	Event     *Event
	GapBefore int
}

// Subscription 一个事件订阅。C在Cancel或总线关闭后被关闭。
type Subscription struct {
	ID     string
	C      <-chan Envelope
	ch     chan Envelope
	filter Filter
	// pendingGap仅由总线分发goroutine访问
	pendingGap int
	cancel     func()
}

// Cancel 取消订阅
func (s *Subscription) Cancel() {
	s.cancel()
}

// Bus 进程内生命周期事件总线。
// 基于watermill gochannel做发布侧解耦，分发goroutine将事件
// 扇出到各订阅者的有界缓冲。发布方永不被慢订阅者阻塞；
// 溢出时丢弃最旧事件并在下一条投递上携带gap标记。
type Bus struct {
	pubsub *gochannel.GoChannel
	cancel context.CancelFunc

	mu     sync.Mutex
	subs   map[string]*Subscription
	closed bool
	wg     sync.WaitGroup
}

// NewBus 创建并启动事件总线
func NewBus() *Bus {
	pubsub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 1024,
	}, watermill.NewStdLogger(false, false))

	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		pubsub: pubsub,
		cancel: cancel,
		subs:   make(map[string]*Subscription),
	}

	messages, err := pubsub.Subscribe(ctx, lifecycleTopic)
	if err != nil {
		// gochannel订阅在总线未关闭时不会失败
		log.Printf("event bus subscribe failed: %v", err)
		return b
	}

	b.wg.Add(1)
	go b.dispatch(messages)
	return b
}

// Publish 发布事件。非阻塞语义：慢订阅者不会拖住调用方。
func (b *Bus) Publish(e *Event) error {
	data, err := e.Marshal()
	if err != nil {
		return err
	}
	return b.pubsub.Publish(lifecycleTopic, message.NewMessage(uuid.NewString(), data))
}

// Subscribe 注册订阅者，返回带缓冲投递通道的订阅
func (b *Bus) Subscribe(filter Filter) *Subscription {
	return b.SubscribeBuffered(filter, defaultSubscriberBuffer)
}

// SubscribeBuffered 指定缓冲大小的订阅
func (b *Bus) SubscribeBuffered(filter Filter, buffer int) *Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	ch := make(chan Envelope, buffer)
	sub := &Subscription{
		ID:     uuid.NewString(),
		C:      ch,
		ch:     ch,
		filter: filter,
	}
	sub.cancel = func() { b.unsubscribe(sub.ID) }

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return sub
	}
	b.subs[sub.ID] = sub
	return sub
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// SubscriberCount 当前订阅者数量
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭总线并结束所有订阅
func (b *Bus) Close() error {
	b.cancel()
	err := b.pubsub.Close()
	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return err
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
	return err
}

// dispatch 单goroutine扇出，保证同一workflow事件的投递顺序
func (b *Bus) dispatch(messages <-chan *message.Message) {
	defer b.wg.Done()
	for msg := range messages {
		e, err := Unmarshal(msg.Payload)
		msg.Ack()
		if err != nil {
			log.Printf("event bus: drop malformed event: %v", err)
			continue
		}

		b.mu.Lock()
		for _, sub := range b.subs {
			if !sub.filter.Matches(e) {
				continue
			}
			b.deliver(sub, e)
		}
		b.mu.Unlock()
	}
}

// deliver 投递事件到订阅者缓冲；满时丢最旧并累计gap
func (b *Bus) deliver(sub *Subscription, e *Event) {
	env := Envelope{Event: e, GapBefore: sub.pendingGap}
	for {
		select {
		case sub.ch <- env:
			sub.pendingGap = 0
			return
		default:
		}
		// 缓冲已满：丢弃最旧的一条，把它连同其自身gap计入待报gap
		select {
		case dropped := <-sub.ch:
			sub.pendingGap += 1 + dropped.GapBefore
			env.GapBefore = sub.pendingGap
		default:
			// 与订阅者消费竞争腾出了空间，直接重试发送
		}
	}
}
