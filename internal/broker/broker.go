package broker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/CoolE88/agro-telemetry-service/internal/config"
	"github.com/CoolE88/agro-telemetry-service/internal/domain"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

const (
	ContentTypeJSON = "application/json"

	deadLetterArg = "x-dead-letter-exchange"
)

var (
	ErrNotConfirmed = errors.New("broker did not confirm publish")
	// ErrUnroutable: ни одна очередь не привязана к routing key
	ErrUnroutable = errors.New("broker returned unroutable message")
)

// Topology описывает exchange и очереди, которые использует сервис
type Topology struct {
	Exchange           string
	DeadLetterExchange string
	DeadLetterQueue    string
	Bindings           []Binding
}

// Binding привязывает очередь к основному exchange по одному routing key
type Binding struct {
	DeviceType domain.DeviceType
	RoutingKey string
	Queue      string
}

func TopologyFromConfig(cfg config.BrokerConfig) Topology {
	t := Topology{
		Exchange:           cfg.Exchange,
		DeadLetterExchange: cfg.DeadLetterExchange,
		DeadLetterQueue:    cfg.DeadLetterQueue,
	}
	for _, dt := range domain.DeviceTypes {
		t.Bindings = append(t.Bindings, Binding{
			DeviceType: dt,
			RoutingKey: cfg.RoutingKeys[dt],
			Queue:      cfg.Queues[dt],
		})
	}
	return t
}

// RoutingKeys: routing key для каждого типа устройства
func (t Topology) RoutingKeys() map[domain.DeviceType]string {
	keys := make(map[domain.DeviceType]string, len(t.Bindings))
	for _, b := range t.Bindings {
		keys[b.DeviceType] = b.RoutingKey
	}
	return keys
}

func (t Topology) Queues() []string {
	queues := make([]string, 0, len(t.Bindings))
	for _, b := range t.Bindings {
		queues = append(queues, b.Queue)
	}
	sort.Strings(queues)
	return queues
}

// QueueArgs: аргументы объявления очередей категорий. Менять их между перезапусками нельзя,
// иначе RabbitMQ отклонит повторное объявление.
func (t Topology) QueueArgs() amqp.Table {
	return amqp.Table{deadLetterArg: t.DeadLetterExchange}
}

func URL(cfg config.BrokerConfig) string {
	u := amqp.URI{
		Scheme:   "amqp",
		Host:     cfg.Host,
		Port:     cfg.Port,
		Username: cfg.User,
		Password: cfg.Password,
		Vhost:    cfg.VHost,
	}
	return u.String()
}

// Broker владеет AMQP соединением. Публикация идёт через один канал в confirm режиме,
// у каждой подписки свой канал.
type Broker struct {
	url      string
	topology Topology
	logger   *zap.Logger

	mu   sync.Mutex
	conn *amqp.Connection

	pubMu      sync.Mutex
	pubChannel *amqp.Channel
	pubReturns <-chan amqp.Return
}

func New(cfg config.BrokerConfig, logger *zap.Logger) *Broker {
	return &Broker{
		url:      URL(cfg),
		topology: TopologyFromConfig(cfg),
		logger:   logger,
	}
}

func (b *Broker) Topology() Topology {
	return b.topology
}

// Connect подключается к брокеру и объявляет топологию
func (b *Broker) Connect(ctx context.Context) error {
	if _, err := b.connection(); err != nil {
		return err
	}
	return b.DeclareTopology(ctx)
}

// connection возвращает живое соединение и переподключается, если прежнее закрыто
func (b *Broker) connection() (*amqp.Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil && !b.conn.IsClosed() {
		return b.conn, nil
	}

	conn, err := amqp.DialConfig(b.url, amqp.Config{
		Heartbeat:  10 * time.Second,
		Properties: amqp.Table{"connection_name": "agro-telemetry-service"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to dial broker: %w", err)
	}

	closed := conn.NotifyClose(make(chan *amqp.Error, 1))
	go func() {
		if err, ok := <-closed; ok && err != nil {
			b.logger.Warn("[Broker] Connection closed", zap.String("reason", err.Reason), zap.Int("code", err.Code))
		}
	}()

	b.conn = conn
	b.logger.Info("[Broker] Connected")
	return conn, nil
}

func (b *Broker) channel() (*amqp.Channel, error) {
	conn, err := b.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	return ch, nil
}

// DeclareTopology объявляет все exchange, очереди и привязки. Идемпотентен.
func (b *Broker) DeclareTopology(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch, err := b.channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	t := b.topology
	if err := ch.ExchangeDeclare(t.Exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare exchange %s: %w", t.Exchange, err)
	}
	if err := ch.ExchangeDeclare(t.DeadLetterExchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare dead-letter exchange %s: %w", t.DeadLetterExchange, err)
	}

	if _, err := ch.QueueDeclare(t.DeadLetterQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", t.DeadLetterQueue, err)
	}
	if err := ch.QueueBind(t.DeadLetterQueue, "", t.DeadLetterExchange, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", t.DeadLetterQueue, err)
	}

	for _, binding := range t.Bindings {
		if _, err := ch.QueueDeclare(binding.Queue, true, false, false, false, t.QueueArgs()); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", binding.Queue, err)
		}
		if err := ch.QueueBind(binding.Queue, binding.RoutingKey, t.Exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", binding.Queue, err)
		}
	}

	b.logger.Info("[Broker] Topology declared",
		zap.String("exchange", t.Exchange),
		zap.String("dead_letter_exchange", t.DeadLetterExchange),
		zap.Strings("queues", t.Queues()))
	return nil
}

// Publish отправляет persistent сообщение в основной exchange и ждёт подтверждения брокера
func (b *Broker) Publish(ctx context.Context, routingKey, messageID, correlationID string, body []byte) error {
	b.pubMu.Lock()
	defer b.pubMu.Unlock()

	ch, err := b.publishChannel()
	if err != nil {
		return err
	}

	msg := amqp.Publishing{
		ContentType:   ContentTypeJSON,
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: correlationID,
		Timestamp:     time.Now().UTC(),
		Body:          body,
	}

	// mandatory: без привязки сообщение вернётся basic.return раньше подтверждения
	returns := b.pubReturns
	_ = checkReturned(returns, "")

	confirm, err := ch.PublishWithDeferredConfirmWithContext(ctx, b.topology.Exchange, routingKey, true, false, msg)
	if err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("failed waiting for publish confirm: %w", err)
	}
	if !acked {
		return ErrNotConfirmed
	}
	if err := checkReturned(returns, messageID); err != nil {
		b.logger.Warn("[Broker] Message returned as unroutable",
			zap.String("routing_key", routingKey),
			zap.String("message_id", messageID))
		return err
	}
	return nil
}

// checkReturned вычитывает накопившиеся basic.return и возвращает ErrUnroutable, если среди
// них есть messageID. Возвраты других сообщений отбрасываются.
func checkReturned(returns <-chan amqp.Return, messageID string) error {
	var result error
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return result
			}
			if messageID != "" && ret.MessageId == messageID {
				result = fmt.Errorf("%w: %s (%d %s)", ErrUnroutable, ret.RoutingKey, ret.ReplyCode, ret.ReplyText)
			}
		default:
			return result
		}
	}
}

// publishChannel вызывается под pubMu
func (b *Broker) publishChannel() (*amqp.Channel, error) {
	if b.pubChannel != nil && !b.pubChannel.IsClosed() {
		return b.pubChannel, nil
	}

	ch, err := b.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to enable publisher confirms: %w", err)
	}
	b.pubReturns = ch.NotifyReturn(make(chan amqp.Return, 16))
	b.pubChannel = ch
	return ch, nil
}

// Subscription: поток сообщений из одной очереди
type Subscription interface {
	Deliveries() <-chan amqp.Delivery
	Close() error
}

// channelSubscription: один consumer на собственном канале
type channelSubscription struct {
	channel    *amqp.Channel
	tag        string
	deliveries <-chan amqp.Delivery
}

func (s *channelSubscription) Deliveries() <-chan amqp.Delivery {
	return s.deliveries
}

// Close отменяет consumer и закрывает канал. Неподтверждённые сообщения брокер
// вернёт в очередь.
func (s *channelSubscription) Close() error {
	if s.channel.IsClosed() {
		return nil
	}
	return errors.Join(s.channel.Cancel(s.tag, false), s.channel.Close())
}

// Subscribe открывает канал с лимитом prefetch неподтверждённых сообщений и запускает
// consumer с ручным ack.
func (b *Broker) Subscribe(ctx context.Context, queue string, prefetch int) (Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := b.channel()
	if err != nil {
		return nil, err
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to set prefetch on %s: %w", queue, err)
	}

	tag := fmt.Sprintf("agro-telemetry-%s-%d", queue, time.Now().UnixNano())
	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}

	b.logger.Info("[Broker] Subscribed", zap.String("queue", queue), zap.Int("prefetch", prefetch))
	return &channelSubscription{channel: ch, tag: tag, deliveries: deliveries}, nil
}

type QueueStat struct {
	Name      string `json:"name"`
	Messages  int    `json:"messages"`
	Consumers int    `json:"consumers"`
}

// QueueStats возвращает глубину очередей категорий и dead-letter очереди
func (b *Broker) QueueStats(ctx context.Context) ([]QueueStat, error) {
	names := append(b.topology.Queues(), b.topology.DeadLetterQueue)
	stats := make([]QueueStat, 0, len(names))

	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		// Неудачный passive declare закрывает канал, поэтому на каждую очередь свой
		ch, err := b.channel()
		if err != nil {
			return nil, err
		}
		q, err := ch.QueueDeclarePassive(name, true, false, false, false, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect queue %s: %w", name, err)
		}
		_ = ch.Close()
		stats = append(stats, QueueStat{Name: q.Name, Messages: q.Messages, Consumers: q.Consumers})
	}
	return stats, nil
}

func (b *Broker) Close() error {
	b.pubMu.Lock()
	if b.pubChannel != nil && !b.pubChannel.IsClosed() {
		_ = b.pubChannel.Close()
	}
	b.pubMu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil || b.conn.IsClosed() {
		return nil
	}
	b.logger.Info("[Broker] Closing connection")
	return b.conn.Close()
}
