// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"ragdesk-go/internal/config"
	"ragdesk-go/pkg/log"
	"ragdesk-go/pkg/tasks"
)

// TaskProcessor 解耦消费者与具体的流水线实现。
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.DocumentProcessingTask) error
}

// Producer 发送文档处理任务。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	p := &Producer{writer: &kafka.Writer{
		Addr:     kafka.TCP(strings.Split(cfg.Brokers, ",")...),
		Topic:    cfg.Topic,
		Balancer: &kafka.LeastBytes{},
	}}
	log.Info("Kafka 生产者初始化成功")
	return p
}

// PublishDocumentTask 发送一个文档处理任务，消息 key 为文档 ID，保证同一文档的任务有序。
func (p *Producer) PublishDocumentTask(ctx context.Context, task tasks.DocumentProcessingTask) error {
	taskBytes, err := json.Marshal(task)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", task.DocumentID)),
		Value: taskBytes,
	})
}

// Close 关闭生产者。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// AttemptTracker 记录每个任务的失败次数。
type AttemptTracker interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

// RedisAttempts 用 Redis 计数，计数器 24 小时后过期。
type RedisAttempts struct {
	rdb *redis.Client
}

// NewRedisAttempts 创建基于 Redis 的失败计数器。
func NewRedisAttempts(rdb *redis.Client) *RedisAttempts {
	return &RedisAttempts{rdb: rdb}
}

func (a *RedisAttempts) Incr(ctx context.Context, key string) (int64, error) {
	n, err := a.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = a.rdb.Expire(ctx, key, 24*time.Hour).Err()
	return n, nil
}

func (a *RedisAttempts) Reset(ctx context.Context, key string) error {
	return a.rdb.Del(ctx, key).Err()
}

// Consumer 消费文档处理任务。
type Consumer struct {
	cfg         config.KafkaConfig
	processor   TaskProcessor
	attempts    AttemptTracker
	maxAttempts int64
}

// NewConsumer 创建消费者。maxAttempts 未配置时为 3。
func NewConsumer(cfg config.KafkaConfig, processor TaskProcessor, attempts AttemptTracker) *Consumer {
	limit := int64(cfg.MaxAttempts)
	if limit <= 0 {
		limit = 3
	}
	return &Consumer{cfg: cfg, processor: processor, attempts: attempts, maxAttempts: limit}
}

// Run 阻塞消费直到 ctx 取消或读取失败。
func (c *Consumer) Run(ctx context.Context) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  strings.Split(c.cfg.Brokers, ","),
		Topic:    c.cfg.Topic,
		GroupID:  c.cfg.GroupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()

	log.Infof("Kafka 消费者已启动，正在监听主题 '%s'", c.cfg.Topic)
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info("Kafka 消费者已停止")
			} else {
				log.Error("从 Kafka 读取消息失败", err)
			}
			return
		}

		if c.handle(ctx, m.Value) {
			if err := r.CommitMessages(ctx, m); err != nil {
				log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
			}
		}
	}
}

// handle 处理一条消息，返回是否应提交 offset。
// 失败的任务不提交以便 Kafka 重投，累计失败 maxAttempts 次后提交放弃。
func (c *Consumer) handle(ctx context.Context, value []byte) bool {
	var task tasks.DocumentProcessingTask
	if err := json.Unmarshal(value, &task); err != nil {
		// 消息格式错误，直接提交，避免阻塞队列
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(value))
		return true
	}

	attemptsKey := fmt.Sprintf("kafka:attempts:document:%d", task.DocumentID)
	log.Infof("开始处理文档任务: DocumentID=%d, SourceType=%s", task.DocumentID, task.SourceType)
	if err := c.processor.Process(ctx, task); err != nil {
		log.Errorf("处理文档任务失败: DocumentID=%d, Error: %v", task.DocumentID, err)
		attempts, incErr := c.attempts.Incr(ctx, attemptsKey)
		if incErr != nil {
			// Redis 异常时保守处理：不提交 offset，让 Kafka 重试
			return false
		}
		if attempts >= c.maxAttempts {
			log.Errorf("文档任务多次失败(>=%d)，提交 offset 终止重试: DocumentID=%d", c.maxAttempts, task.DocumentID)
			return true
		}
		return false
	}

	log.Infof("文档任务处理成功: DocumentID=%d", task.DocumentID)
	_ = c.attempts.Reset(ctx, attemptsKey)
	return true
}
