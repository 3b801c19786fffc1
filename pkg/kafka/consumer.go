package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"
)

// MessageHandler processes one record. A failing handler is logged and the
// record is still marked, so a poison document cannot stall the partition.
type MessageHandler func(ctx context.Context, key, value []byte) error

type Consumer struct {
	group   sarama.ConsumerGroup
	topics  []string
	handler MessageHandler
	logger  *zap.Logger
}

type ConsumerConfig struct {
	Brokers           []string
	Topics            []string
	GroupID           string
	SessionTimeout    time.Duration
	RebalanceStrategy string
	// FromOldest replays the topic from the beginning when the group has no
	// committed offset.
	FromOldest bool
}

func consumerConfig(cfg ConsumerConfig) *sarama.Config {
	config := sarama.NewConfig()
	config.Version = sarama.V3_3_0_0
	config.Consumer.Return.Errors = true
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	if cfg.FromOldest {
		config.Consumer.Offsets.Initial = sarama.OffsetOldest
	}
	if cfg.SessionTimeout > 0 {
		config.Consumer.Group.Session.Timeout = cfg.SessionTimeout
		config.Consumer.Group.Heartbeat.Interval = cfg.SessionTimeout / 3
	}

	switch cfg.RebalanceStrategy {
	case "sticky":
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	case "roundrobin":
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	default:
		config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	}
	return config
}

func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer group: %w", err)
	}

	logger.Info("Kafka consumer initialized",
		zap.Strings("brokers", cfg.Brokers),
		zap.Strings("topics", cfg.Topics),
		zap.String("group_id", cfg.GroupID),
	)
	return NewConsumerFromGroup(group, cfg.Topics, handler, logger), nil
}

// NewConsumerFromGroup wraps an existing consumer group.
func NewConsumerFromGroup(group sarama.ConsumerGroup, topics []string, handler MessageHandler, logger *zap.Logger) *Consumer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consumer{group: group, topics: topics, handler: handler, logger: logger}
}

// Run consumes until ctx is cancelled or the group is closed. Consume
// returns on every rebalance, so it is called in a loop.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		err := c.group.Consume(ctx, c.topics, c)
		switch {
		case errors.Is(err, sarama.ErrClosedConsumerGroup):
			return nil
		case err != nil:
			c.logger.Error("Error from consumer", zap.Error(err))
		}
		if ctx.Err() != nil {
			c.logger.Info("Context cancelled, stopping consumer")
			return nil
		}
	}
}

func (c *Consumer) Close() error {
	if err := c.group.Close(); err != nil {
		c.logger.Error("Failed to close consumer group", zap.Error(err))
		return fmt.Errorf("failed to close consumer group: %w", err)
	}
	c.logger.Info("Kafka consumer closed")
	return nil
}

func (c *Consumer) Setup(session sarama.ConsumerGroupSession) error {
	c.logger.Info("Consumer group session started", zap.Any("claims", session.Claims()))
	return nil
}

func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error {
	return nil
}

func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok || msg == nil {
				return nil
			}
			c.logger.Debug("Message received",
				zap.String("topic", msg.Topic),
				zap.Int32("partition", msg.Partition),
				zap.Int64("offset", msg.Offset),
			)
			if err := c.handler(session.Context(), msg.Key, msg.Value); err != nil {
				c.logger.Error("Failed to process message",
					zap.Error(err),
					zap.String("topic", msg.Topic),
					zap.Int64("offset", msg.Offset),
				)
			}
			session.MarkMessage(msg, "")

		case <-session.Context().Done():
			return nil
		}
	}
}
