package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"ArticlesPipeline/internal/domain"
)

// Intake registers collected articles; usecase.Manager satisfies it.
type Intake interface {
	Create(ctx context.Context, url string, data domain.OriginalData) (domain.Article, bool, error)
}

// CollectedMessage is the wire form of an article pushed by an external collector.
type CollectedMessage struct {
	URL         string     `json:"url"`
	Title       string     `json:"title"`
	Text        string     `json:"text"`
	Image       string     `json:"image,omitempty"`
	Description string     `json:"description,omitempty"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	SourceID    string     `json:"source_id,omitempty"`
}

// ConsumerConfig holds Kafka consumer configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer feeds collected articles from a Kafka topic into the lifecycle.
type Consumer struct {
	group   sarama.ConsumerGroup
	handler *CollectedHandler
	topic   string
	logger  *slog.Logger
	done    chan struct{}
}

// NewConsumer joins the consumer group.
func NewConsumer(cfg ConsumerConfig, intake Intake, logger *slog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" || cfg.GroupID == "" {
		return nil, fmt.Errorf("kafka consumer misconfigured")
	}
	if logger == nil {
		logger = slog.Default()
	}

	saramaConfig := sarama.NewConfig()
	saramaConfig.Version = sarama.V3_6_0_0
	saramaConfig.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	saramaConfig.Consumer.Offsets.Initial = sarama.OffsetNewest
	saramaConfig.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, saramaConfig)
	if err != nil {
		return nil, fmt.Errorf("new consumer group: %w", err)
	}
	return &Consumer{
		group:   group,
		handler: NewCollectedHandler(intake, logger),
		topic:   cfg.Topic,
		logger:  logger,
		done:    make(chan struct{}),
	}, nil
}

// Start consumes in the background until ctx is cancelled or Close is called.
func (c *Consumer) Start(ctx context.Context) {
	go func() {
		for err := range c.group.Errors() {
			c.logger.Warn("kafka consumer error", "error", err)
		}
	}()
	go func() {
		defer close(c.done)
		for {
			err := c.group.Consume(ctx, []string{c.topic}, c.handler)
			switch {
			case errors.Is(err, sarama.ErrClosedConsumerGroup):
				return
			case err != nil:
				c.logger.Error("kafka consume", "topic", c.topic, "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()
	c.logger.Info("kafka consumer started", "topic", c.topic)
}

// Close leaves the group and waits for the consume loop to exit.
func (c *Consumer) Close() error {
	err := c.group.Close()
	<-c.done
	return err
}

// CollectedHandler implements sarama.ConsumerGroupHandler for collected-article messages.
type CollectedHandler struct {
	intake Intake
	logger *slog.Logger
}

var _ sarama.ConsumerGroupHandler = (*CollectedHandler)(nil)

// NewCollectedHandler builds the handler.
func NewCollectedHandler(intake Intake, logger *slog.Logger) *CollectedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CollectedHandler{intake: intake, logger: logger}
}

func (h *CollectedHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *CollectedHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim marks a message once it is handled; transient failures leave it for redelivery.
func (h *CollectedHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			mark, err := h.HandleMessage(session.Context(), message.Value)
			if err != nil {
				h.logger.Warn("handle collected message", "partition", message.Partition, "offset", message.Offset, "error", err)
			}
			if mark {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// HandleMessage registers one collected article. Malformed payloads are marked and dropped.
func (h *CollectedHandler) HandleMessage(ctx context.Context, payload []byte) (bool, error) {
	var msg CollectedMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return true, fmt.Errorf("decode collected message: %w", err)
	}
	if strings.TrimSpace(msg.URL) == "" {
		return true, errors.New("collected message without url")
	}

	article, created, err := h.intake.Create(ctx, msg.URL, domain.OriginalData{
		Title:       msg.Title,
		Text:        msg.Text,
		Image:       msg.Image,
		Description: msg.Description,
		PublishedAt: msg.PublishedAt,
		SourceID:    msg.SourceID,
	})
	if err != nil {
		return false, err
	}
	h.logger.Debug("collected message handled", "article_id", article.ID(), "created", created)
	return true, nil
}
