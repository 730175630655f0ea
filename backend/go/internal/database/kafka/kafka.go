// Package kafka 负责任务事件流所需的 Kafka 主题管理。
package kafka

import (
	"DeepDistill/backend/go/internal/config"
	"fmt"
	"net"
	"strconv"

	"github.com/segmentio/kafka-go"
)

// EnsureTopics 连接 Kafka 控制器并创建配置中尚不存在的主题，返回新建的主题。
func EnsureTopics(cfg *config.KafkaConfig, extra ...string) ([]string, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("未配置 Kafka brokers")
	}
	conn, err := kafka.Dial("tcp", cfg.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("kafka 初始化连接失败: %w", err)
	}
	defer conn.Close()

	// 主题必须在控制器上创建
	controller, err := conn.Controller()
	if err != nil {
		return nil, fmt.Errorf("无法获取 Kafka 控制器: %w", err)
	}
	ctrl, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	if err != nil {
		return nil, fmt.Errorf("无法连接 Kafka 控制器: %w", err)
	}
	defer ctrl.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("无法读取 Kafka 分区信息: %w", err)
	}
	existing := make(map[string]struct{})
	for _, p := range partitions {
		existing[p.Topic] = struct{}{}
	}

	var toCreate []kafka.TopicConfig
	var names []string
	for _, topic := range append(append([]string(nil), cfg.Topics...), extra...) {
		if _, ok := existing[topic]; ok || topic == "" {
			continue
		}
		existing[topic] = struct{}{}
		toCreate = append(toCreate, kafka.TopicConfig{Topic: topic, NumPartitions: 1, ReplicationFactor: 1})
		names = append(names, topic)
	}
	if len(toCreate) == 0 {
		return nil, nil
	}
	if err := ctrl.CreateTopics(toCreate...); err != nil {
		return nil, fmt.Errorf("自动创建 Kafka 主题失败: %w", err)
	}
	return names, nil
}
