package pipeline

import (
	"context"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/es"
	"kenny-gateway/pkg/kafka"
	"kenny-gateway/pkg/tasks"

	"github.com/elastic/go-elasticsearch/v8"
)

// ESSink 将轮次写入 Elasticsearch 供管理端检索。
type ESSink struct {
	Client *elasticsearch.Client
	Index  string
}

func (s *ESSink) Name() string { return "elasticsearch" }

func (s *ESSink) Handle(ctx context.Context, task tasks.PersistTask) error {
	doc := model.NewTurnDocument(task.Record.SessionID, task.Record.UserID, task.Turn)
	return es.IndexTurn(ctx, s.Client, s.Index, doc)
}

// KafkaSink 将轮次事件发布到 Kafka。
type KafkaSink struct{}

func (KafkaSink) Name() string { return "kafka" }

func (KafkaSink) Handle(ctx context.Context, task tasks.PersistTask) error {
	return kafka.PublishTurnEvent(ctx, tasks.NewTurnEvent(task))
}
