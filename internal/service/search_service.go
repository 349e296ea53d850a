// Package service 提供了轮次检索相关的业务逻辑。
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
)

// ErrSearchDisabled 表示没有配置 Elasticsearch。
var ErrSearchDisabled = errors.New("turn search is not configured")

// TurnQuery 是管理端的轮次检索条件，空字段表示不过滤。
type TurnQuery struct {
	Text      string
	UserID    string
	SessionID string
	Intent    string
	From      *time.Time
	To        *time.Time
	Size      int
}

// TurnSearchService 接口定义了轮次检索操作。
type TurnSearchService interface {
	SearchTurns(ctx context.Context, q TurnQuery) ([]model.TurnSearchResultDTO, error)
}

type turnSearchService struct {
	esClient  *elasticsearch.Client
	indexName string
}

// NewTurnSearchService 创建一个新的 TurnSearchService 实例，esClient 为空时检索不可用。
func NewTurnSearchService(esClient *elasticsearch.Client, indexName string) TurnSearchService {
	return &turnSearchService{esClient: esClient, indexName: indexName}
}

// buildTurnQuery 构建 bool 查询：全文匹配用户消息和回复，其余条件作为 filter。
func buildTurnQuery(q TurnQuery) map[string]interface{} {
	if q.Size <= 0 || q.Size > 100 {
		q.Size = 20
	}
	filters := []map[string]interface{}{}
	for field, value := range map[string]string{"user_id": q.UserID, "session_id": q.SessionID, "intent": q.Intent} {
		if value != "" {
			filters = append(filters, map[string]interface{}{"term": map[string]interface{}{field: value}})
		}
	}
	if q.From != nil || q.To != nil {
		rng := map[string]interface{}{}
		if q.From != nil {
			rng["gte"] = q.From.Format(time.RFC3339)
		}
		if q.To != nil {
			rng["lte"] = q.To.Format(time.RFC3339)
		}
		filters = append(filters, map[string]interface{}{"range": map[string]interface{}{"timestamp": rng}})
	}

	boolQuery := map[string]interface{}{"filter": filters}
	sort := []interface{}{map[string]interface{}{"timestamp": map[string]interface{}{"order": "desc"}}}
	if q.Text != "" {
		boolQuery["must"] = map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  q.Text,
				"fields": []string{"user_message", "kenny_response"},
			},
		}
		sort = append([]interface{}{"_score"}, sort...)
	}
	return map[string]interface{}{
		"query": map[string]interface{}{"bool": boolQuery},
		"sort":  sort,
		"size":  q.Size,
	}
}

// SearchTurns 在轮次索引中执行检索。
func (s *turnSearchService) SearchTurns(ctx context.Context, q TurnQuery) ([]model.TurnSearchResultDTO, error) {
	if s.esClient == nil {
		return nil, ErrSearchDisabled
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(buildTurnQuery(q)); err != nil {
		return nil, fmt.Errorf("failed to encode es query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.indexName),
		s.esClient.Search.WithBody(&buf),
		s.esClient.Search.WithTrackTotalHits(true),
	)
	if err != nil {
		log.Errorf("[TurnSearch] 向 Elasticsearch 发送搜索请求失败: %v", err)
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		log.Errorf("[TurnSearch] Elasticsearch 返回错误, status: %s, body: %s", res.Status(), string(bodyBytes))
		return nil, fmt.Errorf("elasticsearch returned an error: %s", res.Status())
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.TurnDocument `json:"_source"`
				Score  *float64           `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("failed to decode es response: %w", err)
	}

	results := make([]model.TurnSearchResultDTO, 0, len(esResponse.Hits.Hits))
	for _, hit := range esResponse.Hits.Hits {
		r := model.TurnSearchResultDTO{TurnDocument: hit.Source}
		if hit.Score != nil {
			r.Score = *hit.Score
		}
		results = append(results, r)
	}
	log.Infof("[TurnSearch] 命中 %d 条轮次", len(results))
	return results, nil
}
