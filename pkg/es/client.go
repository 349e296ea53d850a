// Package es 提供了与 Elasticsearch 交互的客户端功能。
package es

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"kenny-gateway/internal/config"
	"kenny-gateway/internal/model"
	"kenny-gateway/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// ESClient 为空表示未启用轮次索引。
var ESClient *elasticsearch.Client

// turnMapping 是轮次索引的结构。
const turnMapping = `{
	"mappings": {
		"properties": {
			"doc_id": { "type": "keyword" },
			"session_id": { "type": "keyword" },
			"user_id": { "type": "keyword" },
			"turn_number": { "type": "integer" },
			"user_message": { "type": "text" },
			"kenny_response": { "type": "text" },
			"intent": { "type": "keyword" },
			"confidence": { "type": "float" },
			"timestamp": { "type": "date" }
		}
	}
}`

// NewClient 根据配置创建客户端，不做任何网络调用。
func NewClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	cfg := elasticsearch.Config{
		Addresses: strings.Split(esCfg.Addresses, ","),
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	}
	return elasticsearch.NewClient(cfg)
}

// InitES 初始化 Elasticsearch 客户端并确保轮次索引存在。
func InitES(esCfg config.ElasticsearchConfig) error {
	client, err := NewClient(esCfg)
	if err != nil {
		return err
	}
	ESClient = client
	return EnsureIndex(context.Background(), client, esCfg.IndexName)
}

// EnsureIndex 检查索引是否存在，如果不存在则创建它。
func EnsureIndex(ctx context.Context, client *elasticsearch.Client, indexName string) error {
	res, err := client.Indices.Exists([]string{indexName}, client.Indices.Exists.WithContext(ctx))
	if err != nil {
		log.Errorf("检查索引是否存在时出错: %v", err)
		return err
	}
	res.Body.Close()
	if res.StatusCode == http.StatusOK {
		log.Infof("索引 '%s' 已存在", indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("检查索引是否存在时收到意外的状态码: %d", res.StatusCode)
	}

	res, err = client.Indices.Create(
		indexName,
		client.Indices.Create.WithContext(ctx),
		client.Indices.Create.WithBody(strings.NewReader(turnMapping)),
	)
	if err != nil {
		log.Errorf("创建索引 '%s' 失败: %v", indexName, err)
		return err
	}
	defer res.Body.Close()
	if res.IsError() {
		log.Errorf("创建索引 '%s' 时 Elasticsearch 返回错误: %s", indexName, res.String())
		return errors.New("创建索引时 Elasticsearch 返回错误")
	}

	log.Infof("索引 '%s' 创建成功", indexName)
	return nil
}

// IndexTurn 将单个轮次文档写入索引，文档 ID 固定因此重复写入是幂等的。
func IndexTurn(ctx context.Context, client *elasticsearch.Client, indexName string, doc model.TurnDocument) error {
	if client == nil {
		return nil
	}
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	req := esapi.IndexRequest{
		Index:      indexName,
		DocumentID: doc.DocID,
		Body:       bytes.NewReader(docBytes),
	}

	res, err := req.Do(ctx, client)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.IsError() {
		log.Errorf("索引轮次到 Elasticsearch 出错: %s", res.String())
		return fmt.Errorf("failed to index turn %s", doc.DocID)
	}
	return nil
}
