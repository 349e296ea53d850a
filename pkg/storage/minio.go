// Package storage 提供了与对象存储服务（如 MinIO）交互的功能。
package storage

import (
	"bytes"
	"context"
	"time"

	"kenny-gateway/internal/config"
	"kenny-gateway/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioClient 是一个全局的 MinIO 客户端实例，为空表示未启用导出。
var MinioClient *minio.Client

// InitMinIO 初始化 MinIO 客户端并确保指定的存储桶存在。
func InitMinIO(cfg config.MinIOConfig) error {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return err
	}
	log.Info("MinIO 客户端初始化成功")

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return err
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return err
		}
		log.Infof("存储桶 '%s' 创建成功", cfg.BucketName)
	}
	MinioClient = client
	return nil
}

// Bucket 是对单个存储桶的封装。
type Bucket struct {
	client *minio.Client
	name   string
}

// NewBucket 创建一个 Bucket。
func NewBucket(client *minio.Client, name string) *Bucket {
	return &Bucket{client: client, name: name}
}

// PutJSON 上传一个 JSON 对象。
func (b *Bucket) PutJSON(ctx context.Context, objectName string, data []byte) error {
	_, err := b.client.PutObject(ctx, b.name, objectName, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	return err
}

// PresignedURL 为对象生成限时下载地址。
func (b *Bucket) PresignedURL(ctx context.Context, objectName string, expiry time.Duration) (string, error) {
	u, err := b.client.PresignedGetObject(ctx, b.name, objectName, expiry, nil)
	if err != nil {
		log.Errorf("生成预签名 URL 失败: %v", err)
		return "", err
	}
	return u.String(), nil
}
