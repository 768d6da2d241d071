// Package archive 把事件日志和快照上传到 S3 兼容的对象存储
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"svcmonitor/internal/config"
	"svcmonitor/internal/logger"
)

// Uploader 对象上传接口，*s3.Client 满足此接口
type Uploader interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Result 一次归档的结果
type Result struct {
	Keys    []string `json:"keys"`
	Bytes   int64    `json:"bytes"`
	Skipped []string `json:"skipped,omitempty"`
}

// Archiver 归档器
type Archiver struct {
	client Uploader
	bucket string
	prefix string
	runID  string
	files  []string
	now    func() time.Time
}

// NewS3Client 使用默认凭证链创建 S3 客户端
func NewS3Client(ctx context.Context, region string) (*s3.Client, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("加载 AWS 配置失败: %w", err)
	}
	return s3.NewFromConfig(awsCfg), nil
}

// New 创建归档器，files 中不存在的文件在归档时跳过
func New(client Uploader, bucket, prefix, runID string, files ...string) (*Archiver, error) {
	if client == nil {
		return nil, errors.New("未提供上传客户端")
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, fmt.Errorf("%w: 未配置 archive.bucket", config.ErrConfigInvalid)
	}
	return &Archiver{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
		runID:  runID,
		files:  files,
		now:    time.Now,
	}, nil
}

// FilesFor 需要归档的文件：事件日志、快照，SQLite 后端附带 WAL 文件
func FilesFor(cfg *config.Config) []string {
	files := []string{cfg.EventLogPath(), cfg.SnapshotPath()}
	if cfg.Storage.Backend == config.BackendSQLite {
		files = append(files, cfg.EventLogPath()+"-wal")
	}
	return files
}

// ObjectKey 对象键：prefix/runID/时间戳/文件名
func (a *Archiver) ObjectKey(stamp time.Time, file string) string {
	parts := []string{}
	if a.prefix != "" {
		parts = append(parts, a.prefix)
	}
	if a.runID != "" {
		parts = append(parts, a.runID)
	}
	parts = append(parts, stamp.UTC().Format("20060102T150405Z"), filepath.Base(file))
	return path.Join(parts...)
}

// Archive 上传所有文件
// 事件日志可能仍在被写入，只上传打开时已有的字节
func (a *Archiver) Archive(ctx context.Context) (Result, error) {
	var res Result
	stamp := a.now()

	for _, file := range a.files {
		key := a.ObjectKey(stamp, file)
		n, err := a.upload(ctx, file, key)
		if errors.Is(err, os.ErrNotExist) {
			res.Skipped = append(res.Skipped, file)
			continue
		}
		if err != nil {
			return res, fmt.Errorf("上传 %s 失败: %w", file, err)
		}
		logger.Infof("[归档] 已上传 s3://%s/%s (%d 字节)", a.bucket, key, n)
		res.Keys = append(res.Keys, key)
		res.Bytes += n
	}
	return res, nil
}

func (a *Archiver) upload(ctx context.Context, file, key string) (int64, error) {
	f, err := os.Open(file)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          io.NewSectionReader(f, 0, size),
		ContentLength: aws.Int64(size),
	})
	if err != nil {
		return 0, err
	}
	return size, nil
}
