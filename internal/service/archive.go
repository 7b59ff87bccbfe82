package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	minio "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sirupsen/logrus"

	"github.com/sshcollectorpro/netcomm/internal/config"
	"github.com/sshcollectorpro/netcomm/pkg/logger"
	"github.com/sshcollectorpro/netcomm/pkg/response"
)

const archiveContentType = "application/yaml; charset=utf-8"

// Archiver 将单台设备的结果文档归档
type Archiver interface {
	Archive(ctx context.Context, runID string, store *response.Store) (StoredObject, error)
}

// StoredObject 归档对象信息
type StoredObject struct {
	URI         string `json:"uri"`
	Size        int64  `json:"size"`
	Checksum    string `json:"checksum"`
	ContentType string `json:"content_type"`
}

// NewArchiver 按配置创建归档器，未启用时返回 nil
func NewArchiver(cfg config.ArchiveConfig) Archiver {
	if !cfg.Enable {
		return nil
	}
	local := &LocalArchiver{BaseDir: cfg.LocalDir}
	mw := initMinioArchiver(cfg.Minio)
	if mw == nil {
		return local
	}
	return &DelegatingArchiver{primary: mw, fallback: local, log: logger.Component("archive")}
}

// objectPath runID/host_YYYYMMDD_HHMMSS.yaml
func objectPath(runID, host string, t time.Time) string {
	return path.Join(slug(runID), fmt.Sprintf("%s_%s.yaml", slug(host), t.Format("20060102_150405")))
}

func render(store *response.Store) ([]byte, string, error) {
	data, err := store.YAML()
	if err != nil {
		return nil, "", fmt.Errorf("failed to render document: %w", err)
	}
	sum := sha256.Sum256(data)
	return data, "sha256:" + hex.EncodeToString(sum[:]), nil
}

// DelegatingArchiver 优先写 MinIO，失败回退到本地
type DelegatingArchiver struct {
	primary  Archiver
	fallback Archiver
	log      *logrus.Entry
}

func (a *DelegatingArchiver) Archive(ctx context.Context, runID string, store *response.Store) (StoredObject, error) {
	obj, err := a.primary.Archive(ctx, runID, store)
	if err == nil {
		return obj, nil
	}
	a.log.WithError(err).WithField("host", store.Host()).Warn("minio archive failed; falling back to local")
	obj, lerr := a.fallback.Archive(ctx, runID, store)
	if lerr != nil {
		return StoredObject{}, fmt.Errorf("minio archive failed: %v; local fallback failed: %w", err, lerr)
	}
	return obj, nil
}

// LocalArchiver 本地文件归档
type LocalArchiver struct {
	BaseDir string
	now     func() time.Time
}

func (a *LocalArchiver) Archive(ctx context.Context, runID string, store *response.Store) (StoredObject, error) {
	if err := ctx.Err(); err != nil {
		return StoredObject{}, err
	}
	baseDir := strings.TrimSpace(a.BaseDir)
	if baseDir == "" {
		baseDir = "./data/archive"
	}
	now := time.Now
	if a.now != nil {
		now = a.now
	}
	fullPath := filepath.Join(baseDir, filepath.FromSlash(objectPath(runID, store.Host(), now())))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return StoredObject{}, fmt.Errorf("failed to create dir: %w", err)
	}

	data, chk, err := render(store)
	if err != nil {
		return StoredObject{}, err
	}
	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		return StoredObject{}, fmt.Errorf("failed to write file: %w", err)
	}
	return StoredObject{
		URI:         "file://" + fullPath,
		Size:        int64(len(data)),
		Checksum:    chk,
		ContentType: archiveContentType,
	}, nil
}

// MinioArchiver MinIO 对象存储归档
type MinioArchiver struct {
	client   *minio.Client
	endpoint string
	bucket   string
	prefix   string

	mu            sync.Mutex
	bucketEnsured bool
}

// initMinioArchiver endpoint 未配置或客户端创建失败时返回 nil
func initMinioArchiver(cfg config.MinioConfig) *MinioArchiver {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil
	}

	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 5 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   100,
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:    cfg.UseSSL,
		Transport: transport,
	})
	if err != nil {
		logger.Component("archive").WithError(err).Error("MinIO client initialization failed")
		return nil
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		bucket = "netcomm"
	}
	return &MinioArchiver{client: client, endpoint: endpoint, bucket: bucket, prefix: strings.Trim(cfg.Prefix, "/")}
}

// ObjectName 对象在 bucket 内的路径
func (a *MinioArchiver) ObjectName(runID, host string, t time.Time) string {
	name := objectPath(runID, host, t)
	if a.prefix != "" {
		name = path.Join(a.prefix, name)
	}
	return name
}

func (a *MinioArchiver) Archive(ctx context.Context, runID string, store *response.Store) (StoredObject, error) {
	// 写入前快速连通性探测
	if err := a.fastConnectivityCheck(ctx); err != nil {
		return StoredObject{}, fmt.Errorf("minio connectivity failed to %s: %w", a.endpoint, err)
	}
	if err := a.ensureBucket(ctx, 2); err != nil {
		return StoredObject{}, fmt.Errorf("minio ensure bucket failed: %w", err)
	}

	data, chk, err := render(store)
	if err != nil {
		return StoredObject{}, err
	}
	objectName := a.ObjectName(runID, store.Host(), time.Now())

	// 有限重试，使用请求上下文剩余时间做上限
	var lastErr error
	for _, d := range []time.Duration{2 * time.Second, 4 * time.Second} {
		attemptCtx, cancel := attemptContext(ctx, d)
		_, err := a.client.PutObject(attemptCtx, a.bucket, objectName, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: archiveContentType})
		cancel()
		if err == nil {
			lastErr = nil
			break
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr != nil {
		return StoredObject{}, fmt.Errorf("minio put object failed after retries: %w", lastErr)
	}
	return StoredObject{
		URI:         "minio://" + path.Join(a.bucket, objectName),
		Size:        int64(len(data)),
		Checksum:    chk,
		ContentType: archiveContentType,
	}, nil
}

// fastConnectivityCheck 使用 TCP 直连做快速连通性校验
func (a *MinioArchiver) fastConnectivityCheck(parent context.Context) error {
	d := &net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(parent, "tcp", a.endpoint)
	if err != nil {
		return err
	}
	return conn.Close()
}

// ensureBucket 校验并创建 bucket，支持有限重试
func (a *MinioArchiver) ensureBucket(parent context.Context, retries int) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bucketEnsured {
		return nil
	}
	var lastErr error
	for i := 0; i <= retries; i++ {
		ctx, cancel := attemptContext(parent, 10*time.Second)
		exists, err := a.client.BucketExists(ctx, a.bucket)
		if err == nil && !exists {
			err = a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{})
		}
		cancel()
		if err == nil {
			a.bucketEnsured = true
			return nil
		}
		lastErr = err
		time.Sleep(time.Duration(i+1) * 200 * time.Millisecond)
	}
	return lastErr
}

// attemptContext 构造限时上下文，尊重父上下文的剩余截止时间
func attemptContext(parent context.Context, prefer time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if remain := time.Until(deadline); remain < prefer {
			return context.WithDeadline(parent, deadline)
		}
	}
	return context.WithTimeout(parent, prefer)
}

var slugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

func slug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_").Replace(s)
	s = slugRe.ReplaceAllString(s, "")
	if s == "" {
		s = "unknown"
	}
	return s
}
