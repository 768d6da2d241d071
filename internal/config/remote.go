package config

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// remoteTimeout 拉取远程配置的超时时间
var remoteTimeout = 30 * time.Second

// IsRemote 判断配置来源是否为 http(s) URL
func IsRemote(source string) bool {
	s := strings.ToLower(source)
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// FetchRemote 从远程URL拉取配置内容
func FetchRemote(url string) ([]byte, error) {
	client := &http.Client{
		Timeout: remoteTimeout,
	}

	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("请求远程配置失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("远程配置HTTP状态错误: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("读取远程配置失败: %w", err)
	}
	return body, nil
}
