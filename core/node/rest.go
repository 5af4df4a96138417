package node

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"lavaqueue/logger"
	"lavaqueue/model"
)

// LoadType 节点 loadtracks 接口返回的结果类型
type LoadType string

const (
	LoadTrackLoaded    LoadType = "TRACK_LOADED"
	LoadPlaylistLoaded LoadType = "PLAYLIST_LOADED"
	LoadSearchResult   LoadType = "SEARCH_RESULT"
	LoadNoMatches      LoadType = "NO_MATCHES"
	LoadFailed         LoadType = "LOAD_FAILED"
)

// LoadResult loadtracks 响应
type LoadResult struct {
	LoadType     LoadType       `json:"loadType"`
	PlaylistInfo *PlaylistInfo  `json:"playlistInfo,omitempty"`
	Tracks       []*model.Track `json:"tracks"`
	Exception    *LoadException `json:"exception,omitempty"`
}

// PlaylistInfo 歌单信息
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadException 加载失败原因
type LoadException struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// RestClient 节点 REST API 客户端，用于把查询解析为可播放曲目
type RestClient struct {
	baseURL    string
	password   string
	source     string
	httpClient *http.Client
}

// NewRestClient 创建 REST 客户端。source 为搜索前缀，例如 ytsearch。
func NewRestClient(baseURL, password, source string) *RestClient {
	return &RestClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		password: password,
		source:   source,
		httpClient: &http.Client{
			Timeout: time.Second * 10,
		},
	}
}

// SetTimeout 设置请求超时时间
func (c *RestClient) SetTimeout(timeout time.Duration) {
	c.httpClient.Timeout = timeout
}

// LoadTracks 调用 /loadtracks
func (c *RestClient) LoadTracks(ctx context.Context, identifier string) (*LoadResult, error) {
	endpoint := fmt.Sprintf("%s/loadtracks?identifier=%s", c.baseURL, url.QueryEscape(identifier))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Authorization", c.password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("请求失败: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("节点返回错误状态码: %d", resp.StatusCode)
	}

	var result LoadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("解析响应失败: %w", err)
	}
	return &result, nil
}

// Resolve turns a query into playable candidates. No match yields an empty
// slice and no error; a failed load or unreachable node yields an error.
func (c *RestClient) Resolve(ctx context.Context, query string) ([]*model.Track, error) {
	result, err := c.LoadTracks(ctx, c.identifier(query))
	if err != nil {
		return nil, err
	}

	switch result.LoadType {
	case LoadFailed:
		msg := "unknown error"
		if result.Exception != nil {
			msg = result.Exception.Message
		}
		return nil, fmt.Errorf("load failed for %q: %s", query, msg)
	case LoadNoMatches:
		return nil, nil
	}

	tracks := make([]*model.Track, 0, len(result.Tracks))
	for _, track := range result.Tracks {
		if track.IsResolved() {
			tracks = append(tracks, track)
		}
	}

	logger.Debug("resolved query",
		logger.String("query", query),
		logger.String("loadType", string(result.LoadType)),
		logger.Int("candidates", len(tracks)))
	return tracks, nil
}

func (c *RestClient) identifier(query string) string {
	if c.source == "" || strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return query
	}
	return c.source + ":" + query
}
