package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/LENAX/durable-engine/pkg/api/dto"
	"github.com/LENAX/durable-engine/pkg/core/engine"
)

// APIError 服务端返回的错误
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// Client durable-engine HTTP API客户端
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// ========== Workflow API ==========

// StartWorkflow 启动工作流
func (c *Client) StartWorkflow(ctx context.Context, req dto.StartWorkflowRequest) (*dto.StartWorkflowResponse, error) {
	var resp dto.StartWorkflowResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/workflows", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetWorkflow 获取工作流状态
func (c *Client) GetWorkflow(ctx context.Context, id string) (*engine.Status, error) {
	var resp engine.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkflows 列出工作流
func (c *Client) ListWorkflows(ctx context.Context, status, name string, limit, offset int) (*dto.ListResponse[engine.Status], error) {
	q := url.Values{}
	if status != "" {
		q.Set("status", status)
	}
	if name != "" {
		q.Set("name", name)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if offset > 0 {
		q.Set("offset", strconv.Itoa(offset))
	}
	path := "/api/v1/workflows"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var resp dto.ListResponse[engine.Status]
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListSteps 列出工作流步骤
func (c *Client) ListSteps(ctx context.Context, id string) ([]dto.StepDetail, error) {
	var resp []dto.StepDetail
	if err := c.do(ctx, http.MethodGet, "/api/v1/workflows/"+url.PathEscape(id)+"/steps", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Registry 已注册的工作流与定时调度
func (c *Client) Registry(ctx context.Context) (*dto.RegistryResponse, error) {
	var resp dto.RegistryResponse
	if err := c.do(ctx, http.MethodGet, "/api/v1/registry", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Health 健康检查
func (c *Client) Health(ctx context.Context) (*dto.HealthResponse, error) {
	var resp dto.HealthResponse
	if err := c.do(ctx, http.MethodGet, "/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ========== 内部方法 ==========

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("序列化请求体失败: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	return parseResponse(resp, result)
}

// parseResponse 解析通用响应包装，code非0时返回APIError
func parseResponse(resp *http.Response, result any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("读取响应体失败: %w", err)
	}

	var envelope dto.APIResponse[json.RawMessage]
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("解析响应失败: %w, body: %s", err, string(data))
	}
	if envelope.Code != 0 || resp.StatusCode >= http.StatusBadRequest {
		return &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}
	if result == nil || len(envelope.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, result); err != nil {
		return fmt.Errorf("解析响应数据失败: %w", err)
	}
	return nil
}
