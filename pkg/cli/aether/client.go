// Package aether 协调面的瘦HTTP客户端（CLI使用）
package aether

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/LENAX/aether/pkg/api/dto"
)

// Client 协调面客户端
type Client struct {
	baseURL string
	http    *http.Client
}

// New 创建客户端
func New(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Status 查询workflow状态
func (c *Client) Status(workflowID string) (*dto.WorkflowStatusResponse, error) {
	var resp dto.WorkflowStatusResponse
	if err := c.get("/workflows/"+url.PathEscape(workflowID), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel 请求取消workflow
func (c *Client) Cancel(workflowID string) (*dto.CancelWorkflowResponse, error) {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/workflows/"+url.PathEscape(workflowID), nil)
	if err != nil {
		return nil, err
	}
	var resp dto.CancelWorkflowResponse
	if err := c.do(req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListWorkflows 列出workflow摘要
func (c *Client) ListWorkflows(workflowType, state string) ([]dto.WorkflowSummaryInfo, error) {
	query := url.Values{}
	if workflowType != "" {
		query.Set("type", workflowType)
	}
	if state != "" {
		query.Set("state", state)
	}
	path := "/workflows"
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	var resp struct {
		Workflows []dto.WorkflowSummaryInfo `json:"workflows"`
	}
	if err := c.get(path, &resp); err != nil {
		return nil, err
	}
	return resp.Workflows, nil
}

func (c *Client) get(path string, out interface{}) error {
	req, err := http.NewRequest(http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out interface{}) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr dto.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
