package devops

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/XertroV/tasks/boardsync/internal/executor"
	"github.com/XertroV/tasks/boardsync/internal/models"
)

const (
	apiVersion          = "7.0"
	azureDevOpsResource = "499b84ac-1321-427f-aa17-267ca6975798"
)

// REST is a minimal client for the tracker's REST API.
type REST struct {
	Organization string
	Project      string
	token        string
	client       *http.Client
}

func NewREST(organization, project, token string) *REST {
	return &REST{
		Organization: strings.TrimRight(organization, "/"),
		Project:      project,
		token:        token,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

// authorization uses a bearer token for JWTs from az and basic auth for PATs.
func (r *REST) authorization() string {
	if strings.HasPrefix(r.token, "eyJ") {
		return "Bearer " + r.token
	}
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(":"+r.token))
}

func (r *REST) projectURL(path string) string {
	return fmt.Sprintf("%s/%s/_apis/%s", r.Organization, url.PathEscape(r.Project), path)
}

func (r *REST) do(ctx context.Context, method, endpoint, contentType string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", r.authorization())
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// UploadAttachment stores file content and returns its attachment URL.
func (r *REST) UploadAttachment(ctx context.Context, data []byte, filename string) (string, error) {
	endpoint := r.projectURL(fmt.Sprintf("wit/attachments?fileName=%s&api-version=%s", url.QueryEscape(filename), apiVersion))
	var result struct {
		URL string `json:"url"`
	}
	if err := r.do(ctx, http.MethodPost, endpoint, "application/octet-stream", data, &result); err != nil {
		return "", fmt.Errorf("upload %s: %w", filename, err)
	}
	if result.URL == "" {
		return "", fmt.Errorf("upload %s: no url in response", filename)
	}
	return result.URL, nil
}

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value"`
}

// AttachRelation links an uploaded attachment to a work item.
func (r *REST) AttachRelation(ctx context.Context, id models.ExternalID, attachmentURL, comment string) error {
	body, err := json.Marshal([]patchOp{{
		Op:   "add",
		Path: "/relations/-",
		Value: map[string]any{
			"rel":        "AttachedFile",
			"url":        attachmentURL,
			"attributes": map[string]string{"comment": comment},
		},
	}})
	if err != nil {
		return fmt.Errorf("encode patch: %w", err)
	}
	endpoint := r.projectURL(fmt.Sprintf("wit/workitems/%s?api-version=%s", url.PathEscape(id.String()), apiVersion))
	if err := r.do(ctx, http.MethodPatch, endpoint, "application/json-patch+json", body, nil); err != nil {
		return fmt.Errorf("attach to #%s: %w", id, err)
	}
	return nil
}

// TemplateDetection is the result of probing a project's work item types.
type TemplateDetection struct {
	Template      executor.Template `json:"processTemplate" yaml:"processTemplate"`
	Detected      bool              `json:"detected" yaml:"detected"`
	WorkItemTypes []string          `json:"workItemTypes" yaml:"workItemTypes"`
}

// DetectTemplate infers the process template from the project's work item
// types.
func (r *REST) DetectTemplate(ctx context.Context) (TemplateDetection, error) {
	var result struct {
		Value []struct {
			Name string `json:"name"`
		} `json:"value"`
	}
	endpoint := r.projectURL("wit/workitemtypes?api-version=" + apiVersion)
	if err := r.do(ctx, http.MethodGet, endpoint, "", nil, &result); err != nil {
		return TemplateDetection{}, fmt.Errorf("list work item types: %w", err)
	}
	names := []string{}
	for _, v := range result.Value {
		if v.Name != "" {
			names = append(names, v.Name)
		}
	}
	sort.Strings(names)
	tmpl, ok := executor.TemplateFromTypes(names)
	return TemplateDetection{Template: tmpl, Detected: ok, WorkItemTypes: names}, nil
}
