// Package devops implements the work item tracker on top of the az CLI, with
// REST calls for what the CLI does not cover.
package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/XertroV/tasks/boardsync/internal/executor"
	"github.com/XertroV/tasks/boardsync/internal/models"
)

// DefaultTimeout bounds a single az invocation.
const DefaultTimeout = 120 * time.Second

// Runner executes one command and returns its output. A non-nil error with
// output means the command ran and failed.
type Runner func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// FindAz locates the az executable, falling back to the bare name.
func FindAz() string {
	for _, name := range []string{"az", "az.cmd"} {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return "az"
}

// Client talks to the tracker. Work item and iteration calls go through az;
// attachments go through REST and need an organization URL and a token.
type Client struct {
	Bin          string
	Organization string
	Project      string
	Timeout      time.Duration

	run  Runner
	rest *REST
}

var _ executor.Collaborator = (*Client)(nil)

// ErrAttachmentsUnavailable is returned by attachment calls when no REST
// credentials were configured.
var ErrAttachmentsUnavailable = errors.New("attachments need an organization URL and a token")

func New(bin, organization, project string) *Client {
	if bin == "" {
		bin = FindAz()
	}
	return &Client{
		Bin:          bin,
		Organization: organization,
		Project:      project,
		Timeout:      DefaultTimeout,
		run:          execRunner,
	}
}

// WithRunner replaces the command runner.
func (c *Client) WithRunner(run Runner) *Client {
	c.run = run
	return c
}

// WithREST enables attachment uploads.
func (c *Client) WithREST(rest *REST) *Client {
	c.rest = rest
	return c
}

// Az runs one az command with JSON output and decodes the response. Empty
// output decodes to an empty object.
func (c *Client) Az(ctx context.Context, args ...string) (map[string]any, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	full := append(append([]string{}, args...), "--output", "json")
	stdout, stderr, err := c.run(ctx, c.Bin, full...)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("az %s: timed out after %s", strings.Join(args[:min(len(args), 3)], " "), timeout)
		}
		var exitErr *exec.ExitError
		switch {
		case len(bytes.TrimSpace(stderr)) > 0:
			return nil, errors.New(strings.TrimSpace(string(stderr)))
		case len(bytes.TrimSpace(stdout)) > 0:
			return nil, errors.New(strings.TrimSpace(string(stdout)))
		case errors.As(err, &exitErr):
			return nil, fmt.Errorf("exit code %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("run az: %w", err)
	}
	out := map[string]any{}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(stdout, &out); err != nil {
		return nil, fmt.Errorf("decode az output: %w", err)
	}
	return out, nil
}

// idFrom reads the id of a created resource, accepting numeric and string ids.
func idFrom(resp map[string]any, keys ...string) models.ExternalID {
	for _, key := range keys {
		switch v := resp[key].(type) {
		case float64:
			return models.ExternalID(strconv.FormatInt(int64(v), 10))
		case string:
			if v != "" {
				return models.ExternalID(v)
			}
		}
	}
	return ""
}

func (c *Client) orgArgs() []string {
	if c.Organization == "" {
		return nil
	}
	return []string{"--org", c.Organization}
}

func (c *Client) projectArgs() []string {
	if c.Project == "" {
		return nil
	}
	return []string{"--project", c.Project}
}

// workItemArgs renders the optional work item flags in a fixed order.
func workItemArgs(item executor.WorkItem) []string {
	var args []string
	add := func(flag, value string) {
		if value != "" {
			args = append(args, flag, value)
		}
	}
	add("--title", item.Title)
	add("--description", item.Description)
	add("--state", item.State)
	add("--area", item.AreaPath)
	add("--iteration", item.IterationPath)
	for _, f := range item.Fields {
		args = append(args, "--fields", f.Name+"="+f.Value)
	}
	return args
}

func (c *Client) Create(ctx context.Context, item executor.WorkItem) (models.ExternalID, error) {
	args := []string{"boards", "work-item", "create", "--type", item.Type}
	args = append(args, workItemArgs(item)...)
	args = append(args, c.orgArgs()...)
	args = append(args, c.projectArgs()...)
	resp, err := c.Az(ctx, args...)
	if err != nil {
		return "", err
	}
	return idFrom(resp, "id"), nil
}

func (c *Client) Update(ctx context.Context, id models.ExternalID, item executor.WorkItem) error {
	args := []string{"boards", "work-item", "update", "--id", id.String()}
	args = append(args, workItemArgs(item)...)
	args = append(args, c.orgArgs()...)
	_, err := c.Az(ctx, args...)
	return err
}

func (c *Client) Link(ctx context.Context, child, parent models.ExternalID) error {
	args := []string{
		"boards", "work-item", "relation", "add",
		"--id", child.String(),
		"--relation-type", "parent",
		"--target-id", parent.String(),
	}
	_, err := c.Az(ctx, append(args, c.orgArgs()...)...)
	return err
}

// CreateIteration creates an iteration node. parentPath uses the
// classification form \Project\Iteration[\Root]; empty means the default.
func (c *Client) CreateIteration(ctx context.Context, name, parentPath string) (models.ExternalID, error) {
	args := []string{"boards", "iteration", "project", "create", "--name", name}
	if parentPath != "" {
		args = append(args, "--path", parentPath)
	}
	args = append(args, c.orgArgs()...)
	args = append(args, c.projectArgs()...)
	resp, err := c.Az(ctx, args...)
	if err != nil {
		return "", err
	}
	return idFrom(resp, "id", "identifier"), nil
}

func (c *Client) Move(ctx context.Context, id models.ExternalID, iterationPath string) error {
	return c.Update(ctx, id, executor.WorkItem{IterationPath: iterationPath})
}

func (c *Client) UploadAttachment(ctx context.Context, data []byte, filename string) (string, error) {
	if c.rest == nil {
		return "", ErrAttachmentsUnavailable
	}
	return c.rest.UploadAttachment(ctx, data, filename)
}

func (c *Client) AttachRelation(ctx context.Context, id models.ExternalID, url, comment string) error {
	if c.rest == nil {
		return ErrAttachmentsUnavailable
	}
	return c.rest.AttachRelation(ctx, id, url, comment)
}

// AccessToken asks the signed-in az session for a tracker access token.
func (c *Client) AccessToken(ctx context.Context) (string, error) {
	resp, err := c.Az(ctx, "account", "get-access-token", "--resource", azureDevOpsResource)
	if err != nil {
		return "", err
	}
	token, _ := resp["accessToken"].(string)
	if token == "" {
		return "", errors.New("az returned no access token")
	}
	return token, nil
}
