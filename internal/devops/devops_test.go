package devops

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/XertroV/tasks/boardsync/internal/executor"
	"github.com/XertroV/tasks/boardsync/internal/models"
)

type scriptedRunner struct {
	calls  [][]string
	stdout string
	stderr string
	err    error
}

func (s *scriptedRunner) run(_ context.Context, name string, args ...string) ([]byte, []byte, error) {
	s.calls = append(s.calls, append([]string{name}, args...))
	return []byte(s.stdout), []byte(s.stderr), s.err
}

func TestCreatePassesFlagsAndReadsID(t *testing.T) {
	t.Parallel()

	r := &scriptedRunner{stdout: `{"id": 4242, "rev": 1}`}
	c := New("az", "https://dev.azure.com/org", "Proj").WithRunner(r.run)
	id, err := c.Create(context.Background(), executor.WorkItem{
		Type:          "Task",
		Title:         "Init",
		AreaPath:      `Proj\Team`,
		IterationPath: `Proj\Sprints`,
		Fields:        []executor.Field{{Name: executor.FieldPriority, Value: "1"}, {Name: executor.FieldTags, Value: "a;b"}},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ExternalID("4242"), id)

	require.Len(t, r.calls, 1)
	assert.Equal(t, []string{
		"az", "boards", "work-item", "create", "--type", "Task",
		"--title", "Init",
		"--area", `Proj\Team`,
		"--iteration", `Proj\Sprints`,
		"--fields", "Microsoft.VSTS.Common.Priority=1",
		"--fields", "System.Tags=a;b",
		"--org", "https://dev.azure.com/org",
		"--project", "Proj",
		"--output", "json",
	}, r.calls[0])
}

func TestAzErrorPrefersStderr(t *testing.T) {
	t.Parallel()

	r := &scriptedRunner{stderr: "ERROR: TF401232: not found\n", stdout: "ignored", err: errors.New("exit status 1")}
	c := New("az", "", "").WithRunner(r.run)
	err := c.Move(context.Background(), "7", `Proj\s`)
	require.Error(t, err)
	assert.Equal(t, "ERROR: TF401232: not found", err.Error())
	assert.Equal(t, []string{"az", "boards", "work-item", "update", "--id", "7", "--iteration", `Proj\s`, "--output", "json"}, r.calls[0])

	r = &scriptedRunner{stdout: "plain failure", err: errors.New("exit status 2")}
	_, err = New("az", "", "").WithRunner(r.run).Az(context.Background(), "boards")
	require.Error(t, err)
	assert.Equal(t, "plain failure", err.Error())
}

func TestAzTimeout(t *testing.T) {
	t.Parallel()

	slow := func(ctx context.Context, _ string, _ ...string) ([]byte, []byte, error) {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	c := New("az", "", "").WithRunner(slow)
	c.Timeout = 10 * time.Millisecond
	_, err := c.Az(context.Background(), "boards", "work-item", "show")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
}

func TestAzEmptyOutputIsEmptyObject(t *testing.T) {
	t.Parallel()

	r := &scriptedRunner{}
	resp, err := New("az", "", "").WithRunner(r.run).Az(context.Background(), "boards")
	require.NoError(t, err)
	assert.Empty(t, resp)
}

func TestCreateIterationReadsIdentifier(t *testing.T) {
	t.Parallel()

	r := &scriptedRunner{stdout: `{"identifier": "a1b2-c3", "name": "epic-1-x"}`}
	c := New("az", "", "Proj").WithRunner(r.run)
	id, err := c.CreateIteration(context.Background(), "epic-1-x", `\Proj\Iteration`)
	require.NoError(t, err)
	assert.Equal(t, models.ExternalID("a1b2-c3"), id)
	assert.Contains(t, strings.Join(r.calls[0], " "), `--name epic-1-x --path \Proj\Iteration --project Proj`)
}

func TestAttachmentsNeedREST(t *testing.T) {
	t.Parallel()

	c := New("az", "", "")
	_, err := c.UploadAttachment(context.Background(), []byte("x"), "a.md")
	assert.True(t, errors.Is(err, ErrAttachmentsUnavailable))
	assert.True(t, errors.Is(c.AttachRelation(context.Background(), "1", "u", "c"), ErrAttachmentsUnavailable))
}

func TestAccessToken(t *testing.T) {
	t.Parallel()

	r := &scriptedRunner{stdout: `{"accessToken": "eyJabc", "expiresOn": "x"}`}
	token, err := New("az", "", "").WithRunner(r.run).AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "eyJabc", token)
	assert.Contains(t, r.calls[0], azureDevOpsResource)
}

func TestRESTUploadAndAttach(t *testing.T) {
	t.Parallel()

	var patched []map[string]any
	upload := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "1-1 story.md", r.URL.Query().Get("fileName"))
		assert.Equal(t, "application/octet-stream", r.Header.Get("Content-Type"))
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte(":pat"))
		assert.Equal(t, want, r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "# story", string(body))
		_, _ = w.Write([]byte(`{"id": "att", "url": "https://host/att/1"}`))
	}
	attach := func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "application/json-patch+json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&patched))
		_, _ = w.Write([]byte(`{}`))
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/org/My Proj/_apis/wit/attachments":
			upload(w, r)
		case "/org/My Proj/_apis/wit/workitems/42":
			attach(w, r)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	rest := NewREST(srv.URL+"/org/", "My Proj", "pat")
	url, err := rest.UploadAttachment(context.Background(), []byte("# story"), "1-1 story.md")
	require.NoError(t, err)
	assert.Equal(t, "https://host/att/1", url)

	require.NoError(t, rest.AttachRelation(context.Background(), "42", url, "Story specification file"))
	require.Len(t, patched, 1)
	assert.Equal(t, "/relations/-", patched[0]["path"])
	value := patched[0]["value"].(map[string]any)
	assert.Equal(t, "AttachedFile", value["rel"])
	assert.Equal(t, url, value["url"])
}

func TestRESTBearerAndHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer eyJtoken", r.Header.Get("Authorization"))
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewREST(srv.URL, "P", "eyJtoken").UploadAttachment(context.Background(), nil, "a.md")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 401")
}

func TestDetectTemplate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/P/_apis/wit/workitemtypes", r.URL.Path)
		_, _ = w.Write([]byte(`{"value": [{"name": "Task"}, {"name": "Product Backlog Item"}, {"name": "Bug"}]}`))
	}))
	defer srv.Close()

	got, err := NewREST(srv.URL, "P", "pat").DetectTemplate(context.Background())
	require.NoError(t, err)
	assert.True(t, got.Detected)
	assert.Equal(t, executor.TemplateScrum, got.Template)
	assert.Equal(t, []string{"Bug", "Product Backlog Item", "Task"}, got.WorkItemTypes)
}
