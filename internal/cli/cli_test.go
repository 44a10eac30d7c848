package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agentpress/internal/config"
	"agentpress/internal/message"
	"agentpress/internal/provider"
	"agentpress/internal/storage"
)

// fakeProvider answers every request with the next scripted reply.
type fakeProvider struct {
	mu       sync.Mutex
	replies  []string
	err      error
	requests []provider.ChatRequest
}

func (p *fakeProvider) Name() string     { return "scripted" }
func (p *fakeProvider) Models() []string { return []string{"scripted-model"} }

func (p *fakeProvider) next(req provider.ChatRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", errors.New("script exhausted")
	}
	r := p.replies[0]
	p.replies = p.replies[1:]
	return r, nil
}

func (p *fakeProvider) Chat(_ context.Context, req provider.ChatRequest) (*provider.ChatResponse, error) {
	reply, err := p.next(req)
	if err != nil {
		return nil, err
	}
	return &provider.ChatResponse{Content: reply, FinishReason: provider.FinishReasonStop}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatEvent, error) {
	reply, err := p.next(req)
	if err != nil {
		return nil, err
	}
	ch := make(chan provider.ChatEvent)
	go func() {
		defer close(ch)
		events := make([]provider.ChatEvent, 0, 3)
		for _, word := range strings.SplitAfter(reply, " ") {
			events = append(events, provider.ChatEvent{Type: provider.EventTypeContent, Delta: word})
		}
		events = append(events, provider.ChatEvent{Type: provider.EventTypeDone, FinishReason: provider.FinishReasonStop})
		for _, ev := range events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (p *fakeProvider) lastRequest(t *testing.T) provider.ChatRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.requests)
	return p.requests[len(p.requests)-1]
}

type testEnv struct {
	dir        string
	configPath string
	provider   *fakeProvider
}

func newTestEnv(t *testing.T, stream bool) *testEnv {
	t.Helper()

	dir := t.TempDir()
	env := &testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		provider:   &fakeProvider{},
	}
	cfg := fmt.Sprintf(`log:
  level: error
storage:
  driver: sqlite
  path: %s
provider:
  name: scripted
model:
  name: scripted-model
  stream: %t
context:
  token_counter: estimate
prompt:
  agent_name: Tester
`, filepath.Join(dir, "data.db"), stream)
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0600))

	provider.Register("scripted", func(context.Context) (provider.Provider, error) {
		return env.provider, nil
	})
	config.Reset()
	t.Cleanup(config.Reset)
	return env
}

func (e *testEnv) run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	config.Reset()

	var stdout, stderr bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs(append([]string{"--config", e.configPath}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(stdin))
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()
	out, stderr, err := e.run(t, "", args...)
	require.NoError(t, err, "stderr: %s", stderr)
	return out
}

// openStore opens the test database directly, outside any command.
func (e *testEnv) openStore(t *testing.T) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(e.dir, "data.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func threadFromStderr(t *testing.T, stderr string) string {
	t.Helper()
	for _, line := range strings.Split(stderr, "\n") {
		if id, ok := strings.CutPrefix(line, "thread "); ok {
			return strings.TrimSpace(id)
		}
	}
	t.Fatalf("no thread id in stderr %q", stderr)
	return ""
}

func TestVersionCmd(t *testing.T) {
	env := newTestEnv(t, false)
	out := env.mustRun(t, "version")
	assert.True(t, strings.HasPrefix(out, "agentpress dev\n"), out)
	assert.Contains(t, out, "Go version:")

	assert.Equal(t, "dev\n", env.mustRun(t, "version", "--short"))

	var info BuildInfo
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "version", "--json")), &info))
	assert.Equal(t, "dev", info.Version)
	assert.NotEmpty(t, info.GoVersion)
}

func TestThreadLifecycle(t *testing.T) {
	env := newTestEnv(t, false)

	id := strings.TrimSpace(env.mustRun(t, "thread", "new", "--title", "release notes"))
	require.NotEmpty(t, id)

	out := env.mustRun(t, "thread", "list")
	assert.Contains(t, out, "ID")
	assert.Contains(t, out, id)
	assert.Contains(t, out, "release notes")

	out = env.mustRun(t, "thread", "list", "--json")
	var threads []storage.Thread
	require.NoError(t, json.Unmarshal([]byte(out), &threads))
	require.Len(t, threads, 1)
	assert.Equal(t, id, threads[0].ID)

	out = env.mustRun(t, "thread", "show", id)
	assert.Contains(t, out, "Thread:   "+id)
	assert.Contains(t, out, "Title:    release notes")
	assert.Contains(t, out, "Messages: 0")

	out = env.mustRun(t, "thread", "delete", id)
	assert.Equal(t, "Deleted thread "+id+"\n", out)

	out = env.mustRun(t, "thread", "list")
	assert.Equal(t, "No threads found.\n", out)

	_, _, err := env.run(t, "", "thread", "show", id)
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrThreadNotFound)
}

func TestChat_SingleShotCreatesThread(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.replies = []string{"The notes cover three fixes."}

	out, stderr, err := env.run(t, "", "chat", "Summarize", "the", "notes")
	require.NoError(t, err)
	assert.Equal(t, "The notes cover three fixes.\n", out)

	threadID := threadFromStderr(t, stderr)
	db := env.openStore(t)
	thread, err := db.GetThread(context.Background(), threadID)
	require.NoError(t, err)
	assert.Equal(t, "Summarize the notes", thread.Title)

	msgs, err := db.FetchThreadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, message.RoleUser, msgs[0].Role)
	assert.Equal(t, "Summarize the notes", msgs[0].Content.String())
	assert.Equal(t, message.RoleAssistant, msgs[1].Role)
	assert.True(t, msgs[1].FromModel)
	assert.Equal(t, "The notes cover three fixes.", msgs[1].Content.String())

	req := env.provider.lastRequest(t)
	assert.Equal(t, "scripted-model", req.Model)
	assert.False(t, req.Stream)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, provider.RoleSystem, req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "Tester")
}

func TestChat_ContinuesThreadWithEphemeral(t *testing.T) {
	env := newTestEnv(t, true)
	env.provider.replies = []string{"first answer", "second answer"}

	id := strings.TrimSpace(env.mustRun(t, "thread", "new"))
	out := env.mustRun(t, "chat", "--thread", id, "--system", "Be brief.", "--ephemeral", "Answer in one line", "hello")
	assert.Equal(t, "first answer\n", out)

	req := env.provider.lastRequest(t)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "Be brief.", req.Messages[0].Content)
	// the ephemeral message sits right before the latest user message
	assert.Equal(t, "Answer in one line", req.Messages[1].Content)
	assert.Equal(t, "hello", req.Messages[2].Content)

	out = env.mustRun(t, "chat", "--thread", id, "--no-stream", "again")
	assert.Equal(t, "second answer\n", out)

	req = env.provider.lastRequest(t)
	assert.False(t, req.Stream)
	// system, hello, first answer, again; the ephemeral is gone
	require.Len(t, req.Messages, 4)
	assert.Equal(t, "first answer", req.Messages[2].Content)
	assert.Equal(t, "again", req.Messages[3].Content)
}

func TestChat_Interactive(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.replies = []string{"one", "two"}

	out, stderr, err := env.run(t, "first\n\nsecond\nexit\nnever sent\n", "chat")
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", out)
	assert.Contains(t, stderr, "> ")

	threadID := threadFromStderr(t, stderr)
	msgs, err := env.openStore(t).FetchThreadMessages(context.Background(), threadID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, "second", msgs[2].Content.String())
}

func TestChat_ProviderError(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.err = errors.New("backend down")

	_, _, err := env.run(t, "", "chat", "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run failed")
	assert.Contains(t, err.Error(), "backend down")
}

func TestChat_UnknownThread(t *testing.T) {
	env := newTestEnv(t, false)

	_, _, err := env.run(t, "", "chat", "--thread", "missing", "hi")
	require.Error(t, err)
	assert.ErrorIs(t, err, storage.ErrThreadNotFound)
}

func TestExpandCmd(t *testing.T) {
	env := newTestEnv(t, false)
	db := env.openStore(t)
	ctx := context.Background()

	thread, err := db.CreateThread(ctx, "", nil)
	require.NoError(t, err)
	long := strings.Repeat("log line\n", 50)
	m, err := db.AppendMessage(ctx, thread.ID, message.Message{
		Role:    message.RoleTool,
		Kind:    message.KindTool,
		Content: message.Text(long),
	})
	require.NoError(t, err)

	out := env.mustRun(t, "expand", m.ID)
	assert.Equal(t, long+"\n", out)

	out = env.mustRun(t, "expand", "--json", m.ID)
	var got message.Message
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, m.ID, got.ID)
	assert.Equal(t, message.RoleTool, got.Role)

	_, _, err = env.run(t, "", "expand", "missing")
	assert.ErrorIs(t, err, storage.ErrMessageNotFound)
}

func TestCompressCmd(t *testing.T) {
	env := newTestEnv(t, false)
	db := env.openStore(t)
	ctx := context.Background()

	thread, err := db.CreateThread(ctx, "", nil)
	require.NoError(t, err)
	var ids []string
	for _, text := range []string{strings.Repeat("a", 8000), strings.Repeat("b", 8000), "short question"} {
		m, err := db.AppendMessage(ctx, thread.ID, message.New(message.RoleUser, text))
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	out := env.mustRun(t, "compress", "--thread", thread.ID, "--max-tokens", "1500", "--threshold", "64")
	assert.Contains(t, out, "Model:      scripted-model")
	assert.Contains(t, out, "Budget:     1500 tokens")
	assert.Contains(t, out, "Attempts:")
	assert.Contains(t, out, "BYTES BEFORE")
	assert.Contains(t, out, ids[0])
	assert.Contains(t, out, ids[1])
	assert.NotContains(t, out, ids[2])

	// reporting never rewrites stored messages
	stored, err := db.GetMessage(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 8000, stored.Content.Len())

	_, _, err = env.run(t, "", "compress", "--thread", thread.ID, "--threshold", "100")
	require.Error(t, err)
}

func TestSummarizeCmd(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.replies = []string{"The user asked about fixes."}
	db := env.openStore(t)
	ctx := context.Background()

	thread, err := db.CreateThread(ctx, "", nil)
	require.NoError(t, err)
	for _, text := range []string{"what changed?", "three fixes", "which ones?"} {
		_, err := db.AppendMessage(ctx, thread.ID, message.New(message.RoleUser, text))
		require.NoError(t, err)
	}

	out := env.mustRun(t, "summarize", "--thread", thread.ID)
	assert.Contains(t, out, "No summary written")
	assert.Contains(t, out, "threshold 120000")

	out = env.mustRun(t, "summarize", "--thread", thread.ID, "--force")
	assert.Contains(t, out, "Summarized")

	msgs, err := db.FetchThreadMessages(ctx, thread.ID)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, message.KindSummary, msgs[0].Kind)
	assert.Contains(t, msgs[0].Content.String(), "The user asked about fixes.")
	assert.Equal(t, "scripted-model", env.provider.lastRequest(t).Model)

	out = env.mustRun(t, "thread", "show", "--all", thread.ID)
	assert.Contains(t, out, "what changed?")
}

func TestChat_ToolsFile(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.replies = []string{"port 22 is open"}

	toolsPath := filepath.Join(env.dir, "tools.json")
	require.NoError(t, os.WriteFile(toolsPath, []byte(`[
  {"function": {"name": "scan_ports", "description": "List listening ports", "parameters": {"type": "object"}}}
]`), 0600))

	out := env.mustRun(t, "chat", "--tools", toolsPath, "which ports are open?")
	assert.Equal(t, "port 22 is open\n", out)

	req := env.provider.lastRequest(t)
	require.Len(t, req.Tools, 1)
	assert.Equal(t, "function", req.Tools[0].Type)
	assert.Equal(t, "scan_ports", req.Tools[0].Function.Name)
	assert.Equal(t, provider.ToolChoiceAuto, req.ToolChoice)
	assert.Contains(t, req.Messages[0].Content, "## Available Tools")
	assert.Contains(t, req.Messages[0].Content, "### scan_ports")
	assert.Contains(t, req.Messages[0].Content, "List listening ports")

	require.NoError(t, os.WriteFile(toolsPath, []byte(`[{"function": {"description": "nameless"}}]`), 0600))
	_, _, err := env.run(t, "", "chat", "--tools", toolsPath, "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no function name")

	_, _, err = env.run(t, "", "chat", "--tools", filepath.Join(env.dir, "missing.json"), "hi")
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestChat_WithoutToolsOmitsToolSection(t *testing.T) {
	env := newTestEnv(t, false)
	env.provider.replies = []string{"ok"}

	env.mustRun(t, "chat", "hi")

	req := env.provider.lastRequest(t)
	assert.Empty(t, req.Tools)
	assert.Empty(t, req.ToolChoice)
	assert.NotContains(t, req.Messages[0].Content, "Available Tools")
}

func TestConfigCmd_GetSet(t *testing.T) {
	env := newTestEnv(t, false)

	assert.Equal(t, "0\n", env.mustRun(t, "config", "get", "runner.max_tool_calls"))
	assert.Equal(t, "Tester\n", env.mustRun(t, "config", "get", "prompt.agent_name"))

	out := env.mustRun(t, "config", "set", "runner.max_tool_calls", "6")
	assert.Equal(t, "Set runner.max_tool_calls = 6\n", out)
	assert.Equal(t, "6\n", env.mustRun(t, "config", "get", "runner.max_tool_calls"))

	env.mustRun(t, "config", "set", "prompt.constraints", "[no network, be brief]")

	// the file keeps the earlier settings alongside the new ones
	config.Reset()
	cfg, err := config.Load(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Runner.MaxToolCalls)
	assert.Equal(t, []string{"no network", "be brief"}, cfg.Prompt.Constraints)
	assert.Equal(t, "Tester", cfg.Prompt.AgentName)
	assert.Equal(t, "estimate", cfg.Context.TokenCounter)
}

func TestConfigCmd_SetRejected(t *testing.T) {
	env := newTestEnv(t, false)
	before, err := os.ReadFile(env.configPath)
	require.NoError(t, err)

	_, _, err = env.run(t, "", "config", "set", "context.message_threshold", "1000")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, _, err = env.run(t, "", "config", "set", "runner.max_tool_calls", "-1")
	assert.ErrorIs(t, err, config.ErrInvalidConfig)

	_, _, err = env.run(t, "", "config", "set", "runner.unknown", "1")
	assert.ErrorIs(t, err, config.ErrUnknownKey)

	_, _, err = env.run(t, "", "config", "get", "runner.unknown")
	assert.ErrorIs(t, err, config.ErrUnknownKey)

	after, err := os.ReadFile(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after), "rejected values are never written")
}

func TestConfigCmd_ListMasksSecrets(t *testing.T) {
	env := newTestEnv(t, false)
	env.mustRun(t, "config", "set", "provider.gemini.api_key", "AIzaSecretKey42")

	out := env.mustRun(t, "config", "list")
	assert.Contains(t, out, "runner.max_tool_calls = 0\n")
	assert.Contains(t, out, "provider.gemini.api_key = AI***********42\n")
	assert.NotContains(t, out, "AIzaSecretKey42")

	out = env.mustRun(t, "config", "list", "--all")
	assert.Contains(t, out, "provider.gemini.api_key = AIzaSecretKey42\n")
}

func TestConfigCmd_PathAndInit(t *testing.T) {
	env := newTestEnv(t, false)
	assert.Equal(t, env.configPath+"\n", env.mustRun(t, "config", "path"))

	_, _, err := env.run(t, "", "config", "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	out := env.mustRun(t, "config", "init", "--force")
	assert.Equal(t, "Wrote "+env.configPath+"\n", out)

	config.Reset()
	cfg, err := config.Load(env.configPath)
	require.NoError(t, err)
	assert.Equal(t, "Tester", cfg.Prompt.AgentName)
	assert.Equal(t, "scripted", cfg.Provider.Name)
	assert.Equal(t, 4096, cfg.Context.MessageThreshold)
	assert.Equal(t, 25, cfg.Runner.MaxAutoContinues)
	require.NoError(t, cfg.Validate())

	fresh := filepath.Join(env.dir, "fresh", "config.yaml")
	config.Reset()
	var stdout bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"--config", fresh, "config", "init"})
	cmd.SetOut(&stdout)
	require.NoError(t, cmd.Execute())
	assert.FileExists(t, fresh)
}

func TestInvalidConfig(t *testing.T) {
	env := newTestEnv(t, false)
	require.NoError(t, os.WriteFile(env.configPath, []byte("storage:\n  driver: postgres\n"), 0600))

	_, _, err := env.run(t, "", "thread", "list")
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrInvalidConfig)
}

func TestCLIContext_Metrics(t *testing.T) {
	config.Reset()
	t.Cleanup(config.Reset)
	cfg, err := config.Load("")
	require.NoError(t, err)

	cliCtx := NewCLIContext(cfg, "", nil, false, false)
	assert.Nil(t, cliCtx.Metrics(), "metrics are off without a listen address")

	cfg.Metrics.Listen = "127.0.0.1:0"
	cliCtx = NewCLIContext(cfg, "", nil, false, false)
	collector := cliCtx.Metrics()
	require.NotNil(t, collector)
	assert.Same(t, collector, cliCtx.Metrics())
	require.NotNil(t, cliCtx.metricsServer)
	assert.NoError(t, cliCtx.Close())
}

func TestTruncateTitle(t *testing.T) {
	assert.Equal(t, "a b", truncateTitle("  a \n b "))
	long := strings.Repeat("é", 80)
	got := truncateTitle(long)
	assert.Equal(t, 60, len([]rune(got)))
	assert.True(t, strings.HasSuffix(got, "..."))
}
