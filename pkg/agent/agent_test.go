package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAgent is a CLIAgent that invokes /bin/sh so tests don't depend
// on a real coding-agent CLI being installed.
func fakeAgent(script string) *CLIAgent {
	return NewCLIAgent("/bin/sh", "-c", script)
}

func TestQueryStreamsAssistantAndResult(t *testing.T) {
	script := `while read -r line; do :; done; ` +
		`echo '{"type":"assistant","message":{"content":[{"type":"text","text":"hi"}]}}'; ` +
		`echo '{"type":"result","subtype":"success","result":"done"}'`
	a := fakeAgent(script)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	messages, errs := a.Query(ctx, Request{Prompt: "do it"})

	var got []Message
	for m := range messages {
		got = append(got, m)
	}
	require.NoError(t, <-errs)

	require.Len(t, got, 2)
	assert.Equal(t, "assistant", got[0].Type)
	assert.Equal(t, "hi", got[0].Message.Content[0].Text)
	assert.Equal(t, "result", got[1].Type)
	assert.Equal(t, "done", got[1].Result)
}

func TestQueryNonZeroExitReportsError(t *testing.T) {
	a := fakeAgent(`cat >/dev/null; echo "boom" 1>&2; exit 1`)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	messages, errs := a.Query(ctx, Request{Prompt: "x"})
	for range messages {
	}
	err := <-errs
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestQuerySkipsMalformedLines(t *testing.T) {
	script := `cat >/dev/null; echo 'not json'; echo '{"type":"result","result":"ok"}'`
	a := fakeAgent(script)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	messages, errs := a.Query(ctx, Request{Prompt: "x"})
	var got []Message
	for m := range messages {
		got = append(got, m)
	}
	require.NoError(t, <-errs)
	require.Len(t, got, 1)
	assert.Equal(t, "ok", got[0].Result)
}
