package service

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragdesk-go/internal/config"
	"ragdesk-go/internal/model"
	"ragdesk-go/pkg/llm"
)

type fakeSearchService struct {
	results []model.SearchResultDTO
}

func (s *fakeSearchService) Search(context.Context, uint, string, *float64, int) ([]model.SearchResultDTO, error) {
	return s.results, nil
}

type fakeLLM struct {
	deltas   []string
	messages []llm.Message
}

func (c *fakeLLM) StreamChatMessages(_ context.Context, msgs []llm.Message, _ *llm.GenerationParams, w llm.MessageWriter) error {
	c.messages = msgs
	for _, d := range c.deltas {
		if err := w.WriteMessage(1, []byte(d)); err != nil {
			return err
		}
	}
	return nil
}

type frameRecorder struct{ frames []string }

func (r *frameRecorder) WriteMessage(_ int, data []byte) error {
	r.frames = append(r.frames, string(data))
	return nil
}

func TestStreamResponse(t *testing.T) {
	search := &fakeSearchService{results: []model.SearchResultDTO{{DocumentTitle: "Guide", Content: "step one"}}}
	client := &fakeLLM{deltas: []string{"Do ", "step one."}}
	convs := &fakeConversationRepo{}
	svc := NewChatService(search, client, convs, config.LLMPromptConfig{Rules: "Be brief."}, 5)

	out := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "how?", 3, out, nil))

	require.Len(t, out.frames, 3)
	assert.JSONEq(t, `{"chunk":"Do "}`, out.frames[0])
	var done map[string]any
	require.NoError(t, json.Unmarshal([]byte(out.frames[2]), &done))
	assert.Equal(t, "completion", done["type"])

	require.Len(t, client.messages, 2)
	sys := client.messages[0].Content
	assert.True(t, strings.HasPrefix(sys, "Be brief."))
	assert.Contains(t, sys, "<<REF>>\n[1] (Guide) step one\n<<END>>")
	assert.Equal(t, "how?", client.messages[1].Content)

	require.Len(t, convs.saved, 1)
	assert.Equal(t, "Do step one.", convs.saved[0].Answer)
	assert.Equal(t, "conv-3", convs.saved[0].ConversationID)
	assert.Len(t, convs.history["conv-3"], 2)

	// 第二轮带上历史
	require.NoError(t, svc.StreamResponse(context.Background(), "and then?", 3, &frameRecorder{}, nil))
	assert.Len(t, client.messages, 4)
}

func TestStreamResponseStopAndNoResults(t *testing.T) {
	client := &fakeLLM{deltas: []string{"a", "b"}}
	convs := &fakeConversationRepo{}
	svc := NewChatService(&fakeSearchService{}, client, convs, config.LLMPromptConfig{NoResultText: "NONE"}, 0)

	out := &frameRecorder{}
	require.NoError(t, svc.StreamResponse(context.Background(), "q", 3, out, func() bool { return true }))
	// 只有完成通知
	assert.Len(t, out.frames, 1)
	assert.Contains(t, client.messages[0].Content, "NONE")
	assert.Empty(t, convs.saved)
}
