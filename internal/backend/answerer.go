package backend

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	qamodel "llmqa-console/internal/model"
)

// askInput 图的输入
type askInput struct {
	Question string
	History  []*schema.Message
}

// Answerer 用 eino 图把问题、历史和系统提示拼成一次模型调用
type Answerer struct {
	runnable compose.Runnable[*askInput, *schema.Message]
}

func NewAnswerer(ctx context.Context, chatModel model.BaseChatModel, systemPrompt string) (*Answerer, error) {
	runnable, err := composeAnswerGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("failed to compose qa graph: %w", err)
	}
	return &Answerer{runnable: runnable}, nil
}

func newQAPrompt() prompt.ChatTemplate {
	return prompt.FromMessages(schema.FString,
		schema.SystemMessage("{system_prompt}"),
		schema.MessagesPlaceholder("message_histories", true),
		schema.UserMessage("{user_query}"),
	)
}

func composeAnswerGraph(ctx context.Context, cm model.BaseChatModel, systemPrompt string) (compose.Runnable[*askInput, *schema.Message], error) {
	g := compose.NewGraph[*askInput, *schema.Message]()

	toMap := compose.InvokableLambda(func(ctx context.Context, input *askInput) (map[string]any, error) {
		return map[string]any{
			"system_prompt":     systemPrompt,
			"message_histories": input.History,
			"user_query":        input.Question,
		}, nil
	})

	if err := g.AddLambdaNode("InputToMap", toMap); err != nil {
		return nil, err
	}
	if err := g.AddChatTemplateNode("QATemplate", newQAPrompt()); err != nil {
		return nil, err
	}
	if err := g.AddChatModelNode("QAModel", cm); err != nil {
		return nil, err
	}

	if err := g.AddEdge(compose.START, "InputToMap"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("InputToMap", "QATemplate"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("QATemplate", "QAModel"); err != nil {
		return nil, err
	}
	if err := g.AddEdge("QAModel", compose.END); err != nil {
		return nil, err
	}

	return g.Compile(ctx, compose.WithGraphName("LLMQA"))
}

// Answer 返回去掉首尾空白的回答；extraContext 仅在服务端没有这条会话的历史时使用
func (a *Answerer) Answer(ctx context.Context, question string, turns []qamodel.Turn, extraContext string) (string, error) {
	history := make([]*schema.Message, 0, len(turns)*2+1)
	if len(turns) == 0 && strings.TrimSpace(extraContext) != "" {
		history = append(history, schema.SystemMessage("以下是之前的对话：\n"+extraContext))
	}
	for _, t := range turns {
		history = append(history,
			schema.UserMessage(t.Question),
			schema.AssistantMessage(t.Answer, nil),
		)
	}

	out, err := a.runnable.Invoke(ctx, &askInput{Question: question, History: history})
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", nil
	}
	return strings.TrimSpace(out.Content), nil
}
