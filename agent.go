package cmdgate

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const defaultSystemInstruction = `You operate a Linux workspace on behalf of the user.
Use the provided functions to create, read and change files, run scripts and inspect directories.
Only call functions with arguments that satisfy their patterns. If a call fails, read the error, fix the arguments and try again.`

// ContentGenerator is the part of *genai.Models the agent needs.
type ContentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Agent holds one conversation with a Gemini model whose function calls are
// executed through a Dispatcher. Send serializes callers.
type Agent struct {
	mu sync.Mutex

	generator         ContentGenerator
	dispatcher        *Dispatcher
	modelName         string
	systemInstruction string
	history           []*genai.Content
	maxToolRounds     int
	retryDelays       []time.Duration
	maxRetries        int
	log               logrus.FieldLogger
}

type AgentOption func(*Agent)

func WithModel(name string) AgentOption {
	return func(a *Agent) {
		if name != "" {
			a.modelName = name
		}
	}
}

func WithSystemInstruction(instruction string) AgentOption {
	return func(a *Agent) { a.systemInstruction = instruction }
}

// WithHistory continues an earlier conversation.
func WithHistory(history []*genai.Content) AgentOption {
	return func(a *Agent) { a.history = history }
}

// WithRetryDelays sets the waits between attempts after transient model
// errors. The last delay repeats until the attempts are used up.
func WithRetryDelays(delays ...time.Duration) AgentOption {
	return func(a *Agent) { a.retryDelays = delays }
}

func WithMaxToolRounds(n int) AgentOption {
	return func(a *Agent) {
		if n > 0 {
			a.maxToolRounds = n
		}
	}
}

func WithAgentLogger(log logrus.FieldLogger) AgentOption {
	return func(a *Agent) { a.log = log }
}

func NewAgent(generator ContentGenerator, dispatcher *Dispatcher, opts ...AgentOption) *Agent {
	agent := &Agent{
		generator:         generator,
		dispatcher:        dispatcher,
		modelName:         "gemini-2.0-flash",
		systemInstruction: defaultSystemInstruction,
		maxToolRounds:     8,
		retryDelays:       []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second, 30 * time.Second},
		maxRetries:        5,
		log:               logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(agent)
	}
	return agent
}

func (agent *Agent) ModelName() string { return agent.modelName }

// History returns a copy of the conversation so far.
func (agent *Agent) History() []*genai.Content {
	agent.mu.Lock()
	defer agent.mu.Unlock()
	return append([]*genai.Content(nil), agent.history...)
}

// ToolCall is one function call the model made during a Send.
type ToolCall struct {
	Name   string            `json:"name"`
	Args   map[string]string `json:"args"`
	Result *Result           `json:"result,omitempty"`
	Error  string            `json:"error,omitempty"`
}

// Reply is the model's answer to one user message.
type Reply struct {
	Text      string     `json:"response"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// Send adds message to the conversation and lets the model answer, running
// its function calls until it responds with text only.
func (agent *Agent) Send(ctx context.Context, message string) (*Reply, error) {
	agent.mu.Lock()
	defer agent.mu.Unlock()

	// A failed Send leaves the history as it was, so the next message does
	// not follow an unanswered user turn.
	turnStart := len(agent.history)
	agent.history = append(agent.history, genai.NewContentFromText(message, genai.RoleUser))

	reply := &Reply{}
	var texts []string
	for round := 1; ; round++ {
		response, err := agent.runInference(ctx)
		if err != nil {
			agent.history = agent.history[:turnStart]
			return nil, err
		}
		if len(response.Candidates) == 0 || response.Candidates[0].Content == nil {
			if len(texts) == 0 {
				texts = append(texts, "No response from the model.")
			}
			break
		}

		responseMessage := response.Candidates[0].Content
		agent.history = append(agent.history, responseMessage)

		toolResults := []*genai.Content{}
		for _, part := range responseMessage.Parts {
			if part.Text != "" {
				texts = append(texts, part.Text)
			} else if part.FunctionCall != nil {
				call, content := agent.executeTool(ctx, part.FunctionCall)
				reply.ToolCalls = append(reply.ToolCalls, call)
				toolResults = append(toolResults, content)
			}
		}

		if len(toolResults) == 0 {
			break
		}
		agent.history = append(agent.history, toolResults...)

		if round >= agent.maxToolRounds {
			texts = append(texts, fmt.Sprintf("Stopped after %d rounds of function calls.", round))
			break
		}
	}

	reply.Text = strings.Join(texts, "\n")
	return reply, nil
}

func (agent *Agent) executeTool(ctx context.Context, call *genai.FunctionCall) (ToolCall, *genai.Content) {
	agent.log.WithField("call", CropText(FormatFunctionCall(call), 200)).Debug("function call")

	args := StringArgs(call.Args)
	result, err := agent.dispatcher.Dispatch(ctx, call.Name, args)
	toolCall := ToolCall{Name: call.Name, Args: args, Result: result}
	if err != nil {
		toolCall.Error = err.Error()
		return toolCall, genai.NewContentFromFunctionResponse(call.Name, map[string]any{"error": err.Error()}, genai.RoleUser)
	}

	content := result.Output
	if len(result.Argv) > 0 {
		content = result.Stdout
	}
	return toolCall, genai.NewContentFromFunctionResponse(call.Name, map[string]any{"content": content}, genai.RoleUser)
}

func (agent *Agent) runInference(ctx context.Context) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for attempt := 0; attempt < agent.maxRetries; attempt++ {
		config := &genai.GenerateContentConfig{
			MaxOutputTokens: 2048,
			Temperature:     genai.Ptr[float32](0.9),
			TopP:            genai.Ptr[float32](0.95),
			Tools:           []*genai.Tool{agent.dispatcher.Registry().Tool()},
		}
		if strings.TrimSpace(agent.systemInstruction) != "" {
			config.SystemInstruction = genai.NewContentFromText(agent.systemInstruction, genai.RoleUser)
		}

		response, err := agent.generator.GenerateContent(ctx, agent.modelName, agent.history, config)
		if err == nil {
			return response, nil
		}
		if !transient(err) {
			return nil, fmt.Errorf("generate content: %w", err)
		}
		lastErr = err
		if attempt == agent.maxRetries-1 || len(agent.retryDelays) == 0 {
			break
		}

		delay := agent.retryDelays[len(agent.retryDelays)-1]
		if attempt < len(agent.retryDelays) {
			delay = agent.retryDelays[attempt]
		}
		agent.log.WithError(err).Warnf("attempt %d/%d failed, retrying in %s", attempt+1, agent.maxRetries, delay)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil, fmt.Errorf("after %d attempts, last error: %w", agent.maxRetries, lastErr)
}

func transient(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "An internal error has occurred") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "UNAVAILABLE")
}
