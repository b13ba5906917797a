package ocr

import (
	"context"
	"discuz-signin/internal/components/telemetry"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	report_openai_classify = "openai.classify"
)

const DefaultModel = "gpt-4o-mini"

const classifyPrompt = `The image is a website CAPTCHA. Reply with only the characters shown in it, ` +
	`without spaces, quotes or explanation. If you cannot read it, reply with nothing.`

type OpenAIOptions struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// HTTPClient overrides the transport, mostly useful for tests.
	HTTPClient *http.Client
}

// OpenAIClassifier reads CAPTCHA images with a vision capable chat completion
// model behind any OpenAI compatible API.
type OpenAIClassifier struct {
	client openai.Client
	model  string
	tel    telemetry.API
}

func NewOpenAIClassifier(opts OpenAIOptions, tel telemetry.API) (OpenAIClassifier, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return OpenAIClassifier{}, errors.New("ocr: missing api key")
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if baseURL := strings.TrimSpace(opts.BaseURL); baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	if opts.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithRequestTimeout(opts.Timeout))
	}
	if opts.HTTPClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(opts.HTTPClient))
	}

	return OpenAIClassifier{
		client: openai.NewClient(reqOpts...),
		model:  model,
		tel:    telemetry.NewScopedAPI("ocr", tel),
	}, nil
}

var nonAlnum = regexp.MustCompile(`[^0-9A-Za-z]`)

// normalizeAnswer strips everything a CAPTCHA answer can't contain.
func normalizeAnswer(text string) string {
	return nonAlnum.ReplaceAllString(strings.TrimSpace(text), "")
}

func (c OpenAIClassifier) Classify(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", ErrEmptyResult
	}

	dataURL := fmt.Sprintf(
		"data:%s;base64,%s",
		http.DetectContentType(image),
		base64.StdEncoding.EncodeToString(image),
	)

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage([]openai.ChatCompletionContentPartUnionParam{
				openai.TextContentPart(classifyPrompt),
				openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
	})
	if err != nil {
		c.tel.ReportWarning(report_openai_classify, err)
		return "", fmt.Errorf("ocr: classify: %w", err)
	}
	if len(completion.Choices) == 0 {
		return "", ErrEmptyResult
	}

	answer := normalizeAnswer(completion.Choices[0].Message.Content)
	if answer == "" {
		return "", ErrEmptyResult
	}
	c.tel.ReportDebug("classified captcha", answer)
	return answer, nil
}
