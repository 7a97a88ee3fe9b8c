package gemini

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/compositor/internal/config"
	"github.com/phrazzld/compositor/internal/domain"
	"github.com/phrazzld/compositor/internal/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	requests [][]*genai.Content
	fn       func(call int) (*genai.GenerateContentResponse, error)
}

func (f *fakeGenerator) GenerateContent(
	_ context.Context,
	_ string,
	contents []*genai.Content,
	_ *genai.GenerateContentConfig,
) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.requests = append(f.requests, contents)
	f.mu.Unlock()
	return f.fn(call)
}

func (f *fakeGenerator) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func imageResponse(data []byte) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{
				{Text: "here you go"},
				{InlineData: &genai.Blob{Data: data, MIMEType: "image/png"}},
			}},
		}},
	}
}

func newTestService(t *testing.T, maxRetries int, fn func(call int) (*genai.GenerateContentResponse, error)) (*ImageService, *fakeGenerator) {
	t.Helper()
	gen := &fakeGenerator{fn: fn}
	svc, err := newImageService(
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		config.LLMConfig{
			GeminiAPIKey:          "test-key",
			ModelName:             "gemini-test",
			MaxRetries:            maxRetries,
			RetryDelaySeconds:     1,
			RequestTimeoutSeconds: 5,
		},
		gen,
	)
	require.NoError(t, err)
	svc.baseDelay = time.Millisecond
	return svc, gen
}

func TestNewImageService_Validation(t *testing.T) {
	t.Parallel()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	gen := &fakeGenerator{}

	_, err := newImageService(nil, config.LLMConfig{ModelName: "m"}, gen)
	assert.Error(t, err)

	_, err = newImageService(logger, config.LLMConfig{}, gen)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = newImageService(logger, config.LLMConfig{ModelName: "m"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewImageService(context.Background(), logger, config.LLMConfig{ModelName: "m"})
	assert.ErrorIs(t, err, ErrInvalidConfig)

	svc, err := newImageService(logger, config.LLMConfig{ModelName: "m", MaxRetries: -1}, gen)
	require.NoError(t, err)
	assert.Equal(t, 0, svc.maxRetries)
	assert.Equal(t, 2*time.Second, svc.baseDelay)
	assert.Equal(t, 120*time.Second, svc.requestTimeout)
}

func TestRemoveBackground_Success(t *testing.T) {
	t.Parallel()

	svc, gen := newTestService(t, 2, func(int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("cutout")), nil
	})

	var percents []int
	out, err := svc.RemoveBackground(context.Background(), pngHeader, func(p int, _ string) {
		percents = append(percents, p)
	})
	require.NoError(t, err)
	assert.Equal(t, []byte("cutout"), out)
	assert.Equal(t, []int{0, 100}, percents)

	require.Len(t, gen.requests, 1)
	parts := gen.requests[0][0].Parts
	require.Len(t, parts, 2)
	assert.Equal(t, "image/png", parts[0].InlineData.MIMEType)
	assert.Equal(t, removeBackgroundPrompt, parts[1].Text)
}

func TestComposite_SendsBothImagesAndPrompt(t *testing.T) {
	t.Parallel()

	svc, gen := newTestService(t, 0, func(int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("composite")), nil
	})

	cfg := domain.DefaultProcessConfig()
	cfg.Prompt.PositionHint = domain.PositionLeft

	out, err := svc.Composite(context.Background(), pngHeader, pngHeader, cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("composite"), out)

	parts := gen.requests[0][0].Parts
	require.Len(t, parts, 3)
	assert.NotNil(t, parts[0].InlineData)
	assert.NotNil(t, parts[1].InlineData)
	assert.Contains(t, parts[2].Text, "the left side of the image")
}

func TestGenerate_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	svc, gen := newTestService(t, 3, func(call int) (*genai.GenerateContentResponse, error) {
		if call < 3 {
			return nil, genai.APIError{Code: 503, Status: "UNAVAILABLE", Message: "overloaded"}
		}
		return imageResponse([]byte("ok")), nil
	})

	out, err := svc.RemoveBackground(context.Background(), pngHeader, nil)
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), out)
	assert.Equal(t, 3, gen.callCount())
}

func TestGenerate_GivesUpAfterMaxRetries(t *testing.T) {
	t.Parallel()

	svc, gen := newTestService(t, 2, func(int) (*genai.GenerateContentResponse, error) {
		return nil, genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED"}
	})

	_, err := svc.RemoveBackground(context.Background(), pngHeader, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, imaging.ErrService)
	assert.ErrorIs(t, err, ErrTransientFailure)
	assert.Equal(t, 3, gen.callCount())
}

func TestGenerate_PermanentFailuresAreNotRetried(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		resp    *genai.GenerateContentResponse
		err     error
		wantErr error
	}{
		{
			name: "bad request",
			err:  genai.APIError{Code: 400, Status: "INVALID_ARGUMENT"},
		},
		{
			name: "safety finish reason",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
			},
			wantErr: ErrContentBlocked,
		},
		{
			name: "blocked prompt",
			resp: &genai.GenerateContentResponse{
				PromptFeedback: &genai.GenerateContentResponsePromptFeedback{
					BlockReason: genai.BlockedReasonSafety,
				},
			},
			wantErr: ErrContentBlocked,
		},
		{
			name: "text only",
			resp: &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "no image"}}},
				}},
			},
			wantErr: ErrInvalidResponse,
		},
		{
			name:    "nil response",
			wantErr: ErrInvalidResponse,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			svc, gen := newTestService(t, 3, func(int) (*genai.GenerateContentResponse, error) {
				return tc.resp, tc.err
			})

			_, err := svc.Composite(context.Background(), pngHeader, pngHeader, nil, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, imaging.ErrService)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
			}
			assert.Equal(t, 1, gen.callCount())
		})
	}
}

func TestGenerate_EmptyImage(t *testing.T) {
	t.Parallel()

	svc, gen := newTestService(t, 0, func(int) (*genai.GenerateContentResponse, error) {
		return imageResponse([]byte("x")), nil
	})

	_, err := svc.RemoveBackground(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.ErrorIs(t, err, imaging.ErrService)

	_, err = svc.Composite(context.Background(), pngHeader, nil, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
	assert.Equal(t, 0, gen.callCount())
}

func TestGenerate_CancelledContextStopsRetries(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	svc, gen := newTestService(t, 5, func(int) (*genai.GenerateContentResponse, error) {
		cancel()
		return nil, context.Canceled
	})

	_, err := svc.RemoveBackground(ctx, pngHeader, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, gen.callCount())
}

func TestIsTransient(t *testing.T) {
	t.Parallel()

	assert.True(t, isTransient(genai.APIError{Code: 500}))
	assert.True(t, isTransient(genai.APIError{Code: 429}))
	assert.True(t, isTransient(context.DeadlineExceeded))
	assert.False(t, isTransient(genai.APIError{Code: 403}))
	assert.False(t, isTransient(errors.New("boom")))
}
