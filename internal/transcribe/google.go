package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"google.golang.org/api/option"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"
)

// GoogleBackend runs batch recognition on Google Cloud Speech-to-Text. The
// APIKey config field, when set, is a service account credentials file path;
// otherwise application default credentials are used.
type GoogleBackend struct {
	name     string
	credFile string
	log      *slog.Logger
}

func NewGoogleBackend(cfg config.BackendConfig, log *slog.Logger) *GoogleBackend {
	return &GoogleBackend{
		name:     cfg.Name,
		credFile: cfg.APIKey,
		log:      log.With(slog.String("component", "google-backend"), slog.String("backend", cfg.Name)),
	}
}

func (b *GoogleBackend) Name() string { return b.name }
func (b *GoogleBackend) Kind() string { return "google" }

func (b *GoogleBackend) Transcribe(ctx context.Context, audio Audio, opts Options) (Result, error) {
	var clientOpts []option.ClientOption
	if b.credFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(b.credFile))
	}
	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return Result{}, fmt.Errorf("create speech client: %w", err)
	}
	defer client.Close()

	// Cloud Speech has no auto-detect in batch mode; fall back to US English.
	lang := opts.Language
	if lang == "" || lang == "auto" {
		lang = "en-US"
	}

	req := &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:                   speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:            int32(audio.SampleRate),
			AudioChannelCount:          int32(audio.Channels),
			LanguageCode:               lang,
			EnableAutomaticPunctuation: true,
			EnableWordTimeOffsets:      opts.WordTimestamps,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audio.WAV},
		},
	}

	resp, err := client.Recognize(ctx, req)
	if err != nil {
		if st, ok := status.FromError(err); ok {
			return Result{}, &BackendError{Service: b.name, Message: st.Message()}
		}
		return Result{}, fmt.Errorf("recognize: %w", err)
	}

	result := Result{Language: lang}
	var texts []string
	var cursorMS int64
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		alt := res.Alternatives[0]
		text := strings.TrimSpace(alt.Transcript)
		if text == "" {
			continue
		}
		texts = append(texts, text)

		endMS := protoDurationMS(res.ResultEndTime)
		result.Segments = append(result.Segments, Segment{
			StartMS: cursorMS,
			EndMS:   endMS,
			Text:    text,
		})
		if endMS > cursorMS {
			cursorMS = endMS
		}
		if res.LanguageCode != "" {
			result.Language = res.LanguageCode
		}
		for _, w := range alt.Words {
			result.Words = append(result.Words, Word{
				StartMS: protoDurationMS(w.StartTime),
				EndMS:   protoDurationMS(w.EndTime),
				Word:    w.Word,
			})
		}
	}
	result.Text = strings.Join(texts, " ")
	result.DurationMS = cursorMS
	return result, nil
}

func protoDurationMS(d *durationpb.Duration) int64 {
	if d == nil {
		return 0
	}
	return d.AsDuration().Milliseconds()
}
