package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/rs/zerolog"
)

// GoogleConfig tunes the Cloud Speech streaming session.
type GoogleConfig struct {
	SampleRate int
	Language   string
}

func (c GoogleConfig) withDefaults() GoogleConfig {
	if c.SampleRate == 0 {
		c.SampleRate = 48000
	}
	if c.Language == "" {
		c.Language = "en-US"
	}
	return c
}

// GoogleRecognizer streams LINEAR16 audio from an AudioSource to
// Google Cloud Speech and emits interim and final hypotheses.
type GoogleRecognizer struct {
	source AudioSource
	cfg    GoogleConfig
	log    zerolog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewGoogle(source AudioSource, cfg GoogleConfig, logger zerolog.Logger) *GoogleRecognizer {
	return &GoogleRecognizer{
		source: source,
		cfg:    cfg.withDefaults(),
		log:    logger.With().Str("module", "stt").Logger(),
	}
}

// Start opens the streaming session. The returned channel closes when
// the upstream stream ends or Stop is called.
func (g *GoogleRecognizer) Start(ctx context.Context) (<-chan Result, error) {
	ctx, cancel := context.WithCancel(ctx)

	client, err := speech.NewClient(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("speech client: %w", err)
	}
	stream, err := client.StreamingRecognize(ctx)
	if err != nil {
		client.Close()
		cancel()
		return nil, fmt.Errorf("streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        speechpb.RecognitionConfig_LINEAR16,
					SampleRateHertz: int32(g.cfg.SampleRate),
					LanguageCode:    g.cfg.Language,
				},
				InterimResults: true,
			},
		},
	}); err != nil {
		stream.CloseSend()
		client.Close()
		cancel()
		return nil, fmt.Errorf("streaming config: %w", err)
	}

	g.mu.Lock()
	g.cancel = cancel
	g.mu.Unlock()

	results := make(chan Result, 8)

	go g.pumpAudio(ctx, stream)
	go g.pumpResults(stream, client, results)

	return results, nil
}

// Stop cancels the streaming session. The results channel drains and
// closes shortly after.
func (g *GoogleRecognizer) Stop() {
	g.mu.Lock()
	cancel := g.cancel
	g.cancel = nil
	g.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (g *GoogleRecognizer) pumpAudio(ctx context.Context, stream speechpb.Speech_StreamingRecognizeClient) {
	defer stream.CloseSend()
	for {
		chunk, err := g.source.ReadChunk(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				g.log.Debug().Err(err).Msg("audio source ended")
			}
			return
		}
		if len(chunk) == 0 {
			continue
		}
		if err := stream.Send(&speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: chunk,
			},
		}); err != nil {
			g.log.Debug().Err(err).Msg("audio send failed")
			return
		}
	}
}

func (g *GoogleRecognizer) pumpResults(stream speechpb.Speech_StreamingRecognizeClient, client *speech.Client, out chan<- Result) {
	defer close(out)
	defer client.Close()
	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				g.log.Debug().Err(err).Msg("recognition stream closed")
			}
			return
		}
		for _, res := range resp.Results {
			if len(res.Alternatives) == 0 {
				continue
			}
			out <- Result{Text: res.Alternatives[0].Transcript, Final: res.IsFinal}
		}
	}
}
