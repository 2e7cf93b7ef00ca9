package session

import "context"

// captionRunner starts and stops the speech-to-text engine as the
// captions policy flag flips. Recognition results feed SendCaption,
// which handles fan-out and transcript accumulation.
type captionRunner struct {
	s       *Session
	running bool
	cancel  context.CancelFunc
}

func newCaptionRunner(s *Session) *captionRunner {
	return &captionRunner{s: s}
}

// set is called from the event loop whenever the captions flag may
// have changed.
func (c *captionRunner) set(on bool) {
	if on == c.running {
		return
	}
	if !on {
		c.stop()
		return
	}
	if c.s.recognizer == nil {
		c.s.log.Debug().Msg("captions enabled but no recognizer wired")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	results, err := c.s.recognizer.Start(ctx)
	if err != nil {
		cancel()
		// Caption failures never block the call.
		c.s.log.Warn().Err(err).Msg("speech recognition failed to start")
		return
	}
	c.running = true
	c.cancel = cancel
	c.s.log.Info().Msg("captions on")

	go func() {
		for r := range results {
			c.s.SendCaption(r.Text, r.Final)
		}
	}()
}

func (c *captionRunner) stop() {
	if !c.running {
		return
	}
	c.running = false
	c.cancel()
	c.s.recognizer.Stop()
	c.s.log.Info().Msg("captions off")
}
