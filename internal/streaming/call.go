package streaming

import (
	"context"
	"fmt"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/audio"
	"github.com/agentplexus/omnivoice-bridge/internal/logging"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/realtime"
	"github.com/agentplexus/omnivoice-bridge/transport"
)

var errAIClosed = fmt.Errorf("realtime connection closed: %w", voicebridge.ErrConnectionUnavailable)

const noToolsOutput = `{"results":[],"error":"no tools available"}`

type toolResult struct {
	callID string
	output string
}

// call is the state of one bridged session. It is only touched by the
// goroutine running Run, except for the tool worker which reports back
// through results.
type call struct {
	b    *Bridge
	sess *session.VoiceSession
	tel  Telephony
	ai   AI
	log  *logging.Logger
	ctx  context.Context

	in  *audio.Chunker // PCM16 toward the AI
	out *audio.Chunker // μ-law toward the caller

	// pcmCarry holds AI audio that does not yet fill a whole decimation
	// group, so downsampling keeps its phase across deltas.
	pcmCarry []byte

	toolBusy    bool
	toolQueue   []realtime.Event
	toolResults chan toolResult

	framesIn      int
	framesDropped int
	framesOut     int
	sendFailures  int
}

// Run bridges sess until the call stops, the AI disconnects or the session
// is closed. tel must already have received its start event. On return both
// connections are closed and the session is removed from the registry. The
// returned error is the cause of an abnormal end; a hangup returns nil.
func (b *Bridge) Run(sess *session.VoiceSession, tel Telephony) (err error) {
	log := b.log.WithCall(sess.CallID(), sess.ID(), sess.TenantID())

	c := &call{
		b:           b,
		sess:        sess,
		tel:         tel,
		log:         log,
		ctx:         sess.Context(),
		toolResults: make(chan toolResult, 1),
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("streaming bridge panic: %v", r)
			log.Error().Interface("panic", r).Msg("bridge panicked")
		}
		c.close(err)
	}()

	if c.in, err = audio.NewChunker(b.transcoder.Linear(), b.opts.InboundChunkMs); err != nil {
		tel.Close()
		return err
	}
	if c.out, err = audio.NewChunker(b.transcoder.Telephony(), b.opts.OutboundChunkMs); err != nil {
		tel.Close()
		return err
	}

	return c.run()
}

func (c *call) run() error {
	if err := c.sess.AttachTelephony(c.tel); err != nil {
		c.tel.Close()
		return err
	}
	c.sess.SetStreamSID(c.tel.StreamSID())

	c.sess.SetState(StateInitializing)
	ai, err := c.b.dialer.Dial(c.ctx)
	if err != nil {
		c.log.Error().Err(err).Msg("realtime dial failed")
		return err
	}
	if err := c.sess.AttachAI(ai); err != nil {
		ai.Close()
		return err
	}
	c.ai = ai

	if err := ai.UpdateSession(c.b.sessionConfig(c.sess.Config())); err != nil {
		return err
	}

	ready, err := c.awaitReady()
	if !ready {
		return err
	}

	c.sess.SetState(StateReady)
	c.log.Info().Str("stream_sid", c.sess.StreamSID()).Msg("bridge ready")

	// The assistant speaks first.
	if err := ai.CreateResponse(); err != nil {
		return err
	}
	return c.loop()
}

// awaitReady waits for the AI to acknowledge the session configuration.
// Caller audio that arrives meanwhile is dropped.
func (c *call) awaitReady() (bool, error) {
	for {
		select {
		case <-c.ctx.Done():
			return false, nil

		case ev, ok := <-c.tel.Events():
			if !ok {
				return false, nil
			}
			if ev.Type == transport.EventMedia {
				c.framesDropped++
				continue
			}
			if done, err := c.handleTelephony(ev); done {
				return false, err
			}

		case ev, ok := <-c.ai.Events():
			if !ok {
				return false, errAIClosed
			}
			switch ev.Type {
			case realtime.EventSessionUpdated:
				return true, nil
			case realtime.EventSessionCreated:
				c.log.Debug().Msg("realtime session created")
			case realtime.EventError, realtime.EventClosed:
				return false, aiError(ev)
			}
		}
	}
}

// loop is the Ready state.
func (c *call) loop() error {
	for {
		select {
		case <-c.ctx.Done():
			return nil

		case ev, ok := <-c.tel.Events():
			if !ok {
				return nil
			}
			if done, err := c.handleTelephony(ev); done {
				return err
			}

		case ev, ok := <-c.ai.Events():
			if !ok {
				return errAIClosed
			}
			if done, err := c.handleAI(ev); done {
				return err
			}

		case res := <-c.toolResults:
			if err := c.finishTool(res); err != nil {
				return err
			}
		}
	}
}

// handleTelephony processes one media stream event and reports whether the
// call is over.
func (c *call) handleTelephony(ev transport.Event) (bool, error) {
	switch ev.Type {
	case transport.EventStart:
		c.sess.SetStreamSID(ev.StreamSID)
	case transport.EventMedia:
		return c.forwardCallerAudio(ev.Payload)
	case transport.EventMark:
		c.log.Trace().Str("mark", ev.Name).Msg("mark played")
	case transport.EventDTMF:
		c.log.Debug().Str("digit", ev.Digit).Msg("dtmf")
	case transport.EventStop:
		c.log.Info().Msg("media stream stopped")
		return true, nil
	case transport.EventError:
		return true, ev.Err
	}
	return false, nil
}

// forwardCallerAudio decodes a μ-law frame and appends it to the AI input buffer.
func (c *call) forwardCallerAudio(payload []byte) (bool, error) {
	if len(payload) == 0 {
		return false, nil
	}
	c.framesIn++
	pcm := c.b.transcoder.DecodeMulaw(payload)
	for _, chunk := range c.in.Add(pcm) {
		if err := c.ai.AppendAudio(chunk.Bytes()); err != nil {
			return true, err
		}
	}
	return false, nil
}

// handleAI processes one realtime event and reports whether the call is over.
func (c *call) handleAI(ev realtime.Event) (bool, error) {
	switch ev.Type {
	case realtime.EventAudioDelta:
		c.playAudio(ev.Audio)
	case realtime.EventAudioDone:
		c.flushAudio()
	case realtime.EventSpeechStarted:
		c.bargeIn()
	case realtime.EventAudioTranscriptDone:
		c.log.Info().Str("role", session.RoleAssistant).Str("text", ev.Transcript).Msg("transcript")
	case realtime.EventInputTranscriptionCompleted:
		c.log.Info().Str("role", session.RoleUser).Str("text", ev.Transcript).Msg("transcript")
	case realtime.EventFunctionCallArgumentsDone:
		c.queueTool(ev)
	case realtime.EventResponseDone:
		c.log.Debug().Str("response_id", ev.ResponseID).Msg("response done")
	case realtime.EventError, realtime.EventClosed:
		return true, aiError(ev)
	}
	return false, nil
}

// playAudio transcodes an AI audio delta and sends it to the caller in
// fixed frames.
func (c *call) playAudio(pcm []byte) {
	group := 2 * c.b.transcoder.Ratio()
	buf := append(c.pcmCarry, pcm...)
	whole := len(buf) - len(buf)%group
	c.pcmCarry = append([]byte(nil), buf[whole:]...)

	for _, chunk := range c.out.Add(c.b.transcoder.EncodeMulaw(buf[:whole])) {
		c.sendFrame(chunk.Bytes())
	}
}

// flushAudio sends whatever is left of the current response.
func (c *call) flushAudio() {
	if len(c.pcmCarry) >= 2 {
		for _, chunk := range c.out.Add(c.b.transcoder.EncodeMulaw(c.pcmCarry)) {
			c.sendFrame(chunk.Bytes())
		}
	}
	c.pcmCarry = nil
	if chunk, ok := c.out.Flush(); ok {
		c.sendFrame(chunk.Bytes())
	}
}

func (c *call) sendFrame(frame []byte) {
	if err := c.tel.SendMedia(frame); err != nil {
		c.sendFailures++
		if c.sendFailures%50 == 1 {
			c.log.Debug().Err(err).Int("failures", c.sendFailures).Msg("outbound frame dropped")
		}
		return
	}
	c.framesOut++
}

// bargeIn discards queued playback when the caller starts talking.
func (c *call) bargeIn() {
	c.out.Reset()
	c.pcmCarry = nil
	if err := c.tel.Clear(); err != nil {
		c.log.Debug().Err(err).Msg("clear failed")
		return
	}
	c.log.Debug().Msg("barge-in: playback cleared")
}

// queueTool runs a function call, or queues it behind the one in flight.
func (c *call) queueTool(ev realtime.Event) {
	if c.toolBusy {
		c.toolQueue = append(c.toolQueue, ev)
		return
	}
	c.startTool(ev)
}

func (c *call) startTool(ev realtime.Event) {
	c.toolBusy = true
	c.log.Info().Str("tool", ev.Name).Str("tool_call_id", ev.CallID).Msg("tool call")

	tools, tenantID, ctx, results := c.b.tools, c.sess.TenantID(), c.ctx, c.toolResults
	go func() {
		out := noToolsOutput
		if tools != nil {
			out = tools.HandleToolCall(ctx, tenantID, ev.Name, ev.Arguments)
		}
		// results has room for the single call in flight.
		results <- toolResult{callID: ev.CallID, output: out}
	}()
}

// finishTool returns a tool result to the AI and starts the next queued call.
func (c *call) finishTool(res toolResult) error {
	c.toolBusy = false
	if err := c.ai.SendFunctionResult(res.callID, res.output); err != nil {
		return err
	}
	if err := c.ai.CreateResponse(); err != nil {
		return err
	}
	if len(c.toolQueue) > 0 {
		next := c.toolQueue[0]
		c.toolQueue = c.toolQueue[1:]
		c.startTool(next)
	}
	return nil
}

// close is the Closing state: it releases both connections and removes the
// session from the registry.
func (c *call) close(cause error) {
	c.sess.SetState(StateClosing)
	if err := c.sess.Close(); err != nil {
		c.log.Debug().Err(err).Msg("connection close")
	}
	c.b.registry.RemoveSession(c.sess)

	ev := c.log.Info()
	if cause != nil {
		ev = c.log.Warn().Err(cause)
	}
	ev.Int("frames_in", c.framesIn).
		Int("frames_out", c.framesOut).
		Int("frames_dropped", c.framesDropped).
		Int("send_failures", c.sendFailures).
		Msg("bridge closed")
}

func aiError(ev realtime.Event) error {
	if ev.Err != nil {
		return ev.Err
	}
	return errAIClosed
}
