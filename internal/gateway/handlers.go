package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	voicebridge "github.com/agentplexus/omnivoice-bridge"
	"github.com/agentplexus/omnivoice-bridge/internal/callbridge"
	"github.com/agentplexus/omnivoice-bridge/internal/session"
	"github.com/agentplexus/omnivoice-bridge/stt"
)

const (
	msgNotInService = "Sorry, this number is not in service."
	msgUnavailable  = "Sorry, we can't take your call right now. Please try again later."
)

func (s *Server) handleInbound(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	if callSID == "" {
		c.String(http.StatusBadRequest, "missing CallSid")
		return
	}

	// Outbound calls placed by Dial fetch their TwiML here too; the routed
	// number is then the caller id.
	number := c.PostForm("To")
	if strings.HasPrefix(c.PostForm("Direction"), "outbound") {
		number = c.PostForm("From")
	}

	log := s.log.With("call_sid", callSID)

	route, err := s.router.RouteNumber(number)
	if err != nil {
		log.Warn().Err(err).Str("number", number).Msg("call rejected")
		s.reply(c, func() (string, error) { return s.control.RejectTwiML(msgNotInService) })
		return
	}

	_, err = s.calls.StartSession(c.Request.Context(), callbridge.StartRequest{
		CallID:     callSID,
		TenantID:   route.TenantID,
		WorkflowID: route.WorkflowID,
		From:       c.PostForm("From"),
		To:         c.PostForm("To"),
	})
	if err != nil && !errors.Is(err, voicebridge.ErrDuplicateSession) {
		log.Error().Err(err).Str("tenant_id", route.TenantID).Msg("session start failed")
		s.reply(c, func() (string, error) { return s.control.RejectTwiML(msgUnavailable) })
		return
	}

	sess, ok := s.calls.Session(callSID)
	if !ok {
		s.reply(c, func() (string, error) { return s.control.RejectTwiML(msgUnavailable) })
		return
	}
	if sess.Mode() == voicebridge.ModeStreaming {
		s.reply(c, func() (string, error) {
			return s.control.StreamTwiML(callSID, sess.TenantID(), sess.WorkflowID())
		})
		return
	}
	// Turn-based calls are driven by REST updates; park the call meanwhile.
	s.reply(c, s.control.HoldTwiML)
}

func (s *Server) handleStatus(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	status := c.PostForm("CallStatus")
	s.log.Debug().Str("call_sid", callSID).Str("status", status).Msg("call status")

	if callSID != "" && voicebridge.IsTerminalStatus(status) {
		if err := s.calls.EndSession(callSID); err != nil {
			s.log.Warn().Err(err).Str("call_sid", callSID).Msg("end session failed")
		}
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleSpeakEnded(c *gin.Context) {
	callSID := c.PostForm("CallSid")
	if err := s.calls.SpeakEnded(callSID); err != nil {
		s.log.Debug().Err(err).Str("call_sid", callSID).Msg("speak ended for unknown call")
		s.hangup(c)
		return
	}
	s.reply(c, s.control.HoldTwiML)
}

func (s *Server) handleTranscript(c *gin.Context) {
	if err := c.Request.ParseForm(); err != nil {
		c.String(http.StatusBadRequest, "invalid form")
		return
	}
	res, err := stt.ParseSpeechResult(c.Request.PostForm)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}

	accepted, err := s.calls.Transcript(res.CallSID, res.Transcript)
	if err != nil {
		s.log.Debug().Err(err).Str("call_sid", res.CallSID).Msg("transcript for unknown call")
		s.hangup(c)
		return
	}
	s.log.Debug().
		Str("call_sid", res.CallSID).
		Bool("accepted", accepted).
		Float64("confidence", res.Confidence).
		Msg("transcript received")
	s.reply(c, s.control.HoldTwiML)
}

func (s *Server) handleHold(c *gin.Context) {
	if _, ok := s.calls.Session(c.PostForm("CallSid")); !ok {
		s.hangup(c)
		return
	}
	s.reply(c, s.control.HoldTwiML)
}

// handleMediaStream upgrades a Twilio media stream and hands it to its
// session once the start message identifies the call.
func (s *Server) handleMediaStream(c *gin.Context) {
	conn, err := s.media.HandleWebSocket(c.Writer, c.Request)
	if err != nil {
		s.log.Warn().Err(err).Msg("media stream upgrade failed")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.opts.MediaAttachTimeout)
	defer cancel()

	start, err := conn.WaitStart(ctx)
	if err != nil {
		s.log.Warn().Err(err).Msg("media stream never started")
		conn.Close()
		return
	}
	if err := s.calls.AttachMedia(ctx, start, conn); err != nil {
		s.log.Warn().Err(err).Str("stream_sid", start.StreamSID).Msg("media stream rejected")
	}
}

func (s *Server) handleListSessions(c *gin.Context) {
	sessions := s.calls.ListActive()
	if sessions == nil {
		sessions = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"count": len(sessions), "sessions": sessions})
}

func (s *Server) handleEndSession(c *gin.Context) {
	callSID := c.Param("callSid")
	if _, ok := s.calls.Session(callSID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": voicebridge.ErrSessionNotFound.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), hangupTimeout)
	defer cancel()
	if err := s.control.Hangup(ctx, callSID); err != nil {
		s.log.Warn().Err(err).Str("call_sid", callSID).Msg("hangup failed")
	}
	if err := s.calls.EndSession(callSID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ended": callSID})
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"sessions":      len(s.calls.ListActive()),
		"media_streams": s.media.ActiveConnections(),
	})
}

func (s *Server) hangup(c *gin.Context) {
	s.reply(c, func() (string, error) { return s.control.RejectTwiML("") })
}

// reply renders a TwiML document.
func (s *Server) reply(c *gin.Context, render func() (string, error)) {
	doc, err := render()
	if err != nil {
		s.log.Error().Err(err).Msg("render twiml")
		c.String(http.StatusInternalServerError, "twiml error")
		return
	}
	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, doc)
}
