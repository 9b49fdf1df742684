package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"

	"github.com/magpievoice/magpie/api"
	"github.com/magpievoice/magpie/memory"
	"github.com/magpievoice/magpie/promptstore"
	"github.com/magpievoice/magpie/session"
	"github.com/magpievoice/magpie/transcript"
)

// handleHealthz reports daemon liveness.
func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime":          time.Since(s.startedAt).String(),
		"active_sessions": s.sessions.Len(),
	})
}

// handleListSessions returns live sessions merged with persisted ones,
// live first.
func (s *Server) handleListSessions(c *gin.Context) {
	live := s.sessions.List()
	infos := lo.Map(live, func(sess *session.Session, _ int) api.SessionInfo {
		return api.SessionInfo{
			ID:        sess.ID(),
			UserID:    sess.UserID(),
			AgentID:   sess.AgentID(),
			StartedAt: sess.CreatedAt(),
			Active:    true,
		}
	})
	liveIDs := make(map[string]struct{}, len(live))
	for _, sess := range live {
		liveIDs[sess.ID()] = struct{}{}
	}

	stored, err := s.transcripts.ListSessions(c.Request.Context(), 100)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list stored sessions")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to list sessions"})
		return
	}
	for _, rec := range stored {
		if _, ok := liveIDs[rec.ID]; ok {
			continue
		}
		infos = append(infos, api.SessionInfo{
			ID:         rec.ID,
			UserID:     rec.UserID,
			AgentID:    rec.AgentID,
			StartedAt:  rec.StartedAt,
			FinishedAt: rec.FinishedAt,
		})
	}

	c.JSON(http.StatusOK, api.SessionsResponse{Sessions: infos})
}

// handleTranscript returns the persisted turns of one session.
func (s *Server) handleTranscript(c *gin.Context) {
	id := c.Param("id")

	if _, err := s.transcripts.GetSession(c.Request.Context(), id); err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
			return
		}
		s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to load session")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load session"})
		return
	}

	turns, err := s.transcripts.ListTurns(c.Request.Context(), id)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to list turns")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load transcript"})
		return
	}

	c.JSON(http.StatusOK, api.TranscriptResponse{
		SessionID: id,
		Turns: lo.Map(turns, func(turn memory.ConversationTurn, _ int) api.Turn {
			return api.Turn{Role: string(turn.Role), Text: turn.Text, Timestamp: turn.Timestamp}
		}),
	})
}

// handlePrompt returns the session's current system prompt. Live sessions
// answer from the in-memory instruction slot; finished ones fall back to
// the latest persisted snapshot for their user/agent pair.
func (s *Server) handlePrompt(c *gin.Context) {
	id := c.Param("id")

	if live := s.sessions.Get(id); live != nil {
		c.JSON(http.StatusOK, api.PromptResponse{SessionID: id, Prompt: live.Instructions()})
		return
	}

	rec, err := s.transcripts.GetSession(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, transcript.ErrNotFound) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
			return
		}
		s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to load session")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load session"})
		return
	}

	snap, err := s.prompts.Latest(c.Request.Context(), rec.UserID, rec.AgentID)
	if err != nil {
		if errors.Is(err, promptstore.ErrNoSnapshot) {
			c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "no prompt snapshot for session"})
			return
		}
		s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to load prompt snapshot")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load prompt"})
		return
	}

	c.JSON(http.StatusOK, api.PromptResponse{SessionID: id, Prompt: snap.Prompt})
}

// handleTasks returns the memorization task journal for the session's
// user/agent pair, newest first.
func (s *Server) handleTasks(c *gin.Context) {
	id := c.Param("id")

	var userID, agentID string
	if live := s.sessions.Get(id); live != nil {
		userID, agentID = live.UserID(), live.AgentID()
	} else {
		rec, err := s.transcripts.GetSession(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, transcript.ErrNotFound) {
				c.JSON(http.StatusNotFound, api.ErrorResponse{Error: "session not found"})
				return
			}
			s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to load session")
			c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to load session"})
			return
		}
		userID, agentID = rec.UserID, rec.AgentID
	}

	records, err := s.journal.ListTasks(c.Request.Context(), userID, agentID, 50)
	if err != nil {
		s.logger.Error().Err(err).Str("sessionID", id).Msg("Failed to list tasks")
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{Error: "failed to list tasks"})
		return
	}

	c.JSON(http.StatusOK, api.TasksResponse{
		SessionID: id,
		Tasks: lo.Map(records, func(rec memory.TaskRecord, _ int) api.TaskInfo {
			return api.TaskInfo{
				TaskID:      rec.TaskID,
				State:       string(rec.State),
				Attempts:    rec.Attempts,
				Reason:      rec.Reason,
				SubmittedAt: rec.SubmittedAt,
				UpdatedAt:   rec.UpdatedAt,
			}
		}),
	})
}
