package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/magpievoice/magpie/api"
	"github.com/magpievoice/magpie/llm"
	"github.com/magpievoice/magpie/memory"
	"github.com/magpievoice/magpie/promptstore"
	"github.com/magpievoice/magpie/runtime"
	"github.com/magpievoice/magpie/session"
	"github.com/magpievoice/magpie/speech"
	"github.com/magpievoice/magpie/transcript"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageBytes   = 1 << 20
	outboundQueueSize = 64

	turnTimeout    = 60 * time.Second
	persistTimeout = 5 * time.Second

	defaultReplyTokens = 1024
)

// GatewayConfig wires the conversation gateway's collaborators. LLM,
// MemoryClient, Transcripts, and Sessions are required; the rest degrade
// gracefully when unset.
type GatewayConfig struct {
	LLM         llm.Client
	Model       string
	Temperature *float64
	MaxTokens   int64

	Recognizer  speech.Recognizer  // nil rejects audio utterances
	Synthesizer speech.Synthesizer // nil sends text-only replies

	MemoryClient memory.Client
	Journal      memory.TaskJournal
	Prompts      promptstore.Store
	Transcripts  *transcript.Store
	Recaps       *transcript.RecapGenerator
	Sessions     *session.Manager

	BaseInstructions string
	DefaultUserID    string
	DefaultAgentID   string

	FlushThreshold   int
	Tracker          memory.TrackerConfig
	CloseGracePeriod time.Duration
	RefreshSchedule  runtime.Schedule // nil disables periodic refresh

	Logger zerolog.Logger
}

// Gateway upgrades /ws/converse connections and runs one conversation per
// connection: utterances in, replies out, every turn feeding the memory
// pipeline.
type Gateway struct {
	cfg      GatewayConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewGateway creates the conversation gateway.
func NewGateway(cfg GatewayConfig) (*Gateway, error) {
	if cfg.LLM == nil {
		return nil, fmt.Errorf("gateway: llm client is required")
	}
	if cfg.MemoryClient == nil {
		return nil, fmt.Errorf("gateway: memory client is required")
	}
	if cfg.Transcripts == nil {
		return nil, fmt.Errorf("gateway: transcript store is required")
	}
	if cfg.Sessions == nil {
		return nil, fmt.Errorf("gateway: session manager is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultReplyTokens
	}
	return &Gateway{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: cfg.Logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// Handle upgrades the request and runs the conversation until the client
// disconnects.
func (g *Gateway) Handle(c *gin.Context) {
	userID := c.Query("user_id")
	if userID == "" {
		userID = g.cfg.DefaultUserID
	}
	agentID := c.Query("agent_id")
	if agentID == "" {
		agentID = g.cfg.DefaultAgentID
	}
	if userID == "" || agentID == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{Error: "user_id and agent_id are required"})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.logger.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	conv, err := g.newConversation(conn, userID, agentID)
	if err != nil {
		g.logger.Error().Err(err).Str("userID", userID).Msg("Failed to start conversation")
		_ = conn.WriteJSON(api.NewErrorEvent("", "internal", "failed to start conversation"))
		_ = conn.Close()
		return
	}
	conv.run()
}

// conversation is the state of one live connection.
type conversation struct {
	gw   *Gateway
	conn *websocket.Conn

	sess      *session.Session
	coord     *memory.Coordinator
	refresher *runtime.Refresher

	ctx      context.Context
	cancel   context.CancelFunc
	outbound chan api.Event

	logger zerolog.Logger
}

func (g *Gateway) newConversation(conn *websocket.Conn, userID, agentID string) (*conversation, error) {
	ctx, cancel := context.WithCancel(context.Background())
	cv := &conversation{
		gw:       g,
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		outbound: make(chan api.Event, outboundQueueSize),
	}

	// A returning user resumes from the last snapshotted prompt instead
	// of the bare base instructions.
	instructions := g.cfg.BaseInstructions
	if g.cfg.Prompts != nil {
		seedCtx, seedCancel := context.WithTimeout(ctx, persistTimeout)
		snap, err := g.cfg.Prompts.Latest(seedCtx, userID, agentID)
		seedCancel()
		switch {
		case err == nil:
			instructions = snap.Prompt
		case errors.Is(err, promptstore.ErrNoSnapshot):
		default:
			g.logger.Warn().Err(err).Str("userID", userID).Msg("Failed to load prompt snapshot, using base instructions")
		}
	}

	cv.sess = session.New(userID, agentID, instructions)
	cv.logger = g.logger.With().Str("sessionID", cv.sess.ID()).Str("userID", userID).Logger()

	opts := []memory.CoordinatorOption{memory.WithJournal(g.cfg.Journal)}
	if g.cfg.Prompts != nil {
		opts = append(opts, memory.WithSnapshotSink(promptSink{store: g.cfg.Prompts}))
	}
	opts = append(opts, memory.WithRefreshHook(func(prompt string, categories []memory.CategorySummary) {
		cv.push(api.Event{
			Type:      api.EventPromptRefreshed,
			SessionID: cv.sess.ID(),
			PromptRefreshed: &api.PromptRefreshed{
				Categories: lo.Map(categories, func(cat memory.CategorySummary, _ int) string {
					return cat.Name
				}),
				Prompt:      prompt,
				RefreshedAt: time.Now().UTC(),
			},
		})
	}))

	coord, err := memory.NewCoordinator(memory.CoordinatorConfig{
		UserID:           userID,
		AgentID:          agentID,
		BaseInstructions: g.cfg.BaseInstructions,
		FlushThreshold:   g.cfg.FlushThreshold,
		Tracker:          g.cfg.Tracker,
		CloseGracePeriod: g.cfg.CloseGracePeriod,
	}, g.cfg.MemoryClient, cv.sess, g.cfg.Logger, opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create coordinator: %w", err)
	}
	cv.coord = coord

	if g.cfg.RefreshSchedule != nil {
		refresher, err := runtime.NewRefresher(g.cfg.RefreshSchedule, coord, cv.logger)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("create refresher: %w", err)
		}
		cv.refresher = refresher
	}

	createCtx, createCancel := context.WithTimeout(ctx, persistTimeout)
	defer createCancel()
	if err := g.cfg.Transcripts.CreateSession(createCtx, cv.sess.ID(), userID, agentID); err != nil {
		cv.logger.Warn().Err(err).Msg("Failed to persist session record")
	}

	g.cfg.Sessions.Add(cv.sess)
	return cv, nil
}

// run drives the conversation until the client disconnects, then flushes
// the memory pipeline and sends the recap.
func (cv *conversation) run() {
	defer cv.cancel()

	cv.conn.SetReadLimit(maxMessageBytes)
	_ = cv.conn.SetReadDeadline(time.Now().Add(pongWait))
	cv.conn.SetPongHandler(func(string) error {
		return cv.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	// Suppress the automatic close echo. The writer sends the close frame
	// itself once the recap has gone out, so a gracefully closing client
	// still receives it.
	cv.conn.SetCloseHandler(func(int, string) error { return nil })

	writerDone := make(chan struct{})
	go cv.writeLoop(writerDone)

	if cv.refresher != nil {
		cv.refresher.Start(cv.ctx)
	}

	cv.logger.Info().Msg("Conversation opened")
	cv.readLoop()
	cv.finish()

	close(cv.outbound)
	<-writerDone
	_ = cv.conn.Close()
	cv.logger.Info().Msg("Conversation closed")
}

// readLoop consumes frames until the connection drops. Text frames carry
// utterance events; binary frames carry raw audio for transcription.
func (cv *conversation) readLoop() {
	for {
		messageType, data, err := cv.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cv.logger.Warn().Err(err).Msg("Connection closed unexpectedly")
			}
			return
		}

		switch messageType {
		case websocket.TextMessage:
			var ev api.Event
			if err := json.Unmarshal(data, &ev); err != nil {
				cv.push(api.NewErrorEvent(cv.sess.ID(), "bad_request", "malformed event"))
				continue
			}
			if ev.Type != api.EventUtterance || ev.Utterance == nil || strings.TrimSpace(ev.Utterance.Text) == "" {
				cv.push(api.NewErrorEvent(cv.sess.ID(), "bad_request", "expected a non-empty utterance event"))
				continue
			}
			cv.handleUtterance(strings.TrimSpace(ev.Utterance.Text))

		case websocket.BinaryMessage:
			if cv.gw.cfg.Recognizer == nil {
				cv.push(api.NewErrorEvent(cv.sess.ID(), "unsupported", "no speech recognizer configured"))
				continue
			}
			sttCtx, cancel := context.WithTimeout(cv.ctx, turnTimeout)
			text, err := cv.gw.cfg.Recognizer.Transcribe(sttCtx, data, "utterance.wav")
			cancel()
			if err != nil {
				cv.logger.Error().Err(err).Msg("Transcription failed")
				cv.push(api.NewErrorEvent(cv.sess.ID(), "stt_failed", "could not transcribe audio"))
				continue
			}
			text = strings.TrimSpace(text)
			if text == "" {
				continue
			}
			// Echo the transcription so the console can show what was heard.
			cv.push(api.Event{Type: api.EventUtterance, SessionID: cv.sess.ID(), Utterance: &api.Utterance{Text: text}})
			cv.handleUtterance(text)
		}
	}
}

// handleUtterance runs one conversation turn: record the user turn,
// complete a reply, record it, and answer. Both turns feed the memory
// pipeline; OnTurn never blocks on it.
func (cv *conversation) handleUtterance(text string) {
	userTurn := memory.NewTurn(memory.RoleUser, text)
	cv.sess.RecordTurn(userTurn)
	cv.persistTurn(userTurn)
	cv.coord.OnTurn(userTurn)

	replyText, err := cv.complete()
	if err != nil {
		cv.logger.Error().Err(err).Msg("LLM turn failed")
		code, message := "llm_failed", "language model request failed"
		if llm.ErrKind(err) == llm.KindRateLimited {
			code, message = "rate_limited", "the language model is rate limited, try again shortly"
		}
		cv.push(api.NewErrorEvent(cv.sess.ID(), code, message))
		return
	}
	if replyText == "" {
		cv.push(api.NewErrorEvent(cv.sess.ID(), "llm_failed", "language model returned no text"))
		return
	}

	assistantTurn := memory.NewTurn(memory.RoleAssistant, replyText)
	cv.sess.RecordTurn(assistantTurn)
	cv.persistTurn(assistantTurn)
	cv.coord.OnTurn(assistantTurn)

	reply := api.Reply{Text: replyText}
	if cv.gw.cfg.Synthesizer != nil {
		ttsCtx, cancel := context.WithTimeout(cv.ctx, turnTimeout)
		audio, err := cv.gw.cfg.Synthesizer.Synthesize(ttsCtx, replyText)
		cancel()
		if err != nil {
			cv.logger.Warn().Err(err).Msg("Speech synthesis failed, sending text-only reply")
		} else {
			reply.Audio = audio
		}
	}
	cv.push(api.Event{Type: api.EventReply, SessionID: cv.sess.ID(), Reply: &reply})
}

// persistTurn writes the turn to the transcript store. Persistence
// failures do not interrupt the conversation.
func (cv *conversation) persistTurn(turn memory.ConversationTurn) {
	dbCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := cv.gw.cfg.Transcripts.AppendTurn(dbCtx, cv.sess.ID(), turn); err != nil {
		cv.logger.Warn().Err(err).Msg("Failed to persist turn")
	}
}

// complete streams the session's rolling window through the model,
// forwarding each text delta to the client as it arrives. The system
// prompt is read at call time, so a refresh landing mid-conversation
// applies to the very next turn.
func (cv *conversation) complete() (string, error) {
	turns := cv.sess.RecentTurns()
	messages := make([]llm.Message, 0, len(turns))
	for _, turn := range turns {
		role := llm.RoleUser
		if turn.Role == memory.RoleAssistant {
			role = llm.RoleAssistant
		}
		messages = append(messages, llm.Message{Role: role, Text: turn.Text})
	}

	req := &llm.Request{
		Model:       cv.gw.cfg.Model,
		Messages:    messages,
		System:      cv.sess.Instructions(),
		MaxTokens:   cv.gw.cfg.MaxTokens,
		Temperature: cv.gw.cfg.Temperature,
	}

	llmCtx, cancel := context.WithTimeout(cv.ctx, turnTimeout)
	defer cancel()
	stream, err := cv.gw.cfg.LLM.Stream(llmCtx, req)
	if err != nil {
		return "", err
	}
	defer stream.Close() //nolint:errcheck // Nothing to do about close errors

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", err
		}
		if chunk.Usage != nil {
			cv.logger.Debug().
				Str("stop_reason", chunk.StopReason).
				Int64("output_tokens", chunk.Usage.OutputTokens).
				Msg("Reply complete")
		}
		if chunk.Text == "" {
			continue
		}
		reply.WriteString(chunk.Text)
		cv.push(api.Event{
			Type:       api.EventReplyDelta,
			SessionID:  cv.sess.ID(),
			ReplyDelta: &api.ReplyDelta{Text: chunk.Text},
		})
	}
	return strings.TrimSpace(reply.String()), nil
}

// finish flushes the pipeline and produces the recap after the client has
// gone (or is about to). Runs before the outbound channel closes so the
// recap event still reaches a gracefully closing client.
func (cv *conversation) finish() {
	cv.sess.Finish()
	cv.gw.cfg.Sessions.Remove(cv.sess.ID())
	if cv.refresher != nil {
		cv.refresher.Stop()
	}

	grace := cv.gw.cfg.CloseGracePeriod
	if grace <= 0 {
		grace = 15 * time.Second
	}
	closeCtx, cancel := context.WithTimeout(context.Background(), grace+30*time.Second)
	cv.coord.OnClose(closeCtx)
	cancel()

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer dbCancel()
	if err := cv.gw.cfg.Transcripts.FinishSession(dbCtx, cv.sess.ID()); err != nil {
		cv.logger.Warn().Err(err).Msg("Failed to finish session record")
	}

	if cv.gw.cfg.Recaps == nil {
		return
	}
	recap, err := cv.gw.cfg.Recaps.Generate(dbCtx, cv.sess.ID())
	switch {
	case errors.Is(err, transcript.ErrNoTurns):
	case err != nil:
		cv.logger.Warn().Err(err).Msg("Recap generation failed")
	default:
		cv.push(api.Event{Type: api.EventRecap, SessionID: cv.sess.ID(), Recap: &api.Recap{Summary: recap.Summary}})
	}
}

// writeLoop owns all connection writes. On write failure it cancels the
// conversation and drains outbound so pushers never block.
func (cv *conversation) writeLoop(done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-cv.outbound:
			_ = cv.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = cv.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cv.conn.WriteJSON(ev); err != nil {
				cv.logger.Debug().Err(err).Msg("Write failed, ending conversation")
				cv.cancel()
				cv.drainOutbound()
				return
			}
		case <-ticker.C:
			_ = cv.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := cv.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				cv.cancel()
				cv.drainOutbound()
				return
			}
		}
	}
}

// drainOutbound consumes events until the channel closes.
func (cv *conversation) drainOutbound() {
	for range cv.outbound {
	}
}

// push enqueues an event for the writer. Gives up when the conversation
// is cancelled so pipeline callbacks never wedge on a dead client.
func (cv *conversation) push(ev api.Event) {
	select {
	case cv.outbound <- ev:
	case <-cv.ctx.Done():
	}
}

// promptSink adapts the prompt store to the coordinator's snapshot sink.
type promptSink struct {
	store promptstore.Store
}

func (s promptSink) SavePromptSnapshot(ctx context.Context, userID, agentID, prompt string) error {
	return s.store.Save(ctx, promptstore.Snapshot{
		UserID:    userID,
		AgentID:   agentID,
		Prompt:    prompt,
		UpdatedAt: time.Now().UTC(),
	})
}
