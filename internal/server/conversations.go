package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Tyrowin/zentra/internal/cooldown"
	"github.com/Tyrowin/zentra/internal/store"
)

// Credential headers for the write surface, as delivered in HELLO.
const (
	HeaderConnectionID = "X-Connection-ID"
	HeaderNonce        = "X-Nonce"
)

const (
	detailNoConversation = "Conversation does not exist."
	detailBadCredentials = "Invalid header credentials."
)

// SendMessageRequest is the body of POST /conversations/{id}/messages.
type SendMessageRequest struct {
	Content *string `json:"content"`
}

func conversationID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "conversation_id"), 10, 64)
	return id, err == nil
}

// ConversationIDsHandler lists every conversation id.
func (g *Gateway) ConversationIDsHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dataResponse{Data: g.messages.ConversationIDs()})
}

// MessagesHandler returns a conversation's full history.
func (g *Gateway) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "conversation_id must be an integer")
		return
	}

	history := g.messages.History(id)
	if len(history) == 0 {
		writeError(w, http.StatusNotFound, detailNoConversation)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: history})
}

// LatestMessageHandler returns a conversation's most recent message.
func (g *Gateway) LatestMessageHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := conversationID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "conversation_id must be an integer")
		return
	}

	msg, err := g.messages.Latest(id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, detailNoConversation)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Data: msg})
}

// AllLatestMessagesHandler returns the most recent message of every conversation.
func (g *Gateway) AllLatestMessagesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, dataResponse{Data: g.messages.LatestPerConversation()})
}

// SendMessageHandler authenticates the caller by connection id and nonce,
// then broadcasts the message. The send limiter runs before authentication,
// keyed by the credentials as supplied.
func (g *Gateway) SendMessageHandler(w http.ResponseWriter, r *http.Request) {
	rawID := r.Header.Get(HeaderConnectionID)
	nonce := r.Header.Get(HeaderNonce)

	if !g.admit(w, r, g.sendLimiter, cooldown.Key(nonce, rawID)) {
		return
	}

	connID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		writeError(w, http.StatusUnauthorized, detailBadCredentials)
		return
	}
	client, err := g.hub.Authenticate(connID, nonce)
	if err != nil {
		g.logger.Info().Int64("connection_id", connID).Str("addr", r.RemoteAddr).Msg("rejected send with bad credentials")
		writeError(w, http.StatusUnauthorized, detailBadCredentials)
		return
	}

	convID, ok := conversationID(r)
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "conversation_id must be an integer")
		return
	}

	var req SendMessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, g.cfg.MaxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "invalid JSON body")
		return
	}
	if req.Content == nil {
		writeError(w, http.StatusUnprocessableEntity, "content is required")
		return
	}

	msg := g.hub.Deliver(store.Message{
		Content:        *req.Content,
		SenderName:     client.Name(),
		SenderID:       client.ID(),
		ConversationID: convID,
	})
	g.logger.Debug().
		Int64("message_id", msg.ID).
		Int64("conversation_id", msg.ConversationID).
		Int64("connection_id", msg.SenderID).
		Msg("message delivered")

	w.WriteHeader(http.StatusNoContent)
}
