// internal/handler/ws_handler.go
package handler

import (
	"net/http"
	"time"

	"github.com/RemisonBarawa/Freelance-App/internal/events"
	"github.com/RemisonBarawa/Freelance-App/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// streamMessage is one frame on the transaction stream.
type streamMessage struct {
	Type  string        `json:"type"`
	Data  interface{}   `json:"data,omitempty"`
	Event *events.Event `json:"event,omitempty"`
}

// TransactionStreamHandler pushes settlement events for one transaction to a
// websocket client. The first frame is the current transaction snapshot.
type TransactionStreamHandler struct {
	hub      *events.Hub
	ledgerUC *usecase.LedgerUsecase
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

func NewTransactionStreamHandler(hub *events.Hub, ledgerUC *usecase.LedgerUsecase, allowedOrigins []string, logger *zap.Logger) *TransactionStreamHandler {
	return &TransactionStreamHandler{
		hub:      hub,
		ledgerUC: ledgerUC,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

func (h *TransactionStreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "id")

	// Subscribe before loading the snapshot so no event falls in between.
	ch, cancel := h.hub.Subscribe(transactionID)
	defer cancel()

	tx, err := h.ledgerUC.GetTransaction(r.Context(), transactionID)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed",
			zap.String("transaction_id", transactionID),
			zap.Error(err))
		return
	}
	defer conn.Close()

	h.logger.Debug("transaction stream opened", zap.String("transaction_id", transactionID))

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	if err := h.write(conn, streamMessage{Type: "snapshot", Data: tx}); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := h.write(conn, streamMessage{Type: "event", Event: ev}); err != nil {
				h.logger.Debug("transaction stream write failed",
					zap.String("transaction_id", transactionID),
					zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			h.logger.Debug("transaction stream closed by client", zap.String("transaction_id", transactionID))
			return
		case <-r.Context().Done():
			return
		}
	}
}

// readPump discards client frames and signals when the peer goes away.
func (h *TransactionStreamHandler) readPump(conn *websocket.Conn, closed chan<- struct{}) {
	defer close(closed)

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *TransactionStreamHandler) write(conn *websocket.Conn, msg streamMessage) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}

func originChecker(allowed []string) func(*http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(set) == 0 {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
