package v1

import (
	"net/http"

	"github.com/tinoosan/mdarchive/internal/reqid"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventsBuffer = 16

func terminal(state string) bool {
	return state == "done" || state == "error" || state == "canceled"
}

// Events streams the task's state summaries over a websocket until the task
// is terminal or the client goes away. The replayed current state comes
// first.
func (h *TasksHandler) Events(w http.ResponseWriter, r *http.Request) {
	ref, ok := refFrom(w, r)
	if !ok {
		return
	}
	feed, err := h.svc.Watch(r.Context(), ref.category, ref.id, eventsBuffer)
	if err != nil {
		fail(w, err)
		return
	}
	defer feed.Close()

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		markErr(w, err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusInternalError, "") }()

	l := reqid.Logger(r.Context(), h.l).With("category", ref.category, "id", ref.id)
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			l.Debug("event stream closed by client")
			return
		case sum, ok := <-feed.C():
			if !ok {
				_ = conn.Close(websocket.StatusNormalClosure, "task stopped")
				return
			}
			if err := wsjson.Write(ctx, conn, sum); err != nil {
				l.Warn("write event", "err", err)
				return
			}
			if terminal(sum.State) {
				_ = conn.Close(websocket.StatusNormalClosure, sum.State)
				return
			}
		}
	}
}
