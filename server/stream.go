package server

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"slices"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/rustyeddy/livedesk/live"
)

const writeTimeout = 10 * time.Second

// handleStream handles GET /api/live/stream. The socket receives the
// current collection and then every published one; slow clients skip
// intermediate versions. ?positions=1 includes positions.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	v, release, ok := s.view(w, r)
	if !ok {
		return
	}
	defer release()

	conn, err := websocket.Accept(w, r, acceptOptions(s.cfg.AllowedOrigins))
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.CloseNow()

	withPositions := r.URL.Query().Get("positions") == "1"

	// the client sends nothing; CloseRead cancels ctx when it goes away
	ctx := conn.CloseRead(r.Context())

	updates, stop := v.Watch()
	defer stop()

	s.log.Info().Str("view", v.ID()).Msg("stream client connected")

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Str("view", v.ID()).Msg("stream client gone")
			return
		case c, open := <-updates:
			if !open {
				s.closeStopped(ctx, conn, v)
				return
			}
			msg := collectionResponse(v, c, withPositions)
			msg.Type = "collection"

			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(wctx, conn, msg)
			cancel()
			if err != nil {
				if !errors.Is(err, context.Canceled) {
					s.log.Warn().Err(err).Msg("stream write failed")
				}
				return
			}
		}
	}
}

// closeStopped tells the client why its view stopped and closes the socket.
func (s *Server) closeStopped(ctx context.Context, conn *websocket.Conn, v *live.View) {
	err := v.Err()
	if err == nil {
		conn.Close(websocket.StatusGoingAway, "view closed")
		return
	}
	s.log.Warn().Err(err).Str("view", v.ID()).Msg("view stopped, closing stream")

	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(wctx, conn, CollectionResponse{
		Type:   "error",
		View:   v.ID(),
		Viewer: v.Viewer(),
		Error:  err.Error(),
	})
	conn.Close(websocket.StatusInternalError, "view stopped")
}

// acceptOptions turns CORS origins into websocket host patterns. No origins
// or "*" accepts any origin.
func acceptOptions(origins []string) *websocket.AcceptOptions {
	if len(origins) == 0 || slices.Contains(origins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(origins))
	for _, o := range origins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}
