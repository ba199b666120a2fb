package workerpool

import (
	"context"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/zommehq/buntime/internal/errors"
	"github.com/zommehq/buntime/internal/workerpool/wire"
)

// Bridge relays an already-upgraded client WebSocket connection
// through this worker until either side closes, per spec.md §4.4's
// "dispatcher keeps the socket open and streams frames through the
// same worker until the worker closes or retires". The same
// BODY_CHUNK/BODY_END frames used for HTTP body streaming carry the
// relayed bytes in both directions — no separate wire message types
// are needed since spec.md §6 only requires the framing "preserve
// message boundaries and support bidirectional streams", which
// BODY_CHUNK already does.
func (in *Instance) Bridge(ctx context.Context, ws *websocket.Conn) error {
	in.mu.Lock()
	if in.state != StateReady {
		in.mu.Unlock()
		return errors.WithKind(errors.Newf("worker %s: bridge called in state %s, want READY", in.ID, in.state), errors.KindWorkerCrash)
	}
	in.state = StateActive
	reqID := uuid.NewString()
	in.mu.Unlock()

	defer func() {
		in.mu.Lock()
		in.state = StateReady
		in.mu.Unlock()
	}()

	toChild := make(chan error, 1)
	toClient := make(chan error, 1)

	go func() {
		for {
			msgType, data, err := ws.ReadMessage()
			if err != nil {
				_ = wire.Encode(in.conn, wire.TypeBodyEnd, wire.BodyEnd{ID: reqID})
				toChild <- nil
				return
			}
			if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
				continue
			}
			if err := wire.Encode(in.conn, wire.TypeBodyChunk, wire.BodyChunk{ID: reqID, Data: data}); err != nil {
				toChild <- err
				return
			}
		}
	}()

	go func() {
		for {
			frame, err := wire.Decode(in.conn)
			if err != nil {
				toClient <- err
				return
			}
			switch frame.Type {
			case wire.TypeBodyChunk:
				var chunk wire.BodyChunk
				if err := wire.DecodePayload(frame, &chunk); err != nil {
					toClient <- err
					return
				}
				if err := ws.WriteMessage(websocket.BinaryMessage, chunk.Data); err != nil {
					toClient <- err
					return
				}
			case wire.TypeBodyEnd:
				toClient <- nil
				return
			case wire.TypeError:
				var wireErr wire.Error
				_ = wire.DecodePayload(frame, &wireErr)
				toClient <- errors.Newf("worker error: %s", wireErr.Message)
				return
			}
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-toChild:
		return err
	case err := <-toClient:
		return err
	}
}
