package ws

import (
	"context"
	"errors"

	"roomquest.ai/internal/actor"
	"roomquest.ai/internal/catalog"
	"roomquest.ai/internal/protocol"
)

func success(ref string, data any) protocol.ResultMsg {
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Ref: ref, OK: true, Data: data}
}

func failure(ref, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{Type: protocol.TypeResult, ProtocolVersion: protocol.Version, Ref: ref, Code: code, Message: message}
}

// codeFor maps an entity call error to a wire code.
func codeFor(err error) string {
	var actErr *actor.ActivationError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.ErrTimeout
	case errors.As(err, &actErr), errors.Is(err, actor.ErrStopped):
		return protocol.ErrUnavailable
	case errors.Is(err, actor.ErrEmptyKey):
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

func (s *Server) dispatch(ctx context.Context, sess *session, cmd protocol.CmdMsg) protocol.ResultMsg {
	data, err := s.run(ctx, sess, cmd)
	if err != nil {
		var rej rejection
		if errors.As(err, &rej) {
			r := failure(cmd.ID, rej.code, rej.msg)
			r.Data = rej.data
			return r
		}
		s.log.Printf("session %s: %s: %v", sess.id, cmd.Op, err)
		return failure(cmd.ID, codeFor(err), err.Error())
	}
	return success(cmd.ID, data)
}

// rejection is a request the domain refused; it is answered, not logged.
type rejection struct {
	code string
	msg  string
	data any
}

func (r rejection) Error() string { return r.msg }

func (s *Server) run(ctx context.Context, sess *session, cmd protocol.CmdMsg) (any, error) {
	c := s.cluster
	p := sess.player()

	switch cmd.Op {
	case protocol.OpJoinRoom:
		return nil, p.JoinChatRoom(ctx, cmd.RoomID)
	case protocol.OpLeaveRoom:
		return nil, p.LeaveChatRoom(ctx, cmd.RoomID)
	case protocol.OpSubscribeRoom:
		added, err := sess.subscribe(ctx, cmd.RoomID)
		return map[string]bool{"subscribed": added}, err
	case protocol.OpUnsubscribeRoom:
		removed, err := sess.unsubscribe(ctx, cmd.RoomID)
		return map[string]bool{"unsubscribed": removed}, err
	case protocol.OpSay:
		return nil, p.SendMessage(ctx, cmd.RoomID, cmd.Text)
	case protocol.OpWhisper:
		return nil, p.SendPrivateMessage(ctx, cmd.TargetID, cmd.Text)
	case protocol.OpSetLevel:
		return p.SetLevel(ctx, cmd.Level)
	case protocol.OpJoinChain:
		if err := p.JoinTaskChain(ctx, cmd.ChainID); err != nil {
			return nil, err
		}
		return c.Chain(cmd.ChainID).ChainInfo(ctx)
	case protocol.OpProgress:
		ev, ok := catalog.ParseEventType(cmd.Event)
		if !ok {
			return nil, rejection{code: protocol.ErrBadRequest, msg: "unknown event " + cmd.Event}
		}
		count := cmd.Count
		if count <= 0 {
			count = 1
		}
		return p.ReportProgress(ctx, ev, cmd.TargetID, count)
	case protocol.OpCompleteTask:
		res, err := p.CompleteChainTask(ctx, cmd.ChainID, cmd.TaskID)
		if err != nil {
			return nil, err
		}
		if !res.Success {
			return nil, rejection{code: protocol.ErrRejected, msg: res.Message, data: res}
		}
		return res, nil
	case protocol.OpClaim:
		return p.ClaimChainRewards(ctx, cmd.ChainID)
	case protocol.OpReset:
		reset, err := c.Chain(cmd.ChainID).ResetPlayerProgress(ctx, sess.playerID)
		return map[string]bool{"reset": reset}, err
	case protocol.OpRewards:
		return p.RewardHistory(ctx)
	case protocol.OpInfo:
		return p.Info(ctx)
	case protocol.OpRoomInfo:
		return c.Room(cmd.RoomID).Info(ctx)
	case protocol.OpRoster:
		return c.Room(cmd.RoomID).OnlinePlayers(ctx)
	case protocol.OpHistory:
		return c.Room(cmd.RoomID).History(ctx)
	case protocol.OpChainProgress:
		return c.Chain(cmd.ChainID).PlayerProgress(ctx, sess.playerID)
	default:
		return nil, rejection{code: protocol.ErrUnknownOp, msg: "unknown op " + cmd.Op}
	}
}
