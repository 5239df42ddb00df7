package session

import (
	"github.com/DoyleJ11/tournament-vote-backend/internal/bracket"
	"github.com/DoyleJ11/tournament-vote-backend/internal/broadcast"
	"github.com/DoyleJ11/tournament-vote-backend/internal/engine"
	"github.com/DoyleJ11/tournament-vote-backend/internal/events"
	"github.com/DoyleJ11/tournament-vote-backend/internal/tally"
)

type msg interface{ isSessionMsg() }

// failer is implemented by messages whose caller is waiting for a reply.
type failer interface{ fail(error) }

type joinMsg struct {
	nickname string
	subID    string
	reply    chan joinReply
}

type joinReply struct {
	player engine.Player
	err    error
}

type startMsg struct {
	playerID string
	reply    chan error
}

type voteMsg struct {
	playerID string
	key      bracket.PairKey
	itemID   string
	reply    chan voteReply
}

type voteReply struct {
	res tally.Result
	err error
}

type subscribeMsg struct {
	playerID string
	reply    chan subscribeReply
}

type subscribeReply struct {
	sub *broadcast.Subscriber
	err error
}

type unsubscribeMsg struct {
	subID string
	reply chan struct{}
}

type snapshotMsg struct{ reply chan snapshotReply }

type snapshotReply struct {
	snap events.Snapshot
	err  error
}

type playersMsg struct{ reply chan playersReply }

type playersReply struct {
	players []events.PlayerView
	err     error
}

type resultMsg struct{ reply chan resultReply }

type resultReply struct {
	res events.Result
	err error
}

type abandonMsg struct {
	reason string
	reply  chan error
}

type timerMsg struct {
	gen   uint64
	timer engine.Timer
}

type shutdownMsg struct{}

func (joinMsg) isSessionMsg()        {}
func (startMsg) isSessionMsg()       {}
func (voteMsg) isSessionMsg()        {}
func (subscribeMsg) isSessionMsg()   {}
func (unsubscribeMsg) isSessionMsg() {}
func (snapshotMsg) isSessionMsg()    {}
func (playersMsg) isSessionMsg()     {}
func (resultMsg) isSessionMsg()      {}
func (abandonMsg) isSessionMsg()     {}
func (timerMsg) isSessionMsg()       {}
func (shutdownMsg) isSessionMsg()    {}

// Replies are buffered, so failing never blocks the actor.
func (m joinMsg) fail(err error)      { trySend(m.reply, joinReply{err: err}) }
func (m startMsg) fail(err error)     { trySend(m.reply, err) }
func (m voteMsg) fail(err error)      { trySend(m.reply, voteReply{err: err}) }
func (m subscribeMsg) fail(err error) { trySend(m.reply, subscribeReply{err: err}) }
func (m unsubscribeMsg) fail(error)   { trySend(m.reply, struct{}{}) }
func (m snapshotMsg) fail(err error)  { trySend(m.reply, snapshotReply{err: err}) }
func (m playersMsg) fail(err error)   { trySend(m.reply, playersReply{err: err}) }
func (m resultMsg) fail(err error)    { trySend(m.reply, resultReply{err: err}) }
func (m abandonMsg) fail(err error)   { trySend(m.reply, err) }

func trySend[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}
