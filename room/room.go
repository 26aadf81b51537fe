package room

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/tick"
)

// OutboundKind distinguishes the two things a room sends to a player.
type OutboundKind int

const (
	// OutboundState carries a full game-state snapshot.
	OutboundState OutboundKind = iota
	// OutboundMessage carries one game message.
	OutboundMessage
)

// Outbound is a codec-encoded message from a room to one player's
// connection handler.
type Outbound struct {
	Kind OutboundKind
	Data []byte
}

// SinkBuffer is the per-player outbound buffer. Sized so a healthy
// consumer never fills it; when it does fill, the room drops the
// message rather than letting one slow connection stall the whole game.
const SinkBuffer = 256

// Sink is a player's outbound channel into their connection handler.
type Sink chan Outbound

// NewSink allocates a sink with the standard buffer.
func NewSink() Sink { return make(Sink, SinkBuffer) }

type command interface{ roomCommand() }

type joinCmd struct {
	player protocol.PlayerID
	sink   Sink
	reply  chan error
}

type leaveCmd struct {
	player protocol.PlayerID
	reply  chan error
}

type messageCmd struct {
	sender protocol.PlayerID
	data   []byte
}

type infoCmd struct {
	reply chan Info
}

type shutdownCmd struct{}

func (joinCmd) roomCommand()     {}
func (leaveCmd) roomCommand()    {}
func (messageCmd) roomCommand()  {}
func (infoCmd) roomCommand()     {}
func (shutdownCmd) roomCommand() {}

// Info is a snapshot of room metadata, not the game state itself.
type Info struct {
	RoomID      protocol.RoomID
	State       State
	PlayerCount int
	MaxPlayers  int
}

// Room is the handle to a running room actor. It is cheap to share;
// all methods are safe for concurrent use.
type Room struct {
	id    protocol.RoomID
	inbox chan command
	done  chan struct{}
}

// ID returns the room's unique id.
func (r *Room) ID() protocol.RoomID { return r.id }

// Join adds a player with their outbound sink.
func (r *Room) Join(ctx context.Context, player protocol.PlayerID, sink Sink) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, joinCmd{player: player, sink: sink, reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Leave removes a player.
func (r *Room) Leave(ctx context.Context, player protocol.PlayerID) error {
	reply := make(chan error, 1)
	if err := r.send(ctx, leaveCmd{player: player, reply: reply}); err != nil {
		return err
	}
	return r.await(ctx, reply)
}

// Send delivers raw game bytes from a player. Fire-and-forget: decode
// and validation failures are handled inside the actor.
func (r *Room) Send(ctx context.Context, sender protocol.PlayerID, data []byte) error {
	return r.send(ctx, messageCmd{sender: sender, data: data})
}

// Info returns the room's current metadata.
func (r *Room) Info(ctx context.Context) (Info, error) {
	reply := make(chan Info, 1)
	if err := r.send(ctx, infoCmd{reply: reply}); err != nil {
		return Info{}, err
	}
	select {
	case info := <-reply:
		return info, nil
	case <-r.done:
		return Info{}, fmt.Errorf("%w: %s", ErrUnavailable, r.id)
	case <-ctx.Done():
		return Info{}, fmt.Errorf("%w: %s: %v", ErrUnavailable, r.id, ctx.Err())
	}
}

// Shutdown stops the actor. Pending commands behind the shutdown in the
// inbox are abandoned; their callers get ErrUnavailable.
func (r *Room) Shutdown(ctx context.Context) error {
	return r.send(ctx, shutdownCmd{})
}

// Done closes when the actor has stopped.
func (r *Room) Done() <-chan struct{} { return r.done }

func (r *Room) send(ctx context.Context, c command) error {
	select {
	case r.inbox <- c:
		return nil
	case <-r.done:
		return fmt.Errorf("%w: %s", ErrUnavailable, r.id)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, r.id, ctx.Err())
	}
}

func (r *Room) await(ctx context.Context, reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-r.done:
		return fmt.Errorf("%w: %s", ErrUnavailable, r.id)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, r.id, ctx.Err())
	}
}

type actor struct {
	id    protocol.RoomID
	state State
	cfg   Config
	logic Logic
	game  Game

	players map[protocol.PlayerID]Sink
	codec   protocol.Codec
	sched   *tick.Scheduler

	inbox chan command
	done  chan struct{}
	log   zerolog.Logger
}

// spawn starts a room actor goroutine and returns its handle.
func spawn(id protocol.RoomID, logic Logic, codec protocol.Codec, inboxSize int, log zerolog.Logger) *Room {
	cfg := logic.Config()
	log = log.With().Stringer("room_id", id).Logger()

	a := &actor{
		id:      id,
		state:   StateWaiting,
		cfg:     cfg,
		logic:   logic,
		players: make(map[protocol.PlayerID]Sink),
		codec:   codec,
		sched:   tick.NewScheduler(cfg.Tick, log),
		inbox:   make(chan command, inboxSize),
		done:    make(chan struct{}),
		log:     log,
	}
	// No game running yet; the loop starts ticking at InProgress.
	a.sched.Pause()

	go a.run()

	return &Room{id: id, inbox: a.inbox, done: a.done}
}

func (a *actor) run() {
	defer close(a.done)
	a.log.Info().Msg("room actor started")

	for {
		select {
		case c := <-a.inbox:
			switch cmd := c.(type) {
			case joinCmd:
				cmd.reply <- a.handleJoin(cmd.player, cmd.sink)
			case leaveCmd:
				cmd.reply <- a.handleLeave(cmd.player)
			case messageCmd:
				a.handleMessage(cmd.sender, cmd.data)
			case infoCmd:
				cmd.reply <- a.info()
			case shutdownCmd:
				a.state = StateDestroying
				a.log.Info().Msg("room shutting down")
				return
			}
		case <-a.sched.C():
			info := a.sched.Fire()
			if a.game != nil && a.state == StateInProgress {
				a.dispatch(a.game.Tick(info.DT))
				a.checkFinished()
			}
			a.sched.RecordTickEnd()
		}
	}
}

func (a *actor) handleJoin(player protocol.PlayerID, sink Sink) error {
	if !a.state.Joinable() {
		return fmt.Errorf("%w: cannot join room in state %s", ErrInvalidState, a.state)
	}
	if _, ok := a.players[player]; ok {
		return fmt.Errorf("%w: %s in %s", ErrAlreadyInRoom, player, a.id)
	}
	if len(a.players) >= a.cfg.MaxPlayers {
		return fmt.Errorf("%w: %s", ErrFull, a.id)
	}

	a.players[player] = sink
	a.log.Info().Stringer("player_id", player).Int("players", len(a.players)).Msg("player joined")

	if len(a.players) >= a.cfg.MinPlayers {
		a.start()
	}
	return nil
}

func (a *actor) handleLeave(player protocol.PlayerID) error {
	if _, ok := a.players[player]; !ok {
		return fmt.Errorf("%w: %s not in %s", ErrNotInRoom, player, a.id)
	}
	delete(a.players, player)
	a.log.Info().Stringer("player_id", player).Int("players", len(a.players)).Msg("player left")

	if a.state.Active() && a.game != nil {
		a.dispatch(a.game.PlayerDisconnected(player))
		a.checkFinished()
	}
	return nil
}

func (a *actor) handleMessage(sender protocol.PlayerID, data []byte) {
	if _, ok := a.players[sender]; !ok {
		a.log.Warn().Stringer("sender", sender).Msg("message from non-member, ignoring")
		return
	}
	// The game exists from Starting onward and keeps receiving messages
	// after Finished; whether to act on them is the game's decision.
	if a.game == nil {
		return
	}

	msg := a.logic.NewClientMessage()
	if err := a.codec.Decode(data, msg); err != nil {
		a.log.Debug().Stringer("sender", sender).Err(err).Msg("undecodable game message, ignoring")
		return
	}
	if err := a.game.Validate(sender, msg); err != nil {
		a.log.Debug().Stringer("sender", sender).Err(err).Msg("message validation failed")
		return
	}

	a.dispatch(a.game.Handle(sender, msg))
	a.checkFinished()
}

// start runs the Waiting -> Starting -> InProgress transition: init the
// game, broadcast the initial snapshot, start the tick loop.
func (a *actor) start() {
	a.state = StateStarting
	players := make([]protocol.PlayerID, 0, len(a.players))
	for p := range a.players {
		players = append(players, p)
	}
	a.game = a.logic.Init(players)
	a.state = StateInProgress
	a.log.Info().Int("players", len(players)).Msg("game started")

	a.broadcastSnapshot()
	a.sched.Resume()
}

func (a *actor) broadcastSnapshot() {
	data, err := a.codec.Encode(a.game.Snapshot())
	if err != nil {
		a.log.Error().Err(err).Msg("snapshot encode failed")
		return
	}
	out := Outbound{Kind: OutboundState, Data: data}
	for p := range a.players {
		a.sendTo(p, out)
	}
}

func (a *actor) checkFinished() {
	if a.state == StateInProgress && a.game.Finished() {
		a.state = StateFinished
		a.sched.Pause()
		a.log.Info().Msg("game finished")
	}
}

func (a *actor) dispatch(outs []Outgoing) {
	for _, o := range outs {
		data, err := a.codec.Encode(o.Msg)
		if err != nil {
			a.log.Error().Err(err).Msg("outbound encode failed, dropping")
			continue
		}
		out := Outbound{Kind: OutboundMessage, Data: data}
		switch o.To.Kind {
		case protocol.RecipientAll:
			for p := range a.players {
				a.sendTo(p, out)
			}
		case protocol.RecipientPlayer:
			a.sendTo(o.To.Player, out)
		case protocol.RecipientAllExcept:
			for p := range a.players {
				if p != o.To.Player {
					a.sendTo(p, out)
				}
			}
		}
	}
}

// sendTo never blocks: unknown players are silently skipped, full sinks
// drop the message with a warning.
func (a *actor) sendTo(player protocol.PlayerID, out Outbound) {
	sink, ok := a.players[player]
	if !ok {
		return
	}
	select {
	case sink <- out:
	default:
		a.log.Warn().Stringer("player_id", player).Msg("player sink full, dropping message")
	}
}

func (a *actor) info() Info {
	return Info{
		RoomID:      a.id,
		State:       a.state,
		PlayerCount: len(a.players),
		MaxPlayers:  a.cfg.MaxPlayers,
	}
}
