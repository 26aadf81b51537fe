package main

import (
	"errors"
	"time"

	"github.com/arcforge/arcforge/protocol"
	"github.com/arcforge/arcforge/room"
)

// Cell is one square of the board.
type Cell int

const (
	Empty Cell = iota
	X
	O
)

func (c Cell) String() string {
	switch c {
	case X:
		return "X"
	case O:
		return "O"
	}
	return " "
}

// Move is the client message: place your mark at (row, col).
type Move struct {
	Row int `json:"row"`
	Col int `json:"col"`
}

// Event is broadcast to both players after every accepted move.
type Event struct {
	Type   string `json:"type"` // "move" or "game_over"
	Player uint64 `json:"player,omitempty"`
	Row    int    `json:"row"`
	Col    int    `json:"col"`
	Mark   string `json:"mark,omitempty"`
	Winner uint64 `json:"winner,omitempty"` // zero on a draw
	Reason string `json:"reason,omitempty"`
}

// TicTacToe is the game type: exactly two players, event-driven.
type TicTacToe struct{}

func (TicTacToe) Config() room.Config {
	cfg := room.DefaultConfig()
	cfg.MinPlayers = 2
	cfg.MaxPlayers = 2
	return cfg
}

func (TicTacToe) Init(players []protocol.PlayerID) room.Game {
	g := &game{}
	copy(g.players[:], players)
	return g
}

func (TicTacToe) NewClientMessage() any { return &Move{} }

// game is one match. players[0] plays X and always moves first.
type game struct {
	board   [3][3]Cell
	players [2]protocol.PlayerID
	turn    int // index into players
	winner  protocol.PlayerID
	over    bool
}

func (g *game) Validate(sender protocol.PlayerID, msg any) error {
	m := msg.(*Move)
	if g.over {
		return errors.New("game is over")
	}
	if g.players[g.turn] != sender {
		return errors.New("not your turn")
	}
	if m.Row < 0 || m.Row > 2 || m.Col < 0 || m.Col > 2 {
		return errors.New("row and col must be 0-2")
	}
	if g.board[m.Row][m.Col] != Empty {
		return errors.New("cell is occupied")
	}
	return nil
}

func (g *game) Handle(sender protocol.PlayerID, msg any) []room.Outgoing {
	m := msg.(*Move)
	mark := X
	if g.turn == 1 {
		mark = O
	}
	g.board[m.Row][m.Col] = mark

	out := []room.Outgoing{{To: protocol.ToAll(), Msg: Event{
		Type:   "move",
		Player: uint64(sender),
		Row:    m.Row,
		Col:    m.Col,
		Mark:   mark.String(),
	}}}

	switch {
	case g.winningLine(mark):
		g.over = true
		g.winner = sender
		out = append(out, room.Outgoing{To: protocol.ToAll(), Msg: Event{
			Type:   "game_over",
			Winner: uint64(sender),
			Reason: mark.String() + " wins",
		}})
	case g.full():
		g.over = true
		out = append(out, room.Outgoing{To: protocol.ToAll(), Msg: Event{
			Type:   "game_over",
			Reason: "draw",
		}})
	default:
		g.turn = 1 - g.turn
	}
	return out
}

func (g *game) Tick(time.Duration) []room.Outgoing { return nil }

func (g *game) Finished() bool { return g.over }

func (g *game) PlayerDisconnected(protocol.PlayerID) []room.Outgoing { return nil }

func (g *game) PlayerReconnected(protocol.PlayerID) []room.Outgoing { return nil }

// snapshot is the full state sent to clients when the match starts.
type snapshot struct {
	Board   [3][3]Cell           `json:"board"`
	Players [2]protocol.PlayerID `json:"players"`
	Turn    int                  `json:"turn"`
}

func (g *game) Snapshot() any {
	return snapshot{Board: g.board, Players: g.players, Turn: g.turn}
}

func (g *game) winningLine(m Cell) bool {
	b := &g.board
	for i := 0; i < 3; i++ {
		if b[i][0] == m && b[i][1] == m && b[i][2] == m {
			return true
		}
		if b[0][i] == m && b[1][i] == m && b[2][i] == m {
			return true
		}
	}
	if b[0][0] == m && b[1][1] == m && b[2][2] == m {
		return true
	}
	return b[0][2] == m && b[1][1] == m && b[2][0] == m
}

func (g *game) full() bool {
	for _, row := range g.board {
		for _, c := range row {
			if c == Empty {
				return false
			}
		}
	}
	return true
}
