// Quizbox trivia game engine
//
// Several players share a session and race through a shuffled question bank.
// Before answering, each player picks a confidence stake and may activate one
// or more effects against opponents: force a wrong answer, zero a round, pin
// the payout to its minimum or maximum, steal an opponent's round, or swap
// total scores. Self-directed effects expose an opponent's answer, protect
// against all incoming effects, or go double-or-nothing on the whole score.
//
// How a round plays out:
// - Every phase boundary waits until all players (at least two) are ready
// - category: the next question's category is revealed, effects are declared
// - answer: options are shown, choices and confidence stakes are locked in
// - resolved: effects are reconciled and scores committed in a single pass
// - done: the bank is exhausted, final standings remain on screen
//
// Resolution reconciles an arbitrary directed graph of player-to-player
// declarations. Steals and swaps may form chains or cycles, so they are
// consumed in uniform random order, one entry per player per pass, with a
// mutual pair cancelling outright. Min/max collisions on the same victim go
// to the larger attacker group, ties broken by coin flip. Random selection at
// those points is load-bearing: a fixed order would hand the first declarer a
// systematic advantage.

package main

import (
	"math/rand/v2"
	"slices"
	"strings"
)

// Phase is the session's position in the round state machine.
type Phase string

const (
	PhaseStart    Phase = "start"
	PhaseCategory Phase = "category"
	PhaseAnswer   Phase = "answer"
	PhaseResolved Phase = "resolved"
	PhaseDone     Phase = "done"
)

// Effect identifies one of the declarable round modifiers.
type Effect string

const (
	EffectExpose  Effect = "expose"
	EffectProtect Effect = "protect"
	EffectFail    Effect = "fail"
	EffectZero    Effect = "zero"
	EffectMin     Effect = "min"
	EffectMax     Effect = "max"
	EffectDouble  Effect = "double"
	EffectSteal   Effect = "steal"
	EffectSwap    Effect = "swap"
)

// selfSentinel marks an activated self-directed effect, which carries no
// target name. The literal is part of the wire format.
const selfSentinel = "True"

// targetedEffects are the kinds that name another player as victim and are
// collected into the per-victim inbox during resolution. The self-directed
// kinds (expose, protect, double) are never inverted.
var targetedEffects = [...]Effect{EffectFail, EffectSwap, EffectZero, EffectMin, EffectMax, EffectSteal}

// Player is the per-player record tracked inside a session. The json field
// names are fixed by the client protocol: records round-trip through the
// browser wholesale on every update.
type Player struct {
	Ready      bool              `json:"ready"`
	Confidence int               `json:"confidence"`
	Payout     int               `json:"payout"`
	Choice     int               `json:"choice"`
	Correct    bool              `json:"correct"`
	Delta      int               `json:"delta"`
	Score      int               `json:"score"`
	Effects    map[Effect]string `json:"effects"`
	Applied    map[Effect]string `json:"applied"`
	LastUsed   map[Effect]int    `json:"last"`
}

// normalize strips null/empty effect entries that browsers send for
// never-activated keys, so an absent effect and an explicit null are the
// same thing server-side.
func (p *Player) normalize() {
	if p.Effects == nil {
		p.Effects = make(map[Effect]string)
	}
	if p.Applied == nil {
		p.Applied = make(map[Effect]string)
	}
	for kind, target := range p.Effects {
		if target == "" {
			delete(p.Effects, kind)
		}
	}
	for kind, source := range p.Applied {
		if source == "" {
			delete(p.Applied, kind)
		}
	}
}

// GameState is the phase state machine and effect-resolution engine of one
// session. It is pure logic: no I/O, no locking, no timers. The owning
// session serializes all access.
type GameState struct {
	phase     Phase
	question  *Question
	remaining []*Question
	total     int
	round     int
	players   map[string]*Player
}

// Snapshot is the full serializable projection of a GameState, pushed to
// every attached connection after each update.
type Snapshot struct {
	Phase          Phase              `json:"phase"`
	Question       *Question          `json:"question"`
	TotalQuestions int                `json:"totalQuestions"`
	Players        map[string]*Player `json:"players"`
	Round          int                `json:"round"`
}

func newGameState(pool []*Question) *GameState {
	return &GameState{
		phase:     PhaseStart,
		remaining: pool,
		total:     len(pool),
		round:     -1,
		players:   make(map[string]*Player),
	}
}

// Snapshot projects the current state. The player map is shared, not copied;
// callers must serialize it before releasing the session lock.
func (g *GameState) Snapshot() Snapshot {
	return Snapshot{
		Phase:          g.phase,
		Question:       g.question,
		TotalQuestions: g.total,
		Players:        g.players,
		Round:          g.round,
	}
}

// UpdatePlayer upserts the named player's record, or deletes the player
// entirely when record is nil, then attempts exactly one phase advance.
func (g *GameState) UpdatePlayer(name string, record *Player) {
	if record == nil {
		delete(g.players, name)
	} else {
		record.normalize()
		g.players[name] = record
	}
	g.advance()
}

func (g *GameState) resetPlayerReady() {
	for _, p := range g.players {
		p.Ready = false
	}
}

// resetPlayersForPhase clears every per-question field when a new question
// (or the final standings) comes up. Scores and the presentation-owned
// cooldown map survive across rounds.
func (g *GameState) resetPlayersForPhase() {
	for _, p := range g.players {
		p.Ready = false
		p.Confidence = 1
		p.Choice = -1
		p.Correct = false
		p.Effects = make(map[Effect]string)
		p.Applied = make(map[Effect]string)
	}
}

// advance fires at most one phase transition. It is a no-op unless at least
// two players are present and every one of them is ready; each phase
// boundary therefore consumes one full readiness round and N ready
// submissions can never cascade through multiple phases.
func (g *GameState) advance() {
	for _, p := range g.players {
		if !p.Ready {
			return
		}
	}
	if len(g.players) < 2 {
		return
	}

	switch g.phase {
	case PhaseStart, PhaseResolved:
		if len(g.remaining) == 0 {
			g.phase = PhaseDone
			g.question = nil
			g.resetPlayersForPhase()
			return
		}

		if g.phase == PhaseStart {
			g.round = 0
		} else {
			g.round++
		}

		index := rand.IntN(len(g.remaining))
		g.question = g.remaining[index]
		g.remaining = slices.Delete(g.remaining, index, index+1)
		g.phase = PhaseCategory
		g.resetPlayersForPhase()

	case PhaseCategory:
		g.phase = PhaseAnswer
		g.resetPlayerReady()

	case PhaseAnswer:
		g.applyEffects()
		g.phase = PhaseResolved

	case PhaseDone:
		// terminal
	}
}

// applyEffects runs the single resolution pass for the current question.
// Step order is observable through the applied records and must not change.
func (g *GameState) applyEffects() {
	// Invert the player->victim declarations into a per-victim inbox.
	// Declarations against names not in the session are dropped here.
	inbox := make(map[string]map[Effect][]string)
	for name, p := range g.players {
		for _, kind := range targetedEffects {
			victim := p.Effects[kind]
			if victim == "" {
				continue
			}
			if _, ok := g.players[victim]; !ok {
				continue
			}

			applied := inbox[victim]
			if applied == nil {
				applied = make(map[Effect][]string)
				inbox[victim] = applied
			}
			applied[kind] = append(applied[kind], name)
		}
	}

	// Self-effects and per-victim resolution: protect discards the whole
	// inbox, fail forces the answer wrong, zero beats min/max, and a min/max
	// collision goes to the larger attacker group (coin flip on a tie).
	for name, p := range g.players {
		p.Applied = make(map[Effect]string)
		p.Payout = p.Confidence
		p.Delta = 0
		p.Ready = false

		if p.Effects[EffectExpose] != "" {
			p.Applied[EffectExpose] = selfSentinel
		}

		if p.Effects[EffectProtect] != "" {
			p.Applied[EffectProtect] = selfSentinel
			delete(inbox, name)
			continue
		}

		applied := inbox[name]
		if applied == nil {
			continue
		}

		if attackers := applied[EffectFail]; len(attackers) > 0 {
			p.Applied[EffectFail] = strings.Join(sortedNames(attackers), ", ")
			p.Correct = false
		}

		// A player who did not answer correctly has nothing worth swapping.
		if !p.Correct {
			delete(applied, EffectSwap)
		}

		if attackers := applied[EffectZero]; len(attackers) > 0 {
			p.Applied[EffectZero] = strings.Join(sortedNames(attackers), ", ")
			p.Payout = 0
			continue
		}

		mins := applied[EffectMin]
		maxs := applied[EffectMax]
		if len(mins) == 0 && len(maxs) == 0 {
			continue
		}
		if len(mins) > 0 && len(maxs) > 0 {
			if len(mins) > len(maxs) || (len(mins) == len(maxs) && rand.IntN(2) == 0) {
				delete(applied, EffectMax)
				maxs = nil
			} else {
				delete(applied, EffectMin)
				mins = nil
			}
		}
		if len(mins) > 0 {
			p.Applied[EffectMin] = strings.Join(sortedNames(mins), ", ")
			p.Payout = -1
		} else {
			p.Applied[EffectMax] = strings.Join(sortedNames(maxs), ", ")
			p.Payout = 3
		}
	}

	// Payout becomes a signed delta; double-or-nothing wagers the existing
	// score instead of the payout.
	for _, p := range g.players {
		switch {
		case p.Effects[EffectDouble] != "":
			p.Applied[EffectDouble] = selfSentinel
			if p.Correct {
				p.Delta = p.Score
			} else {
				p.Delta = -p.Score
			}
		case p.Correct:
			p.Delta = p.Payout
		default:
			p.Delta = -p.Payout
		}
	}

	// Steals transfer the victim's delta before scores commit. Victims are
	// consumed in random order and a thief's own pending steal entry is
	// discarded, so chains cannot relay a delta twice; a mutual pair
	// cancels with both players marked.
	victims := sortedNames(mapKeys(inbox))
	for len(victims) > 0 {
		index := rand.IntN(len(victims))
		name := victims[index]
		victims = slices.Delete(victims, index, index+1)

		thieves := inbox[name][EffectSteal]
		if len(thieves) == 0 {
			continue
		}
		delete(inbox[name], EffectSteal)

		thief := thieves[rand.IntN(len(thieves))]
		g.players[name].Applied[EffectSteal] = thief

		if slices.Contains(inbox[thief][EffectSteal], name) {
			g.players[thief].Applied[EffectSteal] = name
		} else {
			g.players[thief].Delta += g.players[name].Delta
			g.players[name].Delta = 0
		}

		if applied, ok := inbox[thief]; ok {
			delete(applied, EffectSteal)
		}
	}

	// Commit the round: the score ledger never goes negative.
	for _, p := range g.players {
		p.Score = max(0, p.Score+p.Delta)
	}

	// Swaps exchange committed scores, using the same cycle-safe random
	// consumption as steals. Mutual swaps cancel.
	victims = sortedNames(mapKeys(inbox))
	for len(victims) > 0 {
		index := rand.IntN(len(victims))
		name := victims[index]
		victims = slices.Delete(victims, index, index+1)

		partners := inbox[name][EffectSwap]
		if len(partners) == 0 {
			continue
		}
		delete(inbox[name], EffectSwap)

		other := partners[rand.IntN(len(partners))]
		g.players[name].Applied[EffectSwap] = other

		if slices.Contains(inbox[other][EffectSwap], name) {
			g.players[other].Applied[EffectSwap] = name
		} else {
			a, b := g.players[name], g.players[other]
			aScore, bScore := a.Score, b.Score

			a.Score = bScore
			a.Delta += bScore - aScore

			b.Score = aScore
			b.Delta += aScore - bScore
		}

		if applied, ok := inbox[other]; ok {
			delete(applied, EffectSwap)
		}
	}
}

func mapKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// sortedNames keeps attacker listings and processing sets in a stable order
// so that map iteration never leaks into the wire format; all remaining
// nondeterminism comes from the explicit random draws.
func sortedNames(names []string) []string {
	slices.Sort(names)
	return names
}
