package main

import (
	"fmt"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPool(n int) []*Question {
	pool := make([]*Question, n)
	for i := range pool {
		pool[i] = &Question{
			Text:     fmt.Sprintf("question %d", i),
			Options:  []string{"a", "b", "c", "d"},
			Correct:  i % 4,
			Category: "Testing",
		}
	}
	return pool
}

func testPlayer() *Player {
	return &Player{
		Ready:      true,
		Confidence: 1,
		Choice:     -1,
		Effects:    make(map[Effect]string),
		Applied:    make(map[Effect]string),
	}
}

func markAllReady(g *GameState) {
	for _, p := range g.players {
		p.Ready = true
	}
	g.advance()
}

func TestAdvanceRequiresTwoPlayers(t *testing.T) {
	g := newGameState(testPool(3))

	g.UpdatePlayer("solo", testPlayer())

	assert.Equal(t, PhaseStart, g.phase)
	assert.Nil(t, g.question)
	assert.Equal(t, -1, g.round)
}

func TestAdvanceRequiresAllReady(t *testing.T) {
	g := newGameState(testPool(3))

	g.UpdatePlayer("alice", testPlayer())

	lagging := testPlayer()
	lagging.Ready = false
	g.UpdatePlayer("bob", lagging)

	assert.Equal(t, PhaseStart, g.phase)

	lagging = testPlayer()
	g.UpdatePlayer("bob", lagging)

	assert.Equal(t, PhaseCategory, g.phase)
}

func TestPhaseSequence(t *testing.T) {
	g := newGameState(testPool(2))

	g.UpdatePlayer("alice", testPlayer())
	g.UpdatePlayer("bob", testPlayer())

	require.Equal(t, PhaseCategory, g.phase)
	require.NotNil(t, g.question)
	assert.Equal(t, 0, g.round)
	assert.Len(t, g.remaining, 1)

	// entering a question resets the per-question fields
	for _, p := range g.players {
		assert.False(t, p.Ready)
		assert.Equal(t, 1, p.Confidence)
		assert.Equal(t, -1, p.Choice)
		assert.Empty(t, p.Effects)
		assert.Empty(t, p.Applied)
	}

	// category -> answer clears only readiness
	g.players["alice"].Confidence = 3
	g.players["alice"].Effects[EffectDouble] = selfSentinel
	markAllReady(g)

	require.Equal(t, PhaseAnswer, g.phase)
	assert.Equal(t, 3, g.players["alice"].Confidence)
	assert.Equal(t, selfSentinel, g.players["alice"].Effects[EffectDouble])
	assert.False(t, g.players["alice"].Ready)

	// answer -> resolved runs the resolution pass exactly once
	markAllReady(g)

	require.Equal(t, PhaseResolved, g.phase)
	for _, p := range g.players {
		assert.False(t, p.Ready)
	}

	// resolved -> category draws the next question and bumps the round
	markAllReady(g)

	require.Equal(t, PhaseCategory, g.phase)
	assert.Equal(t, 1, g.round)
	assert.Empty(t, g.remaining)

	markAllReady(g)
	markAllReady(g)

	require.Equal(t, PhaseResolved, g.phase)

	// exhausted pool ends the game
	markAllReady(g)

	require.Equal(t, PhaseDone, g.phase)
	assert.Nil(t, g.question)

	// done is terminal
	markAllReady(g)

	assert.Equal(t, PhaseDone, g.phase)
}

func TestQuestionsDrawnWithoutReplacement(t *testing.T) {
	const n = 8
	g := newGameState(testPool(n))

	g.UpdatePlayer("alice", testPlayer())
	g.UpdatePlayer("bob", testPlayer())

	seen := make(map[*Question]bool)
	for round := 0; round < n; round++ {
		require.Equal(t, PhaseCategory, g.phase)
		require.Equal(t, round, g.round)
		require.NotNil(t, g.question)
		require.False(t, seen[g.question], "question drawn twice")
		seen[g.question] = true

		markAllReady(g)
		markAllReady(g)
		markAllReady(g)
	}

	assert.Equal(t, PhaseDone, g.phase)
	assert.Len(t, seen, n)
}

// resolveState builds a game mid-answer-phase and runs the resolution pass.
func resolveState(players map[string]*Player) *GameState {
	g := &GameState{
		phase:   PhaseAnswer,
		players: players,
		round:   0,
	}
	for _, p := range players {
		p.Ready = true
	}
	g.advance()
	return g
}

func TestResolutionMaxSingleAttacker(t *testing.T) {
	p1 := testPlayer()
	p1.Correct = true

	p2 := testPlayer()
	p2.Confidence = 1
	p2.Correct = true

	p1.Effects[EffectMax] = "p2"

	g := resolveState(map[string]*Player{"p1": p1, "p2": p2})

	require.Equal(t, PhaseResolved, g.phase)
	assert.Equal(t, "p1", p2.Applied[EffectMax])
	assert.Equal(t, 3, p2.Payout)
	assert.Equal(t, 3, p2.Delta)
	assert.Equal(t, 3, p2.Score)
}

func TestResolutionMinMajorityBeatsMax(t *testing.T) {
	p1 := testPlayer()
	p2 := testPlayer()
	p3 := testPlayer()
	p3.Correct = true
	p3.Confidence = 2
	p4 := testPlayer()

	p1.Effects[EffectMin] = "p3"
	p2.Effects[EffectMin] = "p3"
	p4.Effects[EffectMax] = "p3"

	resolveState(map[string]*Player{"p1": p1, "p2": p2, "p3": p3, "p4": p4})

	assert.Equal(t, "p1, p2", p3.Applied[EffectMin])
	assert.NotContains(t, p3.Applied, EffectMax)
	assert.Equal(t, -1, p3.Payout)
	assert.Equal(t, -1, p3.Delta)
}

func TestResolutionZeroOverridesMinMax(t *testing.T) {
	attacker := testPlayer()
	victim := testPlayer()
	victim.Correct = true
	victim.Confidence = 3

	attacker.Effects[EffectZero] = "victim"
	attacker.Effects[EffectMax] = "victim"

	resolveState(map[string]*Player{"attacker": attacker, "victim": victim})

	assert.Equal(t, "attacker", victim.Applied[EffectZero])
	assert.NotContains(t, victim.Applied, EffectMax)
	assert.Equal(t, 0, victim.Payout)
	assert.Equal(t, 0, victim.Delta)
}

func TestResolutionFailForcesIncorrectAndBlocksSwap(t *testing.T) {
	attacker := testPlayer()
	attacker.Correct = true
	attacker.Score = 4

	victim := testPlayer()
	victim.Correct = true
	victim.Confidence = 2
	victim.Score = 9

	attacker.Effects[EffectFail] = "victim"
	attacker.Effects[EffectSwap] = "victim"

	resolveState(map[string]*Player{"attacker": attacker, "victim": victim})

	assert.Equal(t, "attacker", victim.Applied[EffectFail])
	assert.False(t, victim.Correct)
	assert.Equal(t, -2, victim.Delta)
	assert.Equal(t, 7, victim.Score)

	// the swap was discarded along with the forced failure
	assert.NotContains(t, victim.Applied, EffectSwap)
	assert.Equal(t, 5, attacker.Score)
}

func TestResolutionProtectNullifiesIncoming(t *testing.T) {
	attacker := testPlayer()
	attacker.Correct = true

	victim := testPlayer()
	victim.Correct = true
	victim.Confidence = 2
	victim.Score = 5

	attacker.Effects[EffectFail] = "victim"
	attacker.Effects[EffectZero] = "victim"
	attacker.Effects[EffectMin] = "victim"
	attacker.Effects[EffectSteal] = "victim"
	attacker.Effects[EffectSwap] = "victim"
	victim.Effects[EffectProtect] = selfSentinel

	resolveState(map[string]*Player{"attacker": attacker, "victim": victim})

	assert.Equal(t, selfSentinel, victim.Applied[EffectProtect])
	for _, kind := range targetedEffects {
		assert.NotContains(t, victim.Applied, kind)
	}
	assert.True(t, victim.Correct)
	assert.Equal(t, 2, victim.Payout)
	assert.Equal(t, 7, victim.Score)
}

func TestResolutionExposeMarkedOnly(t *testing.T) {
	p1 := testPlayer()
	p1.Effects[EffectExpose] = selfSentinel
	p2 := testPlayer()

	resolveState(map[string]*Player{"p1": p1, "p2": p2})

	assert.Equal(t, selfSentinel, p1.Applied[EffectExpose])
	// self-directed effects never land in anyone's inbox
	assert.Empty(t, p2.Applied)
}

func TestResolutionDoubleOrNothing(t *testing.T) {
	winner := testPlayer()
	winner.Correct = true
	winner.Score = 6
	winner.Confidence = 3
	winner.Effects[EffectDouble] = selfSentinel

	loser := testPlayer()
	loser.Score = 4
	loser.Effects[EffectDouble] = selfSentinel

	resolveState(map[string]*Player{"winner": winner, "loser": loser})

	assert.Equal(t, 6, winner.Delta)
	assert.Equal(t, 12, winner.Score)
	assert.Equal(t, -4, loser.Delta)
	assert.Equal(t, 0, loser.Score)
}

func TestResolutionMutualStealCancels(t *testing.T) {
	a := testPlayer()
	a.Correct = true
	a.Confidence = 2
	a.Score = 5

	b := testPlayer()
	b.Correct = true
	b.Confidence = 3
	b.Score = 7

	a.Effects[EffectSteal] = "b"
	b.Effects[EffectSteal] = "a"

	resolveState(map[string]*Player{"a": a, "b": b})

	assert.Equal(t, "b", a.Applied[EffectSteal])
	assert.Equal(t, "a", b.Applied[EffectSteal])
	assert.Equal(t, 2, a.Delta)
	assert.Equal(t, 3, b.Delta)
	assert.Equal(t, 7, a.Score)
	assert.Equal(t, 10, b.Score)
}

func TestResolutionUnilateralSteal(t *testing.T) {
	thief := testPlayer()
	thief.Correct = true
	thief.Confidence = 1
	thief.Score = 2

	victim := testPlayer()
	victim.Correct = true
	victim.Confidence = 3
	victim.Score = 8

	thief.Effects[EffectSteal] = "victim"

	resolveState(map[string]*Player{"thief": thief, "victim": victim})

	assert.Equal(t, "thief", victim.Applied[EffectSteal])
	assert.Equal(t, 4, thief.Delta)
	assert.Equal(t, 0, victim.Delta)
	assert.Equal(t, 6, thief.Score)
	assert.Equal(t, 8, victim.Score)
}

func TestResolutionMutualSwapCancels(t *testing.T) {
	a := testPlayer()
	a.Correct = true
	a.Score = 5

	b := testPlayer()
	b.Correct = true
	b.Score = 9

	a.Effects[EffectSwap] = "b"
	b.Effects[EffectSwap] = "a"

	resolveState(map[string]*Player{"a": a, "b": b})

	assert.Equal(t, "b", a.Applied[EffectSwap])
	assert.Equal(t, "a", b.Applied[EffectSwap])
	assert.Equal(t, 6, a.Score)
	assert.Equal(t, 10, b.Score)
}

func TestResolutionUnilateralSwapExchangesScores(t *testing.T) {
	a := testPlayer()
	a.Correct = true
	a.Score = 2

	b := testPlayer()
	b.Correct = true
	b.Score = 11

	a.Effects[EffectSwap] = "b"

	resolveState(map[string]*Player{"a": a, "b": b})

	// scores commit first (+1 each), then swap exchanges them
	assert.Equal(t, "a", b.Applied[EffectSwap])
	assert.Equal(t, 12, a.Score)
	assert.Equal(t, 3, b.Score)
	assert.Equal(t, 1+9, a.Delta)
	assert.Equal(t, 1-9, b.Delta)
}

func TestResolutionScoreNeverNegative(t *testing.T) {
	a := testPlayer()
	a.Confidence = 3
	a.Score = 1

	b := testPlayer()
	b.Correct = true

	resolveState(map[string]*Player{"a": a, "b": b})

	assert.Equal(t, -3, a.Delta)
	assert.Equal(t, 0, a.Score)
}

func TestResolutionIgnoresUnknownTargets(t *testing.T) {
	a := testPlayer()
	a.Correct = true
	a.Score = 3
	a.Effects[EffectSteal] = "ghost"
	a.Effects[EffectFail] = "ghost"

	b := testPlayer()

	resolveState(map[string]*Player{"a": a, "b": b})

	assert.Equal(t, 4, a.Score)
	assert.Empty(t, b.Applied)
}

func TestResolutionRandomizedInvariants(t *testing.T) {
	names := []string{"p1", "p2", "p3", "p4"}

	for trial := 0; trial < 200; trial++ {
		players := make(map[string]*Player, len(names))
		for _, name := range names {
			p := testPlayer()
			p.Score = rand.IntN(10)
			p.Confidence = rand.IntN(5) - 1
			p.Correct = rand.IntN(2) == 0
			players[name] = p
		}
		for _, name := range names {
			for _, kind := range targetedEffects {
				if rand.IntN(3) == 0 {
					players[name].Effects[kind] = names[rand.IntN(len(names))]
				}
			}
			if rand.IntN(4) == 0 {
				players[name].Effects[EffectProtect] = selfSentinel
			}
			if rand.IntN(4) == 0 {
				players[name].Effects[EffectDouble] = selfSentinel
			}
		}

		resolveState(players)

		for name, p := range players {
			require.GreaterOrEqual(t, p.Score, 0, "trial %d: player %s went negative", trial, name)
			require.False(t, p.Ready, "trial %d: player %s still ready", trial, name)
			// min and max are mutually exclusive on the same victim
			_, hasMin := p.Applied[EffectMin]
			_, hasMax := p.Applied[EffectMax]
			require.False(t, hasMin && hasMax, "trial %d: player %s has both min and max", trial, name)
		}
	}
}

func TestUpdatePlayerRemoveIsStructural(t *testing.T) {
	g := newGameState(testPool(2))

	g.UpdatePlayer("alice", testPlayer())
	g.UpdatePlayer("bob", testPlayer())
	require.Len(t, g.players, 2)

	g.UpdatePlayer("bob", nil)

	_, ok := g.players["bob"]
	assert.False(t, ok)
	assert.Len(t, g.players, 1)
}

func TestNormalizeStripsNullEffectEntries(t *testing.T) {
	p := &Player{
		Effects: map[Effect]string{
			EffectExpose: "",
			EffectSteal:  "bob",
		},
		Applied: map[Effect]string{
			EffectFail: "",
		},
	}

	p.normalize()

	assert.NotContains(t, p.Effects, EffectExpose)
	assert.Equal(t, "bob", p.Effects[EffectSteal])
	assert.Empty(t, p.Applied)
}

func TestSnapshotShape(t *testing.T) {
	g := newGameState(testPool(4))

	snapshot := g.Snapshot()

	assert.Equal(t, PhaseStart, snapshot.Phase)
	assert.Nil(t, snapshot.Question)
	assert.Equal(t, 4, snapshot.TotalQuestions)
	assert.Equal(t, -1, snapshot.Round)
	assert.NotNil(t, snapshot.Players)
}
