// Package model holds the records shared between the simulation core and
// its persistence and transport collaborators.
package model

import "time"

// Position is a canvas coordinate in [0, CanvasSize).
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Reward is a hidden collectible. Collected flips false->true at most once.
type Reward struct {
	ID                 int        `json:"id"`
	X                  float64    `json:"x"`
	Y                  float64    `json:"y"`
	Collected          bool       `json:"collected"`
	TimestampCollected *time.Time `json:"timestampCollected,omitempty"`
}

// Pos returns the reward location.
func (r Reward) Pos() Position { return Position{X: r.X, Y: r.Y} }

// ClusterCenter describes one generative cluster. Radius is the circle
// radius or the diamond half-diagonal depending on Shape.
type ClusterCenter struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Radius float64 `json:"radius"`
}

// ClusterParams is persisted with the round and never recomputed.
type ClusterParams struct {
	K       int             `json:"k"`
	Shape   string          `json:"shape"`
	Centers []ClusterCenter `json:"centers"`
}

// AgentState is the live pose. Heading is in degrees [0, 360), 0 = up,
// 90 = right. Velocity is in px/s.
type AgentState struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Heading  float64 `json:"heading"`
	Velocity float64 `json:"velocity"`
}

// Pos returns the agent location.
func (a AgentState) Pos() Position { return Position{X: a.X, Y: a.Y} }

// MovementSample is an immutable fixed-rate snapshot.
type MovementSample struct {
	SessionID        string    `json:"sessionId"`
	RoundIndex       int       `json:"roundIndex"`
	TimestampMs      int64     `json:"timestampMs"`
	TimestampAbs     time.Time `json:"timestampAbs"`
	X                float64   `json:"x"`
	Y                float64   `json:"y"`
	Heading          float64   `json:"heading"`
	Velocity         float64   `json:"velocity"`
	DistanceFromLast float64   `json:"distanceFromLast"`
	Acceleration     float64   `json:"acceleration"`
	FoodHere         bool      `json:"foodHere"`
}

// EventType enumerates GameEvent kinds.
type EventType string

const (
	EventRoundStart    EventType = "round_start"
	EventRewardHit     EventType = "reward_hit"
	EventRoundEnd      EventType = "round_end"
	EventTimeout       EventType = "timeout"
	EventMazeStart     EventType = "maze_start"
	EventMazeCollision EventType = "maze_collision"
	EventMazeComplete  EventType = "maze_complete"
)

// Terminal reports whether the event closes a round.
func (t EventType) Terminal() bool {
	return t == EventRoundEnd || t == EventTimeout || t == EventMazeComplete
}

// GameEvent is an immutable discrete event.
type GameEvent struct {
	SessionID    string         `json:"sessionId"`
	RoundIndex   int            `json:"roundIndex"`
	EventType    EventType      `json:"eventType"`
	TimestampMs  int64          `json:"timestampMs"`
	TimestampAbs time.Time      `json:"timestampAbs"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// EndReason records why a round was finalized.
type EndReason string

const (
	EndAllRewards   EndReason = "all_rewards"
	EndTimeout      EndReason = "timeout"
	EndAborted      EndReason = "aborted"
	EndMazeComplete EndReason = "maze_complete"
)

// Round is the finalized, immutable round record.
type Round struct {
	ID                string         `json:"id"`
	SessionID         string         `json:"sessionId"`
	RoundIndex        int            `json:"roundIndex"`
	Condition         string         `json:"condition"`
	StartTimestamp    time.Time      `json:"startTimestamp"`
	EndTimestamp      time.Time      `json:"endTimestamp"`
	DurationMs        int64          `json:"durationMs"`
	RewardsCollected  int            `json:"rewardsCollected"`
	ResourcePositions []Reward       `json:"resourcePositions"`
	ClusterParams     *ClusterParams `json:"clusterParams,omitempty"`
	EndReason         EndReason      `json:"endReason"`
}

// Participant is a persisted condition assignment.
type Participant struct {
	ParticipantKey string    `json:"participantKey"`
	Scheme         string    `json:"scheme"`
	Condition      string    `json:"condition"`
	AssignedAt     time.Time `json:"assignedAt"`
}

// Session groups the rounds a participant plays in one sitting.
type Session struct {
	ID             string    `json:"id"`
	ParticipantKey string    `json:"participantKey"`
	Condition      string    `json:"condition"`
	Mode           string    `json:"mode"`
	StartedAt      time.Time `json:"startedAt"`
}
