package domain

import "time"

// Game identifiers of the calming mini-games.
const (
	GameColorMixing    = "color-mixing"
	GameStatueReveal   = "statue-reveal"
	GameMeadowPainting = "meadow-painting"
	GameNebulaStirring = "nebula-stirring"
	GameSnowballWipe   = "snowball-wipe"
)

var gameNames = map[string]string{
	GameColorMixing:    "Color Mixing",
	GameStatueReveal:   "Statue Reveal",
	GameMeadowPainting: "Meadow Painting",
	GameNebulaStirring: "Nebula Stirring",
	GameSnowballWipe:   "Snowball Wipe",
}

// GameName returns the display name for a game ID.
func GameName(gameID string) (string, bool) {
	name, ok := gameNames[gameID]
	return name, ok
}

// GameSessionLog is one completed mini-game play.
type GameSessionLog struct {
	GameID          string `json:"gameId"`
	GameName        string `json:"gameName"`
	DurationSeconds int64  `json:"duration"`
	EndedAt         int64  `json:"timestamp"`
}

// NewGameSessionLog builds a log entry from start and end times.
func NewGameSessionLog(gameID string, startedAt, endedAt time.Time) GameSessionLog {
	name, ok := GameName(gameID)
	if !ok {
		name = gameID
	}
	duration := int64(endedAt.Sub(startedAt).Seconds())
	if duration < 0 {
		duration = 0
	}
	return GameSessionLog{
		GameID:          gameID,
		GameName:        name,
		DurationSeconds: duration,
		EndedAt:         endedAt.UnixMilli(),
	}
}
