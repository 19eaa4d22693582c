package models

// GameMode fixes the player cap and deck size bounds a session plays under.
type GameMode struct {
	Name string `json:"name"`

	// Players is the maximum number of Player-role roster members.
	Players int `json:"players"`

	// MinDeckSize and MaxDeckSize bound the legal deck size. MaxDeckSize
	// of 0 means unbounded; equal bounds mean an exact count.
	MinDeckSize int `json:"minDeckSize"`
	MaxDeckSize int `json:"maxDeckSize"`
}

// RequiresExact reports whether the mode demands an exact deck size.
func (m GameMode) RequiresExact() bool {
	return m.MaxDeckSize != 0 && m.MinDeckSize == m.MaxDeckSize
}

var gameModes = map[string]GameMode{
	"joust": {Name: "joust", Players: 2, MinDeckSize: 60},
	"melee": {Name: "melee", Players: 4, MinDeckSize: 60},
	"draft": {Name: "draft", Players: 2, MinDeckSize: 60, MaxDeckSize: 60},
}

// ModeByName resolves a game mode, defaulting to joust for unknown names.
func ModeByName(name string) GameMode {
	if m, ok := gameModes[name]; ok {
		return m
	}
	return gameModes["joust"]
}

// ValidMode reports whether the name maps to a known game mode.
func ValidMode(name string) bool {
	_, ok := gameModes[name]
	return ok
}
