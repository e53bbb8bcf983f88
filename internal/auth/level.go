package auth

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"strings"
)

// Level is a privilege tier. Levels form a fixed total order and are
// compared by ordinal.
type Level int

const (
	LevelView Level = iota
	LevelLow
	LevelMedium
	LevelHigh
	LevelSuper
)

var levelNames = [...]string{"View", "Low", "Medium", "High", "Super"}

// String returns the persisted name of the level.
func (l Level) String() string {
	if l < LevelView || l > LevelSuper {
		return levelNames[LevelView]
	}
	return levelNames[l]
}

// Valid reports whether l is one of the five defined levels.
func (l Level) Valid() bool {
	return l >= LevelView && l <= LevelSuper
}

// OneLevelBelow returns the next lower level, saturating at View.
func (l Level) OneLevelBelow() Level {
	if l <= LevelView {
		return LevelView
	}
	if l > LevelSuper {
		return LevelHigh
	}
	return l - 1
}

// AtLeast reports whether l grants the privileges of required.
func (l Level) AtLeast(required Level) bool {
	return l >= required
}

// ParseLevel maps a persisted name to a Level. The match is case
// insensitive; ok is false and View is returned for unknown names.
func ParseLevel(name string) (level Level, ok bool) {
	for i, n := range levelNames {
		if strings.EqualFold(n, strings.TrimSpace(name)) {
			return Level(i), true
		}
	}
	return LevelView, false
}

// LevelFromInt maps an integer to a Level. Out of range values map to View.
func LevelFromInt(n int) (level Level, ok bool) {
	l := Level(n)
	if !l.Valid() {
		return LevelView, false
	}
	return l, true
}

// Value implements driver.Valuer so levels are stored by name.
func (l Level) Value() (driver.Value, error) {
	return l.String(), nil
}

// Scan implements sql.Scanner. Unknown names scan as View.
func (l *Level) Scan(src any) error {
	switch v := src.(type) {
	case string:
		*l, _ = ParseLevel(v)
	case []byte:
		*l, _ = ParseLevel(string(v))
	case int64:
		*l, _ = LevelFromInt(int(v))
	case nil:
		*l = LevelView
	default:
		return fmt.Errorf("scanning level: unsupported type %T", src)
	}
	return nil
}

// MarshalText encodes the level by name.
func (l Level) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// UnmarshalJSON accepts either a level name or its ordinal. Unknown
// values decode as View.
func (l *Level) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*l, _ = ParseLevel(name)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("level must be a name or an integer: %w", err)
	}
	*l, _ = LevelFromInt(n)
	return nil
}
