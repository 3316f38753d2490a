package scenarios

import "fmt"

// SpeechSpeed is the user-selected speaking pace of voice agents.
type SpeechSpeed string

const (
	SpeedVerySlow SpeechSpeed = "very_slow"
	SpeedSlow     SpeechSpeed = "slow"
	SpeedNormal   SpeechSpeed = "normal"
	SpeedFast     SpeechSpeed = "fast"
	SpeedVeryFast SpeechSpeed = "very_fast"
)

var speedLevels = map[SpeechSpeed]struct {
	factor float64
	hint   string
}{
	SpeedVerySlow: {0.7, "Speak very slowly, with clear pauses between sentences."},
	SpeedSlow:     {0.85, "Speak slowly and calmly."},
	SpeedNormal:   {1.0, ""},
	SpeedFast:     {1.15, "Speak at a brisk pace."},
	SpeedVeryFast: {1.3, "Speak quickly and keep answers especially short."},
}

// ParseSpeechSpeed accepts the five level names. The empty string is normal.
func ParseSpeechSpeed(s string) (SpeechSpeed, error) {
	if s == "" {
		return SpeedNormal, nil
	}
	if _, ok := speedLevels[SpeechSpeed(s)]; !ok {
		return "", fmt.Errorf("unknown speech speed %q", s)
	}
	return SpeechSpeed(s), nil
}

// Factor is the realtime session speed multiplier.
func (s SpeechSpeed) Factor() float64 {
	if l, ok := speedLevels[s]; ok {
		return l.factor
	}
	return 1.0
}

// Instruction is appended to agent instructions. Normal speed adds nothing.
func (s SpeechSpeed) Instruction() string {
	return speedLevels[s].hint
}

func withSpeed(instructions string, s SpeechSpeed) string {
	if hint := s.Instruction(); hint != "" {
		return instructions + "\n\n# Pace\n" + hint
	}
	return instructions
}
