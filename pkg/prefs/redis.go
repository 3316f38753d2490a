package prefs

import (
	"cmp"
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps preferences in one hash per user.
type RedisStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisStore does not own client.
func NewRedisStore(client redis.UniversalClient, keyPrefix, user string) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if user == "" {
		return nil, fmt.Errorf("user is required")
	}
	return &RedisStore{
		client: client,
		key:    fmt.Sprintf("%s:%s", cmp.Or(keyPrefix, "vai:agents:prefs"), user),
	}, nil
}

func (s *RedisStore) Load(ctx context.Context) (Prefs, error) {
	p := Defaults()
	fields, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return p, fmt.Errorf("read redis prefs: %w", err)
	}
	boolField := func(name string, dst *bool) {
		if v, ok := fields[name]; ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	boolField("push_to_talk", &p.PushToTalk)
	boolField("logs_expanded", &p.LogsExpanded)
	boolField("audio_playback", &p.AudioPlayback)
	boolField("transcript_visible", &p.TranscriptVisible)
	if v, ok := fields["speech_speed"]; ok {
		p.SpeechSpeed = v
	}
	p.Scenario = fields["scenario"]
	p.Agent = fields["agent"]
	if err := p.Validate(); err != nil {
		return Defaults(), fmt.Errorf("invalid redis prefs: %w", err)
	}
	return p, nil
}

func (s *RedisStore) Save(ctx context.Context, p Prefs) error {
	if err := p.Validate(); err != nil {
		return err
	}
	err := s.client.HSet(ctx, s.key, map[string]any{
		"push_to_talk":       strconv.FormatBool(p.PushToTalk),
		"logs_expanded":      strconv.FormatBool(p.LogsExpanded),
		"audio_playback":     strconv.FormatBool(p.AudioPlayback),
		"transcript_visible": strconv.FormatBool(p.TranscriptVisible),
		"speech_speed":       p.SpeechSpeed,
		"scenario":           p.Scenario,
		"agent":              p.Agent,
	}).Err()
	if err != nil {
		return fmt.Errorf("write redis prefs: %w", err)
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
