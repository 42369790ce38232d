package classify

import (
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestClassifier() (*Classifier, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	return New(Config{Now: clock.Now}), clock
}

const userTurn = `{
	"type": "user_message",
	"message": {"role": "user", "content": "I just got the job!"},
	"models": {"prosody": {"scores": {
		"Calmness": 0.12, "Excitement": 0.8149, "Joy": 0.8162, "Surprise (positive)": 0.61, "Awe": 0.61
	}}}
}`

func TestClassify_SpeechTurn(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(userTurn), clock.Now())
	is.NoErr(err)

	turn, ok := ev.(SpeechTurn)
	is.True(ok) // user_message is a speech turn
	is.Equal(turn.Kind(), KindSpeechTurn)
	is.Equal(turn.Role, RoleUser)
	is.Equal(turn.Content, "I just got the job!")
	is.Equal(turn.Timestamp, clock.Now())

	is.Equal(len(turn.Emotions), 3)
	is.Equal(turn.Emotions[0].Emotion, "Joy")
	is.Equal(turn.Emotions[0].Score, "0.82")
	is.Equal(turn.Emotions[1].Emotion, "Excitement")
	is.Equal(turn.Emotions[1].Score, "0.81")
	is.Equal(turn.Emotions[2].Emotion, "Surprise (positive)") // tie with Awe keeps document order
	is.Equal(turn.Emotions[2].Score, "0.61")
}

func TestClassify_EmotionListInvariants(t *testing.T) {
	c, clock := newTestClassifier()

	payloads := []string{
		`{"type":"assistant_message","message":{"role":"assistant","content":"a"},"models":{"prosody":{"scores":{"A":0.1}}}}`,
		`{"type":"assistant_message","message":{"role":"assistant","content":"b"},"models":{"prosody":{"scores":{}}}}`,
		`{"type":"assistant_message","message":{"role":"assistant","content":"c"}}`,
		`{"type":"user_message","message":{"role":"user","content":"d"},"models":{"prosody":{"scores":{"A":0.3333,"B":0.9999,"C":0.5,"D":0.0001,"E":0.75}}}}`,
	}

	for _, p := range payloads {
		clock.Advance(time.Second)
		ev, err := c.Classify([]byte(p), clock.Now())
		if err != nil {
			t.Fatalf("classify %s: %v", p, err)
		}
		turn := ev.(SpeechTurn)

		if len(turn.Emotions) > MaxTurnEmotions {
			t.Errorf("got %d emotions, want at most %d", len(turn.Emotions), MaxTurnEmotions)
		}
		for i, e := range turn.Emotions {
			dot := strings.IndexByte(e.Score, '.')
			if dot < 0 || len(e.Score)-dot-1 != 2 {
				t.Errorf("score %q does not have two decimals", e.Score)
			}
			if i > 0 && turn.Emotions[i-1].Score < e.Score {
				t.Errorf("emotions not descending: %v", turn.Emotions)
			}
		}
	}
}

func TestClassify_ScoresNestedInMessage(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	raw := `{"type":"assistant_message","message":{"role":"assistant","content":"hi","models":{"prosody":{"scores":{"Joy":0.4}}}}}`
	ev, err := c.Classify([]byte(raw), clock.Now())
	is.NoErr(err)
	is.Equal(ev.(SpeechTurn).Emotions[0].Emotion, "Joy")
}

func TestClassify_Dedup(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()
	at := clock.Now()

	ev, err := c.Classify([]byte(userTurn), at)
	is.NoErr(err)
	is.True(ev != nil) // first occurrence is emitted

	clock.Advance(4 * time.Second)
	ev, err = c.Classify([]byte(userTurn), at)
	is.NoErr(err)
	is.True(ev == nil) // same kind and bucket within 5s is suppressed

	// a different kind in the same bucket is not a duplicate
	ev, err = c.Classify([]byte(strings.Replace(userTurn, "user_message", "assistant_message", 1)), at)
	is.NoErr(err)
	is.True(ev != nil)

	clock.Advance(time.Second)
	ev, err = c.Classify([]byte(userTurn), at)
	is.NoErr(err)
	is.True(ev != nil) // fingerprint expired after 5s
}

func TestClassify_EmptyContentIgnored(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"assistant_message","message":{"role":"assistant","content":""}}`), clock.Now())
	is.NoErr(err)
	is.True(ev == nil)
}

func TestClassify_Metadata(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"chat_metadata","chat_group_id":"grp-1","chat_id":"chat-9"}`), clock.Now())
	is.NoErr(err)
	is.Equal(ev, Metadata{ChatGroupID: "grp-1", ChatID: "chat-9"})
}

func TestClassify_AudioOutput(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	payload := base64.StdEncoding.EncodeToString([]byte("RIFF...."))
	ev, err := c.Classify([]byte(`{"type":"audio_output","id":"a1","data":"`+payload+`"}`), clock.Now())
	is.NoErr(err)

	chunk := ev.(AudioChunk)
	is.Equal(chunk.ID, "a1")
	is.Equal(string(chunk.Data), "RIFF....")
	is.Equal(chunk.MimeType, DefaultAudioMimeType)

	_, err = c.Classify([]byte(`{"type":"audio_output","data":"%%%not-base64"}`), clock.Now())
	is.True(errors.Is(err, ErrEncoding))
}

func TestClassify_InterruptionAndError(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"user_interruption"}`), clock.Now())
	is.NoErr(err)
	is.Equal(ev.Kind(), KindInterruption)

	ev, err = c.Classify([]byte(`{"type":"error","code":"E0100","message":"bad config"}`), clock.Now())
	is.NoErr(err)
	terr := ev.(TransportError)
	is.Equal(terr.Error(), "E0100: bad config")
}

func TestClassify_ErrorWithStructuredMessage(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"error","code":"E0200","message":{"detail":"quota exceeded"}}`), clock.Now())
	is.NoErr(err)
	terr := ev.(TransportError)
	is.Equal(terr.Code, "E0200")
	is.True(strings.Contains(terr.Message, "quota exceeded"))
}

func TestClassify_UnknownAndMalformed(t *testing.T) {
	is := is.New(t)
	c, clock := newTestClassifier()

	ev, err := c.Classify([]byte(`{"type":"tool_call"}`), clock.Now())
	is.NoErr(err) // unknown types are not errors
	is.True(ev == nil)

	_, err = c.Classify([]byte(`{"type":`), clock.Now())
	is.True(errors.Is(err, ErrEncoding))

	_, err = c.Classify([]byte(`{"type":"user_message","message":{"content":"x"},"models":{"prosody":{"scores":{"Joy":"lots"}}}}`), clock.Now())
	is.True(errors.Is(err, ErrEncoding))
}
