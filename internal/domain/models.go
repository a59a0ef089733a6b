package domain

import "time"

// QuestionKind distinguishes the two supported question formats.
type QuestionKind string

const (
	// KindChoice is a multiple-choice question answered by option index.
	KindChoice QuestionKind = "choice"
	// KindName is an open-text question answered by typing the expected name.
	KindName QuestionKind = "name"
)

// Question is one entry of the trivia pool.
type Question struct {
	ID          string       `json:"id"`
	Kind        QuestionKind `json:"kind"`
	Prompt      string       `json:"prompt"`
	Options     []string     `json:"options,omitempty"`     // choice only
	AnswerIndex int          `json:"answerIndex,omitempty"` // choice only
	Expected    string       `json:"expected,omitempty"`    // name only
	ImageURL    string       `json:"imageUrl,omitempty"`    // name only, optional
}

// QuestionView is the client-safe projection of a Question: the answer key
// (AnswerIndex/Expected) is withheld until the round resolves.
type QuestionView struct {
	ID       string       `json:"id"`
	Kind     QuestionKind `json:"kind"`
	Prompt   string       `json:"prompt"`
	Options  []string     `json:"options,omitempty"`
	ImageURL string       `json:"imageUrl,omitempty"`
}

// View strips the answer key from a question.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:       q.ID,
		Kind:     q.Kind,
		Prompt:   q.Prompt,
		Options:  q.Options,
		ImageURL: q.ImageURL,
	}
}

// Participant represents a connected room member and their scores.
type Participant struct {
	Identity     string
	DisplayName  string
	SessionScore int
	DayScore     int
	JoinedAt     time.Time
}

// ParticipantView is the broadcast-friendly projection of a Participant.
type ParticipantView struct {
	Identity     string `json:"identity"`
	DisplayName  string `json:"displayName"`
	SessionScore int    `json:"sessionScore"`
	DayScore     int    `json:"dayScore"`
}

// RoomState is the full membership snapshot broadcast after every change.
type RoomState struct {
	RoomID       string            `json:"roomId"`
	Participants []ParticipantView `json:"participants"`
	HostIdentity string            `json:"hostIdentity"`
}

// AnswerRecord captures a single accepted submission for the active round.
// TimeRemaining is snapshotted server-side at the instant of acceptance;
// client-reported timing is never trusted for scoring.
type AnswerRecord struct {
	Identity      string        `json:"identity"`
	OptionIndex   int           `json:"optionIndex"` // -1 for text answers
	Text          string        `json:"text,omitempty"`
	TimeRemaining time.Duration `json:"-"`
}

// RoundStarted announces a new round. The question view carries no answer key.
type RoundStarted struct {
	RoundID    string       `json:"roundId"`
	Question   QuestionView `json:"question"`
	StartTime  time.Time    `json:"startTime"`
	TimeBudget float64      `json:"timeBudget"` // seconds
}

// PlayerAnswered is fanned out after each accepted submission.
type PlayerAnswered struct {
	Identity    string `json:"identity"`
	OptionIndex *int   `json:"optionIndex,omitempty"` // choice rounds
	Correct     *bool  `json:"correct,omitempty"`     // name rounds
}

// RoundResolved reveals the answer key and the points awarded this round.
type RoundResolved struct {
	RoundID       string                  `json:"roundId"`
	CorrectOption *int                    `json:"correctOption,omitempty"`
	CorrectAnswer string                  `json:"correctAnswer,omitempty"`
	Awards        map[string]int          `json:"awards"`
	Records       map[string]AnswerRecord `json:"records"`
	Room          RoomState               `json:"room"`
}

// LeaderboardEntry is one row of the day-scoped leaderboard.
type LeaderboardEntry struct {
	Identity    string `json:"identity"`
	DisplayName string `json:"displayName,omitempty"`
	Score       int    `json:"score"`
}

// EventType labels an outbound room broadcast.
type EventType string

const (
	EventRoomState      EventType = "roomState"
	EventRoundStarted   EventType = "roundStarted"
	EventPlayerAnswered EventType = "playerAnswered"
	EventRoundResolved  EventType = "roundResolved"
)

// Event is a single broadcast delivered to every subscriber of a room.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}
