package store

import (
	"encoding/json"
	"errors"
	"time"
)

type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Mobile       string    `json:"mobile"`
	Gender       string    `json:"gender"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
}

// Question types. Radio and checkbox questions carry an options list.
const (
	QuestionText     = "text"
	QuestionRadio    = "radio"
	QuestionCheckbox = "checkbox"
)

type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
}

type Form struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Questions   []Question `json:"questions"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Answer is the submitted value for one question: free text or a list of
// choices. Anything else in the payload is rejected at decode time.
type Answer struct {
	Text    string
	Choices []string
	IsList  bool
}

func TextAnswer(text string) Answer {
	return Answer{Text: text}
}

func ChoicesAnswer(choices ...string) Answer {
	return Answer{Choices: choices, IsList: true}
}

func (a *Answer) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return errors.New("answer must be a string or a list of strings")
	}
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*a = Answer{Text: text}
		return nil
	}
	var choices []string
	if err := json.Unmarshal(data, &choices); err == nil {
		*a = Answer{Choices: choices, IsList: true}
		return nil
	}
	return errors.New("answer must be a string or a list of strings")
}

func (a Answer) MarshalJSON() ([]byte, error) {
	if a.IsList {
		if a.Choices == nil {
			return json.Marshal([]string{})
		}
		return json.Marshal(a.Choices)
	}
	return json.Marshal(a.Text)
}

type FormResponse struct {
	ID          string            `json:"id"`
	FormID      string            `json:"form_id"`
	UserID      string            `json:"user_id"`
	Answers     map[string]Answer `json:"answers"`
	SubmittedAt time.Time         `json:"submitted_at"`
}

// Namespace identifies one of the three independent chat logs.
type Namespace string

const (
	NamespaceChat      Namespace = "chat"
	NamespaceUsersChat Namespace = "users_chat"
	NamespaceGuestChat Namespace = "guest_chat"
)

const (
	ChatRoleUser = "user"
	ChatRoleBot  = "bot"
)

type ChatMessage struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	Time time.Time `json:"time"`
}
