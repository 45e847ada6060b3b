package domain

import "time"

type State string

const (
	StateCollectingFirstName State = "collecting_first_name"
	StateCollectingLastName  State = "collecting_last_name"
	StateCollectingPhone     State = "collecting_phone"
	StateCollectingRatingURL State = "collecting_rating_url"
	StateCollectingPhoto     State = "collecting_photo"
	StateInReview            State = "in_review"
	StateAccepted            State = "accepted"
	StateRejected            State = "rejected"
	StateVoting              State = "voting"
	StateVoted               State = "voted"
)

// States lists every workflow state in workflow order.
var States = []State{
	StateCollectingFirstName,
	StateCollectingLastName,
	StateCollectingPhone,
	StateCollectingRatingURL,
	StateCollectingPhoto,
	StateInReview,
	StateAccepted,
	StateRejected,
	StateVoting,
	StateVoted,
}

func (s State) Valid() bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// Applicant is the telegram identity of a registrant.
type Applicant struct {
	ID        int64
	FirstName string
	LastName  string
	Username  string
	CreatedAt time.Time
}

// Profile holds the collected registration fields. Empty values mean "not collected yet".
type Profile struct {
	ApplicantID      int64
	FirstName        string
	LastName         string
	Phone            string
	RatingURL        string
	ExternalPlayerID int64
	PhotoRef         string
	PhotoKey         string
	State            State
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type ExternalPlayer struct {
	ID                  int64
	FirstName           string
	LastName            string
	IntlFirstName       string
	IntlLastName        string
	IntlLicense         int64
	Foreigner           bool
	LastCompetitionDate time.Time
}

type VoteOption struct {
	ID    int64
	Label string
}

type VoteRecord struct {
	ID          int64
	ApplicantID int64
	OptionID    int64
	SecretCode  string
	CreatedAt   time.Time
}

type OptionTally struct {
	OptionID int64
	Label    string
	Votes    int64
}

// Status is the read-only aggregate returned to administrators.
type Status struct {
	ByState map[State]int64
	Tallies []OptionTally
}
