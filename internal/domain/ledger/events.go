package ledger

// Payloads of the events the contribution contract emits. Addresses are
// account addresses; session ids are the platform session UUIDs passed to
// create_session.

type SessionCreatedData struct {
	SessionID  string `json:"session_id"`
	Creator    string `json:"creator"`
	RewardPool string `json:"reward_pool"`
}

type ParticipantRegisteredData struct {
	SessionID   string `json:"session_id"`
	Participant string `json:"participant"`
}

type ContributionSubmittedData struct {
	SessionID   string  `json:"session_id"`
	Participant string  `json:"participant"`
	Score       float64 `json:"score"`
	Quality     float64 `json:"quality"`
	TimeSpent   float64 `json:"time_spent"`
	Accuracy    float64 `json:"accuracy"`
	Efficiency  float64 `json:"efficiency"`
	Consistency float64 `json:"consistency"`
}

type SessionCompletedData struct {
	SessionID        string `json:"session_id"`
	ParticipantCount int    `json:"participant_count"`
}

type RewardDistributedData struct {
	SessionID  string `json:"session_id"`
	Recipient  string `json:"recipient"`
	Amount     string `json:"amount"`
	RewardType string `json:"reward_type"`
}

type RewardClaimedData struct {
	Claimant  string   `json:"claimant"`
	RewardIDs []string `json:"reward_ids"`
	Amount    string   `json:"amount"`
}

// Event struct names, appended to the contract handle to form the event type.
const (
	EventSessionCreated        = "SessionCreatedEvent"
	EventParticipantRegistered = "ParticipantRegisteredEvent"
	EventContributionSubmitted = "ContributionSubmittedEvent"
	EventSessionCompleted      = "SessionCompletedEvent"
	EventRewardDistributed     = "RewardDistributedEvent"
	EventRewardClaimed         = "RewardClaimedEvent"
)
