package domain

// Outcome é o resultado de uma tentativa sobre um candidato no laço de alocação.
type Outcome string

const (
	OutcomeAccepted         Outcome = "accepted"
	OutcomeSkippedStale     Outcome = "skipped_stale"
	OutcomeSkippedOverQuota Outcome = "skipped_over_quota"
	OutcomeSkippedCooldown  Outcome = "skipped_cooldown"
	OutcomeSkippedRaceLost  Outcome = "skipped_race_lost"
	// OutcomeSkippedError cobre timeout/falha do store num passo do candidato.
	OutcomeSkippedError Outcome = "skipped_error"
)

// NumberStatus é uma linha do snapshot de inventário.
type NumberStatus struct {
	CallerNumber
	HourlyCount int64 `json:"hourly_count"`
	DailyCount  int64 `json:"daily_count"`
	Reserved    bool  `json:"reserved"`
}

// Snapshot é o estado agregado que o painel (fora deste módulo) renderiza.
type Snapshot struct {
	Numbers      []NumberStatus      `json:"caller_ids"`
	Reservations []ActiveReservation `json:"reservations"`
}
