package models

// Seat is a fixed draft-time slot bound to one roster member.
type Seat struct {
	DraftID    int64  `json:"draft_id"`
	SeatNumber int    `json:"seat_number"`
	MemberID   int64  `json:"member_id"`
	UserID     string `json:"user_id"`
	AutoPick   bool   `json:"auto_pick"`
}

// SeatsForUser returns the seat numbers held by userID.
func SeatsForUser(seats []Seat, userID string) []int {
	var held []int
	for _, s := range seats {
		if s.UserID == userID {
			held = append(held, s.SeatNumber)
		}
	}
	return held
}

// SeatByNumber finds a seat by its number.
func SeatByNumber(seats []Seat, number int) (Seat, bool) {
	for _, s := range seats {
		if s.SeatNumber == number {
			return s, true
		}
	}
	return Seat{}, false
}
