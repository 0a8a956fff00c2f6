// Package turn maps pick numbers to seats under snake ordering.
package turn

import (
	"errors"
	"fmt"
)

// Direction is the order seats are walked in for a round.
type Direction string

const (
	Forward Direction = "FORWARD"
	Reverse Direction = "REVERSE"
)

// ErrInvalidInput is returned for non-positive pick numbers or seat counts.
var ErrInvalidInput = errors.New("turn: pick number and seat count must be positive")

// Assignment is the seat that owns a given pick.
type Assignment struct {
	PickNumber int       `json:"pick_number"`
	Round      int       `json:"round_number"`
	Seat       int       `json:"seat_number"`
	Direction  Direction `json:"direction"`
}

// Resolve returns the round, seat and direction for a 1-based pick number.
// Odd rounds run 1..n, even rounds run n..1.
func Resolve(pickNumber, seatCount int) (Assignment, error) {
	if pickNumber < 1 || seatCount < 1 {
		return Assignment{}, fmt.Errorf("%w: pick=%d seats=%d", ErrInvalidInput, pickNumber, seatCount)
	}

	round := (pickNumber + seatCount - 1) / seatCount
	idx := (pickNumber - 1) % seatCount

	a := Assignment{PickNumber: pickNumber, Round: round}
	if round%2 == 1 {
		a.Seat = idx + 1
		a.Direction = Forward
	} else {
		a.Seat = seatCount - idx
		a.Direction = Reverse
	}
	return a, nil
}

// RequiredPicks is the number of picks after which a draft is complete.
func RequiredPicks(seatCount, picksPerSeat int) int {
	if seatCount < 1 || picksPerSeat < 1 {
		return 0
	}
	return seatCount * picksPerSeat
}

// Schedule renders every assignment for a draft, including picks not yet made.
func Schedule(seatCount, picksPerSeat int) ([]Assignment, error) {
	total := RequiredPicks(seatCount, picksPerSeat)
	if total == 0 {
		return nil, ErrInvalidInput
	}

	out := make([]Assignment, 0, total)
	for p := 1; p <= total; p++ {
		a, err := Resolve(p, seatCount)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}
