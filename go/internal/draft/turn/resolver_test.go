package turn

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSnakeOrder(t *testing.T) {
	tests := []struct {
		pick      int
		seats     int
		wantRound int
		wantSeat  int
		wantDir   Direction
	}{
		{pick: 1, seats: 4, wantRound: 1, wantSeat: 1, wantDir: Forward},
		{pick: 2, seats: 4, wantRound: 1, wantSeat: 2, wantDir: Forward},
		{pick: 4, seats: 4, wantRound: 1, wantSeat: 4, wantDir: Forward},
		{pick: 5, seats: 4, wantRound: 2, wantSeat: 4, wantDir: Reverse},
		{pick: 6, seats: 4, wantRound: 2, wantSeat: 3, wantDir: Reverse},
		{pick: 8, seats: 4, wantRound: 2, wantSeat: 1, wantDir: Reverse},
		{pick: 9, seats: 4, wantRound: 3, wantSeat: 1, wantDir: Forward},
		{pick: 1, seats: 1, wantRound: 1, wantSeat: 1, wantDir: Forward},
		{pick: 2, seats: 1, wantRound: 2, wantSeat: 1, wantDir: Reverse},
		{pick: 7, seats: 3, wantRound: 3, wantSeat: 1, wantDir: Forward},
	}

	for _, tt := range tests {
		got, err := Resolve(tt.pick, tt.seats)
		require.NoError(t, err)
		assert.Equal(t, tt.wantRound, got.Round, "round for pick %d/%d", tt.pick, tt.seats)
		assert.Equal(t, tt.wantSeat, got.Seat, "seat for pick %d/%d", tt.pick, tt.seats)
		assert.Equal(t, tt.wantDir, got.Direction, "direction for pick %d/%d", tt.pick, tt.seats)
	}
}

func TestResolveRejectsInvalidInput(t *testing.T) {
	_, err := Resolve(0, 4)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = Resolve(1, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestScheduleEverySeatOncePerRound(t *testing.T) {
	schedule, err := Schedule(5, 3)
	require.NoError(t, err)
	require.Len(t, schedule, 15)

	for round := 1; round <= 3; round++ {
		seen := map[int]bool{}
		for _, a := range schedule[(round-1)*5 : round*5] {
			assert.Equal(t, round, a.Round)
			seen[a.Seat] = true
		}
		assert.Len(t, seen, 5)
	}

	// the seat that closes a round opens the next one
	assert.Equal(t, schedule[4].Seat, schedule[5].Seat)
	assert.Equal(t, schedule[9].Seat, schedule[10].Seat)
}

func TestRequiredPicks(t *testing.T) {
	assert.Equal(t, 8, RequiredPicks(4, 2))
	assert.Equal(t, 0, RequiredPicks(0, 2))
	assert.Equal(t, 0, RequiredPicks(4, 0))
}
