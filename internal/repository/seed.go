package repository

import (
	"strconv"

	"github.com/iliyamo/cinema-seat-locking/internal/model"
)

// RowLabel converts a zero-based row index to an alphabetical label like
// A, B, ..., Z, AA.
func RowLabel(i int) string {
	if i < 0 {
		return ""
	}
	res := []rune{}
	for {
		res = append(res, rune('A'+i%26))
		i = i/26 - 1
		if i < 0 {
			break
		}
	}
	for j, k := 0, len(res)-1; j < k; j, k = j+1, k-1 {
		res[j], res[k] = res[k], res[j]
	}
	return string(res)
}

// LayoutSeats returns an available rows x cols grid for showID labelled
// "A1", "A2", ..., all at the same price.
func LayoutSeats(showID uint64, rows, cols int, priceCents uint32) []model.Seat {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	seats := make([]model.Seat, 0, rows*cols)
	for r := 0; r < rows; r++ {
		for c := 1; c <= cols; c++ {
			seats = append(seats, model.Seat{
				ShowID:     showID,
				Label:      RowLabel(r) + strconv.Itoa(c),
				Row:        uint32(r + 1),
				Col:        uint32(c),
				Status:     model.SeatAvailable,
				PriceCents: priceCents,
			})
		}
	}
	return seats
}
