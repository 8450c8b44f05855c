package store

import (
	"context"
	"fmt"
	"time"
)

func (r *Repo) CreateDoorState(ctx context.Context, at time.Time, isOpen bool) (DoorState, error) {
	var item DoorState
	if err := r.q.QueryRowContext(ctx, `
		INSERT INTO doorstate (time, is_open)
		VALUES ($1, $2)
		RETURNING time, is_open
	`, at, isOpen).Scan(&item.Time, &item.IsOpen); err != nil {
		return DoorState{}, fmt.Errorf("insert door state: %w", err)
	}
	return item, nil
}

// DoorStateAt returns the latest record strictly before ts.
func (r *Repo) DoorStateAt(ctx context.Context, ts time.Time) (DoorState, error) {
	var item DoorState
	err := r.q.QueryRowContext(ctx, `
		SELECT time, is_open
		FROM doorstate
		WHERE time < $1
		ORDER BY time DESC
		LIMIT 1
	`, ts).Scan(&item.Time, &item.IsOpen)
	if err != nil {
		return DoorState{}, wrapNotFound("door state at", err)
	}
	return item, nil
}

// DoorStatesBetween lists records in [start, end].
func (r *Repo) DoorStatesBetween(ctx context.Context, start, end time.Time) ([]DoorState, error) {
	rows, err := r.q.QueryContext(ctx, `
		SELECT time, is_open
		FROM doorstate
		WHERE time >= $1 AND time <= $2
		ORDER BY time ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("door states between: %w", err)
	}
	defer rows.Close()

	items := make([]DoorState, 0)
	for rows.Next() {
		var item DoorState
		if err := rows.Scan(&item.Time, &item.IsOpen); err != nil {
			return nil, fmt.Errorf("scan door state: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("door states between: %w", err)
	}
	return items, nil
}
