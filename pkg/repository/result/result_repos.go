//nolint:whitespace // can't make both editor and linter happy
package result

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alienJion/flextrike-drill-manager-go/pkg/model"
	"github.com/alienJion/flextrike-drill-manager-go/pkg/repository"
)

// CreateDrill stores a drill run under the given key.
func CreateDrill(
	ctx context.Context,
	conn repository.Querier,
	id, name string,
) error {
	_, err := conn.Exec(ctx, `
	insert into drill (id, name) values ($1,$2)
	`, id, name)
	if err != nil {
		return err
	}
	return nil
}

// UpsertSummary stores a repeat summary. Re-finalized repeats overwrite
// the prior row for the same (drill, repeat index).
func UpsertSummary(
	ctx context.Context,
	conn repository.Querier,
	drillID string,
	summary *model.RepeatSummary,
) error {
	shots, err := json.Marshal(summary.Shots)
	if err != nil {
		return fmt.Errorf("could not marshal shots: %w", err)
	}
	_, err = conn.Exec(ctx, `
	insert into repeat_summary (
		drill_id, repeat_index, total_time, shot_count,
		first_shot, fastest_interval, score, shots
	) values ($1,$2,$3,$4,$5,$6,$7,$8)
	on conflict (drill_id, repeat_index) do update set
		total_time=excluded.total_time,
		shot_count=excluded.shot_count,
		first_shot=excluded.first_shot,
		fastest_interval=excluded.fastest_interval,
		score=excluded.score,
		shots=excluded.shots,
		recorded_at=now()
	`,
		drillID, summary.RepeatIndex, summary.TotalTimeSeconds, summary.ShotCount,
		summary.FirstShotSeconds, summary.FastestIntervalSeconds, summary.Score,
		shots,
	)
	if err != nil {
		return err
	}
	return nil
}

// LoadSummaries returns the stored summaries of a drill in repeat order.
func LoadSummaries(
	ctx context.Context,
	conn repository.Querier,
	drillID string,
) ([]*model.RepeatSummary, error) {
	rows, err := conn.Query(ctx, `
	select repeat_index, total_time, shot_count, first_shot,
	fastest_interval, score, shots
	from repeat_summary where drill_id=$1 order by repeat_index
	`, drillID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*model.RepeatSummary, 0)
	for rows.Next() {
		var item model.RepeatSummary
		var shots []byte
		if err := rows.Scan(
			&item.RepeatIndex, &item.TotalTimeSeconds, &item.ShotCount,
			&item.FirstShotSeconds, &item.FastestIntervalSeconds, &item.Score,
			&shots,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(shots, &item.Shots); err != nil {
			return nil, fmt.Errorf("could not unmarshal shots: %w", err)
		}
		ret = append(ret, &item)
	}
	return ret, rows.Err()
}

// DeleteDrill removes a drill and its summaries, returning the number of
// deleted summary rows.
func DeleteDrill(
	ctx context.Context,
	conn repository.Querier,
	drillID string,
) (int, error) {
	res, err := conn.Exec(ctx,
		"delete from repeat_summary where drill_id=$1", drillID)
	if err != nil {
		return 0, err
	}
	if _, err := conn.Exec(ctx,
		"delete from drill where id=$1", drillID); err != nil {
		return 0, err
	}
	return int(res.RowsAffected()), nil
}
